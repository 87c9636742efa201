package main

import (
	"context"
	"expvar"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Moha7763/queue-care-flow/internal/config"
	"github.com/Moha7763/queue-care-flow/internal/fanout"
	"github.com/Moha7763/queue-care-flow/internal/httpapi"
	"github.com/Moha7763/queue-care-flow/internal/logging"
	"github.com/Moha7763/queue-care-flow/internal/store/postgres"
	"github.com/Moha7763/queue-care-flow/internal/telemetry"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel).Named("queue-server")
	defer func() { _ = logger.Sync() }()

	shutdownTelemetry := telemetry.Setup("queue-server", logger)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer func() { _ = redisClient.Close() }()

	publisher := fanout.NewPublisher(redisClient, cfg.RedisChannel, logger)
	ticketStore := fanout.NewNotifyingStore(postgres.NewStore(pool), publisher)

	handler := httpapi.NewHandler(ticketStore)
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute: cfg.RateLimitPerMinute,
		IPBurst:     cfg.RateLimitBurst,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", expvar.Handler())
	mux.Handle("/", httpapi.AuthMiddleware(httpapi.AuthConfig{
		OperatorKey: cfg.OperatorKey,
		AdminKey:    cfg.AdminKey,
	}, handler.Routes()))

	chain := otelhttp.NewHandler(httpapi.LoggingMiddleware(logger, limiter.Middleware(mux)), "queue-server")
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      chain,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
}
