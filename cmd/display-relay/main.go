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
	"github.com/Moha7763/queue-care-flow/internal/hub"
	"github.com/Moha7763/queue-care-flow/internal/logging"
	"github.com/Moha7763/queue-care-flow/internal/models"
	"github.com/Moha7763/queue-care-flow/internal/store/postgres"
	"github.com/Moha7763/queue-care-flow/internal/telemetry"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel).Named("display-relay")
	defer func() { _ = logger.Sync() }()

	shutdownTelemetry := telemetry.Setup("display-relay", logger)
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

	eventLog := postgres.NewStore(pool)
	h := hub.New(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis only nudges the poller; the outbox is the source of truth,
	// so the relay works (slower) with redis down.
	nudges := make(chan struct{}, 1)
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer func() { _ = redisClient.Close() }()
	pubsub := redisClient.Subscribe(ctx, cfg.RedisChannel)
	defer func() { _ = pubsub.Close() }()
	go func() {
		for range pubsub.Channel() {
			select {
			case nudges <- struct{}{}:
			default:
			}
		}
	}()

	poller := fanout.NewPoller(eventLog, h, logger, fanout.PollerConfig{
		Interval:  cfg.PollInterval,
		BatchSize: cfg.BatchSize,
		Nudges:    nudges,
	})
	go poller.Run(ctx)

	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute: cfg.RateLimitPerMinute,
		IPBurst:     cfg.RateLimitBurst,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", expvar.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/realtime/", sockjs.NewHandler("/realtime", sockjs.DefaultOptions, func(session sockjs.Session) {
		client := &hub.Client{ID: uuid.NewString(), Send: make(chan []byte, 16)}
		h.Register(client)
		defer h.Unregister(client)

		go func() {
			for msg := range client.Send {
				_ = session.Send(string(msg))
			}
		}()

		for {
			msg, err := session.Recv()
			if err != nil {
				return
			}
			parsed, ok := hub.ParseSubscribe([]byte(msg))
			if !ok {
				continue
			}
			if parsed.Action == "unsubscribe" {
				h.UpdateSubscription(client, hub.Subscription{})
				continue
			}
			h.UpdateSubscription(client, hub.Subscription{Lane: models.Lane(parsed.Lane)})
		}
	}))

	chain := otelhttp.NewHandler(httpapi.LoggingMiddleware(logger, limiter.Middleware(mux)), "display-relay")
	server := &http.Server{
		Addr:         ":" + cfg.RelayPort,
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
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
}
