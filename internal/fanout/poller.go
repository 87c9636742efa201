package fanout

import (
	"context"
	"encoding/json"
	"expvar"
	"time"

	"github.com/Moha7763/queue-care-flow/internal/hub"
	"github.com/Moha7763/queue-care-flow/internal/store"

	"go.uber.org/zap"
)

var eventsRelayed = expvar.NewInt("fanout_events_relayed_total")

type eventEnvelope struct {
	Type      string          `json:"type"`
	Lane      string          `json:"lane,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Poller drains the event log from the persisted offset and broadcasts
// each event through the hub. It wakes on a fixed interval and on
// nudges; both paths run the same drain, so a missed nudge only delays
// delivery until the next tick.
type Poller struct {
	log       store.EventLog
	hub       *hub.Hub
	logger    *zap.Logger
	interval  time.Duration
	batchSize int
	nudges    <-chan struct{}
}

type PollerConfig struct {
	Interval  time.Duration
	BatchSize int
	Nudges    <-chan struct{}
}

func NewPoller(log store.EventLog, h *hub.Hub, logger *zap.Logger, cfg PollerConfig) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Poller{
		log:       log,
		hub:       h,
		logger:    logger,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		nudges:    cfg.Nudges,
	}
}

func (p *Poller) Run(ctx context.Context) {
	offset, err := p.log.GetOffset(ctx)
	if err != nil {
		p.logger.Warn("load fanout offset", zap.Error(err))
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-p.nudges:
		}
		offset = p.drain(ctx, offset)
	}
}

func (p *Poller) drain(ctx context.Context, offset store.FanoutOffset) store.FanoutOffset {
	for {
		drainCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		events, err := p.log.ListEventsSince(drainCtx, offset, p.batchSize)
		cancel()
		if err != nil {
			p.logger.Warn("list events", zap.Error(err))
			return offset
		}
		if len(events) == 0 {
			return offset
		}

		for _, event := range events {
			envelope, err := json.Marshal(eventEnvelope{
				Type:      event.Type,
				Lane:      string(event.Lane),
				Payload:   event.Payload,
				CreatedAt: event.CreatedAt,
			})
			if err != nil {
				p.logger.Warn("marshal event envelope", zap.String("event_id", event.EventID), zap.Error(err))
				continue
			}
			p.hub.Broadcast(envelope, event.Lane)
			eventsRelayed.Add(1)
			offset = store.FanoutOffset{LastEventTime: event.CreatedAt, LastEventID: event.EventID}
		}

		updateCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := p.log.UpdateOffset(updateCtx, offset); err != nil {
			p.logger.Warn("update fanout offset", zap.Error(err))
		}
		cancel()

		if len(events) < p.batchSize {
			return offset
		}
	}
}
