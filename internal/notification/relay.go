package notification

import (
	"context"
	"time"

	"storefront/internal/repository"

	"go.uber.org/zap"
)

// RelayConfig tunes the outbox relay
type RelayConfig struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
	// Lease is how long a claimed batch stays hidden from other relays. It must
	// outlast publishing the batch.
	Lease time.Duration
}

// Relay moves outbox messages to a Publisher. Delivery is at least once.
type Relay struct {
	store     repository.Store
	publisher Publisher
	cfg       RelayConfig
	logger    *zap.Logger
}

func NewRelay(store repository.Store, publisher Publisher, cfg RelayConfig, logger *zap.Logger) *Relay {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.Lease <= 0 {
		cfg.Lease = time.Minute
	}
	return &Relay{store: store, publisher: publisher, cfg: cfg, logger: logger}
}

// Run dispatches on every tick until ctx is cancelled
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.logger.Info("Outbox relay started", zap.Duration("interval", r.cfg.Interval))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Outbox relay stopped")
			return nil
		case <-ticker.C:
			if _, err := r.DispatchOnce(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("Outbox dispatch failed", zap.Error(err))
			}
		}
	}
}

// DispatchOnce publishes one claimed batch and returns how many messages were delivered.
// No transaction is held while publishing.
func (r *Relay) DispatchOnce(ctx context.Context) (int, error) {
	outbox := r.store.Outbox()
	pending, err := outbox.ClaimPending(ctx, r.cfg.BatchSize, r.cfg.MaxAttempts, r.cfg.Lease)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, msg := range pending {
		err := r.publisher.Publish(ctx, Message{Topic: msg.Topic, Key: msg.Key, Payload: msg.Payload})
		if err != nil {
			r.logger.Warn("Failed to publish order event",
				zap.String("event_id", msg.EventID),
				zap.Int("attempts", msg.Attempts+1),
				zap.Error(err),
			)
			if err := outbox.MarkFailed(ctx, msg.ID, err.Error()); err != nil {
				return sent, err
			}
			continue
		}
		if err := outbox.MarkSent(ctx, msg.ID); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}
