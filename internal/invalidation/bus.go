// Package invalidation broadcasts patient purges to sibling processes so
// that a write handled by one replica clears every replica's caches.
package invalidation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultChannel = "quantnex:cache:purge"

// Event announces that every cached entry for PatientID must be dropped.
type Event struct {
	PatientID string    `json:"patient_id"`
	Origin    string    `json:"origin"`
	At        time.Time `json:"at"`
}

// Publisher is what write paths depend on.
type Publisher interface {
	PublishPurge(ctx context.Context, patientID string) error
}

// Handler is invoked for purge events published by other processes.
type Handler func(ctx context.Context, ev Event)

// Bus is a Redis pub/sub backed Publisher.
type Bus struct {
	client  *redis.Client
	channel string
	origin  string
	logger  *zap.Logger
}

var _ Publisher = (*Bus)(nil)

func NewBus(client *redis.Client, channel string, logger *zap.Logger) *Bus {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	origin := uuid.NewString()
	return &Bus{
		client:  client,
		channel: channel,
		origin:  origin,
		logger:  logger.Named("invalidation").With(zap.String("origin", origin)),
	}
}

// Origin identifies this process on the channel.
func (b *Bus) Origin() string { return b.origin }

func (b *Bus) Channel() string { return b.channel }

// Ping checks the Redis connection.
func (b *Bus) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}
	return b.client.Ping(ctx).Err()
}

func (b *Bus) PublishPurge(ctx context.Context, patientID string) error {
	if patientID == "" {
		return errors.New("invalidation: patient id is required")
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}

	payload, err := json.Marshal(Event{
		PatientID: patientID,
		Origin:    b.origin,
		At:        time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("invalidation: marshal event: %w", err)
	}

	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}

// Run subscribes to the channel and dispatches foreign events to handle
// until ctx is done. Events this Bus published itself are skipped; the
// publisher has already purged locally.
func (b *Bus) Run(ctx context.Context, handle Handler) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	// Wait for the subscription confirmation so failures surface here.
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("redis subscribe failed: %w", err)
	}

	b.logger.Info("listening for purge events", zap.String("channel", b.channel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("invalidation: subscription closed")
			}

			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.logger.Warn("dropping malformed purge event", zap.Error(err))
				continue
			}
			if ev.Origin == b.origin || ev.PatientID == "" {
				continue
			}

			b.logger.Debug("purge event received",
				zap.String("from", ev.Origin),
			)
			handle(ctx, ev)
		}
	}
}

// Local is the Publisher used when no Redis is configured: single-process
// deployments purge locally only.
type Local struct{}

func (Local) PublishPurge(context.Context, string) error { return nil }
