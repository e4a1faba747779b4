// Package notify turns order events into admin notifications.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/ariefcatur/go-retail-checkout/internal/kafka"
	"github.com/ariefcatur/go-retail-checkout/internal/orders"
	"github.com/ariefcatur/go-retail-checkout/internal/redisx"
)

type Sink interface {
	Insert(ctx context.Context, n Notification) (bool, error)
}

type Service struct {
	Sink  Sink
	Redis *redis.Client
	Log   *slog.Logger
	Name  string // dedup namespace
}

// HandleOrderCreated is installed as the consumer handler for order.created.
func (s *Service) HandleOrderCreated(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		// poison message; committing it is the only way forward
		s.Log.Warn("drop undecodable event", slog.Int64("offset", m.Offset), slog.Any("error", err))
		return nil
	}
	if env.EventType != orders.EventOrderCreated {
		return nil
	}

	dkey := fmt.Sprintf(redisx.KeyDedup, s.Name, env.EventID)
	if seen, err := redisx.Exists(ctx, s.Redis, dkey); err == nil && seen {
		return nil
	}

	p, err := kafkax.UnwrapPayload[orders.OrderCreatedPayload](env.Payload)
	if err != nil {
		s.Log.Warn("drop event with bad payload", slog.String("event_id", env.EventID), slog.Any("error", err))
		return nil
	}

	created, err := s.Sink.Insert(ctx, Notification{
		OrderID:     p.OrderID,
		Title:       "New order from " + p.CustomerName,
		Description: fmt.Sprintf("Order #%s - Total: %s", p.OrderID, p.Total),
	})
	if err != nil {
		return err
	}
	// mark only after the insert; a crash in between is absorbed by ON CONFLICT
	if err := s.Redis.Set(ctx, dkey, "1", redisx.TTLDedup).Err(); err != nil {
		s.Log.Warn("dedup mark", slog.String("event_id", env.EventID), slog.Any("error", err))
	}
	if created {
		s.Log.Info("notification created", slog.String("order_id", p.OrderID))
	}
	return nil
}
