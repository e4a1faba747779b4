package catalog

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-retail-checkout/internal/redisx"
)

// Change is one product snapshot pushed to live subscribers. Deleted is set
// when the product was removed from the catalog.
type Change struct {
	Product Product `json:"product"`
	Deleted bool    `json:"deleted,omitempty"`
}

// Feed fans product changes out over Redis Pub/Sub so every API instance can
// stream them to its own subscribers.
type Feed struct {
	Redis *redis.Client
	Log   *slog.Logger
}

// Announce publishes a change. Failures are logged, never returned: the feed is
// advisory and the database stays authoritative.
func (f *Feed) Announce(ctx context.Context, c Change) {
	if f == nil || f.Redis == nil {
		return
	}
	b, err := json.Marshal(c)
	if err != nil {
		return
	}
	if err := f.Redis.Publish(ctx, redisx.ChannelCatalog, b).Err(); err != nil && f.Log != nil {
		f.Log.Warn("catalog feed publish", slog.String("product_id", c.Product.ID), slog.Any("error", err))
	}
}

// Subscribe returns a channel of changes that closes when ctx is done.
func (f *Feed) Subscribe(ctx context.Context) (<-chan Change, error) {
	sub := f.Redis.Subscribe(ctx, redisx.ChannelCatalog)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}
	out := make(chan Change, 16)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				var c Change
				if err := json.Unmarshal([]byte(m.Payload), &c); err != nil {
					continue
				}
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
