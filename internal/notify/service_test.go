package notify

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	kafkax "github.com/ariefcatur/go-retail-checkout/internal/kafka"
	"github.com/ariefcatur/go-retail-checkout/internal/logging"
	"github.com/ariefcatur/go-retail-checkout/internal/orders"
)

type memSink struct {
	mu   sync.Mutex
	rows map[string]Notification
	hits int
}

func (m *memSink) Insert(_ context.Context, n Notification) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hits++
	if _, ok := m.rows[n.OrderID]; ok {
		return false, nil
	}
	m.rows[n.OrderID] = n
	return true, nil
}

func newService(t *testing.T) (*Service, *memSink) {
	mr := miniredis.RunT(t)
	sink := &memSink{rows: map[string]Notification{}}
	return &Service{
		Sink:  sink,
		Redis: redis.NewClient(&redis.Options{Addr: mr.Addr()}),
		Log:   logging.Discard(),
		Name:  "notifier",
	}, sink
}

func event(t *testing.T, eventType string, payload any) kafkago.Message {
	t.Helper()
	env := orders.NewEnvelope(eventType, "test", "o-1", "", kafkax.MustMarshal(payload))
	return kafkago.Message{Value: kafkax.MustMarshal(env)}
}

func TestHandleOrderCreatedWritesOnce(t *testing.T) {
	ctx := context.Background()
	s, sink := newService(t)

	m := event(t, orders.EventOrderCreated, orders.OrderCreatedPayload{
		OrderID: "o-1", CustomerName: "Maria", Total: "42.50",
	})
	require.NoError(t, s.HandleOrderCreated(ctx, m))
	require.NoError(t, s.HandleOrderCreated(ctx, m))

	require.Len(t, sink.rows, 1)
	require.Equal(t, 1, sink.hits)
	n := sink.rows["o-1"]
	require.Equal(t, "New order from Maria", n.Title)
	require.Equal(t, "Order #o-1 - Total: 42.50", n.Description)

	// same order, new event id: dedup misses, the sink still keeps one row
	again := event(t, orders.EventOrderCreated, orders.OrderCreatedPayload{OrderID: "o-1", CustomerName: "Maria"})
	require.NoError(t, s.HandleOrderCreated(ctx, again))
	require.Len(t, sink.rows, 1)
}

func TestHandleOrderCreatedIgnoresOtherEvents(t *testing.T) {
	s, sink := newService(t)
	m := event(t, orders.EventOrderDeleted, orders.OrderDeletedPayload{OrderID: "o-1"})
	require.NoError(t, s.HandleOrderCreated(context.Background(), m))
	require.Zero(t, sink.hits)

	require.NoError(t, s.HandleOrderCreated(context.Background(), kafkago.Message{Value: []byte("{not json")}))
	require.Zero(t, sink.hits)
}
