package cart

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ariefcatur/go-retail-checkout/internal/catalog"
	"github.com/ariefcatur/go-retail-checkout/internal/redisx"
)

// Janitor hands back stock held by carts that nobody touched for IdleTTL.
type Janitor struct {
	C       *Coordinator
	IdleTTL time.Duration
	Every   time.Duration
	Batch   int
}

// Run sweeps on every tick until ctx is done.
func (j *Janitor) Run(ctx context.Context) error {
	every := j.Every
	if every <= 0 {
		every = time.Minute
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if n, err := j.Sweep(ctx); err != nil {
				j.C.log.Error("sweep idle carts", slog.Any("error", err))
			} else if n > 0 {
				j.C.log.Info("released idle carts", slog.Int("carts", n))
			}
		}
	}
}

// Sweep releases one batch of idle carts and returns how many were emptied.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	batch := j.Batch
	if batch <= 0 {
		batch = 100
	}
	cutoff := j.C.now().Add(-j.IdleTTL)
	customers, err := j.C.store.Idle(ctx, cutoff, batch)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, customer := range customers {
		ok, err := j.expire(ctx, customer, cutoff)
		if err != nil {
			j.C.log.Warn("expire cart", slog.String("customer", customer), slog.Any("error", err))
			continue
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// expire empties one cart if it is still idle once the lock is held. The scan
// in Sweep runs unlocked, so the cart may have been used or checked out since.
func (j *Janitor) expire(ctx context.Context, customer string, cutoff time.Time) (bool, error) {
	unlock, err := j.C.store.Lock(ctx, customer)
	if errors.Is(err, redisx.ErrLocked) {
		return false, nil // someone is using it right now
	}
	if err != nil {
		return false, err
	}
	defer unlock()

	touched, ok, err := j.C.store.Touched(ctx, customer)
	if err != nil {
		return false, err
	}
	if !ok || touched.Unix() > cutoff.Unix() {
		return false, nil
	}

	items, err := j.C.store.Load(ctx, customer)
	if err != nil {
		return false, err
	}
	// clear before releasing; units must never be held by a cart and the shelf at once
	if err := j.C.store.Clear(ctx, customer); err != nil {
		return false, err
	}
	for _, it := range items {
		p, err := j.C.stock.Release(ctx, it.ProductID, it.Quantity)
		if errors.Is(err, catalog.ErrNotFound) {
			continue
		}
		if err != nil {
			j.C.log.Error("release idle reservation", slog.String("product_id", it.ProductID),
				slog.Int("qty", it.Quantity), slog.Any("error", err))
			continue
		}
		j.C.announce(ctx, p)
	}
	return len(items) > 0, nil
}
