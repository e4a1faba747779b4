//go:build integration

package orders

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-retail-checkout/internal/catalog"
	"github.com/ariefcatur/go-retail-checkout/internal/logging"
	"github.com/ariefcatur/go-retail-checkout/internal/postgres"
)

// Run with: POSTGRES_DSN=postgres://... go test -tags integration ./internal/orders/

func openDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_DSN not set")
	}
	ctx := context.Background()
	db, err := postgres.Connect(ctx, dsn, 8)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, postgres.Migrate(ctx, db, logging.Discard()))
	return db
}

func seedProduct(t *testing.T, products *catalog.Repo, qty int) catalog.Product {
	t.Helper()
	p, err := products.Create(context.Background(), catalog.NewProduct{
		Name:      "it-" + uuid.NewString(),
		Category:  "integration",
		Unit:      "un",
		CostPrice: decimal.RequireFromString("1.20"),
		SalePrice: decimal.RequireFromString("2.50"),
		Quantity:  qty,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = products.Delete(context.Background(), p.ID) })
	return p
}

func onHand(t *testing.T, products *catalog.Repo, id string) int {
	t.Helper()
	p, err := products.Get(context.Background(), id)
	require.NoError(t, err)
	return p.Quantity
}

func salesFor(t *testing.T, db *pgxpool.Pool, orderID string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(context.Background(), `SELECT count(*) FROM sales WHERE order_id=$1`, orderID).Scan(&n))
	return n
}

func TestReserveGuardsHeldUnits(t *testing.T) {
	ctx := context.Background()
	products := &catalog.Repo{DB: openDB(t)}
	p := seedProduct(t, products, 5)

	got, err := products.Reserve(ctx, p.ID, 3, 0)
	require.NoError(t, err)
	require.Equal(t, 2, got.Quantity)

	_, err = products.Reserve(ctx, p.ID, 1, 3)
	var ise *catalog.InsufficientStockError
	require.ErrorAs(t, err, &ise)
	require.Equal(t, 2, ise.Available)
	require.Equal(t, 2, onHand(t, products, p.ID))

	_, err = products.Reserve(ctx, uuid.NewString(), 1, 0)
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestConcurrentReserveNeverGoesNegative(t *testing.T) {
	ctx := context.Background()
	products := &catalog.Repo{DB: openDB(t)}
	p := seedProduct(t, products, 5)

	var ok atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := products.Reserve(ctx, p.ID, 1, 0); err == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 5, ok.Load())
	require.Zero(t, onHand(t, products, p.ID))
}

func TestPlaceCancelRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	products := &catalog.Repo{DB: db}
	repo := &Repo{DB: db}
	a := seedProduct(t, products, 10)
	b := seedProduct(t, products, 10)

	// the cart reserved these units before checkout
	_, err := products.Reserve(ctx, a.ID, 2, 0)
	require.NoError(t, err)
	_, err = products.Reserve(ctx, b.ID, 1, 0)
	require.NoError(t, err)

	in := NewOrder{
		ExternalID:    "it:" + uuid.NewString(),
		CustomerID:    "it-customer",
		CustomerName:  "Maria",
		Phone:         "11987654321",
		Address:       "Rua A, 10",
		PaymentMethod: PaymentPix,
		Items: []Item{
			{ProductID: a.ID, Name: a.Name, Unit: a.Unit, Quantity: 2, UnitPrice: a.SalePrice, UnitCost: a.CostPrice},
			{ProductID: b.ID, Name: b.Name, Unit: b.Unit, Quantity: 1, UnitPrice: b.SalePrice, UnitCost: b.CostPrice},
		},
	}
	o, existed, err := repo.Place(ctx, in)
	require.NoError(t, err)
	require.False(t, existed)
	require.True(t, decimal.RequireFromString("7.5").Equal(o.Total))
	require.Equal(t, 2, salesFor(t, db, o.ID))
	require.Equal(t, 8, onHand(t, products, a.ID))

	again, existed, err := repo.Place(ctx, in)
	require.NoError(t, err)
	require.True(t, existed)
	require.Equal(t, o.ID, again.ID)
	require.Equal(t, 2, salesFor(t, db, o.ID))

	_, stock, err := repo.Cancel(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, stock.Items, 2)
	require.Equal(t, 10, onHand(t, products, a.ID))
	require.Equal(t, 10, onHand(t, products, b.ID))
	require.Zero(t, salesFor(t, db, o.ID))

	_, err = repo.Get(ctx, o.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCancelledStatusRestocksOnce(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	products := &catalog.Repo{DB: db}
	repo := &Repo{DB: db}
	a := seedProduct(t, products, 4)

	_, err := products.Reserve(ctx, a.ID, 3, 0)
	require.NoError(t, err)
	o, _, err := repo.Place(ctx, NewOrder{
		ExternalID:    "it:" + uuid.NewString(),
		CustomerID:    "it-customer",
		PaymentMethod: PaymentCash,
		Items:         []Item{{ProductID: a.ID, Name: a.Name, Quantity: 3, UnitPrice: a.SalePrice, UnitCost: a.CostPrice}},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _, _, _ = repo.Cancel(context.Background(), o.ID) })

	_, from, stock, err := repo.SetStatus(ctx, o.ID, StatusCancelled)
	require.NoError(t, err)
	require.Equal(t, StatusPending, from)
	require.Len(t, stock.Items, 1)
	require.Equal(t, 4, onHand(t, products, a.ID))
	require.Zero(t, salesFor(t, db, o.ID))

	// deleting an already cancelled order gives nothing back a second time
	_, stock, err = repo.Cancel(ctx, o.ID)
	require.NoError(t, err)
	require.Empty(t, stock.Items)
	require.Equal(t, 4, onHand(t, products, a.ID))
}
