package sales

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-retail-checkout/internal/catalog"
	"github.com/ariefcatur/go-retail-checkout/internal/postgres"
)

const recordColumns = `id, product_id, COALESCE(order_id, ''), name, unit, quantity,
	unit_cost::text, unit_price::text, sold_at`

type Repo struct{ DB *pgxpool.Pool }

// Insert writes rec, filling ID and SoldAt when empty.
func Insert(ctx context.Context, db postgres.DBTX, rec *Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.SoldAt.IsZero() {
		rec.SoldAt = time.Now().UTC()
	}
	var orderID *string
	if rec.OrderID != "" {
		orderID = &rec.OrderID
	}
	_, err := db.Exec(ctx, `
		INSERT INTO sales (id, product_id, order_id, name, unit, quantity, unit_cost, unit_price, sold_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9)`,
		rec.ID, rec.ProductID, orderID, rec.Name, rec.Unit, rec.Quantity,
		rec.UnitCost.String(), rec.UnitPrice.String(), rec.SoldAt)
	return err
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		r          Record
		cost, sale string
	)
	if err := row.Scan(&r.ID, &r.ProductID, &r.OrderID, &r.Name, &r.Unit, &r.Quantity, &cost, &sale, &r.SoldAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	var err error
	if r.UnitCost, err = decimal.NewFromString(cost); err != nil {
		return Record{}, fmt.Errorf("sales: unit cost %q: %w", cost, err)
	}
	if r.UnitPrice, err = decimal.NewFromString(sale); err != nil {
		return Record{}, fmt.Errorf("sales: unit price %q: %w", sale, err)
	}
	return r, nil
}

// RecordManual books a counter sale: stock is taken and the ledger row written
// in one transaction.
func (r *Repo) RecordManual(ctx context.Context, productID string, qty int) (Record, catalog.Product, error) {
	var (
		rec Record
		p   catalog.Product
	)
	err := postgres.WithTx(ctx, r.DB, func(tx pgx.Tx) error {
		var err error
		p, err = catalog.Take(ctx, tx, productID, qty, 0)
		if err != nil {
			return err
		}
		rec = Record{
			ProductID: p.ID,
			Name:      p.Name,
			Unit:      p.Unit,
			Quantity:  qty,
			UnitCost:  p.CostPrice,
			UnitPrice: p.SalePrice,
		}
		return Insert(ctx, tx, &rec)
	})
	return rec, p, err
}

// Void deletes a manual sale and puts its units back. Sales written by checkout
// are owned by their order and refused.
func (r *Repo) Void(ctx context.Context, id string) (Record, *catalog.Product, error) {
	var (
		rec      Record
		restored *catalog.Product
	)
	err := postgres.WithTx(ctx, r.DB, func(tx pgx.Tx) error {
		var err error
		rec, err = scanRecord(tx.QueryRow(ctx, `SELECT `+recordColumns+` FROM sales WHERE id=$1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		if rec.OrderID != "" {
			return ErrOrderSale
		}
		p, err := catalog.Release(ctx, tx, rec.ProductID, rec.Quantity)
		switch {
		case err == nil:
			restored = &p
		case !errors.Is(err, catalog.ErrNotFound):
			return err
		}
		_, err = tx.Exec(ctx, `DELETE FROM sales WHERE id=$1`, id)
		return err
	})
	return rec, restored, err
}

// Recent returns the newest sales first.
func (r *Repo) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := r.DB.Query(ctx, `SELECT `+recordColumns+` FROM sales ORDER BY sold_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// Between returns sales in [from, to]; a zero bound is open.
func (r *Repo) Between(ctx context.Context, from, to time.Time) ([]Record, error) {
	if !from.IsZero() && !to.IsZero() && from.After(to) {
		return nil, ErrInvalidPeriod
	}
	rows, err := r.DB.Query(ctx, `
		SELECT `+recordColumns+` FROM sales
		WHERE ($1::timestamptz IS NULL OR sold_at >= $1)
		  AND ($2::timestamptz IS NULL OR sold_at <= $2)
		ORDER BY sold_at`, nullTime(from), nullTime(to))
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func collect(rows pgx.Rows) ([]Record, error) {
	defer rows.Close()
	out := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
