package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-retail-checkout/internal/catalog"
	"github.com/ariefcatur/go-retail-checkout/internal/postgres"
	"github.com/ariefcatur/go-retail-checkout/internal/sales"
)

const orderColumns = `id, external_id, customer_id, customer_name, phone, address,
	payment_method, total::text, status, created_at, updated_at`

type Repo struct{ DB *pgxpool.Pool }

// Restock describes stock handed back when an order is cancelled or deleted.
type Restock struct {
	Items    []ItemQty
	Products []catalog.Product
}

// Place writes the order, its lines and one sale record per line in a single
// transaction. It is idempotent on ExternalID: a known key returns the stored
// order with existed=true and writes nothing.
func (r *Repo) Place(ctx context.Context, in NewOrder) (o Order, existed bool, err error) {
	if len(in.Items) == 0 {
		return Order{}, false, errors.New("orders: no items")
	}
	if o, err = r.getBy(ctx, r.DB, "external_id", in.ExternalID); err == nil {
		return o, true, nil
	} else if !errors.Is(err, ErrNotFound) {
		return Order{}, false, err
	}

	o = Order{
		ID:            uuid.NewString(),
		ExternalID:    in.ExternalID,
		CustomerID:    in.CustomerID,
		CustomerName:  in.CustomerName,
		Phone:         in.Phone,
		Address:       in.Address,
		PaymentMethod: in.PaymentMethod,
		Items:         in.Items,
		Total:         Total(in.Items),
		Status:        StatusPending,
	}
	err = postgres.WithTx(ctx, r.DB, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO orders (id, external_id, customer_id, customer_name, phone, address, payment_method, total, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9)
			RETURNING created_at, updated_at`,
			o.ID, o.ExternalID, o.CustomerID, o.CustomerName, o.Phone, o.Address,
			string(o.PaymentMethod), o.Total.String(), string(o.Status),
		).Scan(&o.CreatedAt, &o.UpdatedAt)
		if err != nil {
			return err
		}
		for i, it := range o.Items {
			if it.Quantity <= 0 {
				return fmt.Errorf("orders: invalid qty for product %s", it.ProductID)
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO order_items (order_id, line_no, product_id, name, unit, quantity, unit_price, unit_cost)
				VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric)`,
				o.ID, i+1, it.ProductID, it.Name, it.Unit, it.Quantity, it.UnitPrice.String(), it.UnitCost.String(),
			); err != nil {
				return err
			}
			rec := sales.Record{
				ProductID: it.ProductID,
				OrderID:   o.ID,
				Name:      it.Name,
				Unit:      it.Unit,
				Quantity:  it.Quantity,
				UnitCost:  it.UnitCost,
				UnitPrice: it.UnitPrice,
				SoldAt:    o.CreatedAt,
			}
			if err := sales.Insert(ctx, tx, &rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			// lost a race on the same idempotency key
			if prev, gerr := r.getBy(ctx, r.DB, "external_id", in.ExternalID); gerr == nil {
				return prev, true, nil
			}
		}
		return Order{}, false, err
	}
	return o, false, nil
}

func (r *Repo) Get(ctx context.Context, id string) (Order, error) {
	return r.getBy(ctx, r.DB, "id", id)
}

func (r *Repo) GetStatus(ctx context.Context, id string) (Status, error) {
	var s string
	err := r.DB.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1`, id).Scan(&s)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return Status(s), err
}

// List returns orders newest first.
func (r *Repo) List(ctx context.Context, limit, offset int) ([]Order, error) {
	limit, offset = page(limit, offset)
	rows, err := r.DB.Query(ctx, `SELECT `+orderColumns+` FROM orders
		ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	return r.collect(ctx, rows)
}

func (r *Repo) ListByCustomer(ctx context.Context, customerID string, limit, offset int) ([]Order, error) {
	limit, offset = page(limit, offset)
	rows, err := r.DB.Query(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE customer_id=$1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, customerID, limit, offset)
	if err != nil {
		return nil, err
	}
	return r.collect(ctx, rows)
}

// SetStatus moves an order along the status machine. Moving to cancelled puts
// every line back on the shelf and drops the order's sale records in the same
// transaction.
func (r *Repo) SetStatus(ctx context.Context, id string, to Status) (Order, Status, Restock, error) {
	var (
		o     Order
		from  Status
		stock Restock
	)
	if !to.Valid() {
		return Order{}, "", Restock{}, ErrInvalidTransition
	}
	err := postgres.WithTx(ctx, r.DB, func(tx pgx.Tx) error {
		var err error
		o, err = r.getBy(ctx, tx, "id", id, "FOR UPDATE")
		if err != nil {
			return err
		}
		from = o.Status
		if !CanTransition(from, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
		}
		if to == StatusCancelled {
			if stock, err = restock(ctx, tx, o); err != nil {
				return err
			}
		}
		return tx.QueryRow(ctx, `UPDATE orders SET status=$2, updated_at=NOW() WHERE id=$1 RETURNING updated_at`,
			id, string(to)).Scan(&o.UpdatedAt)
	})
	if err != nil {
		return Order{}, "", Restock{}, err
	}
	o.Status = to
	return o, from, stock, nil
}

// Cancel reverses an order's stock effect line by line and deletes it. An order
// already in cancelled has had its stock restored and is only deleted.
func (r *Repo) Cancel(ctx context.Context, id string) (Order, Restock, error) {
	var (
		o     Order
		stock Restock
	)
	err := postgres.WithTx(ctx, r.DB, func(tx pgx.Tx) error {
		var err error
		o, err = r.getBy(ctx, tx, "id", id, "FOR UPDATE")
		if err != nil {
			return err
		}
		if o.Status != StatusCancelled {
			if stock, err = restock(ctx, tx, o); err != nil {
				return err
			}
		}
		_, err = tx.Exec(ctx, `DELETE FROM orders WHERE id=$1`, id)
		return err
	})
	if err != nil {
		return Order{}, Restock{}, err
	}
	return o, stock, nil
}

func restock(ctx context.Context, tx pgx.Tx, o Order) (Restock, error) {
	var out Restock
	for _, it := range o.Items {
		p, err := catalog.Release(ctx, tx, it.ProductID, it.Quantity)
		if errors.Is(err, catalog.ErrNotFound) {
			continue // product deleted since; nothing to give back
		}
		if err != nil {
			return Restock{}, fmt.Errorf("restock %s: %w", it.ProductID, err)
		}
		out.Items = append(out.Items, ItemQty{ProductID: it.ProductID, Qty: it.Quantity})
		out.Products = append(out.Products, p)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM sales WHERE order_id=$1`, o.ID); err != nil {
		return Restock{}, err
	}
	return out, nil
}

func (r *Repo) getBy(ctx context.Context, db postgres.DBTX, col, val string, lock ...string) (Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders WHERE ` + col + `=$1`
	if len(lock) > 0 {
		q += " " + lock[0]
	}
	o, err := scanOrder(db.QueryRow(ctx, q, val))
	if err != nil {
		return Order{}, err
	}
	items, err := loadItems(ctx, db, []string{o.ID})
	if err != nil {
		return Order{}, err
	}
	o.Items = items[o.ID]
	return o, nil
}

func (r *Repo) collect(ctx context.Context, rows pgx.Rows) ([]Order, error) {
	defer rows.Close()
	out := []Order{}
	ids := []string{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()
	if len(ids) == 0 {
		return out, nil
	}
	items, err := loadItems(ctx, r.DB, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Items = items[out[i].ID]
	}
	return out, nil
}

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o              Order
		pay, tot, stat string
	)
	err := row.Scan(&o.ID, &o.ExternalID, &o.CustomerID, &o.CustomerName, &o.Phone, &o.Address,
		&pay, &tot, &stat, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, err
	}
	o.PaymentMethod = PaymentMethod(pay)
	o.Status = Status(stat)
	if o.Total, err = decimal.NewFromString(tot); err != nil {
		return Order{}, fmt.Errorf("orders: total %q: %w", tot, err)
	}
	return o, nil
}

func loadItems(ctx context.Context, db postgres.DBTX, orderIDs []string) (map[string][]Item, error) {
	rows, err := db.Query(ctx, `
		SELECT order_id, product_id, name, unit, quantity, unit_price::text, unit_cost::text
		FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, line_no`, orderIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]Item, len(orderIDs))
	for rows.Next() {
		var (
			orderID     string
			it          Item
			price, cost string
		)
		if err := rows.Scan(&orderID, &it.ProductID, &it.Name, &it.Unit, &it.Quantity, &price, &cost); err != nil {
			return nil, err
		}
		if it.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return nil, err
		}
		if it.UnitCost, err = decimal.NewFromString(cost); err != nil {
			return nil, err
		}
		out[orderID] = append(out[orderID], it)
	}
	return out, rows.Err()
}

func page(limit, offset int) (int, int) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
