package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-retail-checkout/internal/postgres"
)

const productColumns = `id, name, category, unit, cost_price::text, sale_price::text,
	quantity, image_ref, created_at, updated_at`

type Repo struct{ DB *pgxpool.Pool }

func scanProduct(row pgx.Row) (Product, error) {
	var (
		p          Product
		cost, sale string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Category, &p.Unit, &cost, &sale,
		&p.Quantity, &p.ImageRef, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrNotFound
		}
		return Product{}, err
	}
	var err error
	if p.CostPrice, err = decimal.NewFromString(cost); err != nil {
		return Product{}, fmt.Errorf("catalog: cost price %q: %w", cost, err)
	}
	if p.SalePrice, err = decimal.NewFromString(sale); err != nil {
		return Product{}, fmt.Errorf("catalog: sale price %q: %w", sale, err)
	}
	return p, nil
}

func (r *Repo) Create(ctx context.Context, in NewProduct) (Product, error) {
	if in.CostPrice.IsNegative() || in.SalePrice.IsNegative() {
		return Product{}, ErrInvalidPrice
	}
	if in.Quantity < 0 {
		return Product{}, ErrInvalidQuantity
	}
	unit := strings.TrimSpace(in.Unit)
	if unit == "" {
		unit = "un"
	}
	row := r.DB.QueryRow(ctx, `
		INSERT INTO products (id, name, category, unit, cost_price, sale_price, quantity, image_ref)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7, $8)
		RETURNING `+productColumns,
		uuid.NewString(), strings.TrimSpace(in.Name), strings.TrimSpace(in.Category), unit,
		in.CostPrice.String(), in.SalePrice.String(), in.Quantity, in.ImageRef)
	return scanProduct(row)
}

func (r *Repo) Get(ctx context.Context, id string) (Product, error) {
	return scanProduct(r.DB.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1`, id))
}

// List returns products ordered by name; an empty category means all.
func (r *Repo) List(ctx context.Context, category string) ([]Product, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT `+productColumns+` FROM products
		WHERE ($1 = '' OR category = $1)
		ORDER BY name, id`, category)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repo) Categories(ctx context.Context) ([]string, error) {
	rows, err := r.DB.Query(ctx, `SELECT DISTINCT category FROM products ORDER BY category`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *Repo) Update(ctx context.Context, id string, p Patch) (Product, error) {
	if (p.CostPrice != nil && p.CostPrice.IsNegative()) || (p.SalePrice != nil && p.SalePrice.IsNegative()) {
		return Product{}, ErrInvalidPrice
	}
	if p.Quantity != nil && *p.Quantity < 0 {
		return Product{}, ErrInvalidQuantity
	}
	row := r.DB.QueryRow(ctx, `
		UPDATE products SET
			name       = COALESCE($2, name),
			category   = COALESCE($3, category),
			unit       = COALESCE($4, unit),
			cost_price = COALESCE($5::numeric, cost_price),
			sale_price = COALESCE($6::numeric, sale_price),
			quantity   = COALESCE($7, quantity),
			image_ref  = COALESCE($8, image_ref),
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+productColumns,
		id, p.Name, p.Category, p.Unit, decimalArg(p.CostPrice), decimalArg(p.SalePrice), p.Quantity, p.ImageRef)
	return scanProduct(row)
}

func decimalArg(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func (r *Repo) Delete(ctx context.Context, id string) error {
	tag, err := r.DB.Exec(ctx, `DELETE FROM products WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AddStock increases on-hand quantity (goods received).
func (r *Repo) AddStock(ctx context.Context, id string, qty int) (Product, error) {
	if qty <= 0 {
		return Product{}, ErrInvalidQuantity
	}
	return Release(ctx, r.DB, id, qty)
}

// Reserve takes qty units off the shelf for a holder that already has held units
// reserved. The sufficiency check and the decrement are one statement.
func (r *Repo) Reserve(ctx context.Context, id string, qty, held int) (Product, error) {
	return Take(ctx, r.DB, id, qty, held)
}

// Release puts qty units back on the shelf.
func (r *Repo) Release(ctx context.Context, id string, qty int) (Product, error) {
	return Release(ctx, r.DB, id, qty)
}

// RepairStock clamps negative quantities to zero and returns the number of rows fixed.
func (r *Repo) RepairStock(ctx context.Context) (int64, error) {
	tag, err := r.DB.Exec(ctx, `UPDATE products SET quantity = 0, updated_at = NOW() WHERE quantity < 0`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Take decrements quantity by qty only if quantity >= qty+held.
func Take(ctx context.Context, db postgres.DBTX, id string, qty, held int) (Product, error) {
	if qty <= 0 || held < 0 {
		return Product{}, ErrInvalidQuantity
	}
	p, err := scanProduct(db.QueryRow(ctx, `
		UPDATE products SET quantity = quantity - $2, updated_at = NOW()
		WHERE id = $1 AND quantity >= $2 + $3
		RETURNING `+productColumns, id, qty, held))
	if !errors.Is(err, ErrNotFound) {
		return p, err
	}
	// Either the product is gone or the guard rejected the decrement.
	var onHand int
	if err := db.QueryRow(ctx, `SELECT quantity FROM products WHERE id=$1`, id).Scan(&onHand); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrNotFound
		}
		return Product{}, err
	}
	return Product{}, &InsufficientStockError{ProductID: id, Requested: qty, Available: onHand}
}

// Release increments quantity by qty. A missing product yields ErrNotFound.
func Release(ctx context.Context, db postgres.DBTX, id string, qty int) (Product, error) {
	if qty <= 0 {
		return Product{}, ErrInvalidQuantity
	}
	return scanProduct(db.QueryRow(ctx, `
		UPDATE products SET quantity = quantity + $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+productColumns, id, qty))
}
