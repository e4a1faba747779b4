package postgres

import (
	"context"
	"fmt"
	"log/slog"
)

const schema = `
CREATE TABLE IF NOT EXISTS products (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	category    TEXT NOT NULL DEFAULT 'Uncategorized',
	unit        TEXT NOT NULL DEFAULT 'un',
	cost_price  NUMERIC(12,2) NOT NULL DEFAULT 0,
	sale_price  NUMERIC(12,2) NOT NULL DEFAULT 0,
	quantity    INT NOT NULL DEFAULT 0 CHECK (quantity >= 0),
	image_ref   TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS products_category_idx ON products (category);

CREATE TABLE IF NOT EXISTS orders (
	id             TEXT PRIMARY KEY,
	external_id    TEXT NOT NULL UNIQUE,
	customer_id    TEXT NOT NULL,
	customer_name  TEXT NOT NULL,
	phone          TEXT NOT NULL,
	address        TEXT NOT NULL,
	payment_method TEXT NOT NULL,
	total          NUMERIC(12,2) NOT NULL,
	status         TEXT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS orders_customer_idx ON orders (customer_id, created_at DESC);

CREATE TABLE IF NOT EXISTS order_items (
	order_id   TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
	line_no    INT NOT NULL,
	product_id TEXT NOT NULL,
	name       TEXT NOT NULL,
	unit       TEXT NOT NULL DEFAULT 'un',
	quantity   INT NOT NULL CHECK (quantity > 0),
	unit_price NUMERIC(12,2) NOT NULL,
	unit_cost  NUMERIC(12,2) NOT NULL,
	PRIMARY KEY (order_id, line_no)
);

CREATE TABLE IF NOT EXISTS sales (
	id         TEXT PRIMARY KEY,
	product_id TEXT NOT NULL,
	order_id   TEXT,
	name       TEXT NOT NULL,
	unit       TEXT NOT NULL,
	quantity   INT NOT NULL CHECK (quantity > 0),
	unit_cost  NUMERIC(12,2) NOT NULL,
	unit_price NUMERIC(12,2) NOT NULL,
	sold_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS sales_sold_at_idx ON sales (sold_at DESC);

CREATE TABLE IF NOT EXISTS notifications (
	id          TEXT PRIMARY KEY,
	order_id    TEXT NOT NULL UNIQUE,
	title       TEXT NOT NULL,
	description TEXT NOT NULL,
	read        BOOLEAN NOT NULL DEFAULT FALSE,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// Migrate creates the tables if they do not exist yet.
func Migrate(ctx context.Context, db DBTX, log *slog.Logger) error {
	log.Info("checking database schema")
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}
