package postgres

import (
	"context"
	"fmt"
)

// schema is idempotent; every statement uses IF NOT EXISTS.
const schema = `
CREATE TABLE IF NOT EXISTS stores (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	active BOOLEAN NOT NULL DEFAULT true
);

CREATE TABLE IF NOT EXISTS products (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	price BIGINT NOT NULL CHECK (price >= 0),
	active BOOLEAN NOT NULL DEFAULT true
);

CREATE TABLE IF NOT EXISTS inventory_stocks (
	store_id TEXT NOT NULL REFERENCES stores(id),
	product_id TEXT NOT NULL REFERENCES products(id),
	qty INTEGER NOT NULL CHECK (qty >= 0),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (store_id, product_id)
);

CREATE TABLE IF NOT EXISTS customers (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	phone TEXT,
	loyalty_point BIGINT NOT NULL DEFAULT 0 CHECK (loyalty_point >= 0)
);

CREATE TABLE IF NOT EXISTS voucher_templates (
	id TEXT PRIMARY KEY,
	prefix TEXT NOT NULL,
	name TEXT NOT NULL,
	discount_type TEXT NOT NULL,
	discount_value NUMERIC(12,2) NOT NULL,
	max_discount_amount BIGINT NOT NULL DEFAULT 0,
	min_purchase_amount BIGINT NOT NULL DEFAULT 0,
	required_loyalty_points BIGINT NOT NULL DEFAULT 0,
	validity_days INTEGER NOT NULL DEFAULT 30,
	active BOOLEAN NOT NULL DEFAULT true
);

CREATE TABLE IF NOT EXISTS vouchers (
	code TEXT PRIMARY KEY,
	customer_id TEXT NOT NULL REFERENCES customers(id),
	template_id TEXT NOT NULL REFERENCES voucher_templates(id),
	name TEXT NOT NULL,
	discount_type TEXT NOT NULL,
	discount_value NUMERIC(12,2) NOT NULL,
	max_discount_amount BIGINT NOT NULL DEFAULT 0,
	min_purchase_amount BIGINT NOT NULL DEFAULT 0,
	valid_from TIMESTAMPTZ NOT NULL,
	valid_until TIMESTAMPTZ NOT NULL,
	status TEXT NOT NULL,
	used_at TIMESTAMPTZ,
	sale_id TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS vouchers_live_per_template
	ON vouchers (customer_id, template_id)
	WHERE status IN ('available', 'used');

CREATE TABLE IF NOT EXISTS settlements (
	id TEXT PRIMARY KEY,
	method TEXT NOT NULL,
	amount BIGINT NOT NULL CHECK (amount >= 0),
	status TEXT NOT NULL,
	external_reference TEXT UNIQUE,
	cash_received BIGINT NOT NULL DEFAULT 0,
	change_amount BIGINT NOT NULL DEFAULT 0,
	paid_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS shifts (
	id TEXT PRIMARY KEY,
	store_id TEXT NOT NULL,
	cashier_id TEXT NOT NULL,
	status TEXT NOT NULL,
	opening_float BIGINT NOT NULL DEFAULT 0,
	cash_sales_total BIGINT NOT NULL DEFAULT 0,
	transfer_sales_total BIGINT NOT NULL DEFAULT 0,
	closing_cash BIGINT NOT NULL DEFAULT 0,
	opened_at TIMESTAMPTZ NOT NULL,
	closed_at TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS shifts_one_open_per_cashier
	ON shifts (store_id, cashier_id)
	WHERE status = 'opened';

CREATE TABLE IF NOT EXISTS sales (
	id TEXT PRIMARY KEY,
	settlement_id TEXT NOT NULL UNIQUE REFERENCES settlements(id),
	store_id TEXT NOT NULL,
	cashier_id TEXT NOT NULL,
	shift_id TEXT REFERENCES shifts(id),
	customer_id TEXT REFERENCES customers(id),
	subtotal BIGINT NOT NULL,
	tax_amount BIGINT NOT NULL DEFAULT 0,
	discount_amount BIGINT NOT NULL DEFAULT 0,
	voucher_code TEXT,
	total_amount BIGINT NOT NULL,
	status TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS sale_lines (
	id TEXT PRIMARY KEY,
	sale_id TEXT NOT NULL REFERENCES sales(id),
	line_no INTEGER NOT NULL,
	product_id TEXT NOT NULL,
	product_name TEXT NOT NULL,
	quantity INTEGER NOT NULL CHECK (quantity > 0),
	unit_price BIGINT NOT NULL CHECK (unit_price >= 0),
	subtotal BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS sale_lines_sale_id ON sale_lines (sale_id);

CREATE TABLE IF NOT EXISTS audit_logs (
	id TEXT PRIMARY KEY,
	store_id TEXT NOT NULL DEFAULT '',
	actor_username TEXT NOT NULL DEFAULT '',
	actor_role TEXT NOT NULL DEFAULT '',
	action TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS app_users (
	username TEXT PRIMARY KEY,
	password TEXT NOT NULL,
	role TEXT NOT NULL,
	active BOOLEAN NOT NULL DEFAULT true,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Migrate applies the schema. It is safe to run on every start.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("postgres: apply schema: %w", err)
	}
	return nil
}
