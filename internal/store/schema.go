package store

import (
	"context"
	"fmt"
)

// migrations are applied in order; each entry runs once.
var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS customers (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	phone       TEXT NOT NULL DEFAULT '',
	total_spent REAL NOT NULL DEFAULT 0,
	visit_count INTEGER NOT NULL DEFAULT 0,
	last_visit  TIMESTAMP
);

CREATE TABLE IF NOT EXISTS products (
	id                  TEXT PRIMARY KEY,
	type                TEXT NOT NULL CHECK (type IN ('RETAIL', 'SERVICE')),
	sku                 TEXT NOT NULL DEFAULT '',
	name                TEXT NOT NULL,
	category            TEXT NOT NULL DEFAULT '',
	price               REAL NOT NULL CHECK (price >= 0),
	is_active           BOOLEAN NOT NULL DEFAULT 1,
	stock_level         INTEGER NOT NULL DEFAULT 0 CHECK (stock_level >= 0),
	low_stock_threshold INTEGER NOT NULL DEFAULT 0,
	is_composite        BOOLEAN NOT NULL DEFAULT 0,
	ingredients         TEXT,
	duration_minutes    INTEGER NOT NULL DEFAULT 0,
	assigned_staff_id   TEXT,
	created_at          TIMESTAMP NOT NULL,
	updated_at          TIMESTAMP NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_products_sku ON products(sku) WHERE sku <> '';
CREATE INDEX IF NOT EXISTS idx_products_category ON products(category);

CREATE TABLE IF NOT EXISTS shifts (
	id            TEXT PRIMARY KEY,
	cashier       TEXT NOT NULL,
	status        TEXT NOT NULL CHECK (status IN ('OPEN', 'CLOSED')),
	opening_cash  REAL NOT NULL DEFAULT 0,
	expected_cash REAL NOT NULL DEFAULT 0,
	closing_cash  REAL,
	opened_at     TIMESTAMP NOT NULL,
	closed_at     TIMESTAMP,
	synced        BOOLEAN NOT NULL DEFAULT 0
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_shifts_single_open ON shifts(status) WHERE status = 'OPEN';

CREATE TABLE IF NOT EXISTS sales (
	id                    TEXT PRIMARY KEY,
	invoice_number        TEXT NOT NULL UNIQUE,
	items                 TEXT NOT NULL,
	subtotal_amount       REAL NOT NULL,
	discount_name         TEXT NOT NULL DEFAULT '',
	discount_amount       REAL NOT NULL DEFAULT 0,
	discount_info         TEXT,
	tax_name              TEXT NOT NULL DEFAULT '',
	tax_rate_snapshot     REAL NOT NULL DEFAULT 0,
	is_tax_inclusive      BOOLEAN NOT NULL DEFAULT 0,
	tax_amount            REAL NOT NULL DEFAULT 0,
	service_charge_amount REAL NOT NULL DEFAULT 0,
	total_amount          REAL NOT NULL,
	payment_method        TEXT NOT NULL,
	customer_id           TEXT REFERENCES customers(id),
	shift_id              TEXT REFERENCES shifts(id),
	status                TEXT NOT NULL CHECK (status IN ('COMPLETED', 'VOIDED', 'REFUNDED')),
	timestamp             TIMESTAMP NOT NULL,
	synced                BOOLEAN NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_sales_timestamp ON sales(timestamp);
CREATE INDEX IF NOT EXISTS idx_sales_synced ON sales(synced);

CREATE TABLE IF NOT EXISTS stock_movements (
	id              TEXT PRIMARY KEY,
	product_id      TEXT NOT NULL REFERENCES products(id),
	type            TEXT NOT NULL CHECK (type IN ('PURCHASE', 'SALE', 'ADJUSTMENT')),
	quantity_change INTEGER NOT NULL,
	reason          TEXT NOT NULL DEFAULT '',
	reference_id    TEXT,
	timestamp       TIMESTAMP NOT NULL,
	synced          BOOLEAN NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_stock_movements_product ON stock_movements(product_id);
CREATE INDEX IF NOT EXISTS idx_stock_movements_reference ON stock_movements(reference_id);

CREATE TABLE IF NOT EXISTS stock_audits (
	id         TEXT PRIMARY KEY,
	product_id TEXT NOT NULL REFERENCES products(id),
	expected   INTEGER NOT NULL,
	counted    INTEGER NOT NULL,
	variance   INTEGER NOT NULL,
	note       TEXT NOT NULL DEFAULT '',
	timestamp  TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS discounts (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	type         TEXT NOT NULL CHECK (type IN ('PERCENTAGE', 'FIXED')),
	value        REAL NOT NULL,
	is_statutory BOOLEAN NOT NULL DEFAULT 0,
	valid_from   TIMESTAMP,
	valid_until  TIMESTAMP,
	is_active    BOOLEAN NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS cash_transactions (
	id        TEXT PRIMARY KEY,
	shift_id  TEXT NOT NULL REFERENCES shifts(id),
	type      TEXT NOT NULL CHECK (type IN ('CASH_IN', 'CASH_OUT')),
	amount    REAL NOT NULL,
	reason    TEXT NOT NULL DEFAULT '',
	timestamp TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_queue (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	url             TEXT NOT NULL,
	method          TEXT NOT NULL,
	payload         TEXT NOT NULL,
	status          TEXT NOT NULL CHECK (status IN ('PENDING', 'PROCESSING', 'FAILED')),
	retry_count     INTEGER NOT NULL DEFAULT 0,
	created_at      TIMESTAMP NOT NULL,
	last_error      TEXT NOT NULL DEFAULT '',
	next_attempt_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON sync_queue(status, id);

CREATE TABLE IF NOT EXISTS cart_items (
	product_id    TEXT PRIMARY KEY REFERENCES products(id),
	name          TEXT NOT NULL,
	type          TEXT NOT NULL,
	category      TEXT NOT NULL DEFAULT '',
	quantity      INTEGER NOT NULL CHECK (quantity >= 1),
	price_at_sale REAL NOT NULL,
	position      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	username   TEXT NOT NULL UNIQUE,
	pin_hash   TEXT NOT NULL,
	role       TEXT NOT NULL CHECK (role IN ('ADMIN', 'CASHIER')),
	is_active  BOOLEAN NOT NULL DEFAULT 1,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_logs (
	id          TEXT PRIMARY KEY,
	actor       TEXT NOT NULL,
	action      TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	entity_id   TEXT NOT NULL,
	detail      TEXT NOT NULL DEFAULT '',
	timestamp   TIMESTAMP NOT NULL,
	synced      BOOLEAN NOT NULL DEFAULT 0
);
`,
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version    INTEGER PRIMARY KEY,
	applied_at TIMESTAMP NOT NULL
)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	var current int
	if err := s.db.GetContext(ctx, &current, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations"); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if current > len(migrations) {
		return fmt.Errorf("schema version %d is newer than this build (%d)", current, len(migrations))
	}

	for i := current; i < len(migrations); i++ {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)", i+1, s.now()); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}
