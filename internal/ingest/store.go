package ingest

import (
	"context"
	"fmt"
	"time"

	"offline-pos/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS sync_packets (
	id              TEXT PRIMARY KEY,
	terminal_id     TEXT NOT NULL,
	organization_id TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	received_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS sales (
	id                    TEXT PRIMARY KEY,
	terminal_id           TEXT NOT NULL,
	organization_id       TEXT NOT NULL,
	invoice_number        TEXT NOT NULL,
	items                 JSONB NOT NULL,
	subtotal_amount       NUMERIC(14,2) NOT NULL,
	discount_name         TEXT NOT NULL DEFAULT '',
	discount_amount       NUMERIC(14,2) NOT NULL,
	discount_info         JSONB,
	tax_name              TEXT NOT NULL,
	tax_rate_snapshot     NUMERIC(6,3) NOT NULL,
	is_tax_inclusive      BOOLEAN NOT NULL,
	tax_amount            NUMERIC(14,2) NOT NULL,
	service_charge_amount NUMERIC(14,2) NOT NULL,
	total_amount          NUMERIC(14,2) NOT NULL,
	payment_method        TEXT NOT NULL,
	customer_id           TEXT,
	shift_id              TEXT,
	status                TEXT NOT NULL,
	timestamp             TIMESTAMPTZ NOT NULL,
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (terminal_id, invoice_number)
);

CREATE TABLE IF NOT EXISTS stock_movements (
	id              TEXT PRIMARY KEY,
	terminal_id     TEXT NOT NULL,
	organization_id TEXT NOT NULL,
	product_id      TEXT NOT NULL,
	type            TEXT NOT NULL,
	quantity_change INTEGER NOT NULL,
	reason          TEXT NOT NULL,
	reference_id    TEXT,
	timestamp       TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS shifts (
	id              TEXT PRIMARY KEY,
	terminal_id     TEXT NOT NULL,
	organization_id TEXT NOT NULL,
	cashier         TEXT NOT NULL,
	status          TEXT NOT NULL,
	opening_cash    NUMERIC(14,2) NOT NULL,
	expected_cash   NUMERIC(14,2) NOT NULL,
	closing_cash    NUMERIC(14,2),
	opened_at       TIMESTAMPTZ NOT NULL,
	closed_at       TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS audit_logs (
	id              TEXT PRIMARY KEY,
	terminal_id     TEXT NOT NULL,
	organization_id TEXT NOT NULL,
	actor           TEXT NOT NULL,
	action          TEXT NOT NULL,
	entity_type     TEXT NOT NULL,
	entity_id       TEXT NOT NULL,
	detail          TEXT NOT NULL,
	timestamp       TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sales_org_timestamp ON sales (organization_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_movements_product ON stock_movements (organization_id, product_id);
`

// Store is the receiver's Postgres database.
type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate creates the receiver tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate receiver schema: %w", err)
	}
	return nil
}

// Origin tags every stored record with the terminal that produced it.
type Origin struct {
	TerminalID     string `db:"terminal_id"`
	OrganizationID string `db:"organization_id"`
}

type saleRow struct {
	models.Sale
	Origin
}

type movementRow struct {
	models.StockMovement
	Origin
}

type shiftRow struct {
	models.Shift
	Origin
}

type auditRow struct {
	models.AuditLog
	Origin
}

// SavePacket persists every record of a packet in one transaction. It returns
// false when the packet id was stored before, in which case nothing is written.
func (s *Store) SavePacket(ctx context.Context, p *models.SyncPacket) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO sync_packets (id, terminal_id, organization_id, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING`,
		p.ID, p.TerminalID, p.OrganizationID, p.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to record packet: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	from := Origin{TerminalID: p.TerminalID, OrganizationID: p.OrganizationID}

	// A sale arrives again when it is voided or refunded; only the status moves.
	for _, sale := range p.Sales {
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO sales (
				id, terminal_id, organization_id, invoice_number, items, subtotal_amount,
				discount_name, discount_amount, discount_info, tax_name, tax_rate_snapshot,
				is_tax_inclusive, tax_amount, service_charge_amount, total_amount,
				payment_method, customer_id, shift_id, status, timestamp
			) VALUES (
				:id, :terminal_id, :organization_id, :invoice_number, :items, :subtotal_amount,
				:discount_name, :discount_amount, :discount_info, :tax_name, :tax_rate_snapshot,
				:is_tax_inclusive, :tax_amount, :service_charge_amount, :total_amount,
				:payment_method, :customer_id, :shift_id, :status, :timestamp
			)
			ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, updated_at = now()`,
			saleRow{sale, from}); err != nil {
			return false, fmt.Errorf("failed to save sale %s: %w", sale.ID, err)
		}
	}

	for _, m := range p.StockMovements {
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO stock_movements (id, terminal_id, organization_id, product_id, type, quantity_change, reason, reference_id, timestamp)
			VALUES (:id, :terminal_id, :organization_id, :product_id, :type, :quantity_change, :reason, :reference_id, :timestamp)
			ON CONFLICT (id) DO NOTHING`,
			movementRow{m, from}); err != nil {
			return false, fmt.Errorf("failed to save movement %s: %w", m.ID, err)
		}
	}

	for _, sh := range p.Shifts {
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO shifts (id, terminal_id, organization_id, cashier, status, opening_cash, expected_cash, closing_cash, opened_at, closed_at)
			VALUES (:id, :terminal_id, :organization_id, :cashier, :status, :opening_cash, :expected_cash, :closing_cash, :opened_at, :closed_at)
			ON CONFLICT (id) DO UPDATE SET
				status = EXCLUDED.status,
				expected_cash = EXCLUDED.expected_cash,
				closing_cash = EXCLUDED.closing_cash,
				closed_at = EXCLUDED.closed_at`,
			shiftRow{sh, from}); err != nil {
			return false, fmt.Errorf("failed to save shift %s: %w", sh.ID, err)
		}
	}

	for _, l := range p.AuditLogs {
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO audit_logs (id, terminal_id, organization_id, actor, action, entity_type, entity_id, detail, timestamp)
			VALUES (:id, :terminal_id, :organization_id, :actor, :action, :entity_type, :entity_id, :detail, :timestamp)
			ON CONFLICT (id) DO NOTHING`,
			auditRow{l, from}); err != nil {
			return false, fmt.Errorf("failed to save audit log %s: %w", l.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit packet: %w", err)
	}
	return true, nil
}

// SaleStatus returns the stored status of a sale, for reconciliation checks.
func (s *Store) SaleStatus(ctx context.Context, organizationID, saleID string) (models.SaleStatus, error) {
	var status models.SaleStatus
	err := s.db.GetContext(ctx, &status,
		"SELECT status FROM sales WHERE organization_id = $1 AND id = $2", organizationID, saleID)
	return status, err
}
