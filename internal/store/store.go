package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"offline-pos/internal/events"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrCorrupt means the local database cannot be trusted. Recovery is an explicit reset.
	ErrCorrupt = errors.New("local store is corrupt")
)

// Store is the terminal's embedded database. All writes go through WithTx.
type Store struct {
	db  *sqlx.DB
	bus *events.Bus
	now func() time.Time
}

// Open opens (creating if needed) the SQLite database at path and applies migrations.
func Open(ctx context.Context, path string, bus *events.Bus) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL", path)
	return open(ctx, dsn, bus)
}

// OpenMemory opens a private in-memory database, used by tests and dry runs.
func OpenMemory(ctx context.Context, bus *events.Bus) (*Store, error) {
	dsn := fmt.Sprintf("file:mem-%s?mode=memory&cache=shared&_foreign_keys=on", uuid.NewString())
	return open(ctx, dsn, bus)
}

func open(ctx context.Context, dsn string, bus *events.Bus) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}

	// One connection serializes every transaction, so a stock check and the
	// write that acts on it can never interleave with another writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db, bus: bus, now: func() time.Time { return time.Now().UTC() }}

	if err := s.checkIntegrity(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// SetClock overrides the timestamp source.
func (s *Store) SetClock(now func() time.Time) {
	s.now = func() time.Time { return now().UTC() }
}

func (s *Store) Now() time.Time {
	return s.now()
}

// WithTx runs fn in a single transaction. Change events recorded by fn are
// published only after a successful commit.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	tx := &Tx{tx: sqlTx, now: s.now}
	defer sqlTx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.bus.Publish(tx.changes...)
	return nil
}

// View runs read-only work in a transaction.
func (s *Store) View(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()
	return fn(&Tx{tx: sqlTx, now: s.now})
}

func (s *Store) checkIntegrity(ctx context.Context) error {
	var result string
	if err := s.db.GetContext(ctx, &result, "PRAGMA integrity_check"); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if result != "ok" {
		return fmt.Errorf("%w: integrity_check reported %q", ErrCorrupt, result)
	}
	return nil
}

// Reset deletes the database files at path. It is the manual recovery path for ErrCorrupt
// and discards every unsynced record.
func Reset(path string) error {
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(path + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", path+suffix, err)
		}
	}
	return nil
}

// Tx wraps a SQL transaction and collects change events.
type Tx struct {
	tx      *sqlx.Tx
	now     func() time.Time
	changes []events.ChangeEvent
}

func (t *Tx) Now() time.Time {
	return t.now()
}

func (t *Tx) record(table string, op events.Op, id string) {
	t.changes = append(t.changes, events.ChangeEvent{Table: table, Op: op, EntityID: id})
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}
