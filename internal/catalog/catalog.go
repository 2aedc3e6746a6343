package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the catalog database with a single-writer connection and a
// concurrent read pool. SQLite allows one writer at a time; funneling all
// writes through one connection turns writer contention into queueing
// instead of SQLITE_BUSY errors.
type DB struct {
	write  *sql.DB // single writer
	read   *sql.DB // concurrent readers
	dbPath string
	mu     sync.Mutex // serializes multi-statement write transactions
}

// Open opens (creating if needed) the catalog database at dbPath and
// initializes its schema.
func Open(dbPath string) (*DB, error) {
	write, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to open database: %w", err)
	}
	write.SetMaxOpenConns(1)
	write.SetMaxIdleConns(1)

	read, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		write.Close()
		return nil, fmt.Errorf("catalog: failed to open read database: %w", err)
	}
	read.SetMaxOpenConns(4)
	read.SetMaxIdleConns(4)
	read.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{write: write, read: read, dbPath: dbPath}
	if err := db.initSchema(); err != nil {
		read.Close()
		write.Close()
		return nil, fmt.Errorf("catalog: failed to initialize schema: %w", err)
	}
	return db, nil
}

func (d *DB) initSchema() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, stmt := range AllSchemaSQL() {
		if _, err := d.write.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// Writer returns the single-writer connection.
func (d *DB) Writer() *sql.DB { return d.write }

// Reader returns the concurrent read pool.
func (d *DB) Reader() *sql.DB { return d.read }

// WithTx runs fn inside a write transaction, committing on nil error and
// rolling back otherwise. The catalog write lock is held for the duration.
func (d *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.write.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("catalog: failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("catalog: failed to commit transaction: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (d *DB) Path() string { return d.dbPath }

// Close closes both connections.
func (d *DB) Close() error {
	var firstErr error
	if err := d.read.Close(); err != nil {
		firstErr = fmt.Errorf("catalog: failed to close read database: %w", err)
	}
	if err := d.write.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("catalog: failed to close write database: %w", err)
	}
	return firstErr
}
