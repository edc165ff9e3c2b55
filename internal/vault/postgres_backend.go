package vault

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const (
	postgresStateTableName   = "vault_processed_keys"
	postgresOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresStateBackend persists the processed set as one row per
// (watcher, key) pair. Rows are never deleted, so Save only has to
// insert pairs the table does not hold yet, and deployments sharing a
// database converge on the union of their keys. The connection is
// opened and the table ensured lazily on first use.
type PostgresStateBackend struct {
	dsn       string
	tableName string
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

// NewPostgresStateBackend creates a backend for the given postgres DSN.
func NewPostgresStateBackend(dsn string) (StateBackend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &PostgresStateBackend{
		dsn:       dsn,
		tableName: postgresStateTableName,
		openDB:    sql.Open,
	}, nil
}

// Load reads every processed pair. An empty table loads as empty state.
func (b *PostgresStateBackend) Load() (*WatcherState, error) {
	if b == nil {
		return emptyWatcherState(), nil
	}
	if err := b.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(
		"SELECT watcher, entry_key FROM %s ORDER BY watcher, entry_key",
		postgresQuoteIdentifier(b.tableName),
	)
	rows, err := b.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	processed := map[string][]string{}
	for rows.Next() {
		var watcher, key string
		if err := rows.Scan(&watcher, &key); err != nil {
			return nil, err
		}
		processed[watcher] = append(processed[watcher], key)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &WatcherState{Processed: processed}, nil
}

// Save inserts the pairs missing from the table. Existing rows are left
// alone.
func (b *PostgresStateBackend) Save(state *WatcherState) error {
	if b == nil || state == nil {
		return nil
	}
	if err := b.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (watcher, entry_key)
		VALUES ($1, $2)
		ON CONFLICT (watcher, entry_key) DO NOTHING`, postgresQuoteIdentifier(b.tableName))
	for watcher, keys := range state.Processed {
		for _, key := range keys {
			if _, err := tx.ExecContext(ctx, query, watcher, key); err != nil {
				_ = tx.Rollback()
				return err
			}
		}
	}
	return tx.Commit()
}

// Close releases the database handle.
func (b *PostgresStateBackend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *PostgresStateBackend) ensureReady() error {
	if b == nil {
		return ErrInvalidInput
	}
	b.initOnce.Do(func() {
		db, err := b.openDB("postgres", b.dsn)
		if err != nil {
			b.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()

		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				watcher TEXT NOT NULL,
				entry_key TEXT NOT NULL,
				first_seen TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				PRIMARY KEY (watcher, entry_key)
			)`, postgresQuoteIdentifier(b.tableName))
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			b.initErr = err
			return
		}
		b.db = db
	})
	return b.initErr
}

func postgresQuoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "\"\""
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
