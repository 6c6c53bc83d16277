package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	// Pure Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

// SQLite is an Adapter backed by a SQLite database. Each collection lives
// in its own table of (key, version, data) rows; compare-and-swap is an
// UPDATE guarded by the expected version.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite creates a SQLite adapter at dsn. It applies recommended
// pragmas and creates collection tables on first use.
func OpenSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// DB returns the underlying *sql.DB for raw queries.
func (s *SQLite) DB() *sql.DB {
	return s.db
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

// collections known at migration time. Adapter calls against other names
// fail, which catches typos early instead of silently creating tables.
var sqliteCollections = []string{
	CollectionPurchases,
	CollectionQuestionUsage,
	CollectionSessions,
	CollectionScoreResults,
	CollectionQuestionBank,
	CollectionJudgeEvents,
}

func (s *SQLite) migrate() error {
	for _, c := range sqliteCollections {
		stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
			key TEXT PRIMARY KEY,
			version INTEGER NOT NULL,
			data BLOB NOT NULL
		)`, c)
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("create table %s: %w", c, err)
		}
	}
	return nil
}

func (s *SQLite) table(collection string) (string, error) {
	for _, c := range sqliteCollections {
		if c == collection {
			return fmt.Sprintf("%q", c), nil
		}
	}
	return "", fmt.Errorf("unknown collection %q", collection)
}

func (s *SQLite) Get(ctx context.Context, collection, key string) (*Item, error) {
	table, err := s.table(collection)
	if err != nil {
		return nil, err
	}

	item := &Item{Key: key}
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT version, data FROM %s WHERE key = ?`, table), key)
	if err := row.Scan(&item.Version, &item.Data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get %s/%s: %w", collection, key, err)
	}
	return item, nil
}

func (s *SQLite) Put(ctx context.Context, collection string, item *Item) error {
	table, err := s.table(collection)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (key, version, data) VALUES (?, 1, ?)
		 ON CONFLICT(key) DO UPDATE SET version = version + 1, data = excluded.data`,
		table), item.Key, item.Data)
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", collection, item.Key, err)
	}
	return nil
}

func (s *SQLite) CompareAndSwap(ctx context.Context, collection, key string, expectedVersion int64, data []byte) error {
	table, err := s.table(collection)
	if err != nil {
		return err
	}

	if expectedVersion == 0 {
		_, err := s.db.ExecContext(ctx, fmt.Sprintf(
			`INSERT INTO %s (key, version, data) VALUES (?, 1, ?)`, table), key, data)
		if err != nil {
			// A unique constraint violation means the item already exists.
			return ErrVersionConflict
		}
		return nil
	}

	res, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %s SET version = version + 1, data = ? WHERE key = ? AND version = ?`,
		table), data, key, expectedVersion)
	if err != nil {
		return fmt.Errorf("cas %s/%s: %w", collection, key, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("cas %s/%s: rows affected: %w", collection, key, err)
	}
	if affected == 0 {
		// Distinguish a lost race from a missing key.
		if _, getErr := s.Get(ctx, collection, key); errors.Is(getErr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	return nil
}

func (s *SQLite) Query(ctx context.Context, collection string, filter func(*Item) bool) ([]*Item, error) {
	table, err := s.table(collection)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT key, version, data FROM %s`, table))
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	defer rows.Close()

	var out []*Item
	for rows.Next() {
		item := &Item{}
		if err := rows.Scan(&item.Key, &item.Version, &item.Data); err != nil {
			return nil, fmt.Errorf("scan %s: %w", collection, err)
		}
		if filter == nil || filter(item) {
			out = append(out, item)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", collection, err)
	}
	return out, nil
}

func (s *SQLite) Delete(ctx context.Context, collection, key string) error {
	table, err := s.table(collection)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE key = ?`, table), key)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, key, err)
	}
	return nil
}

// applyPragmas configures SQLite for concurrent request handling.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}
