// Package store provides the persistence adapter the engine runs on: a
// versioned document store with compare-and-swap, plus typed repositories
// for each collection. Two implementations exist — an in-memory one for
// tests and the demo CLI, and a SQLite-backed one for production — selected
// at construction time, never by global state.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Collection names. Keys within each collection are documented on the
// typed repositories below.
const (
	CollectionPurchases     = "purchases"
	CollectionQuestionUsage = "question_usage"
	CollectionSessions      = "sessions"
	CollectionScoreResults  = "score_results"
	CollectionQuestionBank  = "question_bank"
	CollectionJudgeEvents   = "judge_events"
)

// ErrNotFound indicates no item exists under the requested key.
var ErrNotFound = errors.New("store: item not found")

// ErrVersionConflict indicates a CompareAndSwap lost a race: the item's
// current version no longer matches the expected version.
var ErrVersionConflict = errors.New("store: version conflict")

// Item is a single versioned document. Version starts at 1 on first write
// and increments by one on every successful mutation.
type Item struct {
	Key     string
	Version int64
	Data    []byte
}

// Adapter is the capability interface over a durable key-value store.
// All engine components depend only on this interface, never on a
// concrete store.
type Adapter interface {
	// Get returns the item stored under key, or ErrNotFound.
	Get(ctx context.Context, collection, key string) (*Item, error)

	// Put writes the item unconditionally, creating it if absent.
	// The stored version is bumped regardless of the item's Version field.
	Put(ctx context.Context, collection string, item *Item) error

	// CompareAndSwap replaces the data stored under key only if the
	// current version equals expectedVersion. Returns ErrVersionConflict
	// when the versions differ and ErrNotFound when the key is absent.
	// An expectedVersion of 0 creates the item, failing with
	// ErrVersionConflict if it already exists.
	CompareAndSwap(ctx context.Context, collection, key string, expectedVersion int64, data []byte) error

	// Query returns all items in the collection for which filter returns
	// true. A nil filter returns everything. No ordering is guaranteed.
	Query(ctx context.Context, collection string, filter func(*Item) bool) ([]*Item, error)

	// Delete removes the item under key. Deleting an absent key is a no-op.
	Delete(ctx context.Context, collection, key string) error

	// Close releases any resources held by the adapter.
	Close() error
}

// DefaultDBPath resolves the SQLite database file path in priority order:
// 1. LINGOBAND_DB environment variable
// 2. $XDG_DATA_HOME/lingoband/lingoband.db
// 3. ~/.local/share/lingoband/lingoband.db
func DefaultDBPath() (string, error) {
	if p := os.Getenv("LINGOBAND_DB"); p != "" {
		return p, EnsureDir(p)
	}

	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		dataHome = filepath.Join(home, ".local", "share")
	}

	p := filepath.Join(dataHome, "lingoband", "lingoband.db")
	return p, EnsureDir(p)
}

// EnsureDir creates the parent directory of path if it doesn't exist.
func EnsureDir(path string) error {
	dir := filepath.Dir(path)
	return os.MkdirAll(dir, 0o755)
}
