// Package store implements the content-addressed Object Store (C3) and
// the Versioned Object Layer (C4) on top of SQLite, adapting the temporal
// versioning pattern (composite key per revision, partial "current" index)
// used elsewhere in this code base for per-entity version chains.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/asg017/sqlite-vec-go-bindings/ncruces"
	_ "github.com/ncruces/go-sqlite3/driver"

	"github.com/kittclouds/gokitt/internal/errs"
	"github.com/kittclouds/gokitt/internal/recipe"
)

// Store is the SQLite-backed object store and versioned-object layer.
// A single RWMutex guards the version-chain CAS loop; SQLite itself
// serializes concurrent writers at the connection level.
type Store struct {
	mu       sync.RWMutex
	db       *sql.DB
	registry *recipe.Registry
	log      *slog.Logger

	// chainLocks serializes version-chain advances per IdHash (§5:
	// "version chain advances are serialized per IdHash").
	chainLocks   sync.Map // map[string]*sync.Mutex
}

// New opens (or creates) a store at dsn using the pure-Go SQLite driver.
// Use ":memory:" for ephemeral stores (tests) or a file path for a
// persistent daemon.
func New(dsn string, reg *recipe.Registry, log *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Store{db: db, registry: reg, log: log}, nil
}

// DB exposes the underlying connection for sibling packages (channel,
// access, secretconfig) that need to share the same SQLite database file
// without duplicating the object-store/versioned-layer plumbing.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func (s *Store) chainLock(id IdHash) *sync.Mutex {
	v, _ := s.chainLocks.LoadOrStore(id.String(), &sync.Mutex{})
	return v.(*sync.Mutex)
}

// withReadRetry retries transient I/O failures on reads up to twice with
// jittered backoff (§4.3, §7) -- it never retries ValidationError/NotFound,
// only genuine I/O errors surfaced by the driver.
func withReadRetry(ctx context.Context, log *slog.Logger, op func() error) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := op()
		if err == sql.ErrNoRows {
			return backoff.Permanent(err)
		}
		if err != nil && attempt > 1 {
			log.Warn("store: retrying transient read failure", "attempt", attempt, "cause", err)
		}
		return err
	}, policy)
}

// quarantine moves a corrupted content hash aside per §7: fatal
// InvalidEncoding on read is never auto-discarded, only logged and parked.
func (s *Store) quarantine(hash ContentHash, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT OR REPLACE INTO quarantine (content_hash, reason, quarantined_at) VALUES (?, ?, ?)`,
		hash.String(), reason, time.Now().UnixMilli())
	if err != nil {
		s.log.Error("store: failed to quarantine corrupted hash", "hash", hash.String(), "cause", err)
		return
	}
	s.log.Error("store: quarantined corrupted object", "hash", hash.String(), "reason", reason)
}

func notFound(hash Hash) error {
	return errs.NotFound(hash.String())
}
