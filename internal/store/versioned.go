package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kittclouds/gokitt/internal/errs"
	"github.com/kittclouds/gokitt/internal/recipe"
)

// PutVersionedResult mirrors the external put_versioned(...) contract.
type PutVersionedResult struct {
	IDHash      IdHash
	VersionHash ContentHash
	Unchanged   bool
}

// PutVersioned implements §4.4: compute id/content hash, short-circuit if
// unchanged, otherwise chain a new version onto the IdHash's history and
// advance its current pointer. Concurrent writers racing on the same
// previousVersion are resolved by a bounded CAS retry (up to 3 retries
// after the first attempt) before surfacing StaleWrite.
func (s *Store) PutVersioned(ctx context.Context, recipeName string, obj recipe.Object) (*PutVersionedResult, error) {
	id, err := s.registry.IDHash(recipeName, obj)
	if err != nil {
		return nil, err
	}

	lock := s.chainLock(id)
	lock.Lock()
	defer lock.Unlock()

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	var result *PutVersionedResult
	attempt := 0
	retryErr := backoff.Retry(func() error {
		attempt++
		r, err := s.tryPutVersioned(ctx, recipeName, obj, id)
		if err != nil {
			if attempt >= 4 {
				return backoff.Permanent(err)
			}
			if _, stale := asStaleWrite(err); stale {
				return err // retryable
			}
			return backoff.Permanent(err)
		}
		result = r
		return nil
	}, policy)
	if retryErr != nil {
		if _, stale := asStaleWrite(retryErr); stale {
			return nil, errs.StaleWrite(id.String())
		}
		return nil, retryErr
	}
	return result, nil
}

func asStaleWrite(err error) (*errs.E, bool) {
	e, ok := err.(*errs.E)
	if !ok {
		return nil, false
	}
	return e, e.Kind == errs.KindStaleWrite
}

func (s *Store) tryPutVersioned(ctx context.Context, recipeName string, obj recipe.Object, id IdHash) (*PutVersionedResult, error) {
	if err := s.registry.Validate(recipeName, obj); err != nil {
		return nil, err
	}

	var currentSeq int64
	var currentContentHex string
	s.mu.RLock()
	err := s.db.QueryRowContext(ctx,
		`SELECT seq, content_hash FROM versions WHERE id_hash = ? AND is_current = 1`, id.String(),
	).Scan(&currentSeq, &currentContentHex)
	s.mu.RUnlock()

	hasCurrent := err == nil
	if err != nil && err != sql.ErrNoRows {
		return nil, errs.ComputationError(err)
	}

	if hasCurrent {
		currentContent, err := HashFromHex(currentContentHex)
		if err != nil {
			return nil, errs.InvalidEncoding("corrupt content hash in version chain")
		}
		// The write is unchanged when obj, carrying the current version's
		// own previousVersion link, hashes to the current content hash.
		curRec, err := s.Get(ctx, currentContent)
		if err != nil {
			return nil, err
		}
		same := cloneObj(obj)
		same["previousVersion"] = curRec.Obj["previousVersion"]
		_, sameContent, err := s.registry.EncodeAndHash(recipeName, same)
		if err != nil {
			return nil, err
		}
		if sameContent == currentContent {
			return &PutVersionedResult{IDHash: id, VersionHash: currentContent, Unchanged: true}, nil
		}
		// Otherwise set previousVersion so the new content hash reflects
		// the chain link.
		chained := cloneObj(obj)
		chained["previousVersion"] = [32]byte(currentContent)
		obj = chained
	}

	contentHash, err := s.Put(ctx, recipeName, obj)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Re-check current under the write lock: if another writer advanced
	// the chain between our read and this write, our previousVersion is
	// stale and the caller must retry.
	var latestSeq int64
	var latestContentHex string
	checkErr := s.db.QueryRowContext(ctx,
		`SELECT seq, content_hash FROM versions WHERE id_hash = ? AND is_current = 1`, id.String(),
	).Scan(&latestSeq, &latestContentHex)
	if checkErr != nil && checkErr != sql.ErrNoRows {
		return nil, errs.ComputationError(checkErr)
	}
	observedCurrent := hasCurrent
	if observedCurrent && (checkErr == sql.ErrNoRows || latestContentHex != currentContentHex) {
		return nil, errs.StaleWrite(id.String())
	}
	if !observedCurrent && checkErr == nil {
		return nil, errs.StaleWrite(id.String())
	}

	newSeq := latestSeq + 1
	now := time.Now().UnixMilli()
	if _, err := s.db.ExecContext(ctx,
		`UPDATE versions SET is_current = 0 WHERE id_hash = ? AND is_current = 1`, id.String()); err != nil {
		return nil, errs.ComputationError(err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO versions (id_hash, seq, content_hash, recipe_name, created_at, is_current) VALUES (?, ?, ?, ?, ?, 1)`,
		id.String(), newSeq, contentHash.String(), recipeName, now); err != nil {
		return nil, errs.ComputationError(err)
	}

	return &PutVersionedResult{IDHash: id, VersionHash: contentHash, Unchanged: false}, nil
}

func cloneObj(obj recipe.Object) recipe.Object {
	out := make(recipe.Object, len(obj)+1)
	for k, v := range obj {
		out[k] = v
	}
	return out
}

// GetCurrent returns the latest version of the entity identified by id.
func (s *Store) GetCurrent(ctx context.Context, id IdHash) (*Record, error) {
	s.mu.RLock()
	var contentHex string
	err := s.db.QueryRowContext(ctx,
		`SELECT content_hash FROM versions WHERE id_hash = ? AND is_current = 1`, id.String(),
	).Scan(&contentHex)
	s.mu.RUnlock()
	if err == sql.ErrNoRows {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, errs.ComputationError(err)
	}
	hash, err := HashFromHex(contentHex)
	if err != nil {
		return nil, errs.InvalidEncoding("corrupt content hash in version chain")
	}
	return s.Get(ctx, hash)
}

// GetVersion returns version n (1-based) in the history of id.
func (s *Store) GetVersion(ctx context.Context, id IdHash, n int64) (*Record, error) {
	s.mu.RLock()
	var contentHex string
	err := s.db.QueryRowContext(ctx,
		`SELECT content_hash FROM versions WHERE id_hash = ? AND seq = ?`, id.String(), n,
	).Scan(&contentHex)
	s.mu.RUnlock()
	if err == sql.ErrNoRows {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, errs.ComputationError(err)
	}
	hash, err := HashFromHex(contentHex)
	if err != nil {
		return nil, errs.InvalidEncoding("corrupt content hash in version chain")
	}
	return s.Get(ctx, hash)
}

// VersionMeta is one row of a version chain's index, without the blob
// payload -- enough for retention/pruning decisions.
type VersionMeta struct {
	Seq         int64
	ContentHash ContentHash
	CreatedAt   int64
	IsCurrent   bool
}

// ListVersionMeta returns every version's index row for id, oldest first.
func (s *Store) ListVersionMeta(ctx context.Context, id IdHash) ([]VersionMeta, error) {
	s.mu.RLock()
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, content_hash, created_at, is_current FROM versions WHERE id_hash = ? ORDER BY seq ASC`,
		id.String())
	s.mu.RUnlock()
	if err != nil {
		return nil, errs.ComputationError(err)
	}
	defer rows.Close()

	var out []VersionMeta
	for rows.Next() {
		var m VersionMeta
		var contentHex string
		var isCurrent int
		if err := rows.Scan(&m.Seq, &contentHex, &m.CreatedAt, &isCurrent); err != nil {
			return nil, errs.ComputationError(err)
		}
		m.IsCurrent = isCurrent != 0
		hash, err := HashFromHex(contentHex)
		if err != nil {
			return nil, errs.InvalidEncoding("corrupt content hash in version chain")
		}
		m.ContentHash = hash
		out = append(out, m)
	}
	return out, rows.Err()
}

// PruneVersions deletes every non-current version row of id whose seq is
// not in keep, along with its blob if no other version row still
// references it. The current row is never removed by this call.
func (s *Store) PruneVersions(ctx context.Context, id IdHash, keep map[int64]bool) error {
	metas, err := s.ListVersionMeta(ctx, id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range metas {
		if m.IsCurrent || keep[m.Seq] {
			continue
		}
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM versions WHERE id_hash = ? AND seq = ?`, id.String(), m.Seq); err != nil {
			return errs.ComputationError(err)
		}
		var stillReferenced int
		if err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM versions WHERE content_hash = ?`, m.ContentHash.String(),
		).Scan(&stillReferenced); err != nil {
			return errs.ComputationError(err)
		}
		if stillReferenced == 0 {
			if _, err := s.db.ExecContext(ctx,
				`DELETE FROM blobs WHERE content_hash = ?`, m.ContentHash.String()); err != nil {
				return errs.ComputationError(err)
			}
		}
	}
	return nil
}

// History returns every version of id, oldest first.
func (s *Store) History(ctx context.Context, id IdHash) ([]*Record, error) {
	s.mu.RLock()
	rows, err := s.db.QueryContext(ctx,
		`SELECT content_hash FROM versions WHERE id_hash = ? ORDER BY seq ASC`, id.String())
	s.mu.RUnlock()
	if err != nil {
		return nil, errs.ComputationError(err)
	}
	defer rows.Close()

	var hexes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, errs.ComputationError(err)
		}
		hexes = append(hexes, h)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.ComputationError(err)
	}
	if len(hexes) == 0 {
		return nil, notFound(id)
	}

	out := make([]*Record, 0, len(hexes))
	for _, h := range hexes {
		hash, err := HashFromHex(h)
		if err != nil {
			return nil, errs.InvalidEncoding("corrupt content hash in version chain")
		}
		rec, err := s.Get(ctx, hash)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
