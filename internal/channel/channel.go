// Package channel implements the append-only, per-owner, per-topic entry
// log (C5): each channel is a hash-chained linked list, and a logical
// topic is the union of every channel sharing its topicId.
package channel

import (
	"context"
	"database/sql"
	"sort"

	"github.com/kittclouds/gokitt/internal/canon"
	"github.com/kittclouds/gokitt/internal/errs"
	"github.com/kittclouds/gokitt/internal/store"
)

// Entry is one link in a channel's hash chain. All four fields participate
// in its identity, per §3: an Entry's hash is entirely determined by its
// position and payload, nothing more.
type Entry struct {
	Hash           store.Hash
	TopicID        string
	OwnerID        string // "" for the shared 1:1 channel
	PreviousEntry  store.Hash
	DataHash       store.ContentHash
	CreationTime   int64
}

// Log wraps a *store.Store with the channel/entry operations.
type Log struct {
	s *store.Store
}

func New(s *store.Store) *Log { return &Log{s: s} }

func entryHash(topicID, ownerID string, previous, data store.Hash, creationTime int64) (store.Hash, error) {
	v := canon.Object(
		canon.F("topicId", canon.Str(topicID)),
		canon.F("ownerId", canon.Str(ownerID)),
		canon.F("previousEntry", canon.Ref(previous)),
		canon.F("dataHash", canon.Ref(data)),
		canon.F("creationTime", canon.Int(creationTime)),
	)
	h, err := canon.Hash(v)
	return store.Hash(h), err
}

// Append builds an Entry on top of the channel's current head, CASing the
// head from old to new. ownerID is "" for the canonical shared 1:1 channel.
func (l *Log) Append(ctx context.Context, topicID, ownerID string, dataHash store.ContentHash, creationTime int64) (store.Hash, error) {
	db := l.s.DB()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return store.Hash{}, errs.ComputationError(err)
	}
	defer tx.Rollback()

	var headHex string
	err = tx.QueryRowContext(ctx,
		`SELECT head_entry FROM channels WHERE topic_id = ? AND owner_id = ?`, topicID, ownerID,
	).Scan(&headHex)
	var head store.Hash
	if err == sql.ErrNoRows {
		head = store.Hash{}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO channels (topic_id, owner_id, head_entry, entry_count) VALUES (?, ?, '', 0)`,
			topicID, ownerID); err != nil {
			return store.Hash{}, errs.ComputationError(err)
		}
	} else if err != nil {
		return store.Hash{}, errs.ComputationError(err)
	} else if headHex != "" {
		head, err = store.HashFromHex(headHex)
		if err != nil {
			return store.Hash{}, errs.InvalidEncoding("corrupt channel head")
		}
	}

	newHash, err := entryHash(topicID, ownerID, head, dataHash, creationTime)
	if err != nil {
		return store.Hash{}, err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO entries (entry_hash, topic_id, owner_id, previous_entry, data_hash, creation_time) VALUES (?, ?, ?, ?, ?, ?)`,
		newHash.String(), topicID, ownerID, head.String(), dataHash.String(), creationTime); err != nil {
		return store.Hash{}, errs.ComputationError(err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE channels SET head_entry = ?, entry_count = entry_count + 1 WHERE topic_id = ? AND owner_id = ? AND head_entry = ?`,
		newHash.String(), topicID, ownerID, head.String())
	if err != nil {
		return store.Hash{}, errs.ComputationError(err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		// Another writer advanced the head between our read and this CAS.
		return store.Hash{}, errs.StaleWrite(topicID + "/" + ownerID)
	}

	if err := tx.Commit(); err != nil {
		return store.Hash{}, errs.ComputationError(err)
	}
	return newHash, nil
}

// Iter walks a single channel backward from its head, head-first.
func (l *Log) Iter(ctx context.Context, topicID, ownerID string) ([]Entry, error) {
	rows, err := l.s.DB().QueryContext(ctx,
		`SELECT entry_hash, previous_entry, data_hash, creation_time FROM entries
		 WHERE topic_id = ? AND owner_id = ? ORDER BY creation_time DESC`, topicID, ownerID)
	if err != nil {
		return nil, errs.ComputationError(err)
	}
	defer rows.Close()
	return scanEntries(rows, topicID, ownerID)
}

// MultiIter aggregates every channel sharing topicID, ordered by
// (creationTime desc, entryHash) for a deterministic tie-break -- this is
// the union of each channel's Iter(), not a per-channel merge, since
// cross-channel order has no other meaning (§4.5).
func (l *Log) MultiIter(ctx context.Context, topicID string) ([]Entry, error) {
	rows, err := l.s.DB().QueryContext(ctx,
		`SELECT entry_hash, owner_id, previous_entry, data_hash, creation_time FROM entries WHERE topic_id = ?`,
		topicID)
	if err != nil {
		return nil, errs.ComputationError(err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var hashHex, owner, prevHex, dataHex string
		var ct int64
		if err := rows.Scan(&hashHex, &owner, &prevHex, &dataHex, &ct); err != nil {
			return nil, errs.ComputationError(err)
		}
		e, err := buildEntry(topicID, owner, hashHex, prevHex, dataHex, ct)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.ComputationError(err)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreationTime != out[j].CreationTime {
			return out[i].CreationTime > out[j].CreationTime
		}
		return out[i].Hash.String() > out[j].Hash.String()
	})
	return out, nil
}

func scanEntries(rows *sql.Rows, topicID, ownerID string) ([]Entry, error) {
	var out []Entry
	for rows.Next() {
		var hashHex, prevHex, dataHex string
		var ct int64
		if err := rows.Scan(&hashHex, &prevHex, &dataHex, &ct); err != nil {
			return nil, errs.ComputationError(err)
		}
		e, err := buildEntry(topicID, ownerID, hashHex, prevHex, dataHex, ct)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func buildEntry(topicID, ownerID, hashHex, prevHex, dataHex string, ct int64) (Entry, error) {
	h, err := store.HashFromHex(hashHex)
	if err != nil {
		return Entry{}, errs.InvalidEncoding("corrupt entry hash")
	}
	var prev store.Hash
	if prevHex != "" {
		prev, err = store.HashFromHex(prevHex)
		if err != nil {
			return Entry{}, errs.InvalidEncoding("corrupt previous-entry hash")
		}
	}
	data, err := store.HashFromHex(dataHex)
	if err != nil {
		return Entry{}, errs.InvalidEncoding("corrupt data hash")
	}
	return Entry{
		Hash:          h,
		TopicID:       topicID,
		OwnerID:       ownerID,
		PreviousEntry: prev,
		DataHash:      data,
		CreationTime:  ct,
	}, nil
}
