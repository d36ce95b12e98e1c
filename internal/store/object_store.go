package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/kittclouds/gokitt/internal/errs"
	"github.com/kittclouds/gokitt/internal/recipe"
)

// Record is a stored object together with the recipe it was validated
// against -- enough to re-derive its content hash for a round-trip check.
type Record struct {
	RecipeName string
	Obj        recipe.Object
	Hash       ContentHash
}

// jsonObject is the on-disk representation of a recipe.Object: hash
// references are stored as hex strings (canon.Value only ever needs the
// raw bytes at hash time, but JSON round-tripping needs a textual form).
type jsonObject map[string]any

// Put validates obj against recipeName (C2), canonically encodes and hashes
// it (C1), and writes it if absent (C3). Concurrent puts of identical
// content are safe: whichever wins, both callers observe the same hash.
func (s *Store) Put(ctx context.Context, recipeName string, obj recipe.Object) (ContentHash, error) {
	if err := s.registry.Validate(recipeName, obj); err != nil {
		return ContentHash{}, err
	}
	_, hash, err := s.registry.EncodeAndHash(recipeName, obj)
	if err != nil {
		return ContentHash{}, err
	}

	raw, err := json.Marshal(toJSONObject(obj))
	if err != nil {
		return ContentHash{}, errs.ComputationError(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO blobs (content_hash, object_type, bytes, created_at) VALUES (?, ?, ?, ?)`,
		hash.String(), recipeName, raw, time.Now().UnixMilli())
	if err != nil {
		return ContentHash{}, errs.ComputationError(err)
	}
	return hash, nil
}

// Get fetches the stored object for hash, re-validating it against its own
// recipe on the way out (a cheap corruption check) and quarantining it if
// the stored bytes no longer re-hash to the key they're filed under.
func (s *Store) Get(ctx context.Context, hash ContentHash) (*Record, error) {
	var recipeName string
	var raw []byte
	err := withReadRetry(ctx, s.log, func() error {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.db.QueryRowContext(ctx,
			`SELECT object_type, bytes FROM blobs WHERE content_hash = ?`, hash.String(),
		).Scan(&recipeName, &raw)
	})
	if err == sql.ErrNoRows {
		return nil, notFound(hash)
	}
	if err != nil {
		return nil, errs.ComputationError(err)
	}

	var jo jsonObject
	if err := json.Unmarshal(raw, &jo); err != nil {
		s.quarantine(hash, "corrupt JSON payload: "+err.Error())
		return nil, errs.InvalidEncoding("corrupt stored object")
	}
	obj, err := s.coerce(recipeName, jo)
	if err != nil {
		s.quarantine(hash, "type coercion failed: "+err.Error())
		return nil, errs.InvalidEncoding("stored object fails type coercion")
	}

	_, recomputed, err := s.registry.EncodeAndHash(recipeName, obj)
	if err != nil {
		s.quarantine(hash, "re-encode failed: "+err.Error())
		return nil, errs.InvalidEncoding("stored object fails re-encoding")
	}
	if recomputed != hash {
		s.quarantine(hash, "content hash mismatch on read")
		return nil, errs.InvalidEncoding("stored object hash mismatch")
	}

	return &Record{RecipeName: recipeName, Obj: obj, Hash: hash}, nil
}

// IterByType returns every currently stored object of the given recipe, in
// no particular order. Real "lazy sequence" semantics would stream rows;
// this returns a slice since every caller in this module (maintenance
// sweeps, proposal candidate loading) consumes the whole set anyway.
func (s *Store) IterByType(ctx context.Context, recipeName string) ([]*Record, error) {
	s.mu.RLock()
	rows, err := s.db.QueryContext(ctx,
		`SELECT content_hash, bytes FROM blobs WHERE object_type = ?`, recipeName)
	s.mu.RUnlock()
	if err != nil {
		return nil, errs.ComputationError(err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		var hexHash string
		var raw []byte
		if err := rows.Scan(&hexHash, &raw); err != nil {
			return nil, errs.ComputationError(err)
		}
		hash, err := HashFromHex(hexHash)
		if err != nil {
			continue
		}
		var jo jsonObject
		if err := json.Unmarshal(raw, &jo); err != nil {
			s.quarantine(hash, "corrupt JSON payload: "+err.Error())
			continue
		}
		obj, err := s.coerce(recipeName, jo)
		if err != nil {
			s.quarantine(hash, "type coercion failed: "+err.Error())
			continue
		}
		out = append(out, &Record{RecipeName: recipeName, Obj: obj, Hash: hash})
	}
	return out, rows.Err()
}

// Delete removes a blob. Internal only: never exposed to replication, used
// solely by the maintenance sweep (C10).
func (s *Store) Delete(ctx context.Context, hash ContentHash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM blobs WHERE content_hash = ?`, hash.String())
	if err != nil {
		return errs.ComputationError(err)
	}
	return nil
}

func toJSONObject(obj recipe.Object) jsonObject {
	out := make(jsonObject, len(obj))
	for k, v := range obj {
		switch val := v.(type) {
		case [32]byte:
			out[k] = Hash(val).String()
		case [][32]byte:
			hexes := make([]string, len(val))
			for i, h := range val {
				hexes[i] = Hash(h).String()
			}
			out[k] = hexes
		default:
			out[k] = v
		}
	}
	return out
}

// coerce reverses the lossy JSON round-trip: JSON numbers decode as
// float64 and hash references decode as hex strings, so every field must
// be cast back to the Go type its FieldRule declares before it can be
// re-encoded and re-hashed for the corruption check.
func (s *Store) coerce(recipeName string, jo jsonObject) (recipe.Object, error) {
	rec, err := s.registry.Get(recipeName)
	if err != nil {
		return nil, err
	}
	out := make(recipe.Object, len(jo))
	for _, f := range rec.Rule {
		v, present := jo[f.Name]
		if !present || v == nil {
			continue
		}
		cv, err := coerceField(f, v)
		if err != nil {
			return nil, err
		}
		out[f.Name] = cv
	}
	return out, nil
}

func coerceField(f recipe.FieldRule, v any) (any, error) {
	switch f.Type {
	case recipe.TypeInt:
		n, ok := v.(float64)
		if !ok {
			return nil, errs.InvalidEncoding("expected numeric field " + f.Name)
		}
		return int64(n), nil
	case recipe.TypeFloat:
		n, ok := v.(float64)
		if !ok {
			return nil, errs.InvalidEncoding("expected numeric field " + f.Name)
		}
		return n, nil
	case recipe.TypeString:
		return v, nil
	case recipe.TypeBool:
		return v, nil
	case recipe.TypeRef, recipe.TypeRefID:
		hs, ok := v.(string)
		if !ok {
			return nil, errs.InvalidEncoding("expected hex hash field " + f.Name)
		}
		h, err := HashFromHex(hs)
		if err != nil {
			return nil, errs.InvalidEncoding("malformed hash in field " + f.Name)
		}
		return [32]byte(h), nil
	case recipe.TypeArray, recipe.TypeSet:
		items, ok := v.([]any)
		if !ok {
			return nil, errs.InvalidEncoding("expected collection field " + f.Name)
		}
		switch f.Elem {
		case recipe.TypeString:
			out := make([]string, len(items))
			for i, it := range items {
				out[i], _ = it.(string)
			}
			return out, nil
		case recipe.TypeInt:
			out := make([]int64, len(items))
			for i, it := range items {
				n, _ := it.(float64)
				out[i] = int64(n)
			}
			return out, nil
		case recipe.TypeFloat:
			out := make([]float64, len(items))
			for i, it := range items {
				n, _ := it.(float64)
				out[i] = n
			}
			return out, nil
		case recipe.TypeRef, recipe.TypeRefID:
			out := make([][32]byte, len(items))
			for i, it := range items {
				hs, _ := it.(string)
				h, err := HashFromHex(hs)
				if err != nil {
					return nil, errs.InvalidEncoding("malformed hash in field " + f.Name)
				}
				out[i] = [32]byte(h)
			}
			return out, nil
		default:
			return nil, errs.InvalidEncoding("unsupported collection element type in field " + f.Name)
		}
	default:
		return nil, errs.InvalidEncoding("unsupported field type in field " + f.Name)
	}
}
