// Package access implements Access & Visibility (C8): per-object allow
// sets that govern what the local store exposes to replication, plus the
// dependency-closure walker writers use to grant the full transitive set
// of objects a remote peer needs to resolve something that was shared.
//
// Grants live in their own SQL table rather than as content-addressed
// blobs -- unlike the domain entities, an AccessGrant is consulted by
// identity (objectIdHash, mode), never by content hash, and REPLACE
// semantics require overwriting a row in place rather than appending a
// new version to a chain.
package access

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"

	"github.com/kittclouds/gokitt/internal/errs"
	"github.com/kittclouds/gokitt/internal/recipe"
	"github.com/kittclouds/gokitt/internal/store"
)

// Mode discriminates how a grant combines with whatever else is on file
// for the same object (§4.8).
type Mode string

const (
	ModeAdd     Mode = "ADD"
	ModeReplace Mode = "REPLACE"
)

// Grant is the visibility declaration for one object.
type Grant struct {
	ObjectIDHash string
	Mode         Mode
	Persons      []string
	Groups       []string
}

// Control wraps a *store.Store with the access-grant table and the
// dependency-closure walker.
type Control struct {
	db  *sql.DB
	s   *store.Store
	reg *recipe.Registry
}

func New(s *store.Store, reg *recipe.Registry) *Control {
	return &Control{db: s.DB(), s: s, reg: reg}
}

// GrantAccess records a new grant for objectIDHash. Under ADD, persons and
// groups are unioned into whatever ADD-mode grant already exists for the
// object; under REPLACE, every prior grant (ADD or REPLACE) for the
// object is superseded by exactly this one (§4.8: "REPLACE supersedes all
// prior grants for that object").
func (c *Control) GrantAccess(ctx context.Context, objectIDHash string, persons, groups []string, mode Mode) error {
	if mode != ModeAdd && mode != ModeReplace {
		return errs.Validation("mode", "must be ADD or REPLACE")
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.ComputationError(err)
	}
	defer tx.Rollback()

	if mode == ModeReplace {
		if _, err := tx.ExecContext(ctx, `DELETE FROM grants WHERE object_id_hash = ?`, objectIDHash); err != nil {
			return errs.ComputationError(err)
		}
		if err := upsertGrantRow(ctx, tx, objectIDHash, ModeReplace, persons, groups); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return errs.ComputationError(err)
		}
		return nil
	}

	existing, err := loadGrantRow(ctx, tx, objectIDHash, ModeAdd)
	if err != nil && !isNotFound(err) {
		return err
	}
	merged := Grant{ObjectIDHash: objectIDHash, Mode: ModeAdd, Persons: persons, Groups: groups}
	if err == nil {
		merged.Persons = unionSorted(existing.Persons, persons)
		merged.Groups = unionSorted(existing.Groups, groups)
	} else {
		merged.Persons = unionSorted(nil, persons)
		merged.Groups = unionSorted(nil, groups)
	}
	if err := upsertGrantRow(ctx, tx, objectIDHash, ModeAdd, merged.Persons, merged.Groups); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errs.ComputationError(err)
	}
	return nil
}

// ListGrants returns every grant row on file for objectIDHash.
func (c *Control) ListGrants(ctx context.Context, objectIDHash string) ([]Grant, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT object_id_hash, mode, persons, groups_ FROM grants WHERE object_id_hash = ?`, objectIDHash)
	if err != nil {
		return nil, errs.ComputationError(err)
	}
	defer rows.Close()
	var out []Grant
	for rows.Next() {
		g, err := scanGrant(rows, objectIDHash)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// IsVisibleTo reports whether remotePersonID (or membership in
// remoteGroupIDs) is covered by the grants on file for objectIDHash. A
// REPLACE-mode grant is authoritative and the only row consulted when one
// exists; otherwise every ADD-mode row contributes to the allow-set.
func (c *Control) IsVisibleTo(ctx context.Context, objectIDHash, remotePersonID string, remoteGroupIDs []string) (bool, error) {
	grants, err := c.ListGrants(ctx, objectIDHash)
	if err != nil {
		return false, err
	}
	for _, g := range grants {
		if g.Mode == ModeReplace {
			return grantCovers(g, remotePersonID, remoteGroupIDs), nil
		}
	}
	for _, g := range grants {
		if grantCovers(g, remotePersonID, remoteGroupIDs) {
			return true, nil
		}
	}
	return false, nil
}

func grantCovers(g Grant, personID string, groupIDs []string) bool {
	for _, p := range g.Persons {
		if p == personID {
			return true
		}
	}
	for _, gr := range g.Groups {
		for _, want := range groupIDs {
			if gr == want {
				return true
			}
		}
	}
	return false
}

func upsertGrantRow(ctx context.Context, tx *sql.Tx, objectIDHash string, mode Mode, persons, groups []string) error {
	pj, err := json.Marshal(persons)
	if err != nil {
		return errs.ComputationError(err)
	}
	gj, err := json.Marshal(groups)
	if err != nil {
		return errs.ComputationError(err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO grants (object_id_hash, mode, persons, groups_) VALUES (?, ?, ?, ?)
		 ON CONFLICT(object_id_hash, mode) DO UPDATE SET persons = excluded.persons, groups_ = excluded.groups_`,
		objectIDHash, string(mode), string(pj), string(gj))
	if err != nil {
		return errs.ComputationError(err)
	}
	return nil
}

func loadGrantRow(ctx context.Context, tx *sql.Tx, objectIDHash string, mode Mode) (Grant, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT object_id_hash, mode, persons, groups_ FROM grants WHERE object_id_hash = ? AND mode = ?`,
		objectIDHash, string(mode))
	return scanGrant(row, objectIDHash)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanGrant(row scannable, objectIDHash string) (Grant, error) {
	var g Grant
	var modeStr, pj, gj string
	if err := row.Scan(&g.ObjectIDHash, &modeStr, &pj, &gj); err != nil {
		if err == sql.ErrNoRows {
			return Grant{}, errs.NotFound(objectIDHash)
		}
		return Grant{}, errs.ComputationError(err)
	}
	g.Mode = Mode(modeStr)
	if err := json.Unmarshal([]byte(pj), &g.Persons); err != nil {
		return Grant{}, errs.InvalidEncoding("corrupt persons list in grant")
	}
	if err := json.Unmarshal([]byte(gj), &g.Groups); err != nil {
		return Grant{}, errs.InvalidEncoding("corrupt groups list in grant")
	}
	return g, nil
}

func isNotFound(err error) bool {
	e, ok := err.(*errs.E)
	return ok && e.Kind == errs.KindNotFound
}

func unionSorted(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, s := range a {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
