package proposal

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/kittclouds/gokitt/internal/topicanalysis"
)

// embeddingDim is the fixed width of the hashed bag-of-keywords vector fed
// to the vec0 ANN prefilter (§4.7a). It never changes the ranking, only
// which candidates reach the exact Jaccard scorer.
const embeddingDim = 64

// hashEmbed turns a keyword set into a deterministic, L2-normalized
// bag-of-keywords vector: each keyword hashes into one of embeddingDim
// buckets with a sign derived from a second hash, so semantically
// unrelated keyword sets land far apart under cosine distance while
// identical sets always embed identically.
func hashEmbed(keywords []string) []float32 {
	v := make([]float64, embeddingDim)
	for _, k := range keywords {
		sum := sha256.Sum256([]byte(k))
		bucket := int(sum[0])<<8 | int(sum[1])
		bucket %= embeddingDim
		sign := 1.0
		if sum[2]&1 == 1 {
			sign = -1.0
		}
		v[bucket] += sign
	}
	var norm float64
	for _, x := range v {
		norm += x * x
	}
	norm = math.Sqrt(norm)
	out := make([]float32, embeddingDim)
	if norm == 0 {
		return out
	}
	for i, x := range v {
		out[i] = float32(x / norm)
	}
	return out
}

func vecLiteral(v []float32) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = strconv.FormatFloat(float64(x), 'g', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// prefilterCandidates shortlists the shortlistN candidates whose hashed
// bag-of-keywords embedding is closest (by cosine distance) to curr,
// using a scratch vec0 virtual table that lives for the duration of one
// request. This is a pure optimization (§4.7a): on any setup or query
// error it falls back to scoring every candidate, never to a wrong
// answer.
func prefilterCandidates(ctx context.Context, db *sql.DB, curr []float32, candidates []topicanalysis.SubjectView, shortlistN int) []topicanalysis.SubjectView {
	if len(candidates) <= shortlistN {
		return candidates
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return candidates
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("CREATE VIRTUAL TABLE temp.proposal_prefilter USING vec0(embedding float[%d])", embeddingDim),
	); err != nil {
		return candidates
	}
	defer tx.ExecContext(ctx, "DROP TABLE IF EXISTS temp.proposal_prefilter")

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO temp.proposal_prefilter(rowid, embedding) VALUES (?, ?)")
	if err != nil {
		return candidates
	}
	for i, c := range candidates {
		if _, err := stmt.ExecContext(ctx, i, vecLiteral(hashEmbed(c.Keywords))); err != nil {
			stmt.Close()
			return candidates
		}
	}
	stmt.Close()

	rows, err := tx.QueryContext(ctx,
		"SELECT rowid FROM temp.proposal_prefilter WHERE embedding MATCH ? AND k = ? ORDER BY distance",
		vecLiteral(curr), shortlistN,
	)
	if err != nil {
		return candidates
	}
	defer rows.Close()

	var shortlist []topicanalysis.SubjectView
	for rows.Next() {
		var idx int
		if err := rows.Scan(&idx); err != nil {
			return candidates
		}
		if idx >= 0 && idx < len(candidates) {
			shortlist = append(shortlist, candidates[idx])
		}
	}
	if err := rows.Err(); err != nil || len(shortlist) == 0 {
		return candidates
	}
	return shortlist
}
