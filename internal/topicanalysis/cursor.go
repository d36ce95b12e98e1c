package topicanalysis

import (
	"context"
	"database/sql"

	"github.com/kittclouds/gokitt/internal/errs"
)

const cursorSchema = `
CREATE TABLE IF NOT EXISTS topic_analysis_cursors (
    topic_id          TEXT PRIMARY KEY,
    last_analyzed_at  INTEGER NOT NULL DEFAULT 0,
    pending_count     INTEGER NOT NULL DEFAULT 0
);
`

type cursor struct {
	topicID        string
	lastAnalyzedAt int64
	pendingCount   int64
}

func (p *Pipeline) getCursor(ctx context.Context, topicID string) (cursor, error) {
	c := cursor{topicID: topicID}
	err := p.db.QueryRowContext(ctx,
		`SELECT last_analyzed_at, pending_count FROM topic_analysis_cursors WHERE topic_id = ?`, topicID,
	).Scan(&c.lastAnalyzedAt, &c.pendingCount)
	if err == sql.ErrNoRows {
		return c, nil
	}
	if err != nil {
		return cursor{}, errs.ComputationError(err)
	}
	return c, nil
}

func (p *Pipeline) saveCursor(ctx context.Context, c cursor) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO topic_analysis_cursors (topic_id, last_analyzed_at, pending_count) VALUES (?, ?, ?)
		 ON CONFLICT(topic_id) DO UPDATE SET last_analyzed_at = excluded.last_analyzed_at, pending_count = excluded.pending_count`,
		c.topicID, c.lastAnalyzedAt, c.pendingCount)
	if err != nil {
		return errs.ComputationError(err)
	}
	return nil
}

// NotePendingMessage increments the since-last-analysis counter for a
// topic without running analysis; callers use this on every new message
// and consult ShouldTrigger to decide whether to call Analyze.
func (p *Pipeline) NotePendingMessage(ctx context.Context, topicID string) error {
	c, err := p.getCursor(ctx, topicID)
	if err != nil {
		return err
	}
	c.pendingCount++
	return p.saveCursor(ctx, c)
}

// ShouldTrigger reports whether topicID has accumulated triggerN or more
// messages since its last successful analysis.
func (p *Pipeline) ShouldTrigger(ctx context.Context, topicID string) (bool, error) {
	c, err := p.getCursor(ctx, topicID)
	if err != nil {
		return false, err
	}
	return c.pendingCount >= int64(p.triggerN), nil
}
