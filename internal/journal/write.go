package journal

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/deltaview/internal/model"
)

// Session describes one subscription run.
type Session struct {
	ID            string
	Source        string   // transport name, e.g. "graphql-ws" or "nats"
	Workflows     []string // subscribed workflow ids, empty for all
	EngineVersion string
}

// Entry is one journaled delta message.
type Entry struct {
	SessionID string
	Seq       int64
	Digest    string
	Delta     model.Delta
}

// StartSession records a new session.
// Uses ON CONFLICT(id) DO NOTHING so starting the same session twice is a
// no-op.
func (j *Journal) StartSession(ctx context.Context, s Session) error {
	workflows := slices.Clone(s.Workflows)
	if workflows == nil {
		workflows = []string{}
	}
	workflowsJSON, err := model.MarshalCanonical(workflows)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO sessions (id, source, workflows, engine_version)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		s.ID,
		s.Source,
		string(workflowsJSON),
		s.EngineVersion,
	)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	return nil
}

// AppendDelta stores one message of a session under its seq.
// Returns whether a new row was written: a second append with the same
// (session, seq) is silently ignored.
//
// The session must exist (foreign key constraint).
func (j *Journal) AppendDelta(ctx context.Context, sessionID string, seq int64, d model.Delta) (bool, error) {
	payload, err := model.EncodeDelta(d)
	if err != nil {
		return false, fmt.Errorf("append delta: %w", err)
	}
	digest, err := model.DeltaDigest(d)
	if err != nil {
		return false, fmt.Errorf("append delta: %w", err)
	}

	result, err := j.db.ExecContext(ctx, `
		INSERT INTO deltas (session_id, seq, digest, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id, seq) DO NOTHING
	`,
		sessionID,
		seq,
		digest,
		string(payload),
	)
	if err != nil {
		return false, fmt.Errorf("append delta: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("append delta: rows affected: %w", err)
	}
	return n > 0, nil
}
