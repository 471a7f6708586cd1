package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/deltaview/internal/model"
)

// ErrSessionNotFound is returned when a session id is not in the journal.
var ErrSessionNotFound = errors.New("session not found")

// ListSessions returns every session ordered by id. Session ids are UUIDv7,
// so id order is creation order.
func (j *Journal) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, source, workflows, engine_version
		FROM sessions
		ORDER BY id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// GetSession returns one session, ErrSessionNotFound if absent.
func (j *Journal) GetSession(ctx context.Context, id string) (Session, error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT id, source, workflows, engine_version
		FROM sessions
		WHERE id = ?
	`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("get session %s: %w", id, ErrSessionNotFound)
	}
	if err != nil {
		return Session{}, err
	}
	return s, nil
}

// LatestSession returns the most recently started session.
func (j *Journal) LatestSession(ctx context.Context) (Session, error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT id, source, workflows, engine_version
		FROM sessions
		ORDER BY id COLLATE BINARY DESC
		LIMIT 1
	`)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("latest session: %w", ErrSessionNotFound)
	}
	if err != nil {
		return Session{}, err
	}
	return s, nil
}

// ReadDeltas returns the messages of a session ordered by seq.
// Each payload's digest is verified; a mismatch is an error.
//
// Returns an empty slice (not nil) if the session has no messages.
func (j *Journal) ReadDeltas(ctx context.Context, sessionID string) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT session_id, seq, digest, payload
		FROM deltas
		WHERE session_id = ?
		ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query deltas: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e       Entry
			payload string
		)
		if err := rows.Scan(&e.SessionID, &e.Seq, &e.Digest, &payload); err != nil {
			return nil, fmt.Errorf("scan delta: %w", err)
		}
		e.Delta, err = model.DecodeDelta([]byte(payload))
		if err != nil {
			return nil, fmt.Errorf("delta seq %d: %w", e.Seq, err)
		}
		digest, err := model.DeltaDigest(e.Delta)
		if err != nil {
			return nil, fmt.Errorf("delta seq %d: %w", e.Seq, err)
		}
		if digest != e.Digest {
			return nil, fmt.Errorf("delta seq %d: digest mismatch: stored %s, computed %s", e.Seq, e.Digest, digest)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deltas: %w", err)
	}
	return entries, nil
}

// LastSeq returns the highest seq journaled for a session, 0 if none.
func (j *Journal) LastSeq(ctx context.Context, sessionID string) (int64, error) {
	var seq sql.NullInt64
	err := j.db.QueryRowContext(ctx, `
		SELECT MAX(seq) FROM deltas WHERE session_id = ?
	`, sessionID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq.Int64, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (Session, error) {
	var (
		s         Session
		workflows string
	)
	if err := row.Scan(&s.ID, &s.Source, &workflows, &s.EngineVersion); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, err
		}
		return Session{}, fmt.Errorf("scan session: %w", err)
	}
	if err := json.Unmarshal([]byte(workflows), &s.Workflows); err != nil {
		return Session{}, fmt.Errorf("session %s: decode workflows: %w", s.ID, err)
	}
	return s, nil
}
