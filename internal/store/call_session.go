package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CallSession is the durable record of one phone call. It is created on the
// first webhook for a call SID and retained as call history after the call
// ends; it is never physically deleted.
type CallSession struct {
	ID         uuid.UUID `db:"id" json:"id"`
	CallSID    string    `db:"call_sid" json:"call_sid"`
	ToNumber   string    `db:"to_number" json:"to_number"`
	FromNumber string    `db:"from_number" json:"from_number"`
	Status     string    `db:"status" json:"status"`
	TurnCount  int       `db:"turn_count" json:"turn_count"`
	StartedAt  time.Time `db:"started_at" json:"started_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

const (
	CallStatusActive = "active"
	CallStatusClosed = "closed"
	CallStatusFailed = "failed"
)

const sqlEnsureCallSession = `
INSERT INTO call_sessions (call_sid, to_number, from_number, status)
VALUES ($1, $2, $3, 'active')
ON CONFLICT (call_sid) DO UPDATE SET updated_at = now()
RETURNING id, call_sid, to_number, from_number, status, turn_count, started_at, updated_at`

// EnsureCallSession creates the session row on the first webhook for a call
// and is a no-op (beyond touching updated_at) on every later one.
func (s *Store) EnsureCallSession(ctx context.Context, callSID, to, from string) (CallSession, error) {
	var session CallSession
	err := s.db.GetContext(ctx, &session, sqlEnsureCallSession, callSID, to, from)
	if err != nil {
		s.logger.Error(ctx, "failed to ensure call session", err)
		return CallSession{}, fmt.Errorf("failed to ensure call session: %w", err)
	}
	return session, nil
}

const sqlGetCallSessionBySID = `
SELECT id, call_sid, to_number, from_number, status, turn_count, started_at, updated_at
FROM call_sessions WHERE call_sid = $1`

func (s *Store) GetCallSession(ctx context.Context, callSID string) (CallSession, error) {
	var session CallSession
	err := s.db.GetContext(ctx, &session, sqlGetCallSessionBySID, callSID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallSession{}, ErrNotFound
		}
		s.logger.Error(ctx, "failed to get call session", err)
		return CallSession{}, fmt.Errorf("failed to get call session: %w", err)
	}
	return session, nil
}

const sqlListCallSessions = `
SELECT id, call_sid, to_number, from_number, status, turn_count, started_at, updated_at
FROM call_sessions ORDER BY started_at DESC LIMIT $1`

func (s *Store) ListCallSessions(ctx context.Context, limit int) ([]CallSession, error) {
	var sessions []CallSession
	err := s.db.SelectContext(ctx, &sessions, sqlListCallSessions, limit)
	if err != nil {
		s.logger.Error(ctx, "failed to list call sessions", err)
		return nil, fmt.Errorf("failed to list call sessions: %w", err)
	}
	return sessions, nil
}

const sqlUpdateCallSessionStatus = `
UPDATE call_sessions SET status = $1, updated_at = now() WHERE call_sid = $2`

func (s *Store) UpdateCallSessionStatus(ctx context.Context, callSID, status string) error {
	result, err := s.db.ExecContext(ctx, sqlUpdateCallSessionStatus, status, callSID)
	if err != nil {
		s.logger.Error(ctx, "failed to update call session status", err)
		return fmt.Errorf("failed to update call session status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		s.logger.Error(ctx, "failed to get rows affected", err)
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}
