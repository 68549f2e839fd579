package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// Turn is one utterance-and-reply exchange within a call. Turns are immutable
// once appended and ordered by sequence_number, which is strictly increasing
// per call SID.
type Turn struct {
	ID             uuid.UUID `db:"id" json:"id"`
	CallSID        string    `db:"call_sid" json:"call_sid"`
	SequenceNumber int       `db:"sequence_number" json:"sequence_number"`
	RecordingSID   string    `db:"recording_sid" json:"recording_sid"`
	RecordingURL   string    `db:"recording_url" json:"recording_url"`
	CallerText     string    `db:"caller_text" json:"caller_text"`
	AgentText      string    `db:"agent_text" json:"agent_text"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// AppendTurnParams carries everything needed to persist one completed turn.
type AppendTurnParams struct {
	CallSID      string
	RecordingSID string
	RecordingURL string
	CallerText   string
	AgentText    string
}

const sqlAppendTurn = `
INSERT INTO turns (call_sid, sequence_number, recording_sid, recording_url, caller_text, agent_text)
SELECT $1, COALESCE(MAX(sequence_number), 0) + 1, $2, $3, $4, $5
FROM turns WHERE call_sid = $1
ON CONFLICT (call_sid, recording_sid) DO NOTHING
RETURNING id, call_sid, sequence_number, recording_sid, recording_url, caller_text, agent_text, created_at`

const sqlBumpTurnCount = `
UPDATE call_sessions SET turn_count = turn_count + 1, updated_at = now() WHERE call_sid = $1`

const appendRetries = 3

// AppendTurn atomically appends a turn with the next sequence number for the
// call. The sequence is computed and inserted in a single statement, and the
// unique index on (call_sid, sequence_number) makes the append safe under
// concurrent webhooks for the same call: a loser of the race recomputes and
// retries. A replayed recording SID hits the (call_sid, recording_sid) index
// instead and returns the already-stored turn with inserted=false, so a
// duplicate webhook never produces a second turn for the same utterance.
func (s *Store) AppendTurn(ctx context.Context, params AppendTurnParams) (Turn, bool, error) {
	var lastErr error
	for attempt := 0; attempt <= appendRetries; attempt++ {
		var turn Turn
		err := s.db.GetContext(ctx, &turn, sqlAppendTurn,
			params.CallSID, params.RecordingSID, params.RecordingURL, params.CallerText, params.AgentText)
		if err == nil {
			if _, err := s.db.ExecContext(ctx, sqlBumpTurnCount, params.CallSID); err != nil {
				s.logger.Error(ctx, "failed to bump turn count", err)
			}
			return turn, true, nil
		}
		if errors.Is(err, sql.ErrNoRows) {
			// Recording already appended: duplicate delivery.
			existing, err := s.FindTurnByRecording(ctx, params.CallSID, params.RecordingSID)
			if err != nil {
				return Turn{}, false, err
			}
			return existing, false, nil
		}
		if isUniqueViolation(err) {
			// Lost the sequence race to a concurrent append; recompute.
			lastErr = err
			continue
		}
		s.logger.Error(ctx, "failed to append turn", err)
		return Turn{}, false, fmt.Errorf("failed to append turn: %w", err)
	}
	s.logger.Error(ctx, "failed to append turn after retries", lastErr)
	return Turn{}, false, fmt.Errorf("failed to append turn after retries: %w", lastErr)
}

const sqlFindTurnByRecording = `
SELECT id, call_sid, sequence_number, recording_sid, recording_url, caller_text, agent_text, created_at
FROM turns WHERE call_sid = $1 AND recording_sid = $2`

// FindTurnByRecording looks up a turn by its recording SID, used to detect
// replayed webhooks before any pipeline work is done.
func (s *Store) FindTurnByRecording(ctx context.Context, callSID, recordingSID string) (Turn, error) {
	var turn Turn
	err := s.db.GetContext(ctx, &turn, sqlFindTurnByRecording, callSID, recordingSID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Turn{}, ErrNotFound
		}
		s.logger.Error(ctx, "failed to find turn by recording", err)
		return Turn{}, fmt.Errorf("failed to find turn by recording: %w", err)
	}
	return turn, nil
}

const sqlListTurnsByCallSID = `
SELECT id, call_sid, sequence_number, recording_sid, recording_url, caller_text, agent_text, created_at
FROM turns WHERE call_sid = $1 ORDER BY sequence_number ASC`

// ListTurns returns all turns for a call in sequence order. This is how the
// dialogue context is reconstructed on every webhook.
func (s *Store) ListTurns(ctx context.Context, callSID string) ([]Turn, error) {
	var turns []Turn
	err := s.db.SelectContext(ctx, &turns, sqlListTurnsByCallSID, callSID)
	if err != nil {
		s.logger.Error(ctx, "failed to list turns", err)
		return nil, fmt.Errorf("failed to list turns: %w", err)
	}
	return turns, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
