package app

import (
	"fmt"
	"time"

	"gridrival/internal/domain"
)

// SessionState is one device's position in the turn state machine.
type SessionState string

const (
	StateWaitingForOpponent SessionState = "waiting_for_opponent"
	StateMyTurn             SessionState = "my_turn"
	StateSubmittingTurn     SessionState = "submitting_turn"
	StateEnded              SessionState = "ended"
)

// Session tracks the local player's view of one match: the current record,
// the turn state machine, and the pre-submission snapshot used to roll a
// failed submission back. Not safe for concurrent use; each match is a
// single logical thread of control per device, with SubmittingTurn acting
// as the mutex that serializes submissions.
type Session struct {
	PlayerID      string
	State         SessionState
	Record        domain.MatchRecord
	AttemptID     string
	TurnStartedAt time.Time

	snapshot *domain.MatchRecord
}

// NewSession derives the initial state from who holds the turn in rec.
func NewSession(playerID string, rec domain.MatchRecord, now time.Time) (*Session, error) {
	if !rec.IsParticipant(playerID) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownParticipant, playerID)
	}
	return &Session{
		PlayerID:      playerID,
		State:         stateFor(playerID, rec),
		Record:        rec,
		TurnStartedAt: now,
	}, nil
}

func stateFor(playerID string, rec domain.MatchRecord) SessionState {
	switch {
	case rec.Ended:
		return StateEnded
	case rec.TurnHolderID == playerID:
		return StateMyTurn
	default:
		return StateWaitingForOpponent
	}
}

// BeginSubmit enters SubmittingTurn with the applied record, keeping the
// previous record as the rollback point. The attempt id ties the eventual
// acknowledgement or failure back to this submission; a second call while
// one attempt is outstanding fails.
func (s *Session) BeginSubmit(attemptID string, applied domain.MatchRecord, now time.Time) error {
	switch s.State {
	case StateEnded:
		return ErrSessionEnded
	case StateSubmittingTurn:
		return ErrSubmissionInFlight
	case StateWaitingForOpponent:
		return ErrNotLocalTurn
	}
	snap := s.Record.Clone()
	s.snapshot = &snap
	s.Record = applied
	s.AttemptID = attemptID
	s.State = StateSubmittingTurn
	return nil
}

// CompleteSubmit resolves the in-flight attempt on transport
// acknowledgement. The session moves to WaitingForOpponent, or to Ended
// when the applied turn finished the match.
func (s *Session) CompleteSubmit(attemptID string, now time.Time) error {
	if s.State != StateSubmittingTurn {
		return ErrNoSubmission
	}
	if s.AttemptID != attemptID {
		return fmt.Errorf("%w: attempt %q is not the outstanding %q", ErrNoSubmission, attemptID, s.AttemptID)
	}
	s.snapshot = nil
	s.AttemptID = ""
	s.State = stateFor(s.PlayerID, s.Record)
	s.TurnStartedAt = now
	return nil
}

// FailSubmit rolls the record back to the pre-submission snapshot so the
// player can retry or pick a different move.
func (s *Session) FailSubmit(attemptID string) error {
	if s.State != StateSubmittingTurn {
		return ErrNoSubmission
	}
	if s.AttemptID != attemptID {
		return fmt.Errorf("%w: attempt %q is not the outstanding %q", ErrNoSubmission, attemptID, s.AttemptID)
	}
	s.Record = *s.snapshot
	s.snapshot = nil
	s.AttemptID = ""
	s.State = StateMyTurn
	return nil
}

// ReceiveTurn adopts an incoming record. Stale or replayed records are
// rejected with ErrStaleRecord; a record for the same turn with a different
// seed is a seed refresh and is adopted. Arrivals during an in-flight
// submission report ErrSubmissionInFlight so the caller re-delivers after
// the attempt resolves.
func (s *Session) ReceiveTurn(incoming domain.MatchRecord, now time.Time) error {
	if s.State == StateEnded {
		return ErrSessionEnded
	}
	if s.State == StateSubmittingTurn {
		return ErrSubmissionInFlight
	}
	if !incoming.IsParticipant(s.PlayerID) {
		return fmt.Errorf("%w: %q", ErrUnknownParticipant, s.PlayerID)
	}
	if !adoptable(s.Record, incoming) {
		return fmt.Errorf("%w: incoming turn %d does not advance local turn %d", ErrStaleRecord, incoming.TurnNumber, s.Record.TurnNumber)
	}
	s.Record = incoming
	s.State = stateFor(s.PlayerID, incoming)
	s.TurnStartedAt = now
	return nil
}

// adoptable reports whether incoming advances local: a later turn, a seed
// refresh of the same turn, or a terminal record.
func adoptable(local, incoming domain.MatchRecord) bool {
	if incoming.Ended {
		return true
	}
	if incoming.TurnNumber > local.TurnNumber {
		return true
	}
	return incoming.TurnNumber == local.TurnNumber && incoming.RandomSeed != local.RandomSeed
}

// ApplyEnd forces a terminal record in from any state, discarding any
// in-flight attempt.
func (s *Session) ApplyEnd(final domain.MatchRecord) error {
	if !final.Ended {
		return fmt.Errorf("%w: record is not terminal", ErrStaleRecord)
	}
	s.Record = final
	s.snapshot = nil
	s.AttemptID = ""
	s.State = StateEnded
	return nil
}

// SoftDeadline is when the UI starts nudging the turn holder.
func (s *Session) SoftDeadline(limit time.Duration) time.Time {
	return s.TurnStartedAt.Add(limit)
}

// HardDeadline is when the match escalates to a timeout resolution.
func (s *Session) HardDeadline(ceiling time.Duration) time.Time {
	return s.TurnStartedAt.Add(ceiling)
}

// TurnExpired reports whether the record's current turn exceeded the hard
// ceiling. It keys off LastUpdatedAt so the server-side sweeper can
// evaluate stored records without a session.
func TurnExpired(rec domain.MatchRecord, now time.Time, ceiling time.Duration) bool {
	if rec.Ended || ceiling <= 0 {
		return false
	}
	return now.Sub(rec.LastUpdatedAt) > ceiling
}
