package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"gridrival/internal/domain"
	"gridrival/internal/ports"
)

// Coordinator drives the player-facing operations against the external
// collaborators: match transport, identity provider, and the single-player
// engine bridge. It owns no long-lived state of its own; per-match state
// lives in the Session the caller holds.
type Coordinator struct {
	svc       *Service
	transport ports.TransportPort
	identity  ports.IdentityPort
	engine    ports.EngineBridgePort
	horizon   time.Duration
}

// NewCoordinator wires the use-case service to its ports. horizon is the
// hard per-turn ceiling used for timeout escalation; zero disables it.
func NewCoordinator(svc *Service, transport ports.TransportPort, identity ports.IdentityPort, engine ports.EngineBridgePort, horizon time.Duration) *Coordinator {
	return &Coordinator{
		svc:       svc,
		transport: transport,
		identity:  identity,
		engine:    engine,
		horizon:   horizon,
	}
}

// StartResult reports the outcome of a start request. Session is nil while
// the transport is still pairing; the initial record is created by the
// player whose join completes the pair, since only that side sees both ids.
type StartResult struct {
	Session *Session
	Handle  ports.MatchHandle
	Events  []Event
}

// MatchSummary is one entry from the transport's active-match listing.
// Entries that fail to decode carry Err instead of aborting the listing, so
// one corrupt record cannot hide the player's other matches.
type MatchSummary struct {
	MatchID  string
	Record   domain.MatchRecord
	Version  string
	State    SessionState
	Warnings []domain.DecodeWarning
	Err      error
}

// StartMatch pairs the local player into a match with the given mode. When
// the returned handle already names both participants, this side creates
// and stores the initial record; the earlier participant takes turn 1.
func (c *Coordinator) StartMatch(ctx context.Context, mode domain.Mode, now time.Time) (StartResult, error) {
	me, err := c.identity.LocalPlayer(ctx)
	if err != nil {
		return StartResult{}, fmt.Errorf("%w: identity: %v", ErrTransportFailure, err)
	}
	handle, err := c.transport.CreateMatch(ctx, me.ID, string(mode))
	if err != nil {
		return StartResult{}, fmt.Errorf("%w: create match: %v", ErrTransportFailure, err)
	}

	peer := ""
	for _, id := range handle.Participants {
		if id != me.ID {
			peer = id
			break
		}
	}
	if peer == "" {
		return StartResult{Handle: handle}, nil
	}

	// The transport handle carries ids only; the id doubles as the peer's
	// display name until a richer profile source is consulted.
	first := domain.PlayerRef{ID: peer, DisplayName: peer}
	second := domain.PlayerRef{ID: me.ID, DisplayName: me.DisplayName}
	if len(handle.Participants) > 0 && handle.Participants[0] == me.ID {
		first, second = second, first
	}

	rec, events, err := c.svc.StartMatch(handle.MatchID, first, second, mode, now)
	if err != nil {
		return StartResult{}, err
	}

	payload, err := domain.EncodeRecord(rec)
	if err != nil {
		return StartResult{}, err
	}
	if _, err := c.transport.SubmitTurn(ctx, handle.MatchID, payload, "", rec.TurnHolderID); err != nil {
		if errors.Is(err, ports.ErrVersionConflict) {
			// The peer created the record first; load theirs instead.
			return StartResult{Handle: handle}, fmt.Errorf("%w: initial record already exists", ErrStaleRecord)
		}
		return StartResult{}, fmt.Errorf("%w: store initial record: %v", ErrTransportFailure, err)
	}

	sess, err := NewSession(me.ID, rec, now)
	if err != nil {
		return StartResult{}, err
	}
	return StartResult{Session: sess, Handle: handle, Events: events}, nil
}

// LoadMatches lists and decodes the local player's stored matches.
func (c *Coordinator) LoadMatches(ctx context.Context, now time.Time) ([]MatchSummary, error) {
	me, err := c.identity.LocalPlayer(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: identity: %v", ErrTransportFailure, err)
	}
	stored, err := c.transport.ActiveMatches(ctx, me.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: list matches: %v", ErrTransportFailure, err)
	}

	out := make([]MatchSummary, 0, len(stored))
	for _, sm := range stored {
		summary := MatchSummary{MatchID: sm.MatchID, Version: sm.Version}
		rec, warnings, err := domain.DecodeRecord(sm.Payload)
		if err != nil {
			summary.Err = err
		} else {
			summary.Record = rec
			summary.Warnings = warnings
			summary.State = stateFor(me.ID, rec)
		}
		out = append(out, summary)
	}
	return out, nil
}

// ResumeMatch builds a session from a loaded record and pushes the local
// player's stored board back into the puzzle engine.
func (c *Coordinator) ResumeMatch(ctx context.Context, rec domain.MatchRecord, now time.Time) (*Session, error) {
	me, err := c.identity.LocalPlayer(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: identity: %v", ErrTransportFailure, err)
	}
	state, ok := rec.Player(me.ID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownParticipant, me.ID)
	}
	if err := c.engine.RestoreBoard(ctx, state.Board); err != nil {
		return nil, fmt.Errorf("restore board: %w", err)
	}
	return NewSession(me.ID, rec, now)
}

// SubmitTurn runs one full submission: capture the engine's board, apply
// the move, hand the new record to the transport, and resolve the state
// machine. A turn already past the hard ceiling is refused with ErrTimeout
// and goes through CheckTimeout instead; a record whose pending set drifted
// is repaired in place and refused with ErrDesyncDetected so the caller
// re-picks from the corrected set. On failure the session rolls back to the
// pre-submission record; transport errors wrap ErrTransportFailure and are
// retryable, version conflicts wrap ErrStaleRecord and require a reload
// first.
func (c *Coordinator) SubmitTurn(ctx context.Context, sess *Session, mv domain.Move, version string, now time.Time) ([]Event, error) {
	switch sess.State {
	case StateSubmittingTurn:
		return nil, ErrSubmissionInFlight
	case StateEnded:
		return nil, ErrSessionEnded
	case StateWaitingForOpponent:
		return nil, ErrNotLocalTurn
	}
	if TurnExpired(sess.Record, now, c.horizon) {
		return nil, fmt.Errorf("%w: turn %d", ErrTimeout, sess.Record.TurnNumber)
	}

	snapshot, err := c.engine.CaptureBoard(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture board: %w", err)
	}
	mv.ScoreDelta = snapshot.ScoreDelta
	mv.LinesCleared = snapshot.LinesCleared

	next, events, err := c.svc.ApplySubmission(sess.Record, sess.PlayerID, mv, snapshot.Board, now)
	if err != nil {
		if errors.Is(err, ErrDesyncDetected) {
			// The record's pending set no longer derives from its seed;
			// repair the session so the caller re-picks from the
			// corrected set.
			if res, _, rerr := c.svc.Resync(sess.Record, sess.Record.PendingPieces[:], nil, sess.PlayerID, now); rerr == nil && res.Tier != SyncClean {
				sess.Record = res.Record
			}
		}
		return nil, err
	}

	attemptID := uuid.NewString()
	if err := sess.BeginSubmit(attemptID, next, now); err != nil {
		return nil, err
	}

	payload, err := domain.EncodeRecord(next)
	if err != nil {
		_ = sess.FailSubmit(attemptID)
		return nil, err
	}

	if next.Ended {
		err = c.transport.EndMatch(ctx, next.MatchID, payload, version)
	} else {
		_, err = c.transport.SubmitTurn(ctx, next.MatchID, payload, version, next.TurnHolderID)
	}
	if err != nil {
		_ = sess.FailSubmit(attemptID)
		if errors.Is(err, ports.ErrVersionConflict) {
			return nil, fmt.Errorf("%w: concurrent write, reload the match", ErrStaleRecord)
		}
		return nil, fmt.Errorf("%w: submit turn: %v", ErrTransportFailure, err)
	}

	if err := sess.CompleteSubmit(attemptID, now); err != nil {
		return nil, err
	}
	return events, nil
}

// HandleIncomingTurn decodes a relayed record and advances the session.
// Corrupt payloads fail closed with ErrCorruptRecord; stale redeliveries
// are dropped without error; after adoption the pending set is verified
// against its own derivation and any drift runs the resync ladder.
func (c *Coordinator) HandleIncomingTurn(ctx context.Context, sess *Session, payload []byte, now time.Time) ([]Event, error) {
	rec, _, err := domain.DecodeRecord(payload)
	if err != nil {
		return nil, err
	}

	if rec.Ended {
		if err := sess.ApplyEnd(rec); err != nil {
			return nil, err
		}
		return []Event{endEvent(rec)}, nil
	}

	if err := sess.ReceiveTurn(rec, now); err != nil {
		if errors.Is(err, ErrStaleRecord) {
			return nil, nil
		}
		return nil, err
	}

	res, events, err := c.svc.Resync(sess.Record, sess.Record.PendingPieces[:], nil, sess.PlayerID, now)
	if err != nil {
		return nil, err
	}
	if res.Tier != SyncClean {
		sess.Record = res.Record
	}
	return events, nil
}

// Resign ends the match in the opponent's favor and notifies them.
func (c *Coordinator) Resign(ctx context.Context, sess *Session, version string, now time.Time) ([]Event, error) {
	if sess.State == StateEnded {
		return nil, ErrSessionEnded
	}
	final, events, err := c.svc.Resign(sess.Record, sess.PlayerID, now)
	if err != nil {
		return nil, err
	}
	payload, err := domain.EncodeRecord(final)
	if err != nil {
		return nil, err
	}
	if err := c.transport.Resign(ctx, final.MatchID, payload, version, final.OpponentID(sess.PlayerID)); err != nil {
		return nil, fmt.Errorf("%w: resign: %v", ErrTransportFailure, err)
	}
	if err := sess.ApplyEnd(final); err != nil {
		return nil, err
	}
	return events, nil
}

// CheckTimeout escalates the match when its current turn exceeded the hard
// ceiling. Returns no events while the ceiling has not passed.
func (c *Coordinator) CheckTimeout(ctx context.Context, sess *Session, version string, now time.Time) ([]Event, error) {
	if sess.State == StateEnded {
		return nil, ErrSessionEnded
	}
	if !TurnExpired(sess.Record, now, c.horizon) {
		return nil, nil
	}

	final, events, err := c.svc.Timeout(sess.Record, now)
	if err != nil {
		return nil, err
	}
	payload, err := domain.EncodeRecord(final)
	if err != nil {
		return nil, err
	}
	if err := c.transport.EndMatch(ctx, final.MatchID, payload, version); err != nil {
		return nil, fmt.Errorf("%w: end match: %v", ErrTransportFailure, err)
	}
	if err := sess.ApplyEnd(final); err != nil {
		return nil, err
	}
	return events, nil
}
