package app

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"gridrival/internal/domain"
)

// Service contains the transport-free match use-cases. Every method
// operates on explicit record values and returns the events the caller
// should dispatch; nothing here touches storage or the network.
type Service struct {
	rng *rand.Rand
}

// NewService constructs a Service with provided rng or a time-seeded
// default. Tests inject a fixed-seed rng for reproducible seed draws.
func NewService(rng *rand.Rand) *Service {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Service{rng: rng}
}

var (
	ErrInvalidMode        = errors.New("unknown generation mode")
	ErrUnknownParticipant = errors.New("player not in this match")
	ErrMatchEnded         = errors.New("match already ended")
	ErrSessionEnded       = errors.New("session already ended")
	ErrNotLocalTurn       = errors.New("not this player's turn")
	ErrSubmissionInFlight = errors.New("turn submission already in flight")
	ErrNoSubmission       = errors.New("no submission in flight")
	ErrStaleRecord        = errors.New("stale match record")
	ErrDesyncDetected     = errors.New("pending pieces diverged")
	ErrTransportFailure   = errors.New("transport failure")
	ErrTimeout            = errors.New("turn ceiling exceeded")
)

// DrawSeed produces a fresh 64-bit seed for piece generation.
func (s *Service) DrawSeed() int64 {
	return int64(s.rng.Uint64())
}

// StartMatch builds the initial record for a freshly paired match together
// with the events announcing it. The caller supplies the transport's match
// id and the participant pair in turn order: first takes turn 1.
func (s *Service) StartMatch(matchID string, first, second domain.PlayerRef, mode domain.Mode, now time.Time) (domain.MatchRecord, []Event, error) {
	if !mode.Valid() {
		return domain.MatchRecord{}, nil, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	if matchID == "" {
		return domain.MatchRecord{}, nil, fmt.Errorf("match id required")
	}
	if first.ID == "" || second.ID == "" || first.ID == second.ID {
		return domain.MatchRecord{}, nil, fmt.Errorf("%w: need two distinct players", ErrUnknownParticipant)
	}

	rec := domain.NewMatchRecord(matchID, first, second, mode, s.DrawSeed(), now)

	events := []Event{
		{
			Kind: EventMatchStarted,
			Payload: MatchStartedPayload{
				MatchID:      rec.MatchID,
				PlayerIDs:    []string{first.ID, second.ID},
				Mode:         rec.Mode,
				TurnHolderID: rec.TurnHolderID,
			},
		},
		dealEvent(rec),
	}
	return rec, events, nil
}

// ApplySubmission validates and applies one turn, drawing the next seed.
// A record whose pending set no longer regenerates from its own seed is
// refused with ErrDesyncDetected; the resync ladder must repair it before
// any move can apply. When the applied turn locks a board, the match is
// finalized in the same step so the terminal record and its events go out
// atomically with the turn itself.
func (s *Service) ApplySubmission(current domain.MatchRecord, playerID string, mv domain.Move, after domain.Board, now time.Time) (domain.MatchRecord, []Event, error) {
	if !current.Ended && !ValidateSync(current.PendingPieces[:], current) {
		return domain.MatchRecord{}, nil, fmt.Errorf("%w: pending set does not regenerate for turn %d", ErrDesyncDetected, current.TurnNumber)
	}
	next, err := domain.ApplyTurn(current, playerID, mv, after, s.DrawSeed(), now)
	if err != nil {
		return domain.MatchRecord{}, nil, err
	}

	history := next.Players[next.PlayerIndex(playerID)].MoveHistory
	applied := history[len(history)-1]

	events := []Event{{
		Kind: EventTurnApplied,
		Payload: TurnAppliedPayload{
			MatchID:      next.MatchID,
			PlayerID:     playerID,
			Move:         applied,
			NextHolderID: next.TurnHolderID,
			Record:       next,
		},
	}}

	if next.Players[0].BoardLocked || next.Players[1].BoardLocked {
		final := domain.Finalize(next, lockReason(next), "", 0, 0, now)
		return final, append(events, endEvent(final)), nil
	}

	return next, append(events, dealEvent(next)), nil
}

// Resign ends the match in the opponent's favor with the resignation
// penalty applied to the actor.
func (s *Service) Resign(current domain.MatchRecord, actorID string, now time.Time) (domain.MatchRecord, []Event, error) {
	if current.Ended {
		return domain.MatchRecord{}, nil, ErrMatchEnded
	}
	if !current.IsParticipant(actorID) {
		return domain.MatchRecord{}, nil, fmt.Errorf("%w: %q", ErrUnknownParticipant, actorID)
	}
	final := domain.Finalize(current, domain.EndReasonResignation, actorID, 0, 0, now)
	return final, []Event{endEvent(final)}, nil
}

// Disconnect resolves an abandoned match as a resignation by the
// disconnected side. elapsed against horizon selects the penalty tier: the
// earlier the abandonment, the harder the rate.
func (s *Service) Disconnect(current domain.MatchRecord, actorID string, elapsed, horizon time.Duration, now time.Time) (domain.MatchRecord, []Event, error) {
	if current.Ended {
		return domain.MatchRecord{}, nil, ErrMatchEnded
	}
	if !current.IsParticipant(actorID) {
		return domain.MatchRecord{}, nil, fmt.Errorf("%w: %q", ErrUnknownParticipant, actorID)
	}
	final := domain.Finalize(current, domain.EndReasonDisconnect, actorID, elapsed, horizon, now)
	return final, []Event{endEvent(final)}, nil
}

// Timeout force-ends a match whose turn exceeded the hard ceiling. Both
// sides carry the penalty because neither board can be proven current.
func (s *Service) Timeout(current domain.MatchRecord, now time.Time) (domain.MatchRecord, []Event, error) {
	if current.Ended {
		return domain.MatchRecord{}, nil, ErrMatchEnded
	}
	final := domain.Finalize(current, domain.EndReasonTimeout, "", 0, 0, now)
	return final, []Event{endEvent(final)}, nil
}

func lockReason(rec domain.MatchRecord) domain.EndReason {
	if rec.Players[0].BoardLocked && rec.Players[1].BoardLocked {
		return domain.EndReasonDoubleLockout
	}
	return domain.EndReasonLockout
}

// dealEvent announces the pending set for the record's current turn.
func dealEvent(rec domain.MatchRecord) Event {
	return Event{
		Kind: EventPiecesDealt,
		Payload: PiecesDealtPayload{
			MatchID:    rec.MatchID,
			TurnNumber: rec.TurnNumber,
			HolderID:   rec.TurnHolderID,
			Seed:       rec.RandomSeed,
			Pieces:     rec.PendingPieces[:],
		},
	}
}

// endEvent builds the terminal broadcast for an ended record.
func endEvent(rec domain.MatchRecord) Event {
	return Event{
		Kind: EventMatchEnded,
		Payload: MatchEndedPayload{
			MatchID:   rec.MatchID,
			WinnerID:  rec.WinnerID,
			EndReason: rec.EndReason,
			FinalScores: map[string]int{
				rec.Players[0].PlayerID: rec.Players[0].Score,
				rec.Players[1].PlayerID: rec.Players[1].Score,
			},
			Record: rec,
		},
	}
}
