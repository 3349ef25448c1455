package domain

import (
	"errors"
	"fmt"
	"time"
)

// EndReason classifies how a match reached its terminal state.
type EndReason string

const (
	EndReasonNone          EndReason = ""
	EndReasonDoubleLockout EndReason = "double_lockout"
	EndReasonLockout       EndReason = "lockout"
	EndReasonResignation   EndReason = "resignation"
	EndReasonDisconnect    EndReason = "disconnect"
	EndReasonTimeout       EndReason = "timeout"
)

// Terminal reports whether the reason marks an ended match.
func (r EndReason) Terminal() bool {
	return r != EndReasonNone
}

var (
	// ErrTurnRejected marks a submission that violated a precondition. The
	// move was not applied; the caller must re-derive from the still-current
	// record rather than advance local state.
	ErrTurnRejected = errors.New("turn rejected")
)

// Move records one validated placement. Moves are immutable once created:
// only ever appended to a history, never edited.
type Move struct {
	TurnNumber   int             `json:"turn_number"`
	Piece        PieceDescriptor `json:"piece"`
	Origin       CellRef         `json:"origin"`
	ScoreDelta   int             `json:"score_delta"`
	LinesCleared int             `json:"lines_cleared"`
	PlayedAt     time.Time       `json:"played_at"`
}

// PlayerState is one side's half of a MatchRecord. PlayerID is immutable;
// every other field mutates only as a side effect of a validated turn.
type PlayerState struct {
	PlayerID    string `json:"player_id"`
	DisplayName string `json:"display_name"`
	Score       int    `json:"score"`
	Board       Board  `json:"board"`
	BoardLocked bool   `json:"board_locked"`
	// MoveHistory is append-only and never truncated or reordered; it is
	// the audit trail for resync and dispute resolution.
	MoveHistory []Move `json:"move_history"`
}

// PlayerRef identifies a participant when creating a record.
type PlayerRef struct {
	ID          string
	DisplayName string
}

// MatchRecord is the authoritative, serializable state of one match. Values
// are treated as immutable snapshots: every accepted turn produces a new
// record and the previous value is discarded by the emitting side.
type MatchRecord struct {
	MatchID       string                             `json:"match_id"`
	FormatVersion string                             `json:"format_version"`
	Players       [2]PlayerState                     `json:"players"`
	TurnHolderID  string                             `json:"turn_holder_id"`
	TurnNumber    int                                `json:"turn_number"`
	RandomSeed    int64                              `json:"random_seed"`
	Mode          Mode                               `json:"mode"`
	PendingPieces [PendingPieceCount]PieceDescriptor `json:"pending_pieces"`
	StartedAt     time.Time                          `json:"started_at"`
	LastUpdatedAt time.Time                          `json:"last_updated_at"`
	Ended         bool                               `json:"ended"`
	WinnerID      string                             `json:"winner_id"`
	EndReason     EndReason                          `json:"end_reason"`
	EndedAt       time.Time                          `json:"ended_at"`
}

// NewMatchRecord creates the initial record for a fresh match: turn 1, the
// first player as holder, and the pending set generated from the given seed.
// The seed is drawn by the caller and passed explicitly so determinism stays
// under the caller's control.
func NewMatchRecord(matchID string, first, second PlayerRef, mode Mode, seed int64, now time.Time) MatchRecord {
	rec := MatchRecord{
		MatchID:       matchID,
		FormatVersion: FormatVersion,
		TurnHolderID:  first.ID,
		TurnNumber:    1,
		RandomSeed:    seed,
		Mode:          mode,
		StartedAt:     now,
		LastUpdatedAt: now,
	}
	rec.Players[0] = PlayerState{PlayerID: first.ID, DisplayName: first.DisplayName}
	rec.Players[1] = PlayerState{PlayerID: second.ID, DisplayName: second.DisplayName}
	rec.PendingPieces = Generate(seed, rec.TurnNumber, mode)
	rec.refreshLockFlags()
	return rec
}

// PlayerIndex returns the index of the player in Players, or -1.
func (r MatchRecord) PlayerIndex(playerID string) int {
	for i := range r.Players {
		if r.Players[i].PlayerID == playerID {
			return i
		}
	}
	return -1
}

// Player returns the state for the given player id.
func (r MatchRecord) Player(playerID string) (PlayerState, bool) {
	idx := r.PlayerIndex(playerID)
	if idx < 0 {
		return PlayerState{}, false
	}
	return r.Players[idx], true
}

// IsParticipant reports whether the id belongs to one of the two players.
func (r MatchRecord) IsParticipant(playerID string) bool {
	return r.PlayerIndex(playerID) >= 0
}

// OpponentID returns the other participant's id, or "" if playerID is not a
// participant.
func (r MatchRecord) OpponentID(playerID string) string {
	idx := r.PlayerIndex(playerID)
	if idx < 0 {
		return ""
	}
	return r.Players[1-idx].PlayerID
}

// Clone returns a deep copy. The players array and boards copy by value;
// move histories get fresh backing arrays so appends never alias the source.
func (r MatchRecord) Clone() MatchRecord {
	next := r
	for i := range next.Players {
		if src := r.Players[i].MoveHistory; len(src) > 0 {
			history := make([]Move, len(src))
			copy(history, src)
			next.Players[i].MoveHistory = history
		}
	}
	return next
}

// ApplyTurn validates the move against the current record and returns the
// functionally-updated successor: move appended to the submitter's history,
// board replaced with the engine-captured after state, score increased,
// holder flipped, turn number incremented, the new seed adopted and the
// pending set regenerated from it. The input record is never mutated.
//
// Any precondition violation returns an error wrapping ErrTurnRejected and
// the caller must not advance local state.
func ApplyTurn(current MatchRecord, playerID string, mv Move, after Board, newSeed int64, now time.Time) (MatchRecord, error) {
	if current.Ended {
		return MatchRecord{}, fmt.Errorf("%w: match already ended", ErrTurnRejected)
	}
	idx := current.PlayerIndex(playerID)
	if idx < 0 {
		return MatchRecord{}, fmt.Errorf("%w: %q is not a participant", ErrTurnRejected, playerID)
	}
	if current.TurnHolderID != playerID {
		return MatchRecord{}, fmt.Errorf("%w: %q is not the turn holder (%q is)", ErrTurnRejected, playerID, current.TurnHolderID)
	}
	if !pendingContains(current.PendingPieces, mv.Piece) {
		return MatchRecord{}, fmt.Errorf("%w: piece %s/%d is not in the pending set", ErrTurnRejected, mv.Piece.Kind, mv.Piece.Color)
	}
	for _, offset := range mv.Piece.Kind.Footprint() {
		cell := CellRef{Row: mv.Origin.Row + offset.Row, Col: mv.Origin.Col + offset.Col}
		if !InBounds(cell) {
			return MatchRecord{}, fmt.Errorf("%w: placement at (%d,%d) leaves the board", ErrTurnRejected, cell.Row, cell.Col)
		}
	}
	if !current.Players[idx].Board.CanPlaceAt(mv.Piece.Kind, mv.Origin) {
		return MatchRecord{}, fmt.Errorf("%w: placement overlaps occupied cells", ErrTurnRejected)
	}
	if mv.ScoreDelta < 0 {
		return MatchRecord{}, fmt.Errorf("%w: negative score delta %d", ErrTurnRejected, mv.ScoreDelta)
	}
	if mv.LinesCleared < 0 || mv.LinesCleared > 2*BoardSize {
		return MatchRecord{}, fmt.Errorf("%w: implausible lines cleared %d", ErrTurnRejected, mv.LinesCleared)
	}

	next := current.Clone()
	mover := &next.Players[idx]

	recorded := mv
	recorded.TurnNumber = current.TurnNumber
	if recorded.PlayedAt.IsZero() {
		recorded.PlayedAt = now
	}
	mover.MoveHistory = append(mover.MoveHistory, recorded)
	mover.Board = after
	mover.Score += mv.ScoreDelta

	next.TurnHolderID = current.OpponentID(playerID)
	next.TurnNumber = current.TurnNumber + 1
	next.RandomSeed = newSeed
	next.PendingPieces = Generate(newSeed, next.TurnNumber, next.Mode)
	next.refreshLockFlags()
	next.LastUpdatedAt = laterOf(now, current.LastUpdatedAt)
	return next, nil
}

// RefreshSeed re-derives the current pending set from a brand-new seed
// without advancing the turn. The resync path uses it when the current set
// is disputed between devices; move histories are never rewritten, only the
// present and future sets change. Ended records come back unchanged.
func RefreshSeed(current MatchRecord, newSeed int64, now time.Time) MatchRecord {
	if current.Ended {
		return current
	}
	next := current.Clone()
	next.RandomSeed = newSeed
	next.PendingPieces = Generate(newSeed, next.TurnNumber, next.Mode)
	next.refreshLockFlags()
	next.LastUpdatedAt = laterOf(now, current.LastUpdatedAt)
	return next
}

func pendingContains(pending [PendingPieceCount]PieceDescriptor, piece PieceDescriptor) bool {
	for _, p := range pending {
		if p == piece {
			return true
		}
	}
	return false
}

// refreshLockFlags re-evaluates both boards against the current pending set.
// A player with no legal placement for any pending piece is locked out.
func (r *MatchRecord) refreshLockFlags() {
	pending := r.PendingPieces[:]
	for i := range r.Players {
		r.Players[i].BoardLocked = !r.Players[i].Board.HasAnyPlacement(pending)
	}
}

// laterOf keeps LastUpdatedAt monotonically non-decreasing under clock skew.
func laterOf(a, b time.Time) time.Time {
	if a.Before(b) {
		return b
	}
	return a
}
