package domain

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

var (
	refAlice = PlayerRef{ID: "alice-id", DisplayName: "Alice"}
	refBob   = PlayerRef{ID: "bob-id", DisplayName: "Bob"}

	matchEpoch = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
)

func newTestRecord() MatchRecord {
	return NewMatchRecord("match-1", refAlice, refBob, ModeUniform, 12345, matchEpoch)
}

// placeFirstPending applies the first pending piece at the first origin
// where it fits on the submitter's board.
func placeFirstPending(t *testing.T, rec MatchRecord, playerID string, delta int, newSeed int64, now time.Time) MatchRecord {
	t.Helper()
	idx := rec.PlayerIndex(playerID)
	if idx < 0 {
		t.Fatalf("unknown player %q", playerID)
	}
	piece := rec.PendingPieces[0]
	board := rec.Players[idx].Board
	for r := 0; r < BoardSize; r++ {
		for c := 0; c < BoardSize; c++ {
			origin := CellRef{Row: r, Col: c}
			if !board.CanPlaceAt(piece.Kind, origin) {
				continue
			}
			mv := Move{Piece: piece, Origin: origin, ScoreDelta: delta}
			next, err := ApplyTurn(rec, playerID, mv, board.Place(piece, origin), newSeed, now)
			if err != nil {
				t.Fatalf("ApplyTurn: %v", err)
			}
			return next
		}
	}
	t.Fatalf("no open origin for %s", piece.Kind)
	return MatchRecord{}
}

func TestNewMatchRecord(t *testing.T) {
	rec := newTestRecord()

	if rec.FormatVersion != FormatVersion {
		t.Errorf("FormatVersion = %q, want %q", rec.FormatVersion, FormatVersion)
	}
	if rec.TurnHolderID != refAlice.ID {
		t.Errorf("TurnHolderID = %q, want first player", rec.TurnHolderID)
	}
	if rec.TurnNumber != 1 {
		t.Errorf("TurnNumber = %d, want 1", rec.TurnNumber)
	}
	if rec.PendingPieces != Generate(12345, 1, ModeUniform) {
		t.Error("pending set must come from the seed")
	}
	if rec.Ended || rec.EndReason != EndReasonNone {
		t.Error("fresh record must be live")
	}
	for i, p := range rec.Players {
		if p.Score != 0 || p.Board.OccupiedCount() != 0 || p.BoardLocked || len(p.MoveHistory) != 0 {
			t.Errorf("player %d not pristine: %+v", i, p)
		}
	}
	if rec.Players[0].PlayerID != refAlice.ID || rec.Players[1].PlayerID != refBob.ID {
		t.Error("player order must follow the argument order")
	}
}

func TestApplyTurnAdvancesState(t *testing.T) {
	rec := newTestRecord()
	before := rec.Clone()
	now := matchEpoch.Add(3 * time.Minute)

	piece := rec.PendingPieces[0]
	after := rec.Players[0].Board.Place(piece, CellRef{Row: 0, Col: 0})
	mv := Move{Piece: piece, Origin: CellRef{Row: 0, Col: 0}, ScoreDelta: 9, LinesCleared: 1}

	next, err := ApplyTurn(rec, refAlice.ID, mv, after, 999, now)
	if err != nil {
		t.Fatalf("ApplyTurn: %v", err)
	}

	if next.TurnHolderID != refBob.ID {
		t.Errorf("holder = %q, want opponent %q", next.TurnHolderID, refBob.ID)
	}
	if next.TurnNumber != 2 {
		t.Errorf("TurnNumber = %d, want 2", next.TurnNumber)
	}
	if next.RandomSeed != 999 {
		t.Errorf("RandomSeed = %d, want the refreshed seed", next.RandomSeed)
	}
	if next.PendingPieces != Generate(999, 2, ModeUniform) {
		t.Error("pending set must regenerate from the new seed and turn")
	}
	if next.Players[0].Score != 9 {
		t.Errorf("score = %d, want 9", next.Players[0].Score)
	}
	if next.Players[0].Board != after {
		t.Error("board must adopt the captured after state")
	}
	if !next.LastUpdatedAt.Equal(now) {
		t.Errorf("LastUpdatedAt = %v, want %v", next.LastUpdatedAt, now)
	}

	history := next.Players[0].MoveHistory
	if len(history) != 1 {
		t.Fatalf("history length = %d, want 1", len(history))
	}
	if history[0].TurnNumber != 1 {
		t.Errorf("move stamped with turn %d, want 1", history[0].TurnNumber)
	}
	if !history[0].PlayedAt.Equal(now) {
		t.Errorf("PlayedAt = %v, want %v", history[0].PlayedAt, now)
	}

	if len(next.Players[1].MoveHistory) != 0 || next.Players[1].Score != 0 {
		t.Error("opponent state must not change")
	}
	if !reflect.DeepEqual(rec, before) {
		t.Error("input record was mutated")
	}
}

func TestApplyTurnAlternatesHolders(t *testing.T) {
	rec := newTestRecord()
	now := matchEpoch

	for turn := 1; turn <= 6; turn++ {
		wantHolder := refAlice.ID
		if turn%2 == 0 {
			wantHolder = refBob.ID
		}
		if rec.TurnHolderID != wantHolder {
			t.Fatalf("turn %d holder = %q, want %q", turn, rec.TurnHolderID, wantHolder)
		}
		if rec.TurnNumber != turn {
			t.Fatalf("TurnNumber = %d, want %d", rec.TurnNumber, turn)
		}
		now = now.Add(time.Minute)
		rec = placeFirstPending(t, rec, wantHolder, 5, int64(1000+turn), now)
	}
}

func TestApplyTurnPendingMatchesSeedEveryTurn(t *testing.T) {
	rec := newTestRecord()
	now := matchEpoch

	for turn := 1; turn <= 5; turn++ {
		if rec.PendingPieces != Generate(rec.RandomSeed, rec.TurnNumber, rec.Mode) {
			t.Fatalf("turn %d: pending set diverged from its seed", turn)
		}
		now = now.Add(time.Minute)
		rec = placeFirstPending(t, rec, rec.TurnHolderID, 3, int64(7000+turn), now)
	}
}

func TestApplyTurnScoreNeverDecreases(t *testing.T) {
	rec := newTestRecord()
	now := matchEpoch
	prev := [2]int{}

	for turn := 1; turn <= 6; turn++ {
		now = now.Add(time.Minute)
		rec = placeFirstPending(t, rec, rec.TurnHolderID, turn%3, int64(300+turn), now)
		for i := range rec.Players {
			if rec.Players[i].Score < prev[i] {
				t.Fatalf("turn %d: player %d score fell from %d to %d", turn, i, prev[i], rec.Players[i].Score)
			}
			prev[i] = rec.Players[i].Score
		}
	}
}

func TestApplyTurnRejections(t *testing.T) {
	cases := []struct {
		name       string
		setup      func(*MatchRecord)
		playerID   string
		move       func(MatchRecord) Move
		wantDetail string
	}{
		{
			name:       "ended match",
			setup:      func(r *MatchRecord) { r.Ended = true; r.EndReason = EndReasonResignation },
			playerID:   refAlice.ID,
			move:       func(r MatchRecord) Move { return Move{Piece: r.PendingPieces[0]} },
			wantDetail: "already ended",
		},
		{
			name:       "unknown player",
			playerID:   "mallory-id",
			move:       func(r MatchRecord) Move { return Move{Piece: r.PendingPieces[0]} },
			wantDetail: "not a participant",
		},
		{
			name:       "not the holder",
			playerID:   refBob.ID,
			move:       func(r MatchRecord) Move { return Move{Piece: r.PendingPieces[0]} },
			wantDetail: "not the turn holder",
		},
		{
			name:       "piece not in pending set",
			playerID:   refAlice.ID,
			move:       func(MatchRecord) Move { return Move{Piece: PieceDescriptor{Kind: PieceDot, Color: 1}} },
			wantDetail: "not in the pending set",
		},
		{
			name:     "right shape wrong color",
			playerID: refAlice.ID,
			move: func(r MatchRecord) Move {
				p := r.PendingPieces[0]
				p.Color = p.Color%ColorCount + 1
				return Move{Piece: p}
			},
			wantDetail: "not in the pending set",
		},
		{
			name:     "placement leaves the board",
			playerID: refAlice.ID,
			move: func(r MatchRecord) Move {
				return Move{Piece: r.PendingPieces[0], Origin: CellRef{Row: 7, Col: 7}}
			},
			wantDetail: "leaves the board",
		},
		{
			name:     "placement overlaps",
			playerID: refAlice.ID,
			setup: func(r *MatchRecord) {
				for c := 0; c < BoardSize; c++ {
					r.Players[0].Board[0][c] = 1
					r.Players[0].Board[1][c] = 1
				}
			},
			move: func(r MatchRecord) Move {
				return Move{Piece: r.PendingPieces[0], Origin: CellRef{Row: 0, Col: 0}}
			},
			wantDetail: "overlaps",
		},
		{
			name:     "negative score delta",
			playerID: refAlice.ID,
			move: func(r MatchRecord) Move {
				return Move{Piece: r.PendingPieces[0], ScoreDelta: -1}
			},
			wantDetail: "negative score delta",
		},
		{
			name:     "implausible lines cleared",
			playerID: refAlice.ID,
			move: func(r MatchRecord) Move {
				return Move{Piece: r.PendingPieces[0], LinesCleared: 2*BoardSize + 1}
			},
			wantDetail: "lines cleared",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := newTestRecord()
			if tc.setup != nil {
				tc.setup(&rec)
			}
			before := rec.Clone()

			mv := tc.move(rec)
			_, err := ApplyTurn(rec, tc.playerID, mv, rec.Players[0].Board, 999, matchEpoch.Add(time.Minute))
			if err == nil {
				t.Fatal("expected rejection")
			}
			if !errors.Is(err, ErrTurnRejected) {
				t.Fatalf("error %v does not wrap ErrTurnRejected", err)
			}
			if !strings.Contains(err.Error(), tc.wantDetail) {
				t.Fatalf("error %q does not mention %q", err, tc.wantDetail)
			}
			if !reflect.DeepEqual(rec, before) {
				t.Error("rejected turn mutated the record")
			}
		})
	}
}

func TestApplyTurnLockFlags(t *testing.T) {
	rec := newTestRecord()
	piece := rec.PendingPieces[0]

	// The engine reports a board with no room left for anything.
	next, err := ApplyTurn(rec, refAlice.ID, Move{Piece: piece, Origin: CellRef{Row: 0, Col: 0}}, filledBoard(), 999, matchEpoch.Add(time.Minute))
	if err != nil {
		t.Fatalf("ApplyTurn: %v", err)
	}
	if !next.Players[0].BoardLocked {
		t.Error("full board must be flagged locked")
	}
	if next.Players[1].BoardLocked {
		t.Error("empty board must not be flagged locked")
	}
}

func TestApplyTurnKeepsLastUpdatedMonotonic(t *testing.T) {
	rec := newTestRecord()
	skewed := matchEpoch.Add(-time.Hour)

	next := placeFirstPending(t, rec, refAlice.ID, 1, 55, skewed)
	if next.LastUpdatedAt.Before(rec.LastUpdatedAt) {
		t.Errorf("LastUpdatedAt went backwards: %v < %v", next.LastUpdatedAt, rec.LastUpdatedAt)
	}
}

func TestCloneIsolatesHistory(t *testing.T) {
	rec := placeFirstPending(t, newTestRecord(), refAlice.ID, 4, 77, matchEpoch.Add(time.Minute))

	clone := rec.Clone()
	clone.Players[0].MoveHistory[0].ScoreDelta = 9999

	if rec.Players[0].MoveHistory[0].ScoreDelta == 9999 {
		t.Error("clone shares move history backing array with the source")
	}
}

func TestRefreshSeed(t *testing.T) {
	rec := newTestRecord()

	refreshed := RefreshSeed(rec, 4242, matchEpoch.Add(time.Minute))

	if refreshed.TurnNumber != rec.TurnNumber {
		t.Errorf("turn moved from %d to %d", rec.TurnNumber, refreshed.TurnNumber)
	}
	if refreshed.TurnHolderID != rec.TurnHolderID {
		t.Error("holder must not change on a seed refresh")
	}
	if refreshed.RandomSeed != 4242 {
		t.Errorf("seed = %d, want 4242", refreshed.RandomSeed)
	}
	if refreshed.PendingPieces != Generate(4242, rec.TurnNumber, rec.Mode) {
		t.Error("pending set must re-derive from the new seed")
	}

	ended := Finalize(rec, EndReasonResignation, refAlice.ID, 0, 0, matchEpoch.Add(time.Hour))
	if got := RefreshSeed(ended, 99, matchEpoch.Add(2*time.Hour)); !reflect.DeepEqual(got, ended) {
		t.Error("refresh must leave an ended record untouched")
	}
}

func TestOpponentID(t *testing.T) {
	rec := newTestRecord()

	if got := rec.OpponentID(refAlice.ID); got != refBob.ID {
		t.Errorf("OpponentID(alice) = %q, want %q", got, refBob.ID)
	}
	if got := rec.OpponentID(refBob.ID); got != refAlice.ID {
		t.Errorf("OpponentID(bob) = %q, want %q", got, refAlice.ID)
	}
	if got := rec.OpponentID("mallory-id"); got != "" {
		t.Errorf("OpponentID(outsider) = %q, want empty", got)
	}
}
