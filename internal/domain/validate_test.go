package domain

import (
	"strings"
	"testing"
	"time"
)

func TestValidateCleanRecords(t *testing.T) {
	fresh := newTestRecord()
	if vs := Validate(fresh); len(vs) != 0 {
		t.Errorf("fresh record flagged: %v", vs)
	}

	played := placeFirstPending(t, fresh, refAlice.ID, 7, 321, matchEpoch.Add(time.Minute))
	if vs := Validate(played); len(vs) != 0 {
		t.Errorf("played record flagged: %v", vs)
	}

	ended := Finalize(played, EndReasonResignation, refBob.ID, 0, 0, matchEpoch.Add(time.Hour))
	if vs := Validate(ended); len(vs) != 0 {
		t.Errorf("ended record flagged: %v", vs)
	}
}

func TestValidateFlagsDefects(t *testing.T) {
	cases := []struct {
		name      string
		mutate    func(*MatchRecord)
		wantField string
	}{
		{
			name:      "empty match id",
			mutate:    func(r *MatchRecord) { r.MatchID = "" },
			wantField: "match_id",
		},
		{
			name:      "foreign format version",
			mutate:    func(r *MatchRecord) { r.FormatVersion = "7" },
			wantField: "format_version",
		},
		{
			name:      "empty player id",
			mutate:    func(r *MatchRecord) { r.Players[1].PlayerID = "" },
			wantField: "players",
		},
		{
			name:      "duplicate player ids",
			mutate:    func(r *MatchRecord) { r.Players[1].PlayerID = r.Players[0].PlayerID },
			wantField: "players",
		},
		{
			name:      "holder outside the match",
			mutate:    func(r *MatchRecord) { r.TurnHolderID = "th-outsider" },
			wantField: "turn_holder_id",
		},
		{
			name:      "turn number below one",
			mutate:    func(r *MatchRecord) { r.TurnNumber = 0 },
			wantField: "turn_number",
		},
		{
			name:      "unknown mode",
			mutate:    func(r *MatchRecord) { r.Mode = "speedrun" },
			wantField: "mode",
		},
		{
			name:      "invalid pending piece",
			mutate:    func(r *MatchRecord) { r.PendingPieces[0].Kind = 200 },
			wantField: "pending_pieces",
		},
		{
			name:      "negative score",
			mutate:    func(r *MatchRecord) { r.Players[0].Score = -1 },
			wantField: "players[0].score",
		},
		{
			name:      "board cell out of palette",
			mutate:    func(r *MatchRecord) { r.Players[1].Board[4][4] = 42 },
			wantField: "players[1].board",
		},
		{
			name: "move origin off the board",
			mutate: func(r *MatchRecord) {
				r.Players[0].MoveHistory = []Move{{
					TurnNumber: 1,
					Piece:      PieceDescriptor{Kind: PieceDot, Color: 1},
					Origin:     CellRef{Row: -2, Col: 0},
				}}
			},
			wantField: "players[0].move_history",
		},
		{
			name: "move turns not increasing",
			mutate: func(r *MatchRecord) {
				mv := Move{TurnNumber: 3, Piece: PieceDescriptor{Kind: PieceDot, Color: 1}}
				r.Players[0].MoveHistory = []Move{mv, mv}
			},
			wantField: "players[0].move_history",
		},
		{
			name:      "ended without a reason",
			mutate:    func(r *MatchRecord) { r.Ended = true },
			wantField: "end_reason",
		},
		{
			name:      "live record carrying a reason",
			mutate:    func(r *MatchRecord) { r.EndReason = EndReasonTimeout },
			wantField: "end_reason",
		},
		{
			name: "winner outside the match",
			mutate: func(r *MatchRecord) {
				r.Ended = true
				r.EndReason = EndReasonResignation
				r.WinnerID = "w-outsider"
			},
			wantField: "winner_id",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := newTestRecord()
			tc.mutate(&rec)

			vs := Validate(rec)
			if len(vs) == 0 {
				t.Fatal("no violations reported")
			}
			found := false
			for _, v := range vs {
				if strings.HasPrefix(v.Field, tc.wantField) {
					found = true
					break
				}
			}
			if !found {
				t.Fatalf("violations %v do not touch field %q", vs, tc.wantField)
			}
		})
	}
}

func TestValidateReportsEveryDefect(t *testing.T) {
	rec := newTestRecord()
	rec.MatchID = ""
	rec.TurnNumber = -1
	rec.Players[0].Score = -10

	vs := Validate(rec)
	if len(vs) < 3 {
		t.Fatalf("got %d violations, want all three reported: %v", len(vs), vs)
	}
}
