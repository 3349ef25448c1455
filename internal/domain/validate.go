package domain

import "fmt"

// Violation describes one structural problem found in a match record.
type Violation struct {
	Field  string
	Detail string
}

func (v Violation) String() string {
	return v.Field + ": " + v.Detail
}

// Validate runs the structural checks a record must pass before the rest of
// the package will operate on it. It returns every violation found rather
// than stopping at the first, so callers can log the full shape of a corrupt
// record.
func Validate(rec MatchRecord) []Violation {
	var vs []Violation
	add := func(field, format string, args ...any) {
		vs = append(vs, Violation{Field: field, Detail: fmt.Sprintf(format, args...)})
	}

	if rec.MatchID == "" {
		add("match_id", "empty")
	}
	if rec.FormatVersion != FormatVersion {
		add("format_version", "got %q, want %q", rec.FormatVersion, FormatVersion)
	}

	if rec.Players[0].PlayerID == "" || rec.Players[1].PlayerID == "" {
		add("players", "player id empty")
	} else if rec.Players[0].PlayerID == rec.Players[1].PlayerID {
		add("players", "duplicate player id %q", rec.Players[0].PlayerID)
	}

	if !rec.Ended && !rec.IsParticipant(rec.TurnHolderID) {
		add("turn_holder_id", "%q is not a participant", rec.TurnHolderID)
	}
	if rec.TurnNumber < 1 {
		add("turn_number", "%d below 1", rec.TurnNumber)
	}
	if !rec.Mode.Valid() {
		add("mode", "unknown mode %q", rec.Mode)
	}

	if !rec.Ended {
		for i, p := range rec.PendingPieces {
			if !p.Valid() {
				add("pending_pieces", "piece %d invalid: kind=%d color=%d", i, p.Kind, p.Color)
			}
		}
	}

	for i := range rec.Players {
		label := fmt.Sprintf("players[%d]", i)
		if rec.Players[i].Score < 0 {
			add(label+".score", "negative score %d", rec.Players[i].Score)
		}
		for r := 0; r < BoardSize; r++ {
			for c := 0; c < BoardSize; c++ {
				cell := rec.Players[i].Board[r][c]
				if cell != 0 && !cell.Valid() {
					add(label+".board", "cell (%d,%d) holds unknown color %d", r, c, cell)
				}
			}
		}
		lastTurn := 0
		for j, mv := range rec.Players[i].MoveHistory {
			if !mv.Piece.Valid() {
				add(label+".move_history", "move %d piece invalid", j)
			}
			if !InBounds(mv.Origin) {
				add(label+".move_history", "move %d origin out of bounds", j)
			}
			if mv.TurnNumber <= lastTurn {
				add(label+".move_history", "move %d turn %d not after %d", j, mv.TurnNumber, lastTurn)
			}
			lastTurn = mv.TurnNumber
		}
	}

	if rec.Ended {
		if !rec.EndReason.Terminal() {
			add("end_reason", "ended without a terminal reason")
		}
		if rec.WinnerID != "" && !rec.IsParticipant(rec.WinnerID) {
			add("winner_id", "%q is not a participant", rec.WinnerID)
		}
	} else if rec.EndReason != EndReasonNone {
		add("end_reason", "reason %q on a live match", rec.EndReason)
	}

	return vs
}
