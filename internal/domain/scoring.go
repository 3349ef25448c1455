package domain

import "time"

// Outcome is the resolved terminal result of a match. FinalScores aligns
// with MatchRecord.Players.
type Outcome struct {
	WinnerID    string
	Reason      EndReason
	FinalScores [2]int
}

// ResolveOutcome determines the winner and final scores. It is a pure
// function of the record's scores and lock flags, the triggering reason, the
// acting player (resigner or disconnected side), and elapsed time against
// the match horizon. Both clients independently compute the same outcome
// from the same terminal facts.
//
// Precedence:
//  1. both boards locked: higher raw score wins, tie goes to the current
//     turn holder;
//  2. exactly one board locked: the player who can still move wins
//     immediately, regardless of score;
//  3. resignation: opponent wins, resigner's score is penalized;
//  4. disconnect: resignation by the disconnected side, penalized harder
//     when most of the horizon remained;
//  5. lock-out winners additionally receive a proportional bonus after the
//     comparison; the bonus never changes who wins.
//
// A hard-ceiling timeout penalizes both sides and picks the higher remaining
// score; an exact tie records no winner.
func ResolveOutcome(rec MatchRecord, reason EndReason, actorID string, elapsed, horizon time.Duration) Outcome {
	out := Outcome{
		Reason:      reason,
		FinalScores: [2]int{rec.Players[0].Score, rec.Players[1].Score},
	}

	lockedA := rec.Players[0].BoardLocked
	lockedB := rec.Players[1].BoardLocked

	switch {
	case lockedA && lockedB:
		out.Reason = EndReasonDoubleLockout
		winner := higherScoreIndex(out.FinalScores, rec.PlayerIndex(rec.TurnHolderID))
		out.WinnerID = rec.Players[winner].PlayerID
		out.FinalScores[winner] += out.FinalScores[winner] * WinnerBonusPercent / 100

	case lockedA != lockedB:
		out.Reason = EndReasonLockout
		winner := 0
		if lockedA {
			winner = 1
		}
		out.WinnerID = rec.Players[winner].PlayerID
		out.FinalScores[winner] += out.FinalScores[winner] * WinnerBonusPercent / 100

	default:
		switch reason {
		case EndReasonResignation, EndReasonDisconnect:
			actor := rec.PlayerIndex(actorID)
			if actor < 0 {
				actor = rec.PlayerIndex(rec.TurnHolderID)
			}
			percent := ResignPenaltyPercent
			if reason == EndReasonDisconnect && earlyQuit(elapsed, horizon) {
				percent = EarlyQuitPenaltyPercent
			}
			out.FinalScores[actor] = penalize(out.FinalScores[actor], percent, ResignPenaltyMinimum)
			out.WinnerID = rec.Players[1-actor].PlayerID

		case EndReasonTimeout:
			// Neither board can be proven current, so both sides carry the
			// penalty.
			out.FinalScores[0] = penalize(out.FinalScores[0], TimeoutPenaltyPercent, 0)
			out.FinalScores[1] = penalize(out.FinalScores[1], TimeoutPenaltyPercent, 0)
			switch {
			case out.FinalScores[0] > out.FinalScores[1]:
				out.WinnerID = rec.Players[0].PlayerID
			case out.FinalScores[1] > out.FinalScores[0]:
				out.WinnerID = rec.Players[1].PlayerID
			}

		default:
			winner := higherScoreIndex(out.FinalScores, rec.PlayerIndex(rec.TurnHolderID))
			out.WinnerID = rec.Players[winner].PlayerID
		}
	}

	return out
}

// Finalize marks the record ended, resolving winner and score adjustments.
// Idempotent: an already-ended record is returned unchanged, so both sides
// converge on one terminal value no matter how often it is invoked. elapsed
// and horizon feed the disconnect penalty tier; pass zero when irrelevant.
func Finalize(rec MatchRecord, reason EndReason, actorID string, elapsed, horizon time.Duration, now time.Time) MatchRecord {
	if rec.Ended {
		return rec
	}

	outcome := ResolveOutcome(rec, reason, actorID, elapsed, horizon)
	next := rec.Clone()
	for i := range next.Players {
		next.Players[i].Score = outcome.FinalScores[i]
	}
	next.Ended = true
	next.WinnerID = outcome.WinnerID
	next.EndReason = outcome.Reason
	next.EndedAt = now
	next.LastUpdatedAt = laterOf(now, rec.LastUpdatedAt)
	return next
}

// higherScoreIndex picks the index with the higher score; ties go to
// tieBreak (the turn holder at the instant of simultaneous lock-out).
func higherScoreIndex(scores [2]int, tieBreak int) int {
	switch {
	case scores[0] > scores[1]:
		return 0
	case scores[1] > scores[0]:
		return 1
	default:
		if tieBreak == 1 {
			return 1
		}
		return 0
	}
}

// penalize deducts percent of the score, at least minimum, flooring at zero.
func penalize(score, percent, minimum int) int {
	penalty := score * percent / 100
	if penalty < minimum {
		penalty = minimum
	}
	if penalty >= score {
		return 0
	}
	return score - penalty
}

// earlyQuit reports whether a disconnect left most of the match horizon
// remaining. An unknown horizon counts as late.
func earlyQuit(elapsed, horizon time.Duration) bool {
	if horizon <= 0 {
		return false
	}
	return elapsed*2 < horizon
}
