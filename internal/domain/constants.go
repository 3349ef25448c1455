package domain

// PendingPieceCount is the number of pieces dealt to the turn holder each
// turn. The pending set in a MatchRecord always has exactly this many
// entries and must regenerate from (seed, turn number, mode).
const PendingPieceCount = 3

// Scoring adjustment rates. These are fixed constants rather than
// configuration so that both clients always resolve the same terminal record
// from the same facts. Keep them centralized; the resolver is the only
// consumer.
const (
	// ResignPenaltyPercent is deducted from a resigning player's score.
	ResignPenaltyPercent = 25
	// ResignPenaltyMinimum is the smallest deduction applied on resignation;
	// the resulting score is still floored at zero.
	ResignPenaltyMinimum = 10
	// EarlyQuitPenaltyPercent replaces the resignation rate when a player
	// disconnects with most of the match horizon remaining.
	EarlyQuitPenaltyPercent = 50
	// TimeoutPenaltyPercent is deducted from both sides when the hard turn
	// ceiling expires, since neither board can be proven current.
	TimeoutPenaltyPercent = 10
	// WinnerBonusPercent is added to the winner's score in lock-out
	// outcomes. The bonus never changes who wins, only the margin.
	WinnerBonusPercent = 5
)
