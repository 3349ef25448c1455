package ports

import (
	"context"
	"time"
)

// MatchResult is one finished match as persisted for history queries, from
// a single player's perspective.
type MatchResult struct {
	ID            string
	MatchID       string
	PlayerID      string
	OpponentID    string
	PlayerScore   int
	OpponentScore int
	WinnerID      string
	EndReason     string
	Mode          string
	EndedAt       time.Time
}

// ArchivePort persists terminal match outcomes.
type ArchivePort interface {
	// SaveResult records a finished match. Saving the same match for the
	// same player again is a no-op.
	SaveResult(ctx context.Context, result MatchResult) error

	// RecentResults returns the player's finished matches, newest first,
	// at most limit entries.
	RecentResults(ctx context.Context, playerID string, limit int) ([]MatchResult, error)
}
