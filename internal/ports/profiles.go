package ports

import (
	"context"
	"time"
)

// ProfileRecord is the stored per-player profile document.
type ProfileRecord struct {
	PlayerID    string
	DisplayName string
	DefaultMode string
	CreatedAt   time.Time
}

// ProfileStorePort persists player profiles.
type ProfileStorePort interface {
	// EnsureProfile writes the profile only if none exists yet for the
	// player. Returns created=false when one was already present.
	EnsureProfile(ctx context.Context, profile ProfileRecord) (bool, error)

	// GetProfile loads a stored profile; ok=false when absent.
	GetProfile(ctx context.Context, playerID string) (ProfileRecord, bool, error)
}
