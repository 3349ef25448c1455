package ports

import "context"

// PlayerProfile is the identity provider's view of a player. The core
// treats the id as an opaque stable string.
type PlayerProfile struct {
	ID          string
	DisplayName string
}

// IdentityPort supplies the local player's identity.
type IdentityPort interface {
	// LocalPlayer returns the identity the current call runs as.
	LocalPlayer(ctx context.Context) (PlayerProfile, error)
}

// AccountPort updates identity-provider account fields.
type AccountPort interface {
	// UpdateProfile applies username/displayName to the given account.
	UpdateProfile(ctx context.Context, userID, username, displayName string) error
}
