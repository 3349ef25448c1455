package nakama

import (
	"context"
	"fmt"

	"gridrival/internal/ports"

	"github.com/heroiclabs/nakama-common/runtime"
)

// NakamaIdentityAdapter resolves the calling player from the runtime
// context, with the account's display name when one is set.
type NakamaIdentityAdapter struct {
	nk runtime.NakamaModule
}

// NewNakamaIdentityAdapter creates a new identity adapter.
func NewNakamaIdentityAdapter(nk runtime.NakamaModule) *NakamaIdentityAdapter {
	return &NakamaIdentityAdapter{nk: nk}
}

// LocalPlayer returns the identity the current call runs as.
func (a *NakamaIdentityAdapter) LocalPlayer(ctx context.Context) (ports.PlayerProfile, error) {
	userID, ok := ctx.Value(runtime.RUNTIME_CTX_USER_ID).(string)
	if !ok || userID == "" {
		return ports.PlayerProfile{}, fmt.Errorf("no user id in context")
	}

	profile := ports.PlayerProfile{ID: userID}
	if username, ok := ctx.Value(runtime.RUNTIME_CTX_USERNAME).(string); ok {
		profile.DisplayName = username
	}

	account, err := a.nk.AccountGetId(ctx, userID)
	if err != nil {
		// The username from the session still identifies the player.
		return profile, nil
	}
	if account.User != nil && account.User.DisplayName != "" {
		profile.DisplayName = account.User.DisplayName
	}
	return profile, nil
}

// NakamaAccountAdapter implements ports.AccountPort using Nakama's account API.
type NakamaAccountAdapter struct {
	nk runtime.NakamaModule
}

// NewNakamaAccountAdapter creates a new account adapter.
func NewNakamaAccountAdapter(nk runtime.NakamaModule) *NakamaAccountAdapter {
	return &NakamaAccountAdapter{nk: nk}
}

// UpdateProfile updates the account username and display name in Nakama.
func (a *NakamaAccountAdapter) UpdateProfile(ctx context.Context, userID, username, displayName string) error {
	return a.nk.AccountUpdateId(ctx, userID, username, nil, displayName, "", "", "", "")
}

var (
	_ ports.IdentityPort = (*NakamaIdentityAdapter)(nil)
	_ ports.AccountPort  = (*NakamaAccountAdapter)(nil)
)
