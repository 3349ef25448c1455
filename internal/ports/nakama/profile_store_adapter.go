package nakama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gridrival/internal/ports"

	"github.com/heroiclabs/nakama-common/runtime"
)

// storedProfile is the profile_v1 document layout.
type storedProfile struct {
	DisplayName string    `json:"display_name"`
	DefaultMode string    `json:"default_mode"`
	CreatedAt   time.Time `json:"created_at"`
}

// NakamaProfileStoreAdapter persists player profiles in Nakama storage.
// Creation uses the storage engine's create-only version marker so two
// concurrent logins cannot both claim a fresh profile.
type NakamaProfileStoreAdapter struct {
	nk runtime.NakamaModule
}

// NewNakamaProfileStoreAdapter creates a new profile store adapter.
func NewNakamaProfileStoreAdapter(nk runtime.NakamaModule) *NakamaProfileStoreAdapter {
	return &NakamaProfileStoreAdapter{nk: nk}
}

// EnsureProfile writes the profile only if none exists yet for the player.
// Returns created=false when one was already present.
func (a *NakamaProfileStoreAdapter) EnsureProfile(ctx context.Context, profile ports.ProfileRecord) (bool, error) {
	if profile.PlayerID == "" {
		return false, fmt.Errorf("player id is required")
	}

	value, err := json.Marshal(storedProfile{
		DisplayName: profile.DisplayName,
		DefaultMode: profile.DefaultMode,
		CreatedAt:   profile.CreatedAt.UTC(),
	})
	if err != nil {
		return false, fmt.Errorf("failed to marshal profile: %w", err)
	}

	_, err = a.nk.StorageWrite(ctx, []*runtime.StorageWrite{
		{
			Collection:      collectionProfiles,
			Key:             keyProfile,
			UserID:          profile.PlayerID,
			Value:           string(value),
			Version:         "*",
			PermissionRead:  runtime.STORAGE_PERMISSION_OWNER_READ,
			PermissionWrite: runtime.STORAGE_PERMISSION_NO_WRITE,
		},
	})
	if err != nil {
		if errors.Is(err, runtime.ErrStorageRejectedVersion) {
			return false, nil
		}
		return false, fmt.Errorf("failed to write profile: %w", err)
	}
	return true, nil
}

// GetProfile loads a stored profile; ok=false when absent.
func (a *NakamaProfileStoreAdapter) GetProfile(ctx context.Context, playerID string) (ports.ProfileRecord, bool, error) {
	objects, err := a.nk.StorageRead(ctx, []*runtime.StorageRead{
		{Collection: collectionProfiles, Key: keyProfile, UserID: playerID},
	})
	if err != nil {
		return ports.ProfileRecord{}, false, fmt.Errorf("failed to read profile: %w", err)
	}
	if len(objects) == 0 {
		return ports.ProfileRecord{}, false, nil
	}

	var doc storedProfile
	if err := json.Unmarshal([]byte(objects[0].Value), &doc); err != nil {
		return ports.ProfileRecord{}, false, fmt.Errorf("failed to unmarshal profile: %w", err)
	}
	return ports.ProfileRecord{
		PlayerID:    playerID,
		DisplayName: doc.DisplayName,
		DefaultMode: doc.DefaultMode,
		CreatedAt:   doc.CreatedAt,
	}, true, nil
}

var _ ports.ProfileStorePort = (*NakamaProfileStoreAdapter)(nil)
