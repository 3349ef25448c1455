package profile

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"gridrival/internal/domain"
	"gridrival/internal/ports"
)

// Result captures non-fatal onboarding outcomes.
type Result struct {
	// DisplayName is the name in effect after the call, freshly generated
	// or read back from an existing profile.
	DisplayName string
	// Created is true when this call created the profile record.
	Created bool
	// AccountUpdateErr is set when pushing the display name to the account
	// failed but onboarding continued.
	AccountUpdateErr error
}

// Service bootstraps player profiles after authentication.
type Service struct {
	accounts ports.AccountPort
	store    ports.ProfileStorePort
	rng      *rand.Rand
}

// NewService constructs a profile service with required ports.
// accounts/store must be non-nil; rng may be nil to use a time-seeded default.
func NewService(accounts ports.AccountPort, store ports.ProfileStorePort, rng *rand.Rand) *Service {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Service{
		accounts: accounts,
		store:    store,
		rng:      rng,
	}
}

// OnboardNewPlayer ensures a profile record exists for a freshly created
// account, generating a friendly display name on first contact. Repeated
// calls are no-ops that report the stored name. Returns a Result with any
// non-fatal issues and an error only when the profile store is unreachable.
func (s *Service) OnboardNewPlayer(ctx context.Context, userID string, now time.Time) (Result, error) {
	if s.accounts == nil || s.store == nil {
		return Result{}, fmt.Errorf("profile service not configured")
	}

	result := Result{DisplayName: s.generateFriendlyName()}

	created, err := s.store.EnsureProfile(ctx, ports.ProfileRecord{
		PlayerID:    userID,
		DisplayName: result.DisplayName,
		DefaultMode: string(domain.ModeUniform),
		CreatedAt:   now,
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to ensure player profile: %w", err)
	}
	result.Created = created

	if !created {
		// Lost the race or re-authenticated: the stored name wins.
		existing, ok, err := s.store.GetProfile(ctx, userID)
		if err != nil {
			return result, fmt.Errorf("failed to read existing profile: %w", err)
		}
		if ok {
			result.DisplayName = existing.DisplayName
		}
		return result, nil
	}

	if err := s.accounts.UpdateProfile(ctx, userID, result.DisplayName, result.DisplayName); err != nil {
		// Account updates are best-effort; the stored profile is authoritative.
		result.AccountUpdateErr = err
	}
	return result, nil
}

func (s *Service) generateFriendlyName() string {
	adjectives := []string{"Happy", "Shiny", "Brave", "Clever", "Swift", "Calm", "Mighty", "Witty", "Sly", "Wild"}
	nouns := []string{"Panda", "Tiger", "Eagle", "Dolphin", "Wolf", "Otter", "Falcon", "Bear", "Fox", "Lion"}

	adj := adjectives[s.rng.Intn(len(adjectives))]
	noun := nouns[s.rng.Intn(len(nouns))]
	num := s.rng.Intn(9000) + 1000

	return fmt.Sprintf("%s%s%d", adj, noun, num)
}
