package profile

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"
	"time"

	"gridrival/internal/ports"
)

type fakeAccountPort struct {
	updateErr error
	updates   []accountCall
}

type accountCall struct {
	userID      string
	displayName string
}

func (f *fakeAccountPort) UpdateProfile(ctx context.Context, userID, username, displayName string) error {
	f.updates = append(f.updates, accountCall{userID: userID, displayName: displayName})
	return f.updateErr
}

type fakeProfileStore struct {
	ensureErr error
	getErr    error
	existing  *ports.ProfileRecord
	ensures   []ports.ProfileRecord
}

func (f *fakeProfileStore) EnsureProfile(ctx context.Context, profile ports.ProfileRecord) (bool, error) {
	f.ensures = append(f.ensures, profile)
	if f.ensureErr != nil {
		return false, f.ensureErr
	}
	return f.existing == nil, nil
}

func (f *fakeProfileStore) GetProfile(ctx context.Context, playerID string) (ports.ProfileRecord, bool, error) {
	if f.getErr != nil {
		return ports.ProfileRecord{}, false, f.getErr
	}
	if f.existing == nil {
		return ports.ProfileRecord{}, false, nil
	}
	return *f.existing, true, nil
}

var testNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func TestOnboardNewPlayer_CreatesProfile(t *testing.T) {
	accounts := &fakeAccountPort{}
	store := &fakeProfileStore{}
	service := NewService(accounts, store, rand.New(rand.NewSource(1)))

	result, err := service.OnboardNewPlayer(context.Background(), "user-1", testNow)
	if err != nil {
		t.Fatalf("OnboardNewPlayer returned error: %v", err)
	}
	if !result.Created {
		t.Fatal("Expected profile to be marked as created")
	}
	if result.DisplayName == "" {
		t.Fatal("Expected a generated display name")
	}
	if result.AccountUpdateErr != nil {
		t.Fatalf("Expected no account update error, got %v", result.AccountUpdateErr)
	}

	if len(store.ensures) != 1 {
		t.Fatalf("Expected 1 ensure call, got %d", len(store.ensures))
	}
	if store.ensures[0].PlayerID != "user-1" {
		t.Fatalf("Expected ensure for user-1, got %q", store.ensures[0].PlayerID)
	}
	if store.ensures[0].DefaultMode != "uniform" {
		t.Fatalf("Expected uniform default mode, got %q", store.ensures[0].DefaultMode)
	}
	if !store.ensures[0].CreatedAt.Equal(testNow) {
		t.Fatalf("Expected creation stamp %v, got %v", testNow, store.ensures[0].CreatedAt)
	}

	if len(accounts.updates) != 1 {
		t.Fatalf("Expected 1 account update, got %d", len(accounts.updates))
	}
	if accounts.updates[0].displayName != result.DisplayName {
		t.Fatalf("Expected account name %q, got %q", result.DisplayName, accounts.updates[0].displayName)
	}
}

func TestOnboardNewPlayer_ExistingProfileKeepsStoredName(t *testing.T) {
	accounts := &fakeAccountPort{}
	store := &fakeProfileStore{existing: &ports.ProfileRecord{
		PlayerID:    "user-1",
		DisplayName: "SwiftOtter4242",
	}}
	service := NewService(accounts, store, rand.New(rand.NewSource(1)))

	result, err := service.OnboardNewPlayer(context.Background(), "user-1", testNow)
	if err != nil {
		t.Fatalf("OnboardNewPlayer returned error: %v", err)
	}
	if result.Created {
		t.Fatal("Expected existing profile not to be marked created")
	}
	if result.DisplayName != "SwiftOtter4242" {
		t.Fatalf("Expected stored name to win, got %q", result.DisplayName)
	}
	if len(accounts.updates) != 0 {
		t.Fatalf("Expected no account update for an existing profile, got %d", len(accounts.updates))
	}
}

func TestOnboardNewPlayer_AccountUpdateFailureIsNonFatal(t *testing.T) {
	accounts := &fakeAccountPort{updateErr: errors.New("update failed")}
	store := &fakeProfileStore{}
	service := NewService(accounts, store, rand.New(rand.NewSource(1)))

	result, err := service.OnboardNewPlayer(context.Background(), "user-1", testNow)
	if err != nil {
		t.Fatalf("OnboardNewPlayer returned error: %v", err)
	}
	if result.AccountUpdateErr == nil {
		t.Fatal("Expected account update error to be captured")
	}
	if !result.Created {
		t.Fatal("Expected profile creation to proceed despite account failure")
	}
}

func TestOnboardNewPlayer_StoreFailureIsFatal(t *testing.T) {
	store := &fakeProfileStore{ensureErr: errors.New("storage down")}
	service := NewService(&fakeAccountPort{}, store, rand.New(rand.NewSource(1)))

	_, err := service.OnboardNewPlayer(context.Background(), "user-1", testNow)
	if err == nil {
		t.Fatal("Expected error when the profile store is unreachable")
	}
}

func TestOnboardNewPlayer_RequiresPorts(t *testing.T) {
	service := NewService(nil, nil, rand.New(rand.NewSource(1)))
	if _, err := service.OnboardNewPlayer(context.Background(), "user-1", testNow); err == nil {
		t.Fatal("Expected error for unconfigured service")
	}
}

func TestGenerateFriendlyNameShape(t *testing.T) {
	service := NewService(&fakeAccountPort{}, &fakeProfileStore{}, rand.New(rand.NewSource(7)))

	for i := 0; i < 20; i++ {
		name := service.generateFriendlyName()
		if len(name) < 8 {
			t.Fatalf("name %q too short", name)
		}
		if strings.ContainsAny(name, " \t") {
			t.Fatalf("name %q contains whitespace", name)
		}
	}
}
