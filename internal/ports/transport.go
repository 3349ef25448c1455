package ports

import (
	"context"
	"errors"
)

// ErrVersionConflict reports that a conditional write lost to a concurrent
// writer. The caller must reload the stored record and re-derive before
// retrying; the submission itself was not applied.
var ErrVersionConflict = errors.New("stored record version conflict")

// MatchHandle identifies a match at the transport layer together with the
// participants known so far, in join order.
type MatchHandle struct {
	MatchID      string
	Participants []string
}

// StoredMatch is one serialized match record fetched from the transport,
// with the opaque version tag used for conditional writes.
type StoredMatch struct {
	MatchID string
	Payload []byte
	Version string
}

// TransportPort is the store-and-forward relay between the two devices of a
// match. Payloads are sealed serialized records; the transport may read them
// for routing fields (participant ids, mode) but never game state. Version
// "" on a write means "create, fail if a record already exists"; any other
// value must match the stored version or the write fails with
// ErrVersionConflict.
type TransportPort interface {
	// CreateMatch finds an open match for the player or opens a new one.
	// The returned handle lists the participants joined so far; pairing is
	// complete once it names two players.
	CreateMatch(ctx context.Context, playerID, mode string) (MatchHandle, error)

	// ActiveMatches lists the stored records the player participates in.
	ActiveMatches(ctx context.Context, playerID string) ([]StoredMatch, error)

	// SubmitTurn stores the serialized record and notifies the next turn
	// holder. Returns the new stored version.
	SubmitTurn(ctx context.Context, matchID string, payload []byte, version, nextHolderID string) (string, error)

	// EndMatch stores the final record, notifies both sides, and closes the
	// handle to further turn submissions.
	EndMatch(ctx context.Context, matchID string, payload []byte, version string) error

	// Resign stores the final record, notifies the opponent, and closes
	// the handle.
	Resign(ctx context.Context, matchID string, payload []byte, version, opponentID string) error
}
