package nakama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gridrival/internal/domain"
	"gridrival/internal/ports"

	"github.com/heroiclabs/nakama-common/runtime"
)

// matchLabel is the JSON document attached to a live match for listing
// queries. Open counts free seats so "+label.open:>=1" finds joinable
// matches.
type matchLabel struct {
	Open    int      `json:"open"`
	Mode    string   `json:"mode"`
	Phase   string   `json:"phase"`
	Players []string `json:"players"`
}

// matchStub is the per-participant listing document. The authoritative
// record lives in a single system-owned object; the stub only points at it.
type matchStub struct {
	MatchID    string `json:"match_id"`
	OpponentID string `json:"opponent_id"`
	Mode       string `json:"mode"`
}

// StorageTransport implements ports.TransportPort on Nakama storage and
// notifications. Records are written with optimistic concurrency: version
// "" maps to the storage engine's create-only marker, anything else must
// match the stored version. Payloads are sealed records; the transport
// decodes them only for routing fields (participant ids), never game state.
type StorageTransport struct {
	nk     runtime.NakamaModule
	logger runtime.Logger
}

// NewStorageTransport creates a new storage-backed transport.
func NewStorageTransport(nk runtime.NakamaModule, logger runtime.Logger) *StorageTransport {
	return &StorageTransport{nk: nk, logger: logger}
}

// CreateMatch finds an open match waiting for a peer in the given mode, or
// creates a fresh one. The returned handle lists participants parsed from
// the match label; a single name means the caller is first and waits.
func (t *StorageTransport) CreateMatch(ctx context.Context, playerID, mode string) (ports.MatchHandle, error) {
	query := fmt.Sprintf("+label.open:>=1 +label.phase:pairing +label.mode:%s", mode)

	limit := 10
	authoritative := true

	// Exactly one player seated and waiting.
	minSize := 1
	maxSize := 1

	matches, err := t.nk.MatchList(ctx, limit, authoritative, "", &minSize, &maxSize, query)
	if err != nil {
		return ports.MatchHandle{}, fmt.Errorf("failed to list open matches: %w", err)
	}

	for _, m := range matches {
		var label matchLabel
		if err := json.Unmarshal([]byte(m.GetLabel().GetValue()), &label); err != nil {
			t.logger.Warn("CreateMatch: Skipping match %s with unreadable label: %v", m.MatchId, err)
			continue
		}
		if len(label.Players) != 1 || label.Players[0] == playerID {
			continue
		}

		handle := ports.MatchHandle{
			MatchID:      m.MatchId,
			Participants: []string{label.Players[0], playerID},
		}
		t.writeStubs(ctx, handle.MatchID, mode, handle.Participants)
		return handle, nil
	}

	matchID, err := t.nk.MatchCreate(ctx, MatchNameGridRival, map[string]interface{}{"mode": mode})
	if err != nil {
		return ports.MatchHandle{}, fmt.Errorf("failed to create match: %w", err)
	}

	handle := ports.MatchHandle{MatchID: matchID, Participants: []string{playerID}}
	t.writeStubs(ctx, matchID, mode, handle.Participants)
	return handle, nil
}

// ActiveMatches lists the stored records the player participates in.
// Records that decoded cleanly and already ended are dropped and their
// listing stubs deleted; undecodable payloads are passed through so the
// caller can surface the corruption.
func (t *StorageTransport) ActiveMatches(ctx context.Context, playerID string) ([]ports.StoredMatch, error) {
	stubs, _, err := t.nk.StorageList(ctx, "", playerID, collectionMatches, 100, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list match stubs: %w", err)
	}

	var out []ports.StoredMatch
	for _, stub := range stubs {
		stored, err := t.LoadMatch(ctx, stub.Key)
		if err != nil {
			// Stub without a record yet: the match is still pairing.
			continue
		}

		rec, _, decodeErr := domain.DecodeRecord(stored.Payload)
		if decodeErr == nil && rec.Ended {
			t.deleteStub(ctx, stub.Key, playerID)
			continue
		}
		out = append(out, stored)
	}
	return out, nil
}

// LoadMatch reads the authoritative record object for one match.
func (t *StorageTransport) LoadMatch(ctx context.Context, matchID string) (ports.StoredMatch, error) {
	objects, err := t.nk.StorageRead(ctx, []*runtime.StorageRead{
		{Collection: collectionMatches, Key: matchID},
	})
	if err != nil {
		return ports.StoredMatch{}, fmt.Errorf("failed to read match record: %w", err)
	}
	if len(objects) == 0 {
		return ports.StoredMatch{}, fmt.Errorf("match record %s not found", matchID)
	}
	return ports.StoredMatch{
		MatchID: matchID,
		Payload: []byte(objects[0].Value),
		Version: objects[0].Version,
	}, nil
}

// SubmitTurn stores the serialized record and notifies the next turn
// holder. Returns the new stored version.
func (t *StorageTransport) SubmitTurn(ctx context.Context, matchID string, payload []byte, version, nextHolderID string) (string, error) {
	newVersion, err := t.writeRecord(ctx, matchID, payload, version)
	if err != nil {
		return "", err
	}

	if ids, mode, ok := t.routing(payload); ok {
		t.writeStubs(ctx, matchID, mode, ids)
	}

	if nextHolderID != "" {
		t.notify(ctx, nextHolderID, "Your turn", matchID, notificationCodeTurnReceived)
	}
	return newVersion, nil
}

// EndMatch stores the final record, notifies both sides, and removes the
// listing stubs so the match no longer shows as active.
func (t *StorageTransport) EndMatch(ctx context.Context, matchID string, payload []byte, version string) error {
	if _, err := t.writeRecord(ctx, matchID, payload, version); err != nil {
		return err
	}

	if ids, _, ok := t.routing(payload); ok {
		for _, id := range ids {
			t.notify(ctx, id, "Match over", matchID, notificationCodeMatchEnded)
			t.deleteStub(ctx, matchID, id)
		}
	}
	return nil
}

// Resign stores the final record, notifies the opponent, and removes the
// listing stubs.
func (t *StorageTransport) Resign(ctx context.Context, matchID string, payload []byte, version, opponentID string) error {
	if _, err := t.writeRecord(ctx, matchID, payload, version); err != nil {
		return err
	}

	if opponentID != "" {
		t.notify(ctx, opponentID, "Opponent resigned", matchID, notificationCodeResigned)
	}
	if ids, _, ok := t.routing(payload); ok {
		for _, id := range ids {
			t.deleteStub(ctx, matchID, id)
		}
	}
	return nil
}

// writeRecord performs the conditional write of the authoritative record.
func (t *StorageTransport) writeRecord(ctx context.Context, matchID string, payload []byte, version string) (string, error) {
	if version == "" {
		version = "*"
	}

	acks, err := t.nk.StorageWrite(ctx, []*runtime.StorageWrite{
		{
			Collection:      collectionMatches,
			Key:             matchID,
			Value:           string(payload),
			Version:         version,
			PermissionRead:  runtime.STORAGE_PERMISSION_NO_READ,
			PermissionWrite: runtime.STORAGE_PERMISSION_NO_WRITE,
		},
	})
	if err != nil {
		if errors.Is(err, runtime.ErrStorageRejectedVersion) {
			return "", ports.ErrVersionConflict
		}
		return "", fmt.Errorf("failed to write match record: %w", err)
	}
	if len(acks) == 0 {
		return "", fmt.Errorf("match record write for %s returned no ack", matchID)
	}
	return acks[0].Version, nil
}

// routing extracts the participant ids and mode from a sealed record
// payload. ok=false when the payload cannot be decoded; callers skip stub
// and notification maintenance in that case rather than failing the write.
func (t *StorageTransport) routing(payload []byte) ([]string, string, bool) {
	rec, _, err := domain.DecodeRecord(payload)
	if err != nil {
		t.logger.Warn("Transport: Payload not decodable for routing: %v", err)
		return nil, "", false
	}
	return []string{rec.Players[0].PlayerID, rec.Players[1].PlayerID}, string(rec.Mode), true
}

// writeStubs upserts the per-participant listing stubs. Stubs carry no
// version: last write wins, their content is derived and tiny.
func (t *StorageTransport) writeStubs(ctx context.Context, matchID, mode string, playerIDs []string) {
	writes := make([]*runtime.StorageWrite, 0, len(playerIDs))
	for i, id := range playerIDs {
		opponent := ""
		if len(playerIDs) == 2 {
			opponent = playerIDs[1-i]
		}
		value, err := json.Marshal(matchStub{MatchID: matchID, OpponentID: opponent, Mode: mode})
		if err != nil {
			t.logger.Error("Transport: Failed to marshal match stub: %v", err)
			return
		}
		writes = append(writes, &runtime.StorageWrite{
			Collection:      collectionMatches,
			Key:             matchID,
			UserID:          id,
			Value:           string(value),
			PermissionRead:  runtime.STORAGE_PERMISSION_OWNER_READ,
			PermissionWrite: runtime.STORAGE_PERMISSION_NO_WRITE,
		})
	}
	if _, err := t.nk.StorageWrite(ctx, writes); err != nil {
		t.logger.Warn("Transport: Failed to write match stubs for %s: %v", matchID, err)
	}
}

func (t *StorageTransport) deleteStub(ctx context.Context, matchID, playerID string) {
	err := t.nk.StorageDelete(ctx, []*runtime.StorageDelete{
		{Collection: collectionMatches, Key: matchID, UserID: playerID},
	})
	if err != nil {
		t.logger.Warn("Transport: Failed to delete match stub for %s/%s: %v", matchID, playerID, err)
	}
}

func (t *StorageTransport) notify(ctx context.Context, playerID, subject, matchID string, code int) {
	content := map[string]interface{}{"match_id": matchID}
	if err := t.nk.NotificationSend(ctx, playerID, subject, content, code, "", true); err != nil {
		t.logger.Warn("Transport: Failed to notify %s about %s: %v", playerID, matchID, err)
	}
}

var _ ports.TransportPort = (*StorageTransport)(nil)
