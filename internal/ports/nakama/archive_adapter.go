package nakama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"gridrival/internal/ports"

	"github.com/google/uuid"
	"github.com/heroiclabs/nakama-common/runtime"
)

// storedResult is the per-player result document, keyed by match id.
type storedResult struct {
	ID            string    `json:"id"`
	MatchID       string    `json:"match_id"`
	OpponentID    string    `json:"opponent_id"`
	PlayerScore   int       `json:"player_score"`
	OpponentScore int       `json:"opponent_score"`
	WinnerID      string    `json:"winner_id"`
	EndReason     string    `json:"end_reason"`
	Mode          string    `json:"mode"`
	EndedAt       time.Time `json:"ended_at"`
}

// NakamaArchiveAdapter persists terminal match outcomes as per-player
// storage objects. One match produces one document per participant, each
// written from that player's perspective.
type NakamaArchiveAdapter struct {
	nk runtime.NakamaModule
}

// NewNakamaArchiveAdapter creates a new archive adapter.
func NewNakamaArchiveAdapter(nk runtime.NakamaModule) *NakamaArchiveAdapter {
	return &NakamaArchiveAdapter{nk: nk}
}

// SaveResult records a finished match. The write is create-only, so saving
// the same match for the same player again is a no-op.
func (a *NakamaArchiveAdapter) SaveResult(ctx context.Context, result ports.MatchResult) error {
	if result.MatchID == "" || result.PlayerID == "" {
		return fmt.Errorf("match id and player id are required")
	}
	if result.ID == "" {
		result.ID = uuid.NewString()
	}

	value, err := json.Marshal(storedResult{
		ID:            result.ID,
		MatchID:       result.MatchID,
		OpponentID:    result.OpponentID,
		PlayerScore:   result.PlayerScore,
		OpponentScore: result.OpponentScore,
		WinnerID:      result.WinnerID,
		EndReason:     result.EndReason,
		Mode:          result.Mode,
		EndedAt:       result.EndedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal match result: %w", err)
	}

	_, err = a.nk.StorageWrite(ctx, []*runtime.StorageWrite{
		{
			Collection:      collectionResults,
			Key:             result.MatchID,
			UserID:          result.PlayerID,
			Value:           string(value),
			Version:         "*",
			PermissionRead:  runtime.STORAGE_PERMISSION_OWNER_READ,
			PermissionWrite: runtime.STORAGE_PERMISSION_NO_WRITE,
		},
	})
	if err != nil {
		if errors.Is(err, runtime.ErrStorageRejectedVersion) {
			return nil
		}
		return fmt.Errorf("failed to write match result: %w", err)
	}
	return nil
}

// RecentResults returns the player's finished matches, newest first, at
// most limit entries.
func (a *NakamaArchiveAdapter) RecentResults(ctx context.Context, playerID string, limit int) ([]ports.MatchResult, error) {
	if limit <= 0 {
		return nil, nil
	}

	objects, _, err := a.nk.StorageList(ctx, "", playerID, collectionResults, 100, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list match results: %w", err)
	}

	results := make([]ports.MatchResult, 0, len(objects))
	for _, obj := range objects {
		var doc storedResult
		if err := json.Unmarshal([]byte(obj.Value), &doc); err != nil {
			continue
		}
		results = append(results, ports.MatchResult{
			ID:            doc.ID,
			MatchID:       doc.MatchID,
			PlayerID:      playerID,
			OpponentID:    doc.OpponentID,
			PlayerScore:   doc.PlayerScore,
			OpponentScore: doc.OpponentScore,
			WinnerID:      doc.WinnerID,
			EndReason:     doc.EndReason,
			Mode:          doc.Mode,
			EndedAt:       doc.EndedAt,
		})
	}

	sortResultsNewestFirst(results)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func sortResultsNewestFirst(results []ports.MatchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].EndedAt.After(results[j].EndedAt)
	})
}

var _ ports.ArchivePort = (*NakamaArchiveAdapter)(nil)
