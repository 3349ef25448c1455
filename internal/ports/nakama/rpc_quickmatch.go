package nakama

import (
	"context"
	"database/sql"
	"encoding/json"

	"gridrival/internal/domain"

	"github.com/heroiclabs/nakama-common/runtime"
)

// QuickMatchRequest optionally names the generation mode to pair on.
type QuickMatchRequest struct {
	Mode string `json:"mode"`
}

// QuickMatchResponse is the payload returned to clients when requesting a match.
type QuickMatchResponse struct {
	MatchID string `json:"match_id"`
	IsNew   bool   `json:"is_new"`
}

func rpcQuickMatch(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	userID, err := callerID(ctx)
	if err != nil {
		return "", err
	}

	req := QuickMatchRequest{Mode: string(domain.ModeUniform)}
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &req); err != nil {
			return "", runtime.NewError("Invalid payload", 3) // INVALID_ARGUMENT
		}
	}
	if !domain.Mode(req.Mode).Valid() {
		return "", runtime.NewError("Unknown mode", 3)
	}

	transport := NewStorageTransport(nk, logger)
	handle, err := transport.CreateMatch(ctx, userID, req.Mode)
	if err != nil {
		logger.Error("rpcQuickMatch [User:%s]: %v", userID, err)
		return "", runtime.NewError("Failed to find or create match", 13) // INTERNAL
	}

	isNew := len(handle.Participants) == 1
	if isNew {
		logger.Info("rpcQuickMatch [User:%s]: Created new match %s", userID, handle.MatchID)
	} else {
		logger.Info("rpcQuickMatch [User:%s]: Found existing match %s", userID, handle.MatchID)
	}

	resp := QuickMatchResponse{MatchID: handle.MatchID, IsNew: isNew}
	b, _ := json.Marshal(resp)
	return string(b), nil
}
