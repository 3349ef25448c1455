package nakama

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"gridrival/internal/app"
	"gridrival/internal/domain"
	"gridrival/internal/ports"

	"github.com/heroiclabs/nakama-common/runtime"
)

// RegisterRPCs registers Nakama RPC endpoints.
func RegisterRPCs(initializer runtime.Initializer) error {
	if err := initializer.RegisterRpc(RpcQuickMatch, rpcQuickMatch); err != nil {
		return err
	}
	if err := initializer.RegisterRpc(RpcListMatches, rpcListMatches); err != nil {
		return err
	}
	if err := initializer.RegisterRpc(RpcSubmitTurn, rpcSubmitTurn); err != nil {
		return err
	}
	if err := initializer.RegisterRpc(RpcResign, rpcResign); err != nil {
		return err
	}
	if err := initializer.RegisterRpc(RpcSyncReport, rpcSyncReport); err != nil {
		return err
	}
	return initializer.RegisterRpc(RpcRecentResults, rpcRecentResults)
}

// callerID resolves the authenticated user for an RPC invocation.
func callerID(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(runtime.RUNTIME_CTX_USER_ID).(string)
	if !ok || userID == "" {
		return "", runtime.NewError("No user id in context", 16) // UNAUTHENTICATED
	}
	return userID, nil
}

// loadRecord reads and decodes the stored record for an RPC mutation.
func loadRecord(ctx context.Context, logger runtime.Logger, transport *StorageTransport, matchID string) (domain.MatchRecord, string, error) {
	stored, err := transport.LoadMatch(ctx, matchID)
	if err != nil {
		return domain.MatchRecord{}, "", runtime.NewError("Match not found", 5) // NOT_FOUND
	}
	rec, warnings, err := domain.DecodeRecord(stored.Payload)
	if err != nil {
		logger.Error("Stored record %s is corrupt: %v", matchID, err)
		return domain.MatchRecord{}, "", runtime.NewError("Stored record is corrupt", 13) // INTERNAL
	}
	for _, w := range warnings {
		logger.Warn("Stored record %s repaired: %s defaulted to %s", matchID, w.Field, w.Applied)
	}
	return rec, stored.Version, nil
}

// appError maps a rejected operation to the gRPC code clients switch on.
func appError(err error) error {
	switch {
	case errors.Is(err, domain.ErrTurnRejected),
		errors.Is(err, app.ErrMatchEnded),
		errors.Is(err, app.ErrNotLocalTurn),
		errors.Is(err, app.ErrDesyncDetected):
		return runtime.NewError(err.Error(), 9) // FAILED_PRECONDITION
	case errors.Is(err, app.ErrUnknownParticipant):
		return runtime.NewError(err.Error(), 7) // PERMISSION_DENIED
	default:
		return runtime.NewError(err.Error(), 13) // INTERNAL
	}
}

// ListMatchesResponse is the list_matches payload: every unfinished match
// the caller participates in, with the version tag conditional writes need.
type ListMatchesResponse struct {
	Matches []MatchEntry `json:"matches"`
}

type MatchEntry struct {
	MatchID string          `json:"match_id"`
	Version string          `json:"version"`
	Record  json.RawMessage `json:"record"`
}

func rpcListMatches(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	userID, err := callerID(ctx)
	if err != nil {
		return "", err
	}

	transport := NewStorageTransport(nk, logger)
	stored, err := transport.ActiveMatches(ctx, userID)
	if err != nil {
		logger.Error("rpcListMatches [User:%s]: %v", userID, err)
		return "", runtime.NewError("Failed to list matches", 13)
	}

	resp := ListMatchesResponse{Matches: make([]MatchEntry, 0, len(stored))}
	for _, s := range stored {
		resp.Matches = append(resp.Matches, MatchEntry{
			MatchID: s.MatchID,
			Version: s.Version,
			Record:  json.RawMessage(s.Payload),
		})
	}
	b, _ := json.Marshal(resp)
	return string(b), nil
}

// SubmitTurnRequest carries one turn played without a live socket. Version
// is the stored version the move was derived from; empty lets the server
// validate against whatever is current.
type SubmitTurnRequest struct {
	MatchID string       `json:"match_id"`
	Version string       `json:"version"`
	Move    domain.Move  `json:"move"`
	After   domain.Board `json:"after"`
}

type SubmitTurnResponse struct {
	Version string             `json:"version"`
	Record  domain.MatchRecord `json:"record"`
}

func rpcSubmitTurn(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	userID, err := callerID(ctx)
	if err != nil {
		return "", err
	}

	var req SubmitTurnRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		return "", runtime.NewError("Invalid payload", 3) // INVALID_ARGUMENT
	}
	if req.MatchID == "" {
		return "", runtime.NewError("match_id is required", 3)
	}

	transport := NewStorageTransport(nk, logger)
	rec, version, err := loadRecord(ctx, logger, transport, req.MatchID)
	if err != nil {
		return "", err
	}
	if req.Version != "" && req.Version != version {
		return "", runtime.NewError("Record moved since last read", 10) // ABORTED
	}

	svc := app.NewService(nil)
	next, _, err := svc.ApplySubmission(rec, userID, req.Move, req.After, time.Now())
	if err != nil {
		logger.Warn("rpcSubmitTurn [User:%s]: Turn rejected: %v", userID, err)
		return "", appError(err)
	}

	encoded, err := domain.EncodeRecord(next)
	if err != nil {
		logger.Error("rpcSubmitTurn [User:%s]: Encode failed: %v", userID, err)
		return "", runtime.NewError("Failed to encode record", 13)
	}

	newVersion := ""
	if next.Ended {
		err = transport.EndMatch(ctx, req.MatchID, encoded, version)
	} else {
		newVersion, err = transport.SubmitTurn(ctx, req.MatchID, encoded, version, next.TurnHolderID)
	}
	if err != nil {
		if errors.Is(err, ports.ErrVersionConflict) {
			return "", runtime.NewError("Record moved since last read", 10)
		}
		logger.Error("rpcSubmitTurn [User:%s]: Store failed: %v", userID, err)
		return "", runtime.NewError("Failed to store turn", 13)
	}

	archiveEndedMatch(ctx, logger, NewNakamaArchiveAdapter(nk), next)

	b, _ := json.Marshal(SubmitTurnResponse{Version: newVersion, Record: next})
	return string(b), nil
}

// ResignRequest forfeits a stored match on behalf of the caller.
type ResignRequest struct {
	MatchID string `json:"match_id"`
}

type ResignResponse struct {
	Record domain.MatchRecord `json:"record"`
}

func rpcResign(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	userID, err := callerID(ctx)
	if err != nil {
		return "", err
	}

	var req ResignRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		return "", runtime.NewError("Invalid payload", 3)
	}
	if req.MatchID == "" {
		return "", runtime.NewError("match_id is required", 3)
	}

	transport := NewStorageTransport(nk, logger)
	rec, version, err := loadRecord(ctx, logger, transport, req.MatchID)
	if err != nil {
		return "", err
	}

	svc := app.NewService(nil)
	next, _, err := svc.Resign(rec, userID, time.Now())
	if err != nil {
		return "", appError(err)
	}

	encoded, err := domain.EncodeRecord(next)
	if err != nil {
		logger.Error("rpcResign [User:%s]: Encode failed: %v", userID, err)
		return "", runtime.NewError("Failed to encode record", 13)
	}
	if err := transport.Resign(ctx, req.MatchID, encoded, version, next.OpponentID(userID)); err != nil {
		if errors.Is(err, ports.ErrVersionConflict) {
			return "", runtime.NewError("Record moved since last read", 10)
		}
		logger.Error("rpcResign [User:%s]: Store failed: %v", userID, err)
		return "", runtime.NewError("Failed to store resignation", 13)
	}

	archiveEndedMatch(ctx, logger, NewNakamaArchiveAdapter(nk), next)

	b, _ := json.Marshal(ResignResponse{Record: next})
	return string(b), nil
}

// SyncReportRequest carries the piece set a device derived for what it
// believes is the current turn and seed. Mode is the device's last known
// generation mode, consulted only when the stored record cannot be read.
type SyncReportRequest struct {
	MatchID    string                   `json:"match_id"`
	TurnNumber int                      `json:"turn_number"`
	Seed       int64                    `json:"seed"`
	Pieces     []domain.PieceDescriptor `json:"pieces"`
	Mode       string                   `json:"mode"`
}

// SyncReportResponse returns the resolution: the tier the ladder stopped
// at, the authoritative record, and the pieces the device must display.
// The emergency tier carries pieces only; there is no record to return.
type SyncReportResponse struct {
	Tier    string                   `json:"tier"`
	Version string                   `json:"version"`
	Record  domain.MatchRecord       `json:"record"`
	Pieces  []domain.PieceDescriptor `json:"pieces"`
}

func rpcSyncReport(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	userID, err := callerID(ctx)
	if err != nil {
		return "", err
	}

	var req SyncReportRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		return "", runtime.NewError("Invalid payload", 3)
	}
	if req.MatchID == "" {
		return "", runtime.NewError("match_id is required", 3)
	}

	transport := NewStorageTransport(nk, logger)
	svc := app.NewService(nil)

	stored, err := transport.LoadMatch(ctx, req.MatchID)
	if err != nil {
		return "", runtime.NewError("Match not found", 5) // NOT_FOUND
	}
	rec, warnings, err := domain.DecodeRecord(stored.Payload)
	if err != nil {
		// No valid record is obtainable; issue the degraded per-player set
		// instead of blocking play, and log the incident.
		mode := domain.Mode(req.Mode)
		if !mode.Valid() {
			mode = domain.ModeUniform
		}
		res, _ := svc.EmergencyFallback(req.MatchID, userID, req.TurnNumber, mode)
		logger.Error("rpcSyncReport [User:%s]: %s: %v", userID, res.Incident, err)
		b, _ := json.Marshal(SyncReportResponse{Tier: res.Tier.String(), Pieces: res.Pieces[:]})
		return string(b), nil
	}
	for _, w := range warnings {
		logger.Warn("Stored record %s repaired: %s defaulted to %s", req.MatchID, w.Field, w.Applied)
	}
	version := stored.Version
	if !rec.IsParticipant(userID) {
		return "", runtime.NewError("Not a participant", 7)
	}

	// A stale cursor is not a derivation dispute: the device just missed a
	// relay, so the current record and pieces are the whole answer.
	if req.TurnNumber != rec.TurnNumber || req.Seed != rec.RandomSeed {
		resp := SyncReportResponse{
			Tier:    app.SyncRegenerated.String(),
			Version: version,
			Record:  rec,
			Pieces:  rec.PendingPieces[:],
		}
		b, _ := json.Marshal(resp)
		return string(b), nil
	}

	res, _, err := svc.Resync(rec, rec.PendingPieces[:], req.Pieces, rec.TurnHolderID, time.Now())
	if err != nil {
		return "", appError(err)
	}
	if res.Incident != "" {
		logger.Warn("rpcSyncReport [User:%s]: %s (match %s)", userID, res.Incident, req.MatchID)
	}

	if res.RecordChanged {
		encoded, err := domain.EncodeRecord(res.Record)
		if err != nil {
			logger.Error("rpcSyncReport [User:%s]: Encode failed: %v", userID, err)
			return "", runtime.NewError("Failed to encode record", 13)
		}
		version, err = transport.SubmitTurn(ctx, req.MatchID, encoded, version, res.Record.TurnHolderID)
		if err != nil {
			if errors.Is(err, ports.ErrVersionConflict) {
				return "", runtime.NewError("Record moved since last read", 10)
			}
			logger.Error("rpcSyncReport [User:%s]: Store failed: %v", userID, err)
			return "", runtime.NewError("Failed to store refreshed record", 13)
		}
	}

	resp := SyncReportResponse{
		Tier:    res.Tier.String(),
		Version: version,
		Record:  res.Record,
		Pieces:  res.Pieces[:],
	}
	b, _ := json.Marshal(resp)
	return string(b), nil
}

// RecentResultsRequest limits how much history comes back; zero means the
// default page.
type RecentResultsRequest struct {
	Limit int `json:"limit"`
}

type RecentResultsResponse struct {
	Results []ResultEntry `json:"results"`
}

type ResultEntry struct {
	MatchID       string    `json:"match_id"`
	OpponentID    string    `json:"opponent_id"`
	PlayerScore   int       `json:"player_score"`
	OpponentScore int       `json:"opponent_score"`
	WinnerID      string    `json:"winner_id"`
	EndReason     string    `json:"end_reason"`
	Mode          string    `json:"mode"`
	EndedAt       time.Time `json:"ended_at"`
}

func rpcRecentResults(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	userID, err := callerID(ctx)
	if err != nil {
		return "", err
	}

	req := RecentResultsRequest{Limit: 20}
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &req); err != nil {
			return "", runtime.NewError("Invalid payload", 3)
		}
	}
	if req.Limit <= 0 || req.Limit > 100 {
		req.Limit = 20
	}

	archive := NewNakamaArchiveAdapter(nk)
	results, err := archive.RecentResults(ctx, userID, req.Limit)
	if err != nil {
		logger.Error("rpcRecentResults [User:%s]: %v", userID, err)
		return "", runtime.NewError("Failed to list results", 13)
	}

	resp := RecentResultsResponse{Results: make([]ResultEntry, 0, len(results))}
	for _, r := range results {
		resp.Results = append(resp.Results, ResultEntry{
			MatchID:       r.MatchID,
			OpponentID:    r.OpponentID,
			PlayerScore:   r.PlayerScore,
			OpponentScore: r.OpponentScore,
			WinnerID:      r.WinnerID,
			EndReason:     r.EndReason,
			Mode:          r.Mode,
			EndedAt:       r.EndedAt,
		})
	}
	b, _ := json.Marshal(resp)
	return string(b), nil
}

// archiveEndedMatch writes both players' history documents for a terminal
// record. RPC end paths and the live handler's event dispatch both land
// here.
func archiveEndedMatch(ctx context.Context, logger runtime.Logger, archive ports.ArchivePort, rec domain.MatchRecord) {
	if archive == nil || !rec.Ended {
		return
	}
	for i := range rec.Players {
		me := rec.Players[i]
		opp := rec.Players[1-i]
		result := ports.MatchResult{
			MatchID:       rec.MatchID,
			PlayerID:      me.PlayerID,
			OpponentID:    opp.PlayerID,
			PlayerScore:   me.Score,
			OpponentScore: opp.Score,
			WinnerID:      rec.WinnerID,
			EndReason:     string(rec.EndReason),
			Mode:          string(rec.Mode),
			EndedAt:       rec.EndedAt,
		}
		if err := archive.SaveResult(ctx, result); err != nil {
			logger.Error("Failed to archive result for %s: %v", me.PlayerID, err)
		}
	}
}
