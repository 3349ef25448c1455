package app

import "gridrival/internal/domain"

// EventKind identifies emitted app events for transport dispatch.
type EventKind string

const (
	EventMatchStarted         EventKind = "match_started"
	EventPiecesDealt          EventKind = "pieces_dealt"
	EventTurnApplied          EventKind = "turn_applied"
	EventMatchEnded           EventKind = "match_ended"
	EventDesyncResolved       EventKind = "desync_resolved"
	EventSeedRefreshed        EventKind = "seed_refreshed"
	EventSeedRefreshRequested EventKind = "seed_refresh_requested"
	EventSyncDegraded         EventKind = "sync_degraded"
)

// Event is an app-level event with optional targeted recipients.
type Event struct {
	Kind       EventKind
	Payload    any
	Recipients []string // player IDs; empty means broadcast
}

type MatchStartedPayload struct {
	MatchID      string      `json:"match_id"`
	PlayerIDs    []string    `json:"player_ids"`
	Mode         domain.Mode `json:"mode"`
	TurnHolderID string      `json:"turn_holder_id"`
}

type PiecesDealtPayload struct {
	MatchID    string                   `json:"match_id"`
	TurnNumber int                      `json:"turn_number"`
	HolderID   string                   `json:"holder_id"`
	Seed       int64                    `json:"seed"`
	Pieces     []domain.PieceDescriptor `json:"pieces"`
}

// TurnAppliedPayload carries the full post-move record so the receiving
// side adopts it wholesale instead of replaying the move.
type TurnAppliedPayload struct {
	MatchID      string             `json:"match_id"`
	PlayerID     string             `json:"player_id"`
	Move         domain.Move        `json:"move"`
	NextHolderID string             `json:"next_holder_id"`
	Record       domain.MatchRecord `json:"record"`
}

type MatchEndedPayload struct {
	MatchID     string             `json:"match_id"`
	WinnerID    string             `json:"winner_id"`
	EndReason   domain.EndReason   `json:"end_reason"`
	FinalScores map[string]int     `json:"final_scores"`
	Record      domain.MatchRecord `json:"record"`
}

type DesyncResolvedPayload struct {
	MatchID    string `json:"match_id"`
	TurnNumber int    `json:"turn_number"`
	Detail     string `json:"detail"`
}

type SeedRefreshedPayload struct {
	MatchID    string                   `json:"match_id"`
	TurnNumber int                      `json:"turn_number"`
	Seed       int64                    `json:"seed"`
	Pieces     []domain.PieceDescriptor `json:"pieces"`
}

type SeedRefreshRequestedPayload struct {
	MatchID     string `json:"match_id"`
	TurnNumber  int    `json:"turn_number"`
	RequesterID string `json:"requester_id"`
}

type SyncDegradedPayload struct {
	MatchID  string `json:"match_id"`
	PlayerID string `json:"player_id"`
	Detail   string `json:"detail"`
}
