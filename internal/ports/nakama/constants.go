package nakama

const (
	// RpcQuickMatch is the Nakama RPC id clients call to find or create an open match.
	RpcQuickMatch = "quick_match"

	// RpcListMatches returns the caller's unfinished matches with their stored versions.
	RpcListMatches = "list_matches"

	// RpcSubmitTurn applies one turn to a stored match without a live socket.
	RpcSubmitTurn = "submit_turn"

	// RpcResign forfeits a stored match on behalf of the caller.
	RpcResign = "resign"

	// RpcSyncReport reconciles a device's derived piece set against the stored record.
	RpcSyncReport = "sync_report"

	// RpcRecentResults lists the caller's finished matches, newest first.
	RpcRecentResults = "recent_results"

	// MatchNameGridRival is the authoritative match handler name registered with Nakama.
	MatchNameGridRival = "gridrival_match"
)

// Storage layout. The authoritative record of a match is one system-owned
// object keyed by match id; each participant additionally holds a small stub
// under their own user id so their matches can be listed.
const (
	collectionMatches  = "matches"
	collectionProfiles = "profiles"
	collectionResults  = "results"

	keyProfile = "profile_v1"
)

// Notification codes for offline delivery.
const (
	notificationCodeTurnReceived = 1
	notificationCodeMatchEnded   = 2
	notificationCodeResigned     = 3
)

// Op codes for client messages and server events.
const (
	// Client -> Server
	OpSubmitTurn   int64 = 1
	OpResign       int64 = 2
	OpSyncReport   int64 = 3
	OpStateRequest int64 = 4

	// Server -> Client events
	OpMatchStarted         int64 = 101
	OpPiecesDealt          int64 = 102
	OpTurnApplied          int64 = 103
	OpMatchEnded           int64 = 104
	OpDesyncResolved       int64 = 105 // send privately
	OpSeedRefreshed        int64 = 106
	OpSeedRefreshRequested int64 = 107
	OpSyncDegraded         int64 = 108
	OpStateSnapshot        int64 = 109
	OpError                int64 = 400
)
