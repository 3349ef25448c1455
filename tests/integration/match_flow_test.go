package integration

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"
)

// Opcodes and payload shapes mirrored from the server module.
const (
	opSubmitTurn   = 1
	opResign       = 2
	opSyncReport   = 3
	opStateRequest = 4

	opMatchStarted  = 101
	opPiecesDealt   = 102
	opTurnApplied   = 103
	opMatchEnded    = 104
	opStateSnapshot = 109
	opError         = 400
)

type quickMatchResponse struct {
	MatchID string `json:"match_id"`
	IsNew   bool   `json:"is_new"`
}

type pieceDescriptor struct {
	Kind  int `json:"kind"`
	Color int `json:"color"`
}

type wireRecord struct {
	MatchID      string `json:"match_id"`
	TurnHolderID string `json:"turn_holder_id"`
	TurnNumber   int    `json:"turn_number"`
	RandomSeed   int64  `json:"random_seed"`
	Ended        bool   `json:"ended"`
	WinnerID     string `json:"winner_id"`
	EndReason    string `json:"end_reason"`
}

type matchStartedEvent struct {
	MatchID      string   `json:"match_id"`
	PlayerIDs    []string `json:"player_ids"`
	Mode         string   `json:"mode"`
	TurnHolderID string   `json:"turn_holder_id"`
}

type piecesDealtEvent struct {
	MatchID    string            `json:"match_id"`
	TurnNumber int               `json:"turn_number"`
	HolderID   string            `json:"holder_id"`
	Seed       int64             `json:"seed"`
	Pieces     []pieceDescriptor `json:"pieces"`
}

type matchEndedEvent struct {
	MatchID   string         `json:"match_id"`
	WinnerID  string         `json:"winner_id"`
	EndReason string         `json:"end_reason"`
	Scores    map[string]int `json:"final_scores"`
	Record    wireRecord     `json:"record"`
}

type stateSnapshot struct {
	Seats   []string    `json:"seats"`
	Mode    string      `json:"mode"`
	Record  *wireRecord `json:"record"`
	Version string      `json:"version"`
}

type errorEvent struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type listMatchesResponse struct {
	Matches []struct {
		MatchID string          `json:"match_id"`
		Version string          `json:"version"`
		Record  json.RawMessage `json:"record"`
	} `json:"matches"`
}

type syncReportResponse struct {
	Tier    string            `json:"tier"`
	Version string            `json:"version"`
	Record  wireRecord        `json:"record"`
	Pieces  []pieceDescriptor `json:"pieces"`
}

type recentResultsResponse struct {
	Results []struct {
		MatchID    string `json:"match_id"`
		OpponentID string `json:"opponent_id"`
		WinnerID   string `json:"winner_id"`
		EndReason  string `json:"end_reason"`
		Mode       string `json:"mode"`
	} `json:"results"`
}

// pairTwoPlayers runs the whole pairing flow: a creates via quick_match and
// joins, b quick_matches into the same match and joins, both see the match
// start. The first player must be connected before the second one searches,
// otherwise the open match is invisible to the listing.
func pairTwoPlayers(t *testing.T) (a, b *TestClient, matchID string, started matchStartedEvent) {
	t.Helper()

	a = NewTestClient(t)
	t.Cleanup(a.Close)
	b = NewTestClient(t)
	t.Cleanup(b.Close)

	var respA quickMatchResponse
	a.Rpc(t, "quick_match", map[string]string{"mode": "uniform"}, &respA)
	matchID = respA.MatchID
	a.JoinMatch(t, matchID)

	// Give the label update time to reach the match listing index.
	time.Sleep(1 * time.Second)

	var respB quickMatchResponse
	b.Rpc(t, "quick_match", map[string]string{"mode": "uniform"}, &respB)
	if respB.MatchID != matchID {
		t.Fatalf("Expected second player to pair into %s, got %s", matchID, respB.MatchID)
	}
	b.JoinMatch(t, matchID)

	data := a.WaitForOpCode(t, opMatchStarted, 5*time.Second)
	data.decode(t, &started)
	b.WaitForOpCode(t, opMatchStarted, 5*time.Second)
	return a, b, matchID, started
}

// byUserID returns the client whose user id matches, and the other one.
func byUserID(t *testing.T, a, b *TestClient, userID string) (*TestClient, *TestClient) {
	t.Helper()
	switch userID {
	case a.UserID:
		return a, b
	case b.UserID:
		return b, a
	default:
		t.Fatalf("User %s is neither %s nor %s", userID, a.UserID, b.UserID)
		return nil, nil
	}
}

func TestQuickMatchPairsTwoPlayers(t *testing.T) {
	skipUnlessServer(t)

	a := NewTestClient(t)
	defer a.Close()
	b := NewTestClient(t)
	defer b.Close()

	var respA quickMatchResponse
	a.Rpc(t, "quick_match", map[string]string{"mode": "uniform"}, &respA)
	if !respA.IsNew {
		t.Errorf("Expected first quick_match to create a match, got is_new=false")
	}
	a.JoinMatch(t, respA.MatchID)

	// While pairing the snapshot has no record yet.
	snap := stateSnapshot{}
	a.WaitForOpCode(t, opStateSnapshot, 5*time.Second).decode(t, &snap)
	if snap.Record != nil {
		t.Errorf("Expected no record while pairing, got one for turn %d", snap.Record.TurnNumber)
	}

	time.Sleep(1 * time.Second)

	var respB quickMatchResponse
	b.Rpc(t, "quick_match", map[string]string{"mode": "uniform"}, &respB)
	if respB.IsNew {
		t.Errorf("Expected second quick_match to find the open match, got is_new=true")
	}
	if respB.MatchID != respA.MatchID {
		t.Fatalf("Expected both players in %s, got %s", respA.MatchID, respB.MatchID)
	}
	b.JoinMatch(t, respB.MatchID)

	for name, c := range map[string]*TestClient{"creator": a, "joiner": b} {
		var started matchStartedEvent
		c.WaitForOpCode(t, opMatchStarted, 5*time.Second).decode(t, &started)
		if started.MatchID != respA.MatchID {
			t.Errorf("%s: Expected match %s, got %s", name, respA.MatchID, started.MatchID)
		}
		ids := map[string]bool{}
		for _, id := range started.PlayerIDs {
			ids[id] = true
		}
		if !ids[a.UserID] || !ids[b.UserID] {
			t.Errorf("%s: Expected both players in %v", name, started.PlayerIDs)
		}
		if started.TurnHolderID != a.UserID && started.TurnHolderID != b.UserID {
			t.Errorf("%s: Turn holder %s is not a participant", name, started.TurnHolderID)
		}

		var dealt piecesDealtEvent
		c.WaitForOpCode(t, opPiecesDealt, 5*time.Second).decode(t, &dealt)
		if dealt.TurnNumber != 1 {
			t.Errorf("%s: Expected first deal on turn 1, got %d", name, dealt.TurnNumber)
		}
		if len(dealt.Pieces) != 3 {
			t.Errorf("%s: Expected 3 pieces, got %d", name, len(dealt.Pieces))
		}
	}

	// An explicit state request now returns the authoritative record.
	a.SendMatchData(t, respA.MatchID, opStateRequest, nil)
	snap = stateSnapshot{}
	a.WaitForOpCode(t, opStateSnapshot, 5*time.Second).decode(t, &snap)
	if snap.Record == nil {
		t.Fatalf("Expected a record in the post-start snapshot")
	}
	if snap.Record.TurnNumber != 1 {
		t.Errorf("Expected snapshot at turn 1, got %d", snap.Record.TurnNumber)
	}
	if snap.Version == "" {
		t.Errorf("Expected a storage version in the snapshot")
	}
}

func TestSubmitTurnRejections(t *testing.T) {
	skipUnlessServer(t)

	a, b, matchID, started := pairTwoPlayers(t)
	holder, other := byUserID(t, a, b, started.TurnHolderID)

	holder.SendMatchData(t, matchID, opSubmitTurn, []byte("not-json"))
	var evt errorEvent
	holder.WaitForOpCode(t, opError, 5*time.Second).decode(t, &evt)
	if evt.Code != 400 {
		t.Errorf("Expected code 400 for malformed payload, got %d", evt.Code)
	}
	if evt.Message != "malformed turn payload" {
		t.Errorf("Unexpected message: %s", evt.Message)
	}

	// A parseable but empty move from the wrong side is rejected before any
	// placement checks run.
	other.SendMatchData(t, matchID, opSubmitTurn, []byte("{}"))
	evt = errorEvent{}
	other.WaitForOpCode(t, opError, 5*time.Second).decode(t, &evt)
	if evt.Code != 400 {
		t.Errorf("Expected code 400 for out-of-turn submission, got %d", evt.Code)
	}
	if evt.Message == "" {
		t.Errorf("Expected a rejection message")
	}
	t.Logf("Out-of-turn submission rejected with: %s", evt.Message)
}

func TestResignOverSocketEndsMatchForBoth(t *testing.T) {
	skipUnlessServer(t)

	a, b, matchID, _ := pairTwoPlayers(t)

	b.SendMatchData(t, matchID, opResign, nil)

	for name, c := range map[string]*TestClient{"winner": a, "resigner": b} {
		var ended matchEndedEvent
		c.WaitForOpCode(t, opMatchEnded, 5*time.Second).decode(t, &ended)
		if ended.WinnerID != a.UserID {
			t.Errorf("%s: Expected winner %s, got %s", name, a.UserID, ended.WinnerID)
		}
		if ended.EndReason != "resignation" {
			t.Errorf("%s: Expected end reason resignation, got %s", name, ended.EndReason)
		}
		if !ended.Record.Ended {
			t.Errorf("%s: Expected a terminal record", name)
		}
	}

	// Both sides get a history entry.
	for name, c := range map[string]*TestClient{"winner": a, "resigner": b} {
		var results recentResultsResponse
		c.Rpc(t, "recent_results", map[string]int{"limit": 10}, &results)
		found := false
		for _, r := range results.Results {
			if r.MatchID != matchID {
				continue
			}
			found = true
			if r.WinnerID != a.UserID {
				t.Errorf("%s: Result names winner %s, expected %s", name, r.WinnerID, a.UserID)
			}
			if r.EndReason != "resignation" {
				t.Errorf("%s: Result reason %s, expected resignation", name, r.EndReason)
			}
		}
		if !found {
			t.Errorf("%s: No result entry for %s", name, matchID)
		}
	}
}

func TestSyncReportLadderOverRpc(t *testing.T) {
	skipUnlessServer(t)

	a, b, matchID, started := pairTwoPlayers(t)
	holder, _ := byUserID(t, a, b, started.TurnHolderID)

	var dealt piecesDealtEvent
	holder.WaitForOpCode(t, opPiecesDealt, 5*time.Second).decode(t, &dealt)

	// A report with a cursor the record has moved past is answered with the
	// current state, not treated as a derivation dispute.
	var stale syncReportResponse
	holder.Rpc(t, "sync_report", map[string]any{
		"match_id":    matchID,
		"turn_number": 999,
		"seed":        int64(42),
		"pieces":      []pieceDescriptor{},
	}, &stale)
	if stale.Tier != "regenerated" {
		t.Errorf("Expected tier regenerated for stale cursor, got %s", stale.Tier)
	}
	if stale.Record.TurnNumber != 1 {
		t.Errorf("Expected record at turn 1, got %d", stale.Record.TurnNumber)
	}
	if len(stale.Pieces) != 3 {
		t.Fatalf("Expected 3 pieces, got %d", len(stale.Pieces))
	}

	// A matching cursor with different pieces is a real dispute: the server
	// re-seeds the current turn on behalf of the holder.
	disputed := make([]pieceDescriptor, len(stale.Pieces))
	copy(disputed, stale.Pieces)
	disputed[0].Color = disputed[0].Color%6 + 1

	var refreshed syncReportResponse
	holder.Rpc(t, "sync_report", map[string]any{
		"match_id":    matchID,
		"turn_number": dealt.TurnNumber,
		"seed":        dealt.Seed,
		"pieces":      disputed,
	}, &refreshed)
	if refreshed.Tier != "seed_refreshed" {
		t.Errorf("Expected tier seed_refreshed for disputed derivation, got %s", refreshed.Tier)
	}
	if refreshed.Record.RandomSeed == dealt.Seed {
		t.Errorf("Expected a fresh seed, still %d", dealt.Seed)
	}
	if refreshed.Record.TurnNumber != dealt.TurnNumber {
		t.Errorf("Re-seeding must not advance the turn: got %d", refreshed.Record.TurnNumber)
	}
	if len(refreshed.Pieces) != 3 {
		t.Errorf("Expected 3 pieces after refresh, got %d", len(refreshed.Pieces))
	}
}

func TestResignOverRpcClearsActiveList(t *testing.T) {
	skipUnlessServer(t)

	a, b, matchID, _ := pairTwoPlayers(t)

	var listed listMatchesResponse
	a.Rpc(t, "list_matches", map[string]any{}, &listed)
	if len(listed.Matches) != 1 {
		t.Fatalf("Expected 1 active match, got %d", len(listed.Matches))
	}
	if listed.Matches[0].MatchID != matchID {
		t.Errorf("Expected %s in the active list, got %s", matchID, listed.Matches[0].MatchID)
	}
	if listed.Matches[0].Version == "" {
		t.Errorf("Expected a storage version in the listing")
	}

	var resigned struct {
		Record wireRecord `json:"record"`
	}
	a.Rpc(t, "resign", map[string]string{"match_id": matchID}, &resigned)
	if !resigned.Record.Ended {
		t.Errorf("Expected a terminal record after resign")
	}
	if resigned.Record.WinnerID != b.UserID {
		t.Errorf("Expected winner %s, got %s", b.UserID, resigned.Record.WinnerID)
	}

	listed = listMatchesResponse{}
	a.Rpc(t, "list_matches", map[string]any{}, &listed)
	if len(listed.Matches) != 0 {
		t.Errorf("Expected no active matches after resign, got %d", len(listed.Matches))
	}
}

func TestQuickMatchRejectsUnknownMode(t *testing.T) {
	skipUnlessServer(t)

	c := NewTestClient(t)
	defer c.Close()

	status, raw := c.rpcRaw(t, "quick_match", map[string]string{"mode": "bogus"})
	if status != http.StatusBadRequest {
		t.Fatalf("Expected 400 for unknown mode, got %d: %s", status, raw)
	}
}
