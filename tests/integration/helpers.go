package integration

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// The suite talks to a locally running Nakama with the gridrival module
// loaded. Tests skip when nothing is listening, so the package stays safe to
// run anywhere; against a server the suite is stateful and expects a fresh
// instance (quick_match pairs against any open match it finds).
const (
	ServerKey = "defaultkey"
	Host      = "127.0.0.1"
	Port      = 7350
)

// skipUnlessServer skips the calling test when no server is reachable.
func skipUnlessServer(t *testing.T) {
	t.Helper()
	addr := fmt.Sprintf("%s:%d", Host, Port)
	conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
	if err != nil {
		t.Skipf("No Nakama server at %s: %v", addr, err)
	}
	conn.Close()
}

// TestClient is one authenticated device with an open realtime socket.
type TestClient struct {
	Token  string
	UserID string

	ws      *websocket.Conn
	cid     int
	pending []matchData
}

// Socket envelopes, mirrored from the server's JSON wire format. Only the
// message types the suite uses are declared.

type envelope struct {
	CID           string          `json:"cid,omitempty"`
	Error         *socketError    `json:"error,omitempty"`
	Match         json.RawMessage `json:"match,omitempty"`
	MatchJoin     *matchJoin      `json:"match_join,omitempty"`
	MatchData     *matchData      `json:"match_data,omitempty"`
	MatchDataSend *matchDataSend  `json:"match_data_send,omitempty"`
}

type socketError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type matchJoin struct {
	MatchID string `json:"match_id"`
}

type matchData struct {
	MatchID string   `json:"match_id"`
	OpCode  wireInt  `json:"op_code"`
	Data    string   `json:"data"`
	Sender  presence `json:"presence"`
}

type matchDataSend struct {
	MatchID string `json:"match_id"`
	OpCode  string `json:"op_code"`
	Data    string `json:"data"`
}

type presence struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// wireInt decodes an int64 the server may encode as either a JSON number or
// a quoted string.
type wireInt int64

func (w *wireInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("op code %q is not an integer: %w", s, err)
	}
	*w = wireInt(v)
	return nil
}

// decode unpacks the base64 message body into out.
func (md matchData) decode(t *testing.T, out any) {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(md.Data)
	if err != nil {
		t.Fatalf("Failed to decode match data: %v", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		t.Fatalf("Failed to unmarshal match data %s: %v", raw, err)
	}
}

// NewTestClient authenticates a throwaway device account and connects its
// realtime socket.
func NewTestClient(t *testing.T) *TestClient {
	t.Helper()

	deviceID := fmt.Sprintf("it-device-%d", time.Now().UnixNano())
	body, _ := json.Marshal(map[string]string{"id": deviceID})

	authURL := fmt.Sprintf("http://%s:%d/v2/account/authenticate/device?create=true", Host, Port)
	req, err := http.NewRequest(http.MethodPost, authURL, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to build auth request: %v", err)
	}
	req.SetBasicAuth(ServerKey, "")
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Failed to authenticate: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Authentication returned %d: %s", resp.StatusCode, raw)
	}

	var session struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(raw, &session); err != nil {
		t.Fatalf("Failed to parse session: %v", err)
	}
	userID, err := userIDFromToken(session.Token)
	if err != nil {
		t.Fatalf("Failed to extract user id: %v", err)
	}

	wsURL := fmt.Sprintf("ws://%s:%d/ws?token=%s&format=json&status=false", Host, Port, url.QueryEscape(session.Token))
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to connect socket: %v", err)
	}

	return &TestClient{Token: session.Token, UserID: userID, ws: ws}
}

func (tc *TestClient) Close() {
	if tc.ws != nil {
		tc.ws.Close()
	}
}

// userIDFromToken pulls the uid claim out of the session JWT.
func userIDFromToken(token string) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", fmt.Errorf("token is not a JWT")
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("failed to decode token payload: %w", err)
	}
	var claims struct {
		UID string `json:"uid"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return "", fmt.Errorf("failed to parse token claims: %w", err)
	}
	if claims.UID == "" {
		return "", fmt.Errorf("token carries no uid claim")
	}
	return claims.UID, nil
}

// rpcRaw calls an RPC with the session token and returns the HTTP status and
// raw response body. The unwrap parameter keeps payloads plain JSON in both
// directions.
func (tc *TestClient) rpcRaw(t *testing.T, id string, reqBody any) (int, []byte) {
	t.Helper()

	body, err := json.Marshal(reqBody)
	if err != nil {
		t.Fatalf("Failed to marshal %s request: %v", id, err)
	}
	rpcURL := fmt.Sprintf("http://%s:%d/v2/rpc/%s?unwrap=true", Host, Port, id)
	req, err := http.NewRequest(http.MethodPost, rpcURL, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to build %s request: %v", id, err)
	}
	req.Header.Set("Authorization", "Bearer "+tc.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("RPC %s failed: %v", id, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, raw
}

// Rpc calls an RPC, fails the test on any non-OK status, and decodes the
// response into out when out is non-nil.
func (tc *TestClient) Rpc(t *testing.T, id string, reqBody, out any) {
	t.Helper()
	status, raw := tc.rpcRaw(t, id, reqBody)
	if status != http.StatusOK {
		t.Fatalf("RPC %s returned %d: %s", id, status, raw)
	}
	if out == nil {
		return
	}
	if err := json.Unmarshal(raw, out); err != nil {
		t.Fatalf("Failed to parse %s response %s: %v", id, raw, err)
	}
}

// JoinMatch joins the realtime match and waits for the server's ack.
func (tc *TestClient) JoinMatch(t *testing.T, matchID string) {
	t.Helper()

	tc.cid++
	cid := strconv.Itoa(tc.cid)
	tc.send(t, envelope{CID: cid, MatchJoin: &matchJoin{MatchID: matchID}})

	deadline := time.Now().Add(5 * time.Second)
	for {
		env, err := tc.next(deadline)
		if err != nil {
			t.Fatalf("No join ack for match %s: %v", matchID, err)
		}
		if env.MatchData != nil {
			tc.pending = append(tc.pending, *env.MatchData)
			continue
		}
		if env.CID != cid {
			continue
		}
		if env.Error != nil {
			t.Fatalf("Failed to join match %s: %s", matchID, env.Error.Message)
		}
		return
	}
}

// SendMatchData sends one opcode frame into the match. Match messages get no
// ack; failures surface as OpError frames or timeouts on the reader side.
func (tc *TestClient) SendMatchData(t *testing.T, matchID string, opCode int64, data []byte) {
	t.Helper()
	tc.send(t, envelope{MatchDataSend: &matchDataSend{
		MatchID: matchID,
		OpCode:  strconv.FormatInt(opCode, 10),
		Data:    base64.StdEncoding.EncodeToString(data),
	}})
}

// WaitForOpCode returns the next match data frame with the given opcode,
// buffering frames for other opcodes so interleaved broadcasts are not lost.
func (tc *TestClient) WaitForOpCode(t *testing.T, opCode int64, timeout time.Duration) matchData {
	t.Helper()

	for i, md := range tc.pending {
		if int64(md.OpCode) == opCode {
			tc.pending = append(tc.pending[:i], tc.pending[i+1:]...)
			return md
		}
	}

	deadline := time.Now().Add(timeout)
	for {
		env, err := tc.next(deadline)
		if err != nil {
			t.Fatalf("Timeout waiting for OpCode %d: %v", opCode, err)
		}
		if env.MatchData == nil {
			continue
		}
		if int64(env.MatchData.OpCode) == opCode {
			return *env.MatchData
		}
		tc.pending = append(tc.pending, *env.MatchData)
	}
}

func (tc *TestClient) send(t *testing.T, env envelope) {
	t.Helper()
	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("Failed to marshal envelope: %v", err)
	}
	if err := tc.ws.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("Failed to write envelope: %v", err)
	}
}

func (tc *TestClient) next(deadline time.Time) (envelope, error) {
	if err := tc.ws.SetReadDeadline(deadline); err != nil {
		return envelope{}, err
	}
	_, raw, err := tc.ws.ReadMessage()
	if err != nil {
		return envelope{}, err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return envelope{}, fmt.Errorf("unparseable envelope %s: %w", raw, err)
	}
	return env, nil
}
