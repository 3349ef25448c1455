package nakama

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"gridrival/internal/app"
	"gridrival/internal/config"
	"gridrival/internal/domain"
	"gridrival/internal/ports"

	"github.com/heroiclabs/nakama-common/runtime"
)

const (
	// timeoutCheckTicks is how often MatchLoop re-evaluates the turn
	// ceiling, in ticks.
	timeoutCheckTicks = 30

	// defaultEmptyShutdownTicks is how long a match with no connected
	// presences keeps its handler alive. The stored record outlives the
	// handler; play continues over RPCs and notifications.
	defaultEmptyShutdownTicks = 300
)

// matchTransport is the slice of the storage transport the handler needs,
// split out so tests can record persistence calls.
type matchTransport interface {
	LoadMatch(ctx context.Context, matchID string) (ports.StoredMatch, error)
	SubmitTurn(ctx context.Context, matchID string, payload []byte, version, nextHolderID string) (string, error)
	EndMatch(ctx context.Context, matchID string, payload []byte, version string) error
	Resign(ctx context.Context, matchID string, payload []byte, version, opponentID string) error
}

// MatchState holds the authoritative runtime state for the Nakama match handler.
type MatchState struct {
	Seats              [2]string                   `json:"seats"`       // User ids in join order; empty string means the seat is free
	Mode               domain.Mode                 `json:"mode"`        // Generation mode both boards draw from
	Tick               int64                       `json:"tick"`        // Current tick for timer logic
	EmptyTicks         int64                       `json:"empty_ticks"` // Consecutive ticks with no presences
	EmptyShutdownTicks int64                       `json:"empty_shutdown_ticks"`
	MatchID            string                      `json:"match_id"`
	Presences          map[string]runtime.Presence `json:"-"` // Map UserId -> Presence for targeted messaging
	App                *app.Service                `json:"-"` // Sync core service with match logic
	Record             *domain.MatchRecord         `json:"-"` // Authoritative record (nil while pairing)
	Version            string                      `json:"-"` // Storage version of the persisted record
	Rules              config.MatchRules           `json:"-"`
	Transport          matchTransport              `json:"-"`
	Archive            ports.ArchivePort           `json:"-"` // Result history writer
}

func (ms *MatchState) GetOpenSeatsCount() int {
	count := 0
	for _, seat := range ms.Seats {
		if seat == "" {
			count++
		}
	}
	return count
}

func (ms *MatchState) seatOf(userID string) int {
	for i, seat := range ms.Seats {
		if seat == userID {
			return i
		}
	}
	return -1
}

func (ms *MatchState) bothSeated() bool {
	return ms.Seats[0] != "" && ms.Seats[1] != ""
}

// NewMatch is the factory registered with the Nakama runtime.
func NewMatch(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule) (runtime.Match, error) {
	return &matchHandler{}, nil
}

type matchHandler struct{}

// MatchInit creates the handler state and the initial pairing label.
func (mh *matchHandler) MatchInit(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, params map[string]interface{}) (interface{}, int, string) {
	logger.Debug("MatchInit: Initializing match handler.")

	rules, err := config.Load(matchRulesPath)
	if err != nil {
		logger.Warn("MatchInit: Could not load match rules: %v", err)
		rules = config.Default()
	}

	state := &MatchState{
		EmptyShutdownTicks: defaultEmptyShutdownTicks,
		Presences:          make(map[string]runtime.Presence),
		App:                app.NewService(nil),
		Mode:               domain.ModeUniform,
		Rules:              rules,
		Transport:          NewStorageTransport(nk, logger),
		Archive:            NewNakamaArchiveAdapter(nk),
	}
	if matchID, ok := ctx.Value(runtime.RUNTIME_CTX_MATCH_ID).(string); ok {
		state.MatchID = matchID
	}

	if val, ok := params["mode"].(string); ok && val != "" {
		mode := domain.Mode(val)
		if mode.Valid() {
			state.Mode = mode
		} else {
			logger.Warn("MatchInit: Unknown mode %q, using %s", val, state.Mode)
		}
	}

	// Read environment variables for handler tuning
	env := ctx.Value(runtime.RUNTIME_CTX_ENV).(map[string]string)
	if val, ok := env["gridrival_empty_shutdown_secs"]; ok {
		if i, err := strconv.Atoi(val); err == nil && i > 0 {
			state.EmptyShutdownTicks = int64(i)
		}
	}

	labelBytes, err := json.Marshal(labelFor(state))
	if err != nil {
		logger.Error("MatchInit: Failed to marshal label: %v", err)
		return nil, 0, ""
	}

	tickRate := 1 // 1 tick per second; turn ceilings are hours, not frames
	return state, tickRate, string(labelBytes)
}

// MatchJoinAttempt admits the first two distinct players and readmits
// participants after a drop. Everyone else is turned away.
func (mh *matchHandler) MatchJoinAttempt(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, presence runtime.Presence, metadata map[string]string) (interface{}, bool, string) {
	matchState, ok := state.(*MatchState)
	if !ok {
		return state, false, "state not found"
	}

	if matchState.seatOf(presence.GetUserId()) >= 0 {
		return state, true, ""
	}
	if matchState.GetOpenSeatsCount() == 0 {
		return state, false, "Match full"
	}
	return state, true, ""
}

func (mh *matchHandler) MatchJoin(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, presences []runtime.Presence) interface{} {
	matchState, ok := state.(*MatchState)
	if !ok {
		logger.Error("MatchJoin: state not found")
		return state
	}

	for _, p := range presences {
		matchState.Presences[p.GetUserId()] = p

		if matchState.seatOf(p.GetUserId()) >= 0 {
			continue
		}
		assigned := false
		for i, seatUserId := range matchState.Seats {
			if seatUserId == "" {
				matchState.Seats[i] = p.GetUserId()
				assigned = true
				break
			}
		}
		if !assigned {
			logger.Warn("MatchJoin: User %s joined but no seat was available.", p.GetUserId())
		}
	}

	// Both seats filled for the first time: create the authoritative record.
	if matchState.bothSeated() && matchState.Record == nil {
		mh.createRecord(ctx, matchState, dispatcher, logger)
	}

	// Joining (and rejoining) presences get the current snapshot so their
	// engine can restore the board before any relayed event arrives.
	mh.sendSnapshot(matchState, dispatcher, logger, presences)

	mh.updateLabel(matchState, dispatcher, logger)

	return matchState
}

// createRecord starts the match once both seats are taken. The create-only
// write loses gracefully when another writer got there first: the stored
// record is adopted instead.
func (mh *matchHandler) createRecord(ctx context.Context, state *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger) {
	first := playerRefFor(state, state.Seats[0])
	second := playerRefFor(state, state.Seats[1])

	rec, events, err := state.App.StartMatch(state.MatchID, first, second, state.Mode, time.Now())
	if err != nil {
		logger.Error("MatchJoin: Failed to start match: %v", err)
		return
	}

	payload, err := domain.EncodeRecord(rec)
	if err != nil {
		logger.Error("MatchJoin: Failed to encode record: %v", err)
		return
	}

	version, err := state.Transport.SubmitTurn(ctx, state.MatchID, payload, "", rec.TurnHolderID)
	if err != nil {
		if errors.Is(err, ports.ErrVersionConflict) {
			logger.Info("MatchJoin: Record already created for %s, adopting stored copy.", state.MatchID)
			mh.adoptStored(ctx, state, logger)
			return
		}
		logger.Error("MatchJoin: Failed to persist record: %v", err)
		return
	}

	state.Record = &rec
	state.Version = version

	for _, ev := range events {
		mh.broadcastEvent(ctx, state, dispatcher, logger, ev)
	}
}

// playerRefFor builds the record-side identity for a seated player. The
// session username doubles as the display name; onboarding sets both to the
// same generated value.
func playerRefFor(state *MatchState, userID string) domain.PlayerRef {
	ref := domain.PlayerRef{ID: userID, DisplayName: userID}
	if p, ok := state.Presences[userID]; ok && p.GetUsername() != "" {
		ref.DisplayName = p.GetUsername()
	}
	return ref
}

// adoptStored replaces the in-memory record with the stored one after a
// lost write race or a version conflict.
func (mh *matchHandler) adoptStored(ctx context.Context, state *MatchState, logger runtime.Logger) {
	stored, err := state.Transport.LoadMatch(ctx, state.MatchID)
	if err != nil {
		logger.Error("Failed to load stored record for %s: %v", state.MatchID, err)
		return
	}
	rec, warnings, err := domain.DecodeRecord(stored.Payload)
	if err != nil {
		logger.Error("Stored record for %s is corrupt: %v", state.MatchID, err)
		return
	}
	for _, w := range warnings {
		logger.Warn("Stored record for %s repaired: %s defaulted to %s", state.MatchID, w.Field, w.Applied)
	}
	state.Record = &rec
	state.Version = stored.Version
}

// MatchLeave is called when one or more players leave the match.
func (mh *matchHandler) MatchLeave(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, presences []runtime.Presence) interface{} {
	matchState, ok := state.(*MatchState)
	if !ok {
		logger.Error("MatchLeave: state not found")
		return state
	}

	for _, p := range presences {
		delete(matchState.Presences, p.GetUserId())

		// Seats free up only while pairing. Once the record exists the
		// seat is the player's slot in the match, held across drops.
		if matchState.Record == nil {
			if i := matchState.seatOf(p.GetUserId()); i >= 0 {
				matchState.Seats[i] = ""
				logger.Debug("MatchLeave: User %s left, seat %d freed.", p.GetUserId(), i)
			}
		}
	}

	mh.updateLabel(matchState, dispatcher, logger)

	return matchState
}

func (mh *matchHandler) MatchLoop(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, messages []runtime.MatchData) interface{} {
	matchState, ok := state.(*MatchState)
	if !ok {
		return state
	}

	matchState.Tick = tick

	// Handle incoming messages
	for _, msg := range messages {
		switch msg.GetOpCode() {
		case OpSubmitTurn:
			mh.handleSubmitTurn(ctx, matchState, dispatcher, logger, msg)
		case OpResign:
			mh.handleResign(ctx, matchState, dispatcher, logger, msg)
		case OpSyncReport:
			mh.handleSyncReport(ctx, matchState, dispatcher, logger, msg)
		case OpStateRequest:
			mh.sendSnapshot(matchState, dispatcher, logger, []runtime.Presence{msg})
		default:
			logger.Warn("MatchLoop: Unknown opcode received: %d", msg.GetOpCode())
		}
	}

	if tick%timeoutCheckTicks == 0 {
		mh.checkTurnCeiling(ctx, matchState, dispatcher, logger)
	}

	// A handler with nobody connected eventually dissolves; the stored
	// record keeps the match playable over RPCs.
	if len(matchState.Presences) == 0 {
		matchState.EmptyTicks++
		if matchState.EmptyTicks >= matchState.EmptyShutdownTicks {
			logger.Info("MatchLoop: No presences for %d ticks, dissolving handler for %s.", matchState.EmptyTicks, matchState.MatchID)
			return nil
		}
	} else {
		matchState.EmptyTicks = 0
	}

	return matchState
}

// checkTurnCeiling finalizes the match when the holder sat on the turn past
// the configured ceiling.
func (mh *matchHandler) checkTurnCeiling(ctx context.Context, state *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger) {
	if state.Record == nil || state.Record.Ended {
		return
	}
	now := time.Now()
	if !app.TurnExpired(*state.Record, now, state.Rules.TurnCeiling()) {
		return
	}

	next, events, err := state.App.Timeout(*state.Record, now)
	if err != nil {
		logger.Error("Turn ceiling check failed for %s: %v", state.MatchID, err)
		return
	}

	logger.Info("Match %s timed out on turn %d.", state.MatchID, state.Record.TurnNumber)
	if !mh.persist(ctx, state, dispatcher, logger, next) {
		return
	}
	for _, ev := range events {
		mh.broadcastEvent(ctx, state, dispatcher, logger, ev)
	}
}

func (mh *matchHandler) handleSubmitTurn(ctx context.Context, state *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger, msg runtime.MatchData) {
	senderID := msg.GetUserId()

	if state.Record == nil {
		logger.Warn("handleSubmitTurn: Match not started.")
		mh.sendError(state, dispatcher, logger, senderID, 400, "match not started")
		return
	}

	var request submitTurnMessage
	if err := json.Unmarshal(msg.GetData(), &request); err != nil {
		logger.Error("handleSubmitTurn: Failed to unmarshal request: %v", err)
		mh.sendError(state, dispatcher, logger, senderID, 400, "malformed turn payload")
		return
	}

	next, events, err := state.App.ApplySubmission(*state.Record, senderID, request.Move, request.After, time.Now())
	if err != nil {
		logger.Warn("handleSubmitTurn: User %s failed to submit turn %d: %v", senderID, request.Move.TurnNumber, err)
		mh.sendError(state, dispatcher, logger, senderID, 400, err.Error())
		return
	}

	if !mh.persist(ctx, state, dispatcher, logger, next) {
		mh.sendError(state, dispatcher, logger, senderID, 409, "turn could not be stored")
		return
	}

	for _, ev := range events {
		mh.broadcastEvent(ctx, state, dispatcher, logger, ev)
	}
}

func (mh *matchHandler) handleResign(ctx context.Context, state *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger, msg runtime.MatchData) {
	senderID := msg.GetUserId()

	if state.Record == nil {
		logger.Warn("handleResign: Match not started.")
		mh.sendError(state, dispatcher, logger, senderID, 400, "match not started")
		return
	}

	next, events, err := state.App.Resign(*state.Record, senderID, time.Now())
	if err != nil {
		logger.Warn("handleResign: User %s failed to resign: %v", senderID, err)
		mh.sendError(state, dispatcher, logger, senderID, 400, err.Error())
		return
	}

	payload, err := domain.EncodeRecord(next)
	if err != nil {
		logger.Error("handleResign: Failed to encode record: %v", err)
		return
	}
	err = state.Transport.Resign(ctx, state.MatchID, payload, state.Version, next.OpponentID(senderID))
	if err != nil {
		if errors.Is(err, ports.ErrVersionConflict) {
			mh.adoptStored(ctx, state, logger)
			mh.sendSnapshot(state, dispatcher, logger, nil)
		} else {
			logger.Error("handleResign: Failed to persist record: %v", err)
		}
		return
	}
	state.Record = &next

	for _, ev := range events {
		mh.broadcastEvent(ctx, state, dispatcher, logger, ev)
	}
}

// handleSyncReport reconciles a device's derived piece set. A report with a
// stale turn or seed just gets the current snapshot; a report that matches
// the stored cursor but disagrees on pieces is a derivation dispute, and
// the server refreshes the seed on behalf of the turn holder.
func (mh *matchHandler) handleSyncReport(ctx context.Context, state *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger, msg runtime.MatchData) {
	senderID := msg.GetUserId()

	if state.Record == nil {
		mh.sendError(state, dispatcher, logger, senderID, 400, "match not started")
		return
	}

	var report syncReportMessage
	if err := json.Unmarshal(msg.GetData(), &report); err != nil {
		logger.Error("handleSyncReport: Failed to unmarshal report: %v", err)
		mh.sendError(state, dispatcher, logger, senderID, 400, "malformed sync report")
		return
	}

	rec := *state.Record
	if report.TurnNumber != rec.TurnNumber || report.Seed != rec.RandomSeed {
		logger.Debug("handleSyncReport: User %s reported stale cursor (turn %d seed %d), sending snapshot.", senderID, report.TurnNumber, report.Seed)
		if p, ok := state.Presences[senderID]; ok {
			mh.sendSnapshot(state, dispatcher, logger, []runtime.Presence{p})
		}
		return
	}

	res, events, err := state.App.Resync(rec, rec.PendingPieces[:], report.Pieces, rec.TurnHolderID, time.Now())
	if err != nil {
		logger.Warn("handleSyncReport: Resync for user %s failed: %v", senderID, err)
		mh.sendError(state, dispatcher, logger, senderID, 400, err.Error())
		return
	}
	if res.Incident != "" {
		logger.Warn("handleSyncReport: %s (match %s, reporter %s)", res.Incident, state.MatchID, senderID)
	}

	if res.RecordChanged {
		if !mh.persist(ctx, state, dispatcher, logger, res.Record) {
			return
		}
	} else if p, ok := state.Presences[senderID]; ok {
		// Clean report: reconfirm the derivation to the reporter.
		mh.broadcastEvent(ctx, state, dispatcher, logger, app.Event{
			Kind: app.EventPiecesDealt,
			Payload: app.PiecesDealtPayload{
				MatchID:    rec.MatchID,
				TurnNumber: rec.TurnNumber,
				HolderID:   rec.TurnHolderID,
				Seed:       rec.RandomSeed,
				Pieces:     res.Pieces[:],
			},
			Recipients: []string{p.GetUserId()},
		})
	}

	for _, ev := range events {
		mh.broadcastEvent(ctx, state, dispatcher, logger, ev)
	}
}

// persist writes the record through the transport and adopts it on
// success. On a version conflict the stored copy wins: it is adopted and
// re-announced, and false is returned so the caller drops its derived
// events.
func (mh *matchHandler) persist(ctx context.Context, state *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger, next domain.MatchRecord) bool {
	payload, err := domain.EncodeRecord(next)
	if err != nil {
		logger.Error("Failed to encode record for %s: %v", state.MatchID, err)
		return false
	}

	if next.Ended {
		err = state.Transport.EndMatch(ctx, state.MatchID, payload, state.Version)
	} else {
		var newVersion string
		newVersion, err = state.Transport.SubmitTurn(ctx, state.MatchID, payload, state.Version, next.TurnHolderID)
		if err == nil {
			state.Version = newVersion
		}
	}
	if err != nil {
		if errors.Is(err, ports.ErrVersionConflict) {
			logger.Warn("Record for %s moved underneath the handler, adopting stored copy.", state.MatchID)
			mh.adoptStored(ctx, state, logger)
			mh.sendSnapshot(state, dispatcher, logger, nil)
			return false
		}
		logger.Error("Failed to persist record for %s: %v", state.MatchID, err)
		return false
	}

	state.Record = &next
	return true
}

// broadcastEvent handles the conversion and dispatching of app events to Nakama.
func (mh *matchHandler) broadcastEvent(ctx context.Context, state *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger, ev app.Event) {
	opCode, bytes, err := marshalEvent(ev)
	if err != nil {
		logger.Error("Failed to marshal event %v: %v", ev.Kind, err)
		return
	}

	if ev.Kind == app.EventMatchEnded {
		if p, ok := ev.Payload.(app.MatchEndedPayload); ok {
			archiveEndedMatch(ctx, logger, state.Archive, p.Record)
		}
		mh.updateLabel(state, dispatcher, logger)
	}

	// Determine recipients (default to broadcast)
	var recipients []runtime.Presence
	if len(ev.Recipients) > 0 {
		for _, uid := range ev.Recipients {
			if p, ok := state.Presences[uid]; ok {
				recipients = append(recipients, p)
			}
		}

		// If we had intended recipients but none are connected, we MUST
		// NOT broadcast to everyone else. Offline delivery is the
		// transport's notification, already sent when the record was
		// persisted.
		if len(recipients) == 0 {
			return
		}
	}

	dispatcher.BroadcastMessage(opCode, bytes, recipients, nil, true)
}

// sendSnapshot sends the full match state to the given presences, or to
// everyone when presences is nil.
func (mh *matchHandler) sendSnapshot(state *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger, presences []runtime.Presence) {
	snapshot := stateSnapshotMessage{
		Seats:   state.Seats[:],
		Mode:    state.Mode,
		Record:  state.Record,
		Version: state.Version,
	}
	bytes, err := json.Marshal(snapshot)
	if err != nil {
		logger.Error("Failed to marshal state snapshot: %v", err)
		return
	}
	dispatcher.BroadcastMessage(OpStateSnapshot, bytes, presences, nil, true)
}

// sendError sends an errorMessage to a specific user.
func (mh *matchHandler) sendError(state *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger, userID string, code int, message string) {
	bytes, err := json.Marshal(errorMessage{Code: code, Message: message})
	if err != nil {
		logger.Error("Failed to marshal errorMessage: %v", err)
		return
	}

	presence, ok := state.Presences[userID]
	if !ok {
		logger.Warn("Cannot send error to %s: Presence not found", userID)
		return
	}

	dispatcher.BroadcastMessage(OpError, bytes, []runtime.Presence{presence}, nil, true)
}

// labelFor derives the listing label from the handler state.
func labelFor(state *MatchState) matchLabel {
	phase := "pairing"
	if state.Record != nil {
		phase = "playing"
		if state.Record.Ended {
			phase = "ended"
		}
	}
	players := make([]string, 0, 2)
	for _, seat := range state.Seats {
		if seat != "" {
			players = append(players, seat)
		}
	}
	return matchLabel{
		Open:    state.GetOpenSeatsCount(),
		Mode:    string(state.Mode),
		Phase:   phase,
		Players: players,
	}
}

func (mh *matchHandler) updateLabel(state *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger) {
	labelBytes, err := json.Marshal(labelFor(state))
	if err != nil {
		logger.Error("UpdateLabel: Failed to marshal: %v", err)
		return
	}
	if err := dispatcher.MatchLabelUpdate(string(labelBytes)); err != nil {
		logger.Error("UpdateLabel: Failed to update: %v", err)
	}
}

func (mh *matchHandler) MatchTerminate(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, reason int) interface{} {
	logger.Debug("MatchTerminate: Match terminated for reason %d", reason)
	return state
}

func (mh *matchHandler) MatchSignal(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, data string) (interface{}, string) {
	return state, ""
}
