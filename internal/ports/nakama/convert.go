package nakama

import (
	"encoding/json"
	"fmt"

	"gridrival/internal/app"
	"gridrival/internal/domain"
)

// Wire messages exchanged over the match socket. Events reuse the app
// payload structs directly; the op code is the discriminator, so no outer
// envelope is needed.

// submitTurnMessage is the OpSubmitTurn request body.
type submitTurnMessage struct {
	Move  domain.Move  `json:"move"`
	After domain.Board `json:"after"`
}

// syncReportMessage is the OpSyncReport request body: the set the device
// derived for the turn and seed it believes are current.
type syncReportMessage struct {
	TurnNumber int                      `json:"turn_number"`
	Seed       int64                    `json:"seed"`
	Pieces     []domain.PieceDescriptor `json:"pieces"`
}

// stateSnapshotMessage is the OpStateSnapshot body sent on join and on
// OpStateRequest. Record is null while the match is still pairing.
type stateSnapshotMessage struct {
	Seats   []string            `json:"seats"`
	Mode    domain.Mode         `json:"mode"`
	Record  *domain.MatchRecord `json:"record"`
	Version string              `json:"version"`
}

// errorMessage is the OpError body sent to a single client.
type errorMessage struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// eventOpCode maps an app event kind to its wire op code.
func eventOpCode(kind app.EventKind) (int64, bool) {
	switch kind {
	case app.EventMatchStarted:
		return OpMatchStarted, true
	case app.EventPiecesDealt:
		return OpPiecesDealt, true
	case app.EventTurnApplied:
		return OpTurnApplied, true
	case app.EventMatchEnded:
		return OpMatchEnded, true
	case app.EventDesyncResolved:
		return OpDesyncResolved, true
	case app.EventSeedRefreshed:
		return OpSeedRefreshed, true
	case app.EventSeedRefreshRequested:
		return OpSeedRefreshRequested, true
	case app.EventSyncDegraded:
		return OpSyncDegraded, true
	default:
		return 0, false
	}
}

// marshalEvent converts an app event into its op code and JSON body.
func marshalEvent(ev app.Event) (int64, []byte, error) {
	opCode, ok := eventOpCode(ev.Kind)
	if !ok {
		return 0, nil, fmt.Errorf("unknown event kind: %v", ev.Kind)
	}
	data, err := json.Marshal(ev.Payload)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to marshal %s payload: %w", ev.Kind, err)
	}
	return opCode, data, nil
}
