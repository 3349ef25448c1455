package ports

import (
	"context"

	"gridrival/internal/domain"
)

// EngineSnapshot is the puzzle engine's output for one completed placement:
// the resulting grid plus the score facts the engine computed for it.
type EngineSnapshot struct {
	Board        domain.Board
	ScoreDelta   int
	LinesCleared int
}

// EngineBridgePort converts between a stored board and the live puzzle
// engine. Both calls are synchronous copy-in/copy-out operations and must
// not run concurrently with an active placement on the same board.
type EngineBridgePort interface {
	// CaptureBoard snapshots the engine's grid after the pending placement.
	CaptureBoard(ctx context.Context) (EngineSnapshot, error)

	// RestoreBoard pushes a stored grid into the engine before play
	// resumes on this device.
	RestoreBoard(ctx context.Context, board domain.Board) error
}
