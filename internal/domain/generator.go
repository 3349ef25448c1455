package domain

import "hash/fnv"

// Mode selects the weighting strategy for piece generation. The mode is part
// of the inputs both sides agree on and is carried in the MatchRecord: a
// different mode yields a different, but still internally consistent,
// sequence.
type Mode string

const (
	// ModeUniform draws every shape with equal probability.
	ModeUniform Mode = "uniform"
	// ModeStrategic favors small, flexible shapes that tend to remain
	// placeable as the board fills up.
	ModeStrategic Mode = "strategic"
	// ModeEasy skews further toward small shapes.
	ModeEasy Mode = "easy"
	// ModeHard skews toward large shapes.
	ModeHard Mode = "hard"
)

// Valid reports whether the mode is one of the agreed strategies.
func (m Mode) Valid() bool {
	switch m {
	case ModeUniform, ModeStrategic, ModeEasy, ModeHard:
		return true
	}
	return false
}

// Shape weights per mode, indexed by PieceKind. A zero weight removes the
// shape from that mode's pool.
var (
	uniformWeights = [pieceKindEnd]int{
		PieceDot: 1, PieceBarTwoH: 1, PieceBarTwoV: 1,
		PieceBarThreeH: 1, PieceBarThreeV: 1,
		PieceBarFourH: 1, PieceBarFourV: 1,
		PieceSquareTwo: 1, PieceSquareThree: 1,
		PieceCornerNW: 1, PieceCornerNE: 1, PieceCornerSW: 1, PieceCornerSE: 1,
	}
	strategicWeights = [pieceKindEnd]int{
		PieceDot: 4, PieceBarTwoH: 3, PieceBarTwoV: 3,
		PieceBarThreeH: 2, PieceBarThreeV: 2,
		PieceBarFourH: 1, PieceBarFourV: 1,
		PieceSquareTwo: 2, PieceSquareThree: 1,
		PieceCornerNW: 3, PieceCornerNE: 3, PieceCornerSW: 3, PieceCornerSE: 3,
	}
	easyWeights = [pieceKindEnd]int{
		PieceDot: 5, PieceBarTwoH: 4, PieceBarTwoV: 4,
		PieceBarThreeH: 3, PieceBarThreeV: 3,
		PieceBarFourH: 1, PieceBarFourV: 1,
		PieceSquareTwo: 2, PieceSquareThree: 0,
		PieceCornerNW: 2, PieceCornerNE: 2, PieceCornerSW: 2, PieceCornerSE: 2,
	}
	hardWeights = [pieceKindEnd]int{
		PieceDot: 1, PieceBarTwoH: 1, PieceBarTwoV: 1,
		PieceBarThreeH: 2, PieceBarThreeV: 2,
		PieceBarFourH: 3, PieceBarFourV: 3,
		PieceSquareTwo: 3, PieceSquareThree: 4,
		PieceCornerNW: 1, PieceCornerNE: 1, PieceCornerSW: 1, PieceCornerSE: 1,
	}
)

// weights returns the mode's shape weight table. Callers validate modes at
// the system boundary (decode, match start); an unknown mode here behaves as
// uniform.
func (m Mode) weights() [pieceKindEnd]int {
	switch m {
	case ModeStrategic:
		return strategicWeights
	case ModeEasy:
		return easyWeights
	case ModeHard:
		return hardWeights
	default:
		return uniformWeights
	}
}

// pieceStream is a 64-bit linear congruential generator private to piece
// generation. Its initial state mixes the seed with the turn number through
// a splitmix-style finalizer so that reusing a seed on a later turn cannot
// replay an earlier set. Knuth MMIX multiplier/increment.
const (
	streamMultiplier uint64 = 6364136223846793005
	streamIncrement  uint64 = 1442695040888963407
	turnGamma        uint64 = 0x9E3779B97F4A7C15
)

type pieceStream struct {
	state uint64
}

func newPieceStream(seed int64, turnNumber int) pieceStream {
	s := uint64(seed) + uint64(turnNumber)*turnGamma
	s ^= s >> 30
	s *= 0xBF58476D1CE4E5B9
	s ^= s >> 27
	s *= 0x94D049BB133111EB
	s ^= s >> 31
	if s == 0 {
		s = turnGamma
	}
	return pieceStream{state: s}
}

func (ps *pieceStream) next() uint64 {
	ps.state = ps.state*streamMultiplier + streamIncrement
	return ps.state
}

// intn returns a value in [0, n). The high bits of the LCG state are the
// well-distributed ones.
func (ps *pieceStream) intn(n int) int {
	return int((ps.next() >> 33) % uint64(n))
}

// Generate derives the ordered pending piece set for one turn. It is a pure
// function: identical (seed, turnNumber, mode) inputs yield identical output
// on any device, and there is no shared mutable state, so it is safe to call
// concurrently from any number of match instances.
func Generate(seed int64, turnNumber int, mode Mode) [PendingPieceCount]PieceDescriptor {
	stream := newPieceStream(seed, turnNumber)
	weights := mode.weights()

	var out [PendingPieceCount]PieceDescriptor
	for i := range out {
		kind := pickWeighted(&stream, weights)
		color := Color(stream.intn(ColorCount) + 1)
		out[i] = PieceDescriptor{Kind: kind, Color: color}
	}
	return out
}

func pickWeighted(stream *pieceStream, weights [pieceKindEnd]int) PieceKind {
	total := 0
	for _, w := range weights {
		total += w
	}
	roll := stream.intn(total)
	for kind := PieceDot; kind < pieceKindEnd; kind++ {
		roll -= weights[kind]
		if roll < 0 {
			return kind
		}
	}
	return PieceDot
}

// EmergencyPieces derives a piece set from the player's own id when no valid
// MatchRecord is obtainable at all. Play continues on a locally-seeded set
// instead of blocking; the caller is responsible for reporting the fairness
// degradation.
func EmergencyPieces(playerID string, turnNumber int, mode Mode) [PendingPieceCount]PieceDescriptor {
	h := fnv.New64a()
	h.Write([]byte(playerID))
	return Generate(int64(h.Sum64()), turnNumber, mode)
}
