package domain

// Color tags a board cell or a piece. Zero marks an empty cell; placed
// pieces carry a tag in [1, ColorCount].
type Color uint8

// ColorCount is the number of distinct piece color tags.
const ColorCount = 6

// Valid reports whether the color is a legal tag for a placed piece.
func (c Color) Valid() bool {
	return c >= 1 && c <= ColorCount
}

// CellRef addresses a single cell on the board. Row and Col are zero-based.
type CellRef struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// PieceKind identifies one of the placeable shapes.
type PieceKind uint8

const (
	PieceUnknown PieceKind = iota
	PieceDot
	PieceBarTwoH
	PieceBarTwoV
	PieceBarThreeH
	PieceBarThreeV
	PieceBarFourH
	PieceBarFourV
	PieceSquareTwo
	PieceSquareThree
	PieceCornerNW
	PieceCornerNE
	PieceCornerSW
	PieceCornerSE

	pieceKindEnd
)

// PieceKindCount is the number of shapes in the catalog.
const PieceKindCount = int(pieceKindEnd) - 1

// footprints lists each shape's cell offsets relative to its origin, in a
// fixed order. Offsets never go negative so the origin is always the
// top-left corner of the shape's bounding box.
var footprints = [pieceKindEnd][]CellRef{
	PieceDot:       {{0, 0}},
	PieceBarTwoH:   {{0, 0}, {0, 1}},
	PieceBarTwoV:   {{0, 0}, {1, 0}},
	PieceBarThreeH: {{0, 0}, {0, 1}, {0, 2}},
	PieceBarThreeV: {{0, 0}, {1, 0}, {2, 0}},
	PieceBarFourH:  {{0, 0}, {0, 1}, {0, 2}, {0, 3}},
	PieceBarFourV:  {{0, 0}, {1, 0}, {2, 0}, {3, 0}},
	PieceSquareTwo: {{0, 0}, {0, 1}, {1, 0}, {1, 1}},
	PieceSquareThree: {
		{0, 0}, {0, 1}, {0, 2},
		{1, 0}, {1, 1}, {1, 2},
		{2, 0}, {2, 1}, {2, 2},
	},
	PieceCornerNW: {{0, 0}, {0, 1}, {1, 0}},
	PieceCornerNE: {{0, 0}, {0, 1}, {1, 1}},
	PieceCornerSW: {{0, 0}, {1, 0}, {1, 1}},
	PieceCornerSE: {{0, 1}, {1, 0}, {1, 1}},
}

var pieceKindNames = [pieceKindEnd]string{
	PieceUnknown:     "unknown",
	PieceDot:         "dot",
	PieceBarTwoH:     "bar2h",
	PieceBarTwoV:     "bar2v",
	PieceBarThreeH:   "bar3h",
	PieceBarThreeV:   "bar3v",
	PieceBarFourH:    "bar4h",
	PieceBarFourV:    "bar4v",
	PieceSquareTwo:   "square2",
	PieceSquareThree: "square3",
	PieceCornerNW:    "corner_nw",
	PieceCornerNE:    "corner_ne",
	PieceCornerSW:    "corner_sw",
	PieceCornerSE:    "corner_se",
}

// Valid reports whether the kind is part of the catalog.
func (k PieceKind) Valid() bool {
	return k > PieceUnknown && k < pieceKindEnd
}

// Footprint returns the shape's cell offsets. The returned slice is shared;
// callers must not mutate it.
func (k PieceKind) Footprint() []CellRef {
	if !k.Valid() {
		return nil
	}
	return footprints[k]
}

// CellCount returns how many cells the shape occupies.
func (k PieceKind) CellCount() int {
	return len(k.Footprint())
}

func (k PieceKind) String() string {
	if k >= pieceKindEnd {
		return "unknown"
	}
	return pieceKindNames[k]
}

// PieceDescriptor is one generated piece: a shape plus its color tag.
// Descriptors compare by value; equality is exact on both fields.
type PieceDescriptor struct {
	Kind  PieceKind `json:"kind"`
	Color Color     `json:"color"`
}

// Valid reports whether both the kind and the color are in range.
func (p PieceDescriptor) Valid() bool {
	return p.Kind.Valid() && p.Color.Valid()
}

func (p PieceDescriptor) String() string {
	return p.Kind.String()
}
