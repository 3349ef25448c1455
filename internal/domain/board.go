package domain

// BoardSize is the fixed edge length of a player's board.
const BoardSize = 8

// Board is a fixed 8x8 grid of cell occupancy markers. The zero value is an
// empty board. The synchronization layer only reasons about occupancy and
// in-range color tags; placement scoring and line clearing belong to the
// puzzle engine behind the engine bridge.
type Board [BoardSize][BoardSize]Color

// InBounds reports whether the cell lies on the board.
func InBounds(cell CellRef) bool {
	return cell.Row >= 0 && cell.Row < BoardSize && cell.Col >= 0 && cell.Col < BoardSize
}

// Occupied reports whether the given cell holds a piece. Out-of-bounds cells
// count as occupied so placement scans reject them uniformly.
func (b Board) Occupied(cell CellRef) bool {
	if !InBounds(cell) {
		return true
	}
	return b[cell.Row][cell.Col] != 0
}

// OccupiedCount returns the number of non-empty cells.
func (b Board) OccupiedCount() int {
	count := 0
	for r := 0; r < BoardSize; r++ {
		for c := 0; c < BoardSize; c++ {
			if b[r][c] != 0 {
				count++
			}
		}
	}
	return count
}

// CanPlaceAt reports whether the shape fits with its origin at the given
// cell: every footprint cell in bounds and empty.
func (b Board) CanPlaceAt(kind PieceKind, origin CellRef) bool {
	footprint := kind.Footprint()
	if len(footprint) == 0 {
		return false
	}
	for _, offset := range footprint {
		cell := CellRef{Row: origin.Row + offset.Row, Col: origin.Col + offset.Col}
		if b.Occupied(cell) {
			return false
		}
	}
	return true
}

// HasPlacement reports whether the shape fits anywhere on the board.
func (b Board) HasPlacement(kind PieceKind) bool {
	for r := 0; r < BoardSize; r++ {
		for c := 0; c < BoardSize; c++ {
			if b.CanPlaceAt(kind, CellRef{Row: r, Col: c}) {
				return true
			}
		}
	}
	return false
}

// HasAnyPlacement reports whether at least one of the given pieces fits
// somewhere. A player with no placement for any pending piece is locked out.
func (b Board) HasAnyPlacement(pieces []PieceDescriptor) bool {
	for _, p := range pieces {
		if b.HasPlacement(p.Kind) {
			return true
		}
	}
	return false
}

// Place returns a copy of the board with the piece stamped at origin. The
// caller is responsible for checking CanPlaceAt first; cells outside the
// board are ignored.
func (b Board) Place(piece PieceDescriptor, origin CellRef) Board {
	next := b
	for _, offset := range piece.Kind.Footprint() {
		cell := CellRef{Row: origin.Row + offset.Row, Col: origin.Col + offset.Col}
		if InBounds(cell) {
			next[cell.Row][cell.Col] = piece.Color
		}
	}
	return next
}
