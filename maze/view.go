package maze

// Visibility is a per-player boolean grid matching the maze dimensions,
// addressed as Visibility[x][y]. True marks a cell the player may see.
type Visibility [][]bool

// NewVisibility returns an all-hidden mask for a width x height maze.
func NewVisibility(width, height int) Visibility {
	v := make(Visibility, width)
	for x := range v {
		v[x] = make([]bool, height)
	}
	return v
}

// Fits reports whether the mask matches the given dimensions.
func (v Visibility) Fits(width, height int) bool {
	if len(v) != width {
		return false
	}
	for _, col := range v {
		if len(col) != height {
			return false
		}
	}
	return true
}

// Merge reveals every cell visible in other. Visibility only grows;
// a merge never hides a previously revealed cell.
func (v Visibility) Merge(other Visibility) error {
	if !other.Fits(len(v), len(v[0])) {
		return ErrDimensionMismatch
	}
	for x := range v {
		for y := range v[x] {
			v[x][y] = v[x][y] || other[x][y]
		}
	}
	return nil
}

// Clone returns an independent copy of the mask.
func (v Visibility) Clone() Visibility {
	out := make(Visibility, len(v))
	for x := range v {
		out[x] = append([]bool(nil), v[x]...)
	}
	return out
}

// Mask derives the partial maze a player is allowed to see. Visible cells
// are copied verbatim; hidden cells come back pristine, with all four
// walls and Visited unset, so unexplored topology never leaks.
func (m *Maze) Mask(visibility Visibility) (*Maze, error) {
	if !visibility.Fits(m.Width, m.Height) {
		return nil, ErrDimensionMismatch
	}

	masked, err := New(m.Width, m.Height)
	if err != nil {
		return nil, err
	}
	for x := 0; x < m.Width; x++ {
		for y := 0; y < m.Height; y++ {
			if visibility[x][y] {
				masked.Grid[x][y] = m.Grid[x][y]
			}
		}
	}
	return masked, nil
}
