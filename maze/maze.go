// Package maze implements the shared dungeon: spanning-tree generation,
// per-player fog-of-war views and exploration commitments.
package maze

import (
	"errors"
	"math/rand"
)

// Wall indexes into Cell.Walls.
const (
	North = iota
	East
	South
	West
)

// Maze-related errors.
var (
	ErrBadDimension      = errors.New("maze dimensions must be positive")
	ErrDimensionMismatch = errors.New("visibility mask does not match maze dimensions")
)

// Point identifies a cell by its grid coordinates.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Cell is a single maze cell. Walls are ordered [north, east, south, west];
// a wall shared by two adjacent cells is absent on both sides or neither.
type Cell struct {
	X       int     `json:"x"`
	Y       int     `json:"y"`
	Visited bool    `json:"visited"`
	Walls   [4]bool `json:"walls"`
}

func newCell(x, y int) Cell {
	return Cell{X: x, Y: y, Walls: [4]bool{true, true, true, true}}
}

// Maze is a width x height grid of cells addressed as Grid[x][y].
type Maze struct {
	Width  int      `json:"width"`
	Height int      `json:"height"`
	Grid   [][]Cell `json:"grid"`
}

// New returns a maze with every wall intact and no cell visited.
func New(width, height int) (*Maze, error) {
	if width < 1 || height < 1 {
		return nil, ErrBadDimension
	}
	grid := make([][]Cell, width)
	for x := 0; x < width; x++ {
		grid[x] = make([]Cell, height)
		for y := 0; y < height; y++ {
			grid[x][y] = newCell(x, y)
		}
	}
	return &Maze{Width: width, Height: height, Grid: grid}, nil
}

// Generate builds a fully connected maze over a width x height grid.
// The corridor graph is a spanning tree: every cell is reachable and
// exactly width*height-1 walls are removed.
func Generate(width, height int) (*Maze, error) {
	m, err := New(width, height)
	if err != nil {
		return nil, err
	}
	m.generate()
	return m, nil
}

// generate runs a randomized growing-tree walk. A cell stays on the
// frontier for as long as it has unvisited neighbors, so the walk only
// terminates once every cell has been reached.
func (m *Maze) generate() {
	frontier := make([]Point, 0, m.Width*m.Height)

	start := Point{X: rand.Intn(m.Width), Y: rand.Intn(m.Height)}
	m.Grid[start.X][start.Y].Visited = true
	frontier = append(frontier, start)

	for len(frontier) > 0 {
		cur := frontier[0]
		frontier = frontier[1:]

		neighbors := m.unvisitedNeighbors(cur.X, cur.Y)
		if len(neighbors) == 0 {
			continue
		}

		next := neighbors[rand.Intn(len(neighbors))]
		m.removeWall(cur, next)
		m.Grid[next.X][next.Y].Visited = true
		frontier = append(frontier, cur, next)
	}
}

func (m *Maze) unvisitedNeighbors(x, y int) []Point {
	neighbors := make([]Point, 0, 4)
	if x > 0 && !m.Grid[x-1][y].Visited {
		neighbors = append(neighbors, Point{X: x - 1, Y: y})
	}
	if x < m.Width-1 && !m.Grid[x+1][y].Visited {
		neighbors = append(neighbors, Point{X: x + 1, Y: y})
	}
	if y > 0 && !m.Grid[x][y-1].Visited {
		neighbors = append(neighbors, Point{X: x, Y: y - 1})
	}
	if y < m.Height-1 && !m.Grid[x][y+1].Visited {
		neighbors = append(neighbors, Point{X: x, Y: y + 1})
	}
	return neighbors
}

// removeWall opens the passage between two adjacent cells, keeping the
// wall flags symmetric on both sides.
func (m *Maze) removeWall(a, b Point) {
	switch {
	case a.X == b.X && a.Y > b.Y:
		m.Grid[a.X][a.Y].Walls[North] = false
		m.Grid[b.X][b.Y].Walls[South] = false
	case a.X == b.X && a.Y < b.Y:
		m.Grid[a.X][a.Y].Walls[South] = false
		m.Grid[b.X][b.Y].Walls[North] = false
	case a.Y == b.Y && a.X > b.X:
		m.Grid[a.X][a.Y].Walls[West] = false
		m.Grid[b.X][b.Y].Walls[East] = false
	case a.Y == b.Y && a.X < b.X:
		m.Grid[a.X][a.Y].Walls[East] = false
		m.Grid[b.X][b.Y].Walls[West] = false
	}
}

// InBound reports whether (x, y) addresses a cell of the maze.
func (m *Maze) InBound(x, y int) bool {
	return x >= 0 && x < m.Width && y >= 0 && y < m.Height
}
