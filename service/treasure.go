package service

import "sync"

// TreasureAt derives the prize pool for a turn: the pool holds its
// initial value through the first half of the game, then decays by 0.1
// per turn, floored at zero.
func TreasureAt(initialTreasure float64, maxTurns, turn uint64) float64 {
	half := maxTurns / 2
	if turn <= half {
		return initialTreasure
	}
	treasure := initialTreasure - float64(turn-half)*0.1
	if treasure < 0 {
		return 0
	}
	return treasure
}

// TreasureClock is the single shared turn/economic clock. Exactly one
// instance exists per server; connection workers hold a reference, never
// a copy, so no increment is ever lost.
type TreasureClock struct {
	mu              sync.Mutex
	initialTreasure float64
	maxTurns        uint64
	currentTurn     uint64
}

// NewTreasureClock returns a clock at turn zero.
func NewTreasureClock(initialTreasure float64, maxTurns uint64) *TreasureClock {
	return &TreasureClock{initialTreasure: initialTreasure, maxTurns: maxTurns}
}

// Advance moves the clock forward one turn and returns the new turn and
// the treasure it implies. The increment and recompute are atomic with
// respect to all sessions.
func (c *TreasureClock) Advance() (turn uint64, treasure float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentTurn++
	return c.currentTurn, TreasureAt(c.initialTreasure, c.maxTurns, c.currentTurn)
}

// Snapshot returns the current turn and treasure without advancing.
func (c *TreasureClock) Snapshot() (turn uint64, treasure float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentTurn, TreasureAt(c.initialTreasure, c.maxTurns, c.currentTurn)
}

// Expired reports whether the game's turn limit has been reached.
func (c *TreasureClock) Expired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentTurn >= c.maxTurns
}

// MaxTurns returns the configured turn limit.
func (c *TreasureClock) MaxTurns() uint64 {
	return c.maxTurns
}
