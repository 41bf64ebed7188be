package service

import "github.com/braid-game/braid/maze"

// PlayerRequest is one inbound exploration update. The mask is merged
// into the player's stored mask; the commitment binds the player to the
// exploration state being claimed.
type PlayerRequest struct {
	ID              string          `json:"id"`
	ExplorationMask maze.Visibility `json:"exploration_mask"`
	Commitment      []byte          `json:"commitment"`
}

// MazeResponse carries the masked maze back to the player together with
// the shared clock reading that accepted the request.
type MazeResponse struct {
	Maze     *maze.Maze `json:"maze"`
	Turn     uint64     `json:"turn"`
	Treasure float64    `json:"treasure"`
	GameOver bool       `json:"game_over"`
}
