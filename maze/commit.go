package maze

import (
	"crypto/sha256"
	"fmt"
)

// CommitmentSize is the byte length of every exploration commitment.
const CommitmentSize = sha256.Size

// CommitPath hashes an ordered sequence of cells into a 32-byte
// commitment binding a player to the path without revealing it.
func CommitPath(path []Point) []byte {
	h := sha256.New()
	for _, p := range path {
		fmt.Fprintf(h, "%d,%d", p.X, p.Y)
	}
	return h.Sum(nil)
}

// CommitVisibility hashes the coordinates of every revealed cell, in
// grid order. Two players with the same explored set produce the same
// commitment regardless of the order they explored it in.
func CommitVisibility(v Visibility) []byte {
	h := sha256.New()
	for x := range v {
		for y, revealed := range v[x] {
			if revealed {
				fmt.Fprintf(h, "%d,%d", x, y)
			}
		}
	}
	return h.Sum(nil)
}
