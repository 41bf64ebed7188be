package i

import (
	"context"

	"github.com/google/uuid"
)

// SessionServer drives player sessions over any transport and exposes
// the control-plane operations the API surface needs.
type SessionServer interface {
	// HandleConn runs the request/response loop for one connection
	// until the peer closes, a protocol error occurs, or the game ends.
	HandleConn(Conn)

	// Register creates a player session and its state channel. The
	// public key is a compressed secp256k1 point.
	Register(ctx context.Context, playerID uuid.UUID, playerAddress string, publicKey []byte) error

	// SessionInfo reports the shared clock as seen by one player.
	SessionInfo(playerID uuid.UUID) (turn uint64, treasure float64, over bool, err error)
}
