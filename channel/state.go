// Package channel implements the off-chain state-update protocol: two
// parties co-sign monotonically advancing game states and defer to the
// external ledger only on close or dispute.
package channel

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/braid-game/braid/wire"
)

// Channel-related errors.
var (
	ErrDecode           = errors.New("malformed state bytes")
	ErrStaleUpdate      = errors.New("turn number does not advance the channel")
	ErrInvalidSignature = errors.New("signature does not verify against the state")
)

// State is one snapshot of a player's game progress. A State never
// changes once signed; the channel advances by replacing it wholesale.
type State struct {
	PlayerAddress string `json:"player_address"`
	MoveHash      []byte `json:"move_hash"`
	TurnNumber    uint64 `json:"turn_number"`
}

// Encode returns the canonical byte form of the state: length-prefixed
// address and move hash followed by the turn number, all little-endian.
// Signatures and ledger payloads are computed over exactly these bytes.
func (s State) Encode() []byte {
	b := wire.AppendString(nil, s.PlayerAddress)
	b = wire.AppendBytes(b, s.MoveHash)
	return wire.AppendUint64(b, s.TurnNumber)
}

// Hash digests the canonical encoding. This is the message both parties
// sign.
func (s State) Hash() []byte {
	sum := sha256.Sum256(s.Encode())
	return sum[:]
}

// DecodeState parses canonical state bytes. Trailing garbage is rejected
// along with truncated input.
func DecodeState(data []byte) (State, error) {
	r := wire.NewReader(data)
	addr, err := r.String()
	if err != nil {
		return State{}, fmt.Errorf("%w: player address: %v", ErrDecode, err)
	}
	moveHash, err := r.Bytes()
	if err != nil {
		return State{}, fmt.Errorf("%w: move hash: %v", ErrDecode, err)
	}
	turn, err := r.Uint64()
	if err != nil {
		return State{}, fmt.Errorf("%w: turn number: %v", ErrDecode, err)
	}
	if r.Remaining() != 0 {
		return State{}, fmt.Errorf("%w: %d trailing bytes", ErrDecode, r.Remaining())
	}
	return State{
		PlayerAddress: addr,
		MoveHash:      append([]byte(nil), moveHash...),
		TurnNumber:    turn,
	}, nil
}
