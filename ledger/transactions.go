// Package ledger builds the transaction records consumed by the external
// ledger collaborator. The core never interprets ledger responses; it
// only produces these records and assumes eventual settlement.
package ledger

import (
	"errors"
	"fmt"

	"github.com/braid-game/braid/channel"
	"github.com/braid-game/braid/maze"
	"github.com/braid-game/braid/wire"
)

// Well-known receiver contracts.
const (
	TreasurePool  = "treasure_pool"
	GameContract  = "game_contract"
	AuditContract = "audit_contract"
)

// Transaction kinds, as journaled for the external ledger. The payload
// shape is fixed per kind.
const (
	KindCommitAnte        = "commit_ante"
	KindSubmitPath        = "submit_path"
	KindClaimTreasure     = "claim_treasure"
	KindSlashClaim        = "slash_claim"
	KindAuditTransaction  = "audit_transaction"
	KindOpenStateChannel  = "open_state_channel"
	KindCloseStateChannel = "close_state_channel"
	KindCommitMoveOnChain = "commit_move_on_chain"
)

// MoveHashSize fixes the width of the move hash inside a move-commitment
// payload. The proof bytes follow immediately with no delimiter, so the
// split is only decodable because every commitment is a SHA-256 digest.
const MoveHashSize = 32

// Ledger-related errors.
var (
	ErrDecode      = errors.New("malformed transaction bytes")
	ErrBadMoveHash = errors.New("move hash must be exactly 32 bytes")
)

// Transaction is one settlement record. Payload shape is fixed per
// factory; records are never assembled ad hoc.
type Transaction struct {
	Sender   string
	Receiver string
	Amount   float64
	Data     []byte
}

func newTransaction(sender, receiver string, amount float64, data []byte) Transaction {
	return Transaction{Sender: sender, Receiver: receiver, Amount: amount, Data: data}
}

// CommitAnte stakes a player's ante into the treasure pool.
func CommitAnte(sender string, amount float64) Transaction {
	return newTransaction(sender, TreasurePool, amount, nil)
}

// SubmitPath submits a player's claimed path at the end of the game.
func SubmitPath(sender string, path []maze.Point) Transaction {
	return newTransaction(sender, GameContract, 0, EncodePath(path))
}

// ClaimTreasure claims the prize for a player that reached the center in
// time.
func ClaimTreasure(sender string, amount float64) Transaction {
	return newTransaction(sender, TreasurePool, amount, nil)
}

// SlashClaim accuses another party of misbehavior.
func SlashClaim(sender, receiver, reason string) Transaction {
	return newTransaction(sender, receiver, 0, []byte(reason))
}

// AuditTransaction forwards caller-supplied audit evidence.
func AuditTransaction(sender string, data []byte) Transaction {
	return newTransaction(sender, AuditContract, 0, data)
}

// OpenStateChannel registers a channel's initial state on the ledger.
func OpenStateChannel(sender, receiver string, initialState channel.State) Transaction {
	return newTransaction(sender, receiver, 0, initialState.Encode())
}

// CloseStateChannel settles a channel with its final co-signed state.
func CloseStateChannel(sender, receiver string, finalState channel.State) Transaction {
	return newTransaction(sender, receiver, 0, finalState.Encode())
}

// CommitMoveOnChain escalates a disputed move: the 32-byte move hash
// followed by the opaque zero-knowledge proof bytes.
func CommitMoveOnChain(sender string, moveHash, zkProof []byte) (Transaction, error) {
	if len(moveHash) != MoveHashSize {
		return Transaction{}, ErrBadMoveHash
	}
	data := make([]byte, 0, len(moveHash)+len(zkProof))
	data = append(data, moveHash...)
	data = append(data, zkProof...)
	return newTransaction(sender, GameContract, 0, data), nil
}

// SplitMoveCommitment recovers the move hash and proof from a
// move-commitment payload.
func SplitMoveCommitment(data []byte) (moveHash, zkProof []byte, err error) {
	if len(data) < MoveHashSize {
		return nil, nil, fmt.Errorf("%w: payload shorter than a move hash", ErrDecode)
	}
	return data[:MoveHashSize], data[MoveHashSize:], nil
}

// EncodePath canonically encodes an ordered cell sequence: a u64 count
// followed by u64 x/y pairs, little-endian.
func EncodePath(path []maze.Point) []byte {
	b := wire.AppendUint64(nil, uint64(len(path)))
	for _, p := range path {
		b = wire.AppendUint64(b, uint64(p.X))
		b = wire.AppendUint64(b, uint64(p.Y))
	}
	return b
}

// DecodePath parses a canonical path payload.
func DecodePath(data []byte) ([]maze.Point, error) {
	r := wire.NewReader(data)
	n, err := r.Uint64()
	if err != nil {
		return nil, fmt.Errorf("%w: path length: %v", ErrDecode, err)
	}
	if n > uint64(r.Remaining()/16) {
		return nil, fmt.Errorf("%w: path length %d exceeds payload", ErrDecode, n)
	}
	path := make([]maze.Point, 0, n)
	for i := uint64(0); i < n; i++ {
		x, err := r.Uint64()
		if err != nil {
			return nil, fmt.Errorf("%w: path x: %v", ErrDecode, err)
		}
		y, err := r.Uint64()
		if err != nil {
			return nil, fmt.Errorf("%w: path y: %v", ErrDecode, err)
		}
		path = append(path, maze.Point{X: int(x), Y: int(y)})
	}
	if r.Remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrDecode, r.Remaining())
	}
	return path, nil
}

// Encode returns the canonical byte form of the transaction for handoff
// to the external ledger.
func (t Transaction) Encode() []byte {
	b := wire.AppendString(nil, t.Sender)
	b = wire.AppendString(b, t.Receiver)
	b = wire.AppendFloat64(b, t.Amount)
	return wire.AppendBytes(b, t.Data)
}

// Decode parses a canonical transaction record.
func Decode(data []byte) (Transaction, error) {
	r := wire.NewReader(data)
	sender, err := r.String()
	if err != nil {
		return Transaction{}, fmt.Errorf("%w: sender: %v", ErrDecode, err)
	}
	receiver, err := r.String()
	if err != nil {
		return Transaction{}, fmt.Errorf("%w: receiver: %v", ErrDecode, err)
	}
	amount, err := r.Float64()
	if err != nil {
		return Transaction{}, fmt.Errorf("%w: amount: %v", ErrDecode, err)
	}
	payload, err := r.Bytes()
	if err != nil {
		return Transaction{}, fmt.Errorf("%w: data: %v", ErrDecode, err)
	}
	if r.Remaining() != 0 {
		return Transaction{}, fmt.Errorf("%w: %d trailing bytes", ErrDecode, r.Remaining())
	}
	return Transaction{
		Sender:   sender,
		Receiver: receiver,
		Amount:   amount,
		Data:     append([]byte(nil), payload...),
	}, nil
}
