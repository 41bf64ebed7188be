package channel

import (
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// StateChannel tracks the co-signed state shared between one player and
// the server. InitialState is fixed at creation and is the fallback
// submitted to the ledger when no finalized update exists.
type StateChannel struct {
	PlayerAddress string
	ServerAddress string

	InitialState State
	CurrentState State

	// DER-encoded ECDSA signatures over CurrentState, nil until set.
	PlayerSignature []byte
	ServerSignature []byte

	playerPubKey *secp256k1.PublicKey
	serverPubKey *secp256k1.PublicKey
}

// New opens a channel at turn zero with an empty move hash and no
// signatures. The public keys pin which parties may finalize updates.
func New(playerAddress, serverAddress string, playerPubKey, serverPubKey *secp256k1.PublicKey) *StateChannel {
	initial := State{PlayerAddress: playerAddress, TurnNumber: 0}
	return &StateChannel{
		PlayerAddress: playerAddress,
		ServerAddress: serverAddress,
		InitialState:  initial,
		CurrentState:  initial,
		playerPubKey:  playerPubKey,
		serverPubKey:  serverPubKey,
	}
}

// SignState signs the channel's current state with the caller's private
// key and returns the DER-encoded signature. The channel is not mutated.
func (c *StateChannel) SignState(secretKey *secp256k1.PrivateKey) []byte {
	return SignState(c.CurrentState, secretKey)
}

// SignState signs an arbitrary state snapshot.
func SignState(state State, secretKey *secp256k1.PrivateKey) []byte {
	return ecdsa.Sign(secretKey, state.Hash()).Serialize()
}

// VerifyState reports whether signature is a valid signature over the
// canonical hash of state under publicKey.
func VerifyState(state State, signature []byte, publicKey *secp256k1.PublicKey) bool {
	sig, err := ecdsa.ParseDERSignature(signature)
	if err != nil {
		return false
	}
	return sig.Verify(state.Hash(), publicKey)
}

// UpdateState replaces the current state with a new snapshot carrying
// moveHash and turnNumber. The update is rejected before any mutation if
// the turn number does not strictly increase, or if either signature
// fails to verify against the candidate state under the matching party
// key.
func (c *StateChannel) UpdateState(moveHash []byte, turnNumber uint64, playerSignature, serverSignature []byte) error {
	if turnNumber <= c.CurrentState.TurnNumber {
		return ErrStaleUpdate
	}

	next := State{
		PlayerAddress: c.PlayerAddress,
		MoveHash:      append([]byte(nil), moveHash...),
		TurnNumber:    turnNumber,
	}
	if !VerifyState(next, playerSignature, c.playerPubKey) {
		return ErrInvalidSignature
	}
	if !VerifyState(next, serverSignature, c.serverPubKey) {
		return ErrInvalidSignature
	}

	c.CurrentState = next
	c.PlayerSignature = append([]byte(nil), playerSignature...)
	c.ServerSignature = append([]byte(nil), serverSignature...)
	return nil
}

// Finalized reports whether both parties have signed the current state.
// Only a finalized state may settle the channel cooperatively.
func (c *StateChannel) Finalized() bool {
	return VerifyState(c.CurrentState, c.PlayerSignature, c.playerPubKey) &&
		VerifyState(c.CurrentState, c.ServerSignature, c.serverPubKey)
}

// SettlementState returns the state a party may submit to the ledger:
// the current state when finalized, otherwise the initial state.
func (c *StateChannel) SettlementState() State {
	if c.Finalized() {
		return c.CurrentState
	}
	return c.InitialState
}

// SerializeState encodes the current state for inclusion in a ledger
// transaction.
func (c *StateChannel) SerializeState() []byte {
	return c.CurrentState.Encode()
}

// DeserializeState decodes canonical state bytes received at settlement
// or dispute time.
func DeserializeState(data []byte) (State, error) {
	return DecodeState(data)
}
