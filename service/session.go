package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/braid-game/braid/channel"
	"github.com/braid-game/braid/ledger"
	"github.com/braid-game/braid/maze"
	"github.com/braid-game/braid/service/i"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Session-related errors.
var (
	ErrPlayerExists          = errors.New("player already registered")
	ErrUnknownPlayer         = errors.New("player is not registered")
	ErrProtocol              = errors.New("malformed player request")
	ErrNotBigEnoughDimension = errors.New("dimension is not big enough")
	ErrJournal               = errors.New("ledger journal failed")
)

const minDimension = 2 // Minimum maze dimension (width or height).

// LedgerJournal receives every transaction the server produces for the
// external ledger.
type LedgerJournal interface {
	Append(ctx context.Context, kind string, tx ledger.Transaction) (int64, error)
}

// PlayerSession holds one player's hidden-information view and the state
// channel backing it. The roster owns it exclusively; only that player's
// session loop mutates it.
type PlayerSession struct {
	ID         uuid.UUID
	Address    string
	mask       maze.Visibility
	commitment []byte
	channel    *channel.StateChannel
}

// Config carries the SessionServer dependencies.
type Config struct {
	MazeWidth       int
	MazeHeight      int
	MaxTurns        uint64
	InitialTreasure float64
	AnteAmount      float64
	ServerAddress   string
	ServerKey       *secp256k1.PrivateKey
	Journal         LedgerJournal
	Logger          logrus.FieldLogger
}

// SessionServer owns the shared maze, the player roster, the per-player
// state channels and the global turn/treasure clock. Connection workers
// hold a reference to the one server instance; mutable state is never
// cloned per connection.
type SessionServer struct {
	maze       *maze.Maze
	clock      *TreasureClock
	players    map[uuid.UUID]*PlayerSession
	anteAmount float64
	serverAddr string
	serverKey  *secp256k1.PrivateKey
	journal    LedgerJournal
	logger     logrus.FieldLogger
	sync.RWMutex
}

// NewSessionServer generates the shared maze once and returns a server
// ready to accept connections.
func NewSessionServer(c *Config) (*SessionServer, error) {
	if c.MazeWidth < minDimension || c.MazeHeight < minDimension {
		return nil, ErrNotBigEnoughDimension
	}
	if c.ServerKey == nil {
		return nil, errors.New("server signing key is required")
	}

	m, err := maze.Generate(c.MazeWidth, c.MazeHeight)
	if err != nil {
		return nil, fmt.Errorf("generating maze: %w", err)
	}

	logger := c.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &SessionServer{
		maze:       m,
		clock:      NewTreasureClock(c.InitialTreasure, c.MaxTurns),
		players:    make(map[uuid.UUID]*PlayerSession),
		anteAmount: c.AnteAmount,
		serverAddr: c.ServerAddress,
		serverKey:  c.ServerKey,
		journal:    c.Journal,
		logger:     logger,
	}, nil
}

// Register creates the player's session, opens its state channel and
// journals the channel-open and ante transactions.
func (s *SessionServer) Register(ctx context.Context, playerID uuid.UUID, playerAddress string, publicKey []byte) error {
	pubKey, err := secp256k1.ParsePubKey(publicKey)
	if err != nil {
		return fmt.Errorf("parsing player public key: %w", err)
	}

	s.Lock()
	if _, ok := s.players[playerID]; ok {
		s.Unlock()
		return ErrPlayerExists
	}
	ch := channel.New(playerAddress, s.serverAddr, pubKey, s.serverKey.PubKey())
	s.players[playerID] = &PlayerSession{
		ID:      playerID,
		Address: playerAddress,
		mask:    maze.NewVisibility(s.maze.Width, s.maze.Height),
		channel: ch,
	}
	s.Unlock()

	if err := s.journalTx(ctx, ledger.KindOpenStateChannel,
		ledger.OpenStateChannel(playerAddress, s.serverAddr, ch.InitialState)); err != nil {
		s.evict(playerID)
		return err
	}
	if err := s.journalTx(ctx, ledger.KindCommitAnte,
		ledger.CommitAnte(playerAddress, s.anteAmount)); err != nil {
		s.evict(playerID)
		return err
	}

	s.logger.Infof("registered player %s (%s)", playerID, playerAddress)
	return nil
}

// evict rolls a failed registration back out of the roster so the
// player can retry.
func (s *SessionServer) evict(playerID uuid.UUID) {
	s.Lock()
	delete(s.players, playerID)
	s.Unlock()
}

// SessionInfo reports the shared clock for a registered player.
func (s *SessionServer) SessionInfo(playerID uuid.UUID) (uint64, float64, bool, error) {
	s.RLock()
	_, ok := s.players[playerID]
	s.RUnlock()
	if !ok {
		return 0, 0, false, ErrUnknownPlayer
	}
	turn, treasure := s.clock.Snapshot()
	return turn, treasure, s.clock.Expired(), nil
}

// PlayerCommitment returns the player's latest exploration commitment,
// checked at settlement against the path the player reveals on-chain.
func (s *SessionServer) PlayerCommitment(playerID uuid.UUID) ([]byte, error) {
	s.RLock()
	defer s.RUnlock()
	player, ok := s.players[playerID]
	if !ok {
		return nil, ErrUnknownPlayer
	}
	return append([]byte(nil), player.commitment...), nil
}

// HandleConn runs the session loop for one connection: read a request,
// apply the exploration update, respond with the masked maze, advance
// the shared clock. A clean EOF ends the loop silently; a malformed
// request ends it with a logged protocol error. The loop also ends once
// the shared turn limit is reached, for every session at once.
func (s *SessionServer) HandleConn(conn i.Conn) {
	defer func() { _ = conn.Close() }()

	for {
		if s.clock.Expired() {
			s.logger.Info("turn limit reached, closing session")
			return
		}

		payload, err := conn.ReadMessage()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			s.logger.Warnf("reading player request: %v", err)
			return
		}

		var req PlayerRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			s.logger.Warnf("%v: %v", ErrProtocol, err)
			return
		}

		resp, err := s.processRequest(&req)
		if err != nil {
			s.logger.Warnf("processing request: %v", err)
			return
		}

		out, err := json.Marshal(resp)
		if err != nil {
			s.logger.Errorf("encoding response: %v", err)
			return
		}
		if err := conn.WriteMessage(out); err != nil {
			s.logger.Warnf("writing response: %v", err)
			return
		}

		if resp.GameOver {
			return
		}
	}
}

// processRequest applies one exploration update and derives the player's
// view. The mask merge and commitment store happen atomically under the
// roster lock; the maze itself is immutable after generation, so masking
// needs no lock.
func (s *SessionServer) processRequest(req *PlayerRequest) (*MazeResponse, error) {
	playerID, err := uuid.Parse(req.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: bad player id: %v", ErrProtocol, err)
	}
	if len(req.Commitment) != 0 && len(req.Commitment) != maze.CommitmentSize {
		return nil, fmt.Errorf("%w: commitment must be %d bytes", ErrProtocol, maze.CommitmentSize)
	}

	s.Lock()
	player, ok := s.players[playerID]
	if !ok {
		s.Unlock()
		return nil, ErrUnknownPlayer
	}
	if err := player.mask.Merge(req.ExplorationMask); err != nil {
		s.Unlock()
		return nil, err
	}
	if len(req.Commitment) != 0 {
		player.commitment = append([]byte(nil), req.Commitment...)
	}
	view := player.mask.Clone()
	s.Unlock()

	masked, err := s.maze.Mask(view)
	if err != nil {
		return nil, err
	}

	turn, treasure := s.clock.Advance()
	return &MazeResponse{
		Maze:     masked,
		Turn:     turn,
		Treasure: treasure,
		GameOver: turn >= s.clock.MaxTurns(),
	}, nil
}

// CoSignMove advances a player's state channel one move: the server
// verifies nothing here beyond what the channel enforces, countersigns
// the candidate state and applies the update. The server signature is
// returned so the player can retain the finalized pair.
func (s *SessionServer) CoSignMove(playerID uuid.UUID, moveHash []byte, turnNumber uint64, playerSignature []byte) ([]byte, error) {
	s.Lock()
	defer s.Unlock()

	player, ok := s.players[playerID]
	if !ok {
		return nil, ErrUnknownPlayer
	}

	next := channel.State{
		PlayerAddress: player.Address,
		MoveHash:      append([]byte(nil), moveHash...),
		TurnNumber:    turnNumber,
	}
	serverSignature := channel.SignState(next, s.serverKey)
	if err := player.channel.UpdateState(moveHash, turnNumber, playerSignature, serverSignature); err != nil {
		return nil, err
	}
	return serverSignature, nil
}

// CloseChannel settles a player's channel cooperatively: the last
// finalized state, or the initial state when no finalized update exists,
// is journaled for the ledger and the player leaves the roster.
func (s *SessionServer) CloseChannel(ctx context.Context, playerID uuid.UUID) error {
	s.Lock()
	player, ok := s.players[playerID]
	if !ok {
		s.Unlock()
		return ErrUnknownPlayer
	}
	final := player.channel.SettlementState()
	delete(s.players, playerID)
	s.Unlock()

	return s.journalTx(ctx, ledger.KindCloseStateChannel,
		ledger.CloseStateChannel(player.Address, s.serverAddr, final))
}

// DisputeMove escalates a player's latest co-signed move to the ledger
// with an opaque proof blob attached.
func (s *SessionServer) DisputeMove(ctx context.Context, playerID uuid.UUID, zkProof []byte) error {
	s.RLock()
	player, ok := s.players[playerID]
	if !ok {
		s.RUnlock()
		return ErrUnknownPlayer
	}
	// CoSignMove mutates the channel under the roster lock; the
	// settlement read and the hash copy stay under it too.
	moveHash := append([]byte(nil), player.channel.SettlementState().MoveHash...)
	s.RUnlock()

	tx, err := ledger.CommitMoveOnChain(player.Address, moveHash, zkProof)
	if err != nil {
		return err
	}
	return s.journalTx(ctx, ledger.KindCommitMoveOnChain, tx)
}

// SubmitPath journals a player's claimed path for end-of-game
// verification by the game contract.
func (s *SessionServer) SubmitPath(ctx context.Context, playerID uuid.UUID, path []maze.Point) error {
	s.RLock()
	player, ok := s.players[playerID]
	s.RUnlock()
	if !ok {
		return ErrUnknownPlayer
	}
	return s.journalTx(ctx, ledger.KindSubmitPath, ledger.SubmitPath(player.Address, path))
}

// ClaimTreasure journals a claim for the pool at its current value.
func (s *SessionServer) ClaimTreasure(ctx context.Context, playerID uuid.UUID) error {
	s.RLock()
	player, ok := s.players[playerID]
	s.RUnlock()
	if !ok {
		return ErrUnknownPlayer
	}
	_, treasure := s.clock.Snapshot()
	return s.journalTx(ctx, ledger.KindClaimTreasure, ledger.ClaimTreasure(player.Address, treasure))
}

// SlashClaim journals a misbehavior accusation against another party.
func (s *SessionServer) SlashClaim(ctx context.Context, accuserID uuid.UUID, accusedAddress, reason string) error {
	s.RLock()
	accuser, ok := s.players[accuserID]
	s.RUnlock()
	if !ok {
		return ErrUnknownPlayer
	}
	return s.journalTx(ctx, ledger.KindSlashClaim,
		ledger.SlashClaim(accuser.Address, accusedAddress, reason))
}

func (s *SessionServer) journalTx(ctx context.Context, kind string, tx ledger.Transaction) error {
	if s.journal == nil {
		return nil
	}
	if _, err := s.journal.Append(ctx, kind, tx); err != nil {
		return fmt.Errorf("%w: journaling %s: %v", ErrJournal, kind, err)
	}
	return nil
}
