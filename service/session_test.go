package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/braid-game/braid/channel"
	"github.com/braid-game/braid/ledger"
	"github.com/braid-game/braid/maze"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type journalEntry struct {
	kind string
	tx   ledger.Transaction
}

// memJournal captures produced ledger transactions in memory.
type memJournal struct {
	mu      sync.Mutex
	entries []journalEntry
}

func (j *memJournal) Append(_ context.Context, kind string, tx ledger.Transaction) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, journalEntry{kind: kind, tx: tx})
	return int64(len(j.entries)), nil
}

func (j *memJournal) kinds() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, len(j.entries))
	for i, e := range j.entries {
		out[i] = e.kind
	}
	return out
}

func (j *memJournal) last() journalEntry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.entries[len(j.entries)-1]
}

func (j *memJournal) ofKind(kind string) []journalEntry {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []journalEntry
	for _, e := range j.entries {
		if e.kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// failingJournal fails the nth Append and records the rest in memory.
type failingJournal struct {
	memJournal
	failAt int
	calls  int
}

func (j *failingJournal) Append(ctx context.Context, kind string, tx ledger.Transaction) (int64, error) {
	j.calls++
	if j.calls == j.failAt {
		return 0, errors.New("disk full")
	}
	return j.memJournal.Append(ctx, kind, tx)
}

// fakeConn feeds queued messages to the session loop and records what
// the loop writes back.
type fakeConn struct {
	in     [][]byte
	out    [][]byte
	closed bool
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	if len(c.in) == 0 {
		return nil, io.EOF
	}
	msg := c.in[0]
	c.in = c.in[1:]
	return msg, nil
}

func (c *fakeConn) WriteMessage(payload []byte) error {
	c.out = append(c.out, payload)
	return nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func quietLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestServer(t *testing.T, maxTurns uint64) (*SessionServer, *memJournal) {
	t.Helper()
	serverKey, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	journal := &memJournal{}
	server, err := NewSessionServer(&Config{
		MazeWidth:       5,
		MazeHeight:      5,
		MaxTurns:        maxTurns,
		InitialTreasure: 1000.0,
		AnteAmount:      100.0,
		ServerAddress:   "server1",
		ServerKey:       serverKey,
		Journal:         journal,
		Logger:          quietLogger(),
	})
	require.NoError(t, err)
	return server, journal
}

func registerPlayer(t *testing.T, s *SessionServer, address string) (uuid.UUID, *secp256k1.PrivateKey) {
	t.Helper()
	key, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	playerID := uuid.New()
	require.NoError(t, s.Register(context.Background(), playerID, address, key.PubKey().SerializeCompressed()))
	return playerID, key
}

func marshalRequest(t *testing.T, id uuid.UUID, mask maze.Visibility) []byte {
	t.Helper()
	payload, err := json.Marshal(PlayerRequest{
		ID:              id.String(),
		ExplorationMask: mask,
		Commitment:      maze.CommitVisibility(mask),
	})
	require.NoError(t, err)
	return payload
}

func unmarshalResponse(t *testing.T, payload []byte) *MazeResponse {
	t.Helper()
	var resp MazeResponse
	require.NoError(t, json.Unmarshal(payload, &resp))
	return &resp
}

func TestNewSessionServerValidatesConfig(t *testing.T) {
	key, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	_, err = NewSessionServer(&Config{MazeWidth: 1, MazeHeight: 5, ServerKey: key})
	assert.ErrorIs(t, err, ErrNotBigEnoughDimension)

	_, err = NewSessionServer(&Config{MazeWidth: 5, MazeHeight: 5})
	assert.Error(t, err)
}

func TestRegisterOpensChannelAndCommitsAnte(t *testing.T) {
	server, journal := newTestServer(t, 100)
	playerID, _ := registerPlayer(t, server, "player1")

	require.Equal(t, []string{ledger.KindOpenStateChannel, ledger.KindCommitAnte}, journal.kinds())

	open := journal.entries[0]
	assert.Equal(t, "player1", open.tx.Sender)
	assert.Equal(t, "server1", open.tx.Receiver)
	initial, err := channel.DecodeState(open.tx.Data)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), initial.TurnNumber)
	assert.Equal(t, "player1", initial.PlayerAddress)

	ante := journal.entries[1]
	assert.Equal(t, ledger.TreasurePool, ante.tx.Receiver)
	assert.Equal(t, 100.0, ante.tx.Amount)

	// Same player twice is rejected.
	key, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	err = server.Register(context.Background(), playerID, "player1", key.PubKey().SerializeCompressed())
	assert.ErrorIs(t, err, ErrPlayerExists)
}

func TestRegisterRejectsBadPublicKey(t *testing.T) {
	server, _ := newTestServer(t, 100)
	err := server.Register(context.Background(), uuid.New(), "player1", []byte{1, 2, 3})
	assert.Error(t, err)
}

func TestSessionInfo(t *testing.T) {
	server, _ := newTestServer(t, 100)
	playerID, _ := registerPlayer(t, server, "player1")

	turn, treasure, over, err := server.SessionInfo(playerID)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), turn)
	assert.InDelta(t, 1000.0, treasure, 1e-9)
	assert.False(t, over)

	_, _, _, err = server.SessionInfo(uuid.New())
	assert.ErrorIs(t, err, ErrUnknownPlayer)
}

func TestHandleConnRespondsWithMaskedMaze(t *testing.T) {
	server, _ := newTestServer(t, 100)
	playerID, _ := registerPlayer(t, server, "player1")

	mask := maze.NewVisibility(5, 5)
	mask[0][0] = true
	mask[0][1] = true

	conn := &fakeConn{in: [][]byte{marshalRequest(t, playerID, mask)}}
	server.HandleConn(conn)

	require.Len(t, conn.out, 1)
	assert.True(t, conn.closed)

	resp := unmarshalResponse(t, conn.out[0])
	assert.Equal(t, uint64(1), resp.Turn)
	assert.InDelta(t, 1000.0, resp.Treasure, 1e-9)
	assert.False(t, resp.GameOver)

	require.Equal(t, 5, resp.Maze.Width)
	assert.True(t, resp.Maze.Grid[0][0].Visited, "revealed cell keeps its true state")
	assert.True(t, resp.Maze.Grid[0][1].Visited)

	hidden := resp.Maze.Grid[4][4]
	assert.False(t, hidden.Visited, "hidden cell is pristine")
	assert.Equal(t, [4]bool{true, true, true, true}, hidden.Walls)

	commitment, err := server.PlayerCommitment(playerID)
	require.NoError(t, err)
	assert.Equal(t, maze.CommitVisibility(mask), commitment, "request commitment is stored with the session")
}

func TestHandleConnMergesMaskMonotonically(t *testing.T) {
	server, _ := newTestServer(t, 100)
	playerID, _ := registerPlayer(t, server, "player1")

	first := maze.NewVisibility(5, 5)
	first[0][0] = true
	second := maze.NewVisibility(5, 5)
	second[1][1] = true

	conn := &fakeConn{in: [][]byte{
		marshalRequest(t, playerID, first),
		marshalRequest(t, playerID, second),
	}}
	server.HandleConn(conn)

	require.Len(t, conn.out, 2)
	resp := unmarshalResponse(t, conn.out[1])
	assert.True(t, resp.Maze.Grid[0][0].Visited, "earlier reveal survives a narrower update")
	assert.True(t, resp.Maze.Grid[1][1].Visited)
}

func TestHandleConnSharesClockAcrossSessions(t *testing.T) {
	server, _ := newTestServer(t, 100)
	alice, _ := registerPlayer(t, server, "alice")
	bob, _ := registerPlayer(t, server, "bob")

	aliceConn := &fakeConn{in: [][]byte{marshalRequest(t, alice, maze.NewVisibility(5, 5))}}
	server.HandleConn(aliceConn)
	bobConn := &fakeConn{in: [][]byte{marshalRequest(t, bob, maze.NewVisibility(5, 5))}}
	server.HandleConn(bobConn)

	require.Len(t, aliceConn.out, 1)
	require.Len(t, bobConn.out, 1)
	assert.Equal(t, uint64(1), unmarshalResponse(t, aliceConn.out[0]).Turn)
	assert.Equal(t, uint64(2), unmarshalResponse(t, bobConn.out[0]).Turn,
		"turns advance on one shared clock, not per-session copies")
}

func TestHandleConnEndsAtTurnLimit(t *testing.T) {
	server, _ := newTestServer(t, 1)
	playerID, _ := registerPlayer(t, server, "player1")

	conn := &fakeConn{in: [][]byte{
		marshalRequest(t, playerID, maze.NewVisibility(5, 5)),
		marshalRequest(t, playerID, maze.NewVisibility(5, 5)),
	}}
	server.HandleConn(conn)

	require.Len(t, conn.out, 1, "loop ends after the final turn")
	assert.True(t, unmarshalResponse(t, conn.out[0]).GameOver)

	// A fresh session observes the shared terminal condition immediately.
	lateConn := &fakeConn{in: [][]byte{marshalRequest(t, playerID, maze.NewVisibility(5, 5))}}
	server.HandleConn(lateConn)
	assert.Empty(t, lateConn.out)
	assert.True(t, lateConn.closed)
}

func TestHandleConnClosesOnProtocolErrors(t *testing.T) {
	server, _ := newTestServer(t, 100)
	playerID, _ := registerPlayer(t, server, "player1")

	tests := []struct {
		name    string
		payload []byte
	}{
		{"malformed json", []byte("{not json")},
		{"unknown player", marshalRequest(t, uuid.New(), maze.NewVisibility(5, 5))},
		{"bad player id", mustMarshal(t, PlayerRequest{ID: "nope"})},
		{"mask dimension mismatch", marshalRequest(t, playerID, maze.NewVisibility(4, 4))},
		{"short commitment", mustMarshal(t, PlayerRequest{
			ID:              playerID.String(),
			ExplorationMask: maze.NewVisibility(5, 5),
			Commitment:      []byte{1, 2, 3},
		})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := &fakeConn{in: [][]byte{tt.payload}}
			server.HandleConn(conn)
			assert.Empty(t, conn.out, "no response for a rejected request")
			assert.True(t, conn.closed)
		})
	}

	// Other sessions keep working after a failed one.
	conn := &fakeConn{in: [][]byte{marshalRequest(t, playerID, maze.NewVisibility(5, 5))}}
	server.HandleConn(conn)
	assert.Len(t, conn.out, 1)
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	payload, err := json.Marshal(v)
	require.NoError(t, err)
	return payload
}

func TestCoSignMove(t *testing.T) {
	server, _ := newTestServer(t, 100)
	playerID, playerKey := registerPlayer(t, server, "player1")

	moveHash := maze.CommitPath([]maze.Point{{X: 0, Y: 0}, {X: 0, Y: 1}})
	next := channel.State{PlayerAddress: "player1", MoveHash: moveHash, TurnNumber: 1}

	serverSig, err := server.CoSignMove(playerID, moveHash, 1, channel.SignState(next, playerKey))
	require.NoError(t, err)
	assert.NotEmpty(t, serverSig)

	// Replaying the same turn is stale.
	_, err = server.CoSignMove(playerID, moveHash, 1, channel.SignState(next, playerKey))
	assert.ErrorIs(t, err, channel.ErrStaleUpdate)

	// A signature over a different state is rejected.
	wrong := channel.State{PlayerAddress: "player1", MoveHash: []byte("other"), TurnNumber: 2}
	_, err = server.CoSignMove(playerID, moveHash, 2, channel.SignState(wrong, playerKey))
	assert.ErrorIs(t, err, channel.ErrInvalidSignature)

	_, err = server.CoSignMove(uuid.New(), moveHash, 1, nil)
	assert.ErrorIs(t, err, ErrUnknownPlayer)
}

func TestCloseChannelSettlesFinalState(t *testing.T) {
	server, journal := newTestServer(t, 100)
	playerID, playerKey := registerPlayer(t, server, "player1")

	moveHash := maze.CommitPath([]maze.Point{{X: 1, Y: 0}})
	next := channel.State{PlayerAddress: "player1", MoveHash: moveHash, TurnNumber: 1}
	_, err := server.CoSignMove(playerID, moveHash, 1, channel.SignState(next, playerKey))
	require.NoError(t, err)

	require.NoError(t, server.CloseChannel(context.Background(), playerID))

	entry := journal.last()
	assert.Equal(t, ledger.KindCloseStateChannel, entry.kind)
	final, err := channel.DecodeState(entry.tx.Data)
	require.NoError(t, err)
	assert.Equal(t, next, final)

	_, _, _, err = server.SessionInfo(playerID)
	assert.ErrorIs(t, err, ErrUnknownPlayer)
	assert.ErrorIs(t, server.CloseChannel(context.Background(), playerID), ErrUnknownPlayer)
}

func TestCloseChannelWithoutUpdatesSettlesInitialState(t *testing.T) {
	server, journal := newTestServer(t, 100)
	playerID, _ := registerPlayer(t, server, "player1")

	require.NoError(t, server.CloseChannel(context.Background(), playerID))

	entry := journal.last()
	final, err := channel.DecodeState(entry.tx.Data)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), final.TurnNumber, "no finalized update falls back to the initial state")
}

func TestDisputeMove(t *testing.T) {
	server, journal := newTestServer(t, 100)
	playerID, playerKey := registerPlayer(t, server, "player1")

	// No co-signed move yet: the initial state's empty move hash cannot
	// be escalated.
	err := server.DisputeMove(context.Background(), playerID, []byte("proof"))
	assert.ErrorIs(t, err, ledger.ErrBadMoveHash)

	moveHash := maze.CommitPath([]maze.Point{{X: 0, Y: 1}})
	next := channel.State{PlayerAddress: "player1", MoveHash: moveHash, TurnNumber: 1}
	_, err = server.CoSignMove(playerID, moveHash, 1, channel.SignState(next, playerKey))
	require.NoError(t, err)

	proof := []byte("opaque zk proof bytes")
	require.NoError(t, server.DisputeMove(context.Background(), playerID, proof))

	entry := journal.last()
	assert.Equal(t, ledger.KindCommitMoveOnChain, entry.kind)
	gotHash, gotProof, err := ledger.SplitMoveCommitment(entry.tx.Data)
	require.NoError(t, err)
	assert.Equal(t, moveHash, gotHash)
	assert.Equal(t, proof, gotProof)
}

// Disputes racing co-signed updates must never journal a torn move
// hash: the settlement read happens under the roster lock.
func TestDisputeMoveDuringCoSignedUpdates(t *testing.T) {
	server, journal := newTestServer(t, 1000)
	playerID, playerKey := registerPlayer(t, server, "player1")

	const turns = 50

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for turn := uint64(1); turn <= turns; turn++ {
			moveHash := maze.CommitPath([]maze.Point{{X: int(turn), Y: 0}})
			next := channel.State{PlayerAddress: "player1", MoveHash: moveHash, TurnNumber: turn}
			_, err := server.CoSignMove(playerID, moveHash, turn, channel.SignState(next, playerKey))
			assert.NoError(t, err)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < turns; i++ {
			// Before the first co-signed move lands the settlement
			// state carries no move hash.
			err := server.DisputeMove(context.Background(), playerID, []byte("proof"))
			if err != nil {
				assert.ErrorIs(t, err, ledger.ErrBadMoveHash)
			}
		}
	}()
	wg.Wait()

	for _, entry := range journal.ofKind(ledger.KindCommitMoveOnChain) {
		gotHash, _, err := ledger.SplitMoveCommitment(entry.tx.Data)
		require.NoError(t, err)
		assert.Len(t, gotHash, ledger.MoveHashSize)
	}
}

func TestRegisterRollsBackOnJournalFailure(t *testing.T) {
	serverKey, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	playerKey, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	// Either of the two registration appends can fail.
	for failAt := 1; failAt <= 2; failAt++ {
		journal := &failingJournal{failAt: failAt}
		server, err := NewSessionServer(&Config{
			MazeWidth:       5,
			MazeHeight:      5,
			MaxTurns:        100,
			InitialTreasure: 1000.0,
			AnteAmount:      100.0,
			ServerAddress:   "server1",
			ServerKey:       serverKey,
			Journal:         journal,
			Logger:          quietLogger(),
		})
		require.NoError(t, err)

		playerID := uuid.New()
		pubKey := playerKey.PubKey().SerializeCompressed()

		err = server.Register(context.Background(), playerID, "player1", pubKey)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrJournal)

		_, _, _, err = server.SessionInfo(playerID)
		assert.ErrorIs(t, err, ErrUnknownPlayer, "failed registration must leave no roster entry")

		// Once the journal recovers, the same player can register.
		require.NoError(t, server.Register(context.Background(), playerID, "player1", pubKey))
		kinds := journal.kinds()
		require.GreaterOrEqual(t, len(kinds), 2)
		assert.Equal(t, []string{ledger.KindOpenStateChannel, ledger.KindCommitAnte}, kinds[len(kinds)-2:])
	}
}

func TestSubmitPathAndClaimTreasure(t *testing.T) {
	server, journal := newTestServer(t, 100)
	playerID, _ := registerPlayer(t, server, "player1")

	path := []maze.Point{{X: 0, Y: 0}, {X: 0, Y: 1}, {X: 1, Y: 1}}
	require.NoError(t, server.SubmitPath(context.Background(), playerID, path))
	entry := journal.last()
	assert.Equal(t, ledger.KindSubmitPath, entry.kind)
	decoded, err := ledger.DecodePath(entry.tx.Data)
	require.NoError(t, err)
	assert.Equal(t, path, decoded)

	require.NoError(t, server.ClaimTreasure(context.Background(), playerID))
	entry = journal.last()
	assert.Equal(t, ledger.KindClaimTreasure, entry.kind)
	assert.Equal(t, ledger.TreasurePool, entry.tx.Receiver)
	assert.InDelta(t, 1000.0, entry.tx.Amount, 1e-9, "claim carries the clock's current treasure")
}

func TestSlashClaim(t *testing.T) {
	server, journal := newTestServer(t, 100)
	accuserID, _ := registerPlayer(t, server, "accuser")

	require.NoError(t, server.SlashClaim(context.Background(), accuserID, "accused", "cheating"))
	entry := journal.last()
	assert.Equal(t, ledger.KindSlashClaim, entry.kind)
	assert.Equal(t, "accuser", entry.tx.Sender)
	assert.Equal(t, "accused", entry.tx.Receiver)
	assert.Equal(t, "cheating", string(entry.tx.Data))

	assert.ErrorIs(t, server.SlashClaim(context.Background(), uuid.New(), "x", "y"),
		ErrUnknownPlayer)
}
