package game

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"blockstream-server/codec"
	"blockstream-server/generation"
	"blockstream-server/pipeline"
	"blockstream-server/session"
	"blockstream-server/store"
	"blockstream-server/voxel"
)

type fakeSender struct {
	frames map[string][][]byte
}

func (f *fakeSender) SendChunkFrames(playerUUID string, frames [][]byte) {
	if f.frames == nil {
		f.frames = make(map[string][][]byte)
	}
	f.frames[playerUUID] = append(f.frames[playerUUID], frames...)
}

type fakeBroadcaster struct {
	updates      []string
	disconnected []string
}

func (f *fakeBroadcaster) BroadcastPlayerUpdate(player *Player) {
	f.updates = append(f.updates, player.UUID.String())
}

func (f *fakeBroadcaster) BroadcastPlayerDisconnect(playerUUID string) {
	f.disconnected = append(f.disconnected, playerUUID)
}

func newTickerFixture(t *testing.T) (*GameState, *pipeline.Pipeline) {
	t.Helper()

	persistence, err := store.NewPersistence(t.TempDir())
	if err != nil {
		t.Fatalf("store.NewPersistence: %v", err)
	}
	generator := voxel.NewFlatGenerator(8)
	st, err := store.New(generator, persistence, 256)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	genManager := generation.NewManager(generator, 2, 8)
	serializer := codec.NewSerializerPool(2, 8)
	t.Cleanup(func() {
		genManager.Shutdown()
		serializer.Shutdown()
	})

	cfg := pipeline.Config{
		AckTimeout:         80 * time.Millisecond,
		MaxRetries:         4,
		RenderRadiusChunks: 1,
		WindowSize:         32,
		MaxBackoff:         2 * time.Second,
	}
	pipe := pipeline.New(cfg, st, genManager, serializer, nil, zerolog.Nop())

	world := NewWorld("overworld", store.WorldMeta{Type: "flat", Height: 128}, st)
	gameState := NewGameState(world)
	return gameState, pipe
}

// TestRunTick_SendsFramesAndBroadcastsUpdate verifies a single tick
// sends the connected player's pending chunk frames and broadcasts
// its position.
func TestRunTick_SendsFramesAndBroadcastsUpdate(t *testing.T) {
	// Arrange
	gameState, pipe := newTickerFixture(t)
	sessPersistence, err := session.NewPersistence(t.TempDir())
	if err != nil {
		t.Fatalf("session.NewPersistence: %v", err)
	}
	player := NewPlayer(1, "Tester", "overworld", Position{X: 8, Y: 64, Z: 8})
	sess := session.New(player.UUID.String(), sessPersistence, time.Hour)
	gameState.AddPlayer(player, sess)

	sender := &fakeSender{}
	broadcaster := &fakeBroadcaster{}

	// Act
	runTick(gameState, pipe, sender, broadcaster, time.Now())

	// Assert
	if len(sender.frames[player.UUID.String()]) == 0 {
		t.Error("expected at least one chunk frame sent on first tick")
	}
	if len(broadcaster.updates) != 1 {
		t.Errorf("expected one player_update broadcast, got %d", len(broadcaster.updates))
	}
}

// TestRunTick_SkipsDisconnectedPlayers verifies a disconnected player
// is excluded from both frame delivery and broadcast.
func TestRunTick_SkipsDisconnectedPlayers(t *testing.T) {
	// Arrange
	gameState, pipe := newTickerFixture(t)
	sessPersistence, err := session.NewPersistence(t.TempDir())
	if err != nil {
		t.Fatalf("session.NewPersistence: %v", err)
	}
	player := NewPlayer(1, "Tester", "overworld", Position{})
	sess := session.New(player.UUID.String(), sessPersistence, time.Hour)
	gameState.AddPlayer(player, sess)
	player.SetConnected(false)

	sender := &fakeSender{}
	broadcaster := &fakeBroadcaster{}

	// Act
	runTick(gameState, pipe, sender, broadcaster, time.Now())

	// Assert
	if len(sender.frames) != 0 {
		t.Error("expected no frames sent for a disconnected player")
	}
	if len(broadcaster.updates) != 0 {
		t.Error("expected no broadcast for a disconnected player")
	}
}

// TestRemoveDisconnectedPlayer_PersistsAndRemoves verifies clean
// disconnect force-persists the session and removes the player from
// the registry.
func TestRemoveDisconnectedPlayer_PersistsAndRemoves(t *testing.T) {
	// Arrange
	gameState, _ := newTickerFixture(t)
	sessPersistence, err := session.NewPersistence(t.TempDir())
	if err != nil {
		t.Fatalf("session.NewPersistence: %v", err)
	}
	player := NewPlayer(1, "Tester", "overworld", Position{})
	sess := session.New(player.UUID.String(), sessPersistence, time.Hour)
	sess.Enqueue(voxel.Coord{CX: 1})
	gameState.AddPlayer(player, sess)
	broadcaster := &fakeBroadcaster{}

	// Act
	RemoveDisconnectedPlayer(gameState, broadcaster, player.UUID.String())

	// Assert
	if gameState.GetPlayer(player.UUID.String()) != nil {
		t.Error("expected player removed from registry")
	}
	if len(broadcaster.disconnected) != 1 {
		t.Errorf("expected one disconnect broadcast, got %d", len(broadcaster.disconnected))
	}
	_, found, err := sessPersistence.Load(player.UUID.String())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !found {
		t.Error("expected session state persisted on disconnect")
	}
}
