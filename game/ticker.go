package game

import (
	"time"

	"github.com/rs/zerolog"

	"blockstream-server/pipeline"
	"blockstream-server/voxel"
)

// FrameSender is an interface for delivering a session's pending chunk
// frames to its connection. This interface prevents a circular
// dependency between game and network.
type FrameSender interface {
	// SendChunkFrames writes the given binary chunk_full frames, in
	// order, to the connection owned by playerUUID. A player with no
	// live connection (mid-reconnect) is expected to silently drop
	// the call — the pipeline's own retry/backoff covers that case.
	SendChunkFrames(playerUUID string, frames [][]byte)
}

// Broadcaster is an interface for broadcasting player movement and
// disconnect notices to every connected client. This interface
// prevents a circular dependency between game and network.
type Broadcaster interface {
	BroadcastPlayerUpdate(player *Player)
	BroadcastPlayerDisconnect(playerUUID string)
}

// TickRate is the server's authoritative update frequency (Hz), per
// §6's configuration table.
const TickRate = 20

// TickDuration is the time between ticks (50ms for 20Hz).
const TickDuration = time.Second / TickRate

// StartGameTicker launches the main game loop in a goroutine. The
// loop runs at TickRate and, for every connected session:
//  1. Recomputes the desired chunk set around the player's current
//     chunk and enqueues anything missing (§4.6).
//  2. Drives the reliable chunk pipeline's Tick, sending any produced
//     frames over the player's own connection.
//  3. Flushes the session's debounced persistence if its debounce
//     window has elapsed.
//  4. Broadcasts the player's position to every other connected
//     client.
//
// This function does not block. It launches a goroutine that runs
// until stop is called.
//
// Parameters:
//   - gameState: the shared registry of players and sessions
//   - pipe: the reliable chunk pipeline driving chunk delivery
//   - sender: delivers each session's produced frames to its connection
//   - broadcaster: broadcasts player position updates to all clients
//   - logger: structured logger for tick-level diagnostics
//
// Returns a stop function that halts the ticker goroutine.
func StartGameTicker(gameState *GameState, pipe *pipeline.Pipeline, sender FrameSender, broadcaster Broadcaster, logger zerolog.Logger) (stop func()) {
	logger.Info().Int("hz", TickRate).Msg("game ticker starting")

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(TickDuration)
		defer ticker.Stop()

		tickCount := 0
		for {
			select {
			case <-done:
				return
			case now := <-ticker.C:
				tickCount++
				runTick(gameState, pipe, sender, broadcaster, now)

				if tickCount%(TickRate*10) == 0 {
					logger.Debug().Int("tick", tickCount).Int("players", gameState.PlayerCount()).Msg("tick heartbeat")
				}
			}
		}
	}()

	return func() { close(done) }
}

// runTick executes one tick's worth of work for every connected
// player. It does not acquire gameState's lock directly — AllPlayers
// already returns a stable snapshot safe to range over.
func runTick(gameState *GameState, pipe *pipeline.Pipeline, sender FrameSender, broadcaster Broadcaster, now time.Time) {
	players := gameState.AllPlayers()

	pipe.ReportQueueDepths()

	for _, player := range players {
		if !player.Connected() {
			continue
		}

		key := player.UUID.String()
		sess := gameState.GetSession(key)
		if sess == nil {
			continue
		}

		cx, cy, cz := player.ChunkCoord()
		pipe.UpdateSendSet(sess, voxel.Coord{CX: cx, CY: cy, CZ: cz})

		frames := pipe.Tick(sess, now)
		if len(frames) > 0 && sender != nil {
			sender.SendChunkFrames(key, frames)
		}

		if err := sess.MaybePersist(now); err != nil {
			// A failed debounced persist is not fatal: the next tick
			// retries, and ForcePersist runs on clean disconnect.
			continue
		}

		if broadcaster != nil {
			broadcaster.BroadcastPlayerUpdate(player)
		}
	}
}

// RemoveDisconnectedPlayer force-persists a player's session state and
// removes it from the registry, then notifies other clients. Called
// from the connection's own goroutine on close, not from the ticker.
func RemoveDisconnectedPlayer(gameState *GameState, broadcaster Broadcaster, uuidKey string) {
	sess := gameState.GetSession(uuidKey)
	if player := gameState.GetPlayer(uuidKey); player != nil {
		player.SetConnected(false)
	}
	if sess != nil {
		_ = sess.ForcePersist()
	}
	gameState.RemovePlayer(uuidKey)
	if broadcaster != nil {
		broadcaster.BroadcastPlayerDisconnect(uuidKey)
	}
}

