package network

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"blockstream-server/block"
	"blockstream-server/game"
	"blockstream-server/pipeline"
	"blockstream-server/session"
)

// Dispatcher routes inbound client messages to game-state mutations
// and produces the matching outbound messages, implementing the
// message table in §4.7. One Dispatcher is shared by every connection
// handled by a single server process.
type Dispatcher struct {
	GameState          *game.GameState
	Pipeline           *pipeline.Pipeline
	Registry           *block.Registry
	SessionPersistence *session.Persistence
	Debounce           time.Duration
	Hub                *ClientHub
	Logger             zerolog.Logger
}

// sanitizeUsername cleans and validates a player's display name.
// It performs the following operations:
//  1. Trims leading/trailing whitespace
//  2. Limits length to 30 characters
//  3. Escapes HTML entities (prevents injection via rendered name lists)
//  4. Provides a default name if empty
func sanitizeUsername(name string) string {
	name = strings.TrimSpace(name)
	if len(name) > 30 {
		name = name[:30]
	}
	name = html.EscapeString(name)
	if name == "" {
		name = "Player"
	}
	return name
}

// HandleClient manages the WebSocket connection lifecycle for a
// single client: handshake, message routing, and cleanup.
//
// The function runs in its own goroutine (one per connected client).
// It blocks until the client disconnects or an error occurs.
func (d *Dispatcher) HandleClient(conn *websocket.Conn) {
	var playerKey string

	defer func() {
		if playerKey != "" {
			d.Hub.RemoveClient(playerKey)
			game.RemoveDisconnectedPlayer(d.GameState, d, playerKey)
			d.Logger.Info().Str("player_id", playerKey).Int("active_players", d.GameState.PlayerCount()).Msg("player disconnected")
		}
		conn.Close()
	}()

	d.Logger.Info().Str("remote_addr", conn.RemoteAddr().String()).Msg("client connected")

	for {
		messageType, messageBytes, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				d.Logger.Warn().Err(err).Str("remote_addr", conn.RemoteAddr().String()).Msg("websocket error")
			}
			break
		}
		if messageType != websocket.TextMessage {
			// Chunk frames are server→client only; clients never send
			// binary frames.
			continue
		}

		var msg Message
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			d.Logger.Warn().Err(err).Msg("failed to parse control message")
			continue
		}

		if playerKey == "" {
			if msg.E != "handshake" {
				d.Logger.Warn().Str("event", msg.E).Msg("message before handshake; ignoring")
				continue
			}
			key, err := d.handleHandshake(conn, msg)
			if err != nil {
				d.Logger.Warn().Err(err).Msg("handshake failed")
				return
			}
			playerKey = key
			continue
		}

		d.route(playerKey, msg)
	}
}

// route dispatches one post-handshake inbound message to its handler.
func (d *Dispatcher) route(playerKey string, msg Message) {
	player := d.GameState.GetPlayer(playerKey)
	sess := d.GameState.GetSession(playerKey)
	if player == nil || sess == nil {
		return
	}

	switch msg.E {
	case "player_move":
		var move PlayerMoveMessage
		if err := decodeData(msg.D, &move); err != nil {
			d.Logger.Warn().Err(err).Msg("malformed player_move")
			return
		}
		player.Move(game.Position{X: move.X, Y: move.Y, Z: move.Z}, game.Rotation{Yaw: move.Yaw, Pitch: move.Pitch})

	case "break_block":
		var edit BlockEditMessage
		if err := decodeData(msg.D, &edit); err != nil {
			d.Logger.Warn().Err(err).Msg("malformed break_block")
			return
		}
		d.handleBlockEdit(player, edit, BlockUpdateBreak)

	case "place_block":
		var edit BlockEditMessage
		if err := decodeData(msg.D, &edit); err != nil {
			d.Logger.Warn().Err(err).Msg("malformed place_block")
			return
		}
		d.handleBlockEdit(player, edit, BlockUpdatePlace)

	case "chunk_have":
		var have ChunkHaveMessage
		if err := decodeData(msg.D, &have); err != nil {
			d.Logger.Warn().Err(err).Msg("malformed chunk_have")
			return
		}
		if sess.AwaitingInitialHave {
			d.Pipeline.Resume(sess, have.Seqs)
		} else {
			d.Pipeline.HandleChunkHave(sess, have.Seqs)
		}

	default:
		d.Logger.Warn().Str("event", msg.E).Str("player_id", playerKey).Msg("unknown event")
	}
}

// handleHandshake processes the first message on a new connection. A
// non-empty player_uuid that matches prior persisted session state
// resumes that session; otherwise (or on any restore failure) a fresh
// player and session are created.
func (d *Dispatcher) handleHandshake(conn *websocket.Conn, msg Message) (string, error) {
	var hs HandshakeMessage
	if err := decodeData(msg.D, &hs); err != nil {
		return "", fmt.Errorf("parse handshake: %w", err)
	}
	username := sanitizeUsername(hs.Username)

	world := d.GameState.World()

	var playerUUID uuid.UUID
	var sess *session.Session
	var restored bool

	if hs.PlayerUUID != "" {
		if parsed, err := uuid.Parse(hs.PlayerUUID); err == nil {
			if restoredSess, found, err := session.Restore(parsed.String(), d.SessionPersistence, d.Debounce); err == nil && found {
				playerUUID = parsed
				sess = restoredSess
				restored = true
			}
		}
	}

	spawn := world.SpawnPoint
	if !restored {
		playerUUID = uuid.New()
		sess = session.New(playerUUID.String(), d.SessionPersistence, d.Debounce)
	} else if pos := sess.LastKnownPosition; pos != (session.Position{}) {
		spawn = game.Position{X: pos.X, Y: pos.Y, Z: pos.Z}
	}

	player := &game.Player{
		ID:       playerIDFromUUID(playerUUID),
		Username: username,
		UUID:     playerUUID,
		WorldRef: world.Name,
		Position: spawn,
		Health:   20,
	}
	player.SetConnected(true)

	d.GameState.AddPlayer(player, sess)
	d.Hub.AddClient(player.UUID.String(), conn)

	init := Message{
		E: "world_init",
		D: WorldInitMessage{
			PlayerID:    player.UUID.String(),
			WorldHeight: world.Height,
			SpawnX:      spawn.X,
			SpawnY:      spawn.Y,
			SpawnZ:      spawn.Z,
			Blocks:      d.Registry.Snapshot(),
		},
	}
	if err := sendMessage(conn, init); err != nil {
		return "", fmt.Errorf("send world_init: %w", err)
	}

	d.Logger.Info().Str("player_id", player.UUID.String()).Str("username", username).Bool("restored", restored).Msg("player joined")
	return player.UUID.String(), nil
}

// handleBlockEdit applies the authority check from §9's recorded
// decision (the edit's world matches the acting player's world_ref
// and the y coordinate is within the configured vertical bound), then
// mutates the store and propagates the change.
func (d *Dispatcher) handleBlockEdit(player *game.Player, edit BlockEditMessage, action BlockUpdateAction) {
	world := d.GameState.World()
	if player.WorldRef != world.Name {
		return
	}
	if edit.Y < 0 || int(edit.Y) >= world.Height {
		return
	}

	id := edit.ID
	if action == BlockUpdateBreak {
		id = 0
	}
	if !d.Registry.Valid(id) {
		return
	}

	touched, err := world.Store.SetBlock(edit.X, edit.Y, edit.Z, id)
	if err != nil {
		d.Logger.Warn().Err(err).Msg("set_block failed")
		return
	}

	d.Pipeline.NotifyChunksChanged(d.GameState.AllSessions(), touched)

	update := Message{
		E: "block_update",
		D: BlockUpdateMessage{X: edit.X, Y: edit.Y, Z: edit.Z, ID: id, Action: action},
	}
	d.Hub.Broadcast(update)
}

// BroadcastPlayerUpdate implements game.Broadcaster, sending a
// player's current position to every other connected client.
func (d *Dispatcher) BroadcastPlayerUpdate(player *game.Player) {
	self := player.UUID.String()
	msg := Message{
		E: "player_update",
		D: PlayerUpdateMessage{
			PlayerID: self,
			X:        player.Position.X,
			Y:        player.Position.Y,
			Z:        player.Position.Z,
			Yaw:      player.Rotation.Yaw,
			Pitch:    player.Rotation.Pitch,
		},
	}
	messageBytes, err := json.Marshal(msg)
	if err != nil {
		d.Logger.Error().Err(err).Str("event", msg.E).Msg("failed to marshal broadcast message")
		return
	}

	d.Hub.mu.RLock()
	defer d.Hub.mu.RUnlock()
	for playerUUID, client := range d.Hub.clients {
		if playerUUID == self {
			continue
		}
		select {
		case client.sendChan <- wireMessage{kind: websocket.TextMessage, data: messageBytes}:
		default:
			d.Logger.Warn().Str("player_id", playerUUID).Str("event", msg.E).Msg("dropped broadcast for slow client")
		}
	}
}

// BroadcastPlayerDisconnect implements game.Broadcaster.
func (d *Dispatcher) BroadcastPlayerDisconnect(playerUUID string) {
	d.Hub.Broadcast(Message{E: "player_disconnect", D: PlayerDisconnectMessage{PlayerID: playerUUID}})
}

// SendChunkFrames implements game.FrameSender, forwarding the
// pipeline's produced binary frames to the owning connection.
func (d *Dispatcher) SendChunkFrames(playerUUID string, frames [][]byte) {
	d.Hub.SendFrames(playerUUID, frames)
}

// decodeData re-marshals a generic message body and unmarshals it
// into a concrete type, since encoding/json leaves D as
// map[string]interface{} after the outer unmarshal.
func decodeData(d interface{}, out interface{}) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// sendMessage JSON-encodes and writes one control message to conn.
func sendMessage(conn *websocket.Conn, msg Message) error {
	messageBytes, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, messageBytes); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// playerIDFromUUID derives a stable small integer from a uuid's low
// bytes, used only for the legacy int ID field carried on Player for
// log correlation; the uuid string remains the authoritative key
// everywhere else.
func playerIDFromUUID(id uuid.UUID) int {
	b := id[:]
	return int(b[len(b)-4])<<24 | int(b[len(b)-3])<<16 | int(b[len(b)-2])<<8 | int(b[len(b)-1])
}
