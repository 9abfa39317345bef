package network

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// clientConnection represents a connected client with write
// capabilities. Each client has a dedicated write goroutine that
// reads from a buffered channel, so a slow client cannot block
// delivery to anyone else.
type clientConnection struct {
	playerUUID string
	conn       *websocket.Conn

	// sendChan carries fully-framed outgoing payloads: JSON control
	// messages and binary chunk_full frames alike, each tagged with
	// its websocket message type.
	sendChan chan wireMessage

	mu     sync.Mutex
	closed bool
}

type wireMessage struct {
	kind int // websocket.TextMessage or websocket.BinaryMessage
	data []byte
}

// ClientHub manages every connected client and broadcasts control
// messages and per-session chunk frames. It provides thread-safe
// add/remove operations and non-blocking sends so one slow client
// never stalls another's delivery.
type ClientHub struct {
	clients map[string]*clientConnection
	mu      sync.RWMutex
	logger  zerolog.Logger
}

// NewClientHub creates a new client hub for managing connections.
func NewClientHub(logger zerolog.Logger) *ClientHub {
	return &ClientHub{
		clients: make(map[string]*clientConnection),
		logger:  logger,
	}
}

// AddClient registers a new client connection, keyed by the player's
// uuid string, and starts its write goroutine.
func (h *ClientHub) AddClient(playerUUID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client := &clientConnection{
		playerUUID: playerUUID,
		conn:       conn,
		sendChan:   make(chan wireMessage, 64),
	}
	h.clients[playerUUID] = client
	go client.writeLoop(h.logger)

	h.logger.Info().Str("player_id", playerUUID).Int("total_clients", len(h.clients)).Msg("client added to hub")
}

// RemoveClient unregisters a client connection and closes its send
// channel, which causes the write goroutine to exit.
func (h *ClientHub) RemoveClient(playerUUID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, exists := h.clients[playerUUID]
	if !exists {
		return
	}

	client.mu.Lock()
	if !client.closed {
		client.closed = true
		close(client.sendChan)
	}
	client.mu.Unlock()

	delete(h.clients, playerUUID)
	h.logger.Info().Str("player_id", playerUUID).Int("total_clients", len(h.clients)).Msg("client removed from hub")
}

// Broadcast JSON-encodes msg once and fans it out to every connected
// client as a text frame.
func (h *ClientHub) Broadcast(msg Message) {
	messageBytes, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("event", msg.E).Msg("failed to marshal broadcast message")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for playerUUID, client := range h.clients {
		select {
		case client.sendChan <- wireMessage{kind: websocket.TextMessage, data: messageBytes}:
		default:
			h.logger.Warn().Str("player_id", playerUUID).Str("event", msg.E).Msg("dropped broadcast for slow client")
		}
	}
}

// SendFrames delivers one session's produced binary chunk_full frames
// to its own connection, in order. A missing or already-removed
// client (mid-reconnect) is silently ignored — the pipeline's own
// retry covers redelivery once the client returns.
func (h *ClientHub) SendFrames(playerUUID string, frames [][]byte) {
	h.mu.RLock()
	client, ok := h.clients[playerUUID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	for _, frame := range frames {
		select {
		case client.sendChan <- wireMessage{kind: websocket.BinaryMessage, data: frame}:
		default:
			h.logger.Warn().Str("player_id", playerUUID).Msg("dropped chunk frame for slow client")
		}
	}
}

// writeLoop handles writing messages to the WebSocket connection.
// This runs in a dedicated goroutine per client. It exits when
// sendChan is closed (on client removal).
func (c *clientConnection) writeLoop(logger zerolog.Logger) {
	const writeTimeout = 10 * time.Second

	for wm := range c.sendChan {
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			break
		}

		if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			logger.Warn().Err(err).Str("player_id", c.playerUUID).Msg("failed to set write deadline")
			break
		}
		if err := c.conn.WriteMessage(wm.kind, wm.data); err != nil {
			logger.Warn().Err(err).Str("player_id", c.playerUUID).Msg("failed to write to client")
			break
		}
	}
}
