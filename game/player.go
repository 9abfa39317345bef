// Package game holds the authoritative player and world entities and
// the tick loop that drives the reliable chunk pipeline, session
// housekeeping, and state broadcast for every connected client.
package game

import "github.com/google/uuid"

// Position is a player's location in world space (block-fractional
// coordinates, not chunk-space).
type Position struct {
	X, Y, Z float64
}

// Rotation is a player's facing direction.
type Rotation struct {
	Yaw, Pitch float64
}

// Player is the entity named in the data model's Player entry:
// `{ id, username, uuid, world_ref, position, rotation, health,
// inventory }`. Inventory contents are explicitly out of the core's
// scope (see spec Non-goals) — Inventory is carried as an opaque
// blob so a future mod/scripting layer can own its shape without this
// package needing to understand it.
type Player struct {
	ID       int
	Username string
	UUID     uuid.UUID
	WorldRef string

	Position Position
	Rotation Rotation
	Health   float64

	Inventory []byte

	// connected marks whether this player currently has a live
	// session; a disconnected player's entity persists in the world
	// (for resume) but is excluded from player_update broadcasts.
	connected bool
}

// NewPlayer creates a player entity bound to a world, spawning it at
// the given position with full health and a freshly generated uuid.
func NewPlayer(id int, username, worldRef string, spawn Position) *Player {
	return &Player{
		ID:        id,
		Username:  username,
		UUID:      uuid.New(),
		WorldRef:  worldRef,
		Position:  spawn,
		Health:    20,
		connected: true,
	}
}

// Move updates the player's position and facing, as driven by an
// inbound player_move message.
func (p *Player) Move(pos Position, rot Rotation) {
	p.Position = pos
	p.Rotation = rot
}

// Connected reports whether this player currently has a live session.
func (p *Player) Connected() bool { return p.connected }

// SetConnected marks the player connected or disconnected, without
// removing it from the world (the entity and its last position
// survive a disconnect for resume).
func (p *Player) SetConnected(connected bool) { p.connected = connected }

// ChunkCoord converts the player's current position into the chunk
// coordinate containing it, using the same floor-division rule as the
// chunk store.
func (p *Player) ChunkCoord() (cx, cy, cz int32) {
	return floorDiv(p.Position.X), floorDiv(p.Position.Y), floorDiv(p.Position.Z)
}

func floorDiv(v float64) int32 {
	const size = 16.0
	f := v / size
	i := int32(f)
	if f < 0 && float64(i) != f {
		i--
	}
	return i
}
