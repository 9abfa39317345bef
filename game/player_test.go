package game

import "testing"

// TestNewPlayer_CreatesPlayerWithDefaultValues verifies that NewPlayer
// initializes a player with a stable uuid and the given spawn values.
func TestNewPlayer_CreatesPlayerWithDefaultValues(t *testing.T) {
	// Arrange
	id := 123
	spawn := Position{X: 8, Y: 65, Z: 8}

	// Act
	player := NewPlayer(id, "TestPlayer", "overworld", spawn)

	// Assert
	if player.ID != id {
		t.Errorf("NewPlayer() ID = %d, want %d", player.ID, id)
	}
	if player.Username != "TestPlayer" {
		t.Errorf("NewPlayer() Username = %s, want TestPlayer", player.Username)
	}
	if player.WorldRef != "overworld" {
		t.Errorf("NewPlayer() WorldRef = %s, want overworld", player.WorldRef)
	}
	if player.Position != spawn {
		t.Errorf("NewPlayer() Position = %+v, want %+v", player.Position, spawn)
	}
	if player.UUID.String() == "" {
		t.Error("NewPlayer() UUID is empty")
	}
	if !player.Connected() {
		t.Error("NewPlayer() expected Connected() = true")
	}
}

// TestMove_UpdatesPositionAndRotation verifies Move overwrites both
// fields together.
func TestMove_UpdatesPositionAndRotation(t *testing.T) {
	// Arrange
	player := NewPlayer(1, "TestPlayer", "overworld", Position{})
	pos := Position{X: 1, Y: 2, Z: 3}
	rot := Rotation{Yaw: 90, Pitch: 10}

	// Act
	player.Move(pos, rot)

	// Assert
	if player.Position != pos {
		t.Errorf("Move() Position = %+v, want %+v", player.Position, pos)
	}
	if player.Rotation != rot {
		t.Errorf("Move() Rotation = %+v, want %+v", player.Rotation, rot)
	}
}

// TestSetConnected_TogglesWithoutClearingEntity verifies disconnecting
// a player preserves its position, ready for resume.
func TestSetConnected_TogglesWithoutClearingEntity(t *testing.T) {
	// Arrange
	player := NewPlayer(1, "TestPlayer", "overworld", Position{X: 5})

	// Act
	player.SetConnected(false)

	// Assert
	if player.Connected() {
		t.Error("expected Connected() = false after SetConnected(false)")
	}
	if player.Position.X != 5 {
		t.Error("expected position preserved across disconnect")
	}
}

// TestChunkCoord_NegativeCoordinates_FloorsTowardNegativeInfinity
// verifies chunk coordinate derivation matches the store's floor-div
// convention for negative positions.
func TestChunkCoord_NegativeCoordinates_FloorsTowardNegativeInfinity(t *testing.T) {
	// Arrange
	player := NewPlayer(1, "TestPlayer", "overworld", Position{X: -1, Y: 0, Z: -17})

	// Act
	cx, cy, cz := player.ChunkCoord()

	// Assert
	if cx != -1 {
		t.Errorf("expected cx=-1, got %d", cx)
	}
	if cy != 0 {
		t.Errorf("expected cy=0, got %d", cy)
	}
	if cz != -2 {
		t.Errorf("expected cz=-2, got %d", cz)
	}
}
