package voxel_test

import (
	"testing"

	"blockstream-server/voxel"
)

// TestChunk_Set_MaintainsNonEmptyCount verifies NonEmptyCount tracks
// the count of non-zero entries in O(1) on writes.
func TestChunk_Set_MaintainsNonEmptyCount(t *testing.T) {
	// Arrange
	c := voxel.NewChunk(voxel.Coord{})

	// Act
	c.Set(0, 0, 0, 5)
	c.Set(1, 0, 0, 7)
	c.Set(0, 0, 0, 0) // delete

	// Assert
	if c.NonEmptyCount != 1 {
		t.Errorf("expected non-empty count 1, got %d", c.NonEmptyCount)
	}
	if c.Get(1, 0, 0) != 7 {
		t.Errorf("expected block 7 at (1,0,0), got %d", c.Get(1, 0, 0))
	}
}

// TestChunk_Set_NoOpDoesNotBumpVersion ensures setting the same value
// twice does not advance the version (matching the idempotence law:
// set_block(p, get_block(p)) is a no-op on observable state).
func TestChunk_Set_NoOpDoesNotBumpVersion(t *testing.T) {
	c := voxel.NewChunk(voxel.Coord{})
	c.Set(2, 2, 2, 9)
	v := c.Version

	c.Set(2, 2, 2, 9)

	if c.Version != v {
		t.Errorf("expected version to stay at %d, got %d", v, c.Version)
	}
}

// TestIndex_LocalLayout verifies the documented local index formula
// i = (y*16 + z)*16 + x.
func TestIndex_LocalLayout(t *testing.T) {
	got := voxel.Index(3, 5, 7)
	want := (5*16 + 7) * 16 + 3
	if got != want {
		t.Errorf("Index(3,5,7) = %d, want %d", got, want)
	}
}

// TestCoord_FaceNeighbors_SixAxisAligned verifies the six neighbors
// are exactly the axis-aligned face neighbors, never diagonals.
func TestCoord_FaceNeighbors_SixAxisAligned(t *testing.T) {
	c := voxel.Coord{CX: 1, CY: 2, CZ: 3}
	neighbors := c.FaceNeighbors()

	if len(neighbors) != 6 {
		t.Fatalf("expected 6 neighbors, got %d", len(neighbors))
	}

	want := map[voxel.Coord]bool{
		{CX: 2, CY: 2, CZ: 3}: true,
		{CX: 0, CY: 2, CZ: 3}: true,
		{CX: 1, CY: 3, CZ: 3}: true,
		{CX: 1, CY: 1, CZ: 3}: true,
		{CX: 1, CY: 2, CZ: 4}: true,
		{CX: 1, CY: 2, CZ: 2}: true,
	}
	for _, n := range neighbors {
		if !want[n] {
			t.Errorf("unexpected neighbor %+v", n)
		}
		delete(want, n)
	}
	if len(want) != 0 {
		t.Errorf("missing expected neighbors: %+v", want)
	}

	// A diagonal neighbor must never appear.
	diagonal := voxel.Coord{CX: 2, CY: 3, CZ: 3}
	for _, n := range neighbors {
		if n == diagonal {
			t.Errorf("diagonal neighbor %+v must not be bumped", diagonal)
		}
	}
}

// TestChunk_Snapshot_IsIndependentCopy ensures mutating the chunk
// after taking a snapshot does not affect the snapshot's buffer,
// since worker jobs require a stable detached view.
func TestChunk_Snapshot_IsIndependentCopy(t *testing.T) {
	c := voxel.NewChunk(voxel.Coord{})
	c.Set(0, 0, 0, 1)

	snap := c.Snapshot()
	c.Set(0, 0, 0, 2)

	if snap.Blocks[voxel.Index(0, 0, 0)] != 1 {
		t.Errorf("expected snapshot to retain value 1, got %d", snap.Blocks[voxel.Index(0, 0, 0)])
	}
	if snap.Version != 1 {
		t.Errorf("expected snapshot version 1, got %d", snap.Version)
	}
}
