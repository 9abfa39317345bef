package generation_test

import (
	"testing"
	"time"

	"blockstream-server/generation"
	"blockstream-server/voxel"
)

// TestManager_Submit_GeneratesExpectedChunk verifies a submitted
// generation job returns a block buffer matching the generator's
// direct output for the same coordinate.
func TestManager_Submit_GeneratesExpectedChunk(t *testing.T) {
	// Arrange
	gen := voxel.NewFlatGenerator(4)
	mgr := generation.NewManager(gen, 2, 8)
	defer mgr.Shutdown()

	coord := voxel.Coord{CX: 1, CY: 0, CZ: 1}
	want := gen.Generate(coord)

	result := make(chan generation.Result, 1)

	// Act
	if err := mgr.Submit(7, coord, result); err != nil {
		t.Fatalf("unexpected submit error: %v", err)
	}

	// Assert
	select {
	case res := <-result:
		if res.ID != 7 {
			t.Errorf("expected id 7, got %d", res.ID)
		}
		if res.Coord != coord {
			t.Errorf("expected coord %+v, got %+v", coord, res.Coord)
		}
		if res.Blocks != want {
			t.Error("generated blocks differ from direct generator call")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for generation result")
	}
}

// TestManager_Submit_NonEmptyCountMatchesBlocks verifies the reported
// non-empty count equals the number of non-air entries.
func TestManager_Submit_NonEmptyCountMatchesBlocks(t *testing.T) {
	gen := voxel.NewFlatGenerator(4)
	mgr := generation.NewManager(gen, 1, 4)
	defer mgr.Shutdown()

	result := make(chan generation.Result, 1)
	coord := voxel.Coord{CY: 4} // world y 64..79: grass at y 64, air above
	if err := mgr.Submit(1, coord, result); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res := <-result
	count := 0
	for _, b := range res.Blocks {
		if b != voxel.BlockAir {
			count++
		}
	}
	if res.NonEmptyCount != count {
		t.Errorf("NonEmptyCount=%d, actual non-air count=%d", res.NonEmptyCount, count)
	}
}

// TestDefaultPoolSize_ClampsToOne verifies the sizing rule never
// yields fewer than one worker.
func TestDefaultPoolSize_ClampsToOne(t *testing.T) {
	if got := generation.DefaultPoolSize(1, 2); got != 1 {
		t.Errorf("expected clamp to 1, got %d", got)
	}
	if got := generation.DefaultPoolSize(8, 1); got != 7 {
		t.Errorf("expected 7, got %d", got)
	}
}
