package session_test

import (
	"testing"
	"time"

	"blockstream-server/session"
	"blockstream-server/voxel"
)

func newPersistence(t *testing.T) *session.Persistence {
	t.Helper()
	p, err := session.NewPersistence(t.TempDir())
	if err != nil {
		t.Fatalf("NewPersistence: %v", err)
	}
	return p
}

// TestAck_UnknownSeq_Ignored verifies an ack for a sequence not in
// outstanding is silently ignored rather than erroring.
func TestAck_UnknownSeq_Ignored(t *testing.T) {
	// Arrange
	s := session.New("p1", newPersistence(t), 50*time.Millisecond)

	// Act
	s.Ack([]uint32{999})

	// Assert
	if s.Telemetry.Acked != 0 {
		t.Errorf("expected no acked count change, got %d", s.Telemetry.Acked)
	}
}

// TestNew_DoesNotAwaitInitialHave verifies a brand-new (non-resumed)
// session starts ready to drain immediately: awaiting_initial_have is
// only forced true on resume (§4.5), since a fresh connection has
// nothing outstanding to reconcile.
func TestNew_DoesNotAwaitInitialHave(t *testing.T) {
	// Arrange & Act
	s := session.New("p1", newPersistence(t), 50*time.Millisecond)

	// Assert
	if s.AwaitingInitialHave {
		t.Error("expected a fresh session to not await initial have")
	}
}

// TestAck_FirstCall_ClearsAwaitingInitialHave verifies even an empty
// chunk-have clears the awaiting flag, for a session that does start
// out awaiting one (i.e. a restored session).
func TestAck_FirstCall_ClearsAwaitingInitialHave(t *testing.T) {
	// Arrange
	s := session.New("p1", newPersistence(t), 50*time.Millisecond)
	s.AwaitingInitialHave = true

	// Act
	s.Ack(nil)

	// Assert
	if s.AwaitingInitialHave {
		t.Error("expected AwaitingInitialHave to clear after first ack, even an empty one")
	}
}

// TestEnqueue_Deduplicates verifies a key already queued or already
// outstanding is not added twice.
func TestEnqueue_Deduplicates(t *testing.T) {
	// Arrange
	s := session.New("p1", newPersistence(t), 50*time.Millisecond)
	key := voxel.Coord{CX: 1, CY: 2, CZ: 3}

	// Act
	s.Enqueue(key)
	s.Enqueue(key)

	// Assert
	if len(s.SendQueue) != 1 {
		t.Errorf("expected 1 queued entry, got %d", len(s.SendQueue))
	}
}

// TestResubmit_ExponentialBackoff_CapsAtMax verifies the backoff
// schedule doubles each attempt and saturates at maxBackoff.
func TestResubmit_ExponentialBackoff_CapsAtMax(t *testing.T) {
	// Arrange
	s := session.New("p1", newPersistence(t), 50*time.Millisecond)
	key := voxel.Coord{CX: 0}
	now := time.Now()
	s.AddOutstanding(1, key, now, 80*time.Millisecond, []byte("frame"), 0)

	// Act: resubmit repeatedly, each time simulating "now" has reached
	// the previous deadline, and track the per-step delta.
	o := s.Outstanding[1]
	var lastDelta time.Duration
	for i := 0; i < 6; i++ {
		prevDeadline := o.NextDeadline
		s.Resubmit(1, prevDeadline, 80*time.Millisecond, 2*time.Second)
		lastDelta = o.NextDeadline.Sub(prevDeadline)
	}

	// Assert
	if lastDelta != 2*time.Second {
		t.Errorf("expected final step capped at maxBackoff 2s, got %v", lastDelta)
	}
	if o.Frame != nil {
		t.Error("expected cached frame cleared on resubmit")
	}
}

// TestPersistAndRestore_RoundTrips verifies a session's outstanding
// chunk keys (not frames) and send queue survive a save/restore cycle,
// and that restore always forces AwaitingInitialHave = true.
func TestPersistAndRestore_RoundTrips(t *testing.T) {
	// Arrange
	persistence := newPersistence(t)
	s := session.New("p1", persistence, 0)
	s.Ack(nil) // a fresh session's awaiting flag is already false; restore must set it
	s.AddOutstanding(1, voxel.Coord{CX: 5}, time.Now(), 80*time.Millisecond, []byte("frame"), 0)
	s.Enqueue(voxel.Coord{CX: 9})

	// Act
	if err := s.ForcePersist(); err != nil {
		t.Fatalf("ForcePersist: %v", err)
	}
	restored, found, err := session.Restore("p1", persistence, 0)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}

	// Assert
	if !found {
		t.Fatal("expected restored session to be found")
	}
	if !restored.AwaitingInitialHave {
		t.Error("expected restore to force AwaitingInitialHave = true")
	}
	if _, ok := restored.Outstanding[1]; !ok {
		t.Error("expected outstanding seq 1 to survive restore")
	}
	if restored.Outstanding[1].Frame != nil {
		t.Error("expected restored outstanding entry to have no cached frame")
	}
	if len(restored.SendQueue) != 1 || restored.SendQueue[0] != (voxel.Coord{CX: 9}) {
		t.Errorf("expected send queue to survive restore, got %+v", restored.SendQueue)
	}
}

// TestRestore_NoPriorState_ReturnsNewSession verifies restoring an
// unknown player id yields a fresh session rather than an error.
func TestRestore_NoPriorState_ReturnsNewSession(t *testing.T) {
	// Arrange
	persistence := newPersistence(t)

	// Act
	s, found, err := session.Restore("never-seen", persistence, 0)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}

	// Assert
	if found {
		t.Error("expected found=false for a never-persisted player")
	}
	if s.PlayerID != "never-seen" {
		t.Errorf("expected fresh session for never-seen, got %+v", s)
	}
}
