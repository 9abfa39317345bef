// Package session implements the per-connection client session (C5):
// send queue, outstanding acknowledgement window, sequence counter,
// telemetry, and a debounced on-disk mirror so a reconnecting player
// can resume without a full resync.
package session

import (
	"time"

	"blockstream-server/voxel"
)

// Telemetry mirrors the four counters named in §4.5.
type Telemetry struct {
	Sent    uint64 `json:"sent"`
	Resent  uint64 `json:"resent"`
	Dropped uint64 `json:"dropped"`
	Acked   uint64 `json:"acked"`
}

// Outstanding is one in-flight chunk frame awaiting acknowledgement.
type Outstanding struct {
	ChunkKey     voxel.Coord
	SentAt       time.Time
	Attempts     int
	NextDeadline time.Time

	// Frame and FrameVersion cache the serialized bytes so a retry can
	// skip re-serialization; FrameVersion records the chunk version
	// the cached frame was built from, so a later version bump can be
	// detected as staleness (§4.6 frame caching).
	Frame        []byte
	FrameVersion uint32
}

// Position is the player's last known location, persisted so a
// reconnect can immediately recompute the send set without waiting
// for a fresh player_move.
type Position struct {
	X, Y, Z float64
}

// Session is per-connection client state. Only the event loop
// goroutine may touch it — per the concurrency model, the chunk
// store, sessions, and worker-pool completions are all serialized
// through one goroutine, so Session carries no internal locking.
type Session struct {
	PlayerID string

	NextSeq             uint32
	Outstanding         map[uint32]*Outstanding
	SendQueue           []voxel.Coord
	AwaitingInitialHave bool
	Telemetry           Telemetry
	LastKnownPosition   Position
	Closed              bool

	// Have is the set of chunk keys this client has confirmed (via a
	// successfully acked sequence) applying. The pipeline consults
	// this, not a guess, when deciding what still needs sending — it
	// is cleared for a key when that chunk's version is bumped so the
	// client is re-sent the newer frame.
	Have map[voxel.Coord]bool

	persistence    *Persistence
	dirty          bool
	lastPersistAt  time.Time
	debounce       time.Duration
}

// New creates a fresh session for a newly authenticated connection.
// AwaitingInitialHave starts false: §4.5 only forces it true "on
// resume" — a brand-new connection has nothing outstanding to
// reconcile, and the client has no chunk to chunk_have yet, so the
// pipeline drains immediately.
func New(playerID string, persistence *Persistence, debounce time.Duration) *Session {
	return &Session{
		PlayerID:    playerID,
		Outstanding: make(map[uint32]*Outstanding),
		Have:        make(map[voxel.Coord]bool),
		persistence: persistence,
		debounce:    debounce,
	}
}

// Restore loads a prior session's state from disk, forcing
// AwaitingInitialHave = true regardless of what was persisted, per
// §4.5: a resumed session always waits for the client's first
// chunk-have before draining. found is false when no prior state
// exists (or it was unreadable), in which case the caller should
// treat this as a new session.
func Restore(playerID string, persistence *Persistence, debounce time.Duration) (*Session, bool, error) {
	state, found, err := persistence.Load(playerID)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return New(playerID, persistence, debounce), false, nil
	}

	s := &Session{
		PlayerID:            playerID,
		NextSeq:             state.NextSeq,
		Outstanding:         make(map[uint32]*Outstanding, len(state.Outstanding)),
		SendQueue:           append([]voxel.Coord(nil), state.SendQueue...),
		AwaitingInitialHave: true,
		Telemetry:           state.Telemetry,
		LastKnownPosition:   state.LastKnownPosition,
		Have:                make(map[voxel.Coord]bool),
		persistence:         persistence,
		debounce:            debounce,
	}
	for _, o := range state.Outstanding {
		s.Outstanding[o.Seq] = &Outstanding{ChunkKey: o.ChunkKey}
	}
	return s, true, nil
}

// NextSequence returns the next sequence number and advances the
// counter.
func (s *Session) NextSequence() uint32 {
	seq := s.NextSeq
	s.NextSeq++
	s.markDirty()
	return seq
}

// Enqueue adds a chunk key to the send queue unless it is already
// queued or already outstanding, per the pipeline's dedup rule.
func (s *Session) Enqueue(key voxel.Coord) {
	for _, q := range s.SendQueue {
		if q == key {
			return
		}
	}
	for _, o := range s.Outstanding {
		if o.ChunkKey == key {
			return
		}
	}
	s.SendQueue = append(s.SendQueue, key)
	s.markDirty()
}

// EnqueueFront pushes a chunk key to the head of the send queue,
// preserving the rest of the queue's order — used when resume
// reconciliation re-enqueues a restored outstanding entry.
func (s *Session) EnqueueFront(key voxel.Coord) {
	s.SendQueue = append([]voxel.Coord{key}, s.SendQueue...)
	s.markDirty()
}

// PopSendQueue removes and returns the head of the send queue.
func (s *Session) PopSendQueue() (voxel.Coord, bool) {
	if len(s.SendQueue) == 0 {
		return voxel.Coord{}, false
	}
	key := s.SendQueue[0]
	s.SendQueue = s.SendQueue[1:]
	s.markDirty()
	return key, true
}

// AddOutstanding records a freshly sent frame.
func (s *Session) AddOutstanding(seq uint32, key voxel.Coord, now time.Time, ackTimeout time.Duration, frame []byte, frameVersion uint32) {
	s.Outstanding[seq] = &Outstanding{
		ChunkKey:     key,
		SentAt:       now,
		Attempts:     1,
		NextDeadline: now.Add(ackTimeout),
		Frame:        frame,
		FrameVersion: frameVersion,
	}
	s.Telemetry.Sent++
	s.markDirty()
}

// Ack processes a chunk-have acknowledgement: every seq present in
// outstanding is removed and counted; unknown seqs are silently
// ignored, as required. If this session was awaiting its first
// chunk-have, that flag clears — even an empty list satisfies it.
func (s *Session) Ack(seqs []uint32) {
	if s.AwaitingInitialHave {
		s.AwaitingInitialHave = false
		s.markDirty()
	}
	for _, seq := range seqs {
		if o, ok := s.Outstanding[seq]; ok {
			s.Have[o.ChunkKey] = true
			delete(s.Outstanding, seq)
			s.Telemetry.Acked++
			s.markDirty()
		}
	}
}

// ForgetHave clears a chunk key from the confirmed-have set, used
// when that chunk's version is bumped by an edit and the client needs
// the newer frame re-sent.
func (s *Session) ForgetHave(key voxel.Coord) {
	delete(s.Have, key)
}

// DueForRetry returns the sequence numbers of outstanding entries
// whose deadline has passed as of now.
func (s *Session) DueForRetry(now time.Time) []uint32 {
	var due []uint32
	for seq, o := range s.Outstanding {
		if !now.Before(o.NextDeadline) {
			due = append(due, seq)
		}
	}
	return due
}

// Drop removes an outstanding entry and counts it as dropped.
func (s *Session) Drop(seq uint32) {
	delete(s.Outstanding, seq)
	s.Telemetry.Dropped++
	s.markDirty()
}

// Resubmit bumps an outstanding entry's attempt count and schedules
// its next retry with exponential backoff capped at maxBackoff,
// clearing any cached frame since the version may have advanced and
// the caller needs to re-serialize.
func (s *Session) Resubmit(seq uint32, now time.Time, ackTimeout, maxBackoff time.Duration) {
	o, ok := s.resubmit(seq, now, ackTimeout, maxBackoff)
	if ok {
		o.Frame = nil
	}
}

// ResubmitKeepingFrame is Resubmit for a retry whose cached frame is
// already confirmed fresh (the caller already checked the chunk's
// version against FrameVersion), so it is reused instead of cleared
// and re-serialized.
func (s *Session) ResubmitKeepingFrame(seq uint32, now time.Time, ackTimeout, maxBackoff time.Duration) {
	s.resubmit(seq, now, ackTimeout, maxBackoff)
}

func (s *Session) resubmit(seq uint32, now time.Time, ackTimeout, maxBackoff time.Duration) (*Outstanding, bool) {
	o, ok := s.Outstanding[seq]
	if !ok {
		return nil, false
	}
	o.Attempts++
	backoff := ackTimeout * time.Duration(1<<uint(o.Attempts-1))
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	o.NextDeadline = now.Add(backoff)
	s.Telemetry.Resent++
	s.markDirty()
	return o, true
}

// Close marks the session closed; after this, worker-pool completions
// for this player must be discarded by the caller.
func (s *Session) Close() {
	s.Closed = true
	s.markDirty()
}

func (s *Session) markDirty() { s.dirty = true }

// MaybePersist writes session state to disk if dirty and the debounce
// interval has elapsed, per the "at most one write per debounce
// window" rule in §4.5.
func (s *Session) MaybePersist(now time.Time) error {
	if !s.dirty {
		return nil
	}
	if now.Sub(s.lastPersistAt) < s.debounce {
		return nil
	}
	if err := s.persistence.Save(s.toState()); err != nil {
		return err
	}
	s.dirty = false
	s.lastPersistAt = now
	return nil
}

// ForcePersist writes session state unconditionally, ignoring the
// debounce window — used on disconnect.
func (s *Session) ForcePersist() error {
	if err := s.persistence.Save(s.toState()); err != nil {
		return err
	}
	s.dirty = false
	return nil
}

func (s *Session) toState() State {
	outstanding := make([]OutstandingKey, 0, len(s.Outstanding))
	for seq, o := range s.Outstanding {
		outstanding = append(outstanding, OutstandingKey{Seq: seq, ChunkKey: o.ChunkKey})
	}
	return State{
		PlayerID:          s.PlayerID,
		NextSeq:           s.NextSeq,
		Outstanding:       outstanding,
		SendQueue:         append([]voxel.Coord(nil), s.SendQueue...),
		Telemetry:         s.Telemetry,
		LastKnownPosition: s.LastKnownPosition,
	}
}
