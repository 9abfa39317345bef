package codec

import (
	"time"

	"blockstream-server/voxel"
	"blockstream-server/workerpool"
)

// SerializeJob carries a detached chunk snapshot to a serializer
// worker. The snapshot must be a stable, already-copied view (see
// voxel.Chunk.Snapshot) — the store is the only component permitted
// to mutate a live chunk, so workers never race with it.
type SerializeJob struct {
	ID       uint64
	Sequence uint32
	Snapshot voxel.Snapshot
}

// SerializeResult is the output of a serialize job: the encoded frame
// plus how long encoding took, per the spec's serialize_ms field.
type SerializeResult struct {
	ID          uint64
	Coord       voxel.Coord
	Version     uint32
	Frame       []byte
	SerializeMS float64
}

// SerializerPool runs EncodeBest on a bounded worker pool.
type SerializerPool struct {
	pool *workerpool.Pool[SerializeJob, SerializeResult]
}

// NewSerializerPool starts a serializer worker pool of the given
// size and bounded queue capacity.
func NewSerializerPool(workers, queueCapacity int) *SerializerPool {
	return &SerializerPool{
		pool: workerpool.New[SerializeJob, SerializeResult](workers, queueCapacity),
	}
}

// Submit enqueues a serialize job. Returns workerpool.ErrQueueFull
// when the bounded queue is saturated.
func (p *SerializerPool) Submit(job SerializeJob, result chan<- SerializeResult) error {
	return p.pool.Submit(workerpool.Job[SerializeJob, SerializeResult]{
		ID:    job.ID,
		Input: job,
		Work: func(in SerializeJob) SerializeResult {
			start := time.Now()
			frame, err := EncodeBest(in.Sequence, in.Snapshot.Coord, in.Snapshot.Version, in.Snapshot.Blocks)
			elapsed := time.Since(start)
			if err != nil {
				// EncodeBest only fails on programmer error (unknown
				// mode), which cannot happen via the public API; an
				// empty frame signals the caller to treat this as a
				// dropped job.
				return SerializeResult{ID: in.ID, Coord: in.Snapshot.Coord, Version: in.Snapshot.Version}
			}
			return SerializeResult{
				ID:          in.ID,
				Coord:       in.Snapshot.Coord,
				Version:     in.Snapshot.Version,
				Frame:       frame,
				SerializeMS: float64(elapsed) / float64(time.Millisecond),
			}
		},
		Result: result,
	})
}

// QueueDepth reports the current serializer pool queue depth.
func (p *SerializerPool) QueueDepth() int { return p.pool.QueueDepth() }

// Shutdown stops all serializer workers.
func (p *SerializerPool) Shutdown() { p.pool.Shutdown() }

// DefaultPoolSize returns max(1, cpuCount-k), per the worker pool
// sizing rule in §4.4 (k=2 for serialization).
func DefaultPoolSize(cpuCount, k int) int {
	n := cpuCount - k
	if n < 1 {
		n = 1
	}
	return n
}
