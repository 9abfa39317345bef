// Package generation offloads procedural chunk fill to a worker pool,
// adapting the teacher's ChunkManager (generation/manager.go in
// vibe-runner-server, a cache-plus-background-generation manager) from
// a 1-D obstacle cache into the generator worker pool named as
// component C4 in the design: a bounded pool of workers that run a
// voxel.Generator and hand back a detached block buffer by value.
package generation

import (
	"blockstream-server/voxel"
	"blockstream-server/workerpool"
)

// Job identifies one generation request.
type Job struct {
	ID    uint64
	Coord voxel.Coord
}

// Result is the output of a generation job: the coordinate, the
// generated block buffer, and its non-empty count, transferred back
// to the caller by value (the Go equivalent of the spec's zero-copy
// buffer-transfer requirement — no shared mutable state survives the
// job boundary).
type Result struct {
	ID            uint64
	Coord         voxel.Coord
	Blocks        [voxel.BlocksPerChunk]uint16
	NonEmptyCount int
}

// Manager runs a bounded worker pool around a voxel.Generator.
type Manager struct {
	pool      *workerpool.Pool[Job, Result]
	generator voxel.Generator
}

// NewManager starts a generation worker pool of the given size,
// backed by generator, with the given bounded job queue capacity.
func NewManager(generator voxel.Generator, workers, queueCapacity int) *Manager {
	m := &Manager{generator: generator}
	m.pool = workerpool.New[Job, Result](workers, queueCapacity)
	return m
}

// Submit enqueues a generation job. result must have capacity >= 1 (or
// an active reader) so the worker never blocks on a torn-down caller.
// Returns workerpool.ErrQueueFull when the pool's bounded queue is
// saturated — the caller (the reliable pipeline) treats this as a
// transient error and retries next tick.
func (m *Manager) Submit(id uint64, coord voxel.Coord, result chan<- Result) error {
	return m.pool.Submit(workerpool.Job[Job, Result]{
		ID:    id,
		Input: Job{ID: id, Coord: coord},
		Work: func(in Job) Result {
			blocks := m.generator.Generate(in.Coord)
			nonEmpty := 0
			for _, b := range blocks {
				if b != voxel.BlockAir {
					nonEmpty++
				}
			}
			return Result{ID: in.ID, Coord: in.Coord, Blocks: blocks, NonEmptyCount: nonEmpty}
		},
		Result: result,
	})
}

// QueueDepth reports the current generator pool queue depth, for the
// worker_pool_queue_depth metric.
func (m *Manager) QueueDepth() int { return m.pool.QueueDepth() }

// Shutdown stops all generator workers.
func (m *Manager) Shutdown() { m.pool.Shutdown() }

// DefaultPoolSize returns max(1, cpuCount-k), per the worker pool
// sizing rule in §4.4 (k=1 for generation).
func DefaultPoolSize(cpuCount, k int) int {
	n := cpuCount - k
	if n < 1 {
		n = 1
	}
	return n
}
