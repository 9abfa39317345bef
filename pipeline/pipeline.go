// Package pipeline implements the reliable chunk pipeline (C6): it
// decides what each client still needs, sends frames within a
// bounded outstanding window, tracks acknowledgements, retries with
// exponential backoff, drops after too many attempts, and reconciles
// state across a reconnect.
package pipeline

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"blockstream-server/codec"
	"blockstream-server/generation"
	"blockstream-server/metrics"
	"blockstream-server/session"
	"blockstream-server/store"
	"blockstream-server/voxel"
)

// Config holds the tunables named in §6's configuration table that
// govern pipeline behavior.
type Config struct {
	AckTimeout         time.Duration
	MaxRetries         int
	RenderRadiusChunks int32
	WindowSize         int
	MaxBackoff         time.Duration
}

// Pipeline ties the chunk store and the two worker pools together on
// behalf of every connected session.
type Pipeline struct {
	cfg Config

	store      *store.Store
	generator  *generation.Manager
	serializer *codec.SerializerPool
	metrics    *metrics.Registry
	logger     zerolog.Logger

	nextJobID uint64
}

// New builds a pipeline bound to a chunk store and the generation and
// serialization worker pools.
func New(cfg Config, st *store.Store, generator *generation.Manager, serializer *codec.SerializerPool, reg *metrics.Registry, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		store:      st,
		generator:  generator,
		serializer: serializer,
		metrics:    reg,
		logger:     logger,
	}
}

// ViewCoords returns every chunk coordinate within RenderRadiusChunks
// of center, in outward-spiral order — the "what to send" computation
// from §4.6, reusing the store's spiral ordering so nearer columns
// are always considered first.
func (p *Pipeline) ViewCoords(center voxel.Coord) []voxel.Coord {
	cols := store.SpiralColumns(center.CX, center.CZ, p.cfg.RenderRadiusChunks)
	out := make([]voxel.Coord, 0, len(cols)*int(2*p.cfg.RenderRadiusChunks+1))
	for _, col := range cols {
		for cy := center.CY - p.cfg.RenderRadiusChunks; cy <= center.CY+p.cfg.RenderRadiusChunks; cy++ {
			out = append(out, voxel.Coord{CX: col[0], CY: cy, CZ: col[1]})
		}
	}
	return out
}

// UpdateSendSet recomputes the desired chunk set around a player's
// current chunk and enqueues anything the session neither has
// confirmed nor is currently outstanding for.
func (p *Pipeline) UpdateSendSet(sess *session.Session, playerChunk voxel.Coord) {
	for _, coord := range p.ViewCoords(playerChunk) {
		if sess.Have[coord] {
			continue
		}
		sess.Enqueue(coord)
	}
}

// ReportQueueDepths publishes the generator and serializer worker
// pools' current queue depths to the pool-queue-depth gauge. Called
// once per game tick, not per session, since both pools are shared
// across every connected player.
func (p *Pipeline) ReportQueueDepths() {
	if p.metrics == nil {
		return
	}
	p.metrics.SetPoolQueueDepth("generator", p.generator.QueueDepth())
	p.metrics.SetPoolQueueDepth("serializer", p.serializer.QueueDepth())
}

// Tick drains one session's send queue up to the per-tick budget
// (bounded by the outstanding window) and processes any retries whose
// deadline has passed. It returns the encoded frames to write to the
// transport, in send order.
//
// A session with AwaitingInitialHave set (fresh after session.Restore)
// neither sends new frames nor retries restored ones: §4.5/§4.6
// require the pipeline to wait for the client's first chunk_have
// before draining, since Resume is what reconciles the restored
// Outstanding set — draining early would resend old sequence numbers
// the client has already discarded.
func (p *Pipeline) Tick(sess *session.Session, now time.Time) [][]byte {
	if sess.AwaitingInitialHave {
		return nil
	}

	var frames [][]byte
	frames = append(frames, p.processRetries(sess, now)...)

	for len(sess.Outstanding) < p.cfg.WindowSize {
		coord, ok := sess.PopSendQueue()
		if !ok {
			break
		}
		seq := sess.NextSequence()
		frame, version, ok := p.produceFrame(coord, seq)
		if !ok {
			// Transient generation/serialization back-pressure: undo
			// the sequence reservation's queue position and try again
			// next tick. The burned sequence number is harmless —
			// sequence numbers only need to be unique, not dense.
			sess.EnqueueFront(coord)
			break
		}

		sess.AddOutstanding(seq, coord, now, p.cfg.AckTimeout, frame, version)
		if p.metrics != nil {
			p.metrics.IncSent(sess.PlayerID)
		}
		frames = append(frames, frame)
	}

	return frames
}

// processRetries re-sends or drops every outstanding entry whose
// deadline has passed.
func (p *Pipeline) processRetries(sess *session.Session, now time.Time) [][]byte {
	var frames [][]byte
	for _, seq := range sess.DueForRetry(now) {
		o, ok := sess.Outstanding[seq]
		if !ok {
			continue
		}

		if o.Attempts >= p.cfg.MaxRetries {
			sess.Drop(seq)
			if p.metrics != nil {
				p.metrics.IncDropped(sess.PlayerID)
			}
			p.logger.Info().Str("player_id", sess.PlayerID).Uint32("seq", seq).Msg("dropping chunk frame after max retries")
			continue
		}

		if chunk, resident := p.store.Resident(o.ChunkKey); resident && chunk.Version != o.FrameVersion && o.FrameVersion != 0 {
			// The chunk moved on since this frame was cached: drop
			// this entry and re-schedule the key fresh rather than
			// ship a stale frame (§4.6 frame caching rule).
			sess.Drop(seq)
			sess.Enqueue(o.ChunkKey)
			continue
		}

		if o.Frame != nil {
			sess.ResubmitKeepingFrame(seq, now, p.cfg.AckTimeout, p.cfg.MaxBackoff)
			if p.metrics != nil {
				p.metrics.IncResent(sess.PlayerID)
			}
			frames = append(frames, o.Frame)
			continue
		}

		frame, version, ok := p.produceFrame(o.ChunkKey, seq)
		if !ok {
			// Still can't serialize; leave attempts and deadline as-is
			// so the next tick's DueForRetry picks this seq up again.
			continue
		}
		sess.Resubmit(seq, now, p.cfg.AckTimeout, p.cfg.MaxBackoff)
		o.Frame = frame
		o.FrameVersion = version
		if p.metrics != nil {
			p.metrics.IncResent(sess.PlayerID)
		}
		frames = append(frames, frame)
	}
	return frames
}

// produceFrame resolves coord's chunk (loading/generating it if
// necessary) and serializes it with the given sequence number already
// stamped in. ok is false on transient back-pressure from either
// worker pool, in which case the caller should retry next tick rather
// than treat this as fatal.
func (p *Pipeline) produceFrame(coord voxel.Coord, seq uint32) ([]byte, uint32, bool) {
	chunk, resident := p.store.Resident(coord)
	if !resident {
		id := atomic.AddUint64(&p.nextJobID, 1)
		result := make(chan generation.Result, 1)
		if err := p.generator.Submit(id, coord, result); err != nil {
			return nil, 0, false
		}
		select {
		case r := <-result:
			chunk = p.store.Insert(r.Coord, r.Blocks)
		case <-time.After(200 * time.Millisecond):
			return nil, 0, false
		}
	}

	snap := chunk.Snapshot()
	id := atomic.AddUint64(&p.nextJobID, 1)
	result := make(chan codec.SerializeResult, 1)
	if err := p.serializer.Submit(codec.SerializeJob{ID: id, Sequence: seq, Snapshot: snap}, result); err != nil {
		return nil, 0, false
	}
	select {
	case r := <-result:
		if len(r.Frame) == 0 {
			return nil, 0, false
		}
		return r.Frame, r.Version, true
	case <-time.After(200 * time.Millisecond):
		return nil, 0, false
	}
}

// HandleChunkHave processes an inbound chunk_have message.
func (p *Pipeline) HandleChunkHave(sess *session.Session, seqs []uint32) {
	sess.Ack(seqs)
}

// NotifyChunksChanged is the block-edit propagation hook: for every
// session that may hold a now-stale copy of any of the given chunks,
// forget the stale have-confirmation and (re-)enqueue it.
func (p *Pipeline) NotifyChunksChanged(sessions []*session.Session, coords []voxel.Coord) {
	for _, sess := range sessions {
		for _, coord := range coords {
			sess.ForgetHave(coord)
			sess.Enqueue(coord)
		}
	}
}

// Resume reconciles a restored session's outstanding entries against
// the client's first post-reconnect chunk-have list, per §4.6: an
// entry whose seq the client reports is dropped (already applied);
// everything else is re-enqueued at the head with a fresh sequence
// to be assigned on send.
func (p *Pipeline) Resume(sess *session.Session, haveSeqs []uint32) {
	have := make(map[uint32]bool, len(haveSeqs))
	for _, s := range haveSeqs {
		have[s] = true
	}

	var restore []voxel.Coord
	for seq, o := range sess.Outstanding {
		if have[seq] {
			delete(sess.Outstanding, seq)
			sess.Have[o.ChunkKey] = true
			continue
		}
		restore = append(restore, o.ChunkKey)
		delete(sess.Outstanding, seq)
	}
	for i := len(restore) - 1; i >= 0; i-- {
		sess.EnqueueFront(restore[i])
	}
	sess.Ack(nil) // clears AwaitingInitialHave, even though haveSeqs may be empty
}
