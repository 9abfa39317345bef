package store

import (
	"time"

	"blockstream-server/voxel"
)

// Store is the chunk store (C3): the authoritative source of block
// data for the running world. It composes three layers, consulted in
// this order on every read:
//
//  1. the overlay — every explicit player edit, which always wins;
//  2. the resident chunk cache — generated or reconstructed chunks
//     currently held in memory;
//  3. the persisted column-top buffer, or the generator if no column
//     file exists yet — the baseline, unedited terrain.
//
// Only the event loop goroutine may call Store's methods: it is not
// internally synchronized, per the single-writer concurrency model.
type Store struct {
	generator   voxel.Generator
	persistence *Persistence
	overlay     *Overlay

	resident map[voxel.Coord]*voxel.Chunk
	lru      []voxel.Coord // oldest first
	capacity int

	editsSinceCompaction int
	compactionThreshold   int
}

// New builds a chunk store bound to generator and persistence, with a
// resident-chunk cache capped at capacity entries.
func New(generator voxel.Generator, persistence *Persistence, capacity int) (*Store, error) {
	if capacity <= 0 {
		capacity = 512
	}

	overlay, err := persistence.LoadOverlay()
	if err != nil {
		return nil, err
	}

	return &Store{
		generator:           generator,
		persistence:         persistence,
		overlay:              overlay,
		resident:             make(map[voxel.Coord]*voxel.Chunk, capacity),
		capacity:             capacity,
		compactionThreshold:  500,
	}, nil
}

// chunkCoordFor converts a world block coordinate to the chunk
// coordinate containing it. Go's integer division truncates toward
// zero, so negative coordinates need an explicit floor.
func chunkCoordFor(x, y, z int32) voxel.Coord {
	return voxel.Coord{CX: floorDiv(x), CY: floorDiv(y), CZ: floorDiv(z)}
}

func floorDiv(v int32) int32 {
	if v >= 0 {
		return v / voxel.Size
	}
	return -((-v + voxel.Size - 1) / voxel.Size)
}

func localCoord(v int32) int {
	local := int(v % voxel.Size)
	if local < 0 {
		local += voxel.Size
	}
	return local
}

// GetBlock resolves a single voxel, consulting the overlay first (an
// explicit value always wins, including id 0), then the resident or
// loaded chunk.
func (s *Store) GetBlock(x, y, z int32) uint16 {
	if id, ok := s.overlay.Get(x, y, z); ok {
		return id
	}

	coord := chunkCoordFor(x, y, z)
	chunk := s.resolveChunk(coord)
	return chunk.Get(localCoord(x), localCoord(y), localCoord(z))
}

// SetBlock records an edit (appended to the overlay log immediately,
// so a crash never loses it), resolves (loading if needed) and updates
// the containing chunk, and bumps the version of the edited chunk and
// of those of its six face neighbors that are resident (never
// diagonals) so the pipeline knows to re-stream them.
// Returns the edited chunk's coordinate plus every neighbor whose
// version was bumped, for the caller to hand to the reliable pipeline.
func (s *Store) SetBlock(x, y, z int32, id uint16) ([]voxel.Coord, error) {
	if err := s.persistence.AppendOverlay(overlayRecord{X: x, Y: y, Z: z, ID: id}); err != nil {
		return nil, err
	}
	s.overlay.Set(x, y, z, id)
	s.editsSinceCompaction++
	if s.editsSinceCompaction >= s.compactionThreshold {
		if err := s.persistence.CompactOverlay(s.overlay); err == nil {
			s.editsSinceCompaction = 0
		}
	}

	coord := chunkCoordFor(x, y, z)
	chunk := s.resolveChunk(coord)
	chunk.Set(localCoord(x), localCoord(y), localCoord(z), id)

	touched := []voxel.Coord{coord}
	for _, n := range coord.FaceNeighbors() {
		if neighbor, ok := s.resident[n]; ok {
			neighbor.BumpVersion()
			touched = append(touched, n)
		}
	}
	return touched, nil
}

// FillRegion applies id to every block in the inclusive box between
// min and max, returning the union of edited/bumped chunk coordinates.
func (s *Store) FillRegion(min, max [3]int32, id uint16) ([]voxel.Coord, error) {
	touchedSet := make(map[voxel.Coord]struct{})
	for x := min[0]; x <= max[0]; x++ {
		for y := min[1]; y <= max[1]; y++ {
			for z := min[2]; z <= max[2]; z++ {
				touched, err := s.SetBlock(x, y, z, id)
				if err != nil {
					return nil, err
				}
				for _, c := range touched {
					touchedSet[c] = struct{}{}
				}
			}
		}
	}
	out := make([]voxel.Coord, 0, len(touchedSet))
	for c := range touchedSet {
		out = append(out, c)
	}
	return out, nil
}

// ChunkResult pairs a coordinate with its resolved chunk, returned by
// ChunksInRange in outward-spiral order.
type ChunkResult struct {
	Coord voxel.Coord
	Chunk *voxel.Chunk
}

// ChunksInRange resolves every chunk within radius (Chebyshev
// distance, matching render_radius_chunks) of center, horizontally
// spiraling outward from the center column (SpiralColumns, the same
// ordering the pipeline uses for prioritized network sends) and
// sweeping the vertical levels center.CY-radius..center.CY+radius per
// column.
func (s *Store) ChunksInRange(center voxel.Coord, radius int) []ChunkResult {
	coords := SpiralColumns(center.CX, center.CZ, int32(radius))
	results := make([]ChunkResult, 0, len(coords)*(2*radius+1))
	for _, col := range coords {
		for cy := center.CY - int32(radius); cy <= center.CY+int32(radius); cy++ {
			coord := voxel.Coord{CX: col[0], CY: cy, CZ: col[1]}
			results = append(results, ChunkResult{Coord: coord, Chunk: s.resolveChunk(coord)})
		}
	}
	return results
}

// resolveChunk returns the resident chunk at coord, loading it from
// disk (column-top reconstruction) or generating it if absent, then
// applying any overlay edits that fall within it. The result is
// inserted into the resident cache, evicting the least-recently-used
// entry if the cache is now over capacity.
func (s *Store) resolveChunk(coord voxel.Coord) *voxel.Chunk {
	if chunk, ok := s.resident[coord]; ok {
		chunk.Touch(time.Now())
		s.touchLRU(coord)
		return chunk
	}

	chunk := voxel.NewChunk(coord)
	if tops, ok, err := s.persistence.LoadColumnTop(coord.CX, coord.CZ); err == nil && ok {
		s.reconstructFromColumnTop(chunk, tops)
	} else {
		chunk.Blocks = s.generator.Generate(coord)
		nonEmpty := 0
		for _, id := range chunk.Blocks {
			if id != 0 {
				nonEmpty++
			}
		}
		chunk.NonEmptyCount = nonEmpty
	}

	s.applyOverlayToChunk(chunk)

	s.resident[coord] = chunk
	s.lru = append(s.lru, coord)
	s.evictIfOverCapacity()

	return chunk
}

// reconstructFromColumnTop fills chunk's blocks directly from a
// persisted column-top byte per (x,z), using the same fixed layer
// rules the generator uses, without invoking the generator.
func (s *Store) reconstructFromColumnTop(chunk *voxel.Chunk, tops [256]byte) {
	worldYBase := int(chunk.Coord.CY) * voxel.Size
	nonEmpty := 0
	for z := 0; z < voxel.Size; z++ {
		for x := 0; x < voxel.Size; x++ {
			top := int(tops[columnTopIndex(x, z)])
			for y := 0; y < voxel.Size; y++ {
				id := voxel.BlockAtHeight(worldYBase+y, top)
				if id != 0 {
					chunk.Blocks[voxel.Index(x, y, z)] = id
					nonEmpty++
				}
			}
		}
	}
	chunk.NonEmptyCount = nonEmpty
}

// applyOverlayToChunk writes every overlay edit that falls inside
// chunk onto its blocks. Overlay edits are not indexed by chunk: it
// looks up each of the chunk's 4096 world positions in the overlay.
func (s *Store) applyOverlayToChunk(chunk *voxel.Chunk) {
	base := chunk.Coord
	for dy := 0; dy < voxel.Size; dy++ {
		for dz := 0; dz < voxel.Size; dz++ {
			for dx := 0; dx < voxel.Size; dx++ {
				wx := int32(base.CX)*voxel.Size + int32(dx)
				wy := int32(base.CY)*voxel.Size + int32(dy)
				wz := int32(base.CZ)*voxel.Size + int32(dz)
				if id, ok := s.overlay.Get(wx, wy, wz); ok {
					chunk.Blocks[voxel.Index(dx, dy, dz)] = id
				}
			}
		}
	}
	nonEmpty := 0
	for _, id := range chunk.Blocks {
		if id != 0 {
			nonEmpty++
		}
	}
	chunk.NonEmptyCount = nonEmpty
}

func (s *Store) touchLRU(coord voxel.Coord) {
	for i, c := range s.lru {
		if c == coord {
			s.lru = append(s.lru[:i], s.lru[i+1:]...)
			break
		}
	}
	s.lru = append(s.lru, coord)
}

// evictIfOverCapacity evicts the least-recently-used resident chunk,
// writing back its column-top contribution first if it was ever
// edited (Dirty) so the baseline terrain survives the eviction.
func (s *Store) evictIfOverCapacity() {
	if len(s.resident) <= s.capacity {
		return
	}
	victim := s.lru[0]
	s.lru = s.lru[1:]

	chunk, ok := s.resident[victim]
	if ok && chunk.Dirty {
		s.writeBackColumnTop(chunk)
	}
	delete(s.resident, victim)
}

// writeBackColumnTop derives the WHOLE column's top-solid heights —
// not just the evicted chunk's own 16-block slab — and merges it into
// the persisted buffer. The column file holds one height per (x,z)
// for the entire vertical column, so deriving it from a single cy
// slab would, for an underground chunk evicted before any surface
// chunk has ever been written, bake in a top far below the true
// surface (destroying the baseline terrain above it on the next
// load). To avoid that, every chunk still resident in this column is
// folded in, and the write is skipped entirely if the highest chunk
// we know of still has solid content reaching its own ceiling: the
// true surface may continue into a chunk above that was never
// resolved, and persisting in that case would understate the top just
// as surely as looking only at the evicted chunk would.
func (s *Store) writeBackColumnTop(chunk *voxel.Chunk) {
	highestCY := chunk.Coord.CY
	for coord := range s.resident {
		if coord.CX == chunk.Coord.CX && coord.CZ == chunk.Coord.CZ && coord.CY > highestCY {
			highestCY = coord.CY
		}
	}
	for coord, c := range s.resident {
		if coord.CX != chunk.Coord.CX || coord.CZ != chunk.Coord.CZ || coord.CY != highestCY {
			continue
		}
		if chunkReachesCeiling(c) {
			return
		}
	}

	var tops [256]byte
	known := false
	for coord, c := range s.resident {
		if coord.CX != chunk.Coord.CX || coord.CZ != chunk.Coord.CZ {
			continue
		}
		worldYBase := int(coord.CY) * voxel.Size
		for z := 0; z < voxel.Size; z++ {
			for x := 0; x < voxel.Size; x++ {
				for y := voxel.Size - 1; y >= 0; y-- {
					if c.Get(x, y, z) != 0 {
						if h := byte(worldYBase + y); h > tops[columnTopIndex(x, z)] {
							tops[columnTopIndex(x, z)] = h
						}
						known = true
						break
					}
				}
			}
		}
	}
	if !known {
		return
	}
	_ = s.persistence.SaveColumnTop(chunk.Coord.CX, chunk.Coord.CZ, tops)
}

// chunkReachesCeiling reports whether any (x,z) column in chunk has
// solid content at its topmost local Y layer, meaning the chunk above
// may continue the same column's surface upward.
func chunkReachesCeiling(chunk *voxel.Chunk) bool {
	for z := 0; z < voxel.Size; z++ {
		for x := 0; x < voxel.Size; x++ {
			if chunk.Get(x, voxel.Size-1, z) != 0 {
				return true
			}
		}
	}
	return false
}

// Resident reports whether coord currently has a chunk loaded in
// memory, without triggering generation — used by callers (e.g. the
// reliable pipeline) that want to distinguish "already resident" from
// "needs generation/load" before deciding whether to hand the work to
// a worker pool.
func (s *Store) Resident(coord voxel.Coord) (*voxel.Chunk, bool) {
	c, ok := s.resident[coord]
	return c, ok
}

// Insert places an externally-produced chunk (e.g. the result of an
// async generation job submitted by the pipeline) into the resident
// cache, applying any overlay edits on top of it first.
func (s *Store) Insert(coord voxel.Coord, blocks [voxel.BlocksPerChunk]uint16) *voxel.Chunk {
	if existing, ok := s.resident[coord]; ok {
		return existing
	}

	chunk := voxel.NewChunk(coord)
	chunk.Blocks = blocks
	s.applyOverlayToChunk(chunk)

	s.resident[coord] = chunk
	s.lru = append(s.lru, coord)
	s.evictIfOverCapacity()
	return chunk
}

// OverlayLen reports the number of recorded block edits, mainly for
// tests and metrics.
func (s *Store) OverlayLen() int { return s.overlay.Len() }
