// Package store implements the chunk store (component C3): the
// resident chunk cache, the player-edit overlay that always wins over
// generated or persisted terrain, and the on-disk persistence format.
package store

// blockKey identifies a single voxel in world space.
type blockKey struct {
	X, Y, Z int32
}

// Overlay holds every block edit applied since world creation, keyed
// by absolute world coordinates. An edit to air (id 0) is a real entry
// — it overrides a non-air generated or persisted block — so presence
// in the map, not the stored value, is what "edited" means.
type Overlay struct {
	edits map[blockKey]uint16
}

// NewOverlay builds an empty overlay.
func NewOverlay() *Overlay {
	return &Overlay{edits: make(map[blockKey]uint16)}
}

// Get returns the overlay value at (x,y,z) and whether an edit exists
// there at all.
func (o *Overlay) Get(x, y, z int32) (uint16, bool) {
	v, ok := o.edits[blockKey{x, y, z}]
	return v, ok
}

// Set records an edit. id may be 0 (explicit air).
func (o *Overlay) Set(x, y, z int32, id uint16) {
	o.edits[blockKey{x, y, z}] = id
}

// Len reports the number of recorded edits.
func (o *Overlay) Len() int { return len(o.edits) }

// overlayRecord is the append-only log and compacted-snapshot record
// shape: one entry per edit.
type overlayRecord struct {
	X, Y, Z int32
	ID      uint16
}

// records returns every edit as a slice in unspecified (map iteration)
// order, for compaction and snapshotting.
func (o *Overlay) records() []overlayRecord {
	out := make([]overlayRecord, 0, len(o.edits))
	for k, v := range o.edits {
		out = append(out, overlayRecord{X: k.X, Y: k.Y, Z: k.Z, ID: v})
	}
	return out
}

// applyRecord replays a single log record into the overlay. Later
// records for the same coordinate overwrite earlier ones, which is
// exactly what a plain map assignment does — so replaying an
// append-only log in file order reconstructs the final state.
func (o *Overlay) applyRecord(r overlayRecord) {
	o.edits[blockKey{r.X, r.Y, r.Z}] = r.ID
}
