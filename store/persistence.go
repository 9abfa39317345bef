package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"blockstream-server/core"
	"blockstream-server/voxel"
)

// WorldMeta is the small persisted record describing the world a
// store is bound to (§ data model World entity), written alongside
// the chunk data.
type WorldMeta struct {
	Type       string `json:"type"`
	SpawnX     int32  `json:"spawn_x"`
	SpawnY     int32  `json:"spawn_y"`
	SpawnZ     int32  `json:"spawn_z"`
	Height     int    `json:"height"`
}

// Persistence owns the on-disk layout under root:
//
//	root/world.json           - WorldMeta
//	root/columns/<cx>_<cz>.chunk - 256-byte column-top heights
//	root/overlay.log          - append-only block-edit log
type Persistence struct {
	root string
}

// NewPersistence binds a persistence layer to a directory, creating it
// (and its columns subdirectory) if absent.
func NewPersistence(root string) (*Persistence, error) {
	if err := os.MkdirAll(filepath.Join(root, "columns"), 0o755); err != nil {
		return nil, core.NewFatal("store.NewPersistence", fmt.Errorf("create root %s: %w", root, err))
	}
	return &Persistence{root: root}, nil
}

func (p *Persistence) worldPath() string   { return filepath.Join(p.root, "world.json") }
func (p *Persistence) overlayPath() string { return filepath.Join(p.root, "overlay.log") }
func (p *Persistence) columnPath(cx, cz int32) string {
	return filepath.Join(p.root, "columns", fmt.Sprintf("%d_%d.chunk", cx, cz))
}

// LoadWorldMeta reads world.json, falling back to its .bak on parse
// failure. found is false when neither exists or parses.
func (p *Persistence) LoadWorldMeta() (meta WorldMeta, found bool, err error) {
	found, err = core.LoadWithBackupFallback(p.worldPath(), func(data []byte) error {
		return json.Unmarshal(data, &meta)
	})
	return meta, found, err
}

// SaveWorldMeta atomically writes world.json.
func (p *Persistence) SaveWorldMeta(meta WorldMeta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return core.NewFatal("store.SaveWorldMeta", err)
	}
	if err := core.AtomicWriteFile(p.worldPath(), data); err != nil {
		return core.NewRetryable("store.SaveWorldMeta", err)
	}
	return nil
}

// LoadColumnTop reads the 256-byte column-top buffer for chunk-column
// (cx,cz). ok is false if no file exists for this column (caller
// should fall back to the generator's default).
func (p *Persistence) LoadColumnTop(cx, cz int32) (tops [256]byte, ok bool, err error) {
	data, readErr := os.ReadFile(p.columnPath(cx, cz))
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return tops, false, nil
		}
		return tops, false, core.NewRetryable("store.LoadColumnTop", readErr)
	}
	if len(data) != 256 {
		return tops, false, core.NewFatal("store.LoadColumnTop", fmt.Errorf("corrupt column file %s: want 256 bytes, got %d", p.columnPath(cx, cz), len(data)))
	}
	copy(tops[:], data)
	return tops, true, nil
}

// SaveColumnTop atomically writes the 256-byte column-top buffer for
// chunk-column (cx,cz), merging with any existing persisted data by
// taking the max height per (x,z) — eviction only ever raises the
// known top, it never lowers it (a lower write would require knowing
// every loaded chunk in the column, not just the one being evicted).
func (p *Persistence) SaveColumnTop(cx, cz int32, tops [256]byte) error {
	if existing, ok, err := p.LoadColumnTop(cx, cz); err == nil && ok {
		for i := range tops {
			if existing[i] > tops[i] {
				tops[i] = existing[i]
			}
		}
	}
	if err := core.AtomicWriteFile(p.columnPath(cx, cz), tops[:]); err != nil {
		return core.NewRetryable("store.SaveColumnTop", err)
	}
	return nil
}

// overlayRecordSize is the encoded size of one overlayRecord: three
// int32 coordinates plus a uint16 block id.
const overlayRecordSize = 4 + 4 + 4 + 2

// LoadOverlay replays the overlay log into a fresh Overlay, falling
// back to its .bak when the primary file exists but cannot be read.
func (p *Persistence) LoadOverlay() (*Overlay, error) {
	overlay := NewOverlay()
	data, err := os.ReadFile(p.overlayPath())
	if err != nil {
		if os.IsNotExist(err) {
			return overlay, nil
		}
		data, err = os.ReadFile(p.overlayPath() + ".bak")
		if err != nil {
			if os.IsNotExist(err) {
				return overlay, nil
			}
			return nil, core.NewRetryable("store.LoadOverlay", err)
		}
	}

	if len(data)%overlayRecordSize != 0 {
		// Truncated tail from a crash mid-append: replay whole
		// records and discard the partial one.
		data = data[:len(data)-(len(data)%overlayRecordSize)]
	}

	for off := 0; off+overlayRecordSize <= len(data); off += overlayRecordSize {
		rec := overlayRecord{
			X:  int32(binary.LittleEndian.Uint32(data[off:])),
			Y:  int32(binary.LittleEndian.Uint32(data[off+4:])),
			Z:  int32(binary.LittleEndian.Uint32(data[off+8:])),
			ID: binary.LittleEndian.Uint16(data[off+12:]),
		}
		overlay.applyRecord(rec)
	}
	return overlay, nil
}

// AppendOverlay appends one edit record to the overlay log.
func (p *Persistence) AppendOverlay(rec overlayRecord) error {
	buf := make([]byte, overlayRecordSize)
	binary.LittleEndian.PutUint32(buf[0:], uint32(rec.X))
	binary.LittleEndian.PutUint32(buf[4:], uint32(rec.Y))
	binary.LittleEndian.PutUint32(buf[8:], uint32(rec.Z))
	binary.LittleEndian.PutUint16(buf[12:], rec.ID)

	f, err := os.OpenFile(p.overlayPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return core.NewRetryable("store.AppendOverlay", err)
	}
	defer f.Close()
	if _, err := f.Write(buf); err != nil {
		return core.NewRetryable("store.AppendOverlay", err)
	}
	return nil
}

// CompactOverlay rewrites the overlay log from the overlay's current
// in-memory state, collapsing however many superseded edits have
// accumulated into one record per coordinate. Called periodically
// rather than after every edit, per the store's compaction policy.
func (p *Persistence) CompactOverlay(overlay *Overlay) error {
	records := overlay.records()
	buf := make([]byte, 0, len(records)*overlayRecordSize)
	for _, rec := range records {
		rbuf := make([]byte, overlayRecordSize)
		binary.LittleEndian.PutUint32(rbuf[0:], uint32(rec.X))
		binary.LittleEndian.PutUint32(rbuf[4:], uint32(rec.Y))
		binary.LittleEndian.PutUint32(rbuf[8:], uint32(rec.Z))
		binary.LittleEndian.PutUint16(rbuf[12:], rec.ID)
		buf = append(buf, rbuf...)
	}
	if err := core.AtomicWriteFile(p.overlayPath(), buf); err != nil {
		return core.NewRetryable("store.CompactOverlay", err)
	}
	return nil
}

// columnTopIndex converts in-chunk-column local (x,z) (0..15 each)
// into the 256-byte buffer's flat index.
func columnTopIndex(x, z int) int { return z*voxel.Size + x }
