package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"blockstream-server/core"
	"blockstream-server/voxel"
)

// OutstandingKey is the persisted shape of an outstanding entry: the
// chunk key only, never the cached frame bytes (§4.6 resume: restored
// entries "retain their chunk keys but not their frames").
type OutstandingKey struct {
	Seq      uint32      `json:"seq"`
	ChunkKey voxel.Coord `json:"chunk_key"`
}

// State is the full on-disk shape of a session, written to
// <client_id>.json.
type State struct {
	PlayerID          string           `json:"player_id"`
	NextSeq           uint32           `json:"next_seq"`
	Outstanding       []OutstandingKey `json:"outstanding"`
	SendQueue         []voxel.Coord    `json:"send_queue"`
	Telemetry         Telemetry        `json:"telemetry"`
	LastKnownPosition Position         `json:"last_known_position"`
}

// Persistence owns the client_state directory and the atomic
// tmp/bak/rename write protocol shared with the chunk store (see
// core.AtomicWriteFile).
type Persistence struct {
	root string
}

// NewPersistence binds session persistence to a client_state
// directory under root, creating it if absent.
func NewPersistence(root string) (*Persistence, error) {
	dir := filepath.Join(root, "client_state")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, core.NewFatal("session.NewPersistence", fmt.Errorf("create %s: %w", dir, err))
	}
	return &Persistence{root: dir}, nil
}

func (p *Persistence) path(playerID string) string {
	return filepath.Join(p.root, playerID+".json")
}

// Save atomically writes a session's state.
func (p *Persistence) Save(state State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return core.NewFatal("session.Save", err)
	}
	if err := core.AtomicWriteFile(p.path(state.PlayerID), data); err != nil {
		return core.NewRetryable("session.Save", err)
	}
	return nil
}

// Load reads a session's persisted state, falling back to its .bak on
// parse failure. found is false when neither parses — the caller
// should treat this as a brand new session.
func (p *Persistence) Load(playerID string) (state State, found bool, err error) {
	found, err = core.LoadWithBackupFallback(p.path(playerID), func(data []byte) error {
		return json.Unmarshal(data, &state)
	})
	return state, found, err
}
