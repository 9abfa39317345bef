package game

import "blockstream-server/store"

// World is the entity named in the data model's World metadata entry:
// `{ type, spawn_point, height }`, bound to the chunk store that
// backs it.
type World struct {
	Name      string
	Type      string
	SpawnPoint Position
	Height    int

	Store *store.Store
}

// NewWorld binds a world's metadata to its chunk store.
func NewWorld(name string, meta store.WorldMeta, st *store.Store) *World {
	return &World{
		Name: name,
		Type: meta.Type,
		SpawnPoint: Position{
			X: float64(meta.SpawnX),
			Y: float64(meta.SpawnY),
			Z: float64(meta.SpawnZ),
		},
		Height: meta.Height,
		Store:  st,
	}
}

// Meta converts the world's metadata back to its persisted shape.
func (w *World) Meta() store.WorldMeta {
	return store.WorldMeta{
		Type:   w.Type,
		SpawnX: int32(w.SpawnPoint.X),
		SpawnY: int32(w.SpawnPoint.Y),
		SpawnZ: int32(w.SpawnPoint.Z),
		Height: w.Height,
	}
}
