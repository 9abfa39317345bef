// Package config loads server configuration from a YAML file with an
// environment variable overlay, the way asch-bs3 loads its config
// struct via cleanenv.
package config

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds every recognized option from the configuration table,
// plus the ambient logging and metrics settings carried regardless of
// the spec's observability Non-goals.
type Config struct {
	ChunkAckTimeoutMS        int    `yaml:"chunk_ack_timeout_ms" env:"CHUNK_ACK_TIMEOUT_MS" env-default:"80"`
	ChunkMaxRetries          int    `yaml:"chunk_max_retries" env:"CHUNK_MAX_RETRIES" env-default:"4"`
	RenderRadiusChunks       int    `yaml:"render_radius_chunks" env:"RENDER_RADIUS_CHUNKS" env-default:"8"`
	WindowSize               int    `yaml:"window_size" env:"WINDOW_SIZE" env-default:"32"`
	ResidentChunkCap         int    `yaml:"resident_chunk_cap" env:"RESIDENT_CHUNK_CAP" env-default:"256"`
	GeneratorPoolSize        int    `yaml:"generator_pool_size" env:"GENERATOR_POOL_SIZE" env-default:"0"`
	SerializerPoolSize       int    `yaml:"serializer_pool_size" env:"SERIALIZER_POOL_SIZE" env-default:"0"`
	SessionPersistDebounceMS int    `yaml:"session_persist_debounce_ms" env:"SESSION_PERSIST_DEBOUNCE_MS" env-default:"50"`
	BlockPackRoot            string `yaml:"block_pack_root" env:"BLOCK_PACK_ROOT" env-default:"./blocks"`

	WorldHeight           int    `yaml:"world_height" env:"WORLD_HEIGHT" env-default:"256"`
	WorldRoot             string `yaml:"world_root" env:"WORLD_ROOT" env-default:"./data/world"`
	StateRoot             string `yaml:"state_root" env:"STATE_ROOT" env-default:"./data/sessions"`
	RetransmitTickMS      int    `yaml:"retransmit_tick_ms" env:"RETRANSMIT_TICK_MS" env-default:"20"`
	MaxBackoffMS          int    `yaml:"max_backoff_ms" env:"MAX_BACKOFF_MS" env-default:"2000"`
	LRUPressureCheckMS    int    `yaml:"lru_pressure_check_ms" env:"LRU_PRESSURE_CHECK_MS" env-default:"1000"`
	ListenAddr            string `yaml:"listen_addr" env:"LISTEN_ADDR" env-default:":8080"`

	LogLevel    string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	MetricsAddr string `yaml:"metrics_addr" env:"METRICS_ADDR" env-default:":9100"`
}

// Load reads path (if it exists) as YAML and overlays environment
// variables, then validates the result. An empty path skips the file
// read and uses defaults plus environment overrides only.
func Load(path string) (*Config, error) {
	var cfg Config

	var err error
	if path != "" {
		err = cleanenv.ReadConfig(path, &cfg)
	} else {
		err = cleanenv.ReadEnv(&cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate enforces that every tunable in the configuration table is
// usable: timeouts, retries, window and cap sizes must be positive.
func (c *Config) Validate() error {
	checks := []struct {
		name string
		val  int
	}{
		{"chunk_ack_timeout_ms", c.ChunkAckTimeoutMS},
		{"chunk_max_retries", c.ChunkMaxRetries},
		{"render_radius_chunks", c.RenderRadiusChunks},
		{"window_size", c.WindowSize},
		{"resident_chunk_cap", c.ResidentChunkCap},
		{"session_persist_debounce_ms", c.SessionPersistDebounceMS},
		{"world_height", c.WorldHeight},
		{"retransmit_tick_ms", c.RetransmitTickMS},
		{"max_backoff_ms", c.MaxBackoffMS},
		{"lru_pressure_check_ms", c.LRUPressureCheckMS},
	}
	for _, chk := range checks {
		if chk.val <= 0 {
			return fmt.Errorf("%s must be positive, got %d", chk.name, chk.val)
		}
	}
	if c.BlockPackRoot == "" {
		return fmt.Errorf("block_pack_root must not be empty")
	}
	return nil
}
