package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"blockstream-server/block"
	"blockstream-server/codec"
	"blockstream-server/config"
	"blockstream-server/game"
	"blockstream-server/generation"
	"blockstream-server/logging"
	"blockstream-server/metrics"
	"blockstream-server/network"
	"blockstream-server/pipeline"
	"blockstream-server/session"
	"blockstream-server/store"
	"blockstream-server/voxel"
)

// upgrader configures the WebSocket connection upgrade from HTTP. It
// allows connections from any origin; a public deployment would
// restrict CheckOrigin to its own client domain.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (defaults to environment variables only)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, true, nil)
	logger.Info().Str("listen_addr", cfg.ListenAddr).Msg("starting server")

	metricsRegistry := metrics.NewRegistry()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(metricsRegistry.Registerer(), promhttp.HandlerOpts{}))
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.Warn().Err(err).Msg("metrics server stopped")
		}
	}()

	registry := block.NewRegistry()
	if err := registry.Load(cfg.BlockPackRoot); err != nil {
		logger.Fatal().Err(err).Str("block_pack_root", cfg.BlockPackRoot).Msg("failed to load block pack")
	}
	logger.Info().Int("block_count", registry.Len()).Msg("block registry loaded")

	storePersistence, err := store.NewPersistence(cfg.WorldRoot)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize world persistence")
	}

	worldMeta, found, err := storePersistence.LoadWorldMeta()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load world metadata")
	}
	if !found {
		worldMeta = store.WorldMeta{
			Type:   "flat",
			SpawnX: 8,
			SpawnY: int32(voxel.DefaultColumnTop + 1),
			SpawnZ: 8,
			Height: cfg.WorldHeight,
		}
		if err := storePersistence.SaveWorldMeta(worldMeta); err != nil {
			logger.Fatal().Err(err).Msg("failed to persist initial world metadata")
		}
		logger.Info().Msg("initialized fresh world")
	}

	generator := voxel.NewFlatGenerator(cfg.ResidentChunkCap)

	chunkStore, err := store.New(generator, storePersistence, cfg.ResidentChunkCap)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize chunk store")
	}

	world := game.NewWorld("overworld", worldMeta, chunkStore)

	generatorPool := generation.NewManager(generator, cfg.GeneratorPoolSize, cfg.WindowSize)
	serializerPool := codec.NewSerializerPool(cfg.SerializerPoolSize, cfg.WindowSize)

	pipe := pipeline.New(pipeline.Config{
		AckTimeout:         time.Duration(cfg.ChunkAckTimeoutMS) * time.Millisecond,
		MaxRetries:         cfg.ChunkMaxRetries,
		RenderRadiusChunks: int32(cfg.RenderRadiusChunks),
		WindowSize:         cfg.WindowSize,
		MaxBackoff:         time.Duration(cfg.MaxBackoffMS) * time.Millisecond,
	}, chunkStore, generatorPool, serializerPool, metricsRegistry, logger)

	sessionPersistence, err := session.NewPersistence(cfg.StateRoot)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize session persistence")
	}

	gameState := game.NewGameState(world)
	hub := network.NewClientHub(logger)

	dispatcher := &network.Dispatcher{
		GameState:          gameState,
		Pipeline:           pipe,
		Registry:           registry,
		SessionPersistence: sessionPersistence,
		Debounce:           time.Duration(cfg.SessionPersistDebounceMS) * time.Millisecond,
		Hub:                hub,
		Logger:             logger,
	}

	stopTicker := game.StartGameTicker(gameState, pipe, dispatcher, dispatcher, logger)
	defer stopTicker()

	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}
		dispatcher.HandleClient(conn)
	})

	logger.Info().Str("addr", cfg.ListenAddr).Msg("listening")
	if err := http.ListenAndServe(cfg.ListenAddr, nil); err != nil {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}
