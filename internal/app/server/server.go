package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/dougwithseismic/dotoro-ads-sub003/internal/api"
	"github.com/dougwithseismic/dotoro-ads-sub003/internal/config"
	"github.com/dougwithseismic/dotoro-ads-sub003/internal/engine"
	"github.com/dougwithseismic/dotoro-ads-sub003/internal/limits"
	"github.com/dougwithseismic/dotoro-ads-sub003/internal/listener"
	"github.com/dougwithseismic/dotoro-ads-sub003/internal/storage"
)

// requestTimeout bounds a single generation call, Generate on large
// sources being the slowest.
const requestTimeout = 60 * time.Second

func Run(cfg config.Config) {
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts, err := engineOptions(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("load platform limits")
	}

	// Storage
	store, err := storage.New(rootCtx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("init storage")
	}
	defer store.Close()

	rules := storage.NewRuleCache(store)
	if err := rules.Refresh(rootCtx); err != nil {
		log.Fatal().Err(err).Msg("initial rule load")
	}
	log.Info().Int("rules", rules.Len()).Msg("rules loaded")

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		if err := rdb.Ping(rootCtx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unreachable; row cache will fail open")
		}
	}
	rows := storage.NewRowCache(store, rdb, cfg.RowCacheTTL())

	// Engine
	eng := engine.NewEngine(storage.Lookup{RowSource: rows, RuleSource: rules}, opts)

	// HTTP
	h := api.NewGenerationHandler(eng)
	r := api.Router(h, requestTimeout)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: requestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Listener (LISTEN/NOTIFY)
	go listener.ListenAndRefresh(rootCtx, store.PgxPool(), rules, cfg.Listener.Channel, cfg.Backoff())

	// Server goroutine
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server crashed")
		}
	}()

	// Wait for signal
	waitForSignal()
	log.Info().Msg("shutdown...")

	// Graceful shutdown
	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	cancel() // stop background goroutines
	_ = srv.Shutdown(shCtx)
}

func engineOptions(cfg config.Config) (engine.Options, error) {
	tbl := limits.Default()
	if cfg.Generation.LimitsFile != "" {
		var err error
		if tbl, err = tbl.LoadFile(cfg.Generation.LimitsFile); err != nil {
			return engine.Options{}, err
		}
	}
	return engine.Options{
		Limits:              tbl,
		ChunkSize:           cfg.Generation.ChunkSize,
		Workers:             cfg.Generation.Workers,
		MaxInvalidDetails:   cfg.Generation.MaxInvalidDetails,
		DefaultPreviewLimit: cfg.Generation.DefaultPreviewLimit,
		MaxPreviewLimit:     cfg.Generation.MaxPreviewLimit,
	}, nil
}

func waitForSignal() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
}
