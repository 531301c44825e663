// Package main provides the roboprep server entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	gormlogger "gorm.io/gorm/logger"

	"github.com/slyderc/roboprep-sub000/internal/config"
	"github.com/slyderc/roboprep-sub000/internal/db"
	"github.com/slyderc/roboprep-sub000/internal/lifecycle"
	"github.com/slyderc/roboprep-sub000/internal/server"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	port := flag.Int("port", 0, "HTTP port (default: config value)")
	dbPath := flag.String("db", "", "Database path (default: ~/.roboprep/roboprep.db)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true})

	if err := config.EnsureAll(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure data directories")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load config, using defaults")
		cfg = config.Default()
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if !*debug {
		applyLogLevel(cfg.LogLevel)
	}

	store, err := db.NewStore(db.Config{
		Path:     cfg.DBPath,
		MaxConns: cfg.MaxConns,
		LogLevel: gormlogger.Silent,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer store.Close()

	svc := server.NewService(Version, cfg, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Bring the store to the target schema version. A missing upgrade path is
	// fatal; any other failure leaves the service up but not ready, so the
	// admin UI can inspect the version and trigger the upgrade by hand.
	if err := svc.Engine().Initialize(ctx); err != nil {
		if errors.Is(err, lifecycle.ErrNoUpgradePath) {
			log.Fatal().Err(err).Msg("Database version is not upgradeable, restore from backup")
		}
		log.Error().Err(err).Msg("Database initialization failed, store endpoints disabled")
	} else {
		svc.SetReady(true)
	}

	// Live-reload the log level when the config file changes.
	watcher, err := config.NewWatcher(config.ConfigPath(), func() {
		if reloaded, err := config.Load(); err == nil {
			applyLogLevel(reloaded.LogLevel)
		}
	})
	if err != nil {
		log.Warn().Err(err).Msg("Config watcher unavailable")
	} else {
		_ = watcher.Start()
		defer watcher.Stop()
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           svc.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
		cancel()
	}()

	log.Info().Int("port", cfg.Port).Str("db", cfg.DBPath).Str("version", Version).
		Msg("roboprep server listening")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("HTTP server failed")
	}
}

// applyLogLevel sets the global zerolog level from a config string.
func applyLogLevel(level string) {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil || parsed == zerolog.NoLevel {
		return
	}
	zerolog.SetGlobalLevel(parsed)
}
