// Copyright 2024-2026 Aiku AI

// Command matrix-comments runs a Matrix appservice that hosts comment
// sections as chat rooms. It provisions rooms on demand when their
// aliases are queried, groups them into sites, and keeps each site's
// bans and power levels in sync with the site's moderation room.
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

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"go.mau.fi/util/exzerolog"

	"github.com/aiku/matrix-comments/pkg/bridge"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// .env is optional and only used for local development overrides.
	_ = godotenv.Load()

	defaultConfig := os.Getenv("COMMENTS_CONFIG")
	if defaultConfig == "" {
		defaultConfig = "config.yaml"
	}
	configPath := flag.String("config", defaultConfig, "path to the config file")
	printExample := flag.Bool("example-config", false, "print the example config and exit")
	printVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *printExample {
		fmt.Print(bridge.ExampleConfig)
		return
	}
	if *printVersion {
		fmt.Printf("matrix-comments %s (%s, built %s)\n", Tag, Commit, BuildTime)
		return
	}

	cfg, err := bridge.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)
	svc, err := bridge.NewService(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize appservice")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := svc.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Appservice exited with error")
	}
	log.Info().Msg("Appservice stopped")
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stderr).With().Timestamp().Logger().Level(lvl)
	exzerolog.SetupDefaults(&log)
	return log
}
