// Package main is the entry point for the Ollama proxy gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/arosboro/ollama-proxy/internal/config"
	"github.com/arosboro/ollama-proxy/internal/gateway"
	"github.com/arosboro/ollama-proxy/internal/monitoring"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	version := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *version {
		fmt.Println("ollama-proxy " + gateway.Version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	monitoring.SetupLogging(cfg.LogLevel)

	log.Info().
		Str("version", gateway.Version).
		Str("listen", cfg.ListenAddr).
		Str("backend", cfg.OllamaHost).
		Bool("auto_chunking", cfg.AutoChunking).
		Int("max_context_override", cfg.MaxContextOverride).
		Msg("ollama proxy starting")

	gw, err := gateway.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create gateway")
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("shutdown signal received")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := gw.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("gateway shutdown error")
		}
	}()

	if err := gw.Start(); err != nil && err.Error() != "http: Server closed" {
		log.Fatal().Err(err).Msg("gateway error")
	}

	log.Info().Msg("ollama proxy stopped")
}
