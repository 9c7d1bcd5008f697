package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mcdev12/vremote/go/internal/config"
	"github.com/mcdev12/vremote/go/internal/discovery"
	"github.com/mcdev12/vremote/go/internal/logging"
	"github.com/mcdev12/vremote/go/internal/rendezvous"
	"github.com/mcdev12/vremote/go/internal/transport"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logging.Setup(cfg.Controls.Debug, cfg.Log.JSON)

	relay, closeRelay := setupRelay(cfg)
	defer closeRelay()

	server := rendezvous.NewServer(rendezvous.Config{
		Port:           cfg.Server.Port,
		CodeLength:     cfg.Server.CodeLength,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Transport:      transport.DefaultConfig(),
	}, relay)
	httpServer := server.HTTPServer()

	log.Info().
		Int("port", cfg.Server.Port).
		Bool("nats", cfg.Server.UseNATS).
		Bool("advertise", cfg.Server.Advertise).
		Msg("starting rendezvous service")

	if cfg.Server.Advertise {
		adv, err := discovery.Advertise(cfg.Server.Instance, cfg.Server.Port)
		if err != nil {
			log.Error().Err(err).Msg("mdns advertisement failed")
		} else {
			defer adv.Shutdown()
		}
	}

	// Start HTTP server
	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("HTTP server starting")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("rendezvous service shutdown complete")
}

func setupRelay(cfg *config.Config) (rendezvous.Relay, func()) {
	if !cfg.Server.UseNATS {
		return rendezvous.NewMemoryRelay(), func() {}
	}

	relay, err := rendezvous.NewNATSRelay(cfg.Server.NATS)
	if err != nil {
		log.Fatal().Err(err).Str("nats_url", cfg.Server.NATS.URL).Msg("failed to connect relay")
	}
	log.Info().Str("nats_url", cfg.Server.NATS.URL).Msg("using NATS relay")
	return relay, func() {
		if err := relay.Close(); err != nil {
			log.Error().Err(err).Msg("failed to drain NATS")
		}
	}
}
