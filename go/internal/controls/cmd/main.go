package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mcdev12/vremote/go/internal/broker"
	"github.com/mcdev12/vremote/go/internal/config"
	"github.com/mcdev12/vremote/go/internal/controls"
	"github.com/mcdev12/vremote/go/internal/discovery"
	"github.com/mcdev12/vremote/go/internal/input"
	"github.com/mcdev12/vremote/go/internal/logging"
	"github.com/mcdev12/vremote/go/internal/remote"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	local := flag.String("local", "", `local fallback input: "stdin", "evdev", or a JSON-lines file`)
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	proxyURL := cfg.Controls.ProxyURL
	if cfg.Controls.Discover {
		browseCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		found, err := discovery.Browse(browseCtx)
		cancel()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to discover rendezvous service")
		}
		proxyURL = found
	}

	brokerCfg := broker.DefaultConfig()
	brokerCfg.ProxyURL = proxyURL
	brokerCfg.Debug = cfg.Controls.Debug
	brokerCfg.Upgrade = cfg.Controls.Upgrade
	brokerCfg.RTC = cfg.RTC

	c := controls.New(controls.Config{
		Broker:       brokerCfg,
		PairCode:     cfg.Controls.PairCode,
		Enabled:      cfg.Controls.Enabled,
		Gesture:      cfg.Gesture,
		TickInterval: cfg.TickInterval(),
	})
	defer c.Close()

	log.Info().
		Str("proxy_url", proxyURL).
		Bool("upgrade", cfg.Controls.Upgrade).
		Int("tick_rate", cfg.Controls.TickRate).
		Msg("starting receiver")

	if err := c.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to pair")
	}

	if *configPath != "" {
		err := config.Watch(ctx, *configPath, func(next *config.Config) {
			c.SetEnabled(next.Controls.Enabled)
		})
		if err != nil {
			log.Warn().Err(err).Msg("config changes will need a restart")
		}
	}

	if *local != "" {
		src, release, err := input.Open(input.SourceConfig{
			Kind:   *local,
			Device: cfg.Phone.Device,
			Width:  cfg.Phone.Width,
			Height: cfg.Phone.Height,
			Grab:   cfg.Phone.Grab,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open local input")
		}
		defer release()
		go func() {
			if err := c.RunLocal(ctx, src); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("local input stopped")
			}
		}()
	}

	// Frames are written to stdout as JSON lines whenever the sampled state
	// or the connection changes.
	enc := json.NewEncoder(os.Stdout)
	var last remote.State
	var lastConnected bool
	err = c.Run(ctx, func(f controls.Frame) {
		if f.Seq > 1 && f.State == last && f.Connected == lastConnected {
			return
		}
		last, lastConnected = f.State, f.Connected
		if err := enc.Encode(f); err != nil {
			log.Error().Err(err).Msg("failed to write frame")
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("frame loop stopped")
	}

	log.Info().Msg("receiver shutdown complete")
}
