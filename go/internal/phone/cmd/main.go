package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mcdev12/vremote/go/internal/broker"
	"github.com/mcdev12/vremote/go/internal/config"
	"github.com/mcdev12/vremote/go/internal/discovery"
	"github.com/mcdev12/vremote/go/internal/input"
	"github.com/mcdev12/vremote/go/internal/logging"
	"github.com/mcdev12/vremote/go/internal/phone"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	pairCode := flag.String("code", "", "pair code shown by the receiver (overrides config)")
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

	if *pairCode != "" {
		cfg.Controls.PairCode = *pairCode
	}

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

	src, release, err := input.Open(input.SourceConfig{
		Kind:   cfg.Phone.Source,
		Device: cfg.Phone.Device,
		Width:  cfg.Phone.Width,
		Height: cfg.Phone.Height,
		Grab:   cfg.Phone.Grab,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open input")
	}
	defer release()

	brokerCfg := broker.DefaultConfig()
	brokerCfg.ProxyURL = proxyURL
	brokerCfg.Debug = cfg.Controls.Debug
	brokerCfg.Upgrade = cfg.Controls.Upgrade
	brokerCfg.RTC = cfg.RTC

	p := phone.New(phone.Config{
		Broker:       brokerCfg,
		PairCode:     cfg.Controls.PairCode,
		Gesture:      cfg.Gesture,
		PingInterval: cfg.Phone.PingInterval,
	})
	defer p.Close()

	log.Info().
		Str("proxy_url", proxyURL).
		Str("pair_code", cfg.Controls.PairCode).
		Str("source", cfg.Phone.Source).
		Msg("starting phone")

	if err := p.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to join receiver")
	}

	if err := p.Run(ctx, src); err != nil {
		log.Error().Err(err).Msg("input stopped")
	}

	rtt, _ := p.RTT()
	log.Info().Uint64("sent", p.Sent()).Dur("last_rtt", rtt).Msg("phone shutdown complete")
}
