// Command outbox drains an outbox table through the session gateway.
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"gowa-sessions/config"
	"gowa-sessions/internal/outbox"
)

func main() {
	if err := godotenv.Load(); err != nil {
		_ = godotenv.Load("../../.env")
	}

	cfg, err := config.LoadOutbox()
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("load config")
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	var log zerolog.Logger
	if cfg.LogFormat == "console" {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen})
	} else {
		log = zerolog.New(os.Stdout)
	}
	log = log.Level(lvl).With().Timestamp().Str("component", "outbox").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, driver, err := outbox.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("outbox database")
	}
	defer db.Close()
	log.Info().Str("driver", driver).Str("gateway", cfg.APIBaseURL).Msg("connected to outbox database")

	d := outbox.NewDispatcher(
		outbox.NewStore(db, driver),
		outbox.NewGatewayClient(cfg.APIBaseURL, cfg.APIToken, cfg.APITimeout),
		outbox.Config{
			Application: cfg.Application,
			Interval:    cfg.Interval,
			IntervalMax: cfg.IntervalMax,
			CountryCode: cfg.CountryCode,
		},
		log,
	)
	d.Run(ctx)
	log.Info().Msg("outbox shutdown complete")
}
