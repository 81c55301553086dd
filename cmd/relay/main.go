package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"checkinbot/internal/config"
	"checkinbot/internal/relay"
	"checkinbot/internal/tg"
)

// The relay emulates push-webhook delivery for environments without an
// internet-reachable callback URL: it long-polls the platform and forwards
// every update to the local webhook, in order, acknowledging by offset.
func main() {
	var (
		cfgPath    = flag.String("config", "", "YAML config file path")
		webhookURL = flag.String("url", "", "local webhook URL (overrides config)")
		offsetPath = flag.String("offset", "", "offset file path (overrides config)")
	)
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	cfg, err := config.Load(*cfgPath)
	if err != nil { log.Fatal().Err(err).Msg("load config") }
	if *webhookURL != "" { cfg.Relay.WebhookURL = *webhookURL }
	if *offsetPath != "" { cfg.Relay.OffsetPath = *offsetPath }
	if err := cfg.Validate(); err != nil { log.Fatal().Err(err).Msg("invalid config") }

	url := cfg.Relay.WebhookURL
	if url == "" {
		url = fmt.Sprintf("http://localhost%s/tg/%s", cfg.Addr, cfg.WebhookToken)
	}
	timeout, err := cfg.Relay.Timeout()
	if err != nil { log.Fatal().Err(err).Msg("invalid poll timeout") }

	r := relay.New(
		tg.NewClient(cfg.TelegramToken),
		relay.NewHTTPForwarder(url),
		relay.NewFileOffsetStore(cfg.Relay.OffsetPath),
		timeout,
	)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		<-c
		log.Info().Msg("shutting down")
		cancel()
	}()

	if err := r.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("relay")
	}
}
