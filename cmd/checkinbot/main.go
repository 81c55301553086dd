package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"checkinbot/internal/api"
	"checkinbot/internal/config"
	"checkinbot/internal/dispatch"
	"checkinbot/internal/engine"
	"checkinbot/internal/ingest"
	"checkinbot/internal/store"
	"checkinbot/internal/tg"
)

func main() {
	var (
		cfgPath = flag.String("config", "", "YAML config file path")
		addr    = flag.String("addr", "", "HTTP bind address (overrides config)")
		dbPath  = flag.String("db", "", "SQLite DB path (overrides config)")
	)
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	cfg, err := config.Load(*cfgPath)
	if err != nil { log.Fatal().Err(err).Msg("load config") }
	if *addr != "" { cfg.Addr = *addr }
	if *dbPath != "" { cfg.DBPath = *dbPath }
	if err := cfg.Validate(); err != nil { log.Fatal().Err(err).Msg("invalid config") }
	interval, _ := cfg.Interval()

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)", cfg.DBPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil { log.Fatal().Err(err).Msg("open db") }
	defer db.Close()
	db.SetMaxOpenConns(1) // SQLite single writer

	if err := store.EnsureSchema(db); err != nil { log.Fatal().Err(err).Msg("ensure schema") }
	repo := store.NewSQLiteRepo(db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng := engine.New(repo)
	n, err := eng.Rebuild(ctx)
	if err != nil { log.Fatal().Err(err).Msg("rebuild schedule from storage") }
	log.Info().Int("recovered", n).Msg("recovered pending check-ins")

	client := tg.NewClient(cfg.TelegramToken)

	loop := dispatch.New(eng, client, repo)
	go loop.Run(ctx)

	h := ingest.New(eng, repo, interval)
	srv := &http.Server{Addr: cfg.Addr, Handler: api.NewServer(eng, repo, h, cfg.WebhookToken)}
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Info().Msg("shutting down")
	cancel()
	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()
	_ = srv.Shutdown(ctxTimeout)
}
