package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/reverseauction/go/internal/auction/outbox"
	"github.com/mcdev12/reverseauction/go/internal/dbconfig"
)

func main() {
	// load .env
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// configure zerolog console output and level
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	zerolog.SetGlobalLevel(zerolog.DebugLevel)

	// DB config
	cfg := dbconfig.NewConfigFromEnv()
	dsn := cfg.DSN()
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("ping database")
	}
	log.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Database).
		Msg("connected to database")

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Publisher: JetStream unless NATS_URL is "log"
	jsCfg := outbox.DefaultJetStreamConfig()
	var publisher outbox.Publisher
	if url := os.Getenv("NATS_URL"); url == "log" {
		publisher = outbox.LogPublisher{SubjectPrefix: jsCfg.SubjectPrefix}
		log.Warn().Msg("NATS disabled, outbox events are only logged")
	} else {
		if url != "" {
			jsCfg.URL = url
		}
		js, err := outbox.NewJetStreamPublisher(ctx, jsCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("create JetStream publisher")
		}
		defer func() {
			if err := js.Close(); err != nil {
				log.Error().Err(err).Msg("close publisher")
			}
		}()
		publisher = js
	}

	// Relay config
	ltCfg := outbox.DefaultListenerConfig()
	ltCfg.DatabaseURL = dsn
	if iv := os.Getenv("OUTBOX_POLL_INTERVAL"); iv != "" {
		d, err := time.ParseDuration(iv)
		if err != nil {
			log.Fatal().Err(err).Str("value", iv).Msg("invalid OUTBOX_POLL_INTERVAL")
		}
		ltCfg.PollInterval = d
	}

	repo := outbox.NewRepository(db)
	if pending, err := repo.PendingCount(ctx); err == nil {
		log.Info().Int("pending", pending).Msg("outbox backlog")
	}

	listener, err := outbox.NewListener(repo, publisher, ltCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("create outbox listener")
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Msg("starting outbox relay")
		errCh <- listener.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
		<-errCh
		sent, last := listener.Stats()
		log.Info().Uint64("events_relayed", sent).Time("last_event", last).Msg("graceful shutdown complete")
	case err := <-errCh:
		log.Error().Err(err).Msg("listener exited unexpectedly")
	}
}
