package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/Telecall/internal/adapters/http"
	"github.com/dkeye/Telecall/internal/config"
	"github.com/dkeye/Telecall/internal/store"
	"github.com/dkeye/Telecall/internal/store/memory"
	"github.com/dkeye/Telecall/internal/store/sqlstore"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(nil)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	backend, err := openBackend(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Database.Driver).Msg("failed to open signaling store")
	}

	relay := router.NewServer(backend, router.NewRateLimiter(cfg.CandidateLimit, cfg.CandidateInterval))
	r := router.SetupRouter(ctx, cfg, relay)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Str("db", cfg.Database.Driver).Msg("Telecall relay started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	relay.Registry.CancelAll()
	if err := backend.Close(); err != nil {
		log.Error().Err(err).Msg("closing signaling store")
	}
	log.Info().Msg("Server exited gracefully")
}

func openBackend(db config.Database) (store.Backend, error) {
	switch db.Driver {
	case "sqlite", "postgres":
		return sqlstore.Open(db.Driver, db.DSN)
	default:
		return memory.New(), nil
	}
}
