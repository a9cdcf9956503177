// Pantry Chat is an HTTP service that turns a chat conversation into pantry
// updates. It proposes recipes via a remote recommender, waits for the user
// to confirm, and then fulfills the confirmed recipe against the pantry
// tracker service.
//
//	@title			Pantry Chat API
//	@version		1.0
//	@description	Recipe recommendation and pantry fulfillment over a chat workflow.
//	@BasePath		/api/v1
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	_ "github.com/tbourn/go-pantry-chat/docs"
	"github.com/tbourn/go-pantry-chat/internal/chat"
	"github.com/tbourn/go-pantry-chat/internal/config"
	httpapi "github.com/tbourn/go-pantry-chat/internal/http"
	"github.com/tbourn/go-pantry-chat/internal/observability"
	"github.com/tbourn/go-pantry-chat/internal/pantry"
	"github.com/tbourn/go-pantry-chat/internal/repo"
	"github.com/tbourn/go-pantry-chat/internal/sysutil"
)

var version = "dev"

const shutdownGrace = 10 * time.Second

func main() {
	// Missing .env is fine; env vars still apply.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		c, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := shutdownOTel(c); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.Open(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate database failed")
	}
	if cfg.OTEL.Enabled {
		if err := repo.EnableTracing(db); err != nil {
			log.Warn().Err(err).Msg("gorm tracing not enabled")
		}
	}

	client := pantry.New(cfg.Pantry.BaseURL,
		pantry.WithRecommendTimeout(cfg.Pantry.RecommendTimeout),
		pantry.WithCallTimeout(cfg.Pantry.CallTimeout),
	)
	flows := chat.NewManager(client)

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, db, flows, client, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("version", version).
			Str("pantry", cfg.Pantry.BaseURL).
			Msg("pantry-chat listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
		return
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	log.Info().Msg("server stopped")
}
