// Command server runs the registrar document-request API.
//
// Startup order: env → config → logging → tracing → database → storage →
// realtime hub → HTTP router → graceful shutdown on SIGINT/SIGTERM.
//
// @title        Registrar Document Request API
// @version      1.0
// @description  Submit, track, and process student document requests: catalog
// @description  lookup, queue numbers, payment reconciliation, and realtime
// @description  status updates.
// @BasePath     /api/v1
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

	_ "github.com/campusdocs/go-registrar-backend/docs"
	"github.com/campusdocs/go-registrar-backend/internal/config"
	"github.com/campusdocs/go-registrar-backend/internal/domain"
	httpapi "github.com/campusdocs/go-registrar-backend/internal/http"
	"github.com/campusdocs/go-registrar-backend/internal/notify"
	"github.com/campusdocs/go-registrar-backend/internal/observability"
	"github.com/campusdocs/go-registrar-backend/internal/repo"
	"github.com/campusdocs/go-registrar-backend/internal/storage"
	"github.com/campusdocs/go-registrar-backend/internal/sysutil"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

// defaultCatalog seeds the document-type table on first boot. Operators can
// edit rows afterwards; seeding never overwrites a non-empty catalog.
var defaultCatalog = []domain.DocumentType{
	{Name: "Transcript Of Records", Price: 150, ProcessingDays: 5},
	{Name: "Diploma Copy", Price: 200, ProcessingDays: 7},
	{Name: "Certified True Copy", Price: 30, ProcessingDays: 3, RequiresDetails: true},
	{Name: "Certificate Of Good Moral Character", Price: 50, ProcessingDays: 2},
	{Name: "Enrollment Certificate", Price: 0, ProcessingDays: 2},
}

func main() {
	// Local development convenience; real deployments set env directly.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	// Logging
	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log.Info().Str("version", version).Str("port", cfg.Port).Msg("starting registrar backend")

	// Tracing
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		sdCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sdCtx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	// Database
	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate failed")
	}
	if err := repo.SeedDocumentTypes(ctx, db, defaultCatalog); err != nil {
		log.Fatal().Err(err).Msg("seed catalog failed")
	}

	// Receipt storage
	receipts, err := storage.NewFSStore(cfg.ReceiptDir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.ReceiptDir).Msg("receipt store init failed")
	}

	// Realtime status hub
	hub := notify.NewHub()
	defer hub.Close()

	// HTTP
	gin.SetMode(cfg.GinMode)
	engine := gin.New()
	httpapi.RegisterRoutes(engine, db, hub, receipts, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("http server failed")
	}

	// Drain in-flight requests, then close realtime connections.
	sdCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(sdCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	log.Info().Msg("registrar backend stopped")
}
