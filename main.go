package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"docverify/config"
	"docverify/config/database"
	docHandler "docverify/internal/document"
	"docverify/internal/document/repository"
	"docverify/internal/document/service"
	"docverify/pkg/logger"
	"docverify/router"
	"docverify/socket"

	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger.Init(cfg.LogLevel)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Sugar.Errorf("Server stopped: %v", err)
		logger.Sync()
		os.Exit(1)
	}
	logger.Sugar.Info("Server stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	// 1. Storage: Postgres in production, in-process maps for local runs.
	var (
		docs  repository.DocumentStore
		steps repository.StepLedger
	)
	switch cfg.StorageBackend {
	case config.BackendPostgres:
		db, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := database.Migrate(ctx, db); err != nil {
			return err
		}
		docs = repository.NewDocumentRepository(db)
		steps = repository.NewStepRepository(db)
	case config.BackendMemory:
		logger.Sugar.Warn("Using in-memory storage; data is lost on restart")
		docs = repository.NewMemoryDocumentRepository()
		steps = repository.NewMemoryStepRepository()
	default:
		return fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}

	// 2. Workflow, read side and HTTP handlers. The hub is the notifier for
	// workflow events and asks the handler who may join a document room.
	svc := service.NewDocumentService(docs, steps, nil)
	h := docHandler.NewDocumentHandler(svc, service.NewQueryService(docs), cfg.MaxUploadBytes)
	hub := socket.NewHub(h.AuthorizeRoom, socket.DefaultBroadcastBuffer)
	svc.Notifier = hub

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router.Setup(h, hub, cfg.JWTSecret, cfg.CORSOrigin),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 3. Hub loop and HTTP server run until a signal arrives or one of them fails.
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		logger.Sugar.Infof("Go Backend listening on :%s (storage: %s)", cfg.Port, cfg.StorageBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Sugar.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
