package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mnemo-ai/mnemo/internal/api"
	"github.com/mnemo-ai/mnemo/internal/buildconfig"
	"github.com/mnemo-ai/mnemo/internal/config"
	"github.com/mnemo-ai/mnemo/internal/domain"
	"github.com/mnemo-ai/mnemo/internal/embedding"
	"github.com/mnemo-ai/mnemo/internal/graph"
	"github.com/mnemo-ai/mnemo/internal/llm"
	"github.com/mnemo-ai/mnemo/internal/store"
)

func main() {
	if err := config.Load(); err != nil {
		panic(err)
	}

	logger := newLogger(config.LogLevel())
	defer func() { _ = logger.Sync() }()

	dataDir := config.DataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		logger.Fatal("failed to create data dir", zap.Error(err))
	}

	ctx := context.Background()

	db, err := store.Open(filepath.Join(dataDir, "mnemo.db"))
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer func() { _ = db.Close() }()

	embedder, err := embedding.NewClient(config.EmbeddingProvider(), config.EmbeddingAPIKey())
	if err != nil {
		logger.Fatal("failed to create embedding client", zap.Error(err))
	}
	llmClient, err := llm.NewClient(config.LLMProvider(), config.LLMAPIKey())
	if err != nil {
		logger.Fatal("failed to create llm client", zap.Error(err))
	}

	var vectors domain.VectorIndex
	switch config.VectorProvider() {
	case "pgvector":
		dbURL := config.DatabaseURL()
		if dbURL == "" {
			logger.Fatal("DATABASE_URL is required for the pgvector provider")
		}
		vectors, err = store.NewPgVectorIndex(ctx, dbURL, embedder)
		if err != nil {
			logger.Fatal("failed to connect to pgvector", zap.Error(err))
		}
	default:
		vectors = store.NewSQLiteVectorIndex(db, embedder)
	}
	defer func() { _ = vectors.Close() }()

	snapshots, err := store.NewFileSnapshotStore(dataDir)
	if err != nil {
		logger.Fatal("failed to create snapshot store", zap.Error(err))
	}
	journal, err := store.NewFileJournal(dataDir)
	if err != nil {
		logger.Fatal("failed to create journal", zap.Error(err))
	}
	interactions := store.NewInteractionStore(db)

	graphStore := graph.NewStore()
	recovered, err := snapshots.PendingRecovery()
	if err != nil {
		logger.Fatal("snapshot recovery failed", zap.Error(err))
	}
	if recovered {
		logger.Warn("recovered from interrupted snapshot write")
	}
	snap, err := snapshots.Load()
	switch {
	case err == nil:
		if err := graphStore.Restore(snap); err != nil {
			logger.Fatal("failed to restore graph", zap.Error(err))
		}
		logger.Info("graph restored",
			zap.Int("nodes", len(snap.Nodes)),
			zap.Int("edges", len(snap.Edges)),
			zap.Time("saved_at", snap.SavedAt))
	case errors.Is(err, domain.ErrNotFound):
		logger.Info("no snapshot found, starting with empty graph")
	default:
		logger.Fatal("failed to load snapshot", zap.Error(err))
	}

	ranker := graph.NewRanker()
	ranker.Recompute(graphStore)

	app := api.NewApp(api.Deps{
		Store:        graphStore,
		Ranker:       ranker,
		Vectors:      vectors,
		Interactions: interactions,
		Snapshots:    snapshots,
		Journal:      journal,
		LLM:          llmClient,
	}, logger)

	app.Scheduler.Start()

	addr := config.ServerAddr()
	srv := &http.Server{
		Addr:    addr,
		Handler: app.Router,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("server starting",
			zap.String("addr", addr),
			zap.String("version", buildconfig.Version()),
			zap.String("commit", buildconfig.Commit()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("shutting down server")

	app.Scheduler.Stop()

	if err := snapshots.Save(graphStore.Snapshot(time.Now().UTC())); err != nil {
		logger.Error("final snapshot failed", zap.Error(err))
	} else {
		logger.Info("final snapshot saved")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

func newLogger(level string) *zap.Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
