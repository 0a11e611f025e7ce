package api

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/mnemo-ai/mnemo/internal/api/handlers"
	mw "github.com/mnemo-ai/mnemo/internal/api/middleware"
	"github.com/mnemo-ai/mnemo/internal/buildconfig"
	"github.com/mnemo-ai/mnemo/internal/config"
	"github.com/mnemo-ai/mnemo/internal/domain"
	"github.com/mnemo-ai/mnemo/internal/graph"
	"github.com/mnemo-ai/mnemo/internal/service"
)

// Deps carries the wired infrastructure the app is built on. The
// caller owns recovery and shutdown of the stores.
type Deps struct {
	Store        *graph.Store
	Ranker       *graph.Ranker
	Vectors      domain.VectorIndex
	Interactions domain.InteractionStore
	Snapshots    domain.SnapshotStore
	Journal      domain.Journal
	LLM          domain.LLMClient
}

// App holds the router and background services for lifecycle management.
type App struct {
	Router     *chi.Mux
	Scheduler  *service.Scheduler
	Reflection *service.ReflectionService
	Maintainer *graph.Maintainer

	startTime    time.Time
	requestCount atomic.Int64
	errorCount   atomic.Int64
}

func NewApp(deps Deps, logger *zap.Logger) *App {
	checkpoint := func(snap *domain.Snapshot) error {
		if deps.Snapshots == nil {
			return nil
		}
		return deps.Snapshots.Save(snap)
	}
	maintainer := graph.NewMaintainer(deps.Store, deps.Ranker, deps.Vectors, checkpoint, logger)

	// Services
	extractionSvc := service.NewExtractionService(deps.Store, deps.Vectors, deps.LLM, logger)
	mistakeSvc := service.NewMistakeService(deps.Store, deps.Vectors, logger)
	retrievalSvc := service.NewRetrievalService(deps.Store, deps.Ranker, deps.Vectors, mistakeSvc, logger)
	reflectionSvc := service.NewReflectionService(
		deps.Store, deps.Interactions, deps.LLM, extractionSvc, mistakeSvc,
		maintainer, deps.Snapshots, deps.Journal, logger)
	scheduler := service.NewScheduler(maintainer, reflectionSvc, deps.Interactions, logger)
	scheduler.SetInterval(config.MaintenanceInterval())

	// Handlers
	graphHandler := handlers.NewGraphHandler(deps.Store, deps.Ranker)
	knowledgeHandler := handlers.NewKnowledgeHandler(reflectionSvc, extractionSvc, retrievalSvc, mistakeSvc)
	lifecycleHandler := handlers.NewLifecycleHandler(deps.Store, maintainer, reflectionSvc)

	r := chi.NewRouter()

	app := &App{
		Router:     r,
		Scheduler:  scheduler,
		Reflection: reflectionSvc,
		Maintainer: maintainer,
		startTime:  time.Now(),
	}

	// Metrics collector for middleware
	metricsCollector := mw.NewMetricsCollector(&app.requestCount, &app.errorCount)

	// Global middleware (order matters)
	r.Use(mw.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metricsCollector.Middleware)
	r.Use(mw.Logging(logger))
	r.Use(middleware.Recoverer)
	r.Use(mw.RateLimit(config.RateLimitRPS(), config.RateLimitBurst()))

	r.Get("/health", app.healthHandler(deps.Store))
	r.Get("/metrics", app.metricsHandler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/interactions", knowledgeHandler.CreateInteraction)
		r.Post("/extractions", knowledgeHandler.CreateExtraction)
		r.Get("/retrieve", knowledgeHandler.Retrieve)
		r.Get("/mistakes", knowledgeHandler.ListMistakes)

		r.Route("/nodes/{id}", func(r chi.Router) {
			r.Get("/", graphHandler.GetNode)
			r.Get("/neighbors", graphHandler.Neighbors)
			r.Post("/confidence", graphHandler.AdjustConfidence)
		})
		r.Post("/edges", graphHandler.CreateEdge)

		r.Route("/graph", func(r chi.Router) {
			r.Get("/stats", graphHandler.Stats)
			r.Get("/top", graphHandler.Top)
		})

		r.Post("/maintenance/run", lifecycleHandler.RunMaintenance)
		r.Route("/reflection", func(r chi.Router) {
			r.Post("/run", lifecycleHandler.RunReflection)
			r.Get("/state", lifecycleHandler.ReflectionState)
		})
		r.Get("/snapshot", lifecycleHandler.GetSnapshot)
	})

	return app
}

func (app *App) healthHandler(store *graph.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := store.Stats()
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"nodes":  stats.Nodes,
			"edges":  stats.Edges,
		})
	}
}

func (app *App) metricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		uptime := time.Since(app.startTime)

		writeJSON(w, http.StatusOK, map[string]any{
			"version":        buildconfig.VersionInfo(),
			"uptime_seconds": uptime.Seconds(),
			"uptime_human":   uptime.Round(time.Second).String(),
			"request_count":  app.requestCount.Load(),
			"error_count":    app.errorCount.Load(),
			"goroutines":     runtime.NumGoroutine(),
			"memory": map[string]any{
				"alloc_mb":       float64(memStats.Alloc) / 1024 / 1024,
				"total_alloc_mb": float64(memStats.TotalAlloc) / 1024 / 1024,
				"sys_mb":         float64(memStats.Sys) / 1024 / 1024,
				"num_gc":         memStats.NumGC,
			},
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
