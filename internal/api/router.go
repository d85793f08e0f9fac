package api

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/orgforge/orgforge/internal/api/handlers"
	mw "github.com/orgforge/orgforge/internal/api/middleware"
	"github.com/orgforge/orgforge/internal/config"
	"github.com/orgforge/orgforge/internal/domain"
	"github.com/orgforge/orgforge/internal/service"
	"github.com/orgforge/orgforge/internal/store"
)

// App holds the router and request metrics for lifecycle management.
type App struct {
	Router       *chi.Mux
	startTime    time.Time
	requestCount atomic.Int64
	errorCount   atomic.Int64
}

func NewApp(db *pgxpool.Pool, mongoDB *mongo.Database, logger *zap.Logger) *App {
	// Stores
	registry := store.NewRegistry(db)
	collections := store.NewCollectionStore(mongoDB)

	// Services
	provisionerSvc := service.NewProvisionerService(registry, collections, logger)
	authSvc := service.NewAuthService(registry, []byte(config.JWTSecret()), config.TokenTTL())

	// Handlers
	orgHandler := handlers.NewOrganizationHandler(provisionerSvc, logger)
	authHandler := handlers.NewAuthHandler(authSvc, logger)

	r := chi.NewRouter()

	app := &App{
		Router:    r,
		startTime: time.Now(),
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

	// Health (no auth)
	r.Get("/health", healthHandler(db, mongoDB))

	// Metrics (no auth)
	r.Get("/metrics", app.metricsHandler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/login", authHandler.Login)

		r.Route("/organizations", func(r chi.Router) {
			r.Post("/", orgHandler.Create)
			r.Get("/{name}", orgHandler.Get)

			// Mutations on existing organizations need a valid session token.
			r.Group(func(r chi.Router) {
				r.Use(mw.JWTAuth(authSvc))
				r.Put("/{name}", orgHandler.Update)
				r.Delete("/{name}", orgHandler.Delete)
			})
		})
	})

	return app
}

// NewRouter returns just the chi.Mux.
func NewRouter(db *pgxpool.Pool, mongoDB *mongo.Database, logger *zap.Logger) *chi.Mux {
	return NewApp(db, mongoDB, logger).Router
}

func healthHandler(db *pgxpool.Pool, mongoDB *mongo.Database) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if err := db.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": "registry: " + err.Error()})
			return
		}
		if err := mongoDB.Client().Ping(r.Context(), nil); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": "collections: " + err.Error()})
			return
		}

		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

func (app *App) metricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		uptime := time.Since(app.startTime)

		response := map[string]any{
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
			"go_version": runtime.Version(),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(response)
	}
}

// Ensure adapters satisfy the store contracts at compile time.
var (
	_ domain.MetadataRegistry      = (*store.Registry)(nil)
	_ domain.TenantCollectionStore = (*store.CollectionStore)(nil)
	_ mw.TokenVerifier             = (*service.AuthService)(nil)
)
