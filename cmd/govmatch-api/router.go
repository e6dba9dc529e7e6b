// Package main provides the GovMatch API server.
package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/govmatch-ai/govmatch/cmd/govmatch-api/handlers"
	"github.com/govmatch-ai/govmatch/cmd/govmatch-api/middleware"
	"github.com/govmatch-ai/govmatch/internal/api/connectrpc"
	"github.com/govmatch-ai/govmatch/internal/app"
	"github.com/govmatch-ai/govmatch/internal/monitoring"
)

// NewRouter builds the API router over an assembled dependency graph.
func NewRouter(deps *app.Dependencies) http.Handler {
	cfg := deps.Config
	logger := deps.Logger

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Tenant-ID", "X-Company-ID", "X-User-ID"},
		MaxAge:         86400,
	}))
	r.Use(chimiddleware.Timeout(cfg.Server.ReadTimeout))
	r.MethodNotAllowed(handlers.MethodNotAllowed)

	// Unauthenticated surface.
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"healthy","service":"govmatch"}`))
	})
	r.Get("/ready", func(w http.ResponseWriter, req *http.Request) {
		if err := deps.DB.PingContext(req.Context()); err != nil {
			handlers.WriteError(w, http.StatusServiceUnavailable, handlers.CodeInternalError, "database unreachable")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})
	if cfg.Observability.MetricsEnabled {
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	documentsHandler := handlers.NewDocumentsHandler(deps.Profiles, logger)
	transferHandler := handlers.NewTransferHandler(deps.Signer, deps.Blobs, cfg.Profile.MaxUploadBytes, logger)
	weightsHandler := handlers.NewWeightsHandler(deps.Weights, logger)
	matchesHandler := handlers.NewMatchesHandler(deps.Matcher, deps.Repos, logger)
	batchesHandler := handlers.NewBatchesHandler(deps.Repos.Coordination, deps.Repos.Progress, deps.Monitor, deps.Schedules, logger)

	auditor := monitoring.NewRequestAuditor(deps.Repos.Audit, func(req *http.Request) (string, string) {
		id := middleware.IdentityFromContext(req.Context())
		return id.UserID, id.TenantID
	}, logger)

	// Connect RPC surface for internal service-to-service calls.
	rpcMux := http.NewServeMux()
	connectrpc.NewMatchService(deps.Matcher, deps.Repos, logger).Mount(rpcMux)
	r.Mount("/rpc", http.StripPrefix("/rpc", rpcMux))

	r.Route("/api/v1", func(r chi.Router) {
		// Transfer endpoints authorize by grant token, not JWT.
		r.Put("/uploads/{token}", transferHandler.Upload)
		r.Get("/downloads/{token}", transferHandler.Download)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.Auth))
			r.Use(auditor.Middleware)

			r.Route("/documents", func(r chi.Router) {
				r.Post("/upload-url", documentsHandler.CreateUploadURL)
				r.Get("/", documentsHandler.List)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", documentsHandler.Get)
					r.Delete("/", documentsHandler.Delete)
					r.Post("/confirm", documentsHandler.ConfirmUpload)
					r.Get("/download-url", documentsHandler.CreateDownloadURL)
				})
			})

			r.Route("/weight-config", func(r chi.Router) {
				r.Get("/", weightsHandler.Get)
				r.Post("/", weightsHandler.Update)
				r.Put("/", weightsHandler.Update)
				r.Delete("/", weightsHandler.Reset)
			})

			r.Route("/matches", func(r chi.Router) {
				r.Get("/", matchesHandler.List)
				r.Post("/score", matchesHandler.Score)
				r.Get("/{opportunity_id}", matchesHandler.Get)
			})

			r.Route("/batches", func(r chi.Router) {
				r.Get("/health", batchesHandler.Health)
				r.Get("/{coordination_id}", batchesHandler.Status)
			})

			r.Route("/schedules", func(r chi.Router) {
				r.Get("/", batchesHandler.ListSchedules)
				r.Post("/", batchesHandler.CreateSchedule)
				r.Delete("/{name}", batchesHandler.DeleteSchedule)
				r.Post("/{name}/trigger", batchesHandler.TriggerSchedule)
			})
		})
	})

	return r
}
