package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"mediavault/internal/catalog"
	"mediavault/internal/config"
	"mediavault/internal/jobstore"
	"mediavault/internal/metrics"
	"mediavault/internal/runtime"
	"mediavault/internal/store"
	"mediavault/internal/ws"
)

type Dependencies struct {
	Config  config.Config
	Store   *store.Store
	Catalog *catalog.Service
	Runtime *runtime.Runtime
	Jobs    jobstore.Store
	Hub     *ws.Hub
	Metrics *metrics.Metrics
	Log     zerolog.Logger
}

type server struct {
	cfg     config.Config
	store   *store.Store
	catalog *catalog.Service
	rt      *runtime.Runtime
	jobs    jobstore.Store
	hub     *ws.Hub
	mtr     *metrics.Metrics
	log     zerolog.Logger
}

func New(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(securityHeaders)

	api := &server{
		cfg:     dep.Config,
		store:   dep.Store,
		catalog: dep.Catalog,
		rt:      dep.Runtime,
		jobs:    dep.Jobs,
		hub:     dep.Hub,
		mtr:     dep.Metrics,
		log:     dep.Log.With().Str("component", "api").Logger(),
	}

	apiRouter := chi.NewRouter()
	apiRouter.Use(api.observeRequests)
	apiRouter.Use(api.requireLocalHost)
	apiRouter.Use(api.requireAPIToken)

	apiRouter.Get("/ws", api.handleWS)

	apiRouter.Route("/catalog", func(r chi.Router) {
		r.Post("/bootstrap", api.handleBootstrapLocal)
		r.Route("/drive", func(r chi.Router) {
			r.Post("/import", api.handleDriveImport)
			r.Post("/publish", api.handleDrivePublish)
			r.Post("/rebuild", api.handleDriveRebuild)
			r.Post("/sync-local", api.handleSyncLocal)
		})
	})

	apiRouter.Route("/videos", func(r chi.Router) {
		r.Get("/", api.handleListVideos)
		r.Delete("/{videoUid}", api.handleDeleteVideo)
	})

	apiRouter.Route("/cache", func(r chi.Router) {
		r.Post("/sync", api.handleCacheSync)
		r.Post("/purge", api.handleCachePurge)
		r.Post("/clear-flag", api.handleCacheClearFlag)
		r.Get("/stats", api.handleCacheStats)
	})

	apiRouter.Route("/jobs", func(r chi.Router) {
		r.Get("/", api.handleListJobs)
		r.Route("/{jobId}", func(r chi.Router) {
			r.Get("/", api.handleGetJob)
			r.Delete("/", api.handleDeleteJob)
			r.Post("/cancel", api.handleCancelJob)
		})
	})

	r.Mount("/api/v1", apiRouter)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Method(http.MethodGet, "/metrics", dep.Metrics.Handler())

	return r
}
