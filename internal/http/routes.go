package http

import (
	"log/slog"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"

	"github.com/vlogmedia/vlog/internal/bus"
	"github.com/vlogmedia/vlog/internal/config"
	"github.com/vlogmedia/vlog/internal/coordinator"
	"github.com/vlogmedia/vlog/internal/http/handlers"
	"github.com/vlogmedia/vlog/internal/http/middleware"
	"github.com/vlogmedia/vlog/internal/service"
	"github.com/vlogmedia/vlog/internal/storage"
)

// Deps carries everything the route tree needs.
type Deps struct {
	DB          *gorm.DB
	Events      *bus.Bus
	Store       *storage.Store
	Coordinator *coordinator.Coordinator
	Videos      *service.VideoService
	Workers     *service.WorkerService
	Settings    *service.SettingsService
	Sessions    *service.SessionService
	Audit       *service.AuditLogger
	Config      *config.Config
	Version     string
	Logger      *slog.Logger
}

// RegisterRoutes wires every API surface onto the server: the public
// catalog API, auth, the admin surface, the worker data plane, and static
// streaming.
func (s *Server) RegisterRoutes(deps Deps) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// One limiter covers every write boundary that unauthenticated or
	// admin clients can reach.
	limiter := middleware.NewRateLimiter(
		deps.Config.Security.RateLimitPerMin,
		deps.Config.Security.RateLimitBurst,
		deps.Config.Server.TrustedProxies,
	)

	// Public read API.
	handlers.NewHealthHandler(deps.Version, deps.DB, deps.Events, deps.Store).Register(s.api)
	handlers.NewVideoHandler(deps.Videos).Register(s.api)

	// Session endpoints sit outside the admin gate but behind the limiter;
	// login is a brute-force target.
	s.router.Group(func(r chi.Router) {
		r.Use(limiter.Middleware)
		handlers.NewSessionHandler(deps.Sessions, deps.Config.Server.TrustedProxies, logger).Routes(r)
	})

	// Static HLS/CMAF serving.
	handlers.NewStreamHandler(deps.Store, logger).Routes(s.router)

	// Worker data plane. Registration cannot present a key yet; everything
	// else requires one.
	workerAPI := handlers.NewWorkerAPIHandler(
		deps.Workers,
		deps.Coordinator,
		deps.Store,
		deps.Config.Worker.HeartbeatInterval,
		deps.Config.Storage.MaxUploadBytes,
		logger,
	)
	s.router.Route("/api/worker", func(r chi.Router) {
		r.Group(func(open chi.Router) {
			open.Use(limiter.Middleware)
			workerAPI.RegisterRoute(open)
		})
		r.Group(func(authed chi.Router) {
			authed.Use(middleware.WorkerAuth(deps.Workers))
			workerAPI.Routes(authed)
		})
	})

	// Admin surface: its own sub-router with auth and rate limiting, its
	// own OpenAPI document.
	adminRouter := chi.NewRouter()
	adminRouter.Use(limiter.Middleware)
	adminRouter.Use(middleware.AdminAuth(deps.Sessions))
	adminAPI := humachi.New(adminRouter, huma.DefaultConfig("vlog Admin API", deps.Version))

	adminVideos := handlers.NewAdminVideoHandler(deps.Videos, deps.Config.Storage.MaxUploadBytes, logger)
	adminVideos.Register(adminAPI)
	adminVideos.UploadRoute(adminRouter)
	handlers.NewAdminWorkerHandler(deps.Workers).Register(adminAPI)
	handlers.NewAdminSettingHandler(deps.Settings).Register(adminAPI)
	handlers.NewAdminAuditHandler(deps.Audit).Register(adminAPI)

	s.router.Mount("/api/admin", adminRouter)
}
