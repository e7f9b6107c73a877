package server

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apihttp "github.com/lensfield/photoshell/internal/api/http"
	"github.com/lensfield/photoshell/internal/api/middleware"
	"github.com/lensfield/photoshell/internal/assets"
	"github.com/lensfield/photoshell/internal/gateway"
	"github.com/lensfield/photoshell/internal/infrastructure/config"
	"github.com/lensfield/photoshell/internal/infrastructure/logging"
	"github.com/lensfield/photoshell/internal/infrastructure/monitoring"
	"github.com/lensfield/photoshell/internal/infrastructure/tracing"
	"github.com/lensfield/photoshell/internal/library"
	"github.com/lensfield/photoshell/internal/protocol"
	"github.com/lensfield/photoshell/internal/settings"
	"github.com/lensfield/photoshell/internal/supervisor"
	"github.com/lensfield/photoshell/internal/ws"
)

// Server wraps the IPC HTTP server and the backend it supervises.
type Server struct {
	config  *config.Config
	logger  *logging.Logger
	metrics *monitoring.Metrics
	router  *gin.Engine

	sup           *supervisor.Supervisor
	monitor       *supervisor.Monitor
	cancelMonitor context.CancelFunc
}

// NewServer builds the shell and spawns the backend. A backend that
// fails to spawn is fatal; one that spawns but misses its readiness
// window is reported degraded and left to the health monitor.
func NewServer(cfg *config.Config) (*Server, error) {
	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.Development = cfg.Logging.Development
	logger, err := logging.New(logCfg)
	if err != nil {
		logger = logging.NewDefault()
	}

	logger.Info("initializing photoshell",
		zap.String("port", cfg.Server.Port),
		zap.String("backend_cmd", cfg.Backend.Command),
	)

	metrics := monitoring.NewMetrics()
	tracer := tracing.New("shell", logger.Logger)

	// Directory allowlist: persisted grants plus configured roots.
	settingsFile := cfg.Paths.SettingsFile
	if settingsFile == "" {
		settingsFile = filepath.Join(xdg.DataHome, "photoshell", "settings.json")
	}
	store, err := settings.Open(settingsFile, logger.Named("settings"))
	if err != nil {
		return nil, fmt.Errorf("open settings: %w", err)
	}
	roots := gateway.NewRootSet()
	seedRoots(roots, store, cfg, logger)

	// Stage model assets before the backend spawns so the staged
	// directory env var is inherited. Failures degrade: the backend
	// may still work with previously staged assets.
	verifier := assets.NewVerifier(logger.Named("verifier"))
	stager := assets.NewStager(verifier, logger.Named("stager"), metrics)
	staging := assets.EnsureOptions{
		ManifestPath: cfg.Assets.ManifestPath,
		SourceRoot:   cfg.Assets.SourceRoot,
		DestRoot:     cfg.Assets.DestRoot,
	}
	if staging.ManifestPath != "" {
		result := stager.Ensure(context.Background(), staging)
		if !result.Ensured {
			logger.Warn("asset staging incomplete",
				zap.Strings("errors", result.Errors))
		}
	} else {
		logger.Info("asset staging disabled, no manifest configured")
	}

	prober := supervisor.NewProber(cfg.Backend.ProbeTimeout, logger.Named("probe"), metrics)
	sink := supervisor.NewSink(0, logger.Named("backend"))
	sup := supervisor.New(supervisor.Options{
		Command:       cfg.Backend.Command,
		Args:          cfg.Backend.Args,
		PreferredPort: cfg.Backend.PreferredPort,
		FixedPort:     cfg.Backend.FixedPort,
		ReadyTimeout:  cfg.Backend.ReadyTimeout,
	}, prober, sink, logger.Named("supervisor"), metrics)

	ready, err := sup.Ensure(context.Background())
	if err != nil {
		return nil, fmt.Errorf("spawn backend: %w", err)
	}
	if !ready {
		logger.Warn("backend started but not ready, continuing degraded",
			zap.Int("port", sup.Port()))
	} else {
		logger.Info("backend ready", zap.Int("port", sup.Port()))
	}

	monitor := supervisor.NewMonitor(sup, prober, cfg.Health.Interval, logger.Named("health"))
	monitorCtx, cancelMonitor := context.WithCancel(context.Background())
	go monitor.Run(monitorCtx)

	scanner := library.NewScanner(roots, logger.Named("library"), false)
	resolver := protocol.NewResolver(roots, cfg.Paths.UIRoot, logger.Named("protocol"), metrics)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.LoopbackOnly())
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	handlers := apihttp.NewHandlers(sup, monitor, stager, staging, roots, store, scanner, resolver, logger.Named("api"))
	wsHandler := ws.NewHandler(monitor, logger.Named("ws"), metrics)

	router.GET("/health", handlers.Health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))

	mutate := middleware.MutationLimit(1, 2)
	router.GET("/backend/health", handlers.BackendHealth)
	router.POST("/backend/health/check", handlers.BackendHealthCheck)
	router.POST("/backend/restart", mutate, handlers.BackendRestart)
	router.GET("/backend/logs", handlers.BackendLogs)

	router.POST("/models/refresh", mutate, handlers.ModelsRefresh)
	router.GET("/models/status", handlers.ModelsStatus)

	router.GET("/roots", handlers.ListRoots)
	router.POST("/roots", handlers.AddRoot)
	router.GET("/library/list", handlers.LibraryList)
	router.GET("/protocol/*filepath", handlers.ServeProtocol)

	router.GET("/stream", wsHandler.HandleConnection)

	return &Server{
		config:        cfg,
		logger:        logger,
		metrics:       metrics,
		router:        router,
		sup:           sup,
		monitor:       monitor,
		cancelMonitor: cancelMonitor,
	}, nil
}

// seedRoots merges persisted grants, configured roots, the protocol
// root, and the fixed platform roots (pictures, documents, cache, data,
// temp) into the allowlist. Bad persisted paths are logged and skipped
// rather than blocking startup.
func seedRoots(roots *gateway.RootSet, store *settings.Store, cfg *config.Config, logger *logging.Logger) {
	seed := append([]string{}, store.AllowedDirectories()...)
	seed = append(seed, cfg.Paths.ExtraRoots...)
	if cfg.Paths.ProtocolRoot != "" {
		seed = append(seed, cfg.Paths.ProtocolRoot)
	}
	if cfg.Paths.UIRoot != "" {
		seed = append(seed, cfg.Paths.UIRoot)
	}
	seed = append(seed,
		xdg.UserDirs.Pictures,
		xdg.UserDirs.Documents,
		xdg.CacheHome,
		xdg.DataHome,
		os.TempDir(),
	)
	for _, dir := range seed {
		if dir == "" {
			continue
		}
		if _, err := roots.Add(dir); err != nil {
			logger.Warn("skipping invalid allowlist root",
				zap.String("path", dir), zap.Error(err))
		}
	}
	logger.Info("allowlist seeded", zap.Strings("roots", roots.Roots()))
}

// Router exposes the IPC router, primarily for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run serves the IPC surface until the listener fails or the process
// receives a shutdown signal.
func (s *Server) Run() error {
	addr := s.config.Server.Host + ":" + s.config.Server.Port
	s.logger.Info("starting IPC server", zap.String("addr", addr))
	return s.router.Run(addr)
}

// Close stops the health monitor and the supervised backend.
func (s *Server) Close() error {
	s.logger.Info("shutting down")
	s.cancelMonitor()
	s.sup.Stop()
	s.logger.Sync()
	return nil
}
