package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lensproxy/lens/internal/api"
	"github.com/lensproxy/lens/internal/config"
	"github.com/lensproxy/lens/internal/logging"
	"github.com/lensproxy/lens/internal/middleware"
	"github.com/lensproxy/lens/internal/monitoring"
	"github.com/lensproxy/lens/internal/proxy"
	"github.com/lensproxy/lens/internal/proxy/cache"
	"github.com/lensproxy/lens/internal/proxy/codec"
	"github.com/lensproxy/lens/internal/proxy/fetch"
	"github.com/lensproxy/lens/internal/proxy/rewrite"
	"github.com/lensproxy/lens/internal/session"
	"github.com/lensproxy/lens/internal/tunnel"
)

// Server wraps the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	router     *gin.Engine
	engine     *proxy.Engine
	cache      *cache.Cache
	bridge     *tunnel.Bridge
	hub        *session.Hub
	logger     *logging.Logger
	config     *config.Config
	metrics    *monitoring.Metrics
}

// New creates a server instance from configuration.
func New(cfg *config.Config) (*Server, error) {
	var logger *logging.Logger
	if cfg.Logging.Development {
		logger = logging.NewDevelopment()
	} else {
		l, err := logging.New(logging.Config{Level: cfg.Logging.Level})
		if err != nil {
			l = logging.NewDefault()
		}
		logger = l
	}

	logger.Info("initializing lens proxy",
		zap.String("port", cfg.Server.Port),
		zap.Int("cache_max_entries", cfg.Cache.MaxEntries),
		zap.Duration("cache_ttl", cfg.Cache.TTL),
	)

	metrics := monitoring.New()

	cdc := codec.Default()

	store := cache.New(cache.Config{
		MaxEntries:    cfg.Cache.MaxEntries,
		MaxMemory:     cfg.Cache.MaxMemoryMB << 20,
		DefaultTTL:    cfg.Cache.TTL,
		SweepInterval: cfg.Cache.SweepInterval,
	}).WithEvictionHook(func() { metrics.CacheEvictions.Inc() })

	fetcher := fetch.New(fetch.Options{
		MaxRedirects: cfg.Fetch.MaxRedirects,
		RetryCount:   cfg.Fetch.RetryCount,
		Timeout:      cfg.Fetch.Timeout,
		BackoffBase:  cfg.Fetch.BackoffBase,
	}, logger.Logger).WithRetryHook(func() { metrics.FetchRetries.Inc() })

	rewriteOpts := []rewrite.Option{rewrite.WithLogger(logger.Logger)}
	if cfg.Rewrite.Sanitize {
		rewriteOpts = append(rewriteOpts, rewrite.WithSanitize())
	}
	rewriter := rewrite.New(cdc, rewriteOpts...)

	engine := proxy.NewEngine(proxy.Config{
		Codec:    cdc,
		Cache:    store,
		Fetcher:  fetcher,
		Rewriter: rewriter,
		Logger:   logger.Logger,
		CacheTTL: cfg.Cache.TTL,
	}).WithMetrics(metrics)

	bridge := tunnel.NewBridge(cdc, logger.Logger).WithMetrics(metrics)
	hub := session.NewHub(logger.Logger).WithMetrics(metrics)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	handlers := api.NewHandlers(engine, bridge, metrics, logger, cfg.Logging.Development)

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.GET("/watch", handlers.Watch)
	router.POST("/watch", handlers.WatchPost)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/metrics/json", handlers.MetricsJSON)
	router.GET("/ws", bridge.Handle)
	router.GET("/ws/session", hub.Handle)

	logger.Info("server initialized")

	return &Server{
		router:  router,
		engine:  engine,
		cache:   store,
		bridge:  bridge,
		hub:     hub,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}, nil
}

// Router exposes the gin engine. Test hook.
func (s *Server) Router() *gin.Engine { return s.router }

// Run starts the HTTP server and blocks until it stops.
func (s *Server) Run() error {
	addr := s.config.Server.Host + ":" + s.config.Server.Port
	s.logger.Info("starting HTTP server", zap.String("addr", addr))

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Close shuts the server down: stop accepting connections, terminate open
// tunnels, stop the cache sweep, all within the configured grace period.
func (s *Server) Close() error {
	s.logger.Info("shutting down",
		zap.Duration("grace", s.config.Server.ShutdownTimeout))

	ctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}

	s.bridge.CloseAll()
	s.cache.Close()
	s.logger.Sync()
	return err
}
