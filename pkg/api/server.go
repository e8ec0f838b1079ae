// Package api exposes the record tables over HTTP. Every handler reaches the
// data store through the dispatcher, so admission control, pooling and
// deadlines apply uniformly to REST traffic.
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/brick2/pkg/config"
	"github.com/ajitpratap0/brick2/pkg/datastore"
	"github.com/ajitpratap0/brick2/pkg/errors"
	"github.com/ajitpratap0/brick2/pkg/metrics"
	"github.com/ajitpratap0/brick2/pkg/repository"
)

// Options wires a Server
type Options struct {
	Server     config.ServerConfig
	Pool       config.PoolConfig
	Dispatcher Dispatcher
	Dialect    datastore.Dialect
	Health     HealthReporter
	Metrics    *metrics.Registry
	Logger     *zap.Logger
	Version    string
}

// Server is the HTTP front end
type Server struct {
	cfg     config.ServerConfig
	engine  *gin.Engine
	handler http.Handler
	logger  *zap.Logger
}

// NewServer builds the router and middleware chain
func NewServer(opts Options) (*Server, error) {
	if opts.Dispatcher == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "api server requires a dispatcher")
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("component", "api"))

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.HandleMethodNotAllowed = true
	engine.Use(
		RequestIDMiddleware(),
		TracingMiddleware(),
		RecoveryMiddleware(log),
		AccessLogMiddleware(log, opts.Metrics),
	)
	if len(opts.Server.CORSOrigins) > 0 {
		engine.Use(CORSMiddleware(opts.Server.CORSOrigins))
	}
	engine.Use(DeadlineMiddleware(opts.Pool.QueryTimeout, opts.Server.MaxRequestTimeout))

	h := &Handler{
		store:       repository.NewStore(opts.Dialect, opts.Dispatcher),
		dispatcher:  opts.Dispatcher,
		health:      opts.Health,
		version:     opts.Version,
		environment: opts.Server.Environment,
		logger:      log,
	}
	h.routes(engine, opts.Metrics)

	s := &Server{cfg: opts.Server, engine: engine, handler: engine, logger: log}
	if opts.Server.EnableCompression {
		s.handler = gzhttp.GzipHandler(engine)
	}
	return s, nil
}

func (h *Handler) routes(r *gin.Engine, reg *metrics.Registry) {
	r.NoRoute(func(c *gin.Context) {
		respondError(c, errors.Newf(errors.ErrorTypeNotFound, "no route for %s", c.Request.URL.Path))
	})
	r.NoMethod(func(c *gin.Context) {
		respondJSON(c, http.StatusMethodNotAllowed, ErrorResponse{
			Error:   "method_not_allowed",
			Message: c.Request.Method + " is not allowed on " + c.Request.URL.Path,
			Code:    http.StatusMethodNotAllowed,
		})
	})

	r.GET("/", h.root)
	r.GET("/health", h.healthCheck)
	r.GET("/debug/stats", h.debugStats)
	r.GET("/metrics", gin.WrapH(reg.Handler()))

	s := h.store
	v1 := r.Group("/api/v1")
	h.crud(v1.Group("/users"), s.Users)

	campaigns := v1.Group("/campaigns")
	h.crud(campaigns, s.Campaigns.Repository)
	campaigns.GET("/user/:user_id", h.listBy(s.Campaigns.Repository, "owner_id", "user_id"))
	campaigns.GET("/external/:external_id", h.campaignByExternalID)
	campaigns.GET("/:id/ads", h.listBy(s.Ads, "campaign_id", "id"))
	campaigns.GET("/:id/leads", h.listBy(s.Leads, "campaign_id", "id"))
	campaigns.GET("/:id/performance", h.listBy(s.Performances, "campaign_id", "id"))

	ads := v1.Group("/ads")
	h.crud(ads, s.Ads)
	ads.GET("/campaign/:campaign_id", h.listBy(s.Ads, "campaign_id", "campaign_id"))

	perf := v1.Group("/performance")
	h.crud(perf, s.Performances)
	perf.GET("/campaign/:campaign_id", h.listBy(s.Performances, "campaign_id", "campaign_id"))

	leads := v1.Group("/leads")
	h.crud(leads, s.Leads)
	leads.GET("/campaign/:campaign_id", h.listBy(s.Leads, "campaign_id", "campaign_id"))

	memories := v1.Group("/memories")
	memories.GET("/user/:user_id", h.memoriesByUser)
	memories.GET("/campaign/:campaign_id", h.memoriesByCampaign)
	memories.GET("/search", h.searchMemories)
	memories.GET("/statistics", h.memoryStatistics)
	memories.POST("/cleanup", h.archiveExpiredMemories)
	memories.POST("/:id/archive", h.transition(s.Memories.Archive))
	memories.POST("/:id/activate", h.transition(s.Memories.Activate))
	memories.POST("/:id/access", h.transition(s.Memories.RecordAccess))
	h.crud(memories, s.Memories.Repository)

	sessions := v1.Group("/orchestration-sessions")
	sessions.GET("/user/:user_id", h.sessionsByUser)
	sessions.GET("/campaign/:campaign_id", h.listBy(s.Sessions.Repository, "campaign_id", "campaign_id"))
	sessions.POST("/:id/start", h.transition(s.Sessions.Start))
	sessions.POST("/:id/complete", h.completeSession)
	sessions.POST("/:id/fail", h.failSession)
	sessions.POST("/:id/retry", h.transition(s.Sessions.Retry))
	h.crud(sessions, s.Sessions.Repository)

	platforms := v1.Group("/platforms")
	platforms.GET("", h.listPlatforms)
	platforms.GET("/", h.listPlatforms)
	platforms.POST("/:platform/campaigns", h.createPlatformCampaign)
	platforms.POST("/:platform/campaigns/validate", h.validatePlatformCampaign)
	platforms.POST("/:platform/ads", h.createPlatformAd)
	platforms.POST("/:platform/ads/validate", h.validatePlatformAd)
}

func (h *Handler) crud(g *gin.RouterGroup, repo *repository.Repository) {
	g.GET("", h.list(repo))
	g.GET("/", h.list(repo))
	g.GET("/count", h.count(repo))
	g.POST("", h.create(repo))
	g.POST("/", h.create(repo))
	g.GET("/:id", h.get(repo))
	g.PUT("/:id", h.update(repo))
	g.DELETE("/:id", h.remove(repo))
}

// Handler returns the HTTP handler, compressed when configured
func (s *Server) Handler() http.Handler { return s.handler }

// Run serves on the configured address until ctx ends, then shuts down
// gracefully within ShutdownTimeout
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to listen").
			WithDetail("address", s.cfg.Address)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx ends
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConnections)
	}
	srv := &http.Server{
		Handler:           s.handler,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		ErrorLog:          zap.NewStdLog(s.logger),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("http server listening",
			zap.String("address", ln.Addr().String()),
			zap.Int("max_connections", s.cfg.MaxConnections))
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			return errors.Wrap(err, errors.ErrorTypeInternal, "http server failed")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		timeout := s.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		sctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		s.logger.Info("http server shutting down", zap.Duration("timeout", timeout))
		if err := srv.Shutdown(sctx); err != nil {
			return errors.Wrap(err, errors.ErrorTypeTimeout, "http server did not shut down cleanly")
		}
		return nil
	})
	return g.Wait()
}
