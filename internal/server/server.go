package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/threatlynx/internal/broadcast"
	"github.com/bl4ck0w1/threatlynx/internal/catalog"
	"github.com/bl4ck0w1/threatlynx/internal/storage"
	"github.com/bl4ck0w1/threatlynx/pkg/models"
	"github.com/bl4ck0w1/threatlynx/pkg/utils"
)

type Submitter interface {
	Submit(ctx context.Context, rawTarget string, kind models.ScanKind) (string, error)
}

type Server struct {
	cfg       models.ServerConfig
	router    *gin.Engine
	scans     Submitter
	store     storage.Store
	hub       *broadcast.Hub
	catalog   *catalog.Catalog
	metrics   *utils.MetricsCollector
	logger    *logrus.Logger
	heartbeat time.Duration
}

func New(cfg models.ServerConfig, scans Submitter, store storage.Store, hub *broadcast.Hub, cat *catalog.Catalog, metrics *utils.MetricsCollector, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	if cat == nil {
		cat = catalog.Default()
	}
	if cfg.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:       cfg,
		scans:     scans,
		store:     store,
		hub:       hub,
		catalog:   cat,
		metrics:   metrics,
		logger:    logger,
		heartbeat: 15 * time.Second,
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))
	s.routes(r)
	s.router = r
	return s
}

func (s *Server) routes(r *gin.Engine) {
	r.GET("/healthz", s.health)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	api := r.Group("/api")
	api.POST("/scans", s.createScan)
	api.GET("/scans", s.listScans)
	api.GET("/scans/:id", s.getScan)
	api.GET("/scans/:id/subdomains", s.listSubdomains)
	api.GET("/scans/:id/technologies", s.listTechnologies)
	api.GET("/scans/:id/vulnerabilities", s.listVulnerabilities)
	api.GET("/scans/:id/mappings", s.listMappings)
	api.GET("/scans/:id/report", s.report)
	api.GET("/techniques", s.listTechniques)
	api.GET("/techniques/:id", s.getTechnique)
	api.GET("/events", s.events)
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Addr() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("API listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// Open event streams only end once their observers are closed.
	if s.hub != nil {
		s.hub.Close()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("API server stopped")
	return nil
}

func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.Request.URL.Path == "/healthz" || c.Request.URL.Path == "/metrics" {
			return
		}
		entry := logger.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
			"client":   c.ClientIP(),
		})
		if len(c.Errors) > 0 {
			entry.Warn(c.Errors.String())
			return
		}
		entry.Debug("request handled")
	}
}
