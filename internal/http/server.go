// Package http serves the mailindex search API, a health check and a
// Prometheus scrape endpoint.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mailindex/internal/embeddings"
	"github.com/fyrsmithlabs/mailindex/internal/ingest"
	"github.com/fyrsmithlabs/mailindex/internal/logging"
	"github.com/fyrsmithlabs/mailindex/internal/resolver"
	"github.com/fyrsmithlabs/mailindex/internal/services"
	"github.com/fyrsmithlabs/mailindex/internal/telemetry"
	"github.com/fyrsmithlabs/mailindex/internal/vectorstore"
)

// Server provides HTTP endpoints for mailindex.
type Server struct {
	echo    *echo.Echo
	reg     services.Registry
	logger  *zap.Logger
	config  *Config
	metrics *apiMetrics
	prom    *prometheus.Registry
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
	// AllowSync enables POST /api/v1/sync.
	AllowSync bool
	// Telemetry, when set, is reported by GET /health.
	Telemetry *telemetry.Telemetry
}

// NewServer creates a new HTTP server.
func NewServer(reg services.Registry, logger *zap.Logger, cfg *Config) (*Server, error) {
	if reg == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8787,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(logger)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(newRequestMetrics(nil, logger).middleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			id := c.Response().Header().Get(echo.HeaderXRequestID)
			c.SetRequest(c.Request().WithContext(logging.WithRequestID(c.Request().Context(), id)))
			if err := next(c); err != nil {
				// Write the error now so the logged status is the one sent.
				c.Error(err)
			}

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", id),
			)
			return nil
		}
	})

	m := newAPIMetrics()
	s := &Server{
		echo:    e,
		reg:     reg,
		logger:  logger,
		config:  cfg,
		metrics: m,
		prom:    newPrometheusRegistry(reg, m, logger),
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.prom, promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/collections", s.handleCollections)
	v1.GET("/collections/:name/stats", s.handleStats)
	v1.POST("/search", s.handleSearch)
	v1.GET("/emails/:collection/:id", s.handleGetEmail)
	if s.config.AllowSync {
		v1.POST("/sync", s.handleSync)
	}
}

// Echo exposes the router for tests and embedding.
func (s *Server) Echo() *echo.Echo { return s.echo }

func (s *Server) handleHealth(c echo.Context) error {
	infos, err := services.Collections(c.Request().Context(), s.reg)
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "unavailable"})
	}
	resp := HealthResponse{
		Status:      "ok",
		Backend:     s.reg.Config().Index.Backend,
		Collections: len(infos),
	}
	if s.config.Telemetry != nil {
		h := s.config.Telemetry.Health()
		resp.Telemetry = &h
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleCollections(c echo.Context) error {
	infos, err := services.Collections(c.Request().Context(), s.reg)
	if err != nil {
		return err
	}
	if infos == nil {
		infos = []vectorstore.CollectionInfo{}
	}
	return c.JSON(http.StatusOK, CollectionsResponse{Collections: infos})
}

func (s *Server) handleStats(c echo.Context) error {
	st, err := services.Stats(c.Request().Context(), s.reg, c.Param("name"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Server) handleSearch(c echo.Context) error {
	var req services.SearchRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid search request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	resp, err := services.Search(c.Request().Context(), s.reg, req)
	s.metrics.searches.WithLabelValues(outcome(err)).Inc()
	if err != nil {
		return err
	}
	s.metrics.searchHits.Observe(float64(len(resp.Results)))
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetEmail(c echo.Context) error {
	e, err := services.GetEmail(c.Request().Context(), s.reg, c.Param("collection"), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, e)
}

func (s *Server) handleSync(c echo.Context) error {
	var req SyncRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid sync request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	resp, err := services.Sync(c.Request().Context(), s.reg, services.SyncRequest{
		Query:       req.Query,
		MaxResults:  req.MaxResults,
		Incremental: req.Incremental,
		Clear:       req.Clear,
		Provider:    req.Provider,
		Model:       req.Model,
	})
	s.metrics.syncRuns.WithLabelValues(outcome(err)).Inc()
	if err != nil {
		return err
	}
	s.metrics.syncRecords.WithLabelValues(resp.Collection, "inserted").Add(float64(resp.Inserted))
	s.metrics.syncRecords.WithLabelValues(resp.Collection, "skipped").Add(float64(resp.Skipped))
	s.metrics.syncRecords.WithLabelValues(resp.Collection, "absent").Add(float64(resp.Absent))
	return c.JSON(http.StatusOK, SyncResponse{
		Descriptor: resp.Descriptor,
		Created:    resp.Created,
		Report:     resp.Report,
	})
}

// errorStatus maps service errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, services.ErrInvalidRequest),
		errors.Is(err, embeddings.ErrUnknownProvider),
		errors.Is(err, vectorstore.ErrInvalidCollectionName):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrEmailNotFound),
		errors.Is(err, vectorstore.ErrCollectionNotFound),
		errors.Is(err, resolver.ErrNoMatchingCollection):
		return http.StatusNotFound
	case errors.Is(err, vectorstore.ErrDimensionMismatch),
		errors.Is(err, ingest.ErrSyncInProgress):
		return http.StatusConflict
	case errors.Is(err, vectorstore.ErrIndexUnavailable),
		errors.Is(err, embeddings.ErrProviderUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		status := http.StatusInternalServerError
		msg := http.StatusText(status)

		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
			msg = fmt.Sprint(he.Message)
		} else {
			status = errorStatus(err)
			msg = err.Error()
			if status == http.StatusInternalServerError {
				logger.Error("request failed", zap.String("uri", c.Request().RequestURI), zap.Error(err))
				msg = http.StatusText(status)
			}
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, ErrorResponse{Message: msg})
		}
		if err != nil {
			logger.Warn("writing error response", zap.Error(err))
		}
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
