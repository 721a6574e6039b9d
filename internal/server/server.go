// Package server exposes the analytics views as a JSON API.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"

	"github.com/rewired-gh/polyanalytics/internal/analytics"
	"github.com/rewired-gh/polyanalytics/internal/blackswan"
	"github.com/rewired-gh/polyanalytics/internal/logger"
	"github.com/rewired-gh/polyanalytics/internal/monitor"
	"github.com/rewired-gh/polyanalytics/internal/simulation"
	"github.com/rewired-gh/polyanalytics/internal/storage"
)

const (
	defaultLimit = 50
	maxLimit     = 500

	defaultSimulationVolume = 100000
)

// Server serves the dashboard API.
type Server struct {
	analytics *analytics.Engine
	monitor   *monitor.Monitor
	scanner   *blackswan.Scanner
	simulator *simulation.Builder
	router    *gin.Engine
}

// New builds the router. scanner may be nil, which disables the API-backed
// black swan search.
func New(a *analytics.Engine, m *monitor.Monitor, scanner *blackswan.Scanner) *Server {
	s := &Server{analytics: a, monitor: m, scanner: scanner}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	api := r.Group("/api")
	api.GET("/health", s.health)
	api.GET("/overview", s.overview)
	api.GET("/buckets", s.buckets)
	api.GET("/markets", s.markets)
	api.GET("/market/:id", s.market)
	api.GET("/movers", s.movers)
	api.GET("/black-swans", s.blackSwans)
	api.GET("/dates", s.dates)
	api.GET("/simulation", s.simulation)

	s.router = r
	return s
}

// SetSimulator enables /api/simulation?source=api, which prices resolved
// markets from the CLOB price history instead of local snapshots.
func (s *Server) SetSimulator(b *simulation.Builder) {
	s.simulator = b
}

// EnablePprof mounts the runtime profiling handlers under /debug/pprof.
func (s *Server) EnablePprof() {
	pprof.Register(s.router)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string, readTimeout, writeTimeout time.Duration) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("API listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("%s %s -> %d (%v)", c.Request.Method, c.Request.URL.RequestURI(), c.Writer.Status(), time.Since(start))
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) overview(c *gin.Context) {
	o, err := s.analytics.Overview(c.Request.Context())
	if err != nil {
		internalError(c, "overview", err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (s *Server) buckets(c *gin.Context) {
	stats, err := s.analytics.BucketStats(c.Request.Context())
	if err != nil {
		internalError(c, "buckets", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) markets(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	views, err := s.analytics.ActiveMarkets(c.Request.Context(), c.DefaultQuery("sort", analytics.SortByVolume), limit)
	if err != nil {
		internalError(c, "markets", err)
		return
	}
	c.JSON(http.StatusOK, views)
}

func (s *Server) market(c *gin.Context) {
	h, err := s.analytics.MarketHistory(c.Request.Context(), c.Param("id"))
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "market not found"})
		return
	}
	if err != nil {
		internalError(c, "market", err)
		return
	}
	c.JSON(http.StatusOK, h)
}

func (s *Server) movers(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	movers, err := s.monitor.RecentMovers(c.Request.Context(), limit)
	if err != nil {
		internalError(c, "movers", err)
		return
	}
	c.JSON(http.StatusOK, movers)
}

func (s *Server) blackSwans(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}

	switch c.DefaultQuery("source", "local") {
	case "local":
		swans, err := s.analytics.BlackSwans(c.Request.Context(), limit)
		if err != nil {
			internalError(c, "black swans", err)
			return
		}
		c.JSON(http.StatusOK, swans)
	case "api":
		if s.scanner == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "api black swan search disabled"})
			return
		}
		results, err := s.scanner.Scan(c.Request.Context())
		if err != nil {
			logger.Error("Black swan scan failed: %v", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		if len(results) > limit {
			results = results[:limit]
		}
		c.JSON(http.StatusOK, results)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "source must be local or api"})
	}
}

func (s *Server) dates(c *gin.Context) {
	dates, err := s.analytics.AvailableDates(c.Request.Context())
	if err != nil {
		internalError(c, "dates", err)
		return
	}
	if dates == nil {
		dates = []string{}
	}
	c.JSON(http.StatusOK, dates)
}

func (s *Server) simulation(c *gin.Context) {
	day := c.Query("date")
	date, err := time.Parse("2006-01-02", day)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
		return
	}
	limit, ok := parseLimit(c)
	if !ok {
		return
	}

	switch c.DefaultQuery("source", "local") {
	case "local":
		markets, err := s.analytics.SimulationMarkets(c.Request.Context(), day, limit)
		if err != nil {
			internalError(c, "simulation", err)
			return
		}
		c.JSON(http.StatusOK, markets)
	case "api":
		if s.simulator == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "api simulation disabled"})
			return
		}
		q := simulation.Query{Date: date, MinVolume: defaultSimulationVolume, Limit: limit}
		if raw := c.Query("min_volume"); raw != "" {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil || v < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "min_volume must be a non-negative number"})
				return
			}
			q.MinVolume = v
		}
		if raw := c.Query("any_resolved"); raw != "" {
			v, err := strconv.ParseBool(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "any_resolved must be a boolean"})
				return
			}
			q.AnyResolved = v
		}

		markets, err := s.simulator.Markets(c.Request.Context(), q)
		if errors.Is(err, simulation.ErrFutureDate) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			logger.Error("API simulation failed: %v", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, markets)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "source must be local or api"})
	}
}

func parseLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return 0, false
	}
	return min(n, maxLimit), true
}

func internalError(c *gin.Context, what string, err error) {
	logger.Error("Failed to serve %s: %v", what, err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
