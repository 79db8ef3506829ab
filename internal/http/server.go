package http

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"cargostat/internal/log"
	"cargostat/internal/middleware/ratelimit"
	"cargostat/internal/middleware/security"
	"cargostat/internal/middleware/trace"
	"cargostat/internal/reporting"
	"cargostat/internal/services"
)

// ReadyCheck reports whether a dependency can serve requests.
type ReadyCheck func(ctx context.Context) error

// Options configures NewServer.
type Options struct {
	Reports *reporting.API
	// Admin enables the writer routes; nil serves a read-only API.
	Admin *services.AdminService
	// Checks are run by /readyz, keyed by dependency name.
	Checks map[string]ReadyCheck
	Logger *log.Logger

	// WriteRequestsPerMinute limits writer requests per client (default 60).
	WriteRequestsPerMinute int
	CORSOrigin             string
}

type Server struct {
	http.Server
	reports *reporting.API
	admin   *services.AdminService
	checks  map[string]ReadyCheck
	logger  *log.Logger

	trace       *trace.Middleware
	rateLimiter *ratelimit.Limiter
	clientIP    *security.ClientIPResolver
	started     time.Time

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run
// server.
func NewServer(addr string, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	logger = logger.WithComponent(log.ComponentHTTP)

	s := &Server{
		reports:  opts.Reports,
		admin:    opts.Admin,
		checks:   opts.Checks,
		logger:   logger,
		clientIP: security.NewClientIPResolver(),
		started:  time.Now(),
	}
	s.trace = trace.NewMiddleware(s.clientIP.ClientIP)
	s.rateLimiter = ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.WriteRequestsPerMinute})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	mux.HandleFunc("GET /api/categories", s.handleTaxonomy)
	mux.HandleFunc("GET /api/years", s.handleYears)
	mux.HandleFunc("GET /api/rollups", s.handleRollups)
	mux.HandleFunc("GET /api/rollups/{year}", s.handleRollupForYear)
	mux.HandleFunc("GET /api/rows/{year}", s.handleRows)
	mux.HandleFunc("GET /api/trend/{categoryID}", s.handleTrend)
	mux.HandleFunc("GET /api/export", s.handleExport)

	if s.admin != nil {
		write := s.rateLimiter.Middleware(s.clientIP.ClientIP, func(w http.ResponseWriter, r *http.Request) {
			ErrorResponse(http.StatusTooManyRequests, CodeRateLimited, "rate limit exceeded").Write(w)
		})
		handle := func(pattern string, h http.HandlerFunc) {
			mux.Handle(pattern, write(h))
		}
		handle("POST /api/categories", s.handleCreateCategory)
		handle("PUT /api/categories/order", s.handleReorderCategories)
		handle("PATCH /api/categories/{id}", s.handleUpdateCategory)
		handle("DELETE /api/categories/{id}", s.handleDeleteCategory)
		handle("POST /api/categories/{id}/subcategories", s.handleCreateSubCategory)
		handle("PUT /api/categories/{id}/subcategories/order", s.handleReorderSubCategories)
		handle("DELETE /api/categories/{id}/records", s.handlePurgeCategory)
		handle("PATCH /api/subcategories/{id}", s.handleUpdateSubCategory)
		handle("DELETE /api/subcategories/{id}", s.handleDeleteSubCategory)
		handle("PUT /api/records", s.handleUpsertRecord)
		handle("DELETE /api/records/{id}", s.handleDeleteRecord)
		handle("POST /api/restore", s.handleRestore)
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		NotFoundError("no route for " + r.URL.Path).Write(w)
	})

	headers := security.DefaultHeadersConfig()
	headers.CORSOrigin = opts.CORSOrigin

	var handler http.Handler = mux
	handler = log.RequestIDMiddleware(trace.RequestIDFromRequest)(handler)
	handler = log.Middleware(logger)(handler)
	handler = security.NewHeadersMiddleware(headers).Middleware(handler)
	handler = s.trace.Middleware(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// ListenAndServe serves until Shutdown; a graceful close is not an error.
func (s *Server) ListenAndServe() error {
	s.logger.Info("HTTP server listening", "addr", s.Addr, "writer_routes", s.admin != nil)
	if err := s.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server and its background routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
