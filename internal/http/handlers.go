package http

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"
)

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Body(map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	}).Write(w)
}

// handleReady runs every dependency check with a shared timeout.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := make(map[string]string, len(s.checks)+1)

	if s.reports == nil {
		checks["reporting"] = "not_configured"
		status, httpStatus = "not_ready", http.StatusServiceUnavailable
	} else {
		checks["reporting"] = "ok"
	}

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := s.checks[name](ctx); err != nil {
			checks[name] = "failed: " + err.Error()
			status, httpStatus = "not_ready", http.StatusServiceUnavailable
			s.logger.WarnContext(ctx, "Readiness check failed", "check", name, "error", err)
			continue
		}
		checks[name] = "ok"
	}

	NewJSONResponse().Status(httpStatus).Body(map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    checks,
	}).Write(w)
}

// handleMetrics exposes request, cache and store counters in the
// Prometheus text format.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	traceMetrics := s.trace.GetMetrics()
	limitMetrics := s.rateLimiter.GetMetrics()

	w.WriteHeader(http.StatusOK)
	metric(w, "http_requests_total", "counter", "Total number of HTTP requests", traceMetrics.TotalRequests)
	metric(w, "http_server_errors_total", "counter", "HTTP responses with a 5xx status", traceMetrics.ServerErrors)
	metric(w, "http_response_time_avg_microseconds", "gauge", "Average response time", traceMetrics.AverageResponseTime)
	metric(w, "rate_limit_rejections_total", "counter", "Writer requests rejected by the rate limiter", limitMetrics.Rejected)
	metric(w, "rate_limit_clients", "gauge", "Clients tracked by the rate limiter", limitMetrics.ClientCount)

	if s.reports != nil {
		stats := s.reports.CacheStats()
		versions := s.reports.Versions()
		metric(w, "rollup_cache_hits_total", "counter", "Rollup cache hits", stats.Hits)
		metric(w, "rollup_cache_misses_total", "counter", "Rollup cache misses", stats.Misses)
		metric(w, "rollup_cache_evictions_total", "counter", "Rollup cache evictions", stats.Evictions)
		metric(w, "rollup_cache_entries", "gauge", "Rollup cache entries", int64(stats.Entries))
		metric(w, "store_taxonomy_version", "gauge", "Current taxonomy version", int64(versions.Taxonomy))
		metric(w, "store_data_version", "gauge", "Current data version", int64(versions.Data))
	}
	metric(w, "uptime_seconds", "gauge", "Application uptime in seconds", int64(time.Since(s.started).Seconds()))
}

func metric(w http.ResponseWriter, name, kind, help string, value int64) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n%s %d\n\n", name, help, name, kind, name, value)
}
