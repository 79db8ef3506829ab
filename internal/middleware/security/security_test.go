package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientIP(t *testing.T) {
	resolver := NewClientIPResolver()
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		xri        string
		want       string
	}{
		{"direct public peer", "203.0.113.7:4000", "", "", "203.0.113.7"},
		{"public peer cannot spoof", "203.0.113.7:4000", "1.2.3.4", "", "203.0.113.7"},
		{"trusted proxy forwards", "10.0.0.2:80", "198.51.100.1, 10.0.0.2", "", "198.51.100.1"},
		{"trusted proxy real ip", "127.0.0.1:80", "", "198.51.100.9", "198.51.100.9"},
		{"garbage forwarded header", "10.0.0.2:80", "not-an-ip", "", "10.0.0.2"},
		{"no port", "192.168.1.5", "", "", "192.168.1.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				req.Header.Set("X-Real-IP", tt.xri)
			}
			if got := resolver.ClientIP(req); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}

	if err := resolver.AddTrustedProxy("nope"); err == nil {
		t.Error("expected invalid CIDR error")
	}
}

func TestHeadersMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	rr := httptest.NewRecorder()
	NewHeadersMiddleware(DefaultHeadersConfig()).Middleware(next).
		ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/rollups", nil))
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" || rr.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Errorf("unexpected headers %v", rr.Header())
	}

	cfg := DefaultHeadersConfig()
	cfg.CORSOrigin = "https://dash.example.com"
	rr = httptest.NewRecorder()
	NewHeadersMiddleware(cfg).Middleware(next).
		ServeHTTP(rr, httptest.NewRequest(http.MethodOptions, "/api/rollups", nil))
	if rr.Code != http.StatusNoContent || rr.Header().Get("Access-Control-Allow-Origin") != cfg.CORSOrigin {
		t.Errorf("preflight: code %d headers %v", rr.Code, rr.Header())
	}
}
