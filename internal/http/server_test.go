package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cargostat/internal/log"
	"cargostat/internal/reporting"
	"cargostat/internal/services"
	"cargostat/internal/store"
)

type testEnv struct {
	srv   *Server
	store *store.Store
}

func newTestServer(t *testing.T, withAdmin bool, checks map[string]ReadyCheck) *testEnv {
	t.Helper()
	s := store.New()
	opts := Options{
		Reports: reporting.New(s, nil),
		Checks:  checks,
		Logger:  log.New(log.Config{Output: io.Discard}),
	}
	if withAdmin {
		opts.Admin = services.NewAdminService(s, nil, "test")
	}
	srv := NewServer(":0", opts)
	t.Cleanup(func() { srv.rateLimiter.Stop() })
	return &testEnv{srv: srv, store: s}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func TestHealthAndReady(t *testing.T) {
	env := newTestServer(t, false, map[string]ReadyCheck{
		"sqlite": func(context.Context) error { return nil },
	})
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rr := env.do(t, http.MethodGet, path, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d", path, rr.Code)
		}
	}
	if rr := env.do(t, http.MethodGet, "/metrics", ""); !strings.Contains(rr.Body.String(), "rollup_cache_misses_total") {
		t.Errorf("metrics missing cache counters: %s", rr.Body.String())
	}

	failing := newTestServer(t, false, map[string]ReadyCheck{
		"amqp": func(context.Context) error { return errors.New("connection refused") },
	})
	rr := failing.do(t, http.MethodGet, "/readyz", "")
	if rr.Code != http.StatusServiceUnavailable || !strings.Contains(rr.Body.String(), "connection refused") {
		t.Fatalf("readyz status=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestWriterRoutesRequireAdmin(t *testing.T) {
	env := newTestServer(t, false, nil)
	rr := env.do(t, http.MethodPost, "/api/categories", `{"name":"Coal"}`)
	if rr.Code != http.StatusNotFound && rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("read-only server accepted a write: %d", rr.Code)
	}
}

func TestCoalRollupFlow(t *testing.T) {
	env := newTestServer(t, true, nil)

	rr := env.do(t, http.MethodPost, "/api/categories", `{"name":"Coal","color":"#abc"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create category: %d %s", rr.Code, rr.Body.String())
	}
	cat := decode[struct {
		ID    int64  `json:"id"`
		Color string `json:"color"`
	}](t, rr)
	if cat.Color != "#AABBCC" {
		t.Errorf("color = %q", cat.Color)
	}

	thermal := decode[struct{ ID int64 }](t, env.do(t, http.MethodPost, "/api/categories/1/subcategories", `{"name":"Thermal"}`))
	coking := decode[struct{ ID int64 }](t, env.do(t, http.MethodPost, "/api/categories/1/subcategories", `{"name":"Coking"}`))
	if thermal.ID != 1 || coking.ID != 2 {
		t.Fatalf("unexpected subcategory ids %d %d", thermal.ID, coking.ID)
	}

	rr = env.do(t, http.MethodPut, "/api/records", `{"year":2024,"categoryId":1,"subcategoryId":1,"volume":"120","unit":"t"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("upsert: %d %s", rr.Code, rr.Body.String())
	}

	type yearRollup struct {
		Year       int `json:"year"`
		Categories []struct {
			Total string `json:"total"`
		} `json:"categories"`
		Warnings []struct {
			Kind    string  `json:"kind"`
			Missing []int64 `json:"missing"`
		} `json:"warnings"`
	}
	rr = env.do(t, http.MethodGet, "/api/rollups/2024", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("rollup: %d %s", rr.Code, rr.Body.String())
	}
	yr := decode[yearRollup](t, rr)
	if yr.Categories[0].Total != "120" || len(yr.Warnings) != 1 || yr.Warnings[0].Missing[0] != 2 {
		t.Fatalf("unexpected partial rollup %+v", yr)
	}
	if rr.Header().Get(HeaderDataVersion) != "1" {
		t.Errorf("data version header = %q", rr.Header().Get(HeaderDataVersion))
	}

	env.do(t, http.MethodPut, "/api/records", `{"year":2024,"categoryId":1,"subcategoryId":2,"volume":"80","unit":"t"}`)
	env.do(t, http.MethodPut, "/api/records", `{"year":2024,"categoryId":1,"volume":"5","unit":"t"}`)
	yr = decode[yearRollup](t, env.do(t, http.MethodGet, "/api/rollups/2024", ""))
	if yr.Categories[0].Total != "205" || len(yr.Warnings) != 0 {
		t.Fatalf("expected complete total 205, got %+v", yr)
	}

	rows := decode[struct {
		Rows []struct {
			SubCategoryID *int64 `json:"subcategoryId"`
			Volume        string `json:"volume"`
		} `json:"rows"`
	}](t, env.do(t, http.MethodGet, "/api/rows/2024", ""))
	if len(rows.Rows) != 3 || rows.Rows[0].SubCategoryID != nil || rows.Rows[0].Volume != "5" {
		t.Fatalf("unexpected rows %+v", rows.Rows)
	}

	trend := decode[struct {
		Points []struct {
			Year   int    `json:"year"`
			Volume string `json:"volume"`
		} `json:"points"`
	}](t, env.do(t, http.MethodGet, "/api/trend/1?from=2023&to=2024", ""))
	if len(trend.Points) != 2 || trend.Points[0].Volume != "0" || trend.Points[1].Volume != "205" {
		t.Fatalf("unexpected trend %+v", trend.Points)
	}

	rng := decode[struct {
		Years []yearRollup `json:"years"`
	}](t, env.do(t, http.MethodGet, "/api/rollups?from=2023&to=2024", ""))
	if len(rng.Years) != 2 || rng.Years[0].Year != 2023 || rng.Years[1].Categories[0].Total != "205" {
		t.Fatalf("unexpected range %+v", rng.Years)
	}
}

func TestErrorMapping(t *testing.T) {
	env := newTestServer(t, true, nil)
	env.do(t, http.MethodPost, "/api/categories", `{"name":"Coal"}`)
	env.do(t, http.MethodPut, "/api/records", `{"year":2024,"categoryId":1,"volume":"1","unit":"t"}`)

	tests := []struct {
		name, method, path, body string
		want                     int
	}{
		{"duplicate name", http.MethodPost, "/api/categories", `{"name":" coal "}`, http.StatusConflict},
		{"has dependents", http.MethodDelete, "/api/categories/1", "", http.StatusConflict},
		{"unknown category", http.MethodPatch, "/api/categories/9", `{"name":"Ore"}`, http.StatusNotFound},
		{"negative volume", http.MethodPut, "/api/records", `{"year":2024,"categoryId":1,"volume":"-1","unit":"t"}`, http.StatusUnprocessableEntity},
		{"dangling reference", http.MethodPut, "/api/records", `{"year":2024,"categoryId":7,"volume":"1","unit":"t"}`, http.StatusUnprocessableEntity},
		{"invalid year", http.MethodGet, "/api/rollups/0", "", http.StatusUnprocessableEntity},
		{"malformed year", http.MethodGet, "/api/rollups/abc", "", http.StatusBadRequest},
		{"unknown trend category", http.MethodGet, "/api/trend/404?from=2024&to=2024", "", http.StatusNotFound},
		{"bad purge flag", http.MethodDelete, "/api/categories/1?purge=maybe", "", http.StatusBadRequest},
		{"unknown record", http.MethodDelete, "/api/records/77", "", http.StatusNotFound},
		{"unknown route", http.MethodGet, "/api/nothing", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, tt.method, tt.path, tt.body)
			if rr.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", rr.Code, tt.want, rr.Body.String())
			}
			if rr.Header().Get("X-Request-ID") == "" {
				t.Error("missing request id header")
			}
		})
	}

	if rr := env.do(t, http.MethodDelete, "/api/categories/1?purge=true", ""); rr.Code != http.StatusNoContent {
		t.Fatalf("purge delete: %d %s", rr.Code, rr.Body.String())
	}
}

func TestUpsertRecordVolumeRequired(t *testing.T) {
	env := newTestServer(t, true, nil)
	env.do(t, http.MethodPost, "/api/categories", `{"name":"Coal"}`)
	if rr := env.do(t, http.MethodPut, "/api/records", `{"year":2024,"categoryId":1,"volume":"120","unit":"t"}`); rr.Code != http.StatusOK {
		t.Fatalf("seed upsert: %d %s", rr.Code, rr.Body.String())
	}
	before := env.store.Versions()

	tests := []struct {
		name string
		body string
	}{
		{"missing volume", `{"year":2024,"categoryId":1,"unit":"t"}`},
		{"null volume", `{"year":2024,"categoryId":1,"volume":null,"unit":"t"}`},
		{"huge exponent string", `{"year":2024,"categoryId":1,"volume":"1e5000000","unit":"t"}`},
		{"huge exponent number", `{"year":2024,"categoryId":1,"volume":1e5000000,"unit":"t"}`},
		{"too many digits", `{"year":2024,"categoryId":1,"volume":"1234567890123456789012345678901234567890","unit":"t"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPut, "/api/records", tt.body)
			if rr.Code != http.StatusUnprocessableEntity {
				t.Fatalf("status = %d, want 422 (%s)", rr.Code, rr.Body.String())
			}
		})
	}

	if got := env.store.Versions(); got != before {
		t.Fatalf("refused writes bumped versions %+v -> %+v", before, got)
	}
	rows := decode[struct {
		Rows []struct {
			Volume string `json:"volume"`
		} `json:"rows"`
	}](t, env.do(t, http.MethodGet, "/api/rows/2024", ""))
	if len(rows.Rows) != 1 || rows.Rows[0].Volume != "120" {
		t.Fatalf("stored volume changed: %+v", rows.Rows)
	}
}

func TestChartSettings(t *testing.T) {
	env := newTestServer(t, true, nil)

	rr := env.do(t, http.MethodPost, "/api/categories", `{"name":"Coal","description":"Seaborne","chartType":"pie","active":true}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rr.Code, rr.Body.String())
	}
	cat := decode[struct {
		ChartType   string `json:"chartType"`
		Active      bool   `json:"active"`
		Description string `json:"description"`
	}](t, rr)
	if cat.ChartType != "pie" || !cat.Active || cat.Description != "Seaborne" {
		t.Fatalf("unexpected category %+v", cat)
	}
	env.do(t, http.MethodPost, "/api/categories", `{"name":"Ore","active":true}`)
	env.do(t, http.MethodPost, "/api/categories", `{"name":"Grain"}`)

	tests := []struct {
		name, method, path, body string
		want                     int
	}{
		{"third active category", http.MethodPatch, "/api/categories/3", `{"active":true}`, http.StatusConflict},
		{"third active on create", http.MethodPost, "/api/categories", `{"name":"Oil","active":true}`, http.StatusConflict},
		{"unknown chart type", http.MethodPatch, "/api/categories/3", `{"chartType":"bar"}`, http.StatusUnprocessableEntity},
		{"rename with bad colour", http.MethodPatch, "/api/categories/3", `{"name":"Wheat","color":"green"}`, http.StatusUnprocessableEntity},
		{"free a slot", http.MethodPatch, "/api/categories/2", `{"active":false}`, http.StatusOK},
		{"activate after freeing", http.MethodPatch, "/api/categories/3", `{"active":true}`, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rr := env.do(t, tt.method, tt.path, tt.body); rr.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", rr.Code, tt.want, rr.Body.String())
			}
		})
	}
	if c, _ := env.store.Taxonomy().Category(3); c.Name != "Grain" {
		t.Fatalf("refused update renamed the category to %q", c.Name)
	}

	rr = env.do(t, http.MethodPost, "/api/categories/1/subcategories", `{"name":"Thermal","color":"#0f0"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create subcategory: %d %s", rr.Code, rr.Body.String())
	}
	env.do(t, http.MethodPost, "/api/categories/1/subcategories", `{"name":"Coking"}`)
	if rr := env.do(t, http.MethodPatch, "/api/subcategories/2", `{"color":"#00f"}`); rr.Code != http.StatusOK {
		t.Fatalf("recolour subcategory: %d %s", rr.Code, rr.Body.String())
	}
	env.do(t, http.MethodPut, "/api/records", `{"year":2024,"categoryId":1,"subcategoryId":1,"volume":"75","unit":"t"}`)
	env.do(t, http.MethodPut, "/api/records", `{"year":2024,"categoryId":1,"subcategoryId":2,"volume":"25","unit":"t"}`)

	yr := decode[struct {
		Categories []struct {
			ChartType     string `json:"chartType"`
			SubCategories []struct {
				Color string `json:"color"`
				Share string `json:"share"`
			} `json:"subcategories"`
		} `json:"categories"`
	}](t, env.do(t, http.MethodGet, "/api/rollups/2024", ""))
	coal := yr.Categories[0]
	if coal.ChartType != "pie" || len(coal.SubCategories) != 2 {
		t.Fatalf("unexpected coal node %+v", coal)
	}
	if sc := coal.SubCategories[0]; sc.Color != "#00FF00" || sc.Share != "75" {
		t.Errorf("thermal = %+v", sc)
	}
	if sc := coal.SubCategories[1]; sc.Color != "#0000FF" || sc.Share != "25" {
		t.Errorf("coking = %+v", sc)
	}
}

func TestExportRestoreRoundTrip(t *testing.T) {
	src := newTestServer(t, true, nil)
	src.do(t, http.MethodPost, "/api/categories", `{"name":"Coal"}`)
	src.do(t, http.MethodPut, "/api/records", `{"year":2024,"categoryId":1,"volume":"12.345","unit":"t"}`)

	rr := src.do(t, http.MethodGet, "/api/export", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("export: %d", rr.Code)
	}
	snapshot := rr.Body.String()

	dst := newTestServer(t, true, nil)
	if rr := dst.do(t, http.MethodPost, "/api/restore", snapshot); rr.Code != http.StatusNoContent {
		t.Fatalf("restore: %d %s", rr.Code, rr.Body.String())
	}
	yr := decode[struct {
		GrandTotal string `json:"grandTotal"`
	}](t, dst.do(t, http.MethodGet, "/api/rollups/2024", ""))
	if yr.GrandTotal != "12.345" {
		t.Fatalf("restored total = %q", yr.GrandTotal)
	}

	broken := strings.Replace(snapshot, `"categoryId":1`, `"categoryId":5`, 1)
	if rr := dst.do(t, http.MethodPost, "/api/restore", broken); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("broken restore: %d %s", rr.Code, rr.Body.String())
	}
}

func TestWriteRateLimit(t *testing.T) {
	s := store.New()
	srv := NewServer(":0", Options{
		Reports:                reporting.New(s, nil),
		Admin:                  services.NewAdminService(s, nil, "test"),
		Logger:                 log.New(log.Config{Output: io.Discard}),
		WriteRequestsPerMinute: 1,
	})
	t.Cleanup(func() { srv.rateLimiter.Stop() })
	env := &testEnv{srv: srv, store: s}

	if rr := env.do(t, http.MethodPost, "/api/categories", `{"name":"Coal"}`); rr.Code != http.StatusCreated {
		t.Fatalf("first write: %d", rr.Code)
	}
	if rr := env.do(t, http.MethodPost, "/api/categories", `{"name":"Ore"}`); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second write: %d", rr.Code)
	}
	if rr := env.do(t, http.MethodGet, "/api/categories", ""); rr.Code != http.StatusOK {
		t.Fatalf("reads are not limited: %d", rr.Code)
	}
}
