package http

import (
	"net/http"

	"cargostat/internal/analytics"
	"cargostat/internal/core"
	"cargostat/internal/log"
)

func (s *Server) handleTaxonomy(w http.ResponseWriter, r *http.Request) {
	versions := s.reports.Versions()
	tree, err := s.reports.Taxonomy(r.Context())
	if err != nil {
		writeError(w, r, log.OpList, err)
		return
	}
	NewJSONResponse().Versions(versions).Body(map[string]any{"categories": tree}).Write(w)
}

func (s *Server) handleYears(w http.ResponseWriter, r *http.Request) {
	years := s.reports.Years()
	if years == nil {
		years = []core.Year{}
	}
	NewJSONResponse().Body(map[string]any{"years": years}).Write(w)
}

// handleRollupForYear serves GET /api/rollups/{year}.
func (s *Server) handleRollupForYear(w http.ResponseWriter, r *http.Request) {
	year, err := ParseYear(r, "year")
	if err != nil {
		writeError(w, r, log.OpRollup, err)
		return
	}
	versions := s.reports.Versions()
	yr, err := s.reports.RollupForYear(r.Context(), year)
	if err != nil {
		writeError(w, r, log.OpRollup, err)
		return
	}
	NewJSONResponse().Versions(versions).Body(yr).Write(w)
}

// handleRollups serves GET /api/rollups, for every year with data or for
// the inclusive from/to range.
func (s *Server) handleRollups(w http.ResponseWriter, r *http.Request) {
	rng, err := ParseYearRange(r.URL.Query())
	if err != nil {
		writeError(w, r, log.OpRollup, err)
		return
	}
	if !rng.Set {
		rollup, err := s.reports.Rollup(r.Context())
		if err != nil {
			writeError(w, r, log.OpRollup, err)
			return
		}
		years := rollup.Years
		if years == nil {
			years = []analytics.YearRollup{}
		}
		NewJSONResponse().Versions(rollup.Versions).Body(map[string]any{"years": years}).Write(w)
		return
	}

	versions := s.reports.Versions()
	years := make([]analytics.YearRollup, 0, int(rng.To-rng.From)+1)
	for yr, err := range s.reports.RollupForRange(r.Context(), rng.Years()) {
		if err != nil {
			writeError(w, r, log.OpRollup, err)
			return
		}
		years = append(years, yr)
	}
	NewJSONResponse().Versions(versions).Body(map[string]any{"years": years}).Write(w)
}

// handleRows serves the flat row shape of one year's rollup.
func (s *Server) handleRows(w http.ResponseWriter, r *http.Request) {
	year, err := ParseYear(r, "year")
	if err != nil {
		writeError(w, r, log.OpRollup, err)
		return
	}
	versions := s.reports.Versions()
	yr, err := s.reports.RollupForYear(r.Context(), year)
	if err != nil {
		writeError(w, r, log.OpRollup, err)
		return
	}
	rows := yr.Rows()
	if rows == nil {
		rows = []analytics.Row{}
	}
	NewJSONResponse().Versions(versions).Body(map[string]any{"year": year, "rows": rows}).Write(w)
}

// handleTrend serves GET /api/trend/{categoryID}. Without from/to the trend
// covers every year with data.
func (s *Server) handleTrend(w http.ResponseWriter, r *http.Request) {
	id, err := ParseID[core.CategoryID](r, "categoryID")
	if err != nil {
		writeError(w, r, log.OpTrend, err)
		return
	}
	rng, err := ParseYearRange(r.URL.Query())
	if err != nil {
		writeError(w, r, log.OpTrend, err)
		return
	}
	years := rng.Years()
	if !rng.Set {
		years = s.reports.Years()
	}

	versions := s.reports.Versions()
	points, err := s.reports.Trend(r.Context(), id, years)
	if err != nil {
		writeError(w, r, log.OpTrend, err)
		return
	}
	NewJSONResponse().Versions(versions).Body(map[string]any{
		"categoryId": id,
		"points":     points,
	}).Write(w)
}

// handleExport serves the full versioned snapshot.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	snap, err := s.reports.ExportSnapshot(r.Context())
	if err != nil {
		writeError(w, r, log.OpExport, err)
		return
	}
	NewJSONResponse().
		Versions(snap.Versions).
		Header("Content-Disposition", `attachment; filename="cargostat-snapshot.json"`).
		Body(snap).
		Write(w)
}
