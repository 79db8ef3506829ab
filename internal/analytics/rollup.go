package analytics

import (
	"fmt"

	"cargostat/internal/core"
	"cargostat/internal/store"
)

// Selector chooses the years a rollup covers.
type Selector struct {
	// Year is the single year to roll up; ignored when All is set.
	Year core.Year
	All  bool
}

func ForYear(y core.Year) Selector { return Selector{Year: y} }

func AllYears() Selector { return Selector{All: true} }

// Key is a stable cache key for the selector.
func (s Selector) Key() string {
	if s.All {
		return "all"
	}
	return fmt.Sprintf("year:%d", s.Year)
}

// Rollup is the full aggregate for a selector.
type Rollup struct {
	Versions store.Versions `json:"versions"`
	Years    []YearRollup   `json:"years"`
}

// YearRollup aggregates one year. Categories appear in display order,
// including categories without data for the year.
type YearRollup struct {
	Year       core.Year        `json:"year"`
	Categories []CategoryRollup `json:"categories"`
	GrandTotal core.Volume      `json:"grandTotal"`
	Warnings   []Warning        `json:"warnings,omitempty"`
}

type CategoryRollup struct {
	CategoryID    core.CategoryID     `json:"categoryId"`
	Name          string              `json:"name"`
	Color         string              `json:"color"`
	ChartType     string              `json:"chartType"`
	Active        bool                `json:"active"`
	Unit          string              `json:"unit,omitempty"`
	Direct        *core.Volume        `json:"direct"`
	SubCategories []SubCategoryRollup `json:"subcategories"`
	Total         core.Volume         `json:"total"`
	// Share is the percentage of the year's grand total, two decimals.
	Share core.Volume `json:"share"`
}

// SubCategoryRollup carries the recorded volume; Volume is nil when the
// subcategory has no record for the year.
type SubCategoryRollup struct {
	SubCategoryID core.SubCategoryID `json:"subcategoryId"`
	Name          string             `json:"name"`
	Color         string             `json:"color"`
	Volume        *core.Volume       `json:"volume"`
	Unit          string             `json:"unit,omitempty"`
	// Share is the percentage of the category total, two decimals.
	Share core.Volume `json:"share"`
}

// Warning kinds.
const (
	WarningPartialData  = "partial_data"
	WarningUnitMismatch = "unit_mismatch"
)

// Warning is advisory and never blocks a rollup.
type Warning struct {
	Kind       string               `json:"kind"`
	Year       core.Year            `json:"year"`
	CategoryID core.CategoryID      `json:"categoryId"`
	Missing    []core.SubCategoryID `json:"missing,omitempty"`
	Units      []string             `json:"units,omitempty"`
}

func (w Warning) String() string {
	switch w.Kind {
	case WarningPartialData:
		return fmt.Sprintf("year %d category %d: no data for subcategories %v", w.Year, w.CategoryID, w.Missing)
	case WarningUnitMismatch:
		return fmt.Sprintf("year %d category %d: mixed units %v", w.Year, w.CategoryID, w.Units)
	}
	return fmt.Sprintf("year %d category %d: %s", w.Year, w.CategoryID, w.Kind)
}

// Year returns the rollup for y, if present.
func (r Rollup) Year(y core.Year) (YearRollup, bool) {
	for _, yr := range r.Years {
		if yr.Year == y {
			return yr, true
		}
	}
	return YearRollup{}, false
}

// Category returns the category node for id, if present.
func (yr YearRollup) Category(id core.CategoryID) (CategoryRollup, bool) {
	for _, c := range yr.Categories {
		if c.CategoryID == id {
			return c, true
		}
	}
	return CategoryRollup{}, false
}

// Row is the flat tabular shape consumed by charts.
type Row struct {
	Year          core.Year           `json:"year"`
	CategoryID    core.CategoryID     `json:"categoryId"`
	SubCategoryID *core.SubCategoryID `json:"subcategoryId"`
	Volume        core.Volume         `json:"volume"`
	Unit          string              `json:"unit"`
}

// Rows flattens recorded values: one row per direct entry and per
// subcategory with data. Totals are not repeated as rows.
func (yr YearRollup) Rows() []Row {
	var rows []Row
	for _, c := range yr.Categories {
		if c.Direct != nil {
			rows = append(rows, Row{Year: yr.Year, CategoryID: c.CategoryID, Volume: *c.Direct, Unit: c.Unit})
		}
		for _, sc := range c.SubCategories {
			if sc.Volume == nil {
				continue
			}
			rows = append(rows, Row{
				Year:          yr.Year,
				CategoryID:    c.CategoryID,
				SubCategoryID: core.SubID(sc.SubCategoryID),
				Volume:        *sc.Volume,
				Unit:          sc.Unit,
			})
		}
	}
	return rows
}
