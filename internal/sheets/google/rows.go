package google

import (
	"cargostat/internal/analytics"
	"cargostat/internal/store"
)

const lastColumn = "G"

var header = []any{"Year", "Category", "Subcategory", "Volume", "Unit", "Category total", "Share %"}

// buildRows flattens the all-years rollup into sheet rows: one row per
// recorded value, followed by a total row per category with data. Volumes
// are written as decimal strings. Share % is the subcategory's part of its
// category on subcategory rows and the category's part of the year on
// total rows.
func buildRows(snap store.Snapshot) [][]any {
	rollup := analytics.Compute(snap, analytics.AllYears())
	values := [][]any{header}
	for _, yr := range rollup.Years {
		for _, c := range yr.Categories {
			recorded := false
			if c.Direct != nil {
				values = append(values, []any{int(yr.Year), c.Name, "", c.Direct.String(), c.Unit, "", ""})
				recorded = true
			}
			for _, sc := range c.SubCategories {
				if sc.Volume == nil {
					continue
				}
				values = append(values, []any{int(yr.Year), c.Name, sc.Name, sc.Volume.String(), sc.Unit, "", sc.Share.StringFixed(2)})
				recorded = true
			}
			if recorded {
				values = append(values, []any{int(yr.Year), c.Name, "", "", c.Unit, c.Total.String(), c.Share.StringFixed(2)})
			}
		}
	}
	return values
}
