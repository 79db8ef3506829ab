// Package analytics computes cargo rollups from a store snapshot.
//
// Compute is a pure function of (snapshot, selector): it holds no state,
// so its result can be cached by the snapshot versions and recomputed at
// will with identical output.
package analytics

import (
	"sort"

	"github.com/shopspring/decimal"

	"cargostat/internal/core"
	"cargostat/internal/store"
)

var hundred = decimal.NewFromInt(100)

// Compute rolls up snap for sel. A single-year selector always yields
// exactly one YearRollup, even when the year has no data; the all-years
// selector yields one per year with data, ascending.
func Compute(snap store.Snapshot, sel Selector) Rollup {
	years := []core.Year{sel.Year}
	if sel.All {
		years = snap.Years()
	}

	byYear := make(map[core.Year][]core.CargoData, len(years))
	for _, rec := range snap.Records {
		byYear[rec.Year] = append(byYear[rec.Year], rec)
	}

	out := Rollup{Versions: snap.Versions, Years: make([]YearRollup, 0, len(years))}
	for _, y := range years {
		out.Years = append(out.Years, computeYear(snap, y, byYear[y]))
	}
	return out
}

// index holds one year's records keyed for lookup. Records are in
// (year, id) order from the snapshot, which keeps unit selection stable.
type index struct {
	direct map[core.CategoryID]core.CargoData
	sub    map[core.SubCategoryID]core.CargoData
	order  map[core.CategoryID][]core.CargoData
}

func buildIndex(recs []core.CargoData) index {
	idx := index{
		direct: make(map[core.CategoryID]core.CargoData),
		sub:    make(map[core.SubCategoryID]core.CargoData),
		order:  make(map[core.CategoryID][]core.CargoData),
	}
	for _, r := range recs {
		if r.SubCategoryID == nil {
			idx.direct[r.CategoryID] = r
		} else {
			idx.sub[*r.SubCategoryID] = r
		}
		idx.order[r.CategoryID] = append(idx.order[r.CategoryID], r)
	}
	return idx
}

func computeYear(snap store.Snapshot, year core.Year, recs []core.CargoData) YearRollup {
	idx := buildIndex(recs)
	yr := YearRollup{
		Year:       year,
		Categories: make([]CategoryRollup, 0, len(snap.Categories)),
		GrandTotal: core.ZeroVolume,
	}

	for _, cat := range snap.Categories {
		node := CategoryRollup{
			CategoryID: cat.ID,
			Name:       cat.Name,
			Color:      cat.Color,
			ChartType:  cat.ChartType,
			Active:     cat.Active,
			Total:      core.ZeroVolume,
		}

		children := snap.ChildrenOf(cat.ID)
		node.SubCategories = make([]SubCategoryRollup, 0, len(children))
		var missing []core.SubCategoryID
		recorded := 0
		for _, sc := range children {
			leaf := SubCategoryRollup{SubCategoryID: sc.ID, Name: sc.Name, Color: sc.Color, Share: core.ZeroVolume}
			if rec, ok := idx.sub[sc.ID]; ok {
				v := rec.Volume
				leaf.Volume = &v
				leaf.Unit = rec.Unit
				node.Total = node.Total.Add(v)
				recorded++
			} else {
				missing = append(missing, sc.ID)
			}
			node.SubCategories = append(node.SubCategories, leaf)
		}

		// The direct entry is counted once, next to the children's sum.
		if rec, ok := idx.direct[cat.ID]; ok {
			v := rec.Volume
			node.Direct = &v
			node.Total = node.Total.Add(v)
		}

		for i, leaf := range node.SubCategories {
			if leaf.Volume != nil {
				node.SubCategories[i].Share = share(*leaf.Volume, node.Total)
			}
		}

		if recorded > 0 && len(missing) > 0 {
			yr.Warnings = append(yr.Warnings, Warning{
				Kind:       WarningPartialData,
				Year:       year,
				CategoryID: cat.ID,
				Missing:    missing,
			})
		}
		if units := distinctUnits(idx.order[cat.ID]); len(units) > 0 {
			node.Unit = units[0]
			if len(units) > 1 {
				yr.Warnings = append(yr.Warnings, Warning{
					Kind:       WarningUnitMismatch,
					Year:       year,
					CategoryID: cat.ID,
					Units:      units,
				})
			}
		}

		yr.GrandTotal = yr.GrandTotal.Add(node.Total)
		yr.Categories = append(yr.Categories, node)
	}

	for i := range yr.Categories {
		yr.Categories[i].Share = share(yr.Categories[i].Total, yr.GrandTotal)
	}
	sortWarnings(yr.Warnings)
	return yr
}

func share(part, total core.Volume) core.Volume {
	if total.Decimal.IsZero() {
		return core.ZeroVolume
	}
	return core.Volume{Decimal: part.Decimal.Mul(hundred).DivRound(total.Decimal, 2)}
}

func distinctUnits(recs []core.CargoData) []string {
	var units []string
	seen := make(map[string]bool)
	for _, r := range recs {
		if !seen[r.Unit] {
			seen[r.Unit] = true
			units = append(units, r.Unit)
		}
	}
	return units
}

func sortWarnings(ws []Warning) {
	sort.SliceStable(ws, func(i, j int) bool {
		if ws[i].Year != ws[j].Year {
			return ws[i].Year < ws[j].Year
		}
		return ws[i].CategoryID < ws[j].CategoryID
	})
}
