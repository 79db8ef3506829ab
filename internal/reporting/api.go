// Package reporting is the read and export surface over the cargo stores.
//
// Reads are served from a cache keyed by the store versions and filled from
// one consistent store snapshot, so a result never mixes states from two
// sides of a concurrent write.
package reporting

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"cargostat/internal/analytics"
	"cargostat/internal/cache"
	"cargostat/internal/core"
	"cargostat/internal/log"
	"cargostat/internal/store"
)

// TrendPoint is one (year, volume) pair of a category trend.
type TrendPoint struct {
	Year   core.Year   `json:"year"`
	Volume core.Volume `json:"volume"`
	Unit   string      `json:"unit,omitempty"`
}

type API struct {
	store  *store.Store
	cache  *cache.Versioned[analytics.Rollup]
	logger *slog.Logger
}

// New wires the API to s and registers cache invalidation on s.
func New(s *store.Store, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	a := &API{
		store:  s,
		cache:  cache.NewVersioned[analytics.Rollup](),
		logger: logger,
	}
	s.OnChange(a.cache.Invalidate)
	return a
}

// RollupForYear returns the rollup for a single year.
func (a *API) RollupForYear(ctx context.Context, year core.Year) (analytics.YearRollup, error) {
	if err := year.Validate(); err != nil {
		return analytics.YearRollup{}, err
	}
	r, err := a.rollup(ctx, analytics.ForYear(year))
	if err != nil {
		return analytics.YearRollup{}, err
	}
	return r.Years[0], nil
}

// Rollup returns the rollup for every year with data.
func (a *API) Rollup(ctx context.Context) (analytics.Rollup, error) {
	return a.rollup(ctx, analytics.AllYears())
}

// RollupForRange yields one rollup per requested year, in the given order.
// Each year is resolved only when the caller reaches it; ranging stops at
// the first error.
func (a *API) RollupForRange(ctx context.Context, years []core.Year) iter.Seq2[analytics.YearRollup, error] {
	years = append([]core.Year(nil), years...)
	return func(yield func(analytics.YearRollup, error) bool) {
		for _, y := range years {
			yr, err := a.RollupForYear(ctx, y)
			if !yield(yr, err) || err != nil {
				return
			}
		}
	}
}

// Trend returns the category total for each year, in the given order.
// Years without data report zero.
func (a *API) Trend(ctx context.Context, categoryID core.CategoryID, years []core.Year) ([]TrendPoint, error) {
	if _, err := a.store.Taxonomy().Category(categoryID); err != nil {
		return nil, err
	}
	points := make([]TrendPoint, 0, len(years))
	for yr, err := range a.RollupForRange(ctx, years) {
		if err != nil {
			return nil, fmt.Errorf("trend for category %d: %w", categoryID, err)
		}
		node, ok := yr.Category(categoryID)
		if !ok {
			// Category removed between calls.
			return nil, &core.NotFoundError{Kind: core.KindCategory, ID: int64(categoryID)}
		}
		points = append(points, TrendPoint{Year: yr.Year, Volume: node.Total, Unit: node.Unit})
	}
	return points, nil
}

// ExportSnapshot returns a complete, versioned dump of both stores. A
// cancelled ctx yields ctx.Err() and no partial snapshot.
func (a *API) ExportSnapshot(ctx context.Context) (store.Snapshot, error) {
	snap, err := a.store.Snapshot(ctx)
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("export snapshot: %w", err)
	}
	a.logger.InfoContext(ctx, "Snapshot exported",
		log.FieldTaxonomyVer, snap.Versions.Taxonomy,
		log.FieldDataVer, snap.Versions.Data,
		"categories", len(snap.Categories),
		"records", len(snap.Records))
	return snap, nil
}

// CategoryTree is a category with its subcategories in display order.
type CategoryTree struct {
	core.Category
	SubCategories []core.SubCategory `json:"subcategories"`
}

// Taxonomy lists the category hierarchy in display order.
func (a *API) Taxonomy(ctx context.Context) ([]CategoryTree, error) {
	snap, err := a.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	tree := make([]CategoryTree, 0, len(snap.Categories))
	for _, c := range snap.Categories {
		subs := snap.ChildrenOf(c.ID)
		if subs == nil {
			subs = []core.SubCategory{}
		}
		tree = append(tree, CategoryTree{Category: c, SubCategories: subs})
	}
	return tree, nil
}

// Years lists the years with at least one record, ascending.
func (a *API) Years() []core.Year {
	return a.store.TimeSeries().Years()
}

// Versions reports the current store versions.
func (a *API) Versions() store.Versions {
	return a.store.Versions()
}

// CacheStats exposes cache counters for diagnostics.
func (a *API) CacheStats() cache.Stats {
	return a.cache.Stats()
}

// errVersionMoved aborts a cache fill whose snapshot no longer matches the
// versions it was keyed by. It is never stored and never returned.
var errVersionMoved = errors.New("store versions moved during rollup")

const maxRollupAttempts = 3

func (a *API) rollup(ctx context.Context, sel analytics.Selector) (analytics.Rollup, error) {
	for attempt := 0; attempt < maxRollupAttempts; attempt++ {
		versions := a.store.Versions()
		r, err := a.cache.Get(ctx, versions, sel.Key(), func() (analytics.Rollup, error) {
			// Shared by every waiter, so one caller's cancellation must not
			// fail the others.
			snap, err := a.store.Snapshot(context.WithoutCancel(ctx))
			if err != nil {
				return analytics.Rollup{}, err
			}
			if snap.Versions != versions {
				return analytics.Rollup{}, errVersionMoved
			}
			a.logger.Debug("Computing rollup",
				"selector", sel.Key(),
				log.FieldTaxonomyVer, versions.Taxonomy,
				log.FieldDataVer, versions.Data)
			return analytics.Compute(snap, sel), nil
		})
		if errors.Is(err, errVersionMoved) {
			continue
		}
		return r, err
	}

	// Writes kept racing the cache fill; serve an uncached result from one
	// consistent snapshot.
	snap, err := a.store.Snapshot(ctx)
	if err != nil {
		return analytics.Rollup{}, err
	}
	return analytics.Compute(snap, sel), nil
}
