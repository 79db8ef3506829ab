// Package store owns the cargo taxonomy and the yearly time series.
//
// Both stores share one Store value: a single RWMutex serializes every
// write together with its version bump, and readers take consistent
// snapshots under the read lock. All mutation goes through the narrow
// Taxonomy and TimeSeries contracts so invariant checks live in one place.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"cargostat/internal/core"
	"cargostat/internal/log"
)

// Versions identifies the state of both stores. Each counter only grows.
type Versions struct {
	Taxonomy uint64 `json:"taxonomyVersion"`
	Data     uint64 `json:"dataVersion"`
}

// Change kinds reported to hooks.
const (
	ChangeTaxonomy = "taxonomy"
	ChangeData     = "data"
	ChangeRestore  = "restore"
)

// ChangeEvent describes one successful mutation.
type ChangeEvent struct {
	Kind     string
	Op       string
	Versions Versions
}

// Persister writes mutations through to durable storage. Every call happens
// under the store's write lock, before the in-memory state changes; an
// error aborts the mutation.
type Persister interface {
	SaveCategories(ctx context.Context, cats ...core.Category) error
	DeleteCategory(ctx context.Context, id core.CategoryID) error
	SaveSubCategories(ctx context.Context, subs ...core.SubCategory) error
	DeleteSubCategory(ctx context.Context, id core.SubCategoryID) error
	SaveRecord(ctx context.Context, rec core.CargoData) error
	DeleteRecord(ctx context.Context, id core.RecordID) error
	DeleteRecordsByCategory(ctx context.Context, id core.CategoryID) error
	ReplaceAll(ctx context.Context, snap Snapshot) error
}

type recordKey struct {
	year core.Year
	cat  core.CategoryID
	sub  core.SubCategoryID // 0 for the direct entry
}

func keyOf(d core.CargoData) recordKey {
	k := recordKey{year: d.Year, cat: d.CategoryID}
	if d.SubCategoryID != nil {
		k.sub = *d.SubCategoryID
	}
	return k
}

type Store struct {
	mu sync.RWMutex

	categories map[core.CategoryID]*core.Category
	subs       map[core.SubCategoryID]*core.SubCategory
	records    map[core.RecordID]*core.CargoData
	keys       map[recordKey]core.RecordID

	nextCategory core.CategoryID
	nextSub      core.SubCategoryID
	nextRecord   core.RecordID

	versions Versions

	persister Persister
	hooksMu   sync.RWMutex
	hooks     []func(ChangeEvent)
	logger    *slog.Logger
}

type Option func(*Store)

// WithPersister enables write-through persistence.
func WithPersister(p Persister) Option {
	return func(s *Store) { s.persister = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		categories: make(map[core.CategoryID]*core.Category),
		subs:       make(map[core.SubCategoryID]*core.SubCategory),
		records:    make(map[core.RecordID]*core.CargoData),
		keys:       make(map[recordKey]core.RecordID),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open creates a store seeded from a previously persisted snapshot. The
// seed is validated exactly like Restore but is not written back.
func Open(snap Snapshot, opts ...Option) (*Store, error) {
	s := New(opts...)
	state, err := buildState(snap)
	if err != nil {
		return nil, fmt.Errorf("load persisted state: %w", err)
	}
	s.install(state)
	s.versions = Versions{Taxonomy: 1, Data: 1}
	s.logger.Info("Store loaded",
		"categories", len(s.categories),
		"subcategories", len(s.subs),
		"records", len(s.records))
	return s, nil
}

// Taxonomy returns the category/subcategory contract of s.
func (s *Store) Taxonomy() *Taxonomy { return &Taxonomy{s: s} }

// TimeSeries returns the yearly volume contract of s.
func (s *Store) TimeSeries() *TimeSeries { return &TimeSeries{s: s} }

// OnChange registers fn to run after every successful mutation.
func (s *Store) OnChange(fn func(ChangeEvent)) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// Versions returns the current version pair.
func (s *Store) Versions() Versions {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.versions
}

// notify runs hooks outside the write lock so they may read the store.
func (s *Store) notify(ev ChangeEvent) {
	s.hooksMu.RLock()
	hooks := slices.Clone(s.hooks)
	s.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(ev)
	}
}

// mutate runs fn under the write lock and bumps the requested counters
// only when fn succeeds.
func (s *Store) mutate(kind, op string, fn func() error) error {
	s.mu.Lock()
	if err := fn(); err != nil {
		s.mu.Unlock()
		return err
	}
	switch kind {
	case ChangeTaxonomy:
		s.versions.Taxonomy++
	case ChangeData:
		s.versions.Data++
	case ChangeRestore:
		s.versions.Taxonomy++
		s.versions.Data++
	}
	ev := ChangeEvent{Kind: kind, Op: op, Versions: s.versions}
	s.mu.Unlock()

	s.logger.Debug("Store mutated", "kind", kind, "op", op,
		log.FieldTaxonomyVer, ev.Versions.Taxonomy, log.FieldDataVer, ev.Versions.Data)
	s.notify(ev)
	return nil
}

// dependents counts records referencing a category (including via its
// subcategories) or a single subcategory. Caller holds the lock.
func (s *Store) dependents(cat core.CategoryID, sub *core.SubCategoryID) int {
	n := 0
	for _, r := range s.records {
		if sub != nil {
			if r.SubCategoryID != nil && *r.SubCategoryID == *sub {
				n++
			}
			continue
		}
		if r.CategoryID == cat {
			n++
		}
	}
	return n
}
