package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"cargostat/internal/core"
)

// SnapshotFormatVersion is bumped whenever the snapshot layout changes.
// Version 2 added chart settings; older snapshots restore with defaults.
const SnapshotFormatVersion = 2

// checkEvery is how many records are copied between cancellation checks.
const checkEvery = 1024

// Snapshot is a complete, consistent copy of both stores. It is enough to
// rebuild the store with Restore.
type Snapshot struct {
	FormatVersion int                `json:"formatVersion"`
	Versions      Versions           `json:"versions"`
	ExportedAt    time.Time          `json:"exportedAt"`
	Categories    []core.Category    `json:"categories"`
	SubCategories []core.SubCategory `json:"subcategories"`
	Records       []core.CargoData   `json:"records"`
}

// Snapshot copies the current state under the read lock. Categories come in
// display order, subcategories grouped by category in display order, and
// records by year then id. A cancelled context discards the partial copy.
func (s *Store) Snapshot(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		FormatVersion: SnapshotFormatVersion,
		Versions:      s.versions,
		ExportedAt:    time.Now().UTC(),
		Categories:    s.categoriesLocked(),
	}
	snap.SubCategories = make([]core.SubCategory, 0, len(s.subs))
	for _, c := range snap.Categories {
		snap.SubCategories = append(snap.SubCategories, s.childrenLocked(c.ID)...)
	}
	snap.Records = make([]core.CargoData, 0, len(s.records))
	i := 0
	for _, rec := range s.records {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return Snapshot{}, err
			}
		}
		snap.Records = append(snap.Records, rec.Clone())
		i++
	}
	sortRecords(snap.Records)
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// Restore replaces both stores with the contents of snap after validating
// every invariant. Both version counters advance; the snapshot's own
// versions are informational. The persister receives the normalized state
// that is installed, not snap as given.
func (s *Store) Restore(ctx context.Context, snap Snapshot) error {
	state, err := buildState(snap)
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrInvalidSnapshot, err)
	}
	return s.mutate(ChangeRestore, "restore", func() error {
		if s.persister != nil {
			if err := s.persister.ReplaceAll(ctx, state.snapshot); err != nil {
				return fmt.Errorf("persist restore: %w", err)
			}
		}
		s.install(state)
		return nil
	})
}

type state struct {
	categories map[core.CategoryID]*core.Category
	subs       map[core.SubCategoryID]*core.SubCategory
	records    map[core.RecordID]*core.CargoData
	keys       map[recordKey]core.RecordID

	maxCategory core.CategoryID
	maxSub      core.SubCategoryID
	maxRecord   core.RecordID

	// snapshot holds the normalized input in its original order.
	snapshot Snapshot
}

// install swaps state into s. Ids keep growing from the highest restored id
// so they are never reused. Caller holds the write lock.
func (s *Store) install(st *state) {
	s.categories = st.categories
	s.subs = st.subs
	s.records = st.records
	s.keys = st.keys
	if st.maxCategory > s.nextCategory {
		s.nextCategory = st.maxCategory
	}
	if st.maxSub > s.nextSub {
		s.nextSub = st.maxSub
	}
	if st.maxRecord > s.nextRecord {
		s.nextRecord = st.maxRecord
	}
}

func buildState(snap Snapshot) (*state, error) {
	if snap.FormatVersion < 0 || snap.FormatVersion > SnapshotFormatVersion {
		return nil, fmt.Errorf("unsupported snapshot format %d", snap.FormatVersion)
	}
	st := &state{
		categories: make(map[core.CategoryID]*core.Category, len(snap.Categories)),
		subs:       make(map[core.SubCategoryID]*core.SubCategory, len(snap.SubCategories)),
		records:    make(map[core.RecordID]*core.CargoData, len(snap.Records)),
		keys:       make(map[recordKey]core.RecordID, len(snap.Records)),
		snapshot: Snapshot{
			FormatVersion: SnapshotFormatVersion,
			Versions:      snap.Versions,
			ExportedAt:    snap.ExportedAt,
			Categories:    make([]core.Category, 0, len(snap.Categories)),
			SubCategories: make([]core.SubCategory, 0, len(snap.SubCategories)),
			Records:       make([]core.CargoData, 0, len(snap.Records)),
		},
	}

	catNames := make(map[string]bool)
	var active []core.CategoryID
	for _, c := range snap.Categories {
		if c.ID <= 0 {
			return nil, fmt.Errorf("category has invalid id %d", c.ID)
		}
		if _, dup := st.categories[c.ID]; dup {
			return nil, fmt.Errorf("category id %d appears twice", c.ID)
		}
		name, err := core.NormalizeName(c.Name)
		if err != nil {
			return nil, fmt.Errorf("category %d: %w", c.ID, err)
		}
		if catNames[core.NameKey(name)] {
			return nil, &core.DuplicateNameError{Kind: core.KindCategory, Name: name}
		}
		catNames[core.NameKey(name)] = true
		color, err := core.NormalizeColor(c.Color)
		if err != nil {
			return nil, fmt.Errorf("category %d: %w", c.ID, err)
		}
		desc, err := core.NormalizeDescription(c.Description)
		if err != nil {
			return nil, fmt.Errorf("category %d: %w", c.ID, err)
		}
		chart, err := core.NormalizeChartType(c.ChartType)
		if err != nil {
			return nil, fmt.Errorf("category %d: %w", c.ID, err)
		}
		if c.Active {
			active = append(active, c.ID)
			if len(active) > core.MaxActiveCategories {
				return nil, &core.ActiveLimitError{Limit: core.MaxActiveCategories, Active: active}
			}
		}
		cat := core.Category{
			ID:          c.ID,
			Name:        name,
			Description: desc,
			Order:       c.Order,
			Color:       color,
			ChartType:   chart,
			Active:      c.Active,
		}
		st.categories[c.ID] = &cat
		st.snapshot.Categories = append(st.snapshot.Categories, cat)
		if c.ID > st.maxCategory {
			st.maxCategory = c.ID
		}
	}

	subNames := make(map[core.CategoryID]map[string]bool)
	for _, sc := range snap.SubCategories {
		if sc.ID <= 0 {
			return nil, fmt.Errorf("subcategory has invalid id %d", sc.ID)
		}
		if _, dup := st.subs[sc.ID]; dup {
			return nil, fmt.Errorf("subcategory id %d appears twice", sc.ID)
		}
		if _, ok := st.categories[sc.CategoryID]; !ok {
			return nil, &core.NotFoundError{Kind: core.KindCategory, ID: int64(sc.CategoryID)}
		}
		name, err := core.NormalizeName(sc.Name)
		if err != nil {
			return nil, fmt.Errorf("subcategory %d: %w", sc.ID, err)
		}
		if subNames[sc.CategoryID] == nil {
			subNames[sc.CategoryID] = make(map[string]bool)
		}
		if subNames[sc.CategoryID][core.NameKey(name)] {
			return nil, &core.DuplicateNameError{Kind: core.KindSubCategory, Name: name, Parent: sc.CategoryID}
		}
		subNames[sc.CategoryID][core.NameKey(name)] = true
		color, err := core.NormalizeColor(sc.Color)
		if err != nil {
			return nil, fmt.Errorf("subcategory %d: %w", sc.ID, err)
		}
		sub := core.SubCategory{ID: sc.ID, CategoryID: sc.CategoryID, Name: name, Order: sc.Order, Color: color}
		st.subs[sc.ID] = &sub
		st.snapshot.SubCategories = append(st.snapshot.SubCategories, sub)
		if sc.ID > st.maxSub {
			st.maxSub = sc.ID
		}
	}

	for _, r := range snap.Records {
		if r.ID <= 0 {
			return nil, fmt.Errorf("record has invalid id %d", r.ID)
		}
		if _, dup := st.records[r.ID]; dup {
			return nil, fmt.Errorf("record id %d appears twice", r.ID)
		}
		if err := r.Year.Validate(); err != nil {
			return nil, fmt.Errorf("record %d: %w", r.ID, err)
		}
		if err := r.Volume.Validate(); err != nil {
			return nil, fmt.Errorf("record %d: %w", r.ID, err)
		}
		unit, err := core.NormalizeUnit(r.Unit)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", r.ID, err)
		}
		if _, ok := st.categories[r.CategoryID]; !ok {
			return nil, &core.DanglingReferenceError{CategoryID: r.CategoryID, SubCategoryID: r.SubCategoryID, Reason: "unknown category"}
		}
		if r.SubCategoryID != nil {
			sub, ok := st.subs[*r.SubCategoryID]
			if !ok || sub.CategoryID != r.CategoryID {
				return nil, &core.DanglingReferenceError{CategoryID: r.CategoryID, SubCategoryID: r.SubCategoryID, Reason: "subcategory mismatch"}
			}
		}
		rec := r.Clone()
		rec.Unit = unit
		key := keyOf(rec)
		if other, dup := st.keys[key]; dup {
			return nil, fmt.Errorf("records %d and %d share year %d and category %d", other, rec.ID, rec.Year, rec.CategoryID)
		}
		st.keys[key] = rec.ID
		st.records[rec.ID] = &rec
		st.snapshot.Records = append(st.snapshot.Records, rec.Clone())
		if rec.ID > st.maxRecord {
			st.maxRecord = rec.ID
		}
	}
	return st, nil
}

// ChildrenOf returns the subcategories of a category in snapshot order.
func (snap Snapshot) ChildrenOf(id core.CategoryID) []core.SubCategory {
	var out []core.SubCategory
	for _, sc := range snap.SubCategories {
		if sc.CategoryID == id {
			out = append(out, sc)
		}
	}
	return out
}

// Years returns the distinct record years, ascending.
func (snap Snapshot) Years() []core.Year {
	seen := make(map[core.Year]struct{})
	for _, r := range snap.Records {
		seen[r.Year] = struct{}{}
	}
	years := make([]core.Year, 0, len(seen))
	for y := range seen {
		years = append(years, y)
	}
	sort.Slice(years, func(i, j int) bool { return years[i] < years[j] })
	return years
}
