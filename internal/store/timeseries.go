package store

import (
	"context"
	"fmt"
	"iter"
	"sort"

	"cargostat/internal/core"
)

// TimeSeries holds the yearly volume records. At most one record exists per
// (year, category, subcategory-or-none).
type TimeSeries struct {
	s *Store
}

// Filter restricts Query. Nil fields match everything.
type Filter struct {
	Year       *core.Year
	CategoryID *core.CategoryID
}

// Upsert records volume for (year, categoryID, subID). An existing record
// with the same key is updated in place and keeps its id.
func (ts *TimeSeries) Upsert(ctx context.Context, year core.Year, categoryID core.CategoryID, subID *core.SubCategoryID, volume core.Volume, unit string) (core.RecordID, error) {
	if err := year.Validate(); err != nil {
		return 0, err
	}
	if err := volume.Validate(); err != nil {
		return 0, err
	}
	unit, err := core.NormalizeUnit(unit)
	if err != nil {
		return 0, err
	}
	if subID != nil {
		v := *subID
		subID = &v
	}

	s := ts.s
	var id core.RecordID
	err = s.mutate(ChangeData, "upsert_record", func() error {
		if err := s.checkReference(categoryID, subID); err != nil {
			return err
		}
		rec := core.CargoData{
			Year:          year,
			CategoryID:    categoryID,
			SubCategoryID: subID,
			Volume:        volume,
			Unit:          unit,
		}
		key := keyOf(rec)
		existing, exists := s.keys[key]
		if exists {
			rec.ID = existing
		} else {
			rec.ID = s.nextRecord + 1
		}
		if s.persister != nil {
			if err := s.persister.SaveRecord(ctx, rec); err != nil {
				return fmt.Errorf("persist record: %w", err)
			}
		}
		if !exists {
			s.nextRecord = rec.ID
			s.keys[key] = rec.ID
		}
		s.records[rec.ID] = &rec
		id = rec.ID
		return nil
	})
	return id, err
}

// Remove deletes a single record.
func (ts *TimeSeries) Remove(ctx context.Context, id core.RecordID) error {
	s := ts.s
	return s.mutate(ChangeData, "remove_record", func() error {
		rec, ok := s.records[id]
		if !ok {
			return &core.NotFoundError{Kind: core.KindRecord, ID: int64(id)}
		}
		if s.persister != nil {
			if err := s.persister.DeleteRecord(ctx, id); err != nil {
				return fmt.Errorf("persist record delete: %w", err)
			}
		}
		delete(s.keys, keyOf(*rec))
		delete(s.records, id)
		return nil
	})
}

// PurgeCategory removes every record of a category, including its
// subcategory records, and returns how many were removed. Purging a
// category without records is not a mutation and bumps nothing.
func (ts *TimeSeries) PurgeCategory(ctx context.Context, categoryID core.CategoryID) (int, error) {
	s := ts.s

	s.mu.RLock()
	_, known := s.categories[categoryID]
	n := s.dependents(categoryID, nil)
	s.mu.RUnlock()
	if !known {
		return 0, &core.NotFoundError{Kind: core.KindCategory, ID: int64(categoryID)}
	}
	if n == 0 {
		return 0, nil
	}

	removed := 0
	err := s.mutate(ChangeData, "purge_category", func() error {
		if _, ok := s.categories[categoryID]; !ok {
			return &core.NotFoundError{Kind: core.KindCategory, ID: int64(categoryID)}
		}
		if s.persister != nil {
			if err := s.persister.DeleteRecordsByCategory(ctx, categoryID); err != nil {
				return fmt.Errorf("persist purge: %w", err)
			}
		}
		for id, rec := range s.records {
			if rec.CategoryID == categoryID {
				delete(s.keys, keyOf(*rec))
				delete(s.records, id)
				removed++
			}
		}
		return nil
	})
	return removed, err
}

// Query returns the records matching f, ordered by year then record id.
// The sequence walks a copy taken at call time, so it may be ranged over
// any number of times and never observes later writes.
func (ts *TimeSeries) Query(f Filter) iter.Seq[core.CargoData] {
	s := ts.s
	s.mu.RLock()
	matched := make([]core.CargoData, 0)
	for _, rec := range s.records {
		if f.Year != nil && rec.Year != *f.Year {
			continue
		}
		if f.CategoryID != nil && rec.CategoryID != *f.CategoryID {
			continue
		}
		matched = append(matched, rec.Clone())
	}
	s.mu.RUnlock()
	sortRecords(matched)

	return func(yield func(core.CargoData) bool) {
		for _, rec := range matched {
			if !yield(rec.Clone()) {
				return
			}
		}
	}
}

// Record returns one record by id.
func (ts *TimeSeries) Record(id core.RecordID) (core.CargoData, error) {
	s := ts.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return core.CargoData{}, &core.NotFoundError{Kind: core.KindRecord, ID: int64(id)}
	}
	return rec.Clone(), nil
}

// Years returns the distinct years with at least one record, ascending.
func (ts *TimeSeries) Years() []core.Year {
	s := ts.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.yearsLocked()
}

func (s *Store) yearsLocked() []core.Year {
	seen := make(map[core.Year]struct{})
	for _, rec := range s.records {
		seen[rec.Year] = struct{}{}
	}
	years := make([]core.Year, 0, len(seen))
	for y := range seen {
		years = append(years, y)
	}
	sort.Slice(years, func(i, j int) bool { return years[i] < years[j] })
	return years
}

func (s *Store) checkReference(categoryID core.CategoryID, subID *core.SubCategoryID) error {
	if _, ok := s.categories[categoryID]; !ok {
		return &core.DanglingReferenceError{CategoryID: categoryID, SubCategoryID: subID, Reason: "unknown category"}
	}
	if subID == nil {
		return nil
	}
	sub, ok := s.subs[*subID]
	if !ok {
		return &core.DanglingReferenceError{CategoryID: categoryID, SubCategoryID: subID, Reason: "unknown subcategory"}
	}
	if sub.CategoryID != categoryID {
		return &core.DanglingReferenceError{
			CategoryID:    categoryID,
			SubCategoryID: subID,
			Reason:        fmt.Sprintf("subcategory belongs to category %d", sub.CategoryID),
		}
	}
	return nil
}

func sortRecords(recs []core.CargoData) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Year != recs[j].Year {
			return recs[i].Year < recs[j].Year
		}
		return recs[i].ID < recs[j].ID
	})
}
