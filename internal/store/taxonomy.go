package store

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"cargostat/internal/core"
)

// Taxonomy is the category → subcategory hierarchy. Subcategories have no
// children, so the relation is a strict two-level tree.
type Taxonomy struct {
	s *Store
}

// CategoryChanges lists category fields to write. Nil fields keep their
// current value on update and their default on create.
type CategoryChanges struct {
	Name        *string
	Description *string
	Color       *string
	ChartType   *string
	Active      *bool
}

// normalize validates every set field and returns the cleaned values.
func (ch CategoryChanges) normalize() (CategoryChanges, error) {
	var out CategoryChanges
	if ch.Name != nil {
		name, err := core.NormalizeName(*ch.Name)
		if err != nil {
			return out, err
		}
		out.Name = &name
	}
	if ch.Description != nil {
		desc, err := core.NormalizeDescription(*ch.Description)
		if err != nil {
			return out, err
		}
		out.Description = &desc
	}
	if ch.Color != nil {
		color, err := core.NormalizeColor(*ch.Color)
		if err != nil {
			return out, err
		}
		out.Color = &color
	}
	if ch.ChartType != nil {
		chart, err := core.NormalizeChartType(*ch.ChartType)
		if err != nil {
			return out, err
		}
		out.ChartType = &chart
	}
	if ch.Active != nil {
		active := *ch.Active
		out.Active = &active
	}
	return out, nil
}

func (ch CategoryChanges) apply(cat *core.Category) {
	if ch.Name != nil {
		cat.Name = *ch.Name
	}
	if ch.Description != nil {
		cat.Description = *ch.Description
	}
	if ch.Color != nil {
		cat.Color = *ch.Color
	}
	if ch.ChartType != nil {
		cat.ChartType = *ch.ChartType
	}
	if ch.Active != nil {
		cat.Active = *ch.Active
	}
}

// SubCategoryChanges lists subcategory fields to write, with the same nil
// rules as CategoryChanges.
type SubCategoryChanges struct {
	Name  *string
	Color *string
}

func (ch SubCategoryChanges) normalize() (SubCategoryChanges, error) {
	var out SubCategoryChanges
	if ch.Name != nil {
		name, err := core.NormalizeName(*ch.Name)
		if err != nil {
			return out, err
		}
		out.Name = &name
	}
	if ch.Color != nil {
		color, err := core.NormalizeColor(*ch.Color)
		if err != nil {
			return out, err
		}
		out.Color = &color
	}
	return out, nil
}

func (ch SubCategoryChanges) apply(sub *core.SubCategory) {
	if ch.Name != nil {
		sub.Name = *ch.Name
	}
	if ch.Color != nil {
		sub.Color = *ch.Color
	}
}

// CreateCategory creates a top-level category appended to the display
// order. Name is required. New categories default to an inactive column
// chart in DefaultColor.
func (t *Taxonomy) CreateCategory(ctx context.Context, ch CategoryChanges) (core.CategoryID, error) {
	if ch.Name == nil {
		return 0, core.ErrEmptyName
	}
	ch, err := ch.normalize()
	if err != nil {
		return 0, err
	}
	s := t.s
	var id core.CategoryID
	err = s.mutate(ChangeTaxonomy, "create_category", func() error {
		if s.categoryNameTaken(*ch.Name, 0) {
			return &core.DuplicateNameError{Kind: core.KindCategory, Name: *ch.Name}
		}
		cat := core.Category{
			ID:        s.nextCategory + 1,
			Order:     s.nextCategoryOrder(),
			Color:     core.DefaultColor,
			ChartType: core.ChartColumn,
		}
		ch.apply(&cat)
		if cat.Active {
			if err := s.checkActiveLimit(0); err != nil {
				return err
			}
		}
		if err := s.persistCategories(ctx, cat); err != nil {
			return err
		}
		s.nextCategory = cat.ID
		s.categories[cat.ID] = &cat
		id = cat.ID
		return nil
	})
	return id, err
}

// UpdateCategory writes every set field of ch in one mutation: either all
// of them land or none do.
func (t *Taxonomy) UpdateCategory(ctx context.Context, id core.CategoryID, ch CategoryChanges) error {
	return t.updateCategory(ctx, "update_category", id, ch)
}

func (t *Taxonomy) updateCategory(ctx context.Context, op string, id core.CategoryID, ch CategoryChanges) error {
	ch, err := ch.normalize()
	if err != nil {
		return err
	}
	s := t.s
	return s.mutate(ChangeTaxonomy, op, func() error {
		cat, ok := s.categories[id]
		if !ok {
			return &core.NotFoundError{Kind: core.KindCategory, ID: int64(id)}
		}
		if ch.Name != nil && s.categoryNameTaken(*ch.Name, id) {
			return &core.DuplicateNameError{Kind: core.KindCategory, Name: *ch.Name}
		}
		updated := *cat
		ch.apply(&updated)
		if updated.Active && !cat.Active {
			if err := s.checkActiveLimit(id); err != nil {
				return err
			}
		}
		if err := s.persistCategories(ctx, updated); err != nil {
			return err
		}
		*cat = updated
		return nil
	})
}

// AddCategory creates a category with default chart settings.
func (t *Taxonomy) AddCategory(ctx context.Context, name string) (core.CategoryID, error) {
	return t.CreateCategory(ctx, CategoryChanges{Name: &name})
}

func (t *Taxonomy) RenameCategory(ctx context.Context, id core.CategoryID, name string) error {
	return t.updateCategory(ctx, "rename_category", id, CategoryChanges{Name: &name})
}

// SetCategoryColor sets the chart colour; "" resets it to the default.
func (t *Taxonomy) SetCategoryColor(ctx context.Context, id core.CategoryID, color string) error {
	return t.updateCategory(ctx, "set_category_color", id, CategoryChanges{Color: &color})
}

// SetCategoryActive shows or hides a category's chart. Activation fails
// with ActiveLimitError once MaxActiveCategories are active.
func (t *Taxonomy) SetCategoryActive(ctx context.Context, id core.CategoryID, active bool) error {
	return t.updateCategory(ctx, "set_category_active", id, CategoryChanges{Active: &active})
}

// CreateSubCategory creates a subcategory owned by categoryID. Name is
// required; the colour defaults to DefaultColor.
func (t *Taxonomy) CreateSubCategory(ctx context.Context, categoryID core.CategoryID, ch SubCategoryChanges) (core.SubCategoryID, error) {
	if ch.Name == nil {
		return 0, core.ErrEmptyName
	}
	ch, err := ch.normalize()
	if err != nil {
		return 0, err
	}
	s := t.s
	var id core.SubCategoryID
	err = s.mutate(ChangeTaxonomy, "create_subcategory", func() error {
		if _, ok := s.categories[categoryID]; !ok {
			return &core.NotFoundError{Kind: core.KindCategory, ID: int64(categoryID)}
		}
		if s.subNameTaken(categoryID, *ch.Name, 0) {
			return &core.DuplicateNameError{Kind: core.KindSubCategory, Name: *ch.Name, Parent: categoryID}
		}
		sub := core.SubCategory{
			ID:         s.nextSub + 1,
			CategoryID: categoryID,
			Order:      s.nextSubOrder(categoryID),
			Color:      core.DefaultColor,
		}
		ch.apply(&sub)
		if err := s.persistSubCategories(ctx, sub); err != nil {
			return err
		}
		s.nextSub = sub.ID
		s.subs[sub.ID] = &sub
		id = sub.ID
		return nil
	})
	return id, err
}

// UpdateSubCategory writes every set field of ch in one mutation.
func (t *Taxonomy) UpdateSubCategory(ctx context.Context, id core.SubCategoryID, ch SubCategoryChanges) error {
	return t.updateSubCategory(ctx, "update_subcategory", id, ch)
}

func (t *Taxonomy) updateSubCategory(ctx context.Context, op string, id core.SubCategoryID, ch SubCategoryChanges) error {
	ch, err := ch.normalize()
	if err != nil {
		return err
	}
	s := t.s
	return s.mutate(ChangeTaxonomy, op, func() error {
		sub, ok := s.subs[id]
		if !ok {
			return &core.NotFoundError{Kind: core.KindSubCategory, ID: int64(id)}
		}
		if ch.Name != nil && s.subNameTaken(sub.CategoryID, *ch.Name, id) {
			return &core.DuplicateNameError{Kind: core.KindSubCategory, Name: *ch.Name, Parent: sub.CategoryID}
		}
		updated := *sub
		ch.apply(&updated)
		if err := s.persistSubCategories(ctx, updated); err != nil {
			return err
		}
		*sub = updated
		return nil
	})
}

// AddSubCategory creates a subcategory owned by categoryID.
func (t *Taxonomy) AddSubCategory(ctx context.Context, categoryID core.CategoryID, name string) (core.SubCategoryID, error) {
	return t.CreateSubCategory(ctx, categoryID, SubCategoryChanges{Name: &name})
}

func (t *Taxonomy) RenameSubCategory(ctx context.Context, id core.SubCategoryID, name string) error {
	return t.updateSubCategory(ctx, "rename_subcategory", id, SubCategoryChanges{Name: &name})
}

// SetSubCategoryColor sets the colour of the subcategory's chart slice.
func (t *Taxonomy) SetSubCategoryColor(ctx context.Context, id core.SubCategoryID, color string) error {
	return t.updateSubCategory(ctx, "set_subcategory_color", id, SubCategoryChanges{Color: &color})
}

// RemoveCategory deletes a category and its subcategories. It fails with
// HasDependentsError while any record references the category or one of
// its subcategories.
func (t *Taxonomy) RemoveCategory(ctx context.Context, id core.CategoryID) error {
	s := t.s
	return s.mutate(ChangeTaxonomy, "remove_category", func() error {
		if _, ok := s.categories[id]; !ok {
			return &core.NotFoundError{Kind: core.KindCategory, ID: int64(id)}
		}
		if n := s.dependents(id, nil); n > 0 {
			return &core.HasDependentsError{Kind: core.KindCategory, ID: int64(id), Records: n}
		}
		if s.persister != nil {
			if err := s.persister.DeleteCategory(ctx, id); err != nil {
				return fmt.Errorf("persist category delete: %w", err)
			}
		}
		for subID, sub := range s.subs {
			if sub.CategoryID == id {
				delete(s.subs, subID)
			}
		}
		delete(s.categories, id)
		return nil
	})
}

func (t *Taxonomy) RemoveSubCategory(ctx context.Context, id core.SubCategoryID) error {
	s := t.s
	return s.mutate(ChangeTaxonomy, "remove_subcategory", func() error {
		if _, ok := s.subs[id]; !ok {
			return &core.NotFoundError{Kind: core.KindSubCategory, ID: int64(id)}
		}
		if n := s.dependents(0, &id); n > 0 {
			return &core.HasDependentsError{Kind: core.KindSubCategory, ID: int64(id), Records: n}
		}
		if s.persister != nil {
			if err := s.persister.DeleteSubCategory(ctx, id); err != nil {
				return fmt.Errorf("persist subcategory delete: %w", err)
			}
		}
		delete(s.subs, id)
		return nil
	})
}

// ReorderCategories rewrites the display order. ids must list every
// category exactly once.
func (t *Taxonomy) ReorderCategories(ctx context.Context, ids []core.CategoryID) error {
	s := t.s
	return s.mutate(ChangeTaxonomy, "reorder_categories", func() error {
		if len(ids) != len(s.categories) {
			return core.ErrInvalidOrder
		}
		updated := make([]core.Category, 0, len(ids))
		seen := make(map[core.CategoryID]bool, len(ids))
		for i, id := range ids {
			cat, ok := s.categories[id]
			if !ok || seen[id] {
				return core.ErrInvalidOrder
			}
			seen[id] = true
			c := *cat
			c.Order = i
			updated = append(updated, c)
		}
		if err := s.persistCategories(ctx, updated...); err != nil {
			return err
		}
		for _, c := range updated {
			*s.categories[c.ID] = c
		}
		return nil
	})
}

// ReorderSubCategories rewrites the display order of one category's
// children. ids must list every child exactly once.
func (t *Taxonomy) ReorderSubCategories(ctx context.Context, categoryID core.CategoryID, ids []core.SubCategoryID) error {
	s := t.s
	return s.mutate(ChangeTaxonomy, "reorder_subcategories", func() error {
		if _, ok := s.categories[categoryID]; !ok {
			return &core.NotFoundError{Kind: core.KindCategory, ID: int64(categoryID)}
		}
		if len(ids) != len(s.childrenLocked(categoryID)) {
			return core.ErrInvalidOrder
		}
		updated := make([]core.SubCategory, 0, len(ids))
		seen := make(map[core.SubCategoryID]bool, len(ids))
		for i, id := range ids {
			sub, ok := s.subs[id]
			if !ok || sub.CategoryID != categoryID || seen[id] {
				return core.ErrInvalidOrder
			}
			seen[id] = true
			c := *sub
			c.Order = i
			updated = append(updated, c)
		}
		if err := s.persistSubCategories(ctx, updated...); err != nil {
			return err
		}
		for _, c := range updated {
			*s.subs[c.ID] = c
		}
		return nil
	})
}

// Children returns the subcategory ids of a category in display order.
func (t *Taxonomy) Children(categoryID core.CategoryID) ([]core.SubCategoryID, error) {
	s := t.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.categories[categoryID]; !ok {
		return nil, &core.NotFoundError{Kind: core.KindCategory, ID: int64(categoryID)}
	}
	children := s.childrenLocked(categoryID)
	ids := make([]core.SubCategoryID, len(children))
	for i, c := range children {
		ids[i] = c.ID
	}
	return ids, nil
}

// Parent returns the owning category of a subcategory.
func (t *Taxonomy) Parent(id core.SubCategoryID) (core.CategoryID, error) {
	s := t.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subs[id]
	if !ok {
		return 0, &core.NotFoundError{Kind: core.KindSubCategory, ID: int64(id)}
	}
	return sub.CategoryID, nil
}

func (t *Taxonomy) Category(id core.CategoryID) (core.Category, error) {
	s := t.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	cat, ok := s.categories[id]
	if !ok {
		return core.Category{}, &core.NotFoundError{Kind: core.KindCategory, ID: int64(id)}
	}
	return *cat, nil
}

func (t *Taxonomy) SubCategory(id core.SubCategoryID) (core.SubCategory, error) {
	s := t.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subs[id]
	if !ok {
		return core.SubCategory{}, &core.NotFoundError{Kind: core.KindSubCategory, ID: int64(id)}
	}
	return *sub, nil
}

// Categories returns all categories in display order.
func (t *Taxonomy) Categories() []core.Category {
	s := t.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.categoriesLocked()
}

func (s *Store) categoriesLocked() []core.Category {
	out := make([]core.Category, 0, len(s.categories))
	for _, c := range s.categories {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) childrenLocked(categoryID core.CategoryID) []core.SubCategory {
	var out []core.SubCategory
	for _, sub := range s.subs {
		if sub.CategoryID == categoryID {
			out = append(out, *sub)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) categoryNameTaken(name string, except core.CategoryID) bool {
	key := core.NameKey(name)
	for id, c := range s.categories {
		if id != except && core.NameKey(c.Name) == key {
			return true
		}
	}
	return false
}

func (s *Store) subNameTaken(parent core.CategoryID, name string, except core.SubCategoryID) bool {
	key := core.NameKey(name)
	for id, sub := range s.subs {
		if id != except && sub.CategoryID == parent && core.NameKey(sub.Name) == key {
			return true
		}
	}
	return false
}

// checkActiveLimit fails when MaxActiveCategories categories other than
// except are already active. Caller holds the lock.
func (s *Store) checkActiveLimit(except core.CategoryID) error {
	var active []core.CategoryID
	for id, c := range s.categories {
		if id != except && c.Active {
			active = append(active, id)
		}
	}
	if len(active) < core.MaxActiveCategories {
		return nil
	}
	slices.Sort(active)
	return &core.ActiveLimitError{Limit: core.MaxActiveCategories, Active: active}
}

func (s *Store) nextCategoryOrder() int {
	next := 0
	for _, c := range s.categories {
		if c.Order >= next {
			next = c.Order + 1
		}
	}
	return next
}

func (s *Store) nextSubOrder(parent core.CategoryID) int {
	next := 0
	for _, sub := range s.subs {
		if sub.CategoryID == parent && sub.Order >= next {
			next = sub.Order + 1
		}
	}
	return next
}

func (s *Store) persistCategories(ctx context.Context, cats ...core.Category) error {
	if s.persister == nil {
		return nil
	}
	if err := s.persister.SaveCategories(ctx, cats...); err != nil {
		return fmt.Errorf("persist categories: %w", err)
	}
	return nil
}

func (s *Store) persistSubCategories(ctx context.Context, subs ...core.SubCategory) error {
	if s.persister == nil {
		return nil
	}
	if err := s.persister.SaveSubCategories(ctx, subs...); err != nil {
		return fmt.Errorf("persist subcategories: %w", err)
	}
	return nil
}
