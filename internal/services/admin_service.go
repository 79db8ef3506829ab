package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"cargostat/internal/amqp"
	"cargostat/internal/core"
	"cargostat/internal/log"
	"cargostat/internal/store"
)

const publishTimeout = 5 * time.Second

// Publisher announces committed changes to other processes.
type Publisher interface {
	PublishChange(ctx context.Context, msg *amqp.ChangeMessage) error
}

// AdminService is the writer surface over the stores. Mutations are
// committed first (persisted and applied by the store); change messages are
// published best-effort afterwards.
type AdminService struct {
	store     *store.Store
	publisher Publisher
	source    string
	closers   []namedCloser
}

type namedCloser struct {
	name string
	c    io.Closer
}

// NewAdminService wires s to publisher. A nil publisher disables change
// messages. Every store mutation, whichever caller made it, is announced.
func NewAdminService(s *store.Store, publisher Publisher, source string) *AdminService {
	svc := &AdminService{store: s, publisher: publisher, source: source}
	if source == "" {
		svc.source = NewSourceID()
	}
	s.OnChange(svc.publishChange)
	return svc
}

// NewSourceID identifies this process in change messages.
func NewSourceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "cargostat"
	}
	return host + "-" + uuid.NewString()
}

// Source returns the id stamped on published change messages.
func (s *AdminService) Source() string { return s.source }

// AddCloser registers a resource released by Close.
func (s *AdminService) AddCloser(name string, c io.Closer) {
	if c != nil {
		s.closers = append(s.closers, namedCloser{name: name, c: c})
	}
}

// CategoryInput carries the optional category fields of a create or update.
type CategoryInput struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Color       *string `json:"color"`
	ChartType   *string `json:"chartType"`
	Active      *bool   `json:"active"`
}

func (in CategoryInput) changes() store.CategoryChanges {
	return store.CategoryChanges{
		Name:        in.Name,
		Description: in.Description,
		Color:       in.Color,
		ChartType:   in.ChartType,
		Active:      in.Active,
	}
}

// CreateCategory adds a category with all given fields in one store
// mutation, so a refused field leaves nothing behind.
func (s *AdminService) CreateCategory(ctx context.Context, in CategoryInput) (core.Category, error) {
	tax := s.store.Taxonomy()
	id, err := tax.CreateCategory(ctx, in.changes())
	if err != nil {
		return core.Category{}, fmt.Errorf("create category: %w", err)
	}
	cat, err := tax.Category(id)
	if err != nil {
		return core.Category{}, err
	}
	slog.InfoContext(ctx, "Category created", log.FieldCategoryID, id, "name", cat.Name)
	return cat, nil
}

// UpdateCategory applies every given field of in, or none of them.
func (s *AdminService) UpdateCategory(ctx context.Context, id core.CategoryID, in CategoryInput) (core.Category, error) {
	tax := s.store.Taxonomy()
	if err := tax.UpdateCategory(ctx, id, in.changes()); err != nil {
		return core.Category{}, fmt.Errorf("update category: %w", err)
	}
	return tax.Category(id)
}

// DeleteCategory removes a category with its subcategories. With purge set,
// the category's records are removed first; otherwise a category that still
// has records is refused.
func (s *AdminService) DeleteCategory(ctx context.Context, id core.CategoryID, purge bool) error {
	if purge {
		if _, err := s.PurgeCategory(ctx, id); err != nil {
			return err
		}
	}
	if err := s.store.Taxonomy().RemoveCategory(ctx, id); err != nil {
		return fmt.Errorf("remove category: %w", err)
	}
	slog.InfoContext(ctx, "Category deleted", log.FieldCategoryID, id, "purged", purge)
	return nil
}

// PurgeCategory removes every record of a category and reports how many.
func (s *AdminService) PurgeCategory(ctx context.Context, id core.CategoryID) (int, error) {
	n, err := s.store.TimeSeries().PurgeCategory(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("purge category: %w", err)
	}
	slog.InfoContext(ctx, "Category records purged", log.FieldCategoryID, id, "records", n)
	return n, nil
}

func (s *AdminService) ReorderCategories(ctx context.Context, ids []core.CategoryID) error {
	if err := s.store.Taxonomy().ReorderCategories(ctx, ids); err != nil {
		return fmt.Errorf("reorder categories: %w", err)
	}
	return nil
}

// SubCategoryInput carries the optional subcategory fields of a create or
// update.
type SubCategoryInput struct {
	Name  *string `json:"name"`
	Color *string `json:"color"`
}

func (in SubCategoryInput) changes() store.SubCategoryChanges {
	return store.SubCategoryChanges{Name: in.Name, Color: in.Color}
}

func (s *AdminService) CreateSubCategory(ctx context.Context, categoryID core.CategoryID, in SubCategoryInput) (core.SubCategory, error) {
	tax := s.store.Taxonomy()
	id, err := tax.CreateSubCategory(ctx, categoryID, in.changes())
	if err != nil {
		return core.SubCategory{}, fmt.Errorf("create subcategory: %w", err)
	}
	slog.InfoContext(ctx, "Subcategory created", log.FieldCategoryID, categoryID, log.FieldSubCategoryID, id)
	return tax.SubCategory(id)
}

func (s *AdminService) UpdateSubCategory(ctx context.Context, id core.SubCategoryID, in SubCategoryInput) (core.SubCategory, error) {
	tax := s.store.Taxonomy()
	if err := tax.UpdateSubCategory(ctx, id, in.changes()); err != nil {
		return core.SubCategory{}, fmt.Errorf("update subcategory: %w", err)
	}
	return tax.SubCategory(id)
}

func (s *AdminService) DeleteSubCategory(ctx context.Context, id core.SubCategoryID) error {
	if err := s.store.Taxonomy().RemoveSubCategory(ctx, id); err != nil {
		return fmt.Errorf("remove subcategory: %w", err)
	}
	slog.InfoContext(ctx, "Subcategory deleted", log.FieldSubCategoryID, id)
	return nil
}

func (s *AdminService) ReorderSubCategories(ctx context.Context, categoryID core.CategoryID, ids []core.SubCategoryID) error {
	if err := s.store.Taxonomy().ReorderSubCategories(ctx, categoryID, ids); err != nil {
		return fmt.Errorf("reorder subcategories: %w", err)
	}
	return nil
}

// RecordInput is one yearly volume to upsert. Volume is required; a
// missing or null volume is refused rather than stored as zero.
type RecordInput struct {
	Year          core.Year           `json:"year"`
	CategoryID    core.CategoryID     `json:"categoryId"`
	SubCategoryID *core.SubCategoryID `json:"subcategoryId"`
	Volume        *core.Volume        `json:"volume"`
	Unit          string              `json:"unit"`
}

func (s *AdminService) UpsertRecord(ctx context.Context, in RecordInput) (core.CargoData, error) {
	if in.Volume == nil {
		return core.CargoData{}, &core.InvalidVolumeError{Value: "null", Reason: "volume is required"}
	}
	ts := s.store.TimeSeries()
	id, err := ts.Upsert(ctx, in.Year, in.CategoryID, in.SubCategoryID, *in.Volume, in.Unit)
	if err != nil {
		return core.CargoData{}, fmt.Errorf("upsert record: %w", err)
	}
	return ts.Record(id)
}

func (s *AdminService) DeleteRecord(ctx context.Context, id core.RecordID) error {
	if err := s.store.TimeSeries().Remove(ctx, id); err != nil {
		return fmt.Errorf("remove record: %w", err)
	}
	return nil
}

// Restore replaces the whole state with snap.
func (s *AdminService) Restore(ctx context.Context, snap store.Snapshot) error {
	if err := s.store.Restore(ctx, snap); err != nil {
		return fmt.Errorf("restore snapshot: %w", err)
	}
	slog.InfoContext(ctx, "Snapshot restored",
		"categories", len(snap.Categories),
		"records", len(snap.Records),
		log.FieldOperation, log.OpRestore)
	return nil
}

// publishChange runs as a store hook after each committed mutation.
func (s *AdminService) publishChange(ev store.ChangeEvent) {
	if s.publisher == nil {
		slog.Debug("AMQP publisher not available, skipping change message", log.FieldOperation, ev.Op)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	msg := amqp.NewChangeMessage(s.source, ev)
	if err := s.publisher.PublishChange(ctx, msg); err != nil {
		// The change is committed; the worker's periodic backup covers it.
		slog.ErrorContext(ctx, "Failed to publish change message",
			log.FieldOperation, ev.Op,
			log.FieldTaxonomyVer, ev.Versions.Taxonomy,
			log.FieldDataVer, ev.Versions.Data,
			log.FieldError, err)
	}
}

// Close releases the registered resources in reverse order.
func (s *AdminService) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		nc := s.closers[i]
		if err := nc.c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", nc.name, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close admin service: %w", err)
	}
	return nil
}
