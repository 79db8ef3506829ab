package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"cargostat/internal/core"
	"cargostat/internal/log"
	"cargostat/internal/store"

	_ "modernc.org/sqlite"
)

// SQLiteRepository persists the cargo stores. It implements store.Persister
// and seeds a store on startup through Load.
type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
}

var _ store.Persister = (*SQLiteRepository)(nil)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows a single writer; the store already serializes writes.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db, queries: New(db)}, nil
}

func dsn(dbPath string) string {
	return "file:" + dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// withTx runs fn in a transaction, rolling back on error.
func (r *SQLiteRepository) withTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(r.queries.WithTx(tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.ErrorContext(ctx, "Rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func categoryRow(c core.Category) CategoryRow {
	return CategoryRow{
		ID:          int64(c.ID),
		Name:        c.Name,
		Description: c.Description,
		SortOrder:   int64(c.Order),
		Color:       c.Color,
		ChartType:   c.ChartType,
		IsActive:    c.Active,
	}
}

func subCategoryRow(s core.SubCategory) SubCategoryRow {
	return SubCategoryRow{
		ID:         int64(s.ID),
		CategoryID: int64(s.CategoryID),
		Name:       s.Name,
		SortOrder:  int64(s.Order),
		Color:      s.Color,
	}
}

func cargoDataRow(rec core.CargoData) CargoDataRow {
	row := CargoDataRow{
		ID:         int64(rec.ID),
		Year:       int64(rec.Year),
		CategoryID: int64(rec.CategoryID),
		Volume:     rec.Volume.String(),
		Unit:       rec.Unit,
	}
	if rec.SubCategoryID != nil {
		row.SubCategoryID = sql.NullInt64{Int64: int64(*rec.SubCategoryID), Valid: true}
	}
	return row
}

func (r *SQLiteRepository) SaveCategories(ctx context.Context, cats ...core.Category) error {
	return r.withTx(ctx, func(q *Queries) error {
		for _, c := range cats {
			if err := q.UpsertCategory(ctx, categoryRow(c)); err != nil {
				return fmt.Errorf("save category %d: %w", c.ID, err)
			}
		}
		return nil
	})
}

// DeleteCategory removes the category and its subcategories. Records must
// already be purged.
func (r *SQLiteRepository) DeleteCategory(ctx context.Context, id core.CategoryID) error {
	err := r.withTx(ctx, func(q *Queries) error {
		if err := q.DeleteSubCategoriesByCategory(ctx, int64(id)); err != nil {
			return fmt.Errorf("delete subcategories of %d: %w", id, err)
		}
		if err := q.DeleteCategory(ctx, int64(id)); err != nil {
			return fmt.Errorf("delete category %d: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "Category deleted from SQLite", log.FieldCategoryID, id)
	return nil
}

func (r *SQLiteRepository) SaveSubCategories(ctx context.Context, subs ...core.SubCategory) error {
	return r.withTx(ctx, func(q *Queries) error {
		for _, s := range subs {
			if err := q.UpsertSubCategory(ctx, subCategoryRow(s)); err != nil {
				return fmt.Errorf("save subcategory %d: %w", s.ID, err)
			}
		}
		return nil
	})
}

func (r *SQLiteRepository) DeleteSubCategory(ctx context.Context, id core.SubCategoryID) error {
	if err := r.queries.DeleteSubCategory(ctx, int64(id)); err != nil {
		return fmt.Errorf("delete subcategory %d: %w", id, err)
	}
	return nil
}

func (r *SQLiteRepository) SaveRecord(ctx context.Context, rec core.CargoData) error {
	row := cargoDataRow(rec)
	if err := r.queries.UpsertCargoData(ctx, row); err != nil {
		return fmt.Errorf("save record %d: %w", rec.ID, err)
	}
	slog.DebugContext(ctx, "Cargo data saved to SQLite",
		log.FieldRecordID, rec.ID,
		log.FieldYear, rec.Year,
		log.FieldCategoryID, rec.CategoryID,
		"volume", row.Volume)
	return nil
}

func (r *SQLiteRepository) DeleteRecord(ctx context.Context, id core.RecordID) error {
	if err := r.queries.DeleteCargoData(ctx, int64(id)); err != nil {
		return fmt.Errorf("delete record %d: %w", id, err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteRecordsByCategory(ctx context.Context, id core.CategoryID) error {
	if err := r.queries.DeleteCargoDataByCategory(ctx, int64(id)); err != nil {
		return fmt.Errorf("delete records of category %d: %w", id, err)
	}
	return nil
}

// ReplaceAll swaps the whole database content for snap in one transaction.
// snap is expected to be normalized already, as store.Restore passes it.
func (r *SQLiteRepository) ReplaceAll(ctx context.Context, snap store.Snapshot) error {
	err := r.withTx(ctx, func(q *Queries) error {
		if err := q.ClearAll(ctx); err != nil {
			return fmt.Errorf("clear tables: %w", err)
		}
		for _, c := range snap.Categories {
			if err := q.UpsertCategory(ctx, categoryRow(c)); err != nil {
				return fmt.Errorf("insert category %d: %w", c.ID, err)
			}
		}
		for _, s := range snap.SubCategories {
			if err := q.UpsertSubCategory(ctx, subCategoryRow(s)); err != nil {
				return fmt.Errorf("insert subcategory %d: %w", s.ID, err)
			}
		}
		for _, rec := range snap.Records {
			if err := q.UpsertCargoData(ctx, cargoDataRow(rec)); err != nil {
				return fmt.Errorf("insert record %d: %w", rec.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "SQLite content replaced",
		"categories", len(snap.Categories),
		"subcategories", len(snap.SubCategories),
		"records", len(snap.Records))
	return nil
}

// Load reads the persisted state as a snapshot suitable for store.Open.
// All tables are read in one transaction so the result is consistent even
// while another process writes.
func (r *SQLiteRepository) Load(ctx context.Context) (store.Snapshot, error) {
	snap := store.Snapshot{FormatVersion: store.SnapshotFormatVersion}
	err := r.withTx(ctx, func(q *Queries) error {
		cats, err := q.ListCategories(ctx)
		if err != nil {
			return fmt.Errorf("list categories: %w", err)
		}
		for _, c := range cats {
			snap.Categories = append(snap.Categories, core.Category{
				ID:          core.CategoryID(c.ID),
				Name:        c.Name,
				Description: c.Description,
				Order:       int(c.SortOrder),
				Color:       c.Color,
				ChartType:   c.ChartType,
				Active:      c.IsActive,
			})
		}

		subs, err := q.ListSubCategories(ctx)
		if err != nil {
			return fmt.Errorf("list subcategories: %w", err)
		}
		for _, s := range subs {
			snap.SubCategories = append(snap.SubCategories, core.SubCategory{
				ID:         core.SubCategoryID(s.ID),
				CategoryID: core.CategoryID(s.CategoryID),
				Name:       s.Name,
				Order:      int(s.SortOrder),
				Color:      s.Color,
			})
		}

		recs, err := q.ListCargoData(ctx)
		if err != nil {
			return fmt.Errorf("list cargo data: %w", err)
		}
		for _, row := range recs {
			vol, err := core.ParseVolume(row.Volume)
			if err != nil {
				return fmt.Errorf("record %d: %w", row.ID, err)
			}
			rec := core.CargoData{
				ID:         core.RecordID(row.ID),
				Year:       core.Year(row.Year),
				CategoryID: core.CategoryID(row.CategoryID),
				Volume:     vol,
				Unit:       row.Unit,
			}
			if row.SubCategoryID.Valid {
				rec.SubCategoryID = core.SubID(core.SubCategoryID(row.SubCategoryID.Int64))
			}
			snap.Records = append(snap.Records, rec)
		}
		return nil
	})
	if err != nil {
		return store.Snapshot{}, err
	}

	slog.DebugContext(ctx, "Loaded state from SQLite",
		"categories", len(snap.Categories),
		"subcategories", len(snap.SubCategories),
		"records", len(snap.Records))
	return snap, nil
}

// ExportSnapshot reads the persisted state for backup. The database does
// not track store versions, so the snapshot carries zero versions.
func (r *SQLiteRepository) ExportSnapshot(ctx context.Context) (store.Snapshot, error) {
	snap, err := r.Load(ctx)
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("export snapshot: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return store.Snapshot{}, err
	}
	snap.ExportedAt = time.Now().UTC()
	return snap, nil
}
