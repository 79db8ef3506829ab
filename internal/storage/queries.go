package storage

import (
	"context"
	"database/sql"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type CategoryRow struct {
	ID          int64
	Name        string
	Description string
	SortOrder   int64
	Color       string
	ChartType   string
	IsActive    bool
}

type SubCategoryRow struct {
	ID         int64
	CategoryID int64
	Name       string
	SortOrder  int64
	Color      string
}

type CargoDataRow struct {
	ID            int64
	Year          int64
	CategoryID    int64
	SubCategoryID sql.NullInt64
	Volume        string
	Unit          string
}

const upsertCategory = `
INSERT INTO categories (id, name, description, sort_order, color, chart_type, is_active)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    name = excluded.name,
    description = excluded.description,
    sort_order = excluded.sort_order,
    color = excluded.color,
    chart_type = excluded.chart_type,
    is_active = excluded.is_active,
    updated_at = CURRENT_TIMESTAMP`

func (q *Queries) UpsertCategory(ctx context.Context, arg CategoryRow) error {
	_, err := q.db.ExecContext(ctx, upsertCategory,
		arg.ID, arg.Name, arg.Description, arg.SortOrder, arg.Color, arg.ChartType, arg.IsActive)
	return err
}

const deleteCategory = `DELETE FROM categories WHERE id = ?`

func (q *Queries) DeleteCategory(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, deleteCategory, id)
	return err
}

const deleteSubCategoriesByCategory = `DELETE FROM subcategories WHERE category_id = ?`

func (q *Queries) DeleteSubCategoriesByCategory(ctx context.Context, categoryID int64) error {
	_, err := q.db.ExecContext(ctx, deleteSubCategoriesByCategory, categoryID)
	return err
}

const listCategories = `
SELECT id, name, description, sort_order, color, chart_type, is_active
FROM categories
ORDER BY sort_order, id`

func (q *Queries) ListCategories(ctx context.Context) ([]CategoryRow, error) {
	rows, err := q.db.QueryContext(ctx, listCategories)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []CategoryRow
	for rows.Next() {
		var i CategoryRow
		if err := rows.Scan(&i.ID, &i.Name, &i.Description, &i.SortOrder, &i.Color, &i.ChartType, &i.IsActive); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const upsertSubCategory = `
INSERT INTO subcategories (id, category_id, name, sort_order, color)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    category_id = excluded.category_id,
    name = excluded.name,
    sort_order = excluded.sort_order,
    color = excluded.color,
    updated_at = CURRENT_TIMESTAMP`

func (q *Queries) UpsertSubCategory(ctx context.Context, arg SubCategoryRow) error {
	_, err := q.db.ExecContext(ctx, upsertSubCategory, arg.ID, arg.CategoryID, arg.Name, arg.SortOrder, arg.Color)
	return err
}

const deleteSubCategory = `DELETE FROM subcategories WHERE id = ?`

func (q *Queries) DeleteSubCategory(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, deleteSubCategory, id)
	return err
}

const listSubCategories = `
SELECT s.id, s.category_id, s.name, s.sort_order, s.color
FROM subcategories s
JOIN categories c ON c.id = s.category_id
ORDER BY c.sort_order, c.id, s.sort_order, s.id`

func (q *Queries) ListSubCategories(ctx context.Context) ([]SubCategoryRow, error) {
	rows, err := q.db.QueryContext(ctx, listSubCategories)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []SubCategoryRow
	for rows.Next() {
		var i SubCategoryRow
		if err := rows.Scan(&i.ID, &i.CategoryID, &i.Name, &i.SortOrder, &i.Color); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const upsertCargoData = `
INSERT INTO cargo_data (id, year, category_id, subcategory_id, volume, unit)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    volume = excluded.volume,
    unit = excluded.unit,
    updated_at = CURRENT_TIMESTAMP`

func (q *Queries) UpsertCargoData(ctx context.Context, arg CargoDataRow) error {
	_, err := q.db.ExecContext(ctx, upsertCargoData,
		arg.ID, arg.Year, arg.CategoryID, arg.SubCategoryID, arg.Volume, arg.Unit)
	return err
}

const deleteCargoData = `DELETE FROM cargo_data WHERE id = ?`

func (q *Queries) DeleteCargoData(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, deleteCargoData, id)
	return err
}

const deleteCargoDataByCategory = `DELETE FROM cargo_data WHERE category_id = ?`

func (q *Queries) DeleteCargoDataByCategory(ctx context.Context, categoryID int64) error {
	_, err := q.db.ExecContext(ctx, deleteCargoDataByCategory, categoryID)
	return err
}

const listCargoData = `
SELECT id, year, category_id, subcategory_id, volume, unit
FROM cargo_data
ORDER BY year, id`

func (q *Queries) ListCargoData(ctx context.Context) ([]CargoDataRow, error) {
	rows, err := q.db.QueryContext(ctx, listCargoData)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []CargoDataRow
	for rows.Next() {
		var i CargoDataRow
		if err := rows.Scan(&i.ID, &i.Year, &i.CategoryID, &i.SubCategoryID, &i.Volume, &i.Unit); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const clearCargoData = `DELETE FROM cargo_data`
const clearSubCategories = `DELETE FROM subcategories`
const clearCategories = `DELETE FROM categories`

// ClearAll empties every table, children first.
func (q *Queries) ClearAll(ctx context.Context) error {
	for _, stmt := range []string{clearCargoData, clearSubCategories, clearCategories} {
		if _, err := q.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
