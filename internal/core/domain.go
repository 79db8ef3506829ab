package core

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const (
	MaxNameLength        = 100
	MaxUnitLength        = 50
	MaxDescriptionLength = 2000

	// MaxActiveCategories caps how many category charts are shown at once.
	MaxActiveCategories = 2

	MinYear Year = 1900
	MaxYear Year = 9999

	DefaultColor = "#FF009D"
)

// Chart types a category can be rendered as.
const (
	ChartColumn = "column"
	ChartPie    = "pie"
)

type (
	// Year identifies a fiscal/calendar year of cargo data.
	Year int

	CategoryID    int64
	SubCategoryID int64
	RecordID      int64

	// Category is a top-level cargo type and the chart drawn for it.
	// At most MaxActiveCategories categories are Active.
	Category struct {
		ID          CategoryID `json:"id"`
		Name        string     `json:"name"`
		Description string     `json:"description"`
		Order       int        `json:"order"`
		Color       string     `json:"color"`
		ChartType   string     `json:"chartType"`
		Active      bool       `json:"active"`
	}

	SubCategory struct {
		ID         SubCategoryID `json:"id"`
		CategoryID CategoryID    `json:"categoryId"`
		Name       string        `json:"name"`
		Order      int           `json:"order"`
		Color      string        `json:"color"`
	}

	// CargoData is one yearly volume fact. SubCategoryID is nil for the
	// category's direct (unallocated) entry.
	CargoData struct {
		ID            RecordID       `json:"id"`
		Year          Year           `json:"year"`
		CategoryID    CategoryID     `json:"categoryId"`
		SubCategoryID *SubCategoryID `json:"subcategoryId"`
		Volume        Volume         `json:"volume"`
		Unit          string         `json:"unit"`
	}
)

var (
	ErrEmptyName    = errors.New("empty name")
	ErrNameTooLong  = fmt.Errorf("name too long (max %d characters)", MaxNameLength)
	ErrInvalidYear  = fmt.Errorf("invalid year (must be between %d and %d)", MinYear, MaxYear)
	ErrInvalidUnit  = fmt.Errorf("invalid unit (must be 1-%d characters)", MaxUnitLength)
	ErrInvalidColor = errors.New("invalid color: use HEX format #FFFFFF or #FFF")
	ErrInvalidOrder = errors.New("order must list every sibling exactly once")

	ErrDescriptionTooLong = fmt.Errorf("description too long (max %d characters)", MaxDescriptionLength)
	ErrInvalidChartType   = fmt.Errorf("invalid chart type (must be %q or %q)", ChartColumn, ChartPie)
)

var colorPattern = regexp.MustCompile(`^#([A-Fa-f0-9]{6}|[A-Fa-f0-9]{3})$`)

// NormalizeName trims surrounding whitespace and validates length.
func NormalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrEmptyName
	}
	if len([]rune(name)) > MaxNameLength {
		return "", ErrNameTooLong
	}
	return name, nil
}

// NameKey is the comparison key for sibling uniqueness.
func NameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// NormalizeColor expands #RGB to #RRGGBB and upper-cases the result.
// An empty color yields DefaultColor.
func NormalizeColor(color string) (string, error) {
	color = strings.TrimSpace(color)
	if color == "" {
		return DefaultColor, nil
	}
	if !colorPattern.MatchString(color) {
		return "", ErrInvalidColor
	}
	if len(color) == 4 {
		color = string([]byte{'#', color[1], color[1], color[2], color[2], color[3], color[3]})
	}
	return strings.ToUpper(color), nil
}

// NormalizeDescription trims whitespace; an empty description is allowed.
func NormalizeDescription(desc string) (string, error) {
	desc = strings.TrimSpace(desc)
	if len([]rune(desc)) > MaxDescriptionLength {
		return "", ErrDescriptionTooLong
	}
	return desc, nil
}

// NormalizeChartType lower-cases the chart type. An empty value yields
// ChartColumn.
func NormalizeChartType(chart string) (string, error) {
	chart = strings.ToLower(strings.TrimSpace(chart))
	switch chart {
	case "":
		return ChartColumn, nil
	case ChartColumn, ChartPie:
		return chart, nil
	}
	return "", ErrInvalidChartType
}

func NormalizeUnit(unit string) (string, error) {
	unit = strings.TrimSpace(unit)
	if unit == "" || len([]rune(unit)) > MaxUnitLength {
		return "", ErrInvalidUnit
	}
	return unit, nil
}

func (y Year) Validate() error {
	if y < MinYear || y > MaxYear {
		return ErrInvalidYear
	}
	return nil
}

// HasSubCategory reports whether the record is allocated to a subcategory.
func (d CargoData) HasSubCategory() bool {
	return d.SubCategoryID != nil
}

// Clone returns a copy that shares no pointers with d.
func (d CargoData) Clone() CargoData {
	if d.SubCategoryID != nil {
		sub := *d.SubCategoryID
		d.SubCategoryID = &sub
	}
	return d
}

// SubID is a convenience for building optional subcategory references.
func SubID(id SubCategoryID) *SubCategoryID {
	return &id
}
