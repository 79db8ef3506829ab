package core

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is matching of the typed errors below.
var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicateName     = errors.New("duplicate name")
	ErrHasDependents     = errors.New("has dependents")
	ErrInvalidVolume     = errors.New("invalid volume")
	ErrDanglingReference = errors.New("dangling reference")
	ErrInvalidSnapshot   = errors.New("invalid snapshot")
	ErrActiveLimit       = errors.New("active category limit reached")
)

// Entity kinds used in error messages.
const (
	KindCategory    = "category"
	KindSubCategory = "subcategory"
	KindRecord      = "record"
)

type NotFoundError struct {
	Kind string
	ID   int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// DuplicateNameError reports a sibling name collision. Parent is zero for
// top-level categories.
type DuplicateNameError struct {
	Kind   string
	Name   string
	Parent CategoryID
}

func (e *DuplicateNameError) Error() string {
	if e.Parent != 0 {
		return fmt.Sprintf("%s %q already exists in category %d", e.Kind, e.Name, e.Parent)
	}
	return fmt.Sprintf("%s %q already exists", e.Kind, e.Name)
}

func (e *DuplicateNameError) Is(target error) bool { return target == ErrDuplicateName }

// HasDependentsError is returned when removing a taxonomy node that cargo
// data still references. Callers must purge the data first.
type HasDependentsError struct {
	Kind    string
	ID      int64
	Records int
}

func (e *HasDependentsError) Error() string {
	return fmt.Sprintf("%s %d is referenced by %d data record(s)", e.Kind, e.ID, e.Records)
}

func (e *HasDependentsError) Is(target error) bool { return target == ErrHasDependents }

// InvalidVolumeError reports a missing, malformed, negative or out of range
// volume. Reason defaults to the non-negative rule.
type InvalidVolumeError struct {
	Value  string
	Reason string
}

func (e *InvalidVolumeError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "must be a non-negative number"
	}
	return fmt.Sprintf("invalid volume %q: %s", e.Value, reason)
}

func (e *InvalidVolumeError) Is(target error) bool { return target == ErrInvalidVolume }

// DanglingReferenceError is returned when a record points at a missing
// category or subcategory, or at a subcategory owned by another category.
type DanglingReferenceError struct {
	CategoryID    CategoryID
	SubCategoryID *SubCategoryID
	Reason        string
}

func (e *DanglingReferenceError) Error() string {
	if e.SubCategoryID != nil {
		return fmt.Sprintf("dangling reference category=%d subcategory=%d: %s", e.CategoryID, *e.SubCategoryID, e.Reason)
	}
	return fmt.Sprintf("dangling reference category=%d: %s", e.CategoryID, e.Reason)
}

func (e *DanglingReferenceError) Is(target error) bool { return target == ErrDanglingReference }

// ActiveLimitError is returned when activating a category would exceed
// MaxActiveCategories. Active lists the categories already active.
type ActiveLimitError struct {
	Limit  int
	Active []CategoryID
}

func (e *ActiveLimitError) Error() string {
	return fmt.Sprintf("at most %d categories can be active at once (active: %v)", e.Limit, e.Active)
}

func (e *ActiveLimitError) Is(target error) bool { return target == ErrActiveLimit }

// IsValidation reports whether err is a caller input problem rather than an
// infrastructure failure.
func IsValidation(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidVolume),
		errors.Is(err, ErrDanglingReference),
		errors.Is(err, ErrEmptyName),
		errors.Is(err, ErrNameTooLong),
		errors.Is(err, ErrInvalidYear),
		errors.Is(err, ErrInvalidUnit),
		errors.Is(err, ErrInvalidColor),
		errors.Is(err, ErrInvalidOrder),
		errors.Is(err, ErrDescriptionTooLong),
		errors.Is(err, ErrInvalidChartType),
		errors.Is(err, ErrInvalidSnapshot):
		return true
	}
	return false
}
