// Package core provides volume parsing and exact decimal arithmetic.
//
// Volumes are accumulated as decimals so repeated rollups of the same
// inputs produce identical totals.
package core

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Bounds on a volume's decimal representation. Anything outside them is
// refused before it reaches the stores.
const (
	MaxVolumeExponent = 18
	MaxVolumeDigits   = 38
)

// Volume is a non-negative cargo quantity.
type Volume struct {
	decimal.Decimal
}

var ZeroVolume = Volume{Decimal: decimal.Zero}

// NewVolume builds a volume from an integer value and a base-10 exponent,
// e.g. NewVolume(1205, -1) is 120.5.
func NewVolume(value int64, exp int32) Volume {
	return Volume{Decimal: decimal.New(value, exp)}
}

// MustVolume parses s and panics on error. Intended for tests and seeds.
func MustVolume(s string) Volume {
	v, err := ParseVolume(s)
	if err != nil {
		panic(err)
	}
	return v
}

// ParseVolume converts a decimal string to a Volume.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and
// rejects negative values with an *InvalidVolumeError.
//
// Examples:
//
//	ParseVolume("120")    -> 120, nil
//	ParseVolume("12,5")   -> 12.5, nil
//	ParseVolume("-1")     -> error
func ParseVolume(s string) (Volume, error) {
	raw := s
	s = strings.TrimSpace(s)
	if s == "" {
		return Volume{}, &InvalidVolumeError{Value: raw}
	}
	s = strings.ReplaceAll(s, ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Volume{}, &InvalidVolumeError{Value: raw}
	}
	v := Volume{Decimal: d}
	if err := v.Validate(); err != nil {
		return Volume{}, err
	}
	return v, nil
}

// Validate rejects negative volumes and volumes outside the exponent and
// precision bounds.
func (v Volume) Validate() error {
	if err := v.checkBounds(); err != nil {
		return err
	}
	if v.Decimal.IsNegative() {
		return &InvalidVolumeError{Value: v.Decimal.String()}
	}
	return nil
}

func (v Volume) checkBounds() error {
	exp := v.Decimal.Exponent()
	if exp > MaxVolumeExponent || exp < -MaxVolumeExponent {
		return &InvalidVolumeError{
			Value:  v.describe(),
			Reason: fmt.Sprintf("exponent must be within ±%d", MaxVolumeExponent),
		}
	}
	digits := strings.TrimPrefix(v.Decimal.Coefficient().String(), "-")
	if len(digits) > MaxVolumeDigits {
		return &InvalidVolumeError{
			Value:  v.describe(),
			Reason: fmt.Sprintf("at most %d significant digits", MaxVolumeDigits),
		}
	}
	return nil
}

// describe renders v without expanding huge exponents.
func (v Volume) describe() string {
	coef := v.Decimal.Coefficient().String()
	if len(coef) > MaxVolumeDigits {
		coef = coef[:MaxVolumeDigits] + "..."
	}
	return fmt.Sprintf("%se%d", coef, v.Decimal.Exponent())
}

func (v Volume) Add(o Volume) Volume {
	return Volume{Decimal: v.Decimal.Add(o.Decimal)}
}

func (v Volume) Equal(o Volume) bool {
	return v.Decimal.Equal(o.Decimal)
}

// Float64 returns the value for chart rendering only; never sum floats.
func (v Volume) Float64() float64 {
	f, _ := v.Decimal.Float64()
	return f
}

// MarshalJSON encodes the volume as a decimal string to keep it exact.
func (v Volume) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Decimal.String())
}

// UnmarshalJSON accepts a JSON string or number within the exponent and
// precision bounds. Sign is checked by the stores.
func (v *Volume) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return &InvalidVolumeError{Value: string(data)}
	}
	parsed := Volume{Decimal: d}
	if err := parsed.checkBounds(); err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Sum adds volumes in order.
func Sum(vs ...Volume) Volume {
	total := ZeroVolume
	for _, v := range vs {
		total = total.Add(v)
	}
	return total
}
