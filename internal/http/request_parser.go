// Package http provides HTTP server and handler implementations.
//
// This file implements utilities for parsing and validating HTTP request
// data: path ids, year ranges and JSON bodies.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"cargostat/internal/core"
)

const (
	// maxBodyBytes bounds writer request bodies; a restore snapshot is the
	// largest legitimate payload.
	maxBodyBytes = 8 << 20
	// maxRangeYears bounds from/to queries.
	maxRangeYears = 200
)

// requestError is a malformed request, reported with its own status.
type requestError struct {
	status int
	code   string
	msg    string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &requestError{status: http.StatusBadRequest, code: CodeBadRequest, msg: fmt.Sprintf(format, args...)}
}

// ParseID reads an int64 id path value such as {id}.
func ParseID[T ~int64](r *http.Request, name string) (T, error) {
	raw := strings.TrimSpace(r.PathValue(name))
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return 0, badRequest("invalid %s %q", name, raw)
	}
	return T(n), nil
}

// ParseYear reads a year path value. Range checks are left to the domain.
func ParseYear(r *http.Request, name string) (core.Year, error) {
	raw := strings.TrimSpace(r.PathValue(name))
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badRequest("invalid year %q", raw)
	}
	return core.Year(n), nil
}

// YearRange holds the parsed from/to query parameters. Set is false when
// neither parameter was given.
type YearRange struct {
	From, To core.Year
	Set      bool
}

// ParseYearRange reads from/to. Both or neither must be present; the range
// is inclusive and bounded by maxRangeYears.
func ParseYearRange(query url.Values) (YearRange, error) {
	fromRaw := strings.TrimSpace(query.Get("from"))
	toRaw := strings.TrimSpace(query.Get("to"))
	if fromRaw == "" && toRaw == "" {
		return YearRange{}, nil
	}
	if fromRaw == "" || toRaw == "" {
		return YearRange{}, badRequest("from and to must be given together")
	}
	from, err := strconv.Atoi(fromRaw)
	if err != nil {
		return YearRange{}, badRequest("invalid from %q", fromRaw)
	}
	to, err := strconv.Atoi(toRaw)
	if err != nil {
		return YearRange{}, badRequest("invalid to %q", toRaw)
	}
	yr := YearRange{From: core.Year(from), To: core.Year(to), Set: true}
	if err := yr.From.Validate(); err != nil {
		return YearRange{}, err
	}
	if err := yr.To.Validate(); err != nil {
		return YearRange{}, err
	}
	if yr.From > yr.To {
		return YearRange{}, badRequest("from %d is after to %d", from, to)
	}
	if to-from+1 > maxRangeYears {
		return YearRange{}, badRequest("range spans more than %d years", maxRangeYears)
	}
	return yr, nil
}

// Years lists every year of the range in ascending order.
func (yr YearRange) Years() []core.Year {
	if !yr.Set {
		return nil
	}
	years := make([]core.Year, 0, int(yr.To-yr.From)+1)
	for y := yr.From; y <= yr.To; y++ {
		years = append(years, y)
	}
	return years
}

// ParseBool reads an optional boolean query parameter.
func ParseBool(query url.Values, name string) (bool, error) {
	raw := strings.TrimSpace(query.Get(name))
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, badRequest("invalid %s %q", name, raw)
	}
	return v, nil
}

// DecodeJSON reads exactly one JSON value into dst. Unknown fields are
// rejected so typos surface instead of being ignored.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mt, _, err := mime.ParseMediaType(ct)
		if err != nil || mt != "application/json" {
			return &requestError{
				status: http.StatusUnsupportedMediaType,
				code:   CodeUnsupported,
				msg:    "content type must be application/json",
			}
		}
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		var volErr *core.InvalidVolumeError
		switch {
		case errors.As(err, &tooLarge):
			return &requestError{
				status: http.StatusRequestEntityTooLarge,
				code:   CodeBodyTooLarge,
				msg:    fmt.Sprintf("body exceeds %d bytes", tooLarge.Limit),
			}
		case errors.As(err, &volErr):
			return volErr
		case errors.Is(err, io.EOF):
			return badRequest("request body is empty")
		}
		return badRequest("malformed JSON: %v", err)
	}
	if dec.More() {
		return badRequest("request body must hold a single JSON value")
	}
	return nil
}
