package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"cargostat/internal/core"
	"cargostat/internal/log"
)

// Response headers carrying the store versions observed when a read began.
// A result is never older than these versions.
const (
	HeaderTaxonomyVersion = "X-Taxonomy-Version"
	HeaderDataVersion     = "X-Data-Version"
)

func formatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}

// errorType classifies err for structured logs.
func errorType(err error) string {
	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr), core.IsValidation(err):
		return log.ErrorTypeValidation
	case errors.Is(err, core.ErrNotFound):
		return log.ErrorTypeNotFound
	case errors.Is(err, core.ErrDuplicateName), errors.Is(err, core.ErrHasDependents), errors.Is(err, core.ErrActiveLimit):
		return log.ErrorTypeConflict
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return log.ErrorTypeTimeout
	}
	return log.ErrorTypeInternal
}

// writeError logs err and writes its mapped response. Caller mistakes log
// at warn level; everything else is an error.
func writeError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	ctx := r.Context()
	kind := errorType(err)
	fields := log.NewFields().WithError(err).WithErrorType(kind).WithOperation(operation)
	logger := log.FromContext(ctx)
	if kind == log.ErrorTypeInternal {
		logger.ErrorContext(ctx, "Request failed", fields.ToSlice()...)
	} else {
		logger.WarnContext(ctx, "Request rejected", fields.ToSlice()...)
	}
	FromError(err).Write(w)
}
