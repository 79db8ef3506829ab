// Package http provides HTTP server and handler implementations.
//
// This file implements the Builder Pattern for JSON responses so every
// handler writes bodies, headers and error envelopes the same way.

package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"cargostat/internal/core"
	"cargostat/internal/store"
)

// JSONResponseBuilder provides a fluent API for building JSON responses.
type JSONResponseBuilder struct {
	statusCode int
	body       any
	headers    map[string]string
}

// NewJSONResponse creates a new response builder with default 200 status.
func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

// Body sets the value encoded as the response body.
func (b *JSONResponseBuilder) Body(v any) *JSONResponseBuilder {
	b.body = v
	return b
}

// Versions stamps the store versions a response was computed at.
func (b *JSONResponseBuilder) Versions(v store.Versions) *JSONResponseBuilder {
	b.headers[HeaderTaxonomyVersion] = formatUint(v.Taxonomy)
	b.headers[HeaderDataVersion] = formatUint(v.Data)
	return b
}

// Write encodes the body before touching w so an encoding failure can
// still become a 500.
func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	if b.statusCode == http.StatusNoContent || b.body == nil {
		w.WriteHeader(b.statusCode)
		return
	}

	data, err := json.Marshal(b.body)
	if err != nil {
		slog.Error("Response encoding failed", "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"code":"internal","message":"response encoding failed"}}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(b.statusCode)
	_, _ = w.Write(append(data, '\n'))
}

// ErrorBody is the error envelope of every failed request.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes reported in ErrorDetail.Code.
const (
	CodeBadRequest   = "bad_request"
	CodeNotFound     = "not_found"
	CodeConflict     = "conflict"
	CodeValidation   = "validation"
	CodeUnavailable  = "unavailable"
	CodeInternal     = "internal"
	CodeRateLimited  = "rate_limited"
	CodeNotAllowed   = "method_not_allowed"
	CodeCanceled     = "canceled"
	CodeUnsupported  = "unsupported_media_type"
	CodeBodyTooLarge = "body_too_large"
)

// ErrorResponse creates a standard error response.
func ErrorResponse(statusCode int, code, message string) *JSONResponseBuilder {
	return NewJSONResponse().
		Status(statusCode).
		Body(ErrorBody{Error: ErrorDetail{Code: code, Message: message}})
}

func BadRequestError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusBadRequest, CodeBadRequest, message)
}

func UnprocessableEntityError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusUnprocessableEntity, CodeValidation, message)
}

func NotFoundError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusNotFound, CodeNotFound, message)
}

func InternalServerError() *JSONResponseBuilder {
	return ErrorResponse(http.StatusInternalServerError, CodeInternal, "internal error")
}

// FromError maps a domain or request error to its response. Unknown errors
// become an opaque 500 so internals never leak to clients.
func FromError(err error) *JSONResponseBuilder {
	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr):
		return ErrorResponse(reqErr.status, reqErr.code, reqErr.msg)
	case errors.Is(err, core.ErrInvalidSnapshot):
		return UnprocessableEntityError(err.Error())
	case errors.Is(err, core.ErrNotFound):
		return NotFoundError(err.Error())
	case errors.Is(err, core.ErrDuplicateName), errors.Is(err, core.ErrHasDependents), errors.Is(err, core.ErrActiveLimit):
		return ErrorResponse(http.StatusConflict, CodeConflict, err.Error())
	case core.IsValidation(err):
		return UnprocessableEntityError(err.Error())
	case errors.Is(err, context.Canceled):
		// 499 as popularized by nginx; the client has gone.
		return ErrorResponse(499, CodeCanceled, "request canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorResponse(http.StatusServiceUnavailable, CodeUnavailable, "request timed out")
	}
	return InternalServerError()
}
