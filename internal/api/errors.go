package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/wegman-software/mapcircle-go/internal/fetch"
	"github.com/wegman-software/mapcircle-go/internal/kml"
	"github.com/wegman-software/mapcircle-go/internal/logger"
	"github.com/wegman-software/mapcircle-go/internal/poi"
	"github.com/wegman-software/mapcircle-go/internal/store"
)

// APIError is the JSON error body of every failed request
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Details string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewAPIError creates an API error with optional details
func NewAPIError(code, message string, status int, details ...string) *APIError {
	err := &APIError{
		Code:    code,
		Message: message,
		Status:  status,
	}
	if len(details) > 0 {
		err.Details = details[0]
	}
	return err
}

var (
	ErrInvalidInput = NewAPIError("INVALID_INPUT", "Invalid request data", http.StatusBadRequest)
	ErrUnauthorized = NewAPIError("UNAUTHORIZED", "Authentication required", http.StatusUnauthorized)
	ErrForbidden    = NewAPIError("FORBIDDEN", "You do not have access to this map", http.StatusForbidden)
	ErrNotFound     = NewAPIError("NOT_FOUND", "Resource not found", http.StatusNotFound)
	ErrInternal     = NewAPIError("INTERNAL_SERVER_ERROR", "Internal server error", http.StatusInternalServerError)
	ErrUnavailable  = NewAPIError("UNAVAILABLE", "Feature is not configured on this server", http.StatusServiceUnavailable)
)

// Wrap converts err to an API error, keeping existing API errors as they are
func Wrap(err error, code, message string, status int) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return NewAPIError(code, message, status, err.Error())
}

// invalid returns a 400 carrying a specific message
func invalid(message string) *APIError {
	return NewAPIError(ErrInvalidInput.Code, message, http.StatusBadRequest)
}

// FromError maps domain errors to API errors. Import and fetch failures keep
// their human-readable message so clients can show it as is.
func FromError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var statusErr *fetch.StatusError
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, store.ErrInvalid):
		return NewAPIError(ErrInvalidInput.Code, err.Error(), http.StatusBadRequest)
	case errors.Is(err, kml.ErrUnsupportedFormat):
		return NewAPIError("UNSUPPORTED_FORMAT", kml.ErrUnsupportedFormat.Error(), http.StatusBadRequest, err.Error())
	case errors.Is(err, kml.ErrNoMarkup), errors.Is(err, kml.ErrArchive):
		return NewAPIError("ARCHIVE_ERROR", err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, kml.ErrNoFeatures):
		return NewAPIError("NO_FEATURES", kml.ErrNoFeatures.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, fetch.ErrNotKML):
		return NewAPIError("NOT_KML", fetch.ErrNotKML.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, fetch.ErrInvalidURL):
		return NewAPIError("INVALID_URL", fetch.ErrInvalidURL.Error(), http.StatusBadRequest, err.Error())
	case errors.Is(err, fetch.ErrTooLarge):
		return NewAPIError("TOO_LARGE", err.Error(), http.StatusRequestEntityTooLarge)
	case errors.As(err, &statusErr):
		return NewAPIError("REMOTE_STATUS", statusErr.Error(), http.StatusBadGateway)
	case errors.Is(err, fetch.ErrUnreachable):
		return NewAPIError("REMOTE_UNREACHABLE", fetch.ErrUnreachable.Error(), http.StatusBadGateway, err.Error())
	case errors.Is(err, poi.ErrUnknownLayer), errors.Is(err, poi.ErrUnknownCity):
		return NewAPIError(ErrNotFound.Code, err.Error(), http.StatusNotFound)
	case errors.Is(err, context.DeadlineExceeded):
		return NewAPIError("TIMEOUT", "Request timed out", http.StatusGatewayTimeout)
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Message, ErrInternal.Status)
}

// WriteError writes err as a JSON error response
func WriteError(w http.ResponseWriter, err error) {
	apiErr := FromError(err)
	if apiErr.Status >= 500 {
		logger.Named("api").Error("Server error",
			zap.String("code", apiErr.Code),
			zap.String("details", apiErr.Details))
	}
	writeJSON(w, apiErr.Status, apiErr)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeJSON reads a JSON request body into v
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return NewAPIError(ErrInvalidInput.Code, ErrInvalidInput.Message, http.StatusBadRequest, err.Error())
	}
	return nil
}
