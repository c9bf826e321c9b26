package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/FACorreiaa/person-registry/internal/supabase"
	"github.com/FACorreiaa/person-registry/internal/types"
)

const maxBodyBytes = 1_048_576

// ErrorResponse writes a standard JSON error response including request ID.
func ErrorResponse(w http.ResponseWriter, r *http.Request, status int, message string) {
	reqID := middleware.GetReqID(r.Context())
	resp := map[string]interface{}{
		"success":    false,
		"error":      message,
		"request_id": reqID,
	}
	WriteJSONResponse(w, r, status, resp)
}

// StatusFromError maps the gateway error kinds to HTTP status codes.
func StatusFromError(err error) int {
	switch {
	case errors.Is(err, types.ErrValidation), errors.Is(err, types.ErrInvalidReference):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrStorage):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ErrorMessage returns the message shown to the user: the backend message when
// the failure came from upstream, otherwise the error text.
func ErrorMessage(err error) string {
	var apiErr *supabase.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	if StatusFromError(err) == http.StatusInternalServerError {
		return "Internal server error"
	}
	return err.Error()
}

// RespondError writes err with the status of its kind.
func RespondError(w http.ResponseWriter, r *http.Request, err error) {
	ErrorResponse(w, r, StatusFromError(err), ErrorMessage(err))
}

// WriteJSONResponse encodes the data to JSON and writes the response header and body.
func WriteJSONResponse(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	if status == http.StatusNoContent {
		w.WriteHeader(status)
		return
	}

	js, err := json.Marshal(data)
	if err != nil {
		reqID := middleware.GetReqID(r.Context())
		slog.ErrorContext(r.Context(), "Failed to marshal JSON response",
			slog.Any("error", err),
			slog.String("request_id", reqID),
		)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	// Set headers before writing status or body
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err = w.Write(js); err != nil {
		reqID := middleware.GetReqID(r.Context())
		slog.ErrorContext(r.Context(), "Failed to write response body",
			slog.Any("error", err),
			slog.String("request_id", reqID),
		)
	}
}

// DecodeJSONBody reads and decodes a JSON request body safely. Decoding
// failures are reported as types.ErrValidation.
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %s", types.ErrValidation, describeDecodeError(err))
	}

	// Check for trailing data after the first JSON object
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: body must only contain a single JSON value", types.ErrValidation)
	}
	return nil
}

func describeDecodeError(err error) string {
	var syntaxError *json.SyntaxError
	var unmarshalTypeError *json.UnmarshalTypeError
	var maxBytesError *http.MaxBytesError

	switch {
	case errors.Is(err, types.ErrValidation):
		return strings.TrimPrefix(err.Error(), types.ErrValidation.Error()+": ")
	case errors.As(err, &syntaxError):
		return fmt.Sprintf("body contains badly-formed JSON (at character %d)", syntaxError.Offset)
	case errors.Is(err, io.ErrUnexpectedEOF):
		return "body contains badly-formed JSON"
	case errors.As(err, &unmarshalTypeError):
		if unmarshalTypeError.Field != "" {
			return fmt.Sprintf("body contains incorrect JSON type for field %q (wanted %s)", unmarshalTypeError.Field, unmarshalTypeError.Type)
		}
		return fmt.Sprintf("body contains incorrect JSON type (at character %d)", unmarshalTypeError.Offset)
	case errors.Is(err, io.EOF):
		return "body must not be empty"
	case strings.HasPrefix(err.Error(), "json: unknown field "):
		fieldName := strings.Trim(strings.TrimPrefix(err.Error(), "json: unknown field "), `"`)
		return fmt.Sprintf("body contains unknown key %q", fieldName)
	case errors.As(err, &maxBytesError):
		return fmt.Sprintf("body must not be larger than %d bytes", maxBytesError.Limit)
	default:
		return err.Error()
	}
}
