package handlertools

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/dustin/go-humanize"

	"github.com/getzep/clipserve/internal"
	"github.com/getzep/clipserve/pkg/models"
)

var log = internal.GetLogger()

// EncodeJSON encodes data into JSON and writes it to w.
func EncodeJSON(w io.Writer, data interface{}) error {
	return json.NewEncoder(w).Encode(data)
}

// RenderJSON writes data as a JSON response with the given status. data is encoded before
// anything is written, so an encoding failure becomes a 500 error response.
func RenderJSON(w http.ResponseWriter, status int, data interface{}) {
	var buf bytes.Buffer
	if err := EncodeJSON(&buf, data); err != nil {
		log.Errorf("failed to encode response: %v", err)
		status = http.StatusInternalServerError
		buf.Reset()
		_ = EncodeJSON(&buf, models.ErrorResponse{
			Success: false,
			Detail:  fmt.Sprintf("%s: failed to encode response: %v", models.ErrInternal, err),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := buf.WriteTo(w); err != nil {
		log.Errorf("failed to write response: %v", err)
	}
}

// DecodeJSON decodes a JSON request body into the provided data struct. Malformed bodies
// are reported as validation errors.
func DecodeJSON(r *http.Request, data interface{}) error {
	err := json.NewDecoder(r.Body).Decode(data)
	if err == nil {
		return nil
	}

	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return err
	}
	if errors.Is(err, io.EOF) {
		return models.NewValidationError("request body is empty")
	}
	return models.NewValidationError("invalid JSON body: %v", err)
}

// ErrorKind classifies err for responses, logs and metrics.
func ErrorKind(err error) string {
	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytesErr):
		return "too_large"
	case errors.Is(err, models.ErrValidation):
		return "validation"
	case errors.Is(err, models.ErrFetch):
		return "fetch"
	case errors.Is(err, models.ErrDecode):
		return "decode"
	default:
		return "internal"
	}
}

// StatusForError maps an error kind to an HTTP status. Client input problems are 400s,
// everything else is a 500.
func StatusForError(err error) int {
	switch ErrorKind(err) {
	case "too_large":
		return http.StatusRequestEntityTooLarge
	case "validation", "fetch", "decode":
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// RenderError renders an error response in the {success:false, detail} shape.
func RenderError(w http.ResponseWriter, err error) {
	status := StatusForError(err)
	detail := err.Error()

	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytesErr):
		detail = fmt.Sprintf(
			"request body too large. images must be smaller than %s",
			humanize.IBytes(uint64(maxBytesErr.Limit)),
		)
	case status == http.StatusInternalServerError && !errors.Is(err, models.ErrInternal):
		detail = fmt.Sprintf("%s: %s", models.ErrInternal, detail)
	}

	if status >= http.StatusInternalServerError {
		log.Error(detail)
	} else {
		log.Debug(detail)
	}

	RenderJSON(w, status, models.ErrorResponse{Success: false, Detail: detail})
}
