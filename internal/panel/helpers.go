package panel

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rendis/relaysim/pkg/schema"
)

// statusBadge returns a CSS class name for a stage status.
func statusBadge(status string) string {
	switch schema.StageStatus(status) {
	case schema.StageStatusComplete:
		return "badge-success"
	case schema.StageStatusActive:
		return "badge-active"
	default:
		return "badge-secondary"
	}
}

// durationLabel formats a recorded stage duration, or "" when unset.
func durationLabel(ms *int64) string {
	if ms == nil {
		return ""
	}
	return fmt.Sprintf("%dms", *ms)
}

// truncate shortens a string to max length, appending "..." if truncated.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeText writes a plain-text 200 response.
func writeText(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeRelayError writes err with a status derived from its code.
func writeRelayError(w http.ResponseWriter, err error) {
	code := schema.CodeOf(err)
	body := map[string]any{"error": err.Error(), "code": code}
	writeJSON(w, httpStatus(code), body)
}

// httpStatus maps an error code to an HTTP status.
func httpStatus(code string) int {
	switch code {
	case schema.ErrCodeValidation:
		return http.StatusBadRequest
	case schema.ErrCodeNotFound:
		return http.StatusNotFound
	case schema.ErrCodeConflict, schema.ErrCodeInvalidTransition:
		return http.StatusConflict
	case schema.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
