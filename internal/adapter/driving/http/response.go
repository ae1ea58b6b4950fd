package httphandler

import (
	"encoding/json"
	"net/http"

	"github.com/ericfisherdev/fitsync/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// DataResponse wraps the unified records of one category. Records is the
// category's record slice and is never null.
type DataResponse struct {
	Category model.Category `json:"category"`
	Start    string         `json:"start"`
	End      string         `json:"end"`
	Records  any            `json:"records"`
}

// ImportResponse reports how many records a snapshot import stored.
type ImportResponse struct {
	Provider model.Provider `json:"provider"`
	Imported int            `json:"imported"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}
