package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/banshee-data/woodland.report/internal/monitoring"
)

var logf = monitoring.Component("http")

// ErrorResponse is the body of every failed API request.
type ErrorResponse struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
	// RequestID echoes the X-Request-Id assigned by the router, so a client
	// report can be matched to the server log line.
	RequestID string `json:"request_id,omitempty"`
}

// WriteJSON writes v as the JSON body of a response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logf("encode response: %v", err)
	}
}

// WriteError writes an ErrorResponse. The request ID is empty when r did not
// pass through chi's RequestID middleware.
func WriteError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	WriteJSON(w, status, ErrorResponse{
		Error:     msg,
		Status:    status,
		RequestID: middleware.GetReqID(r.Context()),
	})
}

func NotFound(w http.ResponseWriter, r *http.Request, msg string) {
	WriteError(w, r, http.StatusNotFound, msg)
}

func BadRequest(w http.ResponseWriter, r *http.Request, msg string) {
	WriteError(w, r, http.StatusBadRequest, msg)
}

func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	WriteError(w, r, http.StatusMethodNotAllowed, r.Method+" not allowed on "+r.URL.Path)
}

// InternalError logs cause and writes msg. The cause never reaches the client.
func InternalError(w http.ResponseWriter, r *http.Request, msg string, cause error) {
	logf("%s %s id=%s: %s: %v", r.Method, r.URL.Path, middleware.GetReqID(r.Context()), msg, cause)
	WriteError(w, r, http.StatusInternalServerError, msg)
}
