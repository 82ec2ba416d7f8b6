// Package testutil provides shared test fixtures: synthetic scenes written
// as BIL assets and helpers for exercising the registry API.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/banshee-data/woodland.report/internal/httputil"
)

// Serve sends a method request for target through h and returns the
// recorded response.
func Serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, target, nil))
	return w
}

// DecodeJSON checks that w is a JSON response with status want and decodes
// its body into v.
func DecodeJSON(t testing.TB, w *httptest.ResponseRecorder, want int, v interface{}) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("status code = %d, want %d; body %s", w.Code, want, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type = %q, want application/json", ct)
	}
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
}

// DecodeError checks that w is an error response with status want and
// returns its body.
func DecodeError(t testing.TB, w *httptest.ResponseRecorder, want int) httputil.ErrorResponse {
	t.Helper()
	var body httputil.ErrorResponse
	DecodeJSON(t, w, want, &body)
	if body.Status != want {
		t.Errorf("body status = %d, want %d", body.Status, want)
	}
	if body.Error == "" {
		t.Errorf("error response has no message")
	}
	return body
}
