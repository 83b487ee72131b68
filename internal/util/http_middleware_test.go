package util

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestWithRequestLogRecordsRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(RequestLog("test-svc"))
	r.Get("/submissions/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := http.Handler(r)

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("test-svc", http.MethodGet, "/submissions/{id}", "418"))
	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/submissions/"+id, nil))
		if rec.Code != http.StatusTeapot {
			t.Fatalf("unexpected status %d", rec.Code)
		}
	}
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("test-svc", http.MethodGet, "/submissions/{id}", "418"))
	if after-before != 2 {
		t.Fatalf("expected 2 requests on one route label, got %v", after-before)
	}
}
