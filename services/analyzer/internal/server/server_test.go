package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mnajarc/sistemaInm-sub001/pkg/queue"
)

type stubJobs map[string]queue.Job

func (s stubJobs) GetJob(_ context.Context, id string) (queue.Job, bool, error) {
	if id == "boom" {
		return queue.Job{}, false, errors.New("redis down")
	}
	job, ok := s[id]
	return job, ok, nil
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestJobLookup(t *testing.T) {
	h := New(Config{Jobs: stubJobs{"j1": {ID: "j1", SubmissionID: "sub-1", Status: queue.StatusDone}}}).Router()

	rec := get(t, h, "/jobs/j1")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"done"`) {
		t.Fatalf("GET /jobs/j1 = %d %s", rec.Code, rec.Body.String())
	}
	if rec := get(t, h, "/jobs/nope"); rec.Code != http.StatusNotFound {
		t.Fatalf("missing job = %d", rec.Code)
	}
	if rec := get(t, h, "/jobs/boom"); rec.Code != http.StatusInternalServerError {
		t.Fatalf("failing lookup = %d", rec.Code)
	}
}

func TestReadyReportsDependencyFailure(t *testing.T) {
	h := New(Config{Ready: func(context.Context) error { return errors.New("redis down") }}).Router()
	if rec := get(t, h, "/readyz"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz = %d", rec.Code)
	}
	if rec := get(t, h, "/healthz"); rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}
}
