package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

func TestMemoryObjectStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryObjectStore()
	if err := s.Put(ctx, "a/b.pdf", strings.NewReader("hello"), 5, "application/pdf"); err != nil {
		t.Fatalf("put: %v", err)
	}
	rc, err := s.Get(ctx, "a/b.pdf")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(data) != "hello" {
		t.Fatalf("data = %q", data)
	}
	if _, err := s.PresignGet(ctx, "a/b.pdf", time.Minute); err != nil {
		t.Fatalf("presign: %v", err)
	}
	if err := s.Delete(ctx, "a/b.pdf"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, "a/b.pdf"); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestSubmissionKeyKeepsExtension(t *testing.T) {
	key := SubmissionKey("tx-1", "sub-1", "Scan.PDF")
	if !strings.HasPrefix(key, "transactions/tx-1/submissions/sub-1/") || !strings.HasSuffix(key, ".pdf") {
		t.Fatalf("unexpected key %q", key)
	}
	if SubmissionKey("tx-1", "sub-1", "Scan.PDF") == key {
		t.Fatalf("keys must be unique per upload")
	}
}
