package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mnajarc/sistemaInm-sub001/pkg/domain"
)

// setupGormStore starts a Postgres container and opens a migrated store.
func setupGormStore(t *testing.T) *GormStore {
	t.Helper()
	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("skipping integration test: TEST_INTEGRATION not set")
	}
	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("docs_test"),
		postgres.WithUsername("docs"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	s, err := NewGormStore(dsn)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGormStoreSubmissionLifecycle(t *testing.T) {
	s := setupGormStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	if err := s.SaveTransaction(ctx, domain.Transaction{
		ID: "tx-1", Kind: domain.KindSale, AgentID: "agent-1", ReviewerIDs: []string{"agent-2"},
		OfferingPartyID: "seller", CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("save transaction: %v", err)
	}
	tx, err := s.GetTransaction(ctx, "tx-1")
	if err != nil || len(tx.ReviewerIDs) != 1 || tx.ReviewerIDs[0] != "agent-2" {
		t.Fatalf("get transaction = %+v, %v", tx, err)
	}

	sub := domain.Submission{
		ID: "sub-1", TransactionID: "tx-1", DocumentTypeCode: "official_id",
		PartyType: domain.PartyOffering, PartyID: "seller",
		ValidationStatus: domain.StatusPendingReview, CreatedAt: now, UpdatedAt: now,
	}
	err = s.WithinTx(ctx, func(tx Tx) error {
		if _, err := tx.CreateSubmission(sub); err != nil {
			return err
		}
		dup := sub
		dup.ID = "sub-dup"
		created, err := tx.CreateSubmission(dup)
		if err != nil {
			return err
		}
		if created {
			t.Fatalf("duplicate slot inserted")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("create submission: %v", err)
	}

	yesterday := now.AddDate(0, 0, -1)
	err = s.WithinTx(ctx, func(tx Tx) error {
		locked, err := tx.LockSubmission("sub-1")
		if err != nil {
			return err
		}
		locked.ValidationStatus = domain.StatusApproved
		locked.ValidatedBy = "agent-1"
		locked.ValidatedAt = &now
		locked.ExpiryDate = &yesterday
		locked.AnalysisMeta = map[string]any{"pages": float64(2)}
		if err := tx.SaveSubmission(locked); err != nil {
			return err
		}
		_, err = tx.AppendNote(domain.Note{ID: "n-1", SubmissionID: "sub-1", AuthorID: "agent-1", Content: "approved", NoteType: domain.NoteStatusChange, CreatedAt: now})
		return err
	})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}

	got, err := s.GetSubmission(ctx, "sub-1")
	if err != nil {
		t.Fatalf("get submission: %v", err)
	}
	if got.ValidationStatus != domain.StatusApproved || got.ValidatedBy != "agent-1" || got.AnalysisMeta["pages"] != float64(2) {
		t.Fatalf("unexpected submission: %+v", got)
	}
	ids, err := s.ListExpirable(ctx, now)
	if err != nil || len(ids) != 1 || ids[0] != "sub-1" {
		t.Fatalf("expirable = %v, %v", ids, err)
	}
	notes, err := s.ListNotes(ctx, "sub-1")
	if err != nil || len(notes) != 1 || notes[0].Seq == 0 {
		t.Fatalf("notes = %+v, %v", notes, err)
	}
}

func TestGormStoreRollsBackFailedTx(t *testing.T) {
	s := setupGormStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	sub := domain.Submission{ID: "sub-1", TransactionID: "tx-1", DocumentTypeCode: "official_id", PartyType: domain.PartyAcquiring, ValidationStatus: domain.StatusPendingReview, CreatedAt: now, UpdatedAt: now}
	if err := s.WithinTx(ctx, func(tx Tx) error { _, err := tx.CreateSubmission(sub); return err }); err != nil {
		t.Fatalf("create: %v", err)
	}
	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(tx Tx) error {
		if _, err := tx.AppendNote(domain.Note{ID: "n-1", SubmissionID: "sub-1", Content: "x", NoteType: domain.NoteComment, CreatedAt: now}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	notes, _ := s.ListNotes(ctx, "sub-1")
	if len(notes) != 0 {
		t.Fatalf("note survived rollback: %+v", notes)
	}
}
