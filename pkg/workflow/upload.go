package workflow

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/mnajarc/sistemaInm-sub001/pkg/domain"
	"github.com/mnajarc/sistemaInm-sub001/pkg/policy"
	"github.com/mnajarc/sistemaInm-sub001/pkg/queue"
	"github.com/mnajarc/sistemaInm-sub001/pkg/storage"
	"github.com/mnajarc/sistemaInm-sub001/pkg/store"
)

const DefaultMaxUploadBytes int64 = 20 << 20

// DefaultContentTypes are the upload content types accepted unless overridden.
var DefaultContentTypes = []string{"application/pdf", "image/jpeg", "image/png", "text/plain"}

// FileInput is a file to attach to a submission.
type FileInput struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
	// ExpiryDate overrides the catalog validity when the document carries its own date.
	ExpiryDate *time.Time
}

// AnalysisResult is what the analyzer reports for one uploaded file.
type AnalysisResult struct {
	FileKey         string         `json:"fileKey"`
	LegibilityScore float64        `json:"legibilityScore"`
	OCRText         string         `json:"ocrText,omitempty"`
	AutoValidated   bool           `json:"autoValidated"`
	Meta            map[string]any `json:"meta,omitempty"`
}

type uploadLimits struct {
	maxBytes     int64
	contentTypes []string
}

// WithUploadLimits bounds upload size and content types. Zero values keep the defaults.
func WithUploadLimits(maxBytes int64, contentTypes []string) Option {
	return func(e *Engine) {
		if maxBytes > 0 {
			e.limits.maxBytes = maxBytes
		}
		if len(contentTypes) > 0 {
			e.limits.contentTypes = contentTypes
		}
	}
}

func (e *Engine) checkFile(in FileInput) error {
	if strings.TrimSpace(in.Filename) == "" {
		return fmt.Errorf("%w: filename is required", ErrValidation)
	}
	if in.Body == nil || in.Size <= 0 {
		return fmt.Errorf("%w: file is empty", ErrValidation)
	}
	if in.Size > e.limits.maxBytes {
		return fmt.Errorf("%w: file exceeds %d bytes", ErrValidation, e.limits.maxBytes)
	}
	ct := strings.ToLower(strings.TrimSpace(strings.Split(in.ContentType, ";")[0]))
	if !slices.Contains(e.limits.contentTypes, ct) {
		return fmt.Errorf("%w: content type %q not accepted", ErrValidation, in.ContentType)
	}
	return nil
}

// Upload stores a new file for a submission and puts it back into review.
func (e *Engine) Upload(ctx context.Context, actor domain.Actor, id string, in FileInput) (domain.Submission, error) {
	if e.files == nil {
		return domain.Submission{}, fmt.Errorf("%w: uploads are not configured", ErrInvalidState)
	}
	if err := e.checkFile(in); err != nil {
		return domain.Submission{}, err
	}

	// Check before writing the object so refused uploads do not touch storage.
	current, err := e.store.GetSubmission(ctx, id)
	if err != nil {
		return domain.Submission{}, translate(err, "submission "+id)
	}
	subject, err := e.subjectFor(ctxReader{ctx: ctx, st: e.store}, current)
	if err != nil {
		return domain.Submission{}, err
	}
	if err := e.upload(actor, current, subject); err != nil {
		return domain.Submission{}, err
	}

	key := storage.SubmissionKey(current.TransactionID, current.ID, in.Filename)
	if err := e.files.Put(ctx, key, in.Body, in.Size, in.ContentType); err != nil {
		return domain.Submission{}, fmt.Errorf("store file: %w", err)
	}

	var (
		out    domain.Submission
		old    domain.ValidationStatus
		oldKey string
	)
	err = e.store.WithinTx(ctx, func(tx store.Tx) error {
		sub, subject, err := e.lock(tx, id)
		if err != nil {
			return err
		}
		if err := e.upload(actor, sub, subject); err != nil {
			return err
		}
		now := e.now()
		old, oldKey = sub.ValidationStatus, sub.FileKey
		clearValidation(&sub)
		sub.ValidationStatus = domain.StatusPendingReview
		sub.FileKey = key
		sub.OriginalFilename = in.Filename
		sub.ContentType = in.ContentType
		sub.SizeBytes = in.Size
		sub.SubmittedAt = &now
		sub.UploadedBy = actor.ID
		// A new file never inherits the expiry of the one it replaces.
		sub.ExpiryDate = nil
		if in.ExpiryDate != nil {
			d := store.DateOf(*in.ExpiryDate)
			sub.ExpiryDate = &d
		}
		sub.UpdatedAt = now
		if err := tx.SaveSubmission(sub); err != nil {
			return fmt.Errorf("save submission: %w", err)
		}
		out = sub
		return e.appendNote(tx, sub.ID, actor.ID, domain.NoteStatusChange, "File uploaded: "+in.Filename, now)
	})
	if err != nil {
		e.discard(ctx, key)
		return domain.Submission{}, err
	}

	if oldKey != "" && oldKey != key {
		e.discard(ctx, oldKey)
	}
	if e.jobs != nil {
		job, err := e.jobs.Enqueue(ctx, queue.AnalysisRequest{SubmissionID: out.ID, FileKey: key, ContentType: in.ContentType})
		if err != nil {
			e.log(ctx).Warn("enqueue analysis failed", "submission_id", out.ID, "err", err)
		} else {
			e.log(ctx).Info("analysis enqueued", "submission_id", out.ID, "job_id", job.ID)
		}
	}
	e.committed(ctx, ActionUploaded, out, old, actor)
	return out, nil
}

func (e *Engine) upload(actor domain.Actor, sub domain.Submission, subject policy.Subject) error {
	if err := e.authorize(actor, policy.CapUpload, subject); err != nil {
		return err
	}
	if !CanReupload(sub) {
		return fmt.Errorf("%w: a %s submission cannot take a new file", ErrInvalidState, sub.ValidationStatus)
	}
	return nil
}

// Remove detaches and purges the file of a submission. Admins only.
func (e *Engine) Remove(ctx context.Context, actor domain.Actor, id string) (domain.Submission, error) {
	var oldKey string
	out, err := e.transition(ctx, actor, id, policy.CapRemove, ActionRemoved, func(tx store.Tx, sub *domain.Submission, now time.Time) error {
		if sub.FileKey == "" {
			return fmt.Errorf("%w: no file attached", ErrInvalidState)
		}
		oldKey = sub.FileKey
		clearValidation(sub)
		sub.ValidationStatus = domain.StatusPendingReview
		sub.FileKey = ""
		sub.OriginalFilename = ""
		sub.ContentType = ""
		sub.SizeBytes = 0
		sub.SubmittedAt = nil
		sub.UploadedBy = ""
		sub.ExpiryDate = nil
		return e.appendNote(tx, sub.ID, actor.ID, domain.NoteStatusChange, noteRemoved, now)
	})
	if err != nil {
		return domain.Submission{}, err
	}
	e.discard(ctx, oldKey)
	return out, nil
}

// RecordAnalysis stores the analyzer result for the file currently attached.
// With auto-approve enabled, a passing result approves the submission as the
// system actor.
func (e *Engine) RecordAnalysis(ctx context.Context, id string, res AnalysisResult) (domain.Submission, error) {
	if res.LegibilityScore < 0 || res.LegibilityScore > 1 {
		return domain.Submission{}, fmt.Errorf("%w: legibility score %.3f outside [0,1]", ErrValidation, res.LegibilityScore)
	}
	var out domain.Submission
	err := e.store.WithinTx(ctx, func(tx store.Tx) error {
		sub, err := tx.LockSubmission(id)
		if err != nil {
			return translate(err, "submission "+id)
		}
		if sub.FileKey == "" || sub.FileKey != res.FileKey {
			return fmt.Errorf("%w: analysis is for a file no longer attached", ErrInvalidState)
		}
		now := e.now()
		score := res.LegibilityScore
		sub.LegibilityScore = &score
		sub.OCRText = res.OCRText
		sub.AutoValidated = res.AutoValidated
		sub.AnalyzedAt = &now
		sub.AnalysisMeta = res.Meta
		sub.UpdatedAt = now
		if err := tx.SaveSubmission(sub); err != nil {
			return fmt.Errorf("save submission: %w", err)
		}
		out = sub
		return e.appendNote(tx, sub.ID, domain.SystemActor.ID, domain.NoteComment,
			fmt.Sprintf("Analysis completed: legibility %.2f", score), now)
	})
	if err != nil {
		return domain.Submission{}, err
	}
	if !e.autoApprove || !out.AutoValidated || out.ValidationStatus != domain.StatusPendingReview || !out.HasFile() {
		return out, nil
	}
	approved, err := e.Approve(ctx, domain.SystemActor, id, "")
	if err != nil {
		e.log(ctx).Warn("auto approve failed", "submission_id", id, "err", err)
		return out, nil
	}
	return approved, nil
}

func clearValidation(sub *domain.Submission) {
	sub.ValidatedBy = ""
	sub.ValidatedAt = nil
	sub.LegibilityScore = nil
	sub.OCRText = ""
	sub.AutoValidated = false
	sub.AnalyzedAt = nil
	sub.AnalysisMeta = nil
}

// discard deletes an object outside the request lifetime; failures only log.
func (e *Engine) discard(ctx context.Context, key string) {
	if key == "" || e.files == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := e.files.Delete(ctx, key); err != nil {
		e.log(ctx).Warn("delete object failed", "key", key, "err", err)
	}
}

// ctxReader adapts the Store to the reads subjectFor needs.
type ctxReader struct {
	ctx context.Context
	st  store.Store
}

func (r ctxReader) GetTransaction(id string) (domain.Transaction, error) {
	return r.st.GetTransaction(r.ctx, id)
}

func (r ctxReader) ListCoOwners(transactionID string) ([]domain.CoOwner, error) {
	return r.st.ListCoOwners(r.ctx, transactionID)
}
