// Package workflow applies validation transitions to document submissions.
//
// Every operation runs in a single store transaction that locks the
// submission row, so a status change and the notes recording it commit
// together. Events are published only after the commit succeeds.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mnajarc/sistemaInm-sub001/internal/util"
	"github.com/mnajarc/sistemaInm-sub001/pkg/catalog"
	"github.com/mnajarc/sistemaInm-sub001/pkg/domain"
	"github.com/mnajarc/sistemaInm-sub001/pkg/events"
	"github.com/mnajarc/sistemaInm-sub001/pkg/policy"
	"github.com/mnajarc/sistemaInm-sub001/pkg/queue"
	"github.com/mnajarc/sistemaInm-sub001/pkg/storage"
	"github.com/mnajarc/sistemaInm-sub001/pkg/store"
)

const (
	ActionApproved = "approved"
	ActionRejected = "rejected"
	ActionExpired  = "expired"
	ActionUploaded = "uploaded"
	ActionRemoved  = "removed"
)

const (
	noteApproved        = "Document approved"
	noteApprovedAuto    = "Document approved automatically after analysis"
	noteRejected        = "Document rejected"
	noteExpired         = "Document expired"
	noteRemoved         = "File removed by administrator"
	defaultDownloadTTL  = 15 * time.Minute
	maxNoteContentRunes = 4000
)

// AnalysisQueue accepts analysis requests for uploaded files.
type AnalysisQueue interface {
	Enqueue(ctx context.Context, req queue.AnalysisRequest) (queue.Job, error)
}

// Engine is the validation workflow.
type Engine struct {
	store       store.Store
	files       storage.ObjectStore
	catalog     *catalog.Catalog
	jobs        AnalysisQueue
	events      events.Publisher
	autoApprove bool
	limits      uploadLimits
	now         func() time.Time
	logger      *slog.Logger
}

type Option func(*Engine)

// WithAnalysisQueue enqueues an analysis job after each upload.
func WithAnalysisQueue(q AnalysisQueue) Option {
	return func(e *Engine) { e.jobs = q }
}

// WithPublisher sets the event sink for committed transitions.
func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) { e.events = p }
}

// WithAutoApprove makes RecordAnalysis approve legible documents with the
// system actor instead of only annotating them.
func WithAutoApprove(enabled bool) Option {
	return func(e *Engine) { e.autoApprove = enabled }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// New builds an engine. files may be nil when uploads are handled elsewhere.
func New(st store.Store, files storage.ObjectStore, cat *catalog.Catalog, opts ...Option) *Engine {
	e := &Engine{
		store:   st,
		files:   files,
		catalog: cat,
		limits:  uploadLimits{maxBytes: DefaultMaxUploadBytes, contentTypes: DefaultContentTypes},
		now:     func() time.Time { return time.Now().UTC() },
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if e.events == nil {
		e.events = events.NewLogPublisher(e.logger)
	}
	return e
}

// CanReupload reports whether a new file may be attached to sub.
func CanReupload(sub domain.Submission) bool {
	switch sub.ValidationStatus {
	case domain.StatusRejected, domain.StatusExpired:
		return true
	case domain.StatusApproved:
		return false
	}
	return !sub.HasFile()
}

// Approve marks a submission with an attached file as approved.
func (e *Engine) Approve(ctx context.Context, actor domain.Actor, id, comment string) (domain.Submission, error) {
	comment = strings.TrimSpace(comment)
	statusNote := noteApproved
	if actor.Role == domain.RoleSystem {
		statusNote = noteApprovedAuto
	}
	return e.transition(ctx, actor, id, policy.CapApprove, ActionApproved, func(tx store.Tx, sub *domain.Submission, now time.Time) error {
		if !sub.HasFile() {
			return fmt.Errorf("%w: approve requires an attached file", ErrInvalidState)
		}
		if sub.ValidationStatus != domain.StatusPendingReview {
			return fmt.Errorf("%w: cannot approve a %s submission", ErrInvalidState, sub.ValidationStatus)
		}
		sub.ValidationStatus = domain.StatusApproved
		sub.ValidatedBy = actor.ID
		sub.ValidatedAt = &now
		if sub.ExpiryDate == nil && e.catalog != nil {
			sub.ExpiryDate = e.catalog.ExpiryFor(sub.DocumentTypeCode, now)
		}
		if err := e.appendNote(tx, sub.ID, actor.ID, domain.NoteStatusChange, statusNote, now); err != nil {
			return err
		}
		if comment != "" {
			return e.appendNote(tx, sub.ID, actor.ID, domain.NoteComment, comment, now)
		}
		return nil
	})
}

// Reject marks a submission rejected from any state and detaches it so the
// party can upload again.
func (e *Engine) Reject(ctx context.Context, actor domain.Actor, id, reason string) (domain.Submission, error) {
	reason = strings.TrimSpace(reason)
	return e.transition(ctx, actor, id, policy.CapReject, ActionRejected, func(tx store.Tx, sub *domain.Submission, now time.Time) error {
		if reason == "" {
			return fmt.Errorf("%w: rejection reason is required", ErrValidation)
		}
		sub.ValidationStatus = domain.StatusRejected
		sub.ValidatedBy = actor.ID
		sub.ValidatedAt = &now
		sub.SubmittedAt = nil
		if err := e.appendNote(tx, sub.ID, actor.ID, domain.NoteStatusChange, noteRejected, now); err != nil {
			return err
		}
		return e.appendNote(tx, sub.ID, actor.ID, domain.NoteComment, reason, now)
	})
}

// MarkExpired demotes an approved submission. ValidatedBy is kept.
func (e *Engine) MarkExpired(ctx context.Context, actor domain.Actor, id, note string) (domain.Submission, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		note = noteExpired
	}
	return e.transition(ctx, actor, id, policy.CapMarkExpired, ActionExpired, func(tx store.Tx, sub *domain.Submission, now time.Time) error {
		if sub.ValidationStatus != domain.StatusApproved {
			return fmt.Errorf("%w: only approved submissions can expire, got %s", ErrInvalidState, sub.ValidationStatus)
		}
		sub.ValidationStatus = domain.StatusExpired
		return e.appendNote(tx, sub.ID, actor.ID, domain.NoteStatusChange, note, now)
	})
}

type mutation func(tx store.Tx, sub *domain.Submission, now time.Time) error

// transition locks the submission, checks capability, applies fn, saves,
// and publishes an event for action after commit.
func (e *Engine) transition(ctx context.Context, actor domain.Actor, id string, capability policy.Capability, action string, fn mutation) (domain.Submission, error) {
	var (
		out domain.Submission
		old domain.ValidationStatus
	)
	err := e.store.WithinTx(ctx, func(tx store.Tx) error {
		sub, subject, err := e.lock(tx, id)
		if err != nil {
			return err
		}
		if err := e.authorize(actor, capability, subject); err != nil {
			return err
		}
		now := e.now()
		old = sub.ValidationStatus
		if err := fn(tx, &sub, now); err != nil {
			return err
		}
		sub.UpdatedAt = now
		if err := tx.SaveSubmission(sub); err != nil {
			return fmt.Errorf("save submission: %w", err)
		}
		out = sub
		return nil
	})
	if err != nil {
		return domain.Submission{}, err
	}
	e.committed(ctx, action, out, old, actor)
	return out, nil
}

func (e *Engine) lock(tx store.Tx, id string) (domain.Submission, policy.Subject, error) {
	sub, err := tx.LockSubmission(id)
	if err != nil {
		return domain.Submission{}, policy.Subject{}, translate(err, "submission "+id)
	}
	subject, err := e.subjectFor(tx, sub)
	if err != nil {
		return domain.Submission{}, policy.Subject{}, err
	}
	return sub, subject, nil
}

type txReader interface {
	GetTransaction(id string) (domain.Transaction, error)
	ListCoOwners(transactionID string) ([]domain.CoOwner, error)
}

func (e *Engine) subjectFor(r txReader, sub domain.Submission) (policy.Subject, error) {
	t, err := r.GetTransaction(sub.TransactionID)
	if err != nil {
		return policy.Subject{}, translate(err, "transaction "+sub.TransactionID)
	}
	owners, err := r.ListCoOwners(sub.TransactionID)
	if err != nil {
		return policy.Subject{}, err
	}
	return policy.SubjectFor(sub, t, owners), nil
}

func (e *Engine) authorize(actor domain.Actor, capability policy.Capability, subject policy.Subject) error {
	if policy.Can(actor, capability, subject) {
		return nil
	}
	deniedTotal.WithLabelValues(string(capability)).Inc()
	return fmt.Errorf("%w: %s may not %s", ErrUnauthorized, actorLabel(actor), capability)
}

func actorLabel(actor domain.Actor) string {
	if actor.ID == "" {
		return "anonymous actor"
	}
	return fmt.Sprintf("%s (%s)", actor.ID, actor.Role)
}

func (e *Engine) appendNote(tx store.Tx, submissionID, authorID string, kind domain.NoteType, content string, now time.Time) error {
	_, err := tx.AppendNote(domain.Note{
		ID:           util.NewID(),
		SubmissionID: submissionID,
		AuthorID:     authorID,
		Content:      content,
		NoteType:     kind,
		CreatedAt:    now,
	})
	if err != nil {
		return fmt.Errorf("append note: %w", err)
	}
	return nil
}

// committed records metrics and publishes the event for a committed transition.
// Publish failures are logged; the transition stands.
func (e *Engine) committed(ctx context.Context, action string, sub domain.Submission, old domain.ValidationStatus, actor domain.Actor) {
	transitionsTotal.WithLabelValues(action).Inc()
	evt := domain.Event{
		ID:            util.NewID(),
		SubmissionID:  sub.ID,
		TransactionID: sub.TransactionID,
		Action:        action,
		OldStatus:     old,
		NewStatus:     sub.ValidationStatus,
		ActorID:       actor.ID,
		OccurredAt:    sub.UpdatedAt,
	}
	if err := e.events.Publish(ctx, evt); err != nil {
		publishFailuresTotal.Inc()
		e.log(ctx).Error("publish event failed",
			"action", action,
			"submission_id", sub.ID,
			"err", err,
		)
	}
}

func (e *Engine) log(ctx context.Context) *slog.Logger {
	return util.LoggerOr(ctx, e.logger).With("component", "workflow")
}
