package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mnajarc/sistemaInm-sub001/internal/util"
	"github.com/mnajarc/sistemaInm-sub001/pkg/catalog"
	"github.com/mnajarc/sistemaInm-sub001/pkg/coowner"
	"github.com/mnajarc/sistemaInm-sub001/pkg/domain"
	"github.com/mnajarc/sistemaInm-sub001/pkg/policy"
	"github.com/mnajarc/sistemaInm-sub001/pkg/store"
)

// Get returns one submission the actor may view.
func (e *Engine) Get(ctx context.Context, actor domain.Actor, id string) (domain.Submission, error) {
	sub, err := e.store.GetSubmission(ctx, id)
	if err != nil {
		return domain.Submission{}, translate(err, "submission "+id)
	}
	subject, err := e.subjectFor(ctxReader{ctx: ctx, st: e.store}, sub)
	if err != nil {
		return domain.Submission{}, err
	}
	if err := e.authorize(actor, policy.CapView, subject); err != nil {
		return domain.Submission{}, err
	}
	return sub, nil
}

// ListByTransaction returns the submissions of a transaction visible to actor.
func (e *Engine) ListByTransaction(ctx context.Context, actor domain.Actor, transactionID string) ([]domain.Submission, error) {
	t, owners, err := e.loadTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	subs, err := e.store.ListSubmissions(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	visible := make([]domain.Submission, 0, len(subs))
	for _, sub := range subs {
		if policy.Can(actor, policy.CapView, policy.SubjectFor(sub, t, owners)) {
			visible = append(visible, sub)
		}
	}
	return visible, nil
}

// DownloadURL returns a short-lived link to the attached file.
func (e *Engine) DownloadURL(ctx context.Context, actor domain.Actor, id string) (string, time.Duration, error) {
	sub, err := e.Get(ctx, actor, id)
	if err != nil {
		return "", 0, err
	}
	if sub.FileKey == "" {
		return "", 0, fmt.Errorf("%w: no file attached", ErrNotFound)
	}
	if e.files == nil {
		return "", 0, fmt.Errorf("%w: downloads are not configured", ErrInvalidState)
	}
	url, err := e.files.PresignGet(ctx, sub.FileKey, defaultDownloadTTL)
	if err != nil {
		return "", 0, fmt.Errorf("presign download: %w", err)
	}
	return url, defaultDownloadTTL, nil
}

// MaterializeResult lists the checklist of a transaction after materialization.
type MaterializeResult struct {
	Created     int                 `json:"created"`
	Submissions []domain.Submission `json:"submissions"`
}

// Materialize creates the missing submissions required by the catalog.
// Rows that already exist for a slot are left untouched.
func (e *Engine) Materialize(ctx context.Context, actor domain.Actor, transactionID string) (MaterializeResult, error) {
	if e.catalog == nil {
		return MaterializeResult{}, fmt.Errorf("%w: no document catalog loaded", ErrInvalidState)
	}
	var res MaterializeResult
	err := e.store.WithinTx(ctx, func(tx store.Tx) error {
		t, err := tx.GetTransaction(transactionID)
		if err != nil {
			return translate(err, "transaction "+transactionID)
		}
		owners, err := tx.ListCoOwners(transactionID)
		if err != nil {
			return err
		}
		if err := e.authorize(actor, policy.CapMaterialize, transactionSubject(t, owners)); err != nil {
			return err
		}
		now := e.now()
		for _, req := range e.catalog.Checklist(t, owners) {
			created, err := tx.CreateSubmission(domain.Submission{
				ID:               util.NewID(),
				TransactionID:    t.ID,
				DocumentTypeCode: req.DocumentTypeCode,
				PartyType:        req.PartyType,
				PartyID:          req.PartyID,
				ValidationStatus: domain.StatusPendingReview,
				CreatedAt:        now,
				UpdatedAt:        now,
			})
			if err != nil {
				return fmt.Errorf("create submission %s: %w", req.Key(), err)
			}
			if created {
				res.Created++
			}
		}
		res.Submissions, err = tx.ListSubmissions(t.ID)
		return err
	})
	if err != nil {
		return MaterializeResult{}, err
	}
	e.log(ctx).Info("checklist materialized", "transaction_id", transactionID, "created", res.Created)
	return res, nil
}

// Audit runs the co-owner consistency audit for reviewers of a transaction.
func (e *Engine) Audit(ctx context.Context, actor domain.Actor, transactionID string) (coowner.Report, error) {
	t, owners, err := e.loadTransaction(ctx, transactionID)
	if err != nil {
		return coowner.Report{}, err
	}
	if !policy.IsReviewer(actor, transactionSubject(t, owners)) && actor.Role != domain.RoleSystem {
		deniedTotal.WithLabelValues("audit").Inc()
		return coowner.Report{}, fmt.Errorf("%w: %s may not audit", ErrUnauthorized, actorLabel(actor))
	}
	return coowner.Audit(t, owners), nil
}

// SyncTransaction stores the read model of a transaction and replaces its
// co-owner shares. It is fed by the system that owns transactions.
func (e *Engine) SyncTransaction(ctx context.Context, t domain.Transaction, owners []domain.CoOwner) (domain.Transaction, error) {
	if err := validateTransaction(t, owners); err != nil {
		return domain.Transaction{}, err
	}
	now := e.now()
	if existing, err := e.store.GetTransaction(ctx, t.ID); err == nil {
		t.CreatedAt = existing.CreatedAt
	} else if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	if err := e.store.SaveTransaction(ctx, t); err != nil {
		return domain.Transaction{}, fmt.Errorf("save transaction: %w", err)
	}
	for i := range owners {
		owners[i].TransactionID = t.ID
		if owners[i].ID == "" {
			owners[i].ID = util.NewID()
		}
	}
	if err := e.store.ReplaceCoOwners(ctx, t.ID, owners); err != nil {
		return domain.Transaction{}, fmt.Errorf("replace co-owners: %w", err)
	}
	return t, nil
}

// Checklist exposes the catalog requirements a transaction would materialize.
func (e *Engine) Checklist(t domain.Transaction, owners []domain.CoOwner) []catalog.Requirement {
	if e.catalog == nil {
		return nil
	}
	return e.catalog.Checklist(t, owners)
}

func validateTransaction(t domain.Transaction, owners []domain.CoOwner) error {
	var problems []string
	if strings.TrimSpace(t.ID) == "" {
		problems = append(problems, "id is required")
	}
	if t.Kind != domain.KindSale && t.Kind != domain.KindRental {
		problems = append(problems, fmt.Sprintf("kind %q is not sale or rental", t.Kind))
	}
	if strings.TrimSpace(t.AgentID) == "" {
		problems = append(problems, "agentId is required")
	}
	for i, owner := range owners {
		if strings.TrimSpace(owner.PartyID) == "" {
			problems = append(problems, fmt.Sprintf("coOwners[%d].partyId is required", i))
		}
		if owner.Percentage < 0 || owner.Percentage > 100 {
			problems = append(problems, fmt.Sprintf("coOwners[%d].percentage must be within 0..100", i))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}

func (e *Engine) loadTransaction(ctx context.Context, id string) (domain.Transaction, []domain.CoOwner, error) {
	t, err := e.store.GetTransaction(ctx, id)
	if err != nil {
		return domain.Transaction{}, nil, translate(err, "transaction "+id)
	}
	owners, err := e.store.ListCoOwners(ctx, id)
	if err != nil {
		return domain.Transaction{}, nil, fmt.Errorf("list co-owners: %w", err)
	}
	return t, owners, nil
}

func transactionSubject(t domain.Transaction, owners []domain.CoOwner) policy.Subject {
	return policy.SubjectFor(domain.Submission{}, t, owners)
}
