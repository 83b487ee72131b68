package store

import (
	"context"
	"errors"
	"time"

	"github.com/mnajarc/sistemaInm-sub001/pkg/domain"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Store defines persistence for transactions, submissions and their notes.
type Store interface {
	// transactions
	SaveTransaction(ctx context.Context, tx domain.Transaction) error
	GetTransaction(ctx context.Context, id string) (domain.Transaction, error)
	ReplaceCoOwners(ctx context.Context, transactionID string, owners []domain.CoOwner) error
	ListCoOwners(ctx context.Context, transactionID string) ([]domain.CoOwner, error)

	// submissions
	GetSubmission(ctx context.Context, id string) (domain.Submission, error)
	ListSubmissions(ctx context.Context, transactionID string) ([]domain.Submission, error)
	// ListExpirable returns ids of approved submissions whose expiry date is on or before today.
	ListExpirable(ctx context.Context, today time.Time) ([]string, error)

	// notes
	GetNote(ctx context.Context, id string) (domain.Note, error)
	ListNotes(ctx context.Context, submissionID string) ([]domain.Note, error)

	// WithinTx runs fn in one atomic unit. Any error returned by fn discards
	// every write made through the Tx.
	WithinTx(ctx context.Context, fn func(Tx) error) error
}

// Tx is the write surface available inside WithinTx.
type Tx interface {
	GetTransaction(id string) (domain.Transaction, error)
	ListCoOwners(transactionID string) ([]domain.CoOwner, error)

	// LockSubmission loads a submission and holds it exclusively until the
	// surrounding transaction ends.
	LockSubmission(id string) (domain.Submission, error)
	ListSubmissions(transactionID string) ([]domain.Submission, error)
	// CreateSubmission inserts sub unless a row with the same transaction,
	// document type, party type and party id exists. It reports whether a row was inserted.
	CreateSubmission(sub domain.Submission) (bool, error)
	SaveSubmission(sub domain.Submission) error

	GetNote(id string) (domain.Note, error)
	LastNote(submissionID string) (domain.Note, bool, error)
	// AppendNote stores n and returns it with its sequence number assigned.
	AppendNote(n domain.Note) (domain.Note, error)
	DeleteNote(id string) error
}

// DateOf truncates t to its UTC calendar date.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
