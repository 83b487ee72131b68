package store

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/mnajarc/sistemaInm-sub001/pkg/domain"
)

// MemoryStore keeps everything in-process. Transactions are serialized by a
// single lock and rolled back by restoring a snapshot.
type MemoryStore struct {
	mu           sync.RWMutex
	transactions map[string]domain.Transaction
	coOwners     map[string][]domain.CoOwner
	submissions  map[string]domain.Submission
	notes        map[string]domain.Note
	seq          int64
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		transactions: make(map[string]domain.Transaction),
		coOwners:     make(map[string][]domain.CoOwner),
		submissions:  make(map[string]domain.Submission),
		notes:        make(map[string]domain.Note),
	}
}

func (m *MemoryStore) SaveTransaction(_ context.Context, t domain.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.ReviewerIDs = slices.Clone(t.ReviewerIDs)
	m.transactions[t.ID] = t
	return nil
}

func (m *MemoryStore) GetTransaction(_ context.Context, id string) (domain.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return memTx{m}.GetTransaction(id)
}

func (m *MemoryStore) ReplaceCoOwners(_ context.Context, transactionID string, owners []domain.CoOwner) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cloned := make([]domain.CoOwner, 0, len(owners))
	for _, owner := range owners {
		owner.TransactionID = transactionID
		cloned = append(cloned, owner)
	}
	m.coOwners[transactionID] = cloned
	return nil
}

func (m *MemoryStore) ListCoOwners(_ context.Context, transactionID string) ([]domain.CoOwner, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return memTx{m}.ListCoOwners(transactionID)
}

func (m *MemoryStore) GetSubmission(_ context.Context, id string) (domain.Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return memTx{m}.LockSubmission(id)
}

func (m *MemoryStore) ListSubmissions(_ context.Context, transactionID string) ([]domain.Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return memTx{m}.ListSubmissions(transactionID)
}

func (m *MemoryStore) ListExpirable(_ context.Context, today time.Time) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cutoff := DateOf(today)
	var due []domain.Submission
	for _, sub := range m.submissions {
		if sub.ValidationStatus != domain.StatusApproved || sub.ExpiryDate == nil {
			continue
		}
		if DateOf(*sub.ExpiryDate).After(cutoff) {
			continue
		}
		due = append(due, sub)
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].ExpiryDate.Equal(*due[j].ExpiryDate) {
			return due[i].ID < due[j].ID
		}
		return due[i].ExpiryDate.Before(*due[j].ExpiryDate)
	})
	ids := make([]string, 0, len(due))
	for _, sub := range due {
		ids = append(ids, sub.ID)
	}
	return ids, nil
}

func (m *MemoryStore) GetNote(_ context.Context, id string) (domain.Note, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return memTx{m}.GetNote(id)
}

func (m *MemoryStore) ListNotes(_ context.Context, submissionID string) ([]domain.Note, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.notesOf(submissionID), nil
}

// WithinTx runs fn while holding the store lock. When fn fails, every map is
// restored to its state before the call.
func (m *MemoryStore) WithinTx(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	submissions := maps.Clone(m.submissions)
	notes := maps.Clone(m.notes)
	seq := m.seq
	if err := fn(memTx{m}); err != nil {
		m.submissions = submissions
		m.notes = notes
		m.seq = seq
		return err
	}
	return nil
}

func (m *MemoryStore) notesOf(submissionID string) []domain.Note {
	var res []domain.Note
	for _, n := range m.notes {
		if n.SubmissionID == submissionID {
			res = append(res, n)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Before(res[j]) })
	if res == nil {
		res = []domain.Note{}
	}
	return res
}

// memTx operates on the store with m.mu already held.
type memTx struct {
	m *MemoryStore
}

func (t memTx) GetTransaction(id string) (domain.Transaction, error) {
	tx, ok := t.m.transactions[id]
	if !ok {
		return domain.Transaction{}, ErrNotFound
	}
	tx.ReviewerIDs = slices.Clone(tx.ReviewerIDs)
	return tx, nil
}

func (t memTx) ListCoOwners(transactionID string) ([]domain.CoOwner, error) {
	owners := slices.Clone(t.m.coOwners[transactionID])
	if owners == nil {
		owners = []domain.CoOwner{}
	}
	return owners, nil
}

func (t memTx) LockSubmission(id string) (domain.Submission, error) {
	sub, ok := t.m.submissions[id]
	if !ok {
		return domain.Submission{}, ErrNotFound
	}
	sub.AnalysisMeta = maps.Clone(sub.AnalysisMeta)
	return sub, nil
}

func (t memTx) ListSubmissions(transactionID string) ([]domain.Submission, error) {
	res := []domain.Submission{}
	for _, sub := range t.m.submissions {
		if sub.TransactionID == transactionID {
			sub.AnalysisMeta = maps.Clone(sub.AnalysisMeta)
			res = append(res, sub)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].ID < res[j].ID
		}
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
	return res, nil
}

func (t memTx) CreateSubmission(sub domain.Submission) (bool, error) {
	for _, existing := range t.m.submissions {
		if existing.TransactionID == sub.TransactionID &&
			existing.DocumentTypeCode == sub.DocumentTypeCode &&
			existing.PartyType == sub.PartyType &&
			existing.PartyID == sub.PartyID {
			return false, nil
		}
	}
	if _, ok := t.m.submissions[sub.ID]; ok {
		return false, nil
	}
	sub.AnalysisMeta = maps.Clone(sub.AnalysisMeta)
	t.m.submissions[sub.ID] = sub
	return true, nil
}

func (t memTx) SaveSubmission(sub domain.Submission) error {
	existing, ok := t.m.submissions[sub.ID]
	if !ok {
		return ErrNotFound
	}
	sub.CreatedAt = existing.CreatedAt
	sub.AnalysisMeta = maps.Clone(sub.AnalysisMeta)
	t.m.submissions[sub.ID] = sub
	return nil
}

func (t memTx) GetNote(id string) (domain.Note, error) {
	n, ok := t.m.notes[id]
	if !ok {
		return domain.Note{}, ErrNotFound
	}
	return n, nil
}

func (t memTx) LastNote(submissionID string) (domain.Note, bool, error) {
	notes := t.m.notesOf(submissionID)
	if len(notes) == 0 {
		return domain.Note{}, false, nil
	}
	return notes[len(notes)-1], true, nil
}

func (t memTx) AppendNote(n domain.Note) (domain.Note, error) {
	t.m.seq++
	n.Seq = t.m.seq
	t.m.notes[n.ID] = n
	return n, nil
}

func (t memTx) DeleteNote(id string) error {
	if _, ok := t.m.notes[id]; !ok {
		return ErrNotFound
	}
	delete(t.m.notes, id)
	return nil
}
