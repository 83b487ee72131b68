package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mnajarc/sistemaInm-sub001/pkg/domain"
)

const migrateLockID int64 = 51170582

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&TransactionModel{}, &CoOwnerModel{}, &SubmissionModel{}, &NoteModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if err := tx.Exec(`
			DO $$
			BEGIN
				DELETE FROM note_models n
				WHERE NOT EXISTS (SELECT 1 FROM submission_models s WHERE s.id = n.submission_id);
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'note_models'
					AND constraint_name = 'note_models_submission_id_fkey'
				) THEN
					ALTER TABLE note_models
					ADD CONSTRAINT note_models_submission_id_fkey
					FOREIGN KEY (submission_id) REFERENCES submission_models(id) ON DELETE CASCADE;
				END IF;
			END $$;
		`).Error; err != nil {
			return fmt.Errorf("ensure note foreign keys: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks database connectivity.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// SaveTransaction registers or updates a transaction.
func (s *GormStore) SaveTransaction(ctx context.Context, t domain.Transaction) error {
	model := transactionToModel(t)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"kind", "agent_id", "reviewer_ids", "offering_party_id", "acquiring_party_id", "updated_at"}),
	}).Create(&model).Error
}

// GetTransaction returns a transaction by ID.
func (s *GormStore) GetTransaction(ctx context.Context, id string) (domain.Transaction, error) {
	return gormTx{db: s.db.WithContext(ctx)}.GetTransaction(id)
}

// ReplaceCoOwners swaps the full co-owner set of a transaction.
func (s *GormStore) ReplaceCoOwners(ctx context.Context, transactionID string, owners []domain.CoOwner) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&CoOwnerModel{}, "transaction_id = ?", transactionID).Error; err != nil {
			return err
		}
		if len(owners) == 0 {
			return nil
		}
		models := make([]CoOwnerModel, 0, len(owners))
		for _, owner := range owners {
			model := coOwnerToModel(owner)
			model.TransactionID = transactionID
			models = append(models, model)
		}
		return tx.CreateInBatches(&models, 100).Error
	})
}

// ListCoOwners returns all co-owner rows of a transaction, active or not.
func (s *GormStore) ListCoOwners(ctx context.Context, transactionID string) ([]domain.CoOwner, error) {
	return gormTx{db: s.db.WithContext(ctx)}.ListCoOwners(transactionID)
}

// GetSubmission returns a submission by ID.
func (s *GormStore) GetSubmission(ctx context.Context, id string) (domain.Submission, error) {
	var model SubmissionModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return domain.Submission{}, notFound(err)
	}
	return submissionFromModel(model), nil
}

// ListSubmissions returns the submissions of a transaction.
func (s *GormStore) ListSubmissions(ctx context.Context, transactionID string) ([]domain.Submission, error) {
	return gormTx{db: s.db.WithContext(ctx)}.ListSubmissions(transactionID)
}

// ListExpirable returns approved submissions due for expiry on today.
func (s *GormStore) ListExpirable(ctx context.Context, today time.Time) ([]string, error) {
	var ids []string
	if err := s.db.WithContext(ctx).Model(&SubmissionModel{}).
		Where("validation_status = ? AND expiry_date IS NOT NULL AND expiry_date <= ?", string(domain.StatusApproved), DateOf(today)).
		Order("expiry_date ASC").
		Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// GetNote returns a note by ID.
func (s *GormStore) GetNote(ctx context.Context, id string) (domain.Note, error) {
	return gormTx{db: s.db.WithContext(ctx)}.GetNote(id)
}

// ListNotes returns the notes of a submission in creation order.
func (s *GormStore) ListNotes(ctx context.Context, submissionID string) ([]domain.Note, error) {
	var models []NoteModel
	if err := s.db.WithContext(ctx).Where("submission_id = ?", submissionID).
		Order("created_at ASC").
		Order("seq ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	notes := make([]domain.Note, 0, len(models))
	for _, m := range models {
		notes = append(notes, noteFromModel(m))
	}
	return notes, nil
}

// WithinTx runs fn inside a database transaction.
func (s *GormStore) WithinTx(ctx context.Context, fn func(Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(gormTx{db: tx})
	})
}

type gormTx struct {
	db *gorm.DB
}

func (t gormTx) GetTransaction(id string) (domain.Transaction, error) {
	var model TransactionModel
	if err := t.db.First(&model, "id = ?", id).Error; err != nil {
		return domain.Transaction{}, notFound(err)
	}
	return transactionFromModel(model), nil
}

func (t gormTx) ListCoOwners(transactionID string) ([]domain.CoOwner, error) {
	var models []CoOwnerModel
	if err := t.db.Where("transaction_id = ?", transactionID).Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	owners := make([]domain.CoOwner, 0, len(models))
	for _, m := range models {
		owners = append(owners, coOwnerFromModel(m))
	}
	return owners, nil
}

func (t gormTx) LockSubmission(id string) (domain.Submission, error) {
	var model SubmissionModel
	if err := t.db.Clauses(clause.Locking{Strength: "UPDATE"}).First(&model, "id = ?", id).Error; err != nil {
		return domain.Submission{}, notFound(err)
	}
	return submissionFromModel(model), nil
}

func (t gormTx) ListSubmissions(transactionID string) ([]domain.Submission, error) {
	var models []SubmissionModel
	if err := t.db.Where("transaction_id = ?", transactionID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	subs := make([]domain.Submission, 0, len(models))
	for _, m := range models {
		subs = append(subs, submissionFromModel(m))
	}
	return subs, nil
}

func (t gormTx) CreateSubmission(sub domain.Submission) (bool, error) {
	model := submissionToModel(sub)
	res := t.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "transaction_id"}, {Name: "document_type_code"}, {Name: "party_type"}, {Name: "party_id"}},
		DoNothing: true,
	}).Create(&model)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (t gormTx) SaveSubmission(sub domain.Submission) error {
	model := submissionToModel(sub)
	res := t.db.Model(&SubmissionModel{}).Where("id = ?", sub.ID).Select("*").Omit("id", "created_at").Updates(&model)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (t gormTx) GetNote(id string) (domain.Note, error) {
	var model NoteModel
	if err := t.db.First(&model, "id = ?", id).Error; err != nil {
		return domain.Note{}, notFound(err)
	}
	return noteFromModel(model), nil
}

func (t gormTx) LastNote(submissionID string) (domain.Note, bool, error) {
	var model NoteModel
	if err := t.db.Where("submission_id = ?", submissionID).
		Order("created_at DESC").
		Order("seq DESC").
		Take(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Note{}, false, nil
		}
		return domain.Note{}, false, err
	}
	return noteFromModel(model), true, nil
}

func (t gormTx) AppendNote(n domain.Note) (domain.Note, error) {
	model := noteToModel(n)
	model.Seq = 0
	if err := t.db.Create(&model).Error; err != nil {
		return domain.Note{}, err
	}
	return noteFromModel(model), nil
}

func (t gormTx) DeleteNote(id string) error {
	res := t.db.Delete(&NoteModel{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func transactionToModel(t domain.Transaction) TransactionModel {
	reviewers, _ := json.Marshal(t.ReviewerIDs)
	return TransactionModel{
		ID:               t.ID,
		Kind:             string(t.Kind),
		AgentID:          t.AgentID,
		ReviewerIDs:      reviewers,
		OfferingPartyID:  t.OfferingPartyID,
		AcquiringPartyID: t.AcquiringPartyID,
		CreatedAt:        t.CreatedAt,
		UpdatedAt:        t.UpdatedAt,
	}
}

func transactionFromModel(m TransactionModel) domain.Transaction {
	var reviewers []string
	if len(m.ReviewerIDs) > 0 {
		_ = json.Unmarshal(m.ReviewerIDs, &reviewers)
	}
	return domain.Transaction{
		ID:               m.ID,
		Kind:             domain.TransactionKind(m.Kind),
		AgentID:          m.AgentID,
		ReviewerIDs:      reviewers,
		OfferingPartyID:  m.OfferingPartyID,
		AcquiringPartyID: m.AcquiringPartyID,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func coOwnerToModel(c domain.CoOwner) CoOwnerModel {
	return CoOwnerModel{
		ID:            c.ID,
		TransactionID: c.TransactionID,
		PartyID:       c.PartyID,
		Percentage:    c.Percentage,
		Principal:     c.Principal,
		Active:        c.Active,
	}
}

func coOwnerFromModel(m CoOwnerModel) domain.CoOwner {
	return domain.CoOwner{
		ID:            m.ID,
		TransactionID: m.TransactionID,
		PartyID:       m.PartyID,
		Percentage:    m.Percentage,
		Principal:     m.Principal,
		Active:        m.Active,
	}
}

func submissionToModel(s domain.Submission) SubmissionModel {
	var meta []byte
	if len(s.AnalysisMeta) > 0 {
		meta, _ = json.Marshal(s.AnalysisMeta)
	}
	var expiry *time.Time
	if s.ExpiryDate != nil {
		d := DateOf(*s.ExpiryDate)
		expiry = &d
	}
	return SubmissionModel{
		ID:               s.ID,
		TransactionID:    s.TransactionID,
		DocumentTypeCode: s.DocumentTypeCode,
		PartyType:        string(s.PartyType),
		PartyID:          s.PartyID,
		ValidationStatus: string(s.ValidationStatus),
		FileKey:          s.FileKey,
		OriginalFilename: s.OriginalFilename,
		ContentType:      s.ContentType,
		SizeBytes:        s.SizeBytes,
		SubmittedAt:      s.SubmittedAt,
		UploadedBy:       s.UploadedBy,
		ValidatedBy:      s.ValidatedBy,
		ValidatedAt:      s.ValidatedAt,
		ExpiryDate:       expiry,
		LegibilityScore:  s.LegibilityScore,
		OCRText:          s.OCRText,
		AutoValidated:    s.AutoValidated,
		AnalyzedAt:       s.AnalyzedAt,
		AnalysisMeta:     meta,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
	}
}

func submissionFromModel(m SubmissionModel) domain.Submission {
	var meta map[string]any
	if len(m.AnalysisMeta) > 0 {
		_ = json.Unmarshal(m.AnalysisMeta, &meta)
	}
	return domain.Submission{
		ID:               m.ID,
		TransactionID:    m.TransactionID,
		DocumentTypeCode: m.DocumentTypeCode,
		PartyType:        domain.PartyType(m.PartyType),
		PartyID:          m.PartyID,
		ValidationStatus: domain.ValidationStatus(m.ValidationStatus),
		FileKey:          m.FileKey,
		OriginalFilename: m.OriginalFilename,
		ContentType:      m.ContentType,
		SizeBytes:        m.SizeBytes,
		SubmittedAt:      m.SubmittedAt,
		UploadedBy:       m.UploadedBy,
		ValidatedBy:      m.ValidatedBy,
		ValidatedAt:      m.ValidatedAt,
		ExpiryDate:       m.ExpiryDate,
		LegibilityScore:  m.LegibilityScore,
		OCRText:          m.OCRText,
		AutoValidated:    m.AutoValidated,
		AnalyzedAt:       m.AnalyzedAt,
		AnalysisMeta:     meta,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func noteToModel(n domain.Note) NoteModel {
	return NoteModel{
		ID:           n.ID,
		SubmissionID: n.SubmissionID,
		AuthorID:     n.AuthorID,
		Content:      n.Content,
		NoteType:     string(n.NoteType),
		Seq:          n.Seq,
		CreatedAt:    n.CreatedAt,
	}
}

func noteFromModel(m NoteModel) domain.Note {
	return domain.Note{
		ID:           m.ID,
		SubmissionID: m.SubmissionID,
		AuthorID:     m.AuthorID,
		Content:      m.Content,
		NoteType:     domain.NoteType(m.NoteType),
		Seq:          m.Seq,
		CreatedAt:    m.CreatedAt,
	}
}
