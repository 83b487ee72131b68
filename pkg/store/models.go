package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type TransactionModel struct {
	ID               string         `gorm:"primaryKey"`
	Kind             string         `gorm:"not null"`
	AgentID          string         `gorm:"not null;index"`
	ReviewerIDs      datatypes.JSON `gorm:"type:jsonb"`
	OfferingPartyID  string         `gorm:"index"`
	AcquiringPartyID string         `gorm:"index"`
	CreatedAt        time.Time      `gorm:"not null"`
	UpdatedAt        time.Time      `gorm:"not null"`
}

type CoOwnerModel struct {
	ID            string  `gorm:"primaryKey"`
	TransactionID string  `gorm:"not null;index"`
	PartyID       string  `gorm:"not null"`
	Percentage    float64 `gorm:"not null"`
	Principal     bool    `gorm:"not null"`
	Active        bool    `gorm:"not null;default:true"`
}

type SubmissionModel struct {
	ID               string `gorm:"primaryKey"`
	TransactionID    string `gorm:"not null;uniqueIndex:idx_submission_slot"`
	DocumentTypeCode string `gorm:"not null;uniqueIndex:idx_submission_slot"`
	PartyType        string `gorm:"not null;uniqueIndex:idx_submission_slot"`
	PartyID          string `gorm:"not null;default:'';uniqueIndex:idx_submission_slot"`
	ValidationStatus string `gorm:"not null;index:idx_submission_expiry,priority:1"`
	FileKey          string
	OriginalFilename string
	ContentType      string
	SizeBytes        int64
	SubmittedAt      *time.Time
	UploadedBy       string `gorm:"index"`
	ValidatedBy      string
	ValidatedAt      *time.Time
	ExpiryDate       *time.Time `gorm:"type:date;index:idx_submission_expiry,priority:2"`
	LegibilityScore  *float64
	OCRText          string `gorm:"type:text"`
	AutoValidated    bool   `gorm:"not null;default:false"`
	AnalyzedAt       *time.Time
	AnalysisMeta     datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt        time.Time      `gorm:"not null"`
	UpdatedAt        time.Time      `gorm:"not null"`
}

type NoteModel struct {
	ID           string    `gorm:"primaryKey"`
	SubmissionID string    `gorm:"not null;index:idx_note_order,priority:1"`
	AuthorID     string    `gorm:"not null"`
	Content      string    `gorm:"type:text;not null"`
	NoteType     string    `gorm:"not null"`
	Seq          int64     `gorm:"autoIncrement;not null;index:idx_note_order,priority:3"`
	CreatedAt    time.Time `gorm:"not null;index:idx_note_order,priority:2"`
}
