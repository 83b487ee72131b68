package domain

import "time"

type ValidationStatus string

const (
	StatusPendingReview ValidationStatus = "pending_review"
	StatusApproved      ValidationStatus = "approved"
	StatusRejected      ValidationStatus = "rejected"
	StatusExpired       ValidationStatus = "expired"
)

// Valid reports whether s is one of the known validation statuses.
func (s ValidationStatus) Valid() bool {
	switch s {
	case StatusPendingReview, StatusApproved, StatusRejected, StatusExpired:
		return true
	}
	return false
}

type PartyType string

const (
	PartyOffering       PartyType = "offering_party"
	PartyAcquiring      PartyType = "acquiring_party"
	PartyCoOwner        PartyType = "co_owner"
	PartyPrimaryCoOwner PartyType = "primary_co_owner"
)

// Valid reports whether p is one of the known party types.
func (p PartyType) Valid() bool {
	switch p {
	case PartyOffering, PartyAcquiring, PartyCoOwner, PartyPrimaryCoOwner:
		return true
	}
	return false
}

type NoteType string

const (
	NoteComment      NoteType = "comment"
	NoteStatusChange NoteType = "status_change"
)

type TransactionKind string

const (
	KindSale   TransactionKind = "sale"
	KindRental TransactionKind = "rental"
)

// Submission is one required document of a transaction for one responsible party.
type Submission struct {
	ID               string           `json:"id"`
	TransactionID    string           `json:"transactionId"`
	DocumentTypeCode string           `json:"documentType"`
	PartyType        PartyType        `json:"partyType"`
	PartyID          string           `json:"partyId,omitempty"`
	ValidationStatus ValidationStatus `json:"validationStatus"`
	FileKey          string           `json:"-"`
	OriginalFilename string           `json:"originalFilename,omitempty"`
	ContentType      string           `json:"contentType,omitempty"`
	SizeBytes        int64            `json:"sizeBytes,omitempty"`
	SubmittedAt      *time.Time       `json:"submittedAt,omitempty"`
	UploadedBy       string           `json:"uploadedBy,omitempty"`
	ValidatedBy      string           `json:"validatedBy,omitempty"`
	ValidatedAt      *time.Time       `json:"validatedAt,omitempty"`
	ExpiryDate       *time.Time       `json:"expiryDate,omitempty"`
	LegibilityScore  *float64         `json:"legibilityScore,omitempty"`
	OCRText          string           `json:"ocrText,omitempty"`
	AutoValidated    bool             `json:"autoValidated"`
	AnalyzedAt       *time.Time       `json:"analyzedAt,omitempty"`
	AnalysisMeta     map[string]any   `json:"analysisMeta,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// HasFile reports whether a file is currently attached.
func (s Submission) HasFile() bool {
	return s.FileKey != "" && s.SubmittedAt != nil
}

// Note is an audit or comment entry attached to a submission.
type Note struct {
	ID           string    `json:"id"`
	SubmissionID string    `json:"submissionId"`
	AuthorID     string    `json:"authorId"`
	Content      string    `json:"content"`
	NoteType     NoteType  `json:"noteType"`
	Seq          int64     `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Before orders notes by creation time, then insertion sequence.
func (n Note) Before(other Note) bool {
	if n.CreatedAt.Equal(other.CreatedAt) {
		return n.Seq < other.Seq
	}
	return n.CreatedAt.Before(other.CreatedAt)
}

// DocumentType describes one kind of document the brokerage collects.
type DocumentType struct {
	Code         string            `json:"code" yaml:"code"`
	Name         string            `json:"name" yaml:"name"`
	Description  string            `json:"description,omitempty" yaml:"description"`
	Kinds        []TransactionKind `json:"kinds" yaml:"kinds"`
	Parties      []PartyType       `json:"parties" yaml:"parties"`
	ValidityDays int               `json:"validityDays,omitempty" yaml:"validityDays"`
	Required     bool              `json:"required" yaml:"required"`
}

// Transaction is the read model of a business transaction the workflow needs.
type Transaction struct {
	ID               string          `json:"id"`
	Kind             TransactionKind `json:"kind"`
	AgentID          string          `json:"agentId"`
	ReviewerIDs      []string        `json:"reviewerIds,omitempty"`
	OfferingPartyID  string          `json:"offeringPartyId,omitempty"`
	AcquiringPartyID string          `json:"acquiringPartyId,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// CoOwner is one owner share of the offered property.
type CoOwner struct {
	ID            string  `json:"id"`
	TransactionID string  `json:"transactionId"`
	PartyID       string  `json:"partyId"`
	Percentage    float64 `json:"percentage"`
	Principal     bool    `json:"principal"`
	Active        bool    `json:"active"`
}

// Event describes a committed status transition.
type Event struct {
	ID            string           `json:"id"`
	SubmissionID  string           `json:"submissionId"`
	TransactionID string           `json:"transactionId"`
	Action        string           `json:"action"`
	OldStatus     ValidationStatus `json:"oldStatus"`
	NewStatus     ValidationStatus `json:"newStatus"`
	ActorID       string           `json:"actorId"`
	OccurredAt    time.Time        `json:"occurredAt"`
}
