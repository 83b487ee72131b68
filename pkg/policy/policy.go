// Package policy decides which actor may invoke which submission operation.
//
// Privileges come from a single role enum and the capability table below;
// relationship to the transaction (assigned agent, party, uploader) narrows
// what a role grants.
package policy

import (
	"slices"

	"github.com/mnajarc/sistemaInm-sub001/pkg/domain"
)

type Capability string

const (
	CapView        Capability = "view"
	CapUpload      Capability = "upload"
	CapApprove     Capability = "approve"
	CapReject      Capability = "reject"
	CapMarkExpired Capability = "mark_expired"
	CapAddNote     Capability = "add_note"
	CapDeleteNote  Capability = "delete_note"
	CapRemove      Capability = "remove"
	CapMaterialize Capability = "materialize"
)

type scope uint8

const (
	scopeAny scope = iota + 1
	scopeAssigned
	scopeParty
)

var capabilityTable = map[domain.Role]map[Capability]scope{
	domain.RoleClient: {
		CapUpload: scopeParty,
	},
	domain.RoleAgent: {
		CapView:        scopeAssigned,
		CapUpload:      scopeAssigned,
		CapApprove:     scopeAssigned,
		CapReject:      scopeAssigned,
		CapMarkExpired: scopeAssigned,
		CapAddNote:     scopeAssigned,
		CapDeleteNote:  scopeAssigned,
		CapMaterialize: scopeAssigned,
	},
	domain.RoleAdmin: {
		CapView:        scopeAny,
		CapUpload:      scopeAny,
		CapApprove:     scopeAny,
		CapReject:      scopeAny,
		CapMarkExpired: scopeAny,
		CapAddNote:     scopeAny,
		CapDeleteNote:  scopeAny,
		CapRemove:      scopeAny,
		CapMaterialize: scopeAny,
	},
	domain.RoleSuperadmin: {
		CapView:        scopeAny,
		CapUpload:      scopeAny,
		CapApprove:     scopeAny,
		CapReject:      scopeAny,
		CapMarkExpired: scopeAny,
		CapAddNote:     scopeAny,
		CapDeleteNote:  scopeAny,
		CapRemove:      scopeAny,
		CapMaterialize: scopeAny,
	},
	domain.RoleSystem: {
		CapView:        scopeAny,
		CapApprove:     scopeAny,
		CapMarkExpired: scopeAny,
	},
}

// reviewCapabilities are never granted to the uploader of the submission.
var reviewCapabilities = map[Capability]bool{
	CapApprove:     true,
	CapReject:      true,
	CapMarkExpired: true,
}

// Subject is what the gate knows about the target of an operation.
type Subject struct {
	UploaderID  string
	AgentID     string
	ReviewerIDs []string
	PartyIDs    []string

	// Only meaningful for CapDeleteNote.
	NoteAuthorID string
	NoteType     domain.NoteType
	NoteIsLast   bool
}

// SubjectFor builds the subject of a submission within its transaction.
func SubjectFor(sub domain.Submission, tx domain.Transaction, owners []domain.CoOwner) Subject {
	parties := make([]string, 0, len(owners)+3)
	for _, id := range []string{sub.PartyID, tx.OfferingPartyID, tx.AcquiringPartyID} {
		if id != "" {
			parties = append(parties, id)
		}
	}
	for _, owner := range owners {
		if owner.Active && owner.PartyID != "" {
			parties = append(parties, owner.PartyID)
		}
	}
	return Subject{
		UploaderID:  sub.UploadedBy,
		AgentID:     tx.AgentID,
		ReviewerIDs: tx.ReviewerIDs,
		PartyIDs:    parties,
	}
}

// ForNote returns a copy of s targeting a specific note.
func (s Subject) ForNote(note domain.Note, isLast bool) Subject {
	s.NoteAuthorID = note.AuthorID
	s.NoteType = note.NoteType
	s.NoteIsLast = isLast
	return s
}

// Can reports whether actor holds capability on subject.
func Can(actor domain.Actor, capability Capability, subject Subject) bool {
	if actor.ID == "" || actor.Role == domain.RoleNone {
		return false
	}
	uploader := subject.UploaderID != "" && subject.UploaderID == actor.ID
	if reviewCapabilities[capability] && uploader && actor.Role != domain.RoleSystem {
		return false
	}
	if capability == CapDeleteNote && !subject.NoteIsLast {
		return false
	}
	if sc, ok := capabilityTable[actor.Role][capability]; ok && subject.within(sc, actor.ID) {
		return true
	}
	if !uploader {
		return false
	}
	switch capability {
	case CapView, CapAddNote, CapUpload:
		return true
	case CapDeleteNote:
		// Status changes stay in the log unless a reviewer removes them.
		return subject.NoteAuthorID == actor.ID && subject.NoteType == domain.NoteComment
	}
	return false
}

// IsReviewer reports whether actor may review the subject (assigned agent or admin).
func IsReviewer(actor domain.Actor, subject Subject) bool {
	if actor.Role.IsAdmin() {
		return true
	}
	return actor.Role == domain.RoleAgent && subject.assigned(actor.ID)
}

func (s Subject) within(sc scope, actorID string) bool {
	switch sc {
	case scopeAny:
		return true
	case scopeAssigned:
		return s.assigned(actorID)
	case scopeParty:
		return slices.Contains(s.PartyIDs, actorID)
	}
	return false
}

func (s Subject) assigned(actorID string) bool {
	return s.AgentID == actorID || slices.Contains(s.ReviewerIDs, actorID)
}
