package policy

import (
	"testing"

	"github.com/mnajarc/sistemaInm-sub001/pkg/domain"
)

var (
	admin      = domain.Actor{ID: "admin-1", Role: domain.RoleAdmin}
	superadmin = domain.Actor{ID: "root", Role: domain.RoleSuperadmin}
	agent      = domain.Actor{ID: "agent-1", Role: domain.RoleAgent}
	otherAgent = domain.Actor{ID: "agent-2", Role: domain.RoleAgent}
	client     = domain.Actor{ID: "client-1", Role: domain.RoleClient}
	stranger   = domain.Actor{ID: "client-9", Role: domain.RoleClient}
	nobody     = domain.Actor{ID: "ghost", Role: domain.RoleNone}
)

func subject() Subject {
	return Subject{
		UploaderID: "client-1",
		AgentID:    "agent-1",
		PartyIDs:   []string{"client-1", "client-2"},
	}
}

func TestCan(t *testing.T) {
	tests := []struct {
		name    string
		actor   domain.Actor
		cap     Capability
		subject Subject
		want    bool
	}{
		{"uploader views", client, CapView, subject(), true},
		{"assigned agent views", agent, CapView, subject(), true},
		{"unassigned agent cannot view", otherAgent, CapView, subject(), false},
		{"admin views", admin, CapView, subject(), true},
		{"stranger cannot view", stranger, CapView, subject(), false},
		{"unknown role gets nothing", nobody, CapView, subject(), false},
		{"empty actor gets nothing", domain.Actor{Role: domain.RoleAdmin}, CapView, subject(), false},

		{"assigned agent approves", agent, CapApprove, subject(), true},
		{"extra reviewer approves", otherAgent, CapApprove, Subject{UploaderID: "client-1", AgentID: "agent-1", ReviewerIDs: []string{"agent-2"}}, true},
		{"admin rejects", admin, CapReject, subject(), true},
		{"superadmin marks expired", superadmin, CapMarkExpired, subject(), true},
		{"client cannot approve", client, CapApprove, subject(), false},
		{"uploader agent cannot approve own upload", agent, CapApprove, Subject{UploaderID: "agent-1", AgentID: "agent-1"}, false},
		{"uploader admin cannot reject own upload", admin, CapReject, Subject{UploaderID: "admin-1"}, false},
		{"system approves", domain.SystemActor, CapApprove, subject(), true},
		{"system marks expired", domain.SystemActor, CapMarkExpired, subject(), true},
		{"system cannot reject", domain.SystemActor, CapReject, subject(), false},

		{"uploader adds note", client, CapAddNote, subject(), true},
		{"agent adds note", agent, CapAddNote, subject(), true},
		{"stranger cannot add note", stranger, CapAddNote, subject(), false},

		{"party client uploads", domain.Actor{ID: "client-2", Role: domain.RoleClient}, CapUpload, subject(), true},
		{"stranger cannot upload", stranger, CapUpload, subject(), false},
		{"assigned agent uploads", agent, CapUpload, subject(), true},

		{"admin removes", admin, CapRemove, subject(), true},
		{"agent cannot remove", agent, CapRemove, subject(), false},
		{"agent materializes", agent, CapMaterialize, subject(), true},
		{"client cannot materialize", client, CapMaterialize, subject(), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Can(tt.actor, tt.cap, tt.subject); got != tt.want {
				t.Fatalf("Can(%s, %s) = %v, want %v", tt.actor.ID, tt.cap, got, tt.want)
			}
		})
	}
}

func TestCanDeleteNote(t *testing.T) {
	tests := []struct {
		name   string
		actor  domain.Actor
		author string
		kind   domain.NoteType
		last   bool
		want   bool
	}{
		{"author deletes own last note", client, "client-1", domain.NoteComment, true, true},
		{"author cannot delete older note", client, "client-1", domain.NoteComment, false, false},
		{"author cannot delete own status change", client, "client-1", domain.NoteStatusChange, true, false},
		{"uploader cannot delete another author's last note", client, "agent-1", domain.NoteComment, true, false},
		{"agent deletes anyone's last note", agent, "client-1", domain.NoteComment, true, true},
		{"agent deletes a status change", agent, "client-1", domain.NoteStatusChange, true, true},
		{"agent cannot delete older note", agent, "client-1", domain.NoteComment, false, false},
		{"admin deletes last note", admin, "client-1", domain.NoteComment, true, true},
		{"unassigned agent cannot delete", otherAgent, "client-1", domain.NoteComment, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := subject().ForNote(domain.Note{AuthorID: tt.author, NoteType: tt.kind}, tt.last)
			if got := Can(tt.actor, CapDeleteNote, s); got != tt.want {
				t.Fatalf("Can(%s, delete_note) = %v, want %v", tt.actor.ID, got, tt.want)
			}
		})
	}
}

func TestSubjectForCollectsActiveParties(t *testing.T) {
	sub := domain.Submission{UploadedBy: "client-1", PartyID: "client-1"}
	tx := domain.Transaction{AgentID: "agent-1", OfferingPartyID: "owner-a", AcquiringPartyID: "buyer"}
	owners := []domain.CoOwner{
		{PartyID: "owner-a", Active: true},
		{PartyID: "owner-b", Active: false},
	}
	s := SubjectFor(sub, tx, owners)
	if s.UploaderID != "client-1" || s.AgentID != "agent-1" {
		t.Fatalf("unexpected subject: %+v", s)
	}
	for _, id := range s.PartyIDs {
		if id == "owner-b" {
			t.Fatalf("inactive co-owner should not be a party: %v", s.PartyIDs)
		}
	}
	if !Can(domain.Actor{ID: "buyer", Role: domain.RoleClient}, CapUpload, s) {
		t.Fatalf("acquiring party should be able to upload")
	}
}

func TestParseRoleFallsBackToNone(t *testing.T) {
	tests := map[string]domain.Role{
		"agent":      domain.RoleAgent,
		"Asesor":     domain.RoleAgent,
		"agente":     domain.RoleAgent,
		"reviewer":   domain.RoleAgent,
		"admin":      domain.RoleAdmin,
		"SUPERADMIN": domain.RoleSuperadmin,
		"cliente":    domain.RoleClient,
		"system":     domain.RoleNone,
		"":           domain.RoleNone,
		"owner":      domain.RoleNone,
	}
	for name, want := range tests {
		if got := domain.ParseRole(name); got != want {
			t.Fatalf("ParseRole(%q) = %s, want %s", name, got, want)
		}
	}
}

func TestIsReviewer(t *testing.T) {
	if !IsReviewer(agent, subject()) {
		t.Fatalf("assigned agent is a reviewer")
	}
	if IsReviewer(otherAgent, subject()) {
		t.Fatalf("unassigned agent is not a reviewer")
	}
	if !IsReviewer(admin, subject()) {
		t.Fatalf("admin is a reviewer")
	}
	if IsReviewer(client, subject()) {
		t.Fatalf("client is not a reviewer")
	}
}
