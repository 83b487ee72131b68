package coowner

import (
	"testing"

	"github.com/mnajarc/sistemaInm-sub001/pkg/domain"
)

func hasIssue(r Report, code IssueCode) bool {
	for _, issue := range r.Issues {
		if issue.Code == code {
			return true
		}
	}
	return false
}

func TestAuditConsistentShares(t *testing.T) {
	tx := domain.Transaction{ID: "tx-1", OfferingPartyID: "owner-a"}
	owners := []domain.CoOwner{
		{ID: "co-1", PartyID: "owner-a", Percentage: 60, Principal: true, Active: true},
		{ID: "co-2", PartyID: "owner-b", Percentage: 40, Active: true},
	}
	report := Audit(tx, owners)
	if !report.Consistent() {
		t.Fatalf("expected consistent report, got %+v", report.Issues)
	}
	if report.PrincipalID != "owner-a" || report.ActiveOwners != 2 {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestAuditFlagsDeactivatedPrincipal(t *testing.T) {
	tx := domain.Transaction{ID: "tx-1", OfferingPartyID: "owner-a"}
	owners := []domain.CoOwner{
		{ID: "co-1", PartyID: "owner-a", Percentage: 60, Principal: true, Active: false},
		{ID: "co-2", PartyID: "owner-b", Percentage: 40, Active: true},
	}
	report := Audit(tx, owners)
	if report.Consistent() {
		t.Fatalf("deactivated principal must be flagged")
	}
	for _, code := range []IssueCode{IssuePercentageSum, IssueNoPrincipal, IssueOfferingPartyDrift} {
		if !hasIssue(report, code) {
			t.Fatalf("expected issue %s, got %+v", code, report.Issues)
		}
	}
	if report.TotalPercent != 40 {
		t.Fatalf("total percent = %v, want 40", report.TotalPercent)
	}
}

func TestAuditFlagsStalePointerAfterRedistribution(t *testing.T) {
	tx := domain.Transaction{ID: "tx-1", OfferingPartyID: "owner-a"}
	owners := []domain.CoOwner{
		{ID: "co-1", PartyID: "owner-a", Percentage: 60, Principal: false, Active: false},
		{ID: "co-2", PartyID: "owner-b", Percentage: 100, Principal: true, Active: true},
	}
	report := Audit(tx, owners)
	if len(report.Issues) != 1 || report.Issues[0].Code != IssueOfferingPartyDrift {
		t.Fatalf("expected only pointer drift, got %+v", report.Issues)
	}
}

func TestAuditFlagsMultiplePrincipals(t *testing.T) {
	tx := domain.Transaction{ID: "tx-1", OfferingPartyID: "owner-a"}
	owners := []domain.CoOwner{
		{PartyID: "owner-a", Percentage: 33.33, Principal: true, Active: true},
		{PartyID: "owner-b", Percentage: 33.33, Principal: true, Active: true},
		{PartyID: "owner-c", Percentage: 33.34, Active: true},
	}
	report := Audit(tx, owners)
	if hasIssue(report, IssuePercentageSum) {
		t.Fatalf("33.33+33.33+33.34 should sum to 100: %+v", report)
	}
	if !hasIssue(report, IssueMultiplePrincipals) || !hasIssue(report, IssueOfferingPartyDrift) {
		t.Fatalf("expected multiple principals and drift, got %+v", report.Issues)
	}
}

func TestAuditSkipsTransactionsWithoutCoOwners(t *testing.T) {
	report := Audit(domain.Transaction{ID: "tx-2", OfferingPartyID: "seller"}, nil)
	if !report.Consistent() {
		t.Fatalf("no co-owners means nothing to audit, got %+v", report.Issues)
	}
}

func TestPrimaryParty(t *testing.T) {
	owners := []domain.CoOwner{
		{PartyID: "owner-a", Principal: true, Active: false},
		{PartyID: "owner-b", Principal: true, Active: true},
	}
	primary, ok := PrimaryParty(owners)
	if !ok || primary.PartyID != "owner-b" {
		t.Fatalf("PrimaryParty = %+v, %v", primary, ok)
	}
}
