package catalog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mnajarc/sistemaInm-sub001/pkg/domain"
)

func mustDefault(t *testing.T) *Catalog {
	t.Helper()
	c, err := Default()
	if err != nil {
		t.Fatalf("default catalog: %v", err)
	}
	return c
}

func TestDefaultCatalogParses(t *testing.T) {
	c := mustDefault(t)
	if len(c.Types()) == 0 {
		t.Fatalf("expected document types")
	}
	if _, ok := c.Lookup("official_id"); !ok {
		t.Fatalf("official_id missing from default catalog")
	}
}

func TestChecklistSaleWithoutCoOwners(t *testing.T) {
	c := mustDefault(t)
	tx := domain.Transaction{ID: "tx-1", Kind: domain.KindSale, OfferingPartyID: "seller", AcquiringPartyID: "buyer"}
	reqs := c.Checklist(tx, nil)
	if len(reqs) == 0 {
		t.Fatalf("expected requirements")
	}
	seen := map[string]bool{}
	for _, r := range reqs {
		if seen[r.Key()] {
			t.Fatalf("duplicate requirement %s", r.Key())
		}
		seen[r.Key()] = true
		if r.PartyType == domain.PartyCoOwner || r.PartyType == domain.PartyPrimaryCoOwner {
			t.Fatalf("unexpected co-owner requirement without co-owners: %+v", r)
		}
		if r.DocumentTypeCode == "income_proof" {
			t.Fatalf("rental-only document in sale checklist: %+v", r)
		}
		if r.DocumentTypeCode == "marriage_certificate" {
			t.Fatalf("optional document in checklist: %+v", r)
		}
	}
	if !seen["property_deed|offering_party|seller"] {
		t.Fatalf("seller deed missing: %v", seen)
	}
	if !seen["official_id|acquiring_party|buyer"] {
		t.Fatalf("buyer id missing: %v", seen)
	}
}

func TestChecklistSplitsCoOwners(t *testing.T) {
	c := mustDefault(t)
	tx := domain.Transaction{ID: "tx-1", Kind: domain.KindSale, OfferingPartyID: "owner-a"}
	owners := []domain.CoOwner{
		{ID: "co-1", PartyID: "owner-a", Percentage: 60, Principal: true, Active: true},
		{ID: "co-2", PartyID: "owner-b", Percentage: 40, Active: true},
		{ID: "co-3", PartyID: "owner-c", Active: false},
	}
	reqs := c.Checklist(tx, owners)
	var deedParties, idParties []string
	for _, r := range reqs {
		if r.PartyID == "owner-c" {
			t.Fatalf("inactive owner in checklist: %+v", r)
		}
		if r.PartyType == domain.PartyOffering {
			t.Fatalf("offering party should be replaced by co-owners: %+v", r)
		}
		switch r.DocumentTypeCode {
		case "property_deed":
			deedParties = append(deedParties, string(r.PartyType)+":"+r.PartyID)
		case "official_id":
			idParties = append(idParties, string(r.PartyType)+":"+r.PartyID)
		}
	}
	if len(deedParties) != 1 || deedParties[0] != "primary_co_owner:owner-a" {
		t.Fatalf("deed parties = %v", deedParties)
	}
	if len(idParties) != 2 {
		t.Fatalf("id parties = %v", idParties)
	}
}

func TestExpiryFor(t *testing.T) {
	c := mustDefault(t)
	from := time.Date(2026, 1, 31, 15, 4, 5, 0, time.UTC)
	got := c.ExpiryFor("proof_of_address", from)
	if got == nil {
		t.Fatalf("expected expiry")
	}
	want := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expiry = %v, want %v", got, want)
	}
	if c.ExpiryFor("property_deed", from) != nil {
		t.Fatalf("deed never expires")
	}
}

func TestParseRejectsInvalidCatalogs(t *testing.T) {
	tests := map[string]string{
		"empty":       "documentTypes: []",
		"missingCode": "documentTypes:\n  - name: x\n    kinds: [sale]",
		"duplicate":   "documentTypes:\n  - code: a\n  - code: a",
		"badKind":     "documentTypes:\n  - code: a\n    kinds: [lease]",
		"badParty":    "documentTypes:\n  - code: a\n    parties: [notary]",
		"negative":    "documentTypes:\n  - code: a\n    validityDays: -1",
	}
	for name, body := range tests {
		if _, err := Parse([]byte(body)); err == nil {
			t.Fatalf("%s: expected parse error", name)
		}
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	body := "documentTypes:\n  - code: lease_contract\n    kinds: [rental]\n    parties: [acquiring_party]\n    required: true\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	reqs := c.Checklist(domain.Transaction{Kind: domain.KindRental, AcquiringPartyID: "tenant"}, nil)
	if len(reqs) != 1 || reqs[0].DocumentTypeCode != "lease_contract" {
		t.Fatalf("unexpected checklist: %+v", reqs)
	}
}
