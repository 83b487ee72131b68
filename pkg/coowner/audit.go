// Package coowner checks the consistency of a transaction's owner shares.
package coowner

import (
	"fmt"
	"math"

	"github.com/mnajarc/sistemaInm-sub001/pkg/domain"
)

const percentageTolerance = 0.01

type IssueCode string

const (
	IssuePercentageSum      IssueCode = "percentage_sum"
	IssueNoPrincipal        IssueCode = "no_principal"
	IssueMultiplePrincipals IssueCode = "multiple_principals"
	IssueOfferingPartyDrift IssueCode = "offering_party_drift"
)

// Issue is one detected inconsistency.
type Issue struct {
	Code    IssueCode `json:"code"`
	Message string    `json:"message"`
}

// Report is the audit outcome for a transaction.
type Report struct {
	TransactionID string  `json:"transactionId"`
	ActiveOwners  int     `json:"activeOwners"`
	TotalPercent  float64 `json:"totalPercent"`
	PrincipalID   string  `json:"principalPartyId,omitempty"`
	Issues        []Issue `json:"issues"`
}

// Consistent reports whether no issue was found.
func (r Report) Consistent() bool {
	return len(r.Issues) == 0
}

// PrimaryParty returns the active principal co-owner, if exactly one exists.
func PrimaryParty(owners []domain.CoOwner) (domain.CoOwner, bool) {
	var found domain.CoOwner
	count := 0
	for _, owner := range owners {
		if owner.Active && owner.Principal {
			found = owner
			count++
		}
	}
	return found, count == 1
}

// Audit checks active shares against the transaction's legacy offering party pointer.
// A transaction with no co-owner rows at all is not audited.
func Audit(tx domain.Transaction, owners []domain.CoOwner) Report {
	report := Report{TransactionID: tx.ID, Issues: []Issue{}}
	if len(owners) == 0 {
		return report
	}
	principals := 0
	for _, owner := range owners {
		if !owner.Active {
			continue
		}
		report.ActiveOwners++
		report.TotalPercent += owner.Percentage
		if owner.Principal {
			principals++
		}
	}
	report.TotalPercent = math.Round(report.TotalPercent*100) / 100

	if math.Abs(report.TotalPercent-100) > percentageTolerance {
		report.Issues = append(report.Issues, Issue{
			Code:    IssuePercentageSum,
			Message: fmt.Sprintf("active co-owner percentages sum to %.2f, want 100", report.TotalPercent),
		})
	}
	switch {
	case principals == 0:
		report.Issues = append(report.Issues, Issue{
			Code:    IssueNoPrincipal,
			Message: "no active co-owner is marked principal",
		})
	case principals > 1:
		report.Issues = append(report.Issues, Issue{
			Code:    IssueMultiplePrincipals,
			Message: fmt.Sprintf("%d active co-owners are marked principal", principals),
		})
	}

	primary, ok := PrimaryParty(owners)
	if ok {
		report.PrincipalID = primary.PartyID
	}
	if !ok || tx.OfferingPartyID != primary.PartyID {
		report.Issues = append(report.Issues, Issue{
			Code:    IssueOfferingPartyDrift,
			Message: fmt.Sprintf("offering party %q does not match active principal %q", tx.OfferingPartyID, report.PrincipalID),
		})
	}
	return report
}
