// Package catalog holds the reference list of document types and derives
// the checklist of submissions a transaction requires.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mnajarc/sistemaInm-sub001/pkg/coowner"
	"github.com/mnajarc/sistemaInm-sub001/pkg/domain"
)

//go:embed catalog.yaml
var defaultCatalog []byte

type file struct {
	DocumentTypes []domain.DocumentType `yaml:"documentTypes"`
}

// Catalog is an immutable set of document types.
type Catalog struct {
	types  []domain.DocumentType
	byCode map[string]domain.DocumentType
}

// Requirement is one row of a transaction's checklist.
type Requirement struct {
	DocumentTypeCode string
	PartyType        domain.PartyType
	PartyID          string
}

// Key identifies the requirement within its transaction.
func (r Requirement) Key() string {
	return r.DocumentTypeCode + "|" + string(r.PartyType) + "|" + r.PartyID
}

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads a catalog from a YAML file; an empty path means the embedded default.
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(f.DocumentTypes) == 0 {
		return nil, errors.New("catalog: no document types")
	}
	c := &Catalog{byCode: make(map[string]domain.DocumentType, len(f.DocumentTypes))}
	for _, dt := range f.DocumentTypes {
		dt.Code = strings.TrimSpace(dt.Code)
		if dt.Code == "" {
			return nil, errors.New("catalog: document type code is required")
		}
		if _, dup := c.byCode[dt.Code]; dup {
			return nil, fmt.Errorf("catalog: duplicate document type %q", dt.Code)
		}
		for _, kind := range dt.Kinds {
			if kind != domain.KindSale && kind != domain.KindRental {
				return nil, fmt.Errorf("catalog: %s: unknown transaction kind %q", dt.Code, kind)
			}
		}
		for _, party := range dt.Parties {
			if !party.Valid() {
				return nil, fmt.Errorf("catalog: %s: unknown party type %q", dt.Code, party)
			}
		}
		if dt.ValidityDays < 0 {
			return nil, fmt.Errorf("catalog: %s: validityDays must not be negative", dt.Code)
		}
		c.types = append(c.types, dt)
		c.byCode[dt.Code] = dt
	}
	return c, nil
}

// Types returns all document types in catalog order.
func (c *Catalog) Types() []domain.DocumentType {
	return slices.Clone(c.types)
}

// Lookup finds a document type by code.
func (c *Catalog) Lookup(code string) (domain.DocumentType, bool) {
	dt, ok := c.byCode[code]
	return dt, ok
}

// ExpiryFor returns the expiry date of a document validated at from, or nil
// when the type does not expire.
func (c *Catalog) ExpiryFor(code string, from time.Time) *time.Time {
	dt, ok := c.byCode[code]
	if !ok || dt.ValidityDays == 0 {
		return nil
	}
	y, m, d := from.UTC().Date()
	expiry := time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, dt.ValidityDays)
	return &expiry
}

// Checklist lists the required submissions of a transaction. With active
// co-owners, the offering side is split into the principal and the other owners;
// otherwise the legacy offering party is used.
func (c *Catalog) Checklist(tx domain.Transaction, owners []domain.CoOwner) []Requirement {
	type party struct {
		kind domain.PartyType
		id   string
	}
	var parties []party
	primary, hasPrimary := coowner.PrimaryParty(owners)
	active := 0
	for _, owner := range owners {
		if owner.Active {
			active++
		}
	}
	if active > 0 {
		if hasPrimary {
			parties = append(parties, party{domain.PartyPrimaryCoOwner, primary.PartyID})
		}
		for _, owner := range owners {
			if !owner.Active || (hasPrimary && owner.ID == primary.ID) {
				continue
			}
			parties = append(parties, party{domain.PartyCoOwner, owner.PartyID})
		}
	} else if tx.OfferingPartyID != "" {
		parties = append(parties, party{domain.PartyOffering, tx.OfferingPartyID})
	}
	if tx.AcquiringPartyID != "" {
		parties = append(parties, party{domain.PartyAcquiring, tx.AcquiringPartyID})
	}

	var reqs []Requirement
	for _, dt := range c.types {
		if !dt.Required || !slices.Contains(dt.Kinds, tx.Kind) {
			continue
		}
		for _, p := range parties {
			if !slices.Contains(dt.Parties, p.kind) {
				continue
			}
			reqs = append(reqs, Requirement{
				DocumentTypeCode: dt.Code,
				PartyType:        p.kind,
				PartyID:          p.id,
			})
		}
	}
	return reqs
}
