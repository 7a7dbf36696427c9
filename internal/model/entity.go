package model

import (
	"encoding/json"
	"strings"
	"time"
)

// EntityType identifies which kind of CRM record an entity is. Each type has
// its own field schema and extraction prompt (see internal/schema).
type EntityType string

const (
	EntityTypeBuyer   EntityType = "buyer"
	EntityTypeCompany EntityType = "company"
	EntityTypeFund    EntityType = "fund"
	EntityTypeContact EntityType = "contact"
	EntityTypeLead    EntityType = "lead"
)

// ResolutionStatus tracks identity resolution for entities that must be
// matched to an external organization before enrichment can target them.
type ResolutionStatus string

const (
	ResolutionUnresolved ResolutionStatus = "unresolved"
	ResolutionAmbiguous  ResolutionStatus = "ambiguous"
	ResolutionOK         ResolutionStatus = "ok"
	ResolutionError      ResolutionStatus = "error"
)

// Entity is any business record subject to enrichment: corporate buyer,
// company profile, fund, contact, or lead. The enrichable fields live in
// Fields keyed by field name; values are scalar strings, string slices, or
// lists of structured sub-records depending on the type's schema.
type Entity struct {
	ID         string     `json:"id"`
	Type       EntityType `json:"type"`
	NaturalKey string     `json:"natural_key"` // domain, email, or external-system id
	Name       string     `json:"name"`
	Website    string     `json:"website,omitempty"`
	City       string     `json:"city,omitempty"`
	State      string     `json:"state,omitempty"`

	Fields map[string]any `json:"fields"`

	// Enrichment metadata. EnrichedAt is non-nil iff at least one successful
	// extraction has completed. EnrichedData is the verbatim output of the
	// most recent successful extraction, kept for audit and replay regardless
	// of which fields the merge policy actually wrote.
	EnrichedAt       *time.Time      `json:"enriched_at,omitempty"`
	EnrichmentSource string          `json:"enrichment_source,omitempty"`
	EnrichedData     json.RawMessage `json:"enriched_data,omitempty"`

	ResolutionStatus ResolutionStatus `json:"resolution_status,omitempty"`
	Candidates       []CandidateMatch `json:"candidates,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsEnriched reports whether the entity has completed at least one
// successful extraction.
func (e *Entity) IsEnriched() bool {
	return e.EnrichedAt != nil
}

// Locator returns the acquirable locator for the entity, or "" when the
// entity has no source to enrich from.
func (e *Entity) Locator() string {
	if e.Website != "" {
		return e.Website
	}
	if v, ok := e.Fields["website"].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// CandidateMatch is a ranked, ephemeral identity candidate proposed for an
// entity lacking a confirmed external organization. The list exists only
// between an ambiguous search result and confirmation; it is cleared once a
// candidate is confirmed or the entity is manually corrected.
type CandidateMatch struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Domain  string         `json:"domain,omitempty"`
	Score   float64        `json:"score"`
	Summary map[string]any `json:"summary,omitempty"` // coarse attributes already known from search
}
