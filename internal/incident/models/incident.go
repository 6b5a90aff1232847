// Package models defines case records (incidents) and their dependent sections.
package models

import (
	"strings"
	"time"

	id "pandi/pkg/domain"
	dErrors "pandi/pkg/domain-errors"
)

// Section names an optional sub-record of an incident. A section is either
// attached or not from the incident's perspective; it has no lifecycle of its
// own. Detaching cascades over all child rows as one unit.
type Section string

const (
	SectionCargo        Section = "cargo"
	SectionClaim        Section = "claim"
	SectionComments     Section = "comments"
	SectionAppointments Section = "appointments"
)

// AllSections lists every section in stable order.
var AllSections = []Section{SectionCargo, SectionClaim, SectionComments, SectionAppointments}

// ParseSection validates a section name from the URL path.
func ParseSection(raw string) (Section, error) {
	s := Section(raw)
	for _, known := range AllSections {
		if s == known {
			return s, nil
		}
	}
	return "", dErrors.Newf(dErrors.CodeNotFound, "unknown section %q", raw)
}

// Incident is the primary case record. Reference entity columns are optional
// pointers; member and manager both point at member-type entities and are
// independent roles.
type Incident struct {
	ID          id.IncidentID `json:"id"`
	Reference   string        `json:"reference"`
	OccurredAt  time.Time     `json:"occurred_at"`
	Description string        `json:"description,omitempty"`

	VesselID       *id.EntityID `json:"vessel_id,omitempty"`
	MemberID       *id.EntityID `json:"member_id,omitempty"`
	ManagerID      *id.EntityID `json:"manager_id,omitempty"`
	LocalAgentID   *id.EntityID `json:"local_agent_id,omitempty"`
	ClaimHandlerID *id.EntityID `json:"claim_handler_id,omitempty"`
	ClubID         *id.EntityID `json:"club_id,omitempty"`
	OfficeID       *id.EntityID `json:"office_id,omitempty"`
	TraderID       *id.EntityID `json:"trader_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewIncident validates and constructs an incident.
func NewIncident(incidentID id.IncidentID, reference string, occurredAt time.Time, description string, now time.Time) (*Incident, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "incident reference is required")
	}
	if occurredAt.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "incident date is required")
	}
	return &Incident{
		ID:          incidentID,
		Reference:   reference,
		OccurredAt:  occurredAt,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Cargo is the cargo section body (present only while the section is attached).
type Cargo struct {
	CargoType   string  `json:"cargo_type"`
	Quantity    float64 `json:"quantity"`
	Description string  `json:"description,omitempty"`
}

// Claim is the claim section body.
type Claim struct {
	Claimant    string `json:"claimant"`
	AmountCents int64  `json:"amount_cents"`
	Description string `json:"description,omitempty"`
}

// Comment is one entry of the comments section.
type Comment struct {
	ID        id.LineID `json:"id"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Appointment is one entry of the appointments section.
type Appointment struct {
	ID       id.LineID `json:"id"`
	Surveyor string    `json:"surveyor"`
	Date     time.Time `json:"date"`
	Notes    string    `json:"notes,omitempty"`
}
