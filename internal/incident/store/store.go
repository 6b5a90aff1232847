package store

import (
	"context"

	"pandi/internal/incident/models"
	"pandi/internal/registry/usage"
	id "pandi/pkg/domain"
)

// IncidentStore persists case records and owns their dependent sections.
// It doubles as the incident-side usage source for the registry index.
//
// DetachSection must be all-or-nothing: either every child row of the section
// is removed along with the attachment marker, or none are.
type IncidentStore interface {
	Create(ctx context.Context, incident *models.Incident) error
	Update(ctx context.Context, incident *models.Incident) error
	FindByID(ctx context.Context, incidentID id.IncidentID) (*models.Incident, error)

	Sections(ctx context.Context, incidentID id.IncidentID) (map[models.Section]bool, error)
	// AttachSection marks a section open. Returns true when the section was
	// already attached (the call is then a no-op).
	AttachSection(ctx context.Context, incidentID id.IncidentID, section models.Section) (alreadyAttached bool, err error)
	// DetachSection removes the marker and cascades over all child rows,
	// returning the number of child rows removed.
	DetachSection(ctx context.Context, incidentID id.IncidentID, section models.Section) (removed int, err error)

	SetCargo(ctx context.Context, incidentID id.IncidentID, cargo models.Cargo) error
	GetCargo(ctx context.Context, incidentID id.IncidentID) (*models.Cargo, error)
	SetClaim(ctx context.Context, incidentID id.IncidentID, claim models.Claim) error
	GetClaim(ctx context.Context, incidentID id.IncidentID) (*models.Claim, error)
	AddComment(ctx context.Context, incidentID id.IncidentID, comment models.Comment) error
	ListComments(ctx context.Context, incidentID id.IncidentID) ([]models.Comment, error)
	AddAppointment(ctx context.Context, incidentID id.IncidentID, appointment models.Appointment) error
	ListAppointments(ctx context.Context, incidentID id.IncidentID) ([]models.Appointment, error)

	// Usage source for the registry index.
	FindReferences(ctx context.Context, role usage.Role, entityID id.EntityID) ([]string, error)
	Repoint(ctx context.Context, role usage.Role, recordID string, from, to id.EntityID) error
}
