// Package service governs case records and the attach/detach lifecycle of
// their dependent sections.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"pandi/internal/incident/models"
	"pandi/internal/incident/store"
	"pandi/internal/platform/metrics"
	regmodels "pandi/internal/registry/models"
	id "pandi/pkg/domain"
	dErrors "pandi/pkg/domain-errors"
	"pandi/pkg/platform/audit"
	"pandi/pkg/platform/sentinel"
	"pandi/pkg/platform/tx"
	"pandi/pkg/requestcontext"
)

// EntityResolver looks reference entities up so incident foreign keys can be
// validated at the write boundary.
type EntityResolver interface {
	FindByID(ctx context.Context, entityID id.EntityID) (*regmodels.Entity, error)
}

// References carries the optional reference-entity columns of an incident.
// Member and manager are independent roles that both accept member entities.
type References struct {
	VesselID       *id.EntityID `json:"vessel_id,omitempty"`
	MemberID       *id.EntityID `json:"member_id,omitempty"`
	ManagerID      *id.EntityID `json:"manager_id,omitempty"`
	LocalAgentID   *id.EntityID `json:"local_agent_id,omitempty"`
	ClaimHandlerID *id.EntityID `json:"claim_handler_id,omitempty"`
	ClubID         *id.EntityID `json:"club_id,omitempty"`
	OfficeID       *id.EntityID `json:"office_id,omitempty"`
	TraderID       *id.EntityID `json:"trader_id,omitempty"`
}

// Service owns the incident lifecycle.
type Service struct {
	incidents store.IncidentStore
	entities  EntityResolver
	tx        tx.Runner
	recorder  *audit.Recorder
	metrics   *metrics.Metrics
}

func New(incidents store.IncidentStore, entities EntityResolver, runner tx.Runner, recorder *audit.Recorder, m *metrics.Metrics) *Service {
	if runner == nil {
		runner = tx.Passthrough{}
	}
	return &Service{incidents: incidents, entities: entities, tx: runner, recorder: recorder, metrics: m}
}

type refCheck struct {
	field      string
	entityType regmodels.EntityType
	ref        *id.EntityID
}

func (s *Service) validateReferences(ctx context.Context, refs References) error {
	checks := []refCheck{
		{"vessel_id", regmodels.TypeVessel, refs.VesselID},
		{"member_id", regmodels.TypeMember, refs.MemberID},
		{"manager_id", regmodels.TypeMember, refs.ManagerID},
		{"local_agent_id", regmodels.TypeLocalAgent, refs.LocalAgentID},
		{"claim_handler_id", regmodels.TypeClaimHandler, refs.ClaimHandlerID},
		{"club_id", regmodels.TypeClub, refs.ClubID},
		{"office_id", regmodels.TypeOffice, refs.OfficeID},
		{"trader_id", regmodels.TypeTrader, refs.TraderID},
	}
	for _, check := range checks {
		if check.ref == nil {
			continue
		}
		entity, err := s.entities.FindByID(ctx, *check.ref)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.Newf(dErrors.CodeValidation, "%s does not resolve to an entity", check.field)
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve "+check.field)
		}
		if entity.Type != check.entityType {
			return dErrors.Newf(dErrors.CodeValidation, "%s must reference a %s entity", check.field, check.entityType)
		}
	}
	return nil
}

func applyReferences(incident *models.Incident, refs References) {
	incident.VesselID = refs.VesselID
	incident.MemberID = refs.MemberID
	incident.ManagerID = refs.ManagerID
	incident.LocalAgentID = refs.LocalAgentID
	incident.ClaimHandlerID = refs.ClaimHandlerID
	incident.ClubID = refs.ClubID
	incident.OfficeID = refs.OfficeID
	incident.TraderID = refs.TraderID
}

// CreateParams carries the mutable fields of a new incident.
type CreateParams struct {
	Reference   string     `json:"reference"`
	OccurredAt  time.Time  `json:"occurred_at"`
	Description string     `json:"description"`
	References  References `json:"references"`
}

// CreateIncident opens a new case record.
func (s *Service) CreateIncident(ctx context.Context, params CreateParams) (*models.Incident, error) {
	now := requestcontext.Now(ctx)
	incident, err := models.NewIncident(id.IncidentID(uuid.New()), params.Reference, params.OccurredAt, params.Description, now)
	if err != nil {
		return nil, err
	}
	if err := s.validateReferences(ctx, params.References); err != nil {
		return nil, err
	}
	applyReferences(incident, params.References)
	if err := s.incidents.Create(ctx, incident); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create incident")
	}
	return incident, nil
}

// GetIncident fetches one case record.
func (s *Service) GetIncident(ctx context.Context, incidentID id.IncidentID) (*models.Incident, error) {
	incident, err := s.incidents.FindByID(ctx, incidentID)
	if err != nil {
		return nil, translate(err, "incident")
	}
	return incident, nil
}

// UpdateReferences revalidates and replaces the incident's entity columns.
func (s *Service) UpdateReferences(ctx context.Context, incidentID id.IncidentID, refs References) (*models.Incident, error) {
	incident, err := s.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if err := s.validateReferences(ctx, refs); err != nil {
		return nil, err
	}
	applyReferences(incident, refs)
	incident.UpdatedAt = requestcontext.Now(ctx)
	if err := s.incidents.Update(ctx, incident); err != nil {
		return nil, translate(err, "incident")
	}
	return incident, nil
}

// Sections reports attachment state for every section.
func (s *Service) Sections(ctx context.Context, incidentID id.IncidentID) (map[models.Section]bool, error) {
	sections, err := s.incidents.Sections(ctx, incidentID)
	if err != nil {
		return nil, translate(err, "incident")
	}
	return sections, nil
}

// AttachSection opens a section. Attaching an already-open section is a no-op
// reported as such, never an error.
func (s *Service) AttachSection(ctx context.Context, incidentID id.IncidentID, section models.Section) (alreadyAttached bool, err error) {
	already, err := s.incidents.AttachSection(ctx, incidentID, section)
	if err != nil {
		return false, translate(err, "incident")
	}
	return already, nil
}

// DetachSection removes a section and every child row it owns. The operation
// is destructive and irreversible, so the caller must pass the confirmation it
// collected from the user; the service never assumes it.
func (s *Service) DetachSection(ctx context.Context, incidentID id.IncidentID, section models.Section, confirmed bool) error {
	if !confirmed {
		return dErrors.New(dErrors.CodeBadRequest, "detaching a section deletes all of its entries and requires explicit confirmation")
	}
	if _, err := s.GetIncident(ctx, incidentID); err != nil {
		return err
	}
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		removed, err := s.incidents.DetachSection(txCtx, incidentID, section)
		if err != nil {
			if errors.Is(err, sentinel.ErrInvalidState) {
				return dErrors.Newf(dErrors.CodeConflict, "section %s is not attached", section)
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to detach section")
		}
		return s.recordEvent(txCtx, audit.ActionSectionDetached, incidentID.String(),
			fmt.Sprintf("section %s, %d entries removed", section, removed))
	})
	if err != nil {
		return err
	}
	s.metrics.IncSectionsDetached()
	return nil
}

// SetCargo writes the cargo section body; the section must be attached.
func (s *Service) SetCargo(ctx context.Context, incidentID id.IncidentID, cargo models.Cargo) error {
	return s.sectionWrite(s.incidents.SetCargo(ctx, incidentID, cargo), models.SectionCargo)
}

func (s *Service) GetCargo(ctx context.Context, incidentID id.IncidentID) (*models.Cargo, error) {
	cargo, err := s.incidents.GetCargo(ctx, incidentID)
	if err != nil {
		return nil, translate(err, "cargo")
	}
	return cargo, nil
}

// SetClaim writes the claim section body; the section must be attached.
func (s *Service) SetClaim(ctx context.Context, incidentID id.IncidentID, claim models.Claim) error {
	return s.sectionWrite(s.incidents.SetClaim(ctx, incidentID, claim), models.SectionClaim)
}

func (s *Service) GetClaim(ctx context.Context, incidentID id.IncidentID) (*models.Claim, error) {
	claim, err := s.incidents.GetClaim(ctx, incidentID)
	if err != nil {
		return nil, translate(err, "claim")
	}
	return claim, nil
}

// AddComment appends to the comments section; the section must be attached.
func (s *Service) AddComment(ctx context.Context, incidentID id.IncidentID, author, body string) (*models.Comment, error) {
	if body == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "comment body is required")
	}
	comment := models.Comment{
		ID:        id.LineID(uuid.New()),
		Author:    author,
		Body:      body,
		CreatedAt: requestcontext.Now(ctx),
	}
	if err := s.sectionWrite(s.incidents.AddComment(ctx, incidentID, comment), models.SectionComments); err != nil {
		return nil, err
	}
	return &comment, nil
}

func (s *Service) ListComments(ctx context.Context, incidentID id.IncidentID) ([]models.Comment, error) {
	comments, err := s.incidents.ListComments(ctx, incidentID)
	if err != nil {
		return nil, translate(err, "incident")
	}
	return comments, nil
}

// AppointmentParams carries a new appointment entry.
type AppointmentParams struct {
	Surveyor string    `json:"surveyor"`
	Date     time.Time `json:"date"`
	Notes    string    `json:"notes"`
}

// AddAppointment appends to the appointments section; the section must be attached.
func (s *Service) AddAppointment(ctx context.Context, incidentID id.IncidentID, params AppointmentParams) (*models.Appointment, error) {
	if params.Surveyor == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "surveyor is required")
	}
	if params.Date.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "appointment date is required")
	}
	appointment := models.Appointment{
		ID:       id.LineID(uuid.New()),
		Surveyor: params.Surveyor,
		Date:     params.Date,
		Notes:    params.Notes,
	}
	if err := s.sectionWrite(s.incidents.AddAppointment(ctx, incidentID, appointment), models.SectionAppointments); err != nil {
		return nil, err
	}
	return &appointment, nil
}

func (s *Service) ListAppointments(ctx context.Context, incidentID id.IncidentID) ([]models.Appointment, error) {
	appointments, err := s.incidents.ListAppointments(ctx, incidentID)
	if err != nil {
		return nil, translate(err, "incident")
	}
	return appointments, nil
}

func (s *Service) sectionWrite(err error, section models.Section) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sentinel.ErrInvalidState) {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "section %s is not attached", section)
	}
	return translate(err, "incident")
}

func (s *Service) recordEvent(ctx context.Context, action audit.Action, recordID, detail string) error {
	if s.recorder == nil {
		return nil
	}
	event := audit.Event{
		Timestamp: requestcontext.Now(ctx),
		Action:    action,
		RecordID:  recordID,
		Actor:     requestcontext.Actor(ctx),
		Detail:    detail,
		RequestID: requestcontext.RequestID(ctx),
	}
	if err := s.recorder.Record(ctx, event); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record audit event")
	}
	return nil
}

func translate(err error, what string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, what+" not found")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load "+what)
}
