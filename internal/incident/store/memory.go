package store

import (
	"context"
	"sync"

	"pandi/internal/incident/models"
	"pandi/internal/registry/usage"
	id "pandi/pkg/domain"
	"pandi/pkg/platform/sentinel"
)

type incidentState struct {
	incident     models.Incident
	sections     map[models.Section]bool
	cargo        *models.Cargo
	claim        *models.Claim
	comments     []models.Comment
	appointments []models.Appointment
}

// InMemory is the map-backed incident store. Section detach mutates a staged
// copy and swaps it in only on success, so a forced failure leaves no partial
// cascade behind.
type InMemory struct {
	mu        sync.RWMutex
	incidents map[id.IncidentID]*incidentState

	// detachFault, when set, is invoked mid-cascade to simulate a store
	// failure. Test hook.
	detachFault func(incidentID id.IncidentID, section models.Section) error
}

// Option configures the in-memory store.
type Option func(*InMemory)

// WithDetachFault injects a failure into the detach cascade.
func WithDetachFault(fault func(id.IncidentID, models.Section) error) Option {
	return func(s *InMemory) { s.detachFault = fault }
}

func NewInMemory(opts ...Option) *InMemory {
	s := &InMemory{incidents: make(map[id.IncidentID]*incidentState)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InMemory) Create(_ context.Context, incident *models.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.incidents[incident.ID]; exists {
		return sentinel.ErrConflict
	}
	s.incidents[incident.ID] = &incidentState{
		incident: *incident,
		sections: make(map[models.Section]bool),
	}
	return nil
}

func (s *InMemory) Update(_ context.Context, incident *models.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.incidents[incident.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	state.incident = *incident
	return nil
}

func (s *InMemory) FindByID(_ context.Context, incidentID id.IncidentID) (*models.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.incidents[incidentID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	clone := state.incident
	return &clone, nil
}

func (s *InMemory) Sections(_ context.Context, incidentID id.IncidentID) (map[models.Section]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.incidents[incidentID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := make(map[models.Section]bool, len(models.AllSections))
	for _, section := range models.AllSections {
		out[section] = state.sections[section]
	}
	return out, nil
}

func (s *InMemory) AttachSection(_ context.Context, incidentID id.IncidentID, section models.Section) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.incidents[incidentID]
	if !ok {
		return false, sentinel.ErrNotFound
	}
	if state.sections[section] {
		return true, nil
	}
	state.sections[section] = true
	return false, nil
}

func (s *InMemory) DetachSection(_ context.Context, incidentID id.IncidentID, section models.Section) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.incidents[incidentID]
	if !ok {
		return 0, sentinel.ErrNotFound
	}
	if !state.sections[section] {
		return 0, sentinel.ErrInvalidState
	}

	// Count child rows, then apply the whole cascade in one swap. The fault
	// hook fires before anything is mutated, mirroring a mid-transaction
	// failure that must leave no orphans.
	var removed int
	switch section {
	case models.SectionCargo:
		if state.cargo != nil {
			removed = 1
		}
	case models.SectionClaim:
		if state.claim != nil {
			removed = 1
		}
	case models.SectionComments:
		removed = len(state.comments)
	case models.SectionAppointments:
		removed = len(state.appointments)
	}

	if s.detachFault != nil {
		if err := s.detachFault(incidentID, section); err != nil {
			return 0, err
		}
	}

	switch section {
	case models.SectionCargo:
		state.cargo = nil
	case models.SectionClaim:
		state.claim = nil
	case models.SectionComments:
		state.comments = nil
	case models.SectionAppointments:
		state.appointments = nil
	}
	delete(state.sections, section)
	return removed, nil
}

func (s *InMemory) SetCargo(_ context.Context, incidentID id.IncidentID, cargo models.Cargo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.incidents[incidentID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if !state.sections[models.SectionCargo] {
		return sentinel.ErrInvalidState
	}
	state.cargo = &cargo
	return nil
}

func (s *InMemory) GetCargo(_ context.Context, incidentID id.IncidentID) (*models.Cargo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.incidents[incidentID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if state.cargo == nil {
		return nil, sentinel.ErrNotFound
	}
	clone := *state.cargo
	return &clone, nil
}

func (s *InMemory) SetClaim(_ context.Context, incidentID id.IncidentID, claim models.Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.incidents[incidentID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if !state.sections[models.SectionClaim] {
		return sentinel.ErrInvalidState
	}
	state.claim = &claim
	return nil
}

func (s *InMemory) GetClaim(_ context.Context, incidentID id.IncidentID) (*models.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.incidents[incidentID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if state.claim == nil {
		return nil, sentinel.ErrNotFound
	}
	clone := *state.claim
	return &clone, nil
}

func (s *InMemory) AddComment(_ context.Context, incidentID id.IncidentID, comment models.Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.incidents[incidentID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if !state.sections[models.SectionComments] {
		return sentinel.ErrInvalidState
	}
	state.comments = append(state.comments, comment)
	return nil
}

func (s *InMemory) ListComments(_ context.Context, incidentID id.IncidentID) ([]models.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.incidents[incidentID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return append([]models.Comment{}, state.comments...), nil
}

func (s *InMemory) AddAppointment(_ context.Context, incidentID id.IncidentID, appointment models.Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.incidents[incidentID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if !state.sections[models.SectionAppointments] {
		return sentinel.ErrInvalidState
	}
	state.appointments = append(state.appointments, appointment)
	return nil
}

func (s *InMemory) ListAppointments(_ context.Context, incidentID id.IncidentID) ([]models.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.incidents[incidentID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return append([]models.Appointment{}, state.appointments...), nil
}

// roleField maps a usage role onto the incident column holding it.
func roleField(incident *models.Incident, role usage.Role) **id.EntityID {
	switch role {
	case usage.RoleVessel:
		return &incident.VesselID
	case usage.RoleMember:
		return &incident.MemberID
	case usage.RoleManager:
		return &incident.ManagerID
	case usage.RoleLocalAgent:
		return &incident.LocalAgentID
	case usage.RoleClaimHandler:
		return &incident.ClaimHandlerID
	case usage.RoleClub:
		return &incident.ClubID
	case usage.RoleOffice:
		return &incident.OfficeID
	case usage.RoleTrader:
		return &incident.TraderID
	default:
		return nil
	}
}

func (s *InMemory) FindReferences(_ context.Context, role usage.Role, entityID id.EntityID) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, state := range s.incidents {
		field := roleField(&state.incident, role)
		if field == nil {
			continue
		}
		if ref := *field; ref != nil && *ref == entityID {
			out = append(out, state.incident.ID.String())
		}
	}
	return out, nil
}

// Repoint updates exactly one (record, role) pair. Other roles on the same
// incident are untouched even when they reference the same entity.
func (s *InMemory) Repoint(_ context.Context, role usage.Role, recordID string, from, to id.EntityID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	incidentID, err := id.ParseIncidentID(recordID)
	if err != nil {
		return err
	}
	state, ok := s.incidents[incidentID]
	if !ok {
		return sentinel.ErrNotFound
	}
	field := roleField(&state.incident, role)
	if field == nil {
		return sentinel.ErrInvalidState
	}
	if ref := *field; ref != nil && *ref == from {
		target := to
		*field = &target
	}
	return nil
}
