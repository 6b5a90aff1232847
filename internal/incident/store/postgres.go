package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"pandi/internal/incident/models"
	"pandi/internal/registry/usage"
	id "pandi/pkg/domain"
	"pandi/pkg/platform/sentinel"
	txcontext "pandi/pkg/platform/tx"
)

// roleColumns is the closed map from usage roles to incident columns. Adding a
// reference column means adding one row here and in the usage role table.
var roleColumns = map[usage.Role]string{
	usage.RoleVessel:       "vessel_id",
	usage.RoleMember:       "member_id",
	usage.RoleManager:      "manager_id",
	usage.RoleLocalAgent:   "local_agent_id",
	usage.RoleClaimHandler: "claim_handler_id",
	usage.RoleClub:         "club_id",
	usage.RoleOffice:       "office_id",
	usage.RoleTrader:       "trader_id",
}

var sectionChildTables = map[models.Section]string{
	models.SectionCargo:        "incident_cargo",
	models.SectionClaim:        "incident_claims",
	models.SectionComments:     "incident_comments",
	models.SectionAppointments: "incident_appointments",
}

// PostgresStore persists incidents and their sections in PostgreSQL. All
// statements honor the transaction in context; DetachSection relies on the
// caller's transaction for its all-or-nothing guarantee.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) conn(ctx context.Context) dbConn {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func nullEntity(ref *id.EntityID) any {
	if ref == nil {
		return nil
	}
	return uuid.UUID(*ref)
}

func scanEntityRef(raw *uuid.NullUUID) *id.EntityID {
	if !raw.Valid {
		return nil
	}
	ref := id.EntityID(raw.UUID)
	return &ref
}

func (s *PostgresStore) Create(ctx context.Context, incident *models.Incident) error {
	query := `
		INSERT INTO incidents (
			id, reference, occurred_at, description,
			vessel_id, member_id, manager_id, local_agent_id,
			claim_handler_id, club_id, office_id, trader_id,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := s.conn(ctx).ExecContext(ctx, query,
		uuid.UUID(incident.ID), incident.Reference, incident.OccurredAt, incident.Description,
		nullEntity(incident.VesselID), nullEntity(incident.MemberID), nullEntity(incident.ManagerID),
		nullEntity(incident.LocalAgentID), nullEntity(incident.ClaimHandlerID), nullEntity(incident.ClubID),
		nullEntity(incident.OfficeID), nullEntity(incident.TraderID),
		incident.CreatedAt, incident.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create incident: %w", err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, incident *models.Incident) error {
	query := `
		UPDATE incidents SET
			reference = $2, occurred_at = $3, description = $4,
			vessel_id = $5, member_id = $6, manager_id = $7, local_agent_id = $8,
			claim_handler_id = $9, club_id = $10, office_id = $11, trader_id = $12,
			updated_at = $13
		WHERE id = $1
	`
	res, err := s.conn(ctx).ExecContext(ctx, query,
		uuid.UUID(incident.ID), incident.Reference, incident.OccurredAt, incident.Description,
		nullEntity(incident.VesselID), nullEntity(incident.MemberID), nullEntity(incident.ManagerID),
		nullEntity(incident.LocalAgentID), nullEntity(incident.ClaimHandlerID), nullEntity(incident.ClubID),
		nullEntity(incident.OfficeID), nullEntity(incident.TraderID),
		incident.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update incident: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) FindByID(ctx context.Context, incidentID id.IncidentID) (*models.Incident, error) {
	query := `
		SELECT id, reference, occurred_at, description,
			vessel_id, member_id, manager_id, local_agent_id,
			claim_handler_id, club_id, office_id, trader_id,
			created_at, updated_at
		FROM incidents WHERE id = $1
	`
	row := s.conn(ctx).QueryRowContext(ctx, query, uuid.UUID(incidentID))

	var incident models.Incident
	var rawID uuid.UUID
	var vessel, member, manager, agent, handler, club, office, trader uuid.NullUUID
	err := row.Scan(
		&rawID, &incident.Reference, &incident.OccurredAt, &incident.Description,
		&vessel, &member, &manager, &agent, &handler, &club, &office, &trader,
		&incident.CreatedAt, &incident.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find incident by id: %w", err)
	}
	incident.ID = id.IncidentID(rawID)
	incident.VesselID = scanEntityRef(&vessel)
	incident.MemberID = scanEntityRef(&member)
	incident.ManagerID = scanEntityRef(&manager)
	incident.LocalAgentID = scanEntityRef(&agent)
	incident.ClaimHandlerID = scanEntityRef(&handler)
	incident.ClubID = scanEntityRef(&club)
	incident.OfficeID = scanEntityRef(&office)
	incident.TraderID = scanEntityRef(&trader)
	return &incident, nil
}

func (s *PostgresStore) Sections(ctx context.Context, incidentID id.IncidentID) (map[models.Section]bool, error) {
	if _, err := s.FindByID(ctx, incidentID); err != nil {
		return nil, err
	}
	rows, err := s.conn(ctx).QueryContext(ctx,
		`SELECT section FROM incident_sections WHERE incident_id = $1`, uuid.UUID(incidentID))
	if err != nil {
		return nil, fmt.Errorf("list sections: %w", err)
	}
	defer rows.Close()

	out := make(map[models.Section]bool, len(models.AllSections))
	for _, section := range models.AllSections {
		out[section] = false
	}
	for rows.Next() {
		var section string
		if err := rows.Scan(&section); err != nil {
			return nil, fmt.Errorf("scan section: %w", err)
		}
		out[models.Section(section)] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sections: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) AttachSection(ctx context.Context, incidentID id.IncidentID, section models.Section) (bool, error) {
	if _, err := s.FindByID(ctx, incidentID); err != nil {
		return false, err
	}
	res, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO incident_sections (incident_id, section)
		VALUES ($1, $2)
		ON CONFLICT (incident_id, section) DO NOTHING
	`, uuid.UUID(incidentID), string(section))
	if err != nil {
		return false, fmt.Errorf("attach section: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 0, nil
}

// DetachSection removes child rows and the attachment marker. The caller must
// run it inside a transaction; a failure after the child delete rolls the
// whole cascade back.
func (s *PostgresStore) DetachSection(ctx context.Context, incidentID id.IncidentID, section models.Section) (int, error) {
	table, ok := sectionChildTables[section]
	if !ok {
		return 0, sentinel.ErrInvalidState
	}
	res, err := s.conn(ctx).ExecContext(ctx,
		`DELETE FROM `+table+` WHERE incident_id = $1`, uuid.UUID(incidentID))
	if err != nil {
		return 0, fmt.Errorf("cascade section children: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	marker, err := s.conn(ctx).ExecContext(ctx, `
		DELETE FROM incident_sections WHERE incident_id = $1 AND section = $2
	`, uuid.UUID(incidentID), string(section))
	if err != nil {
		return 0, fmt.Errorf("detach section: %w", err)
	}
	n, err := marker.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return 0, sentinel.ErrInvalidState
	}
	return int(removed), nil
}

func (s *PostgresStore) requireAttached(ctx context.Context, incidentID id.IncidentID, section models.Section) error {
	var attached bool
	err := s.conn(ctx).QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM incident_sections WHERE incident_id = $1 AND section = $2
		)
	`, uuid.UUID(incidentID), string(section)).Scan(&attached)
	if err != nil {
		return fmt.Errorf("check section: %w", err)
	}
	if !attached {
		return sentinel.ErrInvalidState
	}
	return nil
}

func (s *PostgresStore) SetCargo(ctx context.Context, incidentID id.IncidentID, cargo models.Cargo) error {
	if err := s.requireAttached(ctx, incidentID, models.SectionCargo); err != nil {
		return err
	}
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO incident_cargo (incident_id, cargo_type, quantity, description)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (incident_id) DO UPDATE SET
			cargo_type = EXCLUDED.cargo_type,
			quantity = EXCLUDED.quantity,
			description = EXCLUDED.description
	`, uuid.UUID(incidentID), cargo.CargoType, cargo.Quantity, cargo.Description)
	if err != nil {
		return fmt.Errorf("set cargo: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCargo(ctx context.Context, incidentID id.IncidentID) (*models.Cargo, error) {
	var cargo models.Cargo
	err := s.conn(ctx).QueryRowContext(ctx, `
		SELECT cargo_type, quantity, description FROM incident_cargo WHERE incident_id = $1
	`, uuid.UUID(incidentID)).Scan(&cargo.CargoType, &cargo.Quantity, &cargo.Description)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get cargo: %w", err)
	}
	return &cargo, nil
}

func (s *PostgresStore) SetClaim(ctx context.Context, incidentID id.IncidentID, claim models.Claim) error {
	if err := s.requireAttached(ctx, incidentID, models.SectionClaim); err != nil {
		return err
	}
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO incident_claims (incident_id, claimant, amount_cents, description)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (incident_id) DO UPDATE SET
			claimant = EXCLUDED.claimant,
			amount_cents = EXCLUDED.amount_cents,
			description = EXCLUDED.description
	`, uuid.UUID(incidentID), claim.Claimant, claim.AmountCents, claim.Description)
	if err != nil {
		return fmt.Errorf("set claim: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetClaim(ctx context.Context, incidentID id.IncidentID) (*models.Claim, error) {
	var claim models.Claim
	err := s.conn(ctx).QueryRowContext(ctx, `
		SELECT claimant, amount_cents, description FROM incident_claims WHERE incident_id = $1
	`, uuid.UUID(incidentID)).Scan(&claim.Claimant, &claim.AmountCents, &claim.Description)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get claim: %w", err)
	}
	return &claim, nil
}

func (s *PostgresStore) AddComment(ctx context.Context, incidentID id.IncidentID, comment models.Comment) error {
	if err := s.requireAttached(ctx, incidentID, models.SectionComments); err != nil {
		return err
	}
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO incident_comments (id, incident_id, author, body, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.UUID(comment.ID), uuid.UUID(incidentID), comment.Author, comment.Body, comment.CreatedAt)
	if err != nil {
		return fmt.Errorf("add comment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListComments(ctx context.Context, incidentID id.IncidentID) ([]models.Comment, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT id, author, body, created_at FROM incident_comments
		WHERE incident_id = $1 ORDER BY created_at
	`, uuid.UUID(incidentID))
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	var out []models.Comment
	for rows.Next() {
		var comment models.Comment
		var rawID uuid.UUID
		if err := rows.Scan(&rawID, &comment.Author, &comment.Body, &comment.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		comment.ID = id.LineID(rawID)
		out = append(out, comment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) AddAppointment(ctx context.Context, incidentID id.IncidentID, appointment models.Appointment) error {
	if err := s.requireAttached(ctx, incidentID, models.SectionAppointments); err != nil {
		return err
	}
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO incident_appointments (id, incident_id, surveyor, appointment_date, notes)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.UUID(appointment.ID), uuid.UUID(incidentID), appointment.Surveyor, appointment.Date, appointment.Notes)
	if err != nil {
		return fmt.Errorf("add appointment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAppointments(ctx context.Context, incidentID id.IncidentID) ([]models.Appointment, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT id, surveyor, appointment_date, notes FROM incident_appointments
		WHERE incident_id = $1 ORDER BY appointment_date
	`, uuid.UUID(incidentID))
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()

	var out []models.Appointment
	for rows.Next() {
		var appointment models.Appointment
		var rawID uuid.UUID
		if err := rows.Scan(&rawID, &appointment.Surveyor, &appointment.Date, &appointment.Notes); err != nil {
			return nil, fmt.Errorf("scan appointment: %w", err)
		}
		appointment.ID = id.LineID(rawID)
		out = append(out, appointment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate appointments: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) FindReferences(ctx context.Context, role usage.Role, entityID id.EntityID) ([]string, error) {
	column, ok := roleColumns[role]
	if !ok {
		return nil, nil
	}
	rows, err := s.conn(ctx).QueryContext(ctx,
		`SELECT id FROM incidents WHERE `+column+` = $1 ORDER BY id`, uuid.UUID(entityID))
	if err != nil {
		return nil, fmt.Errorf("find references for role %s: %w", role, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var rawID uuid.UUID
		if err := rows.Scan(&rawID); err != nil {
			return nil, fmt.Errorf("scan reference: %w", err)
		}
		out = append(out, rawID.String())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate references: %w", err)
	}
	return out, nil
}

// Repoint updates exactly one (record, role) pair. The WHERE clause pins both
// the record and the current value, so a concurrent edit makes this a no-op
// rather than an overwrite, and other roles are never touched.
func (s *PostgresStore) Repoint(ctx context.Context, role usage.Role, recordID string, from, to id.EntityID) error {
	column, ok := roleColumns[role]
	if !ok {
		return sentinel.ErrInvalidState
	}
	incidentID, err := id.ParseIncidentID(recordID)
	if err != nil {
		return err
	}
	_, err = s.conn(ctx).ExecContext(ctx,
		`UPDATE incidents SET `+column+` = $1 WHERE id = $2 AND `+column+` = $3`,
		uuid.UUID(to), uuid.UUID(incidentID), uuid.UUID(from))
	if err != nil {
		return fmt.Errorf("repoint %s: %w", role, err)
	}
	return nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
