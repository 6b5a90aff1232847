package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"pandi/internal/invoice/models"
	"pandi/internal/registry/usage"
	id "pandi/pkg/domain"
	"pandi/pkg/platform/sentinel"
	txcontext "pandi/pkg/platform/tx"
)

// PostgresStore persists invoices in PostgreSQL. Execute locks the invoice
// row with FOR UPDATE for the duration of validate and mutate; the unique
// index on (number, year) backstops concurrent registrations that slip past
// the allocator.
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

const invoiceColumns = `id, incident_id, state, number, year, period_from, period_to,
	contact_id, copy_contact_id, settlement_date, chasing_date, final_invoice,
	created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, inv *models.Invoice) error {
	query := `
		INSERT INTO invoices (` + invoiceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := s.conn(ctx).ExecContext(ctx, query,
		uuid.UUID(inv.ID), uuid.UUID(inv.IncidentID), string(inv.State),
		inv.Number, inv.Year, inv.PeriodFrom, inv.PeriodTo,
		nullEntity(inv.ContactID), nullEntity(inv.CopyContactID),
		inv.SettlementDate, inv.ChasingDate, inv.FinalInvoice,
		inv.CreatedAt, inv.UpdatedAt,
	)
	if err != nil {
		return translateUnique(fmt.Errorf("create invoice: %w", err))
	}
	return s.saveLines(ctx, inv)
}

func (s *PostgresStore) FindByID(ctx context.Context, invoiceID id.InvoiceID) (*models.Invoice, error) {
	return s.findByID(ctx, invoiceID, false)
}

func (s *PostgresStore) findByID(ctx context.Context, invoiceID id.InvoiceID, forUpdate bool) (*models.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	row := s.conn(ctx).QueryRowContext(ctx, query, uuid.UUID(invoiceID))
	inv, err := scanInvoice(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find invoice: %w", err)
	}
	if err := s.loadLines(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *PostgresStore) ListByIncident(ctx context.Context, incidentID id.IncidentID) ([]*models.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE incident_id = $1 ORDER BY created_at`
	rows, err := s.conn(ctx).QueryContext(ctx, query, uuid.UUID(incidentID))
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()
	var out []*models.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, inv := range out {
		if err := s.loadLines(ctx, inv); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *PostgresStore) Update(ctx context.Context, inv *models.Invoice) error {
	query := `
		UPDATE invoices SET state = $2, number = $3, year = $4, period_from = $5,
			period_to = $6, contact_id = $7, copy_contact_id = $8,
			settlement_date = $9, chasing_date = $10, final_invoice = $11, updated_at = $12
		WHERE id = $1
	`
	res, err := s.conn(ctx).ExecContext(ctx, query,
		uuid.UUID(inv.ID), string(inv.State), inv.Number, inv.Year,
		inv.PeriodFrom, inv.PeriodTo,
		nullEntity(inv.ContactID), nullEntity(inv.CopyContactID),
		inv.SettlementDate, inv.ChasingDate, inv.FinalInvoice, inv.UpdatedAt,
	)
	if err != nil {
		return translateUnique(fmt.Errorf("update invoice: %w", err))
	}
	if err := requireRow(res); err != nil {
		return err
	}
	return s.saveLines(ctx, inv)
}

// Execute loads the invoice under FOR UPDATE, runs validate then mutate, and
// saves the result, all inside one transaction. When the context already
// carries a transaction it joins it.
func (s *PostgresStore) Execute(ctx context.Context, invoiceID id.InvoiceID,
	validate func(*models.Invoice) error,
	mutate func(*models.Invoice) error,
) (*models.Invoice, error) {
	if _, ok := txcontext.From(ctx); ok {
		return s.executeLocked(ctx, invoiceID, validate, mutate)
	}
	txn, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	txCtx := txcontext.WithTx(ctx, txn)
	inv, err := s.executeLocked(txCtx, invoiceID, validate, mutate)
	if err != nil {
		_ = txn.Rollback()
		return inv, err
	}
	if err := txn.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return inv, nil
}

func (s *PostgresStore) executeLocked(ctx context.Context, invoiceID id.InvoiceID,
	validate func(*models.Invoice) error,
	mutate func(*models.Invoice) error,
) (*models.Invoice, error) {
	inv, err := s.findByID(ctx, invoiceID, true)
	if err != nil {
		return nil, err
	}
	if err := validate(inv); err != nil {
		return inv, err
	}
	if err := mutate(inv); err != nil {
		return inv, err
	}
	if err := s.Update(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *PostgresStore) loadLines(ctx context.Context, inv *models.Invoice) error {
	feeQuery := `
		SELECT id, correspondent_id, provider_id, unit_type, quantity, cost_cents, description
		FROM fee_lines WHERE invoice_id = $1 ORDER BY position
	`
	rows, err := s.conn(ctx).QueryContext(ctx, feeQuery, uuid.UUID(inv.ID))
	if err != nil {
		return fmt.Errorf("load fee lines: %w", err)
	}
	defer rows.Close()
	inv.FeeLines = nil
	for rows.Next() {
		var line models.FeeLine
		var lineID uuid.UUID
		var correspondent, provider uuid.NullUUID
		if err := rows.Scan(&lineID, &correspondent, &provider,
			&line.UnitType, &line.Quantity, &line.CostCents, &line.Description); err != nil {
			return fmt.Errorf("scan fee line: %w", err)
		}
		line.ID = id.LineID(lineID)
		line.CorrespondentID = entityRef(correspondent)
		line.ProviderID = entityRef(provider)
		inv.FeeLines = append(inv.FeeLines, line)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	disbQuery := `
		SELECT id, payee, amount_cents, description
		FROM disbursement_lines WHERE invoice_id = $1 ORDER BY position
	`
	disbRows, err := s.conn(ctx).QueryContext(ctx, disbQuery, uuid.UUID(inv.ID))
	if err != nil {
		return fmt.Errorf("load disbursement lines: %w", err)
	}
	defer disbRows.Close()
	inv.DisbursementLines = nil
	for disbRows.Next() {
		var line models.DisbursementLine
		var lineID uuid.UUID
		if err := disbRows.Scan(&lineID, &line.Payee, &line.AmountCents, &line.Description); err != nil {
			return fmt.Errorf("scan disbursement line: %w", err)
		}
		line.ID = id.LineID(lineID)
		inv.DisbursementLines = append(inv.DisbursementLines, line)
	}
	return disbRows.Err()
}

// saveLines rewrites both line tables from the model. Line sets are small and
// the rewrite keeps ordering and updates trivially correct.
func (s *PostgresStore) saveLines(ctx context.Context, inv *models.Invoice) error {
	conn := s.conn(ctx)
	if _, err := conn.ExecContext(ctx, `DELETE FROM fee_lines WHERE invoice_id = $1`, uuid.UUID(inv.ID)); err != nil {
		return fmt.Errorf("clear fee lines: %w", err)
	}
	for i, line := range inv.FeeLines {
		_, err := conn.ExecContext(ctx, `
			INSERT INTO fee_lines (id, invoice_id, correspondent_id, provider_id, unit_type, quantity, cost_cents, description, position)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			uuid.UUID(line.ID), uuid.UUID(inv.ID),
			nullEntity(line.CorrespondentID), nullEntity(line.ProviderID),
			string(line.UnitType), line.Quantity, line.CostCents, line.Description, i,
		)
		if err != nil {
			return fmt.Errorf("insert fee line: %w", err)
		}
	}
	if _, err := conn.ExecContext(ctx, `DELETE FROM disbursement_lines WHERE invoice_id = $1`, uuid.UUID(inv.ID)); err != nil {
		return fmt.Errorf("clear disbursement lines: %w", err)
	}
	for i, line := range inv.DisbursementLines {
		_, err := conn.ExecContext(ctx, `
			INSERT INTO disbursement_lines (id, invoice_id, payee, amount_cents, description, position)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			uuid.UUID(line.ID), uuid.UUID(inv.ID), line.Payee, line.AmountCents, line.Description, i,
		)
		if err != nil {
			return fmt.Errorf("insert disbursement line: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) FindReferences(ctx context.Context, role usage.Role, entityID id.EntityID) ([]string, error) {
	var query string
	switch role {
	case usage.RoleContact:
		query = `SELECT id FROM invoices WHERE contact_id = $1 ORDER BY id`
	case usage.RoleCopyContact:
		query = `SELECT id FROM invoices WHERE copy_contact_id = $1 ORDER BY id`
	case usage.RoleCorrespondent:
		query = `SELECT id FROM fee_lines WHERE correspondent_id = $1 ORDER BY id`
	case usage.RoleProvider:
		query = `SELECT id FROM fee_lines WHERE provider_id = $1 ORDER BY id`
	default:
		return nil, fmt.Errorf("invoice store does not serve role %q", role)
	}
	rows, err := s.conn(ctx).QueryContext(ctx, query, uuid.UUID(entityID))
	if err != nil {
		return nil, fmt.Errorf("find references: %w", err)
	}
	defer rows.Close()
	var refs []string
	for rows.Next() {
		var ref uuid.UUID
		if err := rows.Scan(&ref); err != nil {
			return nil, err
		}
		refs = append(refs, ref.String())
	}
	return refs, rows.Err()
}

func (s *PostgresStore) Repoint(ctx context.Context, role usage.Role, recordID string, from, to id.EntityID) error {
	record, err := uuid.Parse(recordID)
	if err != nil {
		return fmt.Errorf("invalid record id %q: %w", recordID, err)
	}
	var query string
	switch role {
	case usage.RoleContact:
		query = `UPDATE invoices SET contact_id = $1 WHERE id = $2 AND contact_id = $3`
	case usage.RoleCopyContact:
		query = `UPDATE invoices SET copy_contact_id = $1 WHERE id = $2 AND copy_contact_id = $3`
	case usage.RoleCorrespondent:
		query = `UPDATE fee_lines SET correspondent_id = $1 WHERE id = $2 AND correspondent_id = $3`
	case usage.RoleProvider:
		query = `UPDATE fee_lines SET provider_id = $1 WHERE id = $2 AND provider_id = $3`
	default:
		return fmt.Errorf("invoice store does not serve role %q", role)
	}
	res, err := s.conn(ctx).ExecContext(ctx, query, uuid.UUID(to), record, uuid.UUID(from))
	if err != nil {
		return fmt.Errorf("repoint %s: %w", role, err)
	}
	return requireRow(res)
}

func scanInvoice(scan func(...any) error) (*models.Invoice, error) {
	var inv models.Invoice
	var invoiceID, incidentID uuid.UUID
	var state string
	var contactID, copyContactID uuid.NullUUID
	if err := scan(&invoiceID, &incidentID, &state, &inv.Number, &inv.Year,
		&inv.PeriodFrom, &inv.PeriodTo, &contactID, &copyContactID,
		&inv.SettlementDate, &inv.ChasingDate, &inv.FinalInvoice,
		&inv.CreatedAt, &inv.UpdatedAt); err != nil {
		return nil, err
	}
	inv.ID = id.InvoiceID(invoiceID)
	inv.IncidentID = id.IncidentID(incidentID)
	inv.State = models.State(state)
	inv.ContactID = entityRef(contactID)
	inv.CopyContactID = entityRef(copyContactID)
	return &inv, nil
}

func nullEntity(ref *id.EntityID) uuid.NullUUID {
	if ref == nil || ref.IsNil() {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: uuid.UUID(*ref), Valid: true}
}

func entityRef(v uuid.NullUUID) *id.EntityID {
	if !v.Valid {
		return nil
	}
	ref := id.EntityID(v.UUID)
	return &ref
}

// translateUnique surfaces a (number, year) collision as a conflict the
// service maps to CodeConflict.
func translateUnique(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return sentinel.ErrConflict
	}
	return err
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
