// Package domain defines the typed identifiers shared across features.
//
// IDs are distinct types over uuid.UUID so that an entity ID can never be
// passed where an incident or invoice ID is expected. Parsing enforces the
// invariant that IDs are valid, non-nil UUIDs at trust boundaries.
package domain

import (
	"github.com/google/uuid"

	dErrors "pandi/pkg/domain-errors"
)

// EntityID identifies a reference entity (vessel, member, agent, ...).
type EntityID uuid.UUID

// IncidentID identifies a case record.
type IncidentID uuid.UUID

// InvoiceID identifies a financial document.
type InvoiceID uuid.UUID

// LineID identifies a fee or disbursement line.
type LineID uuid.UUID

func parseUUID(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id is required")
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "id is not a valid uuid")
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must not be the nil uuid")
	}
	return parsed, nil
}

// ParseEntityID parses and validates an entity ID string.
func ParseEntityID(raw string) (EntityID, error) {
	parsed, err := parseUUID(raw)
	return EntityID(parsed), err
}

// ParseIncidentID parses and validates an incident ID string.
func ParseIncidentID(raw string) (IncidentID, error) {
	parsed, err := parseUUID(raw)
	return IncidentID(parsed), err
}

// ParseInvoiceID parses and validates an invoice ID string.
func ParseInvoiceID(raw string) (InvoiceID, error) {
	parsed, err := parseUUID(raw)
	return InvoiceID(parsed), err
}

// ParseLineID parses and validates a line ID string.
func ParseLineID(raw string) (LineID, error) {
	parsed, err := parseUUID(raw)
	return LineID(parsed), err
}

func (id EntityID) String() string   { return uuid.UUID(id).String() }
func (id IncidentID) String() string { return uuid.UUID(id).String() }
func (id InvoiceID) String() string  { return uuid.UUID(id).String() }
func (id LineID) String() string     { return uuid.UUID(id).String() }

func (id EntityID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id IncidentID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id InvoiceID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id LineID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }

// MarshalText/UnmarshalText keep JSON bodies using the canonical string form.

func (id EntityID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id *EntityID) UnmarshalText(b []byte) error {
	parsed, err := ParseEntityID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id IncidentID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id *IncidentID) UnmarshalText(b []byte) error {
	parsed, err := ParseIncidentID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id InvoiceID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id *InvoiceID) UnmarshalText(b []byte) error {
	parsed, err := ParseInvoiceID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id LineID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id *LineID) UnmarshalText(b []byte) error {
	parsed, err := ParseLineID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
