// Package audit captures the irreversible actions of the claims core.
//
// Destructive or state-advancing operations (entity deletion, reassignment,
// invoice registration, section detach) append an event through a Recorder.
// The store write participates in the caller's transaction when one is open,
// so a destructive mutation and its audit row commit or roll back together.
// An optional publisher fans events out to Kafka best-effort.
package audit

import (
	"context"
	"log/slog"
	"time"
)

// Action names the operation being recorded.
type Action string

const (
	ActionEntityDeleted     Action = "entity_deleted"
	ActionEntityReassigned  Action = "entity_reassigned"
	ActionInvoiceRegistered Action = "invoice_registered"
	ActionInvoiceSettled    Action = "invoice_settled"
	ActionSettlementCleared Action = "settlement_cleared"
	ActionSectionDetached   Action = "section_detached"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Action    Action    `json:"action"`
	// RecordID is the primary record the action applied to (entity, invoice
	// or incident ID in canonical string form).
	RecordID string `json:"record_id"`
	// Actor is the authenticated caller, empty when auth is disabled.
	Actor string `json:"actor,omitempty"`
	// Detail carries action-specific context, e.g. the replacement entity ID
	// of a reassignment or the detached section name.
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}

// Publisher fans events out to an external sink.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Recorder writes events to the store and, when configured, publishes them.
// Store failures propagate (the surrounding transaction must abort); publish
// failures are logged and swallowed.
type Recorder struct {
	store     Store
	publisher Publisher
	logger    *slog.Logger
}

// NewRecorder constructs a Recorder. publisher may be nil.
func NewRecorder(store Store, publisher Publisher, logger *slog.Logger) *Recorder {
	return &Recorder{store: store, publisher: publisher, logger: logger}
}

// Record appends the event and best-effort publishes it.
func (r *Recorder) Record(ctx context.Context, event Event) error {
	if err := r.store.Append(ctx, event); err != nil {
		return err
	}
	if r.publisher != nil {
		if err := r.publisher.Publish(ctx, event); err != nil && r.logger != nil {
			r.logger.WarnContext(ctx, "audit publish failed",
				"action", event.Action,
				"record_id", event.RecordID,
				"error", err.Error(),
			)
		}
	}
	return nil
}
