package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/zenGate-Global/permitdesk/platform/go/ids"
	"github.com/zenGate-Global/permitdesk/platform/go/metrics"
	"github.com/zenGate-Global/permitdesk/platform/go/persistence"
	"github.com/zenGate-Global/permitdesk/platform/go/requesttrace"
)

// Action is the kind of mutation an entry records.
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// Entity types recorded in the audit log.
const (
	EntityBusinessOwner        = "BusinessOwner"
	EntityDocument             = "Document"
	EntityVerificationAttempt  = "VerificationAttempt"
	EntityDocumentVerification = "DocumentVerification"
)

// Entry describes one mutation to one entity.
type Entry struct {
	EntityType string
	EntityID   string
	OwnerID    uuid.UUID
	Action     Action
	Changes    map[string]persistence.FieldChange
	Metadata   map[string]any
	// At defaults to the writer clock when zero.
	At time.Time
}

// Writer builds audit rows and appends them through the caller's transaction.
// There is no path that writes an entry outside a transaction.
type Writer struct {
	clock   clockwork.Clock
	metrics *metrics.Metrics
}

// NewWriter returns a writer. A nil clock uses the real clock; nil metrics records nothing.
func NewWriter(clock clockwork.Clock, m *metrics.Metrics) *Writer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Writer{clock: clock, metrics: m}
}

// Begin scopes appends to tx and the acting principal.
func (w *Writer) Begin(tx persistence.Tx, actor requesttrace.AuditInfo) *Batch {
	if tx == nil {
		panic("audit.Begin: tx is required")
	}
	return &Batch{writer: w, tx: tx, actor: actor}
}

// Batch collects the entries appended during one transaction.
type Batch struct {
	writer   *Writer
	tx       persistence.Tx
	actor    requesttrace.AuditInfo
	appended []persistence.AuditEntryRecord
}

// Append writes e through the transaction. An UPDATE with no changes writes
// nothing and reports false; CREATE and DELETE always write.
func (b *Batch) Append(ctx context.Context, e Entry) (bool, error) {
	if e.EntityType == "" || e.EntityID == "" {
		return false, errors.New("audit entry requires entity type and id")
	}
	switch e.Action {
	case ActionCreate, ActionDelete:
	case ActionUpdate:
		if len(e.Changes) == 0 {
			return false, nil
		}
	default:
		return false, fmt.Errorf("unknown audit action %q", e.Action)
	}

	at := e.At
	if at.IsZero() {
		at = b.writer.clock.Now()
	}
	at = at.UTC()

	entryID, err := ids.NewAuditEntryID(at)
	if err != nil {
		return false, err
	}

	changes := e.Changes
	if changes == nil {
		changes = map[string]persistence.FieldChange{}
	}

	rec := persistence.AuditEntryRecord{
		EntryID:         entryID,
		EntityType:      e.EntityType,
		EntityID:        e.EntityID,
		OwnerID:         e.OwnerID,
		Action:          string(e.Action),
		PerformedBy:     b.actor.ActorID(),
		PerformedByName: b.actor.UserName,
		PerformedByRole: b.actor.Role,
		FieldChanges:    changes,
		Metadata:        e.Metadata,
		Timestamp:       at,
	}

	if err := b.tx.AppendAuditEntry(ctx, rec); err != nil {
		return false, fmt.Errorf("append audit entry: %w", err)
	}
	b.appended = append(b.appended, rec)
	return true, nil
}

// Entries returns the entries appended so far.
func (b *Batch) Entries() []persistence.AuditEntryRecord {
	return append([]persistence.AuditEntryRecord(nil), b.appended...)
}

// Committed records metrics for the appended entries. Call it only after the
// enclosing transaction committed.
func (b *Batch) Committed() {
	for _, rec := range b.appended {
		b.writer.metrics.IncAuditEntry(rec.EntityType, rec.Action)
	}
}
