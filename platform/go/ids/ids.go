package ids

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
)

// NewEntityID returns a random UUID for owners, documents, attempts and certificates.
func NewEntityID() uuid.UUID {
	return uuid.New()
}

// NewAuditEntryID returns a KSUID stamped with ts. KSUIDs sort lexically by
// time, so ordering audit rows by id also orders them chronologically.
func NewAuditEntryID(ts time.Time) (string, error) {
	id, err := ksuid.NewRandomWithTime(ts)
	if err != nil {
		return "", fmt.Errorf("generate audit entry id: %w", err)
	}
	return id.String(), nil
}

// AuditEntryTime extracts the timestamp embedded in an audit entry id (second precision).
func AuditEntryTime(id string) (time.Time, error) {
	parsed, err := ksuid.Parse(id)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse audit entry id: %w", err)
	}
	return parsed.Time(), nil
}
