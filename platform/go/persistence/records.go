package persistence

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// OwnerRecord mirrors a row of the business_owners table.
// DeletedAt is nil for live rows; soft-deleted rows are never returned by Tx.GetOwner.
type OwnerRecord struct {
	OwnerID               uuid.UUID  `json:"ownerId"`
	FirstName             string     `json:"firstName"`
	LastName              string     `json:"lastName"`
	Email                 string     `json:"email"`
	Phone                 string     `json:"phone"`
	Address               string     `json:"address"`
	TaxID                 string     `json:"taxId"`
	IDLicenseNumber       string     `json:"idLicenseNumber"`
	VerificationStatus    string     `json:"verificationStatus"`
	LastVerifiedAt        *time.Time `json:"lastVerifiedAt"`
	VerificationExpiresAt *time.Time `json:"verificationExpiresAt"`
	AssignedManagerID     string     `json:"assignedManagerId"`
	Version               int64      `json:"version"`
	CreatedAt             time.Time  `json:"createdAt"`
	UpdatedAt             time.Time  `json:"updatedAt"`
	DeletedAt             *time.Time `json:"deletedAt"`
	DeletionReason        *string    `json:"deletionReason"`
}

// DocumentRecord mirrors a row of the documents table.
type DocumentRecord struct {
	DocumentID   uuid.UUID  `json:"documentId"`
	OwnerID      uuid.UUID  `json:"ownerId"`
	Name         string     `json:"name"`
	DocumentType string     `json:"documentType"`
	StorageKey   string     `json:"storageKey"`
	UploadedBy   string     `json:"uploadedBy"`
	Version      int64      `json:"version"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	DeletedAt    *time.Time `json:"deletedAt"`
}

// SectionRecord is the persisted shape of one verification section.
type SectionRecord struct {
	Status      string     `json:"status"`
	Notes       *string    `json:"notes,omitempty"`
	LastUpdated *time.Time `json:"lastUpdated,omitempty"`
}

// SectionsRecord is stored as JSONB; field names are part of the exchanged contract.
type SectionsRecord struct {
	Identity            SectionRecord `json:"identity"`
	Address             SectionRecord `json:"address"`
	BusinessAffiliation SectionRecord `json:"businessAffiliation"`
}

// AttemptRecord mirrors a row of the verification_attempts table.
type AttemptRecord struct {
	AttemptID       uuid.UUID       `json:"attemptId"`
	OwnerID         uuid.UUID       `json:"ownerId"`
	InitiatedAt     time.Time       `json:"initiatedAt"`
	InitiatedBy     string          `json:"initiatedBy"`
	InitiatedByName string          `json:"initiatedByName"`
	CompletedAt     *time.Time      `json:"completedAt"`
	Decision        string          `json:"decision"`
	DecisionReason  *string         `json:"decisionReason"`
	Sections        SectionsRecord  `json:"sections"`
	DraftData       json.RawMessage `json:"draftData"`
	Version         int64           `json:"version"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// IsOpen reports whether the attempt has not been completed yet.
func (a AttemptRecord) IsOpen() bool {
	return a.CompletedAt == nil
}

// DocumentVerificationRecord mirrors a row of the document_verifications table.
type DocumentVerificationRecord struct {
	DocumentVerificationID uuid.UUID `json:"documentVerificationId"`
	AttemptID              uuid.UUID `json:"verificationAttemptId"`
	DocumentID             uuid.UUID `json:"documentId"`
	Status                 string    `json:"status"`
	Notes                  string    `json:"notes"`
	Version                int64     `json:"version"`
	CreatedAt              time.Time `json:"createdAt"`
	UpdatedAt              time.Time `json:"updatedAt"`
}

// FieldChange captures the old and new value of a single field.
type FieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// AuditEntryRecord mirrors a row of the audit_log table. Entries are write-once.
type AuditEntryRecord struct {
	EntryID         string                 `json:"id"`
	EntityType      string                 `json:"entityType"`
	EntityID        string                 `json:"entityId"`
	OwnerID         uuid.UUID              `json:"ownerId"`
	Action          string                 `json:"action"`
	PerformedBy     string                 `json:"performedBy"`
	PerformedByName string                 `json:"performedByName"`
	PerformedByRole string                 `json:"performedByRole"`
	FieldChanges    map[string]FieldChange `json:"fieldChanges"`
	Metadata        map[string]any         `json:"metadata,omitempty"`
	Timestamp       time.Time              `json:"timestamp"`
}

// CertificateRecord mirrors a row of the certificates table.
type CertificateRecord struct {
	CertificateID    uuid.UUID `json:"certificateId"`
	OwnerID          uuid.UUID `json:"ownerId"`
	AttemptID        uuid.UUID `json:"attemptId"`
	IssuedAt         time.Time `json:"issuedAt"`
	ExpiresAt        time.Time `json:"expiresAt"`
	VerificationHash string    `json:"verificationHash"`
	ValidationURL    string    `json:"validationUrl"`
}

// AuditQuery filters audit log reads. Empty strings match everything.
type AuditQuery struct {
	EntityType string
	EntityID   string
	OwnerID    uuid.UUID
	Limit      int
	Offset     int
}
