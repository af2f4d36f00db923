package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrOwnerNotFound indicates a missing or soft-deleted business owner.
	ErrOwnerNotFound = errors.New("business owner not found")
	// ErrDocumentNotFound indicates a missing or soft-deleted document.
	ErrDocumentNotFound = errors.New("document not found")
	// ErrAttemptNotFound indicates a missing verification attempt.
	ErrAttemptNotFound = errors.New("verification attempt not found")
	// ErrDocumentVerificationNotFound indicates the document is not linked to the attempt.
	ErrDocumentVerificationNotFound = errors.New("document verification not found")
	// ErrCertificateNotFound indicates a missing certificate.
	ErrCertificateNotFound = errors.New("certificate not found")
	// ErrStaleVersion indicates the row changed since the caller last read it.
	ErrStaleVersion = errors.New("stale version")
	// ErrOpenAttemptExists indicates the owner already has an incomplete attempt.
	ErrOpenAttemptExists = errors.New("open verification attempt exists")
	// ErrDuplicate indicates a uniqueness violation not covered by a more specific error.
	ErrDuplicate = errors.New("duplicate record")
)

// Tx is the query surface available inside a store transaction. Every mutating
// call made through the same Tx commits or rolls back together.
//
// Update methods take the version the caller read and write version+1; they
// return ErrStaleVersion when the stored version no longer matches.
type Tx interface {
	InsertOwner(ctx context.Context, rec OwnerRecord) (OwnerRecord, error)
	GetOwner(ctx context.Context, ownerID uuid.UUID) (OwnerRecord, error)
	UpdateOwner(ctx context.Context, rec OwnerRecord, expectedVersion int64) (OwnerRecord, error)
	SoftDeleteOwner(ctx context.Context, ownerID uuid.UUID, expectedVersion int64, deletedAt time.Time, reason string) (OwnerRecord, error)

	InsertDocument(ctx context.Context, rec DocumentRecord) (DocumentRecord, error)
	GetDocument(ctx context.Context, documentID uuid.UUID) (DocumentRecord, error)
	ListDocuments(ctx context.Context, ownerID uuid.UUID) ([]DocumentRecord, error)
	SoftDeleteOwnerDocuments(ctx context.Context, ownerID uuid.UUID, deletedAt time.Time) (int64, error)

	InsertAttempt(ctx context.Context, rec AttemptRecord) (AttemptRecord, error)
	GetAttempt(ctx context.Context, attemptID uuid.UUID) (AttemptRecord, error)
	UpdateAttempt(ctx context.Context, rec AttemptRecord, expectedVersion int64) (AttemptRecord, error)
	FindOpenAttempt(ctx context.Context, ownerID uuid.UUID) (AttemptRecord, error)
	ListAttempts(ctx context.Context, ownerID uuid.UUID) ([]AttemptRecord, error)

	InsertDocumentVerification(ctx context.Context, rec DocumentVerificationRecord) (DocumentVerificationRecord, error)
	GetDocumentVerification(ctx context.Context, attemptID, documentID uuid.UUID) (DocumentVerificationRecord, error)
	UpdateDocumentVerification(ctx context.Context, rec DocumentVerificationRecord, expectedVersion int64) (DocumentVerificationRecord, error)
	ListDocumentVerifications(ctx context.Context, attemptID uuid.UUID) ([]DocumentVerificationRecord, error)
	ListOpenDocumentLinks(ctx context.Context, documentID uuid.UUID) ([]DocumentVerificationRecord, error)

	AppendAuditEntry(ctx context.Context, entry AuditEntryRecord) error
	ListAuditEntries(ctx context.Context, query AuditQuery) ([]AuditEntryRecord, error)

	InsertCertificate(ctx context.Context, rec CertificateRecord) (CertificateRecord, error)
	GetCertificate(ctx context.Context, certificateID uuid.UUID) (CertificateRecord, error)
	LatestCertificate(ctx context.Context, ownerID uuid.UUID) (CertificateRecord, error)
}

// Store runs fn inside a single transaction. The transaction commits only when
// fn returns nil; any error rolls back every write made through tx.
type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

func normalizeAuditLimit(limit int) int {
	if limit <= 0 || limit > 200 {
		return 50
	}
	return limit
}
