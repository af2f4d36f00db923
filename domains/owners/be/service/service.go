package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/zenGate-Global/permitdesk/platform/go/audit"
	"github.com/zenGate-Global/permitdesk/platform/go/ids"
	"github.com/zenGate-Global/permitdesk/platform/go/persistence"
	"github.com/zenGate-Global/permitdesk/platform/go/requesttrace"
	"github.com/zenGate-Global/permitdesk/platform/go/storage"
)

// FieldErrors maps request fields to validation issues.
type FieldErrors map[string][]string

// ValidationError is returned when the input payload is invalid.
type ValidationError struct {
	Fields FieldErrors
}

func (v *ValidationError) Error() string {
	return "validation error"
}

// OpenAttemptError is returned when an owner cannot be deleted because a
// verification attempt is still in progress.
type OpenAttemptError struct {
	AttemptID uuid.UUID
}

func (e *OpenAttemptError) Error() string {
	return fmt.Sprintf("verification attempt %s is still open", e.AttemptID)
}

func (e *OpenAttemptError) Unwrap() error {
	return ErrConflict
}

// Domain sentinel errors.
var (
	ErrNotFound     = errors.New("business owner not found")
	ErrConflict     = errors.New("business owner conflict")
	ErrUnauthorized = errors.New("caller does not manage this business owner")
)

// Verification statuses an owner can hold.
const (
	StatusUnverified = "UNVERIFIED"
	StatusPending    = "PENDING_VERIFICATION"
	StatusVerified   = "VERIFIED"
	StatusRejected   = "REJECTED"
	StatusNeedsInfo  = "NEEDS_INFO"
)

// sensitiveFields are masked in every view and audit entry.
var sensitiveFields = []string{"taxId", "idLicenseNumber"}

// Owner is the domain view of a business owner. Sensitive identifiers are masked.
type Owner struct {
	ID                    uuid.UUID
	FirstName             string
	LastName              string
	Email                 string
	Phone                 string
	Address               string
	TaxID                 string
	IDLicenseNumber       string
	VerificationStatus    string
	LastVerifiedAt        *time.Time
	VerificationExpiresAt *time.Time
	AssignedManagerID     string
	Version               int64
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Document is the metadata of an uploaded owner document.
type Document struct {
	ID           uuid.UUID
	OwnerID      uuid.UUID
	Name         string
	DocumentType string
	StorageKey   string
	UploadedBy   string
	CreatedAt    time.Time
}

// AuditEntry is one row of an owner's audit trail.
type AuditEntry = persistence.AuditEntryRecord

// CreateInput represents the payload required to register a business owner.
type CreateInput struct {
	FirstName       string
	LastName        string
	Email           string
	Phone           string
	Address         string
	TaxID           string
	IDLicenseNumber string
}

// UpdateInput is a partial patch; nil fields are left untouched.
// ExpectedVersion, when set, must match the stored version.
type UpdateInput struct {
	FirstName       *string
	LastName        *string
	Email           *string
	Phone           *string
	Address         *string
	TaxID           *string
	IDLicenseNumber *string
	ExpectedVersion *int64
}

// UpdateResult carries the updated owner and the changes that were audited.
type UpdateResult struct {
	Owner   Owner
	Changes map[string]persistence.FieldChange
}

// DeleteInput carries the mandatory deletion reason.
type DeleteInput struct {
	Reason          string
	ExpectedVersion *int64
}

// DeleteResult summarises a soft delete.
type DeleteResult struct {
	OwnerID                      uuid.UUID
	DeletedAt                    time.Time
	DocumentsDeleted             int64
	VerificationAttemptsRetained int
}

// RegisterDocumentInput describes an already uploaded blob.
type RegisterDocumentInput struct {
	Name         string
	DocumentType string
	StorageKey   string
}

// AuditQuery filters an owner's audit trail.
type AuditQuery struct {
	OwnerID    uuid.UUID
	EntityType string
	EntityID   string
	Limit      int
	Offset     int
}

// Service defines the business operations for the owners domain.
type Service interface {
	Create(ctx context.Context, actor requesttrace.AuditInfo, input CreateInput) (Owner, error)
	Get(ctx context.Context, actor requesttrace.AuditInfo, ownerID uuid.UUID) (Owner, error)
	Update(ctx context.Context, actor requesttrace.AuditInfo, ownerID uuid.UUID, input UpdateInput) (UpdateResult, error)
	Delete(ctx context.Context, actor requesttrace.AuditInfo, ownerID uuid.UUID, input DeleteInput) (DeleteResult, error)
	RegisterDocument(ctx context.Context, actor requesttrace.AuditInfo, ownerID uuid.UUID, input RegisterDocumentInput) (Document, error)
	ListDocuments(ctx context.Context, actor requesttrace.AuditInfo, ownerID uuid.UUID) ([]Document, error)
	ListAuditLog(ctx context.Context, actor requesttrace.AuditInfo, query AuditQuery) ([]AuditEntry, error)
}

// DocumentStorage configures the blob existence check used by RegisterDocument.
// A nil Checker skips the check.
type DocumentStorage struct {
	Bucket  string
	Checker storage.BlobChecker
}

type service struct {
	store   persistence.Store
	writer  *audit.Writer
	clock   clockwork.Clock
	storage DocumentStorage
}

// New constructs an owners Service backed by store. Every mutation is audited through writer.
func New(store persistence.Store, writer *audit.Writer, clock clockwork.Clock, docs DocumentStorage) Service {
	if store == nil {
		panic("owners store is required")
	}
	if writer == nil {
		panic("audit writer is required")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &service{store: store, writer: writer, clock: clock, storage: docs}
}

// now truncates to microseconds, the precision Postgres stores.
func (s *service) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Microsecond)
}

func (s *service) Create(ctx context.Context, actor requesttrace.AuditInfo, input CreateInput) (Owner, error) {
	managerID, err := callerID(actor)
	if err != nil {
		return Owner{}, err
	}

	fieldErrors := FieldErrors{}
	requireText(fieldErrors, "firstName", input.FirstName)
	requireText(fieldErrors, "lastName", input.LastName)
	validateEmail(fieldErrors, input.Email)
	requireText(fieldErrors, "taxId", input.TaxID)
	if len(fieldErrors) > 0 {
		return Owner{}, &ValidationError{Fields: fieldErrors}
	}

	now := s.now()
	rec := persistence.OwnerRecord{
		OwnerID:            ids.NewEntityID(),
		FirstName:          strings.TrimSpace(input.FirstName),
		LastName:           strings.TrimSpace(input.LastName),
		Email:              strings.TrimSpace(input.Email),
		Phone:              strings.TrimSpace(input.Phone),
		Address:            strings.TrimSpace(input.Address),
		TaxID:              strings.TrimSpace(input.TaxID),
		IDLicenseNumber:    strings.TrimSpace(input.IDLicenseNumber),
		VerificationStatus: StatusUnverified,
		AssignedManagerID:  managerID,
		CreatedAt:          now,
	}

	var (
		created persistence.OwnerRecord
		batch   *audit.Batch
	)
	err = s.store.WithTx(ctx, func(tx persistence.Tx) error {
		batch = s.writer.Begin(tx, actor)

		inserted, err := tx.InsertOwner(ctx, rec)
		if err != nil {
			return err
		}
		created = inserted

		changes := audit.Created(OwnerSnapshot(inserted))
		audit.MaskChanges(changes, MaskSensitive, sensitiveFields...)
		_, err = batch.Append(ctx, audit.Entry{
			EntityType: audit.EntityBusinessOwner,
			EntityID:   inserted.OwnerID.String(),
			OwnerID:    inserted.OwnerID,
			Action:     audit.ActionCreate,
			Changes:    changes,
			At:         now,
		})
		return err
	})
	if err != nil {
		return Owner{}, mapPersistenceError(err)
	}
	batch.Committed()

	return mapOwner(created), nil
}

func (s *service) Get(ctx context.Context, actor requesttrace.AuditInfo, ownerID uuid.UUID) (Owner, error) {
	var owner persistence.OwnerRecord
	err := s.store.WithTx(ctx, func(tx persistence.Tx) error {
		rec, err := loadManagedOwner(ctx, tx, actor, ownerID)
		if err != nil {
			return err
		}
		owner = rec
		return nil
	})
	if err != nil {
		return Owner{}, mapPersistenceError(err)
	}
	return mapOwner(owner), nil
}

func (s *service) Update(ctx context.Context, actor requesttrace.AuditInfo, ownerID uuid.UUID, input UpdateInput) (UpdateResult, error) {
	if err := validateUpdate(input); err != nil {
		return UpdateResult{}, err
	}

	var (
		result UpdateResult
		batch  *audit.Batch
	)
	err := s.store.WithTx(ctx, func(tx persistence.Tx) error {
		batch = s.writer.Begin(tx, actor)

		current, err := loadManagedOwner(ctx, tx, actor, ownerID)
		if err != nil {
			return err
		}
		if input.ExpectedVersion != nil && *input.ExpectedVersion != current.Version {
			return persistence.ErrStaleVersion
		}

		next := applyPatch(current, input)
		changes := audit.Diff(OwnerSnapshot(current), patchSnapshot(next, input))
		if len(changes) == 0 {
			result = UpdateResult{Owner: mapOwner(current), Changes: changes}
			return nil
		}

		next.UpdatedAt = s.now()
		updated, err := tx.UpdateOwner(ctx, next, current.Version)
		if err != nil {
			return err
		}

		audit.MaskChanges(changes, MaskSensitive, sensitiveFields...)
		if _, err := batch.Append(ctx, audit.Entry{
			EntityType: audit.EntityBusinessOwner,
			EntityID:   updated.OwnerID.String(),
			OwnerID:    updated.OwnerID,
			Action:     audit.ActionUpdate,
			Changes:    changes,
			At:         updated.UpdatedAt,
		}); err != nil {
			return err
		}

		result = UpdateResult{Owner: mapOwner(updated), Changes: changes}
		return nil
	})
	if err != nil {
		return UpdateResult{}, mapPersistenceError(err)
	}
	batch.Committed()

	return result, nil
}

func (s *service) Delete(ctx context.Context, actor requesttrace.AuditInfo, ownerID uuid.UUID, input DeleteInput) (DeleteResult, error) {
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return DeleteResult{}, newValidationError(map[string]string{"reason": "reason is required"})
	}

	var (
		result DeleteResult
		batch  *audit.Batch
	)
	err := s.store.WithTx(ctx, func(tx persistence.Tx) error {
		batch = s.writer.Begin(tx, actor)

		current, err := loadManagedOwner(ctx, tx, actor, ownerID)
		if err != nil {
			return err
		}
		if input.ExpectedVersion != nil && *input.ExpectedVersion != current.Version {
			return persistence.ErrStaleVersion
		}

		open, err := tx.FindOpenAttempt(ctx, ownerID)
		switch {
		case err == nil:
			return &OpenAttemptError{AttemptID: open.AttemptID}
		case !errors.Is(err, persistence.ErrAttemptNotFound):
			return err
		}

		now := s.now()
		deleted, err := tx.SoftDeleteOwner(ctx, ownerID, current.Version, now, reason)
		if err != nil {
			return err
		}
		docs, err := tx.SoftDeleteOwnerDocuments(ctx, ownerID, now)
		if err != nil {
			return err
		}
		attempts, err := tx.ListAttempts(ctx, ownerID)
		if err != nil {
			return err
		}

		if _, err := batch.Append(ctx, audit.Entry{
			EntityType: audit.EntityBusinessOwner,
			EntityID:   ownerID.String(),
			OwnerID:    ownerID,
			Action:     audit.ActionDelete,
			Changes: map[string]persistence.FieldChange{
				"deletedAt":      {Old: nil, New: now.Format(time.RFC3339Nano)},
				"deletionReason": {Old: nil, New: reason},
			},
			Metadata: map[string]any{
				"reason":                       reason,
				"documentsDeleted":             docs,
				"verificationAttemptsRetained": len(attempts),
			},
			At: now,
		}); err != nil {
			return err
		}

		result = DeleteResult{
			OwnerID:                      deleted.OwnerID,
			DeletedAt:                    now,
			DocumentsDeleted:             docs,
			VerificationAttemptsRetained: len(attempts),
		}
		return nil
	})
	if err != nil {
		return DeleteResult{}, mapPersistenceError(err)
	}
	batch.Committed()

	return result, nil
}

func (s *service) RegisterDocument(ctx context.Context, actor requesttrace.AuditInfo, ownerID uuid.UUID, input RegisterDocumentInput) (Document, error) {
	fieldErrors := FieldErrors{}
	requireText(fieldErrors, "name", input.Name)
	requireText(fieldErrors, "documentType", input.DocumentType)
	requireText(fieldErrors, "storageKey", input.StorageKey)
	if len(fieldErrors) > 0 {
		return Document{}, &ValidationError{Fields: fieldErrors}
	}

	loc, err := storage.ResolveObjectLocation(s.storage.Bucket, ownerID, input.StorageKey)
	if err != nil {
		return Document{}, newValidationError(map[string]string{"storageKey": err.Error()})
	}

	var (
		created persistence.DocumentRecord
		batch   *audit.Batch
	)
	err = s.store.WithTx(ctx, func(tx persistence.Tx) error {
		batch = s.writer.Begin(tx, actor)

		if _, err := loadManagedOwner(ctx, tx, actor, ownerID); err != nil {
			return err
		}

		if s.storage.Checker != nil {
			if err := s.storage.Checker.Exists(ctx, loc); err != nil {
				if errors.Is(err, storage.ErrBlobNotFound) {
					return newValidationError(map[string]string{"storageKey": "no uploaded object at storageKey"})
				}
				return fmt.Errorf("check document blob: %w", err)
			}
		}

		now := s.now()
		inserted, err := tx.InsertDocument(ctx, persistence.DocumentRecord{
			DocumentID:   ids.NewEntityID(),
			OwnerID:      ownerID,
			Name:         strings.TrimSpace(input.Name),
			DocumentType: strings.TrimSpace(input.DocumentType),
			StorageKey:   loc.FullPath,
			UploadedBy:   actor.ActorID(),
			CreatedAt:    now,
		})
		if err != nil {
			return err
		}
		created = inserted

		_, err = batch.Append(ctx, audit.Entry{
			EntityType: audit.EntityDocument,
			EntityID:   inserted.DocumentID.String(),
			OwnerID:    ownerID,
			Action:     audit.ActionCreate,
			Changes: audit.Created(map[string]any{
				"name":         inserted.Name,
				"documentType": inserted.DocumentType,
				"storageKey":   inserted.StorageKey,
			}),
			At: now,
		})
		return err
	})
	if err != nil {
		return Document{}, mapPersistenceError(err)
	}
	batch.Committed()

	return mapDocument(created), nil
}

func (s *service) ListDocuments(ctx context.Context, actor requesttrace.AuditInfo, ownerID uuid.UUID) ([]Document, error) {
	var docs []Document
	err := s.store.WithTx(ctx, func(tx persistence.Tx) error {
		if _, err := loadManagedOwner(ctx, tx, actor, ownerID); err != nil {
			return err
		}
		records, err := tx.ListDocuments(ctx, ownerID)
		if err != nil {
			return err
		}
		docs = make([]Document, 0, len(records))
		for _, rec := range records {
			docs = append(docs, mapDocument(rec))
		}
		return nil
	})
	if err != nil {
		return nil, mapPersistenceError(err)
	}
	return docs, nil
}

var auditEntityTypes = map[string]struct{}{
	audit.EntityBusinessOwner:        {},
	audit.EntityDocument:             {},
	audit.EntityVerificationAttempt:  {},
	audit.EntityDocumentVerification: {},
}

func (s *service) ListAuditLog(ctx context.Context, actor requesttrace.AuditInfo, query AuditQuery) ([]AuditEntry, error) {
	fieldErrors := FieldErrors{}
	if query.OwnerID == uuid.Nil {
		fieldErrors.add("ownerId", "ownerId is required")
	}
	if query.EntityType != "" {
		if _, ok := auditEntityTypes[query.EntityType]; !ok {
			fieldErrors.add("entityType", fmt.Sprintf("unsupported entity type %q", query.EntityType))
		}
	}
	if query.Limit < 0 || query.Limit > 200 {
		fieldErrors.add("limit", "limit must be between 1 and 200")
	}
	if query.Offset < 0 {
		fieldErrors.add("offset", "offset must not be negative")
	}
	if len(fieldErrors) > 0 {
		return nil, &ValidationError{Fields: fieldErrors}
	}

	var entries []AuditEntry
	err := s.store.WithTx(ctx, func(tx persistence.Tx) error {
		if _, err := loadManagedOwner(ctx, tx, actor, query.OwnerID); err != nil {
			return err
		}
		records, err := tx.ListAuditEntries(ctx, persistence.AuditQuery{
			EntityType: query.EntityType,
			EntityID:   query.EntityID,
			OwnerID:    query.OwnerID,
			Limit:      query.Limit,
			Offset:     query.Offset,
		})
		if err != nil {
			return err
		}
		entries = records
		return nil
	})
	if err != nil {
		return nil, mapPersistenceError(err)
	}
	return entries, nil
}

// MaskSensitive keeps only the last four characters of an identifier.
func MaskSensitive(value string) string {
	if value == "" {
		return ""
	}
	n := utf8.RuneCountInString(value)
	if n <= 4 {
		return "****"
	}
	runes := []rune(value)
	return "****" + string(runes[n-4:])
}

// OwnerSnapshot renders the audited fields of an owner keyed by their wire names.
func OwnerSnapshot(rec persistence.OwnerRecord) map[string]any {
	return map[string]any{
		"firstName":             rec.FirstName,
		"lastName":              rec.LastName,
		"email":                 rec.Email,
		"phone":                 rec.Phone,
		"address":               rec.Address,
		"taxId":                 rec.TaxID,
		"idLicenseNumber":       rec.IDLicenseNumber,
		"verificationStatus":    rec.VerificationStatus,
		"lastVerifiedAt":        rec.LastVerifiedAt,
		"verificationExpiresAt": rec.VerificationExpiresAt,
		"assignedManagerId":     rec.AssignedManagerID,
	}
}

// patchSnapshot restricts the snapshot to the fields the patch touched.
func patchSnapshot(next persistence.OwnerRecord, input UpdateInput) map[string]any {
	full := OwnerSnapshot(next)
	touched := map[string]bool{
		"firstName":       input.FirstName != nil,
		"lastName":        input.LastName != nil,
		"email":           input.Email != nil,
		"phone":           input.Phone != nil,
		"address":         input.Address != nil,
		"taxId":           input.TaxID != nil,
		"idLicenseNumber": input.IDLicenseNumber != nil,
	}
	out := make(map[string]any, len(touched))
	for field, ok := range touched {
		if ok {
			out[field] = full[field]
		}
	}
	return out
}

func applyPatch(current persistence.OwnerRecord, input UpdateInput) persistence.OwnerRecord {
	next := current
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = strings.TrimSpace(*v)
		}
	}
	set(&next.FirstName, input.FirstName)
	set(&next.LastName, input.LastName)
	set(&next.Email, input.Email)
	set(&next.Phone, input.Phone)
	set(&next.Address, input.Address)
	set(&next.TaxID, input.TaxID)
	set(&next.IDLicenseNumber, input.IDLicenseNumber)
	return next
}

func validateUpdate(input UpdateInput) error {
	fieldErrors := FieldErrors{}
	if input.FirstName == nil && input.LastName == nil && input.Email == nil && input.Phone == nil &&
		input.Address == nil && input.TaxID == nil && input.IDLicenseNumber == nil {
		fieldErrors.add("payload", "at least one field must be provided")
	}
	if input.FirstName != nil {
		requireText(fieldErrors, "firstName", *input.FirstName)
	}
	if input.LastName != nil {
		requireText(fieldErrors, "lastName", *input.LastName)
	}
	if input.Email != nil {
		validateEmail(fieldErrors, *input.Email)
	}
	if input.TaxID != nil {
		requireText(fieldErrors, "taxId", *input.TaxID)
	}
	if len(fieldErrors) > 0 {
		return &ValidationError{Fields: fieldErrors}
	}
	return nil
}

// loadManagedOwner reads the owner and checks the caller is its assigned manager.
func loadManagedOwner(ctx context.Context, tx persistence.Tx, actor requesttrace.AuditInfo, ownerID uuid.UUID) (persistence.OwnerRecord, error) {
	caller, err := callerID(actor)
	if err != nil {
		return persistence.OwnerRecord{}, err
	}
	owner, err := tx.GetOwner(ctx, ownerID)
	if err != nil {
		return persistence.OwnerRecord{}, err
	}
	if owner.AssignedManagerID != caller {
		return persistence.OwnerRecord{}, ErrUnauthorized
	}
	return owner, nil
}

func callerID(actor requesttrace.AuditInfo) (string, error) {
	if actor.ActorKind != requesttrace.ActorKindUser || actor.UserID == nil || *actor.UserID == "" {
		return "", ErrUnauthorized
	}
	return *actor.UserID, nil
}

func requireText(fieldErrors FieldErrors, field, value string) {
	if strings.TrimSpace(value) == "" {
		fieldErrors.add(field, field+" is required")
	}
}

func validateEmail(fieldErrors FieldErrors, email string) {
	email = strings.TrimSpace(email)
	if email == "" {
		fieldErrors.add("email", "email is required")
		return
	}
	if !strings.Contains(email, "@") {
		fieldErrors.add("email", "email must contain '@'")
	}
}

func mapOwner(rec persistence.OwnerRecord) Owner {
	return Owner{
		ID:                    rec.OwnerID,
		FirstName:             rec.FirstName,
		LastName:              rec.LastName,
		Email:                 rec.Email,
		Phone:                 rec.Phone,
		Address:               rec.Address,
		TaxID:                 MaskSensitive(rec.TaxID),
		IDLicenseNumber:       MaskSensitive(rec.IDLicenseNumber),
		VerificationStatus:    rec.VerificationStatus,
		LastVerifiedAt:        rec.LastVerifiedAt,
		VerificationExpiresAt: rec.VerificationExpiresAt,
		AssignedManagerID:     rec.AssignedManagerID,
		Version:               rec.Version,
		CreatedAt:             rec.CreatedAt,
		UpdatedAt:             rec.UpdatedAt,
	}
}

func mapDocument(rec persistence.DocumentRecord) Document {
	return Document{
		ID:           rec.DocumentID,
		OwnerID:      rec.OwnerID,
		Name:         rec.Name,
		DocumentType: rec.DocumentType,
		StorageKey:   rec.StorageKey,
		UploadedBy:   rec.UploadedBy,
		CreatedAt:    rec.CreatedAt,
	}
}

func mapPersistenceError(err error) error {
	var validationErr *ValidationError
	var openErr *OpenAttemptError
	switch {
	case errors.As(err, &validationErr), errors.As(err, &openErr):
		return err
	case errors.Is(err, ErrUnauthorized):
		return ErrUnauthorized
	case errors.Is(err, persistence.ErrOwnerNotFound), errors.Is(err, persistence.ErrDocumentNotFound):
		return ErrNotFound
	case errors.Is(err, persistence.ErrStaleVersion), errors.Is(err, persistence.ErrDuplicate):
		return ErrConflict
	default:
		return err
	}
}

func newValidationError(fields map[string]string) error {
	fe := FieldErrors{}
	for field, msg := range fields {
		fe.add(field, msg)
	}
	return &ValidationError{Fields: fe}
}

func (f FieldErrors) add(field, message string) {
	f[field] = append(f[field], message)
}
