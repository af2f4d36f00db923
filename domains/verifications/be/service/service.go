package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/zenGate-Global/permitdesk/domains/verifications/model"
	"github.com/zenGate-Global/permitdesk/platform/go/audit"
	"github.com/zenGate-Global/permitdesk/platform/go/metrics"
	"github.com/zenGate-Global/permitdesk/platform/go/persistence"
	"github.com/zenGate-Global/permitdesk/platform/go/requesttrace"
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

// IncompleteSubmissionError names the sections that still block a submit.
type IncompleteSubmissionError struct {
	Sections []model.SectionName
}

func (e *IncompleteSubmissionError) Error() string {
	names := make([]string, 0, len(e.Sections))
	for _, name := range e.Sections {
		names = append(names, string(name))
	}
	return "sections not yet decided: " + strings.Join(names, ", ")
}

// OpenAttemptError is returned when an owner already has an attempt in progress.
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
	ErrNotFound          = errors.New("verification resource not found")
	ErrConflict          = errors.New("verification conflict")
	ErrUnauthorized      = errors.New("caller does not manage this business owner")
	ErrInvalidTransition = errors.New("verification attempt is closed")
)

// Owner verification statuses written on closure.
const (
	ownerUnverified = "UNVERIFIED"
	ownerPending    = "PENDING_VERIFICATION"
)

// Attempt is the domain view of a verification attempt.
type Attempt struct {
	ID                uuid.UUID
	OwnerID           uuid.UUID
	InitiatedAt       time.Time
	InitiatedBy       string
	InitiatedByName   string
	CompletedAt       *time.Time
	Decision          model.Decision
	AggregateDecision model.Decision
	DecisionReason    *string
	Sections          model.Sections
	DraftData         json.RawMessage
	Version           int64
	UpdatedAt         time.Time
}

// DocumentVerification is a reviewer decision on one document within one attempt.
type DocumentVerification struct {
	ID         uuid.UUID
	AttemptID  uuid.UUID
	DocumentID uuid.UUID
	Status     model.DocumentStatus
	Notes      string
	Version    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Certificate is the proof issued for a VERIFIED attempt.
type Certificate struct {
	ID               uuid.UUID
	OwnerID          uuid.UUID
	AttemptID        uuid.UUID
	IssuedAt         time.Time
	ExpiresAt        time.Time
	VerificationHash string
	ValidationURL    string
}

// Details is everything the wizard needs to resume an owner's verification.
type Details struct {
	OwnerID               uuid.UUID
	VerificationStatus    string
	LastVerifiedAt        *time.Time
	VerificationExpiresAt *time.Time
	Current               *Attempt
	Documents             []DocumentVerification
	History               []Attempt
	Certificate           *Certificate
}

// CreateAttemptInput starts a new attempt. DraftData is kept only when IsDraft is set.
type CreateAttemptInput struct {
	IsDraft   bool
	DraftData json.RawMessage
}

// SaveDraftInput persists the wizard draft onto an open attempt.
type SaveDraftInput struct {
	DraftData       json.RawMessage
	ExpectedVersion *int64
}

// SectionUpdateInput changes one section; nil Notes keeps the current notes.
type SectionUpdateInput struct {
	Status          model.SectionStatus
	Notes           *string
	ExpectedVersion *int64
}

// DecideDocumentInput records a reviewer decision on a linked document.
type DecideDocumentInput struct {
	Status model.DocumentStatus
	Notes  string
}

// SubmitInput closes an attempt. DecisionReason is synthesised when omitted.
type SubmitInput struct {
	DecisionReason  *string
	ExpectedVersion *int64
}

// SubmitResult reports the closed attempt and, for VERIFIED, the issued certificate.
type SubmitResult struct {
	Attempt     Attempt
	OwnerStatus string
	Certificate *Certificate
}

// CertificateValidation is the public answer to a certificate check.
type CertificateValidation struct {
	CertificateID uuid.UUID
	OwnerID       uuid.UUID
	IssuedAt      time.Time
	ExpiresAt     time.Time
	Valid         bool
	Current       bool
	Expired       bool
}

// Service defines the business operations for the verifications domain.
type Service interface {
	GetDetails(ctx context.Context, actor requesttrace.AuditInfo, ownerID uuid.UUID) (Details, error)
	GetAttempt(ctx context.Context, actor requesttrace.AuditInfo, attemptID uuid.UUID) (Attempt, error)
	CreateAttempt(ctx context.Context, actor requesttrace.AuditInfo, ownerID uuid.UUID, input CreateAttemptInput) (Attempt, error)
	SaveDraft(ctx context.Context, actor requesttrace.AuditInfo, attemptID uuid.UUID, input SaveDraftInput) (Attempt, error)
	SetSectionStatus(ctx context.Context, actor requesttrace.AuditInfo, attemptID uuid.UUID, section model.SectionName, input SectionUpdateInput) (Attempt, error)
	LinkDocument(ctx context.Context, actor requesttrace.AuditInfo, attemptID, documentID uuid.UUID) (DocumentVerification, error)
	DecideDocument(ctx context.Context, actor requesttrace.AuditInfo, attemptID, documentID uuid.UUID, input DecideDocumentInput) (DocumentVerification, error)
	Submit(ctx context.Context, actor requesttrace.AuditInfo, attemptID uuid.UUID, input SubmitInput) (SubmitResult, error)
	ValidateCertificate(ctx context.Context, certificateID uuid.UUID, hash string) (CertificateValidation, error)
}

// Options carries the optional collaborators of the service.
type Options struct {
	Clock     clockwork.Clock
	Metrics   *metrics.Metrics
	Issuer    CertificateIssuer
	Validator *persistence.DraftValidator
}

type service struct {
	store     persistence.Store
	writer    *audit.Writer
	clock     clockwork.Clock
	metrics   *metrics.Metrics
	issuer    CertificateIssuer
	validator *persistence.DraftValidator
}

// New constructs a verifications Service backed by store.
func New(store persistence.Store, writer *audit.Writer, opts Options) Service {
	if store == nil {
		panic("verifications store is required")
	}
	if writer == nil {
		panic("audit writer is required")
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Validator == nil {
		opts.Validator = persistence.NewDraftValidator()
	}
	if opts.Issuer.Validity <= 0 {
		opts.Issuer.Validity = DefaultCertificateValidity
	}

	return &service{
		store:     store,
		writer:    writer,
		clock:     opts.Clock,
		metrics:   opts.Metrics,
		issuer:    opts.Issuer,
		validator: opts.Validator,
	}
}

// now truncates to microseconds so values survive a Postgres round trip unchanged.
func (s *service) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Microsecond)
}

// loadManagedOwner reads the owner and checks the caller is its assigned manager.
func loadManagedOwner(ctx context.Context, tx persistence.Tx, actor requesttrace.AuditInfo, ownerID uuid.UUID) (persistence.OwnerRecord, error) {
	if actor.ActorKind != requesttrace.ActorKindUser || actor.UserID == nil || *actor.UserID == "" {
		return persistence.OwnerRecord{}, ErrUnauthorized
	}
	owner, err := tx.GetOwner(ctx, ownerID)
	if err != nil {
		return persistence.OwnerRecord{}, err
	}
	if owner.AssignedManagerID != *actor.UserID {
		return persistence.OwnerRecord{}, ErrUnauthorized
	}
	return owner, nil
}

// loadManagedAttempt resolves the attempt and authorizes the caller against its owner.
func loadManagedAttempt(ctx context.Context, tx persistence.Tx, actor requesttrace.AuditInfo, attemptID uuid.UUID) (persistence.AttemptRecord, persistence.OwnerRecord, error) {
	attempt, err := tx.GetAttempt(ctx, attemptID)
	if err != nil {
		return persistence.AttemptRecord{}, persistence.OwnerRecord{}, err
	}
	owner, err := loadManagedOwner(ctx, tx, actor, attempt.OwnerID)
	if err != nil {
		return persistence.AttemptRecord{}, persistence.OwnerRecord{}, err
	}
	return attempt, owner, nil
}

func loadOpenAttempt(ctx context.Context, tx persistence.Tx, actor requesttrace.AuditInfo, attemptID uuid.UUID, expectedVersion *int64) (persistence.AttemptRecord, persistence.OwnerRecord, error) {
	attempt, owner, err := loadManagedAttempt(ctx, tx, actor, attemptID)
	if err != nil {
		return attempt, owner, err
	}
	if !attempt.IsOpen() {
		return attempt, owner, ErrInvalidTransition
	}
	if expectedVersion != nil && *expectedVersion != attempt.Version {
		return attempt, owner, persistence.ErrStaleVersion
	}
	return attempt, owner, nil
}

func attemptEntry(attempt persistence.AttemptRecord, changes map[string]persistence.FieldChange, at time.Time) audit.Entry {
	return audit.Entry{
		EntityType: audit.EntityVerificationAttempt,
		EntityID:   attempt.AttemptID.String(),
		OwnerID:    attempt.OwnerID,
		Action:     audit.ActionUpdate,
		Changes:    changes,
		At:         at,
	}
}

func toModelSections(rec persistence.SectionsRecord) model.Sections {
	convert := func(s persistence.SectionRecord) model.Section {
		return model.Section{Status: model.SectionStatus(s.Status), Notes: s.Notes, LastUpdated: s.LastUpdated}
	}
	return model.Sections{
		Identity:            convert(rec.Identity),
		Address:             convert(rec.Address),
		BusinessAffiliation: convert(rec.BusinessAffiliation),
	}
}

func toRecordSections(s model.Sections) persistence.SectionsRecord {
	convert := func(s model.Section) persistence.SectionRecord {
		return persistence.SectionRecord{Status: string(s.Status), Notes: s.Notes, LastUpdated: s.LastUpdated}
	}
	return persistence.SectionsRecord{
		Identity:            convert(s.Identity),
		Address:             convert(s.Address),
		BusinessAffiliation: convert(s.BusinessAffiliation),
	}
}

// sectionSnapshot renders the audited part of the sections, one key per field.
func sectionSnapshot(s model.Sections) map[string]any {
	out := make(map[string]any, len(model.SectionNames)*2)
	for _, name := range model.SectionNames {
		section := s.Get(name)
		out["sections."+string(name)+".status"] = string(section.Status)
		out["sections."+string(name)+".notes"] = section.Notes
	}
	return out
}

func mapAttempt(rec persistence.AttemptRecord) Attempt {
	sections := toModelSections(rec.Sections)
	return Attempt{
		ID:                rec.AttemptID,
		OwnerID:           rec.OwnerID,
		InitiatedAt:       rec.InitiatedAt,
		InitiatedBy:       rec.InitiatedBy,
		InitiatedByName:   rec.InitiatedByName,
		CompletedAt:       rec.CompletedAt,
		Decision:          model.Decision(rec.Decision),
		AggregateDecision: model.AggregateDecision(sections),
		DecisionReason:    rec.DecisionReason,
		Sections:          sections,
		DraftData:         append(json.RawMessage(nil), rec.DraftData...),
		Version:           rec.Version,
		UpdatedAt:         rec.UpdatedAt,
	}
}

func mapDocumentVerification(rec persistence.DocumentVerificationRecord) DocumentVerification {
	return DocumentVerification{
		ID:         rec.DocumentVerificationID,
		AttemptID:  rec.AttemptID,
		DocumentID: rec.DocumentID,
		Status:     model.DocumentStatus(rec.Status),
		Notes:      rec.Notes,
		Version:    rec.Version,
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
	}
}

func mapCertificate(rec persistence.CertificateRecord) Certificate {
	return Certificate{
		ID:               rec.CertificateID,
		OwnerID:          rec.OwnerID,
		AttemptID:        rec.AttemptID,
		IssuedAt:         rec.IssuedAt,
		ExpiresAt:        rec.ExpiresAt,
		VerificationHash: rec.VerificationHash,
		ValidationURL:    rec.ValidationURL,
	}
}

func mapPersistenceError(err error) error {
	var (
		validationErr *ValidationError
		incompleteErr *IncompleteSubmissionError
		openErr       *OpenAttemptError
	)
	switch {
	case errors.As(err, &validationErr), errors.As(err, &incompleteErr), errors.As(err, &openErr):
		return err
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrNotFound), errors.Is(err, ErrConflict):
		return err
	case errors.Is(err, persistence.ErrOwnerNotFound),
		errors.Is(err, persistence.ErrAttemptNotFound),
		errors.Is(err, persistence.ErrDocumentNotFound),
		errors.Is(err, persistence.ErrDocumentVerificationNotFound),
		errors.Is(err, persistence.ErrCertificateNotFound):
		return ErrNotFound
	case errors.Is(err, persistence.ErrStaleVersion),
		errors.Is(err, persistence.ErrOpenAttemptExists),
		errors.Is(err, persistence.ErrDuplicate):
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
