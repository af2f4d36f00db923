package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/oapi-codegen/runtime"
	"go.uber.org/zap"

	"github.com/zenGate-Global/permitdesk/domains/verifications/be/service"
	"github.com/zenGate-Global/permitdesk/domains/verifications/model"
	"github.com/zenGate-Global/permitdesk/platform/go/httpapi"
	platformlogging "github.com/zenGate-Global/permitdesk/platform/go/logging"
	"github.com/zenGate-Global/permitdesk/platform/go/requesttrace"
)

type operation string

const (
	detailsOperation             operation = "verificationsDetails"
	createOperation              operation = "verificationsCreate"
	getOperation                 operation = "verificationsGet"
	saveDraftOperation           operation = "verificationsSaveDraft"
	setSectionOperation          operation = "verificationsSetSection"
	linkDocumentOperation        operation = "verificationsLinkDocument"
	decideDocumentOperation      operation = "verificationsDecideDocument"
	submitOperation              operation = "verificationsSubmit"
	validateCertificateOperation operation = "certificatesValidate"
)

var errMissingIdentity = errors.New("authentication required")

// Handler wires the verifications service to the HTTP contract.
type Handler struct {
	svc    service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("verifications service is required")
	}
	if logger == nil {
		panic("logger is required")
	}

	return &Handler{svc: svc, logger: logger}
}

// RegisterRoutes mounts the authenticated verification endpoints on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/owners/{ownerId}/verification", h.VerificationsDetails)
	r.Post("/owners/{ownerId}/verification", h.VerificationsCreate)
	r.Get("/verifications/{verificationId}", h.VerificationsGet)
	r.Put("/verifications/{verificationId}/draft", h.VerificationsSaveDraft)
	r.Put("/verifications/{verificationId}/sections/{section}", h.VerificationsSetSection)
	r.Post("/verifications/{verificationId}/documents", h.VerificationsLinkDocument)
	r.Post("/verifications/{verificationId}/documents/{documentId}/decision", h.VerificationsDecideDocument)
	r.Post("/verifications/{verificationId}/submit", h.VerificationsSubmit)
}

// RegisterPublicRoutes mounts endpoints that need no authentication.
func (h *Handler) RegisterPublicRoutes(r chi.Router) {
	r.Get("/certificates/{certificateId}/validate", h.CertificatesValidate)
}

// Attempt is the wire representation of a verification attempt.
type Attempt struct {
	ID                uuid.UUID       `json:"id"`
	OwnerID           uuid.UUID       `json:"ownerId"`
	InitiatedAt       time.Time       `json:"initiatedAt"`
	InitiatedBy       string          `json:"initiatedBy"`
	InitiatedByName   string          `json:"initiatedByName"`
	CompletedAt       *time.Time      `json:"completedAt,omitempty"`
	Decision          model.Decision  `json:"decision"`
	AggregateDecision model.Decision  `json:"aggregateDecision"`
	DecisionReason    *string         `json:"decisionReason,omitempty"`
	Sections          model.Sections  `json:"sections"`
	DraftData         json.RawMessage `json:"draftData,omitempty"`
	Version           int64           `json:"version"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// DocumentVerification is the wire representation of a document decision.
type DocumentVerification struct {
	ID         uuid.UUID            `json:"id"`
	AttemptID  uuid.UUID            `json:"verificationAttemptId"`
	DocumentID uuid.UUID            `json:"documentId"`
	Status     model.DocumentStatus `json:"status"`
	Notes      string               `json:"notes"`
	Version    int64                `json:"version"`
	CreatedAt  time.Time            `json:"createdAt"`
	UpdatedAt  time.Time            `json:"updatedAt"`
}

// Certificate is the wire representation of an issued certificate.
type Certificate struct {
	ID               uuid.UUID `json:"id"`
	OwnerID          uuid.UUID `json:"ownerId"`
	AttemptID        uuid.UUID `json:"verificationAttemptId"`
	IssuedAt         time.Time `json:"issuedAt"`
	ExpiresAt        time.Time `json:"expiresAt"`
	VerificationHash string    `json:"verificationHash"`
	ValidationURL    string    `json:"validationUrl"`
}

type detailsResponse struct {
	OwnerID               uuid.UUID              `json:"ownerId"`
	VerificationStatus    string                 `json:"verificationStatus"`
	LastVerifiedAt        *time.Time             `json:"lastVerifiedAt,omitempty"`
	VerificationExpiresAt *time.Time             `json:"verificationExpiresAt,omitempty"`
	Current               *Attempt               `json:"current,omitempty"`
	Documents             []DocumentVerification `json:"documents"`
	History               []Attempt              `json:"history"`
	Certificate           *Certificate           `json:"certificate,omitempty"`
}

type createRequest struct {
	IsDraft   bool            `json:"isDraft"`
	DraftData json.RawMessage `json:"draftData,omitempty"`
}

type saveDraftRequest struct {
	DraftData json.RawMessage `json:"draftData"`
}

type sectionRequest struct {
	Status model.SectionStatus `json:"status"`
	Notes  *string             `json:"notes,omitempty"`
}

type linkDocumentRequest struct {
	DocumentID uuid.UUID `json:"documentId"`
}

type decisionRequest struct {
	Status model.DocumentStatus `json:"status"`
	Notes  string               `json:"notes"`
}

type submitRequest struct {
	DecisionReason *string `json:"decisionReason,omitempty"`
}

type submitResponse struct {
	Attempt     Attempt      `json:"attempt"`
	OwnerStatus string       `json:"ownerVerificationStatus"`
	Certificate *Certificate `json:"certificate,omitempty"`
}

type validationResponse struct {
	CertificateID uuid.UUID `json:"certificateId"`
	OwnerID       uuid.UUID `json:"ownerId"`
	IssuedAt      time.Time `json:"issuedAt"`
	ExpiresAt     time.Time `json:"expiresAt"`
	Valid         bool      `json:"valid"`
	Current       bool      `json:"current"`
	Expired       bool      `json:"expired"`
}

func (h *Handler) VerificationsDetails(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r, detailsOperation)
	if !ok {
		return
	}
	ownerID, err := uuidParam(r, "ownerId")
	if err != nil {
		h.writeError(w, r, err, detailsOperation)
		return
	}

	details, err := h.svc.GetDetails(r.Context(), actor, ownerID)
	if err != nil {
		h.writeError(w, r, err, detailsOperation)
		return
	}

	resp := detailsResponse{
		OwnerID:               details.OwnerID,
		VerificationStatus:    details.VerificationStatus,
		LastVerifiedAt:        details.LastVerifiedAt,
		VerificationExpiresAt: details.VerificationExpiresAt,
		Documents:             make([]DocumentVerification, 0, len(details.Documents)),
		History:               make([]Attempt, 0, len(details.History)),
	}
	if details.Current != nil {
		current := Attempt(*details.Current)
		resp.Current = &current
	}
	for _, doc := range details.Documents {
		resp.Documents = append(resp.Documents, DocumentVerification(doc))
	}
	for _, attempt := range details.History {
		resp.History = append(resp.History, Attempt(attempt))
	}
	if details.Certificate != nil {
		cert := Certificate(*details.Certificate)
		resp.Certificate = &cert
	}

	httpapi.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) VerificationsCreate(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r, createOperation)
	if !ok {
		return
	}
	ownerID, err := uuidParam(r, "ownerId")
	if err != nil {
		h.writeError(w, r, err, createOperation)
		return
	}

	var body createRequest
	if err := httpapi.DecodeJSON(r, &body); err != nil {
		h.writeError(w, r, bodyError(err), createOperation)
		return
	}

	attempt, err := h.svc.CreateAttempt(r.Context(), actor, ownerID, service.CreateAttemptInput(body))
	if err != nil {
		h.writeError(w, r, err, createOperation)
		return
	}

	httpapi.SetETag(w, attempt.Version)
	httpapi.WriteJSON(w, http.StatusCreated, Attempt(attempt))
}

// VerificationsGet returns one attempt with its version as ETag.
func (h *Handler) VerificationsGet(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r, getOperation)
	if !ok {
		return
	}
	attemptID, err := uuidParam(r, "verificationId")
	if err != nil {
		h.writeError(w, r, err, getOperation)
		return
	}

	attempt, err := h.svc.GetAttempt(r.Context(), actor, attemptID)
	if err != nil {
		h.writeError(w, r, err, getOperation)
		return
	}

	httpapi.SetETag(w, attempt.Version)
	httpapi.WriteJSON(w, http.StatusOK, Attempt(attempt))
}

func (h *Handler) VerificationsSaveDraft(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r, saveDraftOperation)
	if !ok {
		return
	}
	attemptID, expected, err := attemptParams(r)
	if err != nil {
		h.writeError(w, r, err, saveDraftOperation)
		return
	}

	var body saveDraftRequest
	if err := httpapi.DecodeJSON(r, &body); err != nil {
		h.writeError(w, r, bodyError(err), saveDraftOperation)
		return
	}

	attempt, err := h.svc.SaveDraft(r.Context(), actor, attemptID, service.SaveDraftInput{DraftData: body.DraftData, ExpectedVersion: expected})
	if err != nil {
		h.writeError(w, r, err, saveDraftOperation)
		return
	}

	httpapi.SetETag(w, attempt.Version)
	httpapi.WriteJSON(w, http.StatusOK, Attempt(attempt))
}

func (h *Handler) VerificationsSetSection(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r, setSectionOperation)
	if !ok {
		return
	}
	attemptID, expected, err := attemptParams(r)
	if err != nil {
		h.writeError(w, r, err, setSectionOperation)
		return
	}

	var section string
	if err := runtime.BindStyledParameterWithOptions("simple", "section", chi.URLParam(r, "section"), &section,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Required: true}); err != nil {
		h.writeError(w, r, fieldError("section", "section is required"), setSectionOperation)
		return
	}

	var body sectionRequest
	if err := httpapi.DecodeJSON(r, &body); err != nil {
		h.writeError(w, r, bodyError(err), setSectionOperation)
		return
	}

	attempt, err := h.svc.SetSectionStatus(r.Context(), actor, attemptID, model.SectionName(section), service.SectionUpdateInput{
		Status:          body.Status,
		Notes:           body.Notes,
		ExpectedVersion: expected,
	})
	if err != nil {
		h.writeError(w, r, err, setSectionOperation)
		return
	}

	httpapi.SetETag(w, attempt.Version)
	httpapi.WriteJSON(w, http.StatusOK, Attempt(attempt))
}

func (h *Handler) VerificationsLinkDocument(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r, linkDocumentOperation)
	if !ok {
		return
	}
	attemptID, err := uuidParam(r, "verificationId")
	if err != nil {
		h.writeError(w, r, err, linkDocumentOperation)
		return
	}

	var body linkDocumentRequest
	if err := httpapi.DecodeJSON(r, &body); err != nil {
		h.writeError(w, r, bodyError(err), linkDocumentOperation)
		return
	}
	if body.DocumentID == uuid.Nil {
		h.writeError(w, r, fieldError("documentId", "documentId is required"), linkDocumentOperation)
		return
	}

	link, err := h.svc.LinkDocument(r.Context(), actor, attemptID, body.DocumentID)
	if err != nil {
		h.writeError(w, r, err, linkDocumentOperation)
		return
	}

	httpapi.WriteJSON(w, http.StatusCreated, DocumentVerification(link))
}

func (h *Handler) VerificationsDecideDocument(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r, decideDocumentOperation)
	if !ok {
		return
	}
	attemptID, err := uuidParam(r, "verificationId")
	if err != nil {
		h.writeError(w, r, err, decideDocumentOperation)
		return
	}
	documentID, err := uuidParam(r, "documentId")
	if err != nil {
		h.writeError(w, r, err, decideDocumentOperation)
		return
	}

	var body decisionRequest
	if err := httpapi.DecodeJSON(r, &body); err != nil {
		h.writeError(w, r, bodyError(err), decideDocumentOperation)
		return
	}

	decided, err := h.svc.DecideDocument(r.Context(), actor, attemptID, documentID, service.DecideDocumentInput(body))
	if err != nil {
		h.writeError(w, r, err, decideDocumentOperation)
		return
	}

	httpapi.WriteJSON(w, http.StatusOK, DocumentVerification(decided))
}

func (h *Handler) VerificationsSubmit(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r, submitOperation)
	if !ok {
		return
	}
	attemptID, expected, err := attemptParams(r)
	if err != nil {
		h.writeError(w, r, err, submitOperation)
		return
	}

	var body submitRequest
	if r.ContentLength != 0 {
		if err := httpapi.DecodeJSON(r, &body); err != nil && !errors.Is(err, httpapi.ErrEmptyBody) {
			h.writeError(w, r, bodyError(err), submitOperation)
			return
		}
	}

	result, err := h.svc.Submit(r.Context(), actor, attemptID, service.SubmitInput{DecisionReason: body.DecisionReason, ExpectedVersion: expected})
	if err != nil {
		h.writeError(w, r, err, submitOperation)
		return
	}

	resp := submitResponse{Attempt: Attempt(result.Attempt), OwnerStatus: result.OwnerStatus}
	if result.Certificate != nil {
		cert := Certificate(*result.Certificate)
		resp.Certificate = &cert
	}
	httpapi.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) CertificatesValidate(w http.ResponseWriter, r *http.Request) {
	certificateID, err := uuidParam(r, "certificateId")
	if err != nil {
		h.writeError(w, r, err, validateCertificateOperation)
		return
	}

	var hash string
	if err := runtime.BindQueryParameter("form", true, true, "hash", r.URL.Query(), &hash); err != nil {
		h.writeError(w, r, fieldError("hash", "hash is required"), validateCertificateOperation)
		return
	}

	result, err := h.svc.ValidateCertificate(r.Context(), certificateID, hash)
	if err != nil {
		h.writeError(w, r, err, validateCertificateOperation)
		return
	}

	httpapi.WriteJSON(w, http.StatusOK, validationResponse(result))
}

func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	var id uuid.UUID
	err := runtime.BindStyledParameterWithOptions("simple", name, chi.URLParam(r, name), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		return uuid.Nil, fieldError(name, name+" must be a UUID")
	}
	return id, nil
}

func attemptParams(r *http.Request) (uuid.UUID, *int64, error) {
	attemptID, err := uuidParam(r, "verificationId")
	if err != nil {
		return uuid.Nil, nil, err
	}
	expected, err := httpapi.IfMatchVersion(r)
	if err != nil {
		return uuid.Nil, nil, fieldError("If-Match", err.Error())
	}
	return attemptID, expected, nil
}

func fieldError(field, message string) error {
	return &service.ValidationError{Fields: service.FieldErrors{field: {message}}}
}

func bodyError(err error) error {
	return fieldError("body", err.Error())
}

func (h *Handler) requireActor(w http.ResponseWriter, r *http.Request, op operation) (requesttrace.AuditInfo, bool) {
	actor := requesttrace.FromContextOrAnonymous(r.Context())
	if actor.ActorKind != requesttrace.ActorKindUser || actor.UserID == nil {
		h.writeError(w, r, errMissingIdentity, op)
		return requesttrace.AuditInfo{}, false
	}
	return actor, true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error, op operation) {
	httpapi.WriteProblem(w, h.problemForError(r.Context(), err, op))
}

func (h *Handler) problemForError(ctx context.Context, err error, op operation) httpapi.ProblemDetails {
	status, title, detail, problemType, fields := h.classifyError(err)

	logger := h.loggerFrom(ctx)
	fieldsForLog := []zap.Field{
		zap.String("operation", string(op)),
		zap.Int("status", status),
	}

	switch {
	case status >= http.StatusInternalServerError:
		logger.Error("verifications operation failed", append(fieldsForLog, zap.Error(err))...)
	case status == http.StatusNotFound:
		logger.Info("verifications resource not found", append(fieldsForLog, zap.Error(err))...)
	default:
		logger.Warn("verifications request rejected", append(fieldsForLog, zap.Error(err))...)
	}

	return httpapi.NewProblem(title, detail, problemType, status, fields)
}

func (h *Handler) classifyError(err error) (status int, title, detail, problemType string, fieldErrors service.FieldErrors) {
	var (
		validationErr *service.ValidationError
		incompleteErr *service.IncompleteSubmissionError
		openErr       *service.OpenAttemptError
	)
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest,
			"Validation failed",
			"one or more fields are invalid",
			httpapi.ProblemTypeValidation,
			validationErr.Fields
	case errors.Is(err, errMissingIdentity):
		return http.StatusUnauthorized,
			"Unauthorized",
			"authentication required",
			httpapi.ProblemTypeUnauthorized,
			nil
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusForbidden,
			"Forbidden",
			"business owner is not assigned to the caller",
			httpapi.ProblemTypeForbidden,
			nil
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound,
			"Resource not found",
			"verification resource not found",
			httpapi.ProblemTypeNotFound,
			nil
	case errors.As(err, &incompleteErr):
		fields := service.FieldErrors{}
		for _, name := range incompleteErr.Sections {
			fields[string(name)] = []string{"section has not reached a decision"}
		}
		return http.StatusUnprocessableEntity,
			"Incomplete submission",
			incompleteErr.Error(),
			httpapi.ProblemTypeIncomplete,
			fields
	case errors.Is(err, service.ErrInvalidTransition):
		return http.StatusUnprocessableEntity,
			"Invalid transition",
			"verification attempt is closed",
			httpapi.ProblemTypeInvalidTransition,
			nil
	case errors.As(err, &openErr):
		return http.StatusConflict,
			"Conflict",
			openErr.Error(),
			httpapi.ProblemTypeConflict,
			nil
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict,
			"Conflict",
			"verification state changed or document is linked elsewhere",
			httpapi.ProblemTypeConflict,
			nil
	default:
		return http.StatusInternalServerError,
			"Internal server error",
			"an unexpected error occurred",
			httpapi.ProblemTypeInternal,
			nil
	}
}

func (h *Handler) loggerFrom(ctx context.Context) *zap.Logger {
	if logger, ok := platformlogging.FromContext(ctx); ok {
		return logger
	}
	return h.logger
}
