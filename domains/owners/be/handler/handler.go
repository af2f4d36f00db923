package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/oapi-codegen/runtime"
	"go.uber.org/zap"

	"github.com/zenGate-Global/permitdesk/domains/owners/be/service"
	"github.com/zenGate-Global/permitdesk/platform/go/httpapi"
	platformlogging "github.com/zenGate-Global/permitdesk/platform/go/logging"
	"github.com/zenGate-Global/permitdesk/platform/go/persistence"
	"github.com/zenGate-Global/permitdesk/platform/go/requesttrace"
)

type operation string

const (
	createOperation           operation = "ownersCreate"
	getOperation              operation = "ownersGet"
	updateOperation           operation = "ownersUpdate"
	deleteOperation           operation = "ownersDelete"
	registerDocumentOperation operation = "ownersRegisterDocument"
	listDocumentsOperation    operation = "ownersListDocuments"
	listAuditOperation        operation = "ownersListAuditLog"
)

// errMissingIdentity is reported when the request carries no authenticated user.
var errMissingIdentity = errors.New("authentication required")

// Handler wires the owners service to the HTTP contract.
type Handler struct {
	svc    service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("owners service is required")
	}
	if logger == nil {
		panic("logger is required")
	}

	return &Handler{svc: svc, logger: logger}
}

// RegisterRoutes mounts the owner endpoints on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/owners", h.OwnersCreate)
	r.Get("/owners/{ownerId}", h.OwnersGet)
	r.Put("/owners/{ownerId}", h.OwnersUpdate)
	r.Delete("/owners/{ownerId}", h.OwnersDelete)
	r.Post("/owners/{ownerId}/documents", h.OwnersRegisterDocument)
	r.Get("/owners/{ownerId}/documents", h.OwnersListDocuments)
	r.Get("/owners/{ownerId}/audit-log", h.OwnersListAuditLog)
}

// Owner is the wire representation of a business owner.
type Owner struct {
	ID                    uuid.UUID  `json:"id"`
	FirstName             string     `json:"firstName"`
	LastName              string     `json:"lastName"`
	Email                 string     `json:"email"`
	Phone                 string     `json:"phone,omitempty"`
	Address               string     `json:"address,omitempty"`
	TaxID                 string     `json:"taxId"`
	IDLicenseNumber       string     `json:"idLicenseNumber,omitempty"`
	VerificationStatus    string     `json:"verificationStatus"`
	LastVerifiedAt        *time.Time `json:"lastVerifiedAt,omitempty"`
	VerificationExpiresAt *time.Time `json:"verificationExpiresAt,omitempty"`
	AssignedManagerID     string     `json:"assignedManagerId"`
	Version               int64      `json:"version"`
	CreatedAt             time.Time  `json:"createdAt"`
	UpdatedAt             time.Time  `json:"updatedAt"`
}

// Document is the wire representation of document metadata.
type Document struct {
	ID           uuid.UUID `json:"id"`
	OwnerID      uuid.UUID `json:"ownerId"`
	Name         string    `json:"name"`
	DocumentType string    `json:"documentType"`
	StorageKey   string    `json:"storageKey"`
	UploadedBy   string    `json:"uploadedBy"`
	CreatedAt    time.Time `json:"createdAt"`
}

type createOwnerRequest struct {
	FirstName       string `json:"firstName"`
	LastName        string `json:"lastName"`
	Email           string `json:"email"`
	Phone           string `json:"phone"`
	Address         string `json:"address"`
	TaxID           string `json:"taxId"`
	IDLicenseNumber string `json:"idLicenseNumber"`
}

type updateOwnerRequest struct {
	FirstName       *string `json:"firstName"`
	LastName        *string `json:"lastName"`
	Email           *string `json:"email"`
	Phone           *string `json:"phone"`
	Address         *string `json:"address"`
	TaxID           *string `json:"taxId"`
	IDLicenseNumber *string `json:"idLicenseNumber"`
}

type updateOwnerResponse struct {
	Owner        Owner                              `json:"owner"`
	FieldChanges map[string]persistence.FieldChange `json:"fieldChanges"`
}

type deleteOwnerRequest struct {
	Reason string `json:"reason"`
}

type deleteOwnerResponse struct {
	OwnerID                      uuid.UUID `json:"ownerId"`
	DeletedAt                    time.Time `json:"deletedAt"`
	DocumentsDeleted             int64     `json:"documentsDeleted"`
	VerificationAttemptsRetained int       `json:"verificationAttemptsRetained"`
}

type registerDocumentRequest struct {
	Name         string `json:"name"`
	DocumentType string `json:"documentType"`
	StorageKey   string `json:"storageKey"`
}

type listDocumentsResponse struct {
	Items []Document `json:"items"`
}

type listAuditResponse struct {
	Items []service.AuditEntry `json:"items"`
}

func (h *Handler) OwnersCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.requireActor(w, r, createOperation)
	if !ok {
		return
	}

	var body createOwnerRequest
	if err := httpapi.DecodeJSON(r, &body); err != nil {
		h.writeError(w, r, bodyError(err), createOperation)
		return
	}

	owner, err := h.svc.Create(ctx, actor, service.CreateInput(body))
	if err != nil {
		h.writeError(w, r, err, createOperation)
		return
	}

	httpapi.SetETag(w, owner.Version)
	httpapi.WriteJSON(w, http.StatusCreated, toAPIOwner(owner))
}

func (h *Handler) OwnersGet(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r, getOperation)
	if !ok {
		return
	}
	ownerID, err := ownerIDParam(r)
	if err != nil {
		h.writeError(w, r, err, getOperation)
		return
	}

	owner, err := h.svc.Get(r.Context(), actor, ownerID)
	if err != nil {
		h.writeError(w, r, err, getOperation)
		return
	}

	httpapi.SetETag(w, owner.Version)
	httpapi.WriteJSON(w, http.StatusOK, toAPIOwner(owner))
}

func (h *Handler) OwnersUpdate(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r, updateOperation)
	if !ok {
		return
	}
	ownerID, err := ownerIDParam(r)
	if err != nil {
		h.writeError(w, r, err, updateOperation)
		return
	}
	expected, err := ifMatchVersion(r)
	if err != nil {
		h.writeError(w, r, err, updateOperation)
		return
	}

	var body updateOwnerRequest
	if err := httpapi.DecodeJSON(r, &body); err != nil {
		h.writeError(w, r, bodyError(err), updateOperation)
		return
	}

	result, err := h.svc.Update(r.Context(), actor, ownerID, service.UpdateInput{
		FirstName:       body.FirstName,
		LastName:        body.LastName,
		Email:           body.Email,
		Phone:           body.Phone,
		Address:         body.Address,
		TaxID:           body.TaxID,
		IDLicenseNumber: body.IDLicenseNumber,
		ExpectedVersion: expected,
	})
	if err != nil {
		h.writeError(w, r, err, updateOperation)
		return
	}

	httpapi.SetETag(w, result.Owner.Version)
	httpapi.WriteJSON(w, http.StatusOK, updateOwnerResponse{Owner: toAPIOwner(result.Owner), FieldChanges: result.Changes})
}

func (h *Handler) OwnersDelete(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r, deleteOperation)
	if !ok {
		return
	}
	ownerID, err := ownerIDParam(r)
	if err != nil {
		h.writeError(w, r, err, deleteOperation)
		return
	}
	expected, err := ifMatchVersion(r)
	if err != nil {
		h.writeError(w, r, err, deleteOperation)
		return
	}

	var body deleteOwnerRequest
	if err := httpapi.DecodeJSON(r, &body); err != nil {
		h.writeError(w, r, bodyError(err), deleteOperation)
		return
	}

	result, err := h.svc.Delete(r.Context(), actor, ownerID, service.DeleteInput{Reason: body.Reason, ExpectedVersion: expected})
	if err != nil {
		h.writeError(w, r, err, deleteOperation)
		return
	}

	httpapi.WriteJSON(w, http.StatusOK, deleteOwnerResponse(result))
}

func (h *Handler) OwnersRegisterDocument(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r, registerDocumentOperation)
	if !ok {
		return
	}
	ownerID, err := ownerIDParam(r)
	if err != nil {
		h.writeError(w, r, err, registerDocumentOperation)
		return
	}

	var body registerDocumentRequest
	if err := httpapi.DecodeJSON(r, &body); err != nil {
		h.writeError(w, r, bodyError(err), registerDocumentOperation)
		return
	}

	doc, err := h.svc.RegisterDocument(r.Context(), actor, ownerID, service.RegisterDocumentInput(body))
	if err != nil {
		h.writeError(w, r, err, registerDocumentOperation)
		return
	}

	httpapi.WriteJSON(w, http.StatusCreated, Document(doc))
}

func (h *Handler) OwnersListDocuments(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r, listDocumentsOperation)
	if !ok {
		return
	}
	ownerID, err := ownerIDParam(r)
	if err != nil {
		h.writeError(w, r, err, listDocumentsOperation)
		return
	}

	docs, err := h.svc.ListDocuments(r.Context(), actor, ownerID)
	if err != nil {
		h.writeError(w, r, err, listDocumentsOperation)
		return
	}

	items := make([]Document, 0, len(docs))
	for _, doc := range docs {
		items = append(items, Document(doc))
	}
	httpapi.WriteJSON(w, http.StatusOK, listDocumentsResponse{Items: items})
}

func (h *Handler) OwnersListAuditLog(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r, listAuditOperation)
	if !ok {
		return
	}
	ownerID, err := ownerIDParam(r)
	if err != nil {
		h.writeError(w, r, err, listAuditOperation)
		return
	}

	query := service.AuditQuery{OwnerID: ownerID}
	values := r.URL.Query()
	var entityType, entityID *string
	var limit, offset *int
	fieldErrors := service.FieldErrors{}
	for name, dest := range map[string]any{"entityType": &entityType, "entityId": &entityID, "limit": &limit, "offset": &offset} {
		if err := runtime.BindQueryParameter("form", true, false, name, values, dest); err != nil {
			fieldErrors[name] = append(fieldErrors[name], fmt.Sprintf("invalid %s", name))
		}
	}
	if len(fieldErrors) > 0 {
		h.writeError(w, r, &service.ValidationError{Fields: fieldErrors}, listAuditOperation)
		return
	}
	if entityType != nil {
		query.EntityType = *entityType
	}
	if entityID != nil {
		query.EntityID = *entityID
	}
	if limit != nil {
		query.Limit = *limit
	}
	if offset != nil {
		query.Offset = *offset
	}

	entries, err := h.svc.ListAuditLog(r.Context(), actor, query)
	if err != nil {
		h.writeError(w, r, err, listAuditOperation)
		return
	}
	if entries == nil {
		entries = []service.AuditEntry{}
	}
	httpapi.WriteJSON(w, http.StatusOK, listAuditResponse{Items: entries})
}

func toAPIOwner(owner service.Owner) Owner {
	return Owner(owner)
}

func ownerIDParam(r *http.Request) (uuid.UUID, error) {
	var ownerID uuid.UUID
	err := runtime.BindStyledParameterWithOptions("simple", "ownerId", chi.URLParam(r, "ownerId"), &ownerID,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		return uuid.Nil, &service.ValidationError{Fields: service.FieldErrors{"ownerId": {"ownerId must be a UUID"}}}
	}
	return ownerID, nil
}

func ifMatchVersion(r *http.Request) (*int64, error) {
	version, err := httpapi.IfMatchVersion(r)
	if err != nil {
		return nil, &service.ValidationError{Fields: service.FieldErrors{"If-Match": {err.Error()}}}
	}
	return version, nil
}

func bodyError(err error) error {
	return &service.ValidationError{Fields: service.FieldErrors{"body": {err.Error()}}}
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
		logger.Error("owners operation failed", append(fieldsForLog, zap.Error(err))...)
	case status == http.StatusNotFound:
		logger.Info("owners resource not found", append(fieldsForLog, zap.Error(err))...)
	default:
		logger.Warn("owners request rejected", append(fieldsForLog, zap.Error(err))...)
	}

	return httpapi.NewProblem(title, detail, problemType, status, fields)
}

func (h *Handler) classifyError(err error) (status int, title, detail, problemType string, fieldErrors service.FieldErrors) {
	var validationErr *service.ValidationError
	var openErr *service.OpenAttemptError
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
			"business owner not found",
			httpapi.ProblemTypeNotFound,
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
			"business owner was modified concurrently",
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
