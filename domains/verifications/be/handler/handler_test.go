package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zenGate-Global/permitdesk/domains/verifications/be/service"
	"github.com/zenGate-Global/permitdesk/domains/verifications/model"
	"github.com/zenGate-Global/permitdesk/platform/go/requesttrace"
)

type mockService struct {
	getDetailsFn          func(ctx context.Context, actor requesttrace.AuditInfo, ownerID uuid.UUID) (service.Details, error)
	getAttemptFn          func(ctx context.Context, actor requesttrace.AuditInfo, attemptID uuid.UUID) (service.Attempt, error)
	createAttemptFn       func(ctx context.Context, actor requesttrace.AuditInfo, ownerID uuid.UUID, input service.CreateAttemptInput) (service.Attempt, error)
	saveDraftFn           func(ctx context.Context, actor requesttrace.AuditInfo, attemptID uuid.UUID, input service.SaveDraftInput) (service.Attempt, error)
	setSectionStatusFn    func(ctx context.Context, actor requesttrace.AuditInfo, attemptID uuid.UUID, section model.SectionName, input service.SectionUpdateInput) (service.Attempt, error)
	linkDocumentFn        func(ctx context.Context, actor requesttrace.AuditInfo, attemptID, documentID uuid.UUID) (service.DocumentVerification, error)
	decideDocumentFn      func(ctx context.Context, actor requesttrace.AuditInfo, attemptID, documentID uuid.UUID, input service.DecideDocumentInput) (service.DocumentVerification, error)
	submitFn              func(ctx context.Context, actor requesttrace.AuditInfo, attemptID uuid.UUID, input service.SubmitInput) (service.SubmitResult, error)
	validateCertificateFn func(ctx context.Context, certificateID uuid.UUID, hash string) (service.CertificateValidation, error)
}

func (m *mockService) GetDetails(ctx context.Context, actor requesttrace.AuditInfo, ownerID uuid.UUID) (service.Details, error) {
	if m.getDetailsFn == nil {
		panic("getDetailsFn not configured")
	}
	return m.getDetailsFn(ctx, actor, ownerID)
}

func (m *mockService) GetAttempt(ctx context.Context, actor requesttrace.AuditInfo, attemptID uuid.UUID) (service.Attempt, error) {
	if m.getAttemptFn == nil {
		panic("getAttemptFn not configured")
	}
	return m.getAttemptFn(ctx, actor, attemptID)
}

func (m *mockService) CreateAttempt(ctx context.Context, actor requesttrace.AuditInfo, ownerID uuid.UUID, input service.CreateAttemptInput) (service.Attempt, error) {
	if m.createAttemptFn == nil {
		panic("createAttemptFn not configured")
	}
	return m.createAttemptFn(ctx, actor, ownerID, input)
}

func (m *mockService) SaveDraft(ctx context.Context, actor requesttrace.AuditInfo, attemptID uuid.UUID, input service.SaveDraftInput) (service.Attempt, error) {
	if m.saveDraftFn == nil {
		panic("saveDraftFn not configured")
	}
	return m.saveDraftFn(ctx, actor, attemptID, input)
}

func (m *mockService) SetSectionStatus(ctx context.Context, actor requesttrace.AuditInfo, attemptID uuid.UUID, section model.SectionName, input service.SectionUpdateInput) (service.Attempt, error) {
	if m.setSectionStatusFn == nil {
		panic("setSectionStatusFn not configured")
	}
	return m.setSectionStatusFn(ctx, actor, attemptID, section, input)
}

func (m *mockService) LinkDocument(ctx context.Context, actor requesttrace.AuditInfo, attemptID, documentID uuid.UUID) (service.DocumentVerification, error) {
	if m.linkDocumentFn == nil {
		panic("linkDocumentFn not configured")
	}
	return m.linkDocumentFn(ctx, actor, attemptID, documentID)
}

func (m *mockService) DecideDocument(ctx context.Context, actor requesttrace.AuditInfo, attemptID, documentID uuid.UUID, input service.DecideDocumentInput) (service.DocumentVerification, error) {
	if m.decideDocumentFn == nil {
		panic("decideDocumentFn not configured")
	}
	return m.decideDocumentFn(ctx, actor, attemptID, documentID, input)
}

func (m *mockService) Submit(ctx context.Context, actor requesttrace.AuditInfo, attemptID uuid.UUID, input service.SubmitInput) (service.SubmitResult, error) {
	if m.submitFn == nil {
		panic("submitFn not configured")
	}
	return m.submitFn(ctx, actor, attemptID, input)
}

func (m *mockService) ValidateCertificate(ctx context.Context, certificateID uuid.UUID, hash string) (service.CertificateValidation, error) {
	if m.validateCertificateFn == nil {
		panic("validateCertificateFn not configured")
	}
	return m.validateCertificateFn(ctx, certificateID, hash)
}

func newRouter(t *testing.T, svc service.Service) http.Handler {
	t.Helper()
	h := New(svc, zaptest.NewLogger(t))
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	h.RegisterPublicRoutes(r)
	return r
}

func withManager(req *http.Request) *http.Request {
	id := "manager-1"
	audit := requesttrace.AuditInfo{ActorKind: requesttrace.ActorKindUser, UserID: &id, Role: "manager"}
	return req.WithContext(requesttrace.IntoContext(req.Context(), audit))
}

func sampleAttempt(id uuid.UUID) service.Attempt {
	return service.Attempt{
		ID:                id,
		OwnerID:           uuid.New(),
		InitiatedAt:       time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		InitiatedBy:       "manager-1",
		Decision:          model.DecisionPending,
		AggregateDecision: model.DecisionPending,
		Sections:          model.NewSections(),
		Version:           2,
	}
}

func TestVerificationsCreateConflict(t *testing.T) {
	t.Parallel()

	blocking := uuid.New()
	svc := &mockService{
		createAttemptFn: func(_ context.Context, _ requesttrace.AuditInfo, _ uuid.UUID, input service.CreateAttemptInput) (service.Attempt, error) {
			require.True(t, input.IsDraft)
			require.JSONEq(t, `{"currentStep":"welcome"}`, string(input.DraftData))
			return service.Attempt{}, &service.OpenAttemptError{AttemptID: blocking}
		},
	}

	body := `{"isDraft":true,"draftData":{"currentStep":"welcome"}}`
	req := withManager(httptest.NewRequest(http.MethodPost, "/owners/"+uuid.NewString()+"/verification", strings.NewReader(body)))
	resp := httptest.NewRecorder()
	newRouter(t, svc).ServeHTTP(resp, req)

	require.Equal(t, http.StatusConflict, resp.Code)
	require.Contains(t, resp.Body.String(), blocking.String())
}

func TestVerificationsCreate(t *testing.T) {
	t.Parallel()

	attemptID := uuid.New()
	svc := &mockService{
		createAttemptFn: func(context.Context, requesttrace.AuditInfo, uuid.UUID, service.CreateAttemptInput) (service.Attempt, error) {
			attempt := sampleAttempt(attemptID)
			attempt.Version = 1
			return attempt, nil
		},
	}

	req := withManager(httptest.NewRequest(http.MethodPost, "/owners/"+uuid.NewString()+"/verification", strings.NewReader(`{"isDraft":false}`)))
	resp := httptest.NewRecorder()
	newRouter(t, svc).ServeHTTP(resp, req)

	require.Equal(t, http.StatusCreated, resp.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	require.Equal(t, "PENDING", out["aggregateDecision"])
	sections := out["sections"].(map[string]any)
	require.Contains(t, sections, "businessAffiliation")
}

func TestVerificationsGetReturnsCurrentVersion(t *testing.T) {
	t.Parallel()

	attemptID := uuid.New()
	svc := &mockService{
		getAttemptFn: func(_ context.Context, _ requesttrace.AuditInfo, id uuid.UUID) (service.Attempt, error) {
			require.Equal(t, attemptID, id)
			attempt := sampleAttempt(attemptID)
			attempt.Version = 7
			return attempt, nil
		},
	}

	req := withManager(httptest.NewRequest(http.MethodGet, "/verifications/"+attemptID.String(), nil))
	resp := httptest.NewRecorder()
	newRouter(t, svc).ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, `"7"`, resp.Header().Get("ETag"))
	var out map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	require.Equal(t, attemptID.String(), out["id"])
	require.EqualValues(t, 7, out["version"])
}

func TestVerificationsGetNotFound(t *testing.T) {
	t.Parallel()

	svc := &mockService{
		getAttemptFn: func(context.Context, requesttrace.AuditInfo, uuid.UUID) (service.Attempt, error) {
			return service.Attempt{}, service.ErrNotFound
		},
	}

	req := withManager(httptest.NewRequest(http.MethodGet, "/verifications/"+uuid.NewString(), nil))
	resp := httptest.NewRecorder()
	newRouter(t, svc).ServeHTTP(resp, req)

	require.Equal(t, http.StatusNotFound, resp.Code)
}

func TestVerificationsSaveDraftIfMatchIsOptional(t *testing.T) {
	t.Parallel()

	attemptID := uuid.New()
	var expected []*int64
	svc := &mockService{
		saveDraftFn: func(_ context.Context, _ requesttrace.AuditInfo, _ uuid.UUID, input service.SaveDraftInput) (service.Attempt, error) {
			expected = append(expected, input.ExpectedVersion)
			return sampleAttempt(attemptID), nil
		},
	}
	router := newRouter(t, svc)

	body := `{"draftData":{"currentStep":"identity"}}`
	req := withManager(httptest.NewRequest(http.MethodPut, "/verifications/"+attemptID.String()+"/draft", strings.NewReader(body)))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)

	req = withManager(httptest.NewRequest(http.MethodPut, "/verifications/"+attemptID.String()+"/draft", strings.NewReader(body)))
	req.Header.Set("If-Match", "4")
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)

	require.Len(t, expected, 2)
	require.Nil(t, expected[0])
	require.Equal(t, int64(4), *expected[1])
}

func TestVerificationsSetSection(t *testing.T) {
	t.Parallel()

	attemptID := uuid.New()
	svc := &mockService{
		setSectionStatusFn: func(_ context.Context, _ requesttrace.AuditInfo, id uuid.UUID, section model.SectionName, input service.SectionUpdateInput) (service.Attempt, error) {
			require.Equal(t, attemptID, id)
			require.Equal(t, model.SectionAddress, section)
			require.Equal(t, model.SectionVerified, input.Status)
			require.Equal(t, int64(2), *input.ExpectedVersion)
			attempt := sampleAttempt(attemptID)
			attempt.Version = 3
			return attempt, nil
		},
	}

	req := withManager(httptest.NewRequest(http.MethodPut, "/verifications/"+attemptID.String()+"/sections/address", strings.NewReader(`{"status":"VERIFIED"}`)))
	req.Header.Set("If-Match", `"2"`)
	resp := httptest.NewRecorder()
	newRouter(t, svc).ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, `"3"`, resp.Header().Get("ETag"))
}

func TestVerificationsSetSectionClosed(t *testing.T) {
	t.Parallel()

	svc := &mockService{
		setSectionStatusFn: func(context.Context, requesttrace.AuditInfo, uuid.UUID, model.SectionName, service.SectionUpdateInput) (service.Attempt, error) {
			return service.Attempt{}, service.ErrInvalidTransition
		},
	}

	req := withManager(httptest.NewRequest(http.MethodPut, "/verifications/"+uuid.NewString()+"/sections/identity", strings.NewReader(`{"status":"REJECTED"}`)))
	resp := httptest.NewRecorder()
	newRouter(t, svc).ServeHTTP(resp, req)

	require.Equal(t, http.StatusUnprocessableEntity, resp.Code)
}

func TestVerificationsSubmitIncomplete(t *testing.T) {
	t.Parallel()

	svc := &mockService{
		submitFn: func(context.Context, requesttrace.AuditInfo, uuid.UUID, service.SubmitInput) (service.SubmitResult, error) {
			return service.SubmitResult{}, &service.IncompleteSubmissionError{Sections: []model.SectionName{model.SectionIdentity}}
		},
	}

	req := withManager(httptest.NewRequest(http.MethodPost, "/verifications/"+uuid.NewString()+"/submit", nil))
	resp := httptest.NewRecorder()
	newRouter(t, svc).ServeHTTP(resp, req)

	require.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	var problem map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &problem))
	require.Contains(t, problem["errors"], "identity")
}

func TestVerificationsSubmitVerified(t *testing.T) {
	t.Parallel()

	attemptID := uuid.New()
	svc := &mockService{
		submitFn: func(_ context.Context, _ requesttrace.AuditInfo, _ uuid.UUID, input service.SubmitInput) (service.SubmitResult, error) {
			require.Equal(t, "all good", *input.DecisionReason)
			attempt := sampleAttempt(attemptID)
			attempt.Decision = model.DecisionVerified
			return service.SubmitResult{
				Attempt:     attempt,
				OwnerStatus: "VERIFIED",
				Certificate: &service.Certificate{ID: uuid.New(), VerificationHash: "abc"},
			}, nil
		},
	}

	req := withManager(httptest.NewRequest(http.MethodPost, "/verifications/"+attemptID.String()+"/submit", strings.NewReader(`{"decisionReason":"all good"}`)))
	resp := httptest.NewRecorder()
	newRouter(t, svc).ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	var out submitResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	require.Equal(t, "VERIFIED", out.OwnerStatus)
	require.NotNil(t, out.Certificate)
	require.Equal(t, "abc", out.Certificate.VerificationHash)
}

func TestVerificationsLinkDocumentRequiresID(t *testing.T) {
	t.Parallel()

	req := withManager(httptest.NewRequest(http.MethodPost, "/verifications/"+uuid.NewString()+"/documents", strings.NewReader(`{}`)))
	resp := httptest.NewRecorder()
	newRouter(t, &mockService{}).ServeHTTP(resp, req)

	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestVerificationsDecideDocument(t *testing.T) {
	t.Parallel()

	documentID := uuid.New()
	svc := &mockService{
		decideDocumentFn: func(_ context.Context, _ requesttrace.AuditInfo, _ uuid.UUID, docID uuid.UUID, input service.DecideDocumentInput) (service.DocumentVerification, error) {
			require.Equal(t, documentID, docID)
			require.Equal(t, model.DocumentNeedsInfo, input.Status)
			return service.DocumentVerification{ID: uuid.New(), DocumentID: docID, Status: input.Status, Notes: input.Notes, Version: 2}, nil
		},
	}

	req := withManager(httptest.NewRequest(http.MethodPost,
		"/verifications/"+uuid.NewString()+"/documents/"+documentID.String()+"/decision",
		strings.NewReader(`{"status":"NEEDS_INFO","notes":"blurry scan"}`)))
	resp := httptest.NewRecorder()
	newRouter(t, svc).ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	var out DocumentVerification
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	require.Equal(t, "blurry scan", out.Notes)
}

func TestVerificationsRequireIdentity(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/owners/"+uuid.NewString()+"/verification", nil)
	resp := httptest.NewRecorder()
	newRouter(t, &mockService{}).ServeHTTP(resp, req)

	require.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestVerificationsDetailsForbidden(t *testing.T) {
	t.Parallel()

	svc := &mockService{
		getDetailsFn: func(context.Context, requesttrace.AuditInfo, uuid.UUID) (service.Details, error) {
			return service.Details{}, service.ErrUnauthorized
		},
	}
	req := withManager(httptest.NewRequest(http.MethodGet, "/owners/"+uuid.NewString()+"/verification", nil))
	resp := httptest.NewRecorder()
	newRouter(t, svc).ServeHTTP(resp, req)

	require.Equal(t, http.StatusForbidden, resp.Code)
}

func TestCertificatesValidateIsPublic(t *testing.T) {
	t.Parallel()

	certificateID := uuid.New()
	svc := &mockService{
		validateCertificateFn: func(_ context.Context, id uuid.UUID, hash string) (service.CertificateValidation, error) {
			require.Equal(t, certificateID, id)
			require.Equal(t, "cafe", hash)
			return service.CertificateValidation{CertificateID: id, Valid: true, Current: true}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/certificates/"+certificateID.String()+"/validate?hash=cafe", nil)
	resp := httptest.NewRecorder()
	newRouter(t, svc).ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	var out validationResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	require.True(t, out.Valid)
	require.True(t, out.Current)
}

func TestCertificatesValidateRequiresHash(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/certificates/"+uuid.NewString()+"/validate", nil)
	resp := httptest.NewRecorder()
	newRouter(t, &mockService{}).ServeHTTP(resp, req)

	require.Equal(t, http.StatusBadRequest, resp.Code)
}
