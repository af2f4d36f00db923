package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zenGate-Global/permitdesk/domains/verifications/model"
	"github.com/zenGate-Global/permitdesk/domains/verifications/wizard"
	"github.com/zenGate-Global/permitdesk/platform/go/httpapi"
)

func TestClientCreateVerification(t *testing.T) {
	t.Parallel()

	ownerID := uuid.New()
	attemptID := uuid.New()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/owners/"+ownerID.String()+"/verification", r.URL.Path)
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))

		var body struct {
			IsDraft   bool        `json:"isDraft"`
			DraftData model.Draft `json:"draftData"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.True(t, body.IsDraft)
		assert.Equal(t, model.StepWelcome, body.DraftData.CurrentStep)

		httpapi.WriteJSON(w, http.StatusCreated, map[string]any{
			"id":        attemptID,
			"ownerId":   ownerID,
			"version":   1,
			"sections":  model.NewSections(),
			"decision":  "PENDING",
			"draftData": body.DraftData,
		})
	}))
	defer server.Close()

	c := New(server.URL+"/api/v1/", "token-1", nil)
	attempt, err := c.CreateVerification(context.Background(), ownerID, wizard.NewSession(ownerID).Draft())
	require.NoError(t, err)
	require.Equal(t, attemptID, attempt.ID)
	require.Equal(t, int64(1), attempt.Version)
	require.NotNil(t, attempt.Draft)
	require.Equal(t, model.StepWelcome, attempt.Draft.CurrentStep)
}

func TestClientCreateVerificationConflict(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		httpapi.WriteProblem(w, httpapi.NewProblem("Conflict", "verification attempt is still open", httpapi.ProblemTypeConflict, http.StatusConflict, nil))
	}))
	defer server.Close()

	ownerID := uuid.New()
	_, err := New(server.URL, "", nil).CreateVerification(context.Background(), ownerID, wizard.NewSession(ownerID).Draft())
	require.ErrorIs(t, err, wizard.ErrAttemptOpen)

	var problem *ProblemError
	require.ErrorAs(t, err, &problem)
	require.Equal(t, http.StatusConflict, problem.Status)
}

func TestClientSaveDraftSendsIfMatch(t *testing.T) {
	t.Parallel()

	attemptID := uuid.New()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/verifications/"+attemptID.String()+"/draft", r.URL.Path)
		assert.Equal(t, `"3"`, r.Header.Get("If-Match"))
		httpapi.WriteJSON(w, http.StatusOK, map[string]any{"id": attemptID, "version": 4, "sections": model.NewSections()})
	}))
	defer server.Close()

	attempt, err := New(server.URL, "", nil).SaveDraft(context.Background(), attemptID, model.Draft{CurrentStep: model.StepAddress}, 3)
	require.NoError(t, err)
	require.Equal(t, int64(4), attempt.Version)
	require.Nil(t, attempt.Draft)
}

func TestClientSaveDraftStale(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		httpapi.WriteProblem(w, httpapi.NewProblem("Conflict", "", httpapi.ProblemTypeConflict, http.StatusConflict, nil))
	}))
	defer server.Close()

	_, err := New(server.URL, "", nil).SaveDraft(context.Background(), uuid.New(), model.Draft{}, 1)
	require.ErrorIs(t, err, wizard.ErrStaleVersion)
}

func TestClientGetAttempt(t *testing.T) {
	t.Parallel()

	ownerID := uuid.New()
	attemptID := uuid.New()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/verifications/"+attemptID.String(), r.URL.Path)
		assert.Empty(t, r.Header.Get("If-Match"))

		sections := model.NewSections()
		sections.Address.Status = model.SectionVerified
		httpapi.WriteJSON(w, http.StatusOK, map[string]any{
			"id":        attemptID,
			"ownerId":   ownerID,
			"version":   5,
			"sections":  sections,
			"decision":  "PENDING",
			"draftData": map[string]any{"currentStep": "address"},
		})
	}))
	defer server.Close()

	attempt, err := New(server.URL, "", nil).GetAttempt(context.Background(), attemptID)
	require.NoError(t, err)
	require.Equal(t, int64(5), attempt.Version)
	require.Equal(t, model.SectionVerified, attempt.Sections.Address.Status)
	require.NotNil(t, attempt.Draft)
	require.Equal(t, model.StepAddress, attempt.Draft.CurrentStep)
}

func TestClientSubmit(t *testing.T) {
	t.Parallel()

	attemptID := uuid.New()
	certificateID := uuid.New()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/verifications/"+attemptID.String()+"/submit", r.URL.Path)
		assert.Empty(t, r.Header.Get("Content-Type"))
		httpapi.WriteJSON(w, http.StatusOK, map[string]any{
			"attempt":                 map[string]any{"id": attemptID, "version": 3, "decision": "VERIFIED", "completedAt": "2026-03-01T10:00:00Z"},
			"ownerVerificationStatus": "VERIFIED",
			"certificate":             map[string]any{"id": certificateID},
		})
	}))
	defer server.Close()

	outcome, err := New(server.URL, "", nil).Submit(context.Background(), attemptID, 2)
	require.NoError(t, err)
	require.Equal(t, "VERIFIED", outcome.OwnerStatus)
	require.Equal(t, model.DecisionVerified, outcome.Attempt.Decision)
	require.NotNil(t, outcome.Attempt.CompletedAt)
	require.Equal(t, certificateID, *outcome.CertificateID)
}

func TestClientSubmitIncomplete(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		httpapi.WriteProblem(w, httpapi.NewProblem("Incomplete submission", "", httpapi.ProblemTypeIncomplete, http.StatusUnprocessableEntity,
			map[string][]string{"identity": {"section has not reached a decision"}}))
	}))
	defer server.Close()

	_, err := New(server.URL, "", nil).Submit(context.Background(), uuid.New(), 1)
	require.ErrorIs(t, err, wizard.ErrIncomplete)
	require.NotErrorIs(t, err, wizard.ErrStaleVersion)
}
