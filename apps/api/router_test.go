package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zenGate-Global/permitdesk/contracts"
	ownershandler "github.com/zenGate-Global/permitdesk/domains/owners/be/handler"
	ownersservice "github.com/zenGate-Global/permitdesk/domains/owners/be/service"
	verificationshandler "github.com/zenGate-Global/permitdesk/domains/verifications/be/handler"
	verificationsservice "github.com/zenGate-Global/permitdesk/domains/verifications/be/service"
	"github.com/zenGate-Global/permitdesk/platform/go/audit"
	platformauth "github.com/zenGate-Global/permitdesk/platform/go/auth"
	"github.com/zenGate-Global/permitdesk/platform/go/auth/devtoken"
	"github.com/zenGate-Global/permitdesk/platform/go/metrics"
	"github.com/zenGate-Global/permitdesk/platform/go/persistence"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	logger := zaptest.NewLogger(t)
	spec, err := contracts.LoadVerification()
	require.NoError(t, err)

	store := persistence.NewMemoryStore()
	engineMetrics := metrics.New(prometheus.NewRegistry())
	writer := audit.NewWriter(nil, engineMetrics)

	owners := ownersservice.New(store, writer, nil, ownersservice.DocumentStorage{})
	verifications := verificationsservice.New(store, writer, verificationsservice.Options{
		Metrics:   engineMetrics,
		Issuer:    verificationsservice.CertificateIssuer{Validity: time.Hour, BaseURL: "https://permitdesk.test"},
		Validator: persistence.NewDraftValidator(),
	})

	server := httptest.NewServer(newRouter(routerConfig{
		Logger:        logger,
		Auth:          platformauth.JWT(platformauth.UnsignedTokenVerifier(), platformauth.DefaultCredentialExtractor),
		Spec:          spec,
		Owners:        ownershandler.New(owners, logger),
		Verifications: verificationshandler.New(verifications, logger),
	}))
	t.Cleanup(server.Close)
	return server
}

func devToken(t *testing.T, userID string) string {
	t.Helper()
	token, err := devtoken.BuildUnsignedFirebaseToken(devtoken.Params{
		ProjectID: "permitdesk-test",
		UserID:    userID,
		Email:     userID + "@example.com",
		Name:      "Test Manager",
	}, time.Now())
	require.NoError(t, err)
	return token
}

type call struct {
	method  string
	path    string
	token   string
	ifMatch string
	body    any
}

func do(t *testing.T, server *httptest.Server, c call, out any) *http.Response {
	t.Helper()

	var body bytes.Buffer
	if c.body != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(c.body))
	}
	req, err := http.NewRequest(c.method, server.URL+c.path, &body)
	require.NoError(t, err)
	if c.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.ifMatch != "" {
		req.Header.Set("If-Match", c.ifMatch)
	}

	resp, err := server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	if out != nil && resp.StatusCode < http.StatusBadRequest {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestVerificationLifecycleOverHTTP(t *testing.T) {
	server := newTestServer(t)
	token := devToken(t, "manager-1")

	var owner struct {
		ID string `json:"id"`
	}
	resp := do(t, server, call{
		method: http.MethodPost,
		path:   "/api/v1/owners",
		token:  token,
		body: map[string]string{
			"firstName": "Ada",
			"lastName":  "Lovelace",
			"email":     "ada@example.com",
			"taxId":     "123-45-6789",
		},
	}, &owner)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var attempt struct {
		ID      string `json:"id"`
		Version int64  `json:"version"`
	}
	resp = do(t, server, call{
		method: http.MethodPost,
		path:   "/api/v1/owners/" + owner.ID + "/verification",
		token:  token,
		body:   map[string]any{"isDraft": true, "draftData": map[string]any{"currentStep": "welcome"}},
	}, &attempt)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	for _, section := range []string{"identity", "address", "businessAffiliation"} {
		resp = do(t, server, call{
			method:  http.MethodPut,
			path:    "/api/v1/verifications/" + attempt.ID + "/sections/" + section,
			token:   token,
			ifMatch: resp.Header.Get("ETag"),
			body:    map[string]string{"status": "VERIFIED"},
		}, &attempt)
		require.Equal(t, http.StatusOK, resp.StatusCode, section)
	}

	// A writer holding the first version is rejected and re-reads the attempt.
	resp = do(t, server, call{
		method:  http.MethodPut,
		path:    "/api/v1/verifications/" + attempt.ID + "/draft",
		token:   token,
		ifMatch: `"1"`,
		body:    map[string]any{"draftData": map[string]any{"currentStep": "summary"}},
	}, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	current := attempt.Version
	resp = do(t, server, call{
		method: http.MethodGet,
		path:   "/api/v1/verifications/" + attempt.ID,
		token:  token,
	}, &attempt)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, current, attempt.Version)
	require.Equal(t, strconv.Quote(strconv.FormatInt(current, 10)), resp.Header.Get("ETag"))

	var submitted struct {
		OwnerStatus string `json:"ownerVerificationStatus"`
		Certificate struct {
			ID               string `json:"id"`
			VerificationHash string `json:"verificationHash"`
		} `json:"certificate"`
	}
	resp = do(t, server, call{
		method:  http.MethodPost,
		path:    "/api/v1/verifications/" + attempt.ID + "/submit",
		token:   token,
		ifMatch: resp.Header.Get("ETag"),
	}, &submitted)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "VERIFIED", submitted.OwnerStatus)
	require.NotEmpty(t, submitted.Certificate.VerificationHash)

	var validation struct {
		Valid   bool `json:"valid"`
		Current bool `json:"current"`
	}
	resp = do(t, server, call{
		method: http.MethodGet,
		path:   "/api/v1/certificates/" + submitted.Certificate.ID + "/validate?hash=" + submitted.Certificate.VerificationHash,
	}, &validation)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, validation.Valid)
	require.True(t, validation.Current)

	var log struct {
		Items []map[string]any `json:"items"`
	}
	resp = do(t, server, call{
		method: http.MethodGet,
		path:   "/api/v1/owners/" + owner.ID + "/audit-log?entityType=BusinessOwner",
		token:  token,
	}, &log)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	// registration, PENDING_VERIFICATION on the first attempt, VERIFIED on closure
	require.Len(t, log.Items, 3)
}

func TestOtherManagerIsForbidden(t *testing.T) {
	server := newTestServer(t)

	var owner struct {
		ID string `json:"id"`
	}
	resp := do(t, server, call{
		method: http.MethodPost,
		path:   "/api/v1/owners",
		token:  devToken(t, "manager-1"),
		body:   map[string]string{"firstName": "Ada", "lastName": "Lovelace", "email": "ada@example.com", "taxId": "123456789"},
	}, &owner)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = do(t, server, call{
		method: http.MethodGet,
		path:   "/api/v1/owners/" + owner.ID + "/verification",
		token:  devToken(t, "manager-2"),
	}, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	server := newTestServer(t)

	resp := do(t, server, call{method: http.MethodGet, path: "/api/v1/owners/3f1c2a9e-8a55-4c7b-9f43-3e1d2b6f0a11"}, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"))
}

func TestContractRejectsUnknownSection(t *testing.T) {
	server := newTestServer(t)

	resp := do(t, server, call{
		method: http.MethodPut,
		path:   "/api/v1/verifications/3f1c2a9e-8a55-4c7b-9f43-3e1d2b6f0a11/sections/employment",
		token:  devToken(t, "manager-1"),
		body:   map[string]string{"status": "VERIFIED"},
	}, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthAndDocs(t *testing.T) {
	server := newTestServer(t)

	resp := do(t, server, call{method: http.MethodGet, path: "/healthz"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, server, call{method: http.MethodGet, path: "/readyz"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var doc map[string]any
	resp = do(t, server, call{method: http.MethodGet, path: "/openapi/verification.json"}, &doc)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "3.0.3", doc["openapi"])

	resp = do(t, server, call{method: http.MethodGet, path: "/openapi/unknown.json"}, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, server, call{method: http.MethodGet, path: "/openapi/verification.yaml"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/yaml", resp.Header.Get("Content-Type"))

	resp = do(t, server, call{method: http.MethodGet, path: "/docs"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
