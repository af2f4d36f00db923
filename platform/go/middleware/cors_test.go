package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCORS(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	t.Run("wildcard", func(t *testing.T) {
		rec := httptest.NewRecorder()
		CORS(nil)(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/owners", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		require.Equal(t, "ETag,Location", rec.Header().Get("Access-Control-Expose-Headers"))
	})

	t.Run("listed origin preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/verifications/x/draft", nil)
		req.Header.Set("Origin", "https://app.permitdesk.dev")
		rec := httptest.NewRecorder()
		CORS([]string{"https://app.permitdesk.dev"})(ok).ServeHTTP(rec, req)
		require.Equal(t, http.StatusNoContent, rec.Code)
		require.Equal(t, "https://app.permitdesk.dev", rec.Header().Get("Access-Control-Allow-Origin"))
		require.Equal(t, "Origin", rec.Header().Get("Vary"))
	})

	t.Run("unlisted origin preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/owners", nil)
		req.Header.Set("Origin", "https://evil.example")
		rec := httptest.NewRecorder()
		CORS([]string{"https://app.permitdesk.dev"})(ok).ServeHTTP(rec, req)
		require.Equal(t, http.StatusForbidden, rec.Code)
		require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})
}
