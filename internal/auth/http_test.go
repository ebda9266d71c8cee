// ABOUTME: Tests for the bearer token HTTP middleware
// ABOUTME: Covers header extraction, rejection responses, and context propagation

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name      string
		header    string
		wantToken string
		wantErr   bool
	}{
		{"valid", "Bearer abc123", "abc123", false},
		{"missing header", "", "", true},
		{"wrong scheme", "Basic abc123", "", true},
		{"empty token", "Bearer ", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, errMsg := extractBearerToken(tt.header)
			if tt.wantErr {
				assert.NotEmpty(t, errMsg)
				return
			}
			assert.Empty(t, errMsg)
			assert.Equal(t, tt.wantToken, token)
		})
	}
}

func TestHTTPAuthMiddleware(t *testing.T) {
	verifier := NewJWTVerifier([]byte("test-secret"))
	token, err := verifier.Generate("agent-1", time.Hour)
	require.NoError(t, err)

	var gotSubject string
	handler := HTTPAuthMiddleware(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSubject, _ = SubjectFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	// Authenticated request reaches the handler with the subject in context.
	req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "agent-1", gotSubject)

	// No credentials at all.
	req = httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// A token signed with another secret.
	other, err := NewJWTVerifier([]byte("other-secret")).Generate("agent-1", time.Hour)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	req.Header.Set("Authorization", "Bearer "+other)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSubjectFromContext_Absent(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := SubjectFromContext(req.Context())
	assert.False(t, ok)
}
