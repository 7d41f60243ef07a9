package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxisllmlab/copydesk/internal/auth"
	"github.com/praxisllmlab/copydesk/internal/model"
)

const (
	testMasterKey = "sk-master-secret"
	testSecret    = "jwt-test-secret"
)

type seen struct {
	called     bool
	sessionKey string
	role       auth.Role
	isMaster   bool
}

func runAuth(t *testing.T, cfg AuthConfig, method, path string, setHeader func(*http.Request)) (*httptest.ResponseRecorder, *seen) {
	t.Helper()
	got := &seen{}
	h := NewAuthMiddleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.called = true
		got.sessionKey = SessionKey(r.Context())
		got.role = RoleFrom(r.Context())
		got.isMaster, _ = r.Context().Value(ContextKeyIsMasterKey).(bool)
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(method, path, nil)
	if setHeader != nil {
		setHeader(req)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr, got
}

func bearer(token string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func testAuthConfig() AuthConfig {
	return AuthConfig{
		MasterKey:    testMasterKey,
		JWTValidator: auth.NewJWTValidator(auth.JWTConfig{Secret: testSecret}),
		RBACEngine:   auth.NewRBACEngine(),
	}
}

func TestAuth_MasterKeyIsAdmin(t *testing.T) {
	rr, got := runAuth(t, testAuthConfig(), http.MethodGet, "/v1/admin/sessions", bearer(testMasterKey))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, got.called)
	assert.Equal(t, MasterKeySession, got.sessionKey)
	assert.Equal(t, auth.RoleAdmin, got.role)
	assert.True(t, got.isMaster)
}

func TestAuth_APIKeyHeader(t *testing.T) {
	rr, got := runAuth(t, testAuthConfig(), http.MethodGet, "/v1/batches/current", func(r *http.Request) {
		r.Header.Set("x-api-key", testMasterKey)
	})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, got.isMaster)
}

func TestAuth_JWTSetsSessionFromSubject(t *testing.T) {
	cfg := testAuthConfig()
	token, err := cfg.JWTValidator.IssueToken("alice", auth.RoleUser, time.Hour)
	require.NoError(t, err)

	rr, got := runAuth(t, cfg, http.MethodPost, "/v1/batches", bearer(token))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "alice", got.sessionKey)
	assert.Equal(t, auth.RoleUser, got.role)
	assert.False(t, got.isMaster)
}

func TestAuth_UserDeniedAdminRoutes(t *testing.T) {
	cfg := testAuthConfig()
	token, err := cfg.JWTValidator.IssueToken("alice", auth.RoleUser, time.Hour)
	require.NoError(t, err)

	rr, got := runAuth(t, cfg, http.MethodGet, "/v1/admin/sessions", bearer(token))

	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.False(t, got.called)
}

func TestAuth_Rejects(t *testing.T) {
	cfg := testAuthConfig()
	expired, err := cfg.JWTValidator.IssueToken("alice", auth.RoleUser, -time.Minute)
	require.NoError(t, err)
	other := auth.NewJWTValidator(auth.JWTConfig{Secret: "someone-else"})
	foreign, err := other.IssueToken("mallory", auth.RoleAdmin, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header func(*http.Request)
		want   int
	}{
		{"missing", nil, http.StatusUnauthorized},
		{"wrong key", bearer("sk-wrong"), http.StatusUnauthorized},
		{"expired jwt", bearer(expired), http.StatusUnauthorized},
		{"foreign jwt", bearer(foreign), http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, got := runAuth(t, cfg, http.MethodGet, "/v1/batches/current", tt.header)
			assert.Equal(t, tt.want, rr.Code)
			assert.False(t, got.called)

			var body model.ErrorResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.Equal(t, "authentication_error", body.Error.Type)
		})
	}
}

func TestAuth_NoMasterKeyConfigured(t *testing.T) {
	cfg := testAuthConfig()
	cfg.MasterKey = ""
	rr, _ := runAuth(t, cfg, http.MethodGet, "/v1/batches/current", bearer(""))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
