package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

const testSecret = "super-secret-key-at-least-32-bytes!"

// makeHS256Token creates a minimal HS256 JWT for testing.
func makeHS256Token(t *testing.T, secret []byte, alg string, claims map[string]any) string {
	t.Helper()
	header := map[string]any{"alg": alg, "typ": "JWT"}
	hb, _ := json.Marshal(header)
	cb, _ := json.Marshal(claims)
	segments := base64.RawURLEncoding.EncodeToString(hb) + "." + base64.RawURLEncoding.EncodeToString(cb)
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(segments))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return segments + "." + sig
}

func TestValidateTokenSuccess(t *testing.T) {
	v := NewJWTValidator(JWTConfig{Secret: testSecret})

	now := time.Now()
	token := makeHS256Token(t, []byte(testSecret), "HS256", map[string]any{
		"sub":  "alice",
		"role": "admin",
		"iat":  now.Unix(),
		"exp":  now.Add(time.Hour).Unix(),
	})

	claims, err := v.ValidateToken(context.Background(), token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.Subject != "alice" {
		t.Errorf("Subject = %q, want alice", claims.Subject)
	}
	if claims.Role != "admin" {
		t.Errorf("Role = %q, want admin", claims.Role)
	}
}

func TestIssueTokenRoundTrip(t *testing.T) {
	v := NewJWTValidator(JWTConfig{Secret: testSecret, Issuer: "copydesk"})

	token, err := v.IssueToken("bob", RoleUser, time.Minute)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	claims, err := v.ValidateToken(context.Background(), token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.Subject != "bob" || claims.Role != "user" || claims.Issuer != "copydesk" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestValidateTokenExpired(t *testing.T) {
	v := NewJWTValidator(JWTConfig{Secret: testSecret})

	past := time.Now().Add(-2 * time.Hour)
	token := makeHS256Token(t, []byte(testSecret), "HS256", map[string]any{
		"sub": "alice",
		"iat": past.Unix(),
		"exp": past.Add(time.Hour).Unix(),
	})

	if _, err := v.ValidateToken(context.Background(), token); err == nil {
		t.Fatal("expected error for expired token")
	}
}

func TestValidateTokenRejects(t *testing.T) {
	v := NewJWTValidator(JWTConfig{Secret: testSecret, Issuer: "copydesk"})
	exp := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name  string
		token string
		want  string
	}{
		{
			name:  "wrong secret",
			token: makeHS256Token(t, []byte("another-secret"), "HS256", map[string]any{"sub": "alice", "iss": "copydesk", "exp": exp}),
			want:  "signature",
		},
		{
			name:  "wrong issuer",
			token: makeHS256Token(t, []byte(testSecret), "HS256", map[string]any{"sub": "alice", "iss": "elsewhere", "exp": exp}),
			want:  "iss",
		},
		{
			name:  "no expiry",
			token: makeHS256Token(t, []byte(testSecret), "HS256", map[string]any{"sub": "alice", "iss": "copydesk"}),
			want:  "exp",
		},
		{
			name:  "no subject",
			token: makeHS256Token(t, []byte(testSecret), "HS256", map[string]any{"iss": "copydesk", "exp": exp}),
			want:  "sub",
		},
		{
			name:  "unexpected algorithm",
			token: makeHS256Token(t, []byte(testSecret), "HS384", map[string]any{"sub": "alice", "iss": "copydesk", "exp": exp}),
			want:  "signing method",
		},
		{
			name:  "garbage",
			token: "not.a.jwt",
			want:  "invalid JWT",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.ValidateToken(context.Background(), tt.token)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q should mention %q", err, tt.want)
			}
		})
	}
}
