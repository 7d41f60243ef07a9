package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTValidator validates HS256 tokens issued by the dashboard.
type JWTValidator struct {
	secret []byte
	issuer string
}

// JWTConfig holds JWT validation configuration.
type JWTConfig struct {
	Secret string
	Issuer string
}

func NewJWTValidator(cfg JWTConfig) *JWTValidator {
	return &JWTValidator{secret: []byte(cfg.Secret), issuer: cfg.Issuer}
}

// JWTClaims holds the claims copydesk reads. Subject selects the caller's session.
type JWTClaims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// ValidateToken parses and validates a JWT token string.
func (v *JWTValidator) ValidateToken(_ context.Context, tokenStr string) (*JWTClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenStr, &JWTClaims{}, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid JWT: %w", err)
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid JWT claims")
	}
	if claims.Subject == "" {
		return nil, errors.New("invalid JWT: missing sub")
	}
	return claims, nil
}

// IssueToken signs a token for subject valid for ttl.
func (v *JWTValidator) IssueToken(subject string, role Role, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
