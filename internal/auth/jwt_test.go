package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pollenindex/pollenindex/internal/auth"
)

func newTestJWTService(key string) *auth.JWTService {
	return auth.NewJWTService(auth.JWTConfig{
		SigningKey: key,
		Issuer:     "https://api.pollenindex.app",
		Audience:   "pollenindex-admin",
	})
}

func TestJWTService_GenerateAndValidateAdminToken(t *testing.T) {
	svc := newTestJWTService("test-secret-key-for-testing-only")

	token, expiresAt, err := svc.GenerateAdminToken("ops@pollenindex.app")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.True(t, expiresAt.After(time.Now()))

	claims, err := svc.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops@pollenindex.app", claims.Subject)
	assert.Equal(t, auth.RoleAdmin, claims.Role)
	assert.Equal(t, "https://api.pollenindex.app", claims.Issuer)

	subject, err := svc.ValidateAdminToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops@pollenindex.app", subject)
}

func TestJWTService_EmptySubject(t *testing.T) {
	svc := newTestJWTService("test-secret-key-for-testing-only")

	_, _, err := svc.GenerateAdminToken("")
	assert.ErrorIs(t, err, auth.ErrEmptySubject)
}

func TestJWTService_InvalidToken(t *testing.T) {
	svc := newTestJWTService("test-secret-key-for-testing-only")

	tests := []struct {
		name  string
		token string
	}{
		{"empty token", ""},
		{"malformed token", "not.a.valid.jwt"},
		{"invalid base64", "xxx.yyy.zzz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ValidateAccessToken(tt.token)
			assert.ErrorIs(t, err, auth.ErrInvalidAccessToken)
		})
	}
}

func TestJWTService_WrongSigningKey(t *testing.T) {
	token, _, err := newTestJWTService("key-one").GenerateAdminToken("ops")
	require.NoError(t, err)

	_, err = newTestJWTService("key-two").ValidateAccessToken(token)
	assert.ErrorIs(t, err, auth.ErrInvalidAccessToken)
}

func TestJWTService_WrongAudience(t *testing.T) {
	other := auth.NewJWTService(auth.JWTConfig{
		SigningKey: "shared",
		Issuer:     "https://api.pollenindex.app",
		Audience:   "someone-else",
	})
	token, _, err := other.GenerateAdminToken("ops")
	require.NoError(t, err)

	_, err = newTestJWTService("shared").ValidateAccessToken(token)
	assert.ErrorIs(t, err, auth.ErrInvalidAccessToken)
}

func TestJWTService_Expired(t *testing.T) {
	issued := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	now := issued
	svc := auth.NewJWTService(auth.JWTConfig{
		SigningKey: "test-secret",
		Issuer:     "https://api.pollenindex.app",
		Audience:   "pollenindex-admin",
		Expiry:     time.Minute,
		Now:        func() time.Time { return now },
	})

	token, expiresAt, err := svc.GenerateAdminToken("ops")
	require.NoError(t, err)
	assert.Equal(t, issued.Add(time.Minute), expiresAt)

	now = issued.Add(2 * time.Minute)
	_, err = svc.ValidateAccessToken(token)
	assert.ErrorIs(t, err, auth.ErrAccessTokenExpired)
}

func TestJWTService_RequiresAdminRole(t *testing.T) {
	now := time.Now()
	claims := auth.JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "https://api.pollenindex.app",
			Subject:   "viewer",
			Audience:  jwt.ClaimStrings{"pollenindex-admin"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		Role: "viewer",
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = newTestJWTService("test-secret").ValidateAdminToken(token)
	assert.ErrorIs(t, err, auth.ErrNotAdmin)
}
