package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestValidator() *Validator {
	return NewValidator(Config{
		Secret:   "test-secret",
		Issuer:   "govgate",
		TokenTTL: time.Hour,
	})
}

func TestValidator_RoundTrip(t *testing.T) {
	v := newTestValidator()

	token, err := v.IssueToken("user-1", "ops@example.com", "admin", []string{"platform"})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := v.ValidateToken(context.Background(), token)
	require.NoError(t, err)

	assert.Equal(t, "user-1", claims.Sub)
	assert.Equal(t, "ops@example.com", claims.Email)
	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, []string{"platform"}, claims.Groups)
	assert.Equal(t, "govgate", claims.Issuer)
	assert.False(t, claims.ExpiresAt.IsZero())
}

func TestValidator_InvalidSignature(t *testing.T) {
	v := newTestValidator()
	other := NewValidator(Config{Secret: "other-secret", Issuer: "govgate"})

	token, err := other.IssueToken("user-1", "", "viewer", nil)
	require.NoError(t, err)

	_, err = v.ValidateToken(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidator_ExpiredToken(t *testing.T) {
	v := newTestValidator()

	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    "govgate",
			IssuedAt:  jwt.NewNumericDate(now.Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(now.Add(-1 * time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = v.ValidateToken(context.Background(), signed)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestValidator_WrongIssuer(t *testing.T) {
	v := newTestValidator()
	other := NewValidator(Config{Secret: "test-secret", Issuer: "someone-else"})

	token, err := other.IssueToken("user-1", "", "viewer", nil)
	require.NoError(t, err)

	_, err = v.ValidateToken(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidIssuer)
}

func TestValidator_MissingSubject(t *testing.T) {
	v := newTestValidator()

	token, err := v.IssueToken("", "", "viewer", nil)
	require.NoError(t, err)

	_, err = v.ValidateToken(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidator_WrongSigningMethod(t *testing.T) {
	v := newTestValidator()

	// alg=none tokens must always be rejected
	token := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1", Issuer: "govgate"},
	})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = v.ValidateToken(context.Background(), signed)
	assert.Error(t, err)
}

func TestValidator_Garbage(t *testing.T) {
	v := newTestValidator()

	_, err := v.ValidateToken(context.Background(), "not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
