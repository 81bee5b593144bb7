package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when the token is invalid
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned when the token has expired
	ErrTokenExpired = errors.New("token expired")

	// ErrInvalidIssuer is returned when the token issuer is invalid
	ErrInvalidIssuer = errors.New("invalid issuer")
)

// Claims represents the custom claims in the JWT token
type Claims struct {
	jwt.RegisteredClaims
	Email  string   `json:"email,omitempty"`
	Role   string   `json:"role,omitempty"`
	Groups []string `json:"groups,omitempty"`
}

// ParsedClaims represents parsed and validated claims
type ParsedClaims struct {
	Sub       string
	Email     string
	Role      string
	Groups    []string
	Issuer    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Config holds configuration for the Validator
type Config struct {
	Secret   string
	Issuer   string
	TokenTTL time.Duration
}

// Validator validates HMAC-signed JWT tokens
type Validator struct {
	secret   []byte
	issuer   string
	tokenTTL time.Duration
}

// NewValidator creates a new JWT validator
func NewValidator(config Config) *Validator {
	if config.TokenTTL == 0 {
		config.TokenTTL = 1 * time.Hour
	}
	return &Validator{
		secret:   []byte(config.Secret),
		issuer:   config.Issuer,
		tokenTTL: config.TokenTTL,
	}
}

// ValidateToken validates a JWT token string and returns its parsed claims
func (v *Validator) ValidateToken(ctx context.Context, tokenString string) (*ParsedClaims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	if v.issuer != "" && claims.Issuer != v.issuer {
		return nil, fmt.Errorf("%w: got %q", ErrInvalidIssuer, claims.Issuer)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	parsed := &ParsedClaims{
		Sub:    claims.Subject,
		Email:  claims.Email,
		Role:   claims.Role,
		Groups: claims.Groups,
		Issuer: claims.Issuer,
	}
	if claims.IssuedAt != nil {
		parsed.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		parsed.ExpiresAt = claims.ExpiresAt.Time
	}

	return parsed, nil
}

// IssueToken signs a new token for a subject. Used by operational tooling
// and tests; the gateway itself never mints tokens for callers.
func (v *Validator) IssueToken(subject, email, role string, groups []string) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(v.tokenTTL)),
		},
		Email:  email,
		Role:   role,
		Groups: groups,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
