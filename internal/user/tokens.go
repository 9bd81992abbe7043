package user

import (
	"fmt"
	"time"

	"github.com/Guizzs26/go-social-mesh/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessClaims are the claims of an access token. The jti is what logout blacklists
type AccessClaims struct {
	UserID string `json:"uid"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 access tokens
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates an HS256 issuer for access tokens valid for ttl
func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue returns a signed token for userID with a fresh token id
func (t *TokenIssuer) Issue(userID string) (token, tokenID string, expiresAt time.Time, err error) {
	now := t.now()
	expiresAt = now.Add(t.ttl).UTC().Truncate(time.Second)
	tokenID = uuid.NewString()

	claims := AccessClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, tokenID, expiresAt, nil
}

// Verify checks signature, algorithm and expiry. Every failure is models.ErrUnauthorized
func (t *TokenIssuer) Verify(tokenString string) (AccessClaims, error) {
	if tokenString == "" {
		return AccessClaims{}, models.ErrUnauthorized
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, models.ErrUnauthorized
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(t.now))
	if err != nil {
		return AccessClaims{}, fmt.Errorf("%w: %v", models.ErrUnauthorized, err)
	}

	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok || !parsed.Valid || claims.ID == "" {
		return AccessClaims{}, models.ErrUnauthorized
	}
	return *claims, nil
}
