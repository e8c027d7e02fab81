// Package auth issues and verifies the bearer session tokens used by the
// transport gateway's attachment handshake (spec §4.1, §6).
//
// Unlike a conferencing frontend that defers to a third-party identity
// provider, this server is its own issuer: a session token is a signed
// claim set the server hands the client on first connect and later accepts
// back verbatim. Possession of a valid token is identity (spec §3,
// "A token is bearer-only; possession = identity").
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTokenLifetime is the bearer token lifetime per spec §6.
const DefaultTokenLifetime = 24 * time.Hour

// ErrSecretTooShort guards against an operator starting the server with a
// weak signing secret (spec §7: "token signer secret missing refuses to
// start" extends naturally to "too weak to start").
var ErrSecretTooShort = errors.New("auth: signing secret must be at least 32 bytes")

// SessionClaims are the custom claims embedded in a session bearer token.
type SessionClaims struct {
	UserID    string `json:"uid"`
	SessionID string `json:"sid"`
	TabID     string `json:"tab"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies session bearer tokens with a single
// server-held HMAC secret.
type TokenService struct {
	secret   []byte
	lifetime time.Duration
}

// NewTokenService builds a TokenService. secret must be at least 32 bytes,
// matching the operator-facing validation in internal/v1/config.
func NewTokenService(secret string, lifetime time.Duration) (*TokenService, error) {
	if len(secret) < 32 {
		return nil, ErrSecretTooShort
	}
	if lifetime <= 0 {
		lifetime = DefaultTokenLifetime
	}
	return &TokenService{secret: []byte(secret), lifetime: lifetime}, nil
}

// Issue mints a new bearer token for the given user/session/tab triple.
func (s *TokenService) Issue(userID, sessionID, tabID string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(s.lifetime)
	claims := SessionClaims{
		UserID:    userID,
		SessionID: sessionID,
		TabID:     tabID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify parses and validates a bearer token, returning its claims.
// An expired, malformed, or mis-signed token is always an error; the
// caller (the transport gateway) treats verification failure as "mint a
// new session" rather than as a hard auth failure, per spec §4.1.
func (s *TokenService) Verify(tokenString string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("auth: parse token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("auth: token invalid")
	}
	if claims.UserID == "" || claims.SessionID == "" {
		return nil, errors.New("auth: token missing required claims")
	}
	return claims, nil
}
