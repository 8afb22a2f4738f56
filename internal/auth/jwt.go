// Package auth issues and validates reviewer session tokens.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"

	"github.com/mttmxr-creator/BotAICurator/internal/domain"
)

// Config contains token settings.
type Config struct {
	SecretKey     string
	TokenDuration time.Duration
}

// Claims are the JWT claims carried by a reviewer session token.
type Claims struct {
	ReviewerName string `json:"reviewer_name"`
	jwt.RegisteredClaims
}

// Authenticator issues and validates signed session tokens for
// configured reviewers.
type Authenticator struct {
	config    Config
	reviewers *domain.ReviewerSet
	clock     clockwork.Clock
}

// NewAuthenticator creates a token authenticator.
func NewAuthenticator(config Config, reviewers *domain.ReviewerSet, clock clockwork.Clock) *Authenticator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Authenticator{config: config, reviewers: reviewers, clock: clock}
}

// GenerateToken issues a session token for the given reviewer.
func (a *Authenticator) GenerateToken(reviewer domain.Reviewer) (string, time.Time, error) {
	now := a.clock.Now()
	expiresAt := now.Add(a.config.TokenDuration)

	claims := Claims{
		ReviewerName: reviewer.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   reviewer.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(a.config.SecretKey))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateToken parses and verifies a session token. The reviewer must
// still exist in the configured set; removing a reviewer from config
// revokes their outstanding tokens.
func (a *Authenticator) ValidateToken(_ context.Context, tokenString string) (string, string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(a.config.SecretKey), nil
	}, jwt.WithTimeFunc(a.clock.Now))
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", "", ErrInvalidToken
	}

	reviewer, ok := a.reviewers.Get(claims.Subject)
	if !ok {
		return "", "", fmt.Errorf("%w: unknown reviewer", ErrInvalidToken)
	}

	return reviewer.ID, reviewer.Name, nil
}
