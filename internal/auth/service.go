package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/mttmxr-creator/BotAICurator/internal/domain"
)

// Service exchanges reviewer access keys for session tokens.
type Service struct {
	reviewers *domain.ReviewerSet
	auth      *Authenticator
}

// NewService creates an auth service.
func NewService(reviewers *domain.ReviewerSet, auth *Authenticator) *Service {
	return &Service{reviewers: reviewers, auth: auth}
}

// Session is an issued reviewer session.
type Session struct {
	Token     string
	ExpiresAt time.Time
	Reviewer  domain.Reviewer
}

// Login verifies a reviewer's access key and issues a session token.
// Unknown reviewer and wrong key collapse into the same error so the
// response does not leak which reviewer IDs exist.
func (s *Service) Login(_ context.Context, reviewerID, accessKey string) (*Session, error) {
	reviewer, ok := s.reviewers.Get(reviewerID)
	if !ok {
		// Burn comparable time so timing does not reveal valid IDs.
		_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$invalidinvalidinvalidinvalidinvalidinvalidinvalidinva"), []byte(accessKey))
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(reviewer.AccessKeyHash), []byte(accessKey)); err != nil {
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			slog.Error("access key comparison failed", "reviewer_id", reviewerID, "error", err)
		}
		return nil, ErrInvalidCredentials
	}

	token, expiresAt, err := s.auth.GenerateToken(reviewer)
	if err != nil {
		return nil, err
	}

	slog.Info("reviewer logged in", "reviewer_id", reviewer.ID)

	return &Session{Token: token, ExpiresAt: expiresAt, Reviewer: reviewer}, nil
}
