package auth

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/mttmxr-creator/BotAICurator/internal/pkg/httputil"
)

// Handler handles HTTP requests for the auth module.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new auth handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers auth routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/auth", func(r chi.Router) {
		r.Post("/token", h.Token)
	})
}

// TokenRequest represents the token exchange request body.
type TokenRequest struct {
	ReviewerID string `json:"reviewer_id" validate:"required"`
	AccessKey  string `json:"access_key" validate:"required"`
}

// TokenResponse represents the issued session.
type TokenResponse struct {
	Token        string    `json:"token"`
	ExpiresAt    time.Time `json:"expires_at"`
	ReviewerID   string    `json:"reviewer_id"`
	ReviewerName string    `json:"reviewer_name"`
}

// Token handles POST /auth/token.
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	session, err := h.service.Login(r.Context(), req.ReviewerID, req.AccessKey)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, []httputil.ErrorMapping{
			{Error: ErrInvalidCredentials, Status: http.StatusUnauthorized},
		})
		return
	}

	httputil.Success(w, http.StatusOK, TokenResponse{
		Token:        session.Token,
		ExpiresAt:    session.ExpiresAt,
		ReviewerID:   session.Reviewer.ID,
		ReviewerName: session.Reviewer.Name,
	})
}
