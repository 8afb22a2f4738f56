package queue

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/mttmxr-creator/BotAICurator/internal/domain"
	"github.com/mttmxr-creator/BotAICurator/internal/pkg/httputil"
)

// Handler handles HTTP requests for the approval queue.
type Handler struct {
	engine    *Engine
	validator *validator.Validate
}

// NewHandler creates a new queue handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{
		engine:    engine,
		validator: validator.New(),
	}
}

// RegisterPipelineRoutes registers routes for the answer pipeline.
func (h *Handler) RegisterPipelineRoutes(r chi.Router) {
	r.Post("/items", h.Submit)
}

// RegisterReviewerRoutes registers routes for authenticated reviewers.
func (h *Handler) RegisterReviewerRoutes(r chi.Router) {
	r.Get("/items", h.List)
	r.Get("/stats", h.Stats)

	r.Route("/items/{id}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Post("/approve", h.Approve)
		r.Post("/reject", h.Reject)
		r.Post("/extend", h.Extend)
		r.Route("/edit", func(r chi.Router) {
			r.Post("/", h.BeginEdit)
			r.Post("/cancel", h.CancelEdit)
			r.Post("/submit", h.SubmitEdit)
		})
	})
}

// SubmitRequest represents the request body for submitting an answer.
type SubmitRequest struct {
	ConversationID  string `json:"conversation_id" validate:"required"`
	UserID          string `json:"user_id" validate:"required"`
	UserDisplayName string `json:"user_display_name"`
	OriginalInput   string `json:"original_input" validate:"required"`
	Answer          string `json:"answer" validate:"required"`
	TimeoutSeconds  int    `json:"timeout_seconds" validate:"min=-1"`
}

// Submit handles POST /items.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	var timeout time.Duration
	switch {
	case req.TimeoutSeconds > 0:
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	case req.TimeoutSeconds < 0:
		timeout = -1 // never expires
	}

	item, err := h.engine.Submit(r.Context(), SubmitInput{
		ConversationID:  req.ConversationID,
		UserID:          req.UserID,
		UserDisplayName: req.UserDisplayName,
		OriginalInput:   req.OriginalInput,
		Answer:          req.Answer,
		Timeout:         timeout,
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusCreated, item)
}

// List handles GET /items. An optional status query parameter filters
// the result.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	status := domain.ItemStatus(r.URL.Query().Get("status"))
	if status != "" && !status.IsValid() {
		httputil.Error(w, http.StatusBadRequest, "invalid status filter")
		return
	}

	items := h.engine.List(status)
	httputil.Success(w, http.StatusOK, items)
}

// Get handles GET /items/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	item, err := h.engine.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	httputil.Success(w, http.StatusOK, item)
}

// Stats handles GET /stats.
func (h *Handler) Stats(w http.ResponseWriter, _ *http.Request) {
	httputil.Success(w, http.StatusOK, h.engine.GetStats())
}

// Approve handles POST /items/{id}/approve.
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	item, err := h.engine.Approve(r.Context(), chi.URLParam(r, "id"), httputil.GetReviewerID(r.Context()))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	httputil.Success(w, http.StatusOK, item)
}

// RejectRequest represents the request body for rejecting an item.
type RejectRequest struct {
	Reason string `json:"reason"`
}

// Reject handles POST /items/{id}/reject.
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.Error(w, http.StatusBadRequest, "invalid json")
			return
		}
	}

	item, err := h.engine.Reject(r.Context(), chi.URLParam(r, "id"), httputil.GetReviewerID(r.Context()), req.Reason)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	httputil.Success(w, http.StatusOK, item)
}

// BeginEdit handles POST /items/{id}/edit.
func (h *Handler) BeginEdit(w http.ResponseWriter, r *http.Request) {
	item, err := h.engine.BeginEdit(r.Context(), chi.URLParam(r, "id"), httputil.GetReviewerID(r.Context()))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	httputil.Success(w, http.StatusOK, item)
}

// CancelEdit handles POST /items/{id}/edit/cancel.
func (h *Handler) CancelEdit(w http.ResponseWriter, r *http.Request) {
	item, err := h.engine.CancelEdit(r.Context(), chi.URLParam(r, "id"), httputil.GetReviewerID(r.Context()))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	httputil.Success(w, http.StatusOK, item)
}

// SubmitEditRequest represents the request body for submitting an edit.
type SubmitEditRequest struct {
	Answer string `json:"answer" validate:"required"`
}

// SubmitEdit handles POST /items/{id}/edit/submit.
func (h *Handler) SubmitEdit(w http.ResponseWriter, r *http.Request) {
	var req SubmitEditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	item, err := h.engine.SubmitEdit(r.Context(), chi.URLParam(r, "id"), httputil.GetReviewerID(r.Context()), req.Answer)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	httputil.Success(w, http.StatusOK, item)
}

// ExtendRequest represents the request body for extending a timeout.
type ExtendRequest struct {
	ExtensionSeconds int `json:"extension_seconds" validate:"required,min=1"`
}

// Extend handles POST /items/{id}/extend.
func (h *Handler) Extend(w http.ResponseWriter, r *http.Request) {
	var req ExtendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	extension := time.Duration(req.ExtensionSeconds) * time.Second
	item, err := h.engine.ExtendTimeout(r.Context(), chi.URLParam(r, "id"), httputil.GetReviewerID(r.Context()), extension)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	httputil.Success(w, http.StatusOK, item)
}

func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	httputil.HandleError(r.Context(), w, err, []httputil.ErrorMapping{
		{Error: ErrItemNotFound, Status: http.StatusNotFound},
		{Error: ErrConflict, Status: http.StatusConflict},
		{Error: ErrAlreadyLocked, Status: http.StatusConflict},
		{Error: ErrInvalidTransition, Status: http.StatusUnprocessableEntity},
		{Error: ErrPermissionDenied, Status: http.StatusForbidden},
		{Error: ErrUnknownReviewer, Status: http.StatusForbidden},
	})
}
