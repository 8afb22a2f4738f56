package delivery

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/mttmxr-creator/BotAICurator/internal/pkg/httputil"
)

// Handler handles HTTP requests from the outbound delivery consumer.
type Handler struct {
	queue     *Queue
	validator *validator.Validate
}

// NewHandler creates a new delivery handler.
func NewHandler(queue *Queue) *Handler {
	return &Handler{
		queue:     queue,
		validator: validator.New(),
	}
}

// RegisterRoutes registers delivery routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/delivery", func(r chi.Router) {
		r.Get("/envelopes", h.Poll)
		r.Get("/failed", h.Failed)
		r.Get("/stats", h.Stats)
		r.Post("/envelopes/{id}/ack", h.Acknowledge)
		r.Post("/envelopes/{id}/nack", h.RecordFailure)
	})
}

// Poll handles GET /delivery/envelopes. The conversation_id query
// parameter is required: consumers poll per conversation.
func (h *Handler) Poll(w http.ResponseWriter, r *http.Request) {
	conversationID := r.URL.Query().Get("conversation_id")
	if conversationID == "" {
		httputil.Error(w, http.StatusBadRequest, "conversation_id is required")
		return
	}

	httputil.Success(w, http.StatusOK, h.queue.Poll(conversationID))
}

// Failed handles GET /delivery/failed.
func (h *Handler) Failed(w http.ResponseWriter, _ *http.Request) {
	httputil.Success(w, http.StatusOK, h.queue.Failed())
}

// Stats handles GET /delivery/stats.
func (h *Handler) Stats(w http.ResponseWriter, _ *http.Request) {
	httputil.Success(w, http.StatusOK, h.queue.GetStats())
}

// Acknowledge handles POST /delivery/envelopes/{id}/ack.
func (h *Handler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	if err := h.queue.Acknowledge(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// FailureRequest represents the request body for reporting a failed
// delivery attempt.
type FailureRequest struct {
	Error string `json:"error" validate:"required"`
}

// RecordFailure handles POST /delivery/envelopes/{id}/nack.
func (h *Handler) RecordFailure(w http.ResponseWriter, r *http.Request) {
	var req FailureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	env, err := h.queue.RecordFailure(r.Context(), chi.URLParam(r, "id"), req.Error)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	httputil.Success(w, http.StatusOK, env)
}

func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	httputil.HandleError(r.Context(), w, err, []httputil.ErrorMapping{
		{Error: ErrEnvelopeNotFound, Status: http.StatusNotFound},
		{Error: ErrDeliveryExhausted, Status: http.StatusGone},
	})
}
