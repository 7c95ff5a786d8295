package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/nikusha1446/real-time-leaderboard/internal/domain"
	"github.com/nikusha1446/real-time-leaderboard/internal/metrics"
	"github.com/nikusha1446/real-time-leaderboard/internal/service"
	"github.com/nikusha1446/real-time-leaderboard/internal/websocket"
)

// Handler provides HTTP handlers for the leaderboard API
type Handler struct {
	service  *service.LeaderboardService
	hub      *websocket.Hub
	metrics  *metrics.Manager
	validate *validator.Validate
	logger   *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(svc *service.LeaderboardService, hub *websocket.Hub, m *metrics.Manager, logger *slog.Logger) *Handler {
	return &Handler{
		service:  svc,
		hub:      hub,
		metrics:  m,
		validate: newValidator(),
		logger:   logger,
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool         `json:"success"`
	Data    interface{}  `json:"data,omitempty"`
	Error   string       `json:"error,omitempty"`
	Details []FieldError `json:"details,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)
	if h.metrics != nil {
		r.Use(metricsMiddleware(h.metrics))
	}

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	}

	// WebSocket endpoint
	if h.hub != nil {
		r.Get("/ws", h.HandleWebSocket)
	}

	r.Route("/api/leaderboard", func(r chi.Router) {
		r.Get("/", h.GetGlobalLeaderboard)
		r.Get("/game/{game}", h.GetGameLeaderboard)

		r.Group(func(r chi.Router) {
			r.Use(h.requireIdentity)
			r.Post("/scores", h.SubmitScore)
			r.Get("/rank", h.GetUserRank)
			r.Get("/rank/game/{game}", h.GetUserGameRank)
			r.Get("/history", h.GetUserHistory)
		})
	})

	return r
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("failed to encode response", "error", err)
	}
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, status int, data interface{}) {
	h.writeJSON(w, status, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// writeServiceError maps a service error onto a status code.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case domain.IsNotFoundError(err):
		h.writeError(w, http.StatusNotFound, domain.ErrNotFound)
	case errors.Is(err, domain.ErrInvalidInput):
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidInput)
	case domain.IsUnavailableError(err):
		h.logger.Warn("store unavailable",
			"operation", op,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
		h.writeError(w, http.StatusServiceUnavailable, domain.ErrStoreUnavailable)
	default:
		h.logger.Error("request failed",
			"operation", op,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
	}
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// HealthCheck returns service health status. It answers 200 whenever the
// process is up.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, http.StatusOK, h.service.Health())
}

// ReadyCheck returns 503 until the score store connection is ready.
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	if !h.service.IsReady() {
		h.writeError(w, http.StatusServiceUnavailable, domain.ErrStoreUnavailable)
		return
	}
	h.writeSuccess(w, http.StatusOK, map[string]string{"status": "ready"})
}

// SubmitScore handles score submission
func (h *Handler) SubmitScore(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())

	var req submitScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}
	if details := h.validateRequest(req); details != nil {
		h.writeJSON(w, http.StatusBadRequest, APIResponse{
			Success: false,
			Error:   "Validation failed",
			Details: details,
		})
		return
	}

	result, err := h.service.SubmitScore(r.Context(), domain.ScoreSubmission{
		UserID:   id.UserID,
		Username: id.Username,
		Game:     req.Game,
		Score:    *req.Score,
	}, service.SourceHTTP)
	if err != nil {
		h.writeServiceError(w, r, "submit_score", err)
		return
	}

	h.writeSuccess(w, http.StatusCreated, result)
}

// GetGlobalLeaderboard returns the top of the global index
func (h *Handler) GetGlobalLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.parseLimit(w, r)
	if !ok {
		return
	}

	board, err := h.service.GetBoard(r.Context(), domain.GlobalIndex(), limit)
	if err != nil {
		h.writeServiceError(w, r, "get_top_global", err)
		return
	}

	h.writeSuccess(w, http.StatusOK, board)
}

// GetGameLeaderboard returns the top of a game's index
func (h *Handler) GetGameLeaderboard(w http.ResponseWriter, r *http.Request) {
	game, ok := h.gameParam(w, r)
	if !ok {
		return
	}
	limit, ok := h.parseLimit(w, r)
	if !ok {
		return
	}

	board, err := h.service.GetBoard(r.Context(), domain.GameIndex(game), limit)
	if err != nil {
		h.writeServiceError(w, r, "get_top_game", err)
		return
	}

	h.writeSuccess(w, http.StatusOK, board)
}

// GetUserRank returns the caller's global rank
func (h *Handler) GetUserRank(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())

	rank, err := h.service.GetUserRank(r.Context(), id.UserID)
	if err != nil {
		h.writeServiceError(w, r, "get_user_rank", err)
		return
	}

	h.writeSuccess(w, http.StatusOK, rank)
}

// GetUserGameRank returns the caller's rank within a game
func (h *Handler) GetUserGameRank(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	game, ok := h.gameParam(w, r)
	if !ok {
		return
	}

	rank, err := h.service.GetUserGameRank(r.Context(), id.UserID, game)
	if err != nil {
		h.writeServiceError(w, r, "get_user_game_rank", err)
		return
	}

	h.writeSuccess(w, http.StatusOK, rank)
}

// GetUserHistory returns the caller's submission history, newest first
func (h *Handler) GetUserHistory(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	limit, ok := h.parseLimit(w, r)
	if !ok {
		return
	}

	records, err := h.service.GetUserHistory(r.Context(), id.UserID, limit)
	if err != nil {
		h.writeServiceError(w, r, "get_user_history", err)
		return
	}

	h.writeSuccess(w, http.StatusOK, records)
}
