package handler

import (
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/nikusha1446/real-time-leaderboard/internal/domain"
)

// submitScoreRequest is the body of POST /api/leaderboard/scores. Score is
// a pointer so a missing value can be told apart from zero.
type submitScoreRequest struct {
	Game  string `json:"game" validate:"required,max=50,game"`
	Score *int64 `json:"score" validate:"required,min=0,max=9007199254740992"`
}

// FieldError describes one failed validation rule.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func newValidator() *validator.Validate {
	v := domain.NewValidator()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateRequest returns nil when req is valid.
func (h *Handler) validateRequest(req interface{}) []FieldError {
	err := h.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []FieldError{{Message: err.Error()}}
	}
	details := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, FieldError{
			Field:   fe.Field(),
			Message: fieldMessage(fe),
		})
	}
	return details
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Field() + "." + fe.Tag() {
	case "game.required":
		return "Game name is required"
	case "game.max":
		return "Game name must be at most 50 characters"
	case "game.game":
		return "Game name can only contain letters, numbers, hyphens, and underscores"
	case "score.required":
		return "Score is required"
	case "score.min":
		return "Score must be positive"
	case "score.max":
		return "Score must be at most 9007199254740992"
	}
	return fe.Error()
}

// parseLimit reads ?limit=. A missing or non-positive value selects the
// service default; a non-numeric one is rejected.
func (h *Handler) parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, APIResponse{
			Success: false,
			Error:   "Validation failed",
			Details: []FieldError{{Field: "limit", Message: "Limit must be an integer"}},
		})
		return 0, false
	}
	return limit, true
}

// gameParam reads and validates the {game} path parameter.
func (h *Handler) gameParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	game := chi.URLParam(r, "game")
	if !domain.ValidGame(game) {
		h.writeJSON(w, http.StatusBadRequest, APIResponse{
			Success: false,
			Error:   "Validation failed",
			Details: []FieldError{{
				Field:   "game",
				Message: "Game name can only contain letters, numbers, hyphens, and underscores",
			}},
		})
		return "", false
	}
	return game, true
}
