package domain

import (
	"regexp"

	"github.com/go-playground/validator/v10"
)

var gamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,50}$`)

// NewValidator returns a validator with the "game" tag registered. Game
// identifiers are 1-50 letters, digits, hyphens or underscores.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("game", func(fl validator.FieldLevel) bool {
		return gamePattern.MatchString(fl.Field().String())
	})
	return v
}

// ValidGame reports whether game is an acceptable game identifier.
func ValidGame(game string) bool {
	return gamePattern.MatchString(game)
}
