package validator

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

// Custom validation tags
const (
	TagNotBlank = "notblank" // Non-empty after trimming whitespace
	TagTrimmed  = "trimmed"  // No leading/trailing whitespace
)

// registerCustomRules registers all custom validation rules.
func (v *Validator) registerCustomRules() {
	_ = v.validate.RegisterValidation(TagNotBlank, validateNotBlank)
	_ = v.validate.RegisterValidation(TagTrimmed, validateTrimmed)
}

// validateNotBlank rejects strings made only of whitespace.
func validateNotBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

// validateTrimmed validates that string has no leading/trailing whitespace.
func validateTrimmed(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	return value == strings.TrimSpace(value)
}
