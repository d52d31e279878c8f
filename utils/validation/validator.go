package validation

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/sahilchouksey/geocoder/model"
)

// Validator wraps the go-playground validator
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a new validator instance with the geocode_kind tag registered
func NewValidator() *Validator {
	v := validator.New()
	_ = v.RegisterValidation("geocode_kind", func(fl validator.FieldLevel) bool {
		_, err := model.ParseKind(fl.Field().String())
		return err == nil
	})
	return &Validator{validate: v}
}

// ValidateStruct validates a struct using struct tags
func (v *Validator) ValidateStruct(s interface{}) error {
	return v.validate.Struct(s)
}

// FormatValidationErrors converts validation errors to a user-friendly format
func FormatValidationErrors(err error) map[string]string {
	errors := make(map[string]string)

	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		for _, e := range validationErrs {
			field := strings.ToLower(e.Field())
			switch e.Tag() {
			case "required":
				errors[field] = fmt.Sprintf("%s is required", e.Field())
			case "required_without":
				errors[field] = fmt.Sprintf("%s is required when %s is missing", e.Field(), e.Param())
			case "max":
				errors[field] = fmt.Sprintf("%s must be at most %s characters", e.Field(), e.Param())
			case "gte":
				errors[field] = fmt.Sprintf("%s must be greater than or equal to %s", e.Field(), e.Param())
			case "lte":
				errors[field] = fmt.Sprintf("%s must be less than or equal to %s", e.Field(), e.Param())
			case "geocode_kind":
				errors[field] = fmt.Sprintf("%s must be one of %s", e.Field(), kindList())
			default:
				errors[field] = fmt.Sprintf("%s is invalid", e.Field())
			}
		}
	}

	return errors
}

// Describe flattens FormatValidationErrors into one line
func Describe(err error) string {
	fields := FormatValidationErrors(err)
	if len(fields) == 0 {
		return err.Error()
	}
	parts := make([]string, 0, len(fields))
	for _, msg := range fields {
		parts = append(parts, msg)
	}
	return strings.Join(parts, "; ")
}

func kindList() string {
	names := make([]string, len(model.Kinds))
	for i, k := range model.Kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}

// StripNullBytes removes NUL bytes and leaves everything else, whitespace included, untouched
func StripNullBytes(s string) string {
	return strings.ReplaceAll(s, "\x00", "")
}
