package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"knoweasy/models"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("option_letter", func(fl validator.FieldLevel) bool {
		_, ok := models.NormalizeOption(fl.Field().String())
		return ok
	})
	return v
}

// validateStruct runs struct validation and converts failures into an
// InvalidInput error listing every offending field.
func validateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return invalidInput("invalid request: %v", err)
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, describeFieldError(fe))
	}
	return invalidInput("%s", strings.Join(msgs, "; "))
}

func describeFieldError(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "option_letter":
		return fmt.Sprintf("%s must be one of A, B, C, D", field)
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}

// normalizeSelection validates an answer selection. nil means unanswered.
func normalizeSelection(selected *string) (*string, error) {
	if selected == nil {
		return nil, nil
	}
	letter, ok := models.NormalizeOption(*selected)
	if !ok {
		return nil, invalidInput("selected option %q must be one of A, B, C, D", *selected)
	}
	return &letter, nil
}
