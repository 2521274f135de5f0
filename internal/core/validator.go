package core

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"scoutlink/internal/types"
)

// Validator wraps go-playground/validator for request bodies at the API
// boundary, translating tag violations into the structured errors the
// response layer serves.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a Validator with the default tag rules.
func NewValidator(logger *slog.Logger) *Validator {
	return &Validator{
		validate: validator.New(),
		logger:   logger,
	}
}

// ValidateStruct checks the struct's validate tags and converts the first
// violation into an AppError. Missing required fields get their own code;
// everything else reports the failed rule.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return types.NewAppError(
			types.ErrCodeValidationMalformedPayload,
			"request failed validation",
			err,
		)
	}

	fe := fieldErrs[0]
	field := strings.ToLower(fe.Field())

	if fe.Tag() == "required" {
		return types.NewAppErrorWithDetails(
			types.ErrCodeValidationMissingField,
			fmt.Sprintf("%s is required", field),
			err,
			map[string]any{"field": field},
		)
	}

	return types.NewAppErrorWithDetails(
		types.ErrCodeValidationMalformedPayload,
		fmt.Sprintf("%s failed %s validation", field, fe.Tag()),
		err,
		map[string]any{"field": field, "rule": fe.Tag()},
	)
}
