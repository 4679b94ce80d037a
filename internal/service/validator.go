package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/jengzang/records-live-go/internal/models"
)

// LocationValidator rejects physically impossible readings: coordinates
// out of range and non-positive accuracy.
type LocationValidator struct {
	validate *validator.Validate
}

// NewLocationValidator creates a new location validator
func NewLocationValidator() *LocationValidator {
	return &LocationValidator{validate: NewValidate()}
}

// Validate reports whether the report may be buffered and evaluated
func (v *LocationValidator) Validate(report models.LocationReport) bool {
	return v.Check(report) == nil
}

// Check is Validate with the reason attached. The error wraps
// models.ErrInvalidLocation.
func (v *LocationValidator) Check(report models.LocationReport) error {
	if err := v.validate.Struct(report); err != nil {
		return fmt.Errorf("%w: %s", models.ErrInvalidLocation, describeValidation(err))
	}
	return nil
}

// NewValidate returns the validator shared by request payloads
func NewValidate() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
}

// ValidateRequest validates a decoded request payload. The error wraps
// models.ErrInvalidInput.
func ValidateRequest(v *validator.Validate, req any) error {
	if err := v.Struct(req); err != nil {
		return fmt.Errorf("%w: %s", models.ErrInvalidInput, describeValidation(err))
	}
	return nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.IndexByte(field, '.'); i >= 0 {
			field = field[i+1:]
		}
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s must satisfy %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s must satisfy %s", field, fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}
