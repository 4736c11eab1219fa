package utils

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"

	"donorflow/apperrors"
)

var validate = validator.New()

// ValidateStruct checks the validate tags of a request body. Failures come
// back as a single validation error listing every bad field.
func ValidateStruct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return apperrors.Validation("invalid request: %v", err)
	}

	var messages []string
	for _, err := range validationErrors {
		field := strings.ToLower(err.Field())
		param := err.Param()

		switch err.Tag() {
		case "required":
			messages = append(messages, field+" is required")
		case "min":
			messages = append(messages, field+" must be at least "+param)
		case "max":
			messages = append(messages, field+" must be at most "+param)
		case "gte":
			messages = append(messages, field+" must be "+param+" or more")
		case "oneof":
			messages = append(messages, field+" must be one of: "+param)
		case "email":
			messages = append(messages, field+" must be a valid email")
		default:
			messages = append(messages, field+" is invalid")
		}
	}
	return apperrors.Validation("%s", strings.Join(messages, ", "))
}
