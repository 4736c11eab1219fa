package utils

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"donorflow/apperrors"
)

// ErrorResponse creates a standardized error response
func ErrorResponse(c *fiber.Ctx, status int, message string, err error) error {
	response := fiber.Map{
		"success": false,
		"error":   message,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	return c.Status(status).JSON(response)
}

// SuccessResponse creates a standardized success response
func SuccessResponse(data interface{}) fiber.Map {
	return fiber.Map{
		"success": true,
		"data":    data,
	}
}

// ErrorStatus maps an error kind to its HTTP status.
func ErrorStatus(err error) int {
	switch apperrors.KindOf(err) {
	case apperrors.KindValidation:
		return fiber.StatusBadRequest
	case apperrors.KindNotFound:
		return fiber.StatusNotFound
	case apperrors.KindStateConflict:
		return fiber.StatusConflict
	}
	return fiber.StatusInternalServerError
}

// RespondError writes err with the status its kind maps to. Unclassified
// errors are logged and their details withheld.
func RespondError(c *fiber.Ctx, message string, err error) error {
	status := ErrorStatus(err)
	if status == fiber.StatusInternalServerError {
		LogError("request_failed", err, map[string]interface{}{
			"path":   c.Path(),
			"method": c.Method(),
		})
		return ErrorResponse(c, status, message, nil)
	}
	return ErrorResponse(c, status, message, err)
}

// ParseUint safely parses a string to uint
func ParseUint(s string) uint {
	i, _ := strconv.ParseUint(s, 10, 32)
	return uint(i)
}

// PaginatedResponse structure for paginated results
type PaginatedResponse struct {
	Data  interface{} `json:"data"`
	Total int64       `json:"total"`
	Page  int         `json:"page"`
	Limit int         `json:"limit"`
}
