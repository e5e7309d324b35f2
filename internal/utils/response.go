// internal/utils/response.go
package utils

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/javajoker/handoff-backend/internal/i18n"
)

// APIResponse is the envelope every JSON endpoint answers with.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
	Meta    interface{} `json:"meta,omitempty"`
}

type APIError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

type PaginationMeta struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

func writeOK(c *gin.Context, status int, data, meta interface{}) {
	c.JSON(status, APIResponse{Success: true, Data: data, Meta: meta})
}

func SuccessResponse(c *gin.Context, data interface{}) {
	writeOK(c, http.StatusOK, data, nil)
}

func CreatedResponse(c *gin.Context, data interface{}) {
	writeOK(c, http.StatusCreated, data, nil)
}

func PaginatedResponse(c *gin.Context, result PaginationResult) {
	SetPaginationHeaders(c, result)
	writeOK(c, http.StatusOK, result.Data, gin.H{"pagination": PaginationMeta{
		Page:       result.Page,
		Limit:      result.Limit,
		Total:      result.Total,
		TotalPages: result.TotalPages,
	}})
}

// ErrorResponse writes the failure envelope. Messages are localized, so the
// response names the language they were rendered in.
func ErrorResponse(c *gin.Context, statusCode int, code, message string, details interface{}) {
	c.Header("Content-Language", strings.ReplaceAll(GetLangFromContext(c), "_", "-"))
	c.JSON(statusCode, APIResponse{Error: &APIError{Code: code, Message: message, Details: details}})
}

// localized returns message, or the catalog text for key when message is empty.
func localized(c *gin.Context, message, key string, args ...interface{}) string {
	if message != "" {
		return message
	}
	return i18n.T(GetLangFromContext(c), key, args...)
}

func BadRequestResponse(c *gin.Context, message string, details interface{}) {
	ErrorResponse(c, http.StatusBadRequest, "BAD_REQUEST",
		localized(c, message, i18n.KeyValidationInvalid, "request"), details)
}

func UnauthorizedResponse(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusUnauthorized, "UNAUTHORIZED", localized(c, message, i18n.KeyAuthRequired), nil)
}

func ForbiddenResponse(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusForbidden, "FORBIDDEN", message, nil)
}

func ValidationErrorResponse(c *gin.Context, errors []ValidationError) {
	ErrorResponse(c, http.StatusBadRequest, "VALIDATION_ERROR",
		localized(c, "", i18n.KeyValidationInvalid, "input"), errors)
}
