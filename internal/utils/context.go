// internal/utils/context.go
package utils

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/javajoker/handoff-backend/internal/models"
)

// Context keys set by the auth and i18n middleware.
const (
	ContextUserID   = "user_id"
	ContextUsername = "username"
	ContextUserType = "user_type"
	ContextLang     = "lang"
)

func GetLangFromContext(c *gin.Context) string {
	if lang, ok := c.Get(ContextLang); ok {
		if s, ok := lang.(string); ok && s != "" {
			return s
		}
	}
	return "en"
}

// GetUserIDFromContext returns the caller id set by the auth middleware.
func GetUserIDFromContext(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(ContextUserID)
	if !ok {
		return uuid.Nil, false
	}
	s, _ := v.(string)
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func GetUserTypeFromContext(c *gin.Context) (models.UserType, bool) {
	v, ok := c.Get(ContextUserType)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return models.UserType(s), ok
}

// IsAdmin reports whether the caller carries the admin role.
func IsAdmin(c *gin.Context) bool {
	userType, _ := GetUserTypeFromContext(c)
	return userType == models.UserTypeAdmin
}
