// internal/middleware/auth.go
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/javajoker/handoff-backend/internal/i18n"
	"github.com/javajoker/handoff-backend/internal/models"
	"github.com/javajoker/handoff-backend/internal/utils"
)

// AuthRequired verifies the bearer token issued by the identity provider and
// puts the caller on the context.
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		lang := utils.GetLangFromContext(c)

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			utils.UnauthorizedResponse(c, i18n.T(lang, i18n.KeyAuthRequired))
			c.Abort()
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			utils.UnauthorizedResponse(c, i18n.T(lang, i18n.KeyAuthInvalidToken))
			c.Abort()
			return
		}

		claims, err := utils.ValidateJWT(parts[1])
		if err != nil {
			utils.UnauthorizedResponse(c, i18n.T(lang, i18n.KeyAuthTokenExpired))
			c.Abort()
			return
		}

		if _, err := uuid.Parse(claims.UserID); err != nil {
			utils.UnauthorizedResponse(c, i18n.T(lang, i18n.KeyAuthInvalidToken))
			c.Abort()
			return
		}

		c.Set(utils.ContextUserID, claims.UserID)
		c.Set(utils.ContextUsername, claims.Username)
		c.Set(utils.ContextUserType, string(claims.UserType))
		c.Next()
	}
}

func AdminRequired() gin.HandlerFunc {
	return RoleRequired(models.UserTypeAdmin, i18n.KeyAdminAccessDenied)
}

func RiderRequired() gin.HandlerFunc {
	return RoleRequired(models.UserTypeRider, i18n.KeyRiderAccessDenied)
}

// RoleRequired admits callers whose user_type equals role.
func RoleRequired(role models.UserType, deniedKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userType, exists := utils.GetUserTypeFromContext(c)
		if !exists || userType != role {
			utils.ForbiddenResponse(c, i18n.T(utils.GetLangFromContext(c), deniedKey))
			c.Abort()
			return
		}
		c.Next()
	}
}
