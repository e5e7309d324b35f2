// internal/middleware/i18n.go
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/javajoker/handoff-backend/internal/utils"
)

func I18nMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(utils.ContextLang, parseLanguage(c.GetHeader("Accept-Language")))
		c.Next()
	}
}

// parseLanguage maps the first Accept-Language entry onto a bundled locale.
func parseLanguage(header string) string {
	if header == "" {
		return "en"
	}

	// Handle cases like "zh-TW,zh;q=0.9,en;q=0.8"
	first := strings.TrimSpace(strings.Split(strings.Split(header, ",")[0], ";")[0])
	switch first {
	case "zh-TW", "zh-Hant", "zh_TW", "zh":
		return "zh_TW"
	default:
		return "en"
	}
}
