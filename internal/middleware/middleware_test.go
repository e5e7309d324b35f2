package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/handoff-backend/internal/models"
	"github.com/javajoker/handoff-backend/internal/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
	utils.SetJWTSecret("middleware-test-secret")
}

func serve(r *gin.Engine, header string) int {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func bearer(t *testing.T, userType models.UserType) string {
	token, err := utils.GenerateJWT(uuid.New(), "someone", userType, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func TestAuthRequired(t *testing.T) {
	r := gin.New()
	r.GET("/x", AuthRequired(), func(c *gin.Context) {
		_, ok := utils.GetUserIDFromContext(c)
		assert.True(t, ok)
		c.Status(http.StatusNoContent)
	})

	assert.Equal(t, http.StatusUnauthorized, serve(r, ""))
	assert.Equal(t, http.StatusUnauthorized, serve(r, "Token abc"))
	assert.Equal(t, http.StatusUnauthorized, serve(r, "Bearer not-a-jwt"))
	assert.Equal(t, http.StatusNoContent, serve(r, bearer(t, models.UserTypeBuyer)))
}

func TestRoleRequired(t *testing.T) {
	r := gin.New()
	r.GET("/x", AuthRequired(), RiderRequired(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	assert.Equal(t, http.StatusForbidden, serve(r, bearer(t, models.UserTypeSeller)))
	assert.Equal(t, http.StatusForbidden, serve(r, bearer(t, models.UserTypeAdmin)))
	assert.Equal(t, http.StatusNoContent, serve(r, bearer(t, models.UserTypeRider)))
}

func TestRateLimiterKeysByCaller(t *testing.T) {
	limiter := NewRateLimiter(0.0001, 2)
	r := gin.New()
	r.GET("/x", AuthRequired(), limiter.Middleware(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	first := bearer(t, models.UserTypeRider)
	assert.Equal(t, http.StatusNoContent, serve(r, first))
	assert.Equal(t, http.StatusNoContent, serve(r, first))
	assert.Equal(t, http.StatusTooManyRequests, serve(r, first))

	// A different rider behind the same address has a separate bucket.
	assert.Equal(t, http.StatusNoContent, serve(r, bearer(t, models.UserTypeRider)))
}

func TestParseLanguage(t *testing.T) {
	tests := map[string]string{
		"":                        "en",
		"en-US,en;q=0.9":          "en",
		"zh-TW,zh;q=0.9,en;q=0.8": "zh_TW",
		"zh":                      "zh_TW",
		"fr-FR":                   "en",
		" zh-Hant ; q=1":          "zh_TW",
	}
	for header, want := range tests {
		assert.Equal(t, want, parseLanguage(header), header)
	}
}

func TestRedactSecrets(t *testing.T) {
	data := map[string]interface{}{
		"status":            "picked_up",
		"verification_code": "ABCDE-12345",
		"nested":            map[string]interface{}{"payload": "secret", "notes": "left at door"},
	}
	redact(data)

	assert.Equal(t, "picked_up", data["status"])
	assert.Equal(t, "[redacted]", data["verification_code"])
	nested := data["nested"].(map[string]interface{})
	assert.Equal(t, "[redacted]", nested["payload"])
	assert.Equal(t, "left at door", nested["notes"])
}

func TestExtractResource(t *testing.T) {
	id := uuid.New().String()
	assert.Equal(t, "orders", extractResourceType("/v1/orders/"+id+"/complete"))
	assert.Equal(t, "health", extractResourceType("/health"))
	assert.Equal(t, id, extractResourceID("/v1/orders/"+id+"/complete"))
	assert.Equal(t, "", extractResourceID("/v1/deliveries/pending"))
}
