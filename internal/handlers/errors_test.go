package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/javajoker/handoff-backend/internal/models"
	"github.com/javajoker/handoff-backend/internal/services"
)

func testContext() *gin.Context {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	return c
}

func TestClassify(t *testing.T) {
	orderID := uuid.New()

	tests := []struct {
		name    string
		err     error
		status  int
		code    string
		details gin.H
	}{
		{
			name: "transition",
			err: &services.TransitionError{
				OrderID:   orderID,
				Current:   models.OrderStatusPaid,
				Requested: models.OrderStatusDelivered,
				Actor:     "rider-7",
			},
			status: http.StatusConflict,
			code:   "INVALID_TRANSITION",
			details: gin.H{
				"order_id":  orderID,
				"current":   models.OrderStatusPaid,
				"requested": models.OrderStatusDelivered,
				"actor":     "rider-7",
			},
		},
		{
			name:   "wrapped token reuse",
			err:    fmt.Errorf("redeem: %w", services.ErrTokenAlreadyUsed),
			status: http.StatusConflict,
			code:   "TOKEN_ALREADY_USED",
		},
		{
			name:    "frozen settlement",
			err:     &services.OrderStateError{OrderID: orderID, Status: models.OrderStatusDisputed, Err: services.ErrSettlementFrozen},
			status:  http.StatusConflict,
			code:    "SETTLEMENT_FROZEN",
			details: gin.H{"order_id": orderID, "current": models.OrderStatusDisputed},
		},
		{
			name:    "amount",
			err:     &services.AmountError{OrderID: orderID, Requested: 5000, Limit: 4500},
			status:  http.StatusUnprocessableEntity,
			code:    "AMOUNT_MISMATCH",
			details: gin.H{"order_id": orderID, "requested": int64(5000), "limit": int64(4500)},
		},
		{
			name:   "not captured",
			err:    fmt.Errorf("%w: payment pi_1 is requires_capture", services.ErrPaymentNotCaptured),
			status: http.StatusPaymentRequired,
			code:   "PAYMENT_NOT_CAPTURED",
		},
		{
			name:   "forbidden",
			err:    services.ErrNotTokenHolder,
			status: http.StatusForbidden,
			code:   "FORBIDDEN",
		},
		{
			name:   "unknown",
			err:    errors.New("pq: connection reset"),
			status: http.StatusInternalServerError,
			code:   "INTERNAL_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := classify(testContext(), tt.err)
			assert.Equal(t, tt.status, f.status)
			assert.Equal(t, tt.code, f.code)
			assert.NotContains(t, f.message, "pq:")
			if tt.details == nil {
				assert.Nil(t, f.details)
			} else {
				assert.Equal(t, tt.details, f.details)
			}
		})
	}
}

func TestErrorMappingsAreDistinct(t *testing.T) {
	seen := make(map[error]bool)
	for _, m := range errorMappings {
		assert.False(t, seen[m.err], m.code)
		seen[m.err] = true
	}
}
