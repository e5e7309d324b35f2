// internal/handlers/errors.go
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/javajoker/handoff-backend/internal/i18n"
	"github.com/javajoker/handoff-backend/internal/services"
	"github.com/javajoker/handoff-backend/internal/utils"
)

type errorMapping struct {
	err    error
	status int
	code   string
	key    string
}

// Checked in order; typed errors unwrap to these sentinels.
var errorMappings = []errorMapping{
	{services.ErrInvalidTransition, http.StatusConflict, "INVALID_TRANSITION", i18n.KeyOrderInvalidTransition},
	{services.ErrStaleState, http.StatusConflict, "STALE_STATE", i18n.KeyOrderStaleState},
	{services.ErrTokenAlreadyUsed, http.StatusConflict, "TOKEN_ALREADY_USED", i18n.KeyTokenAlreadyUsed},
	{services.ErrInvalidToken, http.StatusUnprocessableEntity, "INVALID_TOKEN", i18n.KeyTokenInvalid},
	{services.ErrTokenWrongOrderState, http.StatusConflict, "TOKEN_WRONG_ORDER_STATE", i18n.KeyTokenWrongState},
	{services.ErrDisputeAlreadyOpen, http.StatusConflict, "DISPUTE_ALREADY_OPEN", i18n.KeyDisputeAlreadyOpen},
	{services.ErrDisputeNotEligible, http.StatusConflict, "DISPUTE_NOT_ELIGIBLE", i18n.KeyDisputeNotEligible},
	{services.ErrNoActiveHold, http.StatusConflict, "NO_ACTIVE_HOLD", i18n.KeyLedgerNoActiveHold},
	{services.ErrAmountMismatch, http.StatusUnprocessableEntity, "AMOUNT_MISMATCH", i18n.KeyLedgerAmount},
	{services.ErrSettlementFrozen, http.StatusConflict, "SETTLEMENT_FROZEN", i18n.KeyLedgerFrozen},

	{services.ErrOrderNotFound, http.StatusNotFound, "NOT_FOUND", i18n.KeyOrderNotFound},
	{services.ErrDisputeNotFound, http.StatusNotFound, "NOT_FOUND", i18n.KeyDisputeNotFound},
	{services.ErrTokenNotFound, http.StatusNotFound, "NOT_FOUND", i18n.KeyTokenNotFound},
	{services.ErrSlotNotOffered, http.StatusBadRequest, "SLOT_NOT_OFFERED", i18n.KeyDeliverySlotInvalid},
	{services.ErrAddressRequired, http.StatusBadRequest, "ADDRESS_REQUIRED", i18n.KeyDeliveryAddress},
	{services.ErrNotTokenHolder, http.StatusForbidden, "FORBIDDEN", i18n.KeyTokenNotHolder},
	{services.ErrRiderAlreadyAssigned, http.StatusConflict, "RIDER_ALREADY_ASSIGNED", i18n.KeyRiderAssigned},
	{services.ErrNotAssignedRider, http.StatusForbidden, "FORBIDDEN", i18n.KeyRiderNotAssigned},
	{services.ErrNotOrderParty, http.StatusForbidden, "FORBIDDEN", i18n.KeyOrderNotParty},
	{services.ErrNotDisputeParty, http.StatusForbidden, "FORBIDDEN", i18n.KeyDisputeNotParty},
	{services.ErrDisputeNotResolvable, http.StatusConflict, "DISPUTE_NOT_RESOLVABLE", i18n.KeyDisputeNotResolvable},
	{services.ErrDisputeNotResolved, http.StatusConflict, "DISPUTE_NOT_RESOLVED", i18n.KeyDisputeNotResolved},
	{services.ErrDisputeClosed, http.StatusConflict, "DISPUTE_CLOSED", i18n.KeyDisputeClosed},
	{services.ErrUserNotFound, http.StatusNotFound, "NOT_FOUND", i18n.KeyUserNotFound},
	{services.ErrNotificationNotFound, http.StatusNotFound, "NOT_FOUND", i18n.KeyNotificationNotFound},
	{services.ErrPaymentNotCaptured, http.StatusPaymentRequired, "PAYMENT_NOT_CAPTURED", i18n.KeyPaymentNotCaptured},
}

type apiFailure struct {
	status  int
	code    string
	message string
	details interface{}
}

// classify turns a service error into the status, code and details the
// client sees. Unknown errors become a 500 with no internals exposed.
func classify(c *gin.Context, err error) apiFailure {
	lang := utils.GetLangFromContext(c)

	f := apiFailure{
		status:  http.StatusInternalServerError,
		code:    "INTERNAL_ERROR",
		message: "Internal server error",
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			f = apiFailure{status: m.status, code: m.code, message: i18n.T(lang, m.key)}
			break
		}
	}

	var (
		transitionErr *services.TransitionError
		staleErr      *services.StaleStateError
		tokenErr      *services.TokenStateError
		amountErr     *services.AmountError
		stateErr      *services.OrderStateError
	)
	switch {
	case errors.As(err, &transitionErr):
		f.details = gin.H{
			"order_id":  transitionErr.OrderID,
			"current":   transitionErr.Current,
			"requested": transitionErr.Requested,
			"actor":     transitionErr.Actor,
		}
	case errors.As(err, &staleErr):
		f.details = gin.H{
			"order_id": staleErr.OrderID,
			"expected": staleErr.Expected,
			"current":  staleErr.Actual,
		}
	case errors.As(err, &tokenErr):
		f.details = gin.H{
			"order_id": tokenErr.OrderID,
			"kind":     tokenErr.Kind,
			"expected": tokenErr.Expected,
			"current":  tokenErr.Actual,
		}
	case errors.As(err, &amountErr):
		f.details = gin.H{
			"order_id":  amountErr.OrderID,
			"requested": amountErr.Requested,
			"limit":     amountErr.Limit,
		}
	case errors.As(err, &stateErr):
		f.details = gin.H{
			"order_id": stateErr.OrderID,
			"current":  stateErr.Status,
		}
	}

	return f
}

// respondError writes the error envelope and records the error on the
// context for the request logger.
func respondError(c *gin.Context, err error) {
	f := classify(c, err)
	_ = c.Error(err)
	utils.ErrorResponse(c, f.status, f.code, f.message, f.details)
}

// bindJSON binds and validates a request body, writing the error response
// itself when the body is unusable.
func bindJSON(c *gin.Context, req interface{}) bool {
	lang := utils.GetLangFromContext(c)
	if err := c.ShouldBindJSON(req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return false
	}
	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return false
	}
	return true
}

// paramID parses a UUID path parameter, answering 400 when it is malformed.
func paramID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid "+name, nil)
		return uuid.Nil, false
	}
	return id, true
}

// caller returns the authenticated user id, answering 401 when absent.
func caller(c *gin.Context) (uuid.UUID, bool) {
	userID, ok := utils.GetUserIDFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return uuid.Nil, false
	}
	return userID, true
}
