// internal/i18n/keys.go
package i18n

// Translation keys constants
const (
	// Common
	KeySuccess = "success"
	KeyError   = "error"

	// Authentication
	KeyAuthRequired      = "auth.required"
	KeyAuthInvalidToken  = "auth.invalid_token"
	KeyAuthTokenExpired  = "auth.token_expired"
	KeyAdminAccessDenied = "admin.access_denied"
	KeyRiderAccessDenied = "rider.access_denied"
	KeyRateLimited       = "rate.limited"

	// Orders
	KeyOrderNotFound          = "order.not_found"
	KeyOrderInvalidTransition = "order.invalid_transition"
	KeyOrderStaleState        = "order.stale_state"
	KeyOrderNotParty          = "order.not_party"
	KeyOrderCompleted         = "order.completed"
	KeyOrderCancelled         = "order.cancelled"

	// Delivery tokens
	KeyTokenNotFound       = "token.not_found"
	KeyTokenAlreadyUsed    = "token.already_used"
	KeyTokenInvalid        = "token.invalid"
	KeyTokenWrongState     = "token.wrong_order_state"
	KeyTokenNotHolder      = "token.not_holder"
	KeyDeliverySlotInvalid = "delivery.slot_not_offered"
	KeyDeliveryAddress     = "delivery.address_required"
	KeyDeliveryScheduled   = "delivery.scheduled"
	KeyDeliveryStatusBad   = "delivery.status_unsupported"
	KeyRiderAssigned       = "rider.already_assigned"
	KeyRiderNotAssigned    = "rider.not_assigned"

	// Ledger
	KeyLedgerNoActiveHold = "ledger.no_active_hold"
	KeyLedgerAmount       = "ledger.amount_mismatch"
	KeyLedgerFrozen       = "ledger.settlement_frozen"

	// Payments
	KeyPaymentNotCaptured = "payment.not_captured"
	KeyPaymentConfirmed   = "payment.confirmed"

	// Disputes
	KeyDisputeNotFound      = "dispute.not_found"
	KeyDisputeAlreadyOpen   = "dispute.already_open"
	KeyDisputeNotEligible   = "dispute.not_eligible"
	KeyDisputeNotParty      = "dispute.not_party"
	KeyDisputeNotResolvable = "dispute.not_resolvable"
	KeyDisputeNotResolved   = "dispute.not_resolved"
	KeyDisputeClosed        = "dispute.closed"

	// Contacts and notifications
	KeyUserNotFound         = "user.not_found"
	KeyNotificationNotFound = "notification.not_found"
	KeyContactSynced        = "user.contact_synced"

	// Validation
	KeyValidationRequired = "validation.required"
	KeyValidationInvalid  = "validation.invalid"

	// File Upload
	KeyFileUploadFailed = "file.upload_failed"
)
