// internal/services/errors.go
package services

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/javajoker/handoff-backend/internal/models"
)

// Caller-visible business errors. None of these are retried by the services;
// the caller re-reads state and decides.
var (
	ErrInvalidTransition    = errors.New("invalid transition")
	ErrStaleState           = errors.New("stale state")
	ErrTokenAlreadyUsed     = errors.New("token already used")
	ErrInvalidToken         = errors.New("invalid token")
	ErrTokenWrongOrderState = errors.New("token redeemed out of sequence")
	ErrDisputeAlreadyOpen   = errors.New("dispute already open")
	ErrDisputeNotEligible   = errors.New("order not eligible for dispute")
	ErrNoActiveHold         = errors.New("no active escrow hold")
	ErrAmountMismatch       = errors.New("amount mismatch")
	ErrSettlementFrozen     = errors.New("settlement frozen by open dispute")

	ErrOrderNotFound        = errors.New("order not found")
	ErrDisputeNotFound      = errors.New("dispute not found")
	ErrTokenNotFound        = errors.New("delivery token not found")
	ErrSlotNotOffered       = errors.New("slot was not offered")
	ErrAddressRequired      = errors.New("delivery address required")
	ErrNotTokenHolder       = errors.New("caller does not hold this token")
	ErrRiderAlreadyAssigned = errors.New("rider already assigned")
	ErrNotAssignedRider     = errors.New("caller is not the assigned rider")
	ErrNotOrderParty        = errors.New("caller is not a party to this order")
	ErrNotDisputeParty      = errors.New("caller may not act on this dispute")
	ErrDisputeNotResolvable = errors.New("dispute is not open for resolution")
	ErrDisputeNotResolved   = errors.New("dispute is not resolved")
	ErrDisputeClosed        = errors.New("dispute is closed")
	ErrPaymentNotCaptured   = errors.New("payment not captured")
	ErrUserNotFound         = errors.New("user not found")
	ErrNotificationNotFound = errors.New("notification not found")
)

// TransitionError names the order, both states and the caller so a replayed
// or duplicate request can be diagnosed from the error alone.
type TransitionError struct {
	OrderID   uuid.UUID
	Current   models.OrderStatus
	Requested models.OrderStatus
	Actor     string
	Origin    models.TransitionOrigin
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition for order %s: %s -> %s requested by %s (%s)",
		e.OrderID, e.Current, e.Requested, e.Actor, e.Origin)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// StaleStateError is returned when a conditional write lost a race.
type StaleStateError struct {
	OrderID  uuid.UUID
	Expected models.OrderStatus
	Actual   models.OrderStatus
}

func (e *StaleStateError) Error() string {
	return fmt.Sprintf("stale state for order %s: expected %s, found %s", e.OrderID, e.Expected, e.Actual)
}

func (e *StaleStateError) Unwrap() error {
	return ErrStaleState
}

// TokenStateError is returned when a token is presented while the order is
// not in the state the token kind expects.
type TokenStateError struct {
	OrderID  uuid.UUID
	Kind     models.TokenKind
	Expected models.OrderStatus
	Actual   models.OrderStatus
}

func (e *TokenStateError) Error() string {
	return fmt.Sprintf("%s token for order %s requires status %s, order is %s", e.Kind, e.OrderID, e.Expected, e.Actual)
}

func (e *TokenStateError) Unwrap() error {
	return ErrTokenWrongOrderState
}

// AmountError carries the rejected amount and the ceiling it was checked against.
type AmountError struct {
	OrderID   uuid.UUID
	Requested int64
	Limit     int64
}

func (e *AmountError) Error() string {
	return fmt.Sprintf("amount %d for order %s outside 0..%d", e.Requested, e.OrderID, e.Limit)
}

func (e *AmountError) Unwrap() error {
	return ErrAmountMismatch
}

// OrderStateError is used by gates that reject an order based on its status
// without it being a transition request (dispute eligibility, settlement).
type OrderStateError struct {
	OrderID uuid.UUID
	Status  models.OrderStatus
	Err     error
}

func (e *OrderStateError) Error() string {
	return fmt.Sprintf("%v: order %s is %s", e.Err, e.OrderID, e.Status)
}

func (e *OrderStateError) Unwrap() error {
	return e.Err
}
