// internal/services/delivery_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/javajoker/handoff-backend/internal/cache"
	"github.com/javajoker/handoff-backend/internal/config"
	"github.com/javajoker/handoff-backend/internal/database"
	"github.com/javajoker/handoff-backend/internal/events"
	"github.com/javajoker/handoff-backend/internal/metrics"
	"github.com/javajoker/handoff-backend/internal/models"
	"github.com/javajoker/handoff-backend/internal/utils"
)

// ReadCache holds read models that may be served stale until invalidated.
type ReadCache interface {
	Get(ctx context.Context, key string, dest interface{}) bool
	Set(ctx context.Context, key string, value interface{})
	Delete(ctx context.Context, keys ...string)
}

var pendingDeliveriesKey = cache.Key("deliveries", "pending")

// tokenSteps maps a token kind to the order edge its use drives.
var tokenSteps = map[models.TokenKind]struct {
	scheduleFrom models.OrderStatus
	scheduled    models.OrderStatus
	redeemed     models.OrderStatus
}{
	models.TokenKindPickup: {
		scheduleFrom: models.OrderStatusPaid,
		scheduled:    models.OrderStatusPickupScheduled,
		redeemed:     models.OrderStatusPickedUp,
	},
	models.TokenKindDelivery: {
		scheduleFrom: models.OrderStatusPickedUp,
		scheduled:    models.OrderStatusDeliveryScheduled,
		redeemed:     models.OrderStatusDelivered,
	},
}

type DeliveryService struct {
	db         *gorm.DB
	orders     *OrderService
	codec      *TokenCodec
	notifier   NotificationSender
	publisher  events.Publisher
	cache      ReadCache
	slotDays   int
	pendingMax int
	location   *time.Location
	now        func() time.Time
	retry      utils.RetryPolicy
	logger     *logrus.Logger

	settleOnDelivery bool
}

type DeliveryOption func(*DeliveryService)

func WithReadCache(c ReadCache) DeliveryOption {
	return func(s *DeliveryService) { s.cache = c }
}

func WithClock(now func() time.Time) DeliveryOption {
	return func(s *DeliveryService) { s.now = now }
}

func WithSlotLocation(loc *time.Location) DeliveryOption {
	return func(s *DeliveryService) { s.location = loc }
}

// WithSettleOnDelivery releases escrow as soon as the delivery token is
// redeemed, for deployments without a dispute window.
func WithSettleOnDelivery() DeliveryOption {
	return func(s *DeliveryService) { s.settleOnDelivery = true }
}

func NewDeliveryService(db *gorm.DB, orders *OrderService, codec *TokenCodec, notifier NotificationSender, publisher events.Publisher, cfg config.DeliveryConfig, logger *logrus.Logger, opts ...DeliveryOption) *DeliveryService {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if notifier == nil {
		notifier = LoggingSender{Logger: logger}
	}
	s := &DeliveryService{
		db:         db,
		orders:     orders,
		codec:      codec,
		notifier:   notifier,
		publisher:  publisher,
		slotDays:   cfg.SlotDays,
		pendingMax: cfg.PendingListMax,
		location:   time.UTC,
		now:        time.Now,
		retry: utils.RetryPolicy{
			Attempts:  3,
			BaseDelay: 50 * time.Millisecond,
			Retryable: func(err error) bool {
				return database.IsTransient(err) || database.IsUniqueViolation(err)
			},
		},
		logger: logger,
	}
	if s.slotDays <= 0 {
		s.slotDays = 3
	}
	if s.pendingMax <= 0 {
		s.pendingMax = 100
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IssuedToken is returned once, at issue time; only then is the plain code
// known. A replayed issue carries no code.
type IssuedToken struct {
	Kind     models.TokenKind `json:"kind"`
	HolderID uuid.UUID        `json:"holder_id"`
	Code     string           `json:"verification_code,omitempty"`
	Payload  string           `json:"payload,omitempty"`
	Slots    []TimeSlot       `json:"slots,omitempty"`
	Replayed bool             `json:"replayed"`
}

type ScheduleRequest struct {
	OrderID      uuid.UUID `form:"order_id" json:"order_id" validate:"required"`
	Slot         string    `form:"slot" json:"slot" validate:"required,slot_key"`
	Address      string    `form:"address" json:"address,omitempty"`
	Instructions string    `form:"instructions" json:"instructions,omitempty" validate:"max=1000"`
}

type ScheduleResult struct {
	Order    *models.Order            `json:"order"`
	Schedule *models.DeliverySchedule `json:"schedule"`
	Slot     TimeSlot                 `json:"slot"`
}

type RedeemRequest struct {
	OrderID  uuid.UUID
	Kind     models.TokenKind
	Code     string
	Payload  string
	RiderID  uuid.UUID
	Notes    string
	Location string
}

type RedeemResult struct {
	Order *models.Order         `json:"order"`
	Token *models.DeliveryToken `json:"token"`
}

// PayloadCheck is the server-side view of a scanned payload.
type PayloadCheck struct {
	Payload     *ScanPayload       `json:"payload"`
	Redeemed    bool               `json:"redeemed"`
	OrderStatus models.OrderStatus `json:"order_status"`
	Redeemable  bool               `json:"redeemable"`
}

func holderFor(order *models.Order, kind models.TokenKind) uuid.UUID {
	if kind == models.TokenKindPickup {
		return order.SellerID
	}
	return order.BuyerID
}

// OfferedSlots are the slots a holder may choose from for this token.
func (s *DeliveryService) OfferedSlots(token *models.DeliveryToken) []TimeSlot {
	if token.SlotsOfferedAt == nil {
		return nil
	}
	return GenerateTimeSlots(token.SlotsOfferedAt.In(s.location), s.slotDays)
}

// IssueTokens creates the pickup token for the seller and the delivery token
// for the buyer. Kinds that already have a token are left untouched.
func (s *DeliveryService) IssueTokens(ctx context.Context, order *models.Order) ([]IssuedToken, error) {
	var issued []IssuedToken

	err := s.retry.Do(ctx, func(ctx context.Context) error {
		issued = issued[:0]
		return database.WithTransaction(ctx, s.db, func(ctx context.Context) error {
			tx := database.Conn(ctx, s.db)
			now := s.now().UTC()

			for _, kind := range []models.TokenKind{models.TokenKindPickup, models.TokenKindDelivery} {
				holder := holderFor(order, kind)

				var existing models.DeliveryToken
				err := tx.Where("order_id = ? AND kind = ?", order.ID, kind).First(&existing).Error
				if err == nil {
					issued = append(issued, IssuedToken{Kind: kind, HolderID: existing.HolderID, Replayed: true})
					continue
				}
				if !errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("failed to look up %s token: %w", kind, err)
				}

				code, hash, err := s.codec.NewCode()
				if err != nil {
					return err
				}
				payload, err := s.codec.Sign(order.ID, kind, holder, code, now)
				if err != nil {
					return fmt.Errorf("failed to sign %s payload: %w", kind, err)
				}

				token := models.DeliveryToken{
					OrderID:     order.ID,
					Kind:        kind,
					HolderID:    holder,
					CodeHash:    hash,
					PayloadHash: utils.HashString(payload),
					IssuedAt:    now,
				}
				// Delivery slots are offered once the item is picked up.
				if kind == models.TokenKindPickup {
					token.SlotsOfferedAt = &now
				}
				if err := tx.Create(&token).Error; err != nil {
					return fmt.Errorf("failed to create %s token: %w", kind, err)
				}

				issued = append(issued, IssuedToken{
					Kind:     kind,
					HolderID: holder,
					Code:     code,
					Payload:  payload,
					Slots:    s.OfferedSlots(&token),
				})
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	for _, t := range issued {
		if t.Replayed {
			continue
		}
		s.notifyToken(ctx, order.ID, t)
	}
	s.invalidatePending(ctx)

	return issued, nil
}

func (s *DeliveryService) notifyToken(ctx context.Context, orderID uuid.UUID, t IssuedToken) {
	body := "Give this code to the rider at pickup and choose a pickup slot."
	if t.Kind == models.TokenKindDelivery {
		body = "Give this code to the rider when your item arrives. Delivery slots follow once the item is picked up."
	}
	s.send(ctx, Message{
		UserID:  t.HolderID,
		Type:    MessageTokenIssued,
		Title:   fmt.Sprintf("Your %s code", t.Kind),
		Body:    body,
		OrderID: &orderID,
		Data: map[string]interface{}{
			"Kind":  t.Kind,
			"Slots": t.Slots,
		},
		Secret: map[string]interface{}{
			"VerificationCode": t.Code,
			"Payload":          t.Payload,
		},
	})
}

func (s *DeliveryService) send(ctx context.Context, msg Message) {
	if err := s.notifier.Send(context.WithoutCancel(ctx), msg); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"user_id": msg.UserID,
			"type":    msg.Type,
		}).Warn("Failed to send notification")
	}
}

func (s *DeliveryService) SchedulePickup(ctx context.Context, holderID uuid.UUID, req *ScheduleRequest) (*ScheduleResult, error) {
	return s.schedule(ctx, models.TokenKindPickup, holderID, req)
}

func (s *DeliveryService) ScheduleDelivery(ctx context.Context, holderID uuid.UUID, req *ScheduleRequest) (*ScheduleResult, error) {
	if req.Address == "" {
		return nil, ErrAddressRequired
	}
	return s.schedule(ctx, models.TokenKindDelivery, holderID, req)
}

func (s *DeliveryService) schedule(ctx context.Context, kind models.TokenKind, holderID uuid.UUID, req *ScheduleRequest) (*ScheduleResult, error) {
	step := tokenSteps[kind]
	result := &ScheduleResult{}

	err := database.WithTransaction(ctx, s.db, func(ctx context.Context) error {
		token, err := s.token(ctx, req.OrderID, kind)
		if err != nil {
			return err
		}
		if token.HolderID != holderID {
			return ErrNotTokenHolder
		}

		slot, ok := FindSlot(s.OfferedSlots(token), req.Slot)
		if !ok {
			return fmt.Errorf("%w: %q", ErrSlotNotOffered, req.Slot)
		}

		order, err := s.orders.Transition(ctx, TransitionRequest{
			OrderID: req.OrderID,
			From:    step.scheduleFrom,
			To:      step.scheduled,
			ActorID: &holderID,
			Origin:  models.OriginSchedule,
			Notes:   slot.Label,
		})
		if err != nil {
			return err
		}

		schedule := &models.DeliverySchedule{
			OrderID:      req.OrderID,
			Kind:         kind,
			ScheduledBy:  holderID,
			SlotStart:    slot.Start,
			SlotEnd:      slot.End,
			Address:      req.Address,
			Instructions: req.Instructions,
		}
		if err := database.Conn(ctx, s.db).Create(schedule).Error; err != nil {
			return fmt.Errorf("failed to record schedule: %w", err)
		}

		result.Order = order
		result.Schedule = schedule
		result.Slot = slot
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidatePending(ctx)
	s.logger.WithFields(logrus.Fields{
		"order_id": req.OrderID,
		"kind":     kind,
		"slot":     result.Slot.Key,
	}).Info("Handoff scheduled")

	return result, nil
}

// Redeem consumes a token and advances the order. Of any number of
// concurrent attempts on one token exactly one succeeds; the rest get
// ErrTokenAlreadyUsed.
func (s *DeliveryService) Redeem(ctx context.Context, req *RedeemRequest) (result *RedeemResult, err error) {
	defer func() {
		metrics.TokenRedemptionsTotal.WithLabelValues(string(req.Kind), redemptionOutcome(err)).Inc()
	}()

	code := req.Code
	if req.Payload != "" {
		claims, err := s.checkPayload(ctx, req.Payload)
		if err != nil {
			return nil, err
		}
		orderID := uuid.MustParse(claims.OrderID)
		if req.OrderID != uuid.Nil && req.OrderID != orderID {
			return nil, fmt.Errorf("%w: payload is for another order", ErrInvalidToken)
		}
		if req.Kind != "" && req.Kind != claims.Kind {
			return nil, fmt.Errorf("%w: payload is a %s token", ErrInvalidToken, claims.Kind)
		}
		req.OrderID = orderID
		req.Kind = claims.Kind
		code = claims.VerificationCode
	}

	step, ok := tokenSteps[req.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidToken, req.Kind)
	}

	token, err := s.token(ctx, req.OrderID, req.Kind)
	if err != nil {
		return nil, err
	}
	if token.IsRedeemed() {
		return nil, ErrTokenAlreadyUsed
	}
	// bcrypt runs outside the transaction; the conditional write below is
	// what decides the winner.
	if !s.codec.CodeMatches(token.CodeHash, code) {
		return nil, ErrInvalidToken
	}

	result = &RedeemResult{}
	err = database.WithTransaction(ctx, s.db, func(ctx context.Context) error {
		tx := database.Conn(ctx, s.db)

		order, err := s.orders.Get(ctx, req.OrderID)
		if err != nil {
			return err
		}
		if order.Status != step.scheduled {
			// A token that lost the race surfaces as used, not as a state error.
			var current models.DeliveryToken
			if err := tx.Where("id = ?", token.ID).First(&current).Error; err == nil && current.IsRedeemed() {
				return ErrTokenAlreadyUsed
			}
			return &TokenStateError{OrderID: req.OrderID, Kind: req.Kind, Expected: step.scheduled, Actual: order.Status}
		}

		if order.RiderID != nil && *order.RiderID != req.RiderID {
			return ErrNotAssignedRider
		}

		// The token mark goes first: concurrent redeemers queue on the token
		// row, so every loser sees it redeemed whichever rider won.
		now := s.now().UTC()
		res := tx.Model(&models.DeliveryToken{}).
			Where("id = ? AND redeemed_at IS NULL", token.ID).
			Updates(map[string]interface{}{
				"redeemed_at": now,
				"redeemed_by": req.RiderID,
				"updated_at":  now,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to mark token redeemed: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrTokenAlreadyUsed
		}

		if order.RiderID == nil {
			res := tx.Model(&models.Order{}).
				Where("id = ? AND (rider_id IS NULL OR rider_id = ?)", order.ID, req.RiderID).
				Updates(map[string]interface{}{"rider_id": req.RiderID, "updated_at": now})
			if res.Error != nil {
				return fmt.Errorf("failed to assign rider: %w", res.Error)
			}
			if res.RowsAffected == 0 {
				return ErrNotAssignedRider
			}
		}
		token.RedeemedAt = &now
		token.RedeemedBy = &req.RiderID

		updated, err := s.orders.Transition(ctx, TransitionRequest{
			OrderID:  req.OrderID,
			From:     step.scheduled,
			To:       step.redeemed,
			ActorID:  &req.RiderID,
			Origin:   models.OriginRedemption,
			Notes:    req.Notes,
			Location: req.Location,
		})
		if err != nil {
			return err
		}
		updated.RiderID = &req.RiderID

		if step.redeemed == models.OrderStatusDelivered {
			if err := tx.Model(&models.Order{}).Where("id = ?", req.OrderID).
				Update("delivered_at", now).Error; err != nil {
				return fmt.Errorf("failed to stamp delivery: %w", err)
			}
			updated.DeliveredAt = &now
		}

		if req.Kind == models.TokenKindPickup {
			if err := tx.Model(&models.DeliveryToken{}).
				Where("order_id = ? AND kind = ? AND slots_offered_at IS NULL", req.OrderID, models.TokenKindDelivery).
				Updates(map[string]interface{}{"slots_offered_at": now, "updated_at": now}).Error; err != nil {
				return fmt.Errorf("failed to offer delivery slots: %w", err)
			}
		}

		result.Order = updated
		result.Token = token
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidatePending(ctx)
	if perr := s.publisher.Publish(context.WithoutCancel(ctx), events.New(events.TokenRedeemed, req.OrderID, map[string]interface{}{
		"kind":     req.Kind,
		"rider_id": req.RiderID,
		"location": req.Location,
	})); perr != nil {
		s.logger.WithError(perr).WithField("order_id", req.OrderID).Warn("Failed to publish redemption event")
	}

	if req.Kind == models.TokenKindPickup {
		s.offerDeliverySlots(ctx, result.Order)
	}
	if req.Kind == models.TokenKindDelivery && s.settleOnDelivery {
		if settled, err := s.orders.Complete(context.WithoutCancel(ctx), req.OrderID, nil); err != nil {
			// The settlement sweep picks the order up again.
			s.logger.WithError(err).WithField("order_id", req.OrderID).Warn("Failed to settle delivered order")
		} else {
			result.Order = settled
		}
	}

	s.logger.WithFields(logrus.Fields{
		"order_id": req.OrderID,
		"kind":     req.Kind,
		"rider_id": req.RiderID,
	}).Info("Token redeemed")

	return result, nil
}

func (s *DeliveryService) offerDeliverySlots(ctx context.Context, order *models.Order) {
	token, err := s.token(ctx, order.ID, models.TokenKindDelivery)
	if err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Warn("Failed to load delivery token for slot offer")
		return
	}
	s.send(ctx, Message{
		UserID:  token.HolderID,
		Type:    MessageDeliverySlots,
		Title:   "Choose a delivery slot",
		Body:    "Your item has been picked up. Choose a delivery slot and give your delivery code to the rider on arrival.",
		OrderID: &order.ID,
		Data: map[string]interface{}{
			"Kind":  models.TokenKindDelivery,
			"Slots": s.OfferedSlots(token),
		},
	})
}

func redemptionOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrTokenAlreadyUsed):
		return "already_used"
	case errors.Is(err, ErrInvalidToken):
		return "invalid"
	case errors.Is(err, ErrTokenWrongOrderState):
		return "wrong_state"
	default:
		return "error"
	}
}

// DecodePayload verifies a scan payload's signature without touching the
// store.
func (s *DeliveryService) DecodePayload(payload string) (*ScanPayload, error) {
	return s.codec.Decode(payload)
}

// VerifyPayload checks a scanned payload against the stored token without
// redeeming it.
func (s *DeliveryService) VerifyPayload(ctx context.Context, payload string) (*PayloadCheck, error) {
	claims, err := s.checkPayload(ctx, payload)
	if err != nil {
		return nil, err
	}

	orderID := uuid.MustParse(claims.OrderID)
	token, err := s.token(ctx, orderID, claims.Kind)
	if err != nil {
		return nil, err
	}
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}

	return &PayloadCheck{
		Payload:     claims,
		Redeemed:    token.IsRedeemed(),
		OrderStatus: order.Status,
		Redeemable:  !token.IsRedeemed() && order.Status == tokenSteps[claims.Kind].scheduled,
	}, nil
}

// checkPayload decodes a payload and matches it to the server record.
func (s *DeliveryService) checkPayload(ctx context.Context, payload string) (*ScanPayload, error) {
	claims, err := s.codec.Decode(payload)
	if err != nil {
		return nil, err
	}

	token, err := s.token(ctx, uuid.MustParse(claims.OrderID), claims.Kind)
	if err != nil {
		return nil, err
	}
	if token.PayloadHash != utils.HashString(payload) || token.HolderID.String() != claims.HolderID {
		return nil, fmt.Errorf("%w: payload does not match issued token", ErrInvalidToken)
	}
	return claims, nil
}

func (s *DeliveryService) token(ctx context.Context, orderID uuid.UUID, kind models.TokenKind) (*models.DeliveryToken, error) {
	var token models.DeliveryToken
	if err := database.Conn(ctx, s.db).
		Where("order_id = ? AND kind = ?", orderID, kind).
		First(&token).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to fetch token: %w", err)
	}
	return &token, nil
}

// Token returns a token's public fields to its holder.
func (s *DeliveryService) Token(ctx context.Context, orderID uuid.UUID, kind models.TokenKind, holderID uuid.UUID) (*models.DeliveryToken, []TimeSlot, error) {
	token, err := s.token(ctx, orderID, kind)
	if err != nil {
		return nil, nil, err
	}
	if token.HolderID != holderID {
		return nil, nil, ErrNotTokenHolder
	}
	return token, s.OfferedSlots(token), nil
}

// PendingDeliveries lists orders with no rider that still need a pickup.
func (s *DeliveryService) PendingDeliveries(ctx context.Context) ([]models.Order, error) {
	var orders []models.Order
	if s.cache != nil && s.cache.Get(ctx, pendingDeliveriesKey, &orders) {
		return orders, nil
	}

	if err := database.Conn(ctx, s.db).
		Where("rider_id IS NULL AND status IN ?", []models.OrderStatus{models.OrderStatusPaid, models.OrderStatusPickupScheduled}).
		Order("created_at ASC").
		Limit(s.pendingMax).
		Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch pending deliveries: %w", err)
	}

	if s.cache != nil {
		s.cache.Set(ctx, pendingDeliveriesKey, orders)
	}
	return orders, nil
}

// AssignedDeliveries lists the rider's orders that still need a handoff.
func (s *DeliveryService) AssignedDeliveries(ctx context.Context, riderID uuid.UUID) ([]models.Order, error) {
	var orders []models.Order
	if err := database.Conn(ctx, s.db).
		Where("rider_id = ? AND status IN ?", riderID, []models.OrderStatus{
			models.OrderStatusPaid,
			models.OrderStatusPickupScheduled,
			models.OrderStatusPickedUp,
			models.OrderStatusDeliveryScheduled,
		}).
		Order("updated_at DESC").
		Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch assigned deliveries: %w", err)
	}
	return orders, nil
}

// AssignRider claims an unassigned order for a rider. Claiming an order the
// rider already holds is a no-op.
func (s *DeliveryService) AssignRider(ctx context.Context, orderID, riderID uuid.UUID) (*models.Order, error) {
	assignable := []models.OrderStatus{models.OrderStatusPaid, models.OrderStatusPickupScheduled}

	res := database.Conn(ctx, s.db).Model(&models.Order{}).
		Where("id = ? AND rider_id IS NULL AND status IN ?", orderID, assignable).
		Updates(map[string]interface{}{"rider_id": riderID, "updated_at": s.now().UTC()})
	if res.Error != nil {
		return nil, fmt.Errorf("failed to assign rider: %w", res.Error)
	}

	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if res.RowsAffected == 0 {
		switch {
		case order.RiderID != nil && *order.RiderID == riderID:
			return order, nil
		case order.RiderID != nil:
			return nil, ErrRiderAlreadyAssigned
		default:
			return nil, &OrderStateError{OrderID: orderID, Status: order.Status, Err: ErrInvalidTransition}
		}
	}

	s.invalidatePending(ctx)
	s.logger.WithFields(logrus.Fields{"order_id": orderID, "rider_id": riderID}).Info("Rider assigned")
	return order, nil
}

// History returns the status log to a party of the order.
func (s *DeliveryService) History(ctx context.Context, orderID, callerID uuid.UUID, isAdmin bool) ([]models.OrderStatusChange, error) {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !isAdmin && !IsParty(order, callerID) {
		return nil, ErrNotOrderParty
	}
	return s.orders.History(ctx, orderID)
}

func (s *DeliveryService) invalidatePending(ctx context.Context) {
	if s.cache != nil {
		s.cache.Delete(context.WithoutCancel(ctx), pendingDeliveriesKey)
	}
}
