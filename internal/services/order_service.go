// internal/services/order_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/javajoker/handoff-backend/internal/database"
	"github.com/javajoker/handoff-backend/internal/events"
	"github.com/javajoker/handoff-backend/internal/metrics"
	"github.com/javajoker/handoff-backend/internal/models"
	"github.com/javajoker/handoff-backend/internal/utils"
)

// Allowed edges. Entry into disputed and exit from it are further restricted
// by origin in allowed.
var orderTransitions = map[models.OrderStatus][]models.OrderStatus{
	models.OrderStatusPending:           {models.OrderStatusPaid, models.OrderStatusCancelled},
	models.OrderStatusPaid:              {models.OrderStatusPickupScheduled, models.OrderStatusDisputed, models.OrderStatusCancelled},
	models.OrderStatusPickupScheduled:   {models.OrderStatusPickedUp, models.OrderStatusDisputed},
	models.OrderStatusPickedUp:          {models.OrderStatusDeliveryScheduled, models.OrderStatusDisputed},
	models.OrderStatusDeliveryScheduled: {models.OrderStatusDelivered, models.OrderStatusDisputed},
	models.OrderStatusDelivered:         {models.OrderStatusCompleted, models.OrderStatusDisputed},
	models.OrderStatusDisputed:          {models.OrderStatusCompleted, models.OrderStatusRefunded},
}

// CanTransition reports whether the graph has an edge from -> to.
func CanTransition(from, to models.OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func allowed(from, to models.OrderStatus, origin models.TransitionOrigin) bool {
	if !CanTransition(from, to) {
		return false
	}
	switch {
	case from == models.OrderStatusDisputed:
		return origin == models.OriginDisputeResolution
	case to == models.OrderStatusDisputed:
		return origin == models.OriginDisputeOpened
	case to == models.OrderStatusCompleted:
		// Completion always rides on a ledger release posted by the caller.
		return origin == models.OriginSettlement
	}
	return true
}

// disputeEligible are the statuses a dispute may be opened from.
var disputeEligible = map[models.OrderStatus]bool{
	models.OrderStatusPaid:              true,
	models.OrderStatusPickupScheduled:   true,
	models.OrderStatusPickedUp:          true,
	models.OrderStatusDeliveryScheduled: true,
	models.OrderStatusDelivered:         true,
}

type OrderService struct {
	db        *gorm.DB
	ledger    *LedgerService
	gateway   PaymentGateway
	publisher events.Publisher
	retry     utils.RetryPolicy
	logger    *logrus.Logger
}

type CreateOrderRequest struct {
	BuyerID          uuid.UUID `json:"buyer_id" validate:"required"`
	SellerID         uuid.UUID `json:"seller_id" validate:"required"`
	ItemID           uuid.UUID `json:"item_id" validate:"required"`
	TotalAmount      int64     `json:"total_amount" validate:"required,min=1"`
	Currency         string    `json:"currency,omitempty"`
	PaymentReference string    `json:"payment_reference" validate:"required"`
	PlacedAt         time.Time `json:"placed_at,omitempty"`
}

type TransitionRequest struct {
	OrderID  uuid.UUID
	From     models.OrderStatus
	To       models.OrderStatus
	ActorID  *uuid.UUID
	Origin   models.TransitionOrigin
	Notes    string
	Location string
}

func NewOrderService(db *gorm.DB, ledger *LedgerService, gateway PaymentGateway, publisher events.Publisher, logger *logrus.Logger) *OrderService {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &OrderService{
		db:        db,
		ledger:    ledger,
		gateway:   gateway,
		publisher: publisher,
		retry: utils.RetryPolicy{
			Attempts:  3,
			BaseDelay: 50 * time.Millisecond,
			Retryable: database.IsTransient,
		},
		logger: logger,
	}
}

func actorLabel(actorID *uuid.UUID) string {
	if actorID == nil {
		return "system"
	}
	return actorID.String()
}

// CreateOrder records a confirmed payment as an order in paid status and
// posts its escrow hold. A second call with the same payment reference
// returns the existing order and created=false.
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*models.Order, bool, error) {
	if req.TotalAmount <= 0 {
		return nil, false, &AmountError{Requested: req.TotalAmount, Limit: 0}
	}
	if req.BuyerID == req.SellerID {
		return nil, false, errors.New("buyer and seller must differ")
	}
	if req.PaymentReference == "" {
		return nil, false, errors.New("payment reference is required")
	}

	currency := req.Currency
	if currency == "" {
		currency = "usd"
	}

	var order models.Order
	created := false

	err := s.retry.Do(ctx, func(ctx context.Context) error {
		created = false
		err := database.WithTransaction(ctx, s.db, func(ctx context.Context) error {
			tx := database.Conn(ctx, s.db)

			var existing models.Order
			err := tx.Where("payment_reference = ?", req.PaymentReference).First(&existing).Error
			if err == nil {
				order = existing
				return nil
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("failed to look up payment reference: %w", err)
			}

			split := s.ledger.Fees().Split(req.TotalAmount)
			order = models.Order{
				BuyerID:          req.BuyerID,
				SellerID:         req.SellerID,
				ItemID:           req.ItemID,
				TotalAmount:      req.TotalAmount,
				PlatformFee:      split.PlatformFee,
				SellerNetAmount:  split.SellerAmount,
				Currency:         currency,
				Status:           models.OrderStatusPaid,
				PaymentReference: req.PaymentReference,
			}
			if err := tx.Create(&order).Error; err != nil {
				return fmt.Errorf("failed to create order: %w", err)
			}

			// pending precedes paid in the history even when the payment
			// confirmation carries no placement time.
			paidAt := time.Now().UTC()
			placedAt := req.PlacedAt.UTC()
			if placedAt.IsZero() || !placedAt.Before(paidAt) {
				placedAt = paidAt.Add(-time.Millisecond)
			}
			history := []models.OrderStatusChange{
				{OrderID: order.ID, ToStatus: models.OrderStatusPending, Origin: models.OriginPayment, ActorID: &req.BuyerID, CreatedAt: placedAt},
				{OrderID: order.ID, FromStatus: models.OrderStatusPending, ToStatus: models.OrderStatusPaid, Origin: models.OriginPayment, Notes: "payment " + req.PaymentReference, CreatedAt: paidAt},
			}
			if err := tx.Create(&history).Error; err != nil {
				return fmt.Errorf("failed to record order history: %w", err)
			}

			if _, err := s.ledger.Hold(ctx, order.ID, order.TotalAmount); err != nil {
				return err
			}

			created = true
			return nil
		})

		if err != nil && database.IsUniqueViolation(err) {
			// Lost a race on the payment reference; the winner's order stands.
			var winner models.Order
			if lookupErr := database.Conn(ctx, s.db).Where("payment_reference = ?", req.PaymentReference).First(&winner).Error; lookupErr == nil {
				order = winner
				created = false
				return nil
			}
		}
		return err
	})
	if err != nil {
		return nil, false, err
	}

	if created {
		metrics.OrderTransitionsTotal.WithLabelValues(string(models.OrderStatusPending), string(models.OrderStatusPaid)).Inc()
		s.emitTransition(ctx, order.ID, models.OrderStatusPending, models.OrderStatusPaid, &req.BuyerID, models.OriginPayment)
		s.logger.WithFields(logrus.Fields{
			"order_id":          order.ID,
			"payment_reference": order.PaymentReference,
			"total":             order.TotalAmount,
		}).Info("Order created from confirmed payment")
	}

	return &order, created, nil
}

// Transition applies one edge as a conditional write. If From is empty the
// current stored status is used.
func (s *OrderService) Transition(ctx context.Context, req TransitionRequest) (*models.Order, error) {
	var order models.Order

	err := database.WithTransaction(ctx, s.db, func(ctx context.Context) error {
		tx := database.Conn(ctx, s.db)

		if err := tx.Where("id = ?", req.OrderID).First(&order).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrOrderNotFound
			}
			return fmt.Errorf("failed to load order: %w", err)
		}

		from := req.From
		if from == "" {
			from = order.Status
		}

		if !allowed(from, req.To, req.Origin) {
			return &TransitionError{
				OrderID:   req.OrderID,
				Current:   order.Status,
				Requested: req.To,
				Actor:     actorLabel(req.ActorID),
				Origin:    req.Origin,
			}
		}

		now := time.Now().UTC()
		updates := map[string]interface{}{
			"status":     req.To,
			"updated_at": now,
		}
		if req.To == models.OrderStatusCompleted {
			updates["completed_at"] = now
		}

		result := tx.Model(&models.Order{}).
			Where("id = ? AND status = ?", req.OrderID, from).
			Updates(updates)
		if result.Error != nil {
			return fmt.Errorf("failed to update order status: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			var current models.Order
			if err := tx.Select("status").Where("id = ?", req.OrderID).First(&current).Error; err != nil {
				return fmt.Errorf("failed to re-read order: %w", err)
			}
			return &StaleStateError{OrderID: req.OrderID, Expected: from, Actual: current.Status}
		}

		change := models.OrderStatusChange{
			OrderID:    req.OrderID,
			FromStatus: from,
			ToStatus:   req.To,
			ActorID:    req.ActorID,
			Origin:     req.Origin,
			Notes:      req.Notes,
			Location:   req.Location,
			CreatedAt:  now,
		}
		if err := tx.Create(&change).Error; err != nil {
			return fmt.Errorf("failed to record status change: %w", err)
		}

		order.Status = req.To
		order.UpdatedAt = now
		if req.To == models.OrderStatusCompleted {
			order.CompletedAt = &now
		}

		database.AfterCommit(ctx, func() {
			metrics.OrderTransitionsTotal.WithLabelValues(string(from), string(req.To)).Inc()
			s.emitTransition(ctx, req.OrderID, from, req.To, req.ActorID, req.Origin)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"order_id": order.ID,
		"to":       req.To,
		"origin":   req.Origin,
		"actor":    actorLabel(req.ActorID),
	}).Info("Order transitioned")

	return &order, nil
}

// ForceDisputed moves an order into disputed from any eligible status.
func (s *OrderService) ForceDisputed(ctx context.Context, orderID uuid.UUID, actorID *uuid.UUID, notes string) (*models.Order, error) {
	var result *models.Order
	err := database.WithTransaction(ctx, s.db, func(ctx context.Context) error {
		order, err := s.Get(ctx, orderID)
		if err != nil {
			return err
		}
		if !disputeEligible[order.Status] {
			return &OrderStateError{OrderID: orderID, Status: order.Status, Err: ErrDisputeNotEligible}
		}

		result, err = s.Transition(ctx, TransitionRequest{
			OrderID: orderID,
			From:    order.Status,
			To:      models.OrderStatusDisputed,
			ActorID: actorID,
			Origin:  models.OriginDisputeOpened,
			Notes:   notes,
		})
		return err
	})
	return result, err
}

// Complete settles a delivered order: ledger release, then
// delivered -> completed, in one transaction. Calling it again on a
// completed order returns the order unchanged.
func (s *OrderService) Complete(ctx context.Context, orderID uuid.UUID, actorID *uuid.UUID) (*models.Order, error) {
	var result *models.Order

	err := s.retry.Do(ctx, func(ctx context.Context) error {
		return database.WithTransaction(ctx, s.db, func(ctx context.Context) error {
			order, err := s.Get(ctx, orderID)
			if err != nil {
				return err
			}

			switch order.Status {
			case models.OrderStatusCompleted:
				result = order
				return nil
			case models.OrderStatusDelivered:
			case models.OrderStatusDisputed:
				return &OrderStateError{OrderID: orderID, Status: order.Status, Err: ErrSettlementFrozen}
			default:
				return &TransitionError{
					OrderID:   orderID,
					Current:   order.Status,
					Requested: models.OrderStatusCompleted,
					Actor:     actorLabel(actorID),
					Origin:    models.OriginSettlement,
				}
			}

			if _, err := s.ledger.Release(ctx, orderID); err != nil {
				return err
			}

			result, err = s.Transition(ctx, TransitionRequest{
				OrderID: orderID,
				From:    models.OrderStatusDelivered,
				To:      models.OrderStatusCompleted,
				ActorID: actorID,
				Origin:  models.OriginSettlement,
				Notes:   "escrow released",
			})
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Cancel ends an order before pickup is scheduled. Any hold is refunded to
// the buyer in full.
func (s *OrderService) Cancel(ctx context.Context, orderID uuid.UUID, actorID *uuid.UUID, reason string) (*models.Order, error) {
	var (
		result   *models.Order
		refunded int64
	)

	err := s.retry.Do(ctx, func(ctx context.Context) error {
		refunded = 0
		return database.WithTransaction(ctx, s.db, func(ctx context.Context) error {
			order, err := s.Get(ctx, orderID)
			if err != nil {
				return err
			}
			if order.Status == models.OrderStatusCancelled {
				result = order
				return nil
			}
			if !allowed(order.Status, models.OrderStatusCancelled, models.OriginCancellation) {
				return &TransitionError{
					OrderID:   orderID,
					Current:   order.Status,
					Requested: models.OrderStatusCancelled,
					Actor:     actorLabel(actorID),
					Origin:    models.OriginCancellation,
				}
			}

			held, err := s.ledger.HeldBalance(ctx, orderID)
			if err != nil {
				return err
			}
			if held > 0 {
				if _, err := s.ledger.Refund(ctx, orderID, "cancel", held); err != nil {
					return err
				}
				refunded = held
			}

			result, err = s.Transition(ctx, TransitionRequest{
				OrderID: orderID,
				From:    order.Status,
				To:      models.OrderStatusCancelled,
				ActorID: actorID,
				Origin:  models.OriginCancellation,
				Notes:   reason,
			})
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	if refunded > 0 {
		s.refundCard(ctx, result, refunded, RefundKey(orderID, "cancel"))
	}
	return result, nil
}

// refundCard returns money to the buyer's card after the ledger refund has
// committed. The ledger is authoritative; a gateway failure is logged for
// follow-up rather than undoing the posting.
func (s *OrderService) refundCard(ctx context.Context, order *models.Order, amount int64, key string) {
	if s.gateway == nil || order == nil {
		return
	}
	if err := s.gateway.Refund(ctx, order.PaymentReference, amount, key); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"order_id":          order.ID,
			"payment_reference": order.PaymentReference,
			"amount":            amount,
		}).Error("Card refund failed after ledger refund")
	}
}

func (s *OrderService) Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := database.Conn(ctx, s.db).Where("id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to fetch order: %w", err)
	}
	return &order, nil
}

// History returns the ordered status-change log of an order.
func (s *OrderService) History(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusChange, error) {
	if _, err := s.Get(ctx, orderID); err != nil {
		return nil, err
	}

	var changes []models.OrderStatusChange
	if err := database.Conn(ctx, s.db).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&changes).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch order history: %w", err)
	}
	return changes, nil
}

// IsParty reports whether userID is the buyer, seller or assigned rider.
func IsParty(order *models.Order, userID uuid.UUID) bool {
	if order.BuyerID == userID || order.SellerID == userID {
		return true
	}
	return order.RiderID != nil && *order.RiderID == userID
}

func (s *OrderService) emitTransition(ctx context.Context, orderID uuid.UUID, from, to models.OrderStatus, actorID *uuid.UUID, origin models.TransitionOrigin) {
	event := events.New(events.OrderTransitioned, orderID, map[string]interface{}{
		"from":   from,
		"to":     to,
		"actor":  actorLabel(actorID),
		"origin": origin,
	})
	if err := s.publisher.Publish(context.WithoutCancel(ctx), event); err != nil {
		s.logger.WithError(err).WithField("order_id", orderID).Warn("Failed to publish transition event")
	}
}
