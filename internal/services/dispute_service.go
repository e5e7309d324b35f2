// internal/services/dispute_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"io"
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

// DisputeService is the dispute gate. An open or investigating dispute
// freezes the order's escrow until a resolution posts its own entries.
type DisputeService struct {
	db        *gorm.DB
	orders    *OrderService
	ledger    *LedgerService
	gateway   PaymentGateway
	notifier  NotificationSender
	storage   EvidenceStore
	publisher events.Publisher
	retry     utils.RetryPolicy
	logger    *logrus.Logger
}

type OpenDisputeRequest struct {
	Category    string                 `json:"category" validate:"required,oneof=not_received damaged not_as_described no_show other"`
	Description string                 `json:"description" validate:"required,min=10,max=2000"`
	Priority    models.DisputePriority `json:"priority,omitempty" validate:"omitempty,oneof=low medium high"`
}

type ResolveDisputeRequest struct {
	Resolution   string `json:"resolution" validate:"required,min=5"`
	RefundAmount *int64 `json:"refund_amount,omitempty" validate:"omitempty,min=0"`
}

// EvidenceFile is one uploaded attachment.
type EvidenceFile struct {
	Name   string
	Size   int64
	Reader io.Reader
}

// Resolution is the outcome of ResolveDispute.
type Resolution struct {
	Dispute *models.Dispute `json:"dispute"`
	Order   *models.Order   `json:"order"`
	Posting *Posting        `json:"posting"`
}

func NewDisputeService(db *gorm.DB, orders *OrderService, ledger *LedgerService, gateway PaymentGateway, notifier NotificationSender, storage EvidenceStore, publisher events.Publisher, logger *logrus.Logger) *DisputeService {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if notifier == nil {
		notifier = LoggingSender{Logger: logger}
	}
	return &DisputeService{
		db:        db,
		orders:    orders,
		ledger:    ledger,
		gateway:   gateway,
		notifier:  notifier,
		storage:   storage,
		publisher: publisher,
		retry: utils.RetryPolicy{
			Attempts:  3,
			BaseDelay: 50 * time.Millisecond,
			Retryable: database.IsTransient,
		},
		logger: logger,
	}
}

// OpenDispute records a dispute and forces the order into disputed in the
// same transaction.
func (s *DisputeService) OpenDispute(ctx context.Context, orderID, reporterID uuid.UUID, req *OpenDisputeRequest) (*models.Dispute, error) {
	var (
		dispute models.Dispute
		order   *models.Order
	)

	err := database.WithTransaction(ctx, s.db, func(ctx context.Context) error {
		tx := database.Conn(ctx, s.db)

		var err error
		order, err = s.orders.Get(ctx, orderID)
		if err != nil {
			return err
		}
		if !IsParty(order, reporterID) {
			return ErrNotDisputeParty
		}

		var active int64
		if err := tx.Model(&models.Dispute{}).
			Where("order_id = ? AND status <> ?", orderID, models.DisputeStatusClosed).
			Count(&active).Error; err != nil {
			return fmt.Errorf("failed to check active disputes: %w", err)
		}
		if active > 0 {
			return ErrDisputeAlreadyOpen
		}
		if !disputeEligible[order.Status] {
			return &OrderStateError{OrderID: orderID, Status: order.Status, Err: ErrDisputeNotEligible}
		}

		priority := req.Priority
		if priority == "" {
			priority = models.DisputePriorityMedium
		}
		reported := order.SellerID
		if reporterID == order.SellerID {
			reported = order.BuyerID
		}

		dispute = models.Dispute{
			OrderID:     orderID,
			ReporterID:  reporterID,
			ReportedID:  reported,
			Category:    req.Category,
			Description: req.Description,
			Status:      models.DisputeStatusOpen,
			Priority:    priority,
		}
		if err := tx.Create(&dispute).Error; err != nil {
			if database.IsUniqueViolation(err) {
				return ErrDisputeAlreadyOpen
			}
			return fmt.Errorf("failed to create dispute: %w", err)
		}

		order, err = s.orders.ForceDisputed(ctx, orderID, &reporterID, "dispute opened: "+req.Category)
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.DisputesTotal.WithLabelValues("opened").Inc()
	s.publish(ctx, events.DisputeOpened, orderID, map[string]interface{}{
		"dispute_id":  dispute.ID,
		"reporter_id": reporterID,
		"category":    dispute.Category,
	})
	s.send(ctx, Message{
		UserID:  dispute.ReportedID,
		Type:    MessageDisputeOpened,
		Title:   "A dispute was opened on your order",
		Body:    "Settlement of this order is on hold until the dispute is resolved.",
		OrderID: &orderID,
		Data:    map[string]interface{}{"dispute_id": dispute.ID, "category": dispute.Category},
	})
	s.logger.WithFields(logrus.Fields{
		"order_id":   orderID,
		"dispute_id": dispute.ID,
		"reporter":   reporterID,
	}).Info("Dispute opened")

	return &dispute, nil
}

// StartInvestigation moves an open dispute to investigating.
func (s *DisputeService) StartInvestigation(ctx context.Context, disputeID, resolverID uuid.UUID) (*models.Dispute, error) {
	res := database.Conn(ctx, s.db).Model(&models.Dispute{}).
		Where("id = ? AND status = ?", disputeID, models.DisputeStatusOpen).
		Updates(map[string]interface{}{
			"status":      models.DisputeStatusInvestigating,
			"resolver_id": resolverID,
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return nil, fmt.Errorf("failed to update dispute: %w", res.Error)
	}

	dispute, err := s.dispute(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 && dispute.Status != models.DisputeStatusInvestigating {
		return nil, fmt.Errorf("%w: dispute is %s", ErrDisputeNotResolvable, dispute.Status)
	}
	return dispute, nil
}

// ResolveDispute settles a disputed order: a full refund ends it refunded, a
// zero refund releases escrow to the seller, anything between does both.
// Calling it again on a resolved dispute re-drives the same settlement with
// the stored refund amount and never posts twice.
func (s *DisputeService) ResolveDispute(ctx context.Context, disputeID, resolverID uuid.UUID, req *ResolveDisputeRequest) (*Resolution, error) {
	var (
		result  Resolution
		refund  int64
		retried bool
	)

	err := s.retry.Do(ctx, func(ctx context.Context) error {
		return database.WithTransaction(ctx, s.db, func(ctx context.Context) error {
			dispute, err := s.dispute(ctx, disputeID)
			if err != nil {
				return err
			}
			order, err := s.orders.Get(ctx, dispute.OrderID)
			if err != nil {
				return err
			}

			switch {
			case dispute.Status.IsUnresolved():
				refund = 0
				if req.RefundAmount != nil {
					refund = *req.RefundAmount
				}
				if refund < 0 || refund > order.TotalAmount {
					return &AmountError{OrderID: order.ID, Requested: refund, Limit: order.TotalAmount}
				}

				now := time.Now().UTC()
				res := database.Conn(ctx, s.db).Model(&models.Dispute{}).
					Where("id = ? AND status IN ?", disputeID,
						[]models.DisputeStatus{models.DisputeStatusOpen, models.DisputeStatusInvestigating}).
					Updates(map[string]interface{}{
						"status":        models.DisputeStatusResolved,
						"resolution":    req.Resolution,
						"refund_amount": refund,
						"resolver_id":   resolverID,
						"resolved_at":   now,
						"updated_at":    now,
					})
				if res.Error != nil {
					return fmt.Errorf("failed to resolve dispute: %w", res.Error)
				}
				if res.RowsAffected == 0 {
					return ErrDisputeNotResolvable
				}
				dispute.Status = models.DisputeStatusResolved
				dispute.Resolution = req.Resolution
				dispute.RefundAmount = &refund
				dispute.ResolverID = &resolverID
				dispute.ResolvedAt = &now

			case dispute.Status == models.DisputeStatusResolved:
				retried = true
				refund = 0
				if dispute.RefundAmount != nil {
					refund = *dispute.RefundAmount
				}
				if req.RefundAmount != nil && *req.RefundAmount != refund {
					return fmt.Errorf("%w: already resolved with refund %d", ErrDisputeNotResolvable, refund)
				}

			default:
				return fmt.Errorf("%w: dispute is %s", ErrDisputeNotResolvable, dispute.Status)
			}

			posting, settled, err := s.settle(ctx, dispute, order, refund, resolverID)
			if err != nil {
				return err
			}

			result = Resolution{Dispute: dispute, Order: settled, Posting: posting}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if refund > 0 {
		if err := s.refundCard(ctx, result.Order, refund, RefundKey(result.Order.ID, disputeID.String())); err != nil {
			s.logger.WithError(err).WithField("order_id", result.Order.ID).Error("Card refund failed after dispute resolution")
		}
	}

	if !retried {
		metrics.DisputesTotal.WithLabelValues(disputeOutcome(refund, result.Order.TotalAmount)).Inc()
		s.publish(ctx, events.DisputeResolved, result.Order.ID, map[string]interface{}{
			"dispute_id":    disputeID,
			"refund_amount": refund,
			"order_status":  result.Order.Status,
		})
		for _, party := range []uuid.UUID{result.Order.BuyerID, result.Order.SellerID} {
			s.send(ctx, Message{
				UserID:  party,
				Type:    MessageDisputeResolved,
				Title:   "Your dispute was resolved",
				Body:    result.Dispute.Resolution,
				OrderID: &result.Order.ID,
				Data: map[string]interface{}{
					"dispute_id":    disputeID,
					"refund_amount": FormatCents(refund),
				},
			})
		}
	}

	s.logger.WithFields(logrus.Fields{
		"dispute_id": disputeID,
		"order_id":   result.Order.ID,
		"refund":     refund,
		"retried":    retried,
	}).Info("Dispute resolved")

	return &result, nil
}

// settle posts the resolution's ledger entries and moves the order out of
// disputed. Each step is idempotent so a retry only does what is missing.
func (s *DisputeService) settle(ctx context.Context, dispute *models.Dispute, order *models.Order, refund int64, resolverID uuid.UUID) (*Posting, *models.Order, error) {
	var (
		posting *Posting
		err     error
		target  = models.OrderStatusCompleted
	)

	switch {
	case refund == order.TotalAmount:
		target = models.OrderStatusRefunded
		posting, err = s.ledger.Refund(ctx, order.ID, dispute.ID.String(), refund)
	case refund == 0:
		posting, err = s.ledger.Release(ctx, order.ID)
	default:
		posting, err = s.ledger.Refund(ctx, order.ID, dispute.ID.String(), refund)
	}
	if err != nil {
		return nil, nil, err
	}

	if order.Status == target {
		return posting, order, nil
	}

	updated, err := s.orders.Transition(ctx, TransitionRequest{
		OrderID: order.ID,
		From:    models.OrderStatusDisputed,
		To:      target,
		ActorID: &resolverID,
		Origin:  models.OriginDisputeResolution,
		Notes:   dispute.Resolution,
	})
	if err != nil {
		return nil, nil, err
	}
	return posting, updated, nil
}

func (s *DisputeService) refundCard(ctx context.Context, order *models.Order, amount int64, key string) error {
	if s.gateway == nil {
		return nil
	}
	return s.gateway.Refund(ctx, order.PaymentReference, amount, key)
}

func disputeOutcome(refund, total int64) string {
	switch {
	case refund == 0:
		return "released"
	case refund == total:
		return "refunded"
	default:
		return "split"
	}
}

// CloseDispute archives a resolved dispute.
func (s *DisputeService) CloseDispute(ctx context.Context, disputeID uuid.UUID) (*models.Dispute, error) {
	now := time.Now().UTC()
	res := database.Conn(ctx, s.db).Model(&models.Dispute{}).
		Where("id = ? AND status = ?", disputeID, models.DisputeStatusResolved).
		Updates(map[string]interface{}{
			"status":     models.DisputeStatusClosed,
			"closed_at":  now,
			"updated_at": now,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("failed to close dispute: %w", res.Error)
	}

	dispute, err := s.dispute(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 && dispute.Status != models.DisputeStatusClosed {
		return nil, fmt.Errorf("%w: dispute is %s", ErrDisputeNotResolved, dispute.Status)
	}
	return dispute, nil
}

// AddEvidence stores attachments and a description from a party.
func (s *DisputeService) AddEvidence(ctx context.Context, disputeID, submitterID uuid.UUID, isAdmin bool, description string, files []EvidenceFile) (*models.DisputeEvidence, error) {
	dispute, err := s.authorize(ctx, disputeID, submitterID, isAdmin)
	if err != nil {
		return nil, err
	}
	if dispute.Status == models.DisputeStatusClosed {
		return nil, ErrDisputeClosed
	}

	attachments := make(models.StringArray, 0, len(files))
	for _, f := range files {
		if s.storage == nil {
			return nil, errors.New("evidence storage not configured")
		}
		uploaded, err := s.storage.Upload(ctx, f.Reader, f.Name, f.Size, EvidenceUploadOptions(disputeID))
		if err != nil {
			return nil, err
		}
		attachments = append(attachments, uploaded.URL)
	}

	evidence := &models.DisputeEvidence{
		DisputeID:   disputeID,
		SubmittedBy: submitterID,
		Description: description,
		Attachments: attachments,
	}
	if err := database.Conn(ctx, s.db).Create(evidence).Error; err != nil {
		return nil, fmt.Errorf("failed to save evidence: %w", err)
	}
	return evidence, nil
}

func (s *DisputeService) AddMessage(ctx context.Context, disputeID, authorID uuid.UUID, isAdmin bool, body string) (*models.DisputeMessage, error) {
	dispute, err := s.authorize(ctx, disputeID, authorID, isAdmin)
	if err != nil {
		return nil, err
	}
	if dispute.Status == models.DisputeStatusClosed {
		return nil, ErrDisputeClosed
	}

	msg := &models.DisputeMessage{
		DisputeID: disputeID,
		AuthorID:  authorID,
		Body:      body,
	}
	if err := database.Conn(ctx, s.db).Create(msg).Error; err != nil {
		return nil, fmt.Errorf("failed to save message: %w", err)
	}
	return msg, nil
}

// GetDispute returns a dispute with its evidence and messages.
func (s *DisputeService) GetDispute(ctx context.Context, disputeID, callerID uuid.UUID, isAdmin bool) (*models.Dispute, error) {
	if _, err := s.authorize(ctx, disputeID, callerID, isAdmin); err != nil {
		return nil, err
	}

	var dispute models.Dispute
	if err := database.Conn(ctx, s.db).
		Preload("Evidence", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Preload("Messages", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Where("id = ?", disputeID).
		First(&dispute).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch dispute: %w", err)
	}
	return &dispute, nil
}

func (s *DisputeService) authorize(ctx context.Context, disputeID, callerID uuid.UUID, isAdmin bool) (*models.Dispute, error) {
	dispute, err := s.dispute(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if isAdmin {
		return dispute, nil
	}
	order, err := s.orders.Get(ctx, dispute.OrderID)
	if err != nil {
		return nil, err
	}
	if !IsParty(order, callerID) {
		return nil, ErrNotDisputeParty
	}
	return dispute, nil
}

func (s *DisputeService) dispute(ctx context.Context, disputeID uuid.UUID) (*models.Dispute, error) {
	var dispute models.Dispute
	if err := database.Conn(ctx, s.db).Where("id = ?", disputeID).First(&dispute).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDisputeNotFound
		}
		return nil, fmt.Errorf("failed to fetch dispute: %w", err)
	}
	return &dispute, nil
}

func (s *DisputeService) publish(ctx context.Context, t events.Type, orderID uuid.UUID, data map[string]interface{}) {
	if err := s.publisher.Publish(context.WithoutCancel(ctx), events.New(t, orderID, data)); err != nil {
		s.logger.WithError(err).WithField("order_id", orderID).Warn("Failed to publish dispute event")
	}
}

func (s *DisputeService) send(ctx context.Context, msg Message) {
	if err := s.notifier.Send(context.WithoutCancel(ctx), msg); err != nil {
		s.logger.WithError(err).WithField("user_id", msg.UserID).Warn("Failed to send notification")
	}
}
