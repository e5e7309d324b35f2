// internal/services/ledger_service.go
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

// LedgerService is the escrow ledger. Entries are append-only; every
// operation writes its legs under one posting key and replays the stored
// legs when called again.
type LedgerService struct {
	db        *gorm.DB
	fees      FeePolicy
	publisher events.Publisher
	retry     utils.RetryPolicy
	logger    *logrus.Logger
}

// Posting is the result of one ledger operation.
type Posting struct {
	Key      string               `json:"posting_key"`
	Entries  []models.LedgerEntry `json:"entries"`
	Replayed bool                 `json:"replayed"`
}

// Imbalance is a settled order whose entries do not net to zero, or one that
// reached a settled status without any settlement posting.
type Imbalance struct {
	OrderID     uuid.UUID          `json:"order_id"`
	Status      models.OrderStatus `json:"status"`
	Balance     int64              `json:"balance"`
	Settlements int64              `json:"settlements"`
}

// Balances is the per-party view of one order.
type Balances struct {
	OrderID  uuid.UUID `json:"order_id"`
	Buyer    int64     `json:"buyer"`
	Seller   int64     `json:"seller"`
	Platform int64     `json:"platform"`
	Held     int64     `json:"held"`
	Total    int64     `json:"total"`
}

func NewLedgerService(db *gorm.DB, fees FeePolicy, publisher events.Publisher, logger *logrus.Logger) *LedgerService {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LedgerService{
		db:        db,
		fees:      fees,
		publisher: publisher,
		retry: utils.RetryPolicy{
			Attempts:  3,
			BaseDelay: 50 * time.Millisecond,
			Retryable: database.IsTransient,
		},
		logger: logger,
	}
}

func (s *LedgerService) Fees() FeePolicy {
	return s.fees
}

func HoldKey(orderID uuid.UUID) string {
	return "hold:" + orderID.String()
}

func ReleaseKey(orderID uuid.UUID) string {
	return "release:" + orderID.String()
}

func RefundKey(orderID uuid.UUID, resolutionID string) string {
	return "refund:" + orderID.String() + ":" + resolutionID
}

// Hold earmarks the buyer's payment: buyer -amount, platform-held +amount.
func (s *LedgerService) Hold(ctx context.Context, orderID uuid.UUID, amount int64) (*Posting, error) {
	if amount <= 0 {
		return nil, &AmountError{OrderID: orderID, Requested: amount, Limit: 0}
	}

	key := HoldKey(orderID)
	return s.post(ctx, "hold", key, orderID, func(ctx context.Context) ([]models.LedgerEntry, error) {
		return []models.LedgerEntry{
			s.leg(orderID, models.LedgerEntryEscrowHold, models.PartyBuyer, -amount, "escrow hold from buyer payment"),
			s.leg(orderID, models.LedgerEntryEscrowHold, models.PartyPlatform, amount, "escrow held by platform"),
		}, nil
	})
}

// Release pays out whatever is still held: the seller gets the remainder
// after platform and payout fees, the platform gets both fees.
func (s *LedgerService) Release(ctx context.Context, orderID uuid.UUID) (*Posting, error) {
	key := ReleaseKey(orderID)
	return s.post(ctx, "release", key, orderID, func(ctx context.Context) ([]models.LedgerEntry, error) {
		if err := s.checkNotFrozen(ctx, orderID); err != nil {
			return nil, err
		}

		held, err := s.activeHold(ctx, orderID)
		if err != nil {
			return nil, err
		}

		return s.releaseLegs(orderID, held, "escrow released on delivery"), nil
	})
}

// Refund returns amount to the buyer out of the remaining hold. Any
// remainder is released to the seller in the same posting.
func (s *LedgerService) Refund(ctx context.Context, orderID uuid.UUID, resolutionID string, amount int64) (*Posting, error) {
	if resolutionID == "" {
		return nil, errors.New("refund requires a resolution id")
	}

	key := RefundKey(orderID, resolutionID)
	return s.post(ctx, "refund", key, orderID, func(ctx context.Context) ([]models.LedgerEntry, error) {
		if err := s.checkNotFrozen(ctx, orderID); err != nil {
			return nil, err
		}

		held, err := s.activeHold(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if amount < 0 || amount > held {
			return nil, &AmountError{OrderID: orderID, Requested: amount, Limit: held}
		}

		var legs []models.LedgerEntry
		if amount > 0 {
			legs = append(legs,
				s.leg(orderID, models.LedgerEntryRefund, models.PartyBuyer, amount, "refund to buyer"),
				s.leg(orderID, models.LedgerEntryRefund, models.PartyPlatform, -amount, "refund drawn from escrow"),
			)
		}
		if residual := held - amount; residual > 0 {
			legs = append(legs, s.releaseLegs(orderID, residual, "residual escrow released after partial refund")...)
		}
		return legs, nil
	})
}

func (s *LedgerService) releaseLegs(orderID uuid.UUID, held int64, description string) []models.LedgerEntry {
	split := s.fees.Split(held)
	legs := []models.LedgerEntry{
		s.leg(orderID, models.LedgerEntryEscrowRelease, models.PartyPlatform, -held, description),
		s.leg(orderID, models.LedgerEntryEscrowRelease, models.PartySeller, split.SellerAmount, "seller proceeds"),
	}
	if fees := split.PlatformTotal(); fees > 0 {
		legs = append(legs, s.leg(orderID, models.LedgerEntryPayout, models.PartyPlatform, fees,
			fmt.Sprintf("platform fee %s + payout fee %s", FormatCents(split.PlatformFee), FormatCents(split.PayoutFee))))
	}
	return legs
}

func (s *LedgerService) leg(orderID uuid.UUID, t models.LedgerEntryType, party models.LedgerParty, amount int64, description string) models.LedgerEntry {
	return models.LedgerEntry{
		OrderID:     orderID,
		Type:        t,
		Party:       party,
		Amount:      amount,
		Status:      models.LedgerEntryStatusCompleted,
		Description: description,
	}
}

// post writes the legs built by build under key unless key already has
// entries, in which case those are returned. A unique-index collision means
// a concurrent caller posted first; its entries are returned.
func (s *LedgerService) post(ctx context.Context, operation, key string, orderID uuid.UUID, build func(ctx context.Context) ([]models.LedgerEntry, error)) (*Posting, error) {
	var posting *Posting

	op := func(ctx context.Context) error {
		err := database.WithTransaction(ctx, s.db, func(ctx context.Context) error {
			existing, err := s.entriesByKey(ctx, key)
			if err != nil {
				return err
			}
			if len(existing) > 0 {
				posting = &Posting{Key: key, Entries: existing, Replayed: true}
				return nil
			}

			legs, err := build(ctx)
			if err != nil {
				return err
			}
			for i := range legs {
				legs[i].PostingKey = key
				legs[i].Leg = i
			}
			if len(legs) > 0 {
				if err := database.Conn(ctx, s.db).Create(&legs).Error; err != nil {
					return fmt.Errorf("failed to post %s entries: %w", operation, err)
				}
			}
			posting = &Posting{Key: key, Entries: legs}
			return nil
		})

		if err != nil && database.IsUniqueViolation(err) && !database.InTransaction(ctx) {
			existing, lookupErr := s.entriesByKey(ctx, key)
			if lookupErr == nil && len(existing) > 0 {
				posting = &Posting{Key: key, Entries: existing, Replayed: true}
				return nil
			}
		}
		return err
	}

	var err error
	if database.InTransaction(ctx) {
		err = op(ctx)
	} else {
		err = s.retry.Do(ctx, op)
	}
	if err != nil {
		return nil, err
	}

	if posting.Replayed {
		metrics.LedgerReplaysTotal.WithLabelValues(operation).Inc()
		s.logger.WithFields(logrus.Fields{
			"order_id":    orderID,
			"posting_key": key,
		}).Info("Ledger posting already exists, returning stored entries")
		return posting, nil
	}

	database.AfterCommit(ctx, func() {
		metrics.LedgerPostingsTotal.WithLabelValues(operation).Inc()
		s.logger.WithFields(logrus.Fields{
			"order_id":    orderID,
			"posting_key": key,
			"legs":        len(posting.Entries),
		}).Info("Ledger posting written")

		legs := make([]map[string]interface{}, 0, len(posting.Entries))
		for _, e := range posting.Entries {
			legs = append(legs, map[string]interface{}{
				"type":   e.Type,
				"party":  e.Party,
				"amount": e.Amount,
			})
		}
		if err := s.publisher.Publish(context.WithoutCancel(ctx), events.New(events.LedgerPosted, orderID, map[string]interface{}{
			"operation":   operation,
			"posting_key": key,
			"legs":        legs,
		})); err != nil {
			s.logger.WithError(err).WithField("order_id", orderID).Warn("Failed to publish ledger event")
		}
	})

	return posting, nil
}

func (s *LedgerService) entriesByKey(ctx context.Context, key string) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	if err := database.Conn(ctx, s.db).
		Where("posting_key = ?", key).
		Order("leg ASC").
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to read posting %s: %w", key, err)
	}
	return entries, nil
}

func (s *LedgerService) checkNotFrozen(ctx context.Context, orderID uuid.UUID) error {
	var open int64
	if err := database.Conn(ctx, s.db).Model(&models.Dispute{}).
		Where("order_id = ? AND status IN ?", orderID,
			[]models.DisputeStatus{models.DisputeStatusOpen, models.DisputeStatusInvestigating}).
		Count(&open).Error; err != nil {
		return fmt.Errorf("failed to check disputes: %w", err)
	}
	if open > 0 {
		return fmt.Errorf("%w: order %s", ErrSettlementFrozen, orderID)
	}
	return nil
}

// activeHold returns the amount still held for the order, or ErrNoActiveHold
// when nothing was held or everything was already paid out or refunded.
func (s *LedgerService) activeHold(ctx context.Context, orderID uuid.UUID) (int64, error) {
	holds, err := s.entriesByKey(ctx, HoldKey(orderID))
	if err != nil {
		return 0, err
	}
	if len(holds) == 0 {
		return 0, fmt.Errorf("%w: order %s has no hold", ErrNoActiveHold, orderID)
	}

	held, err := s.HeldBalance(ctx, orderID)
	if err != nil {
		return 0, err
	}
	if held <= 0 {
		return 0, fmt.Errorf("%w: hold for order %s already settled", ErrNoActiveHold, orderID)
	}
	return held, nil
}

// HasHold reports whether a hold was ever posted for the order.
func (s *LedgerService) HasHold(ctx context.Context, orderID uuid.UUID) (bool, error) {
	var n int64
	err := database.Conn(ctx, s.db).Model(&models.LedgerEntry{}).
		Where("posting_key = ?", HoldKey(orderID)).
		Count(&n).Error
	return n > 0, err
}

// OrderBalance is the sum of every entry for the order.
func (s *LedgerService) OrderBalance(ctx context.Context, orderID uuid.UUID) (int64, error) {
	var total int64
	err := database.Conn(ctx, s.db).Model(&models.LedgerEntry{}).
		Where("order_id = ?", orderID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	return total, err
}

func (s *LedgerService) PartyBalance(ctx context.Context, orderID uuid.UUID, party models.LedgerParty) (int64, error) {
	var total int64
	err := database.Conn(ctx, s.db).Model(&models.LedgerEntry{}).
		Where("order_id = ? AND party = ?", orderID, party).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	return total, err
}

// HeldBalance is what the platform still holds in escrow for the order.
// Fee income is posted as payout and is not part of the hold.
func (s *LedgerService) HeldBalance(ctx context.Context, orderID uuid.UUID) (int64, error) {
	var total int64
	err := database.Conn(ctx, s.db).Model(&models.LedgerEntry{}).
		Where("order_id = ? AND party = ? AND type <> ?", orderID, models.PartyPlatform, models.LedgerEntryPayout).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	return total, err
}

// SellerBalance sums seller credits across all of a seller's orders.
func (s *LedgerService) SellerBalance(ctx context.Context, sellerID uuid.UUID) (int64, error) {
	var total int64
	err := database.Conn(ctx, s.db).Table("ledger_entries").
		Joins("JOIN orders ON orders.id = ledger_entries.order_id").
		Where("orders.seller_id = ? AND ledger_entries.party = ?", sellerID, models.PartySeller).
		Select("COALESCE(SUM(ledger_entries.amount), 0)").
		Scan(&total).Error
	return total, err
}

func (s *LedgerService) Balances(ctx context.Context, orderID uuid.UUID) (*Balances, error) {
	type row struct {
		Party  models.LedgerParty
		Type   models.LedgerEntryType
		Amount int64
	}
	var rows []row
	if err := database.Conn(ctx, s.db).Model(&models.LedgerEntry{}).
		Select("party, type, COALESCE(SUM(amount), 0) AS amount").
		Where("order_id = ?", orderID).
		Group("party, type").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to read balances: %w", err)
	}

	b := &Balances{OrderID: orderID}
	for _, r := range rows {
		switch r.Party {
		case models.PartyBuyer:
			b.Buyer += r.Amount
		case models.PartySeller:
			b.Seller += r.Amount
		case models.PartyPlatform:
			b.Platform += r.Amount
			if r.Type != models.LedgerEntryPayout {
				b.Held += r.Amount
			}
		}
		b.Total += r.Amount
	}
	return b, nil
}

func (s *LedgerService) Entries(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	if err := database.Conn(ctx, s.db).
		Where("order_id = ?", orderID).
		Order("created_at ASC, posting_key ASC, leg ASC").
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch ledger entries: %w", err)
	}
	return entries, nil
}

// Reconcile lists completed or refunded orders whose ledger does not net to
// zero or that carry no settlement posting at all.
func (s *LedgerService) Reconcile(ctx context.Context) ([]Imbalance, error) {
	var out []Imbalance
	err := database.Conn(ctx, s.db).Raw(`
		SELECT o.id AS order_id, o.status AS status,
		       COALESCE(SUM(l.amount), 0) AS balance,
		       COALESCE(SUM(CASE WHEN l.type IN (?, ?) THEN 1 ELSE 0 END), 0) AS settlements
		FROM orders o
		LEFT JOIN ledger_entries l ON l.order_id = o.id
		WHERE o.status IN ?
		GROUP BY o.id, o.status
		HAVING COALESCE(SUM(l.amount), 0) <> 0
		    OR COALESCE(SUM(CASE WHEN l.type IN (?, ?) THEN 1 ELSE 0 END), 0) = 0`,
		models.LedgerEntryEscrowRelease, models.LedgerEntryRefund,
		[]models.OrderStatus{models.OrderStatusCompleted, models.OrderStatusRefunded},
		models.LedgerEntryEscrowRelease, models.LedgerEntryRefund,
	).Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to reconcile ledger: %w", err)
	}
	return out, nil
}
