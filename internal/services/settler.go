// internal/services/settler.go
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
	"github.com/javajoker/handoff-backend/internal/models"
)

const settleBatch = 200

// Settler releases escrow for delivered orders once their dispute window has
// passed. An order disputed inside the window is in disputed status and is
// left to the dispute gate.
type Settler struct {
	db     *gorm.DB
	orders *OrderService
	window time.Duration
	now    func() time.Time
	logger *logrus.Logger
}

type SettleReport struct {
	Settled []uuid.UUID `json:"settled"`
	Skipped int         `json:"skipped"`
	Failed  int         `json:"failed"`
}

func NewSettler(db *gorm.DB, orders *OrderService, window time.Duration, now func() time.Time, logger *logrus.Logger) *Settler {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Settler{db: db, orders: orders, window: window, now: now, logger: logger}
}

func (s *Settler) Window() time.Duration {
	return s.window
}

// SettleDue completes every delivered order whose delivery is older than the
// dispute window. Orders that move on concurrently are skipped.
func (s *Settler) SettleDue(ctx context.Context) (*SettleReport, error) {
	cutoff := s.now().UTC().Add(-s.window)

	var delivered []models.Order
	if err := database.Conn(ctx, s.db).
		Where("status = ? AND delivered_at IS NOT NULL", models.OrderStatusDelivered).
		Order("delivered_at").
		Find(&delivered).Error; err != nil {
		return nil, fmt.Errorf("failed to list delivered orders: %w", err)
	}

	report := &SettleReport{Settled: []uuid.UUID{}}
	for _, order := range delivered {
		if len(report.Settled)+report.Failed >= settleBatch {
			break
		}
		if order.DeliveredAt.After(cutoff) {
			continue
		}

		_, err := s.orders.Complete(ctx, order.ID, nil)
		switch {
		case err == nil:
			report.Settled = append(report.Settled, order.ID)
		case errors.Is(err, ErrSettlementFrozen), errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrStaleState):
			report.Skipped++
		default:
			report.Failed++
			s.logger.WithError(err).WithField("order_id", order.ID).Error("Failed to settle delivered order")
		}
	}

	if len(report.Settled) > 0 || report.Failed > 0 {
		s.logger.WithFields(logrus.Fields{
			"settled": len(report.Settled),
			"skipped": report.Skipped,
			"failed":  report.Failed,
		}).Info("Settlement sweep finished")
	}
	return report, nil
}

// Run sweeps every interval until ctx is done.
func (s *Settler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SettleDue(ctx); err != nil && ctx.Err() == nil {
				s.logger.WithError(err).Warn("Settlement sweep failed")
			}
		}
	}
}
