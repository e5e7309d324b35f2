package services_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/javajoker/handoff-backend/internal/models"
	"github.com/javajoker/handoff-backend/internal/services"
	"github.com/javajoker/handoff-backend/internal/testutil"
)

type LedgerServiceTestSuite struct {
	suite.Suite
	env    *testutil.Env
	ledger *services.LedgerService
	ctx    context.Context
}

func (suite *LedgerServiceTestSuite) SetupTest() {
	suite.env = testutil.NewEnv(suite.T())
	suite.ledger = suite.env.Services.Ledger
	suite.ctx = context.Background()
}

func (suite *LedgerServiceTestSuite) sumBy(entries []models.LedgerEntry, party models.LedgerParty) int64 {
	var total int64
	for _, e := range entries {
		if e.Party == party {
			total += e.Amount
		}
	}
	return total
}

func (suite *LedgerServiceTestSuite) TestHoldThenReleaseSplitsFees() {
	orderID := uuid.New()

	hold, err := suite.ledger.Hold(suite.ctx, orderID, 4500)
	suite.Require().NoError(err)
	suite.False(hold.Replayed)
	suite.Len(hold.Entries, 2)

	held, err := suite.ledger.HeldBalance(suite.ctx, orderID)
	suite.Require().NoError(err)
	suite.Equal(int64(4500), held)

	release, err := suite.ledger.Release(suite.ctx, orderID)
	suite.Require().NoError(err)
	suite.Equal(int64(4207), suite.sumBy(release.Entries, models.PartySeller))

	balances, err := suite.ledger.Balances(suite.ctx, orderID)
	suite.Require().NoError(err)
	suite.Equal(int64(-4500), balances.Buyer)
	suite.Equal(int64(4207), balances.Seller)
	suite.Equal(int64(293), balances.Platform)
	suite.Equal(int64(0), balances.Held)
	suite.Equal(int64(0), balances.Total)
}

func (suite *LedgerServiceTestSuite) TestPostingsAreIdempotent() {
	orderID := uuid.New()

	first, err := suite.ledger.Hold(suite.ctx, orderID, 1000)
	suite.Require().NoError(err)
	again, err := suite.ledger.Hold(suite.ctx, orderID, 1000)
	suite.Require().NoError(err)

	suite.True(again.Replayed)
	suite.Equal(first.Entries[0].ID, again.Entries[0].ID)

	_, err = suite.ledger.Release(suite.ctx, orderID)
	suite.Require().NoError(err)
	replay, err := suite.ledger.Release(suite.ctx, orderID)
	suite.Require().NoError(err)
	suite.True(replay.Replayed)

	entries, err := suite.ledger.Entries(suite.ctx, orderID)
	suite.Require().NoError(err)
	suite.Len(entries, 5)
}

func (suite *LedgerServiceTestSuite) TestReleaseWithoutHold() {
	_, err := suite.ledger.Release(suite.ctx, uuid.New())
	suite.True(errors.Is(err, services.ErrNoActiveHold))
}

func (suite *LedgerServiceTestSuite) TestHoldRejectsNonPositiveAmount() {
	_, err := suite.ledger.Hold(suite.ctx, uuid.New(), 0)
	suite.True(errors.Is(err, services.ErrAmountMismatch))
}

func (suite *LedgerServiceTestSuite) TestPartialRefundReleasesResidual() {
	orderID := uuid.New()
	_, err := suite.ledger.Hold(suite.ctx, orderID, 4500)
	suite.Require().NoError(err)

	posting, err := suite.ledger.Refund(suite.ctx, orderID, "r1", 1500)
	suite.Require().NoError(err)
	suite.Equal(int64(1500), suite.sumBy(posting.Entries, models.PartyBuyer))

	balances, err := suite.ledger.Balances(suite.ctx, orderID)
	suite.Require().NoError(err)
	split := suite.ledger.Fees().Split(3000)
	suite.Equal(int64(-3000), balances.Buyer)
	suite.Equal(split.SellerAmount, balances.Seller)
	suite.Equal(split.PlatformTotal(), balances.Platform)
	suite.Equal(int64(0), balances.Total)

	_, err = suite.ledger.Release(suite.ctx, orderID)
	suite.True(errors.Is(err, services.ErrNoActiveHold))
}

func (suite *LedgerServiceTestSuite) TestRefundAboveHoldRejected() {
	orderID := uuid.New()
	_, err := suite.ledger.Hold(suite.ctx, orderID, 1000)
	suite.Require().NoError(err)

	_, err = suite.ledger.Refund(suite.ctx, orderID, "r1", 1001)

	var amountErr *services.AmountError
	suite.Require().True(errors.As(err, &amountErr))
	suite.Equal(int64(1000), amountErr.Limit)

	entries, err := suite.ledger.Entries(suite.ctx, orderID)
	suite.Require().NoError(err)
	suite.Len(entries, 2)
}

func (suite *LedgerServiceTestSuite) TestSettlementFrozenByOpenDispute() {
	p := testutil.NewParties()
	order := suite.env.PaidOrder(suite.T(), p, 2000)

	_, err := suite.env.Services.Disputes.OpenDispute(suite.ctx, order.ID, p.Buyer, &services.OpenDisputeRequest{
		Category:    "other",
		Description: "seller stopped answering messages",
	})
	suite.Require().NoError(err)

	_, err = suite.ledger.Release(suite.ctx, order.ID)
	suite.True(errors.Is(err, services.ErrSettlementFrozen))
	_, err = suite.ledger.Refund(suite.ctx, order.ID, "manual", 2000)
	suite.True(errors.Is(err, services.ErrSettlementFrozen))

	held, err := suite.ledger.HeldBalance(suite.ctx, order.ID)
	suite.Require().NoError(err)
	suite.Equal(int64(2000), held)
}

func (suite *LedgerServiceTestSuite) TestReconcileFlagsSettledOrderWithoutPosting() {
	p := testutil.NewParties()
	order := suite.env.PaidOrder(suite.T(), p, 2000)

	imbalances, err := suite.ledger.Reconcile(suite.ctx)
	suite.Require().NoError(err)
	suite.Empty(imbalances)

	// Simulate a status written around the state machine.
	suite.Require().NoError(suite.env.DB.Model(&models.Order{}).
		Where("id = ?", order.ID).
		Update("status", models.OrderStatusCompleted).Error)

	imbalances, err = suite.ledger.Reconcile(suite.ctx)
	suite.Require().NoError(err)
	suite.Require().Len(imbalances, 1)
	suite.Equal(order.ID, imbalances[0].OrderID)
	suite.Equal(int64(0), imbalances[0].Balance)
	suite.Equal(int64(0), imbalances[0].Settlements)
}

func (suite *LedgerServiceTestSuite) TestSellerBalanceAcrossOrders() {
	p := testutil.NewParties()
	first := suite.env.Delivered(suite.T(), p, suite.env.PaidOrder(suite.T(), p, 4500))
	second := suite.env.Delivered(suite.T(), p, suite.env.PaidOrder(suite.T(), p, 4500))

	for _, o := range []*models.Order{first, second} {
		_, err := suite.env.Services.Orders.Complete(suite.ctx, o.ID, &p.Buyer)
		suite.Require().NoError(err)
	}

	balance, err := suite.ledger.SellerBalance(suite.ctx, p.Seller)
	suite.Require().NoError(err)
	suite.Equal(int64(2*4207), balance)
}

func TestLedgerServiceSuite(t *testing.T) {
	suite.Run(t, new(LedgerServiceTestSuite))
}
