package services_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/javajoker/handoff-backend/internal/events"
	"github.com/javajoker/handoff-backend/internal/models"
	"github.com/javajoker/handoff-backend/internal/services"
	"github.com/javajoker/handoff-backend/internal/testutil"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to models.OrderStatus
		want     bool
	}{
		{models.OrderStatusPending, models.OrderStatusPaid, true},
		{models.OrderStatusPending, models.OrderStatusCancelled, true},
		{models.OrderStatusPaid, models.OrderStatusPickupScheduled, true},
		{models.OrderStatusPaid, models.OrderStatusCancelled, true},
		{models.OrderStatusPaid, models.OrderStatusPickedUp, false},
		{models.OrderStatusPickupScheduled, models.OrderStatusPickedUp, true},
		{models.OrderStatusPickupScheduled, models.OrderStatusCancelled, false},
		{models.OrderStatusPickedUp, models.OrderStatusDeliveryScheduled, true},
		{models.OrderStatusDeliveryScheduled, models.OrderStatusDelivered, true},
		{models.OrderStatusDelivered, models.OrderStatusCompleted, true},
		{models.OrderStatusDelivered, models.OrderStatusRefunded, false},
		{models.OrderStatusDisputed, models.OrderStatusCompleted, true},
		{models.OrderStatusDisputed, models.OrderStatusRefunded, true},
		{models.OrderStatusDisputed, models.OrderStatusPaid, false},
		{models.OrderStatusCompleted, models.OrderStatusDisputed, false},
		{models.OrderStatusCancelled, models.OrderStatusPaid, false},
		{models.OrderStatusRefunded, models.OrderStatusCompleted, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, services.CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

type OrderServiceTestSuite struct {
	suite.Suite
	env    *testutil.Env
	orders *services.OrderService
	ctx    context.Context
}

func (suite *OrderServiceTestSuite) SetupTest() {
	suite.env = testutil.NewEnv(suite.T())
	suite.orders = suite.env.Services.Orders
	suite.ctx = context.Background()
}

func (suite *OrderServiceTestSuite) TestCreateOrderIsIdempotentPerPayment() {
	req := &services.CreateOrderRequest{
		BuyerID:          uuid.New(),
		SellerID:         uuid.New(),
		ItemID:           uuid.New(),
		TotalAmount:      4500,
		PaymentReference: "pi_same",
	}

	first, created, err := suite.orders.CreateOrder(suite.ctx, req)
	suite.Require().NoError(err)
	suite.True(created)
	suite.Equal(models.OrderStatusPaid, first.Status)
	suite.Equal(int64(225), first.PlatformFee)
	suite.Equal(int64(4207), first.SellerNetAmount)

	second, created, err := suite.orders.CreateOrder(suite.ctx, req)
	suite.Require().NoError(err)
	suite.False(created)
	suite.Equal(first.ID, second.ID)

	held, err := suite.env.Services.Ledger.HeldBalance(suite.ctx, first.ID)
	suite.Require().NoError(err)
	suite.Equal(int64(4500), held)

	history, err := suite.orders.History(suite.ctx, first.ID)
	suite.Require().NoError(err)
	suite.Require().Len(history, 2)
	suite.Equal(models.OrderStatusPending, history[0].ToStatus)
	suite.Equal(models.OrderStatusPaid, history[1].ToStatus)
}

func (suite *OrderServiceTestSuite) TestCreateOrderRejectsSelfPurchase() {
	id := uuid.New()
	_, _, err := suite.orders.CreateOrder(suite.ctx, &services.CreateOrderRequest{
		BuyerID:          id,
		SellerID:         id,
		ItemID:           uuid.New(),
		TotalAmount:      100,
		PaymentReference: "pi_self",
	})
	suite.Error(err)
}

func (suite *OrderServiceTestSuite) TestTransitionRejectsSkippedEdge() {
	order := suite.env.PaidOrder(suite.T(), testutil.NewParties(), 1000)

	_, err := suite.orders.Transition(suite.ctx, services.TransitionRequest{
		OrderID: order.ID,
		To:      models.OrderStatusDelivered,
		Origin:  models.OriginRedemption,
	})

	var transitionErr *services.TransitionError
	suite.Require().True(errors.As(err, &transitionErr))
	suite.Equal(models.OrderStatusPaid, transitionErr.Current)
	suite.Equal(models.OrderStatusDelivered, transitionErr.Requested)
	suite.Equal("system", transitionErr.Actor)
	suite.True(errors.Is(err, services.ErrInvalidTransition))
}

func (suite *OrderServiceTestSuite) TestTransitionDetectsStaleState() {
	order := suite.env.PaidOrder(suite.T(), testutil.NewParties(), 1000)

	// The caller read pickup_scheduled but the order is still paid.
	_, err := suite.orders.Transition(suite.ctx, services.TransitionRequest{
		OrderID: order.ID,
		From:    models.OrderStatusPickupScheduled,
		To:      models.OrderStatusPickedUp,
		Origin:  models.OriginRedemption,
	})

	var staleErr *services.StaleStateError
	suite.Require().True(errors.As(err, &staleErr))
	suite.Equal(models.OrderStatusPaid, staleErr.Actual)
}

func (suite *OrderServiceTestSuite) TestDisputedOnlyLeavesThroughResolution() {
	p := testutil.NewParties()
	order := suite.env.PaidOrder(suite.T(), p, 1000)

	_, err := suite.orders.Transition(suite.ctx, services.TransitionRequest{
		OrderID: order.ID,
		To:      models.OrderStatusDisputed,
		Origin:  models.OriginRedemption,
	})
	suite.True(errors.Is(err, services.ErrInvalidTransition))

	_, err = suite.orders.ForceDisputed(suite.ctx, order.ID, &p.Buyer, "test")
	suite.Require().NoError(err)

	_, err = suite.orders.Transition(suite.ctx, services.TransitionRequest{
		OrderID: order.ID,
		To:      models.OrderStatusCompleted,
		Origin:  models.OriginSettlement,
	})
	suite.True(errors.Is(err, services.ErrInvalidTransition))
}

func (suite *OrderServiceTestSuite) TestCompleteOnlyThroughSettlement() {
	p := testutil.NewParties()
	order := suite.env.Delivered(suite.T(), p, suite.env.PaidOrder(suite.T(), p, 4500))

	_, err := suite.orders.Transition(suite.ctx, services.TransitionRequest{
		OrderID: order.ID,
		To:      models.OrderStatusCompleted,
		Origin:  models.OriginRedemption,
	})
	suite.True(errors.Is(err, services.ErrInvalidTransition))

	completed, err := suite.orders.Complete(suite.ctx, order.ID, &p.Buyer)
	suite.Require().NoError(err)
	suite.Equal(models.OrderStatusCompleted, completed.Status)
	suite.NotNil(completed.CompletedAt)

	again, err := suite.orders.Complete(suite.ctx, order.ID, &p.Buyer)
	suite.Require().NoError(err)
	suite.Equal(models.OrderStatusCompleted, again.Status)

	entries, err := suite.env.Services.Ledger.Entries(suite.ctx, order.ID)
	suite.Require().NoError(err)
	suite.Len(entries, 5)
}

func (suite *OrderServiceTestSuite) TestCompleteBeforeDeliveryRejected() {
	order := suite.env.PaidOrder(suite.T(), testutil.NewParties(), 1000)

	_, err := suite.orders.Complete(suite.ctx, order.ID, nil)
	suite.True(errors.Is(err, services.ErrInvalidTransition))
}

func (suite *OrderServiceTestSuite) TestCancelRefundsHold() {
	p := testutil.NewParties()
	order := suite.env.PaidOrder(suite.T(), p, 3000)

	cancelled, err := suite.orders.Cancel(suite.ctx, order.ID, &p.Buyer, "changed my mind")
	suite.Require().NoError(err)
	suite.Equal(models.OrderStatusCancelled, cancelled.Status)

	balances, err := suite.env.Services.Ledger.Balances(suite.ctx, order.ID)
	suite.Require().NoError(err)
	suite.Equal(int64(0), balances.Buyer)
	suite.Equal(int64(0), balances.Held)
	suite.Equal(1, suite.env.Gateway.RefundCount())

	again, err := suite.orders.Cancel(suite.ctx, order.ID, &p.Buyer, "changed my mind")
	suite.Require().NoError(err)
	suite.Equal(models.OrderStatusCancelled, again.Status)
	suite.Equal(1, suite.env.Gateway.RefundCount())
}

func (suite *OrderServiceTestSuite) TestCancelAfterPickupScheduledRejected() {
	p := testutil.NewParties()
	order := suite.env.PaidOrder(suite.T(), p, 3000)
	_, err := suite.env.Services.Delivery.SchedulePickup(suite.ctx, p.Seller, &services.ScheduleRequest{
		OrderID: order.ID,
		Slot:    suite.env.FirstSlot(suite.T(), order.ID, models.TokenKindPickup, p.Seller),
	})
	suite.Require().NoError(err)

	_, err = suite.orders.Cancel(suite.ctx, order.ID, &p.Buyer, "too slow")
	suite.True(errors.Is(err, services.ErrInvalidTransition))
}

func (suite *OrderServiceTestSuite) TestTransitionPublishesAfterCommit() {
	ch, unsubscribe := suite.env.Bus.Subscribe()
	defer unsubscribe()

	order := suite.env.PaidOrder(suite.T(), testutil.NewParties(), 1000)

	var transitioned []events.Event
	for len(ch) > 0 {
		if e := <-ch; e.Type == events.OrderTransitioned && e.OrderID == order.ID {
			transitioned = append(transitioned, e)
		}
	}
	suite.Require().Len(transitioned, 1)
	suite.Equal(models.OrderStatusPaid, transitioned[0].Data["to"])
}

func TestOrderServiceSuite(t *testing.T) {
	suite.Run(t, new(OrderServiceTestSuite))
}
