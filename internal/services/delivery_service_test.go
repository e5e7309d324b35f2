package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/javajoker/handoff-backend/internal/models"
	"github.com/javajoker/handoff-backend/internal/services"
	"github.com/javajoker/handoff-backend/internal/testutil"
)

type DeliveryServiceTestSuite struct {
	suite.Suite
	env      *testutil.Env
	delivery *services.DeliveryService
	parties  testutil.Parties
	order    *models.Order
	ctx      context.Context
}

func (suite *DeliveryServiceTestSuite) SetupTest() {
	suite.env = testutil.NewEnv(suite.T())
	suite.delivery = suite.env.Services.Delivery
	suite.parties = testutil.NewParties()
	suite.order = suite.env.PaidOrder(suite.T(), suite.parties, 4500)
	suite.ctx = context.Background()
}

func (suite *DeliveryServiceTestSuite) schedulePickup() {
	_, err := suite.delivery.SchedulePickup(suite.ctx, suite.parties.Seller, &services.ScheduleRequest{
		OrderID: suite.order.ID,
		Slot:    suite.env.FirstSlot(suite.T(), suite.order.ID, models.TokenKindPickup, suite.parties.Seller),
	})
	suite.Require().NoError(err)
}

func (suite *DeliveryServiceTestSuite) redeemPickup(riderID uuid.UUID) (*services.RedeemResult, error) {
	return suite.delivery.Redeem(suite.ctx, &services.RedeemRequest{
		OrderID: suite.order.ID,
		Kind:    models.TokenKindPickup,
		Code:    suite.env.Code(suite.T(), suite.order.ID, models.TokenKindPickup),
		RiderID: riderID,
	})
}

func (suite *DeliveryServiceTestSuite) TestIssueTokensOncePerKind() {
	issued, err := suite.delivery.IssueTokens(suite.ctx, suite.order)
	suite.Require().NoError(err)
	suite.Require().Len(issued, 2)
	for _, t := range issued {
		suite.True(t.Replayed)
		suite.Empty(t.Code)
	}

	var count int64
	suite.Require().NoError(suite.env.DB.Model(&models.DeliveryToken{}).
		Where("order_id = ?", suite.order.ID).Count(&count).Error)
	suite.Equal(int64(2), count)
}

func (suite *DeliveryServiceTestSuite) TestTokensGoToTheRightHolders() {
	pickup, slots, err := suite.delivery.Token(suite.ctx, suite.order.ID, models.TokenKindPickup, suite.parties.Seller)
	suite.Require().NoError(err)
	suite.Equal(suite.parties.Seller, pickup.HolderID)
	suite.NotEmpty(slots)

	delivery, slots, err := suite.delivery.Token(suite.ctx, suite.order.ID, models.TokenKindDelivery, suite.parties.Buyer)
	suite.Require().NoError(err)
	suite.Equal(suite.parties.Buyer, delivery.HolderID)
	suite.Empty(slots, "delivery slots are offered after pickup")

	_, _, err = suite.delivery.Token(suite.ctx, suite.order.ID, models.TokenKindPickup, suite.parties.Buyer)
	suite.True(errors.Is(err, services.ErrNotTokenHolder))
}

func (suite *DeliveryServiceTestSuite) TestScheduleRejectsWrongHolderAndUnofferedSlot() {
	slot := suite.env.FirstSlot(suite.T(), suite.order.ID, models.TokenKindPickup, suite.parties.Seller)

	_, err := suite.delivery.SchedulePickup(suite.ctx, suite.parties.Buyer, &services.ScheduleRequest{
		OrderID: suite.order.ID,
		Slot:    slot,
	})
	suite.True(errors.Is(err, services.ErrNotTokenHolder))

	_, err = suite.delivery.SchedulePickup(suite.ctx, suite.parties.Seller, &services.ScheduleRequest{
		OrderID: suite.order.ID,
		Slot:    "1999-01-01T09:00",
	})
	suite.True(errors.Is(err, services.ErrSlotNotOffered))

	order, err := suite.env.Services.Orders.Get(suite.ctx, suite.order.ID)
	suite.Require().NoError(err)
	suite.Equal(models.OrderStatusPaid, order.Status)
}

func (suite *DeliveryServiceTestSuite) TestScheduleDeliveryNeedsAddress() {
	_, err := suite.delivery.ScheduleDelivery(suite.ctx, suite.parties.Buyer, &services.ScheduleRequest{
		OrderID: suite.order.ID,
		Slot:    "2030-01-01T09:00",
	})
	suite.True(errors.Is(err, services.ErrAddressRequired))
}

func (suite *DeliveryServiceTestSuite) TestRedeemBeforeScheduleIsOutOfOrder() {
	_, err := suite.redeemPickup(suite.parties.Rider)

	var stateErr *services.TokenStateError
	suite.Require().True(errors.As(err, &stateErr))
	suite.Equal(models.OrderStatusPickupScheduled, stateErr.Expected)
	suite.Equal(models.OrderStatusPaid, stateErr.Actual)
}

func (suite *DeliveryServiceTestSuite) TestRedeemWrongCode() {
	suite.schedulePickup()

	_, err := suite.delivery.Redeem(suite.ctx, &services.RedeemRequest{
		OrderID: suite.order.ID,
		Kind:    models.TokenKindPickup,
		Code:    "00000-00000",
		RiderID: suite.parties.Rider,
	})
	suite.True(errors.Is(err, services.ErrInvalidToken))
}

func (suite *DeliveryServiceTestSuite) TestRedeemAdvancesOrderAndOffersDeliverySlots() {
	suite.schedulePickup()

	result, err := suite.redeemPickup(suite.parties.Rider)
	suite.Require().NoError(err)
	suite.Equal(models.OrderStatusPickedUp, result.Order.Status)
	suite.Equal(suite.parties.Rider, *result.Order.RiderID)
	suite.True(result.Token.IsRedeemed())

	_, slots, err := suite.delivery.Token(suite.ctx, suite.order.ID, models.TokenKindDelivery, suite.parties.Buyer)
	suite.Require().NoError(err)
	suite.NotEmpty(slots)

	msg, ok := suite.env.Notifier.Last(services.MessageDeliverySlots)
	suite.Require().True(ok)
	suite.Equal(suite.parties.Buyer, msg.UserID)

	_, err = suite.redeemPickup(suite.parties.Rider)
	suite.True(errors.Is(err, services.ErrTokenAlreadyUsed))
}

func (suite *DeliveryServiceTestSuite) TestConcurrentRedemptionHasOneWinner() {
	suite.schedulePickup()
	code := suite.env.Code(suite.T(), suite.order.ID, models.TokenKindPickup)

	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		used      int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := suite.delivery.Redeem(context.Background(), &services.RedeemRequest{
				OrderID: suite.order.ID,
				Kind:    models.TokenKindPickup,
				Code:    code,
				RiderID: suite.parties.Rider,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, services.ErrTokenAlreadyUsed):
				used++
			}
		}()
	}
	wg.Wait()

	suite.Equal(1, successes)
	suite.Equal(attempts-1, used)

	history, err := suite.env.Services.Orders.History(suite.ctx, suite.order.ID)
	suite.Require().NoError(err)
	pickedUp := 0
	for _, h := range history {
		if h.ToStatus == models.OrderStatusPickedUp {
			pickedUp++
		}
	}
	suite.Equal(1, pickedUp)
}

func (suite *DeliveryServiceTestSuite) TestRacingRidersOnUnassignedOrder() {
	suite.schedulePickup()
	code := suite.env.Code(suite.T(), suite.order.ID, models.TokenKindPickup)

	riders := []uuid.UUID{uuid.New(), uuid.New(), uuid.New(), uuid.New(), uuid.New()}
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []uuid.UUID
		used    int
		other   []error
	)
	for _, rider := range riders {
		wg.Add(1)
		go func(rider uuid.UUID) {
			defer wg.Done()
			_, err := suite.delivery.Redeem(context.Background(), &services.RedeemRequest{
				OrderID: suite.order.ID,
				Kind:    models.TokenKindPickup,
				Code:    code,
				RiderID: rider,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, rider)
			case errors.Is(err, services.ErrTokenAlreadyUsed):
				used++
			default:
				other = append(other, err)
			}
		}(rider)
	}
	wg.Wait()

	suite.Require().Len(winners, 1)
	suite.Equal(len(riders)-1, used)
	suite.Empty(other)

	order, err := suite.env.Services.Orders.Get(suite.ctx, suite.order.ID)
	suite.Require().NoError(err)
	suite.Equal(models.OrderStatusPickedUp, order.Status)
	suite.Require().NotNil(order.RiderID)
	suite.Equal(winners[0], *order.RiderID)

	token, _, err := suite.delivery.Token(suite.ctx, suite.order.ID, models.TokenKindPickup, suite.parties.Seller)
	suite.Require().NoError(err)
	suite.Require().NotNil(token.RedeemedBy)
	suite.Equal(winners[0], *token.RedeemedBy)
}

func (suite *DeliveryServiceTestSuite) TestRedeemByScannedPayload() {
	suite.schedulePickup()
	payload := suite.env.Payload(suite.T(), suite.order.ID, models.TokenKindPickup)

	check, err := suite.delivery.VerifyPayload(suite.ctx, payload)
	suite.Require().NoError(err)
	suite.True(check.Redeemable)

	result, err := suite.delivery.Redeem(suite.ctx, &services.RedeemRequest{
		Payload: payload,
		RiderID: suite.parties.Rider,
	})
	suite.Require().NoError(err)
	suite.Equal(models.OrderStatusPickedUp, result.Order.Status)

	check, err = suite.delivery.VerifyPayload(suite.ctx, payload)
	suite.Require().NoError(err)
	suite.True(check.Redeemed)
	suite.False(check.Redeemable)
}

func (suite *DeliveryServiceTestSuite) TestPayloadForAnotherKindRejected() {
	suite.schedulePickup()
	payload := suite.env.Payload(suite.T(), suite.order.ID, models.TokenKindDelivery)

	_, err := suite.delivery.Redeem(suite.ctx, &services.RedeemRequest{
		OrderID: suite.order.ID,
		Kind:    models.TokenKindPickup,
		Payload: payload,
		RiderID: suite.parties.Rider,
	})
	suite.True(errors.Is(err, services.ErrInvalidToken))
}

func (suite *DeliveryServiceTestSuite) TestOtherRiderCannotRedeemAssignedOrder() {
	_, err := suite.delivery.AssignRider(suite.ctx, suite.order.ID, suite.parties.Rider)
	suite.Require().NoError(err)
	suite.schedulePickup()

	_, err = suite.redeemPickup(uuid.New())
	suite.True(errors.Is(err, services.ErrNotAssignedRider))

	token, _, err := suite.delivery.Token(suite.ctx, suite.order.ID, models.TokenKindPickup, suite.parties.Seller)
	suite.Require().NoError(err)
	suite.False(token.IsRedeemed())
}

func (suite *DeliveryServiceTestSuite) TestAssignRider() {
	order, err := suite.delivery.AssignRider(suite.ctx, suite.order.ID, suite.parties.Rider)
	suite.Require().NoError(err)
	suite.Equal(suite.parties.Rider, *order.RiderID)

	_, err = suite.delivery.AssignRider(suite.ctx, suite.order.ID, suite.parties.Rider)
	suite.NoError(err)

	_, err = suite.delivery.AssignRider(suite.ctx, suite.order.ID, uuid.New())
	suite.True(errors.Is(err, services.ErrRiderAlreadyAssigned))

	assigned, err := suite.delivery.AssignedDeliveries(suite.ctx, suite.parties.Rider)
	suite.Require().NoError(err)
	suite.Len(assigned, 1)
}

func (suite *DeliveryServiceTestSuite) TestPendingDeliveriesCachedUntilChange() {
	pending, err := suite.delivery.PendingDeliveries(suite.ctx)
	suite.Require().NoError(err)
	suite.Len(pending, 1)

	_, err = suite.delivery.PendingDeliveries(suite.ctx)
	suite.Require().NoError(err)
	suite.Equal(1, suite.env.Cache.Hits())

	_, err = suite.delivery.AssignRider(suite.ctx, suite.order.ID, suite.parties.Rider)
	suite.Require().NoError(err)

	pending, err = suite.delivery.PendingDeliveries(suite.ctx)
	suite.Require().NoError(err)
	suite.Empty(pending)
}

func (suite *DeliveryServiceTestSuite) TestHistoryOnlyForParties() {
	_, err := suite.delivery.History(suite.ctx, suite.order.ID, uuid.New(), false)
	suite.True(errors.Is(err, services.ErrNotOrderParty))

	history, err := suite.delivery.History(suite.ctx, suite.order.ID, suite.parties.Seller, false)
	suite.Require().NoError(err)
	suite.NotEmpty(history)

	_, err = suite.delivery.History(suite.ctx, suite.order.ID, uuid.New(), true)
	suite.NoError(err)
}

func TestDeliveryServiceSuite(t *testing.T) {
	suite.Run(t, new(DeliveryServiceTestSuite))
}
