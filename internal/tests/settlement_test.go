// internal/tests/settlement_test.go
package tests

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/javajoker/handoff-backend/internal/models"
	"github.com/javajoker/handoff-backend/internal/router"
	"github.com/javajoker/handoff-backend/internal/services"
	"github.com/javajoker/handoff-backend/internal/testutil"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string                 `json:"code"`
		Message string                 `json:"message"`
		Details map[string]interface{} `json:"details"`
	} `json:"error"`
}

type orderPayload struct {
	Order models.Order `json:"order"`
}

type tokenPayload struct {
	Token models.DeliveryToken `json:"token"`
	Slots []services.TimeSlot  `json:"slots"`
}

type SettlementTestSuite struct {
	suite.Suite
	env     *testutil.Env
	router  *gin.Engine
	parties testutil.Parties
	admin   uuid.UUID
}

func (suite *SettlementTestSuite) SetupTest() {
	gin.SetMode(gin.TestMode)
	testutil.InitI18n(suite.T())

	suite.env = testutil.NewEnv(suite.T())
	suite.router = router.Initialize(suite.env.DB, suite.env.Config, suite.env.Services, testutil.Logger())
	suite.parties = testutil.NewParties()
	suite.admin = uuid.New()
}

func (suite *SettlementTestSuite) bearer(userID uuid.UUID, userType models.UserType) string {
	return testutil.Bearer(suite.T(), userID, string(userType))
}

func (suite *SettlementTestSuite) buyer() string {
	return suite.bearer(suite.parties.Buyer, models.UserTypeBuyer)
}

func (suite *SettlementTestSuite) seller() string {
	return suite.bearer(suite.parties.Seller, models.UserTypeSeller)
}

func (suite *SettlementTestSuite) rider() string {
	return suite.bearer(suite.parties.Rider, models.UserTypeRider)
}

func (suite *SettlementTestSuite) adminAuth() string {
	return suite.bearer(suite.admin, models.UserTypeAdmin)
}

func (suite *SettlementTestSuite) doJSON(method, path, auth string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		suite.Require().NoError(err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}

	w := httptest.NewRecorder()
	suite.router.ServeHTTP(w, req)
	return w
}

func (suite *SettlementTestSuite) doForm(path, auth string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", auth)

	w := httptest.NewRecorder()
	suite.router.ServeHTTP(w, req)
	return w
}

func (suite *SettlementTestSuite) decode(w *httptest.ResponseRecorder, data interface{}) envelope {
	var env envelope
	suite.Require().NoError(json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	if data != nil && len(env.Data) > 0 {
		suite.Require().NoError(json.Unmarshal(env.Data, data))
	}
	return env
}

func (suite *SettlementTestSuite) confirm(amount int64) models.Order {
	reference := "pi_" + uuid.NewString()
	suite.env.Gateway.Capture(reference, amount)

	w := suite.doJSON(http.MethodPost, "/v1/payments/confirm", suite.buyer(), services.ConfirmPaymentRequest{
		PaymentIntentID: reference,
		SellerID:        suite.parties.Seller,
		ItemID:          uuid.New(),
		Amount:          amount,
	})
	suite.Require().Equal(http.StatusCreated, w.Code, w.Body.String())

	var out orderPayload
	suite.decode(w, &out)
	return out.Order
}

func (suite *SettlementTestSuite) firstSlot(orderID uuid.UUID, kind models.TokenKind, auth string) string {
	w := suite.doJSON(http.MethodGet, "/v1/deliveries/"+orderID.String()+"/tokens/"+string(kind), auth, nil)
	suite.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	var out tokenPayload
	suite.decode(w, &out)
	suite.Require().NotEmpty(out.Slots)
	return out.Slots[0].Key
}

func (suite *SettlementTestSuite) reportStatus(orderID uuid.UUID, status models.OrderStatus, code string) *httptest.ResponseRecorder {
	return suite.doJSON(http.MethodPut, "/v1/deliveries/"+orderID.String()+"/status", suite.rider(), map[string]string{
		"status":            string(status),
		"verification_code": code,
	})
}

func (suite *SettlementTestSuite) TestHappyPathOverHTTP() {
	order := suite.confirm(4500)
	suite.Equal(models.OrderStatusPaid, order.Status)
	suite.Equal(int64(225), order.PlatformFee)
	id := order.ID.String()

	// Seller books the pickup from the emailed link.
	w := suite.doForm("/v1/deliveries/schedule-pickup", suite.seller(), url.Values{
		"order_id": {id},
		"slot":     {suite.firstSlot(order.ID, models.TokenKindPickup, suite.seller())},
	})
	suite.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	suite.Contains(w.Header().Get("Content-Type"), "text/html")
	suite.Contains(w.Body.String(), "Pickup scheduled")

	pickupCode := suite.env.Code(suite.T(), order.ID, models.TokenKindPickup)
	w = suite.reportStatus(order.ID, models.OrderStatusPickedUp, pickupCode)
	suite.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	var redeemed orderPayload
	suite.decode(w, &redeemed)
	suite.Equal(models.OrderStatusPickedUp, redeemed.Order.Status)

	w = suite.doForm("/v1/deliveries/schedule-delivery", suite.buyer(), url.Values{
		"order_id": {id},
		"slot":     {suite.firstSlot(order.ID, models.TokenKindDelivery, suite.buyer())},
		"address":  {"1 Harbour Road"},
	})
	suite.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	suite.Contains(w.Body.String(), "1 Harbour Road")

	w = suite.reportStatus(order.ID, models.OrderStatusDelivered, suite.env.Code(suite.T(), order.ID, models.TokenKindDelivery))
	suite.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	w = suite.doJSON(http.MethodPost, "/v1/orders/"+id+"/complete", suite.buyer(), nil)
	suite.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	var completed orderPayload
	suite.decode(w, &completed)
	suite.Equal(models.OrderStatusCompleted, completed.Order.Status)

	w = suite.doJSON(http.MethodGet, "/v1/orders/"+id+"/ledger", suite.seller(), nil)
	suite.Require().Equal(http.StatusOK, w.Code)
	var ledger struct {
		Entries  []models.LedgerEntry `json:"entries"`
		Balances services.Balances    `json:"balances"`
	}
	suite.decode(w, &ledger)
	suite.Len(ledger.Entries, 5)
	suite.Equal(int64(4207), ledger.Balances.Seller)
	suite.Equal(int64(293), ledger.Balances.Platform)
	suite.Equal(int64(0), ledger.Balances.Held)
	suite.Equal(int64(0), ledger.Balances.Total)

	w = suite.doJSON(http.MethodGet, "/v1/payments/balance", suite.seller(), nil)
	suite.Require().Equal(http.StatusOK, w.Code)
	var balance services.SellerBalance
	suite.decode(w, &balance)
	suite.Equal(int64(4207), balance.Balance)
	suite.Equal("42.07", balance.Formatted)
}

func (suite *SettlementTestSuite) TestDuplicateRedemptionConflicts() {
	order := suite.env.PaidOrder(suite.T(), suite.parties, 1000)
	suite.doForm("/v1/deliveries/schedule-pickup", suite.seller(), url.Values{
		"order_id": {order.ID.String()},
		"slot":     {suite.firstSlot(order.ID, models.TokenKindPickup, suite.seller())},
	})
	code := suite.env.Code(suite.T(), order.ID, models.TokenKindPickup)

	w := suite.reportStatus(order.ID, models.OrderStatusPickedUp, code)
	suite.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	w = suite.reportStatus(order.ID, models.OrderStatusPickedUp, code)
	suite.Equal(http.StatusConflict, w.Code)
	env := suite.decode(w, nil)
	suite.False(env.Success)
	suite.Equal("TOKEN_ALREADY_USED", env.Error.Code)
}

func (suite *SettlementTestSuite) TestRedeemOutOfOrderReportsState() {
	order := suite.env.PaidOrder(suite.T(), suite.parties, 1000)

	w := suite.reportStatus(order.ID, models.OrderStatusPickedUp, suite.env.Code(suite.T(), order.ID, models.TokenKindPickup))
	suite.Equal(http.StatusConflict, w.Code)
	env := suite.decode(w, nil)
	suite.Equal("TOKEN_WRONG_ORDER_STATE", env.Error.Code)
	suite.Equal(string(models.OrderStatusPaid), env.Error.Details["current"])
	suite.Equal(string(models.OrderStatusPickupScheduled), env.Error.Details["expected"])
}

func (suite *SettlementTestSuite) TestMalformedCodeFailsValidation() {
	order := suite.env.PaidOrder(suite.T(), suite.parties, 1000)

	w := suite.reportStatus(order.ID, models.OrderStatusPickedUp, "nope")
	suite.Equal(http.StatusBadRequest, w.Code)
}

func (suite *SettlementTestSuite) TestInvalidTransitionDetails() {
	order := suite.env.PaidOrder(suite.T(), suite.parties, 1000)

	w := suite.doJSON(http.MethodPost, "/v1/orders/"+order.ID.String()+"/complete", suite.buyer(), nil)
	suite.Equal(http.StatusConflict, w.Code)
	env := suite.decode(w, nil)
	suite.Equal("INVALID_TRANSITION", env.Error.Code)
	suite.Equal(string(models.OrderStatusPaid), env.Error.Details["current"])
	suite.Equal(string(models.OrderStatusCompleted), env.Error.Details["requested"])
	suite.Equal(suite.parties.Buyer.String(), env.Error.Details["actor"])
}

func (suite *SettlementTestSuite) TestDisputeResolvedByAdmin() {
	order := suite.env.Delivered(suite.T(), suite.parties, suite.env.PaidOrder(suite.T(), suite.parties, 4500))
	id := order.ID.String()

	w := suite.doJSON(http.MethodPost, "/v1/orders/"+id+"/disputes", suite.buyer(), services.OpenDisputeRequest{
		Category:    "damaged",
		Description: "screen cracked on arrival",
	})
	suite.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	var dispute models.Dispute
	suite.decode(w, &dispute)

	// Escrow is frozen while the dispute is open.
	w = suite.doJSON(http.MethodPost, "/v1/orders/"+id+"/complete", suite.buyer(), nil)
	suite.Equal(http.StatusConflict, w.Code)
	suite.Equal("SETTLEMENT_FROZEN", suite.decode(w, nil).Error.Code)

	disputePath := "/v1/disputes/" + dispute.ID.String()

	w = suite.doJSON(http.MethodPut, disputePath+"/resolve", suite.buyer(), map[string]interface{}{
		"resolution": "buyer decides for themselves",
	})
	suite.Equal(http.StatusForbidden, w.Code)

	w = suite.doJSON(http.MethodPut, disputePath+"/investigate", suite.adminAuth(), nil)
	suite.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	w = suite.doJSON(http.MethodPut, disputePath+"/resolve", suite.adminAuth(), map[string]interface{}{
		"resolution":    "half back for the cracked screen",
		"refund_amount": 2000,
	})
	suite.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	var resolution services.Resolution
	suite.decode(w, &resolution)
	suite.Equal(models.OrderStatusCompleted, resolution.Order.Status)
	suite.Equal(models.DisputeStatusResolved, resolution.Dispute.Status)

	w = suite.doJSON(http.MethodPut, disputePath+"/close", suite.adminAuth(), nil)
	suite.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	w = suite.doJSON(http.MethodGet, "/v1/orders/"+id+"/ledger", suite.buyer(), nil)
	var ledger struct {
		Balances services.Balances `json:"balances"`
	}
	suite.decode(w, &ledger)
	suite.Equal(int64(-2500), ledger.Balances.Buyer)
	suite.Equal(int64(0), ledger.Balances.Held)
	suite.Equal(1, suite.env.Gateway.RefundCount())
}

func (suite *SettlementTestSuite) TestNonPartyForbidden() {
	order := suite.env.PaidOrder(suite.T(), suite.parties, 1000)
	stranger := suite.bearer(uuid.New(), models.UserTypeBuyer)

	w := suite.doJSON(http.MethodGet, "/v1/orders/"+order.ID.String(), stranger, nil)
	suite.Equal(http.StatusForbidden, w.Code)

	w = suite.doJSON(http.MethodGet, "/v1/orders/"+order.ID.String(), suite.adminAuth(), nil)
	suite.Equal(http.StatusOK, w.Code)

	w = suite.doJSON(http.MethodGet, "/v1/deliveries/"+order.ID.String()+"/tokens/pickup", suite.buyer(), nil)
	suite.Equal(http.StatusForbidden, w.Code)
}

func (suite *SettlementTestSuite) TestRoleAndAuthGates() {
	w := suite.doJSON(http.MethodGet, "/v1/deliveries/pending", "", nil)
	suite.Equal(http.StatusUnauthorized, w.Code)

	w = suite.doJSON(http.MethodGet, "/v1/deliveries/pending", suite.buyer(), nil)
	suite.Equal(http.StatusForbidden, w.Code)

	w = suite.doJSON(http.MethodGet, "/v1/deliveries/pending", suite.rider(), nil)
	suite.Equal(http.StatusOK, w.Code)

	w = suite.doJSON(http.MethodGet, "/v1/admin/dashboard/stats", suite.seller(), nil)
	suite.Equal(http.StatusForbidden, w.Code)

	w = suite.doJSON(http.MethodGet, "/v1/admin/dashboard/stats", suite.adminAuth(), nil)
	suite.Equal(http.StatusOK, w.Code)
}

func (suite *SettlementTestSuite) TestUncapturedPaymentRejected() {
	reference := "pi_" + uuid.NewString()
	suite.env.Gateway.Authorize(reference, 4500)

	w := suite.doJSON(http.MethodPost, "/v1/payments/confirm", suite.buyer(), services.ConfirmPaymentRequest{
		PaymentIntentID: reference,
		SellerID:        suite.parties.Seller,
		ItemID:          uuid.New(),
		Amount:          4500,
	})
	suite.Equal(http.StatusPaymentRequired, w.Code)
	suite.Equal("PAYMENT_NOT_CAPTURED", suite.decode(w, nil).Error.Code)

	captured := "pi_" + uuid.NewString()
	suite.env.Gateway.Capture(captured, 4500)
	w = suite.doJSON(http.MethodPost, "/v1/payments/confirm", suite.buyer(), services.ConfirmPaymentRequest{
		PaymentIntentID: captured,
		SellerID:        suite.parties.Seller,
		ItemID:          uuid.New(),
		Amount:          4000,
	})
	suite.Equal(http.StatusUnprocessableEntity, w.Code)
	suite.Equal("AMOUNT_MISMATCH", suite.decode(w, nil).Error.Code)
}

func (suite *SettlementTestSuite) TestOrderEventStream() {
	order := suite.env.PaidOrder(suite.T(), suite.parties, 1000)

	server := httptest.NewServer(suite.router)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/v1/orders/"+order.ID.String()+"/events", nil)
	suite.Require().NoError(err)
	req.Header.Set("Authorization", suite.seller())

	resp, err := http.DefaultClient.Do(req)
	suite.Require().NoError(err)
	defer resp.Body.Close()
	suite.Require().Equal(http.StatusOK, resp.StatusCode)
	suite.Contains(resp.Header.Get("Content-Type"), "text/event-stream")

	lines := bufio.NewScanner(resp.Body)
	next := func() string {
		for lines.Scan() {
			if line := lines.Text(); strings.HasPrefix(line, "event:") {
				return strings.TrimPrefix(line, "event:")
			}
		}
		return ""
	}

	suite.Equal("order.status", next())

	_, err = suite.env.Services.Delivery.SchedulePickup(context.Background(), suite.parties.Seller, &services.ScheduleRequest{
		OrderID: order.ID,
		Slot:    suite.env.FirstSlot(suite.T(), order.ID, models.TokenKindPickup, suite.parties.Seller),
	})
	suite.Require().NoError(err)

	suite.Equal("order.transitioned", next())
}

func TestSettlementSuite(t *testing.T) {
	suite.Run(t, new(SettlementTestSuite))
}

func TestHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	testutil.InitI18n(t)
	env := testutil.NewEnv(t)
	r := router.Initialize(env.DB, env.Config, env.Services, testutil.Logger())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}
