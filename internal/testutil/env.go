package testutil

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/javajoker/handoff-backend/internal/config"
	"github.com/javajoker/handoff-backend/internal/events"
	"github.com/javajoker/handoff-backend/internal/models"
	"github.com/javajoker/handoff-backend/internal/router"
	"github.com/javajoker/handoff-backend/internal/services"
)

// Env is a fully wired service graph over an in-memory database.
type Env struct {
	DB       *gorm.DB
	Config   *config.Config
	Gateway  *Gateway
	Notifier *Notifier
	Storage  *Storage
	Cache    *Cache
	Bus      *events.Bus
	Services *router.Services
}

// NewEnv wires every service with fakes for the external collaborators.
func NewEnv(t testing.TB) *Env {
	t.Helper()
	return NewEnvWith(t, nil)
}

// NewEnvWith is NewEnv with the test configuration adjusted by configure.
func NewEnvWith(t testing.TB, configure func(*config.Config)) *Env {
	t.Helper()

	cfg := Config()
	if configure != nil {
		configure(cfg)
	}

	e := &Env{
		DB:       NewDB(t),
		Config:   cfg,
		Gateway:  NewGateway(),
		Notifier: &Notifier{},
		Storage:  NewStorage(),
		Cache:    NewCache(),
		Bus:      events.NewBus(256, Logger()),
	}
	t.Cleanup(e.Bus.Close)

	svc, err := router.NewServices(e.DB, e.Config, router.Collaborators{
		Logger:   Logger(),
		Bus:      e.Bus,
		Cache:    e.Cache,
		Gateway:  e.Gateway,
		Notifier: e.Notifier,
		Storage:  e.Storage,
	})
	if err != nil {
		t.Fatalf("wire services: %v", err)
	}
	e.Services = svc
	return e
}

// Parties of one sale.
type Parties struct {
	Buyer  uuid.UUID
	Seller uuid.UUID
	Rider  uuid.UUID
}

func NewParties() Parties {
	return Parties{Buyer: uuid.New(), Seller: uuid.New(), Rider: uuid.New()}
}

// PaidOrder captures a payment of amount and confirms it, which leaves a
// paid order with its hold and both tokens.
func (e *Env) PaidOrder(t testing.TB, p Parties, amount int64) *models.Order {
	t.Helper()

	reference := "pi_" + uuid.NewString()
	e.Gateway.Capture(reference, amount)

	order, err := e.Services.Payments.ConfirmPayment(context.Background(), p.Buyer, &services.ConfirmPaymentRequest{
		PaymentIntentID: reference,
		SellerID:        p.Seller,
		ItemID:          uuid.New(),
		Amount:          amount,
	})
	if err != nil {
		t.Fatalf("confirm payment: %v", err)
	}
	return order
}

// Code returns the verification code that was sent to the token holder.
func (e *Env) Code(t testing.TB, orderID uuid.UUID, kind models.TokenKind) string {
	t.Helper()
	return e.secret(t, orderID, kind, "VerificationCode")
}

// Payload returns the scan payload that was sent to the token holder.
func (e *Env) Payload(t testing.TB, orderID uuid.UUID, kind models.TokenKind) string {
	t.Helper()
	return e.secret(t, orderID, kind, "Payload")
}

func (e *Env) secret(t testing.TB, orderID uuid.UUID, kind models.TokenKind, field string) string {
	t.Helper()
	for _, msg := range e.Notifier.Messages() {
		if msg.Type != services.MessageTokenIssued || msg.OrderID == nil || *msg.OrderID != orderID {
			continue
		}
		if k, _ := msg.Data["Kind"].(models.TokenKind); k != kind {
			continue
		}
		if v, ok := msg.Secret[field].(string); ok {
			return v
		}
	}
	t.Fatalf("no %s %s sent for order %s", kind, field, orderID)
	return ""
}

// FirstSlot returns the key of the first slot offered on a token.
func (e *Env) FirstSlot(t testing.TB, orderID uuid.UUID, kind models.TokenKind, holder uuid.UUID) string {
	t.Helper()
	_, slots, err := e.Services.Delivery.Token(context.Background(), orderID, kind, holder)
	if err != nil {
		t.Fatalf("load %s token: %v", kind, err)
	}
	if len(slots) == 0 {
		t.Fatalf("no %s slots offered for order %s", kind, orderID)
	}
	return slots[0].Key
}

// Delivered walks a paid order through both handoffs.
func (e *Env) Delivered(t testing.TB, p Parties, order *models.Order) *models.Order {
	t.Helper()
	ctx := context.Background()
	d := e.Services.Delivery

	if _, err := d.SchedulePickup(ctx, p.Seller, &services.ScheduleRequest{
		OrderID: order.ID,
		Slot:    e.FirstSlot(t, order.ID, models.TokenKindPickup, p.Seller),
	}); err != nil {
		t.Fatalf("schedule pickup: %v", err)
	}
	if _, err := d.Redeem(ctx, &services.RedeemRequest{
		OrderID: order.ID,
		Kind:    models.TokenKindPickup,
		Code:    e.Code(t, order.ID, models.TokenKindPickup),
		RiderID: p.Rider,
	}); err != nil {
		t.Fatalf("redeem pickup: %v", err)
	}
	if _, err := d.ScheduleDelivery(ctx, p.Buyer, &services.ScheduleRequest{
		OrderID: order.ID,
		Slot:    e.FirstSlot(t, order.ID, models.TokenKindDelivery, p.Buyer),
		Address: "1 Harbour Road",
	}); err != nil {
		t.Fatalf("schedule delivery: %v", err)
	}
	result, err := d.Redeem(ctx, &services.RedeemRequest{
		OrderID: order.ID,
		Kind:    models.TokenKindDelivery,
		Code:    e.Code(t, order.ID, models.TokenKindDelivery),
		RiderID: p.Rider,
	})
	if err != nil {
		t.Fatalf("redeem delivery: %v", err)
	}
	return result.Order
}
