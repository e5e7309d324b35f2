// internal/router/router.go
package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/javajoker/handoff-backend/internal/config"
	"github.com/javajoker/handoff-backend/internal/events"
	"github.com/javajoker/handoff-backend/internal/handlers"
	"github.com/javajoker/handoff-backend/internal/metrics"
	"github.com/javajoker/handoff-backend/internal/middleware"
	"github.com/javajoker/handoff-backend/internal/services"
	"github.com/javajoker/handoff-backend/internal/utils"
)

// Collaborators are the external systems the services talk to. Nil fields
// fall back to local development stand-ins.
type Collaborators struct {
	Logger    *logrus.Logger
	Publisher events.Publisher
	Bus       *events.Bus
	Cache     services.ReadCache
	Gateway   services.PaymentGateway
	Notifier  services.NotificationSender
	Storage   services.EvidenceStore
	Clock     func() time.Time
}

// Services is the wired service graph, exposed for the CLI and tests.
type Services struct {
	Bus      *events.Bus
	Ledger   *services.LedgerService
	Orders   *services.OrderService
	Delivery *services.DeliveryService
	Payments *services.PaymentService
	Disputes *services.DisputeService
	Admin    *services.AdminService
	Users    *services.UserService
	Settler  *services.Settler
}

// NewServices builds the service graph from configuration.
func NewServices(db *gorm.DB, cfg *config.Config, deps Collaborators) (*Services, error) {
	logger := deps.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	publisher := deps.Publisher
	switch {
	case publisher != nil:
	case deps.Bus != nil:
		publisher = deps.Bus
	default:
		publisher = events.Nop{}
	}

	notifier := deps.Notifier
	if notifier == nil {
		notifier = services.NewNotificationService(db, cfg, logger)
	}

	storage := deps.Storage
	if storage == nil {
		s3, err := services.NewStorageService(cfg.AWS, logger)
		if err != nil {
			return nil, err
		}
		storage = s3
	}

	var deliveryOpts []services.DeliveryOption
	if deps.Cache != nil {
		deliveryOpts = append(deliveryOpts, services.WithReadCache(deps.Cache))
	}
	if deps.Clock != nil {
		deliveryOpts = append(deliveryOpts, services.WithClock(deps.Clock))
	}
	if cfg.Delivery.DisputeWindowHours == 0 {
		deliveryOpts = append(deliveryOpts, services.WithSettleOnDelivery())
	}

	ledger := services.NewLedgerService(db, services.NewFeePolicy(cfg.Payment), publisher, logger)
	orders := services.NewOrderService(db, ledger, deps.Gateway, publisher, logger)
	codec := services.NewTokenCodec(cfg.Delivery.PayloadSecret, cfg.Delivery.CodeHashCost)
	delivery := services.NewDeliveryService(db, orders, codec, notifier, publisher, cfg.Delivery, logger, deliveryOpts...)

	return &Services{
		Bus:      deps.Bus,
		Ledger:   ledger,
		Orders:   orders,
		Delivery: delivery,
		Payments: services.NewPaymentService(orders, delivery, ledger, deps.Gateway, cfg.Payment.Currency, logger),
		Disputes: services.NewDisputeService(db, orders, ledger, deps.Gateway, notifier, storage, publisher, logger),
		Admin:    services.NewAdminService(db, ledger, logger),
		Users:    services.NewUserService(db),
		Settler: services.NewSettler(db, orders, time.Duration(cfg.Delivery.DisputeWindowHours)*time.Hour,
			deps.Clock, logger),
	}, nil
}

func Initialize(db *gorm.DB, cfg *config.Config, svc *Services, logger *logrus.Logger) *gin.Engine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	// Initialize handlers
	deliveryHandler := handlers.NewDeliveryHandler(svc.Delivery)
	verificationHandler := handlers.NewVerificationHandler(svc.Delivery)
	scheduleHandler := handlers.NewScheduleHandler(svc.Delivery)
	orderHandler := handlers.NewOrderHandler(svc.Orders, svc.Ledger)
	paymentHandler := handlers.NewPaymentHandler(svc.Payments)
	disputeHandler := handlers.NewDisputeHandler(svc.Disputes)
	adminHandler := handlers.NewAdminHandler(svc.Admin)
	userHandler := handlers.NewUserHandler(svc.Users)

	// Set JWT secret
	utils.SetJWTSecret(cfg.JWT.SecretKey)
	metrics.Register()

	redeemLimiter := middleware.PerMinute(cfg.Delivery.RedeemPerMin)
	uploadLimiter := middleware.PerMinute(10)

	// Initialize Gin router
	r := gin.New()
	r.SetHTMLTemplate(handlers.Templates())

	// Global middleware
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))
	r.Use(metrics.Middleware())
	r.Use(middleware.CORS(cfg.Server.CORSOrigins))
	r.Use(middleware.I18nMiddleware())
	r.Use(middleware.AuditLogMiddleware(db, logger))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		status, code := "healthy", http.StatusOK
		if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
			status, code = "degraded", http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":  status,
			"version": "1.0.0",
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 routes
	v1 := r.Group("/v1")
	v1.Use(middleware.AuthRequired())
	{
		// Delivery routes
		deliveries := v1.Group("/deliveries")
		{
			deliveries.POST("/schedule-pickup", scheduleHandler.SchedulePickup)
			deliveries.POST("/schedule-delivery", scheduleHandler.ScheduleDelivery)
			deliveries.GET("/:id/history", deliveryHandler.GetDeliveryHistory)
			deliveries.GET("/:id/tokens/:kind", verificationHandler.GetToken)

			rider := deliveries.Group("")
			rider.Use(middleware.RiderRequired())
			{
				rider.GET("/pending", deliveryHandler.GetPendingDeliveries)
				rider.GET("/assigned", deliveryHandler.GetAssignedDeliveries)
				rider.POST("/:id/assign", deliveryHandler.AssignDelivery)
				rider.PUT("/:id/status", redeemLimiter.Middleware(), deliveryHandler.UpdateDeliveryStatus)
				rider.POST("/verify", redeemLimiter.Middleware(), verificationHandler.VerifyPayload)
			}
		}

		// Payment routes
		payments := v1.Group("/payments")
		{
			payments.POST("/confirm", paymentHandler.ConfirmPayment)
			payments.GET("/balance", paymentHandler.GetBalance)
		}

		// Order routes
		orders := v1.Group("/orders")
		{
			orders.GET("/:id", orderHandler.GetOrder)
			orders.POST("/:id/complete", orderHandler.CompleteOrder)
			orders.POST("/:id/cancel", orderHandler.CancelOrder)
			orders.GET("/:id/ledger", orderHandler.GetLedger)
			orders.POST("/:id/disputes", disputeHandler.OpenDispute)
			if svc.Bus != nil {
				orders.GET("/:id/events", handlers.NewEventsHandler(svc.Bus, svc.Orders).StreamOrderEvents)
			}
		}

		// Dispute routes
		disputes := v1.Group("/disputes")
		{
			disputes.GET("/:id", disputeHandler.GetDispute)
			disputes.POST("/:id/evidence", uploadLimiter.Middleware(), disputeHandler.AddEvidence)
			disputes.POST("/:id/messages", disputeHandler.AddMessage)

			resolver := disputes.Group("")
			resolver.Use(middleware.AdminRequired())
			{
				resolver.PUT("/:id/investigate", disputeHandler.StartInvestigation)
				resolver.PUT("/:id/resolve", disputeHandler.ResolveDispute)
				resolver.PUT("/:id/close", disputeHandler.CloseDispute)
			}
		}

		// User routes
		v1.GET("/users/me", userHandler.GetContact)
		v1.GET("/notifications", userHandler.GetNotifications)
		v1.PUT("/notifications/:id/read", userHandler.MarkNotificationRead)

		// Admin routes
		admin := v1.Group("/admin")
		admin.Use(middleware.AdminRequired())
		{
			admin.GET("/dashboard/stats", adminHandler.GetDashboardStats)
			admin.GET("/orders", adminHandler.GetOrders)
			admin.GET("/disputes", adminHandler.GetDisputes)
			admin.GET("/audit-logs", adminHandler.GetAuditLogs)
			admin.GET("/ledger/reconcile", adminHandler.Reconcile)
			admin.PUT("/contacts/:id", userHandler.SyncContact)
		}
	}

	return r
}
