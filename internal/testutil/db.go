// Package testutil builds the in-memory database, configuration and fake
// collaborators shared by package tests.
package testutil

import (
	"fmt"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/javajoker/handoff-backend/internal/config"
	"github.com/javajoker/handoff-backend/internal/database"
	"github.com/javajoker/handoff-backend/internal/i18n"
	"github.com/javajoker/handoff-backend/internal/models"
	"github.com/javajoker/handoff-backend/internal/utils"
)

var dbCounter int64

// NewDB opens a private in-memory SQLite database with the full schema. A
// single connection keeps every query on the same in-memory store.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	name := fmt.Sprintf("handoff_test_%d_%d", time.Now().UnixNano(), atomic.AddInt64(&dbCounter, 1))
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if err := database.RunMigrations(db); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}

	t.Cleanup(func() { sqlDB.Close() })
	return db
}

// Logger discards everything.
func Logger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// Config is a development configuration with the cheapest code hash and
// limits high enough that tests never trip them.
func Config() *config.Config {
	return &config.Config{
		Environment: "test",
		JWT:         config.JWTConfig{SecretKey: "test-jwt-secret"},
		Payment: config.PaymentConfig{
			Currency:           "usd",
			PlatformFeePercent: 5,
			PayoutFeePercent:   1.5,
			PayoutFeeBase:      config.PayoutFeeBaseGross,
		},
		Delivery: config.DeliveryConfig{
			DisputeWindowHours: 24,
			SlotDays:           3,
			CodeHashCost:       bcrypt.MinCost,
			PayloadSecret:      "test-payload-secret",
			RedeemPerMin:       1000,
			PendingListMax:     100,
		},
		Email: config.EmailConfig{
			FromEmail: "noreply@handoff.test",
			FromName:  "Handoff",
		},
		I18n:     config.I18nConfig{DefaultLocale: "en"},
		Frontend: config.FrontendConfig{BaseURL: "http://localhost:3000"},
	}
}

// InitI18n loads the bundled locales.
func InitI18n(t testing.TB) {
	t.Helper()
	if err := i18n.Initialize("", "en"); err != nil {
		t.Fatalf("load locales: %v", err)
	}
}

// Bearer returns an Authorization header value for a caller. The JWT secret
// must already be set, which router.Initialize does.
func Bearer(t testing.TB, userID uuid.UUID, userType string) string {
	t.Helper()
	token, err := utils.GenerateJWT(userID, userType+"-"+userID.String()[:8], models.UserType(userType), time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return "Bearer " + token
}
