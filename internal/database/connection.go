// internal/database/connection.go
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/javajoker/handoff-backend/internal/config"
	"github.com/javajoker/handoff-backend/internal/models"
)

func Initialize(cfg config.DatabaseConfig) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger:         logger.Default.LogMode(logLevel(cfg.LogLevel)),
		TranslateError: true,
	}

	// Connect to database
	db, err := gorm.Open(postgres.Open(cfg.DSN()), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Get underlying sql.DB
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	// Configure connection pool
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.MaxLifetime) * time.Second)

	// Test connection
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logrus.Info("Database connection established successfully")
	return db, nil
}

func logLevel(level string) logger.LogLevel {
	switch level {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

func Close(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		logrus.WithError(err).Error("Error getting underlying sql.DB")
		return
	}

	if err := sqlDB.Close(); err != nil {
		logrus.WithError(err).Error("Error closing database connection")
	} else {
		logrus.Info("Database connection closed successfully")
	}
}

func RunMigrations(db *gorm.DB) error {
	logrus.Info("Running database migrations...")

	if db.Dialector.Name() == "postgres" {
		if err := db.Exec("CREATE EXTENSION IF NOT EXISTS \"uuid-ossp\"").Error; err != nil {
			return fmt.Errorf("failed to create UUID extension: %w", err)
		}
	}

	// Run auto-migrations
	err := db.AutoMigrate(
		&models.User{},
		&models.Order{},
		&models.OrderStatusChange{},
		&models.LedgerEntry{},
		&models.DeliveryToken{},
		&models.DeliverySchedule{},
		&models.Dispute{},
		&models.DisputeEvidence{},
		&models.DisputeMessage{},
		&models.AuditLog{},
		&models.Notification{},
	)

	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Create indexes
	if err := createIndexes(db); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	logrus.Info("Database migrations completed successfully")
	return nil
}

func createIndexes(db *gorm.DB) error {
	// At most one dispute per order may be outside the closed state.
	required := []string{
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_disputes_active_order ON disputes(order_id) WHERE status <> 'closed'",
	}

	for _, index := range required {
		if err := db.Exec(index).Error; err != nil {
			return fmt.Errorf("create index %q: %w", index, err)
		}
	}

	indexes := []string{
		// Order indexes
		"CREATE INDEX IF NOT EXISTS idx_orders_status_rider ON orders(status, rider_id)",
		"CREATE INDEX IF NOT EXISTS idx_orders_created_at ON orders(created_at DESC)",

		// Ledger indexes
		"CREATE INDEX IF NOT EXISTS idx_ledger_entries_order_party ON ledger_entries(order_id, party)",

		// History indexes
		"CREATE INDEX IF NOT EXISTS idx_order_status_history_order_created ON order_status_history(order_id, created_at)",

		// Admin indexes
		"CREATE INDEX IF NOT EXISTS idx_audit_logs_user_route ON audit_logs(user_id, route)",
		"CREATE INDEX IF NOT EXISTS idx_audit_logs_created ON audit_logs(created_at DESC)",
		"CREATE INDEX IF NOT EXISTS idx_notifications_user_status ON notifications(user_id, status)",
	}

	for _, index := range indexes {
		if err := db.Exec(index).Error; err != nil {
			logrus.WithError(err).WithField("index", index).Warn("Failed to create index")
			// Continue with other indexes instead of failing completely
		}
	}

	return nil
}

type txKey struct{}

type txState struct {
	tx          *gorm.DB
	afterCommit []func()
}

// WithTransaction runs fn inside a database transaction carried on the
// returned context. Nested calls join the outer transaction.
func WithTransaction(ctx context.Context, db *gorm.DB, fn func(ctx context.Context) error) error {
	if stateFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}

	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	state := &txState{tx: tx}
	if err := fn(context.WithValue(ctx, txKey{}, state)); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit().Error; err != nil {
		return err
	}

	for _, f := range state.afterCommit {
		f()
	}
	return nil
}

// AfterCommit defers f until the transaction carried by ctx commits. It is
// dropped on rollback. Outside a transaction f runs immediately.
func AfterCommit(ctx context.Context, f func()) {
	if state := stateFromContext(ctx); state != nil {
		state.afterCommit = append(state.afterCommit, f)
		return
	}
	f()
}

// Conn returns the transaction carried by ctx, or db bound to ctx.
func Conn(ctx context.Context, db *gorm.DB) *gorm.DB {
	if state := stateFromContext(ctx); state != nil {
		return state.tx
	}
	return db.WithContext(ctx)
}

// InTransaction reports whether ctx carries an open transaction.
func InTransaction(ctx context.Context) bool {
	return stateFromContext(ctx) != nil
}

func stateFromContext(ctx context.Context) *txState {
	state, _ := ctx.Value(txKey{}).(*txState)
	return state
}
