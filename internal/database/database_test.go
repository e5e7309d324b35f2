package database_test

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/handoff-backend/internal/database"
	"github.com/javajoker/handoff-backend/internal/models"
	"github.com/javajoker/handoff-backend/internal/testutil"
)

func newOrder(reference string) *models.Order {
	return &models.Order{
		BuyerID:          uuid.New(),
		SellerID:         uuid.New(),
		ItemID:           uuid.New(),
		TotalAmount:      1000,
		Currency:         "usd",
		Status:           models.OrderStatusPending,
		PaymentReference: reference,
	}
}

func TestWithTransactionCommitRunsHooks(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()

	var fired []string
	err := database.WithTransaction(ctx, db, func(ctx context.Context) error {
		assert.True(t, database.InTransaction(ctx))
		database.AfterCommit(ctx, func() { fired = append(fired, "outer") })

		// Nested calls join the same transaction.
		return database.WithTransaction(ctx, db, func(ctx context.Context) error {
			database.AfterCommit(ctx, func() { fired = append(fired, "inner") })
			return database.Conn(ctx, db).Create(newOrder("pi_commit")).Error
		})
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"outer", "inner"}, fired)

	var count int64
	require.NoError(t, db.Model(&models.Order{}).Where("payment_reference = ?", "pi_commit").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestWithTransactionRollbackDropsHooks(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	fired := false
	err := database.WithTransaction(ctx, db, func(ctx context.Context) error {
		database.AfterCommit(ctx, func() { fired = true })
		if err := database.Conn(ctx, db).Create(newOrder("pi_rollback")).Error; err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, fired)

	var count int64
	require.NoError(t, db.Model(&models.Order{}).Where("payment_reference = ?", "pi_rollback").Count(&count).Error)
	assert.Zero(t, count)
}

func TestAfterCommitOutsideTransactionRunsNow(t *testing.T) {
	ran := false
	database.AfterCommit(context.Background(), func() { ran = true })
	assert.True(t, ran)
	assert.False(t, database.InTransaction(context.Background()))
}

func TestIsUniqueViolation(t *testing.T) {
	db := testutil.NewDB(t)

	require.NoError(t, db.Create(newOrder("pi_dup")).Error)
	err := db.Create(newOrder("pi_dup")).Error
	require.Error(t, err)
	assert.True(t, database.IsUniqueViolation(err))

	assert.True(t, database.IsUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.False(t, database.IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, database.IsUniqueViolation(nil))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, database.IsTransient(fmt.Errorf("query: %w", driver.ErrBadConn)))
	assert.True(t, database.IsTransient(&pgconn.PgError{Code: "40001"}))
	assert.True(t, database.IsTransient(&pgconn.PgError{Code: "08006"}))
	assert.False(t, database.IsTransient(&pgconn.PgError{Code: "23505"}))
	assert.False(t, database.IsTransient(errors.New("syntax error")))
	assert.False(t, database.IsTransient(nil))
}

func TestRunMigrationsBuildsSchema(t *testing.T) {
	db := testutil.NewDB(t)

	// A second run over an existing schema must also succeed.
	require.NoError(t, database.RunMigrations(db))

	m := db.Migrator()
	assert.True(t, m.HasColumn(&models.DisputeEvidence{}, "attachments"))
	assert.True(t, m.HasIndex(&models.Dispute{}, "idx_disputes_active_order"))
	assert.True(t, m.HasIndex(&models.AuditLog{}, "idx_audit_logs_user_route"))

	evidence := &models.DisputeEvidence{
		DisputeID:   uuid.New(),
		SubmittedBy: uuid.New(),
		Description: "two photos",
		Attachments: models.StringArray{"s3://evidence/a.jpg", "s3://evidence/b, c.jpg"},
	}
	require.NoError(t, db.Create(evidence).Error)

	var stored models.DisputeEvidence
	require.NoError(t, db.First(&stored, "id = ?", evidence.ID).Error)
	assert.Equal(t, evidence.Attachments, stored.Attachments)
}
