package repositories

import (
	"context"
	"testing"
	"time"

	"chamadao-server/internal/adapters/persistence/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// A second connection would get its own empty in-memory database.
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, models.AutoMigrate(db))
	return db
}

func pendingDeposit(mobile string) *models.Transaction {
	return &models.Transaction{
		WalletAddress: "0x1111111111111111111111111111111111111111",
		MobileNumber:  mobile,
		Type:          models.TxTypeDeposit,
		AmountKES:     decimal.NewFromInt(1300),
		AmountUSDT:    decimal.Zero,
	}
}

func TestCreatePendingRejectsDuplicate(t *testing.T) {
	repo := NewTransactionRepository(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.CreatePending(ctx, pendingDeposit("254712345678")))

	err := repo.CreatePending(ctx, pendingDeposit("254712345678"))
	assert.ErrorIs(t, err, ErrPendingExists)

	// A different type for the same phone is fine.
	withdrawal := pendingDeposit("254712345678")
	withdrawal.Type = models.TxTypeWithdrawal
	assert.NoError(t, repo.CreatePending(ctx, withdrawal))
}

func TestCreatePendingAllowedAfterTerminal(t *testing.T) {
	repo := NewTransactionRepository(setupTestDB(t))
	ctx := context.Background()

	first := pendingDeposit("254712345678")
	require.NoError(t, repo.CreatePending(ctx, first))
	require.NoError(t, repo.Fail(ctx, first, "user cancelled"))

	assert.NoError(t, repo.CreatePending(ctx, pendingDeposit("254712345678")))
}

func TestFindMatchingPending(t *testing.T) {
	repo := NewTransactionRepository(setupTestDB(t))
	ctx := context.Background()

	tx := pendingDeposit("254712345678")
	require.NoError(t, repo.CreatePending(ctx, tx))

	found, err := repo.FindMatchingPending(ctx, "254712345678", models.TxTypeDeposit)
	require.NoError(t, err)
	assert.Equal(t, tx.ID, found.ID)

	_, err = repo.FindMatchingPending(ctx, "254799999999", models.TxTypeDeposit)
	assert.ErrorIs(t, err, ErrNoMatch)

	_, err = repo.FindMatchingPending(ctx, "254712345678", models.TxTypeWithdrawal)
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestCompleteIsIdempotentPerReceipt(t *testing.T) {
	repo := NewTransactionRepository(setupTestDB(t))
	ctx := context.Background()

	tx := pendingDeposit("254712345678")
	require.NoError(t, repo.CreatePending(ctx, tx))

	amount := decimal.RequireFromString("10.000000")
	require.NoError(t, repo.Complete(ctx, tx, "RCP001", amount))
	assert.Equal(t, models.TxStatusCompleted, tx.Status)
	assert.NotNil(t, tx.CompletedAt)
	assert.True(t, amount.Equal(tx.AmountUSDT))

	// Redelivery of the same receipt is a no-op.
	err := repo.Complete(ctx, tx, "RCP001", amount)
	assert.ErrorIs(t, err, ErrAlreadyCompleted)

	// A different receipt against a completed record is refused.
	err = repo.Complete(ctx, tx, "RCP002", amount)
	assert.ErrorIs(t, err, ErrTerminalStatus)
}

func TestFailRefusesTerminalRecord(t *testing.T) {
	repo := NewTransactionRepository(setupTestDB(t))
	ctx := context.Background()

	tx := pendingDeposit("254712345678")
	require.NoError(t, repo.CreatePending(ctx, tx))
	require.NoError(t, repo.Complete(ctx, tx, "RCP001", decimal.NewFromInt(10)))

	err := repo.Fail(ctx, tx, "late failure")
	assert.ErrorIs(t, err, ErrTerminalStatus)
}

func TestFindStalePending(t *testing.T) {
	db := setupTestDB(t)
	repo := NewTransactionRepository(db)
	ctx := context.Background()

	old := pendingDeposit("254712345678")
	require.NoError(t, repo.CreatePending(ctx, old))
	require.NoError(t, db.Model(old).
		Update("created_at", time.Now().Add(-3*time.Hour)).Error)

	fresh := pendingDeposit("254799999999")
	require.NoError(t, repo.CreatePending(ctx, fresh))

	stale, err := repo.FindStalePending(ctx, time.Now().Add(-2*time.Hour))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, old.ID, stale[0].ID)
}

func TestChainTransferOutboxLifecycle(t *testing.T) {
	repo := NewChainTransferRepository(setupTestDB(t))
	ctx := context.Background()

	transfer := &models.ChainTransfer{
		TransactionID: 1,
		WalletAddress: "0x1111111111111111111111111111111111111111",
		AmountUSDT:    decimal.NewFromInt(10),
	}
	require.NoError(t, repo.Enqueue(ctx, transfer))
	assert.Equal(t, models.ChainTransferPending, transfer.Status)

	due, err := repo.FindDue(ctx, time.Now().Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	require.NoError(t, repo.MarkSubmitted(ctx, transfer, "0xabc"))
	assert.Equal(t, models.ChainTransferSubmitted, transfer.Status)
	assert.Equal(t, 1, transfer.Attempts)

	due, err = repo.FindDue(ctx, time.Now().Add(time.Second), 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	submitted, err := repo.FindSubmitted(ctx, 10)
	require.NoError(t, err)
	require.Len(t, submitted, 1)

	require.NoError(t, repo.MarkConfirmed(ctx, transfer))
	assert.Equal(t, models.ChainTransferConfirmed, transfer.Status)
}

func TestChainTransferDeadAfterMaxAttempts(t *testing.T) {
	repo := NewChainTransferRepository(setupTestDB(t))
	ctx := context.Background()

	transfer := &models.ChainTransfer{
		TransactionID: 1,
		WalletAddress: "0x1111111111111111111111111111111111111111",
		AmountUSDT:    decimal.NewFromInt(10),
	}
	require.NoError(t, repo.Enqueue(ctx, transfer))

	next := time.Now().Add(time.Minute)
	require.NoError(t, repo.RecordFailure(ctx, transfer, "bridge down", next, 2))
	assert.Equal(t, models.ChainTransferPending, transfer.Status)
	assert.Equal(t, 1, transfer.Attempts)
	assert.Equal(t, "bridge down", transfer.LastError)

	require.NoError(t, repo.RecordFailure(ctx, transfer, "bridge down", next, 2))
	assert.Equal(t, models.ChainTransferDead, transfer.Status)
	assert.Equal(t, 2, transfer.Attempts)
}
