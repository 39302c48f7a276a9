package services

import (
	"context"
	"testing"
	"time"

	"chamadao-server/internal/adapters/persistence/models"
	"chamadao-server/internal/adapters/persistence/repositories"
	"chamadao-server/internal/config"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepFailsTimedOutPending(t *testing.T) {
	db := setupTestDB(t)
	txRepo := repositories.NewTransactionRepository(db)
	outboxRepo := repositories.NewChainTransferRepository(db)
	chainService := NewChainSettlementService(&fakeChainClient{txHash: "0xdeadbeef"}, outboxRepo, txRepo, 3)

	sweep := NewSettlementSweepService(txRepo, chainService, config.SettlementConfig{
		PendingTimeoutMinutes: 120,
		SweepSchedule:         "@every 1m",
	})

	ctx := context.Background()

	stale := &models.Transaction{
		WalletAddress: "0x1111111111111111111111111111111111111111",
		MobileNumber:  "254712345678",
		Type:          models.TxTypeDeposit,
		AmountKES:     decimal.NewFromInt(1300),
		AmountUSDT:    decimal.Zero,
	}
	require.NoError(t, txRepo.CreatePending(ctx, stale))
	require.NoError(t, db.Model(stale).
		Update("created_at", time.Now().Add(-3*time.Hour)).Error)

	fresh := &models.Transaction{
		WalletAddress: "0x1111111111111111111111111111111111111111",
		MobileNumber:  "254799999999",
		Type:          models.TxTypeDeposit,
		AmountKES:     decimal.NewFromInt(500),
		AmountUSDT:    decimal.Zero,
	}
	require.NoError(t, txRepo.CreatePending(ctx, fresh))

	sweep.Sweep()

	reloaded, err := txRepo.GetByID(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TxStatusFailed, reloaded.Status)

	reloaded, err = txRepo.GetByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TxStatusPending, reloaded.Status)
}

func TestSweepSchedulerStartsAndStops(t *testing.T) {
	db := setupTestDB(t)
	txRepo := repositories.NewTransactionRepository(db)
	outboxRepo := repositories.NewChainTransferRepository(db)
	chainService := NewChainSettlementService(&fakeChainClient{}, outboxRepo, txRepo, 3)

	sweep := NewSettlementSweepService(txRepo, chainService, config.SettlementConfig{
		PendingTimeoutMinutes: 120,
		SweepSchedule:         "@every 1h",
	})

	require.NoError(t, sweep.Start())
	sweep.Stop()
}

func TestSweepRejectsBadSchedule(t *testing.T) {
	sweep := NewSettlementSweepService(nil, nil, config.SettlementConfig{
		PendingTimeoutMinutes: 120,
		SweepSchedule:         "not a schedule",
	})

	assert.Error(t, sweep.Start())
}
