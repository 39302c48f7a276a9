package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"chamadao-server/internal/adapters/persistence/models"
	"chamadao-server/internal/adapters/persistence/repositories"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// fakeChainClient scripts Transfer/IsConfirmed outcomes
type fakeChainClient struct {
	transferErr  error
	txHash       string
	confirmed    bool
	transferred  int
	lastWallet   string
	confirmPolls int
}

func (f *fakeChainClient) Transfer(ctx context.Context, walletAddress string, amountUSDT decimal.Decimal) (string, error) {
	f.transferred++
	f.lastWallet = walletAddress
	if f.transferErr != nil {
		return "", f.transferErr
	}
	return f.txHash, nil
}

func (f *fakeChainClient) IsConfirmed(ctx context.Context, txHash string) (bool, error) {
	f.confirmPolls++
	return f.confirmed, nil
}

func setupChainService(t *testing.T, client ChainClient) (*ChainSettlementService, *repositories.ChainTransferRepository, *repositories.TransactionRepository, *gorm.DB) {
	t.Helper()
	db := setupTestDB(t)
	outboxRepo := repositories.NewChainTransferRepository(db)
	txRepo := repositories.NewTransactionRepository(db)
	svc := NewChainSettlementService(client, outboxRepo, txRepo, 3)
	return svc, outboxRepo, txRepo, db
}

func completedDeposit(t *testing.T, txRepo *repositories.TransactionRepository) *models.Transaction {
	t.Helper()
	ctx := context.Background()
	tx := &models.Transaction{
		WalletAddress: "0x1111111111111111111111111111111111111111",
		MobileNumber:  "254712345678",
		Type:          models.TxTypeDeposit,
		AmountKES:     decimal.NewFromInt(1300),
		AmountUSDT:    decimal.Zero,
	}
	require.NoError(t, txRepo.CreatePending(ctx, tx))
	require.NoError(t, txRepo.Complete(ctx, tx, "RCP001", decimal.NewFromInt(10)))
	return tx
}

func enqueueOnly(t *testing.T, outboxRepo *repositories.ChainTransferRepository, tx *models.Transaction) *models.ChainTransfer {
	t.Helper()
	transfer := &models.ChainTransfer{
		TransactionID: tx.ID,
		WalletAddress: tx.WalletAddress,
		AmountUSDT:    tx.AmountUSDT,
	}
	require.NoError(t, outboxRepo.Enqueue(context.Background(), transfer))
	return transfer
}

func TestProcessDueSubmitsTransfer(t *testing.T) {
	client := &fakeChainClient{txHash: "0xdeadbeef"}
	svc, outboxRepo, txRepo, _ := setupChainService(t, client)
	ctx := context.Background()

	tx := completedDeposit(t, txRepo)
	transfer := enqueueOnly(t, outboxRepo, tx)

	svc.ProcessDue(ctx)

	reloaded, err := outboxRepo.GetByID(ctx, transfer.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ChainTransferSubmitted, reloaded.Status)
	require.NotNil(t, reloaded.TxHash)
	assert.Equal(t, "0xdeadbeef", *reloaded.TxHash)
	assert.Equal(t, 1, reloaded.Attempts)

	// The hash is mirrored onto the settlement record.
	reloadedTx, err := txRepo.GetByID(ctx, tx.ID)
	require.NoError(t, err)
	require.NotNil(t, reloadedTx.BlockchainTxHash)
	assert.Equal(t, "0xdeadbeef", *reloadedTx.BlockchainTxHash)
}

func TestTransientFailureSchedulesRetry(t *testing.T) {
	client := &fakeChainClient{transferErr: errors.New("bridge timeout")}
	svc, outboxRepo, txRepo, _ := setupChainService(t, client)
	ctx := context.Background()

	tx := completedDeposit(t, txRepo)
	transfer := enqueueOnly(t, outboxRepo, tx)

	svc.ProcessDue(ctx)

	reloaded, err := outboxRepo.GetByID(ctx, transfer.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ChainTransferPending, reloaded.Status)
	assert.Equal(t, 1, reloaded.Attempts)
	assert.Equal(t, "bridge timeout", reloaded.LastError)
	assert.True(t, reloaded.NextAttemptAt.After(time.Now().Add(30*time.Second)))

	// The fiat settlement is untouched.
	reloadedTx, err := txRepo.GetByID(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TxStatusCompleted, reloadedTx.Status)
}

func TestExhaustedAttemptsMoveToDead(t *testing.T) {
	client := &fakeChainClient{transferErr: errors.New("bridge down")}
	svc, outboxRepo, txRepo, db := setupChainService(t, client)
	ctx := context.Background()

	tx := completedDeposit(t, txRepo)
	transfer := enqueueOnly(t, outboxRepo, tx)

	for i := 0; i < 3; i++ {
		// Pull the next attempt forward so the row is due again.
		require.NoError(t, db.Model(&models.ChainTransfer{}).
			Where("id = ?", transfer.ID).
			Update("next_attempt_at", time.Now().Add(-time.Second)).Error)
		svc.ProcessDue(ctx)
	}

	reloaded, err := outboxRepo.GetByID(ctx, transfer.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ChainTransferDead, reloaded.Status)
	assert.Equal(t, 3, reloaded.Attempts)
	assert.Equal(t, 3, client.transferred)
}

func TestInvalidAddressDeadImmediately(t *testing.T) {
	client := &fakeChainClient{transferErr: fmt.Errorf("%w: bogus", ErrInvalidWalletAddress)}
	svc, outboxRepo, txRepo, _ := setupChainService(t, client)
	ctx := context.Background()

	tx := completedDeposit(t, txRepo)
	transfer := enqueueOnly(t, outboxRepo, tx)

	svc.ProcessDue(ctx)

	reloaded, err := outboxRepo.GetByID(ctx, transfer.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ChainTransferDead, reloaded.Status)
	assert.Equal(t, 1, client.transferred)
}

func TestPollConfirmations(t *testing.T) {
	client := &fakeChainClient{txHash: "0xdeadbeef"}
	svc, outboxRepo, txRepo, _ := setupChainService(t, client)
	ctx := context.Background()

	tx := completedDeposit(t, txRepo)
	transfer := enqueueOnly(t, outboxRepo, tx)
	svc.ProcessDue(ctx)

	// Not confirmed yet: status stays SUBMITTED.
	svc.PollConfirmations(ctx)
	reloaded, err := outboxRepo.GetByID(ctx, transfer.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ChainTransferSubmitted, reloaded.Status)

	client.confirmed = true
	svc.PollConfirmations(ctx)
	reloaded, err = outboxRepo.GetByID(ctx, transfer.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ChainTransferConfirmed, reloaded.Status)
}

func TestBackoffDelayCaps(t *testing.T) {
	assert.Equal(t, time.Minute, backoffDelay(0))
	assert.Equal(t, 2*time.Minute, backoffDelay(1))
	assert.Equal(t, 4*time.Minute, backoffDelay(2))
	assert.Equal(t, 30*time.Minute, backoffDelay(5))
	assert.Equal(t, 30*time.Minute, backoffDelay(10))
}
