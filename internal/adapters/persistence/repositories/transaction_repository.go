package repositories

import (
	"context"
	"errors"
	"time"

	"chamadao-server/internal/adapters/persistence/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Settlement ledger errors
var (
	// ErrPendingExists guards the correlation key: at most one
	// uncompleted record per (mobile number, type) at a time.
	ErrPendingExists = errors.New("pending transaction already exists for this mobile number")

	// ErrNoMatch means zero or more than one PENDING candidate
	// matched; the callback must be dropped, not guessed at.
	ErrNoMatch = errors.New("no matching pending transaction")

	// ErrAlreadyCompleted signals an idempotent re-delivery: the
	// record already carries this receipt.
	ErrAlreadyCompleted = errors.New("transaction already completed")

	ErrTerminalStatus = errors.New("transaction is in a terminal status")
)

// TransactionRepository handles settlement ledger data access
type TransactionRepository struct {
	db *gorm.DB
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// CreatePending creates the ledger record for a newly initiated
// deposit or withdrawal. It refuses to create a second
// uncompleted record for the same (mobile number, type) pair,
// because that pair is the fallback correlation key for gateway
// callbacks.
func (r *TransactionRepository) CreatePending(ctx context.Context, tx *models.Transaction) error {
	return r.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		var count int64
		if err := dbtx.Model(&models.Transaction{}).
			Where("mobile_number = ? AND type = ? AND status = ?",
				tx.MobileNumber, tx.Type, models.TxStatusPending).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrPendingExists
		}

		tx.Status = models.TxStatusPending
		return dbtx.Create(tx).Error
	})
}

// GetByID gets a transaction by ID
func (r *TransactionRepository) GetByID(ctx context.Context, id uint) (*models.Transaction, error) {
	var tx models.Transaction
	err := r.db.WithContext(ctx).First(&tx, id).Error
	return &tx, err
}

// HasPending reports whether an uncompleted record exists for the
// (mobile number, type) pair — checked before any gateway call so
// a rejected initiation never reaches the gateway.
func (r *TransactionRepository) HasPending(ctx context.Context, mobileNumber, txType string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("mobile_number = ? AND type = ? AND status = ?",
			mobileNumber, txType, models.TxStatusPending).
		Count(&count).Error
	return count > 0, err
}

// FindByCheckoutID finds a deposit by the gateway checkout request
// ID (primary correlation path for STK callbacks). Status is not
// filtered: a COMPLETED hit is how a redelivered callback is
// detected.
func (r *TransactionRepository) FindByCheckoutID(ctx context.Context, checkoutRequestID string) (*models.Transaction, error) {
	var tx models.Transaction
	err := r.db.WithContext(ctx).
		Where("checkout_request_id = ?", checkoutRequestID).
		First(&tx).Error
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// FindByConversationID finds a withdrawal by the gateway
// conversation ID (primary correlation path for B2C callbacks).
func (r *TransactionRepository) FindByConversationID(ctx context.Context, conversationID string) (*models.Transaction, error) {
	var tx models.Transaction
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		First(&tx).Error
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// FindMatchingPending selects the single PENDING record for the
// given mobile number and type. Zero candidates or more than one
// returns ErrNoMatch — an ambiguous callback is dropped rather
// than applied to the wrong record.
func (r *TransactionRepository) FindMatchingPending(ctx context.Context, mobileNumber, txType string) (*models.Transaction, error) {
	var txs []models.Transaction
	err := r.db.WithContext(ctx).
		Where("mobile_number = ? AND type = ? AND status = ?",
			mobileNumber, txType, models.TxStatusPending).
		Limit(2).
		Find(&txs).Error
	if err != nil {
		return nil, err
	}
	if len(txs) != 1 {
		return nil, ErrNoMatch
	}
	return &txs[0], nil
}

// Complete marks a transaction COMPLETED with its gateway receipt
// and resolved token amount. Re-delivery of the same receipt is an
// idempotent no-op (ErrAlreadyCompleted); completing a record in
// any other terminal state is refused.
func (r *TransactionRepository) Complete(ctx context.Context, tx *models.Transaction, receiptNumber string, amountUSDT decimal.Decimal) error {
	if tx.Status == models.TxStatusCompleted {
		if tx.MpesaReceiptNumber != nil && *tx.MpesaReceiptNumber == receiptNumber {
			return ErrAlreadyCompleted
		}
		return ErrTerminalStatus
	}
	if tx.Status != models.TxStatusPending {
		return ErrTerminalStatus
	}

	now := time.Now()
	tx.MpesaReceiptNumber = &receiptNumber
	tx.AmountUSDT = amountUSDT
	tx.Status = models.TxStatusCompleted
	tx.CompletedAt = &now

	return r.db.WithContext(ctx).Save(tx).Error
}

// Fail marks a PENDING transaction FAILED with a reason.
func (r *TransactionRepository) Fail(ctx context.Context, tx *models.Transaction, reason string) error {
	if tx.Status != models.TxStatusPending {
		return ErrTerminalStatus
	}

	now := time.Now()
	tx.Status = models.TxStatusFailed
	tx.Description = reason
	tx.CompletedAt = &now

	return r.db.WithContext(ctx).Save(tx).Error
}

// SetBlockchainTxHash stores the chain transaction hash once the
// on-chain leg has been submitted.
func (r *TransactionRepository) SetBlockchainTxHash(ctx context.Context, id uint, txHash string) error {
	return r.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ?", id).
		Update("blockchain_tx_hash", txHash).Error
}

// FindStalePending lists PENDING records created before the cutoff
// (for the settlement sweep).
func (r *TransactionRepository) FindStalePending(ctx context.Context, cutoff time.Time) ([]*models.Transaction, error) {
	var txs []*models.Transaction
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.TxStatusPending, cutoff).
		Find(&txs).Error
	return txs, err
}

// ListByWallet lists transactions for a wallet, newest first.
func (r *TransactionRepository) ListByWallet(ctx context.Context, walletAddress string, offset, limit int) ([]*models.Transaction, int64, error) {
	var txs []*models.Transaction
	var total int64

	r.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("wallet_address = ?", walletAddress).Count(&total)

	err := r.db.WithContext(ctx).
		Where("wallet_address = ?", walletAddress).
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&txs).Error

	return txs, total, err
}
