package repositories

import (
	"context"
	"time"

	"chamadao-server/internal/adapters/persistence/models"

	"gorm.io/gorm"
)

// ChainTransferRepository handles the chain transfer outbox
type ChainTransferRepository struct {
	db *gorm.DB
}

// NewChainTransferRepository creates a new chain transfer repository
func NewChainTransferRepository(db *gorm.DB) *ChainTransferRepository {
	return &ChainTransferRepository{db: db}
}

// Enqueue inserts a PENDING outbox row for a completed deposit.
// One row per settlement record; a duplicate enqueue surfaces as
// a unique constraint error from the driver.
func (r *ChainTransferRepository) Enqueue(ctx context.Context, transfer *models.ChainTransfer) error {
	transfer.Status = models.ChainTransferPending
	if transfer.NextAttemptAt.IsZero() {
		transfer.NextAttemptAt = time.Now()
	}
	return r.db.WithContext(ctx).Create(transfer).Error
}

// GetByID gets an outbox row by ID
func (r *ChainTransferRepository) GetByID(ctx context.Context, id uint) (*models.ChainTransfer, error) {
	var transfer models.ChainTransfer
	err := r.db.WithContext(ctx).First(&transfer, id).Error
	return &transfer, err
}

// FindDue lists PENDING rows whose next attempt time has passed.
func (r *ChainTransferRepository) FindDue(ctx context.Context, now time.Time, limit int) ([]*models.ChainTransfer, error) {
	var transfers []*models.ChainTransfer
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_attempt_at <= ?", models.ChainTransferPending, now).
		Order("next_attempt_at").
		Limit(limit).
		Find(&transfers).Error
	return transfers, err
}

// FindSubmitted lists rows awaiting on-chain confirmation.
func (r *ChainTransferRepository) FindSubmitted(ctx context.Context, limit int) ([]*models.ChainTransfer, error) {
	var transfers []*models.ChainTransfer
	err := r.db.WithContext(ctx).
		Where("status = ?", models.ChainTransferSubmitted).
		Order("updated_at").
		Limit(limit).
		Find(&transfers).Error
	return transfers, err
}

// MarkSubmitted records a successful submission and its tx hash.
func (r *ChainTransferRepository) MarkSubmitted(ctx context.Context, transfer *models.ChainTransfer, txHash string) error {
	transfer.TxHash = &txHash
	transfer.Status = models.ChainTransferSubmitted
	transfer.Attempts++
	transfer.LastError = ""
	return r.db.WithContext(ctx).Save(transfer).Error
}

// MarkConfirmed records on-chain finality.
func (r *ChainTransferRepository) MarkConfirmed(ctx context.Context, transfer *models.ChainTransfer) error {
	transfer.Status = models.ChainTransferConfirmed
	return r.db.WithContext(ctx).Save(transfer).Error
}

// RecordFailure bumps the attempt counter and schedules the next
// retry, or moves the row to DEAD once attempts are exhausted.
func (r *ChainTransferRepository) RecordFailure(ctx context.Context, transfer *models.ChainTransfer, cause string, nextAttemptAt time.Time, maxAttempts int) error {
	transfer.Attempts++
	transfer.LastError = cause
	if transfer.Attempts >= maxAttempts {
		transfer.Status = models.ChainTransferDead
	} else {
		transfer.NextAttemptAt = nextAttemptAt
	}
	return r.db.WithContext(ctx).Save(transfer).Error
}
