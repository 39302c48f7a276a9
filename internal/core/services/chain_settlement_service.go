package services

import (
	"context"
	"errors"
	"log"
	"time"

	"chamadao-server/internal/adapters/persistence/models"
	"chamadao-server/internal/adapters/persistence/repositories"
)

// ChainSettlementService drives the on-chain leg of completed
// deposits through a durable outbox: enqueue on completion,
// dispatch with retries and exponential backoff, poll submitted
// transfers for confirmation. The fiat settlement a transfer
// belongs to is already COMPLETED and is never touched on chain
// failure.
type ChainSettlementService struct {
	chainClient ChainClient
	outboxRepo  *repositories.ChainTransferRepository
	txRepo      *repositories.TransactionRepository
	maxAttempts int
}

// NewChainSettlementService creates a new chain settlement service
func NewChainSettlementService(
	chainClient ChainClient,
	outboxRepo *repositories.ChainTransferRepository,
	txRepo *repositories.TransactionRepository,
	maxAttempts int,
) *ChainSettlementService {
	if maxAttempts < 1 {
		maxAttempts = 5
	}
	return &ChainSettlementService{
		chainClient: chainClient,
		outboxRepo:  outboxRepo,
		txRepo:      txRepo,
		maxAttempts: maxAttempts,
	}
}

// EnqueueTransfer records the outbox row for a completed deposit
// and kicks off the first attempt in the background. The caller
// (callback processing) does not wait on the chain.
func (s *ChainSettlementService) EnqueueTransfer(ctx context.Context, tx *models.Transaction) error {
	transfer := &models.ChainTransfer{
		TransactionID: tx.ID,
		WalletAddress: tx.WalletAddress,
		AmountUSDT:    tx.AmountUSDT,
		NextAttemptAt: time.Now(),
	}

	if err := s.outboxRepo.Enqueue(ctx, transfer); err != nil {
		return err
	}

	go s.dispatch(context.Background(), transfer)
	return nil
}

// dispatch makes one transfer attempt for an outbox row
func (s *ChainSettlementService) dispatch(ctx context.Context, transfer *models.ChainTransfer) {
	txHash, err := s.chainClient.Transfer(ctx, transfer.WalletAddress, transfer.AmountUSDT)
	if err != nil {
		// A malformed destination can never succeed; don't burn
		// retries on it.
		if errors.Is(err, ErrInvalidWalletAddress) {
			log.Printf("Chain transfer %d dead: %v", transfer.ID, err)
			s.outboxRepo.RecordFailure(ctx, transfer, err.Error(), time.Now(), transfer.Attempts+1)
			return
		}

		next := time.Now().Add(backoffDelay(transfer.Attempts))
		log.Printf("Chain transfer %d attempt %d failed: %v", transfer.ID, transfer.Attempts+1, err)
		if err := s.outboxRepo.RecordFailure(ctx, transfer, err.Error(), next, s.maxAttempts); err != nil {
			log.Printf("Error recording chain transfer failure: %v", err)
		}
		if transfer.Status == models.ChainTransferDead {
			log.Printf("Chain transfer %d exhausted %d attempts, marked DEAD", transfer.ID, transfer.Attempts)
		}
		return
	}

	if err := s.outboxRepo.MarkSubmitted(ctx, transfer, txHash); err != nil {
		log.Printf("Error marking chain transfer %d submitted: %v", transfer.ID, err)
		return
	}

	if err := s.txRepo.SetBlockchainTxHash(ctx, transfer.TransactionID, txHash); err != nil {
		log.Printf("Error storing tx hash on transaction %d: %v", transfer.TransactionID, err)
	}

	log.Printf("Chain transfer %d submitted: %s", transfer.ID, txHash)
}

// ProcessDue retries outbox rows whose backoff has elapsed.
func (s *ChainSettlementService) ProcessDue(ctx context.Context) {
	transfers, err := s.outboxRepo.FindDue(ctx, time.Now(), 50)
	if err != nil {
		log.Printf("Error querying due chain transfers: %v", err)
		return
	}

	for _, transfer := range transfers {
		s.dispatch(ctx, transfer)
	}
}

// PollConfirmations checks submitted transfers for finality.
func (s *ChainSettlementService) PollConfirmations(ctx context.Context) {
	transfers, err := s.outboxRepo.FindSubmitted(ctx, 50)
	if err != nil {
		log.Printf("Error querying submitted chain transfers: %v", err)
		return
	}

	for _, transfer := range transfers {
		if transfer.TxHash == nil {
			continue
		}

		confirmed, err := s.chainClient.IsConfirmed(ctx, *transfer.TxHash)
		if err != nil {
			log.Printf("Error checking confirmation for %s: %v", *transfer.TxHash, err)
			continue
		}
		if !confirmed {
			continue
		}

		if err := s.outboxRepo.MarkConfirmed(ctx, transfer); err != nil {
			log.Printf("Error marking chain transfer %d confirmed: %v", transfer.ID, err)
			continue
		}
		log.Printf("Chain transfer confirmed: %s", *transfer.TxHash)
	}
}

// backoffDelay returns the exponential retry delay for the given
// completed attempt count: 1m, 2m, 4m, ... capped at 30m.
func backoffDelay(attempts int) time.Duration {
	delay := time.Minute << uint(attempts)
	if delay > 30*time.Minute {
		delay = 30 * time.Minute
	}
	return delay
}
