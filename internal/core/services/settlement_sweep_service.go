package services

import (
	"context"
	"log"
	"time"

	"chamadao-server/internal/adapters/persistence/repositories"
	"chamadao-server/internal/config"

	"github.com/robfig/cron/v3"
)

// SettlementSweepService runs the periodic housekeeping passes:
// it fails PENDING settlement records whose callback never
// arrived, retries due chain transfers and polls submitted
// transfers for confirmation.
type SettlementSweepService struct {
	txRepo         *repositories.TransactionRepository
	chainService   *ChainSettlementService
	pendingTimeout time.Duration
	schedule       string
	cron           *cron.Cron
}

// NewSettlementSweepService creates a new settlement sweep service
func NewSettlementSweepService(
	txRepo *repositories.TransactionRepository,
	chainService *ChainSettlementService,
	cfg config.SettlementConfig,
) *SettlementSweepService {
	return &SettlementSweepService{
		txRepo:         txRepo,
		chainService:   chainService,
		pendingTimeout: time.Duration(cfg.PendingTimeoutMinutes) * time.Minute,
		schedule:       cfg.SweepSchedule,
	}
}

// Start schedules the sweep
func (s *SettlementSweepService) Start() error {
	s.cron = cron.New()

	if _, err := s.cron.AddFunc(s.schedule, s.Sweep); err != nil {
		return err
	}

	s.cron.Start()
	log.Printf("Settlement sweep scheduled (%s), pending timeout %s", s.schedule, s.pendingTimeout)
	return nil
}

// Stop stops the sweep scheduler
func (s *SettlementSweepService) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

// Sweep runs one housekeeping pass
func (s *SettlementSweepService) Sweep() {
	ctx := context.Background()

	s.failStalePending(ctx)
	s.chainService.ProcessDue(ctx)
	s.chainService.PollConfirmations(ctx)
}

// failStalePending fails PENDING records older than the timeout.
// A record whose callback never arrives would otherwise stay
// PENDING forever and block further initiations for its phone.
func (s *SettlementSweepService) failStalePending(ctx context.Context) {
	cutoff := time.Now().Add(-s.pendingTimeout)

	stale, err := s.txRepo.FindStalePending(ctx, cutoff)
	if err != nil {
		log.Printf("Error querying stale pending transactions: %v", err)
		return
	}

	for _, tx := range stale {
		if err := s.txRepo.Fail(ctx, tx, "timed out waiting for gateway callback"); err != nil {
			log.Printf("Error failing stale transaction %d: %v", tx.ID, err)
			continue
		}
		log.Printf("Transaction %d timed out after %s, marked FAILED", tx.ID, s.pendingTimeout)
	}
}
