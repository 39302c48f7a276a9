package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"time"

	"chamadao-server/internal/adapters/persistence/models"
	"chamadao-server/internal/adapters/persistence/repositories"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Loan service errors
var (
	ErrLoanNotFound           = errors.New("loan not found")
	ErrBorrowerNotFound       = errors.New("borrower not found")
	ErrChamaNotFound          = errors.New("chama not found")
	ErrGuarantorNotFound      = errors.New("guarantor not found")
	ErrInvalidLoanTerm        = errors.New("invalid loan term")
	ErrInvalidGuarantorStatus = errors.New("invalid guarantor status")
	ErrInvalidLoanTransition  = errors.New("invalid loan status transition")
)

// loanTransitions is the allowed status graph. A transition not
// listed here is refused, including any transition out of a
// terminal status.
var loanTransitions = map[string][]string{
	models.LoanStatusPending:  {models.LoanStatusApproved},
	models.LoanStatusApproved: {models.LoanStatusActive},
	models.LoanStatusActive:   {models.LoanStatusOverdue, models.LoanStatusPaid},
	models.LoanStatusOverdue:  {models.LoanStatusPaid, models.LoanStatusDefaulted},
}

// termPattern matches ISO-8601 period strings like P30D, P2M, P1Y2M10D.
var termPattern = regexp.MustCompile(`^P(?:(\d+)Y)?(?:(\d+)M)?(?:(\d+)W)?(?:(\d+)D)?$`)

// LoanService tracks loans and their guarantor sets: it creates
// loan requests, applies guarantee pledges, recomputes the
// aggregate guaranteed amount and auto-approves a loan once the
// funding conditions are met.
type LoanService struct {
	loanRepo      *repositories.LoanRepository
	userRepo      repositories.UserRepository
	chamaRepo     repositories.ChamaRepository
	notifyService *NotificationService
}

// NewLoanService creates a new loan service
func NewLoanService(
	loanRepo *repositories.LoanRepository,
	userRepo repositories.UserRepository,
	chamaRepo repositories.ChamaRepository,
	notifyService *NotificationService,
) *LoanService {
	return &LoanService{
		loanRepo:      loanRepo,
		userRepo:      userRepo,
		chamaRepo:     chamaRepo,
		notifyService: notifyService,
	}
}

// CreateLoanRequest carries the fields of a new loan request
type CreateLoanRequest struct {
	ChamaAddress          string          `json:"chama_address"`
	BorrowerWalletAddress string          `json:"borrower_wallet_address"`
	Amount                decimal.Decimal `json:"amount"`
	InterestRate          decimal.Decimal `json:"interest_rate"`
	Term                  string          `json:"term"`
	RequiredGuarantors    int             `json:"required_guarantors"`
}

// CreateLoan creates a new PENDING loan request. The borrower and
// chama must already be known to the engine.
func (s *LoanService) CreateLoan(ctx context.Context, req *CreateLoanRequest) (*models.Loan, error) {
	if _, err := s.userRepo.GetByWalletAddress(ctx, req.BorrowerWalletAddress); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBorrowerNotFound
		}
		return nil, err
	}

	chama, err := s.chamaRepo.GetByAddress(ctx, req.ChamaAddress)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChamaNotFound
		}
		return nil, err
	}

	dueDate, err := addTerm(time.Now(), req.Term)
	if err != nil {
		return nil, err
	}

	loan := &models.Loan{
		ChamaAddress:          chama.ChamaAddress,
		BorrowerWalletAddress: req.BorrowerWalletAddress,
		LoanAmount:            req.Amount,
		InterestRate:          req.InterestRate,
		LoanTerm:              req.Term,
		DueDate:               dueDate,
		RequiredGuarantors:    req.RequiredGuarantors,
		Status:                models.LoanStatusPending,
		TotalGuaranteedAmount: decimal.Zero,
		AmountRepaid:          decimal.Zero,
		OutstandingAmount:     req.Amount,
	}

	if err := s.loanRepo.Create(ctx, loan); err != nil {
		return nil, err
	}

	log.Printf("Loan %d created for chama %s, amount %s", loan.ID, loan.ChamaAddress, loan.LoanAmount)
	return loan, nil
}

// UpdateGuarantor applies a guarantee pledge to a loan: it creates
// or updates the (loan, guarantor) record, recomputes the total
// guaranteed amount over APPROVED pledges and auto-approves the
// loan once both funding conditions hold.
func (s *LoanService) UpdateGuarantor(ctx context.Context, loanID uint, walletAddress string, amount decimal.Decimal, status string) (*models.LoanGuarantor, error) {
	if status != models.GuarantorStatusPending &&
		status != models.GuarantorStatusApproved &&
		status != models.GuarantorStatusRejected {
		return nil, fmt.Errorf("%w: %s", ErrInvalidGuarantorStatus, status)
	}

	loan, err := s.loanRepo.GetByID(ctx, loanID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLoanNotFound
		}
		return nil, err
	}

	if _, err := s.userRepo.GetByWalletAddress(ctx, walletAddress); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGuarantorNotFound
		}
		return nil, err
	}

	guarantor, err := s.loanRepo.GetGuarantor(ctx, loanID, walletAddress)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		guarantor = &models.LoanGuarantor{
			LoanID:                 loanID,
			GuarantorWalletAddress: walletAddress,
		}
	}

	guarantor.GuaranteedAmount = amount
	guarantor.Status = status

	if err := s.loanRepo.SaveGuarantor(ctx, guarantor); err != nil {
		return nil, err
	}

	if err := s.recomputeGuarantees(ctx, loan); err != nil {
		return nil, err
	}

	return guarantor, nil
}

// recomputeGuarantees rederives the loan's total guaranteed
// amount and evaluates the auto-approval rule. Only APPROVED
// pledges count toward the total; the guarantor-count condition
// counts every pledge record. Evaluated on every update, so
// whichever update crosses the threshold triggers the approval.
func (s *LoanService) recomputeGuarantees(ctx context.Context, loan *models.Loan) error {
	guarantors, err := s.loanRepo.ListGuarantors(ctx, loan.ID)
	if err != nil {
		return err
	}

	total := decimal.Zero
	for _, g := range guarantors {
		if g.Status == models.GuarantorStatusApproved {
			total = total.Add(g.GuaranteedAmount)
		}
	}

	loan.TotalGuaranteedAmount = total

	if loan.Status == models.LoanStatusPending &&
		total.GreaterThanOrEqual(loan.LoanAmount) &&
		len(guarantors) >= loan.RequiredGuarantors {
		loan.Status = models.LoanStatusApproved
		log.Printf("Loan %d fully guaranteed (%s), auto-approved", loan.ID, total)
		s.notifyService.NotifyLoanApproved(loan)
	}

	return s.loanRepo.Update(ctx, loan)
}

// UpdateLoanStatus transitions a loan along the allowed status
// graph. Setting the current status again is an idempotent no-op.
func (s *LoanService) UpdateLoanStatus(ctx context.Context, loanID uint, status string) (*models.Loan, error) {
	loan, err := s.loanRepo.GetByID(ctx, loanID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLoanNotFound
		}
		return nil, err
	}

	if loan.Status == status {
		return loan, nil
	}

	if !transitionAllowed(loan.Status, status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidLoanTransition, loan.Status, status)
	}

	loan.Status = status
	if err := s.loanRepo.Update(ctx, loan); err != nil {
		return nil, err
	}

	log.Printf("Loan %d status changed to %s", loan.ID, status)
	return loan, nil
}

// transitionAllowed checks the status graph
func transitionAllowed(from, to string) bool {
	for _, allowed := range loanTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// GetLoansByChama lists loans of a chama
func (s *LoanService) GetLoansByChama(ctx context.Context, chamaAddress string) ([]*models.LoanResponse, error) {
	loans, err := s.loanRepo.ListByChama(ctx, chamaAddress)
	if err != nil {
		return nil, err
	}
	return toLoanResponses(loans), nil
}

// GetLoansByBorrower lists loans of a borrower
func (s *LoanService) GetLoansByBorrower(ctx context.Context, walletAddress string) ([]*models.LoanResponse, error) {
	loans, err := s.loanRepo.ListByBorrower(ctx, walletAddress)
	if err != nil {
		return nil, err
	}
	return toLoanResponses(loans), nil
}

// GetLoan gets a loan by ID
func (s *LoanService) GetLoan(ctx context.Context, loanID uint) (*models.Loan, error) {
	loan, err := s.loanRepo.GetByID(ctx, loanID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLoanNotFound
		}
		return nil, err
	}
	return loan, nil
}

// GetLoanGuarantors lists the guarantee pledges of a loan
func (s *LoanService) GetLoanGuarantors(ctx context.Context, loanID uint) ([]*models.GuarantorResponse, error) {
	if _, err := s.loanRepo.GetByID(ctx, loanID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLoanNotFound
		}
		return nil, err
	}

	guarantors, err := s.loanRepo.ListGuarantors(ctx, loanID)
	if err != nil {
		return nil, err
	}

	responses := make([]*models.GuarantorResponse, 0, len(guarantors))
	for _, g := range guarantors {
		responses = append(responses, g.ToResponse())
	}
	return responses, nil
}

func toLoanResponses(loans []*models.Loan) []*models.LoanResponse {
	responses := make([]*models.LoanResponse, 0, len(loans))
	for _, loan := range loans {
		responses = append(responses, loan.ToResponse())
	}
	return responses
}

// addTerm advances a time by an ISO-8601 period term such as
// "P30D", "P6M" or "P1Y".
func addTerm(from time.Time, term string) (time.Time, error) {
	match := termPattern.FindStringSubmatch(term)
	if match == nil || term == "P" {
		return time.Time{}, fmt.Errorf("%w: %s", ErrInvalidLoanTerm, term)
	}

	years, _ := strconv.Atoi(zeroIfEmpty(match[1]))
	months, _ := strconv.Atoi(zeroIfEmpty(match[2]))
	weeks, _ := strconv.Atoi(zeroIfEmpty(match[3]))
	days, _ := strconv.Atoi(zeroIfEmpty(match[4]))

	return from.AddDate(years, months, weeks*7+days), nil
}

func zeroIfEmpty(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
