package repositories

import (
	"context"

	"chamadao-server/internal/adapters/persistence/models"

	"gorm.io/gorm"
)

// LoanRepository handles loan and guarantor data access
type LoanRepository struct {
	db *gorm.DB
}

// NewLoanRepository creates a new loan repository
func NewLoanRepository(db *gorm.DB) *LoanRepository {
	return &LoanRepository{db: db}
}

// Create creates a new loan
func (r *LoanRepository) Create(ctx context.Context, loan *models.Loan) error {
	return r.db.WithContext(ctx).Create(loan).Error
}

// GetByID gets a loan by ID
func (r *LoanRepository) GetByID(ctx context.Context, id uint) (*models.Loan, error) {
	var loan models.Loan
	err := r.db.WithContext(ctx).First(&loan, id).Error
	return &loan, err
}

// GetWithGuarantors gets a loan with its guarantor set loaded
func (r *LoanRepository) GetWithGuarantors(ctx context.Context, id uint) (*models.Loan, error) {
	var loan models.Loan
	err := r.db.WithContext(ctx).
		Preload("Guarantors").
		Preload("Guarantors.Guarantor").
		First(&loan, id).Error
	return &loan, err
}

// ListByChama lists loans of a chama, newest first
func (r *LoanRepository) ListByChama(ctx context.Context, chamaAddress string) ([]*models.Loan, error) {
	var loans []*models.Loan
	err := r.db.WithContext(ctx).
		Preload("Chama").
		Preload("Borrower").
		Where("chama_address = ?", chamaAddress).
		Order("created_at DESC").
		Find(&loans).Error
	return loans, err
}

// ListByBorrower lists loans of a borrower, newest first
func (r *LoanRepository) ListByBorrower(ctx context.Context, walletAddress string) ([]*models.Loan, error) {
	var loans []*models.Loan
	err := r.db.WithContext(ctx).
		Preload("Chama").
		Preload("Borrower").
		Where("borrower_wallet_address = ?", walletAddress).
		Order("created_at DESC").
		Find(&loans).Error
	return loans, err
}

// Update saves a loan
func (r *LoanRepository) Update(ctx context.Context, loan *models.Loan) error {
	return r.db.WithContext(ctx).Save(loan).Error
}

// GetGuarantor gets the guarantee for (loan, guarantor wallet), if any
func (r *LoanRepository) GetGuarantor(ctx context.Context, loanID uint, walletAddress string) (*models.LoanGuarantor, error) {
	var guarantor models.LoanGuarantor
	err := r.db.WithContext(ctx).
		Where("loan_id = ? AND guarantor_wallet_address = ?", loanID, walletAddress).
		First(&guarantor).Error
	if err != nil {
		return nil, err
	}
	return &guarantor, nil
}

// SaveGuarantor creates or updates a guarantee
func (r *LoanRepository) SaveGuarantor(ctx context.Context, guarantor *models.LoanGuarantor) error {
	return r.db.WithContext(ctx).Save(guarantor).Error
}

// ListGuarantors lists all guarantees of a loan
func (r *LoanRepository) ListGuarantors(ctx context.Context, loanID uint) ([]*models.LoanGuarantor, error) {
	var guarantors []*models.LoanGuarantor
	err := r.db.WithContext(ctx).
		Preload("Guarantor").
		Where("loan_id = ?", loanID).
		Order("created_at").
		Find(&guarantors).Error
	return guarantors, err
}
