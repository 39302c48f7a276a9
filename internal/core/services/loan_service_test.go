package services

import (
	"context"
	"testing"
	"time"

	"chamadao-server/internal/adapters/persistence/models"
	"chamadao-server/internal/adapters/persistence/repositories"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	testChamaAddr    = "0xcccccccccccccccccccccccccccccccccccccccc"
	testBorrowerAddr = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

func setupLoanService(t *testing.T) (*LoanService, *gorm.DB) {
	t.Helper()
	db := setupTestDB(t)

	seedChama(t, db, testChamaAddr)
	seedUser(t, db, testBorrowerAddr)

	svc := NewLoanService(
		repositories.NewLoanRepository(db),
		repositories.NewUserRepository(db),
		repositories.NewChamaRepository(db),
		NewNotificationService(""),
	)
	return svc, db
}

func seedGuarantor(t *testing.T, db *gorm.DB, walletAddress string) {
	t.Helper()
	seedUser(t, db, walletAddress)
}

func createTestLoan(t *testing.T, svc *LoanService, principal int64, requiredGuarantors int) *models.Loan {
	t.Helper()
	loan, err := svc.CreateLoan(context.Background(), &CreateLoanRequest{
		ChamaAddress:          testChamaAddr,
		BorrowerWalletAddress: testBorrowerAddr,
		Amount:                decimal.NewFromInt(principal),
		InterestRate:          decimal.RequireFromString("5.00"),
		Term:                  "P30D",
		RequiredGuarantors:    requiredGuarantors,
	})
	require.NoError(t, err)
	return loan
}

func TestCreateLoan(t *testing.T) {
	svc, _ := setupLoanService(t)

	loan := createTestLoan(t, svc, 1000, 2)

	assert.Equal(t, models.LoanStatusPending, loan.Status)
	assert.True(t, loan.TotalGuaranteedAmount.IsZero())
	assert.True(t, loan.AmountRepaid.IsZero())
	assert.True(t, decimal.NewFromInt(1000).Equal(loan.OutstandingAmount))
	assert.WithinDuration(t, time.Now().AddDate(0, 0, 30), loan.DueDate, time.Minute)
}

func TestCreateLoanUnknownBorrower(t *testing.T) {
	svc, _ := setupLoanService(t)

	_, err := svc.CreateLoan(context.Background(), &CreateLoanRequest{
		ChamaAddress:          testChamaAddr,
		BorrowerWalletAddress: "0x9999999999999999999999999999999999999999",
		Amount:                decimal.NewFromInt(1000),
		InterestRate:          decimal.NewFromInt(5),
		Term:                  "P30D",
		RequiredGuarantors:    2,
	})
	assert.ErrorIs(t, err, ErrBorrowerNotFound)
}

func TestCreateLoanInvalidTerm(t *testing.T) {
	svc, _ := setupLoanService(t)

	_, err := svc.CreateLoan(context.Background(), &CreateLoanRequest{
		ChamaAddress:          testChamaAddr,
		BorrowerWalletAddress: testBorrowerAddr,
		Amount:                decimal.NewFromInt(1000),
		InterestRate:          decimal.NewFromInt(5),
		Term:                  "30 days",
		RequiredGuarantors:    2,
	})
	assert.ErrorIs(t, err, ErrInvalidLoanTerm)
}

func TestAutoApprovalThreshold(t *testing.T) {
	svc, db := setupLoanService(t)
	ctx := context.Background()

	g1 := "0x1111111111111111111111111111111111111111"
	g2 := "0x2222222222222222222222222222222222222222"
	g3 := "0x3333333333333333333333333333333333333333"
	seedGuarantor(t, db, g1)
	seedGuarantor(t, db, g2)
	seedGuarantor(t, db, g3)

	loan := createTestLoan(t, svc, 1000, 2)

	// 500 + 400 approved: count is fine, amount is short.
	_, err := svc.UpdateGuarantor(ctx, loan.ID, g1, decimal.NewFromInt(500), models.GuarantorStatusApproved)
	require.NoError(t, err)
	_, err = svc.UpdateGuarantor(ctx, loan.ID, g2, decimal.NewFromInt(400), models.GuarantorStatusApproved)
	require.NoError(t, err)

	reloaded, err := svc.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LoanStatusPending, reloaded.Status)
	assert.True(t, decimal.NewFromInt(900).Equal(reloaded.TotalGuaranteedAmount))

	// A third 200 crosses the amount threshold.
	_, err = svc.UpdateGuarantor(ctx, loan.ID, g3, decimal.NewFromInt(200), models.GuarantorStatusApproved)
	require.NoError(t, err)

	reloaded, err = svc.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LoanStatusApproved, reloaded.Status)
	assert.True(t, decimal.NewFromInt(1100).Equal(reloaded.TotalGuaranteedAmount))
}

func TestRejectedGuaranteeContributesNothing(t *testing.T) {
	svc, db := setupLoanService(t)
	ctx := context.Background()

	g1 := "0x1111111111111111111111111111111111111111"
	g2 := "0x2222222222222222222222222222222222222222"
	seedGuarantor(t, db, g1)
	seedGuarantor(t, db, g2)

	loan := createTestLoan(t, svc, 1000, 2)

	_, err := svc.UpdateGuarantor(ctx, loan.ID, g1, decimal.NewFromInt(600), models.GuarantorStatusApproved)
	require.NoError(t, err)
	_, err = svc.UpdateGuarantor(ctx, loan.ID, g2, decimal.NewFromInt(500), models.GuarantorStatusRejected)
	require.NoError(t, err)

	reloaded, err := svc.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LoanStatusPending, reloaded.Status)
	assert.True(t, decimal.NewFromInt(600).Equal(reloaded.TotalGuaranteedAmount))
}

func TestGuaranteeUpdateIsUpsert(t *testing.T) {
	svc, db := setupLoanService(t)
	ctx := context.Background()

	g1 := "0x1111111111111111111111111111111111111111"
	seedGuarantor(t, db, g1)

	loan := createTestLoan(t, svc, 1000, 1)

	_, err := svc.UpdateGuarantor(ctx, loan.ID, g1, decimal.NewFromInt(500), models.GuarantorStatusPending)
	require.NoError(t, err)

	// Same guarantor again updates the existing pledge.
	_, err = svc.UpdateGuarantor(ctx, loan.ID, g1, decimal.NewFromInt(1000), models.GuarantorStatusApproved)
	require.NoError(t, err)

	guarantors, err := svc.GetLoanGuarantors(ctx, loan.ID)
	require.NoError(t, err)
	require.Len(t, guarantors, 1)
	assert.True(t, decimal.NewFromInt(1000).Equal(guarantors[0].GuaranteedAmount))

	reloaded, err := svc.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LoanStatusApproved, reloaded.Status)
}

func TestUpdateGuarantorRejectsUnknownStatus(t *testing.T) {
	svc, db := setupLoanService(t)

	g1 := "0x1111111111111111111111111111111111111111"
	seedGuarantor(t, db, g1)
	loan := createTestLoan(t, svc, 1000, 1)

	_, err := svc.UpdateGuarantor(context.Background(), loan.ID, g1, decimal.NewFromInt(500), "MAYBE")
	assert.ErrorIs(t, err, ErrInvalidGuarantorStatus)
}

func TestLoanStatusTransitions(t *testing.T) {
	svc, _ := setupLoanService(t)
	ctx := context.Background()

	loan := createTestLoan(t, svc, 1000, 1)

	// PENDING -> ACTIVE skips APPROVED and is refused.
	_, err := svc.UpdateLoanStatus(ctx, loan.ID, models.LoanStatusActive)
	assert.ErrorIs(t, err, ErrInvalidLoanTransition)

	for _, status := range []string{
		models.LoanStatusApproved,
		models.LoanStatusActive,
		models.LoanStatusOverdue,
		models.LoanStatusDefaulted,
	} {
		updated, err := svc.UpdateLoanStatus(ctx, loan.ID, status)
		require.NoError(t, err)
		assert.Equal(t, status, updated.Status)
	}

	// DEFAULTED is terminal.
	_, err = svc.UpdateLoanStatus(ctx, loan.ID, models.LoanStatusPaid)
	assert.ErrorIs(t, err, ErrInvalidLoanTransition)

	// Re-setting the current status is a no-op.
	updated, err := svc.UpdateLoanStatus(ctx, loan.ID, models.LoanStatusDefaulted)
	require.NoError(t, err)
	assert.Equal(t, models.LoanStatusDefaulted, updated.Status)
}

func TestAddTerm(t *testing.T) {
	base := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	got, err := addTerm(base, "P30D")
	require.NoError(t, err)
	assert.Equal(t, base.AddDate(0, 0, 30), got)

	got, err = addTerm(base, "P6M")
	require.NoError(t, err)
	assert.Equal(t, base.AddDate(0, 6, 0), got)

	got, err = addTerm(base, "P1Y2M10D")
	require.NoError(t, err)
	assert.Equal(t, base.AddDate(1, 2, 10), got)

	got, err = addTerm(base, "P2W")
	require.NoError(t, err)
	assert.Equal(t, base.AddDate(0, 0, 14), got)

	for _, bad := range []string{"", "P", "30D", "P30X", "thirty days"} {
		_, err := addTerm(base, bad)
		assert.Error(t, err, bad)
	}
}
