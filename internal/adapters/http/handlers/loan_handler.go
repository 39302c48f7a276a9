package handlers

import (
	"errors"
	"strconv"

	"chamadao-server/internal/core/services"
	"chamadao-server/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

// LoanHandler handles loan and guarantor endpoints
type LoanHandler struct {
	loanService   *services.LoanService
	walletService *services.WalletService
}

// NewLoanHandler creates a new loan handler
func NewLoanHandler(loanService *services.LoanService, walletService *services.WalletService) *LoanHandler {
	return &LoanHandler{
		loanService:   loanService,
		walletService: walletService,
	}
}

// CreateLoanRequest represents a new loan request
type CreateLoanRequest struct {
	ChamaAddress          string `json:"chama_address"`
	BorrowerWalletAddress string `json:"borrower_wallet_address"`
	Amount                string `json:"amount"`
	InterestRate          string `json:"interest_rate"`
	Term                  string `json:"term"`
	RequiredGuarantors    int    `json:"required_guarantors"`
}

// Create creates a new loan request
func (h *LoanHandler) Create(c *fiber.Ctx) error {
	var req CreateLoanRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}

	if !h.walletService.VerifyWalletAddress(req.ChamaAddress) {
		return response.BadRequest(c, "Invalid chama address")
	}
	if !h.walletService.VerifyWalletAddress(req.BorrowerWalletAddress) {
		return response.BadRequest(c, "Invalid borrower wallet address")
	}
	if req.RequiredGuarantors < 1 {
		return response.BadRequest(c, "Required guarantors must be at least 1")
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		return response.BadRequest(c, "Amount must be a positive number")
	}

	interestRate, err := decimal.NewFromString(req.InterestRate)
	if err != nil || interestRate.IsNegative() {
		return response.BadRequest(c, "Interest rate must be a non-negative number")
	}

	loan, err := h.loanService.CreateLoan(c.Context(), &services.CreateLoanRequest{
		ChamaAddress:          req.ChamaAddress,
		BorrowerWalletAddress: req.BorrowerWalletAddress,
		Amount:                amount,
		InterestRate:          interestRate,
		Term:                  req.Term,
		RequiredGuarantors:    req.RequiredGuarantors,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrBorrowerNotFound):
			return response.NotFound(c, "Borrower not found")
		case errors.Is(err, services.ErrChamaNotFound):
			return response.NotFound(c, "Chama not found")
		case errors.Is(err, services.ErrInvalidLoanTerm):
			return response.BadRequest(c, "Invalid loan term")
		default:
			return response.InternalServerError(c, "Failed to create loan")
		}
	}

	return response.Created(c, "Loan created successfully", fiber.Map{
		"loan": loan.ToResponse(),
	})
}

// GetByChama lists loans of a chama
func (h *LoanHandler) GetByChama(c *fiber.Ctx) error {
	chamaAddress := c.Params("chamaAddress")
	if !h.walletService.VerifyWalletAddress(chamaAddress) {
		return response.BadRequest(c, "Invalid chama address")
	}

	loans, err := h.loanService.GetLoansByChama(c.Context(), chamaAddress)
	if err != nil {
		return response.InternalServerError(c, "Failed to list loans")
	}

	return response.Success(c, "Loans retrieved", fiber.Map{
		"loans": loans,
	})
}

// GetByBorrower lists loans of a borrower
func (h *LoanHandler) GetByBorrower(c *fiber.Ctx) error {
	walletAddress := c.Params("walletAddress")
	if !h.walletService.VerifyWalletAddress(walletAddress) {
		return response.BadRequest(c, "Invalid wallet address")
	}

	loans, err := h.loanService.GetLoansByBorrower(c.Context(), walletAddress)
	if err != nil {
		return response.InternalServerError(c, "Failed to list loans")
	}

	return response.Success(c, "Loans retrieved", fiber.Map{
		"loans": loans,
	})
}

// GetGuarantors lists the guarantee pledges of a loan
func (h *LoanHandler) GetGuarantors(c *fiber.Ctx) error {
	loanID, err := strconv.ParseUint(c.Params("loanId"), 10, 32)
	if err != nil {
		return response.BadRequest(c, "Invalid loan ID")
	}

	guarantors, err := h.loanService.GetLoanGuarantors(c.Context(), uint(loanID))
	if err != nil {
		if errors.Is(err, services.ErrLoanNotFound) {
			return response.NotFound(c, "Loan not found")
		}
		return response.InternalServerError(c, "Failed to list guarantors")
	}

	return response.Success(c, "Guarantors retrieved", fiber.Map{
		"guarantors": guarantors,
	})
}

// UpdateGuarantorRequest represents a guarantee pledge update
type UpdateGuarantorRequest struct {
	WalletAddress string `json:"wallet_address"`
	Amount        string `json:"amount"`
	Status        string `json:"status"`
}

// UpdateGuarantor creates or updates a guarantee pledge
func (h *LoanHandler) UpdateGuarantor(c *fiber.Ctx) error {
	loanID, err := strconv.ParseUint(c.Params("loanId"), 10, 32)
	if err != nil {
		return response.BadRequest(c, "Invalid loan ID")
	}

	var req UpdateGuarantorRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}

	if !h.walletService.VerifyWalletAddress(req.WalletAddress) {
		return response.BadRequest(c, "Invalid guarantor wallet address")
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || amount.IsNegative() {
		return response.BadRequest(c, "Amount must be a non-negative number")
	}

	guarantor, err := h.loanService.UpdateGuarantor(c.Context(), uint(loanID), req.WalletAddress, amount, req.Status)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrLoanNotFound):
			return response.NotFound(c, "Loan not found")
		case errors.Is(err, services.ErrGuarantorNotFound):
			return response.NotFound(c, "Guarantor not found")
		case errors.Is(err, services.ErrInvalidGuarantorStatus):
			return response.BadRequest(c, "Invalid guarantor status")
		default:
			return response.InternalServerError(c, "Failed to update guarantor")
		}
	}

	return response.Success(c, "Guarantor updated", fiber.Map{
		"guarantor": guarantor.ToResponse(),
	})
}

// UpdateStatusRequest represents a loan status change
type UpdateStatusRequest struct {
	Status string `json:"status"`
}

// UpdateStatus transitions a loan's status
func (h *LoanHandler) UpdateStatus(c *fiber.Ctx) error {
	loanID, err := strconv.ParseUint(c.Params("loanId"), 10, 32)
	if err != nil {
		return response.BadRequest(c, "Invalid loan ID")
	}

	var req UpdateStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if req.Status == "" {
		return response.BadRequest(c, "Status is required")
	}

	loan, err := h.loanService.UpdateLoanStatus(c.Context(), uint(loanID), req.Status)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrLoanNotFound):
			return response.NotFound(c, "Loan not found")
		case errors.Is(err, services.ErrInvalidLoanTransition):
			return response.UnprocessableEntity(c, err.Error())
		default:
			return response.InternalServerError(c, "Failed to update loan status")
		}
	}

	return response.Success(c, "Loan status updated", fiber.Map{
		"loan": loan.ToResponse(),
	})
}
