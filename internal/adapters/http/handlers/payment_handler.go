package handlers

import (
	"errors"
	"log"
	"strconv"

	"chamadao-server/internal/adapters/persistence/models"
	"chamadao-server/internal/adapters/persistence/repositories"
	"chamadao-server/internal/core/services"
	"chamadao-server/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

// PaymentHandler handles deposit/withdrawal endpoints and the
// gateway result webhooks.
type PaymentHandler struct {
	mpesaService  *services.MpesaService
	txRepo        *repositories.TransactionRepository
	walletService *services.WalletService
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(
	mpesaService *services.MpesaService,
	txRepo *repositories.TransactionRepository,
	walletService *services.WalletService,
) *PaymentHandler {
	return &PaymentHandler{
		mpesaService:  mpesaService,
		txRepo:        txRepo,
		walletService: walletService,
	}
}

// PaymentRequest represents a deposit or withdrawal request
type PaymentRequest struct {
	PhoneNumber string `json:"phone_number"`
	AmountKES   string `json:"amount_kes"`
}

// parsePaymentRequest validates the common request fields
func (h *PaymentHandler) parsePaymentRequest(c *fiber.Ctx) (string, string, decimal.Decimal, error) {
	var req PaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return "", "", decimal.Zero, errors.New("Invalid request body")
	}

	walletAddress, _ := c.Locals("walletAddress").(string)
	if !h.walletService.VerifyWalletAddress(walletAddress) {
		return "", "", decimal.Zero, errors.New("Invalid wallet address")
	}

	if req.PhoneNumber == "" {
		return "", "", decimal.Zero, errors.New("Phone number is required")
	}

	amount, err := decimal.NewFromString(req.AmountKES)
	if err != nil || !amount.IsPositive() {
		return "", "", decimal.Zero, errors.New("Amount must be a positive number")
	}

	return walletAddress, req.PhoneNumber, amount, nil
}

// Deposit initiates an M-Pesa deposit (STK push)
func (h *PaymentHandler) Deposit(c *fiber.Ctx) error {
	walletAddress, phoneNumber, amount, err := h.parsePaymentRequest(c)
	if err != nil {
		return response.BadRequest(c, err.Error())
	}

	stkResp, err := h.mpesaService.InitiateDeposit(c.Context(), walletAddress, phoneNumber, amount)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidPhoneNumber):
			return response.BadRequest(c, "Invalid phone number")
		case errors.Is(err, repositories.ErrPendingExists):
			return response.Conflict(c, "A pending deposit already exists for this phone number")
		case errors.Is(err, services.ErrGatewayUnavailable):
			return response.BadGateway(c, "Payment gateway unavailable")
		default:
			return response.InternalServerError(c, "Failed to initiate deposit")
		}
	}

	return response.Success(c, "Deposit initiated, check your phone", fiber.Map{
		"checkout_request_id": stkResp.CheckoutRequestID,
		"customer_message":    stkResp.CustomerMessage,
	})
}

// Withdraw initiates an M-Pesa withdrawal (B2C payment)
func (h *PaymentHandler) Withdraw(c *fiber.Ctx) error {
	walletAddress, phoneNumber, amount, err := h.parsePaymentRequest(c)
	if err != nil {
		return response.BadRequest(c, err.Error())
	}

	b2cResp, err := h.mpesaService.InitiateWithdrawal(c.Context(), walletAddress, phoneNumber, amount)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidPhoneNumber):
			return response.BadRequest(c, "Invalid phone number")
		case errors.Is(err, repositories.ErrPendingExists):
			return response.Conflict(c, "A pending withdrawal already exists for this phone number")
		case errors.Is(err, services.ErrGatewayUnavailable):
			return response.BadGateway(c, "Payment gateway unavailable")
		default:
			return response.InternalServerError(c, "Failed to initiate withdrawal")
		}
	}

	return response.Success(c, "Withdrawal initiated", fiber.Map{
		"conversation_id": b2cResp.ConversationID,
	})
}

// ListTransactions lists the caller's settlement records
func (h *PaymentHandler) ListTransactions(c *fiber.Ctx) error {
	walletAddress := c.Params("walletAddress")
	if !h.walletService.VerifyWalletAddress(walletAddress) {
		return response.BadRequest(c, "Invalid wallet address")
	}

	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	txs, total, err := h.txRepo.ListByWallet(c.Context(), walletAddress, (page-1)*limit, limit)
	if err != nil {
		return response.InternalServerError(c, "Failed to list transactions")
	}

	responses := make([]*models.TransactionResponse, 0, len(txs))
	for _, tx := range txs {
		responses = append(responses, tx.ToResponse())
	}

	return response.Success(c, "Transactions retrieved", fiber.Map{
		"transactions": responses,
		"total":        total,
		"page":         page,
		"limit":        limit,
	})
}

// StkCallback receives the STK push result webhook. The gateway
// only cares that we answer 200; processing problems are logged
// and swallowed so the gateway never retries into an error loop.
func (h *PaymentHandler) StkCallback(c *fiber.Ctx) error {
	var callback services.StkCallback
	if err := c.BodyParser(&callback); err != nil {
		log.Printf("Malformed STK callback: %v", err)
		return c.SendString("OK")
	}

	processed, err := h.mpesaService.ProcessDepositCallback(c.Context(), &callback)
	if err != nil {
		log.Printf("Error processing STK callback: %v", err)
	} else if !processed {
		log.Printf("STK callback not applied: %s", callback.Body.StkCallback.CheckoutRequestID)
	}

	return c.SendString("OK")
}

// B2CCallback receives the B2C result webhook
func (h *PaymentHandler) B2CCallback(c *fiber.Ctx) error {
	var callback services.B2CCallback
	if err := c.BodyParser(&callback); err != nil {
		log.Printf("Malformed B2C callback: %v", err)
		return c.SendString("OK")
	}

	processed, err := h.mpesaService.ProcessWithdrawalCallback(c.Context(), &callback)
	if err != nil {
		log.Printf("Error processing B2C callback: %v", err)
	} else if !processed {
		log.Printf("B2C callback not applied: %s", callback.Result.ConversationID)
	}

	return c.SendString("OK")
}
