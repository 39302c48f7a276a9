package handlers

import (
	"chamadao-server/internal/core/services"
	"chamadao-server/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

// RateHandler handles currency conversion preview endpoints
type RateHandler struct {
	exchangeService *services.ExchangeRateService
}

// NewRateHandler creates a new rate handler
func NewRateHandler(exchangeService *services.ExchangeRateService) *RateHandler {
	return &RateHandler{exchangeService: exchangeService}
}

// Convert previews a currency conversion without touching the
// ledger. Direction is KES_TO_USDT or USDT_TO_KES.
func (h *RateHandler) Convert(c *fiber.Ctx) error {
	amount, err := decimal.NewFromString(c.Query("amount"))
	if err != nil || !amount.IsPositive() {
		return response.BadRequest(c, "Amount must be a positive number")
	}

	direction := c.Query("direction", "KES_TO_USDT")

	var converted decimal.Decimal
	switch direction {
	case "KES_TO_USDT":
		converted = h.exchangeService.ConvertKesToUsdt(amount)
	case "USDT_TO_KES":
		converted = h.exchangeService.ConvertUsdtToKes(amount)
	default:
		return response.BadRequest(c, "Direction must be KES_TO_USDT or USDT_TO_KES")
	}

	return response.Success(c, "Conversion preview", fiber.Map{
		"direction": direction,
		"amount":    amount,
		"converted": converted,
	})
}
