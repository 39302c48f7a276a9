package routes

import (
	"chamadao-server/internal/adapters/http/handlers"
	"chamadao-server/internal/adapters/http/middleware"
	"chamadao-server/internal/adapters/persistence/repositories"
	"chamadao-server/internal/config"
	"chamadao-server/internal/core/services"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// Setup configures all routes for the application and wires the
// repositories, services and handlers together.
func Setup(app *fiber.App, db *gorm.DB, cfg *config.Config) *services.SettlementSweepService {
	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	chamaRepo := repositories.NewChamaRepository(db)
	txRepo := repositories.NewTransactionRepository(db)
	chainTransferRepo := repositories.NewChainTransferRepository(db)
	loanRepo := repositories.NewLoanRepository(db)

	// Initialize services
	walletService := services.NewWalletService()
	notifyService := services.NewNotificationService(cfg.Notify.WebhookURL)
	exchangeService := services.NewExchangeRateService(cfg.Exchange)
	blockchainService := services.NewBlockchainService(cfg.Blockchain, walletService)
	chainService := services.NewChainSettlementService(
		blockchainService,
		chainTransferRepo,
		txRepo,
		cfg.Blockchain.MaxAttempts,
	)
	mpesaService := services.NewMpesaService(
		cfg.Mpesa,
		txRepo,
		exchangeService,
		chainService,
		notifyService,
	)
	loanService := services.NewLoanService(loanRepo, userRepo, chamaRepo, notifyService)
	sweepService := services.NewSettlementSweepService(txRepo, chainService, cfg.Settlement)

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler()
	paymentHandler := handlers.NewPaymentHandler(mpesaService, txRepo, walletService)
	loanHandler := handlers.NewLoanHandler(loanService, walletService)
	rateHandler := handlers.NewRateHandler(exchangeService)

	// Health check & root routes
	app.Get("/", healthHandler.Root)
	app.Get("/health", healthHandler.HealthCheck)

	// API v1 routes
	api := app.Group("/api/v1")
	api.Get("/health", healthHandler.HealthCheck)

	// Gateway webhooks - no auth, the gateway cannot send a bearer
	// token. Correlation safety lives in the settlement ledger.
	payments := api.Group("/payments")
	payments.Post("/mpesa/stk-callback", paymentHandler.StkCallback)
	payments.Post("/mpesa/b2c-callback", paymentHandler.B2CCallback)

	// Payment routes (protected)
	payments.Post("/deposit", middleware.AuthMiddleware(cfg), middleware.PaymentRateLimiter(), paymentHandler.Deposit)
	payments.Post("/withdraw", middleware.AuthMiddleware(cfg), middleware.PaymentRateLimiter(), paymentHandler.Withdraw)
	payments.Get("/transactions/:walletAddress", middleware.AuthMiddleware(cfg), paymentHandler.ListTransactions)

	// Rate routes (protected)
	api.Get("/rates/convert", middleware.AuthMiddleware(cfg), rateHandler.Convert)

	// Loan routes (protected)
	loans := api.Group("/loans", middleware.AuthMiddleware(cfg))
	loans.Post("/", loanHandler.Create)
	loans.Get("/chama/:chamaAddress", loanHandler.GetByChama)
	loans.Get("/borrower/:walletAddress", loanHandler.GetByBorrower)
	loans.Get("/:loanId/guarantors", loanHandler.GetGuarantors)
	loans.Put("/:loanId/guarantors", loanHandler.UpdateGuarantor)
	loans.Put("/:loanId/status", loanHandler.UpdateStatus)

	return sweepService
}
