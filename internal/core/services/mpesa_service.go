package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"chamadao-server/internal/adapters/persistence/models"
	"chamadao-server/internal/adapters/persistence/repositories"
	"chamadao-server/internal/config"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// M-Pesa service errors
var (
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrInvalidPhoneNumber = errors.New("invalid phone number")
)

var nonDigitPattern = regexp.MustCompile(`\D`)

// MpesaService orchestrates deposits and withdrawals through the
// M-Pesa gateway: it initiates push-payment requests, reconciles
// the asynchronous result callbacks against the settlement
// ledger, and hands completed deposits to the chain settlement
// outbox.
type MpesaService struct {
	cfg             config.MpesaConfig
	txRepo          *repositories.TransactionRepository
	exchangeService *ExchangeRateService
	chainService    *ChainSettlementService
	notifyService   *NotificationService
	client          *http.Client

	// Session token cache. Refetched when expired and once more
	// on a gateway 401.
	tokenMu     sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewMpesaService creates a new M-Pesa service
func NewMpesaService(
	cfg config.MpesaConfig,
	txRepo *repositories.TransactionRepository,
	exchangeService *ExchangeRateService,
	chainService *ChainSettlementService,
	notifyService *NotificationService,
) *MpesaService {
	return &MpesaService{
		cfg:             cfg,
		txRepo:          txRepo,
		exchangeService: exchangeService,
		chainService:    chainService,
		notifyService:   notifyService,
		client:          &http.Client{Timeout: 30 * time.Second},
	}
}

// ============================================================
// Session token
// ============================================================

// getAccessToken returns the cached gateway session token,
// fetching a fresh one when missing or expired.
func (s *MpesaService) getAccessToken(ctx context.Context) (string, error) {
	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()

	if s.accessToken != "" && time.Now().Before(s.tokenExpiry) {
		return s.accessToken, nil
	}

	token, expiresIn, err := s.fetchAccessToken(ctx)
	if err != nil {
		return "", err
	}

	s.accessToken = token
	// Refresh slightly early so an in-flight request doesn't ride
	// an expiring token.
	s.tokenExpiry = time.Now().Add(time.Duration(expiresIn-30) * time.Second)
	return token, nil
}

// invalidateToken drops the cached token (after a gateway 401).
func (s *MpesaService) invalidateToken() {
	s.tokenMu.Lock()
	s.accessToken = ""
	s.tokenExpiry = time.Time{}
	s.tokenMu.Unlock()
}

// fetchAccessToken exchanges the consumer credentials for a
// session token.
func (s *MpesaService) fetchAccessToken(ctx context.Context) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", s.cfg.AccessTokenURL, nil)
	if err != nil {
		return "", 0, err
	}
	req.SetBasicAuth(s.cfg.ConsumerKey, s.cfg.ConsumerSecret)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("access token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, fmt.Errorf("read access token response failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("access token error: %d - %s", resp.StatusCode, string(body))
	}

	var tokenResp AccessTokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", 0, fmt.Errorf("parse access token response failed: %w", err)
	}

	if tokenResp.AccessToken == "" {
		return "", 0, fmt.Errorf("access token response missing token")
	}

	expiresIn, err := strconv.Atoi(tokenResp.ExpiresIn)
	if err != nil || expiresIn <= 0 {
		expiresIn = 3600
	}

	return tokenResp.AccessToken, expiresIn, nil
}

// postJSON posts an authenticated JSON payload to the gateway,
// retrying once with a fresh token on 401.
func (s *MpesaService) postJSON(ctx context.Context, url string, payload interface{}) ([]byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < 2; attempt++ {
		token, err := s.getAccessToken(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
		}

		req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := s.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read gateway response failed: %w", err)
		}

		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			log.Println("Gateway returned 401, refreshing session token")
			s.invalidateToken()
			continue
		}

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%w: %d - %s", ErrGatewayUnavailable, resp.StatusCode, string(body))
		}

		return body, nil
	}

	return nil, ErrGatewayUnavailable
}

// ============================================================
// Deposits (STK push)
// ============================================================

// InitiateDeposit sends an STK push to the user's phone and
// records the PENDING ledger entry. Any failure before the
// ledger write aborts the whole operation — no partial state.
func (s *MpesaService) InitiateDeposit(ctx context.Context, walletAddress, phoneNumber string, amountKES decimal.Decimal) (*StkPushResponse, error) {
	log.Printf("Initiating deposit for wallet %s, phone %s, amount %s", walletAddress, phoneNumber, amountKES)

	formattedPhone, err := FormatPhoneNumber(phoneNumber)
	if err != nil {
		return nil, err
	}

	// One uncompleted deposit per phone at a time: the phone is
	// the fallback correlation key, so a second pending record
	// would make callbacks ambiguous.
	if exists, err := s.txRepo.HasPending(ctx, formattedPhone, models.TxTypeDeposit); err != nil {
		return nil, err
	} else if exists {
		return nil, repositories.ErrPendingExists
	}

	timestamp := time.Now().Format("20060102150405")
	password := base64.StdEncoding.EncodeToString(
		[]byte(s.cfg.BusinessShortCode + s.cfg.Passkey + timestamp))

	request := StkPushRequest{
		BusinessShortCode: s.cfg.BusinessShortCode,
		Password:          password,
		Timestamp:         timestamp,
		TransactionType:   s.cfg.TransactionType,
		Amount:            amountKES.String(),
		PartyA:            formattedPhone,
		PartyB:            s.cfg.BusinessShortCode,
		PhoneNumber:       formattedPhone,
		CallBackURL:       s.cfg.CallbackURL,
		AccountReference:  s.cfg.AccountReference,
		TransactionDesc:   s.cfg.TransactionDescription,
	}

	body, err := s.postJSON(ctx, s.cfg.StkPushURL, request)
	if err != nil {
		log.Printf("Failed to initiate deposit: %v", err)
		return nil, err
	}

	var stkResp StkPushResponse
	if err := json.Unmarshal(body, &stkResp); err != nil {
		return nil, fmt.Errorf("parse STK push response failed: %w", err)
	}

	log.Printf("Successfully initiated deposit: %s", stkResp.CheckoutRequestID)

	// The USDT amount stays zero until the callback resolves the
	// deposit at that moment's rate.
	tx := &models.Transaction{
		WalletAddress:     walletAddress,
		MobileNumber:      formattedPhone,
		Type:              models.TxTypeDeposit,
		AmountKES:         amountKES,
		AmountUSDT:        decimal.Zero,
		CheckoutRequestID: &stkResp.CheckoutRequestID,
		Description:       "M-Pesa deposit initiated",
	}

	if err := s.txRepo.CreatePending(ctx, tx); err != nil {
		return nil, err
	}

	return &stkResp, nil
}

// ProcessDepositCallback reconciles an STK push result against
// the ledger. It reports whether a settlement record was brought
// to a terminal state; the webhook answers 200 either way.
func (s *MpesaService) ProcessDepositCallback(ctx context.Context, callback *StkCallback) (bool, error) {
	stk := callback.Body.StkCallback
	log.Printf("Processing deposit callback: %s", stk.CheckoutRequestID)

	tx := s.correlateDeposit(ctx, stk.CheckoutRequestID, callback.PhoneNumber())

	if stk.ResultCode != 0 {
		log.Printf("Deposit failed: %s", stk.ResultDesc)
		if tx != nil && !tx.IsTerminal() {
			if err := s.txRepo.Fail(ctx, tx, stk.ResultDesc); err != nil {
				return false, err
			}
			return true, nil
		}
		return false, nil
	}

	receiptNumber := callback.ReceiptNumber()
	if receiptNumber == "" {
		log.Printf("Deposit callback missing receipt number: %s", stk.CheckoutRequestID)
		return false, nil
	}

	if tx == nil {
		log.Printf("Transaction not found for deposit callback: %s (phone %s)", stk.CheckoutRequestID, callback.PhoneNumber())
		return false, nil
	}

	// Redelivered callback: the record already carries this
	// receipt, nothing to apply.
	if tx.Status == models.TxStatusCompleted &&
		tx.MpesaReceiptNumber != nil && *tx.MpesaReceiptNumber == receiptNumber {
		log.Printf("Deposit callback already processed: %s", receiptNumber)
		return true, nil
	}

	amountUSDT := s.exchangeService.ConvertKesToUsdt(tx.AmountKES)

	// The fiat settlement is made durable before the chain leg is
	// even attempted.
	if err := s.txRepo.Complete(ctx, tx, receiptNumber, amountUSDT); err != nil {
		if errors.Is(err, repositories.ErrAlreadyCompleted) {
			return true, nil
		}
		return false, err
	}

	log.Printf("Deposit completed: %s", receiptNumber)

	if err := s.chainService.EnqueueTransfer(ctx, tx); err != nil {
		// Chain failures never roll back the fiat settlement.
		log.Printf("Error enqueueing chain transfer for transaction %d: %v", tx.ID, err)
	}

	s.notifyService.NotifyDepositCompleted(tx)
	return true, nil
}

// correlateDeposit finds the settlement record for a deposit
// callback: by checkout request ID first, falling back to the
// single-PENDING (phone, DEPOSIT) rule.
func (s *MpesaService) correlateDeposit(ctx context.Context, checkoutRequestID, phoneNumber string) *models.Transaction {
	if checkoutRequestID != "" {
		if tx, err := s.txRepo.FindByCheckoutID(ctx, checkoutRequestID); err == nil {
			return tx
		}
	}
	if phoneNumber != "" {
		if tx, err := s.txRepo.FindMatchingPending(ctx, phoneNumber, models.TxTypeDeposit); err == nil {
			return tx
		}
	}
	return nil
}

// ============================================================
// Withdrawals (B2C)
// ============================================================

// InitiateWithdrawal sends a business payment to the user's phone
// and records the PENDING ledger entry. Unlike deposits, the USDT
// amount is resolved here — the user's token balance has to be
// debited at initiation time, not at callback time.
func (s *MpesaService) InitiateWithdrawal(ctx context.Context, walletAddress, phoneNumber string, amountKES decimal.Decimal) (*B2CResponse, error) {
	log.Printf("Initiating withdrawal for wallet %s, phone %s, amount %s", walletAddress, phoneNumber, amountKES)

	formattedPhone, err := FormatPhoneNumber(phoneNumber)
	if err != nil {
		return nil, err
	}

	if exists, err := s.txRepo.HasPending(ctx, formattedPhone, models.TxTypeWithdrawal); err != nil {
		return nil, err
	} else if exists {
		return nil, repositories.ErrPendingExists
	}

	request := B2CRequest{
		OriginatorConversationID: uuid.NewString(),
		InitiatorName:            s.cfg.InitiatorName,
		SecurityCredential:       s.cfg.SecurityCredential,
		CommandID:                "BusinessPayment",
		Amount:                   amountKES.String(),
		PartyA:                   s.cfg.BusinessShortCode,
		PartyB:                   formattedPhone,
		Remarks:                  "ChamaDAO withdrawal",
		QueueTimeOutURL:          s.cfg.TimeoutURL,
		ResultURL:                s.cfg.CallbackURL,
		Occasion:                 "Withdrawal",
	}

	body, err := s.postJSON(ctx, s.cfg.B2CURL, request)
	if err != nil {
		log.Printf("Failed to initiate withdrawal: %v", err)
		return nil, err
	}

	var b2cResp B2CResponse
	if err := json.Unmarshal(body, &b2cResp); err != nil {
		return nil, fmt.Errorf("parse B2C response failed: %w", err)
	}

	log.Printf("Successfully initiated withdrawal: %s", b2cResp.ConversationID)

	amountUSDT := s.exchangeService.ConvertKesToUsdt(amountKES)

	tx := &models.Transaction{
		WalletAddress:  walletAddress,
		MobileNumber:   formattedPhone,
		Type:           models.TxTypeWithdrawal,
		AmountKES:      amountKES,
		AmountUSDT:     amountUSDT,
		ConversationID: &b2cResp.ConversationID,
		Description:    "M-Pesa withdrawal initiated",
	}

	if err := s.txRepo.CreatePending(ctx, tx); err != nil {
		return nil, err
	}

	return &b2cResp, nil
}

// ProcessWithdrawalCallback reconciles a B2C result against the
// ledger. The token amount was already resolved at initiation;
// no conversion and no chain transfer happen here.
func (s *MpesaService) ProcessWithdrawalCallback(ctx context.Context, callback *B2CCallback) (bool, error) {
	result := callback.Result
	log.Printf("Processing withdrawal callback: %s", result.ConversationID)

	tx := s.correlateWithdrawal(ctx, result.ConversationID, callback.RecipientPhoneNumber())

	if result.ResultCode != 0 {
		log.Printf("Withdrawal failed: %s", result.ResultDesc)
		if tx != nil && !tx.IsTerminal() {
			if err := s.txRepo.Fail(ctx, tx, result.ResultDesc); err != nil {
				return false, err
			}
			return true, nil
		}
		return false, nil
	}

	receiptNumber := callback.TransactionReceipt()
	if receiptNumber == "" {
		receiptNumber = result.TransactionID
	}
	if receiptNumber == "" {
		log.Printf("Withdrawal callback missing receipt: %s", result.ConversationID)
		return false, nil
	}

	if tx == nil {
		log.Printf("Transaction not found for withdrawal callback: %s (phone %s)", result.ConversationID, callback.RecipientPhoneNumber())
		return false, nil
	}

	if tx.Status == models.TxStatusCompleted &&
		tx.MpesaReceiptNumber != nil && *tx.MpesaReceiptNumber == receiptNumber {
		log.Printf("Withdrawal callback already processed: %s", receiptNumber)
		return true, nil
	}

	if err := s.txRepo.Complete(ctx, tx, receiptNumber, tx.AmountUSDT); err != nil {
		if errors.Is(err, repositories.ErrAlreadyCompleted) {
			return true, nil
		}
		return false, err
	}

	log.Printf("Withdrawal completed: %s", receiptNumber)
	s.notifyService.NotifyWithdrawalCompleted(tx)
	return true, nil
}

// correlateWithdrawal finds the settlement record for a B2C
// callback: by conversation ID first, falling back to the
// single-PENDING (phone, WITHDRAWAL) rule.
func (s *MpesaService) correlateWithdrawal(ctx context.Context, conversationID, phoneNumber string) *models.Transaction {
	if conversationID != "" {
		if tx, err := s.txRepo.FindByConversationID(ctx, conversationID); err == nil {
			return tx
		}
	}
	if phoneNumber != "" {
		if tx, err := s.txRepo.FindMatchingPending(ctx, phoneNumber, models.TxTypeWithdrawal); err == nil {
			return tx
		}
	}
	return nil
}

// ============================================================
// Phone formatting
// ============================================================

// FormatPhoneNumber canonicalizes a phone number to the bare
// country-code form the gateway expects: strip non-digits,
// "07xx..." becomes "2547xx...", "+254..." becomes "254...".
func FormatPhoneNumber(phoneNumber string) (string, error) {
	digitsOnly := nonDigitPattern.ReplaceAllString(phoneNumber, "")
	if digitsOnly == "" {
		return "", ErrInvalidPhoneNumber
	}

	if strings.HasPrefix(digitsOnly, "0") {
		digitsOnly = "254" + digitsOnly[1:]
	}

	if strings.HasPrefix(digitsOnly, "254") {
		return digitsOnly, nil
	}

	return "254" + digitsOnly, nil
}
