package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"chamadao-server/internal/config"

	"github.com/shopspring/decimal"
)

// Blockchain service errors
var (
	ErrInvalidWalletAddress = errors.New("invalid wallet address")
)

// ChainClient performs USDT transfers through the custody bridge.
// A successful Transfer returns the chain transaction hash but
// does not imply finality; IsConfirmed must be polled separately.
type ChainClient interface {
	Transfer(ctx context.Context, walletAddress string, amountUSDT decimal.Decimal) (string, error)
	IsConfirmed(ctx context.Context, txHash string) (bool, error)
}

// BlockchainService is the HTTP ChainClient against the custody
// bridge API.
type BlockchainService struct {
	bridgeURL     string
	bridgeToken   string
	walletService *WalletService
	client        *http.Client
}

// NewBlockchainService creates a new blockchain service
func NewBlockchainService(cfg config.BlockchainConfig, walletService *WalletService) *BlockchainService {
	return &BlockchainService{
		bridgeURL:     cfg.BridgeURL,
		bridgeToken:   cfg.BridgeToken,
		walletService: walletService,
		client:        &http.Client{Timeout: 30 * time.Second},
	}
}

// chainTransferRequest is the bridge submission body
type chainTransferRequest struct {
	To     string          `json:"to"`
	Amount decimal.Decimal `json:"amount"`
	Token  string          `json:"token"`
}

// chainTransferResponse is the bridge submission response
type chainTransferResponse struct {
	TxHash string `json:"tx_hash"`
	Status string `json:"status"`
}

// chainStatusResponse is the bridge status response
type chainStatusResponse struct {
	TxHash    string `json:"tx_hash"`
	Confirmed bool   `json:"confirmed"`
}

// Transfer submits a USDT transfer to the destination wallet.
// The address format is validated before anything is submitted;
// an invalid address fails immediately.
func (s *BlockchainService) Transfer(ctx context.Context, walletAddress string, amountUSDT decimal.Decimal) (string, error) {
	if !s.walletService.VerifyWalletAddress(walletAddress) {
		return "", fmt.Errorf("%w: %s", ErrInvalidWalletAddress, walletAddress)
	}

	log.Printf("Transferring %s USDT to wallet: %s", amountUSDT, walletAddress)

	payload := chainTransferRequest{
		To:     walletAddress,
		Amount: amountUSDT,
		Token:  "USDT",
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.bridgeURL+"/transfers", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.bridgeToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("chain transfer request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read chain transfer response failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("chain transfer error: %d - %s", resp.StatusCode, string(body))
	}

	var transferResp chainTransferResponse
	if err := json.Unmarshal(body, &transferResp); err != nil {
		return "", fmt.Errorf("parse chain transfer response failed: %w", err)
	}

	if transferResp.TxHash == "" {
		return "", fmt.Errorf("chain transfer response missing tx hash")
	}

	log.Printf("USDT transfer submitted. Transaction hash: %s", transferResp.TxHash)
	return transferResp.TxHash, nil
}

// IsConfirmed reports whether a submitted transfer reached
// finality. Errors are returned as unconfirmed so the poller just
// tries again later.
func (s *BlockchainService) IsConfirmed(ctx context.Context, txHash string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", s.bridgeURL+"/transfers/"+txHash, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "Bearer "+s.bridgeToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("chain status request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("read chain status response failed: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("chain status error: %d - %s", resp.StatusCode, string(body))
	}

	var statusResp chainStatusResponse
	if err := json.Unmarshal(body, &statusResp); err != nil {
		return false, fmt.Errorf("parse chain status response failed: %w", err)
	}

	return statusResp.Confirmed, nil
}
