package services

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
)

var walletAddressPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

// WalletService handles wallet address validation and nonce
// generation for signature challenges.
type WalletService struct{}

// NewWalletService creates a new wallet service
func NewWalletService() *WalletService {
	return &WalletService{}
}

// VerifyWalletAddress checks that an address is 0x-prefixed,
// 42 characters and hex.
func (s *WalletService) VerifyWalletAddress(walletAddress string) bool {
	return walletAddressPattern.MatchString(walletAddress)
}

// GenerateSecureNonce returns a random nonce for authentication
// challenges, hex-encoded.
func (s *WalletService) GenerateSecureNonce() (string, error) {
	nonceBytes := make([]byte, 16)
	if _, err := rand.Read(nonceBytes); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	hash := sha256.Sum256(nonceBytes)
	return hex.EncodeToString(hash[:]), nil
}
