package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyWalletAddress(t *testing.T) {
	svc := NewWalletService()

	valid := []string{
		"0x1111111111111111111111111111111111111111",
		"0xAbCdEf0123456789aBcDeF0123456789abcdef01",
	}
	for _, addr := range valid {
		assert.True(t, svc.VerifyWalletAddress(addr), addr)
	}

	invalid := []string{
		"",
		"1111111111111111111111111111111111111111",
		"0x111111111111111111111111111111111111111",    // 39 hex chars
		"0x11111111111111111111111111111111111111111",  // 41 hex chars
		"0xZZ11111111111111111111111111111111111111",   // non-hex
		"0x 111111111111111111111111111111111111111",   // whitespace
	}
	for _, addr := range invalid {
		assert.False(t, svc.VerifyWalletAddress(addr), addr)
	}
}

func TestGenerateSecureNonce(t *testing.T) {
	svc := NewWalletService()

	first, err := svc.GenerateSecureNonce()
	require.NoError(t, err)
	assert.Len(t, first, 64)

	second, err := svc.GenerateSecureNonce()
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}
