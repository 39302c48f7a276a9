package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all configuration for the application
type Config struct {
	AppMode    string
	Port       string
	Database   DatabaseConfig
	JWT        JWTConfig
	Mpesa      MpesaConfig
	Blockchain BlockchainConfig
	Exchange   ExchangeConfig
	Settlement SettlementConfig
	Notify     NotificationConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

// JWTConfig holds JWT verification configuration. Tokens are
// issued by the identity service; this backend only validates.
type JWTConfig struct {
	Secret string
}

// MpesaConfig holds M-Pesa gateway configuration
type MpesaConfig struct {
	ConsumerKey            string
	ConsumerSecret         string
	Passkey                string
	BusinessShortCode      string
	TransactionType        string
	AccessTokenURL         string
	StkPushURL             string
	B2CURL                 string
	CallbackURL            string
	TimeoutURL             string
	AccountReference       string
	TransactionDescription string
	InitiatorName          string
	SecurityCredential     string
}

// BlockchainConfig holds custody bridge configuration
type BlockchainConfig struct {
	BridgeURL   string
	BridgeToken string
	MaxAttempts int
}

// ExchangeConfig holds exchange rate configuration
type ExchangeConfig struct {
	APIURL       string
	CacheMinutes int
	FallbackRate decimal.Decimal
}

// SettlementConfig holds settlement sweep configuration
type SettlementConfig struct {
	PendingTimeoutMinutes int
	SweepSchedule         string
}

// NotificationConfig holds webhook notifier configuration. An
// empty URL disables delivery.
type NotificationConfig struct {
	WebhookURL string
}

// Global config instance
var AppConfig *Config

// Load reads configuration from .env file and environment variables
func Load() (*Config, error) {
	// Load .env file (ignore error if file doesn't exist in production)
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	appMode := strings.TrimSpace(getEnv("APP_MODE", "dev"))
	if appMode != "dev" && appMode != "prod" {
		return nil, fmt.Errorf("invalid APP_MODE: '%s' (must be 'dev' or 'prod')", appMode)
	}

	fallbackRate, err := decimal.NewFromString(getEnv("EXCHANGE_FALLBACK_RATE", "130.00"))
	if err != nil {
		return nil, fmt.Errorf("invalid EXCHANGE_FALLBACK_RATE: %w", err)
	}

	config := &Config{
		AppMode:  appMode,
		Port:     getEnv("PORT", "3000"),
		Database: loadDatabaseConfig(),
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", "default_secret"),
		},
		Mpesa:      loadMpesaConfig(),
		Blockchain: loadBlockchainConfig(),
		Exchange: ExchangeConfig{
			APIURL:       getEnv("EXCHANGE_RATE_API_URL", ""),
			CacheMinutes: getEnvInt("EXCHANGE_CACHE_MINUTES", 60),
			FallbackRate: fallbackRate,
		},
		Settlement: SettlementConfig{
			PendingTimeoutMinutes: getEnvInt("SETTLEMENT_PENDING_TIMEOUT_MINUTES", 120),
			SweepSchedule:         getEnv("SETTLEMENT_SWEEP_SCHEDULE", "@every 1m"),
		},
		Notify: NotificationConfig{
			WebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),
		},
	}

	// Set global config
	AppConfig = config

	log.Printf("Configuration loaded successfully [MODE: %s]", appMode)
	return config, nil
}

// loadDatabaseConfig loads database config
func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnv("DB_PORT", "3306"),
		User:     getEnv("DB_USER", "root"),
		Password: getEnv("DB_PASS", ""),
		DBName:   getEnv("DB_NAME", "chamadao"),
	}
}

// loadMpesaConfig loads M-Pesa gateway config
func loadMpesaConfig() MpesaConfig {
	return MpesaConfig{
		ConsumerKey:            getEnv("MPESA_CONSUMER_KEY", ""),
		ConsumerSecret:         getEnv("MPESA_CONSUMER_SECRET", ""),
		Passkey:                getEnv("MPESA_PASSKEY", ""),
		BusinessShortCode:      getEnv("MPESA_SHORTCODE", "174379"),
		TransactionType:        getEnv("MPESA_TRANSACTION_TYPE", "CustomerPayBillOnline"),
		AccessTokenURL:         getEnv("MPESA_ACCESS_TOKEN_URL", "https://sandbox.safaricom.co.ke/oauth/v1/generate?grant_type=client_credentials"),
		StkPushURL:             getEnv("MPESA_STK_PUSH_URL", "https://sandbox.safaricom.co.ke/mpesa/stkpush/v1/processrequest"),
		B2CURL:                 getEnv("MPESA_B2C_URL", "https://sandbox.safaricom.co.ke/mpesa/b2c/v1/paymentrequest"),
		CallbackURL:            getEnv("MPESA_CALLBACK_URL", ""),
		TimeoutURL:             getEnv("MPESA_TIMEOUT_URL", ""),
		AccountReference:       getEnv("MPESA_ACCOUNT_REFERENCE", "ChamaDAO"),
		TransactionDescription: getEnv("MPESA_TRANSACTION_DESC", "ChamaDAO deposit"),
		InitiatorName:          getEnv("MPESA_INITIATOR_NAME", "ChamaDAO"),
		SecurityCredential:     getEnv("MPESA_SECURITY_CREDENTIAL", ""),
	}
}

// loadBlockchainConfig loads custody bridge config
func loadBlockchainConfig() BlockchainConfig {
	return BlockchainConfig{
		BridgeURL:   getEnv("CHAIN_BRIDGE_URL", ""),
		BridgeToken: getEnv("CHAIN_BRIDGE_TOKEN", ""),
		MaxAttempts: getEnvInt("CHAIN_TRANSFER_MAX_ATTEMPTS", 5),
	}
}

// getEnv gets environment variable with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable with default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// IsDev returns true if running in development mode
func (c *Config) IsDev() bool {
	return c.AppMode == "dev"
}

// IsProd returns true if running in production mode
func (c *Config) IsProd() bool {
	return c.AppMode == "prod"
}

// GetAllowedOrigins returns allowed origins for CORS
func (c *Config) GetAllowedOrigins() string {
	origins := getEnv("ALLOWED_ORIGINS", "")
	if origins == "" {
		if c.IsDev() {
			return "*"
		}
		return "https://app.chamadao.io"
	}
	return origins
}
