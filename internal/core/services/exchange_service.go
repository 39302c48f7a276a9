package services

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"chamadao-server/internal/config"

	"github.com/shopspring/decimal"
)

const kesUsdtPair = "KES_USDT"

// ExchangeRateService converts between KES and USDT using a
// cached exchange rate. Conversion never returns an error: a
// failed rate fetch falls back to the last cached snapshot, then
// to the configured constant, so a rate outage can never block a
// payment flow.
type ExchangeRateService struct {
	apiURL       string
	cacheTTL     time.Duration
	fallbackRate decimal.Decimal
	client       *http.Client

	mu    sync.RWMutex
	cache map[string]*rateSnapshot
}

// rateSnapshot holds a fetched exchange rate with its expiry window
type rateSnapshot struct {
	rate      decimal.Decimal
	fetchedAt time.Time
	validFor  time.Duration
}

func (s *rateSnapshot) isExpired(now time.Time) bool {
	return now.Sub(s.fetchedAt) > s.validFor
}

// exchangeRateResponse is the rate-quote endpoint body
type exchangeRateResponse struct {
	Base  string `json:"base"`
	Rates struct {
		KES decimal.Decimal `json:"KES"`
	} `json:"rates"`
}

// NewExchangeRateService creates a new exchange rate service
func NewExchangeRateService(cfg config.ExchangeConfig) *ExchangeRateService {
	return &ExchangeRateService{
		apiURL:       cfg.APIURL,
		cacheTTL:     time.Duration(cfg.CacheMinutes) * time.Minute,
		fallbackRate: cfg.FallbackRate,
		client:       &http.Client{Timeout: 10 * time.Second},
		cache:        make(map[string]*rateSnapshot),
	}
}

// ConvertKesToUsdt converts a KES amount to USDT at the current
// rate. 6 decimal places, half-up — reconciliation against the
// gateway's records depends on this rounding being exact.
func (s *ExchangeRateService) ConvertKesToUsdt(amountKES decimal.Decimal) decimal.Decimal {
	rate := s.getRate()
	amountUSDT := amountKES.DivRound(rate, 6)
	log.Printf("Converted %s KES to %s USDT (rate: %s)", amountKES, amountUSDT, rate)
	return amountUSDT
}

// ConvertUsdtToKes converts a USDT amount to KES at the current
// rate. 2 decimal places, half-up.
func (s *ExchangeRateService) ConvertUsdtToKes(amountUSDT decimal.Decimal) decimal.Decimal {
	rate := s.getRate()
	amountKES := amountUSDT.Mul(rate).Round(2)
	log.Printf("Converted %s USDT to %s KES (rate: %s)", amountUSDT, amountKES, rate)
	return amountKES
}

// getRate returns the KES-per-USDT rate: the cached snapshot
// while fresh, otherwise a refetch. Two concurrent refreshes may
// fetch twice; last write wins, which is harmless.
func (s *ExchangeRateService) getRate() decimal.Decimal {
	now := time.Now()

	s.mu.RLock()
	cached := s.cache[kesUsdtPair]
	s.mu.RUnlock()

	if cached != nil && !cached.isExpired(now) {
		return cached.rate
	}

	rate, err := s.fetchRate()
	if err != nil {
		log.Printf("Error fetching exchange rate: %v", err)
		return fallbackRate(cached, s.fallbackRate)
	}

	s.mu.Lock()
	s.cache[kesUsdtPair] = &rateSnapshot{
		rate:      rate,
		fetchedAt: now,
		validFor:  s.cacheTTL,
	}
	s.mu.Unlock()

	log.Printf("Fetched exchange rate: 1 USDT = %s KES", rate)
	return rate
}

// fetchRate calls the rate-quote endpoint
func (s *ExchangeRateService) fetchRate() (decimal.Decimal, error) {
	resp, err := s.client.Get(s.apiURL)
	if err != nil {
		return decimal.Zero, fmt.Errorf("rate quote request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Zero, fmt.Errorf("read rate quote response failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("rate quote error: %d - %s", resp.StatusCode, string(body))
	}

	var rateResp exchangeRateResponse
	if err := json.Unmarshal(body, &rateResp); err != nil {
		return decimal.Zero, fmt.Errorf("parse rate quote response failed: %w", err)
	}

	if rateResp.Rates.KES.IsZero() {
		return decimal.Zero, fmt.Errorf("rate quote response missing KES rate")
	}

	return rateResp.Rates.KES, nil
}

// fallbackRate picks the degraded-read rate: the stale snapshot
// if one ever existed, otherwise the hardcoded constant.
func fallbackRate(cached *rateSnapshot, hardcoded decimal.Decimal) decimal.Decimal {
	if cached != nil {
		log.Printf("Using expired cached exchange rate: %s", cached.rate)
		return cached.rate
	}
	log.Printf("Using hardcoded fallback exchange rate: %s", hardcoded)
	return hardcoded
}
