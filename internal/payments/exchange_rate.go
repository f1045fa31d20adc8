package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	defaultCoinGeckoURL = "https://api.coingecko.com/api/v3/simple/price?ids=ethereum&vs_currencies=inr"
	defaultRateCacheTTL = time.Minute
)

// ErrRateUnavailable indicates the upstream price feed could not be reached.
var ErrRateUnavailable = errors.New("payments: exchange rate unavailable")

// ExchangeRateClientConfig configures the CoinGecko price client.
type ExchangeRateClientConfig struct {
	// URL overrides the CoinGecko simple-price endpoint.
	URL string
	// CacheTTL bounds how long a fetched price is reused.
	CacheTTL time.Duration
	// HTTPClient overrides the default bounded-timeout client.
	HTTPClient *http.Client
	// Clock injects time for tests.
	Clock func() time.Time
}

// ExchangeRateClient fetches the ETH price in INR with a small in-process cache.
type ExchangeRateClient struct {
	url    string
	ttl    time.Duration
	client *http.Client
	clock  func() time.Time

	mu        sync.Mutex
	price     float64
	fetchedAt time.Time
}

// NewExchangeRateClient builds a price client over the CoinGecko public API.
func NewExchangeRateClient(cfg ExchangeRateClientConfig) *ExchangeRateClient {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		url = defaultCoinGeckoURL
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultRateCacheTTL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &ExchangeRateClient{
		url:    url,
		ttl:    ttl,
		client: client,
		clock:  clock,
	}
}

// EthPriceInInr returns the cached price when fresh, otherwise refetches.
func (c *ExchangeRateClient) EthPriceInInr(ctx context.Context) (float64, error) {
	now := c.clock()

	c.mu.Lock()
	if c.price > 0 && now.Sub(c.fetchedAt) < c.ttl {
		price := c.price
		c.mu.Unlock()
		return price, nil
	}
	c.mu.Unlock()

	price, err := c.fetch(ctx)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.price = price
	c.fetchedAt = now
	c.mu.Unlock()
	return price, nil
}

func (c *ExchangeRateClient) fetch(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return 0, fmt.Errorf("payments: build rate request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRateUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: upstream status %d", ErrRateUnavailable, resp.StatusCode)
	}

	var payload struct {
		Ethereum struct {
			Inr float64 `json:"inr"`
		} `json:"ethereum"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("%w: decode response: %v", ErrRateUnavailable, err)
	}
	if payload.Ethereum.Inr <= 0 {
		return 0, fmt.Errorf("%w: upstream returned no price", ErrRateUnavailable)
	}
	return payload.Ethereum.Inr, nil
}
