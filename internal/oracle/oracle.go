package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"pricecontest/internal/config"
	"pricecontest/internal/contest"
	"pricecontest/internal/metrics"
)

// Oracle answers "what is the USD price of these assets right now".
type Oracle interface {
	Quotes(ctx context.Context, assets contest.AssetSet) (contest.Quotes, error)
}

type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Body)
}

const (
	defaultBaseURL = "https://api.coingecko.com/api/v3"
	apiKeyHeader   = "x-cg-demo-api-key"
	maxBodyBytes   = 1 << 20
)

// CoinGecko reads spot prices from the /simple/price endpoint. Calls are paced by a token bucket
// and go through a circuit breaker so a failing upstream is not hammered during settlement retries.
type CoinGecko struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker

	Logger  *zap.Logger
	Metrics *metrics.Registry
}

func NewCoinGecko(cfg config.OracleConfig, httpClient *http.Client) *CoinGecko {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	fails := cfg.BreakerFails
	if fails == 0 {
		fails = 3
	}
	openFor := cfg.BreakerTimeout
	if openFor <= 0 {
		openFor = 60 * time.Second
	}
	st := gobreaker.Settings{
		Name:     "coingecko",
		Interval: 60 * time.Second,
		Timeout:  openFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= fails
		},
		// Context cancellation is the caller giving up, not the upstream failing.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	}

	return &CoinGecko{
		baseURL:    base,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, burst),
		breaker:    gobreaker.NewCircuitBreaker(st),
	}
}

// Quotes fetches every asset in one request. Assets missing from the response, or priced at zero or
// below, come back with Available=false. A failed request returns an error and no quotes.
func (c *CoinGecko) Quotes(ctx context.Context, assets contest.AssetSet) (contest.Quotes, error) {
	ids := sourceIDs(assets)
	if len(ids) == 0 {
		return contest.Quotes{}, nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		c.Metrics.OracleRequest("error")
		return nil, fmt.Errorf("oracle rate limit: %w", err)
	}

	query := url.Values{}
	query.Set("ids", strings.Join(ids, ","))
	query.Set("vs_currencies", "usd")
	query.Set("precision", "full")

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.doRequest(ctx, "/simple/price", query)
	})
	if err != nil {
		result := "error"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			result = "breaker_open"
		}
		c.Metrics.OracleRequest(result)
		if c.Logger != nil {
			c.Logger.Warn("oracle request failed", zap.Strings("ids", ids), zap.Error(err))
		}
		return nil, err
	}

	quotes, err := parseSimplePrice(out.([]byte), assets)
	if err != nil {
		c.Metrics.OracleRequest("error")
		return nil, err
	}
	result := "ok"
	for _, q := range quotes {
		if !q.Available {
			result = "partial"
			break
		}
	}
	c.Metrics.OracleRequest(result)
	return quotes, nil
}

func (c *CoinGecko) doRequest(ctx context.Context, path string, query url.Values) ([]byte, error) {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL = fullURL + "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

func parseSimplePrice(body []byte, assets contest.AssetSet) (contest.Quotes, error) {
	var payload map[string]map[string]json.Number
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode simple price: %w", err)
	}
	quotes := make(contest.Quotes, len(assets))
	for _, a := range assets {
		q := contest.Quote{}
		if raw, ok := payload[a.SourceID]["usd"]; ok {
			if price, err := decimal.NewFromString(raw.String()); err == nil && price.IsPositive() {
				q = contest.Quote{Price: price, Available: true}
			}
		}
		quotes[a.Symbol] = q
	}
	return quotes, nil
}

func sourceIDs(assets contest.AssetSet) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(assets))
	for _, a := range assets {
		id := strings.TrimSpace(a.SourceID)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
