package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"pricecontest/internal/contest"
	"pricecontest/internal/metrics"
)

const defaultBinanceURL = "https://api.binance.com"

// Binance prices assets from the public ticker endpoint, one request per pair. USDT quotes stand in
// for USD. It needs no key and is meant as a fallback source.
type Binance struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter

	Logger  *zap.Logger
	Metrics *metrics.Registry
}

func NewBinance(baseURL string, httpClient *http.Client) *Binance {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = defaultBinanceURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Binance{
		baseURL:    base,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(10), 5),
	}
}

// Pair is the ticker the exchange lists asset under.
func Pair(a contest.Asset) string {
	if p := strings.TrimSpace(a.Pair); p != "" {
		return strings.ToUpper(p)
	}
	return a.Symbol + "USDT"
}

// Quotes never fails as a whole: an asset whose request fails is returned unavailable.
func (b *Binance) Quotes(ctx context.Context, assets contest.AssetSet) (contest.Quotes, error) {
	out := make(contest.Quotes, len(assets))
	missing := 0
	for _, a := range assets {
		price, err := b.fetchPrice(ctx, Pair(a))
		if err != nil {
			missing++
			out[a.Symbol] = contest.Quote{}
			if b.Logger != nil {
				b.Logger.Warn("binance price failed", zap.String("pair", Pair(a)), zap.Error(err))
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		out[a.Symbol] = contest.Quote{Price: price, Available: true}
	}
	switch {
	case missing == 0:
		b.Metrics.OracleRequest("ok")
	case missing == len(assets):
		b.Metrics.OracleRequest("error")
	default:
		b.Metrics.OracleRequest("partial")
	}
	return out, nil
}

func (b *Binance) fetchPrice(ctx context.Context, pair string) (decimal.Decimal, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return decimal.Zero, err
	}
	endpoint := b.baseURL + "/api/v3/ticker/price?" + url.Values{"symbol": {pair}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, err
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return decimal.Zero, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decimal.Zero, &APIError{Status: resp.StatusCode, Body: string(body)}
	}
	var parsed struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return decimal.Zero, fmt.Errorf("decode ticker: %w", err)
	}
	price, err := decimal.NewFromString(parsed.Price)
	if err != nil || !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("invalid price %q", parsed.Price)
	}
	return price, nil
}
