package oracle

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricecontest/internal/config"
	"pricecontest/internal/contest"
	"pricecontest/internal/metrics"
)

var assets = contest.AssetSet{
	{Symbol: "BTC", SourceID: "bitcoin"},
	{Symbol: "ETH", SourceID: "ethereum"},
	{Symbol: "HYPE", SourceID: "hyperliquid"},
}

func newClient(url string) *CoinGecko {
	return NewCoinGecko(config.OracleConfig{
		BaseURL:        url,
		APIKey:         "demo-key",
		Timeout:        time.Second,
		BreakerFails:   2,
		BreakerTimeout: time.Minute,
	}, nil)
}

func TestQuotes_OKAndPartial(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/simple/price", r.URL.Path)
		assert.Equal(t, "bitcoin,ethereum,hyperliquid", r.URL.Query().Get("ids"))
		assert.Equal(t, "usd", r.URL.Query().Get("vs_currencies"))
		assert.Equal(t, "demo-key", r.Header.Get("x-cg-demo-api-key"))
		_, _ = w.Write([]byte(`{"bitcoin":{"usd":97123.456789},"ethereum":{"usd":2650.1},"hyperliquid":{}}`))
	}))
	defer srv.Close()

	c := newClient(srv.URL)
	c.Metrics = metrics.New()
	quotes, err := c.Quotes(context.Background(), assets)
	require.NoError(t, err)

	btc, err := quotes.Price("BTC")
	require.NoError(t, err)
	assert.True(t, btc.Equal(decimal.RequireFromString("97123.456789")))
	_, err = quotes.Price("HYPE")
	assert.ErrorIs(t, err, contest.ErrPriceUnavailable)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Metrics.OracleRequests.WithLabelValues("partial")))
}

func TestQuotes_APIErrorAndBreaker(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"status":{"error_code":429}}`))
	}))
	defer srv.Close()

	c := newClient(srv.URL)
	for i := 0; i < 2; i++ {
		_, err := c.Quotes(context.Background(), assets)
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr), "err=%v", err)
		assert.Equal(t, http.StatusTooManyRequests, apiErr.Status)
	}

	_, err := c.Quotes(context.Background(), assets)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestQuotes_BadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[1,2`))
	}))
	defer srv.Close()
	_, err := newClient(srv.URL).Quotes(context.Background(), assets)
	assert.Error(t, err)
}

func TestQuotes_NoAssets(t *testing.T) {
	quotes, err := newClient("http://127.0.0.1:1").Quotes(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, quotes)
}

func TestStatic(t *testing.T) {
	s := NewStatic(map[string]decimal.Decimal{"btc": decimal.NewFromInt(100)})
	quotes, err := s.Quotes(context.Background(), assets)
	require.NoError(t, err)
	assert.True(t, quotes["BTC"].Available)
	assert.False(t, quotes["ETH"].Available)

	s.Fail(errors.New("down"))
	_, err = s.Quotes(context.Background(), assets)
	assert.Error(t, err)
	assert.Equal(t, 2, s.Calls())
}

func TestBinance_Quotes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/ticker/price", r.URL.Path)
		switch r.URL.Query().Get("symbol") {
		case "BTCUSDT":
			_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","price":"97123.45000000"}`))
		case "HYPEUSDC":
			_, _ = w.Write([]byte(`{"symbol":"HYPEUSDC","price":"21.5"}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
		}
	}))
	defer srv.Close()

	reg := metrics.New()
	b := NewBinance(srv.URL, srv.Client())
	b.Metrics = reg
	in := contest.AssetSet{
		{Symbol: "BTC"},
		{Symbol: "ETH"},
		{Symbol: "HYPE", Pair: "hypeusdc"},
	}
	quotes, err := b.Quotes(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, quotes["BTC"].Price.Equal(decimal.RequireFromString("97123.45")))
	assert.False(t, quotes["ETH"].Available)
	assert.True(t, quotes["HYPE"].Available)
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.OracleRequests.WithLabelValues("partial")))
}

func TestChain(t *testing.T) {
	primary := NewStatic(map[string]decimal.Decimal{"BTC": decimal.NewFromInt(100)})
	secondary := NewStatic(map[string]decimal.Decimal{"BTC": decimal.NewFromInt(1), "ETH": decimal.NewFromInt(50)})
	chain := NewChain(nil, primary, secondary)

	quotes, err := chain.Quotes(context.Background(), assets)
	require.NoError(t, err)
	assert.True(t, quotes["BTC"].Price.Equal(decimal.NewFromInt(100)), "primary price wins")
	assert.True(t, quotes["ETH"].Price.Equal(decimal.NewFromInt(50)))
	assert.False(t, quotes["HYPE"].Available)

	primary.Fail(errors.New("down"))
	quotes, err = chain.Quotes(context.Background(), assets)
	require.NoError(t, err)
	assert.True(t, quotes["BTC"].Price.Equal(decimal.NewFromInt(1)))

	secondary.Fail(errors.New("down too"))
	_, err = chain.Quotes(context.Background(), assets)
	require.Error(t, err)

	assert.Same(t, primary, NewChain(nil, primary, nil))
}
