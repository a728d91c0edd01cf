package oracle

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"pricecontest/internal/contest"
)

// Static is an in-memory Oracle with fixed prices. Assets without a price are unavailable.
type Static struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	err    error
	calls  int
}

func NewStatic(prices map[string]decimal.Decimal) *Static {
	s := &Static{prices: map[string]decimal.Decimal{}}
	for k, v := range prices {
		s.prices[contest.NormalizeSymbol(k)] = v
	}
	return s
}

// Fail makes every following call return err until it is cleared with Fail(nil).
func (s *Static) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *Static) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *Static) Quotes(ctx context.Context, assets contest.AssetSet) (contest.Quotes, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(contest.Quotes, len(assets))
	for _, a := range assets {
		price, ok := s.prices[a.Symbol]
		out[a.Symbol] = contest.Quote{Price: price, Available: ok && price.IsPositive()}
	}
	return out, nil
}
