package oracle

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"pricecontest/internal/contest"
)

// Chain asks each source in turn for the assets the previous ones could not price.
type Chain struct {
	Sources []Oracle
	Logger  *zap.Logger
}

func NewChain(logger *zap.Logger, sources ...Oracle) Oracle {
	out := make([]Oracle, 0, len(sources))
	for _, s := range sources {
		if s != nil {
			out = append(out, s)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return &Chain{Sources: out, Logger: logger}
}

// Quotes returns an error only when no source answered at all.
func (c *Chain) Quotes(ctx context.Context, assets contest.AssetSet) (contest.Quotes, error) {
	if len(assets) == 0 {
		return contest.Quotes{}, nil
	}
	out := make(contest.Quotes, len(assets))
	for _, a := range assets {
		out[a.Symbol] = contest.Quote{}
	}
	pending := assets
	answered := false
	var errs []error
	for i, src := range c.Sources {
		if len(pending) == 0 {
			break
		}
		quotes, err := src.Quotes(ctx, pending)
		if err != nil {
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		answered = true
		var still contest.AssetSet
		for _, a := range pending {
			if q, ok := quotes[a.Symbol]; ok && q.Available {
				out[a.Symbol] = q
				continue
			}
			still = append(still, a)
		}
		if i > 0 && len(still) < len(pending) && c.Logger != nil {
			c.Logger.Info("fallback oracle filled prices", zap.Int("source", i), zap.Int("filled", len(pending)-len(still)))
		}
		pending = still
	}
	if !answered {
		if len(errs) == 0 {
			return nil, errors.New("no price source configured")
		}
		return nil, errors.Join(errs...)
	}
	return out, nil
}
