package contest

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// UnavailablePolicy decides how a prediction is scored when the oracle has no price for its asset.
type UnavailablePolicy string

const (
	// PolicyExcludeAsset leaves the asset out of the user's mean and marks the row unavailable.
	PolicyExcludeAsset UnavailablePolicy = "exclude_asset"
	// PolicyZero scores against a zero price, which always yields accuracy 0.
	PolicyZero UnavailablePolicy = "zero"
)

func ParseUnavailablePolicy(raw string) (UnavailablePolicy, error) {
	switch UnavailablePolicy(raw) {
	case "", PolicyExcludeAsset:
		return PolicyExcludeAsset, nil
	case PolicyZero:
		return PolicyZero, nil
	default:
		return "", fmt.Errorf("unknown unavailable policy %q", raw)
	}
}

type PredictionStatus string

const (
	StatusPending     PredictionStatus = "pending"
	StatusSettled     PredictionStatus = "settled"
	StatusUnavailable PredictionStatus = "unavailable"
)

// Quote is the oracle's answer for one asset.
type Quote struct {
	Price     decimal.Decimal
	Available bool
}

// Quotes maps asset symbol to quote.
type Quotes map[string]Quote

// Price returns the quote for symbol, or ErrPriceUnavailable.
func (q Quotes) Price(symbol string) (decimal.Decimal, error) {
	quote, ok := q[symbol]
	if !ok || !quote.Available {
		return decimal.Decimal{}, ErrPriceUnavailable
	}
	return quote.Price, nil
}

// PendingPrediction is a claimed row waiting to be scored.
type PendingPrediction struct {
	UserID    string
	Asset     string
	Predicted decimal.Decimal
}

// ScoredPrediction is the write-back for one row.
type ScoredPrediction struct {
	UserID    string
	Asset     string
	Predicted decimal.Decimal
	Actual    *decimal.Decimal
	Accuracy  *float64
	Status    PredictionStatus
}

// UserResult is one participant's outcome for the period.
type UserResult struct {
	UserID string
	Mean   float64
	Assets []ScoredPrediction
}

// Result is the output of one scoring pass.
type Result struct {
	Rows        []ScoredPrediction
	Users       map[string]*UserResult
	Unavailable []string
}

// Score computes accuracy for every pending row and one mean per user over the assets scored for
// that user. Users whose assets were all unavailable are left out of Users.
func Score(rows []PendingPrediction, quotes Quotes, policy UnavailablePolicy) Result {
	res := Result{
		Rows:  make([]ScoredPrediction, 0, len(rows)),
		Users: map[string]*UserResult{},
	}
	unavailable := map[string]struct{}{}
	sums := map[string]float64{}
	counts := map[string]int{}

	for _, row := range rows {
		scored := ScoredPrediction{
			UserID:    row.UserID,
			Asset:     row.Asset,
			Predicted: row.Predicted,
		}
		actual, err := quotes.Price(row.Asset)
		if err != nil {
			unavailable[row.Asset] = struct{}{}
			if policy == PolicyZero {
				actual = decimal.Zero
				err = nil
			}
		}
		if err != nil {
			scored.Status = StatusUnavailable
			res.Rows = append(res.Rows, scored)
			continue
		}
		acc := Accuracy(row.Predicted, actual)
		scored.Actual = &actual
		scored.Accuracy = &acc
		scored.Status = StatusSettled
		res.Rows = append(res.Rows, scored)

		ur, ok := res.Users[row.UserID]
		if !ok {
			ur = &UserResult{UserID: row.UserID}
			res.Users[row.UserID] = ur
		}
		ur.Assets = append(ur.Assets, scored)
		sums[row.UserID] += acc
		counts[row.UserID]++
	}

	for id, ur := range res.Users {
		ur.Mean = sums[id] / float64(counts[id])
		sort.Slice(ur.Assets, func(i, j int) bool { return ur.Assets[i].Asset < ur.Assets[j].Asset })
	}
	for asset := range unavailable {
		res.Unavailable = append(res.Unavailable, asset)
	}
	sort.Strings(res.Unavailable)
	return res
}
