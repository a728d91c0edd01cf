package contest

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

const DefaultLeaderboardSize = 10

type LeaderboardEntry struct {
	Rank     int                `json:"rank"`
	UserID   string             `json:"user_id"`
	Username string             `json:"username"`
	Mean     float64            `json:"mean_accuracy"`
	Assets   []LeaderboardAsset `json:"assets"`
}

type LeaderboardAsset struct {
	Asset     string          `json:"asset"`
	Predicted decimal.Decimal `json:"predicted"`
	Actual    decimal.Decimal `json:"actual"`
	Accuracy  float64         `json:"accuracy"`
}

type AssetPrice struct {
	Asset     string          `json:"asset"`
	Price     decimal.Decimal `json:"price"`
	Available bool            `json:"available"`
}

type Leaderboard struct {
	Period       Period             `json:"period"`
	Participants int                `json:"participants"`
	Prices       []AssetPrice       `json:"prices"`
	Entries      []LeaderboardEntry `json:"entries"`
}

// BuildLeaderboard ranks users by mean accuracy, highest first, ties by user id, keeping the top
// limit. Prices lists every tracked asset whether or not anyone predicted it.
func BuildLeaderboard(period Period, users map[string]*UserResult, quotes Quotes, assets AssetSet, names map[string]string, limit int) *Leaderboard {
	if limit <= 0 {
		limit = DefaultLeaderboardSize
	}
	lb := &Leaderboard{Period: period, Participants: len(users)}
	for _, a := range assets {
		q := quotes[a.Symbol]
		lb.Prices = append(lb.Prices, AssetPrice{Asset: a.Symbol, Price: q.Price, Available: q.Available})
	}

	ranked := make([]*UserResult, 0, len(users))
	for _, ur := range users {
		ranked = append(ranked, ur)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Mean != ranked[j].Mean {
			return ranked[i].Mean > ranked[j].Mean
		}
		return ranked[i].UserID < ranked[j].UserID
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	for i, ur := range ranked {
		entry := LeaderboardEntry{
			Rank:     i + 1,
			UserID:   ur.UserID,
			Username: names[ur.UserID],
			Mean:     ur.Mean,
		}
		if entry.Username == "" {
			entry.Username = ur.UserID
		}
		assetsSorted := append([]ScoredPrediction(nil), ur.Assets...)
		sort.Slice(assetsSorted, func(a, b int) bool { return assetsSorted[a].Asset < assetsSorted[b].Asset })
		for _, sp := range assetsSorted {
			if sp.Actual == nil || sp.Accuracy == nil {
				continue
			}
			entry.Assets = append(entry.Assets, LeaderboardAsset{
				Asset:     sp.Asset,
				Predicted: sp.Predicted,
				Actual:    *sp.Actual,
				Accuracy:  *sp.Accuracy,
			})
		}
		lb.Entries = append(lb.Entries, entry)
	}
	return lb
}

// PricesText renders the actual price block.
func (lb *Leaderboard) PricesText() string {
	lines := make([]string, 0, len(lb.Prices))
	for _, p := range lb.Prices {
		if !p.Available {
			lines = append(lines, fmt.Sprintf("%s: n/a", p.Asset))
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: $%s", p.Asset, p.Price.StringFixed(2)))
	}
	return strings.Join(lines, "\n")
}

// EntryText renders one ranked user's block.
func (e LeaderboardEntry) EntryText() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Avg Accuracy: %.2f%%", e.Mean)
	for _, a := range e.Assets {
		fmt.Fprintf(&b, "\n%s: Pred $%s / Actual $%s (Acc: %.2f%%)",
			a.Asset, a.Predicted.StringFixed(2), a.Actual.StringFixed(2), a.Accuracy)
	}
	return b.String()
}

func (e LeaderboardEntry) Title() string {
	return fmt.Sprintf("#%d %s", e.Rank, e.Username)
}

// Text renders the whole leaderboard as plain text.
func (lb *Leaderboard) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Weekly Prediction Results (%s)\n\nActual Prices\n%s", lb.Period, lb.PricesText())
	for _, e := range lb.Entries {
		fmt.Fprintf(&b, "\n\n%s\n%s", e.Title(), e.EntryText())
	}
	return b.String()
}
