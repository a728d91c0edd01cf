package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"pricecontest/internal/contest"
	"pricecontest/internal/repository"
)

type StatsService struct {
	Repo repository.Repository
}

type BucketView struct {
	Key     string  `json:"key"`
	Average float64 `json:"avg"`
	Count   int     `json:"count"`
}

type UserStatsView struct {
	UserID                  string       `json:"user_id"`
	Username                string       `json:"username"`
	TotalParticipations     int          `json:"total_participations"`
	LifetimeAverageAccuracy float64      `json:"lifetime_average_accuracy"`
	Quarterly               []BucketView `json:"quarterly"`
	Yearly                  []BucketView `json:"yearly"`
}

// UserStats returns nil when the user never submitted or settled anything.
func (s *StatsService) UserStats(ctx context.Context, userID string) (*UserStatsView, error) {
	if s == nil || s.Repo == nil {
		return nil, nil
	}
	row, err := s.Repo.GetUserStats(ctx, userID)
	if err != nil || row == nil {
		return nil, err
	}
	st, err := row.ToStats()
	if err != nil {
		return nil, fmt.Errorf("decode stats for %s: %w", userID, err)
	}
	return &UserStatsView{
		UserID:                  st.UserID,
		Username:                st.Username,
		TotalParticipations:     st.Lifetime.Count,
		LifetimeAverageAccuracy: st.Lifetime.Average,
		Quarterly:               bucketViews(st.Quarterly),
		Yearly:                  bucketViews(st.Yearly),
	}, nil
}

// Text renders the stats for chat and CLI replies, newest buckets first.
func (v *UserStatsView) Text() string {
	if v == nil {
		return "No stats yet."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s\nWeeks played: %d\nLifetime Avg Accuracy: %.2f%%", v.Username, v.TotalParticipations, v.LifetimeAverageAccuracy)
	for _, q := range v.Quarterly {
		fmt.Fprintf(&b, "\n%s: %.2f%% (%d)", q.Key, q.Average, q.Count)
	}
	for _, y := range v.Yearly {
		fmt.Fprintf(&b, "\n%s: %.2f%% (%d)", y.Key, y.Average, y.Count)
	}
	return b.String()
}

func bucketViews(in map[string]contest.Bucket) []BucketView {
	out := make([]BucketView, 0, len(in))
	for k, b := range in {
		out = append(out, BucketView{Key: k, Average: b.Average, Count: b.Count})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key > out[j].Key })
	return out
}
