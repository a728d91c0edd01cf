package models

import (
	"testing"

	"pricecontest/internal/contest"
)

func TestUserStats_RoundTrip(t *testing.T) {
	in := contest.Stats{
		UserID:    "u1",
		Lifetime:  contest.Bucket{Average: 91.25, Count: 4},
		Quarterly: map[string]contest.Bucket{"2025-Q1": {Average: 88.5, Count: 3}, "2025-Q2": {Average: 99.5, Count: 1}},
		Yearly:    map[string]contest.Bucket{"2025": {Average: 91.25, Count: 4}},
	}
	var row UserStats
	row.UserID = "u1"
	if err := row.SetStats(in); err != nil {
		t.Fatalf("err=%v", err)
	}
	if row.TotalParticipations != 4 || row.LifetimeAverageAccuracy != 91.25 {
		t.Fatalf("row=%+v", row)
	}
	out, err := row.ToStats()
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if out.Lifetime != in.Lifetime {
		t.Fatalf("lifetime=%+v want=%+v", out.Lifetime, in.Lifetime)
	}
	for k, v := range in.Quarterly {
		if out.Quarterly[k] != v {
			t.Fatalf("quarter %s=%+v want=%+v", k, out.Quarterly[k], v)
		}
	}
	if out.Yearly["2025"] != in.Yearly["2025"] {
		t.Fatalf("year=%+v", out.Yearly)
	}
}

func TestUserStats_EmptyColumns(t *testing.T) {
	s, err := UserStats{UserID: "u2"}.ToStats()
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if s.Quarterly == nil || s.Yearly == nil || len(s.Quarterly) != 0 {
		t.Fatalf("stats=%+v", s)
	}
	var row UserStats
	if err := row.SetStats(contest.Stats{}); err != nil {
		t.Fatalf("err=%v", err)
	}
	if string(row.QuarterlyAccuracies) != "{}" {
		t.Fatalf("quarterly=%s want={}", row.QuarterlyAccuracies)
	}
}

func TestUserStats_LegacyJSONShape(t *testing.T) {
	row := UserStats{
		UserID:              "u3",
		TotalParticipations: 1,
		QuarterlyAccuracies: []byte(`{"2025-Q1": {"avg": 72.5, "count": 1}}`),
		YearlyAccuracies:    []byte(`{"2025": {"avg": 72.5, "count": 1}}`),
	}
	s, err := row.ToStats()
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if s.Quarterly["2025-Q1"].Average != 72.5 || s.Yearly["2025"].Count != 1 {
		t.Fatalf("stats=%+v", s)
	}
}
