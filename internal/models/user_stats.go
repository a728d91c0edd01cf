package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"pricecontest/internal/contest"
)

// UserStats is the running accuracy record of one participant.
// QuarterlyAccuracies and YearlyAccuracies hold {"<key>": {"avg": x, "count": n}}.
type UserStats struct {
	UserID   string `gorm:"type:varchar(64);primaryKey"`
	Username string `gorm:"type:varchar(120)"`

	TotalParticipations     int     `gorm:"not null;default:0"`
	LifetimeAverageAccuracy float64 `gorm:"not null;default:0"`

	QuarterlyAccuracies datatypes.JSON
	YearlyAccuracies    datatypes.JSON

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (UserStats) TableName() string {
	return "user_stats"
}

// ToStats decodes the row. Empty bucket columns decode as empty maps.
func (u UserStats) ToStats() (contest.Stats, error) {
	s := contest.Stats{
		UserID:   u.UserID,
		Username: u.Username,
		Lifetime: contest.Bucket{
			Average: u.LifetimeAverageAccuracy,
			Count:   u.TotalParticipations,
		},
		Quarterly: map[string]contest.Bucket{},
		Yearly:    map[string]contest.Bucket{},
	}
	if err := decodeBuckets(u.QuarterlyAccuracies, s.Quarterly); err != nil {
		return contest.Stats{}, err
	}
	if err := decodeBuckets(u.YearlyAccuracies, s.Yearly); err != nil {
		return contest.Stats{}, err
	}
	return s, nil
}

// SetStats encodes s into the row, replacing all accuracy columns together.
func (u *UserStats) SetStats(s contest.Stats) error {
	q, err := json.Marshal(nonNil(s.Quarterly))
	if err != nil {
		return err
	}
	y, err := json.Marshal(nonNil(s.Yearly))
	if err != nil {
		return err
	}
	u.TotalParticipations = s.Lifetime.Count
	u.LifetimeAverageAccuracy = s.Lifetime.Average
	u.QuarterlyAccuracies = datatypes.JSON(q)
	u.YearlyAccuracies = datatypes.JSON(y)
	return nil
}

func decodeBuckets(raw datatypes.JSON, into map[string]contest.Bucket) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, &into)
}

func nonNil(m map[string]contest.Bucket) map[string]contest.Bucket {
	if m == nil {
		return map[string]contest.Bucket{}
	}
	return m
}
