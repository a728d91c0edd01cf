package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Prediction is one user's price call for one asset in one period.
// Actual and Accuracy stay NULL until the row is settled; Status moves pending -> settled|unavailable once.
type Prediction struct {
	Period string `gorm:"type:varchar(10);primaryKey;index:idx_predictions_period_status,priority:1"`
	UserID string `gorm:"type:varchar(64);primaryKey"`
	Asset  string `gorm:"type:varchar(16);primaryKey"`

	Predicted decimal.Decimal  `gorm:"type:numeric(30,10);not null"`
	Actual    *decimal.Decimal `gorm:"type:numeric(30,10)"`
	Accuracy  *float64

	Status string `gorm:"type:varchar(16);not null;default:pending;index:idx_predictions_period_status,priority:2"`

	// Claim columns make a settlement run the only writer of the rows it picked up.
	ClaimToken *string `gorm:"type:varchar(64);index"`
	ClaimedAt  *time.Time

	SettledAt *time.Time
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (Prediction) TableName() string {
	return "predictions"
}

// Submission marks that a user handed in their batch for a period. Its primary key is the
// per-user-per-period uniqueness guard.
type Submission struct {
	Period    string    `gorm:"type:varchar(10);primaryKey"`
	UserID    string    `gorm:"type:varchar(64);primaryKey"`
	Username  string    `gorm:"type:varchar(120)"`
	Assets    int       `gorm:"not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (Submission) TableName() string {
	return "submissions"
}
