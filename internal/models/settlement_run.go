package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	SettlementOutcomeSettled       = "settled"
	SettlementOutcomeNoPredictions = "no_predictions"
	SettlementOutcomeInProgress    = "in_progress"
	SettlementOutcomeFailed        = "failed"
)

// SettlementRun is the audit trail of one settle invocation.
type SettlementRun struct {
	ID      uint64 `gorm:"primaryKey;autoIncrement"`
	Period  string `gorm:"type:varchar(10);not null;index"`
	Trigger string `gorm:"type:varchar(64);not null"`
	Outcome string `gorm:"type:varchar(20);not null;index"`

	ClaimToken string `gorm:"type:varchar(64)"`
	RowCount   int    `gorm:"not null;default:0"`
	UserCount  int    `gorm:"not null;default:0"`

	// JSON array of asset symbols the oracle had no price for.
	Unavailable datatypes.JSON
	LastError   *string `gorm:"type:text"`

	StartedAt  time.Time `gorm:"not null;index"`
	FinishedAt *time.Time
}

func (SettlementRun) TableName() string {
	return "settlement_runs"
}
