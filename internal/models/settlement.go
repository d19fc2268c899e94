package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	SettlementStatusDraft     = "DRAFT"
	SettlementStatusRequested = "REQUESTED"
	SettlementStatusApproved  = "APPROVED"
	SettlementStatusExecuted  = "EXECUTED"
	SettlementStatusFailed    = "FAILED"
	SettlementStatusRejected  = "REJECTED"
	SettlementStatusCancelled = "CANCELLED"
)

// Settlement is one revenue-distribution cycle for a well over a period.
// Rows are immutable once EXECUTED, FAILED, REJECTED or CANCELLED.
type Settlement struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	Ref    string `gorm:"type:varchar(50);not null;uniqueIndex" json:"ref"`
	WellID uint64 `gorm:"not null;index" json:"well_id"`

	PeriodStart time.Time `gorm:"type:timestamptz;not null" json:"period_start"`
	PeriodEnd   time.Time `gorm:"type:timestamptz;not null" json:"period_end"`

	GrossRevenue decimal.Decimal `gorm:"type:numeric(30,10);not null" json:"gross_revenue"`

	Status        string `gorm:"type:varchar(20);not null;default:'DRAFT';index" json:"status"`
	FailureReason string `gorm:"type:text" json:"failure_reason,omitempty"`

	RequestedAt *time.Time `gorm:"type:timestamptz" json:"requested_at,omitempty"`
	ApprovedAt  *time.Time `gorm:"type:timestamptz" json:"approved_at,omitempty"`
	ExecutedAt  *time.Time `gorm:"type:timestamptz" json:"executed_at,omitempty"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updated_at"`
}

func (Settlement) TableName() string {
	return "settlements"
}
