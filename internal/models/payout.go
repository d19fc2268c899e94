package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PayoutStatusPending  = "PENDING"
	PayoutStatusExecuted = "EXECUTED"
	PayoutStatusFailed   = "FAILED"
)

// Payout is one recipient's computed (and later executed) share of a
// settlement. One row per non-zero allocation; the sum over a settlement's
// payouts equals the settlement's gross revenue.
type Payout struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	SettlementID uint64 `gorm:"not null;index:idx_payouts_settlement_recipient,unique" json:"settlement_id"`

	RecipientAccount string          `gorm:"type:varchar(100);not null;index:idx_payouts_settlement_recipient,unique" json:"recipient_account"`
	AssetType        string          `gorm:"type:varchar(20);not null;default:'HBAR'" json:"asset_type"`
	Amount           decimal.Decimal `gorm:"type:numeric(30,10);not null" json:"amount"`

	Status        string `gorm:"type:varchar(20);not null;default:'PENDING';index" json:"status"`
	ExternalTxRef string `gorm:"type:varchar(200)" json:"external_tx_ref,omitempty"`
	FailureReason string `gorm:"type:text" json:"failure_reason,omitempty"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updated_at"`
}

func (Payout) TableName() string {
	return "payouts"
}
