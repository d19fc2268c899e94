package models

import (
	"time"
)

// StakeholderShare is one stakeholder's slice of a well's revenue, in basis
// points. Position is assigned once at creation and never changes: payout
// distribution sorts by it, so the same share set always produces the same
// allocation regardless of row retrieval order. The unique (well_id,
// position) index makes two concurrent creations racing to the same slot a
// constraint violation instead of silently duplicated positions.
type StakeholderShare struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	WellID uint64 `gorm:"not null;index:idx_shares_well_account,unique;index:idx_shares_well_position,unique" json:"well_id"`

	AccountRef string `gorm:"type:varchar(100);not null;index:idx_shares_well_account,unique" json:"account_ref"`
	ShareBps   uint16 `gorm:"not null" json:"share_bps"`
	Position   int64  `gorm:"not null;index:idx_shares_well_position,unique" json:"position"`

	Active bool `gorm:"not null;default:true;index" json:"active"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updated_at"`
}

func (StakeholderShare) TableName() string {
	return "stakeholder_shares"
}
