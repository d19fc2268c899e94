package models

import (
	"time"
)

// Well is one tokenized water-well asset. Each well has its own consensus
// topic mirroring on-ledger activity, and a treasury account that holds
// revenue before distribution.
type Well struct {
	ID   uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	Code string `gorm:"type:varchar(50);not null;uniqueIndex" json:"code"`
	Name string `gorm:"type:varchar(200);not null" json:"name"`

	Location        string `gorm:"type:varchar(200)" json:"location"`
	TreasuryAccount string `gorm:"type:varchar(100);not null" json:"treasury_account"`
	TopicID         string `gorm:"type:varchar(100);not null;index" json:"topic_id"`

	Active bool `gorm:"not null;default:true;index" json:"active"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updated_at"`
}

func (Well) TableName() string {
	return "wells"
}
