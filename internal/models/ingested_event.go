package models

import (
	"time"

	"gorm.io/datatypes"
)

// IngestedEvent is the local mirror of one consensus-topic message.
// MessageID is the external message identity; redelivery of a seen id is a
// no-op upsert.
type IngestedEvent struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	MessageID string `gorm:"type:varchar(150);not null;uniqueIndex"`
	TopicID   string `gorm:"type:varchar(100);not null;index"`

	Type           string `gorm:"type:varchar(50);not null;index"`
	ConsensusNanos int64  `gorm:"not null;index"`
	SequenceNumber int64  `gorm:"not null"`
	RunningHash    string `gorm:"type:varchar(200)"`

	Payload datatypes.JSON `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (IngestedEvent) TableName() string {
	return "ingested_events"
}
