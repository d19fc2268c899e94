package models

import (
	"time"

	"gorm.io/datatypes"
)

// SyncCursor is the resume point for one consensus topic: the consensus
// timestamp (nanoseconds since epoch) of the last durably ingested message.
// It only advances after a full page is persisted, and only moves backward
// through an explicit cursor reset.
type SyncCursor struct {
	TopicID            string `gorm:"primaryKey;type:varchar(100)"`
	LastConsensusNanos int64  `gorm:"not null;default:0"`

	LastSuccessAt *time.Time     `gorm:"type:timestamptz"`
	LastAttemptAt *time.Time     `gorm:"type:timestamptz"`
	LastError     *string        `gorm:"type:text"`
	StatsJSON     datatypes.JSON `gorm:"type:jsonb"`
}

func (SyncCursor) TableName() string {
	return "sync_cursors"
}
