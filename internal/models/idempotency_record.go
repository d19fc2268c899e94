package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	IdempotencyStatusProcessing = "PROCESSING"
	IdempotencyStatusCompleted  = "COMPLETED"
	IdempotencyStatusFailed     = "FAILED"
)

// IdempotencyRecord is the coordination primitive for at-most-once
// execution: the primary key's uniqueness constraint is the lock. COMPLETED
// rows are permanent and serve cached replies; FAILED rows are deleted to
// permit a retry; PROCESSING rows carry a lease so a crashed holder does
// not wedge the key forever.
type IdempotencyRecord struct {
	CompositeKey string `gorm:"primaryKey;type:varchar(300)"`
	Scope        string `gorm:"type:varchar(100);not null;index"`

	Status        string         `gorm:"type:varchar(20);not null;default:'PROCESSING'"`
	ResultHash    string         `gorm:"type:varchar(64)"`
	ResultPayload datatypes.JSON `gorm:"type:jsonb"`
	FailureReason string         `gorm:"type:text"`

	LeaseExpiresAt time.Time `gorm:"type:timestamptz;not null"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (IdempotencyRecord) TableName() string {
	return "idempotency_records"
}
