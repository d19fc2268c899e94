package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"waternity/internal/models"
)

// Repository is the full persistence surface of the service. The core
// packages (payout, idempotency, ingest, settlement) each declare their own
// narrow view of it; this interface is what the handlers and process wiring
// see.
type Repository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error

	// Wells and stakeholder shares.
	UpsertWell(ctx context.Context, item *models.Well) error
	GetWellByID(ctx context.Context, id uint64) (*models.Well, error)
	GetWellByCode(ctx context.Context, code string) (*models.Well, error)
	ListWells(ctx context.Context, params ListWellsParams) ([]models.Well, error)
	CountWells(ctx context.Context, params ListWellsParams) (int64, error)
	ListActiveWellTopics(ctx context.Context) ([]models.Well, error)
	UpsertStakeholderShare(ctx context.Context, item *models.StakeholderShare) error
	ListSharesByWellID(ctx context.Context, wellID uint64) ([]models.StakeholderShare, error)
	ListActiveSharesByWellID(ctx context.Context, wellID uint64) ([]models.StakeholderShare, error)
	NextSharePosition(ctx context.Context, wellID uint64) (int64, error)

	// Settlements and payouts.
	CreateSettlementTx(ctx context.Context, tx *gorm.DB, item *models.Settlement) error
	GetSettlementByID(ctx context.Context, id uint64) (*models.Settlement, error)
	ListSettlements(ctx context.Context, params ListSettlementsParams) ([]models.Settlement, error)
	CountSettlements(ctx context.Context, params ListSettlementsParams) (int64, error)
	UpdateSettlementTx(ctx context.Context, tx *gorm.DB, id uint64, updates map[string]any) error
	CreatePayoutsTx(ctx context.Context, tx *gorm.DB, items []models.Payout) error
	ListPayoutsBySettlementID(ctx context.Context, settlementID uint64) ([]models.Payout, error)
	CountPayoutsBySettlementID(ctx context.Context, settlementID uint64) (int64, error)
	UpdatePayoutTx(ctx context.Context, tx *gorm.DB, id uint64, updates map[string]any) error

	// Idempotency records (the coordinator's lock/memo rows).
	GetIdempotencyRecord(ctx context.Context, compositeKey string) (*models.IdempotencyRecord, error)
	InsertIdempotencyRecord(ctx context.Context, rec *models.IdempotencyRecord) (bool, error)
	CompleteIdempotencyRecord(ctx context.Context, compositeKey string, resultHash string, payload []byte) error
	FailIdempotencyRecord(ctx context.Context, compositeKey string, reason string) error
	DeleteIdempotencyRecord(ctx context.Context, compositeKey string) error

	// Topic ingestion.
	GetSyncCursor(ctx context.Context, topicID string) (*models.SyncCursor, error)
	SaveSyncCursor(ctx context.Context, cursor *models.SyncCursor) error
	TouchSyncCursorError(ctx context.Context, topicID string, errMsg string) error
	ListSyncCursors(ctx context.Context) ([]models.SyncCursor, error)
	UpsertIngestedEvents(ctx context.Context, items []models.IngestedEvent) (int64, error)
	ListIngestedEvents(ctx context.Context, params ListIngestedEventsParams) ([]models.IngestedEvent, error)
	CountIngestedEvents(ctx context.Context, params ListIngestedEventsParams) (int64, error)
}

type ListWellsParams struct {
	Limit   int
	Offset  int
	Active  *bool
	Code    *string
	OrderBy string
	Asc     *bool
}

type ListSettlementsParams struct {
	Limit   int
	Offset  int
	WellID  *uint64
	Status  *string
	Since   *time.Time
	Until   *time.Time
	OrderBy string
	Asc     *bool
}

type ListIngestedEventsParams struct {
	Limit   int
	Offset  int
	TopicID *string
	Type    *string
	Since   *time.Time
	OrderBy string
	Asc     *bool
}
