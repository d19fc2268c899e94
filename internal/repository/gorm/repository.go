package gormrepository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"waternity/internal/models"
	"waternity/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

// conn picks the transaction handle when one is open, the pool otherwise.
func (s *Store) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return s.db
}

// --- wells & shares ---------------------------------------------------------

func (s *Store) UpsertWell(ctx context.Context, item *models.Well) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if strings.TrimSpace(item.Code) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "code"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name",
			"location",
			"treasury_account",
			"topic_id",
			"active",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) GetWellByID(ctx context.Context, id uint64) (*models.Well, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, nil
	}
	var item models.Well
	err := s.db.WithContext(ctx).Model(&models.Well{}).Where("id = ?", id).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetWellByCode(ctx context.Context, code string) (*models.Well, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, nil
	}
	var item models.Well
	err := s.db.WithContext(ctx).Model(&models.Well{}).Where("code = ?", code).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListWells(ctx context.Context, params repository.ListWellsParams) ([]models.Well, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.wellsQuery(ctx, params)
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at")
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.Well
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountWells(ctx context.Context, params repository.ListWellsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var count int64
	if err := s.wellsQuery(ctx, params).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) wellsQuery(ctx context.Context, params repository.ListWellsParams) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.Well{})
	if params.Active != nil {
		query = query.Where("active = ?", *params.Active)
	}
	if params.Code != nil && strings.TrimSpace(*params.Code) != "" {
		query = query.Where("code = ?", strings.TrimSpace(*params.Code))
	}
	return query
}

func (s *Store) ListActiveWellTopics(ctx context.Context) ([]models.Well, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Well
	if err := s.db.WithContext(ctx).
		Model(&models.Well{}).
		Where("active = ?", true).
		Where("topic_id <> ''").
		Order("id asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpsertStakeholderShare(ctx context.Context, item *models.StakeholderShare) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if item.WellID == 0 || strings.TrimSpace(item.AccountRef) == "" {
		return nil
	}
	// Position is immutable once assigned: the conflict update deliberately
	// leaves it out.
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "well_id"}, {Name: "account_ref"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"share_bps",
			"active",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) ListSharesByWellID(ctx context.Context, wellID uint64) ([]models.StakeholderShare, error) {
	if s == nil || s.db == nil || wellID == 0 {
		return nil, nil
	}
	var items []models.StakeholderShare
	if err := s.db.WithContext(ctx).
		Model(&models.StakeholderShare{}).
		Where("well_id = ?", wellID).
		Order("position asc, account_ref asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListActiveSharesByWellID(ctx context.Context, wellID uint64) ([]models.StakeholderShare, error) {
	if s == nil || s.db == nil || wellID == 0 {
		return nil, nil
	}
	var items []models.StakeholderShare
	if err := s.db.WithContext(ctx).
		Model(&models.StakeholderShare{}).
		Where("well_id = ?", wellID).
		Where("active = ?", true).
		Order("position asc, account_ref asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) NextSharePosition(ctx context.Context, wellID uint64) (int64, error) {
	if s == nil || s.db == nil || wellID == 0 {
		return 0, nil
	}
	var max sql.NullInt64
	if err := s.db.WithContext(ctx).
		Model(&models.StakeholderShare{}).
		Where("well_id = ?", wellID).
		Select("MAX(position)").
		Scan(&max).Error; err != nil {
		return 0, err
	}
	if !max.Valid {
		return 1, nil
	}
	return max.Int64 + 1, nil
}

// --- settlements & payouts --------------------------------------------------

func (s *Store) CreateSettlementTx(ctx context.Context, tx *gorm.DB, item *models.Settlement) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.conn(tx).WithContext(ctx).Create(item).Error
}

func (s *Store) GetSettlementByID(ctx context.Context, id uint64) (*models.Settlement, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, nil
	}
	var item models.Settlement
	err := s.db.WithContext(ctx).Model(&models.Settlement{}).Where("id = ?", id).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListSettlements(ctx context.Context, params repository.ListSettlementsParams) ([]models.Settlement, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.settlementsQuery(ctx, params)
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at")
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.Settlement
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountSettlements(ctx context.Context, params repository.ListSettlementsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var count int64
	if err := s.settlementsQuery(ctx, params).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) settlementsQuery(ctx context.Context, params repository.ListSettlementsParams) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.Settlement{})
	if params.WellID != nil && *params.WellID > 0 {
		query = query.Where("well_id = ?", *params.WellID)
	}
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.ToUpper(strings.TrimSpace(*params.Status)))
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("created_at >= ?", *params.Since)
	}
	if params.Until != nil && !params.Until.IsZero() {
		query = query.Where("created_at < ?", *params.Until)
	}
	return query
}

func (s *Store) UpdateSettlementTx(ctx context.Context, tx *gorm.DB, id uint64, updates map[string]any) error {
	if s == nil || s.db == nil || id == 0 || len(updates) == 0 {
		return nil
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	return s.conn(tx).WithContext(ctx).
		Model(&models.Settlement{}).
		Where("id = ?", id).
		Updates(updates).
		Error
}

func (s *Store) CreatePayoutsTx(ctx context.Context, tx *gorm.DB, items []models.Payout) error {
	if s == nil || s.db == nil || len(items) == 0 {
		return nil
	}
	return s.conn(tx).WithContext(ctx).Create(&items).Error
}

func (s *Store) ListPayoutsBySettlementID(ctx context.Context, settlementID uint64) ([]models.Payout, error) {
	if s == nil || s.db == nil || settlementID == 0 {
		return nil, nil
	}
	var items []models.Payout
	if err := s.db.WithContext(ctx).
		Model(&models.Payout{}).
		Where("settlement_id = ?", settlementID).
		Order("id asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountPayoutsBySettlementID(ctx context.Context, settlementID uint64) (int64, error) {
	if s == nil || s.db == nil || settlementID == 0 {
		return 0, nil
	}
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&models.Payout{}).
		Where("settlement_id = ?", settlementID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) UpdatePayoutTx(ctx context.Context, tx *gorm.DB, id uint64, updates map[string]any) error {
	if s == nil || s.db == nil || id == 0 || len(updates) == 0 {
		return nil
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	return s.conn(tx).WithContext(ctx).
		Model(&models.Payout{}).
		Where("id = ?", id).
		Updates(updates).
		Error
}

// --- idempotency ------------------------------------------------------------

func (s *Store) GetIdempotencyRecord(ctx context.Context, compositeKey string) (*models.IdempotencyRecord, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.IdempotencyRecord
	err := s.db.WithContext(ctx).
		Model(&models.IdempotencyRecord{}).
		Where("composite_key = ?", compositeKey).
		First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// InsertIdempotencyRecord inserts the lock row. The primary-key constraint
// is the mutual-exclusion primitive: DoNothing plus RowsAffected tells this
// caller whether it won the race without raising a duplicate-key error.
func (s *Store) InsertIdempotencyRecord(ctx context.Context, rec *models.IdempotencyRecord) (bool, error) {
	if s == nil || s.db == nil || rec == nil {
		return false, nil
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "composite_key"}},
		DoNothing: true,
	}).Create(rec)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) CompleteIdempotencyRecord(ctx context.Context, compositeKey string, resultHash string, payload []byte) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.IdempotencyRecord{}).
		Where("composite_key = ?", compositeKey).
		Updates(map[string]any{
			"status":         models.IdempotencyStatusCompleted,
			"result_hash":    resultHash,
			"result_payload": payload,
			"updated_at":     time.Now().UTC(),
		}).Error
}

func (s *Store) FailIdempotencyRecord(ctx context.Context, compositeKey string, reason string) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.IdempotencyRecord{}).
		Where("composite_key = ?", compositeKey).
		Updates(map[string]any{
			"status":         models.IdempotencyStatusFailed,
			"failure_reason": reason,
			"updated_at":     time.Now().UTC(),
		}).Error
}

func (s *Store) DeleteIdempotencyRecord(ctx context.Context, compositeKey string) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).
		Where("composite_key = ?", compositeKey).
		Delete(&models.IdempotencyRecord{}).Error
}

// --- topic ingestion --------------------------------------------------------

func (s *Store) GetSyncCursor(ctx context.Context, topicID string) (*models.SyncCursor, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	topicID = strings.TrimSpace(topicID)
	if topicID == "" {
		return nil, nil
	}
	var item models.SyncCursor
	err := s.db.WithContext(ctx).
		Model(&models.SyncCursor{}).
		Where("topic_id = ?", topicID).
		First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) SaveSyncCursor(ctx context.Context, cursor *models.SyncCursor) error {
	if s == nil || s.db == nil || cursor == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "topic_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"last_consensus_nanos",
			"last_success_at",
			"last_attempt_at",
			"last_error",
			"stats_json",
		}),
	}).Create(cursor).Error
}

func (s *Store) TouchSyncCursorError(ctx context.Context, topicID string, errMsg string) error {
	if s == nil || s.db == nil {
		return nil
	}
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).
		Model(&models.SyncCursor{}).
		Where("topic_id = ?", topicID).
		Updates(map[string]any{
			"last_attempt_at": now,
			"last_error":      errMsg,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	// First attempt for this topic failed before any cursor existed.
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "topic_id"}},
		DoNothing: true,
	}).Create(&models.SyncCursor{
		TopicID:       topicID,
		LastAttemptAt: &now,
		LastError:     &errMsg,
	}).Error
}

func (s *Store) ListSyncCursors(ctx context.Context) ([]models.SyncCursor, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.SyncCursor
	if err := s.db.WithContext(ctx).Order("topic_id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// UpsertIngestedEvents persists a page of events, deduplicating on
// message_id. The return value is the number of rows actually inserted,
// taken from the upsert itself rather than any timestamp heuristic.
func (s *Store) UpsertIngestedEvents(ctx context.Context, items []models.IngestedEvent) (int64, error) {
	if s == nil || s.db == nil || len(items) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "message_id"}},
		DoNothing: true,
	}).Create(&items)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (s *Store) ListIngestedEvents(ctx context.Context, params repository.ListIngestedEventsParams) ([]models.IngestedEvent, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.eventsQuery(ctx, params)
	query = applyOrder(query, params.OrderBy, params.Asc, "consensus_nanos")
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.IngestedEvent
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountIngestedEvents(ctx context.Context, params repository.ListIngestedEventsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var count int64
	if err := s.eventsQuery(ctx, params).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) eventsQuery(ctx context.Context, params repository.ListIngestedEventsParams) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.IngestedEvent{})
	if params.TopicID != nil && strings.TrimSpace(*params.TopicID) != "" {
		query = query.Where("topic_id = ?", strings.TrimSpace(*params.TopicID))
	}
	if params.Type != nil && strings.TrimSpace(*params.Type) != "" {
		query = query.Where("type = ?", strings.ToUpper(strings.TrimSpace(*params.Type)))
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("consensus_nanos >= ?", params.Since.UnixNano())
	}
	return query
}

// --- helpers ----------------------------------------------------------------

func applyOrder(query *gorm.DB, orderBy string, asc *bool, fallback string) *gorm.DB {
	column := strings.TrimSpace(orderBy)
	if column == "" {
		column = fallback
	}
	direction := "desc"
	if asc != nil && *asc {
		direction = "asc"
	}
	return query.Order(column + " " + direction)
}

func normalizeLimit(limit int, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

var _ repository.Repository = (*Store)(nil)
