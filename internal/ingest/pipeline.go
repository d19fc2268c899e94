package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"waternity/internal/client/mirror"
	"waternity/internal/models"
)

var ErrNegativePosition = errors.New("ingest: cursor position is negative")

// MessageSource is the pull side of the external consensus log.
// mirror.Client satisfies it.
type MessageSource interface {
	MessagesAfter(ctx context.Context, topicID string, afterNanos int64, limit int) ([]mirror.TopicMessage, error)
}

// Store is the persistence surface of the pipeline. UpsertIngestedEvents
// must dedup on message id and report how many rows were actually inserted.
type Store interface {
	GetSyncCursor(ctx context.Context, topicID string) (*models.SyncCursor, error)
	SaveSyncCursor(ctx context.Context, cursor *models.SyncCursor) error
	// TouchSyncCursorError records a failed attempt without touching the
	// cursor position.
	TouchSyncCursorError(ctx context.Context, topicID string, errMsg string) error
	UpsertIngestedEvents(ctx context.Context, items []models.IngestedEvent) (int64, error)
}

// Pipeline mirrors an append-only consensus topic into local storage,
// resuming from a persisted cursor. Page persistence and the cursor advance
// are two ordered writes — page first — so a crash in between only costs a
// harmless re-upsert of the same page on the next run.
//
// Not safe for concurrent calls on the same topic: callers serialize sync
// invocations per topic (the cron runner does this with a skip-if-running
// job wrapper).
type Pipeline struct {
	Store  Store
	Source MessageSource
	Logger *zap.Logger

	// MaxPages bounds how many pages one SyncTopic call walks.
	MaxPages int
}

type SyncResult struct {
	TopicID            string `json:"topic_id"`
	Pages              int    `json:"pages"`
	Fetched            int    `json:"fetched"`
	NewCount           int64  `json:"new_count"`
	LastConsensusNanos int64  `json:"last_consensus_nanos"`
	Done               bool   `json:"done"`
}

// SyncTopic pulls and persists messages strictly after the topic's cursor.
// On any fetch or persistence error the cursor is left where it was, so the
// next invocation replays the same window.
func (p *Pipeline) SyncTopic(ctx context.Context, topicID string, pageLimit int) (SyncResult, error) {
	result := SyncResult{TopicID: topicID}
	pageLimit = normalizePageLimit(pageLimit)
	maxPages := p.MaxPages
	if maxPages <= 0 {
		maxPages = 1
	}

	cursor, err := p.Store.GetSyncCursor(ctx, topicID)
	if err != nil {
		return result, fmt.Errorf("load cursor: %w", err)
	}
	after := int64(0)
	if cursor != nil {
		after = cursor.LastConsensusNanos
	}
	result.LastConsensusNanos = after

	for page := 0; page < maxPages; page++ {
		msgs, err := p.Source.MessagesAfter(ctx, topicID, after, pageLimit)
		if err != nil {
			p.writeSyncError(ctx, topicID, err)
			return result, fmt.Errorf("fetch topic %s: %w", topicID, err)
		}
		if len(msgs) == 0 {
			result.Done = true
			break
		}

		events := make([]models.IngestedEvent, 0, len(msgs))
		lastNanos := after
		for _, msg := range msgs {
			nanos, err := mirror.ParseTimestamp(msg.ConsensusTimestamp)
			if err != nil {
				// A message without a readable consensus position cannot be
				// ordered; that is wire corruption, not a payload problem.
				p.writeSyncError(ctx, topicID, err)
				return result, fmt.Errorf("topic %s seq %d: %w", topicID, msg.SequenceNumber, err)
			}
			parsed := ParseMessage(msg.Message)
			events = append(events, models.IngestedEvent{
				MessageID:      topicID + "-" + strconv.FormatInt(msg.SequenceNumber, 10),
				TopicID:        topicID,
				Type:           parsed.Type,
				ConsensusNanos: nanos,
				SequenceNumber: msg.SequenceNumber,
				RunningHash:    msg.RunningHash,
				Payload:        datatypes.JSON(parsed.Payload),
			})
			lastNanos = nanos
		}

		inserted, err := p.Store.UpsertIngestedEvents(ctx, events)
		if err != nil {
			p.writeSyncError(ctx, topicID, err)
			return result, fmt.Errorf("persist topic %s page: %w", topicID, err)
		}

		// Page is durable; only now may the cursor move.
		now := time.Now().UTC()
		if err := p.Store.SaveSyncCursor(ctx, &models.SyncCursor{
			TopicID:            topicID,
			LastConsensusNanos: lastNanos,
			LastAttemptAt:      &now,
			LastSuccessAt:      &now,
			LastError:          nil,
			StatsJSON:          statsJSON(len(msgs), inserted),
		}); err != nil {
			return result, fmt.Errorf("advance cursor for topic %s: %w", topicID, err)
		}

		result.Pages++
		result.Fetched += len(msgs)
		result.NewCount += inserted
		result.LastConsensusNanos = lastNanos
		after = lastNanos
		if len(msgs) < pageLimit {
			result.Done = true
			break
		}
	}

	return result, nil
}

// ResetCursor moves a topic's cursor to an arbitrary position (0 replays
// from the epoch). This is the only sanctioned non-monotonic cursor move
// and is exposed as a separately authorized administrative operation.
func (p *Pipeline) ResetCursor(ctx context.Context, topicID string, newNanos int64) error {
	if newNanos < 0 {
		return ErrNegativePosition
	}
	now := time.Now().UTC()
	if err := p.Store.SaveSyncCursor(ctx, &models.SyncCursor{
		TopicID:            topicID,
		LastConsensusNanos: newNanos,
		LastAttemptAt:      &now,
		LastError:          nil,
	}); err != nil {
		return fmt.Errorf("reset cursor for topic %s: %w", topicID, err)
	}
	if p.Logger != nil {
		p.Logger.Info("cursor reset",
			zap.String("topic_id", topicID),
			zap.Int64("position_nanos", newNanos))
	}
	return nil
}

// writeSyncError records attempt bookkeeping without moving the cursor.
func (p *Pipeline) writeSyncError(ctx context.Context, topicID string, cause error) {
	if p.Logger != nil {
		p.Logger.Warn("topic sync failed",
			zap.String("topic_id", topicID),
			zap.Error(cause))
	}
	if err := p.Store.TouchSyncCursorError(ctx, topicID, cause.Error()); err != nil && p.Logger != nil {
		p.Logger.Warn("sync error bookkeeping failed",
			zap.String("topic_id", topicID),
			zap.Error(err))
	}
}

func statsJSON(fetched int, inserted int64) datatypes.JSON {
	raw, err := json.Marshal(map[string]int64{
		"fetched":  int64(fetched),
		"inserted": inserted,
	})
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}

func normalizePageLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}
