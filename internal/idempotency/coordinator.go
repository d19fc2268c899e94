package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gowebpki/jcs"
	"go.uber.org/zap"

	"waternity/internal/models"
)

var (
	// ErrInProgress signals a live concurrent duplicate: another caller
	// holds the key and has not finished. Retry later; it is neither a
	// success nor a failure of the underlying operation.
	ErrInProgress = errors.New("idempotency: operation already in progress")

	ErrEmptyKey = errors.New("idempotency: empty key")
)

// Store is the persistence surface the coordinator needs. InsertRecord must
// be atomic against the composite-key uniqueness constraint and report
// whether this caller's insert won.
type Store interface {
	GetIdempotencyRecord(ctx context.Context, compositeKey string) (*models.IdempotencyRecord, error)
	InsertIdempotencyRecord(ctx context.Context, rec *models.IdempotencyRecord) (bool, error)
	CompleteIdempotencyRecord(ctx context.Context, compositeKey string, resultHash string, payload []byte) error
	FailIdempotencyRecord(ctx context.Context, compositeKey string, reason string) error
	DeleteIdempotencyRecord(ctx context.Context, compositeKey string) error
}

// Coordinator gives at-most-once semantics to a unit of work keyed by
// (scope, client key). The store row is both the distributed lock and the
// result memo; no in-process locking is involved, so it behaves the same
// across replicas.
type Coordinator struct {
	Store  Store
	Logger *zap.Logger

	// ProcessingLease bounds how long a PROCESSING row blocks duplicates.
	// A row whose lease has expired is treated as abandoned and reclaimed.
	ProcessingLease time.Duration
}

const defaultProcessingLease = 5 * time.Minute

// acquireAttempts bounds the lost-race re-read loop.
const acquireAttempts = 3

// Run executes fn at most once per (scope, key). A completed prior call
// returns its recorded payload with fresh=false. A failed prior call is
// cleared and fn runs again. A live concurrent duplicate gets ErrInProgress.
//
// On success the result is canonically serialized, hashed and memoized
// before returning. On failure the record is marked FAILED and the error
// propagates; fn's partial side effects are the caller's concern.
func (c *Coordinator) Run(ctx context.Context, scope, key string, fn func(ctx context.Context) (any, error)) (json.RawMessage, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false, ErrEmptyKey
	}
	compositeKey := scope + ":" + key

	acquired := false
	for attempt := 0; attempt < acquireAttempts && !acquired; attempt++ {
		rec, err := c.Store.GetIdempotencyRecord(ctx, compositeKey)
		if err != nil {
			return nil, false, fmt.Errorf("idempotency lookup: %w", err)
		}
		if rec != nil {
			switch rec.Status {
			case models.IdempotencyStatusCompleted:
				return json.RawMessage(rec.ResultPayload), false, nil
			case models.IdempotencyStatusProcessing:
				if time.Now().UTC().Before(rec.LeaseExpiresAt) {
					return nil, false, ErrInProgress
				}
				// Abandoned by a crashed holder; reclaim.
				c.logWarn("reclaiming expired idempotency lease", nil, zap.String("composite_key", compositeKey))
				if err := c.Store.DeleteIdempotencyRecord(ctx, compositeKey); err != nil {
					return nil, false, fmt.Errorf("idempotency reclaim: %w", err)
				}
			case models.IdempotencyStatusFailed:
				if err := c.Store.DeleteIdempotencyRecord(ctx, compositeKey); err != nil {
					return nil, false, fmt.Errorf("idempotency clear failed record: %w", err)
				}
			}
		}

		lease := c.ProcessingLease
		if lease <= 0 {
			lease = defaultProcessingLease
		}
		inserted, err := c.Store.InsertIdempotencyRecord(ctx, &models.IdempotencyRecord{
			CompositeKey:   compositeKey,
			Scope:          scope,
			Status:         models.IdempotencyStatusProcessing,
			LeaseExpiresAt: time.Now().UTC().Add(lease),
		})
		if err != nil {
			return nil, false, fmt.Errorf("idempotency acquire: %w", err)
		}
		// Lost the race: some concurrent caller inserted first. Loop back
		// and read its record to decide between cached, in-progress and
		// retry-after-failure.
		acquired = inserted
	}
	if !acquired {
		return nil, false, ErrInProgress
	}

	result, err := fn(ctx)
	if err != nil {
		if failErr := c.Store.FailIdempotencyRecord(ctx, compositeKey, err.Error()); failErr != nil {
			c.logWarn("idempotency record fail-mark failed", failErr, zap.String("composite_key", compositeKey))
		}
		return nil, false, err
	}

	payload, hash, err := canonicalize(result)
	if err != nil {
		if failErr := c.Store.FailIdempotencyRecord(ctx, compositeKey, err.Error()); failErr != nil {
			c.logWarn("idempotency record fail-mark failed", failErr, zap.String("composite_key", compositeKey))
		}
		return nil, false, fmt.Errorf("idempotency result encode: %w", err)
	}
	if err := c.Store.CompleteIdempotencyRecord(ctx, compositeKey, hash, payload); err != nil {
		return nil, false, fmt.Errorf("idempotency complete: %w", err)
	}
	return payload, true, nil
}

// canonicalize serializes result to RFC 8785 canonical JSON and returns the
// payload plus its sha256 hex digest. Canonical form keeps the hash stable
// across field ordering and numeric width differences.
func canonicalize(result any) (json.RawMessage, string, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, "", err
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, "", err
	}
	sum := sha256.Sum256(canonical)
	return canonical, hex.EncodeToString(sum[:]), nil
}

func (c *Coordinator) logWarn(msg string, err error, fields ...zap.Field) {
	if c == nil || c.Logger == nil {
		return
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	c.Logger.Warn(msg, fields...)
}
