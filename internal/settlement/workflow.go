package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"waternity/internal/client/ledger"
	"waternity/internal/client/transfer"
	"waternity/internal/idempotency"
	"waternity/internal/ingest"
	"waternity/internal/models"
	"waternity/internal/payout"
)

// Idempotency scopes, one per mutating transition.
const (
	ScopeRequest = "settlement_request"
	ScopeApprove = "settlement_approve"
	ScopeExecute = "settlement_execute"
	ScopeReject  = "settlement_reject"
	ScopeCancel  = "settlement_cancel"
)

var (
	ErrWellNotFound           = errors.New("settlement: well not found")
	ErrSettlementNotFound     = errors.New("settlement: settlement not found")
	ErrInvalidStateTransition = errors.New("settlement: invalid state transition")
	ErrInvalidPeriod          = errors.New("settlement: period end must be after period start")
)

// Store is the persistence surface the workflow needs. Tx methods accept a
// nil handle outside a transaction; each transition performs its state
// changes as one transaction so a failed unit of work never leaves a
// half-applied transition behind.
type Store interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error
	GetWellByID(ctx context.Context, id uint64) (*models.Well, error)
	ListActiveSharesByWellID(ctx context.Context, wellID uint64) ([]models.StakeholderShare, error)
	CreateSettlementTx(ctx context.Context, tx *gorm.DB, item *models.Settlement) error
	GetSettlementByID(ctx context.Context, id uint64) (*models.Settlement, error)
	UpdateSettlementTx(ctx context.Context, tx *gorm.DB, id uint64, updates map[string]any) error
	CreatePayoutsTx(ctx context.Context, tx *gorm.DB, items []models.Payout) error
	ListPayoutsBySettlementID(ctx context.Context, settlementID uint64) ([]models.Payout, error)
	UpdatePayoutTx(ctx context.Context, tx *gorm.DB, id uint64, updates map[string]any) error
}

// Workflow drives a settlement through
// REQUESTED -> APPROVED -> EXECUTED, with REJECTED / CANCELLED / FAILED as
// terminal alternates. Every transition runs under the idempotency
// coordinator, so a client retry with the same key replays the recorded
// result instead of re-executing.
type Workflow struct {
	Store     Store
	Idem      *idempotency.Coordinator
	Transfers transfer.Executor
	Publisher ledger.Publisher
	Logger    *zap.Logger
}

type RequestParams struct {
	WellID       uint64
	PeriodStart  time.Time
	PeriodEnd    time.Time
	GrossRevenue decimal.Decimal
	ClientKey    string
}

// PayoutResult is one recipient's slice in a transition result.
type PayoutResult struct {
	RecipientAccount string          `json:"recipient_account"`
	AssetType        string          `json:"asset_type"`
	Amount           decimal.Decimal `json:"amount"`
	Status           string          `json:"status"`
	ExternalTxRef    string          `json:"external_tx_ref,omitempty"`
	FailureReason    string          `json:"failure_reason,omitempty"`
}

// Result is the caller-facing outcome of any workflow transition. It is
// what the coordinator memoizes, so it must serialize deterministically.
type Result struct {
	SettlementID uint64          `json:"settlement_id"`
	Ref          string          `json:"ref"`
	WellID       uint64          `json:"well_id"`
	Status       string          `json:"status"`
	GrossRevenue decimal.Decimal `json:"gross_revenue"`
	Payouts      []PayoutResult  `json:"payouts,omitempty"`
}

// Request creates a settlement in REQUESTED for one revenue period.
func (w *Workflow) Request(ctx context.Context, params RequestParams) (Result, bool, error) {
	payload, fresh, err := w.Idem.Run(ctx, ScopeRequest, params.ClientKey, func(ctx context.Context) (any, error) {
		if params.GrossRevenue.IsNegative() {
			return nil, payout.ErrNegativeRevenue
		}
		if !params.PeriodEnd.After(params.PeriodStart) {
			return nil, ErrInvalidPeriod
		}
		well, err := w.Store.GetWellByID(ctx, params.WellID)
		if err != nil {
			return nil, err
		}
		if well == nil {
			return nil, ErrWellNotFound
		}

		now := time.Now().UTC()
		item := &models.Settlement{
			Ref:          "STL-" + strings.ToUpper(uuid.NewString()[:8]),
			WellID:       params.WellID,
			PeriodStart:  params.PeriodStart.UTC(),
			PeriodEnd:    params.PeriodEnd.UTC(),
			GrossRevenue: params.GrossRevenue,
			Status:       models.SettlementStatusRequested,
			RequestedAt:  &now,
		}
		if err := w.Store.InTx(ctx, func(tx *gorm.DB) error {
			return w.Store.CreateSettlementTx(ctx, tx, item)
		}); err != nil {
			return nil, err
		}

		w.announce(ctx, well, ingest.EventTypeSettlementRequested, ingest.SettlementEventBody{
			SettlementRef: item.Ref,
			WellCode:      well.Code,
			GrossRevenue:  &params.GrossRevenue,
		})
		return resultOf(item, nil), nil
	})
	return decodeResult(payload, fresh, err)
}

// Approve computes the payout distribution for a REQUESTED settlement and
// persists the planned payouts together with the APPROVED transition.
func (w *Workflow) Approve(ctx context.Context, settlementID uint64, clientKey string) (Result, bool, error) {
	payload, fresh, err := w.Idem.Run(ctx, ScopeApprove, clientKey, func(ctx context.Context) (any, error) {
		item, well, err := w.loadForTransition(ctx, settlementID, models.SettlementStatusRequested)
		if err != nil {
			return nil, err
		}

		shares, err := w.Store.ListActiveSharesByWellID(ctx, item.WellID)
		if err != nil {
			return nil, err
		}
		allocs, err := payout.ComputeDistribution(shares, item.GrossRevenue)
		if err != nil {
			return nil, err
		}

		now := time.Now().UTC()
		payouts := make([]models.Payout, 0, len(allocs))
		for _, a := range allocs {
			payouts = append(payouts, models.Payout{
				SettlementID:     item.ID,
				RecipientAccount: a.AccountRef,
				AssetType:        "HBAR",
				Amount:           a.Amount,
				Status:           models.PayoutStatusPending,
			})
		}
		if err := w.Store.InTx(ctx, func(tx *gorm.DB) error {
			if err := w.Store.CreatePayoutsTx(ctx, tx, payouts); err != nil {
				return err
			}
			return w.Store.UpdateSettlementTx(ctx, tx, item.ID, map[string]any{
				"status":      models.SettlementStatusApproved,
				"approved_at": now,
			})
		}); err != nil {
			return nil, err
		}
		item.Status = models.SettlementStatusApproved

		w.announce(ctx, well, ingest.EventTypeSettlementApproved, ingest.SettlementEventBody{
			SettlementRef: item.Ref,
			WellCode:      well.Code,
			GrossRevenue:  &item.GrossRevenue,
			PayoutCount:   len(payouts),
		})
		return resultOf(item, payouts), nil
	})
	return decodeResult(payload, fresh, err)
}

// Execute hands an APPROVED settlement's payouts to the transfer
// collaborator and records each reported outcome. A total failure moves
// the settlement to FAILED; any successful transfer yields EXECUTED with
// per-payout outcomes preserved.
func (w *Workflow) Execute(ctx context.Context, settlementID uint64, clientKey string) (Result, bool, error) {
	payload, fresh, err := w.Idem.Run(ctx, ScopeExecute, clientKey, func(ctx context.Context) (any, error) {
		item, well, err := w.loadForTransition(ctx, settlementID, models.SettlementStatusApproved)
		if err != nil {
			return nil, err
		}
		payouts, err := w.Store.ListPayoutsBySettlementID(ctx, item.ID)
		if err != nil {
			return nil, err
		}

		pending := make([]models.Payout, 0, len(payouts))
		requests := make([]transfer.Request, 0, len(payouts))
		for _, p := range payouts {
			if p.Status != models.PayoutStatusPending {
				continue
			}
			pending = append(pending, p)
			requests = append(requests, transfer.Request{
				RecipientAccount: p.RecipientAccount,
				AssetType:        p.AssetType,
				Amount:           p.Amount,
			})
		}

		var outcomes []transfer.Outcome
		if len(requests) > 0 {
			outcomes, err = w.Transfers.ExecuteTransfers(ctx, requests)
			if err != nil {
				return nil, fmt.Errorf("execute transfers: %w", err)
			}
		}
		byRecipient := make(map[string]transfer.Outcome, len(outcomes))
		for _, o := range outcomes {
			byRecipient[o.RecipientAccount] = o
		}

		now := time.Now().UTC()
		succeeded := 0
		updated := make([]models.Payout, len(payouts))
		copy(updated, payouts)
		if err := w.Store.InTx(ctx, func(tx *gorm.DB) error {
			for i := range updated {
				p := &updated[i]
				if p.Status != models.PayoutStatusPending {
					continue
				}
				outcome, ok := byRecipient[p.RecipientAccount]
				if !ok {
					outcome = transfer.Outcome{
						Status: transfer.OutcomeFailed,
						Reason: "no outcome reported",
					}
				}
				if outcome.Status == transfer.OutcomeSuccess {
					p.Status = models.PayoutStatusExecuted
					p.ExternalTxRef = outcome.ExternalTxRef
					succeeded++
				} else {
					p.Status = models.PayoutStatusFailed
					p.FailureReason = outcome.Reason
				}
				if err := w.Store.UpdatePayoutTx(ctx, tx, p.ID, map[string]any{
					"status":          p.Status,
					"external_tx_ref": p.ExternalTxRef,
					"failure_reason":  p.FailureReason,
				}); err != nil {
					return err
				}
			}

			status := models.SettlementStatusExecuted
			updates := map[string]any{"executed_at": now}
			if len(pending) > 0 && succeeded == 0 {
				status = models.SettlementStatusFailed
				updates["failure_reason"] = "all transfers failed"
			}
			updates["status"] = status
			item.Status = status
			return w.Store.UpdateSettlementTx(ctx, tx, item.ID, updates)
		}); err != nil {
			return nil, err
		}

		w.announce(ctx, well, ingest.EventTypeSettlementExecuted, ingest.SettlementEventBody{
			SettlementRef: item.Ref,
			WellCode:      well.Code,
			GrossRevenue:  &item.GrossRevenue,
			PayoutCount:   len(pending),
		})
		return resultOf(item, updated), nil
	})
	return decodeResult(payload, fresh, err)
}

// Reject moves a REQUESTED settlement to the REJECTED terminal state.
func (w *Workflow) Reject(ctx context.Context, settlementID uint64, reason string, clientKey string) (Result, bool, error) {
	return w.terminate(ctx, ScopeReject, settlementID, reason, clientKey,
		models.SettlementStatusRejected, models.SettlementStatusRequested)
}

// Cancel moves a REQUESTED or APPROVED settlement to CANCELLED.
func (w *Workflow) Cancel(ctx context.Context, settlementID uint64, reason string, clientKey string) (Result, bool, error) {
	return w.terminate(ctx, ScopeCancel, settlementID, reason, clientKey,
		models.SettlementStatusCancelled, models.SettlementStatusRequested, models.SettlementStatusApproved)
}

func (w *Workflow) terminate(ctx context.Context, scope string, settlementID uint64, reason string, clientKey string, target string, allowed ...string) (Result, bool, error) {
	payload, fresh, err := w.Idem.Run(ctx, scope, clientKey, func(ctx context.Context) (any, error) {
		item, _, err := w.loadForTransition(ctx, settlementID, allowed...)
		if err != nil {
			return nil, err
		}
		if err := w.Store.InTx(ctx, func(tx *gorm.DB) error {
			return w.Store.UpdateSettlementTx(ctx, tx, item.ID, map[string]any{
				"status":         target,
				"failure_reason": strings.TrimSpace(reason),
			})
		}); err != nil {
			return nil, err
		}
		item.Status = target
		return resultOf(item, nil), nil
	})
	return decodeResult(payload, fresh, err)
}

func (w *Workflow) loadForTransition(ctx context.Context, settlementID uint64, allowed ...string) (*models.Settlement, *models.Well, error) {
	item, err := w.Store.GetSettlementByID(ctx, settlementID)
	if err != nil {
		return nil, nil, err
	}
	if item == nil {
		return nil, nil, ErrSettlementNotFound
	}
	ok := false
	for _, status := range allowed {
		if item.Status == status {
			ok = true
			break
		}
	}
	if !ok {
		return nil, nil, fmt.Errorf("%w: settlement %d is %s", ErrInvalidStateTransition, item.ID, item.Status)
	}
	well, err := w.Store.GetWellByID(ctx, item.WellID)
	if err != nil {
		return nil, nil, err
	}
	if well == nil {
		return nil, nil, ErrWellNotFound
	}
	return item, well, nil
}

// announce emits a transition message on the well's topic. Delivery is
// best-effort: the transition has already committed, and the mirror ingest
// path is the system of record for what actually reached consensus.
func (w *Workflow) announce(ctx context.Context, well *models.Well, eventType string, body ingest.SettlementEventBody) {
	if w.Publisher == nil || well == nil || strings.TrimSpace(well.TopicID) == "" {
		return
	}
	payload, err := json.Marshal(struct {
		Type string `json:"type"`
		ingest.SettlementEventBody
	}{Type: eventType, SettlementEventBody: body})
	if err != nil {
		return
	}
	if err := w.Publisher.Publish(ctx, well.TopicID, payload); err != nil && w.Logger != nil {
		w.Logger.Warn("settlement announcement failed",
			zap.String("topic_id", well.TopicID),
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}

func resultOf(item *models.Settlement, payouts []models.Payout) Result {
	res := Result{
		SettlementID: item.ID,
		Ref:          item.Ref,
		WellID:       item.WellID,
		Status:       item.Status,
		GrossRevenue: item.GrossRevenue,
	}
	for _, p := range payouts {
		res.Payouts = append(res.Payouts, PayoutResult{
			RecipientAccount: p.RecipientAccount,
			AssetType:        p.AssetType,
			Amount:           p.Amount,
			Status:           p.Status,
			ExternalTxRef:    p.ExternalTxRef,
			FailureReason:    p.FailureReason,
		})
	}
	return res
}

func decodeResult(payload json.RawMessage, fresh bool, err error) (Result, bool, error) {
	if err != nil {
		return Result{}, false, err
	}
	var res Result
	if err := json.Unmarshal(payload, &res); err != nil {
		return Result{}, false, fmt.Errorf("decode settlement result: %w", err)
	}
	return res, fresh, nil
}
