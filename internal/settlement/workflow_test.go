package settlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"waternity/internal/client/transfer"
	"waternity/internal/idempotency"
	"waternity/internal/models"
	"waternity/internal/payout"
)

// stubStore is a test-only in-memory implementation of Store plus the
// idempotency coordinator's store, so transitions run against a real
// Coordinator end to end.
type stubStore struct {
	wells       map[uint64]models.Well
	shares      map[uint64][]models.StakeholderShare
	settlements map[uint64]*models.Settlement
	payouts     map[uint64]*models.Payout
	idemRecords map[string]*models.IdempotencyRecord

	nextSettlementID uint64
	nextPayoutID     uint64
	payoutInserts    int
}

func newStubStore() *stubStore {
	return &stubStore{
		wells:            map[uint64]models.Well{},
		shares:           map[uint64][]models.StakeholderShare{},
		settlements:      map[uint64]*models.Settlement{},
		payouts:          map[uint64]*models.Payout{},
		idemRecords:      map[string]*models.IdempotencyRecord{},
		nextSettlementID: 1,
		nextPayoutID:     1,
	}
}

func (s *stubStore) InTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func (s *stubStore) GetWellByID(_ context.Context, id uint64) (*models.Well, error) {
	w, ok := s.wells[id]
	if !ok {
		return nil, nil
	}
	cp := w
	return &cp, nil
}

func (s *stubStore) ListActiveSharesByWellID(_ context.Context, wellID uint64) ([]models.StakeholderShare, error) {
	return s.shares[wellID], nil
}

func (s *stubStore) CreateSettlementTx(_ context.Context, _ *gorm.DB, item *models.Settlement) error {
	item.ID = s.nextSettlementID
	s.nextSettlementID++
	cp := *item
	s.settlements[item.ID] = &cp
	return nil
}

func (s *stubStore) GetSettlementByID(_ context.Context, id uint64) (*models.Settlement, error) {
	item, ok := s.settlements[id]
	if !ok {
		return nil, nil
	}
	cp := *item
	return &cp, nil
}

func (s *stubStore) UpdateSettlementTx(_ context.Context, _ *gorm.DB, id uint64, updates map[string]any) error {
	item, ok := s.settlements[id]
	if !ok {
		return errors.New("settlement missing")
	}
	if v, ok := updates["status"].(string); ok {
		item.Status = v
	}
	if v, ok := updates["failure_reason"].(string); ok {
		item.FailureReason = v
	}
	return nil
}

func (s *stubStore) CreatePayoutsTx(_ context.Context, _ *gorm.DB, items []models.Payout) error {
	for i := range items {
		items[i].ID = s.nextPayoutID
		s.nextPayoutID++
		cp := items[i]
		s.payouts[cp.ID] = &cp
		s.payoutInserts++
	}
	return nil
}

func (s *stubStore) ListPayoutsBySettlementID(_ context.Context, settlementID uint64) ([]models.Payout, error) {
	var out []models.Payout
	for id := uint64(1); id < s.nextPayoutID; id++ {
		p, ok := s.payouts[id]
		if ok && p.SettlementID == settlementID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *stubStore) UpdatePayoutTx(_ context.Context, _ *gorm.DB, id uint64, updates map[string]any) error {
	p, ok := s.payouts[id]
	if !ok {
		return errors.New("payout missing")
	}
	if v, ok := updates["status"].(string); ok {
		p.Status = v
	}
	if v, ok := updates["external_tx_ref"].(string); ok {
		p.ExternalTxRef = v
	}
	if v, ok := updates["failure_reason"].(string); ok {
		p.FailureReason = v
	}
	return nil
}

// Coordinator store methods.

func (s *stubStore) GetIdempotencyRecord(_ context.Context, key string) (*models.IdempotencyRecord, error) {
	rec, ok := s.idemRecords[key]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (s *stubStore) InsertIdempotencyRecord(_ context.Context, rec *models.IdempotencyRecord) (bool, error) {
	if _, exists := s.idemRecords[rec.CompositeKey]; exists {
		return false, nil
	}
	cp := *rec
	s.idemRecords[rec.CompositeKey] = &cp
	return true, nil
}

func (s *stubStore) CompleteIdempotencyRecord(_ context.Context, key string, hash string, payload []byte) error {
	rec := s.idemRecords[key]
	rec.Status = models.IdempotencyStatusCompleted
	rec.ResultHash = hash
	rec.ResultPayload = datatypes.JSON(payload)
	return nil
}

func (s *stubStore) FailIdempotencyRecord(_ context.Context, key string, reason string) error {
	rec := s.idemRecords[key]
	rec.Status = models.IdempotencyStatusFailed
	rec.FailureReason = reason
	return nil
}

func (s *stubStore) DeleteIdempotencyRecord(_ context.Context, key string) error {
	delete(s.idemRecords, key)
	return nil
}

// stubTransfers reports configured outcomes per recipient.
type stubTransfers struct {
	outcomes map[string]transfer.Outcome
	err      error
	calls    int
}

func (t *stubTransfers) ExecuteTransfers(_ context.Context, requests []transfer.Request) ([]transfer.Outcome, error) {
	t.calls++
	if t.err != nil {
		return nil, t.err
	}
	out := make([]transfer.Outcome, 0, len(requests))
	for _, req := range requests {
		outcome, ok := t.outcomes[req.RecipientAccount]
		if !ok {
			outcome = transfer.Outcome{
				RecipientAccount: req.RecipientAccount,
				ExternalTxRef:    "tx-" + req.RecipientAccount,
				Status:           transfer.OutcomeSuccess,
			}
		}
		out = append(out, outcome)
	}
	return out, nil
}

// stubPublisher records announced messages.
type stubPublisher struct {
	published [][]byte
}

func (p *stubPublisher) Publish(_ context.Context, _ string, payload []byte) error {
	p.published = append(p.published, payload)
	return nil
}

func newWorkflow(store *stubStore, transfers *stubTransfers) (*Workflow, *stubPublisher) {
	pub := &stubPublisher{}
	return &Workflow{
		Store:     store,
		Idem:      &idempotency.Coordinator{Store: store},
		Transfers: transfers,
		Publisher: pub,
	}, pub
}

func seedWell(store *stubStore) {
	store.wells[1] = models.Well{
		ID:      1,
		Code:    "W-001",
		Name:    "Kintampo North",
		TopicID: "0.0.5005",
		Active:  true,
	}
	store.shares[1] = []models.StakeholderShare{
		{WellID: 1, AccountRef: "0.0.1001", ShareBps: 3333, Position: 1, Active: true},
		{WellID: 1, AccountRef: "0.0.1002", ShareBps: 3333, Position: 2, Active: true},
		{WellID: 1, AccountRef: "0.0.1003", ShareBps: 3334, Position: 3, Active: true},
	}
}

func requestParams(key string) RequestParams {
	return RequestParams{
		WellID:       1,
		PeriodStart:  time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:    time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		GrossRevenue: decimal.NewFromInt(1000000),
		ClientKey:    key,
	}
}

func TestWorkflow_RequestApproveExecute(t *testing.T) {
	store := newStubStore()
	seedWell(store)
	transfers := &stubTransfers{}
	w, pub := newWorkflow(store, transfers)
	ctx := context.Background()

	requested, fresh, err := w.Request(ctx, requestParams("req-1"))
	if err != nil {
		t.Fatalf("request err=%v", err)
	}
	if !fresh || requested.Status != models.SettlementStatusRequested {
		t.Fatalf("requested=%+v fresh=%v", requested, fresh)
	}

	approved, _, err := w.Approve(ctx, requested.SettlementID, "app-1")
	if err != nil {
		t.Fatalf("approve err=%v", err)
	}
	if approved.Status != models.SettlementStatusApproved || len(approved.Payouts) != 3 {
		t.Fatalf("approved=%+v", approved)
	}
	total := decimal.Zero
	for _, p := range approved.Payouts {
		if p.Status != models.PayoutStatusPending {
			t.Fatalf("payout status=%s want PENDING", p.Status)
		}
		total = total.Add(p.Amount)
	}
	if !total.Equal(decimal.NewFromInt(1000000)) {
		t.Fatalf("payout total=%s", total)
	}

	executed, _, err := w.Execute(ctx, requested.SettlementID, "exe-1")
	if err != nil {
		t.Fatalf("execute err=%v", err)
	}
	if executed.Status != models.SettlementStatusExecuted {
		t.Fatalf("executed=%+v", executed)
	}
	for _, p := range executed.Payouts {
		if p.Status != models.PayoutStatusExecuted || p.ExternalTxRef == "" {
			t.Fatalf("payout=%+v want EXECUTED with tx ref", p)
		}
	}
	if len(pub.published) != 3 {
		t.Fatalf("published=%d want 3 announcements", len(pub.published))
	}
}

func TestWorkflow_ApproveRequiresRequested(t *testing.T) {
	store := newStubStore()
	seedWell(store)
	w, _ := newWorkflow(store, &stubTransfers{})
	ctx := context.Background()

	requested, _, err := w.Request(ctx, requestParams("req-1"))
	if err != nil {
		t.Fatalf("request err=%v", err)
	}
	if _, _, err := w.Approve(ctx, requested.SettlementID, "app-1"); err != nil {
		t.Fatalf("approve err=%v", err)
	}

	_, _, err = w.Approve(ctx, requested.SettlementID, "app-2")
	if !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("err=%v want ErrInvalidStateTransition", err)
	}
}

func TestWorkflow_DuplicateApproveReturnsCachedPayouts(t *testing.T) {
	store := newStubStore()
	seedWell(store)
	w, _ := newWorkflow(store, &stubTransfers{})
	ctx := context.Background()

	requested, _, err := w.Request(ctx, requestParams("req-1"))
	if err != nil {
		t.Fatalf("request err=%v", err)
	}
	first, fresh, err := w.Approve(ctx, requested.SettlementID, "app-1")
	if err != nil || !fresh {
		t.Fatalf("first approve err=%v fresh=%v", err, fresh)
	}
	inserts := store.payoutInserts

	// Same client key against the now-APPROVED settlement: the recorded
	// result replays; the transition does not re-run.
	second, fresh, err := w.Approve(ctx, requested.SettlementID, "app-1")
	if err != nil {
		t.Fatalf("second approve err=%v", err)
	}
	if fresh {
		t.Fatalf("second approve should be cached")
	}
	if store.payoutInserts != inserts {
		t.Fatalf("duplicate approve created payout rows")
	}
	if len(second.Payouts) != len(first.Payouts) {
		t.Fatalf("cached payouts=%d want %d", len(second.Payouts), len(first.Payouts))
	}
	for i := range first.Payouts {
		if !first.Payouts[i].Amount.Equal(second.Payouts[i].Amount) {
			t.Fatalf("payout %d mismatch: %s vs %s", i, first.Payouts[i].Amount, second.Payouts[i].Amount)
		}
	}
}

func TestWorkflow_ExecutePartialFailure(t *testing.T) {
	store := newStubStore()
	seedWell(store)
	transfers := &stubTransfers{outcomes: map[string]transfer.Outcome{
		"0.0.1002": {
			RecipientAccount: "0.0.1002",
			Status:           transfer.OutcomeFailed,
			Reason:           "account frozen",
		},
	}}
	w, _ := newWorkflow(store, transfers)
	ctx := context.Background()

	requested, _, _ := w.Request(ctx, requestParams("req-1"))
	if _, _, err := w.Approve(ctx, requested.SettlementID, "app-1"); err != nil {
		t.Fatalf("approve err=%v", err)
	}
	executed, _, err := w.Execute(ctx, requested.SettlementID, "exe-1")
	if err != nil {
		t.Fatalf("execute err=%v", err)
	}
	if executed.Status != models.SettlementStatusExecuted {
		t.Fatalf("status=%s want EXECUTED despite one failed leg", executed.Status)
	}
	var failed, ok int
	for _, p := range executed.Payouts {
		switch p.Status {
		case models.PayoutStatusFailed:
			failed++
			if p.FailureReason != "account frozen" {
				t.Fatalf("reason=%q", p.FailureReason)
			}
		case models.PayoutStatusExecuted:
			ok++
		}
	}
	if failed != 1 || ok != 2 {
		t.Fatalf("failed=%d ok=%d", failed, ok)
	}
}

func TestWorkflow_ExecuteTotalFailure(t *testing.T) {
	store := newStubStore()
	seedWell(store)
	outcomes := map[string]transfer.Outcome{}
	for _, account := range []string{"0.0.1001", "0.0.1002", "0.0.1003"} {
		outcomes[account] = transfer.Outcome{
			RecipientAccount: account,
			Status:           transfer.OutcomeFailed,
			Reason:           "treasury empty",
		}
	}
	w, _ := newWorkflow(store, &stubTransfers{outcomes: outcomes})
	ctx := context.Background()

	requested, _, _ := w.Request(ctx, requestParams("req-1"))
	if _, _, err := w.Approve(ctx, requested.SettlementID, "app-1"); err != nil {
		t.Fatalf("approve err=%v", err)
	}
	executed, _, err := w.Execute(ctx, requested.SettlementID, "exe-1")
	if err != nil {
		t.Fatalf("execute err=%v", err)
	}
	if executed.Status != models.SettlementStatusFailed {
		t.Fatalf("status=%s want FAILED", executed.Status)
	}
}

func TestWorkflow_ExecuteCollaboratorErrorIsRetryable(t *testing.T) {
	store := newStubStore()
	seedWell(store)
	transfers := &stubTransfers{err: errors.New("treasury unreachable")}
	w, _ := newWorkflow(store, transfers)
	ctx := context.Background()

	requested, _, _ := w.Request(ctx, requestParams("req-1"))
	if _, _, err := w.Approve(ctx, requested.SettlementID, "app-1"); err != nil {
		t.Fatalf("approve err=%v", err)
	}
	if _, _, err := w.Execute(ctx, requested.SettlementID, "exe-1"); err == nil {
		t.Fatalf("expected collaborator error")
	}

	// The failed attempt left a FAILED idempotency record; the same key
	// retries cleanly once the collaborator recovers.
	transfers.err = nil
	executed, fresh, err := w.Execute(ctx, requested.SettlementID, "exe-1")
	if err != nil {
		t.Fatalf("retry err=%v", err)
	}
	if !fresh || executed.Status != models.SettlementStatusExecuted {
		t.Fatalf("retry fresh=%v status=%s", fresh, executed.Status)
	}
}

func TestWorkflow_RequestValidation(t *testing.T) {
	store := newStubStore()
	seedWell(store)
	w, _ := newWorkflow(store, &stubTransfers{})
	ctx := context.Background()

	params := requestParams("bad-1")
	params.GrossRevenue = decimal.NewFromInt(-5)
	if _, _, err := w.Request(ctx, params); !errors.Is(err, payout.ErrNegativeRevenue) {
		t.Fatalf("err=%v want ErrNegativeRevenue", err)
	}

	params = requestParams("bad-2")
	params.PeriodEnd = params.PeriodStart
	if _, _, err := w.Request(ctx, params); !errors.Is(err, ErrInvalidPeriod) {
		t.Fatalf("err=%v want ErrInvalidPeriod", err)
	}

	params = requestParams("bad-3")
	params.WellID = 404
	if _, _, err := w.Request(ctx, params); !errors.Is(err, ErrWellNotFound) {
		t.Fatalf("err=%v want ErrWellNotFound", err)
	}
}

func TestWorkflow_RejectAndCancel(t *testing.T) {
	store := newStubStore()
	seedWell(store)
	w, _ := newWorkflow(store, &stubTransfers{})
	ctx := context.Background()

	requested, _, _ := w.Request(ctx, requestParams("req-1"))
	rejected, _, err := w.Reject(ctx, requested.SettlementID, "period disputed", "rej-1")
	if err != nil {
		t.Fatalf("reject err=%v", err)
	}
	if rejected.Status != models.SettlementStatusRejected {
		t.Fatalf("status=%s", rejected.Status)
	}

	// Reject is only reachable from REQUESTED.
	other, _, _ := w.Request(ctx, requestParams("req-2"))
	if _, _, err := w.Approve(ctx, other.SettlementID, "app-2"); err != nil {
		t.Fatalf("approve err=%v", err)
	}
	if _, _, err := w.Reject(ctx, other.SettlementID, "", "rej-2"); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("err=%v want ErrInvalidStateTransition", err)
	}

	// Cancel still works from APPROVED.
	cancelled, _, err := w.Cancel(ctx, other.SettlementID, "operator abort", "can-1")
	if err != nil {
		t.Fatalf("cancel err=%v", err)
	}
	if cancelled.Status != models.SettlementStatusCancelled {
		t.Fatalf("status=%s", cancelled.Status)
	}
}
