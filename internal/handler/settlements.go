package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"waternity/internal/idempotency"
	"waternity/internal/payout"
	"waternity/internal/repository"
	"waternity/internal/settlement"
)

type SettlementHandler struct {
	Repo     repository.Repository
	Workflow *settlement.Workflow
}

func (h *SettlementHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/settlements")
	group.GET("", h.list)
	group.GET("/:id", h.get)
	group.GET("/:id/payouts", h.listPayouts)
	group.POST("/request", h.request)
	group.POST("/:id/approve", h.approve)
	group.POST("/:id/execute", h.execute)
	group.POST("/:id/reject", h.reject)
	group.POST("/:id/cancel", h.cancel)
}

func (h *SettlementHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	var wellID *uint64
	if v := strings.TrimSpace(c.Query("well_id")); v != "" {
		if id := uint64Query(v); id > 0 {
			wellID = &id
		}
	}
	var status *string
	if v := strings.ToUpper(strings.TrimSpace(c.Query("status"))); v != "" {
		status = &v
	}
	params := repository.ListSettlementsParams{
		Limit:   limit,
		Offset:  offset,
		WellID:  wellID,
		Status:  status,
		OrderBy: "created_at",
		Asc:     boolPtr(false),
	}
	items, err := h.Repo.ListSettlements(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountSettlements(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

func (h *SettlementHandler) get(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	item, err := h.Repo.GetSettlementByID(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "settlement not found", nil)
		return
	}
	payoutCount, err := h.Repo.CountPayoutsBySettlementID(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, item, map[string]any{"payout_count": payoutCount})
}

func (h *SettlementHandler) listPayouts(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	item, err := h.Repo.GetSettlementByID(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "settlement not found", nil)
		return
	}
	payouts, err := h.Repo.ListPayoutsBySettlementID(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, payouts, nil)
}

type requestSettlementRequest struct {
	WellID       uint64 `json:"well_id"`
	PeriodStart  string `json:"period_start"`
	PeriodEnd    string `json:"period_end"`
	GrossRevenue string `json:"gross_revenue"`
}

func (h *SettlementHandler) request(c *gin.Context) {
	if h.Workflow == nil {
		Error(c, http.StatusInternalServerError, "workflow unavailable", nil)
		return
	}
	key := idempotencyKey(c)
	if key == "" {
		Error(c, http.StatusBadRequest, "Idempotency-Key header required", nil)
		return
	}
	var req requestSettlementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	if req.WellID == 0 {
		Error(c, http.StatusBadRequest, "well_id required", nil)
		return
	}
	periodStart, err := time.Parse(time.RFC3339, strings.TrimSpace(req.PeriodStart))
	if err != nil {
		Error(c, http.StatusBadRequest, "period_start must be RFC3339", nil)
		return
	}
	periodEnd, err := time.Parse(time.RFC3339, strings.TrimSpace(req.PeriodEnd))
	if err != nil {
		Error(c, http.StatusBadRequest, "period_end must be RFC3339", nil)
		return
	}
	grossRevenue, err := decimal.NewFromString(strings.TrimSpace(req.GrossRevenue))
	if err != nil {
		Error(c, http.StatusBadRequest, "gross_revenue must be a decimal string", nil)
		return
	}

	result, fresh, err := h.Workflow.Request(c.Request.Context(), settlement.RequestParams{
		WellID:       req.WellID,
		PeriodStart:  periodStart,
		PeriodEnd:    periodEnd,
		GrossRevenue: grossRevenue,
		ClientKey:    key,
	})
	if err != nil {
		workflowError(c, err)
		return
	}
	Ok(c, result, transitionMeta(fresh))
}

func (h *SettlementHandler) approve(c *gin.Context) {
	h.transition(c, h.Workflow.Approve)
}

func (h *SettlementHandler) execute(c *gin.Context) {
	h.transition(c, h.Workflow.Execute)
}

func (h *SettlementHandler) reject(c *gin.Context) {
	h.terminate(c, h.Workflow.Reject)
}

func (h *SettlementHandler) cancel(c *gin.Context) {
	h.terminate(c, h.Workflow.Cancel)
}

type transitionFn func(ctx context.Context, settlementID uint64, clientKey string) (settlement.Result, bool, error)

func (h *SettlementHandler) transition(c *gin.Context, fn transitionFn) {
	if h.Workflow == nil {
		Error(c, http.StatusInternalServerError, "workflow unavailable", nil)
		return
	}
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	key := idempotencyKey(c)
	if key == "" {
		Error(c, http.StatusBadRequest, "Idempotency-Key header required", nil)
		return
	}
	result, fresh, err := fn(c.Request.Context(), id, key)
	if err != nil {
		workflowError(c, err)
		return
	}
	Ok(c, result, transitionMeta(fresh))
}

type terminateRequest struct {
	Reason string `json:"reason"`
}

type terminateFn func(ctx context.Context, settlementID uint64, reason string, clientKey string) (settlement.Result, bool, error)

func (h *SettlementHandler) terminate(c *gin.Context, fn terminateFn) {
	if h.Workflow == nil {
		Error(c, http.StatusInternalServerError, "workflow unavailable", nil)
		return
	}
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	key := idempotencyKey(c)
	if key == "" {
		Error(c, http.StatusBadRequest, "Idempotency-Key header required", nil)
		return
	}
	var req terminateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			Error(c, http.StatusBadRequest, "invalid body", nil)
			return
		}
	}
	result, fresh, err := fn(c.Request.Context(), id, req.Reason, key)
	if err != nil {
		workflowError(c, err)
		return
	}
	Ok(c, result, transitionMeta(fresh))
}

func transitionMeta(fresh bool) map[string]any {
	return map[string]any{"idempotent_replay": !fresh}
}

// workflowError maps workflow failures onto the API's status scheme: a live
// duplicate is a conflict, broken preconditions are unprocessable, missing
// rows are 404 and everything else is treated as an upstream failure.
func workflowError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, idempotency.ErrInProgress):
		Error(c, http.StatusConflict, err.Error(), nil)
	case errors.Is(err, idempotency.ErrEmptyKey):
		Error(c, http.StatusBadRequest, "Idempotency-Key header required", nil)
	case errors.Is(err, settlement.ErrWellNotFound),
		errors.Is(err, settlement.ErrSettlementNotFound):
		Error(c, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, settlement.ErrInvalidStateTransition),
		errors.Is(err, settlement.ErrInvalidPeriod),
		errors.Is(err, payout.ErrNegativeRevenue),
		errors.Is(err, payout.ErrNoAllocatableShares),
		errors.Is(err, payout.ErrOverAllocated):
		Error(c, http.StatusUnprocessableEntity, err.Error(), nil)
	default:
		Error(c, http.StatusBadGateway, err.Error(), nil)
	}
}

func uint64Query(v string) uint64 {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	var out uint64
	for i := 0; i < len(v); i++ {
		ch := v[i]
		if ch < '0' || ch > '9' {
			return 0
		}
		out = out*10 + uint64(ch-'0')
	}
	return out
}
