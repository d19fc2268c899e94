package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"waternity/internal/models"
	"waternity/internal/payout"
	"waternity/internal/repository"
)

type WellHandler struct {
	Repo repository.Repository
}

func (h *WellHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/wells")
	group.GET("", h.list)
	group.POST("", h.upsert)
	group.GET("/:id", h.get)
	group.GET("/:id/shares", h.listShares)
	group.POST("/:id/shares", h.upsertShare)
}

func (h *WellHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	var code *string
	if v := strings.TrimSpace(c.Query("code")); v != "" {
		code = &v
	}
	params := repository.ListWellsParams{
		Limit:   limit,
		Offset:  offset,
		Active:  boolQueryPtr(c, "active"),
		Code:    code,
		OrderBy: "created_at",
		Asc:     boolPtr(false),
	}
	items, err := h.Repo.ListWells(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountWells(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

func (h *WellHandler) get(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	item, err := h.Repo.GetWellByID(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "well not found", nil)
		return
	}
	Ok(c, item, nil)
}

type upsertWellRequest struct {
	Code            string `json:"code"`
	Name            string `json:"name"`
	Location        string `json:"location"`
	TreasuryAccount string `json:"treasury_account"`
	TopicID         string `json:"topic_id"`
	Active          *bool  `json:"active"`
}

func (h *WellHandler) upsert(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	var req upsertWellRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	req.Code = strings.TrimSpace(req.Code)
	req.Name = strings.TrimSpace(req.Name)
	req.TopicID = strings.TrimSpace(req.TopicID)
	req.TreasuryAccount = strings.TrimSpace(req.TreasuryAccount)
	if req.Code == "" || req.Name == "" || req.TopicID == "" || req.TreasuryAccount == "" {
		Error(c, http.StatusBadRequest, "code, name, topic_id and treasury_account required", nil)
		return
	}
	item := &models.Well{
		Code:            req.Code,
		Name:            req.Name,
		Location:        strings.TrimSpace(req.Location),
		TreasuryAccount: req.TreasuryAccount,
		TopicID:         req.TopicID,
		Active:          true,
	}
	if req.Active != nil {
		item.Active = *req.Active
	}
	if err := h.Repo.UpsertWell(c.Request.Context(), item); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	saved, err := h.Repo.GetWellByCode(c.Request.Context(), item.Code)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, saved, nil)
}

func (h *WellHandler) listShares(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	items, err := h.Repo.ListSharesByWellID(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}

type upsertShareRequest struct {
	AccountRef string `json:"account_ref"`
	ShareBps   uint16 `json:"share_bps"`
	Active     *bool  `json:"active"`
}

func (h *WellHandler) upsertShare(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	var req upsertShareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	req.AccountRef = strings.TrimSpace(req.AccountRef)
	if req.AccountRef == "" {
		Error(c, http.StatusBadRequest, "account_ref required", nil)
		return
	}
	if req.ShareBps == 0 || req.ShareBps > payout.TotalBps {
		Error(c, http.StatusBadRequest, "share_bps must be in 1..10000", nil)
		return
	}
	well, err := h.Repo.GetWellByID(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if well == nil {
		Error(c, http.StatusNotFound, "well not found", nil)
		return
	}
	// Position is assigned once; the conflict path of the upsert leaves it
	// untouched so an existing share keeps its slot in the payout ordering.
	position, err := h.Repo.NextSharePosition(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	item := &models.StakeholderShare{
		WellID:     id,
		AccountRef: req.AccountRef,
		ShareBps:   req.ShareBps,
		Position:   position,
		Active:     true,
	}
	if req.Active != nil {
		item.Active = *req.Active
	}
	if err := h.Repo.UpsertStakeholderShare(c.Request.Context(), item); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	// On the conflict path the stored row keeps its original position and
	// id; respond with what was actually persisted, not the local build.
	shares, err := h.Repo.ListSharesByWellID(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	for i := range shares {
		if shares[i].AccountRef == item.AccountRef {
			Ok(c, shares[i], nil)
			return
		}
	}
	Ok(c, item, nil)
}
