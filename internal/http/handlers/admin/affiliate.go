package admin

import (
	"net/http"
	"strings"

	handlershared "github.com/dujiao-next/affiliate-ledger/internal/http/handlers/shared"
	"github.com/dujiao-next/affiliate-ledger/internal/http/response"
	"github.com/dujiao-next/affiliate-ledger/internal/models"
	"github.com/dujiao-next/affiliate-ledger/internal/repository"
	"github.com/dujiao-next/affiliate-ledger/internal/service"

	"github.com/gin-gonic/gin"
)

// CreateAffiliateRequest 推广用户登记请求
type CreateAffiliateRequest struct {
	AffiliateCode  string       `json:"affiliate_code"`
	Name           string       `json:"name"`
	Email          string       `json:"email"`
	CommissionRate models.Money `json:"commission_rate"`
}

// CreateAffiliate 登记推广用户
func (h *Handler) CreateAffiliate(c *gin.Context) {
	var req CreateAffiliateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	affiliate, err := h.AffiliateService.CreateAffiliate(c.Request.Context(), service.CreateAffiliateInput{
		AffiliateCode:  req.AffiliateCode,
		Name:           req.Name,
		Email:          req.Email,
		CommissionRate: req.CommissionRate,
	})
	if err != nil {
		respondLedgerError(c, err, "failed to create affiliate")
		return
	}
	response.Success(c, "Affiliate created", affiliate)
}

// ListAffiliates 分页查询推广用户
func (h *Handler) ListAffiliates(c *gin.Context) {
	page, pageSize := handlershared.ParsePagination(c)
	rows, total, err := h.AffiliateService.ListAffiliates(c.Request.Context(), repository.AffiliateListFilter{
		Page:     page,
		PageSize: pageSize,
		Status:   strings.TrimSpace(c.Query("status")),
		Keyword:  strings.TrimSpace(c.Query("keyword")),
	})
	if err != nil {
		respondLedgerError(c, err, "failed to list affiliates")
		return
	}
	response.SuccessWithPage(c, "", rows, response.BuildPagination(page, pageSize, total))
}

// GetAffiliate 按推广码查询推广用户
func (h *Handler) GetAffiliate(c *gin.Context) {
	affiliate, err := h.AffiliateService.GetAffiliateByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		respondLedgerError(c, err, "failed to load affiliate")
		return
	}
	response.Success(c, "", affiliate)
}

// UpdateAffiliateStatusRequest 推广用户状态更新请求
type UpdateAffiliateStatusRequest struct {
	Status string `json:"status"`
}

// UpdateAffiliateStatus 更新推广用户状态
func (h *Handler) UpdateAffiliateStatus(c *gin.Context) {
	var req UpdateAffiliateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	affiliate, err := h.AffiliateService.UpdateAffiliateStatus(c.Request.Context(), c.Param("code"), req.Status)
	if err != nil {
		respondLedgerError(c, err, "failed to update affiliate status")
		return
	}
	response.Success(c, "Affiliate status updated", affiliate)
}

// UpdateCommissionRateRequest 佣金比例更新请求
type UpdateCommissionRateRequest struct {
	CommissionRate models.Money `json:"commission_rate"`
}

// UpdateCommissionRate 更新推广用户佣金比例，仅影响之后的转化
func (h *Handler) UpdateCommissionRate(c *gin.Context) {
	var req UpdateCommissionRateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	affiliate, err := h.AffiliateService.UpdateCommissionRate(c.Request.Context(), c.Param("code"), req.CommissionRate)
	if err != nil {
		respondLedgerError(c, err, "failed to update commission rate")
		return
	}
	response.Success(c, "Commission rate updated", affiliate)
}
