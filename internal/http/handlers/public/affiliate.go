package public

import (
	"net/http"

	"github.com/dujiao-next/affiliate-ledger/internal/http/response"
	"github.com/dujiao-next/affiliate-ledger/internal/models"
	"github.com/dujiao-next/affiliate-ledger/internal/service"

	"github.com/gin-gonic/gin"
)

// TrackVisitRequest 推广访问记录请求
type TrackVisitRequest struct {
	AffiliateCode string `json:"affiliate_code"`
	LandingPath   string `json:"landing_path"`
	Referrer      string `json:"referrer"`
}

// TrackVisit 记录推广链接访问
func (h *Handler) TrackVisit(c *gin.Context) {
	var req TrackVisitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	visit, err := h.VisitService.RecordVisit(c.Request.Context(), service.RecordVisitInput{
		AffiliateCode: req.AffiliateCode,
		LandingPath:   req.LandingPath,
		Referrer:      req.Referrer,
		ClientIP:      c.ClientIP(),
		UserAgent:     c.GetHeader("User-Agent"),
	})
	if err != nil {
		respondLedgerError(c, err, "failed to record visit")
		return
	}
	response.Success(c, "Visit recorded", visit)
}

// CreateReferralRequest 推广转化上报请求
type CreateReferralRequest struct {
	AffiliateCode  string        `json:"affiliate_code"`
	ConversionType string        `json:"conversion_type"`
	OrderID        string        `json:"order_id"`
	OrderAmount    *models.Money `json:"order_amount"`
	ReferredUserID string        `json:"referred_user_id"`
}

// CreateReferral 上报推广转化，相同订单重复上报返回已有记录
func (h *Handler) CreateReferral(c *gin.Context) {
	var req CreateReferralRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	result, err := h.ReferralService.CreateReferral(c.Request.Context(), service.CreateReferralInput{
		AffiliateCode:  req.AffiliateCode,
		ConversionType: req.ConversionType,
		OrderID:        req.OrderID,
		OrderAmount:    req.OrderAmount,
		ReferredUserID: req.ReferredUserID,
	})
	if err != nil {
		respondLedgerError(c, err, "failed to create referral")
		return
	}
	message := "Referral created"
	if result.Duplicate {
		message = "Referral already recorded"
	}
	response.Success(c, message, result.Referral)
}

// RequestWithdrawalRequest 提现申请请求
type RequestWithdrawalRequest struct {
	AffiliateCode string       `json:"affiliate_code"`
	Amount        models.Money `json:"amount"`
	Notes         string       `json:"notes"`
}

// RequestWithdrawal 申请提现
func (h *Handler) RequestWithdrawal(c *gin.Context) {
	var req RequestWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	withdrawal, err := h.WithdrawalService.RequestWithdrawal(c.Request.Context(), service.RequestWithdrawalInput{
		AffiliateCode: req.AffiliateCode,
		Amount:        req.Amount,
		Notes:         req.Notes,
	})
	if err != nil {
		respondLedgerError(c, err, "failed to request withdrawal")
		return
	}
	response.Success(c, "Withdrawal requested", withdrawal)
}
