package admin

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	handlershared "github.com/dujiao-next/affiliate-ledger/internal/http/handlers/shared"
	"github.com/dujiao-next/affiliate-ledger/internal/http/response"
	"github.com/dujiao-next/affiliate-ledger/internal/service"

	"github.com/gin-gonic/gin"
)

// ProcessConversionRequest 转化审核请求
type ProcessConversionRequest struct {
	ReferralID uint   `json:"referral_id"`
	Status     string `json:"status"`
	Notes      string `json:"notes"`
}

// ProcessConversion 审核推广转化
func (h *Handler) ProcessConversion(c *gin.Context) {
	var req ProcessConversionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	result, err := h.ReferralService.ProcessConversion(c.Request.Context(), service.ProcessConversionInput{
		ReferralID: req.ReferralID,
		Status:     req.Status,
		Notes:      req.Notes,
	})
	if err != nil {
		respondLedgerError(c, err, "failed to process conversion")
		return
	}
	message := fmt.Sprintf("Referral %s", result.Referral.Status)
	if !result.Changed {
		message = fmt.Sprintf("Referral already %s", result.Referral.Status)
	}
	response.Success(c, message, result.Referral)
}

// ProcessWithdrawalRequest 提现处理请求
type ProcessWithdrawalRequest struct {
	WithdrawalID  uint   `json:"withdrawal_id"`
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id"`
	Notes         string `json:"notes"`
}

// ProcessWithdrawal 推进提现状态
func (h *Handler) ProcessWithdrawal(c *gin.Context) {
	var req ProcessWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	result, err := h.WithdrawalService.ProcessWithdrawal(c.Request.Context(), service.ProcessWithdrawalInput{
		WithdrawalID:  req.WithdrawalID,
		Status:        req.Status,
		TransactionID: req.TransactionID,
		Notes:         req.Notes,
	})
	if err != nil {
		respondLedgerError(c, err, "failed to process withdrawal")
		return
	}
	message := fmt.Sprintf("Withdrawal %s", result.Withdrawal.Status)
	if !result.Changed {
		message = fmt.Sprintf("Withdrawal already %s", result.Withdrawal.Status)
	}
	response.Success(c, message, result.Withdrawal)
}

// UpdateLeaderboardRequest 排行榜重算请求
type UpdateLeaderboardRequest struct {
	ForceUpdate bool `json:"force_update"`
}

// UpdateLeaderboard 触发排行榜重算，每日默认最多执行一次
func (h *Handler) UpdateLeaderboard(c *gin.Context) {
	var req UpdateLeaderboardRequest
	if c.Request.ContentLength != 0 {
		// 分块传输的空请求体按无参数处理
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			respondError(c, http.StatusBadRequest, "invalid request body", nil)
			return
		}
	}
	result, err := h.LeaderboardService.UpdateLeaderboard(c.Request.Context(), req.ForceUpdate)
	if err != nil {
		respondLedgerError(c, err, "failed to update leaderboard")
		return
	}
	message := "Leaderboard updated"
	if result.AlreadyUpdated {
		message = "Leaderboard already updated today"
	}
	response.SuccessWithFields(c, message, gin.H{
		"affiliatesUpdated": result.AffiliatesUpdated,
		"timestamp":         result.Timestamp,
	})
}

// ListReferrals 分页查询推广转化
func (h *Handler) ListReferrals(c *gin.Context) {
	page, pageSize := handlershared.ParsePagination(c)
	rows, total, err := h.ReferralService.ListReferrals(c.Request.Context(), service.ListReferralsInput{
		AffiliateCode: strings.TrimSpace(c.Query("affiliate_code")),
		Status:        strings.TrimSpace(c.Query("status")),
		Page:          page,
		PageSize:      pageSize,
	})
	if err != nil {
		respondLedgerError(c, err, "failed to list referrals")
		return
	}
	response.SuccessWithPage(c, "", rows, response.BuildPagination(page, pageSize, total))
}

// ListWithdrawals 分页查询提现记录
func (h *Handler) ListWithdrawals(c *gin.Context) {
	page, pageSize := handlershared.ParsePagination(c)
	rows, total, err := h.WithdrawalService.ListWithdrawals(c.Request.Context(), service.ListWithdrawalsInput{
		AffiliateCode: strings.TrimSpace(c.Query("affiliate_code")),
		Status:        strings.TrimSpace(c.Query("status")),
		Page:          page,
		PageSize:      pageSize,
	})
	if err != nil {
		respondLedgerError(c, err, "failed to list withdrawals")
		return
	}
	response.SuccessWithPage(c, "", rows, response.BuildPagination(page, pageSize, total))
}
