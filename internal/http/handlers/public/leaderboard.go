package public

import (
	"strconv"
	"strings"

	handlershared "github.com/dujiao-next/affiliate-ledger/internal/http/handlers/shared"
	"github.com/dujiao-next/affiliate-ledger/internal/http/response"
	"github.com/dujiao-next/affiliate-ledger/internal/service"

	"github.com/gin-gonic/gin"
)

// GetLeaderboard 公开排行榜，收益与转化率按参数决定是否展示
func (h *Handler) GetLeaderboard(c *gin.Context) {
	limit, _ := strconv.Atoi(strings.TrimSpace(c.Query("limit")))
	result, err := h.LeaderboardService.GetPublicLeaderboard(c.Request.Context(), service.LeaderboardQuery{
		TimeFrame:      c.Query("timeFrame"),
		Limit:          limit,
		ShowEarnings:   handlershared.ParseBoolQuery(c, "showEarnings", false),
		ShowConversion: handlershared.ParseBoolQuery(c, "showConversion", false),
	})
	if err != nil {
		respondLedgerError(c, err, "failed to load leaderboard")
		return
	}
	response.SuccessWithMeta(c, result.Entries, result.Metadata)
}
