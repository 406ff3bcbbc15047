package admin

import (
	handlershared "github.com/dujiao-next/affiliate-ledger/internal/http/handlers/shared"
	"github.com/dujiao-next/affiliate-ledger/internal/provider"

	"github.com/gin-gonic/gin"
)

// Handler 账本运营接口处理器入口
// 说明：转化审核、提现处理、排行榜重算与推广用户管理。
type Handler struct {
	*provider.Container
}

// New 创建运营接口处理器
func New(c *provider.Container) *Handler {
	return &Handler{Container: c}
}

func respondError(c *gin.Context, status int, msg string, err error) {
	handlershared.RespondError(c, status, msg, err)
}

func respondLedgerError(c *gin.Context, err error, fallbackMsg string) {
	handlershared.RespondLedgerError(c, err, fallbackMsg)
}
