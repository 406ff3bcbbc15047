package public

import (
	handlershared "github.com/dujiao-next/affiliate-ledger/internal/http/handlers/shared"
	"github.com/dujiao-next/affiliate-ledger/internal/provider"

	"github.com/gin-gonic/gin"
)

// Handler 公开与接入方接口处理器入口
// 说明：访问记录、转化上报、提现申请与公开排行榜。
type Handler struct {
	*provider.Container
}

// New 创建公开接口处理器
func New(c *provider.Container) *Handler {
	return &Handler{Container: c}
}

func respondError(c *gin.Context, status int, msg string, err error) {
	handlershared.RespondError(c, status, msg, err)
}

func respondLedgerError(c *gin.Context, err error, fallbackMsg string) {
	handlershared.RespondLedgerError(c, err, fallbackMsg)
}
