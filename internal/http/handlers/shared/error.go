package shared

import (
	"errors"
	"net/http"

	"github.com/dujiao-next/affiliate-ledger/internal/http/response"
	"github.com/dujiao-next/affiliate-ledger/internal/logger"
	"github.com/dujiao-next/affiliate-ledger/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RequestLog 提供携带 request_id 的日志实例。
func RequestLog(c *gin.Context) *zap.SugaredLogger {
	if c == nil {
		return logger.S()
	}
	if requestID, ok := c.Get("request_id"); ok {
		if id, ok := requestID.(string); ok && id != "" {
			return logger.SW("request_id", id)
		}
	}
	return logger.S()
}

// RespondError 返回错误响应，并在有原始错误时记录日志。
func RespondError(c *gin.Context, status int, msg string, err error) {
	appErr := response.WrapError(status, msg, err)
	if err != nil {
		RequestLog(c).Errorw("handler_error",
			"status", appErr.Status,
			"message", appErr.Message,
			"path", c.FullPath(),
			"error", err,
		)
	}
	response.Error(c, appErr.Status, appErr.Message)
}

// MappedHandlerError 定义业务错误到接口错误响应的映射关系，message 为空时透出业务错误文案。
type MappedHandlerError struct {
	Target  error
	Status  int
	Message string
}

// LedgerErrorRules 账本业务错误的通用映射，按顺序匹配
var LedgerErrorRules = []MappedHandlerError{
	{Target: service.ErrValidation, Status: http.StatusBadRequest},
	{Target: service.ErrInvalidTransition, Status: http.StatusBadRequest},
	{Target: service.ErrNotFound, Status: http.StatusNotFound},
	{Target: service.ErrTransientStorage, Status: http.StatusInternalServerError, Message: "storage temporarily unavailable, please retry"},
}

// RespondMappedError 按映射表返回错误，未命中时返回兜底错误并记录日志。
func RespondMappedError(c *gin.Context, err error, rules []MappedHandlerError, fallbackMsg string) {
	for _, rule := range rules {
		if !errors.Is(err, rule.Target) {
			continue
		}
		msg := rule.Message
		if msg == "" {
			msg = err.Error()
		}
		var logged error
		if rule.Status >= http.StatusInternalServerError {
			logged = err
		}
		RespondError(c, rule.Status, msg, logged)
		return
	}
	RespondError(c, http.StatusInternalServerError, fallbackMsg, err)
}

// RespondLedgerError 使用通用账本映射返回错误。
func RespondLedgerError(c *gin.Context, err error, fallbackMsg string) {
	RespondMappedError(c, err, LedgerErrorRules, fallbackMsg)
}
