package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response 统一成功响应结构
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// PageResponse 分页响应结构
type PageResponse struct {
	Success    bool        `json:"success"`
	Message    string      `json:"message,omitempty"`
	Data       interface{} `json:"data"`
	Pagination Pagination  `json:"pagination"`
}

// MetaResponse 带元数据的列表响应结构
type MetaResponse struct {
	Success  bool        `json:"success"`
	Data     interface{} `json:"data"`
	Metadata interface{} `json:"metadata"`
}

// ErrorResponse 错误响应结构
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// Pagination 分页信息
type Pagination struct {
	Page      int   `json:"page"`
	PageSize  int   `json:"page_size"`
	Total     int64 `json:"total"`
	TotalPage int64 `json:"total_page"`
}

// BuildPagination 根据总数计算分页信息
func BuildPagination(page, pageSize int, total int64) Pagination {
	var totalPage int64
	if pageSize > 0 {
		totalPage = (total + int64(pageSize) - 1) / int64(pageSize)
	}
	return Pagination{Page: page, PageSize: pageSize, Total: total, TotalPage: totalPage}
}

// Success 成功响应
func Success(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// SuccessWithFields 成功响应，附加字段平铺在顶层
func SuccessWithFields(c *gin.Context, message string, fields gin.H) {
	body := gin.H{"success": true}
	if message != "" {
		body["message"] = message
	}
	for key, value := range fields {
		if key == "success" || key == "message" {
			continue
		}
		body[key] = value
	}
	c.JSON(http.StatusOK, body)
}

// SuccessWithPage 分页成功响应
func SuccessWithPage(c *gin.Context, message string, data interface{}, pagination Pagination) {
	c.JSON(http.StatusOK, PageResponse{
		Success:    true,
		Message:    message,
		Data:       data,
		Pagination: pagination,
	})
}

// SuccessWithMeta 列表与元数据响应
func SuccessWithMeta(c *gin.Context, data interface{}, metadata interface{}) {
	c.JSON(http.StatusOK, MetaResponse{
		Success:  true,
		Data:     data,
		Metadata: metadata,
	})
}

// Error 错误响应，使用真实 HTTP 状态码
func Error(c *gin.Context, status int, msg string) {
	c.JSON(status, ErrorResponse{
		Error:     msg,
		RequestID: requestID(c),
	})
}

// BadRequest 400响应
func BadRequest(c *gin.Context, msg string) {
	Error(c, http.StatusBadRequest, msg)
}

// NotFound 404响应
func NotFound(c *gin.Context, msg string) {
	Error(c, http.StatusNotFound, msg)
}

// TooManyRequests 429响应
func TooManyRequests(c *gin.Context, msg string) {
	Error(c, http.StatusTooManyRequests, msg)
}

// Internal 500响应
func Internal(c *gin.Context, msg string) {
	Error(c, http.StatusInternalServerError, msg)
}

func requestID(c *gin.Context) string {
	if c == nil {
		return ""
	}
	if value, ok := c.Get("request_id"); ok {
		if id, ok := value.(string); ok {
			return id
		}
	}
	return ""
}
