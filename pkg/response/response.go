package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response 统一响应结构，requestId 取自日志中间件写入的上下文
type Response struct {
	Code      int         `json:"code"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data"`
	RequestID string      `json:"requestId,omitempty"`
}

func body(c *gin.Context, code int, msg string, data interface{}) Response {
	return Response{Code: code, Message: msg, Data: data, RequestID: c.GetString("RequestID")}
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, body(c, CodeSuccess, "success", data))
}

// Error 错误响应
func Error(c *gin.Context, httpCode int, errCode int, msg string) {
	c.JSON(httpCode, body(c, errCode, msg, nil))
}

// Abort 错误响应并终止后续处理，供中间件使用
func Abort(c *gin.Context, httpCode int, errCode int, msg string) {
	c.AbortWithStatusJSON(httpCode, body(c, errCode, msg, nil))
}
