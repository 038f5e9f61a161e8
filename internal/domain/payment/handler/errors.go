package handler

import (
	"errors"
	"net/http"

	"github.com/garrec-gildas/fourmiz-app-sub004/internal/domain/payment/model"
	"github.com/garrec-gildas/fourmiz-app-sub004/pkg/response"

	"github.com/gin-gonic/gin"
)

type errorMapping struct {
	target   error
	httpCode int
	code     int
}

// 顺序有意义：包装链中先匹配到的生效
var errorMappings = []errorMapping{
	{model.ErrOrderNotFound, http.StatusNotFound, response.ErrOrderNotFound},
	{model.ErrAuthorizationNotFound, http.StatusNotFound, response.ErrAuthorizationState},
	{model.ErrAlreadyAssignedOrUnavailable, http.StatusConflict, response.ErrOrderUnavailable},
	{model.ErrOrderNotEligible, http.StatusConflict, response.ErrOrderNotEligible},
	{model.ErrInvalidAmount, http.StatusBadRequest, response.ErrInvalidAmount},
	{model.ErrInvalidProvider, http.StatusBadRequest, response.ErrInvalidParam},
	{model.ErrAmountExceedsAuthorized, http.StatusUnprocessableEntity, response.ErrAmountExceedsAuthorize},
	{model.ErrCompensationFailed, http.StatusAccepted, response.ErrNeedsIntervention},
	{model.ErrAuthorizationExpired, http.StatusConflict, response.ErrAuthorizationExpired},
	{model.ErrAlreadyCaptured, http.StatusConflict, response.ErrAuthorizationState},
	{model.ErrAlreadyCanceled, http.StatusConflict, response.ErrAuthorizationState},
	{model.ErrCaptureFailed, http.StatusBadGateway, response.ErrCaptureFailed},
	{model.ErrCancelFailed, http.StatusBadGateway, response.ErrCancelFailed},
	{model.ErrGatewayUnavailable, http.StatusServiceUnavailable, response.ErrGatewayUnavailable},
}

// writeError 领域错误映射为 HTTP 状态与业务码
func writeError(c *gin.Context, err error) {
	writeErrorWithData(c, err, nil)
}

// writeErrorWithData 抢单失败时仍返回结果，客户端据此区分回滚与过期
func writeErrorWithData(c *gin.Context, err error, data interface{}) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			c.JSON(m.httpCode, response.Response{Code: m.code, Message: err.Error(), Data: data})
			return
		}
	}
	response.Error(c, http.StatusInternalServerError, response.ErrServerInternal, "internal server error")
}
