package model

import "errors"

// 校验类错误，不重试
var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidProvider  = errors.New("invalid provider id")
	ErrOrderNotEligible = errors.New("order not eligible")
	ErrOrderNotFound    = errors.New("order not found")
)

// 并发竞争结果，属于预期内的业务结果
var ErrAlreadyAssignedOrUnavailable = errors.New("order already assigned or unavailable")

// 网关瞬时错误，执行器内部带退避重试
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// 网关终态错误，不重试，以网关状态为准
var (
	ErrAuthorizationExpired    = errors.New("authorization expired")
	ErrAlreadyCaptured         = errors.New("authorization already captured")
	ErrAlreadyCanceled         = errors.New("authorization already canceled")
	ErrAmountExceedsAuthorized = errors.New("amount exceeds authorized amount")
	ErrAuthorizationNotFound   = errors.New("authorization not found")
)

// 重试预算耗尽
var (
	ErrCaptureFailed = errors.New("capture failed")
	ErrCancelFailed  = errors.New("cancel failed")
)

// ErrCompensationFailed 补偿失败，需要人工介入
var ErrCompensationFailed = errors.New("compensation failed")

// IsRetryable 只有网关瞬时错误允许重试
func IsRetryable(err error) bool {
	return errors.Is(err, ErrGatewayUnavailable)
}

// IsGatewayTerminal 网关明确拒绝的终态错误
func IsGatewayTerminal(err error) bool {
	return errors.Is(err, ErrAuthorizationExpired) ||
		errors.Is(err, ErrAlreadyCaptured) ||
		errors.Is(err, ErrAlreadyCanceled) ||
		errors.Is(err, ErrAmountExceedsAuthorized) ||
		errors.Is(err, ErrAuthorizationNotFound)
}

// IsValidation 参数或前置条件错误
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidProvider) ||
		errors.Is(err, ErrOrderNotEligible)
}
