package response

// 业务状态码
const (
	CodeSuccess = 0

	// 认证错误 100xx
	ErrTokenInvalid = 10004
	ErrNoPermission = 10005

	// 支付与抢单错误 300xx
	ErrOrderNotFound          = 30001
	ErrOrderNotEligible       = 30002
	ErrInvalidAmount          = 30003
	ErrOrderUnavailable       = 30004
	ErrAuthorizationExpired   = 30005
	ErrAuthorizationState     = 30006
	ErrGatewayUnavailable     = 30007
	ErrCaptureFailed          = 30008
	ErrCancelFailed           = 30009
	ErrNeedsIntervention      = 30010
	ErrAmountExceedsAuthorize = 30011

	// 系统错误 500xx
	ErrServerInternal  = 50001
	ErrInvalidParam    = 50002
	ErrTooManyRequests = 50003
)
