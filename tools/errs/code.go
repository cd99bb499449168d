package errs

// 通用错误码
const (
	ServerInternalError = 500

	ArgsError           = 1001 // 参数/负载校验失败
	NoPermissionError   = 1002 // 成员/可见性规则不满足
	NotOwnerError       = 1003 // 归属规则不满足（改/删别人的消息）
	RecordNotFoundError = 1004
	DuplicateKeyError   = 1005 // 唯一键冲突（用户名、频道名）
	RateLimitError      = 1006

	UnauthenticatedError = 1501
	TokenInvalidError    = 1502
	UserNotFoundError    = 1503

	PersistenceError = 1601 // 存储层失败，不在本层重试
)

var (
	ErrInternalServer  = NewCodeError(ServerInternalError, "Internal server error")
	ErrArgs            = NewCodeError(ArgsError, "Invalid request")
	ErrNoPermission    = NewCodeError(NoPermissionError, "Access denied")
	ErrNotOwner        = NewCodeError(NotOwnerError, "Unauthorized")
	ErrRecordNotFound  = NewCodeError(RecordNotFoundError, "Not found")
	ErrDuplicateKey    = NewCodeError(DuplicateKeyError, "Already exists")
	ErrRateLimit       = NewCodeError(RateLimitError, "Too many requests")
	ErrUnauthenticated = NewCodeError(UnauthenticatedError, "Authentication required")
	ErrTokenInvalid    = NewCodeError(TokenInvalidError, "Invalid token")
	ErrUserNotFound    = NewCodeError(UserNotFoundError, "User not found")
	ErrPersistence     = NewCodeError(PersistenceError, "Storage failure")
)

func init() {
	// 认证类错误都算 Unauthenticated；唯一键冲突属于参数错误
	DefaultCodeRelation.Add(UnauthenticatedError, TokenInvalidError, UserNotFoundError)
	DefaultCodeRelation.Add(ArgsError, DuplicateKeyError)
}
