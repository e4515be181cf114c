package xerr

// 定义了统一的业务错误码
const (
	SuccessCode = 20000 // 通用成功码

	// --- 客户端请求错误系列 (400xx) ---
	InvalidParamsCode    = 40000 // 无效的请求参数
	ShareCodeInvalidCode = 40001 // 分享码格式无效
	FileTooLargeCode     = 40002 // 文件过大
	HashMismatchCode     = 40003 // 文件Hash不匹配
	UploadIncompleteCode = 40004 // 上传未完成,记录缺少存储句柄

	// --- 权限错误系列 (403xx) ---
	CaptchaRequiredCode = 40300 // 需要验证码
	MalwareDetectedCode = 40301 // 文件被判定为恶意,永久拒绝下载

	// --- 资源未找到错误系列 (404xx) ---
	NotFoundCode       = 40400 // 通用资源未找到
	RecordNotFoundCode = 40401 // 分享记录不存在
	AssetNotFoundCode  = 40402 // 后端资产不存在

	// --- 资源已消亡系列 (410xx) ---
	ExpiredCode   = 41000 // 记录已过期
	ExhaustedCode = 41001 // 下载次数已用尽

	// --- 限流系列 (429xx) ---
	RateLimitedCode = 42900 // 请求频率超限

	// --- 服务器内部错误系列 (500xx) ---
	InternalServerErrorCode = 50000 // 服务器内部通用错误
	RecordUnavailableCode   = 50001 // 元数据存储不可达
	BackendErrorCode        = 50002 // 存储后端操作失败
	DecodeErrorCode         = 50003 // 数据解码失败,内容可能已损坏
	MQErrorCode             = 50004 // 消息队列操作失败
	ScanPendingCode         = 50010 // 扫描尚未完成,稍后重试
	ScanUnavailableCode     = 50011 // 扫描服务不可用
)
