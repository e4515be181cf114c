package xerr

import "errors"

var (
	// 通用错误
	ErrInternalServer = errors.New("服务器内部错误")

	// 客户端请求错误
	ErrInvalidParams    = errors.New("无效的请求参数")
	ErrShareCodeInvalid = errors.New("分享码格式无效")
	ErrFileTooLarge     = errors.New("上传文件过大，超出限制")
	ErrHashMismatch     = errors.New("文件哈希值校验失败")
	ErrUploadIncomplete = errors.New("文件尚未完成上传")

	// 记录生命周期错误
	ErrRecordNotFound = errors.New("分享记录不存在")
	ErrExpired        = errors.New("分享记录已过期")
	ErrExhausted      = errors.New("下载次数已用尽")

	// 扫描网关错误
	ErrScanPending     = errors.New("文件正在进行安全扫描，请稍后重试")
	ErrMalwareDetected = errors.New("文件被判定为恶意内容，禁止下载")
	ErrScanUnavailable = errors.New("扫描服务暂时不可用")

	// 访问控制错误
	ErrCaptchaRequired = errors.New("需要完成验证码校验")
	ErrRateLimited     = errors.New("请求过于频繁，请稍后再试")

	// 存储与外部服务错误
	ErrRecordUnavailable = errors.New("元数据存储不可达")
	ErrBackendError      = errors.New("存储后端操作失败")
	ErrAssetNotFound     = errors.New("后端资产不存在")
	ErrDecodeError       = errors.New("数据解码失败，内容可能已损坏")
	ErrMQError           = errors.New("消息队列操作失败")
)
