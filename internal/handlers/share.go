package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/duckyoo9/fileduck/internal/config"
	"github.com/duckyoo9/fileduck/internal/pkg/logger"
	"github.com/duckyoo9/fileduck/internal/pkg/xerr"
	"github.com/duckyoo9/fileduck/internal/services/share"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type ShareHandler struct {
	shareService share.ShareService
	cfg          *config.Config
}

func NewShareHandler(shareService share.ShareService, cfg *config.Config) *ShareHandler {
	return &ShareHandler{
		shareService: shareService,
		cfg:          cfg,
	}
}

// CreateShare handles upload and creation of a new share.
// @Summary 上传文件并创建分享
// @Description 接收文件内容并创建带下载次数和有效期的分享码
// @Tags 分享
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "文件内容"
// @Param ttl_hours formData int false "有效期(小时),上限168"
// @Param max_uses formData int false "最大下载次数"
// @Param skip_scan formData bool false "跳过病毒扫描"
// @Success 201 {object} xerr.Response "分享创建成功"
// @Failure 400 {object} xerr.Response "请求参数无效"
// @Failure 413 {object} xerr.Response "文件超出大小上限"
// @Router /api/v1/shares [post]
func (h *ShareHandler) CreateShare(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		xerr.Error(c, http.StatusBadRequest, xerr.InvalidParamsCode, "缺少文件字段: "+err.Error())
		return
	}
	if fileHeader.Size > h.cfg.Share.MaxFileSize {
		xerr.Error(c, http.StatusRequestEntityTooLarge, xerr.FileTooLargeCode, xerr.ErrFileTooLarge.Error())
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		xerr.Error(c, http.StatusBadRequest, xerr.InvalidParamsCode, "读取上传文件失败: "+err.Error())
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		xerr.Error(c, http.StatusBadRequest, xerr.InvalidParamsCode, "读取上传文件失败: "+err.Error())
		return
	}

	var form struct {
		TTLHours int  `form:"ttl_hours"`
		MaxUses  int  `form:"max_uses"`
		SkipScan bool `form:"skip_scan"`
	}
	if err := c.ShouldBind(&form); err != nil {
		xerr.Error(c, http.StatusBadRequest, xerr.InvalidParamsCode, "请求参数解析失败: "+err.Error())
		return
	}

	record, err := h.shareService.CreateShare(c.Request.Context(), &share.CreateShareInput{
		Filename: fileHeader.Filename,
		Data:     data,
		MimeType: fileHeader.Header.Get("Content-Type"),
		TTLHours: form.TTLHours,
		MaxUses:  form.MaxUses,
		SkipScan: form.SkipScan,
	})
	if err != nil {
		h.respondError(c, err, "CreateShare")
		return
	}

	xerr.Success(c, http.StatusCreated, "分享创建成功", gin.H{
		"share_code":  record.ShareCode,
		"filename":    record.Filename,
		"size":        record.Size,
		"sha256":      record.SHA256,
		"expires_at":  record.ExpiresAt,
		"uses_left":   record.UsesLeft,
		"scan_status": record.ScanStatus,
	})
}

// Redeem exchanges a share code for the file content.
// 成功时响应体是文件内容本身,不走统一JSON包装
// @Summary 兑换分享码并下载文件
// @Description 校验分享码并原子扣减一次下载次数,返回文件内容
// @Tags 分享
// @Produce octet-stream
// @Param code path string true "分享码"
// @Param X-Captcha-Token header string false "验证码令牌"
// @Success 200 {file} binary "文件内容"
// @Failure 403 {object} xerr.Response "需要验证码或文件被标记为恶意"
// @Failure 404 {object} xerr.Response "分享码不存在"
// @Failure 410 {object} xerr.Response "分享已过期或次数用尽"
// @Failure 429 {object} xerr.Response "请求过于频繁"
// @Router /share/{code}/redeem [get]
func (h *ShareHandler) Redeem(c *gin.Context) {
	input := &share.RedeemInput{
		Code:          c.Param("code"),
		ClientIP:      c.ClientIP(),
		CaptchaPassed: c.GetHeader("X-Captcha-Token") != "",
	}

	record, err := h.shareService.Redeem(c.Request.Context(), input)
	if err != nil {
		h.respondError(c, err, "Redeem")
		return
	}

	data, err := h.shareService.Download(c.Request.Context(), record)
	if err != nil {
		h.respondError(c, err, "Download")
		return
	}

	mimeType := record.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	c.Header("Content-Disposition",
		fmt.Sprintf(`attachment; filename="%s"`, url.PathEscape(record.Filename)))
	c.Header("X-Uses-Left", fmt.Sprintf("%d", record.UsesLeft))
	c.Data(http.StatusOK, mimeType, data)
}

// Details returns share metadata without consuming a use.
// @Summary 查询分享元数据
// @Description 查询文件名、大小、剩余次数等信息,不消耗下载次数
// @Tags 分享
// @Produce json
// @Param code path string true "分享码"
// @Success 200 {object} xerr.Response "查询成功"
// @Failure 404 {object} xerr.Response "分享码不存在"
// @Router /share/{code}/details [get]
func (h *ShareHandler) Details(c *gin.Context) {
	record, err := h.shareService.Details(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.respondError(c, err, "Details")
		return
	}

	xerr.Success(c, http.StatusOK, "查询成功", gin.H{
		"filename":        record.Filename,
		"size":            record.Size,
		"mime_type":       record.MimeType,
		"uploaded_at":     record.UploadedAt,
		"expires_at":      record.ExpiresAt,
		"uses_left":       record.UsesLeft,
		"max_uses":        record.MaxUses,
		"scan_status":     record.ScanStatus,
		"require_captcha": record.RequireCaptcha,
	})
}

// Delete removes a share before its natural expiry.
// @Summary 主动删除分享
// @Description 释放后端存储并保留审计墓碑
// @Tags 分享
// @Produce json
// @Param code path string true "分享码"
// @Success 200 {object} xerr.Response "分享已删除"
// @Failure 404 {object} xerr.Response "分享码不存在"
// @Router /api/v1/shares/{code} [delete]
func (h *ShareHandler) Delete(c *gin.Context) {
	if err := h.shareService.Delete(c.Request.Context(), c.Param("code")); err != nil {
		h.respondError(c, err, "Delete")
		return
	}
	xerr.Success(c, http.StatusOK, "分享已删除", nil)
}

// Rescan triggers another scan round for a non-terminal record.
// @Summary 重新扫描分享文件
// @Description 对扫描状态非终态的记录重新执行一轮病毒扫描
// @Tags 分享
// @Produce json
// @Param code path string true "分享码"
// @Success 200 {object} xerr.Response "扫描完成"
// @Failure 404 {object} xerr.Response "分享码不存在"
// @Failure 409 {object} xerr.Response "文件尚未上传完成"
// @Router /api/v1/shares/{code}/rescan [post]
func (h *ShareHandler) Rescan(c *gin.Context) {
	record, err := h.shareService.Rescan(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.respondError(c, err, "Rescan")
		return
	}
	xerr.Success(c, http.StatusOK, "扫描完成", gin.H{
		"share_code":  record.ShareCode,
		"scan_status": record.ScanStatus,
	})
}

// Health reports liveness and metadata-store reachability.
// @Summary 健康检查
// @Tags 系统
// @Produce json
// @Success 200 {object} xerr.Response "服务正常"
// @Failure 503 {object} xerr.Response "元数据存储不可达"
// @Router /healthz [get]
func (h *ShareHandler) Health(c *gin.Context) {
	if err := h.shareService.Ping(c.Request.Context()); err != nil {
		xerr.Error(c, http.StatusServiceUnavailable, xerr.RecordUnavailableCode, "元数据存储不可达")
		return
	}
	xerr.Success(c, http.StatusOK, "ok", nil)
}

// respondError 把业务错误映射到HTTP状态码
func (h *ShareHandler) respondError(c *gin.Context, err error, op string) {
	switch {
	case errors.Is(err, xerr.ErrRateLimited):
		xerr.Error(c, http.StatusTooManyRequests, xerr.RateLimitedCode, err.Error())
	case errors.Is(err, xerr.ErrShareCodeInvalid):
		xerr.Error(c, http.StatusBadRequest, xerr.ShareCodeInvalidCode, err.Error())
	case errors.Is(err, xerr.ErrCaptchaRequired):
		xerr.Error(c, http.StatusForbidden, xerr.CaptchaRequiredCode, err.Error())
	case errors.Is(err, xerr.ErrMalwareDetected):
		xerr.Error(c, http.StatusForbidden, xerr.MalwareDetectedCode, err.Error())
	case errors.Is(err, xerr.ErrRecordNotFound):
		xerr.Error(c, http.StatusNotFound, xerr.RecordNotFoundCode, err.Error())
	case errors.Is(err, xerr.ErrExpired):
		xerr.Error(c, http.StatusGone, xerr.ExpiredCode, err.Error())
	case errors.Is(err, xerr.ErrExhausted):
		xerr.Error(c, http.StatusGone, xerr.ExhaustedCode, err.Error())
	case errors.Is(err, xerr.ErrScanPending):
		// 扫描还没出结论,客户端稍后重试
		xerr.Error(c, http.StatusAccepted, xerr.ScanPendingCode, err.Error())
	case errors.Is(err, xerr.ErrFileTooLarge):
		xerr.Error(c, http.StatusRequestEntityTooLarge, xerr.FileTooLargeCode, err.Error())
	case errors.Is(err, xerr.ErrUploadIncomplete):
		xerr.Error(c, http.StatusConflict, xerr.UploadIncompleteCode, err.Error())
	case errors.Is(err, xerr.ErrHashMismatch):
		xerr.Error(c, http.StatusInternalServerError, xerr.HashMismatchCode, err.Error())
	default:
		logger.Error(op+": 请求处理失败", zap.Error(err))
		xerr.Error(c, http.StatusInternalServerError, xerr.InternalServerErrorCode, "请求处理失败")
	}
}
