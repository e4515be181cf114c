package share

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/duckyoo9/fileduck/internal/config"
	"github.com/duckyoo9/fileduck/internal/models"
	"github.com/duckyoo9/fileduck/internal/pkg/logger"
	"github.com/duckyoo9/fileduck/internal/pkg/utils"
	"github.com/duckyoo9/fileduck/internal/pkg/xerr"
	"github.com/duckyoo9/fileduck/internal/repositories"
	"github.com/duckyoo9/fileduck/internal/services/scanner"
	"go.uber.org/zap"
)

// ObjectStore 分块对象存储的读写视图
type ObjectStore interface {
	Put(ctx context.Context, filename string, data []byte, sha256Hex string) (*models.StorageHandle, error)
	Get(ctx context.Context, handle *models.StorageHandle) ([]byte, error)
	Delete(ctx context.Context, handle *models.StorageHandle) error
}

// ScanDispatcher 把扫描任务交给异步队列
type ScanDispatcher interface {
	DispatchScan(ctx context.Context, shareCode string) error
}

// CreateShareInput 创建分享的入参
type CreateShareInput struct {
	Filename string
	Data     []byte
	MimeType string
	TTLHours int // 0表示使用默认TTL
	MaxUses  int // 0表示使用默认次数
	SkipScan bool
}

// RedeemInput 兑换分享码的入参
type RedeemInput struct {
	Code          string
	ClientIP      string
	CaptchaPassed bool
}

// ShareService 定义了临时文件分享需要实现的接口
type ShareService interface {
	// CreateShare 上传文件并创建分享记录,返回可分发的分享码
	CreateShare(ctx context.Context, input *CreateShareInput) (*models.ShareRecord, error)
	// Redeem 校验分享码并原子扣减一次下载次数,通过所有闸门后返回记录
	Redeem(ctx context.Context, input *RedeemInput) (*models.ShareRecord, error)
	// Download 按记录的存储句柄取回文件内容并校验完整性
	Download(ctx context.Context, record *models.ShareRecord) ([]byte, error)
	// Details 查询记录元数据,不消耗下载次数
	Details(ctx context.Context, code string) (*models.ShareRecord, error)
	// Delete 主动删除分享,释放后端存储并留下审计墓碑
	Delete(ctx context.Context, code string) error
	// Rescan 对非终态记录重新执行一轮扫描
	Rescan(ctx context.Context, code string) (*models.ShareRecord, error)
	// Ping 元数据存储可达性检查
	Ping(ctx context.Context) error
}

type shareService struct {
	recordRepo repositories.ShareRecordRepository
	limitRepo  repositories.RateLimitRepository
	store      ObjectStore
	gate       *scanner.Gate
	dispatcher ScanDispatcher // 为nil时扫描在上传请求内同步执行
	cfg        *config.Config
	now        func() time.Time
}

// NewShareService 创建一个新的 ShareService 实例
func NewShareService(
	recordRepo repositories.ShareRecordRepository,
	limitRepo repositories.RateLimitRepository,
	store ObjectStore,
	gate *scanner.Gate,
	dispatcher ScanDispatcher,
	cfg *config.Config,
) ShareService {
	return &shareService{
		recordRepo: recordRepo,
		limitRepo:  limitRepo,
		store:      store,
		gate:       gate,
		dispatcher: dispatcher,
		cfg:        cfg,
		now:        time.Now,
	}
}

// CreateShare 处理上传并创建分享记录的业务逻辑
func (s *shareService) CreateShare(ctx context.Context, input *CreateShareInput) (*models.ShareRecord, error) {
	// 1. 入参校验
	if int64(len(input.Data)) > s.cfg.Share.MaxFileSize {
		return nil, xerr.ErrFileTooLarge
	}
	filename := utils.SanitizeFilename(input.Filename)
	if filename == "" {
		filename = "unnamed"
	}

	ttlHours := input.TTLHours
	if ttlHours <= 0 {
		ttlHours = s.cfg.Share.DefaultTTLHours
	}
	// 过期时间存在硬上限,超出的请求静默压回而不是报错
	if ttlHours > s.cfg.Share.MaxTTLHours {
		ttlHours = s.cfg.Share.MaxTTLHours
	}
	maxUses := input.MaxUses
	if maxUses <= 0 {
		maxUses = s.cfg.Share.DefaultMaxUses
	}

	sum := sha256.Sum256(input.Data)
	sha256Hex := hex.EncodeToString(sum[:])

	// 2. 生成分享码,碰撞时重试
	code, err := s.newShareCode(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	ttl := time.Duration(ttlHours) * time.Hour
	record := &models.ShareRecord{
		ShareCode:  code,
		Filename:   filename,
		Size:       int64(len(input.Data)),
		SHA256:     sha256Hex,
		MimeType:   input.MimeType,
		UploadedAt: now.UnixMilli(),
		ExpiresAt:  now.Add(ttl).UnixMilli(),
		UsesLeft:   maxUses,
		MaxUses:    maxUses,
		ScanStatus: models.ScanPending,
	}
	if input.SkipScan {
		record.ScanStatus = models.ScanSkipped
		record.ScanSkipped = true
	}

	// 3. 先落记录再传文件,记录是后续清理半成品的依据
	if err := s.recordRepo.Create(ctx, record, ttl); err != nil {
		return nil, err
	}

	handle, err := s.store.Put(ctx, filename, input.Data, sha256Hex)
	if err != nil {
		logger.Error("CreateShare: 上传文件失败,回滚分享记录",
			zap.String("shareCode", code), zap.Error(err))
		if _, delErr := s.recordRepo.Delete(ctx, code); delErr != nil {
			logger.Warn("CreateShare: 回滚分享记录失败", zap.String("shareCode", code), zap.Error(delErr))
		}
		return nil, err
	}

	record, err = s.recordRepo.Update(ctx, code, &models.RecordUpdate{Storage: handle})
	if err != nil {
		return nil, err
	}

	// 4. 调度扫描
	if !input.SkipScan {
		s.dispatchScan(ctx, record, input.Data)
		// 同步扫描路径会改写记录,重新读一次拿到最新状态
		if s.dispatcher == nil {
			if fresh, getErr := s.recordRepo.Get(ctx, code); getErr == nil {
				record = fresh
			}
		}
	}

	logger.Info("CreateShare: 分享创建成功",
		zap.String("shareCode", code),
		zap.String("filename", filename),
		zap.Int64("size", record.Size),
		zap.Int("maxUses", maxUses),
		zap.Int("ttlHours", ttlHours))
	return record, nil
}

// dispatchScan 队列可用时异步投递,否则同步扫描
func (s *shareService) dispatchScan(ctx context.Context, record *models.ShareRecord, data []byte) {
	if s.dispatcher != nil {
		if err := s.dispatcher.DispatchScan(ctx, record.ShareCode); err != nil {
			logger.Error("dispatchScan: 投递扫描任务失败,留待下次兑换时重试",
				zap.String("shareCode", record.ShareCode), zap.Error(err))
		}
		return
	}
	s.applyScanOutcome(ctx, record, s.gate.Scan(ctx, record.Filename, data))
}

// applyScanOutcome 把扫描结论写回记录,感染的文件立刻释放存储
func (s *shareService) applyScanOutcome(ctx context.Context, record *models.ShareRecord, outcome scanner.Outcome) {
	update := &models.RecordUpdate{ScanStatus: &outcome.Status}
	if outcome.RequireCaptcha {
		t := true
		update.RequireCaptcha = &t
	}
	if _, err := s.recordRepo.Update(ctx, record.ShareCode, update); err != nil {
		logger.Error("applyScanOutcome: 更新扫描状态失败",
			zap.String("shareCode", record.ShareCode), zap.Error(err))
		return
	}

	if outcome.Status == models.ScanInfected {
		logger.Warn("applyScanOutcome: 检出恶意文件,立即释放存储",
			zap.String("shareCode", record.ShareCode),
			zap.Int("positives", outcome.Verdict.Positives))
		if err := s.store.Delete(ctx, record.Storage); err != nil {
			logger.Error("applyScanOutcome: 释放恶意文件存储失败",
				zap.String("shareCode", record.ShareCode), zap.Error(err))
		}
	}
}

// Redeem 处理兑换分享码的业务逻辑
// 闸门顺序固定:限流、格式、验证码、存在性、过期、次数、扫描状态
func (s *shareService) Redeem(ctx context.Context, input *RedeemInput) (*models.ShareRecord, error) {
	// 1. IP限流最先判,不给探测分享码空间的机会
	allowed, err := s.limitRepo.AllowRedeem(ctx, input.ClientIP)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", xerr.ErrRecordUnavailable, err)
	}
	if !allowed {
		return nil, xerr.ErrRateLimited
	}

	// 2. 格式非法直接拒绝,不计入失败(不泄露记录存在性)
	if !utils.ValidateShareCode(input.Code) {
		return nil, xerr.ErrShareCodeInvalid
	}

	// 3. 失败次数达到阈值后要求验证码
	failures, err := s.limitRepo.FailureCount(ctx, input.ClientIP)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", xerr.ErrRecordUnavailable, err)
	}
	if failures >= int64(s.cfg.Share.CaptchaThreshold) && !input.CaptchaPassed {
		return nil, xerr.ErrCaptchaRequired
	}

	// 4. 取记录,墓碑等同于不存在
	record, err := s.recordRepo.Get(ctx, input.Code)
	if err != nil {
		if errors.Is(err, xerr.ErrRecordNotFound) {
			s.recordFailure(ctx, input.ClientIP)
		}
		return nil, err
	}
	if record.Deleted {
		s.recordFailure(ctx, input.ClientIP)
		return nil, xerr.ErrRecordNotFound
	}

	// 5. 过期的记录就地清理
	if record.IsExpired(s.now()) {
		logger.Info("Redeem: 命中过期记录,触发清理", zap.String("shareCode", input.Code))
		if err := s.cleanup(ctx, record); err != nil {
			logger.Warn("Redeem: 清理过期记录失败", zap.String("shareCode", input.Code), zap.Error(err))
		}
		return nil, xerr.ErrExpired
	}

	// 6. 次数用尽
	if record.IsExhausted() {
		return nil, xerr.ErrExhausted
	}

	// 7. 扫描闸门
	switch {
	case record.ScanStatus == models.ScanInfected:
		return nil, xerr.ErrMalwareDetected
	case record.RequireCaptcha && !input.CaptchaPassed:
		return nil, xerr.ErrCaptchaRequired
	case !record.ScanStatus.AllowsDownload():
		return nil, xerr.ErrScanPending
	}

	// 8. 原子扣减,并发下最后一次只有一个请求能拿到
	redeemed, err := s.recordRepo.DecrementOrExpire(ctx, input.Code)
	if err != nil {
		return nil, err
	}

	if err := s.limitRepo.ClearFailures(ctx, input.ClientIP); err != nil {
		logger.Warn("Redeem: 清空失败计数失败", zap.String("ip", input.ClientIP), zap.Error(err))
	}

	logger.Info("Redeem: 兑换成功",
		zap.String("shareCode", input.Code),
		zap.Int("usesLeft", redeemed.UsesLeft))
	return redeemed, nil
}

// Download 取回文件内容并校验哈希,次数用尽时顺带释放存储
func (s *shareService) Download(ctx context.Context, record *models.ShareRecord) ([]byte, error) {
	if record.Storage == nil || record.Storage.IsZero() {
		return nil, xerr.ErrUploadIncomplete
	}

	data, err := s.store.Get(ctx, record.Storage)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(data)
	if got := hex.EncodeToString(sum[:]); got != record.SHA256 {
		logger.Error("Download: 内容哈希不匹配",
			zap.String("shareCode", record.ShareCode),
			zap.String("want", record.SHA256),
			zap.String("got", got))
		return nil, xerr.ErrHashMismatch
	}

	// 最后一次下载完成后释放后端存储并留下墓碑
	if record.UsesLeft <= 0 {
		if err := s.store.Delete(ctx, record.Storage); err != nil {
			logger.Error("Download: 释放已用尽分享的存储失败",
				zap.String("shareCode", record.ShareCode), zap.Error(err))
		} else {
			s.writeTombstone(ctx, record)
		}
	}
	return data, nil
}

func (s *shareService) Details(ctx context.Context, code string) (*models.ShareRecord, error) {
	if !utils.ValidateShareCode(code) {
		return nil, xerr.ErrShareCodeInvalid
	}
	record, err := s.recordRepo.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	if record.Deleted {
		return nil, xerr.ErrRecordNotFound
	}
	return record, nil
}

// Delete 主动删除一个分享
func (s *shareService) Delete(ctx context.Context, code string) error {
	if !utils.ValidateShareCode(code) {
		return xerr.ErrShareCodeInvalid
	}
	record, err := s.recordRepo.Get(ctx, code)
	if err != nil {
		return err
	}
	if record.Deleted {
		return nil
	}
	if err := s.cleanup(ctx, record); err != nil {
		return err
	}
	logger.Info("Delete: 分享已删除", zap.String("shareCode", code))
	return nil
}

// Rescan 重新扫描,终态记录直接返回现状
func (s *shareService) Rescan(ctx context.Context, code string) (*models.ShareRecord, error) {
	record, err := s.recordRepo.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	if record.Deleted {
		return nil, xerr.ErrRecordNotFound
	}
	if record.ScanStatus.IsTerminal() {
		return record, nil
	}
	if record.Storage == nil || record.Storage.IsZero() {
		return nil, xerr.ErrUploadIncomplete
	}

	data, err := s.store.Get(ctx, record.Storage)
	if err != nil {
		return nil, err
	}
	s.applyScanOutcome(ctx, record, s.gate.Scan(ctx, record.Filename, data))
	return s.recordRepo.Get(ctx, code)
}

func (s *shareService) Ping(ctx context.Context) error {
	return s.recordRepo.Ping(ctx)
}

// cleanup 释放后端存储并把记录改写为墓碑
func (s *shareService) cleanup(ctx context.Context, record *models.ShareRecord) error {
	if record.Storage != nil && !record.Storage.IsZero() {
		if err := s.store.Delete(ctx, record.Storage); err != nil {
			return err
		}
	}
	s.writeTombstone(ctx, record)
	return nil
}

// writeTombstone 墓碑仅为审计保留,过了保留期由TTL自动消失
func (s *shareService) writeTombstone(ctx context.Context, record *models.ShareRecord) {
	now := s.now().UnixMilli()
	tombstone := *record
	tombstone.Deleted = true
	tombstone.DeletedAt = now
	tombstone.UsesLeft = 0
	tombstone.Storage = nil

	retention := s.cfg.Share.AuditRetention
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	if err := s.recordRepo.Create(ctx, &tombstone, retention); err != nil {
		logger.Warn("writeTombstone: 写入墓碑失败",
			zap.String("shareCode", record.ShareCode), zap.Error(err))
	}
}

// newShareCode 生成不与现有记录冲突的分享码
func (s *shareService) newShareCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < 5; attempt++ {
		code, err := utils.GenerateShareCode()
		if err != nil {
			return "", fmt.Errorf("生成分享码失败: %w", err)
		}
		_, err = s.recordRepo.Get(ctx, code)
		if errors.Is(err, xerr.ErrRecordNotFound) {
			return code, nil
		}
		if err != nil {
			return "", err
		}
		logger.Warn("newShareCode: 分享码碰撞,重新生成", zap.Int("attempt", attempt+1))
	}
	return "", errors.New("多次尝试后仍无法生成唯一分享码")
}

func (s *shareService) recordFailure(ctx context.Context, ip string) {
	if _, err := s.limitRepo.RecordFailure(ctx, ip); err != nil {
		logger.Warn("记录失败尝试出错", zap.String("ip", ip), zap.Error(err))
	}
}
