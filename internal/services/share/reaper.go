package share

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/duckyoo9/fileduck/internal/config"
	"github.com/duckyoo9/fileduck/internal/models"
	"github.com/duckyoo9/fileduck/internal/pkg/logger"
	"github.com/duckyoo9/fileduck/internal/pkg/xerr"
	"github.com/duckyoo9/fileduck/internal/repositories"
	"go.uber.org/zap"
)

// ExpiryReaper 周期性清扫过期的分享记录
// 记录本身有TTL兜底,但key过期后指向的后端存储就找不回来了,
// 清扫器要赶在TTL之前把存储释放掉
type ExpiryReaper struct {
	recordRepo repositories.ShareRecordRepository
	store      ObjectStore
	cfg        *config.Config
	now        func() time.Time
	running    atomic.Bool
}

// NewExpiryReaper 创建清扫器
func NewExpiryReaper(recordRepo repositories.ShareRecordRepository, store ObjectStore, cfg *config.Config) *ExpiryReaper {
	return &ExpiryReaper{
		recordRepo: recordRepo,
		store:      store,
		cfg:        cfg,
		now:        time.Now,
	}
}

// Sweep 执行一轮清扫,返回本轮墓碑化的文件名列表
// 上一轮还没结束时直接跳过,清扫永远不并发
func (r *ExpiryReaper) Sweep(ctx context.Context) ([]string, error) {
	if !r.running.CompareAndSwap(false, true) {
		logger.Warn("Sweep: 上一轮清扫尚未结束,本轮跳过")
		return nil, nil
	}
	defer r.running.Store(false)

	codes, err := r.recordRepo.Codes(ctx)
	if err != nil {
		return nil, err
	}

	var reaped []string
	for _, code := range codes {
		select {
		case <-ctx.Done():
			return reaped, ctx.Err()
		default:
		}

		record, err := r.recordRepo.Get(ctx, code)
		if err != nil {
			// 记录可能在枚举和读取之间刚好过期
			if errors.Is(err, xerr.ErrRecordNotFound) {
				continue
			}
			logger.Warn("Sweep: 读取记录失败,留待下一轮", zap.String("shareCode", code), zap.Error(err))
			continue
		}
		if record.Deleted {
			continue
		}
		if !record.IsExpired(r.now()) && !record.IsExhausted() {
			continue
		}

		if !r.reapOne(ctx, record) {
			continue
		}
		reaped = append(reaped, record.Filename)
	}

	if len(reaped) > 0 {
		logger.Info("Sweep: 清扫完成", zap.Int("reaped", len(reaped)))
	}
	return reaped, nil
}

// reapOne 释放一条过期记录的存储并写入墓碑
// 存储删除失败时不动记录,下一轮重试;容器已不存在视为删除成功
func (r *ExpiryReaper) reapOne(ctx context.Context, record *models.ShareRecord) bool {
	if record.Storage != nil && !record.Storage.IsZero() {
		if err := r.store.Delete(ctx, record.Storage); err != nil {
			logger.Warn("Sweep: 释放存储失败,留待下一轮",
				zap.String("shareCode", record.ShareCode), zap.Error(err))
			return false
		}
	}

	now := r.now().UnixMilli()
	tombstone := *record
	tombstone.Deleted = true
	tombstone.DeletedAt = now
	tombstone.UsesLeft = 0
	tombstone.Storage = nil

	retention := r.cfg.Share.AuditRetention
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	if err := r.recordRepo.Create(ctx, &tombstone, retention); err != nil {
		logger.Warn("Sweep: 写入墓碑失败", zap.String("shareCode", record.ShareCode), zap.Error(err))
		return false
	}

	logger.Info("Sweep: 过期分享已回收",
		zap.String("shareCode", record.ShareCode),
		zap.String("filename", record.Filename))
	return true
}

// Run 按固定间隔循环清扫,直到ctx取消
func (r *ExpiryReaper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("ExpiryReaper 启动", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			logger.Info("ExpiryReaper 退出")
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				logger.Error("清扫执行失败", zap.Error(err))
			}
		}
	}
}
