package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/duckyoo9/fileduck/internal/pkg/cache"
)

const (
	// 每个IP每分钟允许的兑换尝试次数
	redeemLimitPerMinute = 10
	redeemWindow         = time.Minute
	failedWindow         = time.Hour
)

// RateLimitRepository 基于计数器的请求限流与失败尝试追踪
// 失败计数用于触发验证码要求,而不是直接封禁
type RateLimitRepository interface {
	// AllowRedeem 同一IP滚动一分钟内是否还允许兑换尝试
	AllowRedeem(ctx context.Context, ip string) (bool, error)
	// RecordFailure 记录一次失败的兑换尝试,返回窗口内累计失败次数
	RecordFailure(ctx context.Context, ip string) (int64, error)
	// FailureCount 窗口内累计失败次数
	FailureCount(ctx context.Context, ip string) (int64, error)
	// ClearFailures 兑换成功后清空失败计数
	ClearFailures(ctx context.Context, ip string) error
}

type rateLimitRepository struct {
	cache cache.Cache
}

// NewRateLimitRepository 创建限流仓库
func NewRateLimitRepository(c cache.Cache) RateLimitRepository {
	return &rateLimitRepository{cache: c}
}

func (r *rateLimitRepository) AllowRedeem(ctx context.Context, ip string) (bool, error) {
	key := rateLimitPrefix + ip
	n, err := r.cache.Incr(ctx, key)
	if err != nil {
		return false, err
	}
	// 首次计数时设置窗口,过期后自动归零
	if n == 1 {
		if err := r.cache.Expire(ctx, key, redeemWindow); err != nil {
			return false, err
		}
	}
	return n <= redeemLimitPerMinute, nil
}

func (r *rateLimitRepository) RecordFailure(ctx context.Context, ip string) (int64, error) {
	key := failedPrefix + ip
	n, err := r.cache.Incr(ctx, key)
	if err != nil {
		return 0, err
	}
	if n == 1 {
		if err := r.cache.Expire(ctx, key, failedWindow); err != nil {
			return 0, err
		}
	}
	return n, nil
}

func (r *rateLimitRepository) FailureCount(ctx context.Context, ip string) (int64, error) {
	key := failedPrefix + ip
	var count int64
	err := r.cache.Get(ctx, key, &count)
	if err != nil {
		if err == cache.ErrCacheMiss {
			return 0, nil
		}
		return 0, fmt.Errorf("读取失败计数失败: %w", err)
	}
	return count, nil
}

func (r *rateLimitRepository) ClearFailures(ctx context.Context, ip string) error {
	_, err := r.cache.Del(ctx, failedPrefix+ip)
	return err
}
