package storage

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// RateLimiter 限制容器创建频率
// 计数器是进程内状态,单实例部署下足够;水平扩展时应换成
// 基于共享元数据存储的实现,接口保持不变
type RateLimiter interface {
	Allow() bool
}

// SlidingHourLimiter 滚动一小时窗口内最多允许 max 次操作
type SlidingHourLimiter struct {
	mu          sync.Mutex
	max         int
	count       int
	windowStart time.Time
	now         func() time.Time
}

func NewSlidingHourLimiter(max int) *SlidingHourLimiter {
	return &SlidingHourLimiter{
		max: max,
		now: time.Now,
	}
}

func (l *SlidingHourLimiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.windowStart) > time.Hour {
		l.count = 0
		l.windowStart = now
	}

	if l.count >= l.max {
		return false
	}
	l.count++
	return true
}

// Delayer 在相邻资产上传之间插入等待
type Delayer interface {
	Wait(ctx context.Context) error
}

// JitterDelayer 随机延迟区间 [min,max) 毫秒,避免固定节奏被识别为机器行为
// 两端都配置为0时完全不等待,供测试环境使用
type JitterDelayer struct {
	minMS int
	maxMS int
}

func NewJitterDelayer(minMS, maxMS int) *JitterDelayer {
	if maxMS < minMS {
		maxMS = minMS
	}
	return &JitterDelayer{minMS: minMS, maxMS: maxMS}
}

func (d *JitterDelayer) Wait(ctx context.Context) error {
	delay := time.Duration(d.minMS) * time.Millisecond
	if d.maxMS > d.minMS {
		delay += time.Duration(rand.Intn(d.maxMS-d.minMS)) * time.Millisecond
	}
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
