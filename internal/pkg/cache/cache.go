package cache

import (
	"context"
	"errors"
	"time"
)

var ErrCacheMiss = errors.New("缓存未命中,key不存在")

// Cache 键值存储通用接口
// 分享记录、限流计数等所有跨请求状态都通过这里的原子原语协调
type Cache interface {
	// Set 在存储中设置一个值，并指定过期时间。
	// value应该是一个可以被JSON封送的结构体或指向结构体的指针。
	Set(ctx context.Context, key string, value any, expiration time.Duration) error

	// Get 检索一个值，并将其解编组到目标接口。
	// target应该是一个指针，指向希望解编组成的类型。
	Get(ctx context.Context, key string, target any) error

	// 删除一个或多个key,返回实际删除数量
	Del(ctx context.Context, keys ...string) (int64, error)

	// 检查key是否存在
	Exists(ctx context.Context, key string) (bool, error)

	// 原子自增,key不存在时从0开始
	Incr(ctx context.Context, key string) (int64, error)

	Expire(ctx context.Context, key string, expiration time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Keys 按模式枚举所有key
	// 仅供清扫器低频使用,记录量不大时O(n)扫描可以接受
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Eval 执行脚本化的读-改-写事务,保证并发安全
	Eval(ctx context.Context, script string, keys []string, args ...any) (any, error)

	// Ping 检查存储是否可达
	Ping(ctx context.Context) error
}
