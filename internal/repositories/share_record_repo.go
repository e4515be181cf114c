package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/duckyoo9/fileduck/internal/models"
	"github.com/duckyoo9/fileduck/internal/pkg/cache"
	"github.com/duckyoo9/fileduck/internal/pkg/xerr"
)

// 分享码直接作为key,计数器类key用前缀隔离,清扫时跳过
const (
	rateLimitPrefix = "ratelimit:"
	failedPrefix    = "failed:"
)

// decrementScript 读-判-写必须在存储侧原子完成,
// 两个并发下载不能各自读到 uses_left=1 然后都放行
//
// 返回值: 记录不存在返回false,否则返回扣减后的记录JSON
// 最后一次使用时删除key,但仍返回 uses_left=0 的副本供本次下载使用
const decrementScript = `
local raw = redis.call('GET', KEYS[1])
if not raw then
  return false
end
local rec = cjson.decode(raw)
local uses = rec['uses_left']
if uses == nil or uses <= 1 then
  redis.call('DEL', KEYS[1])
  rec['uses_left'] = 0
  return cjson.encode(rec)
end
rec['uses_left'] = uses - 1
local ttl = redis.call('TTL', KEYS[1])
if ttl < 0 then
  ttl = 86400
end
local out = cjson.encode(rec)
redis.call('SET', KEYS[1], out, 'EX', ttl)
return out
`

// ShareRecordRepository 分享记录的存取
type ShareRecordRepository interface {
	Create(ctx context.Context, record *models.ShareRecord, ttl time.Duration) error
	Get(ctx context.Context, code string) (*models.ShareRecord, error)
	// DecrementOrExpire 原子扣减一次下载次数
	// 扣减到0时删除记录并返回 UsesLeft=0 的副本,记录不存在返回 ErrRecordNotFound
	DecrementOrExpire(ctx context.Context, code string) (*models.ShareRecord, error)
	// Update 应用一次局部更新并保留剩余TTL
	Update(ctx context.Context, code string, update *models.RecordUpdate) (*models.ShareRecord, error)
	// Replace 整条覆写并保留剩余TTL
	Replace(ctx context.Context, record *models.ShareRecord) error
	// Delete 返回记录是否真的存在过
	Delete(ctx context.Context, code string) (bool, error)
	// Codes 枚举所有分享码,跳过计数器类key
	Codes(ctx context.Context) ([]string, error)
	Ping(ctx context.Context) error
}

type shareRecordRepository struct {
	cache cache.Cache
}

// NewShareRecordRepository 创建分享记录仓库
func NewShareRecordRepository(c cache.Cache) ShareRecordRepository {
	return &shareRecordRepository{cache: c}
}

func (r *shareRecordRepository) Create(ctx context.Context, record *models.ShareRecord, ttl time.Duration) error {
	if record.ShareCode == "" {
		return xerr.ErrShareCodeInvalid
	}
	if err := r.cache.Set(ctx, record.ShareCode, record, ttl); err != nil {
		return fmt.Errorf("%w: %v", xerr.ErrRecordUnavailable, err)
	}
	return nil
}

func (r *shareRecordRepository) Get(ctx context.Context, code string) (*models.ShareRecord, error) {
	var record models.ShareRecord
	err := r.cache.Get(ctx, code, &record)
	if err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, xerr.ErrRecordNotFound
		}
		return nil, fmt.Errorf("%w: %v", xerr.ErrRecordUnavailable, err)
	}
	return &record, nil
}

func (r *shareRecordRepository) DecrementOrExpire(ctx context.Context, code string) (*models.ShareRecord, error) {
	res, err := r.cache.Eval(ctx, decrementScript, []string{code})
	if err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, xerr.ErrRecordNotFound
		}
		return nil, fmt.Errorf("%w: %v", xerr.ErrRecordUnavailable, err)
	}

	raw, ok := res.(string)
	if !ok {
		return nil, fmt.Errorf("%w: 脚本返回了非预期类型 %T", xerr.ErrRecordUnavailable, res)
	}
	var record models.ShareRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, fmt.Errorf("%w: 反序列化记录失败: %v", xerr.ErrRecordUnavailable, err)
	}
	return &record, nil
}

func (r *shareRecordRepository) Update(ctx context.Context, code string, update *models.RecordUpdate) (*models.ShareRecord, error) {
	record, err := r.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	update.Apply(record)
	if err := r.Replace(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

func (r *shareRecordRepository) Replace(ctx context.Context, record *models.ShareRecord) error {
	ttl, err := r.cache.TTL(ctx, record.ShareCode)
	if err != nil {
		return fmt.Errorf("%w: %v", xerr.ErrRecordUnavailable, err)
	}
	if ttl <= 0 {
		// key已无TTL或刚好消失,兜底一天,不能写成永久记录
		ttl = 24 * time.Hour
	}
	if err := r.cache.Set(ctx, record.ShareCode, record, ttl); err != nil {
		return fmt.Errorf("%w: %v", xerr.ErrRecordUnavailable, err)
	}
	return nil
}

func (r *shareRecordRepository) Delete(ctx context.Context, code string) (bool, error) {
	n, err := r.cache.Del(ctx, code)
	if err != nil {
		return false, fmt.Errorf("%w: %v", xerr.ErrRecordUnavailable, err)
	}
	return n > 0, nil
}

func (r *shareRecordRepository) Codes(ctx context.Context) ([]string, error) {
	keys, err := r.cache.Keys(ctx, "*")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", xerr.ErrRecordUnavailable, err)
	}

	codes := make([]string, 0, len(keys))
	for _, key := range keys {
		if strings.HasPrefix(key, rateLimitPrefix) || strings.HasPrefix(key, failedPrefix) {
			continue
		}
		codes = append(codes, key)
	}
	return codes, nil
}

func (r *shareRecordRepository) Ping(ctx context.Context) error {
	return r.cache.Ping(ctx)
}
