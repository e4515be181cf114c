package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/duckyoo9/fileduck/internal/config"
	"github.com/duckyoo9/fileduck/internal/pkg/xerr"
)

// Asset 后端中一个已上传资产的引用
type Asset struct {
	ID        string
	Name      string
	DirectURL string // 匿名可访问的直连URL,后端不支持时为空
}

// ReleaseStorage 定义了Release资产后端的通用接口
// 一个容器(Release)聚合1..N个资产分块,单个资产受后端2GB上限约束
type ReleaseStorage interface {
	// 创建一个新容器,返回容器ID
	CreateContainer(ctx context.Context, tag, name, description string) (string, error)
	// 向容器上传一个资产
	PutAsset(ctx context.Context, containerID, name string, data []byte) (Asset, error)
	// 按创建顺序列出容器内所有资产
	ListAssets(ctx context.Context, containerID string) ([]Asset, error)
	// 按资产ID取回内容
	GetAsset(ctx context.Context, assetID string) ([]byte, error)
	// 匿名直连获取,绕过需要认证的API调用
	FetchDirect(ctx context.Context, url string) ([]byte, error)
	// 删除容器,容器已不存在时也视为成功(幂等)
	DeleteContainer(ctx context.Context, containerID string) error
}

// NewReleaseStorage 按配置选择后端实现,并套上限流与延迟装饰器
func NewReleaseStorage(cfg *config.Config) (ReleaseStorage, error) {
	var (
		backend ReleaseStorage
		err     error
	)
	switch cfg.Storage.Type {
	case "github":
		backend, err = NewGitHubStorage(&cfg.GitHub)
	case "minio":
		backend, err = NewMinIOStorage(&cfg.MinIO)
	case "aliyun_oss":
		backend, err = NewAliyunOSSStorage(&cfg.Aliyun)
	default:
		return nil, errors.New("invalid storage type")
	}
	if err != nil {
		return nil, err
	}

	limiter := NewSlidingHourLimiter(cfg.Storage.MaxReleasesPerHour)
	delayer := NewJitterDelayer(cfg.Storage.UploadDelayMinMS, cfg.Storage.UploadDelayMaxMS)
	return NewThrottledStorage(backend, limiter, delayer), nil
}

// ThrottledStorage 为任意后端叠加两层防滥用控制:
// 容器创建受滚动小时窗口限流,同一容器内相邻资产上传之间插入随机延迟
// (用延迟换可靠性,避免触发后端的批量上传检测)
type ThrottledStorage struct {
	inner   ReleaseStorage
	limiter RateLimiter
	delayer Delayer

	mu       sync.Mutex
	uploaded map[string]bool // 容器是否已有过资产上传
}

func NewThrottledStorage(inner ReleaseStorage, limiter RateLimiter, delayer Delayer) *ThrottledStorage {
	return &ThrottledStorage{
		inner:    inner,
		limiter:  limiter,
		delayer:  delayer,
		uploaded: make(map[string]bool),
	}
}

func (s *ThrottledStorage) CreateContainer(ctx context.Context, tag, name, description string) (string, error) {
	// 在任何网络调用之前快速失败
	if !s.limiter.Allow() {
		return "", xerr.ErrRateLimited
	}
	return s.inner.CreateContainer(ctx, tag, name, description)
}

func (s *ThrottledStorage) PutAsset(ctx context.Context, containerID, name string, data []byte) (Asset, error) {
	s.mu.Lock()
	needDelay := s.uploaded[containerID]
	s.uploaded[containerID] = true
	s.mu.Unlock()

	if needDelay {
		if err := s.delayer.Wait(ctx); err != nil {
			return Asset{}, err
		}
	}
	return s.inner.PutAsset(ctx, containerID, name, data)
}

func (s *ThrottledStorage) ListAssets(ctx context.Context, containerID string) ([]Asset, error) {
	return s.inner.ListAssets(ctx, containerID)
}

func (s *ThrottledStorage) GetAsset(ctx context.Context, assetID string) ([]byte, error) {
	return s.inner.GetAsset(ctx, assetID)
}

func (s *ThrottledStorage) FetchDirect(ctx context.Context, url string) ([]byte, error) {
	return s.inner.FetchDirect(ctx, url)
}

func (s *ThrottledStorage) DeleteContainer(ctx context.Context, containerID string) error {
	err := s.inner.DeleteContainer(ctx, containerID)
	if err == nil {
		s.mu.Lock()
		delete(s.uploaded, containerID)
		s.mu.Unlock()
	}
	return err
}
