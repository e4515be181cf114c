package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/duckyoo9/fileduck/internal/config"
	"github.com/duckyoo9/fileduck/internal/pkg/logger"
	"github.com/duckyoo9/fileduck/internal/pkg/xerr"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// MinIOStorage 将容器/资产抽象映射到 releases/<容器ID>/ 前缀下的对象
// 资产ID就是完整的对象key,天然全局唯一
type MinIOStorage struct {
	client *minio.Client
	cfg    *config.MinIOConfig
}

// NewMinIOStorage 创建并返回一个 MinIOStorage 实例
func NewMinIOStorage(cfg *config.MinIOConfig) (*MinIOStorage, error) {
	opts := &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL, // 根据配置决定是否使用 HTTPS
	}

	minioClient, err := minio.New(cfg.Endpoint, opts)
	if err != nil {
		logger.Error("初始化 MinIO 客户端失败", zap.Error(err))
		return nil, fmt.Errorf("无法初始化 MinIO 客户端: %w", err)
	}

	s := &MinIOStorage{client: minioClient, cfg: cfg}
	if err := s.ensureBucket(context.Background()); err != nil {
		return nil, err
	}

	logger.Info("MinIO 存储后端初始化成功", zap.String("endpoint", cfg.Endpoint))
	return s, nil
}

func (s *MinIOStorage) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.BucketName)
	if err != nil {
		return fmt.Errorf("检查 MinIO 存储桶存在性失败: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
		// 并发初始化时桶可能刚被创建
		exists, errExists := s.client.BucketExists(ctx, s.cfg.BucketName)
		if errExists == nil && exists {
			return nil
		}
		return fmt.Errorf("创建 MinIO 存储桶失败: %w", err)
	}
	logger.Info("MinIO 存储桶创建成功", zap.String("bucket", s.cfg.BucketName))
	return nil
}

func (s *MinIOStorage) containerPrefix(containerID string) string {
	return fmt.Sprintf("releases/%s/", containerID)
}

func (s *MinIOStorage) CreateContainer(ctx context.Context, tag, name, description string) (string, error) {
	// 对象存储没有Release实体,用标记对象占位,tag留在元数据里便于排查
	containerID := uuid.NewString()
	marker := s.containerPrefix(containerID) + ".container"
	meta := fmt.Sprintf("tag=%s\nname=%s\n%s", tag, name, description)

	_, err := s.client.PutObject(ctx, s.cfg.BucketName, marker,
		strings.NewReader(meta), int64(len(meta)), minio.PutObjectOptions{ContentType: "text/plain"})
	if err != nil {
		return "", fmt.Errorf("%w: 创建MinIO容器标记失败: %v", xerr.ErrBackendError, err)
	}
	return containerID, nil
}

func (s *MinIOStorage) PutAsset(ctx context.Context, containerID, name string, data []byte) (Asset, error) {
	key := s.containerPrefix(containerID) + name
	_, err := s.client.PutObject(ctx, s.cfg.BucketName, key,
		bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return Asset{}, fmt.Errorf("%w: MinIO 上传资产失败: %v", xerr.ErrBackendError, err)
	}
	return Asset{
		ID:        key,
		Name:      name,
		DirectURL: s.objectURL(key),
	}, nil
}

func (s *MinIOStorage) ListAssets(ctx context.Context, containerID string) ([]Asset, error) {
	prefix := s.containerPrefix(containerID)
	var assets []Asset
	for obj := range s.client.ListObjects(ctx, s.cfg.BucketName, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("%w: MinIO 列举资产失败: %v", xerr.ErrBackendError, obj.Err)
		}
		name := strings.TrimPrefix(obj.Key, prefix)
		if name == ".container" {
			continue
		}
		assets = append(assets, Asset{
			ID:        obj.Key,
			Name:      name,
			DirectURL: s.objectURL(obj.Key),
		})
	}
	return assets, nil
}

func (s *MinIOStorage) GetAsset(ctx context.Context, assetID string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.cfg.BucketName, assetID, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: MinIO 获取资产失败: %v", xerr.ErrBackendError, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if resp := minio.ToErrorResponse(err); resp.Code == "NoSuchKey" {
			return nil, xerr.ErrAssetNotFound
		}
		return nil, fmt.Errorf("%w: MinIO 读取资产失败: %v", xerr.ErrBackendError, err)
	}
	return data, nil
}

func (s *MinIOStorage) FetchDirect(ctx context.Context, directURL string) ([]byte, error) {
	// MinIO桶默认私有,直连URL仅在公开桶配置下可用,统一走API路径更可靠
	key := strings.TrimPrefix(directURL, s.baseURL()+"/")
	return s.GetAsset(ctx, key)
}

func (s *MinIOStorage) DeleteContainer(ctx context.Context, containerID string) error {
	prefix := s.containerPrefix(containerID)
	for obj := range s.client.ListObjects(ctx, s.cfg.BucketName, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return fmt.Errorf("%w: MinIO 列举待删除资产失败: %v", xerr.ErrBackendError, obj.Err)
		}
		if err := s.client.RemoveObject(ctx, s.cfg.BucketName, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			if resp := minio.ToErrorResponse(err); resp.Code == "NoSuchKey" {
				continue
			}
			return fmt.Errorf("%w: MinIO 删除资产失败: %v", xerr.ErrBackendError, err)
		}
	}
	// 前缀下没有任何对象时同样返回成功,保证幂等
	return nil
}

func (s *MinIOStorage) baseURL() string {
	endpoint := s.cfg.Endpoint
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		if s.cfg.UseSSL {
			endpoint = "https://" + endpoint
		} else {
			endpoint = "http://" + endpoint
		}
	}
	return fmt.Sprintf("%s/%s", endpoint, s.cfg.BucketName)
}

func (s *MinIOStorage) objectURL(key string) string {
	return fmt.Sprintf("%s/%s", s.baseURL(), key)
}
