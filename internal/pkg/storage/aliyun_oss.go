package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/duckyoo9/fileduck/internal/config"
	"github.com/duckyoo9/fileduck/internal/pkg/logger"
	"github.com/duckyoo9/fileduck/internal/pkg/xerr"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AliyunOSSStorage 阿里云OSS后端,布局与MinIO后端一致:
// releases/<容器ID>/ 前缀下的对象,资产ID即对象key
type AliyunOSSStorage struct {
	bucket *oss.Bucket
	cfg    *config.AliyunOSSConfig
}

// NewAliyunOSSStorage 创建并返回一个 AliyunOSSStorage 实例
func NewAliyunOSSStorage(cfg *config.AliyunOSSConfig) (*AliyunOSSStorage, error) {
	ossClient, err := oss.New(cfg.Endpoint, cfg.AccessKeyID, cfg.SecretAccessKey)
	if err != nil {
		logger.Error("初始化阿里云OSS客户端失败", zap.Error(err))
		return nil, fmt.Errorf("无法初始化阿里云OSS客户端: %w", err)
	}

	exists, err := ossClient.IsBucketExist(cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("检查阿里云OSS存储桶存在性失败: %w", err)
	}
	if !exists {
		if err := ossClient.CreateBucket(cfg.BucketName); err != nil {
			if ossErr, ok := err.(oss.ServiceError); !ok || (ossErr.Code != "BucketAlreadyExists" && ossErr.Code != "BucketAlreadyOwnedByYou") {
				return nil, fmt.Errorf("创建阿里云OSS存储桶失败: %w", err)
			}
		}
	}

	bucket, err := ossClient.Bucket(cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("获取OSS存储桶失败: %w", err)
	}

	logger.Info("阿里云OSS存储后端初始化成功", zap.String("endpoint", cfg.Endpoint))
	return &AliyunOSSStorage{bucket: bucket, cfg: cfg}, nil
}

func (s *AliyunOSSStorage) containerPrefix(containerID string) string {
	return fmt.Sprintf("releases/%s/", containerID)
}

func (s *AliyunOSSStorage) CreateContainer(ctx context.Context, tag, name, description string) (string, error) {
	containerID := uuid.NewString()
	marker := s.containerPrefix(containerID) + ".container"
	meta := fmt.Sprintf("tag=%s\nname=%s\n%s", tag, name, description)

	if err := s.bucket.PutObject(marker, strings.NewReader(meta), oss.ContentType("text/plain")); err != nil {
		return "", fmt.Errorf("%w: 创建OSS容器标记失败: %v", xerr.ErrBackendError, err)
	}
	return containerID, nil
}

func (s *AliyunOSSStorage) PutAsset(ctx context.Context, containerID, name string, data []byte) (Asset, error) {
	key := s.containerPrefix(containerID) + name
	if err := s.bucket.PutObject(key, bytes.NewReader(data), oss.ContentType("application/octet-stream")); err != nil {
		return Asset{}, fmt.Errorf("%w: 阿里云OSS上传资产失败: %v", xerr.ErrBackendError, err)
	}
	return Asset{
		ID:        key,
		Name:      name,
		DirectURL: s.objectURL(key),
	}, nil
}

func (s *AliyunOSSStorage) ListAssets(ctx context.Context, containerID string) ([]Asset, error) {
	prefix := s.containerPrefix(containerID)
	var assets []Asset

	marker := ""
	for {
		result, err := s.bucket.ListObjects(oss.Prefix(prefix), oss.Marker(marker))
		if err != nil {
			return nil, fmt.Errorf("%w: 阿里云OSS列举资产失败: %v", xerr.ErrBackendError, err)
		}
		for _, obj := range result.Objects {
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
		if !result.IsTruncated {
			break
		}
		marker = result.NextMarker
	}
	return assets, nil
}

func (s *AliyunOSSStorage) GetAsset(ctx context.Context, assetID string) ([]byte, error) {
	reader, err := s.bucket.GetObject(assetID)
	if err != nil {
		if ossErr, ok := err.(oss.ServiceError); ok && ossErr.Code == "NoSuchKey" {
			return nil, xerr.ErrAssetNotFound
		}
		return nil, fmt.Errorf("%w: 阿里云OSS获取资产失败: %v", xerr.ErrBackendError, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: 阿里云OSS读取资产失败: %v", xerr.ErrBackendError, err)
	}
	return data, nil
}

func (s *AliyunOSSStorage) FetchDirect(ctx context.Context, directURL string) ([]byte, error) {
	// OSS桶默认私有,直连URL仅公开读桶可用,统一回落到API路径
	idx := strings.Index(directURL, "/releases/")
	if idx < 0 {
		return nil, fmt.Errorf("%w: 无法从直连URL解析对象key: %s", xerr.ErrBackendError, directURL)
	}
	return s.GetAsset(ctx, directURL[idx+1:])
}

func (s *AliyunOSSStorage) DeleteContainer(ctx context.Context, containerID string) error {
	prefix := s.containerPrefix(containerID)

	marker := ""
	for {
		result, err := s.bucket.ListObjects(oss.Prefix(prefix), oss.Marker(marker))
		if err != nil {
			return fmt.Errorf("%w: 阿里云OSS列举待删除资产失败: %v", xerr.ErrBackendError, err)
		}
		if len(result.Objects) == 0 {
			// 前缀为空同样视为成功,保证幂等
			return nil
		}

		keys := make([]string, 0, len(result.Objects))
		for _, obj := range result.Objects {
			keys = append(keys, obj.Key)
		}
		if _, err := s.bucket.DeleteObjects(keys); err != nil {
			return fmt.Errorf("%w: 阿里云OSS批量删除失败: %v", xerr.ErrBackendError, err)
		}
		if !result.IsTruncated {
			return nil
		}
		marker = result.NextMarker
	}
}

func (s *AliyunOSSStorage) objectURL(key string) string {
	endpoint := strings.TrimPrefix(s.cfg.Endpoint, "https://")
	endpoint = strings.TrimPrefix(endpoint, "http://")
	return fmt.Sprintf("https://%s.%s/%s", s.cfg.BucketName, endpoint, key)
}
