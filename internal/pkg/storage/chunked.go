package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/duckyoo9/fileduck/internal/config"
	"github.com/duckyoo9/fileduck/internal/models"
	"github.com/duckyoo9/fileduck/internal/pkg/codec"
	"github.com/duckyoo9/fileduck/internal/pkg/logger"
	"github.com/duckyoo9/fileduck/internal/pkg/utils"
	"github.com/duckyoo9/fileduck/internal/pkg/xerr"
	"go.uber.org/zap"
)

// partNamePattern 匹配分块文件名中的编号,大小写不敏感兼容历史数据
var partNamePattern = regexp.MustCompile(`(?i)\.part(\d+)`)

// ChunkedObjectStore 在Release资产后端之上提供"一个逻辑文件"的读写视图
// 写入时按需压缩并切分,读取时按清单拼回原始字节
type ChunkedObjectStore struct {
	backend          ReleaseStorage
	compressor       *codec.Compressor
	chunkSize        int64
	allowRawFallback bool
	now              func() time.Time
}

// NewChunkedObjectStore 创建分块对象存储
func NewChunkedObjectStore(backend ReleaseStorage, cfg *config.StorageConfig) *ChunkedObjectStore {
	return &ChunkedObjectStore{
		backend:          backend,
		compressor:       codec.NewCompressor(cfg.CompressThreshold, cfg.CompressMinGain),
		chunkSize:        cfg.ChunkSize,
		allowRawFallback: cfg.AllowRawFallback,
		now:              time.Now,
	}
}

// Put 写入一个逻辑文件,返回后续读取和删除所需的存储句柄
func (s *ChunkedObjectStore) Put(ctx context.Context, filename string, data []byte, sha256Hex string) (*models.StorageHandle, error) {
	stored, compressed, err := s.compressor.CompressIfWorthwhile(data)
	if err != nil {
		return nil, err
	}

	parts, err := codec.Split(stored, s.chunkSize)
	if err != nil {
		return nil, err
	}

	tag := s.buildTag(len(parts) > 1, sha256Hex)
	safeName := utils.SanitizeFilename(filename)

	containerID, err := s.backend.CreateContainer(ctx, tag, safeName,
		fmt.Sprintf("sha256=%s size=%d compressed=%t parts=%d", sha256Hex, len(data), compressed, len(parts)))
	if err != nil {
		return nil, err
	}

	manifest := models.Manifest{
		TotalParts:       len(parts),
		Compressed:       compressed,
		OriginalFilename: filename,
	}

	for i, part := range parts {
		name := s.partName(safeName, i+1, len(parts), compressed)
		asset, err := s.backend.PutAsset(ctx, containerID, name, part)
		if err != nil {
			// 留下的半成品容器由清理流程兜底回收
			if delErr := s.backend.DeleteContainer(ctx, containerID); delErr != nil {
				logger.Warn("回收未完成容器失败", zap.String("containerID", containerID), zap.Error(delErr))
			}
			return nil, err
		}
		manifest.Parts = append(manifest.Parts, models.AssetRef{
			PartIndex: i + 1,
			AssetID:   asset.ID,
			DirectURL: asset.DirectURL,
		})
	}

	handle := &models.StorageHandle{
		ContainerID: containerID,
		Tag:         tag,
		Manifest:    manifest,
	}
	if len(manifest.Parts) > 0 {
		handle.DownloadURL = manifest.Parts[0].DirectURL
	}

	logger.Info("逻辑文件写入完成",
		zap.String("tag", tag),
		zap.Int("parts", len(parts)),
		zap.Bool("compressed", compressed),
		zap.Int("rawSize", len(data)),
		zap.Int("storedSize", len(stored)))
	return handle, nil
}

// Get 读取并还原一个逻辑文件
func (s *ChunkedObjectStore) Get(ctx context.Context, handle *models.StorageHandle) ([]byte, error) {
	if handle == nil || handle.IsZero() {
		return nil, xerr.ErrRecordUnavailable
	}

	stored, compressed, err := s.fetchStored(ctx, handle)
	if err != nil {
		return nil, err
	}
	if !compressed {
		return stored, nil
	}

	data, err := s.compressor.Decompress(stored)
	if err != nil {
		// 历史记录的压缩标记可能与实际内容不符,按配置决定是否容忍
		if s.allowRawFallback && errors.Is(err, xerr.ErrDecodeError) {
			logger.Warn("解压失败,按原始字节返回",
				zap.String("tag", handle.Tag), zap.Error(err))
			return stored, nil
		}
		return nil, err
	}
	return data, nil
}

// Delete 删除逻辑文件对应的整个容器,容器已不存在时也返回成功
func (s *ChunkedObjectStore) Delete(ctx context.Context, handle *models.StorageHandle) error {
	if handle == nil || handle.IsZero() {
		return nil
	}
	return s.backend.DeleteContainer(ctx, handle.ContainerID)
}

// fetchStored 取回存储形态的完整字节,并返回是否需要解压
func (s *ChunkedObjectStore) fetchStored(ctx context.Context, handle *models.StorageHandle) ([]byte, bool, error) {
	m := handle.Manifest
	if m.TotalParts > 0 && len(m.Parts) == m.TotalParts {
		data, err := s.fetchByManifest(ctx, m)
		if err != nil {
			return nil, false, err
		}
		return data, m.Compressed, nil
	}

	// 清单缺失或不完整,回落到列举资产重建顺序
	return s.fetchByListing(ctx, handle)
}

func (s *ChunkedObjectStore) fetchByManifest(ctx context.Context, m models.Manifest) ([]byte, error) {
	parts := make([][]byte, 0, len(m.Parts))
	for _, ref := range m.Parts {
		data, err := s.fetchOne(ctx, ref)
		if err != nil {
			return nil, err
		}
		parts = append(parts, data)
	}
	return codec.Join(parts), nil
}

// fetchOne 优先匿名直连,失败时回落到认证API
func (s *ChunkedObjectStore) fetchOne(ctx context.Context, ref models.AssetRef) ([]byte, error) {
	if ref.DirectURL != "" {
		data, err := s.backend.FetchDirect(ctx, ref.DirectURL)
		if err == nil {
			return data, nil
		}
		logger.Warn("直连下载失败,回落到API获取",
			zap.Int("part", ref.PartIndex), zap.Error(err))
	}
	return s.backend.GetAsset(ctx, ref.AssetID)
}

func (s *ChunkedObjectStore) fetchByListing(ctx context.Context, handle *models.StorageHandle) ([]byte, bool, error) {
	assets, err := s.backend.ListAssets(ctx, handle.ContainerID)
	if err != nil {
		return nil, false, err
	}
	if len(assets) == 0 {
		return nil, false, xerr.ErrAssetNotFound
	}

	// 先按原始文件名前缀筛选,容器里可能混有无关资产
	if base := utils.SanitizeFilename(handle.Manifest.OriginalFilename); base != "" {
		var matched []Asset
		for _, a := range assets {
			if strings.HasPrefix(a.Name, base) {
				matched = append(matched, a)
			}
		}
		if len(matched) > 0 {
			assets = matched
		} else {
			logger.Warn("没有资产匹配原始文件名,回落到全量列表",
				zap.String("containerID", handle.ContainerID), zap.String("filename", base))
		}
	}

	type numbered struct {
		asset Asset
		index int
	}
	var parts []numbered
	for _, a := range assets {
		if match := partNamePattern.FindStringSubmatch(a.Name); match != nil {
			n, convErr := strconv.Atoi(match[1])
			if convErr != nil {
				continue
			}
			parts = append(parts, numbered{asset: a, index: n})
		}
	}

	var ordered []Asset
	switch {
	case len(parts) > 0:
		// 数值排序,part10不能排在part9前面
		sort.Slice(parts, func(i, j int) bool { return parts[i].index < parts[j].index })
		for _, p := range parts {
			ordered = append(ordered, p.asset)
		}
	default:
		// 单资产文件,取第一个
		ordered = assets[:1]
	}

	chunks := make([][]byte, 0, len(ordered))
	compressed := false
	for _, a := range ordered {
		data, err := s.fetchOne(ctx, models.AssetRef{AssetID: a.ID, DirectURL: a.DirectURL})
		if err != nil {
			return nil, false, err
		}
		chunks = append(chunks, data)
		if strings.HasSuffix(strings.ToLower(a.Name), ".gz") {
			compressed = true
		}
	}
	return codec.Join(chunks), compressed, nil
}

// buildTag 生成容器tag,毫秒时间戳加哈希前8位保证唯一且可溯源
func (s *ChunkedObjectStore) buildTag(chunked bool, sha256Hex string) string {
	prefix := "file"
	if chunked {
		prefix = "chunked"
	}
	short := sha256Hex
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("%s-%d-%s", prefix, s.now().UnixMilli(), short)
}

// partName 单分块时直接用文件名,多分块时追加三位零填充编号
func (s *ChunkedObjectStore) partName(name string, index, total int, compressed bool) string {
	if total > 1 {
		name = fmt.Sprintf("%s.part%03d", name, index)
	}
	if compressed {
		name += ".gz"
	}
	return name
}
