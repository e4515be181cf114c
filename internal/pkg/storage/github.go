package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/duckyoo9/fileduck/internal/config"
	"github.com/duckyoo9/fileduck/internal/pkg/logger"
	"github.com/duckyoo9/fileduck/internal/pkg/xerr"
	"go.uber.org/zap"
)

// GitHubStorage 将容器/资产抽象映射到GitHub Release及其资产
// 每个容器对应一个Release,每个资产对应一个Release asset(单个上限2GB)
type GitHubStorage struct {
	cfg        *config.GitHubConfig
	httpClient *http.Client
	baseURL    string
	uploadURL  string
}

// NewGitHubStorage 创建并返回一个 GitHubStorage 实例
func NewGitHubStorage(cfg *config.GitHubConfig) (*GitHubStorage, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("GitHub token 未配置")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}
	// 资产上传走独立的uploads域名;自建桩服务时两者相同
	uploadURL := strings.Replace(baseURL, "api.github.com", "uploads.github.com", 1)

	logger.Info("GitHub Release 存储后端初始化成功",
		zap.String("owner", cfg.Owner), zap.String("repo", cfg.Repo))
	return &GitHubStorage{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		baseURL:    baseURL,
		uploadURL:  uploadURL,
	}, nil
}

type createReleaseRequest struct {
	TagName    string `json:"tag_name"`
	Name       string `json:"name"`
	Body       string `json:"body"`
	Draft      bool   `json:"draft"`
	Prerelease bool   `json:"prerelease"`
}

type releaseResponse struct {
	ID int64 `json:"id"`
}

type assetResponse struct {
	ID                 int64  `json:"id"`
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

func (s *GitHubStorage) CreateContainer(ctx context.Context, tag, name, description string) (string, error) {
	payload, err := json.Marshal(createReleaseRequest{
		TagName: tag,
		Name:    name,
		Body:    description,
	})
	if err != nil {
		return "", fmt.Errorf("序列化Release请求失败: %w", err)
	}

	endpoint := fmt.Sprintf("%s/repos/%s/%s/releases", s.baseURL, s.cfg.Owner, s.cfg.Repo)
	var release releaseResponse
	if err := s.doJSON(ctx, http.MethodPost, endpoint, bytes.NewReader(payload), "application/json", &release); err != nil {
		return "", err
	}
	return strconv.FormatInt(release.ID, 10), nil
}

func (s *GitHubStorage) PutAsset(ctx context.Context, containerID, name string, data []byte) (Asset, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/releases/%s/assets?name=%s",
		s.uploadURL, s.cfg.Owner, s.cfg.Repo, containerID, url.QueryEscape(name))

	var asset assetResponse
	if err := s.doJSON(ctx, http.MethodPost, endpoint, bytes.NewReader(data), "application/octet-stream", &asset); err != nil {
		return Asset{}, err
	}
	return Asset{
		ID:        strconv.FormatInt(asset.ID, 10),
		Name:      asset.Name,
		DirectURL: asset.BrowserDownloadURL,
	}, nil
}

func (s *GitHubStorage) ListAssets(ctx context.Context, containerID string) ([]Asset, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/releases/%s/assets?per_page=100",
		s.baseURL, s.cfg.Owner, s.cfg.Repo, containerID)

	var raw []assetResponse
	if err := s.doJSON(ctx, http.MethodGet, endpoint, nil, "", &raw); err != nil {
		return nil, err
	}

	// GitHub 按创建时间返回资产列表,保持原有顺序
	assets := make([]Asset, 0, len(raw))
	for _, a := range raw {
		assets = append(assets, Asset{
			ID:        strconv.FormatInt(a.ID, 10),
			Name:      a.Name,
			DirectURL: a.BrowserDownloadURL,
		})
	}
	return assets, nil
}

func (s *GitHubStorage) GetAsset(ctx context.Context, assetID string) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/releases/assets/%s",
		s.baseURL, s.cfg.Owner, s.cfg.Repo, assetID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("构造请求失败: %w", err)
	}
	s.setAuthHeaders(req)
	// 请求二进制内容而不是资产的JSON描述
	req.Header.Set("Accept", "application/octet-stream")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", xerr.ErrBackendError, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, xerr.ErrAssetNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: GitHub 返回状态码 %d", xerr.ErrBackendError, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", xerr.ErrBackendError, err)
	}
	return data, nil
}

func (s *GitHubStorage) FetchDirect(ctx context.Context, directURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, directURL, nil)
	if err != nil {
		return nil, fmt.Errorf("构造请求失败: %w", err)
	}
	// 匿名请求,不携带token,仅对公开仓库有效
	req.Header.Set("User-Agent", "FileDuck/1.0")
	req.Header.Set("Accept", "application/octet-stream")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", xerr.ErrBackendError, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: 直连下载返回状态码 %d", xerr.ErrBackendError, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (s *GitHubStorage) DeleteContainer(ctx context.Context, containerID string) error {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/releases/%s",
		s.baseURL, s.cfg.Owner, s.cfg.Repo, containerID)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("构造请求失败: %w", err)
	}
	s.setAuthHeaders(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", xerr.ErrBackendError, err)
	}
	defer resp.Body.Close()

	// Release已不存在视为删除成功,保证幂等
	if resp.StatusCode == http.StatusNotFound {
		logger.Info("Release 已不存在,视为删除成功", zap.String("containerID", containerID))
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: 删除Release返回状态码 %d", xerr.ErrBackendError, resp.StatusCode)
	}
	return nil
}

func (s *GitHubStorage) setAuthHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	req.Header.Set("User-Agent", "FileDuck/1.0")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
}

// doJSON 执行请求并将成功响应解码为JSON
func (s *GitHubStorage) doJSON(ctx context.Context, method, endpoint string, body io.Reader, contentType string, target any) error {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("构造请求失败: %w", err)
	}
	s.setAuthHeaders(req)
	req.Header.Set("Accept", "application/vnd.github+json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", xerr.ErrBackendError, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return xerr.ErrAssetNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: GitHub 返回状态码 %d: %s", xerr.ErrBackendError, resp.StatusCode, string(msg))
	}

	if target != nil {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			return fmt.Errorf("%w: 解析响应失败: %v", xerr.ErrBackendError, err)
		}
	}
	return nil
}
