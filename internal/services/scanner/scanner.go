package scanner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/duckyoo9/fileduck/internal/config"
	"github.com/duckyoo9/fileduck/internal/pkg/logger"
	"github.com/duckyoo9/fileduck/internal/pkg/xerr"
	"go.uber.org/zap"
)

// 扫描引擎给出的判定
const (
	DecisionClean      = "clean"
	DecisionSuspicious = "suspicious"
	DecisionInfected   = "infected"
	DecisionSkipped    = "skipped"
)

// Verdict 一次扫描的判定结果
type Verdict struct {
	Decision  string `json:"decision"`
	Positives int    `json:"positives"` // 命中的引擎数量
	Total     int    `json:"total"`     // 参与扫描的引擎总数
}

// Provider 病毒扫描服务的抽象
type Provider interface {
	// Healthy 探测扫描服务是否可用
	Healthy(ctx context.Context) error
	// Scan 提交内容扫描并等待判定,服务不可用或超时返回 ErrScanUnavailable
	Scan(ctx context.Context, filename string, data []byte) (Verdict, error)
}

// scanResponse 提交接口的响应,同步完成时直接携带判定,
// 异步时只返回任务ID由客户端轮询
type scanResponse struct {
	TaskID    string `json:"task_id,omitempty"`
	Status    string `json:"status,omitempty"` // pending / done
	Decision  string `json:"decision,omitempty"`
	Positives int    `json:"positives"`
	Total     int    `json:"total"`
}

type httpProvider struct {
	baseURL      string
	httpClient   *http.Client
	pollInterval time.Duration
	pollTimeout  time.Duration
}

// NewHTTPProvider 创建基于HTTP的扫描服务客户端
func NewHTTPProvider(cfg *config.ScanConfig) Provider {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 3 * time.Second
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &httpProvider{
		baseURL:      strings.TrimRight(cfg.ScannerURL, "/"),
		httpClient:   &http.Client{Timeout: 2 * time.Minute},
		pollInterval: interval,
		pollTimeout:  timeout,
	}
}

func (p *httpProvider) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("%w: %v", xerr.ErrScanUnavailable, err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", xerr.ErrScanUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: 健康检查返回状态码 %d", xerr.ErrScanUnavailable, resp.StatusCode)
	}
	return nil
}

func (p *httpProvider) Scan(ctx context.Context, filename string, data []byte) (Verdict, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return Verdict{}, fmt.Errorf("构造扫描请求失败: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return Verdict{}, fmt.Errorf("构造扫描请求失败: %w", err)
	}
	if err := writer.Close(); err != nil {
		return Verdict{}, fmt.Errorf("构造扫描请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/scan", &body)
	if err != nil {
		return Verdict{}, fmt.Errorf("%w: %v", xerr.ErrScanUnavailable, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var sr scanResponse
	if err := p.doJSON(req, &sr); err != nil {
		return Verdict{}, err
	}

	if sr.Decision != "" {
		return Verdict{Decision: sr.Decision, Positives: sr.Positives, Total: sr.Total}, nil
	}
	if sr.TaskID == "" {
		return Verdict{}, fmt.Errorf("%w: 扫描服务既未返回判定也未返回任务ID", xerr.ErrScanUnavailable)
	}
	return p.poll(ctx, sr.TaskID)
}

// poll 有界轮询异步扫描任务
func (p *httpProvider) poll(ctx context.Context, taskID string) (Verdict, error) {
	deadline := time.Now().Add(p.pollTimeout)
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return Verdict{}, fmt.Errorf("%w: %v", xerr.ErrScanUnavailable, ctx.Err())
		case <-ticker.C:
		}
		if time.Now().After(deadline) {
			logger.Warn("扫描任务轮询超时", zap.String("taskID", taskID))
			return Verdict{}, fmt.Errorf("%w: 轮询超时", xerr.ErrScanUnavailable)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/scan/"+taskID, nil)
		if err != nil {
			return Verdict{}, fmt.Errorf("%w: %v", xerr.ErrScanUnavailable, err)
		}
		var sr scanResponse
		if err := p.doJSON(req, &sr); err != nil {
			return Verdict{}, err
		}
		if sr.Decision != "" {
			return Verdict{Decision: sr.Decision, Positives: sr.Positives, Total: sr.Total}, nil
		}
	}
}

func (p *httpProvider) doJSON(req *http.Request, target *scanResponse) error {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", xerr.ErrScanUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: 扫描服务返回状态码 %d: %s", xerr.ErrScanUnavailable, resp.StatusCode, string(msg))
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("%w: 解析扫描响应失败: %v", xerr.ErrScanUnavailable, err)
	}
	return nil
}
