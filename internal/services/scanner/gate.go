package scanner

import (
	"context"
	"errors"

	"github.com/duckyoo9/fileduck/internal/config"
	"github.com/duckyoo9/fileduck/internal/models"
	"github.com/duckyoo9/fileduck/internal/pkg/logger"
	"github.com/duckyoo9/fileduck/internal/pkg/xerr"
	"go.uber.org/zap"
)

// Outcome 一次扫描裁决的结论
type Outcome struct {
	Status models.ScanStatus
	// RequireCaptcha suspicious判定不阻断下载时,对该记录强制验证码
	RequireCaptcha bool
	Verdict        Verdict
}

// Gate 把扫描服务的原始判定折算为记录的扫描状态
// 状态机约束:
//   - pending/scanning/error 都可以被新一轮扫描覆盖
//   - clean/infected/skipped 是终态,不再变化
type Gate struct {
	provider           Provider
	positivesThreshold int
	suspiciousBlocks   bool
}

// NewGate 创建扫描裁决器
func NewGate(provider Provider, cfg *config.ScanConfig) *Gate {
	threshold := cfg.PositivesThreshold
	if threshold <= 0 {
		threshold = 3
	}
	return &Gate{
		provider:           provider,
		positivesThreshold: threshold,
		suspiciousBlocks:   cfg.SuspiciousBlocks,
	}
}

// Evaluate 按命中数和判定折算状态
// 命中数达到阈值一律视为感染,不管引擎自己说什么
func (g *Gate) Evaluate(v Verdict) Outcome {
	switch {
	case v.Decision == DecisionSkipped:
		return Outcome{Status: models.ScanSkipped, Verdict: v}
	case v.Positives >= g.positivesThreshold || v.Decision == DecisionInfected:
		return Outcome{Status: models.ScanInfected, Verdict: v}
	case v.Positives > 0 || v.Decision == DecisionSuspicious:
		if g.suspiciousBlocks {
			return Outcome{Status: models.ScanInfected, Verdict: v}
		}
		return Outcome{Status: models.ScanClean, RequireCaptcha: true, Verdict: v}
	default:
		return Outcome{Status: models.ScanClean, Verdict: v}
	}
}

// Scan 执行一次完整的扫描裁决
// 扫描服务不可用时返回 error 状态,记录保持可重试
func (g *Gate) Scan(ctx context.Context, filename string, data []byte) Outcome {
	if err := g.provider.Healthy(ctx); err != nil {
		logger.Warn("扫描服务不可达,记录标记为待重试", zap.String("filename", filename), zap.Error(err))
		return Outcome{Status: models.ScanError}
	}

	verdict, err := g.provider.Scan(ctx, filename, data)
	if err != nil {
		if errors.Is(err, xerr.ErrScanUnavailable) {
			logger.Warn("扫描执行失败,记录标记为待重试", zap.String("filename", filename), zap.Error(err))
			return Outcome{Status: models.ScanError}
		}
		logger.Error("扫描请求异常", zap.String("filename", filename), zap.Error(err))
		return Outcome{Status: models.ScanError}
	}

	outcome := g.Evaluate(verdict)
	logger.Info("扫描裁决完成",
		zap.String("filename", filename),
		zap.String("decision", verdict.Decision),
		zap.Int("positives", verdict.Positives),
		zap.String("status", string(outcome.Status)))
	return outcome
}
