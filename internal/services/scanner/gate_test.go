package scanner

import (
	"context"
	"testing"
	"time"

	"github.com/duckyoo9/fileduck/internal/config"
	"github.com/duckyoo9/fileduck/internal/models"
	"github.com/duckyoo9/fileduck/internal/pkg/xerr"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	healthErr error
	verdict   Verdict
	scanErr   error
}

func (s *stubProvider) Healthy(context.Context) error { return s.healthErr }

func (s *stubProvider) Scan(context.Context, string, []byte) (Verdict, error) {
	return s.verdict, s.scanErr
}

func newGate(provider Provider, suspiciousBlocks bool) *Gate {
	return NewGate(provider, &config.ScanConfig{
		PositivesThreshold: 3,
		SuspiciousBlocks:   suspiciousBlocks,
	})
}

func TestEvaluate(t *testing.T) {
	gate := newGate(nil, false)

	tests := []struct {
		name        string
		verdict     Verdict
		wantStatus  models.ScanStatus
		wantCaptcha bool
	}{
		{"clean with zero positives", Verdict{Decision: DecisionClean, Positives: 0, Total: 60}, models.ScanClean, false},
		{"positives below threshold is suspicious", Verdict{Decision: DecisionClean, Positives: 2, Total: 60}, models.ScanClean, true},
		{"explicit suspicious decision", Verdict{Decision: DecisionSuspicious, Positives: 0}, models.ScanClean, true},
		{"positives at threshold is infected", Verdict{Decision: DecisionClean, Positives: 3, Total: 60}, models.ScanInfected, false},
		{"explicit infected decision wins", Verdict{Decision: DecisionInfected, Positives: 1}, models.ScanInfected, false},
		{"engine opted out", Verdict{Decision: DecisionSkipped}, models.ScanSkipped, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome := gate.Evaluate(tt.verdict)
			require.Equal(t, tt.wantStatus, outcome.Status)
			require.Equal(t, tt.wantCaptcha, outcome.RequireCaptcha)
		})
	}
}

func TestEvaluateSuspiciousBlocks(t *testing.T) {
	gate := newGate(nil, true)

	outcome := gate.Evaluate(Verdict{Decision: DecisionSuspicious, Positives: 1})
	require.Equal(t, models.ScanInfected, outcome.Status)
	require.False(t, outcome.RequireCaptcha)
}

func TestNewHTTPProviderDefaultsPolling(t *testing.T) {
	// 配置里显式写0也不能让轮询ticker崩掉
	p := NewHTTPProvider(&config.ScanConfig{ScannerURL: "http://scanner:8080/"})

	hp, ok := p.(*httpProvider)
	require.True(t, ok)
	require.Equal(t, 3*time.Second, hp.pollInterval)
	require.Equal(t, time.Minute, hp.pollTimeout)
	require.Equal(t, "http://scanner:8080", hp.baseURL)
}

func TestScanUnhealthyProviderYieldsRetryableError(t *testing.T) {
	gate := newGate(&stubProvider{healthErr: xerr.ErrScanUnavailable}, false)

	outcome := gate.Scan(context.Background(), "a.bin", []byte("x"))
	require.Equal(t, models.ScanError, outcome.Status)
	require.False(t, outcome.Status.IsTerminal(), "error state stays retryable")
}

func TestScanFailureYieldsRetryableError(t *testing.T) {
	gate := newGate(&stubProvider{scanErr: xerr.ErrScanUnavailable}, false)

	outcome := gate.Scan(context.Background(), "a.bin", []byte("x"))
	require.Equal(t, models.ScanError, outcome.Status)
}

func TestScanCleanVerdict(t *testing.T) {
	gate := newGate(&stubProvider{verdict: Verdict{Decision: DecisionClean, Total: 58}}, false)

	outcome := gate.Scan(context.Background(), "a.bin", []byte("x"))
	require.Equal(t, models.ScanClean, outcome.Status)
	require.True(t, outcome.Status.AllowsDownload())
}
