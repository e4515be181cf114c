package share

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/duckyoo9/fileduck/internal/config"
	"github.com/duckyoo9/fileduck/internal/models"
	"github.com/duckyoo9/fileduck/internal/pkg/cache"
	"github.com/duckyoo9/fileduck/internal/pkg/xerr"
	"github.com/duckyoo9/fileduck/internal/repositories"
	"github.com/duckyoo9/fileduck/internal/services/scanner"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
)

// fakeStore 进程内的ObjectStore实现
type fakeStore struct {
	mu      sync.Mutex
	nextID  int
	objects map[string][]byte

	putErr    error
	deleteErr error
	deleted   []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte)}
}

func (f *fakeStore) Put(_ context.Context, filename string, data []byte, sha string) (*models.StorageHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return nil, f.putErr
	}
	f.nextID++
	id := fmt.Sprintf("c%d", f.nextID)
	f.objects[id] = append([]byte(nil), data...)
	return &models.StorageHandle{
		ContainerID: id,
		Tag:         fmt.Sprintf("file-%d-%s", f.nextID, sha[:8]),
		Manifest: models.Manifest{
			TotalParts:       1,
			OriginalFilename: filename,
			Parts:            []models.AssetRef{{PartIndex: 1, AssetID: id + "-a1"}},
		},
	}, nil
}

func (f *fakeStore) Get(_ context.Context, handle *models.StorageHandle) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[handle.ContainerID]
	if !ok {
		return nil, xerr.ErrAssetNotFound
	}
	return data, nil
}

func (f *fakeStore) Delete(_ context.Context, handle *models.StorageHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.objects, handle.ContainerID)
	f.deleted = append(f.deleted, handle.ContainerID)
	return nil
}

type stubProvider struct {
	mu      sync.Mutex
	verdict scanner.Verdict
	healthy bool
	calls   int
}

func (s *stubProvider) Healthy(context.Context) error {
	if !s.healthy {
		return xerr.ErrScanUnavailable
	}
	return nil
}

func (s *stubProvider) Scan(context.Context, string, []byte) (scanner.Verdict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.verdict, nil
}

type testEnv struct {
	svc      ShareService
	store    *fakeStore
	provider *stubProvider
	repo     repositories.ShareRecordRepository
	mr       *miniredis.Miniredis
	cfg      *config.Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	c := cache.NewRedisCache(client)
	cfg := &config.Config{
		Share: config.ShareConfig{
			MaxFileSize:      1 << 20,
			DefaultTTLHours:  24,
			MaxTTLHours:      168,
			DefaultMaxUses:   1,
			CaptchaThreshold: 3,
			AuditRetention:   24 * time.Hour,
		},
		Scan: config.ScanConfig{PositivesThreshold: 3},
	}

	store := newFakeStore()
	provider := &stubProvider{healthy: true, verdict: scanner.Verdict{Decision: scanner.DecisionClean, Total: 10}}
	repo := repositories.NewShareRecordRepository(c)
	svc := NewShareService(
		repo,
		repositories.NewRateLimitRepository(c),
		store,
		scanner.NewGate(provider, &cfg.Scan),
		nil,
		cfg,
	)
	return &testEnv{svc: svc, store: store, provider: provider, repo: repo, mr: mr, cfg: cfg}
}

func (e *testEnv) create(t *testing.T, input *CreateShareInput) *models.ShareRecord {
	t.Helper()
	record, err := e.svc.CreateShare(context.Background(), input)
	require.NoError(t, err)
	return record
}

func basicInput(data []byte) *CreateShareInput {
	return &CreateShareInput{
		Filename: "report.pdf",
		Data:     data,
		MimeType: "application/pdf",
		MaxUses:  1,
	}
}

func TestCreateShareHappyPath(t *testing.T) {
	env := newTestEnv(t)

	record := env.create(t, basicInput([]byte("hello world")))
	require.Len(t, record.ShareCode, 10)
	require.Equal(t, models.ScanClean, record.ScanStatus)
	require.NotNil(t, record.Storage)
	require.Equal(t, 1, record.UsesLeft)
	require.Greater(t, record.ExpiresAt, record.UploadedAt)
}

func TestCreateShareTooLarge(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.CreateShare(context.Background(), basicInput(make([]byte, 2<<20)))
	require.ErrorIs(t, err, xerr.ErrFileTooLarge)
}

func TestCreateShareTTLCappedAtMax(t *testing.T) {
	env := newTestEnv(t)

	input := basicInput([]byte("x"))
	input.TTLHours = 10000
	record := env.create(t, input)

	maxExpiry := time.Now().Add(time.Duration(env.cfg.Share.MaxTTLHours)*time.Hour + time.Minute)
	require.LessOrEqual(t, record.ExpiresAt, maxExpiry.UnixMilli())
}

func TestCreateShareUploadFailureRollsBack(t *testing.T) {
	env := newTestEnv(t)
	env.store.putErr = xerr.ErrBackendError

	_, err := env.svc.CreateShare(context.Background(), basicInput([]byte("x")))
	require.ErrorIs(t, err, xerr.ErrBackendError)

	codes, err := env.repo.Codes(context.Background())
	require.NoError(t, err)
	require.Empty(t, codes, "failed upload must not leave a record behind")
}

func TestCreateShareSkipScan(t *testing.T) {
	env := newTestEnv(t)

	input := basicInput([]byte("x"))
	input.SkipScan = true
	record := env.create(t, input)

	require.Equal(t, models.ScanSkipped, record.ScanStatus)
	require.True(t, record.ScanSkipped)
	require.Zero(t, env.provider.calls, "skipped records never reach the scanner")
}

func TestCreateShareInfectedReleasesStorage(t *testing.T) {
	env := newTestEnv(t)
	env.provider.verdict = scanner.Verdict{Decision: scanner.DecisionInfected, Positives: 5, Total: 10}

	record := env.create(t, basicInput([]byte("malware")))
	require.Equal(t, models.ScanInfected, record.ScanStatus)
	require.NotEmpty(t, env.store.deleted, "infected payload must be released immediately")
}

func redeemInput(code string) *RedeemInput {
	return &RedeemInput{Code: code, ClientIP: "10.0.0.1"}
}

func TestRedeemHappyPath(t *testing.T) {
	env := newTestEnv(t)
	record := env.create(t, basicInput([]byte("hello world")))

	redeemed, err := env.svc.Redeem(context.Background(), redeemInput(record.ShareCode))
	require.NoError(t, err)
	require.Equal(t, 0, redeemed.UsesLeft)

	data, err := env.svc.Download(context.Background(), redeemed)
	require.NoError(t, err)
	require.Equal(t, []byte("hello world"), data)

	// 次数用尽后存储被释放,记录只剩墓碑
	require.NotEmpty(t, env.store.deleted)
	_, err = env.svc.Redeem(context.Background(), &RedeemInput{Code: record.ShareCode, ClientIP: "10.0.0.2"})
	require.ErrorIs(t, err, xerr.ErrRecordNotFound)
}

func TestRedeemInvalidFormat(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Redeem(context.Background(), redeemInput("bad code!"))
	require.ErrorIs(t, err, xerr.ErrShareCodeInvalid)
}

func TestRedeemNotFoundCountsAsFailure(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < env.cfg.Share.CaptchaThreshold; i++ {
		_, err := env.svc.Redeem(context.Background(), redeemInput("aaaaBBBB11"))
		require.ErrorIs(t, err, xerr.ErrRecordNotFound)
	}

	// 失败次数达到阈值后,未通过验证码的请求被拦下
	_, err := env.svc.Redeem(context.Background(), redeemInput("aaaaBBBB11"))
	require.ErrorIs(t, err, xerr.ErrCaptchaRequired)

	// 通过验证码后继续走正常闸门
	input := redeemInput("aaaaBBBB11")
	input.CaptchaPassed = true
	_, err = env.svc.Redeem(context.Background(), input)
	require.ErrorIs(t, err, xerr.ErrRecordNotFound)
}

func TestRedeemRateLimited(t *testing.T) {
	env := newTestEnv(t)
	record := env.create(t, basicInput([]byte("x")))

	var lastErr error
	for i := 0; i < 11; i++ {
		_, lastErr = env.svc.Redeem(context.Background(), &RedeemInput{Code: record.ShareCode, ClientIP: "10.9.9.9"})
	}
	require.ErrorIs(t, lastErr, xerr.ErrRateLimited)
}

func TestRedeemExpiredTriggersCleanup(t *testing.T) {
	env := newTestEnv(t)
	record := env.create(t, basicInput([]byte("x")))

	// 把记录改写为已过期
	stale, err := env.repo.Get(context.Background(), record.ShareCode)
	require.NoError(t, err)
	stale.ExpiresAt = time.Now().Add(-time.Hour).UnixMilli()
	require.NoError(t, env.repo.Replace(context.Background(), stale))

	_, err = env.svc.Redeem(context.Background(), redeemInput(record.ShareCode))
	require.ErrorIs(t, err, xerr.ErrExpired)
	require.NotEmpty(t, env.store.deleted, "expired record releases its storage on touch")

	// 之后的访问命中墓碑
	_, err = env.svc.Redeem(context.Background(), &RedeemInput{Code: record.ShareCode, ClientIP: "10.0.0.3"})
	require.ErrorIs(t, err, xerr.ErrRecordNotFound)
}

func TestRedeemScanPending(t *testing.T) {
	env := newTestEnv(t)
	env.provider.healthy = false // 扫描不可用,记录停留在error状态

	record := env.create(t, basicInput([]byte("x")))
	require.Equal(t, models.ScanError, record.ScanStatus)

	_, err := env.svc.Redeem(context.Background(), redeemInput(record.ShareCode))
	require.ErrorIs(t, err, xerr.ErrScanPending)
}

func TestRedeemInfected(t *testing.T) {
	env := newTestEnv(t)
	env.provider.verdict = scanner.Verdict{Decision: scanner.DecisionInfected, Positives: 9}

	record := env.create(t, basicInput([]byte("x")))

	_, err := env.svc.Redeem(context.Background(), redeemInput(record.ShareCode))
	require.ErrorIs(t, err, xerr.ErrMalwareDetected)
}

func TestRedeemSuspiciousRequiresCaptcha(t *testing.T) {
	env := newTestEnv(t)
	env.provider.verdict = scanner.Verdict{Decision: scanner.DecisionSuspicious, Positives: 1, Total: 10}

	record := env.create(t, basicInput([]byte("x")))
	require.True(t, record.RequireCaptcha)

	_, err := env.svc.Redeem(context.Background(), redeemInput(record.ShareCode))
	require.ErrorIs(t, err, xerr.ErrCaptchaRequired)

	input := redeemInput(record.ShareCode)
	input.CaptchaPassed = true
	redeemed, err := env.svc.Redeem(context.Background(), input)
	require.NoError(t, err)
	require.Equal(t, 0, redeemed.UsesLeft)
}

func TestRedeemConcurrentSingleUse(t *testing.T) {
	env := newTestEnv(t)
	record := env.create(t, basicInput([]byte("x")))

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.svc.Redeem(context.Background(), &RedeemInput{
				Code:     record.ShareCode,
				ClientIP: fmt.Sprintf("10.1.0.%d", i),
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		}
	}
	require.Equal(t, 1, succeeded, "exactly one request wins the last use")
}

func TestDownloadHashMismatch(t *testing.T) {
	env := newTestEnv(t)
	record := env.create(t, basicInput([]byte("original")))

	// 篡改存储内容
	env.store.mu.Lock()
	env.store.objects[record.Storage.ContainerID] = []byte("tampered")
	env.store.mu.Unlock()

	redeemed, err := env.svc.Redeem(context.Background(), redeemInput(record.ShareCode))
	require.NoError(t, err)

	_, err = env.svc.Download(context.Background(), redeemed)
	require.ErrorIs(t, err, xerr.ErrHashMismatch)
}

func TestDetailsDoesNotConsumeUse(t *testing.T) {
	env := newTestEnv(t)
	record := env.create(t, basicInput([]byte("x")))

	for i := 0; i < 3; i++ {
		got, err := env.svc.Details(context.Background(), record.ShareCode)
		require.NoError(t, err)
		require.Equal(t, 1, got.UsesLeft)
	}
}

func TestDeleteLeavesTombstone(t *testing.T) {
	env := newTestEnv(t)
	record := env.create(t, basicInput([]byte("x")))

	require.NoError(t, env.svc.Delete(context.Background(), record.ShareCode))
	require.NotEmpty(t, env.store.deleted)

	_, err := env.svc.Details(context.Background(), record.ShareCode)
	require.ErrorIs(t, err, xerr.ErrRecordNotFound)

	// 重复删除幂等
	require.NoError(t, env.svc.Delete(context.Background(), record.ShareCode))
}

func TestRescanRecoversFromError(t *testing.T) {
	env := newTestEnv(t)
	env.provider.healthy = false

	record := env.create(t, basicInput([]byte("x")))
	require.Equal(t, models.ScanError, record.ScanStatus)

	// 扫描服务恢复后重扫成功
	env.provider.healthy = true
	got, err := env.svc.Rescan(context.Background(), record.ShareCode)
	require.NoError(t, err)
	require.Equal(t, models.ScanClean, got.ScanStatus)
}

func TestRescanTerminalStateIsNoop(t *testing.T) {
	env := newTestEnv(t)
	record := env.create(t, basicInput([]byte("x")))
	require.Equal(t, models.ScanClean, record.ScanStatus)

	before := env.provider.calls
	got, err := env.svc.Rescan(context.Background(), record.ShareCode)
	require.NoError(t, err)
	require.Equal(t, models.ScanClean, got.ScanStatus)
	require.Equal(t, before, env.provider.calls, "terminal records are not rescanned")
}
