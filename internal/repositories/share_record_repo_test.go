package repositories

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/duckyoo9/fileduck/internal/models"
	"github.com/duckyoo9/fileduck/internal/pkg/cache"
	"github.com/duckyoo9/fileduck/internal/pkg/xerr"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) (ShareRecordRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewShareRecordRepository(cache.NewRedisCache(client)), mr
}

func testRecord(code string, usesLeft int) *models.ShareRecord {
	now := time.Now()
	return &models.ShareRecord{
		ShareCode:  code,
		Filename:   "report.pdf",
		Size:       1024,
		SHA256:     "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef",
		MimeType:   "application/pdf",
		UploadedAt: now.UnixMilli(),
		ExpiresAt:  now.Add(24 * time.Hour).UnixMilli(),
		UsesLeft:   usesLeft,
		MaxUses:    usesLeft,
		ScanStatus: models.ScanPending,
	}
}

func TestShareRecordCreateGet(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	rec := testRecord("abcDEF1234", 3)
	require.NoError(t, repo.Create(ctx, rec, 24*time.Hour))

	got, err := repo.Get(ctx, "abcDEF1234")
	require.NoError(t, err)
	require.Equal(t, rec.Filename, got.Filename)
	require.Equal(t, 3, got.UsesLeft)
	require.Equal(t, models.ScanPending, got.ScanStatus)
}

func TestShareRecordGetMissing(t *testing.T) {
	repo, _ := newTestRepo(t)

	_, err := repo.Get(context.Background(), "nosuchcode")
	require.ErrorIs(t, err, xerr.ErrRecordNotFound)
}

func TestDecrementOrExpireLastUseDeletes(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, testRecord("lastuse001", 1), time.Hour))

	got, err := repo.DecrementOrExpire(ctx, "lastuse001")
	require.NoError(t, err)
	require.Equal(t, 0, got.UsesLeft)

	// 记录已被删除
	_, err = repo.Get(ctx, "lastuse001")
	require.ErrorIs(t, err, xerr.ErrRecordNotFound)
}

func TestDecrementOrExpirePreservesTTL(t *testing.T) {
	repo, mr := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, testRecord("keepttl001", 5), 10*time.Hour))

	got, err := repo.DecrementOrExpire(ctx, "keepttl001")
	require.NoError(t, err)
	require.Equal(t, 4, got.UsesLeft)

	ttl := mr.TTL("keepttl001")
	require.Greater(t, ttl, 9*time.Hour)
	require.LessOrEqual(t, ttl, 10*time.Hour)
}

func TestDecrementOrExpireMissing(t *testing.T) {
	repo, _ := newTestRepo(t)

	_, err := repo.DecrementOrExpire(context.Background(), "ghostcode1")
	require.ErrorIs(t, err, xerr.ErrRecordNotFound)
}

func TestDecrementOrExpireConcurrentSingleUse(t *testing.T) {
	// maxUses=1 时两个并发请求只能有一个拿到下载资格
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, testRecord("racecode01", 1), time.Hour))

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = repo.DecrementOrExpire(ctx, "racecode01")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		} else {
			require.ErrorIs(t, err, xerr.ErrRecordNotFound)
		}
	}
	require.Equal(t, 1, succeeded)
}

func TestDecrementOrExpireSequentialDrain(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, testRecord("drain00001", 5), time.Hour))

	for want := 4; want >= 0; want-- {
		got, err := repo.DecrementOrExpire(ctx, "drain00001")
		require.NoError(t, err)
		require.Equal(t, want, got.UsesLeft)
	}

	// 第六次命中已删除的记录
	_, err := repo.DecrementOrExpire(ctx, "drain00001")
	require.ErrorIs(t, err, xerr.ErrRecordNotFound)
}

func TestUpdatePreservesTTLAndFields(t *testing.T) {
	repo, mr := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, testRecord("updatecode", 2), 10*time.Hour))

	status := models.ScanClean
	got, err := repo.Update(ctx, "updatecode", &models.RecordUpdate{ScanStatus: &status})
	require.NoError(t, err)
	require.Equal(t, models.ScanClean, got.ScanStatus)
	require.Equal(t, 2, got.UsesLeft, "untouched fields survive the update")

	ttl := mr.TTL("updatecode")
	require.Greater(t, ttl, 9*time.Hour)
}

func TestDeleteReportsExistence(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, testRecord("delcode001", 1), time.Hour))

	existed, err := repo.Delete(ctx, "delcode001")
	require.NoError(t, err)
	require.True(t, existed)

	existed, err = repo.Delete(ctx, "delcode001")
	require.NoError(t, err)
	require.False(t, existed)
}

func TestCodesSkipsCounterKeys(t *testing.T) {
	repo, mr := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, testRecord("realcode01", 1), time.Hour))
	mr.Set("ratelimit:1.2.3.4", "7")
	mr.Set("failed:1.2.3.4", "2")

	codes, err := repo.Codes(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"realcode01"}, codes)
}
