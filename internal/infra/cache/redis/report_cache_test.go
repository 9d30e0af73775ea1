package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/skinscan/internal/domain/diagnosis"
	domain "github.com/bryanwahyu/skinscan/internal/domain/reports"
	"github.com/bryanwahyu/skinscan/internal/infra/db/memory"
)

type fakeKV struct {
	mu   sync.Mutex
	data map[string]string
	gets int
	down bool
}

func newFakeKV() *fakeKV { return &fakeKV{data: map[string]string{}} }

func (f *fakeKV) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.down {
		return redis.NewStringResult("", errors.New("connection refused"))
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeKV) SetNX(_ context.Context, key string, value interface{}, _ time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return redis.NewBoolResult(false, errors.New("connection refused"))
	}
	if _, ok := f.data[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.data[key] = string(value.([]byte))
	return redis.NewBoolResult(true, nil)
}

func (f *fakeKV) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func savedReport(t *testing.T, repo *memory.ReportRepository) *domain.Report {
	t.Helper()
	now := time.Now().UTC()
	r, err := domain.New("u1", "img/1", now)
	require.NoError(t, err)
	h, err := r.StartAnalysis()
	require.NoError(t, err)
	s := diagnosis.NewStratifier(0.5)
	require.NoError(t, r.CompleteAnalysis(h, s.Diagnose(diagnosis.Scores{diagnosis.Benign: 1}), s, now))
	id, err := repo.Save(context.Background(), r)
	require.NoError(t, err)
	require.NoError(t, r.MarkSaved(id, now))
	return r
}

func TestReportCache_ReadThroughAndEvict(t *testing.T) {
	ctx := context.Background()
	inner := memory.NewReportRepository()
	kv := newFakeKV()
	cache := NewReportCache(inner, kv, time.Minute, nil)

	r := savedReport(t, inner)

	first, err := cache.Load(ctx, r.ID)
	require.NoError(t, err)
	assert.Contains(t, kv.data, "skinscan:report:"+string(r.ID))

	second, err := cache.Load(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, first.State, second.State)
	assert.Equal(t, diagnosis.Benign, second.Diagnosis.CancerType)

	require.NoError(t, r.Share(time.Now(), "dr-1"))
	require.NoError(t, cache.Update(ctx, r))
	assert.NotContains(t, kv.data, "skinscan:report:"+string(r.ID))

	third, err := cache.Load(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateShared, third.State)

	require.NoError(t, cache.Delete(ctx, r.ID))
	_, err = cache.Load(ctx, r.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReportCache_RedisDownFallsBack(t *testing.T) {
	inner := memory.NewReportRepository()
	kv := newFakeKV()
	kv.down = true
	cache := NewReportCache(inner, kv, 0, nil)

	r := savedReport(t, inner)
	got, err := cache.Load(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
}

func TestReportCache_StaleEntryIsEvictedOnConflict(t *testing.T) {
	ctx := context.Background()
	inner := memory.NewReportRepository()
	kv := newFakeKV()
	cache := NewReportCache(inner, kv, time.Minute, nil)
	r := savedReport(t, inner)

	// cache holds version 1, then the store moves on without the cache
	_, err := cache.Load(ctx, r.ID)
	require.NoError(t, err)
	direct, err := inner.Load(ctx, r.ID)
	require.NoError(t, err)
	require.NoError(t, direct.Share(time.Now(), "dr-1"))
	require.NoError(t, inner.Update(ctx, direct))

	stale, err := cache.Load(ctx, r.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stale.Version)
	require.NoError(t, stale.Share(time.Now(), "dr-2"))
	assert.ErrorIs(t, cache.Update(ctx, stale), domain.ErrConflict)
	assert.NotContains(t, kv.data, "skinscan:report:"+string(r.ID))

	fresh, err := cache.Load(ctx, r.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, fresh.Version)
	assert.Equal(t, []string{"dr-1"}, fresh.SharedWithDoctors)
}

func TestReportCache_LateStoreKeepsNewerEntry(t *testing.T) {
	ctx := context.Background()
	inner := memory.NewReportRepository()
	kv := newFakeKV()
	cache := NewReportCache(inner, kv, time.Minute, nil)
	r := savedReport(t, inner)

	old, err := inner.Load(ctx, r.ID)
	require.NoError(t, err)
	require.NoError(t, r.Share(time.Now(), "dr-1"))
	require.NoError(t, cache.Update(ctx, r))

	newer, err := cache.Load(ctx, r.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, newer.Version)

	// a slower reader that fetched the row before the update finishes last
	cache.store(ctx, old)
	got, err := cache.Load(ctx, r.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, got.Version)
	assert.Equal(t, []string{"dr-1"}, got.SharedWithDoctors)
}
