package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyforge/gateway/internal/clock"
	apperrors "github.com/studyforge/gateway/internal/errors"
	"github.com/studyforge/gateway/internal/model"
)

func newTestPolicyCache() (*PolicyCache, *memPolicyRepo, *clock.FakeClock) {
	clk := clock.NewFake(testNow)
	repo := &memPolicyRepo{s: newMemStore(clk)}
	return NewPolicyCache(repo, clk, 10*time.Second), repo, clk
}

func TestFresh(t *testing.T) {
	ttl := 10 * time.Second
	assert.True(t, fresh(testNow, testNow, ttl))
	assert.True(t, fresh(testNow.Add(9*time.Second), testNow, ttl))
	assert.False(t, fresh(testNow.Add(10*time.Second), testNow, ttl))
	assert.False(t, fresh(testNow.Add(-time.Second), testNow, ttl), "clock moved backwards")
}

func TestPolicyCache_DefaultsWhenUnset(t *testing.T) {
	cache, _, _ := newTestPolicyCache()
	snap, err := cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.DefaultPolicy(), snap)
}

func TestPolicyCache_TTL(t *testing.T) {
	cache, repo, clk := newTestPolicyCache()
	ctx := context.Background()

	_, err := cache.Get(ctx)
	require.NoError(t, err)
	_, err = cache.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.loadCount())

	clk.Advance(10 * time.Second)
	_, err = cache.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, repo.loadCount())

	cache.Invalidate()
	_, err = cache.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, repo.loadCount())
}

// blockingPolicyRepo parks every Load until release is closed.
type blockingPolicyRepo struct {
	*memPolicyRepo
	entered chan struct{}
	release chan struct{}
}

func (r *blockingPolicyRepo) Load(ctx context.Context) (*model.SecurityPolicyRow, error) {
	row, err := r.memPolicyRepo.Load(ctx)
	r.entered <- struct{}{}
	<-r.release
	return row, err
}

func TestPolicyCache_SlowStore(t *testing.T) {
	clk := clock.NewFake(testNow)
	repo := &blockingPolicyRepo{
		memPolicyRepo: &memPolicyRepo{s: newMemStore(clk)},
		entered:       make(chan struct{}, 16),
		release:       make(chan struct{}),
	}
	cache := NewPolicyCache(repo, clk, 10*time.Second)

	const callers = 5
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap, err := cache.Get(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, model.DefaultPolicy(), snap)
		}()
	}

	select {
	case <-repo.entered:
	case <-time.After(time.Second):
		t.Fatal("store was never read")
	}
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, repo.loadCount(), "concurrent misses share one read")

	invalidated := make(chan struct{})
	go func() {
		cache.Invalidate()
		close(invalidated)
	}()
	select {
	case <-invalidated:
	case <-time.After(time.Second):
		t.Fatal("Invalidate blocked behind a store read")
	}

	close(repo.release)
	wg.Wait()

	_, err := cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, repo.loadCount(), "a read that raced Invalidate is not cached")

	_, err = cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, repo.loadCount())
}

// ctxPolicyRepo fails reads whose context is already done, like a driver would.
type ctxPolicyRepo struct {
	*memPolicyRepo
}

func (r ctxPolicyRepo) Load(ctx context.Context) (*model.SecurityPolicyRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.memPolicyRepo.Load(ctx)
}

func TestPolicyCache_CallerCancelDoesNotFailSharedRead(t *testing.T) {
	clk := clock.NewFake(testNow)
	repo := ctxPolicyRepo{&memPolicyRepo{s: newMemStore(clk)}}
	repo.s.policy = &model.SecurityPolicyRow{ID: 1, Settings: json.RawMessage(`{"loginLockout":{"maxAttempts":4}}`)}
	cache := NewPolicyCache(repo, clk, 10*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	snap, err := cache.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, snap.LoginLockout.MaxAttempts)
}

func TestPolicyCache_ReadsStoredOverrides(t *testing.T) {
	cache, repo, _ := newTestPolicyCache()
	repo.s.policy = &model.SecurityPolicyRow{ID: 1, Settings: json.RawMessage(`{"rateLimits":{"aiRequestsPerMinute":5}}`)}

	snap, err := cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, snap.RateLimits.AIRequestsPerMinute)
	assert.Equal(t, model.DefaultPolicy().RateLimits.GameRequestsPerMinute, snap.RateLimits.GameRequestsPerMinute)
}

func TestPolicyCache_MalformedRowFallsBack(t *testing.T) {
	cache, repo, _ := newTestPolicyCache()
	repo.s.policy = &model.SecurityPolicyRow{ID: 1, Settings: json.RawMessage(`{"rateLimits":"lots"}`)}

	snap, err := cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.DefaultPolicy(), snap)
}

func TestPolicyCache_StoreFailureServesLastSnapshot(t *testing.T) {
	cache, repo, clk := newTestPolicyCache()
	ctx := context.Background()

	_, err := cache.Update(ctx, json.RawMessage(`{"loginLockout":{"maxAttempts":3}}`))
	require.NoError(t, err)

	clk.Advance(time.Minute)
	repo.err = errors.New("connection reset")
	snap, err := cache.Get(ctx)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeDatabase))
	assert.Equal(t, 3, snap.LoginLockout.MaxAttempts)
}

func TestPolicyCache_Update(t *testing.T) {
	cache, repo, _ := newTestPolicyCache()
	ctx := context.Background()

	updated, err := cache.Update(ctx, json.RawMessage(`{"password":{"minLength":16}}`))
	require.NoError(t, err)
	assert.Equal(t, 16, updated.Password.MinLength)
	assert.True(t, updated.Password.RequireUppercase, "untouched fields keep their value")

	require.NotNil(t, repo.s.policy)
	var stored model.PolicySnapshot
	require.NoError(t, json.Unmarshal(repo.s.policy.Settings, &stored))
	assert.Equal(t, updated, stored)

	loads := repo.loadCount()
	snap, err := cache.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, updated, snap)
	assert.Equal(t, loads, repo.loadCount(), "update refreshes the cache")

	t.Run("rejects non-object", func(t *testing.T) {
		for _, body := range []string{`[]`, `null`, `"x"`, `{`} {
			_, err := cache.Update(ctx, json.RawMessage(body))
			assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput), body)
		}
	})

	t.Run("rejects invalid values", func(t *testing.T) {
		_, err := cache.Update(ctx, json.RawMessage(`{"rateLimits":{"gameRequestsPerMinute":0}}`))
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))

		snap, err := cache.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, 600, snap.RateLimits.GameRequestsPerMinute)
	})

	t.Run("rejects wrong types", func(t *testing.T) {
		_, err := cache.Update(ctx, json.RawMessage(`{"rateLimits":{"gameRequestsPerMinute":"fast"}}`))
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput))
	})
}
