package retrieval

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prodlens/backend/internal/llm"
)

type memoryCache struct {
	mu      sync.Mutex
	data    map[string][]float32
	failGet bool
	failSet bool
}

func newMemoryCache() *memoryCache {
	return &memoryCache{data: map[string][]float32{}}
}

func (m *memoryCache) GetEmbedding(_ context.Context, key string) ([]float32, error) {
	if m.failGet {
		return nil, errors.New("cache unavailable")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key], nil
}

func (m *memoryCache) SetEmbedding(_ context.Context, key string, embedding []float32, _ time.Duration) error {
	if m.failSet {
		return errors.New("cache unavailable")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = embedding
	return nil
}

func countingEmbedder(calls *int32) llm.Embedder {
	return llm.EmbedderFunc(func(context.Context, string) ([]float32, error) {
		atomic.AddInt32(calls, 1)
		return []float32{1, 2, 3}, nil
	})
}

func TestCachedEmbedder_HitsCacheForNormalizedQuery(t *testing.T) {
	var calls int32
	e := NewCachedEmbedder(countingEmbedder(&calls), newMemoryCache(), time.Hour)
	ctx := context.Background()

	_, err := e.Embed(ctx, "Keychron  Q1 comfort")
	require.NoError(t, err)
	vec, err := e.Embed(ctx, "keychron q1 COMFORT ")
	require.NoError(t, err)

	assert.Equal(t, []float32{1, 2, 3}, vec)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCachedEmbedder_CacheFailuresBypass(t *testing.T) {
	var calls int32
	cache := newMemoryCache()
	cache.failGet = true
	cache.failSet = true
	e := NewCachedEmbedder(countingEmbedder(&calls), cache, time.Hour)

	vec, err := e.Embed(context.Background(), "q")
	require.NoError(t, err)
	assert.Len(t, vec, 3)

	_, err = e.Embed(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestCachedEmbedder_CollapsesConcurrentCalls(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	slow := llm.EmbedderFunc(func(context.Context, string) ([]float32, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return []float32{1}, nil
	})
	e := NewCachedEmbedder(slow, nil, 0)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Embed(context.Background(), "same query")
			assert.NoError(t, err)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCachedEmbedder_CallerCancellation(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	slow := llm.EmbedderFunc(func(context.Context, string) ([]float32, error) {
		<-release
		return []float32{1}, nil
	})
	e := NewCachedEmbedder(slow, nil, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := e.Embed(ctx, "q")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCachedEmbedder_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	e := NewCachedEmbedder(llm.EmbedderFunc(func(context.Context, string) ([]float32, error) {
		return nil, boom
	}), newMemoryCache(), time.Hour)

	_, err := e.Embed(context.Background(), "q")
	assert.ErrorIs(t, err, boom)
}
