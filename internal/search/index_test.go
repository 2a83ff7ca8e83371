package search

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceBuildsOnce(t *testing.T) {
	var loads int32
	svc := NewService(func() ([]Passage, error) {
		atomic.AddInt32(&loads, 1)
		return testPassages(), nil
	})

	assert.False(t, svc.Stats().Built)

	// Concurrent first callers converge on a single build.
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			idx, err := svc.Index(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, 3, idx.Len())
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&loads))
	stats := svc.Stats()
	assert.True(t, stats.Built)
	assert.Equal(t, 1, stats.Builds)
	assert.Equal(t, 3, stats.Passages)
}

func TestServiceRebuild(t *testing.T) {
	var loads int32
	svc := NewService(func() ([]Passage, error) {
		atomic.AddInt32(&loads, 1)
		return testPassages(), nil
	})

	_, err := svc.Index(context.Background())
	require.NoError(t, err)
	_, err = svc.Rebuild(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&loads))
	assert.Equal(t, 2, svc.Stats().Builds)
}

func TestServiceLoaderError(t *testing.T) {
	svc := NewService(func() ([]Passage, error) {
		return nil, assert.AnError
	})
	_, err := svc.Index(context.Background())
	assert.Error(t, err)
	assert.False(t, svc.Stats().Built)
}

func TestIndexSourceCounts(t *testing.T) {
	idx := buildIndex(testPassages())
	sources := idx.Sources()
	assert.Equal(t, 2, sources["support"])
	assert.Equal(t, 1, sources["dev"])
}

func TestResolvedSourceFallsBackToHostname(t *testing.T) {
	p := Passage{URL: "https://docs.example.com/guide"}
	assert.Equal(t, "docs.example.com", p.ResolvedSource())

	p.SourceHost = "host.example.com"
	assert.Equal(t, "host.example.com", p.ResolvedSource())

	p.Source = "support"
	assert.Equal(t, "support", p.ResolvedSource())
}
