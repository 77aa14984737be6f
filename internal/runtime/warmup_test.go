package runtime

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/l0p7/qrgen/internal/config"
	"github.com/l0p7/qrgen/internal/expr"
	"github.com/l0p7/qrgen/internal/qrcode"
	"github.com/l0p7/qrgen/internal/runtime/cache"
)

func TestWarm(t *testing.T) {
	p, enc := newTestPipeline(t, PipelineOptions{})
	ctx := context.Background()

	require.Equal(t, 4, p.Warm(ctx, config.DefaultWarmup()))
	require.Equal(t, 4, p.Store().Len())
	require.EqualValues(t, 4, enc.calls.Load())

	// A second pass finds every request already cached.
	require.Equal(t, 4, p.Warm(ctx, config.DefaultWarmup()))
	require.EqualValues(t, 4, enc.calls.Load())
}

func TestRewarmLeavesAccessBookkeepingAlone(t *testing.T) {
	p, enc := newTestPipeline(t, PipelineOptions{})
	ctx := context.Background()
	reqs := []config.WarmupRequest{{Data: "popular", Size: "200x200"}}

	for range 3 {
		require.Equal(t, 1, p.Warm(ctx, reqs))
	}
	require.EqualValues(t, 1, enc.calls.Load())

	stats := p.Store().Stats()
	require.Zero(t, stats.Hits)
	require.Equal(t, uint64(1), stats.Misses)
	require.Equal(t, uint64(1), stats.Sets)

	gen, err := p.Generate(ctx, "popular", "200x200", qrcode.Options{}, cache.CacheControlDirective{})
	require.NoError(t, err)
	require.Equal(t, CacheHit, gen.Cache)
	entry, ok := p.Store().Peek(gen.Key)
	require.True(t, ok)
	require.Equal(t, 1, entry.Metadata.AccessCount)
}

func TestWarmSkipsInvalidAndBypassedRequests(t *testing.T) {
	admission, err := expr.NewAdmission(`!data.startsWith("private")`)
	require.NoError(t, err)
	p, _ := newTestPipeline(t, PipelineOptions{Admission: admission})

	warmed := p.Warm(context.Background(), []config.WarmupRequest{
		{Data: "public", Size: "200x200"},
		{Data: "private-token"},
		{Data: "tiny", Size: "1x1"},
	})
	require.Equal(t, 1, warmed)
	require.Equal(t, 1, p.Store().Len())
}

func TestWarmStopsOnCancel(t *testing.T) {
	p, enc := newTestPipeline(t, PipelineOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.Zero(t, p.Warm(ctx, config.DefaultWarmup()))
	require.Zero(t, enc.calls.Load())
}

func TestStartWarmup(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		p, _ := newTestPipeline(t, PipelineOptions{})
		watcher, err := p.StartWarmup(context.Background(), config.WarmupConfig{Enabled: false})
		require.NoError(t, err)
		require.Nil(t, watcher)
		require.Zero(t, p.Store().Len())
	})

	t.Run("built-in list", func(t *testing.T) {
		p, _ := newTestPipeline(t, PipelineOptions{})
		watcher, err := p.StartWarmup(context.Background(), config.WarmupConfig{Enabled: true, Watch: true})
		require.NoError(t, err)
		require.Nil(t, watcher)
		require.Equal(t, 4, p.Store().Len())
	})

	t.Run("missing file", func(t *testing.T) {
		p, _ := newTestPipeline(t, PipelineOptions{})
		_, err := p.StartWarmup(context.Background(), config.WarmupConfig{
			Enabled: true,
			File:    filepath.Join(t.TempDir(), "absent.yaml"),
		})
		require.Error(t, err)
	})

	t.Run("watched file", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		path := filepath.Join(t.TempDir(), "warmup.yaml")
		require.NoError(t, os.WriteFile(path, []byte("requests:\n  - data: first\n"), 0o600))

		p, _ := newTestPipeline(t, PipelineOptions{})
		watcher, err := p.StartWarmup(ctx, config.WarmupConfig{Enabled: true, File: path, Watch: true})
		require.NoError(t, err)
		require.NotNil(t, watcher)
		defer watcher.Stop()
		require.Equal(t, 1, p.Store().Len())

		require.NoError(t, os.WriteFile(path, []byte("requests:\n  - data: first\n  - data: second\n"), 0o600))
		require.Eventually(t, func() bool {
			return p.Store().Len() == 2
		}, 2*time.Second, 10*time.Millisecond)
	})
}
