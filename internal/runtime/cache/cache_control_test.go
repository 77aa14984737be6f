package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseCacheControl_Empty(t *testing.T) {
	directive := ParseCacheControl("")
	require.Nil(t, directive.MaxAge)
	require.False(t, directive.NoCache)
	require.False(t, directive.NoStore)
	require.True(t, directive.AllowsLookup())
	require.True(t, directive.AllowsStore())
}

func TestParseCacheControl_MaxAge(t *testing.T) {
	directive := ParseCacheControl("max-age=300")
	require.NotNil(t, directive.MaxAge)
	require.Equal(t, 300, *directive.MaxAge)
	require.False(t, directive.NoCache)
}

func TestParseCacheControl_QuotedMaxAge(t *testing.T) {
	directive := ParseCacheControl(`max-age="60"`)
	require.NotNil(t, directive.MaxAge)
	require.Equal(t, 60, *directive.MaxAge)
}

func TestParseCacheControl_NoCache(t *testing.T) {
	directive := ParseCacheControl("no-cache")
	require.True(t, directive.NoCache)
	require.False(t, directive.NoStore)
	require.False(t, directive.AllowsLookup())
	require.True(t, directive.AllowsStore())
}

func TestParseCacheControl_NoStore(t *testing.T) {
	directive := ParseCacheControl("no-store")
	require.True(t, directive.NoStore)
	require.False(t, directive.AllowsLookup())
	require.False(t, directive.AllowsStore())
}

func TestParseCacheControl_CaseInsensitive(t *testing.T) {
	directive := ParseCacheControl("Max-Age=300, No-Cache")
	require.NotNil(t, directive.MaxAge)
	require.Equal(t, 300, *directive.MaxAge)
	require.True(t, directive.NoCache)
}

func TestParseCacheControl_EdgeCases(t *testing.T) {
	tests := []struct {
		name   string
		header string
		check  func(*testing.T, CacheControlDirective)
	}{
		{
			name:   "only commas",
			header: ",,,",
			check: func(t *testing.T, d CacheControlDirective) {
				require.Nil(t, d.MaxAge)
			},
		},
		{
			name:   "empty value",
			header: "max-age=",
			check: func(t *testing.T, d CacheControlDirective) {
				require.Nil(t, d.MaxAge)
			},
		},
		{
			name:   "negative",
			header: "max-age=-100",
			check: func(t *testing.T, d CacheControlDirective) {
				require.Nil(t, d.MaxAge)
			},
		},
		{
			name:   "not a number",
			header: "max-age=soon",
			check: func(t *testing.T, d CacheControlDirective) {
				require.Nil(t, d.MaxAge)
			},
		},
		{
			name:   "unknown directives",
			header: "public, must-revalidate, immutable",
			check: func(t *testing.T, d CacheControlDirective) {
				require.Nil(t, d.MaxAge)
				require.True(t, d.AllowsLookup())
			},
		},
		{
			name:   "whitespace",
			header: "  max-age=30  ,  no-store  ",
			check: func(t *testing.T, d CacheControlDirective) {
				require.Equal(t, 30, *d.MaxAge)
				require.True(t, d.NoStore)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, ParseCacheControl(tt.header))
		})
	}
}

func TestCacheControlAcceptable(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	require.True(t, CacheControlDirective{}.Acceptable(now.Add(-time.Hour), now))

	directive := ParseCacheControl("max-age=60")
	require.True(t, directive.Acceptable(now.Add(-60*time.Second), now))
	require.False(t, directive.Acceptable(now.Add(-61*time.Second), now))

	zero := ParseCacheControl("max-age=0")
	require.True(t, zero.Acceptable(now, now))
	require.False(t, zero.Acceptable(now.Add(-time.Second), now))
}
