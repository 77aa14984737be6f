package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultWarmup(t *testing.T) {
	reqs := DefaultWarmup()
	require.Len(t, reqs, 4)
	require.Equal(t, "Hello World", reqs[1].Data)
	require.Equal(t, "400x400", reqs[3].Size)
}

func TestLoadWarmup(t *testing.T) {
	t.Run("yaml", func(t *testing.T) {
		path := writeFile(t, "warmup.yaml", `requests:
  - data: https://example.org
    size: 500x500
    margin: 0
    errorCorrectionLevel: H
  - data: ""
  - data: plain
    color: "#FF0000"
    bgcolor: "#00FF00"
`)
		reqs, err := LoadWarmup(path)
		require.NoError(t, err)
		require.Len(t, reqs, 2)
		require.Equal(t, "https://example.org", reqs[0].Data)
		require.NotNil(t, reqs[0].Margin)
		require.Equal(t, 0, *reqs[0].Margin)
		require.Equal(t, "H", reqs[0].ErrorCorrectionLevel)
		require.Nil(t, reqs[1].Margin)
		require.Equal(t, "#FF0000", reqs[1].Color)
		require.Equal(t, "#00FF00", reqs[1].BGColor)
	})

	t.Run("json", func(t *testing.T) {
		path := writeFile(t, "warmup.json", `{"requests":[{"data":"json","size":"200x200"}]}`)
		reqs, err := LoadWarmup(path)
		require.NoError(t, err)
		require.Equal(t, []WarmupRequest{{Data: "json", Size: "200x200"}}, reqs)
	})

	t.Run("toml", func(t *testing.T) {
		path := writeFile(t, "warmup.toml", "[[requests]]\ndata = \"toml\"\n")
		reqs, err := LoadWarmup(path)
		require.NoError(t, err)
		require.Len(t, reqs, 1)
		require.Equal(t, "toml", reqs[0].Data)
	})

	t.Run("malformed", func(t *testing.T) {
		path := writeFile(t, "warmup.yaml", "requests: [\n")
		_, err := LoadWarmup(path)
		require.ErrorContains(t, err, "config: load warmup")
	})

	t.Run("unsupported extension", func(t *testing.T) {
		_, err := LoadWarmup("warmup.txt")
		require.Error(t, err)
	})
}
