package templates

import (
	"bytes"
	"html/template"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleData() LandingData {
	return LandingData{
		Version:     "1.2.0",
		Environment: "development",
		MaxData:     4000,
		MinSize:     50,
		MaxSize:     2000,
		Examples: []Example{
			{Label: "hello world", Data: "Hello World", Size: "300x300", Href: template.URL("/api/qr?data=Hello+World&size=300x300")},
		},
	}
}

func TestLandingBuiltin(t *testing.T) {
	page, err := NewRenderer(nil).Landing()
	require.NoError(t, err)
	require.Equal(t, "landing", page.Name())

	var buf bytes.Buffer
	require.NoError(t, page.Render(&buf, sampleData()))
	out := buf.String()
	require.Contains(t, out, "<title>QRGen 1.2.0</title>")
	require.Contains(t, out, "DEVELOPMENT")
	require.Contains(t, out, `href="/api/qr?data=Hello`)
	require.Contains(t, out, "size=300x300")
	require.Contains(t, out, "Hello World")
	require.Contains(t, out, `<option value="M" selected>M</option>`)
	require.Contains(t, out, "50x50 to 2000x2000")
}

func TestLandingEscapesData(t *testing.T) {
	page, err := NewRenderer(nil).Landing()
	require.NoError(t, err)

	data := sampleData()
	data.Examples[0].Data = "<script>alert(1)</script>"
	var buf bytes.Buffer
	require.NoError(t, page.Render(&buf, data))
	require.NotContains(t, buf.String(), "<script>alert(1)")
}

func TestLandingOverride(t *testing.T) {
	dir := tempDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, LandingFile), []byte(`<p>{{ .Version }} {{ len .Examples }}</p>`), 0o600))
	sandbox, err := NewSandbox(dir)
	require.NoError(t, err)

	renderer := NewRenderer(sandbox)
	require.Equal(t, sandbox, renderer.Sandbox())
	page, err := renderer.Landing()
	require.NoError(t, err)
	require.Equal(t, LandingFile, page.Name())

	var buf bytes.Buffer
	require.NoError(t, page.Render(&buf, sampleData()))
	require.Equal(t, "<p>1.2.0 1</p>", buf.String())
}

func TestLandingFallsBackWhenOverrideMissing(t *testing.T) {
	sandbox, err := NewSandbox(tempDir(t))
	require.NoError(t, err)
	page, err := NewRenderer(sandbox).Landing()
	require.NoError(t, err)
	require.Equal(t, "landing", page.Name())
}

func TestRendererStripsSprigFileHelpers(t *testing.T) {
	renderer := NewRenderer(nil)

	for _, name := range []string{"env", "expandenv", "readFile", "mustReadFile", "readDir", "mustReadDir", "glob"} {
		t.Run("removes "+name, func(t *testing.T) {
			_, ok := renderer.funcs[name]
			require.Falsef(t, ok, "expected sprig helper %q to be removed", name)
		})
	}

	_, err := renderer.Compile("inline", `{{ env "HOME" }}`)
	require.Error(t, err)
}

func TestRenderFailureWritesNothing(t *testing.T) {
	page, err := NewRenderer(nil).Compile("broken", `before {{ fail "boom" }}`)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.Error(t, page.Render(&buf, nil))
	require.Zero(t, buf.Len())

	var nilPage *Page
	require.Error(t, nilPage.Render(&buf, nil))
	require.Empty(t, nilPage.Name())
}
