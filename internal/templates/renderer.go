package templates

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"os"

	sprig "github.com/Masterminds/sprig/v3"
)

// LandingFile is the file name looked up in the override directory.
const LandingFile = "index.html"

//go:embed landing.html.tmpl
var builtin embed.FS

// Example is a sample request shown on the landing page.
type Example struct {
	Label string
	Data  string
	Size  string
	Href  template.URL
}

// LandingData feeds the landing page template.
type LandingData struct {
	Version     string
	Environment string
	MaxData     int
	MinSize     int
	MaxSize     int
	Examples    []Example
}

// Renderer renders the HTML landing page. Templates get the sprig helpers
// minus anything that reads the environment or the filesystem.
type Renderer struct {
	sandbox *Sandbox
	funcs   template.FuncMap
}

func NewRenderer(sandbox *Sandbox) *Renderer {
	funcs := sprig.FuncMap()
	for _, name := range []string{"env", "expandenv", "readDir", "mustReadDir", "readFile", "mustReadFile", "glob"} {
		delete(funcs, name)
	}
	return &Renderer{sandbox: sandbox, funcs: funcs}
}

func (r *Renderer) Sandbox() *Sandbox { return r.sandbox }

// Page is a compiled template, safe for concurrent use.
type Page struct {
	name string
	tmpl *template.Template
}

// Landing compiles the landing page, preferring index.html from the sandbox
// when one exists.
func (r *Renderer) Landing() (*Page, error) {
	if r.sandbox != nil {
		path, err := r.sandbox.Resolve(LandingFile)
		switch {
		case err == nil:
			contents, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("templates: read %q: %w", path, err)
			}
			return r.Compile(LandingFile, string(contents))
		case !errors.Is(err, fs.ErrNotExist):
			return nil, err
		}
	}
	contents, err := builtin.ReadFile("landing.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("templates: read builtin landing page: %w", err)
	}
	return r.Compile("landing", string(contents))
}

// Compile parses source as an HTML template.
func (r *Renderer) Compile(name, source string) (*Page, error) {
	tmpl, err := template.New(name).Funcs(r.funcs).Option("missingkey=zero").Parse(source)
	if err != nil {
		return nil, fmt.Errorf("templates: compile %q: %w", name, err)
	}
	return &Page{name: name, tmpl: tmpl}, nil
}

// Render executes the page into w. Output is buffered so a failing template
// never writes a partial document.
func (p *Page) Render(w io.Writer, data any) error {
	if p == nil {
		return errors.New("templates: nil page")
	}
	var buf bytes.Buffer
	if err := p.tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("templates: execute %q: %w", p.name, err)
	}
	_, err := buf.WriteTo(w)
	return err
}

func (p *Page) Name() string {
	if p == nil {
		return ""
	}
	return p.name
}
