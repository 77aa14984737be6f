package templates

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Sandbox confines template file lookups to a single directory.
type Sandbox struct {
	root string
}

// NewSandbox roots a sandbox at dir, which must exist and be a directory.
func NewSandbox(dir string) (*Sandbox, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("templates: sandbox root required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("templates: resolve root: %w", err)
	}
	abs, err = filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("templates: eval root symlinks: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("templates: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("templates: root %q is not a directory", abs)
	}
	return &Sandbox{root: abs}, nil
}

func (s *Sandbox) Root() string { return s.root }

// Resolve maps name to a path inside the root, following symlinks. Names that
// escape the root are rejected; missing files surface os.ErrNotExist.
func (s *Sandbox) Resolve(name string) (string, error) {
	if s == nil {
		return "", errors.New("templates: sandbox is nil")
	}
	candidate := filepath.Clean(name)
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(s.root, candidate)
	}
	if !s.contains(candidate) {
		return "", fmt.Errorf("templates: path %q escapes sandbox", name)
	}
	evaluated, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		return "", fmt.Errorf("templates: resolve %q: %w", name, err)
	}
	if !s.contains(evaluated) {
		return "", fmt.Errorf("templates: path %q escapes sandbox", name)
	}
	return evaluated, nil
}

func (s *Sandbox) contains(candidate string) bool {
	root := s.root
	if runtime.GOOS == "windows" {
		root = strings.ToLower(root)
		candidate = strings.ToLower(candidate)
	}
	if root == candidate {
		return true
	}
	if !strings.HasSuffix(root, string(os.PathSeparator)) {
		root += string(os.PathSeparator)
	}
	return strings.HasPrefix(candidate, root)
}
