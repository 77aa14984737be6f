package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// WarmupRequest is one QR code generated and cached at startup.
type WarmupRequest struct {
	Data                 string `koanf:"data"`
	Size                 string `koanf:"size"`
	Margin               *int   `koanf:"margin"`
	ErrorCorrectionLevel string `koanf:"errorCorrectionLevel"`
	Color                string `koanf:"color"`
	BGColor              string `koanf:"bgcolor"`
}

type warmupDocument struct {
	Requests []WarmupRequest `koanf:"requests"`
}

// DefaultWarmup lists the popular requests cached when no warmup file is configured.
func DefaultWarmup() []WarmupRequest {
	return []WarmupRequest{
		{Data: "https://example.com", Size: "300x300"},
		{Data: "Hello World", Size: "300x300"},
		{Data: "https://github.com", Size: "300x300"},
		{Data: "Contact Info", Size: "400x400"},
	}
}

// LoadWarmup reads a YAML, JSON or TOML document holding a requests list.
// Entries without data are skipped.
func LoadWarmup(path string) ([]WarmupRequest, error) {
	parser, err := parserFor(path)
	if err != nil {
		return nil, err
	}
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, fmt.Errorf("config: load warmup %s: %w", path, err)
	}
	var doc warmupDocument
	if err := k.Unmarshal("", &doc); err != nil {
		return nil, fmt.Errorf("config: decode warmup %s: %w", path, err)
	}
	out := make([]WarmupRequest, 0, len(doc.Requests))
	for _, req := range doc.Requests {
		if strings.TrimSpace(req.Data) == "" {
			continue
		}
		out = append(out, req)
	}
	return out, nil
}
