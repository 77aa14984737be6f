package qrcode

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strconv"
	"strings"

	goqrcode "github.com/skip2/go-qrcode"
)

// Encoder renders QR symbols to PNG.
type Encoder struct {
	png png.Encoder
}

// NewEncoder returns an Encoder that favors speed over PNG size.
func NewEncoder() *Encoder {
	return &Encoder{png: png.Encoder{CompressionLevel: png.BestSpeed}}
}

// Encode renders p as a PNG. The symbol is scaled to the shorter side of the
// canvas and centered; margin is counted in modules. When the canvas is too
// small for one pixel per module it grows to fit the symbol.
func (e *Encoder) Encode(ctx context.Context, p Params) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("qrcode: encode: %w", err)
	}
	code, err := goqrcode.New(p.Data, recoveryLevel(p.Level))
	if err != nil {
		return nil, &EncodingError{Reason: err.Error(), Err: err}
	}
	code.DisableBorder = true
	bitmap := code.Bitmap()

	dark, err := parseColor(orDefault(p.Dark, DefaultDarkColor))
	if err != nil {
		return nil, &EncodingError{Reason: err.Error(), Err: err}
	}
	light, err := parseColor(orDefault(p.Light, DefaultLightColor))
	if err != nil {
		return nil, &EncodingError{Reason: err.Error(), Err: err}
	}

	width, height := p.Width, p.Height
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}
	modules := len(bitmap) + 2*max(p.Margin, 0)
	scale := max(min(width, height)/modules, 1)
	symbol := modules * scale
	width, height = max(width, symbol), max(height, symbol)

	// Index 0 is the background, so a fresh image is already filled with it.
	img := image.NewPaletted(image.Rect(0, 0, width, height), color.Palette{light, dark})
	originX := (width-symbol)/2 + max(p.Margin, 0)*scale
	originY := (height-symbol)/2 + max(p.Margin, 0)*scale
	for row, cells := range bitmap {
		for col, on := range cells {
			if !on {
				continue
			}
			x0, y0 := originX+col*scale, originY+row*scale
			for y := y0; y < y0+scale; y++ {
				offset := img.PixOffset(x0, y)
				for i := range scale {
					img.Pix[offset+i] = 1
				}
			}
		}
	}

	var buf bytes.Buffer
	if err := e.png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("qrcode: png encode: %w", err)
	}
	return buf.Bytes(), nil
}

// DataURL wraps PNG bytes in a base64 data URL.
func DataURL(data []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)
}

func recoveryLevel(level string) goqrcode.RecoveryLevel {
	switch strings.ToUpper(level) {
	case "L":
		return goqrcode.Low
	case "Q":
		return goqrcode.High
	case "H":
		return goqrcode.Highest
	default:
		return goqrcode.Medium
	}
}

func parseColor(hex string) (color.RGBA, error) {
	hex = strings.TrimPrefix(hex, "#")
	if len(hex) != 6 {
		return color.RGBA{}, fmt.Errorf("invalid color %q", hex)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid color %q", hex)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
