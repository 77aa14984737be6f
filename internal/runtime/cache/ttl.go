package cache

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Metadata describes the request attributes the TTL policy inspects. Empty
// fields take the same defaults as Fingerprint.
type Metadata struct {
	Size                 string
	ErrorCorrectionLevel string
	DarkColor            string
	LightColor           string
}

// ColorsCustomized reports whether either color differs from the defaults.
func (m Metadata) ColorsCustomized() bool {
	dark := orDefault(m.DarkColor, DefaultDarkColor)
	light := orDefault(m.LightColor, DefaultLightColor)
	return !strings.EqualFold(dark, DefaultDarkColor) || !strings.EqualFold(light, DefaultLightColor)
}

// TTLPolicy computes how long a rendered image stays cached. Images that are
// more expensive to regenerate (large, high redundancy, custom colors) live longer.
type TTLPolicy struct {
	Base time.Duration

	// Area thresholds in square pixels, checked largest first.
	LargeArea  int
	Large      time.Duration
	MediumArea int
	Medium     time.Duration

	HighCorrectionFactor float64
	CustomColorFactor    float64
}

// DefaultTTLPolicy returns the production tiers: 300s base, 900s above
// 160,000px², 1800s above 400,000px², x1.5 for level H and x1.2 for custom colors.
func DefaultTTLPolicy() TTLPolicy {
	return TTLPolicy{
		Base:                 300 * time.Second,
		LargeArea:            400000,
		Large:                1800 * time.Second,
		MediumArea:           160000,
		Medium:               900 * time.Second,
		HighCorrectionFactor: 1.5,
		CustomColorFactor:    1.2,
	}
}

// Compute returns the TTL for the given request metadata, floored to whole
// seconds. A size that cannot be parsed leaves the base TTL untouched.
func (p TTLPolicy) Compute(meta Metadata) time.Duration {
	seconds := p.Base.Seconds()

	if area, ok := pixelArea(meta.Size); ok {
		switch {
		case p.LargeArea > 0 && area > p.LargeArea:
			seconds = p.Large.Seconds()
		case p.MediumArea > 0 && area > p.MediumArea:
			seconds = p.Medium.Seconds()
		}
	}

	if strings.EqualFold(meta.ErrorCorrectionLevel, "H") && p.HighCorrectionFactor > 0 {
		seconds *= p.HighCorrectionFactor
	}
	if meta.ColorsCustomized() && p.CustomColorFactor > 0 {
		seconds *= p.CustomColorFactor
	}

	// Factors like 1.2 are not exact in binary; nudge before flooring so
	// 300*1.2 lands on 360 and not 359.
	return time.Duration(math.Floor(seconds+1e-9)) * time.Second
}

func pixelArea(size string) (int, bool) {
	width, height, ok := strings.Cut(strings.ToLower(strings.TrimSpace(size)), "x")
	if !ok {
		return 0, false
	}
	w, err := strconv.Atoi(width)
	if err != nil || w <= 0 {
		return 0, false
	}
	h, err := strconv.Atoi(height)
	if err != nil || h <= 0 {
		return 0, false
	}
	return w * h, true
}
