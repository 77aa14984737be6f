package qrcode

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	MaxDataLength = 4000
	MinDimension  = 50
	MaxDimension  = 2000
	MaxMargin     = 10

	DefaultWidth      = 300
	DefaultHeight     = 300
	DefaultMargin     = 1
	DefaultLevel      = "M"
	DefaultDarkColor  = "#000000"
	DefaultLightColor = "#FFFFFF"
)

var (
	sizePattern  = regexp.MustCompile(`(?i)^(\d+)x(\d+)$`)
	colorPattern = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)
)

// Options are the optional styling parameters as supplied by the client.
// Fields left empty take the defaults.
type Options struct {
	Margin               *int   `json:"margin,omitempty"`
	ErrorCorrectionLevel string `json:"errorCorrectionLevel,omitempty"`
	Color                string `json:"color,omitempty"`
	BGColor              string `json:"bgcolor,omitempty"`
}

// Params is a validated generation request with every default resolved.
type Params struct {
	Data   string
	Size   string
	Width  int
	Height int
	Margin int
	Level  string
	Dark   string
	Light  string
}

// OptionsFromQuery extracts styling options from query parameters. Both "el"
// and "errorCorrectionLevel" select the correction level; "el" wins.
func OptionsFromQuery(q url.Values) Options {
	var opts Options
	if raw := q.Get("margin"); raw != "" {
		margin, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			margin = DefaultMargin
		}
		opts.Margin = &margin
	}
	opts.ErrorCorrectionLevel = q.Get("el")
	if opts.ErrorCorrectionLevel == "" {
		opts.ErrorCorrectionLevel = q.Get("errorCorrectionLevel")
	}
	opts.Color = q.Get("color")
	opts.BGColor = q.Get("bgcolor")
	return opts
}

// Sanitize normalizes the options in place: out-of-range margins and unknown
// levels fall back to the defaults and colors gain a leading '#', upper-cased,
// or revert to the default when malformed.
func (o *Options) Sanitize() {
	if o.Margin != nil && (*o.Margin < 0 || *o.Margin > MaxMargin) {
		margin := DefaultMargin
		o.Margin = &margin
	}
	if o.ErrorCorrectionLevel != "" {
		o.ErrorCorrectionLevel = normalizeLevel(o.ErrorCorrectionLevel)
	}
	if o.Color != "" {
		o.Color = normalizeColor(o.Color, DefaultDarkColor)
	}
	if o.BGColor != "" {
		o.BGColor = normalizeColor(o.BGColor, DefaultLightColor)
	}
}

// Build validates data and size and resolves opts into Params.
func Build(data, size string, opts Options) (Params, error) {
	if err := ValidateData(data); err != nil {
		return Params{}, err
	}
	width, height := DefaultWidth, DefaultHeight
	if size != "" {
		var err error
		if width, height, err = ParseSize(size); err != nil {
			return Params{}, err
		}
	} else {
		size = strconv.Itoa(width) + "x" + strconv.Itoa(height)
	}

	opts.Sanitize()
	params := Params{
		Data:   data,
		Size:   strings.ToLower(size),
		Width:  width,
		Height: height,
		Margin: DefaultMargin,
		Level:  DefaultLevel,
		Dark:   DefaultDarkColor,
		Light:  DefaultLightColor,
	}
	if opts.Margin != nil {
		params.Margin = *opts.Margin
	}
	if opts.ErrorCorrectionLevel != "" {
		params.Level = opts.ErrorCorrectionLevel
	}
	if opts.Color != "" {
		params.Dark = opts.Color
	}
	if opts.BGColor != "" {
		params.Light = opts.BGColor
	}
	return params, nil
}

// ValidateData checks presence and length (in characters) of the payload.
func ValidateData(data string) error {
	if data == "" {
		return &ValidationError{Field: "data", Message: "Data parameter is required"}
	}
	if n := utf8.RuneCountInString(data); n > MaxDataLength {
		return &ValidationError{
			Field:    "data",
			Message:  "Data is too long. Maximum length is 4000 characters",
			Received: strconv.Itoa(n),
		}
	}
	return nil
}

// ParseSize parses and bounds-checks a WIDTHxHEIGHT descriptor.
func ParseSize(size string) (int, int, error) {
	m := sizePattern.FindStringSubmatch(size)
	if m == nil {
		return 0, 0, &ValidationError{
			Field:    "size",
			Message:  `Size must be in format "WIDTHxHEIGHT" (e.g., "300x300")`,
			Received: size,
		}
	}
	width, errW := strconv.Atoi(m[1])
	height, errH := strconv.Atoi(m[2])
	if errW != nil || errH != nil || width > MaxDimension || height > MaxDimension {
		return 0, 0, &ValidationError{Field: "size", Message: "Maximum size is 2000x2000 pixels", Received: size}
	}
	if width < MinDimension || height < MinDimension {
		return 0, 0, &ValidationError{Field: "size", Message: "Minimum size is 50x50 pixels", Received: size}
	}
	return width, height, nil
}

func normalizeLevel(level string) string {
	switch upper := strings.ToUpper(strings.TrimSpace(level)); upper {
	case "L", "M", "Q", "H":
		return upper
	default:
		return DefaultLevel
	}
}

func normalizeColor(value, fallback string) string {
	c := strings.TrimSpace(value)
	if !strings.HasPrefix(c, "#") {
		c = "#" + c
	}
	if !colorPattern.MatchString(c) {
		return fallback
	}
	return strings.ToUpper(c)
}
