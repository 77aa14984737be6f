package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

const (
	// KeyPrefix namespaces QR fingerprints so they never collide with other key spaces.
	KeyPrefix = "qr:"
	// keyHexLength is the number of hex digest characters kept after the prefix.
	keyHexLength = 16

	DefaultSize       = "300x300"
	DefaultMargin     = 1
	DefaultLevel      = "M"
	DefaultDarkColor  = "#000000"
	DefaultLightColor = "#FFFFFF"
)

// Request carries every parameter that changes the rendered image. Empty strings
// and a nil Margin are replaced with the documented defaults before hashing.
type Request struct {
	Text   string
	Size   string
	Margin *int
	Level  string
	Dark   string
	Light  string
}

// canonicalRequest fixes the field order of the hashed record. Do not reorder
// fields: doing so changes every key produced by the running code version.
type canonicalRequest struct {
	Data                 string `json:"data"`
	Size                 string `json:"size"`
	Margin               int    `json:"margin"`
	ErrorCorrectionLevel string `json:"errorCorrectionLevel"`
	Color                string `json:"color"`
	BGColor              string `json:"bgcolor"`
}

// Fingerprint derives the cache key for a generation request.
//
// The canonical record is serialized as JSON with a fixed field order, hashed
// with SHA-256 and truncated to 16 hex characters behind KeyPrefix.
func Fingerprint(req Request) string {
	margin := DefaultMargin
	if req.Margin != nil {
		margin = *req.Margin
	}
	record := canonicalRequest{
		Data:                 req.Text,
		Size:                 orDefault(req.Size, DefaultSize),
		Margin:               margin,
		ErrorCorrectionLevel: orDefault(req.Level, DefaultLevel),
		Color:                orDefault(req.Dark, DefaultDarkColor),
		BGColor:              orDefault(req.Light, DefaultLightColor),
	}
	var payload bytes.Buffer
	enc := json.NewEncoder(&payload)
	enc.SetEscapeHTML(false)
	// Encoding a struct of strings and ints cannot fail.
	_ = enc.Encode(record)
	sum := sha256.Sum256(bytes.TrimSuffix(payload.Bytes(), []byte("\n")))
	return KeyPrefix + hex.EncodeToString(sum[:])[:keyHexLength]
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
