package runtime

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/l0p7/qrgen/internal/qrcode"
)

func TestServeQR(t *testing.T) {
	p, enc := newTestPipeline(t, PipelineOptions{})
	e := newExpect(t, p)

	first := e.GET("/api/qr").
		WithQuery("data", "Hello World").
		WithQuery("size", "200x200").
		Expect().
		Status(http.StatusOK)
	first.Header("Content-Type").IsEqual("image/png")
	first.Header("X-Cache").IsEqual("MISS")
	first.Header("Cache-Control").IsEqual("public, max-age=3600")
	first.Header("Content-Disposition").HasPrefix(`inline; filename="qr-code-`)
	first.Body().IsEqual("png:Hello World:200x200:M:#000000:#FFFFFF")
	etag := first.Header("ETag").NotEmpty().Raw()

	e.GET("/api/qr").
		WithQuery("data", "Hello World").
		WithQuery("size", "200x200").
		Expect().
		Status(http.StatusOK).
		Header("X-Cache").IsEqual("HIT")

	for _, candidate := range []string{etag, "W/" + etag, `"other", ` + etag, "*"} {
		e.GET("/api/qr").
			WithQuery("data", "Hello World").
			WithQuery("size", "200x200").
			WithHeader("If-None-Match", candidate).
			Expect().
			Status(http.StatusNotModified).
			Header("ETag").IsEqual(etag)
	}

	e.GET("/api/qr").
		WithQuery("data", "Hello World").
		WithQuery("size", "200x200").
		WithHeader("If-None-Match", `"stale"`).
		Expect().
		Status(http.StatusOK)

	require.EqualValues(t, 1, enc.calls.Load())
}

func TestServeQROptions(t *testing.T) {
	p, _ := newTestPipeline(t, PipelineOptions{})
	e := newExpect(t, p)

	e.GET("/api/qr").
		WithQuery("data", "styled").
		WithQuery("el", "h").
		WithQuery("color", "ff6b35").
		WithQuery("bgcolor", "not-a-color").
		Expect().
		Status(http.StatusOK).
		Body().IsEqual("png:styled:300x300:H:#FF6B35:#FFFFFF")
}

func TestServeQRErrors(t *testing.T) {
	t.Run("missing data", func(t *testing.T) {
		p, _ := newTestPipeline(t, PipelineOptions{})
		obj := newExpect(t, p).GET("/api/qr").
			Expect().
			Status(http.StatusBadRequest).
			JSON().Object()
		obj.Value("error").String().IsEqual("Data parameter is required")
		obj.Value("example").String().HasPrefix("/api/qr?data=")
	})

	t.Run("size too small", func(t *testing.T) {
		p, _ := newTestPipeline(t, PipelineOptions{})
		obj := newExpect(t, p).GET("/api/qr").
			WithQuery("data", "x").
			WithQuery("size", "10x10").
			Expect().
			Status(http.StatusBadRequest).
			JSON().Object()
		obj.Value("error").String().IsEqual("Minimum size is 50x50 pixels")
		obj.Value("received").String().IsEqual("10x10")
	})

	t.Run("data too long", func(t *testing.T) {
		p, _ := newTestPipeline(t, PipelineOptions{})
		newExpect(t, p).GET("/api/qr").
			WithQuery("data", strings.Repeat("a", qrcode.MaxDataLength+1)).
			Expect().
			Status(http.StatusBadRequest).
			JSON().Object().
			Value("error").String().Contains("Maximum length is 4000")
	})

	t.Run("unencodable", func(t *testing.T) {
		p, _ := newTestPipeline(t, PipelineOptions{Encoder: &stubEncoder{err: &qrcode.EncodingError{Reason: "data too large"}}})
		obj := newExpect(t, p).GET("/api/qr").
			WithQuery("data", "x").
			Expect().
			Status(http.StatusUnprocessableEntity).
			JSON().Object()
		obj.Value("error").String().IsEqual("Failed to generate QR code")
		obj.Value("details").String().IsEqual("data too large")
	})

	t.Run("internal failure outside production", func(t *testing.T) {
		p, _ := newTestPipeline(t, PipelineOptions{Encoder: &stubEncoder{err: errors.New("disk on fire")}})
		newExpect(t, p).GET("/api/qr").
			WithQuery("data", "x").
			Expect().
			Status(http.StatusInternalServerError).
			JSON().Object().
			Value("details").String().Contains("disk on fire")
	})

	t.Run("internal failure in production", func(t *testing.T) {
		p, _ := newTestPipeline(t, PipelineOptions{
			Environment: "production",
			Encoder:     &stubEncoder{err: errors.New("disk on fire")},
		})
		newExpect(t, p).GET("/api/qr").
			WithQuery("data", "x").
			Expect().
			Status(http.StatusInternalServerError).
			JSON().Object().
			NotContainsKey("details")
	})
}

func TestServeQRURL(t *testing.T) {
	p, _ := newTestPipeline(t, PipelineOptions{})
	e := newExpect(t, p)

	obj := e.GET("/api/qr/url").
		WithQuery("data", "example.com").
		WithQuery("size", "250x250").
		WithQuery("margin", "2").
		Expect().
		Status(http.StatusOK).
		JSON().Object()
	obj.Value("success").Boolean().IsTrue()
	data := obj.Value("data").Object()
	data.Value("url").String().HasPrefix("data:image/png;base64,")
	data.Value("size").String().IsEqual("250x250")
	data.Value("content").String().IsEqual("example.com")
	data.Value("options").Object().Value("margin").Number().IsEqual(2)

	e.GET("/api/qr/url").
		Expect().
		Status(http.StatusBadRequest).
		JSON().Object().
		Value("error").String().IsEqual("Data parameter is required")

	e.GET("/api/qr/url").
		WithQuery("data", "x").
		WithQuery("size", "large").
		Expect().
		Status(http.StatusBadRequest)
}

func TestServeBatch(t *testing.T) {
	p, _ := newTestPipeline(t, PipelineOptions{})
	e := newExpect(t, p)

	obj := e.POST("/api/qr/batch").
		WithJSON(map[string]any{
			"requests": []map[string]any{
				{"data": "first"},
				{"data": "second", "size": "9x9"},
				{"data": "third", "size": "120x120", "options": map[string]any{"errorCorrectionLevel": "Q"}},
				{"data": ""},
			},
		}).
		Expect().
		Status(http.StatusOK).
		JSON().Object()
	obj.Value("success").Boolean().IsTrue()
	obj.Value("processed").Number().IsEqual(4)
	obj.Value("successful").Number().IsEqual(2)
	obj.Value("failed").Number().IsEqual(2)

	results := obj.Value("results").Array()
	results.Length().IsEqual(2)
	results.Value(0).Object().Value("index").Number().IsEqual(0)
	results.Value(1).Object().Value("index").Number().IsEqual(2)
	results.Value(1).Object().Value("data").Object().Value("size").String().IsEqual("120x120")

	errs := obj.Value("errors").Array()
	errs.Length().IsEqual(2)
	errs.Value(0).Object().Value("index").Number().IsEqual(1)
	errs.Value(0).Object().Value("error").String().IsEqual("Minimum size is 50x50 pixels")
	errs.Value(0).Object().Value("request").Object().Value("data").String().IsEqual("second")
	errs.Value(1).Object().Value("index").Number().IsEqual(3)

	require.Equal(t, 2, p.Store().Len())
}

func TestServeBatchRejectsInvalidBodies(t *testing.T) {
	p, _ := newTestPipeline(t, PipelineOptions{})
	e := newExpect(t, p)

	e.POST("/api/qr/batch").
		WithText("{not json").
		Expect().
		Status(http.StatusBadRequest).
		JSON().Object().
		Value("error").String().IsEqual("Invalid batch request")

	e.POST("/api/qr/batch").
		WithJSON(map[string]any{"requests": []any{}}).
		Expect().
		Status(http.StatusBadRequest)

	items := make([]map[string]any, MaxBatchSize+1)
	for i := range items {
		items[i] = map[string]any{"data": fmt.Sprintf("item-%d", i)}
	}
	obj := e.POST("/api/qr/batch").
		WithJSON(map[string]any{"requests": items}).
		Expect().
		Status(http.StatusBadRequest).
		JSON().Object()
	obj.Value("error").String().IsEqual("Batch size too large")
	obj.Value("received").Number().IsEqual(MaxBatchSize + 1)
	obj.Value("maximum").Number().IsEqual(MaxBatchSize)
}

func TestServeBatchPayloadTooLarge(t *testing.T) {
	p, _ := newTestPipeline(t, PipelineOptions{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/qr/batch", strings.NewReader(`{"requests":[{"data":"`+strings.Repeat("a", 512)+`"}]}`))
	req.Body = http.MaxBytesReader(rec, req.Body, 64)
	p.ServeBatch(rec, req)

	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	require.Contains(t, rec.Body.String(), "Payload too large")
}

func TestServeInfo(t *testing.T) {
	p, _ := newTestPipeline(t, PipelineOptions{Version: "9.9.9"})
	obj := newExpect(t, p).GET("/api").
		Expect().
		Status(http.StatusOK).
		JSON().Object()
	obj.Value("name").String().IsEqual("QRGen API")
	obj.Value("version").String().IsEqual("9.9.9")
	limits := obj.Value("limits").Object()
	limits.Value("rate_limit").String().IsEqual("disabled")
	limits.Value("size_range").String().IsEqual("50x50 to 2000x2000 pixels")
	obj.Value("endpoints").Object().Value("qr_generation").Object().Value("batch").String().IsEqual("/api/qr/batch (POST)")
}

func TestServeLanding(t *testing.T) {
	p, _ := newTestPipeline(t, PipelineOptions{Version: "2.0.0", Environment: "test"})
	resp := newExpect(t, p).GET("/").
		Expect().
		Status(http.StatusOK)
	resp.Header("Content-Type").HasPrefix("text/html")
	body := resp.Body()
	body.Contains("QRGen 2.0.0")
	body.Contains("TEST")
	body.Contains("Hello World")
	body.Contains("/api/qr?data=example.com")
}

func TestServeNotFound(t *testing.T) {
	p, _ := newTestPipeline(t, PipelineOptions{})
	obj := newExpect(t, p).GET("/nope").
		Expect().
		Status(http.StatusNotFound).
		JSON().Object()
	obj.Value("error").String().IsEqual("Endpoint not found")
	obj.Value("message").String().Contains("GET /nope")
	obj.Value("available_endpoints").Array().ContainsAll("GET /api/qr", "GET /health")
}
