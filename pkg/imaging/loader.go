// Package imaging fetches and rasterizes image resources referenced by URL,
// producing dimensioned, size-bounded pixel buffers usable for report layout.
package imaging

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"time"

	"github.com/nfnt/resize"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/inspectra-cxr-server/internal/domain"
)

// Loader acquires images over HTTP and re-encodes them into a size-bounded
// JPEG suitable for embedding. Concurrent Load calls for distinct URLs are
// independent; a failure in one never affects a sibling call.
type Loader struct {
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *logrus.Logger
	cfg        domain.ImagingConfig
}

// NewLoader creates a new image loader
func NewLoader(cfg domain.ImagingConfig, logger *logrus.Logger) *Loader {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ImageFetch",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})

	return &Loader{
		httpClient: &http.Client{Timeout: cfg.FetchTimeout},
		breaker:    breaker,
		logger:     logger,
		cfg:        cfg,
	}
}

// Load fetches and decodes the image at url, then re-encodes it as a bounded
// JPEG. The returned AcquiredImage keeps the native dimensions and aspect
// ratio for layout math. Failures are reported as *domain.ResourceLoadError.
func (l *Loader) Load(ctx context.Context, url string) (*domain.AcquiredImage, error) {
	if url == "" {
		return nil, domain.NewResourceLoadError(url, "no image URL", nil)
	}

	raw, err := l.breaker.Execute(func() (interface{}, error) {
		return l.fetch(ctx, url)
	})
	if err != nil {
		if _, ok := err.(*domain.ResourceLoadError); ok {
			return nil, err
		}
		return nil, domain.NewResourceLoadError(url, "transport unavailable", err)
	}

	img, format, err := image.Decode(bytes.NewReader(raw.([]byte)))
	if err != nil {
		return nil, domain.NewResourceLoadError(url, "resource is not a decodable image", err)
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return nil, domain.NewResourceLoadError(url, "image has zero dimensions", nil)
	}

	// Bound the pixel payload before embedding; quality may be lossy.
	scaled := img
	if width > l.cfg.MaxDimension || height > l.cfg.MaxDimension {
		scaled = resize.Thumbnail(uint(l.cfg.MaxDimension), uint(l.cfg.MaxDimension), img, resize.Lanczos3)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: l.cfg.JPEGQuality}); err != nil {
		return nil, domain.NewResourceLoadError(url, "failed to re-encode image", err)
	}

	l.logger.WithFields(logrus.Fields{
		"url":    url,
		"format": format,
		"width":  width,
		"height": height,
		"bytes":  buf.Len(),
	}).Debug("Acquired image")

	return &domain.AcquiredImage{
		Data:        buf.Bytes(),
		Width:       width,
		Height:      height,
		AspectRatio: float64(width) / float64(height),
	}, nil
}

// fetch performs the HTTP GET and enforces the response size bound.
func (l *Loader) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, domain.NewResourceLoadError(url, "invalid request", err)
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, domain.NewResourceLoadError(url, "fetch failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, domain.NewResourceLoadError(url, fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, l.cfg.MaxBytes+1))
	if err != nil {
		return nil, domain.NewResourceLoadError(url, "reading response failed", err)
	}
	if int64(len(data)) > l.cfg.MaxBytes {
		return nil, domain.NewResourceLoadError(url, fmt.Sprintf("resource exceeds %d bytes", l.cfg.MaxBytes), nil)
	}
	return data, nil
}
