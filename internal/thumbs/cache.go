// Package thumbs produces and caches fixed-size WebP derivatives of
// dataset images for fast browsing. Cache paths are deterministic per
// (sample id, size); an existing file is returned without re-fetching or
// re-decoding the original.
package thumbs

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"os"
	"path/filepath"
	"sync/atomic"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/annovault/annovault/internal/config"
	"github.com/annovault/annovault/internal/logger"
	"github.com/annovault/annovault/internal/storage"
	"github.com/chai2010/webp"
	xdraw "golang.org/x/image/draw"
)

// ThumbnailError reports a single image that could not be thumbnailed.
// It is counted and skipped by callers, never fatal to a batch or import.
type ThumbnailError struct {
	SampleID string
	Err      error
}

func (e *ThumbnailError) Error() string {
	return fmt.Sprintf("thumbnail for %s failed: %v", e.SampleID, e.Err)
}

func (e *ThumbnailError) Unwrap() error {
	return e.Err
}

// ByteSource fetches original image bytes. *storage.Resolver satisfies
// it; tests substitute counting fakes.
type ByteSource interface {
	ReadBytes(ctx context.Context, path string) ([]byte, error)
}

var _ ByteSource = (*storage.Resolver)(nil)

// Cache generates and stores thumbnails under a local cache directory.
type Cache struct {
	cfg      *config.ThumbnailConfig
	source   ByteSource
	failures atomic.Int64
}

// New creates a thumbnail cache.
func New(cfg *config.ThumbnailConfig, source ByteSource) *Cache {
	return &Cache{cfg: cfg, source: source}
}

// Path returns the deterministic cache location for (sampleID, size).
// Sample ids are hashed so namespaced ids stay filesystem safe, and the
// first two hash characters shard the directory.
func (c *Cache) Path(sampleID string, size int) string {
	sum := sha256.Sum256([]byte(sampleID))
	hash := hex.EncodeToString(sum[:])
	return filepath.Join(c.cfg.CacheDir, hash[:2], fmt.Sprintf("%s_%d.webp", hash[:16], size))
}

// GetOrGenerate returns the cached thumbnail path for the sample,
// producing it first if needed: fetch the original through the storage
// backend, decode, downscale preserving aspect ratio into a size×size
// bounding box, flatten to opaque RGB and re-encode as WebP at the
// configured quality.
func (c *Cache) GetOrGenerate(ctx context.Context, sampleID, originalPath string, size int) (string, error) {
	cachePath := c.Path(sampleID, size)
	if _, err := os.Stat(cachePath); err == nil {
		return cachePath, nil
	}

	data, err := c.source.ReadBytes(ctx, originalPath)
	if err != nil {
		return "", c.fail(sampleID, fmt.Errorf("failed to read original: %w", err))
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		// The standard decoders do not cover WebP originals.
		src, err = webp.Decode(bytes.NewReader(data))
		if err != nil {
			return "", c.fail(sampleID, fmt.Errorf("failed to decode image: %w", err))
		}
	}

	thumb := scaleToFit(src, size)

	var buf bytes.Buffer
	if err := webp.Encode(&buf, thumb, &webp.Options{Quality: float32(c.cfg.Quality)}); err != nil {
		return "", c.fail(sampleID, fmt.Errorf("failed to encode thumbnail: %w", err))
	}

	if err := os.MkdirAll(filepath.Dir(cachePath), 0755); err != nil {
		return "", c.fail(sampleID, err)
	}
	if err := os.WriteFile(cachePath, buf.Bytes(), 0644); err != nil {
		return "", c.fail(sampleID, err)
	}

	return cachePath, nil
}

// FailureCount returns how many thumbnail generations have failed since
// the cache was created.
func (c *Cache) FailureCount() int64 {
	return c.failures.Load()
}

func (c *Cache) fail(sampleID string, err error) error {
	c.failures.Add(1)
	terr := &ThumbnailError{SampleID: sampleID, Err: err}
	logger.Warn("thumbnail generation failed",
		logger.String("sample_id", sampleID), logger.Err("error", err))
	return terr
}

// scaleToFit downscales src to fit inside a size×size bounding box
// preserving aspect ratio, drawing over an opaque white background so
// alpha and palette variants flatten to an encodable base mode. Images
// already within the box are not upscaled.
func scaleToFit(src image.Image, size int) image.Image {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	scale := 1.0
	if w > size || h > size {
		sw := float64(size) / float64(w)
		sh := float64(size) / float64(h)
		scale = sw
		if sh < sw {
			scale = sh
		}
	}

	dw := int(float64(w) * scale)
	dh := int(float64(h) * scale)
	if dw < 1 {
		dw = 1
	}
	if dh < 1 {
		dh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, bounds, xdraw.Over, nil)
	return dst
}
