package thumbs

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/annovault/annovault/internal/config"
	"github.com/chai2010/webp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingSource serves fixed byte blobs and counts reads per path.
type countingSource struct {
	blobs map[string][]byte
	reads map[string]int
}

func newCountingSource() *countingSource {
	return &countingSource{blobs: map[string][]byte{}, reads: map[string]int{}}
}

func (s *countingSource) ReadBytes(_ context.Context, path string) ([]byte, error) {
	s.reads[path]++
	blob, ok := s.blobs[path]
	if !ok {
		return nil, fmt.Errorf("no such object: %s", path)
	}
	return blob, nil
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTestCache(t *testing.T, source ByteSource) *Cache {
	t.Helper()
	cfg := config.Default().Thumbnails
	cfg.CacheDir = t.TempDir()
	return New(&cfg, source)
}

func TestGetOrGenerateCreatesWebPThumbnail(t *testing.T) {
	source := newCountingSource()
	source.blobs["/data/images/a.png"] = pngBytes(t, 800, 600)
	c := newTestCache(t, source)

	path, err := c.GetOrGenerate(context.Background(), "train:1", "/data/images/a.png", 256)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, "_256.webp"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	thumb, err := webp.Decode(bytes.NewReader(data))
	require.NoError(t, err)

	bounds := thumb.Bounds()
	assert.Equal(t, 256, bounds.Dx(), "landscape images scale to the box width")
	assert.Equal(t, 192, bounds.Dy(), "aspect ratio must be preserved")
}

func TestGetOrGenerateFetchesOriginalOnce(t *testing.T) {
	source := newCountingSource()
	source.blobs["/data/images/a.png"] = pngBytes(t, 64, 64)
	c := newTestCache(t, source)

	first, err := c.GetOrGenerate(context.Background(), "train:1", "/data/images/a.png", 256)
	require.NoError(t, err)
	second, err := c.GetOrGenerate(context.Background(), "train:1", "/data/images/a.png", 256)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, source.reads["/data/images/a.png"],
		"a cache hit must not re-fetch the original")
}

func TestGetOrGenerateDoesNotUpscale(t *testing.T) {
	source := newCountingSource()
	source.blobs["/small.png"] = pngBytes(t, 32, 20)
	c := newTestCache(t, source)

	path, err := c.GetOrGenerate(context.Background(), "train:2", "/small.png", 256)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	thumb, err := webp.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 32, thumb.Bounds().Dx())
	assert.Equal(t, 20, thumb.Bounds().Dy())
}

func TestPathIsDeterministicAndSharded(t *testing.T) {
	c := newTestCache(t, newCountingSource())

	p1 := c.Path("train:1", 256)
	p2 := c.Path("train:1", 256)
	assert.Equal(t, p1, p2)

	shard := filepath.Base(filepath.Dir(p1))
	assert.Len(t, shard, 2)

	assert.NotEqual(t, p1, c.Path("train:1", 128), "size participates in the key")
	assert.NotEqual(t, p1, c.Path("val:1", 256), "sample id participates in the key")
}

func TestFailuresAreCountedNotFatal(t *testing.T) {
	source := newCountingSource()
	source.blobs["/corrupt.png"] = []byte("not an image at all")
	c := newTestCache(t, source)

	_, err := c.GetOrGenerate(context.Background(), "train:3", "/missing.png", 256)
	require.Error(t, err)
	var terr *ThumbnailError
	assert.ErrorAs(t, err, &terr)

	_, err = c.GetOrGenerate(context.Background(), "train:4", "/corrupt.png", 256)
	require.Error(t, err)

	assert.Equal(t, int64(2), c.FailureCount())

	// Other samples keep thumbnailing after failures.
	source.blobs["/fine.png"] = pngBytes(t, 100, 100)
	_, err = c.GetOrGenerate(context.Background(), "train:5", "/fine.png", 256)
	require.NoError(t, err)
	assert.Equal(t, int64(2), c.FailureCount())
}
