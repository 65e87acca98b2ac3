package cocostream

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/annovault/annovault/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDoc(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "annotations.json")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))
	return path
}

func newTestParser(batchSize int) *COCO {
	return NewCOCO(storage.NewResolver(), batchSize)
}

// syntheticDoc builds a valid COCO document with n images and m
// annotations referencing them round-robin across two categories.
func syntheticDoc(t *testing.T, n, m int) string {
	t.Helper()
	doc := map[string]interface{}{
		"info": map[string]interface{}{"year": 2024, "description": "synthetic"},
		"categories": []map[string]interface{}{
			{"id": 1, "name": "cat"},
			{"id": 2, "name": "dog"},
		},
	}
	images := make([]map[string]interface{}, 0, n)
	for i := 1; i <= n; i++ {
		images = append(images, map[string]interface{}{
			"id": i, "file_name": fmt.Sprintf("%06d.jpg", i), "width": 640, "height": 480,
		})
	}
	annotations := make([]map[string]interface{}, 0, m)
	for i := 1; i <= m; i++ {
		annotations = append(annotations, map[string]interface{}{
			"id": i, "image_id": (i-1)%n + 1, "category_id": (i-1)%2 + 1,
			"bbox": []float64{1.5, 2.5, 10, 20}, "area": 200.0, "iscrowd": 0,
		})
	}
	doc["images"] = images
	doc["annotations"] = annotations
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	return writeDoc(t, string(data))
}

func collectImages(t *testing.T, p *COCO, path string) ([][]ImageRecord, error) {
	t.Helper()
	var batches [][]ImageRecord
	for batch, err := range p.StreamImages(context.Background(), path) {
		if err != nil {
			return batches, err
		}
		batches = append(batches, batch)
	}
	return batches, nil
}

func TestParseCategories(t *testing.T) {
	path := syntheticDoc(t, 1, 0)
	categories, err := newTestParser(10).ParseCategories(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, map[int64]string{1: "cat", 2: "dog"}, categories)
}

func TestParseCategoriesMissingSection(t *testing.T) {
	path := writeDoc(t, `{"images": []}`)
	categories, err := newTestParser(10).ParseCategories(context.Background(), path)
	require.NoError(t, err)
	assert.Empty(t, categories)
}

func TestStreamImagesBatching(t *testing.T) {
	const total, batchSize = 23, 5
	path := syntheticDoc(t, total, 0)

	batches, err := collectImages(t, newTestParser(batchSize), path)
	require.NoError(t, err)
	require.Len(t, batches, 5, "expected 4 full batches plus one partial")

	count := 0
	var lastID int64
	for i, batch := range batches {
		if i < len(batches)-1 {
			assert.Len(t, batch, batchSize)
		}
		for _, rec := range batch {
			count++
			assert.Greater(t, rec.ID, lastID, "records must arrive in document order")
			lastID = rec.ID
			assert.Equal(t, 640, rec.Width)
		}
	}
	assert.Equal(t, total, count, "concatenated batches must equal the document")
	assert.Len(t, batches[len(batches)-1], total%batchSize)
}

func TestStreamImagesSkipsMissingGeometry(t *testing.T) {
	path := writeDoc(t, `{
		"images": [
			{"id": 1, "file_name": "a.jpg", "width": 10, "height": 10},
			{"id": 2, "file_name": "b.jpg"},
			{"id": 3, "file_name": "c.jpg", "width": 20, "height": 20}
		]
	}`)

	p := newTestParser(10)
	var warnings []string
	p.SetWarnFunc(func(msg string) { warnings = append(warnings, msg) })

	batches, err := collectImages(t, p, path)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 2)
	assert.Equal(t, int64(1), batches[0][0].ID)
	assert.Equal(t, int64(3), batches[0][1].ID)
	require.Len(t, warnings, 1, "exactly one warning per skipped record")
	assert.Contains(t, warnings[0], "b.jpg")
}

func TestStreamImagesMissingSectionFails(t *testing.T) {
	path := writeDoc(t, `{"annotations": []}`)
	_, err := collectImages(t, newTestParser(10), path)
	require.Error(t, err)
	var parseErr *ParseError
	assert.ErrorAs(t, err, &parseErr)
}

func TestStreamImagesMalformedDocumentFails(t *testing.T) {
	path := writeDoc(t, `{"images": [{"id": 1, "file_name": "a.jpg", "width": 10, "height": `)
	_, err := collectImages(t, newTestParser(10), path)
	require.Error(t, err)
}

func TestStreamAnnotations(t *testing.T) {
	path := syntheticDoc(t, 4, 10)
	p := newTestParser(3)

	categories, err := p.ParseCategories(context.Background(), path)
	require.NoError(t, err)

	var records []AnnotationRecord
	for batch, err := range p.StreamAnnotations(context.Background(), path, categories) {
		require.NoError(t, err)
		records = append(records, batch...)
	}

	require.Len(t, records, 10)
	assert.Equal(t, "cat", records[0].CategoryName)
	assert.Equal(t, "dog", records[1].CategoryName)
	assert.Equal(t, [4]float64{1.5, 2.5, 10, 20}, records[0].BBox, "coordinates must pass through unrounded")
	assert.Equal(t, 200.0, records[0].Area)
	assert.False(t, records[0].IsCrowd)
}

func TestStreamAnnotationsUnknownCategory(t *testing.T) {
	path := writeDoc(t, `{
		"images": [],
		"annotations": [{"id": 1, "image_id": 1, "category_id": 99, "bbox": [0,0,1,1], "area": 1}]
	}`)
	p := newTestParser(10)

	var records []AnnotationRecord
	for batch, err := range p.StreamAnnotations(context.Background(), path, map[int64]string{1: "cat"}) {
		require.NoError(t, err)
		records = append(records, batch...)
	}
	require.Len(t, records, 1)
	assert.Equal(t, UnknownCategory, records[0].CategoryName)
}

func TestStreamAnnotationsMissingSectionIsEmpty(t *testing.T) {
	path := writeDoc(t, `{"images": []}`)
	count := 0
	for batch, err := range newTestParser(10).StreamAnnotations(context.Background(), path, nil) {
		require.NoError(t, err)
		count += len(batch)
	}
	assert.Zero(t, count)
}

func TestStreamImagesRespectsCancellation(t *testing.T) {
	path := syntheticDoc(t, 10, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var err error
	for _, e := range newTestParser(2).StreamImages(ctx, path) {
		if e != nil {
			err = e
			break
		}
		cancel()
	}
	assert.ErrorIs(t, err, context.Canceled)
}
