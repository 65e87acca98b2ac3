package cocostream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
)

// rawCategory mirrors one entry of the COCO "categories" array.
type rawCategory struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// rawImage mirrors one entry of the "images" array. Width and height are
// pointers so absent geometry is distinguishable from zero.
type rawImage struct {
	ID       int64  `json:"id"`
	FileName string `json:"file_name"`
	Width    *int   `json:"width"`
	Height   *int   `json:"height"`
}

// rawAnnotation mirrors one entry of the "annotations" array. Optional
// numeric fields default to zero when absent.
type rawAnnotation struct {
	ID         int64     `json:"id"`
	ImageID    int64     `json:"image_id"`
	CategoryID int64     `json:"category_id"`
	BBox       []float64 `json:"bbox"`
	Area       float64   `json:"area"`
	IsCrowd    int       `json:"iscrowd"`
}

var errKeyNotFound = errors.New("top-level key not found")

// ParseCategories loads the whole categories section into an id-to-name
// map. A document without a categories section yields an empty map; its
// annotations will all resolve to the unknown sentinel.
func (p *COCO) ParseCategories(ctx context.Context, path string) (map[int64]string, error) {
	rc, err := p.resolver.Open(ctx, path)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	defer rc.Close()

	dec := json.NewDecoder(rc)
	if err := seekToArray(dec, "categories"); err != nil {
		if errors.Is(err, errKeyNotFound) {
			return map[int64]string{}, nil
		}
		return nil, &ParseError{Path: path, Err: err}
	}

	categories := make(map[int64]string)
	for dec.More() {
		var raw rawCategory
		if err := dec.Decode(&raw); err != nil {
			return nil, &ParseError{Path: path, Err: err}
		}
		categories[raw.ID] = raw.Name
	}
	return categories, nil
}

// StreamImages yields batches of image records in document order. Records
// missing required geometry are skipped, each with exactly one warning;
// the rest of the batch is unaffected.
func (p *COCO) StreamImages(ctx context.Context, path string) iter.Seq2[[]ImageRecord, error] {
	return func(yield func([]ImageRecord, error) bool) {
		rc, err := p.resolver.Open(ctx, path)
		if err != nil {
			yield(nil, &ParseError{Path: path, Err: err})
			return
		}
		defer rc.Close()

		dec := json.NewDecoder(rc)
		if err := seekToArray(dec, "images"); err != nil {
			yield(nil, &ParseError{Path: path, Err: err})
			return
		}

		batch := make([]ImageRecord, 0, p.batchSize)
		for dec.More() {
			var raw rawImage
			if err := dec.Decode(&raw); err != nil {
				yield(nil, &ParseError{Path: path, Err: err})
				return
			}

			if raw.Width == nil || raw.Height == nil {
				p.warn(fmt.Sprintf("image %d (%s) missing width/height; skipped", raw.ID, raw.FileName))
				continue
			}

			batch = append(batch, ImageRecord{
				ID:       raw.ID,
				FileName: raw.FileName,
				Width:    *raw.Width,
				Height:   *raw.Height,
			})

			if len(batch) == p.batchSize {
				if err := ctx.Err(); err != nil {
					yield(nil, err)
					return
				}
				if !yield(batch, nil) {
					return
				}
				batch = make([]ImageRecord, 0, p.batchSize)
			}
		}

		if len(batch) > 0 {
			yield(batch, nil)
		}
	}
}

// StreamAnnotations yields batches of annotation records with category ids
// resolved against the given map. Unknown category ids resolve to the
// sentinel name instead of failing.
func (p *COCO) StreamAnnotations(ctx context.Context, path string, categories map[int64]string) iter.Seq2[[]AnnotationRecord, error] {
	return func(yield func([]AnnotationRecord, error) bool) {
		rc, err := p.resolver.Open(ctx, path)
		if err != nil {
			yield(nil, &ParseError{Path: path, Err: err})
			return
		}
		defer rc.Close()

		dec := json.NewDecoder(rc)
		if err := seekToArray(dec, "annotations"); err != nil {
			if errors.Is(err, errKeyNotFound) {
				return // a document without annotations is an empty stream
			}
			yield(nil, &ParseError{Path: path, Err: err})
			return
		}

		batch := make([]AnnotationRecord, 0, p.batchSize)
		for dec.More() {
			var raw rawAnnotation
			if err := dec.Decode(&raw); err != nil {
				yield(nil, &ParseError{Path: path, Err: err})
				return
			}

			name, ok := categories[raw.CategoryID]
			if !ok {
				name = UnknownCategory
			}

			rec := AnnotationRecord{
				ID:           raw.ID,
				ImageID:      raw.ImageID,
				CategoryName: name,
				Area:         raw.Area,
				IsCrowd:      raw.IsCrowd != 0,
			}
			copy(rec.BBox[:], raw.BBox)

			batch = append(batch, rec)
			if len(batch) == p.batchSize {
				if err := ctx.Err(); err != nil {
					yield(nil, err)
					return
				}
				if !yield(batch, nil) {
					return
				}
				batch = make([]AnnotationRecord, 0, p.batchSize)
			}
		}

		if len(batch) > 0 {
			yield(batch, nil)
		}
	}
}

// seekToArray advances the decoder to just inside the opening bracket of
// the named top-level array, skipping other top-level values whole.
func seekToArray(dec *json.Decoder, key string) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("document is not a JSON object")
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("unexpected token %v where key expected", keyTok)
		}

		if name != key {
			if err := skipValue(dec); err != nil {
				return err
			}
			continue
		}

		tok, err := dec.Token()
		if err != nil {
			return err
		}
		if d, ok := tok.(json.Delim); !ok || d != '[' {
			return fmt.Errorf("key %q is not an array", key)
		}
		return nil
	}

	return fmt.Errorf("%w: %q", errKeyNotFound, key)
}

// skipValue consumes exactly one JSON value, tracking delimiter depth so
// nested structures are skipped whole without buffering them.
func skipValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	d, ok := tok.(json.Delim)
	if !ok || (d != '{' && d != '[') {
		return nil
	}

	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		if d, ok := tok.(json.Delim); ok {
			switch d {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
		}
	}
	return nil
}
