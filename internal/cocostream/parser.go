// Package cocostream converts one annotation document into three ordered,
// bounded-size batch streams: categories, images and annotations. Each
// pass opens the document independently and decodes one element at a
// time, so peak memory stays proportional to the batch size regardless of
// document size. The source is assumed cheaply re-readable; on remote
// backends each pass is an independent object read.
package cocostream

import (
	"context"
	"fmt"
	"iter"

	"github.com/annovault/annovault/internal/logger"
	"github.com/annovault/annovault/internal/storage"
)

// ImageRecord is one parsed image entry.
type ImageRecord struct {
	ID       int64
	FileName string
	Width    int
	Height   int
}

// AnnotationRecord is one parsed annotation entry. Coordinates are kept
// exactly as decoded, never rounded.
type AnnotationRecord struct {
	ID           int64
	ImageID      int64
	CategoryName string
	BBox         [4]float64
	Area         float64
	IsCrowd      bool
}

// UnknownCategory is the sentinel name assigned to annotations whose
// category id is absent from the category map.
const UnknownCategory = "unknown"

// ParseError reports a document that could not be streamed at all, such
// as unreadable bytes or a missing top-level section. Malformed individual
// records are skipped with a warning instead.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Parser is a pluggable per-format streaming annotation parser.
type Parser interface {
	// Format names the annotation format this parser understands.
	Format() string
	// ParseCategories loads the category id to name map. Categories are
	// small and loaded wholly.
	ParseCategories(ctx context.Context, path string) (map[int64]string, error)
	// StreamImages yields bounded-size batches of image records in
	// document order. A non-nil error terminates the stream.
	StreamImages(ctx context.Context, path string) iter.Seq2[[]ImageRecord, error]
	// StreamAnnotations yields bounded-size batches of annotation
	// records with category ids resolved to names through the given map.
	StreamAnnotations(ctx context.Context, path string, categories map[int64]string) iter.Seq2[[]AnnotationRecord, error]
}

// WarnFunc receives per-record skip warnings emitted during streaming.
type WarnFunc func(msg string)

// COCO streams COCO-style JSON annotation documents.
type COCO struct {
	resolver  *storage.Resolver
	batchSize int
	warn      WarnFunc
}

// NewCOCO creates a COCO parser flushing batches of batchSize records.
func NewCOCO(resolver *storage.Resolver, batchSize int) *COCO {
	return &COCO{
		resolver:  resolver,
		batchSize: batchSize,
		warn: func(msg string) {
			logger.Warn(msg)
		},
	}
}

// SetWarnFunc replaces the destination of per-record skip warnings.
func (p *COCO) SetWarnFunc(fn WarnFunc) {
	if fn != nil {
		p.warn = fn
	}
}

// Format returns "coco".
func (p *COCO) Format() string {
	return "coco"
}
