// Package loader commits parsed batches to the storage engine using
// set-oriented writes. Commits are atomic at batch granularity: all rows
// of one call succeed or none do, and a failure aborts the current split
// without rolling back previously committed batches or splits.
package loader

import (
	"fmt"
	"os"
	"time"

	"github.com/annovault/annovault/internal/cocostream"
	"github.com/annovault/annovault/internal/database"
	"github.com/annovault/annovault/internal/logger"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LoadError reports a failed batch commit.
type LoadError struct {
	Table string
	Err   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("bulk commit to %s failed: %v", e.Table, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// BulkLoader writes parsed records into the database under one shared
// dataset identity. All writes go through a single connection; the engine
// is treated as single writer for the duration of an import.
type BulkLoader struct {
	db *gorm.DB
}

// New creates a bulk loader.
func New(db *gorm.DB) *BulkLoader {
	return &BulkLoader{db: db}
}

// NamespaceID prefixes a raw source id with its split so that two splits
// reusing the same numeric id never collide within a dataset.
func NamespaceID(split string, rawID int64) string {
	return fmt.Sprintf("%s:%d", split, rawID)
}

// EnsureDataset returns the dataset row for the given name, creating it
// with fresh identity and zero counters on first use. Subsequent splits of
// the same import (and later imports under the same name) share this
// identity.
func (l *BulkLoader) EnsureDataset(name, format, sourcePath string) (*database.Dataset, error) {
	var ds database.Dataset
	err := l.db.Where(database.Dataset{Name: name}).
		Attrs(database.Dataset{
			ID:         uuid.NewString(),
			Format:     format,
			SourcePath: sourcePath,
		}).
		FirstOrCreate(&ds).Error
	if err != nil {
		return nil, &LoadError{Table: "datasets", Err: err}
	}
	return &ds, nil
}

// CommitCategories appends any category not already present for the
// dataset, deduplicating by name across splits, and accumulates the
// dataset's category counter. It returns the number of new rows.
func (l *BulkLoader) CommitCategories(datasetID string, categories map[int64]string) (int, error) {
	if len(categories) == 0 {
		return 0, nil
	}

	var existing []string
	if err := l.db.Model(&database.Category{}).
		Where("dataset_id = ?", datasetID).
		Pluck("name", &existing).Error; err != nil {
		return 0, &LoadError{Table: "categories", Err: err}
	}
	seen := make(map[string]bool, len(existing))
	for _, name := range existing {
		seen[name] = true
	}

	var rows []database.Category
	for id, name := range categories {
		if seen[name] {
			continue
		}
		seen[name] = true
		rows = append(rows, database.Category{
			DatasetID:  datasetID,
			CategoryID: id,
			Name:       name,
		})
	}
	if len(rows) == 0 {
		return 0, nil
	}

	err := l.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&rows).Error; err != nil {
			return err
		}
		return l.accumulate(tx, datasetID, "category_count", int64(len(rows)))
	})
	if err != nil {
		return 0, &LoadError{Table: "categories", Err: err}
	}
	return len(rows), nil
}

// BuildSamples converts one image batch into sample rows with split-
// namespaced ids.
func (l *BulkLoader) BuildSamples(datasetID, split string, records []cocostream.ImageRecord) []database.Sample {
	samples := make([]database.Sample, 0, len(records))
	now := time.Now()
	for _, rec := range records {
		samples = append(samples, database.Sample{
			ID:        NamespaceID(split, rec.ID),
			DatasetID: datasetID,
			FileName:  rec.FileName,
			Width:     rec.Width,
			Height:    rec.Height,
			Split:     split,
			CreatedAt: now,
		})
	}
	return samples
}

// CommitSamples writes one batch of sample rows in a single transaction
// and accumulates the dataset's image counter. It returns the number of
// committed rows.
func (l *BulkLoader) CommitSamples(datasetID string, samples []database.Sample) (int, error) {
	if len(samples) == 0 {
		return 0, nil
	}

	err := l.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&samples).Error; err != nil {
			return err
		}
		return l.accumulate(tx, datasetID, "image_count", int64(len(samples)))
	})
	if err != nil {
		return 0, &LoadError{Table: "samples", Err: err}
	}
	return len(samples), nil
}

// CommitAnnotations writes one batch of annotation records in a single
// transaction and accumulates the dataset's annotation counter. Sample
// references use the same split namespacing as CommitSamples; referential
// consistency is this loader's responsibility, not the engine's.
func (l *BulkLoader) CommitAnnotations(datasetID, split string, records []cocostream.AnnotationRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	rows := make([]database.Annotation, 0, len(records))
	for _, rec := range records {
		rows = append(rows, database.Annotation{
			ID:           NamespaceID(split, rec.ID),
			DatasetID:    datasetID,
			SampleID:     NamespaceID(split, rec.ImageID),
			CategoryName: rec.CategoryName,
			BBoxX:        rec.BBox[0],
			BBoxY:        rec.BBox[1],
			BBoxWidth:    rec.BBox[2],
			BBoxHeight:   rec.BBox[3],
			Area:         rec.Area,
			IsCrowd:      rec.IsCrowd,
			Source:       "import",
		})
	}

	err := l.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&rows).Error; err != nil {
			return err
		}
		return l.accumulate(tx, datasetID, "annotation_count", int64(len(rows)))
	})
	if err != nil {
		return 0, &LoadError{Table: "annotations", Err: err}
	}
	return len(rows), nil
}

// SetThumbnailPath records the generated thumbnail location on a sample.
func (l *BulkLoader) SetThumbnailPath(sampleID, path string) error {
	err := l.db.Model(&database.Sample{}).
		Where("id = ?", sampleID).
		Update("thumbnail_path", path).Error
	if err != nil {
		return &LoadError{Table: "samples", Err: err}
	}
	return nil
}

// DeleteDataset removes a dataset and everything owned by it: annotations,
// samples, categories and the samples' thumbnail files.
func (l *BulkLoader) DeleteDataset(datasetID string) error {
	var thumbnails []string
	if err := l.db.Model(&database.Sample{}).
		Where("dataset_id = ? AND thumbnail_path IS NOT NULL", datasetID).
		Pluck("thumbnail_path", &thumbnails).Error; err != nil {
		return &LoadError{Table: "samples", Err: err}
	}

	err := l.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("dataset_id = ?", datasetID).Delete(&database.Annotation{}).Error; err != nil {
			return err
		}
		if err := tx.Where("dataset_id = ?", datasetID).Delete(&database.Sample{}).Error; err != nil {
			return err
		}
		if err := tx.Where("dataset_id = ?", datasetID).Delete(&database.Category{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", datasetID).Delete(&database.Dataset{}).Error
	})
	if err != nil {
		return &LoadError{Table: "datasets", Err: err}
	}

	for _, path := range thumbnails {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Warn("failed to remove thumbnail file",
				logger.String("path", path), logger.Err("error", err))
		}
	}
	return nil
}

// accumulate adds delta to one dataset counter without overwriting
// concurrent accumulation from earlier batches.
func (l *BulkLoader) accumulate(tx *gorm.DB, datasetID, column string, delta int64) error {
	return tx.Model(&database.Dataset{}).
		Where("id = ?", datasetID).
		UpdateColumn(column, gorm.Expr(column+" + ?", delta)).Error
}
