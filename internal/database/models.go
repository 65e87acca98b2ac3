package database

import (
	"time"
)

// Dataset represents one imported dataset. A dataset keeps a single
// identity across all of its splits: the first committed split creates the
// row and every later split accumulates into the counters.
type Dataset struct {
	ID              string    `gorm:"primaryKey" json:"id"`
	Name            string    `gorm:"uniqueIndex;not null" json:"name"`
	Format          string    `gorm:"not null" json:"format"`
	SourcePath      string    `json:"source_path"`
	ImageCount      int64     `json:"image_count"`
	AnnotationCount int64     `json:"annotation_count"`
	CategoryCount   int64     `json:"category_count"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Sample represents one image of a dataset. IDs are namespaced per split
// ("<split>:<raw id>") so two splits reusing the same numeric id never
// collide.
type Sample struct {
	ID            string    `gorm:"primaryKey" json:"id"`
	DatasetID     string    `gorm:"index;not null" json:"dataset_id"`
	FileName      string    `gorm:"not null" json:"file_name"`
	Width         int       `json:"width"`
	Height        int       `json:"height"`
	Split         string    `gorm:"index" json:"split"`
	ThumbnailPath *string   `json:"thumbnail_path,omitempty"`
	Tags          []string  `gorm:"serializer:json" json:"tags,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Annotation represents one labeled region of a sample. Category ids from
// the source document are resolved to names during parsing; only the name
// is persisted.
type Annotation struct {
	ID           string   `gorm:"primaryKey" json:"id"`
	DatasetID    string   `gorm:"index;not null" json:"dataset_id"`
	SampleID     string   `gorm:"index;not null" json:"sample_id"`
	CategoryName string   `gorm:"index" json:"category_name"`
	BBoxX        float64  `json:"bbox_x"`
	BBoxY        float64  `json:"bbox_y"`
	BBoxWidth    float64  `json:"bbox_width"`
	BBoxHeight   float64  `json:"bbox_height"`
	Area         float64  `json:"area"`
	IsCrowd      bool     `json:"is_crowd"`
	Source       string   `json:"source"`
	Confidence   *float64 `json:"confidence,omitempty"`
}

// Category represents one label class of a dataset. Names are unique per
// dataset; a second split reusing a name must not create a second row.
type Category struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	DatasetID  string `gorm:"uniqueIndex:idx_categories_dataset_name;not null" json:"dataset_id"`
	CategoryID int64  `json:"category_id"`
	Name       string `gorm:"uniqueIndex:idx_categories_dataset_name;not null" json:"name"`
}

// TableName returns the table name for GORM.
func (Dataset) TableName() string {
	return "datasets"
}

func (Sample) TableName() string {
	return "samples"
}

func (Annotation) TableName() string {
	return "annotations"
}

func (Category) TableName() string {
	return "categories"
}
