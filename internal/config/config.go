package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration. It is constructed
// once at process start and passed by reference into each component's
// constructor; the pipeline itself carries no ambient global state.
type Config struct {
	// Database configuration
	Database DatabaseConfig `yaml:"database" json:"database"`

	// Storage backend configuration
	Storage StorageConfig `yaml:"storage" json:"storage"`

	// Folder scanner configuration
	Scanner ScannerConfig `yaml:"scanner" json:"scanner"`

	// Ingestion pipeline configuration
	Ingest IngestConfig `yaml:"ingest" json:"ingest"`

	// Thumbnail cache configuration
	Thumbnails ThumbnailConfig `yaml:"thumbnails" json:"thumbnails"`

	// Extension host configuration
	Plugins PluginConfig `yaml:"plugins" json:"plugins"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// DatabaseConfig holds storage engine connection options
type DatabaseConfig struct {
	Type         string `yaml:"type" json:"type" env:"ANNOVAULT_DATABASE_TYPE" default:"sqlite"`
	DataDir      string `yaml:"data_dir" json:"data_dir" env:"ANNOVAULT_DATA_DIR" default:"./annovault-data"`
	DatabasePath string `yaml:"database_path" json:"database_path" env:"ANNOVAULT_DATABASE_PATH"`
	Host         string `yaml:"host" json:"host" env:"POSTGRES_HOST" default:"localhost"`
	Port         int    `yaml:"port" json:"port" env:"POSTGRES_PORT" default:"5432"`
	Username     string `yaml:"username" json:"username" env:"POSTGRES_USER" default:"annovault"`
	Password     string `yaml:"password" json:"-" env:"POSTGRES_PASSWORD"`
	Database     string `yaml:"database" json:"database" env:"POSTGRES_DB" default:"annovault"`
	LogQueries   bool   `yaml:"log_queries" json:"log_queries" env:"ANNOVAULT_DB_LOG_QUERIES" default:"false"`
}

// StorageConfig holds options for the byte-level storage backends
type StorageConfig struct {
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout" env:"ANNOVAULT_STORAGE_TIMEOUT" default:"30s"`
}

// ScannerConfig holds dataset layout detection options
type ScannerConfig struct {
	// Annotation files larger than this are not content-peeked during a
	// scan; they are reported with a warning instead.
	MaxPeekFileSize int64 `yaml:"max_peek_file_size" json:"max_peek_file_size" env:"ANNOVAULT_MAX_PEEK_FILE_SIZE" default:"536870912"`
	// Number of top-level JSON keys inspected during a content peek.
	MaxPeekKeys int `yaml:"max_peek_keys" json:"max_peek_keys" env:"ANNOVAULT_MAX_PEEK_KEYS" default:"10"`
	// Bytes read at most during a content peek.
	MaxPeekBytes int64 `yaml:"max_peek_bytes" json:"max_peek_bytes" env:"ANNOVAULT_MAX_PEEK_BYTES" default:"1048576"`
}

// IngestConfig holds streaming parse and bulk commit options
type IngestConfig struct {
	BatchSize    int    `yaml:"batch_size" json:"batch_size" env:"ANNOVAULT_BATCH_SIZE" default:"500"`
	DefaultSplit string `yaml:"default_split" json:"default_split" env:"ANNOVAULT_DEFAULT_SPLIT" default:"train"`
}

// ThumbnailConfig holds thumbnail generation options
type ThumbnailConfig struct {
	CacheDir string `yaml:"cache_dir" json:"cache_dir" env:"ANNOVAULT_THUMBNAIL_DIR"`
	Size     int    `yaml:"size" json:"size" env:"ANNOVAULT_THUMBNAIL_SIZE" default:"256"`
	Quality  int    `yaml:"quality" json:"quality" env:"ANNOVAULT_THUMBNAIL_QUALITY" default:"80"`
	// Number of samples per split thumbnailed eagerly during import; the
	// remainder is generated lazily on first access.
	EagerCount int `yaml:"eager_count" json:"eager_count" env:"ANNOVAULT_THUMBNAIL_EAGER_COUNT" default:"50"`
}

// PluginConfig holds extension discovery options
type PluginConfig struct {
	Dir             string `yaml:"dir" json:"dir" env:"ANNOVAULT_PLUGIN_DIR" default:"./data/plugins"`
	EnableHotReload bool   `yaml:"enable_hot_reload" json:"enable_hot_reload" env:"ANNOVAULT_PLUGIN_HOT_RELOAD" default:"false"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level" env:"ANNOVAULT_LOG_LEVEL" default:"info"`
	Format string `yaml:"format" json:"format" env:"ANNOVAULT_LOG_FORMAT" default:"text"`
}

// Default returns the default application configuration
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Type:     "sqlite",
			DataDir:  "./annovault-data",
			Host:     "localhost",
			Port:     5432,
			Username: "annovault",
			Database: "annovault",
		},
		Storage: StorageConfig{
			RequestTimeout: 30 * time.Second,
		},
		Scanner: ScannerConfig{
			MaxPeekFileSize: 512 * 1024 * 1024,
			MaxPeekKeys:     10,
			MaxPeekBytes:    1024 * 1024,
		},
		Ingest: IngestConfig{
			BatchSize:    500,
			DefaultSplit: "train",
		},
		Thumbnails: ThumbnailConfig{
			Size:       256,
			Quality:    80,
			EagerCount: 50,
		},
		Plugins: PluginConfig{
			Dir: "./data/plugins",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds a configuration from defaults, the optional YAML file at
// configPath, and environment variable overrides, then validates it.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	cfg.applyDerived()
	return cfg, nil
}

// Validate checks the configuration for invalid values
func (c *Config) Validate() error {
	if c.Database.Type != "sqlite" && c.Database.Type != "postgres" {
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}
	if c.Ingest.BatchSize <= 0 {
		return fmt.Errorf("invalid batch size: %d", c.Ingest.BatchSize)
	}
	if c.Thumbnails.Size <= 0 {
		return fmt.Errorf("invalid thumbnail size: %d", c.Thumbnails.Size)
	}
	if c.Thumbnails.Quality < 1 || c.Thumbnails.Quality > 100 {
		return fmt.Errorf("invalid thumbnail quality: %d", c.Thumbnails.Quality)
	}
	if c.Scanner.MaxPeekKeys <= 0 {
		return fmt.Errorf("invalid max peek keys: %d", c.Scanner.MaxPeekKeys)
	}
	return nil
}

// applyDerived fills paths derived from the data directory
func (c *Config) applyDerived() {
	if c.Database.DatabasePath == "" && c.Database.Type == "sqlite" {
		c.Database.DatabasePath = filepath.Join(c.Database.DataDir, "annovault.db")
	}
	if c.Thumbnails.CacheDir == "" {
		c.Thumbnails.CacheDir = filepath.Join(c.Database.DataDir, "thumbnails")
	}
}

func loadStructFromEnv(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.CanSet() {
			continue
		}

		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Duration(0)) {
			if err := loadStructFromEnv(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}

		envValue := os.Getenv(envTag)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set field %s: %w", fieldType.Name, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			duration, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(duration))
		} else {
			intVal, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(intVal)
		}
	case reflect.Bool:
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolVal)
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			values := strings.Split(value, ",")
			for i, v := range values {
				values[i] = strings.TrimSpace(v)
			}
			field.Set(reflect.ValueOf(values))
		}
	default:
		return fmt.Errorf("unsupported field type: %v", field.Kind())
	}

	return nil
}
