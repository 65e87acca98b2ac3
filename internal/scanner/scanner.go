// Package scanner detects dataset layouts on disk. A scan inspects a root
// path and reports candidate splits using directory heuristics and a
// bounded content peek of annotation files; it never performs a full
// parse and has no side effects.
package scanner

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/annovault/annovault/internal/config"
	"github.com/annovault/annovault/internal/logger"
	"github.com/annovault/annovault/internal/storage"
)

// DetectedSplit describes one candidate split of a dataset root.
type DetectedSplit struct {
	Name               string `json:"name"`
	AnnotationPath     string `json:"annotation_path"`
	ImageDir           string `json:"image_dir"`
	ImageCount         int    `json:"image_count"`
	AnnotationFileSize int64  `json:"annotation_file_size_bytes"`
}

// ScanResult is the outcome of scanning a root path. Zero splits is a
// valid result meaning no dataset was found, not an error.
type ScanResult struct {
	Root        string          `json:"root"`
	DatasetName string          `json:"dataset_name"`
	Format      string          `json:"format"`
	Splits      []DetectedSplit `json:"splits"`
	Warnings    []string        `json:"warnings"`
}

// Empty reports whether no dataset was detected under the root.
func (r *ScanResult) Empty() bool {
	return len(r.Splits) == 0
}

// ScanError reports a root path that could not be scanned at all, such as
// an unreadable or missing directory.
type ScanError struct {
	Path string
	Err  error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("cannot scan %s: %v", e.Path, e.Err)
}

func (e *ScanError) Unwrap() error {
	return e.Err
}

// imageExtensions lists the file extensions counted as images. Counting is
// metadata only; no file is decoded during a scan.
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".webp": true,
	".tif":  true,
	".tiff": true,
}

// FolderScanner inspects dataset roots for known layouts.
type FolderScanner struct {
	cfg      *config.ScannerConfig
	resolver *storage.Resolver
}

// New creates a folder scanner.
func New(cfg *config.ScannerConfig, resolver *storage.Resolver) *FolderScanner {
	return &FolderScanner{cfg: cfg, resolver: resolver}
}

// Scan inspects root and reports the detected splits. Layouts are tried
// most specific first: per-split co-located annotations, then a central
// annotations directory, then a flat single-split layout.
func (s *FolderScanner) Scan(ctx context.Context, root string) (*ScanResult, error) {
	entries, err := s.resolver.ListDir(ctx, root)
	if err != nil {
		return nil, &ScanError{Path: root, Err: err}
	}

	result := &ScanResult{
		Root:        root,
		DatasetName: baseName(root),
		Warnings:    []string{},
	}

	splits := s.detectPerSplitLayout(ctx, root, entries, result)
	if len(splits) == 0 {
		splits = s.detectCentralLayout(ctx, root, entries, result)
	}
	if len(splits) == 0 {
		splits = s.detectFlatLayout(ctx, root, entries, result)
	}

	result.Splits = splits
	if len(splits) > 0 {
		result.Format = "coco"
	}

	logger.Debug("scan completed",
		logger.String("root", root),
		logger.Int("splits", len(splits)),
		logger.Int("warnings", len(result.Warnings)))
	return result, nil
}

// detectPerSplitLayout finds immediate subdirectories named after splits,
// each holding exactly one annotation document plus its images.
func (s *FolderScanner) detectPerSplitLayout(ctx context.Context, root string, entries []storage.Entry, result *ScanResult) []DetectedSplit {
	var splits []DetectedSplit

	for _, entry := range entries {
		if !entry.IsDir {
			continue
		}
		canonical, ok := NormalizeSplitName(entry.Name)
		if !ok {
			continue
		}

		splitDir := joinPath(root, entry.Name)
		splitEntries, err := s.resolver.ListDir(ctx, splitDir)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("cannot list split directory %s: %v", splitDir, err))
			continue
		}

		annPath, annSize, ok := s.findAnnotationFile(ctx, splitDir, splitEntries, result)
		if !ok {
			continue
		}

		// Images sit either in an images/ subfolder or alongside the
		// annotation file.
		imageDir := splitDir
		for _, se := range splitEntries {
			if se.IsDir && strings.EqualFold(se.Name, "images") {
				imageDir = joinPath(splitDir, se.Name)
				break
			}
		}

		count, err := s.countImages(ctx, imageDir)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("cannot count images in %s: %v", imageDir, err))
		}

		splits = append(splits, DetectedSplit{
			Name:               canonical,
			AnnotationPath:     annPath,
			ImageDir:           imageDir,
			ImageCount:         count,
			AnnotationFileSize: annSize,
		})
	}

	return splits
}

// detectCentralLayout finds an annotations directory holding one file per
// split next to a central images directory with split subfolders.
func (s *FolderScanner) detectCentralLayout(ctx context.Context, root string, entries []storage.Entry, result *ScanResult) []DetectedSplit {
	var annDir, imagesDir string
	for _, entry := range entries {
		if !entry.IsDir {
			continue
		}
		lower := strings.ToLower(entry.Name)
		if strings.Contains(lower, "annotation") && annDir == "" {
			annDir = joinPath(root, entry.Name)
		}
		if lower == "images" && imagesDir == "" {
			imagesDir = joinPath(root, entry.Name)
		}
	}
	if annDir == "" || imagesDir == "" {
		return nil
	}

	annEntries, err := s.resolver.ListDir(ctx, annDir)
	if err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("cannot list annotations directory %s: %v", annDir, err))
		return nil
	}
	imageEntries, err := s.resolver.ListDir(ctx, imagesDir)
	if err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("cannot list images directory %s: %v", imagesDir, err))
		return nil
	}

	var splits []DetectedSplit
	for _, ae := range annEntries {
		if ae.IsDir || !strings.EqualFold(filepath.Ext(ae.Name), ".json") {
			continue
		}
		canonical, ok := splitNameFromFileName(ae.Name)
		if !ok {
			continue
		}

		annPath := joinPath(annDir, ae.Name)
		if !s.peekAllowed(ae, result) {
			continue
		}
		hasImages, err := s.peekHasImagesKey(ctx, annPath)
		if err != nil || !hasImages {
			continue
		}

		// Match a split-named subfolder of the images directory; fall
		// back to the images root when the export keeps splits flat.
		imageDir := imagesDir
		for _, ie := range imageEntries {
			if !ie.IsDir {
				continue
			}
			if c, ok := NormalizeSplitName(ie.Name); ok && c == canonical {
				imageDir = joinPath(imagesDir, ie.Name)
				break
			}
		}
		if imageDir == imagesDir {
			result.Warnings = append(result.Warnings, fmt.Sprintf("no image subfolder matching split %q; using %s", canonical, imagesDir))
		}

		count, err := s.countImages(ctx, imageDir)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("cannot count images in %s: %v", imageDir, err))
		}

		splits = append(splits, DetectedSplit{
			Name:               canonical,
			AnnotationPath:     annPath,
			ImageDir:           imageDir,
			ImageCount:         count,
			AnnotationFileSize: ae.Size,
		})
	}

	return splits
}

// detectFlatLayout finds a single annotation file and a single images
// directory, treated as one implicit split.
func (s *FolderScanner) detectFlatLayout(ctx context.Context, root string, entries []storage.Entry, result *ScanResult) []DetectedSplit {
	annPath, annSize, ok := s.findAnnotationFile(ctx, root, entries, result)
	if !ok {
		return nil
	}

	imageDir := root
	for _, entry := range entries {
		if entry.IsDir && strings.EqualFold(entry.Name, "images") {
			imageDir = joinPath(root, entry.Name)
			break
		}
	}

	count, err := s.countImages(ctx, imageDir)
	if err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("cannot count images in %s: %v", imageDir, err))
	}

	return []DetectedSplit{{
		Name:               "train",
		AnnotationPath:     annPath,
		ImageDir:           imageDir,
		ImageCount:         count,
		AnnotationFileSize: annSize,
	}}
}

// findAnnotationFile locates exactly one JSON file in the given entries
// whose content peek shows a top-level images key.
func (s *FolderScanner) findAnnotationFile(ctx context.Context, dir string, entries []storage.Entry, result *ScanResult) (string, int64, bool) {
	var found string
	var foundSize int64
	matches := 0

	for _, entry := range entries {
		if entry.IsDir || !strings.EqualFold(filepath.Ext(entry.Name), ".json") {
			continue
		}
		if !s.peekAllowed(entry, result) {
			continue
		}
		p := joinPath(dir, entry.Name)
		hasImages, err := s.peekHasImagesKey(ctx, p)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("cannot peek %s: %v", p, err))
			continue
		}
		if hasImages {
			matches++
			found = p
			foundSize = entry.Size
		}
	}

	if matches != 1 {
		if matches > 1 {
			result.Warnings = append(result.Warnings, fmt.Sprintf("multiple annotation candidates in %s; layout ambiguous", dir))
		}
		return "", 0, false
	}
	return found, foundSize, true
}

// peekAllowed enforces the size threshold for content peeks. Oversized
// files are reported as a warning instead of scanned.
func (s *FolderScanner) peekAllowed(entry storage.Entry, result *ScanResult) bool {
	if s.cfg.MaxPeekFileSize > 0 && entry.Size > s.cfg.MaxPeekFileSize {
		result.Warnings = append(result.Warnings, fmt.Sprintf("%s exceeds peek size threshold (%d bytes); skipped", entry.Name, s.cfg.MaxPeekFileSize))
		return false
	}
	return true
}

// countImages lists a directory non-recursively and counts entries with a
// known image extension.
func (s *FolderScanner) countImages(ctx context.Context, dir string) (int, error) {
	entries, err := s.resolver.ListDir(ctx, dir)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, entry := range entries {
		if entry.IsDir {
			continue
		}
		if imageExtensions[strings.ToLower(filepath.Ext(entry.Name))] {
			count++
		}
	}
	return count, nil
}

func joinPath(base string, elem ...string) string {
	return storage.JoinPath(base, elem...)
}

func baseName(p string) string {
	trimmed := strings.TrimSuffix(p, "/")
	if strings.Contains(trimmed, "://") {
		return path.Base(trimmed)
	}
	return filepath.Base(trimmed)
}
