package storage

import (
	"context"
	"io"
	"os"
	"strings"
)

// Local serves plain filesystem paths and file:// URIs.
type Local struct{}

func localPath(path string) string {
	return strings.TrimPrefix(path, "file://")
}

// Exists reports whether the file or directory exists.
func (l *Local) Exists(ctx context.Context, path string) (bool, error) {
	_, err := os.Stat(localPath(path))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// ReadBytes returns the full file content.
func (l *Local) ReadBytes(ctx context.Context, path string) ([]byte, error) {
	return os.ReadFile(localPath(path))
}

// Open returns a streaming reader over the file.
func (l *Local) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	return os.Open(localPath(path))
}

// ListDir returns the immediate children of the directory.
func (l *Local) ListDir(ctx context.Context, path string) ([]Entry, error) {
	dirEntries, err := os.ReadDir(localPath(path))
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		entry := Entry{Name: de.Name(), IsDir: de.IsDir()}
		if info, err := de.Info(); err == nil {
			entry.Size = info.Size()
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
