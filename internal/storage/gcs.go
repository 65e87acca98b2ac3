package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	gcstorage "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// GCS serves gs://bucket/object URIs through the Google Cloud Storage
// client. Credentials come from the ambient application default
// credentials.
//
// Each Open call is an independent object read; the parser's three-pass
// design therefore costs three object reads per annotation file on this
// backend.
type GCS struct {
	client *gcstorage.Client
}

// NewGCS creates a GCS backend.
func NewGCS(ctx context.Context) (*GCS, error) {
	client, err := gcstorage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCS{client: client}, nil
}

// splitURI splits gs://bucket/object into bucket and object key.
func splitURI(path string) (bucket, object string, err error) {
	trimmed := strings.TrimPrefix(path, "gs://")
	if trimmed == path {
		return "", "", fmt.Errorf("not a gs:// URI: %s", path)
	}
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 2 || parts[0] == "" {
		return "", "", fmt.Errorf("invalid gs:// URI: %s", path)
	}
	return parts[0], parts[1], nil
}

// Exists reports whether the object exists.
func (g *GCS) Exists(ctx context.Context, path string) (bool, error) {
	bucket, object, err := splitURI(path)
	if err != nil {
		return false, err
	}
	_, err = g.client.Bucket(bucket).Object(object).Attrs(ctx)
	if err == gcstorage.ErrObjectNotExist {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ReadBytes returns the full object content.
func (g *GCS) ReadBytes(ctx context.Context, path string) ([]byte, error) {
	rc, err := g.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// Open returns a streaming reader over the object.
func (g *GCS) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	bucket, object, err := splitURI(path)
	if err != nil {
		return nil, err
	}
	r, err := g.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open gs object %s: %w", path, err)
	}
	return r, nil
}

// ListDir lists the immediate children under the object prefix, using "/"
// as the delimiter so pseudo-directories come back as prefixes.
func (g *GCS) ListDir(ctx context.Context, path string) ([]Entry, error) {
	bucket, prefix, err := splitURI(strings.TrimSuffix(path, "/") + "/.")
	if err != nil {
		return nil, err
	}
	prefix = strings.TrimSuffix(prefix, ".")

	it := g.client.Bucket(bucket).Objects(ctx, &gcstorage.Query{
		Prefix:    prefix,
		Delimiter: "/",
	})

	var entries []Entry
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list gs prefix %s: %w", path, err)
		}
		if attrs.Prefix != "" {
			name := strings.TrimSuffix(strings.TrimPrefix(attrs.Prefix, prefix), "/")
			entries = append(entries, Entry{Name: name, IsDir: true})
			continue
		}
		name := strings.TrimPrefix(attrs.Name, prefix)
		if name == "" {
			continue
		}
		entries = append(entries, Entry{Name: name, Size: attrs.Size})
	}
	return entries, nil
}
