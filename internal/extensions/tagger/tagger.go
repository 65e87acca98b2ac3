// Package tagger is a built-in extension that attaches a format tag to
// every ingested sample based on its file extension.
package tagger

import (
	"path/filepath"
	"strings"

	"github.com/annovault/annovault/internal/database"
	"github.com/annovault/annovault/internal/extensions"
)

func init() {
	extensions.Register("format-tagger", func() extensions.Extension {
		return &Tagger{BaseExtension: extensions.NewBaseExtension("format-tagger")}
	})
}

// Tagger derives a "format:<ext>" tag from the sample file name.
type Tagger struct {
	extensions.BaseExtension
}

func (t *Tagger) OnSampleIngested(hctx extensions.HookContext, sample *database.Sample) (*database.Sample, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(sample.FileName)), ".")
	if ext == "" {
		return sample, nil
	}
	tag := "format:" + ext
	for _, existing := range sample.Tags {
		if existing == tag {
			return sample, nil
		}
	}
	sample.Tags = append(sample.Tags, tag)
	return sample, nil
}
