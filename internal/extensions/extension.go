// Package extensions hosts pluggable ingestion extensions. Extensions are
// discovered from manifest files, implement optional lifecycle hooks with
// default no-ops, and run behind per-extension fault boundaries so a
// failing extension can never abort the pipeline or affect another
// extension.
package extensions

import (
	"github.com/annovault/annovault/internal/database"
)

// APIVersion is the extension API version the host speaks.
const APIVersion = "1.0"

// HookContext carries import-scoped state into every hook invocation.
type HookContext struct {
	DatasetID string
	Metadata  map[string]interface{}
}

// IngestStats summarizes a finished import for OnIngestComplete.
type IngestStats struct {
	Samples           int64
	Annotations       int64
	Categories        int64
	ThumbnailsCreated int64
	ThumbnailsFailed  int64
	RecordsSkipped    int64
}

// Extension is the hook surface an ingestion extension may implement.
// Concrete extensions embed BaseExtension and override only the hooks
// they need, so adding hooks later never breaks existing extensions.
type Extension interface {
	// Name identifies the extension; it must match its manifest.
	Name() string
	// Version reports the extension API version it was built against.
	Version() string

	// OnActivate runs once when the extension is loaded.
	OnActivate() error
	// OnDeactivate runs once when the extension is unloaded.
	OnDeactivate() error

	// OnIngestStart runs before the first batch of an import.
	OnIngestStart(hctx HookContext) error
	// OnSampleIngested may transform a sample before commit. The
	// returned sample is chained as input to the next extension.
	// Returning nil keeps the input sample unchanged.
	OnSampleIngested(hctx HookContext, sample *database.Sample) (*database.Sample, error)
	// OnIngestComplete runs after the final split has committed.
	OnIngestComplete(hctx HookContext, stats IngestStats) error
}

// BaseExtension provides default no-op implementations for all hooks.
type BaseExtension struct {
	name string
}

// NewBaseExtension creates the embeddable default implementation.
func NewBaseExtension(name string) BaseExtension {
	return BaseExtension{name: name}
}

func (b BaseExtension) Name() string {
	return b.name
}

func (b BaseExtension) Version() string {
	return APIVersion
}

func (b BaseExtension) OnActivate() error {
	return nil
}

func (b BaseExtension) OnDeactivate() error {
	return nil
}

func (b BaseExtension) OnIngestStart(hctx HookContext) error {
	return nil
}

func (b BaseExtension) OnSampleIngested(hctx HookContext, sample *database.Sample) (*database.Sample, error) {
	return sample, nil
}

func (b BaseExtension) OnIngestComplete(hctx HookContext, stats IngestStats) error {
	return nil
}
