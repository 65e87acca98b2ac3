// Package importer orchestrates a dataset import: scan, confirm, then per
// split parse, commit and thumbnail, reporting progress between batches.
package importer

import (
	"context"
	"fmt"
	"iter"
	"sync"

	"github.com/annovault/annovault/internal/cocostream"
	"github.com/annovault/annovault/internal/config"
	"github.com/annovault/annovault/internal/database"
	"github.com/annovault/annovault/internal/events"
	"github.com/annovault/annovault/internal/extensions"
	"github.com/annovault/annovault/internal/loader"
	"github.com/annovault/annovault/internal/logger"
	"github.com/annovault/annovault/internal/scanner"
	"github.com/annovault/annovault/internal/storage"
	"github.com/annovault/annovault/internal/thumbs"
)

// State names the phase an import session is in. Transitions are strictly
// forward; a failed import parks in StateError and a fresh session is
// required to retry.
type State string

const (
	StateIdle      State = "idle"
	StateScanning  State = "scanning"
	StateAwaiting  State = "awaiting_confirmation"
	StateImporting State = "importing"
	StateComplete  State = "complete"
	StateError     State = "error"
)

// Progress stages, in the order they are emitted for each split.
const (
	StageSplitStarted  = "split_started"
	StageCategories    = "categories"
	StageImages        = "images"
	StageAnnotations   = "annotations"
	StageThumbnails    = "thumbnails"
	StageSplitComplete = "split_complete"
	StageComplete      = "complete"
	StageError         = "error"
)

// Progress is one progress report emitted between batches. Total is nil
// when the full extent is unknown, which is the common case for streamed
// documents.
type Progress struct {
	Stage   string `json:"stage"`
	Split   string `json:"split,omitempty"`
	Current int    `json:"current"`
	Total   *int   `json:"total,omitempty"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// SplitRequest selects one detected split for import, with its name
// already normalized or overridden.
type SplitRequest struct {
	Name           string
	AnnotationPath string
	ImageDir       string
}

// ImportRequest is a confirmed import of one dataset.
type ImportRequest struct {
	DatasetName string
	Format      string
	SourcePath  string
	Splits      []SplitRequest
}

// Driver runs import sessions. One driver handles one session at a time;
// all pipeline stages execute on the session's goroutine so that progress
// reports are observed between batches, never mid-batch.
type Driver struct {
	cfg        *config.Config
	scanner    *scanner.FolderScanner
	parser     cocostream.Parser
	loader     *loader.BulkLoader
	thumbs     *thumbs.Cache
	dispatcher *extensions.Dispatcher
	bus        *events.Bus

	mu    sync.RWMutex
	state State
}

// New creates an import driver.
func New(
	cfg *config.Config,
	sc *scanner.FolderScanner,
	parser cocostream.Parser,
	ld *loader.BulkLoader,
	tc *thumbs.Cache,
	dispatcher *extensions.Dispatcher,
	bus *events.Bus,
) *Driver {
	return &Driver{
		cfg:        cfg,
		scanner:    sc,
		parser:     parser,
		loader:     ld,
		thumbs:     tc,
		dispatcher: dispatcher,
		bus:        bus,
		state:      StateIdle,
	}
}

// State returns the current session state.
func (d *Driver) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

func (d *Driver) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

// Scan detects dataset layouts under root and parks the session awaiting
// confirmation. An empty result returns the session to idle.
func (d *Driver) Scan(ctx context.Context, root string) (*scanner.ScanResult, error) {
	d.setState(StateScanning)
	result, err := d.scanner.Scan(ctx, root)
	if err != nil {
		d.setState(StateError)
		return nil, err
	}
	if result.Empty() {
		d.setState(StateIdle)
		return result, nil
	}
	d.setState(StateAwaiting)
	return result, nil
}

// Request builds an import request from a scan result, applying the
// configured default split name to any split detected without one.
func (d *Driver) Request(result *scanner.ScanResult, datasetName string) ImportRequest {
	req := ImportRequest{
		DatasetName: datasetName,
		Format:      result.Format,
		SourcePath:  result.Root,
	}
	if req.DatasetName == "" {
		req.DatasetName = result.DatasetName
	}
	for _, split := range result.Splits {
		name := split.Name
		if name == "" {
			name = d.cfg.Ingest.DefaultSplit
		}
		req.Splits = append(req.Splits, SplitRequest{
			Name:           name,
			AnnotationPath: split.AnnotationPath,
			ImageDir:       split.ImageDir,
		})
	}
	return req
}

// Delete removes a dataset and everything it owns, then announces the
// removal on the bus.
func (d *Driver) Delete(dataset *database.Dataset) error {
	if err := d.loader.DeleteDataset(dataset.ID); err != nil {
		return err
	}
	d.bus.Publish(events.NewEvent(events.EventDatasetDeleted,
		"Dataset deleted", fmt.Sprintf("dataset %q removed with all samples, annotations and thumbnails", dataset.Name)))
	return nil
}

// Run executes a confirmed import and yields progress reports between
// batches. The pipeline runs inside the iterator: abandoning the sequence
// stops the import at the next batch boundary. Run yields a terminal
// report, StageComplete or StageError, before returning.
func (d *Driver) Run(ctx context.Context, req ImportRequest) iter.Seq[Progress] {
	return func(yield func(Progress) bool) {
		d.setState(StateImporting)
		d.bus.Publish(events.NewEvent(events.EventIngestStarted,
			"Import started", fmt.Sprintf("importing dataset %q", req.DatasetName)))

		ds, err := d.loader.EnsureDataset(req.DatasetName, req.Format, req.SourcePath)
		if err != nil {
			d.finishError(yield, "", err)
			return
		}

		hctx := extensions.HookContext{
			DatasetID: ds.ID,
			Metadata:  map[string]interface{}{"dataset_name": req.DatasetName, "format": req.Format},
		}
		d.dispatcher.TriggerIngestStart(hctx)

		var stats extensions.IngestStats
		if warner, ok := d.parser.(interface{ SetWarnFunc(cocostream.WarnFunc) }); ok {
			warner.SetWarnFunc(func(msg string) {
				stats.RecordsSkipped++
				logger.Warn(msg)
			})
		}

		for _, split := range req.Splits {
			if !d.runSplit(ctx, yield, ds, hctx, split, &stats) {
				return
			}
			d.bus.Publish(events.NewEvent(events.EventSplitCompleted,
				"Split imported", fmt.Sprintf("split %q of dataset %q committed", split.Name, req.DatasetName)))
		}

		stats.ThumbnailsFailed = d.thumbs.FailureCount()
		d.dispatcher.TriggerIngestComplete(hctx, stats)
		d.setState(StateComplete)
		d.bus.Publish(events.NewEvent(events.EventIngestCompleted,
			"Import completed",
			fmt.Sprintf("dataset %q: %d samples, %d annotations, %d categories",
				req.DatasetName, stats.Samples, stats.Annotations, stats.Categories)))
		yield(Progress{
			Stage:   StageComplete,
			Current: int(stats.Samples),
			Message: fmt.Sprintf("imported %d samples, %d annotations", stats.Samples, stats.Annotations),
		})
	}
}

// runSplit imports one split. It returns false when the import must stop,
// either because the consumer abandoned the sequence or a stage failed.
func (d *Driver) runSplit(
	ctx context.Context,
	yield func(Progress) bool,
	ds *database.Dataset,
	hctx extensions.HookContext,
	split SplitRequest,
	stats *extensions.IngestStats,
) bool {
	if !yield(Progress{Stage: StageSplitStarted, Split: split.Name,
		Message: fmt.Sprintf("importing split %q", split.Name)}) {
		return false
	}

	categories, err := d.parser.ParseCategories(ctx, split.AnnotationPath)
	if err != nil {
		return d.finishError(yield, split.Name, err)
	}
	added, err := d.loader.CommitCategories(ds.ID, categories)
	if err != nil {
		return d.finishError(yield, split.Name, err)
	}
	stats.Categories += int64(added)
	if !yield(Progress{Stage: StageCategories, Split: split.Name, Current: added,
		Message: fmt.Sprintf("%d new categories", added)}) {
		return false
	}

	// Samples eligible for eager thumbnail generation, capped per split.
	var eager []database.Sample

	splitSamples := 0
	for batch, err := range d.parser.StreamImages(ctx, split.AnnotationPath) {
		if err != nil {
			return d.finishError(yield, split.Name, err)
		}
		samples := d.loader.BuildSamples(ds.ID, split.Name, batch)
		for i := range samples {
			samples[i].FileName = storage.JoinPath(split.ImageDir, samples[i].FileName)
			if out := d.dispatcher.TriggerSampleIngested(hctx, &samples[i]); out != nil {
				samples[i] = *out
			}
		}
		n, err := d.loader.CommitSamples(ds.ID, samples)
		if err != nil {
			return d.finishError(yield, split.Name, err)
		}
		splitSamples += n
		stats.Samples += int64(n)
		for _, s := range samples {
			if len(eager) < d.cfg.Thumbnails.EagerCount {
				eager = append(eager, s)
			}
		}
		if !yield(Progress{Stage: StageImages, Split: split.Name, Current: splitSamples,
			Message: fmt.Sprintf("%d samples committed", splitSamples)}) {
			return false
		}
	}

	splitAnnotations := 0
	for batch, err := range d.parser.StreamAnnotations(ctx, split.AnnotationPath, categories) {
		if err != nil {
			return d.finishError(yield, split.Name, err)
		}
		n, err := d.loader.CommitAnnotations(ds.ID, split.Name, batch)
		if err != nil {
			return d.finishError(yield, split.Name, err)
		}
		splitAnnotations += n
		stats.Annotations += int64(n)
		if !yield(Progress{Stage: StageAnnotations, Split: split.Name, Current: splitAnnotations,
			Message: fmt.Sprintf("%d annotations committed", splitAnnotations)}) {
			return false
		}
	}

	generated := 0
	for _, sample := range eager {
		path, err := d.thumbs.GetOrGenerate(ctx, sample.ID, sample.FileName, d.cfg.Thumbnails.Size)
		if err != nil {
			// Thumbnail failures never abort an import.
			d.bus.Publish(events.NewEvent(events.EventThumbnailFailed,
				"Thumbnail failed", err.Error()))
			continue
		}
		if err := d.loader.SetThumbnailPath(sample.ID, path); err != nil {
			return d.finishError(yield, split.Name, err)
		}
		generated++
		stats.ThumbnailsCreated++
	}
	total := len(eager)
	if !yield(Progress{Stage: StageThumbnails, Split: split.Name, Current: generated, Total: &total,
		Message: fmt.Sprintf("%d of %d eager thumbnails generated", generated, total)}) {
		return false
	}

	return yield(Progress{Stage: StageSplitComplete, Split: split.Name, Current: splitSamples,
		Message: fmt.Sprintf("split %q complete: %d samples, %d annotations",
			split.Name, splitSamples, splitAnnotations)})
}

// finishError parks the session in the error state, publishes the failure
// and yields the terminal error report. It always returns false.
func (d *Driver) finishError(yield func(Progress) bool, split string, err error) bool {
	d.setState(StateError)
	logger.Error("import failed", logger.String("split", split), logger.Err("error", err))
	d.bus.Publish(events.NewEvent(events.EventIngestFailed, "Import failed", err.Error()))
	yield(Progress{Stage: StageError, Split: split, Message: err.Error(), Err: err})
	return false
}
