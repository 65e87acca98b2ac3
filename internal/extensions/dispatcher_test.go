package extensions

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/annovault/annovault/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingExtension notes every hook call and optionally misbehaves.
type recordingExtension struct {
	BaseExtension
	calls     []string
	panicOn   string
	errorOn   string
	transform func(*database.Sample) *database.Sample
}

func newRecording(name string) *recordingExtension {
	return &recordingExtension{BaseExtension: NewBaseExtension(name)}
}

func (r *recordingExtension) hook(name string) error {
	r.calls = append(r.calls, name)
	if r.panicOn == name {
		panic("deliberate test panic")
	}
	if r.errorOn == name {
		return errors.New("deliberate test error")
	}
	return nil
}

func (r *recordingExtension) OnActivate() error { return r.hook("on_activate") }

func (r *recordingExtension) OnDeactivate() error { return r.hook("on_deactivate") }

func (r *recordingExtension) OnIngestStart(HookContext) error { return r.hook("on_ingest_start") }

func (r *recordingExtension) OnSampleIngested(_ HookContext, sample *database.Sample) (*database.Sample, error) {
	if err := r.hook("on_sample_ingested"); err != nil {
		return nil, err
	}
	if r.transform != nil {
		return r.transform(sample), nil
	}
	return sample, nil
}

func (r *recordingExtension) OnIngestComplete(HookContext, IngestStats) error {
	return r.hook("on_ingest_complete")
}

func writeManifest(t *testing.T, dir, name string, enabled bool) {
	t.Helper()
	content := fmt.Sprintf("name: %s\nenabled: %v\n", name, enabled)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".yaml"), []byte(content), 0644))
}

func activate(t *testing.T, exts ...*recordingExtension) *Dispatcher {
	t.Helper()
	dir := t.TempDir()
	for _, ext := range exts {
		ext := ext
		Register(ext.Name(), func() Extension { return ext })
		writeManifest(t, dir, ext.Name(), true)
	}
	d := NewDispatcher()
	t.Cleanup(d.Close)
	_, err := d.Discover(dir)
	require.NoError(t, err)
	return d
}

func TestDiscoverActivatesEnabledManifests(t *testing.T) {
	dir := t.TempDir()
	enabled := newRecording("disc-enabled")
	disabled := newRecording("disc-disabled")
	Register(enabled.Name(), func() Extension { return enabled })
	Register(disabled.Name(), func() Extension { return disabled })
	writeManifest(t, dir, enabled.Name(), true)
	writeManifest(t, dir, disabled.Name(), false)
	writeManifest(t, dir, "disc-unregistered", true)

	d := NewDispatcher()
	t.Cleanup(d.Close)
	active, err := d.Discover(dir)
	require.NoError(t, err)

	require.Len(t, active, 1)
	assert.Equal(t, "disc-enabled", active[0].Name())
	assert.Equal(t, []string{"on_activate"}, enabled.calls)
	assert.Empty(t, disabled.calls)
}

func TestDiscoverMissingDirectoryIsEmpty(t *testing.T) {
	d := NewDispatcher()
	active, err := d.Discover(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestPanickingExtensionIsIsolated(t *testing.T) {
	bad := newRecording("iso-bad")
	bad.panicOn = "on_sample_ingested"
	good := newRecording("iso-good")
	good.transform = func(s *database.Sample) *database.Sample {
		s.Tags = append(s.Tags, "touched")
		return s
	}
	d := activate(t, bad, good)

	sample := &database.Sample{ID: "train:1", FileName: "a.jpg"}
	out := d.TriggerSampleIngested(HookContext{DatasetID: "ds"}, sample)

	require.NotNil(t, out)
	assert.Contains(t, out.Tags, "touched", "extensions after the panicking one still run")
	assert.Equal(t, int64(1), d.FailureCount())
}

func TestFailingHookLeavesSampleUnchanged(t *testing.T) {
	bad := newRecording("fail-bad")
	bad.errorOn = "on_sample_ingested"
	d := activate(t, bad)

	sample := &database.Sample{ID: "train:1", Tags: []string{"orig"}}
	out := d.TriggerSampleIngested(HookContext{}, sample)

	assert.Equal(t, []string{"orig"}, out.Tags)
	assert.Equal(t, int64(1), d.FailureCount())
}

func TestSampleTransformsChain(t *testing.T) {
	first := newRecording("chain-first")
	first.transform = func(s *database.Sample) *database.Sample {
		s.Tags = append(s.Tags, "first")
		return s
	}
	second := newRecording("chain-second")
	second.transform = func(s *database.Sample) *database.Sample {
		s.Tags = append(s.Tags, "second:"+s.Tags[len(s.Tags)-1])
		return s
	}
	d := activate(t, first, second)

	out := d.TriggerSampleIngested(HookContext{}, &database.Sample{ID: "train:1"})
	assert.Equal(t, []string{"first", "second:first"}, out.Tags,
		"each extension receives the previous extension's output")
}

func TestLifecycleHooksReachAllExtensions(t *testing.T) {
	a := newRecording("life-a")
	b := newRecording("life-b")
	a.errorOn = "on_ingest_start"
	d := activate(t, a, b)

	d.TriggerIngestStart(HookContext{DatasetID: "ds"})
	d.TriggerIngestComplete(HookContext{DatasetID: "ds"}, IngestStats{Samples: 3})

	assert.Contains(t, a.calls, "on_ingest_start")
	assert.Contains(t, b.calls, "on_ingest_start")
	assert.Contains(t, a.calls, "on_ingest_complete")
	assert.Contains(t, b.calls, "on_ingest_complete")
	assert.Equal(t, int64(1), d.FailureCount())
}

func TestCloseDeactivates(t *testing.T) {
	ext := newRecording("close-ext")
	d := activate(t, ext)

	d.Close()
	assert.Contains(t, ext.calls, "on_deactivate")
	assert.Empty(t, d.Active())
}
