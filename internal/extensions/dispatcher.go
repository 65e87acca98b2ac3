package extensions

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/annovault/annovault/internal/database"
	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"
	"gopkg.in/yaml.v3"
)

// PluginError reports one failed hook invocation. It is logged and
// counted, never propagated into the pipeline.
type PluginError struct {
	Extension string
	Hook      string
	Err       error
}

func (e *PluginError) Error() string {
	return fmt.Sprintf("extension %s hook %s failed: %v", e.Extension, e.Hook, e.Err)
}

func (e *PluginError) Unwrap() error {
	return e.Err
}

// manifest is the on-disk description pairing a plugin directory entry
// with a registered factory.
type manifest struct {
	Name    string `yaml:"name"`
	Enabled bool   `yaml:"enabled"`
}

// Dispatcher discovers extensions and delivers hooks to them with
// per-extension fault isolation.
type Dispatcher struct {
	logger hclog.Logger

	mu       sync.RWMutex
	active   []Extension
	failures map[string]int64
	watcher  *fsnotify.Watcher
}

// NewDispatcher creates an extension dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		logger: hclog.New(&hclog.LoggerOptions{
			Name:  "extension-dispatcher",
			Level: hclog.Info,
		}),
		failures: make(map[string]int64),
	}
}

// Discover loads extensions described by the YAML manifests in dir. Each
// enabled manifest with a registered factory becomes an active extension;
// extensions active before but absent now are deactivated. A missing
// directory yields zero extensions, not an error.
func (d *Dispatcher) Discover(dir string) ([]Extension, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			d.logger.Debug("plugin directory does not exist", "dir", dir)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read plugin directory: %w", err)
	}

	var discovered []Extension
	names := make(map[string]bool)
	for _, entry := range entries {
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			d.logger.Warn("cannot read manifest", "file", entry.Name(), "error", err)
			continue
		}
		var m manifest
		if err := yaml.Unmarshal(data, &m); err != nil {
			d.logger.Warn("cannot parse manifest", "file", entry.Name(), "error", err)
			continue
		}
		if !m.Enabled || m.Name == "" {
			continue
		}

		factory, ok := lookup(m.Name)
		if !ok {
			d.logger.Warn("manifest names unknown extension", "name", m.Name)
			continue
		}

		instance := factory()
		if err := d.safeCall(instance.Name(), "on_activate", instance.OnActivate); err != nil {
			continue
		}
		discovered = append(discovered, instance)
		names[m.Name] = true
		d.logger.Info("activated extension", "name", instance.Name(), "api_version", instance.Version())
	}

	d.mu.Lock()
	previous := d.active
	d.active = discovered
	d.mu.Unlock()

	for _, old := range previous {
		if !names[old.Name()] {
			d.safeCall(old.Name(), "on_deactivate", old.OnDeactivate)
		}
	}

	return discovered, nil
}

// Watch re-runs discovery whenever the plugin directory changes. It
// returns immediately; watching stops when Close is called.
func (d *Dispatcher) Watch(dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create plugin watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch plugin directory: %w", err)
	}

	d.mu.Lock()
	d.watcher = watcher
	d.mu.Unlock()

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
					d.logger.Info("plugin directory changed, re-discovering", "event", event.Op.String())
					if _, err := d.Discover(dir); err != nil {
						d.logger.Error("re-discovery failed", "error", err)
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				d.logger.Error("plugin watcher error", "error", err)
			}
		}
	}()

	return nil
}

// Close stops watching and deactivates all active extensions.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	watcher := d.watcher
	d.watcher = nil
	active := d.active
	d.active = nil
	d.mu.Unlock()

	if watcher != nil {
		watcher.Close()
	}
	for _, ext := range active {
		d.safeCall(ext.Name(), "on_deactivate", ext.OnDeactivate)
	}
}

// Active returns the currently active extensions.
func (d *Dispatcher) Active() []Extension {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Extension{}, d.active...)
}

// FailureCount returns the total number of isolated hook failures.
func (d *Dispatcher) FailureCount() int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var total int64
	for _, n := range d.failures {
		total += n
	}
	return total
}

// TriggerIngestStart delivers on_ingest_start to every extension.
func (d *Dispatcher) TriggerIngestStart(hctx HookContext) {
	for _, ext := range d.Active() {
		ext := ext
		d.safeCall(ext.Name(), "on_ingest_start", func() error {
			return ext.OnIngestStart(hctx)
		})
	}
}

// TriggerSampleIngested chains on_sample_ingested across extensions: each
// extension's returned sample becomes the next one's input. A failing
// extension leaves the sample unchanged for the next.
func (d *Dispatcher) TriggerSampleIngested(hctx HookContext, sample *database.Sample) *database.Sample {
	current := sample
	for _, ext := range d.Active() {
		ext := ext
		d.safeCall(ext.Name(), "on_sample_ingested", func() error {
			result, err := ext.OnSampleIngested(hctx, current)
			if err != nil {
				return err
			}
			if result != nil {
				current = result
			}
			return nil
		})
	}
	return current
}

// TriggerIngestComplete delivers on_ingest_complete to every extension.
func (d *Dispatcher) TriggerIngestComplete(hctx HookContext, stats IngestStats) {
	for _, ext := range d.Active() {
		ext := ext
		d.safeCall(ext.Name(), "on_ingest_complete", func() error {
			return ext.OnIngestComplete(hctx, stats)
		})
	}
}

// safeCall runs one hook inside its own fault boundary: a panic or error
// is logged and counted, and execution continues with the next extension.
func (d *Dispatcher) safeCall(extName, hook string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PluginError{Extension: extName, Hook: hook, Err: fmt.Errorf("panic: %v", r)}
			d.recordFailure(extName, hook, err)
		}
	}()

	if callErr := fn(); callErr != nil {
		err = &PluginError{Extension: extName, Hook: hook, Err: callErr}
		d.recordFailure(extName, hook, err)
	}
	return err
}

func (d *Dispatcher) recordFailure(extName, hook string, err error) {
	d.mu.Lock()
	d.failures[extName]++
	d.mu.Unlock()
	d.logger.Error("extension hook failed", "extension", extName, "hook", hook, "error", err)
}
