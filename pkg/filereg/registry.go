package filereg

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/appmgt/pkg/observability"
)

// Application is one file-defined application.
type Application struct {
	Name        string `yaml:"applicationName"`
	Description string `yaml:"description"`
	Path        string `yaml:"-"`
}

// Registry holds the applications found in a directory.
type Registry struct {
	dir     string
	log     logrus.FieldLogger
	metrics *observability.Metrics

	mu      sync.RWMutex
	apps    map[string]Application
	lastErr error
}

// New creates a registry over dir. Call Load before use.
func New(dir string, log logrus.FieldLogger, metrics *observability.Metrics) *Registry {
	if log == nil {
		log = observability.DiscardLogger()
	}
	return &Registry{
		dir:     dir,
		log:     log.WithField("component", "filereg"),
		metrics: metrics,
		apps:    make(map[string]Application),
	}
}

// ContainsName implements appmgt.FileRegistry. Names compare
// case-insensitively.
func (r *Registry) ContainsName(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.apps[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// Applications returns the loaded applications sorted by name.
func (r *Registry) Applications() []Application {
	r.mu.RLock()
	defer r.mu.RUnlock()
	apps := make([]Application, 0, len(r.apps))
	for _, a := range r.apps {
		apps = append(apps, a)
	}
	sort.Slice(apps, func(i, j int) bool { return apps[i].Name < apps[j].Name })
	return apps
}

// Load rereads the directory. Files that fail to parse are reported in the
// returned error; the others still replace the previous contents. A missing
// directory is an empty registry.
func (r *Registry) Load() error {
	apps := make(map[string]Application)
	var result error

	entries, err := os.ReadDir(r.dir)
	if err != nil && !os.IsNotExist(err) {
		result = multierror.Append(result, fmt.Errorf("failed to read %s: %w", r.dir, err))
	}
	for _, e := range entries {
		if e.IsDir() || !isYAML(e.Name()) {
			continue
		}
		path := filepath.Join(r.dir, e.Name())
		app, err := readApplication(path)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		key := strings.ToLower(app.Name)
		if prev, ok := apps[key]; ok {
			result = multierror.Append(result, fmt.Errorf("application %q is defined in %s and %s", app.Name, prev.Path, path))
			continue
		}
		apps[key] = app
	}

	r.mu.Lock()
	r.apps = apps
	r.lastErr = result
	r.mu.Unlock()

	r.metrics.RecordFileRegistryReload(result == nil, len(apps))
	log := r.log.WithFields(logrus.Fields{"dir": r.dir, "applications": len(apps)})
	if result != nil {
		log.WithError(result).Warn("file registry loaded with errors")
	} else {
		log.Debug("file registry loaded")
	}
	return result
}

func readApplication(path string) (Application, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Application{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var app Application
	if err := yaml.Unmarshal(data, &app); err != nil {
		return Application{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	app.Name = strings.TrimSpace(app.Name)
	if app.Name == "" {
		return Application{}, fmt.Errorf("%s: applicationName is required", path)
	}
	app.Path = path
	return app, nil
}

func isYAML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// Healthy implements observability.Probe with the result of the last load.
func (r *Registry) Healthy(context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastErr
}

// Watch reloads the registry whenever a YAML file in the directory changes,
// until ctx is done.
func (r *Registry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to create %s: %w", r.dir, err)
	}
	if err := watcher.Add(r.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", r.dir, err)
	}

	go func() {
		defer observability.RecoverPanic(r.log, "file registry watcher")
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !isYAML(event.Name) {
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				r.log.WithField("file", event.Name).Debug("application file changed")
				_ = r.Load()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.log.WithError(err).Warn("file registry watcher error")
			}
		}
	}()
	return nil
}
