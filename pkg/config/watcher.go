package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches devpipe.yaml for changes and re-runs Initialize,
// grounded on kadirpekel-hector/pkg/config/provider.FileProvider.Watch:
// an fsnotify watcher on the containing directory (not the file itself,
// since editors commonly replace rather than truncate-and-write), a
// debounce timer to coalesce a burst of writes into one reload, and a
// buffered result channel so a slow consumer never blocks the watch loop.
type Watcher struct {
	configDir string
	ch        chan *Config
}

// NewWatcher starts watching configDir/devpipe.yaml. The returned
// channel receives a freshly loaded and validated Config each time the
// file changes; callers that want hot-reload behavior (rather than just
// an informational log line, as cmd/devpipe's serve command uses this
// for) can swap it into an atomic.Pointer[Config] themselves.
func NewWatcher(ctx context.Context, configDir string) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(configDir); err != nil {
		watcher.Close()
		return nil, err
	}

	w := &Watcher{configDir: configDir, ch: make(chan *Config, 1)}
	go w.run(ctx, watcher)
	return w, nil
}

// Changes returns the channel of reloaded configs.
func (w *Watcher) Changes() <-chan *Config {
	return w.ch
}

func (w *Watcher) run(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()
	defer close(w.ch)

	const debounceDelay = 250 * time.Millisecond
	var timer *time.Timer

	reload := func() {
		cfg, err := Initialize(ctx, w.configDir)
		if err != nil {
			slog.Error("config: reload failed, keeping previous config", "error", err)
			return
		}
		select {
		case w.ch <- cfg:
		default:
			slog.Warn("config: reload channel full, dropping superseded reload")
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != "devpipe.yaml" {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceDelay, reload)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Error("config: watcher error", "error", err)
		}
	}
}
