package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/deckhouse/deckhouse/pkg/log"
	"github.com/fsnotify/fsnotify"
)

const DefaultReloadDebounce = 500 * time.Millisecond

// Watcher reloads the workflow file on change and passes valid definitions to the handler.
// The parent directory is watched: editors and ConfigMap mounts replace files instead of writing them.
type Watcher struct {
	path     string
	debounce time.Duration
	current  string

	onReload func(*Workflow)
	onError  func(error)

	fsWatcher *fsnotify.Watcher
	closeOnce sync.Once

	logger *log.Logger
}

func NewWatcher(path string, checksum string, logger *log.Logger) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	return &Watcher{
		path:      absPath,
		debounce:  DefaultReloadDebounce,
		current:   checksum,
		fsWatcher: fsWatcher,
		onReload:  func(*Workflow) {},
		onError:   func(error) {},
		logger:    logger.With(slog.String("operator.component", "workflowWatcher")),
	}, nil
}

// OnReload sets a handler for a changed and valid workflow.
func (w *Watcher) OnReload(fn func(*Workflow)) *Watcher {
	w.onReload = fn
	return w
}

// OnError sets a handler for invalid edits. Current workflow stays active.
func (w *Watcher) OnError(fn func(error)) *Watcher {
	w.onError = fn
	return w
}

// Start watches until ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.fsWatcher.Add(filepath.Dir(w.path)); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to watch file: %w", err)
	}
	go w.loop(ctx)
	return nil
}

func (w *Watcher) Close() error {
	var closeErr error
	w.closeOnce.Do(func() {
		if err := w.fsWatcher.Close(); err != nil {
			closeErr = fmt.Errorf("failed to close watcher: %w", err)
		}
	})
	return closeErr
}

func (w *Watcher) loop(ctx context.Context) {
	defer func() { _ = w.Close() }()

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug("workflow file event", slog.String("event", event.String()))
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			timerC = timer.C

		case <-timerC:
			timerC = nil
			w.reload()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("workflow watch error", log.Err(err))
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return false
	}
	name := filepath.Base(event.Name)
	// ConfigMap volumes swap the ..data symlink.
	return event.Name == w.path || name == "..data"
}

func (w *Watcher) reload() {
	wf, err := Load(w.path)
	if err != nil {
		w.logger.Error("workflow reload failed, keep current definition", log.Err(err))
		w.onError(err)
		return
	}
	if wf.Checksum == w.current {
		w.logger.Debug("workflow is not changed")
		return
	}
	w.current = wf.Checksum
	w.logger.Info("workflow reloaded", slog.String("name", wf.Name), slog.String("checksum", wf.Checksum))
	w.onReload(wf)
}
