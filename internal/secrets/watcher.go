package secrets

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	. "github.com/roelfdiedericks/kaitiaki/internal/logging"
)

// debounceDelay coalesces the burst of events editors emit on save.
const debounceDelay = 250 * time.Millisecond

// Watcher reloads a DotEnv source when its file changes and then invokes
// onChange. Used to rotate credentials without a restart.
type Watcher struct {
	source   *DotEnv
	watcher  *fsnotify.Watcher
	onChange func()
	mu       sync.Mutex
	stopCh   chan struct{}
	running  bool
}

// NewWatcher creates a watcher for the source's file.
func NewWatcher(source *DotEnv, onChange func()) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		source:   source,
		watcher:  w,
		onChange: onChange,
		stopCh:   make(chan struct{}),
	}, nil
}

// Start begins watching. The directory is watched rather than the file so
// that atomic replace-by-rename saves are seen.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	dir := filepath.Dir(w.source.Path())
	if err := w.watcher.Add(dir); err != nil {
		return err
	}

	L_info("secrets: watching env file", "file", filepath.Base(w.source.Path()), "dir", dir)
	go w.loop(ctx)
	return nil
}

// Stop stops watching.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	close(w.stopCh)
	w.watcher.Close()
	w.running = false
	L_debug("secrets: watcher stopped")
}

func (w *Watcher) loop(ctx context.Context) {
	target := filepath.Base(w.source.Path())
	var timer *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			// a removed file reloads as empty, revoking its credentials
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) &&
				!event.Op.Has(fsnotify.Rename) && !event.Op.Has(fsnotify.Remove) {
				continue
			}
			L_trace("secrets: env file event", "op", event.Op.String())
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceDelay, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case <-fire:
			if err := w.source.Reload(); err != nil {
				L_warn("secrets: reload failed", "error", err)
				continue
			}
			L_info("secrets: env file reloaded", "file", target)
			if w.onChange != nil {
				w.onChange()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			L_warn("secrets: watcher error", "error", err)
		}
	}
}
