package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/singleflight"

	"github.com/msageha/goalrun/internal/logging"
)

// Watcher reloads a grants file whenever it changes and publishes the full
// grant list on Updates. It never touches a Policy itself: the goroutine
// that ticks the runtime applies the updates between ticks.
type Watcher struct {
	path   string
	logger *logging.Logger

	fsw   *fsnotify.Watcher
	group singleflight.Group

	sendMu  sync.Mutex
	updates chan []string

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewWatcher starts watching path. The parent directory is watched so
// atomic rename-into-place writes are seen.
func NewWatcher(path string, logger *logging.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve grants file: %w", err)
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("ensure dir %s: %w", dir, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	w := &Watcher{
		path:    abs,
		logger:  logger.With("policy"),
		fsw:     fsw,
		updates: make(chan []string, 1),
		done:    make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Updates delivers grant lists. Unread lists are merged so nothing granted
// is lost when the consumer falls behind.
func (w *Watcher) Updates() <-chan []string {
	return w.updates
}

// Reload reads the grants file now and publishes the result. Concurrent
// callers share a single read.
func (w *Watcher) Reload() ([]string, error) {
	v, err, _ := w.group.Do(w.path, func() (any, error) {
		return LoadGrantsFile(w.path)
	})
	if err != nil {
		return nil, err
	}
	grants := v.([]string)
	w.publish(grants)
	return grants, nil
}

func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.fsw.Close()
		w.wg.Wait()
	})
	return err
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.logger.Debug("fsnotify event=%s file=%s", event.Op, event.Name)
			grants, err := w.Reload()
			if err != nil {
				w.logger.Warn("reload %s: %v", filepath.Base(w.path), err)
				continue
			}
			w.logger.Info("grants reloaded count=%d", len(grants))
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("fsnotify error=%v", err)
		}
	}
}

func (w *Watcher) publish(grants []string) {
	w.sendMu.Lock()
	defer w.sendMu.Unlock()

	select {
	case w.updates <- grants:
		return
	default:
	}
	// Fold the unread list into the new one; grants are never revoked.
	select {
	case stale := <-w.updates:
		grants = union(stale, grants)
	default:
	}
	w.updates <- grants
}

func union(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string(nil), a...), b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
