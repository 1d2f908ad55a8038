package policy

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher hot-reloads the external rules file when it changes on disk. A
// reload that fails to compile keeps the previous snapshot active, so a
// half-written rules file never takes down the kernel.
type Watcher struct {
	kernel  *Kernel
	watcher *fsnotify.Watcher
	stop    chan struct{}
	done    chan struct{}
}

// NewWatcher starts watching the kernel's rules file. The watch is on the
// containing directory so editor rename-replace saves are seen.
func NewWatcher(kernel *Kernel) (*Watcher, error) {
	if kernel.opts.RulesPath == "" {
		return nil, fmt.Errorf("kernel has no external rules path to watch")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating rules watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(kernel.opts.RulesPath)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watching %s: %w", kernel.opts.RulesPath, err)
	}

	w := &Watcher{
		kernel:  kernel,
		watcher: fsw,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer close(w.done)

	target := filepath.Clean(w.kernel.opts.RulesPath)
	var pending <-chan time.Time

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Editors fire bursts of events per save; settle first.
			pending = time.After(200 * time.Millisecond)

		case <-pending:
			pending = nil
			if err := w.kernel.Reload(); err != nil {
				w.kernel.log.Error("rules reload failed, keeping previous snapshot: %v", err)
				w.kernel.audit.Error("POLICY_RELOAD_FAILED", map[string]any{"error": err.Error()})
			} else {
				w.kernel.audit.Event("POLICY_RELOADED", map[string]any{"path": target})
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.kernel.log.Error("rules watcher: %v", err)

		case <-w.stop:
			return
		}
	}
}

// Close stops the watch loop.
func (w *Watcher) Close() error {
	close(w.stop)
	err := w.watcher.Close()
	<-w.done
	return err
}
