// Package scriptwatch watches the scripts directory and flags enabled jobs
// whose script file disappears, so the problem surfaces before the next
// trigger fires instead of as a failed run.
package scriptwatch

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/openetl/jobd/errors"
	"github.com/openetl/jobd/job"
)

// Watcher monitors one scripts directory.
type Watcher struct {
	dir    string
	jobs   *job.Store
	fsw    *fsnotify.Watcher
	logger *zap.SugaredLogger
	done   chan struct{}
}

// New creates a watcher for dir. Call Start to begin watching.
func New(dir string, jobs *job.Store, logger *zap.SugaredLogger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create fsnotify watcher")
	}
	return &Watcher{
		dir:    dir,
		jobs:   jobs,
		fsw:    fsw,
		logger: logger.Named("scriptwatch"),
		done:   make(chan struct{}),
	}, nil
}

// Start registers the directory and launches the event loop.
func (w *Watcher) Start() error {
	if err := w.fsw.Add(w.dir); err != nil {
		return errors.Wrapf(err, "watch %s", w.dir)
	}
	go w.loop()
	w.logger.Infow("Watching scripts directory", "dir", w.dir)
	return nil
}

// Stop shuts the watcher down. Safe to call once.
func (w *Watcher) Stop() error {
	close(w.done)
	return w.fsw.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warnw("Watcher error", "error", err)
		}
	}
}

// handle warns about every enabled job whose script was removed or renamed
// away. Creations are logged at debug to confirm deploys landed.
func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
		w.logger.Debugw("Script changed", "path", ev.Name, "op", ev.Op.String())
		return
	}
	if ev.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	enabled, err := w.jobs.ListEnabled()
	if err != nil {
		w.logger.Warnw("Cannot check jobs for removed script", "path", ev.Name, "error", err)
		return
	}
	for _, j := range enabled {
		if w.resolve(j.ScriptPath) != ev.Name {
			continue
		}
		w.logger.Warnw("Script for enabled job removed",
			"job_id", j.ID,
			"name", j.Name,
			"path", ev.Name)
	}
}

func (w *Watcher) resolve(scriptPath string) string {
	if filepath.IsAbs(scriptPath) {
		return scriptPath
	}
	return filepath.Join(w.dir, scriptPath)
}
