package publisher

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/c360/eventpublisher/errors"
	"github.com/c360/eventpublisher/mapping"
)

// reloadDelay coalesces the burst of events editors produce for one save
const reloadDelay = 100 * time.Millisecond

// WatchTemplates reloads the mapping whenever its registry template below root is
// written or replaced. It blocks until ctx ends. A publisher whose mapping does not
// come from the registry when the watch starts returns immediately.
//
// The watched file follows Reconfigure: switching to another registry path moves the
// watch, and switching to an inline or default mapping pauses it until a registry
// mapping is configured again. A reload that fails to activate leaves the previous
// mapping in place and is logged.
func (p *Publisher) WatchTemplates(ctx context.Context, root string) error {
	cfg := p.MappingConfig()
	if !cfg.IsRegistry() {
		return nil
	}
	if _, err := (mapping.FileResolver{Root: root}).Path(cfg.Registry); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.WrapFatal(err, "Publisher", "WatchTemplates", "create watcher")
	}
	defer watcher.Close()

	w := &templateWatch{publisher: p, watcher: watcher, root: root}
	if err := w.retarget(); err != nil {
		return err
	}

	var (
		timer  *time.Timer
		reload <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-p.changed:
			if err := w.retarget(); err != nil {
				p.logger.Warn("Template watch not moved", "error", err)
			}

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if w.target == "" || filepath.Clean(ev.Name) != w.target ||
				ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDelay)
			} else {
				timer.Reset(reloadDelay)
			}
			reload = timer.C

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.logger.Warn("Template watcher error", "error", err)

		case <-reload:
			reload = nil
			if w.target == "" {
				continue
			}
			if err := p.Reload(ctx); err != nil {
				continue
			}
			p.logger.Info("Mapping template reloaded", "path", w.target)
		}
	}
}

// templateWatch tracks which template file and directory are being watched
type templateWatch struct {
	publisher *Publisher
	watcher   *fsnotify.Watcher
	root      string

	dir    string
	target string
}

// retarget points the watch at the template of the current mapping configuration
func (w *templateWatch) retarget() error {
	cfg := w.publisher.MappingConfig()
	if !cfg.IsRegistry() {
		if w.target != "" {
			w.publisher.logger.Info("Template watch paused", "path", w.target)
		}
		w.target = ""
		return nil
	}

	target, err := mapping.FileResolver{Root: w.root}.Path(cfg.Registry)
	if err != nil {
		w.target = ""
		return err
	}

	dir := filepath.Dir(target)
	if dir != w.dir {
		if err := w.watcher.Add(dir); err != nil {
			w.target = ""
			return errors.WrapInvalid(err, "Publisher", "WatchTemplates", "watch "+dir)
		}
		if w.dir != "" {
			_ = w.watcher.Remove(w.dir)
		}
		w.dir = dir
	}

	if target != w.target {
		w.target = target
		w.publisher.logger.Info("Watching mapping template", "path", target)
	}
	return nil
}
