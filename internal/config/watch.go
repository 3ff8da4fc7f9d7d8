package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"sanmetrics/internal/logger"

	"github.com/fsnotify/fsnotify"
)

// ChangeListener receives every successfully reloaded config.
type ChangeListener func(*Config)

// Watcher reloads the config whenever the root file or one of its includes
// changes. A reload that fails to parse or validate is logged and skipped.
type Watcher struct {
	path     string
	debounce time.Duration
	fsw      *fsnotify.Watcher
	listen   ChangeListener

	files map[string]bool
	done  chan struct{}
	once  sync.Once
}

// Watch starts watching path. Directories are watched rather than files so
// that editors replacing a file by rename are still seen.
func Watch(path string, fn ChangeListener) (*Watcher, error) {
	files, err := Files(path)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	w := &Watcher{
		path:     path,
		debounce: 100 * time.Millisecond,
		fsw:      fsw,
		listen:   fn,
		files:    make(map[string]bool, len(files)),
		done:     make(chan struct{}),
	}
	dirs := make(map[string]bool)
	for _, f := range files {
		w.files[filepath.Clean(f)] = true
		dirs[filepath.Dir(f)] = true
	}
	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("config watcher: watch %s: %w", dir, err)
		}
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	var timer *time.Timer
	fire := make(chan struct{}, 1)
	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		case evt, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.files[filepath.Clean(evt.Name)] {
				continue
			}
			if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) && !evt.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case <-fire:
			w.reload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logger.Warnf("config watcher error: %v", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		logger.Errorf("config reload failed (%s): %v", w.path, err)
		return
	}
	logger.Infof("config reloaded from %s", w.path)
	if w.listen != nil {
		w.listen(cfg)
	}
}

func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.fsw.Close()
	})
	return err
}
