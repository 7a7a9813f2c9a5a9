package config

import (
	"context"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "ddsched/pkg/logx"
)

// Watcher reloads the config file when it changes on disk.
type Watcher struct {
	path     string
	log      logx.Logger
	debounce time.Duration
	onChange func(Config)

	mu       sync.Mutex
	lastHash uint64
}

// NewWatcher calls onChange with every successfully parsed new version of path.
func NewWatcher(path string, log logx.Logger, onChange func(Config)) *Watcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	w := &Watcher{path: path, log: log.With(logx.String("component", "config")), debounce: 250 * time.Millisecond, onChange: onChange}
	if b, err := os.ReadFile(path); err == nil {
		w.lastHash = hashBytes(b)
	}
	return w
}

// Watch blocks until ctx ends. The directory is watched rather than the file
// so editors that replace the file on save are followed.
func (w *Watcher) Watch(ctx context.Context) error {
	dir := filepath.Dir(w.path)
	file := filepath.Base(w.path)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()
	if err := fw.Add(dir); err != nil {
		return err
	}
	w.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", file))

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	schedule := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(w.debounce, w.reload)
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if strings.EqualFold(filepath.Base(ev.Name), file) && ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				schedule()
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("config watch error", logx.Err(err))
		}
	}
}

func (w *Watcher) reload() {
	b, err := os.ReadFile(w.path)
	if err != nil {
		w.log.Warn("config read failed", logx.String("path", w.path), logx.Err(err))
		return
	}
	h := hashBytes(b)
	w.mu.Lock()
	unchanged := h == w.lastHash
	w.mu.Unlock()
	if unchanged {
		return
	}

	cfg, err := Parse(b)
	if err != nil {
		w.log.Warn("config rejected", logx.String("path", w.path), logx.Err(err))
		return
	}
	w.mu.Lock()
	w.lastHash = h
	w.mu.Unlock()
	w.log.Info("config reloaded", logx.String("path", w.path))
	w.onChange(cfg)
}

func hashBytes(b []byte) uint64 {
	h := fnv.New64a()
	h.Write(b)
	return h.Sum64()
}
