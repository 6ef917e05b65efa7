package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/cuemby/rover/pkg/log"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reloads a config file when it changes on disk and hands every
// valid revision to a callback. Invalid revisions are logged and skipped.
type Watcher struct {
	path     string
	debounce time.Duration
	onChange func(*Config)
	logger   zerolog.Logger

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
	once    sync.Once
}

// NewWatcher creates a watcher for path. The parent directory is watched so
// editors that replace the file by rename are still observed.
func NewWatcher(path string, onChange func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", path, err)
	}

	return &Watcher{
		path:     filepath.Clean(path),
		debounce: 100 * time.Millisecond,
		onChange: onChange,
		logger:   log.WithComponent("config"),
		watcher:  fw,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins watching in the background
func (w *Watcher) Start() {
	go w.run()
}

// Stop ends watching and waits for the loop to exit
func (w *Watcher) Stop() {
	w.once.Do(func() {
		close(w.stopCh)
		_ = w.watcher.Close()
	})
	<-w.doneCh
}

func (w *Watcher) run() {
	defer close(w.doneCh)

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("Config watcher error")

		case <-fire:
			fire = nil
			w.reload()

		case <-w.stopCh:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error().Err(err).Msg("Ignoring invalid config revision")
		return
	}
	w.logger.Info().Str("path", w.path).Msg("Config reloaded")
	w.onChange(cfg)
}
