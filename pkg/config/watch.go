package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Watcher reloads configuration when the config file changes on disk.
type Watcher struct {
	fs   *fsnotify.Watcher
	done chan struct{}
}

// Watch starts watching the config file at path and invokes onChange with
// the freshly loaded configuration after every change. The parent directory
// is watched rather than the file itself so that editors which replace the
// file on save (rename + create) keep being tracked. Reload failures are
// logged and skipped; the previous configuration stays active.
//
// Parameters:
//   - path (string): the config file path
//   - onChange (func(*Config)): callback invoked with each reloaded config
//
// Returns:
//   - *Watcher: the running watcher
//   - error: nil on success, setup error on failure
func Watch(path string, onChange func(*Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		fsw.Close()
		return nil, fmt.Errorf("resolving config path: %w", err)
	}

	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watching config dir: %w", err)
	}

	w := &Watcher{fs: fsw, done: make(chan struct{})}
	go w.loop(abs, onChange)

	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fs.Close()
}

// loop handles filesystem events until Close is called.
func (w *Watcher) loop(path string, onChange func(*Config)) {
	var lastReload time.Time

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			// Editors fire several events per save.
			if time.Since(lastReload) < 100*time.Millisecond {
				continue
			}
			lastReload = time.Now()

			if err := viper.ReadInConfig(); err != nil {
				log.Warn().Err(err).Str("path", path).Msg("config reload: read failed")
				continue
			}
			cfg, err := Load()
			if err != nil {
				log.Warn().Err(err).Str("path", path).Msg("config reload: invalid config, keeping current")
				continue
			}

			log.Info().Str("path", path).Msg("config reloaded")
			onChange(cfg)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("config watcher error")
		}
	}
}
