package config

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/normanking/cortexlipsync/internal/bus"
	"github.com/normanking/cortexlipsync/internal/lipsync"
	"github.com/normanking/cortexlipsync/internal/metrics"
)

// Reloadable takes the parts of the config that may change while running.
// Rig and speech settings need a restart.
type Reloadable interface {
	SetTable(t *lipsync.Table)
	SetRate(r lipsync.RateConfig)
}

// Watcher reloads the config file and the articulation table file when
// either changes on disk.
type Watcher struct {
	path    string
	target  Reloadable
	events  *bus.EventBus
	logger  zerolog.Logger
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	current *Config
	files   map[string]bool
	dirs    map[string]bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewWatcher starts watching path. cfg is the config already applied.
func NewWatcher(path string, cfg *Config, target Reloadable, events *bus.EventBus, logger zerolog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		path:    path,
		target:  target,
		events:  events,
		logger:  logger.With().Str("component", "config").Logger(),
		watcher: fw,
		current: cfg,
		files:   make(map[string]bool),
		dirs:    make(map[string]bool),
		done:    make(chan struct{}),
	}

	// Directories are watched so editors that replace the file still trigger.
	if err := w.watchLocked(path); err != nil {
		fw.Close()
		return nil, err
	}
	if cfg.LipSync.TableFile != "" {
		if err := w.watchLocked(cfg.LipSync.TableFile); err != nil {
			fw.Close()
			return nil, err
		}
	}

	w.wg.Add(1)
	go w.watchLoop()

	return w, nil
}

func (w *Watcher) watchLocked(file string) error {
	abs, err := filepath.Abs(file)
	if err != nil {
		return err
	}
	w.files[abs] = true

	dir := filepath.Dir(abs)
	if w.dirs[dir] {
		return nil
	}
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.dirs[dir] = true
	return nil
}

func (w *Watcher) watchLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if !w.tracks(event.Name) {
				continue
			}
			if err := w.Reload(); err != nil {
				w.logger.Warn().Err(err).Str("file", event.Name).Msg("Reload failed, keeping previous config")
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("Config watcher error")
		}
	}
}

func (w *Watcher) tracks(name string) bool {
	abs, err := filepath.Abs(name)
	if err != nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.files[abs]
}

// Reload reads the config and table again and applies them. On error the
// previous values stay in effect.
func (w *Watcher) Reload() error {
	cfg, err := Load(w.path)
	if err == nil {
		var table *lipsync.Table
		table, err = cfg.Table()
		if err == nil {
			w.apply(cfg, table)
			metrics.ConfigReloads.WithLabelValues("ok").Inc()
			return nil
		}
	}

	metrics.ConfigReloads.WithLabelValues("error").Inc()
	w.publish(map[string]interface{}{"status": "error", "error": err.Error()})
	return err
}

func (w *Watcher) apply(cfg *Config, table *lipsync.Table) {
	w.mu.Lock()
	w.current = cfg
	if cfg.LipSync.TableFile != "" {
		if err := w.watchLocked(cfg.LipSync.TableFile); err != nil {
			w.logger.Warn().Err(err).Msg("Cannot watch articulation table")
		}
	}
	w.mu.Unlock()

	w.target.SetTable(table)
	w.target.SetRate(cfg.LipSync.RateConfig)

	w.logger.Info().
		Int("labels", len(table.Labels())).
		Float64("rate_factor", cfg.LipSync.SpeakingRateFactor).
		Msg("Config reloaded")
	w.publish(map[string]interface{}{"status": "ok", "labels": len(table.Labels())})
}

func (w *Watcher) publish(data map[string]interface{}) {
	if w.events != nil {
		w.events.Publish(bus.Event{Type: bus.EventTypeConfigReloaded, Data: data})
	}
}

// Current returns the last config applied.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Close stops the watcher
func (w *Watcher) Close() error {
	close(w.done)
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}
