package config

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch hot-reloads the config file and invokes onReload with each valid new
// configuration. Only detection thresholds are meant to change at runtime;
// structural settings require a restart. Returns a stop function.
//
// The parent directory is watched rather than the file itself: editors and
// config-map mounts replace the file, which would silently detach a direct
// watch.
func Watch(path string, logger *zap.Logger, onReload func(*Config)) (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("config watcher add %s: %w", dir, err)
	}

	target := filepath.Clean(path)
	done := make(chan struct{})
	go func() {
		defer w.Close()
		for {
			select {
			case <-done:
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					logger.Warn("config reload failed, keeping previous", zap.Error(err))
					continue
				}
				if err := cfg.Validate(); err != nil {
					logger.Warn("reloaded config invalid, keeping previous", zap.Error(err))
					continue
				}
				logger.Info("config reloaded",
					zap.Float64("threat_threshold", cfg.Detection.ThreatThreshold),
					zap.Float64("anomaly_threshold", cfg.Detection.AnomalyThreshold))
				onReload(cfg)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warn("config watcher error", zap.Error(err))
			}
		}
	}()

	return func() { close(done) }, nil
}
