package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// ParseLevel converts a log.level value to a zap level
func ParseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "", "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("log.level %q: want debug, info, warn or error", s)
	}
}

// WatchLogLevel re-reads log.level from the config file whenever it
// changes and applies it to level. Nothing else is reloaded: credentials
// and the listen address are fixed for the life of the process. It blocks
// until ctx is done.
func WatchLogLevel(ctx context.Context, path string, level zap.AtomicLevel, logger *zap.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer watcher.Close()

	// Editors replace files by rename, so watch the directory.
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	logger.Info("Watching config for log level changes", zap.String("path", abs))

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs || !event.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			reloadLogLevel(abs, level, logger)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Config watcher error", zap.Error(err))
		}
	}
}

func reloadLogLevel(path string, level zap.AtomicLevel, logger *zap.Logger) {
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("Failed to read config", zap.String("path", path), zap.Error(err))
		return
	}
	var partial struct {
		Log LogConfig `yaml:"log"`
	}
	if err := yaml.Unmarshal(data, &partial); err != nil {
		logger.Warn("Failed to parse config", zap.String("path", path), zap.Error(err))
		return
	}
	lvl, err := ParseLevel(partial.Log.Level)
	if err != nil {
		logger.Warn("Ignoring log level change", zap.Error(err))
		return
	}
	if lvl == level.Level() {
		return
	}
	level.SetLevel(lvl)
	logger.Info("Log level changed", zap.Stringer("level", lvl))
}
