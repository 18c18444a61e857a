package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const debounceDelay = 100 * time.Millisecond

// Watcher monitors the .env file in the data dir and applies the settings
// that can change without a restart. Today that is only the log level.
type Watcher struct {
	envPath    string
	onLogLevel func(level string) error

	mu       sync.Mutex
	logLevel string
}

// NewWatcher creates a watcher for envPath. onLogLevel is called whenever
// HOSTSTAT_LOG_LEVEL in the file changes.
func NewWatcher(envPath string, currentLevel string, onLogLevel func(level string) error) *Watcher {
	return &Watcher{
		envPath:    envPath,
		onLogLevel: onLogLevel,
		logLevel:   currentLevel,
	}
}

// Run watches until ctx is cancelled. The directory is watched rather than
// the file so editors that replace the file are still observed.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	dir := filepath.Dir(w.envPath)
	if err := fsw.Add(dir); err != nil {
		log.Warn().Err(err).Str("path", dir).Msg("Failed to watch config directory; runtime log level changes disabled")
		<-ctx.Done()
		return nil
	}
	log.Debug().Str("env_path", w.envPath).Msg("Watching .env for changes")

	return w.handleEvents(ctx, fsw.Events, fsw.Errors)
}

func (w *Watcher) handleEvents(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.envPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// let the writer finish
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(debounceDelay):
			}
			w.Reload()

		case err, ok := <-errs:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("Config watcher error")
		}
	}
}

// Reload re-reads the .env file and applies any changed runtime settings.
func (w *Watcher) Reload() {
	envMap, err := godotenv.Read(w.envPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Error().Err(err).Str("path", w.envPath).Msg("Failed to read .env file")
		}
		return
	}

	level := strings.TrimSpace(envMap[EnvPrefix+"LOG_LEVEL"])
	// the process environment outranks the file
	if envLevel, ok := os.LookupEnv(EnvPrefix + "LOG_LEVEL"); ok && strings.TrimSpace(envLevel) != "" {
		return
	}
	if level == "" {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if strings.EqualFold(level, w.logLevel) {
		return
	}
	if w.onLogLevel != nil {
		if err := w.onLogLevel(level); err != nil {
			log.Warn().Err(err).Str("level", level).Msg("Ignoring invalid log level from .env")
			return
		}
	}
	log.Info().Str("from", w.logLevel).Str("to", level).Msg("Applied log level change from .env")
	w.logLevel = level
}

// LogLevel returns the level last applied.
func (w *Watcher) LogLevel() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.logLevel
}
