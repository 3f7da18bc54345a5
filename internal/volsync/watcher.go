package volsync

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// MaskWatcher triggers a sync callback when mask files in the working
// directory change. Events are debounced: editors write large mask
// files in bursts, and one pass per burst is enough.
type MaskWatcher struct {
	watcher  *fsnotify.Watcher
	dir      string
	debounce time.Duration
	logger   zerolog.Logger
}

func NewMaskWatcher(dir string, debounce time.Duration, logger *zerolog.Logger) (*MaskWatcher, error) {
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	log := zerolog.Nop()
	if logger != nil {
		log = *logger
	}
	return &MaskWatcher{
		watcher:  watcher,
		dir:      dir,
		debounce: debounce,
		logger:   log,
	}, nil
}

func (w *MaskWatcher) Close() error {
	return w.watcher.Close()
}

// Run blocks until ctx is cancelled, invoking onChange once per burst
// of mask changes. Callback errors are logged, not fatal: the next
// burst retries.
func (w *MaskWatcher) Run(ctx context.Context, onChange func(context.Context) error) error {
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !isMaskEvent(event) {
				continue
			}
			w.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("mask change")
			if pending && !timer.Stop() {
				<-timer.C
			}
			timer.Reset(w.debounce)
			pending = true
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("watch error")
		case <-timer.C:
			pending = false
			if err := onChange(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				w.logger.Error().Err(err).Msg("sync after mask change failed")
			}
		}
	}
}

func isMaskEvent(event fsnotify.Event) bool {
	if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) &&
		!event.Op.Has(fsnotify.Rename) && !event.Op.Has(fsnotify.Remove) {
		return false
	}
	return strings.EqualFold(filepath.Ext(event.Name), ".nrrd")
}
