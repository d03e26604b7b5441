package estimate

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

const defaultReloadDebounce = 300 * time.Millisecond

// Watcher reloads reference tables from an override file whenever the file
// changes. A file that fails to parse leaves the current tables in place.
type Watcher struct {
	Path     string
	Store    *TableStore
	Debounce time.Duration
	// OnReload is called after each successful swap.
	OnReload func(*Tables)
}

// Reload loads the override file into the store.
func (w *Watcher) Reload(ctx context.Context) error {
	t, err := LoadTables(w.Path)
	if err != nil {
		return errors.Wrapf(err, "load %s", w.Path)
	}
	w.Store.Swap(t)
	if w.OnReload != nil {
		w.OnReload(t)
	}
	zctx.From(ctx).Info("Reference tables reloaded",
		zap.String("path", w.Path),
		zap.Int("nutrition", len(t.Nutrition)),
		zap.Int("extended", len(t.Extended)),
	)
	return nil
}

// Run loads the file once and then watches it until ctx is done. The parent
// directory is watched so editors that replace the file by rename are seen.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.Reload(ctx); err != nil {
		return err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create watcher")
	}
	defer func() { _ = fsw.Close() }()

	target := filepath.Clean(w.Path)
	if err := fsw.Add(filepath.Dir(target)); err != nil {
		return errors.Wrap(err, "watch directory")
	}

	debounce := w.Debounce
	if debounce <= 0 {
		debounce = defaultReloadDebounce
	}
	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	lg := zctx.From(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				timer.Reset(debounce)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			lg.Warn("Reference tables watcher error", zap.Error(err))
		case <-timer.C:
			if err := w.Reload(ctx); err != nil {
				lg.Error("Reference tables reload failed, keeping previous", zap.Error(err))
			}
		}
	}
}
