package feed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

type SourceChange struct {
	Tag     string
	Removed bool
}

// Watcher reports changes of source definition files in a directory.
type Watcher struct {
	watcher *fsnotify.Watcher
	dir     string
}

func NewWatcher(dir string) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	return &Watcher{watcher: w, dir: dir}, nil
}

// Run delivers changes to onChange until ctx is done. It closes the underlying watcher on return.
func (w *Watcher) Run(ctx context.Context, onChange func(SourceChange)) {
	defer w.watcher.Close()

	slog.Info("Watching source definitions", "dir", w.dir)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			change, ok := toSourceChange(event)
			if !ok {
				continue
			}

			slog.Debug("Source definition changed", "source", change.Tag, "op", event.Op.String())
			onChange(change)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("Source watcher error", "error", err)
		}
	}
}

func toSourceChange(event fsnotify.Event) (SourceChange, bool) {
	tag, ok := TagFromPath(event.Name)
	if !ok {
		return SourceChange{}, false
	}

	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		return SourceChange{Tag: tag, Removed: true}, true
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		return SourceChange{Tag: tag}, true
	default:
		return SourceChange{}, false
	}
}
