package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/lysyi3m/vuln-comb/app/database"
	"github.com/lysyi3m/vuln-comb/app/feed"
)

// SyncSourceTask mirrors one source definition file into the sources table.
// A removed file disables the source; rows are never deleted.
type SyncSourceTask struct {
	Task
	Config     *feed.SourceConfig // nil when the definition was removed
	sourceRepo database.SourceRepository

	// Set by the scheduler. Syncs of one tag hold the same lock, and a
	// disable is dropped when the definition has been loaded again.
	lock    *sync.Mutex
	defined func(tag string) bool
}

func NewSyncSourceTask(tag string, config *feed.SourceConfig, sourceRepo database.SourceRepository) *SyncSourceTask {
	return &SyncSourceTask{
		Task:       NewTask(TaskTypeSyncSource, tag),
		Config:     config,
		sourceRepo: sourceRepo,
	}
}

func (t *SyncSourceTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if t.lock != nil {
		t.lock.Lock()
		defer t.lock.Unlock()
	}

	if t.Config == nil {
		return t.disable(ctx)
	}

	id, err := t.sourceRepo.Upsert(ctx, database.Source{
		Tag:      t.Config.Tag,
		URL:      t.Config.URL,
		Name:     t.Config.Name,
		Category: t.Config.Category,
		Enabled:  t.Config.Settings.Enabled,
	})
	if err != nil {
		return fmt.Errorf("failed to sync source definition to database: %w", err)
	}

	slog.Info("Task completed",
		"type", "SyncSource",
		"source", t.Target,
		"id", id,
		"enabled", t.Config.Settings.Enabled,
		"duration", t.GetDuration())

	return nil
}

func (t *SyncSourceTask) disable(ctx context.Context) error {
	if t.defined != nil && t.defined(t.Target) {
		slog.Debug("Source definition reappeared, keeping it enabled", "source", t.Target)
		return nil
	}

	source, err := t.sourceRepo.GetByTag(ctx, t.Target)
	if err != nil {
		return fmt.Errorf("failed to load source: %w", err)
	}
	if source == nil {
		slog.Debug("Removed source was never synced", "source", t.Target)
		return nil
	}

	if _, err := t.sourceRepo.SetEnabled(ctx, source.ID, false); err != nil {
		return fmt.Errorf("failed to disable source: %w", err)
	}

	slog.Info("Task completed",
		"type", "SyncSource",
		"source", t.Target,
		"disabled", true,
		"duration", t.GetDuration())

	return nil
}
