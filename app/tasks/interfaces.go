package tasks

import (
	"context"

	"github.com/lysyi3m/vuln-comb/app/feed"
	"github.com/lysyi3m/vuln-comb/app/service"
)

// TaskSchedulerInterface defines the interface for task scheduling operations.
// Used by the main application to run source syncs and scheduled sweeps in the background.
// Example usage:
//
//	scheduler := NewScheduler(sourceCache, sourceRepo, svc, workerCount, sweepSchedule)
//	if err := scheduler.Start(); err != nil { ... }
//	defer scheduler.Stop()
//	scheduler.SyncSource(change)
type TaskSchedulerInterface interface {
	Start() error
	Stop()
	EnqueueTask(task TaskInterface) error
	SyncSource(change feed.SourceChange) error
}

// Sweeper runs a full pass over enabled sources.
type Sweeper interface {
	RunAllSources(ctx context.Context) service.Result
}
