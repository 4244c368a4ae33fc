package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const sweepTimeout = time.Hour

// SweepTask runs all enabled sources once. Sweeps are not retried; the next
// scheduled sweep picks up whatever this one missed.
type SweepTask struct {
	Task
	sweeper Sweeper
}

func NewSweepTask(sweeper Sweeper) *SweepTask {
	task := NewTask(TaskTypeSweep, "all")
	task.MaxRetries = 0
	task.Timeout = sweepTimeout

	return &SweepTask{
		Task:    task,
		sweeper: sweeper,
	}
}

func (t *SweepTask) Execute(ctx context.Context) error {
	result := t.sweeper.RunAllSources(ctx)
	if !result.Success {
		return fmt.Errorf("sweep failed: %s", result.Message)
	}

	slog.Info("Task completed",
		"type", "Sweep",
		"job_run_id", result.JobRunID,
		"message", result.Message,
		"duration", t.GetDuration())

	return nil
}
