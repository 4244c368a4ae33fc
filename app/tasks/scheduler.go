package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lysyi3m/vuln-comb/app/database"
	"github.com/lysyi3m/vuln-comb/app/feed"
)

var _ TaskSchedulerInterface = (*Scheduler)(nil)

type Scheduler struct {
	sourceRepo    database.SourceRepository
	sourceCache   *feed.SourceCache
	sweeper       Sweeper
	workerCount   int
	sweepSchedule string
	cron          *cron.Cron
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	taskQueue     chan TaskInterface
	syncLocks     sync.Map // tag -> *sync.Mutex
}

func NewScheduler(sourceCache *feed.SourceCache, sourceRepo database.SourceRepository, sweeper Sweeper,
	workerCount int, sweepSchedule string) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	if workerCount < 1 {
		workerCount = 1
	}

	return &Scheduler{
		sourceRepo:    sourceRepo,
		sourceCache:   sourceCache,
		sweeper:       sweeper,
		workerCount:   workerCount,
		sweepSchedule: sweepSchedule,
		cron:          cron.New(),
		ctx:           ctx,
		cancel:        cancel,
		taskQueue:     make(chan TaskInterface, 300),
	}
}

// Start launches the workers, queues a sync of every known source definition
// and, when a schedule is configured, registers the periodic sweep.
func (s *Scheduler) Start() error {
	if s.sweepSchedule != "" {
		_, err := s.cron.AddFunc(s.sweepSchedule, func() {
			if err := s.EnqueueTask(NewSweepTask(s.sweeper)); err != nil {
				slog.Warn("Failed to enqueue SweepTask", "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("invalid sweep schedule %q: %w", s.sweepSchedule, err)
		}
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.enqueueStartupTasks()

	if s.sweepSchedule != "" {
		s.cron.Start()
		slog.Info("Sweep schedule registered", "schedule", s.sweepSchedule)
	}

	return nil
}

func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.cancel()
	s.wg.Wait()
	close(s.taskQueue)
}

func (s *Scheduler) EnqueueTask(task TaskInterface) error {
	select {
	case s.taskQueue <- task:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
		return fmt.Errorf("task queue is full")
	}
}

// SyncSource reloads a changed definition file, or forgets a removed one, and
// queues the matching database sync.
func (s *Scheduler) SyncSource(change feed.SourceChange) error {
	if change.Removed {
		s.sourceCache.Forget(change.Tag)
		return s.EnqueueTask(s.newSyncSourceTask(change.Tag, nil))
	}

	config, err := s.sourceCache.LoadSource(change.Tag)
	if err != nil {
		return fmt.Errorf("failed to reload source %s: %w", change.Tag, err)
	}

	return s.EnqueueTask(s.newSyncSourceTask(change.Tag, config))
}

// newSyncSourceTask serializes syncs per tag so that a Rename followed by a
// Create cannot leave the recreated source disabled.
func (s *Scheduler) newSyncSourceTask(tag string, config *feed.SourceConfig) *SyncSourceTask {
	lock, _ := s.syncLocks.LoadOrStore(tag, &sync.Mutex{})

	task := NewSyncSourceTask(tag, config, s.sourceRepo)
	task.lock = lock.(*sync.Mutex)
	task.defined = func(tag string) bool {
		_, err := s.sourceCache.GetSource(tag)
		return err == nil
	}
	return task
}

func (s *Scheduler) enqueueStartupTasks() {
	sourceConfigs := s.sourceCache.GetSources()
	if len(sourceConfigs) == 0 {
		slog.Debug("No source definitions found")
		return
	}

	tags := make([]string, 0, len(sourceConfigs))
	for tag := range sourceConfigs {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	slog.Debug("Syncing source definitions", "count", len(tags))

	for _, tag := range tags {
		syncTask := s.newSyncSourceTask(tag, sourceConfigs[tag])
		if err := s.EnqueueTask(syncTask); err != nil {
			slog.Warn("Failed to enqueue SyncSourceTask", "source", tag, "error", err)
		}
	}
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case task, ok := <-s.taskQueue:
			if !ok {
				return
			}
			s.executeTask(id, task)

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) executeTask(workerID int, task TaskInterface) {
	task.Start()

	taskCtx, cancel := context.WithTimeout(s.ctx, task.GetTimeout())
	defer cancel()

	err := task.Execute(taskCtx)
	if err == nil {
		return
	}

	slog.Error("Worker task execution failed", "worker_id", workerID, "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", err)

	if !task.CanRetry() {
		slog.Error("Task failed after maximum retries", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "last_error", err)
		return
	}

	task.IncrementRetryCount()
	retryDelay := time.Duration(1<<uint(task.GetRetryCount()-1)) * time.Second
	if retryDelay > 30*time.Second {
		retryDelay = 30 * time.Second
	}

	slog.Warn("Task retry scheduled", "type", string(task.GetType()), "target", task.GetTarget(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "delay", retryDelay.String())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		timer := time.NewTimer(retryDelay)
		defer timer.Stop()

		select {
		case <-s.ctx.Done():
			slog.Debug("Scheduler stopped, skipping task retry", "type", string(task.GetType()), "id", task.GetID())
		case <-timer.C:
			if retryErr := s.EnqueueTask(task); retryErr != nil {
				slog.Error("Failed to re-enqueue task for retry", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", retryErr)
			}
		}
	}()
}
