package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lysyi3m/vuln-comb/app/database"
)

type Status string

const (
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
)

type Kind string

const (
	KindRSSAll    Kind = "rss_all"
	KindRSSSingle Kind = "rss_single"
	KindAIRerun   Kind = "ai_rerun"
	KindPocSearch Kind = "poc_search"
)

var ErrInvalidTransition = errors.New("job run already reached a terminal status")

func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusPartial || s == StatusFailed
}

// Decide maps a run's error and success unit counts to its terminal status.
func Decide(failed, succeeded int) Status {
	switch {
	case failed == 0:
		return StatusSuccess
	case succeeded > 0:
		return StatusPartial
	default:
		return StatusFailed
	}
}

type Outcome struct {
	Status  Status
	Counts  database.JobRunCounters
	Details map[string]any
}

type Tracker struct {
	repo database.JobRunRepository
	now  func() time.Time
}

func NewTracker(repo database.JobRunRepository) *Tracker {
	return &Tracker{repo: repo, now: time.Now}
}

// Run is a job run in the running state. Finish or Fail moves it to a terminal status once.
type Run struct {
	ID     int64
	Kind   Kind
	Target string

	tracker *Tracker
	mu      sync.Mutex
	status  Status
}

func (t *Tracker) Start(ctx context.Context, kind Kind, target string) (*Run, error) {
	id, err := t.repo.Create(ctx, database.JobRun{
		Kind:      string(kind),
		Target:    target,
		StartedAt: t.now(),
		Status:    string(StatusRunning),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start %s job run: %w", kind, err)
	}

	slog.Debug("Job run started", "id", id, "kind", string(kind), "target", target)

	return &Run{ID: id, Kind: kind, Target: target, tracker: t, status: StatusRunning}, nil
}

func (r *Run) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *Run) Finish(ctx context.Context, outcome Outcome) error {
	if !outcome.Status.Terminal() {
		return fmt.Errorf("cannot finish job run %d with status %q", r.ID, outcome.Status)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != StatusRunning {
		return fmt.Errorf("job run %d is %s: %w", r.ID, r.status, ErrInvalidTransition)
	}

	details := ""
	if len(outcome.Details) > 0 {
		encoded, err := json.Marshal(outcome.Details)
		if err != nil {
			return fmt.Errorf("failed to encode job run details: %w", err)
		}
		details = string(encoded)
	}

	err := r.tracker.repo.Finish(ctx, r.ID, string(outcome.Status), r.tracker.now(), outcome.Counts, details)
	if errors.Is(err, database.ErrJobRunNotRunning) {
		return fmt.Errorf("job run %d: %w", r.ID, ErrInvalidTransition)
	}
	if err != nil {
		return err
	}

	r.status = outcome.Status

	slog.Info("Job run finished",
		"id", r.ID,
		"kind", string(r.Kind),
		"target", r.Target,
		"status", string(outcome.Status),
		"inserted", outcome.Counts.Inserted,
		"updated", outcome.Counts.Updated,
		"skipped", outcome.Counts.Skipped,
		"errors", outcome.Counts.Errors)

	return nil
}

// Fail finishes the run as failed with a single error and the reason in its details.
func (r *Run) Fail(ctx context.Context, reason string) error {
	return r.Finish(ctx, Outcome{
		Status:  StatusFailed,
		Counts:  database.JobRunCounters{Errors: 1},
		Details: map[string]any{"error": reason},
	})
}

// Annotate appends metadata to a run's details without touching its status.
func (t *Tracker) Annotate(ctx context.Context, id int64, extra map[string]any) error {
	return t.repo.MergeDetails(ctx, id, extra)
}

func (t *Tracker) Get(ctx context.Context, id int64) (*database.JobRun, error) {
	return t.repo.Get(ctx, id)
}
