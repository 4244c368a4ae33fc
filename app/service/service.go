package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/vuln-comb/app/database"
	"github.com/lysyi3m/vuln-comb/app/feed"
	"github.com/lysyi3m/vuln-comb/app/ingest"
	"github.com/lysyi3m/vuln-comb/app/jobs"
	"github.com/lysyi3m/vuln-comb/app/notify"
	"github.com/lysyi3m/vuln-comb/app/poc"
)

const defaultSourceTimeout = 30 * time.Second

// Result is what every trigger returns, failures included.
type Result struct {
	Success  bool           `json:"success"`
	Message  string         `json:"message"`
	JobRunID int64          `json:"job_run_id,omitempty"`
	Stats    map[string]any `json:"stats,omitempty"`
}

type FeedProcessor interface {
	ProcessFeed(ctx context.Context, src ingest.Source, enricher ingest.Enricher) (ingest.Result, error)
}

type PocResolver interface {
	Resolve(ctx context.Context, cve string) (poc.Resolution, error)
	ResolveBatch(ctx context.Context, cves []string) []poc.BatchEntry
}

type SourceSettings interface {
	GetSource(tag string) (*feed.SourceConfig, error)
}

type Deps struct {
	Sources  database.SourceRepository
	Items    database.ItemRepository
	Pipeline FeedProcessor
	Enricher ingest.Enricher // nil when no model is configured
	Tracker  *jobs.Tracker
	Resolver PocResolver
	Notifier notify.Notifier
	Settings SourceSettings // optional per-source fetch settings
}

// Service is the trigger surface shared by the API and the scheduler.
type Service struct {
	sources  database.SourceRepository
	items    database.ItemRepository
	pipeline FeedProcessor
	enricher ingest.Enricher
	tracker  *jobs.Tracker
	resolver PocResolver
	notifier notify.Notifier
	settings SourceSettings
}

func New(deps Deps) *Service {
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}

	return &Service{
		sources:  deps.Sources,
		items:    deps.Items,
		pipeline: deps.Pipeline,
		enricher: deps.Enricher,
		tracker:  deps.Tracker,
		resolver: deps.Resolver,
		notifier: notifier,
		settings: deps.Settings,
	}
}

func failure(format string, args ...any) Result {
	return Result{Success: false, Message: fmt.Sprintf(format, args...)}
}

// finish records the outcome, logging rather than surfacing store errors so
// callers always get a result.
func (s *Service) finish(ctx context.Context, run *jobs.Run, outcome jobs.Outcome) {
	if err := run.Finish(ctx, outcome); err != nil {
		slog.Error("Failed to finish job run", "id", run.ID, "kind", string(run.Kind), "error", err)
	}
}

func (s *Service) fail(ctx context.Context, run *jobs.Run, reason string) Result {
	if err := run.Fail(ctx, reason); err != nil {
		slog.Error("Failed to finish job run", "id", run.ID, "kind", string(run.Kind), "error", err)
	}
	return Result{Success: false, Message: reason, JobRunID: run.ID}
}

func (s *Service) notify(ctx context.Context, runID int64, message string) {
	if _, nop := s.notifier.(notify.Nop); nop {
		return
	}

	extra := map[string]any{"notified_at": time.Now().UTC().Format(time.RFC3339)}
	if err := s.notifier.Notify(ctx, message); err != nil {
		slog.Warn("Failed to send notification", "job_run_id", runID, "error", err)
		extra = map[string]any{"notify_error": err.Error()}
	}

	if err := s.tracker.Annotate(ctx, runID, extra); err != nil {
		slog.Warn("Failed to annotate job run", "id", runID, "error", err)
	}
}

// Annotate appends caller metadata, such as who triggered a run, to its details.
func (s *Service) Annotate(ctx context.Context, jobRunID int64, extra map[string]any) error {
	return s.tracker.Annotate(ctx, jobRunID, extra)
}

func (s *Service) GetJobRun(ctx context.Context, id int64) (*database.JobRun, error) {
	return s.tracker.Get(ctx, id)
}

func (s *Service) ListSources(ctx context.Context) ([]database.Source, error) {
	return s.sources.List(ctx)
}

func (s *Service) SetSourceEnabled(ctx context.Context, id int64, enabled bool) (bool, error) {
	return s.sources.SetEnabled(ctx, id, enabled)
}
