package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/lysyi3m/vuln-comb/app/database"
	"github.com/lysyi3m/vuln-comb/app/ingest"
	"github.com/lysyi3m/vuln-comb/app/jobs"
)

type sweepTotals struct {
	processed  int
	aiRequests int
	aiSkipped  int
	succeeded  int
	counts     database.JobRunCounters
	failed     []string
}

func (t *sweepTotals) stats(sources int) map[string]any {
	return map[string]any{
		"sources":     sources,
		"processed":   t.processed,
		"inserted":    t.counts.Inserted,
		"skipped":     t.counts.Skipped,
		"errors":      t.counts.Errors,
		"ai_requests": t.aiRequests,
		"ai_skipped":  t.aiSkipped,
	}
}

// RunAllSources sweeps every enabled source, one at a time.
func (s *Service) RunAllSources(ctx context.Context) Result {
	run, err := s.tracker.Start(ctx, jobs.KindRSSAll, "")
	if err != nil {
		return failure("failed to start job run: %v", err)
	}

	sources, err := s.sources.ListEnabled(ctx)
	if err != nil {
		return s.fail(ctx, run, fmt.Sprintf("failed to list sources: %v", err))
	}
	if len(sources) == 0 {
		return s.fail(ctx, run, "no enabled sources")
	}

	var totals sweepTotals
	for _, source := range sources {
		s.runSource(ctx, source, &totals)
	}

	return s.finishSweep(ctx, run, len(sources), &totals)
}

func (s *Service) RunSingleSource(ctx context.Context, sourceID int64) Result {
	source, err := s.sources.Get(ctx, sourceID)
	if err != nil {
		return failure("failed to load source: %v", err)
	}
	if source == nil {
		return failure("source %d not found", sourceID)
	}

	run, err := s.tracker.Start(ctx, jobs.KindRSSSingle, source.Name)
	if err != nil {
		return failure("failed to start job run: %v", err)
	}

	var totals sweepTotals
	s.runSource(ctx, *source, &totals)

	return s.finishSweep(ctx, run, 1, &totals)
}

func (s *Service) runSource(ctx context.Context, source database.Source, totals *sweepTotals) {
	src := ingest.Source{Tag: source.Tag, Name: source.Name, URL: source.URL, Timeout: s.sourceTimeout(source.Tag)}

	result, err := s.pipeline.ProcessFeed(ctx, src, s.enricher)
	totals.processed += result.Processed
	totals.aiRequests += result.AIRequests
	totals.aiSkipped += result.AISkipped
	totals.counts.Errors += result.Errors

	if err != nil {
		slog.Error("Source processing failed", "source", source.Tag, "error", err)
		totals.counts.Errors++
		totals.failed = append(totals.failed, source.Tag)
		return
	}

	stats, err := s.items.SaveItems(ctx, result.Items, database.SaveSkipExisting)
	totals.counts.Inserted += stats.Inserted
	totals.counts.Skipped += stats.Skipped
	totals.counts.Errors += stats.Errors
	if err != nil {
		slog.Error("Failed to save items", "source", source.Tag, "error", err)
		totals.failed = append(totals.failed, source.Tag)
		return
	}

	totals.succeeded++
	if err := s.sources.TouchLastRun(ctx, source.ID, time.Now()); err != nil {
		slog.Warn("Failed to update source last run", "source", source.Tag, "error", err)
	}
}

func (s *Service) finishSweep(ctx context.Context, run *jobs.Run, sourceCount int, totals *sweepTotals) Result {
	status := jobs.Decide(totals.counts.Errors, totals.succeeded)

	details := map[string]any{
		"sources":     sourceCount,
		"processed":   totals.processed,
		"ai_requests": totals.aiRequests,
		"ai_skipped":  totals.aiSkipped,
	}
	if len(totals.failed) > 0 {
		details["failed_sources"] = totals.failed
	}

	s.finish(ctx, run, jobs.Outcome{Status: status, Counts: totals.counts, Details: details})

	message := fmt.Sprintf("processed %d entries from %d source(s): %d new, %d skipped, %d errors",
		totals.processed, sourceCount, totals.counts.Inserted, totals.counts.Skipped, totals.counts.Errors)

	if totals.counts.Inserted > 0 {
		s.notify(ctx, run.ID, fmt.Sprintf("RSS sweep %s: %s", status, message))
	}

	return Result{
		Success:  status != jobs.StatusFailed,
		Message:  message,
		JobRunID: run.ID,
		Stats:    totals.stats(sourceCount),
	}
}

func (s *Service) sourceTimeout(tag string) time.Duration {
	if s.settings == nil {
		return defaultSourceTimeout
	}
	cfg, err := s.settings.GetSource(tag)
	if err != nil || cfg == nil || cfg.Settings.Timeout <= 0 {
		return defaultSourceTimeout
	}
	return time.Duration(cfg.Settings.Timeout) * time.Second
}

// ReenrichItem replaces an item's analysis. The updated row is counted
// separately from inserts.
func (s *Service) ReenrichItem(ctx context.Context, itemID int64) Result {
	item, err := s.items.Get(ctx, itemID)
	if err != nil {
		return failure("failed to load item: %v", err)
	}
	if item == nil {
		return failure("item %d not found", itemID)
	}
	if s.enricher == nil {
		return failure("enrichment is not configured")
	}

	run, err := s.tracker.Start(ctx, jobs.KindAIRerun, strconv.FormatInt(itemID, 10))
	if err != nil {
		return failure("failed to start job run: %v", err)
	}

	var counters ingest.Result
	analysis := ingest.Enrich(ctx, s.enricher, item.Content, item.Title, s.sourceName(ctx, item.SourceTag), &counters)
	if analysis.IsAbsent() {
		reason := "enrichment failed"
		if counters.AISkipped > 0 {
			reason = "enrichment rate limit exceeded"
		}
		return s.fail(ctx, run, reason)
	}

	payload, err := analysis.Payload()
	if err != nil {
		return s.fail(ctx, run, err.Error())
	}

	stats, err := s.items.SaveItems(ctx, []database.NewItem{{
		Link:      item.Link,
		AIContent: payload,
		Keywords:  analysis.KeywordList(),
	}}, database.SaveOverwriteEnrichment)
	if err != nil {
		return s.fail(ctx, run, fmt.Sprintf("failed to save analysis: %v", err))
	}

	s.finish(ctx, run, jobs.Outcome{
		Status:  jobs.Decide(stats.Errors, stats.Updated),
		Counts:  database.JobRunCounters{Updated: stats.Updated, Errors: stats.Errors},
		Details: map[string]any{"analysis": analysis.Kind.String()},
	})

	return Result{
		Success:  stats.Updated == 1,
		Message:  "analysis updated",
		JobRunID: run.ID,
		Stats: map[string]any{
			"updated":  stats.Updated,
			"analysis": analysis.Kind.String(),
			"summary":  analysis.Summary,
			"keywords": analysis.Keywords,
		},
	}
}

// sourceName returns the display name of the source with tag, or the tag itself
// when the source cannot be loaded.
func (s *Service) sourceName(ctx context.Context, tag string) string {
	source, err := s.sources.GetByTag(ctx, tag)
	if err != nil {
		slog.Warn("Failed to load source", "source", tag, "error", err)
		return tag
	}
	if source == nil || source.Name == "" {
		return tag
	}
	return source.Name
}
