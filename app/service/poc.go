package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/lysyi3m/vuln-comb/app/database"
	"github.com/lysyi3m/vuln-comb/app/jobs"
	"github.com/lysyi3m/vuln-comb/app/poc"
)

// SearchPoc resolves PoC links for an item's CVEs, or for cveIDs when given,
// and backfills the item's PoC link if it has none.
func (s *Service) SearchPoc(ctx context.Context, itemID int64, cveIDs []string) Result {
	item, err := s.items.Get(ctx, itemID)
	if err != nil {
		return failure("failed to load item: %v", err)
	}
	if item == nil {
		return failure("item %d not found", itemID)
	}

	if len(cveIDs) == 0 {
		cveIDs = item.CVEList()
	}
	if len(cveIDs) == 0 {
		return failure("item %d has no associated CVEs", itemID)
	}

	run, err := s.tracker.Start(ctx, jobs.KindPocSearch, strconv.FormatInt(itemID, 10))
	if err != nil {
		return failure("failed to start job run: %v", err)
	}

	entries := s.resolver.ResolveBatch(ctx, cveIDs)

	var found []poc.Resolution
	var notFound, errs []string
	for _, entry := range entries {
		if entry.Err != nil || len(entry.Links) == 0 {
			notFound = append(notFound, entry.CVE)
			if entry.Err != nil {
				errs = append(errs, entry.Err.Error())
			}
			continue
		}
		found = append(found, entry.Resolution)
	}

	backfilled := false
	if link := firstDiscovered(found); link != "" {
		backfilled, err = s.items.SetPocLinkIfEmpty(ctx, item.ID, link)
		if err != nil {
			slog.Warn("Failed to set item PoC link", "item_id", item.ID, "error", err)
		}
	}

	status := jobs.Decide(len(notFound), len(found))
	details := map[string]any{
		"searched_cves":    cveIDs,
		"found":            len(found),
		"not_found":        notFound,
		"poc_link_updated": backfilled,
	}
	if len(errs) > 0 {
		details["errors"] = errs
	}

	s.finish(ctx, run, jobs.Outcome{
		Status:  status,
		Counts:  database.JobRunCounters{Inserted: len(found), Errors: len(notFound)},
		Details: details,
	})

	message := fmt.Sprintf("found PoC links for %d of %d CVE(s)", len(found), len(entries))
	if len(found) > 0 {
		s.notify(ctx, run.ID, fmt.Sprintf("PoC search for %q: %s", item.Title, summarize(found)))
	}

	return Result{
		Success:  status != jobs.StatusFailed,
		Message:  message,
		JobRunID: run.ID,
		Stats: map[string]any{
			"results":          found,
			"not_found":        notFound,
			"poc_link_updated": backfilled,
		},
	}
}

// SearchCVE resolves a single CVE outside of any item.
func (s *Service) SearchCVE(ctx context.Context, cve string) Result {
	id, ok := poc.NormalizeCVE(cve)
	if !ok {
		return failure("invalid CVE identifier: %q", cve)
	}

	run, err := s.tracker.Start(ctx, jobs.KindPocSearch, id)
	if err != nil {
		return failure("failed to start job run: %v", err)
	}

	res, err := s.resolver.Resolve(ctx, id)
	if err != nil {
		return s.fail(ctx, run, err.Error())
	}

	// Only a fresh search stores a new row
	counts := database.JobRunCounters{Inserted: 1}
	if res.Cached || res.Fallback {
		counts = database.JobRunCounters{Skipped: 1}
	}

	s.finish(ctx, run, jobs.Outcome{
		Status:  jobs.StatusSuccess,
		Counts:  counts,
		Details: map[string]any{"cached": res.Cached, "fallback": res.Fallback, "links": len(res.Links)},
	})

	return Result{
		Success:  true,
		Message:  fmt.Sprintf("%d link(s) for %s", len(res.Links), id),
		JobRunID: run.ID,
		Stats:    map[string]any{"result": res},
	}
}

// firstDiscovered is the first link found on the engine; fallback query URLs never count.
func firstDiscovered(found []poc.Resolution) string {
	for _, res := range found {
		if !res.Fallback && len(res.Links) > 0 {
			return res.Links[0]
		}
	}
	return ""
}

func summarize(found []poc.Resolution) string {
	var b strings.Builder
	for _, res := range found {
		fmt.Fprintf(&b, "\n%s", res.CVE)
		if res.Fallback {
			b.WriteString(" (search only)")
		}
		for _, link := range res.Links {
			fmt.Fprintf(&b, "\n  %s", link)
		}
	}
	return b.String()
}
