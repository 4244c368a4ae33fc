package poc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/lysyi3m/vuln-comb/app/database"
)

var (
	cvePattern = regexp.MustCompile(`^CVE-\d{4}-\d{4,7}$`)

	ErrInvalidCVE = errors.New("invalid CVE identifier")
)

type LinkSearcher interface {
	Search(ctx context.Context, cve string) Search
}

type Resolution struct {
	CVE      string   `json:"cve"`
	Links    []string `json:"links"`
	Cached   bool     `json:"cached"`
	Fallback bool     `json:"fallback"`
}

// Resolver answers CVE lookups from the PoC cache and searches the engine on a miss.
type Resolver struct {
	repo     database.PocRepository
	searcher LinkSearcher
	source   string
	now      func() time.Time
}

func NewResolver(repo database.PocRepository, searcher LinkSearcher) *Resolver {
	return &Resolver{
		repo:     repo,
		searcher: searcher,
		source:   "sploitus",
		now:      time.Now,
	}
}

// NormalizeCVE upper-cases and trims id, reporting whether it is a well-formed CVE identifier.
func NormalizeCVE(id string) (string, bool) {
	id = strings.ToUpper(strings.TrimSpace(id))
	return id, cvePattern.MatchString(id)
}

// Resolve returns the links known for cve. Malformed identifiers are
// rejected before any lookup. Only links found on the engine are cached;
// a fallback query URL is returned but never stored.
func (r *Resolver) Resolve(ctx context.Context, cve string) (Resolution, error) {
	id, ok := NormalizeCVE(cve)
	if !ok {
		return Resolution{CVE: cve}, fmt.Errorf("%w: %q", ErrInvalidCVE, cve)
	}

	records, err := r.repo.ListByCVE(ctx, id)
	if err != nil {
		return Resolution{CVE: id}, fmt.Errorf("failed to read PoC cache: %w", err)
	}
	if len(records) > 0 {
		links := make([]string, 0, len(records))
		for _, rec := range records {
			links = append(links, rec.Link)
		}
		slog.Debug("PoC cache hit", "cve", id, "count", len(links))
		return Resolution{CVE: id, Links: links, Cached: true}, nil
	}

	search := r.searcher.Search(ctx, id)
	res := Resolution{CVE: id, Links: search.Links, Fallback: search.Fallback}
	if search.Fallback {
		return res, nil
	}

	foundAt := r.now()
	for _, link := range search.Links {
		if _, err := r.repo.InsertIgnore(ctx, database.PocRecord{CVE: id, Link: link, Source: r.source, FoundAt: foundAt}); err != nil {
			slog.Warn("Failed to cache PoC link", "cve", id, "link", link, "error", err)
		}
	}

	return res, nil
}

type BatchEntry struct {
	Resolution
	Err error `json:"-"`
}

// ResolveBatch resolves each distinct CVE in order. Engine requests are spaced
// by the searcher, so cache hits cost no delay.
func (r *Resolver) ResolveBatch(ctx context.Context, cves []string) []BatchEntry {
	seen := make(map[string]struct{}, len(cves))
	entries := make([]BatchEntry, 0, len(cves))

	for _, cve := range cves {
		if id, ok := NormalizeCVE(cve); ok {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
		}

		if ctx.Err() != nil {
			entries = append(entries, BatchEntry{Resolution: Resolution{CVE: cve}, Err: ctx.Err()})
			continue
		}

		res, err := r.Resolve(ctx, cve)
		entries = append(entries, BatchEntry{Resolution: res, Err: err})
	}

	return entries
}
