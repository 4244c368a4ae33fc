package database

import (
	"context"
	"errors"
	"time"
)

var ErrJobRunNotRunning = errors.New("job run is not running")

type SourceRepository interface {
	Upsert(ctx context.Context, source Source) (int64, error)
	Get(ctx context.Context, id int64) (*Source, error)
	GetByTag(ctx context.Context, tag string) (*Source, error)
	List(ctx context.Context) ([]Source, error)
	ListEnabled(ctx context.Context) ([]Source, error)
	SetEnabled(ctx context.Context, id int64, enabled bool) (bool, error)
	TouchLastRun(ctx context.Context, id int64, at time.Time) error
}

type ItemRepository interface {
	SaveItems(ctx context.Context, items []NewItem, mode SaveMode) (SaveStats, error)
	Get(ctx context.Context, id int64) (*Item, error)
	GetByLink(ctx context.Context, link string) (*Item, error)
	SetPocLinkIfEmpty(ctx context.Context, id int64, link string) (bool, error)
	Count(ctx context.Context) (int, error)
}

type PocRepository interface {
	ListByCVE(ctx context.Context, cve string) ([]PocRecord, error)
	InsertIgnore(ctx context.Context, record PocRecord) (bool, error)
}

type JobRunRepository interface {
	Create(ctx context.Context, run JobRun) (int64, error)
	Finish(ctx context.Context, id int64, status string, endedAt time.Time, counters JobRunCounters, details string) error
	Get(ctx context.Context, id int64) (*JobRun, error)
	ListRecent(ctx context.Context, limit int) ([]JobRun, error)
	MergeDetails(ctx context.Context, id int64, extra map[string]any) error
}

var (
	_ SourceRepository = (*SQLSourceRepository)(nil)
	_ ItemRepository   = (*SQLItemRepository)(nil)
	_ PocRepository    = (*SQLPocRepository)(nil)
	_ JobRunRepository = (*SQLJobRunRepository)(nil)
)
