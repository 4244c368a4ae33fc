package api

import (
	"context"

	"github.com/lysyi3m/vuln-comb/app/database"
	"github.com/lysyi3m/vuln-comb/app/feed"
	"github.com/lysyi3m/vuln-comb/app/limiter"
	"github.com/lysyi3m/vuln-comb/app/service"
	"github.com/lysyi3m/vuln-comb/app/tasks"
)

// Triggers is the operation surface the handlers call into.
type Triggers interface {
	RunAllSources(ctx context.Context) service.Result
	RunSingleSource(ctx context.Context, sourceID int64) service.Result
	ReenrichItem(ctx context.Context, itemID int64) service.Result
	SearchPoc(ctx context.Context, itemID int64, cveIDs []string) service.Result
	SearchCVE(ctx context.Context, cve string) service.Result
	Annotate(ctx context.Context, jobRunID int64, extra map[string]any) error
	GetJobRun(ctx context.Context, id int64) (*database.JobRun, error)
	ListSources(ctx context.Context) ([]database.Source, error)
	SetSourceEnabled(ctx context.Context, id int64, enabled bool) (bool, error)
}

var _ Triggers = (*service.Service)(nil)

type Handler struct {
	triggers    Triggers
	limiters    *limiter.Registry
	sourceCache *feed.SourceCache
	scheduler   tasks.TaskSchedulerInterface
}

type rssRequest struct {
	SourceID *int64 `json:"source_id"`
}

type aiRerunRequest struct {
	ItemID int64 `json:"item_id" binding:"required"`
}

type pocRequest struct {
	ItemID int64    `json:"item_id" binding:"required"`
	CVEIDs []string `json:"cve_ids"`
}

type sourcePatchRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}
