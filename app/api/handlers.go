package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/vuln-comb/app/feed"
	"github.com/lysyi3m/vuln-comb/app/limiter"
	"github.com/lysyi3m/vuln-comb/app/service"
	"github.com/lysyi3m/vuln-comb/app/tasks"
)

const userHeader = "X-User-ID"

func NewHandler(triggers Triggers, limiters *limiter.Registry, sourceCache *feed.SourceCache,
	scheduler tasks.TaskSchedulerInterface) *Handler {
	return &Handler{
		triggers:    triggers,
		limiters:    limiters,
		sourceCache: sourceCache,
		scheduler:   scheduler,
	}
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]interface{}{
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
	}

	if sources, err := h.triggers.ListSources(c.Request.Context()); err == nil {
		health["sources"] = len(sources)
	}

	if h.sourceCache != nil {
		health["loaded_definitions"] = h.sourceCache.GetSourceCount()
	}

	c.JSON(http.StatusOK, health)
}

func (h *Handler) APIRunRSS(c *gin.Context) {
	var req rssRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if !h.admit(c, limiter.KindJobTrigger, "") {
		return
	}

	ctx := detached(c)
	var result service.Result
	if req.SourceID != nil {
		result = h.triggers.RunSingleSource(ctx, *req.SourceID)
	} else {
		result = h.triggers.RunAllSources(ctx)
	}

	h.respond(c, ctx, result)
}

func (h *Handler) APIRerunAI(c *gin.Context) {
	var req aiRerunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if !h.admit(c, limiter.KindJobTrigger, "") {
		return
	}

	ctx := detached(c)
	h.respond(c, ctx, h.triggers.ReenrichItem(ctx, req.ItemID))
}

func (h *Handler) APISearchPoc(c *gin.Context) {
	var req pocRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if !h.admit(c, limiter.KindPocTrigger, callerKey(c)) {
		return
	}

	ctx := detached(c)
	h.respond(c, ctx, h.triggers.SearchPoc(ctx, req.ItemID, req.CVEIDs))
}

func (h *Handler) APILookupCVE(c *gin.Context) {
	cve := c.Param("cve")
	if cve == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing CVE parameter"})
		return
	}

	if !h.admit(c, limiter.KindPocTrigger, callerKey(c)) {
		return
	}

	ctx := detached(c)
	h.respond(c, ctx, h.triggers.SearchCVE(ctx, cve))
}

func (h *Handler) APIGetJobRun(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	run, err := h.triggers.GetJobRun(c.Request.Context(), id)
	if err != nil {
		slog.Error("Database error", "operation", "get_job_run", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if run == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job run not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":         run.ID,
		"kind":       run.Kind,
		"target":     run.Target,
		"status":     run.Status,
		"started_at": run.StartedAt,
		"ended_at":   run.EndedAt,
		"inserted":   run.Inserted,
		"updated":    run.Updated,
		"skipped":    run.Skipped,
		"errors":     run.Errors,
		"details":    jsonRaw(run.Details),
	})
}

func (h *Handler) APIListSources(c *gin.Context) {
	sources, err := h.triggers.ListSources(c.Request.Context())
	if err != nil {
		slog.Error("Database error", "operation", "list_sources", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	list := make([]map[string]interface{}, 0, len(sources))
	for _, s := range sources {
		list = append(list, map[string]interface{}{
			"id":          s.ID,
			"tag":         s.Tag,
			"name":        s.Name,
			"url":         s.URL,
			"category":    s.Category,
			"enabled":     s.Enabled,
			"last_run_at": s.LastRunAt,
		})
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"sources": list,
		"total":   len(list),
	})
}

func (h *Handler) APIPatchSource(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	var req sourcePatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	found, err := h.triggers.SetSourceEnabled(c.Request.Context(), id, *req.Enabled)
	if err != nil {
		slog.Error("Database error", "operation", "set_source_enabled", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Source not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "id": id, "enabled": *req.Enabled})
}

// APIReloadSource re-reads a definition file and queues its database sync.
func (h *Handler) APIReloadSource(c *gin.Context) {
	tag := c.Param("tag")
	if tag == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing source tag parameter"})
		return
	}

	if err := h.scheduler.SyncSource(feed.SourceChange{Tag: tag}); err != nil {
		slog.Error("Error reloading source definition", "source", tag, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to reload source definition",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Source definition reloaded and sync enqueued",
		"source":  tag,
	})
}

// admit takes a slot from the limiter for kind, answering 429 when none is free.
// An empty key selects the shared limiter.
func (h *Handler) admit(c *gin.Context, kind limiter.Kind, key string) bool {
	var l *limiter.Limiter
	var err error
	if key == "" {
		l, err = h.limiters.Get(kind)
	} else {
		l, err = h.limiters.ForKey(kind, key)
	}
	if err != nil {
		slog.Error("Limiter lookup failed", "kind", string(kind), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Limiter not configured"})
		return false
	}

	if l.TryAcquire() {
		return true
	}

	body := gin.H{
		"error":          "Rate limit exceeded",
		"kind":           string(kind),
		"limit":          l.MaxCalls(),
		"period_seconds": int(l.Period().Seconds()),
	}
	if wait := l.TimeUntilAvailable(); wait != limiter.Forever {
		retryAfter := int(math.Ceil(wait.Seconds()))
		body["retry_after"] = retryAfter
		c.Header("Retry-After", strconv.Itoa(retryAfter))
	} else {
		body["message"] = "This operation is disabled"
	}

	slog.Warn("Trigger refused by rate limiter", "kind", string(kind), "key", key, "path", c.FullPath())
	c.JSON(http.StatusTooManyRequests, body)
	return false
}

// respond records who triggered the run and writes the result. Results that
// were rejected before a job run started answer 422.
func (h *Handler) respond(c *gin.Context, ctx context.Context, result service.Result) {
	if result.JobRunID != 0 {
		extra := map[string]any{
			"triggered_by": callerKey(c),
			"triggered_at": time.Now().UTC().Format(time.RFC3339),
		}
		if err := h.triggers.Annotate(ctx, result.JobRunID, extra); err != nil {
			slog.Warn("Failed to annotate job run", "id", result.JobRunID, "error", err)
		}
	}

	status := http.StatusOK
	if !result.Success && result.JobRunID == 0 {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, result)
}

// detached keeps a started run going if the client disconnects.
func detached(c *gin.Context) context.Context {
	return context.WithoutCancel(c.Request.Context())
}

func callerKey(c *gin.Context) string {
	if user := c.GetHeader(userHeader); user != "" {
		return "user:" + user
	}
	return "ip:" + c.ClientIP()
}

func idParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id parameter"})
		return 0, false
	}
	return id, true
}

func jsonRaw(details string) interface{} {
	if details == "" || !json.Valid([]byte(details)) {
		return details
	}
	return json.RawMessage(details)
}
