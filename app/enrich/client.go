package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lysyi3m/vuln-comb/app/limiter"
)

// Client throttles model calls and turns their output into an Enrichment.
type Client struct {
	generator Generator
	limiter   *limiter.Limiter
}

// NewClient builds a Client. A nil limiter leaves calls unthrottled.
func NewClient(generator Generator, l *limiter.Limiter) *Client {
	return &Client{
		generator: generator,
		limiter:   l,
	}
}

// Analyze returns ErrRateLimited, without calling the model, when the limiter has no
// free slot, and also when the provider rejects the call for quota reasons.
func (c *Client) Analyze(ctx context.Context, text, title, source string) (Enrichment, error) {
	if c == nil || c.generator == nil {
		return Absent(), ErrNotConfigured
	}

	if c.limiter != nil && !c.limiter.TryAcquire() {
		slog.Debug("Enrichment throttled", "title", title, "retry_in", c.limiter.TimeUntilAvailable().String())
		return Absent(), ErrRateLimited
	}

	raw, err := c.generator.Generate(ctx, buildPrompt(text, title, source))
	if err != nil {
		if errors.Is(err, ErrRateLimited) {
			return Absent(), err
		}
		return Absent(), fmt.Errorf("failed to generate analysis: %w", err)
	}

	analysis := ParseAnalysis(raw)
	if analysis.Kind == KindDegraded {
		slog.Warn("Enrichment response was not valid JSON", "title", title, "source", source)
	}

	return analysis, nil
}
