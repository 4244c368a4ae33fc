package enrich

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/lysyi3m/vuln-comb/app/limiter"
)

type mockGenerator struct {
	responses []string
	errs      []error
	prompts   []string
}

func (m *mockGenerator) Generate(_ context.Context, prompt string) (string, error) {
	i := len(m.prompts)
	m.prompts = append(m.prompts, prompt)

	var err error
	if i < len(m.errs) {
		err = m.errs[i]
	}
	if err != nil {
		return "", err
	}
	if i < len(m.responses) {
		return m.responses[i], nil
	}
	return "", nil
}

func newLimiter(t *testing.T, maxCalls int) *limiter.Limiter {
	t.Helper()
	l, err := limiter.New(maxCalls, time.Minute)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	return l
}

func TestClient_Analyze(t *testing.T) {
	gen := &mockGenerator{responses: []string{`{"summary":"ok","keywords":["k"]}`}}
	client := NewClient(gen, newLimiter(t, 5))

	got, err := client.Analyze(context.Background(), "body text", "Title", "krebsonsecurity")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if got.Kind != KindComplete || got.Summary != "ok" {
		t.Errorf("Unexpected analysis: %+v", got)
	}

	prompt := gen.prompts[0]
	for _, part := range []string{"Title: Title", "Source: krebsonsecurity", "body text", "how_to_exploit"} {
		if !strings.Contains(prompt, part) {
			t.Errorf("Expected prompt to contain %q", part)
		}
	}
}

func TestClient_LimiterRefusal(t *testing.T) {
	gen := &mockGenerator{responses: []string{`{"summary":"1"}`, `{"summary":"2"}`}}
	client := NewClient(gen, newLimiter(t, 1))

	if _, err := client.Analyze(context.Background(), "a", "t", "s"); err != nil {
		t.Fatalf("Expected first call to succeed, got: %v", err)
	}

	got, err := client.Analyze(context.Background(), "b", "t", "s")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("Expected ErrRateLimited, got: %v", err)
	}
	if !got.IsAbsent() {
		t.Errorf("Expected absent analysis, got: %+v", got)
	}
	if len(gen.prompts) != 1 {
		t.Errorf("Expected the model to be called once, got: %d", len(gen.prompts))
	}
}

func TestClient_ProviderRateLimit(t *testing.T) {
	gen := &mockGenerator{errs: []error{fmt.Errorf("%w: 429 quota", ErrRateLimited)}}
	client := NewClient(gen, nil)

	_, err := client.Analyze(context.Background(), "a", "t", "s")
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("Expected ErrRateLimited, got: %v", err)
	}
}

func TestClient_ProviderFailure(t *testing.T) {
	gen := &mockGenerator{errs: []error{errors.New("boom")}}
	client := NewClient(gen, nil)

	got, err := client.Analyze(context.Background(), "a", "t", "s")
	if err == nil {
		t.Fatal("Expected error")
	}
	if errors.Is(err, ErrRateLimited) {
		t.Error("Expected a generic failure, not a rate limit")
	}
	if !got.IsAbsent() {
		t.Errorf("Expected absent analysis, got: %+v", got)
	}
}

func TestClient_NotConfigured(t *testing.T) {
	var client *Client

	if _, err := client.Analyze(context.Background(), "a", "t", "s"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Expected ErrNotConfigured, got: %v", err)
	}
}

func TestBuildPrompt_TruncatesContent(t *testing.T) {
	prompt := buildPrompt(strings.Repeat("λ", maxPromptContentRunes+100), "t", "s")

	if strings.Count(prompt, "λ") != maxPromptContentRunes {
		t.Errorf("Expected content truncated to %d runes", maxPromptContentRunes)
	}
}

func TestNewGenerator(t *testing.T) {
	if g, err := NewGenerator("openai", "", "", "m"); g != nil || err != nil {
		t.Errorf("Expected nil generator without key, got: %v %v", g, err)
	}
	if g, _ := NewGenerator("openai", "key", GeminiOpenAIBaseURL, "m"); g == nil {
		t.Error("Expected OpenAI generator")
	}
	if g, _ := NewGenerator("Anthropic", "key", "", "m"); g == nil {
		t.Error("Expected Anthropic generator")
	}
	if _, err := NewGenerator("mystery", "key", "", "m"); err == nil {
		t.Error("Expected error for unknown provider")
	}
}
