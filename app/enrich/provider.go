package enrich

import (
	"fmt"
	"strings"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// NewGenerator builds the Generator for a provider name. An empty apiKey disables
// enrichment and yields (nil, nil).
func NewGenerator(provider, apiKey, baseURL, model string) (Generator, error) {
	if apiKey == "" {
		return nil, nil
	}

	switch strings.ToLower(provider) {
	case ProviderOpenAI, "":
		return NewOpenAIGenerator(apiKey, baseURL, model), nil
	case ProviderAnthropic:
		return NewAnthropicGenerator(apiKey, baseURL, model), nil
	default:
		return nil, fmt.Errorf("unknown AI provider '%s'", provider)
	}
}
