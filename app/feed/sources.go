package feed

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// SourceCache holds the source definitions declared as YAML files in a directory.
type SourceCache struct {
	sourcesDir string
	cache      map[string]*SourceConfig
	mu         sync.RWMutex
}

func NewSourceCache(sourcesDir string) *SourceCache {
	return &SourceCache{
		sourcesDir: sourcesDir,
		cache:      make(map[string]*SourceConfig),
	}
}

func (sc *SourceCache) Dir() string {
	return sc.sourcesDir
}

func (sc *SourceCache) Run() error {
	if _, err := os.Stat(sc.sourcesDir); os.IsNotExist(err) {
		return nil
	}

	files, err := filepath.Glob(filepath.Join(sc.sourcesDir, "*.yml"))
	if err != nil {
		return fmt.Errorf("failed to find YML files: %w", err)
	}

	for _, file := range files {
		tag, ok := TagFromPath(file)
		if !ok {
			continue
		}

		source, err := sc.LoadSource(tag)
		if err != nil {
			return fmt.Errorf("error loading %s: %w", file, err)
		}

		slog.Debug("Source definition loaded", "source", tag, "enabled", source.Settings.Enabled)
	}

	return nil
}

func (sc *SourceCache) LoadSource(tag string) (*SourceConfig, error) {
	sourceFile := sc.getSourceFilePath(tag)
	source, err := sc.parseSource(sourceFile)
	if err != nil {
		return nil, err
	}

	source.Tag = tag
	if source.Name == "" {
		source.Name = tag
	}

	if err := sc.validateSource(source); err != nil {
		return nil, fmt.Errorf("invalid source %s: %w", sourceFile, err)
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.cache[source.Tag] = source

	return source, nil
}

// Forget drops a source definition whose file was removed.
func (sc *SourceCache) Forget(tag string) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	delete(sc.cache, tag)
}

func (sc *SourceCache) GetSource(tag string) (*SourceConfig, error) {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	source, ok := sc.cache[tag]
	if !ok {
		return nil, fmt.Errorf("source definition with tag '%s' not found", tag)
	}
	return source, nil
}

func (sc *SourceCache) GetSources() map[string]*SourceConfig {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	sourcesCopy := make(map[string]*SourceConfig, len(sc.cache))
	for k, v := range sc.cache {
		sourcesCopy[k] = v
	}
	return sourcesCopy
}

func (sc *SourceCache) GetSourceCount() int {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return len(sc.cache)
}

func (sc *SourceCache) parseSource(sourceFile string) (*SourceConfig, error) {
	data, err := os.ReadFile(sourceFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var source SourceConfig
	if err := yaml.Unmarshal(data, &source); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if source.Settings.Timeout == 0 {
		source.Settings.Timeout = 30
	}

	return &source, nil
}

func (sc *SourceCache) validateSource(source *SourceConfig) error {
	if source == nil {
		return fmt.Errorf("source is nil")
	}

	if source.Tag == "" {
		return fmt.Errorf("source tag is required")
	}
	if source.URL == "" {
		return fmt.Errorf("source URL is required")
	}

	parsed, err := url.Parse(source.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("source URL must be an absolute http(s) URL: %s", source.URL)
	}

	if source.Settings.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative")
	}

	return nil
}

func (sc *SourceCache) getSourceFilePath(tag string) string {
	return filepath.Join(sc.sourcesDir, tag+".yml")
}

// TagFromPath derives a source tag from a definition file path.
func TagFromPath(path string) (string, bool) {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, ".yml") {
		return "", false
	}
	tag := strings.TrimSuffix(base, ".yml")
	return tag, tag != ""
}
