package feed

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fsnotify/fsnotify"
)

func writeSource(t *testing.T, dir, tag, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, tag+".yml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestSourceCacheLoadValidSource(t *testing.T) {
	tempDir := t.TempDir()

	writeSource(t, tempDir, "thehackernews", `
url: "https://feeds.feedburner.com/TheHackersNews"
name: "The Hacker News"
category: "news"

settings:
  enabled: true
  timeout: 15
`)

	sourceCache := NewSourceCache(tempDir)
	if err := sourceCache.Run(); err != nil {
		t.Fatal(err)
	}

	if sourceCache.GetSourceCount() != 1 {
		t.Errorf("Expected 1 source, got %d", sourceCache.GetSourceCount())
	}

	source, err := sourceCache.GetSource("thehackernews")
	if err != nil {
		t.Fatal(err)
	}

	if source.Tag != "thehackernews" {
		t.Errorf("Expected tag 'thehackernews', got '%s'", source.Tag)
	}
	if source.Name != "The Hacker News" {
		t.Errorf("Expected name 'The Hacker News', got '%s'", source.Name)
	}
	if source.Category != "news" {
		t.Errorf("Expected category 'news', got '%s'", source.Category)
	}
	if !source.Settings.Enabled {
		t.Error("Expected source to be enabled")
	}
	if source.Settings.Timeout != 15 {
		t.Errorf("Expected timeout 15, got %d", source.Settings.Timeout)
	}
}

func TestSourceCacheDefaults(t *testing.T) {
	tempDir := t.TempDir()

	writeSource(t, tempDir, "ithome", `url: "https://www.ithome.com.tw/rss"`)

	sourceCache := NewSourceCache(tempDir)
	source, err := sourceCache.LoadSource("ithome")
	if err != nil {
		t.Fatal(err)
	}

	if source.Name != "ithome" {
		t.Errorf("Expected name to default to tag, got '%s'", source.Name)
	}
	if source.Settings.Timeout != 30 {
		t.Errorf("Expected default timeout 30, got %d", source.Settings.Timeout)
	}
	if source.Settings.Enabled {
		t.Error("Expected source to be disabled unless stated")
	}
}

func TestSourceCacheInvalidSource(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errPart string
	}{
		{"missing url", `name: "x"`, "URL is required"},
		{"relative url", `url: "/feed.xml"`, "absolute http(s) URL"},
		{"bad scheme", `url: "ftp://example.com/feed"`, "absolute http(s) URL"},
		{"negative timeout", "url: \"https://example.com/rss\"\nsettings:\n  timeout: -1", "non-negative"},
		{"broken yaml", "url: [", "failed to parse YAML"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tempDir := t.TempDir()
			writeSource(t, tempDir, "broken", tt.content)

			_, err := NewSourceCache(tempDir).LoadSource("broken")
			if err == nil {
				t.Fatal("Expected error for invalid source")
			}
			if !strings.Contains(err.Error(), tt.errPart) {
				t.Errorf("Expected error containing %q, got %q", tt.errPart, err.Error())
			}
		})
	}
}

func TestSourceCacheMissingDirectory(t *testing.T) {
	sourceCache := NewSourceCache(filepath.Join(t.TempDir(), "absent"))

	if err := sourceCache.Run(); err != nil {
		t.Errorf("Expected no error for missing directory, got %v", err)
	}
	if sourceCache.GetSourceCount() != 0 {
		t.Errorf("Expected 0 sources, got %d", sourceCache.GetSourceCount())
	}
}

func TestSourceCacheForget(t *testing.T) {
	tempDir := t.TempDir()
	writeSource(t, tempDir, "krebsonsecurity", `url: "https://krebsonsecurity.com/feed/"`)

	sourceCache := NewSourceCache(tempDir)
	if err := sourceCache.Run(); err != nil {
		t.Fatal(err)
	}

	sourceCache.Forget("krebsonsecurity")

	if _, err := sourceCache.GetSource("krebsonsecurity"); err == nil {
		t.Error("Expected forgotten source to be gone")
	}
	if len(sourceCache.GetSources()) != 0 {
		t.Error("Expected empty source map")
	}
}

func TestTagFromPath(t *testing.T) {
	if tag, ok := TagFromPath("/etc/sources/bleepingcomputer.yml"); !ok || tag != "bleepingcomputer" {
		t.Errorf("Expected tag 'bleepingcomputer', got %q (%v)", tag, ok)
	}
	if _, ok := TagFromPath("/etc/sources/readme.md"); ok {
		t.Error("Expected non-yml file to be ignored")
	}
	if _, ok := TagFromPath("/etc/sources/.yml"); ok {
		t.Error("Expected empty tag to be ignored")
	}
}

func TestToSourceChange(t *testing.T) {
	tests := []struct {
		event    fsnotify.Event
		expected SourceChange
		ok       bool
	}{
		{fsnotify.Event{Name: "/s/a.yml", Op: fsnotify.Write}, SourceChange{Tag: "a"}, true},
		{fsnotify.Event{Name: "/s/a.yml", Op: fsnotify.Create}, SourceChange{Tag: "a"}, true},
		{fsnotify.Event{Name: "/s/a.yml", Op: fsnotify.Remove}, SourceChange{Tag: "a", Removed: true}, true},
		{fsnotify.Event{Name: "/s/a.yml", Op: fsnotify.Rename}, SourceChange{Tag: "a", Removed: true}, true},
		{fsnotify.Event{Name: "/s/a.yml", Op: fsnotify.Chmod}, SourceChange{}, false},
		{fsnotify.Event{Name: "/s/a.txt", Op: fsnotify.Write}, SourceChange{}, false},
	}

	for _, tt := range tests {
		got, ok := toSourceChange(tt.event)
		if ok != tt.ok || got != tt.expected {
			t.Errorf("Event %v: expected %+v (%v), got %+v (%v)", tt.event, tt.expected, tt.ok, got, ok)
		}
	}
}
