package feed

import (
	"time"
)

// Feed processing types

type Metadata struct {
	Title       string
	Link        string
	Description string
	Language    string
}

type Item struct {
	GUID        string
	Title       string
	Link        string
	Description string
	Content     string
	PublishedAt *time.Time
}

// Body returns the embedded entry content, falling back to the description.
func (i Item) Body() string {
	if i.Content != "" {
		return i.Content
	}
	return i.Description
}

// Source definition types

type SourceConfig struct {
	Tag      string         // Derived from filename (without .yml extension)
	URL      string         `yaml:"url"`
	Name     string         `yaml:"name"`
	Category string         `yaml:"category"`
	Settings SourceSettings `yaml:"settings"`
}

type SourceSettings struct {
	Enabled bool `yaml:"enabled"`
	Timeout int  `yaml:"timeout"` // seconds
}
