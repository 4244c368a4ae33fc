package database

import (
	"time"
)

type Source struct {
	ID        int64
	Tag       string // Internal identifier, derived from the definition filename
	URL       string
	Name      string
	Category  string
	Enabled   bool
	LastRunAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Item struct {
	ID          int64
	Link        string // Canonical link, the only deduplication key
	Title       string
	SourceTag   string
	Content     string
	AIContent   string // Serialized enrichment, empty when none
	Keywords    string // Comma-joined
	CVEs        string // Comma-joined
	Emails      string // Comma-joined
	PocLink     string
	PublishedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewItem is a candidate produced by ingestion, not yet stored.
type NewItem struct {
	Link        string
	Title       string
	SourceTag   string
	Content     string
	AIContent   string
	Keywords    string
	CVEs        []string
	Emails      []string
	PublishedAt *time.Time
}

type SaveMode int

const (
	// SaveSkipExisting leaves already known links untouched.
	SaveSkipExisting SaveMode = iota
	// SaveOverwriteEnrichment replaces the enrichment payload and keywords of known links.
	SaveOverwriteEnrichment
)

type SaveStats struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
	Errors   int `json:"errors"`
}

type PocRecord struct {
	ID      int64
	CVE     string
	Link    string
	Source  string
	FoundAt time.Time
}

type JobRun struct {
	ID        int64
	Kind      string
	Target    string // Empty means "all"
	StartedAt time.Time
	EndedAt   *time.Time
	Status    string
	Inserted  int
	Updated   int
	Skipped   int
	Errors    int
	Details   string // JSON object
}

type JobRunCounters struct {
	Inserted int
	Updated  int
	Skipped  int
	Errors   int
}
