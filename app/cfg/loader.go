package cfg

import (
	"cmp"
	"fmt"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/lysyi3m/vuln-comb/app/enrich"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Storage configuration
	DBPath     string `long:"db-path" env:"DB_PATH" default:"./data/vuln-comb.db" description:"SQLite database file"`
	SourcesDir string `long:"sources-dir" env:"SOURCES_DIR" default:"./sources" description:"Directory containing source definition files"`
	RedisAddr  string `long:"redis-addr" env:"REDIS_ADDR" description:"Redis address for the reader page cache (in-memory when empty)"`

	// Application configuration
	Port          string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	WorkerCount   int    `long:"worker-count" env:"WORKER_COUNT" default:"2" description:"Number of background workers"`
	SweepSchedule string `long:"sweep-schedule" env:"SWEEP_SCHEDULE" description:"Cron schedule for sweeping all sources (disabled when empty)"`
	APIAccessKey  string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for authentication (optional)"`

	// Reader proxy
	ReaderBaseURL    string `long:"reader-base-url" env:"READER_BASE_URL" default:"https://r.jina.ai/" description:"Readable content proxy, the page URL is appended"`
	ReaderMaxRPM     int    `long:"reader-max-rpm" env:"READER_MAX_RPM" default:"10" description:"Reader requests per minute"`
	ReaderTimeout    int    `long:"reader-timeout" env:"READER_TIMEOUT" default:"30" description:"Reader request timeout in seconds"`
	ReaderMaxRetries int    `long:"reader-max-retries" env:"READER_MAX_RETRIES" default:"3" description:"Reader attempts per page"`
	ReaderCacheTTL   int    `long:"reader-cache-ttl" env:"READER_CACHE_TTL" default:"3600" description:"Reader page cache TTL in seconds"`

	// Enrichment
	AIProvider string `long:"ai-provider" env:"AI_PROVIDER" default:"openai" choice:"openai" choice:"anthropic" description:"Model API flavour"`
	AIAPIKey   string `long:"ai-api-key" env:"AI_API_KEY" description:"Model API key (enrichment disabled when empty)"`
	AIModel    string `long:"ai-model" env:"AI_MODEL" default:"gemini-2.0-flash" description:"Model name"`
	AIBaseURL  string `long:"ai-base-url" env:"AI_BASE_URL" description:"Model API base URL (Gemini's OpenAI-compatible endpoint for the openai provider when empty)"`
	AIMaxRPM   int    `long:"ai-max-rpm" env:"AI_MAX_RPM" default:"5" description:"Model calls per minute"`

	// Trigger guards
	JobTriggerMaxPerMinute int `long:"job-trigger-max-per-minute" env:"JOB_TRIGGER_MAX_PER_MINUTE" default:"2" description:"Job triggers accepted per minute"`
	PocTriggerMaxPerMinute int `long:"poc-trigger-max-per-minute" env:"POC_TRIGGER_MAX_PER_MINUTE" default:"5" description:"PoC searches accepted per user per minute"`

	// PoC search
	PocSearchURL string `long:"poc-search-url" env:"POC_SEARCH_URL" default:"https://sploitus.com/" description:"Exploit search engine"`
	PocMaxLinks  int    `long:"poc-max-links" env:"POC_MAX_LINKS" default:"3" description:"Links kept per CVE"`
	PocDelay     int    `long:"poc-delay" env:"POC_DELAY" default:"2" description:"Seconds between search engine requests"`

	// Notifications
	DiscordBotToken  string `long:"discord-bot-token" env:"DISCORD_BOT_TOKEN" description:"Discord bot token (notifications disabled when empty)"`
	DiscordChannelID string `long:"discord-channel-id" env:"DISCORD_CHANNEL_ID" description:"Discord channel for notifications"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"Vuln Comb/1.0" description:"User agent string for HTTP requests"`
	Timezone  string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g., UTC, Asia/Taipei)"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

func Load() (*Cfg, error) {
	return load(nil)
}

func load(args []string) (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	var err error
	if args == nil {
		_, err = parser.Parse()
	} else {
		_, err = parser.ParseArgs(args)
	}
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		DBPath:                 raw.DBPath,
		SourcesDir:             raw.SourcesDir,
		RedisAddr:              raw.RedisAddr,
		Port:                   raw.Port,
		WorkerCount:            raw.WorkerCount,
		SweepSchedule:          raw.SweepSchedule,
		APIAccessKey:           raw.APIAccessKey,
		ReaderBaseURL:          raw.ReaderBaseURL,
		ReaderMaxRPM:           raw.ReaderMaxRPM,
		ReaderTimeout:          raw.ReaderTimeout,
		ReaderMaxRetries:       raw.ReaderMaxRetries,
		ReaderCacheTTL:         raw.ReaderCacheTTL,
		AIProvider:             raw.AIProvider,
		AIAPIKey:               raw.AIAPIKey,
		AIModel:                raw.AIModel,
		AIBaseURL:              raw.AIBaseURL,
		AIMaxRPM:               raw.AIMaxRPM,
		JobTriggerMaxPerMinute: raw.JobTriggerMaxPerMinute,
		PocTriggerMaxPerMinute: raw.PocTriggerMaxPerMinute,
		PocSearchURL:           raw.PocSearchURL,
		PocMaxLinks:            raw.PocMaxLinks,
		PocDelay:               raw.PocDelay,
		DiscordBotToken:        raw.DiscordBotToken,
		DiscordChannelID:       raw.DiscordChannelID,
		UserAgent:              raw.UserAgent,
		Timezone:               raw.Timezone,
		Debug:                  raw.Debug,
		Version:                GetVersion(),
	}

	// The default model is Gemini, served through its OpenAI-compatible endpoint
	if cfg.AIBaseURL == "" && cfg.AIProvider == enrich.ProviderOpenAI {
		cfg.AIBaseURL = enrich.GeminiOpenAIBaseURL
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

func (c *Cfg) ReaderTimeoutDuration() time.Duration {
	return time.Duration(c.ReaderTimeout) * time.Second
}

func (c *Cfg) ReaderCacheTTLDuration() time.Duration {
	return time.Duration(c.ReaderCacheTTL) * time.Second
}

func (c *Cfg) PocDelayDuration() time.Duration {
	return time.Duration(c.PocDelay) * time.Second
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		loc, err := time.LoadLocation(timezone)
		if err != nil {
			return err
		}
		time.Local = loc
		fmt.Printf("Timezone configured: %s\n", timezone)
	}
	return nil
}
