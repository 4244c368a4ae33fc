package cfg

type Cfg struct {
	// Storage configuration
	DBPath     string
	SourcesDir string
	RedisAddr  string

	// Application configuration
	Port          string
	WorkerCount   int
	SweepSchedule string
	APIAccessKey  string

	// Reader proxy
	ReaderBaseURL    string
	ReaderMaxRPM     int
	ReaderTimeout    int
	ReaderMaxRetries int
	ReaderCacheTTL   int

	// Enrichment
	AIProvider string
	AIAPIKey   string
	AIModel    string
	AIBaseURL  string
	AIMaxRPM   int

	// Trigger guards (calls per minute)
	JobTriggerMaxPerMinute int
	PocTriggerMaxPerMinute int

	// PoC search
	PocSearchURL string
	PocMaxLinks  int
	PocDelay     int

	// Notifications
	DiscordBotToken  string
	DiscordChannelID string

	// Application metadata
	UserAgent string
	Timezone  string
	Debug     bool
	Version   string
}
