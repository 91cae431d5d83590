package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "50ms", "30s", "1h").
type Config struct {
	Telegram      TelegramConfig      `json:"telegram"`
	Logging       LoggingConfig       `json:"logging"`
	Storage       StorageConfig       `json:"storage"`
	Scraper       ScraperConfig       `json:"scraper"`
	Schedule      ScheduleConfig      `json:"schedule"`
	Broadcast     BroadcastConfig     `json:"broadcast"`
	Observability ObservabilityConfig `json:"observability,omitempty"`
}

type TelegramConfig struct {
	// Token may be left empty and supplied via SCHEDBOT_TOKEN instead.
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids,omitempty"`
	// GroupLog is the operator chat that receives warning logs.
	GroupLog    string `json:"group_log,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the persistence backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/schedbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"` // "sqlite" (default) or "file"
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// ScraperConfig controls where schedule pages live and how images are picked.
type ScraperConfig struct {
	// BaseURL is the date-scoped page prefix; the date (YYYY-MM-DD) is appended.
	BaseURL string `json:"base_url"`
	// Origin resolves relative image paths.
	Origin    string   `json:"origin"`
	Dir       string   `json:"dir"`
	Timeout   string   `json:"timeout,omitempty"`
	UserAgent string   `json:"user_agent,omitempty"`
	Markers   []string `json:"markers,omitempty"`
	Keywords  []string `json:"keywords,omitempty"`
}

type ScheduleConfig struct {
	Timezone string `json:"timezone"`
	SendAt   string `json:"send_at"` // HH:MM in Timezone
	Cooldown string `json:"cooldown,omitempty"`
}

type BroadcastConfig struct {
	Delay      string `json:"delay,omitempty"`
	CaptionNew string `json:"caption_new,omitempty"`
}

// ObservabilityConfig controls the optional HTTP endpoint for metrics and pprof.
// Prefer a loopback address such as "127.0.0.1:9090".
type ObservabilityConfig struct {
	Addr  string `json:"addr,omitempty"`
	Pprof bool   `json:"pprof,omitempty"`
}
