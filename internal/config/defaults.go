package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // Europe/Moscow must resolve on hosts without zoneinfo
)

const (
	DefaultBaseURL    = "https://lsxt.my1.ru/blog/"
	DefaultOrigin     = "https://lsxt.my1.ru"
	DefaultTimezone   = "Europe/Moscow"
	DefaultSendAt     = "18:00"
	DefaultCooldown   = time.Hour
	DefaultFetchLimit = 30 * time.Second
	DefaultDelay      = 50 * time.Millisecond
	DefaultCaptionNew = "📅 Новое расписание!"
)

var (
	DefaultMarkers  = []string{"/R7/"}
	DefaultKeywords = []string{"raspisanie", "schedule", "rasp"}
)

// ApplyDefaults fills in every optional field left empty.
func (c *Config) ApplyDefaults() {
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Telegram.RatePerSec <= 0 {
		c.Logging.Telegram.RatePerSec = 1
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.Path == "" {
		if c.Storage.Driver == "file" {
			c.Storage.Path = "./data/schedbot.json"
		} else {
			c.Storage.Path = "./data/schedbot.db"
		}
	}

	if c.Scraper.BaseURL == "" {
		c.Scraper.BaseURL = DefaultBaseURL
	}
	if c.Scraper.Origin == "" {
		c.Scraper.Origin = DefaultOrigin
	}
	if c.Scraper.Dir == "" {
		c.Scraper.Dir = "./data/schedules"
	}
	if len(c.Scraper.Markers) == 0 {
		c.Scraper.Markers = append([]string(nil), DefaultMarkers...)
	}
	if len(c.Scraper.Keywords) == 0 {
		c.Scraper.Keywords = append([]string(nil), DefaultKeywords...)
	}

	if c.Schedule.Timezone == "" {
		c.Schedule.Timezone = DefaultTimezone
	}
	if c.Schedule.SendAt == "" {
		c.Schedule.SendAt = DefaultSendAt
	}
	if c.Broadcast.CaptionNew == "" {
		c.Broadcast.CaptionNew = DefaultCaptionNew
	}
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, fmt.Errorf("telegram.token is required (or set %s)", EnvToken))
	}
	switch c.Storage.Driver {
	case "sqlite", "file":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("schedule.timezone: %w", err))
	}
	if _, _, err := ParseHHMM(c.Schedule.SendAt); err != nil {
		errs = append(errs, fmt.Errorf("schedule.send_at: %w", err))
	}
	durations := map[string]string{
		"telegram.poll_timeout": c.Telegram.PollTimeout,
		"storage.busy_timeout":  c.Storage.BusyTimeout,
		"scraper.timeout":       c.Scraper.Timeout,
		"schedule.cooldown":     c.Schedule.Cooldown,
		"broadcast.delay":       c.Broadcast.Delay,
	}
	for path, raw := range durations {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Location returns the configured schedule timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func ParseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
