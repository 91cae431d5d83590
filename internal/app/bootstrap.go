package app

import (
	"strconv"
	"strings"

	"schedbot/internal/broadcast"
	"schedbot/internal/config"
	"schedbot/internal/observability"
	"schedbot/internal/scraper"
	"schedbot/internal/storage"
	"schedbot/internal/transport/telegram"
	logx "schedbot/pkg/logx"
)

// mapLoggingConfig resolves telegram.group_log into the operator chat of
// the log sink. An unparsable group_log silences the sink.
func mapLoggingConfig(cfg *config.Config) logx.Config {
	var chatID int64
	if s := strings.TrimSpace(cfg.Telegram.GroupLog); s != "" {
		if id, err := strconv.ParseInt(s, 10, 64); err == nil {
			chatID = id
		}
	}
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ChatID:     chatID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

var _ botAdapter = (*telegram.Adapter)(nil)

func newAdapter(cfg *config.Config, log logx.Logger) (*telegram.Adapter, error) {
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 0)
	if err != nil {
		return nil, err
	}
	return telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
}

func openStore(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	return st, nil
}

func newFetcher(cfg *config.Config, m observability.Metrics, log logx.Logger) (*scraper.Fetcher, error) {
	timeout, err := config.ParseDurationOrDefault("scraper.timeout", cfg.Scraper.Timeout, config.DefaultFetchLimit)
	if err != nil {
		return nil, err
	}
	return scraper.New(scraper.Options{
		BaseURL:   cfg.Scraper.BaseURL,
		Origin:    cfg.Scraper.Origin,
		Dir:       cfg.Scraper.Dir,
		Timeout:   timeout,
		UserAgent: cfg.Scraper.UserAgent,
		Matchers:  scraper.DefaultMatchers(cfg.Scraper.Markers, cfg.Scraper.Keywords),
		Metrics:   m,
	}, log.With(logx.String("comp", "scraper"))), nil
}

func newDispatcher(cfg *config.Config, sender broadcast.Sender, st storage.Store, m observability.Metrics, log logx.Logger) (*broadcast.Dispatcher, error) {
	delay, err := config.ParseDurationOrDefault("broadcast.delay", cfg.Broadcast.Delay, config.DefaultDelay)
	if err != nil {
		return nil, err
	}
	return broadcast.New(sender, st, broadcast.Options{Delay: delay, Metrics: m}, log.With(logx.String("comp", "broadcast"))), nil
}
