package storage

import (
	"context"
	"errors"
	"strings"

	logx "schedbot/pkg/logx"
)

// Store is the persistence API used by the bot, the detector and the dispatcher.
type Store interface {
	// AddSubscriber is idempotent: added is false when id already exists.
	AddSubscriber(ctx context.Context, s Subscriber) (added bool, err error)
	// RemoveSubscriber is idempotent: removed is false when id was absent.
	RemoveSubscriber(ctx context.Context, id int64) (removed bool, err error)
	IsSubscribed(ctx context.Context, id int64) (bool, error)
	// ListSubscribers returns a snapshot ordered by subscription time.
	ListSubscribers(ctx context.Context) ([]Subscriber, error)
	CountSubscribers(ctx context.Context) (int, error)

	GetState(ctx context.Context, key string) (value string, ok bool, err error)
	PutState(ctx context.Context, key, value string) error

	AppendBroadcast(ctx context.Context, r BroadcastRecord) error
	LastBroadcast(ctx context.Context) (BroadcastRecord, bool, error)

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "file":
		return openFile(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
