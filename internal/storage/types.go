package storage

import (
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// KeyLastFingerprint holds the fingerprint of the last detected schedule.
const KeyLastFingerprint = "last_schedule_fingerprint"

// Config configures storage.
//
// Driver values:
//   - "sqlite" (default)
//   - "file"
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

type Subscriber struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username,omitempty"`
	FirstName    string    `json:"first_name,omitempty"`
	SubscribedAt time.Time `json:"subscribed_at"`
}

// BroadcastRecord summarises one broadcast run.
type BroadcastRecord struct {
	At      time.Time     `json:"at"`
	Kind    string        `json:"kind"` // "update", "daily", "manual"
	Caption string        `json:"caption"`
	Image   string        `json:"image"`
	Total   int           `json:"total"`
	Success int           `json:"success"`
	Errors  int           `json:"errors"`
	Blocked int           `json:"blocked"`
	Took    time.Duration `json:"took"`
}
