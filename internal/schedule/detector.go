// Package schedule decides whether the published schedule changed since the
// last check.
package schedule

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"schedbot/internal/observability"
	"schedbot/internal/scraper"
	"schedbot/internal/storage"
	logx "schedbot/pkg/logx"
)

// Fetcher is the part of scraper.Fetcher the detector needs.
type Fetcher interface {
	FetchTo(ctx context.Context, date time.Time, dst string) (scraper.Artifact, bool)
	Dir() string
}

// State is the fingerprint persistence the detector needs.
type State interface {
	GetState(ctx context.Context, key string) (string, bool, error)
	PutState(ctx context.Context, key, value string) error
}

type Options struct {
	Location *time.Location
	Now      func() time.Time
	Metrics  observability.Metrics
}

type Detector struct {
	fetcher Fetcher
	state   State
	opt     Options
	log     logx.Logger

	// mu keeps fetch, compare and persist of one check together.
	mu sync.Mutex
}

func NewDetector(f Fetcher, st State, opt Options, log logx.Logger) *Detector {
	if opt.Location == nil {
		opt.Location = time.UTC
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	if opt.Metrics == nil {
		opt.Metrics = observability.Nop{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Detector{fetcher: f, state: st, opt: opt, log: log.With(logx.String("comp", "detector"))}
}

// Tomorrow returns midnight of the day after now in loc.
func Tomorrow(now time.Time, loc *time.Location) time.Time {
	n := now.In(loc)
	return time.Date(n.Year(), n.Month(), n.Day()+1, 0, 0, 0, 0, loc)
}

// CheckForUpdate fetches tomorrow's schedule and reports whether it differs
// from the last one seen. A changed artifact is kept under a permanent
// timestamped name; an unchanged download is discarded.
func (d *Detector) CheckForUpdate(ctx context.Context) (bool, scraper.Artifact) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.opt.Now()
	date := Tomorrow(now, d.opt.Location)
	log := d.log.With(logx.String("date", date.Format("2006-01-02")))

	tmp := filepath.Join(d.fetcher.Dir(), ".incoming-"+uuid.NewString()+".part")
	art, ok := d.fetcher.FetchTo(ctx, date, tmp)
	if !ok {
		log.Debug("no schedule to compare")
		d.opt.Metrics.IncUpdateCheck(false)
		return false, scraper.Artifact{}
	}

	last, had, err := d.state.GetState(ctx, storage.KeyLastFingerprint)
	if err != nil {
		// Treat as absent: a spurious broadcast beats a missed one.
		log.Warn("read last fingerprint failed", logx.Err(err))
		had = false
	}
	if had && last == art.Fingerprint {
		removeQuiet(log, tmp)
		log.Debug("schedule unchanged", logx.String("fingerprint", art.Fingerprint))
		d.opt.Metrics.IncUpdateCheck(false)
		return false, scraper.Artifact{}
	}

	dst, err := scraper.ReserveArchivePath(d.fetcher.Dir(), now, scraper.ExtOf(art.SourceURL))
	if err == nil {
		err = os.Rename(tmp, dst)
	}
	if err != nil {
		log.Error("keep schedule failed", logx.Err(err))
		removeQuiet(log, tmp)
		if dst != "" {
			removeQuiet(log, dst)
		}
		d.opt.Metrics.IncUpdateCheck(false)
		return false, scraper.Artifact{}
	}
	art.Path = dst

	if err := d.state.PutState(ctx, storage.KeyLastFingerprint, art.Fingerprint); err != nil {
		log.Error("persist fingerprint failed", logx.Err(err))
	}
	log.Info("new schedule detected",
		logx.String("path", dst),
		logx.String("fingerprint", art.Fingerprint),
		logx.String("previous", last),
	)
	d.opt.Metrics.IncUpdateCheck(true)
	return true, art
}

func removeQuiet(log logx.Logger, p string) {
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("remove file failed", logx.String("path", p), logx.Err(err))
	}
}
