// Package trigger runs the daily schedule broadcast.
package trigger

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"schedbot/internal/broadcast"
	"schedbot/internal/config"
	"schedbot/internal/schedule"
	"schedbot/internal/scraper"
	logx "schedbot/pkg/logx"
)

type State int32

const (
	StateIdle State = iota
	StateWaiting
	StateFiring
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaiting:
		return "waiting"
	case StateFiring:
		return "firing"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type Detector interface {
	CheckForUpdate(ctx context.Context) (bool, scraper.Artifact)
}

type Fetcher interface {
	Fetch(ctx context.Context, date time.Time) (scraper.Artifact, bool)
}

type Broadcaster interface {
	BroadcastKind(ctx context.Context, kind, imagePath, caption string) broadcast.Report
}

type Options struct {
	SendAt     string // HH:MM
	Location   *time.Location
	Cooldown   time.Duration
	CaptionNew string

	// Now and Sleep are replaced by tests. Sleep must return ctx.Err() when
	// ctx is canceled before d elapses.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

type Trigger struct {
	det   Detector
	fetch Fetcher
	bc    Broadcaster
	opt   Options
	sched cron.Schedule
	log   logx.Logger

	state atomic.Int32

	mu       sync.Mutex
	nextFire time.Time
	lastFire time.Time
}

func New(det Detector, fetch Fetcher, bc Broadcaster, opt Options, log logx.Logger) (*Trigger, error) {
	if opt.SendAt == "" {
		opt.SendAt = config.DefaultSendAt
	}
	if opt.Location == nil {
		opt.Location = time.UTC
	}
	if opt.Cooldown <= 0 {
		opt.Cooldown = config.DefaultCooldown
	}
	if opt.CaptionNew == "" {
		opt.CaptionNew = config.DefaultCaptionNew
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	if opt.Sleep == nil {
		opt.Sleep = sleepCtx
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	h, m, err := config.ParseHHMM(opt.SendAt)
	if err != nil {
		return nil, err
	}
	sched, err := cron.ParseStandard(fmt.Sprintf("%d %d * * *", m, h))
	if err != nil {
		return nil, fmt.Errorf("send_at %q: %w", opt.SendAt, err)
	}
	return &Trigger{
		det:   det,
		fetch: fetch,
		bc:    bc,
		opt:   opt,
		sched: sched,
		log:   log.With(logx.String("comp", "trigger")),
	}, nil
}

func (t *Trigger) State() State { return State(t.state.Load()) }

// NextFire is the zero time until the first wait starts.
func (t *Trigger) NextFire() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nextFire
}

// NextFireAfter returns the first send_at strictly after now in Location.
// A send_at earlier than now today therefore lands on tomorrow.
func (t *Trigger) NextFireAfter(now time.Time) time.Time {
	return t.sched.Next(now.In(t.opt.Location))
}

// CheckNow runs the change detector and broadcasts a changed schedule.
func (t *Trigger) CheckNow(ctx context.Context) (bool, broadcast.Report) {
	changed, art := t.det.CheckForUpdate(ctx)
	if !changed {
		return false, broadcast.Report{}
	}
	return true, t.bc.BroadcastKind(ctx, broadcast.KindUpdate, art.Path, t.opt.CaptionNew)
}

// Run does one immediate update check, then fires every day at send_at until
// ctx is canceled. It never returns on its own.
func (t *Trigger) Run(ctx context.Context) error {
	defer t.state.Store(int32(StateStopped))

	t.state.Store(int32(StateFiring))
	if err := t.guard("startup check", func() { t.CheckNow(ctx) }); err != nil {
		t.log.Error("startup check failed", logx.Err(err))
	}

	for ctx.Err() == nil {
		now := t.opt.Now()
		after := now
		t.mu.Lock()
		if after.Before(t.lastFire) {
			after = t.lastFire
		}
		next := t.NextFireAfter(after)
		t.nextFire = next
		t.mu.Unlock()

		t.state.Store(int32(StateWaiting))
		t.log.Info("next daily send scheduled", logx.Time("at", next), logx.Duration("in", next.Sub(now)))
		if err := t.opt.Sleep(ctx, next.Sub(now)); err != nil {
			return nil
		}

		t.state.Store(int32(StateFiring))
		t.mu.Lock()
		t.lastFire = next
		t.mu.Unlock()

		if err := t.guard("daily send", func() { t.fireDaily(ctx) }); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			t.log.Error("daily send failed; cooling down", logx.Err(err), logx.Duration("cooldown", t.opt.Cooldown))
			t.state.Store(int32(StateWaiting))
			if err := t.opt.Sleep(ctx, t.opt.Cooldown); err != nil {
				return nil
			}
		}
	}
	return nil
}

func (t *Trigger) fireDaily(ctx context.Context) {
	date := schedule.Tomorrow(t.opt.Now(), t.opt.Location)
	log := t.log.With(logx.String("date", date.Format("2006-01-02")))

	art, ok := t.fetch.Fetch(ctx, date)
	if !ok {
		log.Warn("schedule for tomorrow not published; nothing sent")
		return
	}
	caption := DailyCaption(date)
	rep := t.bc.BroadcastKind(ctx, broadcast.KindDaily, art.Path, caption)
	log.Info("daily send done", logx.Int("success", rep.Success), logx.Int("errors", rep.Errors), logx.Int("blocked", rep.Blocked))
}

// DailyCaption is the caption of the scheduled daily send.
func DailyCaption(date time.Time) string {
	return "📅 Расписание на " + date.Format("02.01.2006")
}

// guard turns a panic in fn into an error.
func (t *Trigger) guard(name string, fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Error("panic recovered", logx.String("in", name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic in %s: %v", name, r)
		}
	}()
	fn()
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	tm := time.NewTimer(d)
	defer tm.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tm.C:
		return nil
	}
}
