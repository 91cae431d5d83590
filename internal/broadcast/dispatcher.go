// Package broadcast delivers a schedule image to every subscriber.
package broadcast

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"schedbot/internal/observability"
	"schedbot/internal/storage"
	"schedbot/internal/transport"
	logx "schedbot/pkg/logx"
)

const (
	KindUpdate = "update"
	KindDaily  = "daily"
	KindManual = "manual"
)

// Sender is the photo delivery side of transport.Adapter.
type Sender interface {
	SendPhoto(ctx context.Context, chatID int64, p transport.Photo) (fileID string, err error)
}

// Store is the subset of storage.Store used during a broadcast.
type Store interface {
	ListSubscribers(ctx context.Context) ([]storage.Subscriber, error)
	RemoveSubscriber(ctx context.Context, id int64) (bool, error)
	AppendBroadcast(ctx context.Context, r storage.BroadcastRecord) error
}

type Report struct {
	Total   int
	Success int
	Errors  int
	Blocked int
	Took    time.Duration
}

type Options struct {
	// Delay is the pause between two consecutive sends. 0 disables pacing.
	Delay   time.Duration
	Metrics observability.Metrics
}

// Dispatcher sends sequentially with fixed pacing. Recipients that rejected
// the bot permanently are unsubscribed; any other failure is only counted.
type Dispatcher struct {
	sender Sender
	store  Store
	opt    Options
	log    logx.Logger
}

func New(sender Sender, store Store, opt Options, log logx.Logger) *Dispatcher {
	if opt.Metrics == nil {
		opt.Metrics = observability.Nop{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{sender: sender, store: store, opt: opt, log: log.With(logx.String("comp", "broadcast"))}
}

func (d *Dispatcher) Broadcast(ctx context.Context, imagePath, caption string) Report {
	return d.BroadcastKind(ctx, KindManual, imagePath, caption)
}

// BroadcastKind is Broadcast with the run labelled for history and metrics.
func (d *Dispatcher) BroadcastKind(ctx context.Context, kind, imagePath, caption string) Report {
	start := time.Now()
	log := d.log.With(logx.String("kind", kind), logx.String("image", imagePath))

	subs, err := d.store.ListSubscribers(ctx)
	if err != nil {
		log.Error("list subscribers failed", logx.Err(err))
		return Report{}
	}
	if len(subs) == 0 {
		log.Info("no subscribers; nothing to send")
		return Report{}
	}

	lim := rate.NewLimiter(rate.Inf, 1)
	if d.opt.Delay > 0 {
		lim = rate.NewLimiter(rate.Every(d.opt.Delay), 1)
	}

	rep := Report{Total: len(subs)}
	photo := transport.Photo{Path: imagePath, Caption: caption}

	for _, sub := range subs {
		if err := lim.Wait(ctx); err != nil {
			log.Warn("broadcast interrupted", logx.Err(err), logx.Int("sent", rep.Success+rep.Errors+rep.Blocked))
			break
		}

		fileID, err := d.sender.SendPhoto(ctx, sub.ID, photo)
		switch {
		case err == nil:
			rep.Success++
			d.opt.Metrics.IncDelivery("success")
			if photo.FileID == "" && fileID != "" {
				photo.FileID = fileID
			}
		case errors.Is(err, transport.ErrRecipientBlocked):
			rep.Blocked++
			d.opt.Metrics.IncDelivery("blocked")
			if _, rerr := d.store.RemoveSubscriber(ctx, sub.ID); rerr != nil {
				log.Warn("remove blocked subscriber failed", logx.Int64("user_id", sub.ID), logx.Err(rerr))
			} else {
				log.Info("subscriber blocked the bot; removed", logx.Int64("user_id", sub.ID))
			}
		default:
			rep.Errors++
			d.opt.Metrics.IncDelivery("error")
			log.Warn("send failed", logx.Int64("user_id", sub.ID), logx.Err(err))
		}
		if ctx.Err() != nil {
			log.Warn("broadcast interrupted", logx.Err(ctx.Err()))
			break
		}
	}
	rep.Took = time.Since(start)

	log.Info("broadcast finished",
		logx.Int("total", rep.Total),
		logx.Int("success", rep.Success),
		logx.Int("errors", rep.Errors),
		logx.Int("blocked", rep.Blocked),
		logx.Duration("took", rep.Took),
	)
	d.opt.Metrics.ObserveBroadcast(kind, rep.Took)

	// History must be written even when ctx was canceled mid-run.
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := d.store.AppendBroadcast(hctx, storage.BroadcastRecord{
		At:      start,
		Kind:    kind,
		Caption: caption,
		Image:   imagePath,
		Total:   rep.Total,
		Success: rep.Success,
		Errors:  rep.Errors,
		Blocked: rep.Blocked,
		Took:    rep.Took,
	}); err != nil {
		log.Warn("record broadcast failed", logx.Err(err))
	}
	return rep
}
