package bot

import (
	"context"
	"strings"
	"time"

	"schedbot/internal/broadcast"
	"schedbot/internal/observability"
	"schedbot/internal/scraper"
	"schedbot/internal/storage"
	kit "schedbot/internal/transport"
	logx "schedbot/pkg/logx"
)

type Store interface {
	AddSubscriber(ctx context.Context, s storage.Subscriber) (bool, error)
	RemoveSubscriber(ctx context.Context, id int64) (bool, error)
	IsSubscribed(ctx context.Context, id int64) (bool, error)
	CountSubscribers(ctx context.Context) (int, error)
	LastBroadcast(ctx context.Context) (storage.BroadcastRecord, bool, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, date time.Time) (scraper.Artifact, bool)
}

// Trigger is the daily loop. It backs /check and the next-send line of /stats.
type Trigger interface {
	CheckNow(ctx context.Context) (bool, broadcast.Report)
	NextFire() time.Time
}

type Options struct {
	SendAt   string
	SiteURL  string
	Location *time.Location
	Now      func() time.Time
	Metrics  observability.Metrics
}

// Bot implements the user-facing command surface.
type Bot struct {
	ad    kit.Adapter
	store Store
	fetch Fetcher
	trig  Trigger // nil disables /check
	opt   Options
	log   logx.Logger
}

func New(ad kit.Adapter, store Store, fetch Fetcher, trig Trigger, opt Options, log logx.Logger) *Bot {
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
	return &Bot{
		ad:    ad,
		store: store,
		fetch: fetch,
		trig:  trig,
		opt:   opt,
		log:   log.With(logx.String("comp", "bot")),
	}
}

func (b *Bot) commands() []Command {
	cmds := []Command{
		{Name: "start", Description: "Главное меню", Handle: b.start},
		{Name: "subscribe", Description: "Подписаться на рассылку", Handle: b.subscribe},
		{Name: "unsubscribe", Description: "Отписаться от рассылки", Handle: b.unsubscribe},
		{Name: "info", Description: "Информация о боте", Handle: b.info},
		{Name: "stats", Description: "Статистика бота", Handle: b.stats},
	}
	if b.trig != nil {
		cmds = append(cmds, Command{
			Name:        "check",
			Description: "Проверить сайт и разослать новое расписание",
			Access:      AccessOwnerOnly,
			Timeout:     10 * time.Minute,
			Handle:      b.check,
		})
	}
	return cmds
}

// Register wires commands, reply buttons and inline callbacks into r.
func (b *Bot) Register(r *Router) {
	for _, c := range b.commands() {
		r.Handle(c)
	}

	r.HandleText(btnSubscribe, b.subscribe)
	r.HandleText(btnUnsubscribe, b.unsubscribe)
	r.HandleText(btnTomorrow, b.tomorrow)
	r.HandleText(btnPickDate, b.pickDate)
	r.HandleText(btnInfo, b.info)

	r.HandleCallback(CallbackRoute{Prefix: cbSubscribe, Handle: b.cbSubscribe})
	r.HandleCallback(CallbackRoute{Prefix: cbUnsubscribe, Handle: b.cbUnsubscribe})
	r.HandleCallback(CallbackRoute{Prefix: cbDate, Handle: b.cbDate})
}

// UpdateMenu publishes the visible commands when the adapter supports it.
func UpdateMenu(ctx context.Context, ad kit.Adapter, r *Router, log logx.Logger) {
	mu, ok := ad.(kit.CommandMenuUpdater)
	if !ok {
		return
	}
	if err := mu.UpdateMenuCommands(ctx, r.Menu()); err != nil {
		log.Warn("failed to update command menu", logx.Err(err))
	}
}

func (b *Bot) commandList() string {
	var sb strings.Builder
	for _, c := range b.commands() {
		if c.Access == AccessOwnerOnly {
			continue
		}
		sb.WriteString("/" + c.Name + " - " + c.Description + "\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (b *Bot) refreshSubscribers(ctx context.Context) {
	n, err := b.store.CountSubscribers(ctx)
	if err != nil {
		b.log.Warn("count subscribers failed", logx.Err(err))
		return
	}
	b.opt.Metrics.SetSubscribers(n)
}
