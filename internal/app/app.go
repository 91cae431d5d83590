package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"schedbot/internal/bot"
	"schedbot/internal/config"
	"schedbot/internal/observability"
	rtsup "schedbot/internal/runtime/supervisor"
	"schedbot/internal/schedule"
	"schedbot/internal/storage"
	kit "schedbot/internal/transport"
	"schedbot/internal/trigger"
	logx "schedbot/pkg/logx"
	"schedbot/pkg/systemd"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	store storage.Store

	adapter botAdapter
	metrics *observability.PromMetrics
	obs     *observability.Server
	trig    *trigger.Trigger
	router  *bot.Router

	updates chan kit.Update
}

// botAdapter is what the app needs from the messaging transport.
type botAdapter interface {
	kit.Adapter
	kit.CommandMenuUpdater
	Username() string
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO")
	ad, err := newAdapter(cfg, bootLog)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg), ad)
	var c closers
	a, err := build(cfg, ad, logSvc, log.With(logx.String("comp", "app")), &c)
	if err != nil {
		return nil, err
	}
	a.cfgPath = cfgPath
	a.cfgm = cfgm
	return a, nil
}

// build wires everything on top of the transport and the log service.
// When it fails, c has already released whatever was opened, logSvc included.
func build(cfg *config.Config, ad botAdapter, logSvc *logx.Service, log logx.Logger, c *closers) (_ *App, err error) {
	c.add("logging", logSvc.Close)
	defer func() {
		if err != nil {
			if cerr := c.close(); cerr != nil {
				err = errors.Join(err, cerr)
			}
		}
	}()

	store, err := openStore(cfg, log)
	if err != nil {
		return nil, err
	}
	c.add("storage", store.Close)

	metrics := observability.NewPromMetrics()
	if n, err := store.CountSubscribers(context.Background()); err == nil {
		metrics.SetSubscribers(n)
	}

	fetcher, err := newFetcher(cfg, metrics, log)
	if err != nil {
		return nil, err
	}
	disp, err := newDispatcher(cfg, ad, store, metrics, log)
	if err != nil {
		return nil, err
	}

	loc := cfg.Location()
	det := schedule.NewDetector(fetcher, store, schedule.Options{
		Location: loc,
		Metrics:  metrics,
	}, log.With(logx.String("comp", "detector")))

	cooldown, err := config.ParseDurationOrDefault("schedule.cooldown", cfg.Schedule.Cooldown, config.DefaultCooldown)
	if err != nil {
		return nil, err
	}
	trig, err := trigger.New(det, fetcher, disp, trigger.Options{
		SendAt:     cfg.Schedule.SendAt,
		Location:   loc,
		Cooldown:   cooldown,
		CaptionNew: cfg.Broadcast.CaptionNew,
	}, log)
	if err != nil {
		return nil, err
	}

	router := bot.NewRouter(ad, cfg.Telegram.OwnerUserIDs, log)
	bot.New(ad, store, fetcher, trig, bot.Options{
		SendAt:   cfg.Schedule.SendAt,
		SiteURL:  cfg.Scraper.BaseURL,
		Location: loc,
		Metrics:  metrics,
	}, log).Register(router)

	obs := observability.NewServer(observability.ServerConfig{
		Addr:  cfg.Observability.Addr,
		Pprof: cfg.Observability.Pprof,
	}, metrics.Handler(), log.With(logx.String("comp", "observability")))

	return &App{
		log:     log,
		logs:    logSvc,
		store:   store,
		adapter: ad,
		metrics: metrics,
		obs:     obs,
		trig:    trig,
		router:  router,
		updates: make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	bot.UpdateMenu(a.sup.Context(), a.adapter, a.router, a.log)

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.Run(c, a.updates)
	})
	a.sup.Go("trigger", func(c context.Context) error {
		return a.trig.Run(c)
	})
	if a.obs.Enabled() {
		a.sup.Go("observability", func(c context.Context) error {
			return a.obs.Run(c)
		})
	}
	a.sup.Go("systemd.watchdog", func(c context.Context) error {
		return systemd.Watchdog(c, a.log)
	})

	a.watchConfig()

	if _, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	}
	a.log.Info("app started",
		logx.String("bot", a.adapter.Username()),
		logx.Time("next_fire", a.trig.NextFireAfter(time.Now())),
	)
	return nil
}

// watchConfig applies logging and owner changes live; everything else is
// logged as needing a restart.
func (a *App) watchConfig() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// coalesce bursts
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
}

func (a *App) applyConfig(old, cur *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(old, cur)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(mapLoggingConfig(cur))
	a.router.SetOwners(cur.Telegram.OwnerUserIDs)

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	if restart {
		a.log.Warn("config changed; restart required for some changes to take effect", fields...)
		return
	}
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := systemd.Stopping(); err != nil {
		a.log.Debug("sd_notify stopping failed", logx.Err(err))
	}

	a.sup.Cancel()

	// step bounds one shutdown stage without extending the caller's deadline.
	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("adapter", 3*time.Second, a.adapter.Stop)
	// the trigger may be mid-broadcast; it stops between two sends
	step("supervisor", 5*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}
