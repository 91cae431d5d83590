package bot

import (
	"context"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	rtsup "schedbot/internal/runtime/supervisor"
	kit "schedbot/internal/transport"
	"schedbot/pkg/tgui"
	logx "schedbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

// Command is a slash command. Hidden commands are routed but left out of
// the Telegram menu.
type Command struct {
	Name        string
	Description string
	Access      Access
	Hidden      bool
	Timeout     time.Duration
	Handle      HandlerFunc
}

// CallbackRoute handles inline buttons whose data is Prefix or Prefix:payload.
type CallbackRoute struct {
	Prefix  string
	Access  Access
	Timeout time.Duration
	Handle  HandlerFunc
}

type Request struct {
	Update  kit.Update
	ChatID  int64
	From    kit.User
	Command string
	Args    []string
	Payload string // callback payload
	RID     string
	Log     logx.Logger

	adapter  kit.Adapter
	answered atomic.Bool
}

// Reply sends text to the request's chat.
func (r *Request) Reply(ctx context.Context, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	return r.adapter.SendText(ctx, r.ChatID, text, opt)
}

// Answer answers the inline callback. The router answers with an empty text
// when the handler did not.
func (r *Request) Answer(ctx context.Context, text string, alert bool) error {
	if r.Update.Callback == nil || !r.answered.CompareAndSwap(false, true) {
		return nil
	}
	return r.adapter.AnswerCallback(ctx, r.Update.Callback.ID, text, alert)
}

// Router maps updates to handlers and runs them on a bounded worker pool.
type Router struct {
	adapter kit.Adapter
	log     logx.Logger
	workers int

	mu        sync.RWMutex
	owners    []int64
	commands  map[string]Command
	texts     map[string]HandlerFunc
	callbacks map[string]CallbackRoute

	jobs chan func()
}

func NewRouter(adapter kit.Adapter, owners []int64, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		adapter:   adapter,
		log:       log.With(logx.String("comp", "router")),
		workers:   4,
		owners:    append([]int64(nil), owners...),
		commands:  map[string]Command{},
		texts:     map[string]HandlerFunc{},
		callbacks: map[string]CallbackRoute{},
		jobs:      make(chan func(), 256),
	}
}

func (r *Router) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	r.mu.Lock()
	r.owners = cp
	r.mu.Unlock()
}

func (r *Router) Handle(c Command) {
	name := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(c.Name), "/"))
	if name == "" || c.Handle == nil {
		return
	}
	c.Name = name
	r.mu.Lock()
	r.commands[name] = c
	r.mu.Unlock()
}

// HandleText routes an exact message text (reply keyboard buttons).
func (r *Router) HandleText(text string, h HandlerFunc) {
	r.mu.Lock()
	r.texts[text] = h
	r.mu.Unlock()
}

func (r *Router) HandleCallback(route CallbackRoute) {
	if route.Prefix == "" || route.Handle == nil {
		return
	}
	r.mu.Lock()
	r.callbacks[route.Prefix] = route
	r.mu.Unlock()
}

// Menu lists the visible commands for setMyCommands.
func (r *Router) Menu() []kit.BotCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]kit.BotCommand, 0, len(r.commands))
	for _, c := range r.commands {
		if c.Hidden || c.Access == AccessOwnerOnly {
			continue
		}
		out = append(out, kit.BotCommand{Command: c.Name, Description: c.Description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Command < out[j].Command })
	return out
}

// Run consumes updates until ctx is canceled or updates is closed.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx, rtsup.WithLogger(r.log))
	for i := 0; i < r.workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-r.jobs:
					r.runJob(idx, job)
				}
			}
		}, 200*time.Millisecond, 5*time.Second)
	}
	r.log.Info("command dispatcher started", logx.Int("workers", r.workers), logx.Int("job_queue_cap", cap(r.jobs)))

	defer func() {
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Stop(wctx)
		cancel()
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if job := r.Route(ctx, up); job != nil {
				select {
				case r.jobs <- job:
				default:
					r.busy(ctx, up)
				}
			}
		}
	}
}

func (r *Router) runJob(worker int, job func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

func (r *Router) busy(ctx context.Context, up kit.Update) {
	switch {
	case up.Message != nil:
		_, _ = r.adapter.SendText(ctx, up.Message.ChatID, textBusy, nil)
	case up.Callback != nil:
		_ = r.adapter.AnswerCallback(ctx, up.Callback.ID, textBusy, false)
	}
}

// Route resolves an update into a ready-to-run job, or nil when nothing
// handles it. Access denials are answered inline.
func (r *Router) Route(ctx context.Context, up kit.Update) func() {
	switch up.Kind {
	case kit.UpdateMessage:
		if up.Message != nil {
			return r.routeMessage(ctx, up)
		}
	case kit.UpdateCallback:
		if up.Callback != nil {
			return r.routeCallback(ctx, up)
		}
	}
	return nil
}

func (r *Router) routeMessage(ctx context.Context, up kit.Update) func() {
	msg := up.Message
	text := strings.TrimSpace(msg.Text)

	r.mu.RLock()
	owners := r.owners
	textHandler, isButton := r.texts[text]
	r.mu.RUnlock()

	if isButton {
		req := r.newRequest(up, msg.ChatID, msg.From, "text:"+text)
		return r.job(ctx, req, textHandler, 0)
	}
	if !strings.HasPrefix(text, "/") {
		return nil
	}

	fields := strings.Fields(text)
	name := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}

	r.mu.RLock()
	cmd, ok := r.commands[name]
	r.mu.RUnlock()
	if !ok {
		_, _ = r.adapter.SendText(ctx, msg.ChatID, textUnknownCommand, nil)
		return nil
	}
	if cmd.Access == AccessOwnerOnly && !isOwner(msg.From.ID, owners) {
		_, _ = r.adapter.SendText(ctx, msg.ChatID, textUnauthorized, nil)
		return nil
	}
	req := r.newRequest(up, msg.ChatID, msg.From, cmd.Name)
	req.Args = fields[1:]
	return r.job(ctx, req, cmd.Handle, cmd.Timeout)
}

func (r *Router) routeCallback(ctx context.Context, up kit.Update) func() {
	cb := up.Callback
	prefix, payload := tgui.SplitData(strings.TrimSpace(cb.Data))

	r.mu.RLock()
	owners := r.owners
	route, ok := r.callbacks[prefix]
	r.mu.RUnlock()
	if !ok {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "", false)
		return nil
	}
	if route.Access == AccessOwnerOnly && !isOwner(cb.From.ID, owners) {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, textUnauthorized, true)
		return nil
	}
	req := r.newRequest(up, cb.ChatID, cb.From, "cb:"+prefix)
	req.Payload = payload
	run := r.job(ctx, req, route.Handle, route.Timeout)
	return func() {
		run()
		// stop the button's loading spinner
		_ = req.Answer(ctx, "", false)
	}
}

func (r *Router) newRequest(up kit.Update, chatID int64, from kit.User, command string) *Request {
	rid := uuid.NewString()[:8]
	return &Request{
		Update:  up,
		ChatID:  chatID,
		From:    from,
		Command: command,
		RID:     rid,
		adapter: r.adapter,
		Log: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", chatID),
			logx.Int64("from_id", from.ID),
			logx.String("cmd", command),
		),
	}
}

func (r *Router) job(ctx context.Context, req *Request, h HandlerFunc, timeout time.Duration) func() {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	final := Chain(h, MWPanicRecover(), MWRequestLog(), MWTimeout(timeout))
	return func() { _ = final(ctx, req) }
}

func isOwner(id int64, owners []int64) bool {
	for _, o := range owners {
		if o == id {
			return true
		}
	}
	return false
}
