package bot

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	tele "gopkg.in/telebot.v4"

	"schedbot/internal/schedule"
	"schedbot/internal/storage"
	kit "schedbot/internal/transport"
	"schedbot/pkg/tgui"
	logx "schedbot/pkg/logx"
)

const (
	cbSubscribe   = "subscribe"
	cbUnsubscribe = "unsubscribe"
)

func mainKeyboard(subscribed bool) *tele.ReplyMarkup {
	first := btnSubscribe
	if subscribed {
		first = btnUnsubscribe
	}
	return tgui.NewReply(keyboardPlaceholder).
		Row(first).
		Row(btnTomorrow, btnPickDate).
		Row(btnInfo).
		Markup()
}

func subscribeInline(subscribed bool) *tele.ReplyMarkup {
	if subscribed {
		return tgui.NewInline().Row(tgui.Btn(btnUnsubscribe, cbUnsubscribe)).Markup()
	}
	return tgui.NewInline().Row(tgui.Btn(btnSubscribe, cbSubscribe)).Markup()
}

func withKeyboard(rm *tele.ReplyMarkup) *kit.SendOptions {
	return &kit.SendOptions{ReplyMarkup: rm}
}

func displayName(u kit.User) string {
	if n := strings.TrimSpace(u.FirstName); n != "" {
		return n
	}
	if u.Username != "" {
		return "@" + u.Username
	}
	return "друг"
}

// isSubscribed treats a store failure as "not subscribed".
func (b *Bot) isSubscribed(ctx context.Context, req *Request) bool {
	ok, err := b.store.IsSubscribed(ctx, req.From.ID)
	if err != nil {
		req.Log.Warn("subscription lookup failed", logx.Err(err))
		return false
	}
	return ok
}

func (b *Bot) start(ctx context.Context, req *Request) error {
	subscribed := b.isSubscribed(ctx, req)

	status := textStatusNotSubscribed
	if subscribed {
		status = textStatusSubscribed
	}
	text := fmt.Sprintf(textGreeting, displayName(req.From)) + "\n\n" +
		fmt.Sprintf(textStartIntro, b.opt.SendAt) + "\n\n" +
		status + "\n\n" +
		textStartFooter

	_, err := req.Reply(ctx, text, withKeyboard(mainKeyboard(subscribed)))
	req.Log.Info("user started bot", logx.String("username", req.From.Username))
	return err
}

func (b *Bot) subscribe(ctx context.Context, req *Request) error {
	added, err := b.addSubscriber(ctx, req)
	switch {
	case err != nil:
		_, err = req.Reply(ctx, textSubscribeFailed, withKeyboard(mainKeyboard(false)))
	case !added:
		_, err = req.Reply(ctx, textAlreadySubscribed, withKeyboard(mainKeyboard(true)))
	default:
		_, err = req.Reply(ctx, textSubscribed, withKeyboard(mainKeyboard(true)))
	}
	return err
}

func (b *Bot) unsubscribe(ctx context.Context, req *Request) error {
	removed, err := b.removeSubscriber(ctx, req)
	switch {
	case err != nil:
		_, err = req.Reply(ctx, textUnsubscribeFailed, withKeyboard(mainKeyboard(true)))
	case !removed:
		_, err = req.Reply(ctx, textNotSubscribed, withKeyboard(mainKeyboard(false)))
	default:
		_, err = req.Reply(ctx, textUnsubscribed, withKeyboard(mainKeyboard(false)))
	}
	return err
}

func (b *Bot) addSubscriber(ctx context.Context, req *Request) (bool, error) {
	added, err := b.store.AddSubscriber(ctx, storage.Subscriber{
		ID:           req.From.ID,
		Username:     req.From.Username,
		FirstName:    req.From.FirstName,
		SubscribedAt: b.opt.Now(),
	})
	if err != nil {
		req.Log.Error("subscribe failed", logx.Err(err))
		return false, err
	}
	if added {
		req.Log.Info("user subscribed", logx.String("username", req.From.Username))
		b.refreshSubscribers(ctx)
	}
	return added, nil
}

func (b *Bot) removeSubscriber(ctx context.Context, req *Request) (bool, error) {
	removed, err := b.store.RemoveSubscriber(ctx, req.From.ID)
	if err != nil {
		req.Log.Error("unsubscribe failed", logx.Err(err))
		return false, err
	}
	if removed {
		req.Log.Info("user unsubscribed")
		b.refreshSubscribers(ctx)
	}
	return removed, nil
}

func (b *Bot) info(ctx context.Context, req *Request) error {
	text := fmt.Sprintf(textInfo, b.opt.SendAt, b.opt.SiteURL, b.commandList())
	_, err := req.Reply(ctx, text, &kit.SendOptions{
		DisablePreview: true,
		ReplyMarkup:    subscribeInline(b.isSubscribed(ctx, req)),
	})
	return err
}

var ruMagnitudes = []humanize.RelTimeMagnitude{
	{D: time.Second, Format: "только что", DivBy: time.Second},
	{D: time.Minute, Format: "%d сек. %s", DivBy: time.Second},
	{D: time.Hour, Format: "%d мин. %s", DivBy: time.Minute},
	{D: humanize.Day, Format: "%d ч. %s", DivBy: time.Hour},
	{D: humanize.Week, Format: "%d дн. %s", DivBy: humanize.Day},
	{D: math.MaxInt64, Format: "%d нед. %s", DivBy: humanize.Week},
}

func relTime(t, now time.Time) string {
	return humanize.CustomRelTime(t, now, "назад", "спустя", ruMagnitudes)
}

func (b *Bot) stats(ctx context.Context, req *Request) error {
	now := b.opt.Now()
	msg := tgui.New().Title("📊", "Статистика бота:").Blank()

	n, err := b.store.CountSubscribers(ctx)
	if err != nil {
		req.Log.Error("count subscribers failed", logx.Err(err))
		_, err = req.Reply(ctx, textError, nil)
		return err
	}
	b.opt.Metrics.SetSubscribers(n)
	msg.KV("👥 Всего подписчиков", humanize.Comma(int64(n)))

	if b.trig != nil {
		if next := b.trig.NextFire(); !next.IsZero() {
			next = next.In(b.opt.Location)
			msg.KV("⏰ Следующая рассылка", next.Format("02.01.2006 15:04")+" ("+relTime(next, now)+")")
		}
	}

	last, ok, err := b.store.LastBroadcast(ctx)
	if err != nil {
		req.Log.Warn("last broadcast lookup failed", logx.Err(err))
	}
	if ok {
		msg.KV("📤 Последняя рассылка", last.At.In(b.opt.Location).Format("02.01.2006 15:04")+" ("+relTime(last.At, now)+")").
			KV("✅ Доставлено", humanize.Comma(int64(last.Success))+" из "+humanize.Comma(int64(last.Total))).
			KV("🚫 Заблокировали", humanize.Comma(int64(last.Blocked))).
			KV("⚠️ Ошибок", humanize.Comma(int64(last.Errors)))
		// Operators may prune old images.
		if fi, err := os.Stat(last.Image); last.Image != "" && err == nil && !fi.IsDir() {
			msg.KV("📎 Файл", filepath.Base(last.Image)+" ("+humanize.Bytes(uint64(fi.Size()))+")")
		}
	}

	_, err = msg.Build().Send(ctx, b.ad, req.ChatID)
	return err
}

func (b *Bot) check(ctx context.Context, req *Request) error {
	changed, rep := b.trig.CheckNow(ctx)
	text := textCheckUnchanged
	if changed {
		text = fmt.Sprintf(textCheckSent, rep.Success, rep.Errors, rep.Blocked, rep.Total)
	}
	_, err := req.Reply(ctx, text, nil)
	return err
}

func (b *Bot) tomorrow(ctx context.Context, req *Request) error {
	ref, err := req.Reply(ctx, textLoadingTomorrow, nil)
	if err != nil {
		return err
	}
	date := schedule.Tomorrow(b.opt.Now(), b.opt.Location)
	return b.deliverDate(ctx, req, ref, date, textTryLater)
}

func (b *Bot) pickDate(ctx context.Context, req *Request) error {
	today := b.opt.Now().In(b.opt.Location)
	_, err := req.Reply(ctx, textPickDate, withKeyboard(datePicker(today)))
	return err
}

func (b *Bot) cbDate(ctx context.Context, req *Request) error {
	date, err := parsePickedDate(req.Payload, b.opt.Location)
	if err != nil {
		req.Log.Warn("bad date payload", logx.String("payload", req.Payload))
		return req.Answer(ctx, textBadDate, true)
	}
	_ = req.Answer(ctx, fmt.Sprintf(textLoadingDate, date.Format(shortLayout)), false)

	cb := req.Update.Callback
	ref := kit.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}
	if err := b.ad.EditText(ctx, ref, textLoading, nil); err != nil {
		req.Log.Warn("edit failed", logx.Err(err))
	}
	return b.deliverDate(ctx, req, ref, date, textTryOtherDate)
}

// deliverDate fetches the schedule for date, reports progress in the ref
// message and sends the photo to the requesting chat.
func (b *Bot) deliverDate(ctx context.Context, req *Request, ref kit.MessageRef, date time.Time, hint string) error {
	label := date.Format(shortLayout)
	art, ok := b.fetch.Fetch(ctx, date)
	if !ok {
		return b.ad.EditText(ctx, ref, fmt.Sprintf(textNotPublished, label, hint), nil)
	}
	if err := b.ad.EditText(ctx, ref, textSending, nil); err != nil {
		req.Log.Warn("edit failed", logx.Err(err))
	}
	_, err := b.ad.SendPhoto(ctx, req.ChatID, kit.Photo{
		Path:    art.Path,
		Caption: fmt.Sprintf(captionForDate, label),
	})
	if err != nil {
		req.Log.Error("send schedule failed", logx.String("date", label), logx.Err(err))
		_, _ = req.Reply(ctx, textLoadFailed, nil)
		return err
	}
	req.Log.Info("schedule sent on request", logx.String("date", label), logx.String("path", art.Path))
	return nil
}

func (b *Bot) cbSubscribe(ctx context.Context, req *Request) error {
	added, err := b.addSubscriber(ctx, req)
	switch {
	case err != nil:
		return req.Answer(ctx, textSubscribeFailed, true)
	case !added:
		return req.Answer(ctx, cbAlertAlreadySubscribed, true)
	}
	_ = req.Answer(ctx, cbAlertSubscribed, true)
	return b.replaceInline(ctx, req, textSubscribed)
}

func (b *Bot) cbUnsubscribe(ctx context.Context, req *Request) error {
	removed, err := b.removeSubscriber(ctx, req)
	switch {
	case err != nil:
		return req.Answer(ctx, textUnsubscribeFailed, true)
	case !removed:
		return req.Answer(ctx, cbAlertNotSubscribed, true)
	}
	_ = req.Answer(ctx, cbAlertUnsubscribed, true)
	return b.replaceInline(ctx, req, textUnsubscribed)
}

// replaceInline rewrites the callback's message, dropping its inline keyboard.
func (b *Bot) replaceInline(ctx context.Context, req *Request, text string) error {
	cb := req.Update.Callback
	return b.ad.EditText(ctx, kit.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}, text, nil)
}
