package bot

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	"schedbot/internal/broadcast"
	"schedbot/internal/scraper"
	"schedbot/internal/storage"
	kit "schedbot/internal/transport"
	logx "schedbot/pkg/logx"
)

type sentText struct {
	chatID int64
	text   string
	opt    *kit.SendOptions
}

type editedText struct {
	ref  kit.MessageRef
	text string
}

type answer struct {
	id    string
	text  string
	alert bool
}

type sentPhoto struct {
	chatID int64
	photo  kit.Photo
}

type fakeAdapter struct {
	mu      sync.Mutex
	nextID  int
	texts   []sentText
	edits   []editedText
	answers []answer
	photos  []sentPhoto
	menu    []kit.BotCommand
	notify  chan struct{}
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                        { return nil }

func (f *fakeAdapter) SendText(ctx context.Context, chatID int64, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	f.nextID++
	f.texts = append(f.texts, sentText{chatID: chatID, text: text, opt: opt})
	ref := kit.MessageRef{ChatID: chatID, MessageID: f.nextID}
	f.mu.Unlock()
	if f.notify != nil {
		select {
		case f.notify <- struct{}{}:
		default:
		}
	}
	return ref, nil
}

func (f *fakeAdapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, editedText{ref: ref, text: text})
	return nil
}

func (f *fakeAdapter) AnswerCallback(ctx context.Context, id, text string, alert bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, answer{id: id, text: text, alert: alert})
	return nil
}

func (f *fakeAdapter) SendPhoto(ctx context.Context, chatID int64, p kit.Photo) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.photos = append(f.photos, sentPhoto{chatID: chatID, photo: p})
	return "file-1", nil
}

func (f *fakeAdapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.menu = cmds
	return nil
}

func (f *fakeAdapter) lastText(t *testing.T) sentText {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.texts) == 0 {
		t.Fatal("no text sent")
	}
	return f.texts[len(f.texts)-1]
}

type fakeFetcher struct {
	art   scraper.Artifact
	found bool
	dates []time.Time
}

func (f *fakeFetcher) Fetch(ctx context.Context, date time.Time) (scraper.Artifact, bool) {
	f.dates = append(f.dates, date)
	if !f.found {
		return scraper.Artifact{}, false
	}
	a := f.art
	a.Date = date
	return a, true
}

type fakeTrigger struct {
	changed bool
	report  broadcast.Report
	next    time.Time
	calls   int
}

func (f *fakeTrigger) CheckNow(ctx context.Context) (bool, broadcast.Report) {
	f.calls++
	return f.changed, f.report
}

func (f *fakeTrigger) NextFire() time.Time { return f.next }

const (
	ownerID = 1000
	userID  = 42
)

type harness struct {
	ad     *fakeAdapter
	store  storage.Store
	fetch  *fakeFetcher
	trig   *fakeTrigger
	router *Router
	now    time.Time
	loc    *time.Location
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	loc := time.FixedZone("MSK", 3*3600)
	h := &harness{
		ad:    &fakeAdapter{},
		fetch: &fakeFetcher{},
		trig:  &fakeTrigger{},
		now:   time.Date(2024, 9, 3, 15, 0, 0, 0, loc),
		loc:   loc,
	}
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "schedbot.json")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	h.store = st

	b := New(h.ad, st, h.fetch, h.trig, Options{
		SendAt:   "18:00",
		SiteURL:  "https://lsxt.my1.ru/blog/",
		Location: loc,
		Now:      func() time.Time { return h.now },
	}, logx.Nop())
	h.router = NewRouter(h.ad, []int64{ownerID}, logx.Nop())
	b.Register(h.router)
	return h
}

func (h *harness) text(t *testing.T, from int64, text string) {
	t.Helper()
	up := kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ID:     1,
		ChatID: from,
		From:   kit.User{ID: from, Username: "ann", FirstName: "Ann"},
		Text:   text,
	}}
	if job := h.router.Route(context.Background(), up); job != nil {
		job()
	}
}

func (h *harness) callback(t *testing.T, from int64, data string) {
	t.Helper()
	up := kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{
		ID:        "cb-1",
		ChatID:    from,
		MessageID: 77,
		From:      kit.User{ID: from, Username: "ann", FirstName: "Ann"},
		Data:      data,
	}}
	if job := h.router.Route(context.Background(), up); job != nil {
		job()
	}
}

func firstReplyButton(t *testing.T, opt *kit.SendOptions) string {
	t.Helper()
	if opt == nil {
		t.Fatal("no send options")
	}
	rm, ok := opt.ReplyMarkup.(*tele.ReplyMarkup)
	if !ok || len(rm.ReplyKeyboard) == 0 || len(rm.ReplyKeyboard[0]) == 0 {
		t.Fatalf("no reply keyboard: %#v", opt.ReplyMarkup)
	}
	return rm.ReplyKeyboard[0][0].Text
}

func TestStartShowsStatusAndKeyboard(t *testing.T) {
	h := newHarness(t)

	h.text(t, userID, "/start")
	got := h.ad.lastText(t)
	if !strings.Contains(got.text, "Привет, Ann!") || !strings.Contains(got.text, textStatusNotSubscribed) {
		t.Fatalf("unexpected greeting: %q", got.text)
	}
	if !strings.Contains(got.text, "18:00") {
		t.Fatalf("greeting lacks send time: %q", got.text)
	}
	if b := firstReplyButton(t, got.opt); b != btnSubscribe {
		t.Fatalf("first button = %q", b)
	}

	h.text(t, userID, "/subscribe")
	h.text(t, userID, "/start@schedbot")
	got = h.ad.lastText(t)
	if !strings.Contains(got.text, textStatusSubscribed) {
		t.Fatalf("expected subscribed status: %q", got.text)
	}
	if b := firstReplyButton(t, got.opt); b != btnUnsubscribe {
		t.Fatalf("first button = %q", b)
	}
}

func TestSubscribeIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.text(t, userID, "/subscribe")
	if got := h.ad.lastText(t).text; got != textSubscribed {
		t.Fatalf("first subscribe = %q", got)
	}
	h.text(t, userID, btnSubscribe)
	if got := h.ad.lastText(t).text; got != textAlreadySubscribed {
		t.Fatalf("second subscribe = %q", got)
	}
	n, err := h.store.CountSubscribers(ctx)
	if err != nil || n != 1 {
		t.Fatalf("count = %d, %v", n, err)
	}
	subs, _ := h.store.ListSubscribers(ctx)
	if subs[0].Username != "ann" || subs[0].FirstName != "Ann" || !subs[0].SubscribedAt.Equal(h.now) {
		t.Fatalf("stored subscriber = %+v", subs[0])
	}

	h.text(t, userID, btnUnsubscribe)
	if got := h.ad.lastText(t).text; got != textUnsubscribed {
		t.Fatalf("unsubscribe = %q", got)
	}
	h.text(t, userID, "/unsubscribe")
	if got := h.ad.lastText(t); got.text != textNotSubscribed || firstReplyButton(t, got.opt) != btnSubscribe {
		t.Fatalf("second unsubscribe = %q", got.text)
	}
}

func TestTomorrowNotPublished(t *testing.T) {
	h := newHarness(t)

	h.text(t, userID, btnTomorrow)
	if got := h.ad.lastText(t).text; got != textLoadingTomorrow {
		t.Fatalf("loading = %q", got)
	}
	if len(h.fetch.dates) != 1 {
		t.Fatalf("fetches = %d", len(h.fetch.dates))
	}
	if d := h.fetch.dates[0]; d.Format("2006-01-02") != "2024-09-04" || d.Location() != h.loc {
		t.Fatalf("fetched date = %v", d)
	}
	want := "❌ Расписание на 04.09.2024 пока не опубликовано.\nПопробуйте позже."
	if len(h.ad.edits) != 1 || h.ad.edits[0].text != want {
		t.Fatalf("edits = %+v", h.ad.edits)
	}
	if len(h.ad.photos) != 0 {
		t.Fatalf("photo sent for missing schedule")
	}
}

func TestTomorrowSendsPhoto(t *testing.T) {
	h := newHarness(t)
	h.fetch.found = true
	h.fetch.art = scraper.Artifact{Path: "/tmp/schedule_20240903_150000.jpg"}

	h.text(t, userID, btnTomorrow)
	if len(h.ad.edits) != 1 || h.ad.edits[0].text != textSending {
		t.Fatalf("edits = %+v", h.ad.edits)
	}
	if len(h.ad.photos) != 1 {
		t.Fatalf("photos = %d", len(h.ad.photos))
	}
	p := h.ad.photos[0]
	if p.chatID != userID || p.photo.Path != h.fetch.art.Path || p.photo.Caption != "📅 Расписание на 04.09.2024" {
		t.Fatalf("photo = %+v", p)
	}
}

func TestPickDateAndCallback(t *testing.T) {
	h := newHarness(t)
	h.fetch.found = true
	h.fetch.art = scraper.Artifact{Path: "/tmp/s.jpg"}

	h.text(t, userID, btnPickDate)
	got := h.ad.lastText(t)
	if got.text != textPickDate {
		t.Fatalf("prompt = %q", got.text)
	}
	rm, ok := got.opt.ReplyMarkup.(*tele.ReplyMarkup)
	if !ok || len(rm.InlineKeyboard) != 28 {
		t.Fatalf("picker markup = %#v", got.opt.ReplyMarkup)
	}

	h.callback(t, userID, "date:20240910")
	if len(h.ad.answers) != 1 || h.ad.answers[0].text != "Загружаю расписание на 10.09.2024..." {
		t.Fatalf("answers = %+v", h.ad.answers)
	}
	if len(h.ad.edits) != 2 || h.ad.edits[0].text != textLoading || h.ad.edits[1].text != textSending {
		t.Fatalf("edits = %+v", h.ad.edits)
	}
	if h.ad.edits[0].ref.MessageID != 77 {
		t.Fatalf("edited message %d, want 77", h.ad.edits[0].ref.MessageID)
	}
	if len(h.ad.photos) != 1 || h.ad.photos[0].photo.Caption != "📅 Расписание на 10.09.2024" {
		t.Fatalf("photos = %+v", h.ad.photos)
	}
}

func TestDateCallbackNotPublished(t *testing.T) {
	h := newHarness(t)

	h.callback(t, userID, "date:20240910")
	want := "❌ Расписание на 10.09.2024 пока не опубликовано.\nПопробуйте выбрать другую дату."
	if n := len(h.ad.edits); n != 2 || h.ad.edits[1].text != want {
		t.Fatalf("edits = %+v", h.ad.edits)
	}
}

func TestDateCallbackBadPayload(t *testing.T) {
	h := newHarness(t)

	h.callback(t, userID, "date:nope")
	if len(h.ad.answers) != 1 || h.ad.answers[0].text != textBadDate || !h.ad.answers[0].alert {
		t.Fatalf("answers = %+v", h.ad.answers)
	}
	if len(h.fetch.dates) != 0 {
		t.Fatal("fetched on bad payload")
	}
}

func TestInlineSubscribeCallbacks(t *testing.T) {
	h := newHarness(t)

	h.callback(t, userID, cbSubscribe)
	if len(h.ad.answers) != 1 || h.ad.answers[0].text != cbAlertSubscribed || !h.ad.answers[0].alert {
		t.Fatalf("answers = %+v", h.ad.answers)
	}
	if len(h.ad.edits) != 1 || h.ad.edits[0].text != textSubscribed {
		t.Fatalf("edits = %+v", h.ad.edits)
	}

	h.callback(t, userID, cbSubscribe)
	if last := h.ad.answers[len(h.ad.answers)-1]; last.text != cbAlertAlreadySubscribed {
		t.Fatalf("second answer = %+v", last)
	}

	h.callback(t, userID, cbUnsubscribe)
	if last := h.ad.answers[len(h.ad.answers)-1]; last.text != cbAlertUnsubscribed {
		t.Fatalf("unsubscribe answer = %+v", last)
	}
	h.callback(t, userID, cbUnsubscribe)
	if last := h.ad.answers[len(h.ad.answers)-1]; last.text != cbAlertNotSubscribed {
		t.Fatalf("second unsubscribe answer = %+v", last)
	}
}

func TestUnknownCallbackIsAnswered(t *testing.T) {
	h := newHarness(t)

	h.callback(t, userID, "stale:1")
	if len(h.ad.answers) != 1 || h.ad.answers[0].text != "" {
		t.Fatalf("answers = %+v", h.ad.answers)
	}
}

func TestCheckIsOwnerOnly(t *testing.T) {
	h := newHarness(t)
	h.trig.changed = true
	h.trig.report = broadcast.Report{Total: 3, Success: 2, Blocked: 1}

	h.text(t, userID, "/check")
	if got := h.ad.lastText(t).text; got != textUnauthorized {
		t.Fatalf("non-owner reply = %q", got)
	}
	if h.trig.calls != 0 {
		t.Fatal("check ran for non-owner")
	}

	h.text(t, ownerID, "/check")
	want := "📤 Разослано новое расписание.\nУспешно: 2, ошибок: 0, заблокировали: 1, всего: 3"
	if got := h.ad.lastText(t).text; got != want {
		t.Fatalf("owner reply = %q", got)
	}

	h.trig.changed = false
	h.text(t, ownerID, "/check")
	if got := h.ad.lastText(t).text; got != textCheckUnchanged {
		t.Fatalf("unchanged reply = %q", got)
	}
}

func TestStats(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.trig.next = time.Date(2024, 9, 3, 18, 0, 0, 0, h.loc)

	img := filepath.Join(t.TempDir(), "schedule_20240902_180000.jpg")
	if err := os.WriteFile(img, make([]byte, 1500), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	h.text(t, userID, "/subscribe")
	if err := h.store.AppendBroadcast(ctx, storage.BroadcastRecord{
		At: h.now.Add(-2 * time.Hour), Kind: "daily", Image: img, Total: 5, Success: 4, Errors: 1,
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	h.text(t, userID, "/stats")
	got := h.ad.lastText(t)
	if got.opt == nil || got.opt.ParseMode != "HTML" {
		t.Fatalf("stats opt = %+v", got.opt)
	}
	for _, want := range []string{
		"Всего подписчиков</b>: 1",
		"03.09.2024 18:00 (3 ч. спустя)",
		"4 из 5",
		"(2 ч. назад)",
		"schedule_20240902_180000.jpg (1.5 kB)",
	} {
		if !strings.Contains(got.text, want) {
			t.Fatalf("stats missing %q:\n%s", want, got.text)
		}
	}

	// A pruned image drops the file line but keeps the rest.
	if err := os.Remove(img); err != nil {
		t.Fatalf("remove: %v", err)
	}
	h.text(t, userID, "/stats")
	got = h.ad.lastText(t)
	if strings.Contains(got.text, "📎") || !strings.Contains(got.text, "4 из 5") {
		t.Fatalf("stats after prune:\n%s", got.text)
	}
}

func TestInfoListsPublicCommands(t *testing.T) {
	h := newHarness(t)

	h.text(t, userID, btnInfo)
	got := h.ad.lastText(t)
	if !strings.Contains(got.text, "/subscribe - Подписаться на рассылку") || strings.Contains(got.text, "/check") {
		t.Fatalf("info = %q", got.text)
	}
	if !strings.Contains(got.text, "https://lsxt.my1.ru/blog/") {
		t.Fatalf("info lacks site: %q", got.text)
	}
	rm, ok := got.opt.ReplyMarkup.(*tele.ReplyMarkup)
	if !ok || len(rm.InlineKeyboard) != 1 || rm.InlineKeyboard[0][0].Data != cbSubscribe {
		t.Fatalf("info markup = %#v", got.opt.ReplyMarkup)
	}
}

func TestUnknownCommandAndPlainText(t *testing.T) {
	h := newHarness(t)

	h.text(t, userID, "/nope")
	if got := h.ad.lastText(t).text; got != textUnknownCommand {
		t.Fatalf("reply = %q", got)
	}
	n := len(h.ad.texts)
	h.text(t, userID, "hello there")
	if len(h.ad.texts) != n {
		t.Fatal("plain text got a reply")
	}
}

func TestMenuHidesOwnerCommands(t *testing.T) {
	h := newHarness(t)

	UpdateMenu(context.Background(), h.ad, h.router, logx.Nop())
	if len(h.ad.menu) != 5 {
		t.Fatalf("menu = %+v", h.ad.menu)
	}
	for _, c := range h.ad.menu {
		if c.Command == "check" {
			t.Fatal("owner command in menu")
		}
	}
	if h.ad.menu[0].Command != "info" {
		t.Fatalf("menu not sorted: %+v", h.ad.menu)
	}
}

func TestRunDispatchesThroughWorkers(t *testing.T) {
	h := newHarness(t)
	h.ad.notify = make(chan struct{}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 1)
	done := make(chan error, 1)
	go func() { done <- h.router.Run(ctx, updates) }()

	updates <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ChatID: userID, From: kit.User{ID: userID, FirstName: "Ann"}, Text: "/start",
	}}
	select {
	case <-h.ad.notify:
	case <-time.After(2 * time.Second):
		t.Fatal("update was not handled")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}
