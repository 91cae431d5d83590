package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/cespare/xxhash/v2"
	"github.com/dustin/go-humanize"

	"schedbot/internal/observability"
	logx "schedbot/pkg/logx"
)

// Artifact is a downloaded schedule image.
type Artifact struct {
	Date        time.Time
	Path        string
	SourceURL   string
	Fingerprint string // xxhash64 of the raw bytes, hex
	Size        int64
	RetrievedAt time.Time
}

func (a Artifact) IsZero() bool { return a.Path == "" }

type Options struct {
	// BaseURL is the page prefix; the date as YYYY-MM-DD is appended.
	BaseURL string
	// Origin resolves relative image sources.
	Origin    string
	Dir       string
	Timeout   time.Duration
	UserAgent string
	Matchers  []Matcher

	Client  *http.Client
	Metrics observability.Metrics
	Now     func() time.Time
}

// Fetcher locates and downloads the schedule image for a date.
// Every failure is reported as "not found" and logged.
type Fetcher struct {
	opt    Options
	client *http.Client
	log    logx.Logger

	// nameMu serialises archive name reservation.
	nameMu sync.Mutex
}

func New(opt Options, log logx.Logger) *Fetcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opt.Timeout <= 0 {
		opt.Timeout = 30 * time.Second
	}
	if opt.Dir == "" {
		opt.Dir = "."
	}
	if opt.Metrics == nil {
		opt.Metrics = observability.Nop{}
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	client := opt.Client
	if client == nil {
		client = &http.Client{Timeout: opt.Timeout}
	}
	return &Fetcher{opt: opt, client: client, log: log.With(logx.String("comp", "scraper"))}
}

func (f *Fetcher) Dir() string { return f.opt.Dir }

func (f *Fetcher) PageURL(date time.Time) string {
	return f.opt.BaseURL + date.Format("2006-01-02")
}

// Fetch downloads the schedule for date into a fresh timestamped file in Dir.
func (f *Fetcher) Fetch(ctx context.Context, date time.Time) (Artifact, bool) {
	src, ok := f.FindImage(ctx, date)
	if !ok {
		return Artifact{}, false
	}
	dst, err := f.reserveArchivePath(ExtOf(src))
	if err != nil {
		f.log.Error("reserve archive path failed", logx.Err(err))
		f.opt.Metrics.IncFetch("error")
		return Artifact{}, false
	}
	return f.download(ctx, date, src, dst)
}

// FetchTo downloads the schedule for date into dst, replacing it.
func (f *Fetcher) FetchTo(ctx context.Context, date time.Time, dst string) (Artifact, bool) {
	src, ok := f.FindImage(ctx, date)
	if !ok {
		return Artifact{}, false
	}
	return f.download(ctx, date, src, dst)
}

// FindImage returns the absolute URL of the schedule image on the date's page.
func (f *Fetcher) FindImage(ctx context.Context, date time.Time) (string, bool) {
	pageURL := f.PageURL(date)
	log := f.log.With(logx.String("url", pageURL))

	resp, err := f.get(ctx, pageURL)
	if err != nil {
		log.Warn("page request failed", logx.Err(err))
		f.opt.Metrics.IncFetch("error")
		return "", false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Info("page not available", logx.Int("status", resp.StatusCode))
		f.opt.Metrics.IncFetch("not_found")
		return "", false
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		log.Warn("page parse failed", logx.Err(err))
		f.opt.Metrics.IncFetch("error")
		return "", false
	}
	var srcs []string
	doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		if v := strings.TrimSpace(s.AttrOr("src", "")); v != "" {
			srcs = append(srcs, v)
		}
	})

	src, matcher, ok := pick(srcs, f.opt.Matchers)
	if !ok {
		log.Info("no schedule image on page", logx.Int("images", len(srcs)))
		f.opt.Metrics.IncFetch("not_found")
		return "", false
	}
	abs, err := f.resolve(src)
	if err != nil {
		log.Warn("bad image url", logx.String("src", src), logx.Err(err))
		f.opt.Metrics.IncFetch("error")
		return "", false
	}
	log.Debug("schedule image found", logx.String("src", abs), logx.String("matcher", matcher))
	return abs, true
}

func (f *Fetcher) get(ctx context.Context, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if f.opt.UserAgent != "" {
		req.Header.Set("User-Agent", f.opt.UserAgent)
	}
	return f.client.Do(req)
}

func (f *Fetcher) resolve(src string) (string, error) {
	ref, err := url.Parse(src)
	if err != nil {
		return "", err
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	base, err := url.Parse(f.opt.Origin)
	if err != nil {
		return "", err
	}
	if base.Path == "" {
		base.Path = "/"
	}
	return base.ResolveReference(ref).String(), nil
}

func (f *Fetcher) download(ctx context.Context, date time.Time, src, dst string) (Artifact, bool) {
	log := f.log.With(logx.String("src", src), logx.String("path", dst))

	resp, err := f.get(ctx, src)
	if err != nil {
		log.Warn("image request failed", logx.Err(err))
		f.opt.Metrics.IncFetch("error")
		f.cleanup(dst)
		return Artifact{}, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Warn("image not available", logx.Int("status", resp.StatusCode))
		f.opt.Metrics.IncFetch("error")
		f.cleanup(dst)
		return Artifact{}, false
	}

	size, sum, err := writeHashed(dst, resp.Body)
	if err != nil {
		log.Warn("image download failed", logx.Err(err))
		f.opt.Metrics.IncFetch("error")
		f.cleanup(dst)
		return Artifact{}, false
	}

	art := Artifact{
		Date:        date,
		Path:        dst,
		SourceURL:   src,
		Fingerprint: sum,
		Size:        size,
		RetrievedAt: f.opt.Now(),
	}
	f.opt.Metrics.IncFetch("found")
	log.Info("schedule downloaded", logx.String("size", humanize.Bytes(uint64(size))), logx.String("fingerprint", sum))
	return art, true
}

func (f *Fetcher) cleanup(p string) {
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		f.log.Warn("remove partial file failed", logx.String("path", p), logx.Err(err))
	}
}

// writeHashed streams r into path while computing the fingerprint.
func writeHashed(p string, r io.Reader) (int64, string, error) {
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return 0, "", err
	}
	out, err := os.OpenFile(p, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, "", err
	}
	h := xxhash.New()
	n, err := io.Copy(io.MultiWriter(out, h), r)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, "", err
	}
	return n, Fingerprint(h.Sum64()), nil
}

// reserveArchivePath creates an empty schedule_YYYYMMDD_HHMMSS[_n]<ext> file
// in Dir so that concurrent fetches never share a name.
func (f *Fetcher) reserveArchivePath(ext string) (string, error) {
	f.nameMu.Lock()
	defer f.nameMu.Unlock()
	return ReserveArchivePath(f.opt.Dir, f.opt.Now(), ext)
}

// ReserveArchivePath creates and returns a file name that did not exist yet.
func ReserveArchivePath(dir string, now time.Time, ext string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if ext == "" {
		ext = ".jpg"
	}
	stem := "schedule_" + now.Format("20060102_150405")
	for i := 0; i < 1000; i++ {
		name := stem
		if i > 0 {
			name += "_" + strconv.Itoa(i)
		}
		p := filepath.Join(dir, name+ext)
		fh, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", err
		}
		_ = fh.Close()
		return p, nil
	}
	return "", fmt.Errorf("no free archive name for %s in %s", stem, dir)
}

// Fingerprint formats a 64-bit content hash.
func Fingerprint(sum uint64) string { return fmt.Sprintf("%016x", sum) }

// FingerprintFile hashes an existing file.
func FingerprintFile(p string) (string, error) {
	fh, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer fh.Close()
	h := xxhash.New()
	if _, err := io.Copy(h, fh); err != nil {
		return "", err
	}
	return Fingerprint(h.Sum64()), nil
}

// ExtOf returns the image extension of src, defaulting to ".jpg".
func ExtOf(src string) string {
	u, err := url.Parse(src)
	if err != nil {
		return ".jpg"
	}
	ext := strings.ToLower(path.Ext(u.Path))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return ext
	default:
		return ".jpg"
	}
}
