package schedule

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/cespare/xxhash/v2"

	"schedbot/internal/scraper"
	"schedbot/internal/storage"
	logx "schedbot/pkg/logx"
)

type fakeFetcher struct {
	dir   string
	body  []byte // nil means not found
	dates []time.Time
}

func (f *fakeFetcher) Dir() string { return f.dir }

func (f *fakeFetcher) FetchTo(ctx context.Context, date time.Time, dst string) (scraper.Artifact, bool) {
	f.dates = append(f.dates, date)
	if f.body == nil {
		return scraper.Artifact{}, false
	}
	if err := os.WriteFile(dst, f.body, 0o644); err != nil {
		return scraper.Artifact{}, false
	}
	return scraper.Artifact{
		Date:        date,
		Path:        dst,
		SourceURL:   "https://example.test/_bl/R7/1.png",
		Fingerprint: scraper.Fingerprint(xxhash.Sum64(f.body)),
		Size:        int64(len(f.body)),
	}, true
}

type memState struct {
	m       map[string]string
	failPut bool
}

func (s *memState) GetState(ctx context.Context, key string) (string, bool, error) {
	v, ok := s.m[key]
	return v, ok, nil
}

func (s *memState) PutState(ctx context.Context, key, value string) error {
	if s.failPut {
		return errors.New("disk full")
	}
	s.m[key] = value
	return nil
}

func newDetector(f *fakeFetcher, st *memState) *Detector {
	loc, _ := time.LoadLocation("Europe/Moscow")
	now := time.Date(2024, 9, 2, 23, 30, 0, 0, loc)
	return NewDetector(f, st, Options{Location: loc, Now: func() time.Time { return now }}, logx.Nop())
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	var out []string
	for _, e := range entries {
		out = append(out, e.Name())
	}
	return out
}

func TestFirstRunReportsChangeThenIdempotent(t *testing.T) {
	dir := t.TempDir()
	f := &fakeFetcher{dir: dir, body: []byte("v1")}
	st := &memState{m: map[string]string{}}
	d := newDetector(f, st)

	changed, art := d.CheckForUpdate(context.Background())
	if !changed {
		t.Fatal("first run must report a change")
	}
	if filepath.Base(art.Path) != "schedule_20240902_233000.png" {
		t.Fatalf("path = %q", art.Path)
	}
	if st.m[storage.KeyLastFingerprint] != art.Fingerprint {
		t.Fatalf("fingerprint not persisted: %v", st.m)
	}

	changed, art = d.CheckForUpdate(context.Background())
	if changed || !art.IsZero() {
		t.Fatalf("second run = %v, %+v", changed, art)
	}
	files := listDir(t, dir)
	if len(files) != 1 {
		t.Fatalf("files = %v, want only the kept schedule", files)
	}
}

func TestChangedContentIsReported(t *testing.T) {
	dir := t.TempDir()
	f := &fakeFetcher{dir: dir, body: []byte("v1")}
	st := &memState{m: map[string]string{storage.KeyLastFingerprint: "0000000000000000"}}
	d := newDetector(f, st)

	changed, first := d.CheckForUpdate(context.Background())
	if !changed {
		t.Fatal("expected change against stale fingerprint")
	}
	f.body = []byte("v2")
	changed, second := d.CheckForUpdate(context.Background())
	if !changed || second.Fingerprint == first.Fingerprint {
		t.Fatalf("second = %v, %+v", changed, second)
	}
	if first.Path == second.Path {
		t.Fatal("archive paths must differ")
	}
}

func TestNotFoundHasNoSideEffects(t *testing.T) {
	dir := t.TempDir()
	st := &memState{m: map[string]string{}}
	d := newDetector(&fakeFetcher{dir: dir}, st)

	changed, art := d.CheckForUpdate(context.Background())
	if changed || !art.IsZero() {
		t.Fatalf("got %v, %+v", changed, art)
	}
	if len(st.m) != 0 {
		t.Fatalf("state touched: %v", st.m)
	}
	if files := listDir(t, dir); len(files) != 0 {
		t.Fatalf("files = %v", files)
	}
}

func TestPersistFailureStillReportsArtifact(t *testing.T) {
	dir := t.TempDir()
	d := newDetector(&fakeFetcher{dir: dir, body: []byte("v1")}, &memState{m: map[string]string{}, failPut: true})

	changed, art := d.CheckForUpdate(context.Background())
	if !changed || art.IsZero() {
		t.Fatalf("got %v, %+v", changed, art)
	}
	if _, err := os.Stat(art.Path); err != nil {
		t.Fatalf("artifact missing: %v", err)
	}
}

func TestTargetsTomorrowInLocation(t *testing.T) {
	f := &fakeFetcher{dir: t.TempDir()}
	d := newDetector(f, &memState{m: map[string]string{}})
	d.CheckForUpdate(context.Background())

	if len(f.dates) != 1 {
		t.Fatalf("dates = %v", f.dates)
	}
	// 23:30 MSK on 2 Sep is 20:30 UTC; tomorrow is still 3 Sep in Moscow.
	if got := f.dates[0].Format("2006-01-02"); got != "2024-09-03" {
		t.Fatalf("date = %s", got)
	}
	if !strings.HasPrefix(f.dates[0].Location().String(), "Europe/Moscow") {
		t.Fatalf("location = %s", f.dates[0].Location())
	}
}

func TestTomorrowAcrossMonthEnd(t *testing.T) {
	got := Tomorrow(time.Date(2024, 12, 31, 12, 0, 0, 0, time.UTC), time.UTC)
	if got.Format("2006-01-02") != "2025-01-01" {
		t.Fatalf("got %s", got)
	}
}
