package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cespare/xxhash/v2"

	logx "schedbot/pkg/logx"
)

var testDate = time.Date(2024, 9, 3, 0, 0, 0, 0, time.UTC)

type site struct {
	pages  map[string]string
	images map[string][]byte
}

func (s site) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if body, ok := s.pages[r.URL.Path]; ok {
			_, _ = w.Write([]byte(body))
			return
		}
		if img, ok := s.images[r.URL.Path]; ok {
			_, _ = w.Write(img)
			return
		}
		http.NotFound(w, r)
	})
}

func newFetcher(t *testing.T, srv *httptest.Server, dir string) *Fetcher {
	t.Helper()
	return New(Options{
		BaseURL:  srv.URL + "/blog/",
		Origin:   srv.URL,
		Dir:      dir,
		Matchers: DefaultMatchers([]string{"/R7/"}, []string{"raspisanie", "schedule", "rasp"}),
		Now:      func() time.Time { return time.Date(2024, 9, 2, 17, 30, 5, 0, time.UTC) },
	}, logx.Nop())
}

func TestFetchDownloadsMarkerImage(t *testing.T) {
	img := []byte("fake-jpeg-bytes")
	s := site{
		pages: map[string]string{
			"/blog/2024-09-03": `<html><body>
				<img src="/static/logo.png">
				<img src="/files/Raspisanie.jpg">
				<img src="/_bl/R7/12345.jpg">
			</body></html>`,
		},
		images: map[string][]byte{"/_bl/R7/12345.jpg": img, "/files/Raspisanie.jpg": []byte("other")},
	}
	srv := httptest.NewServer(s.handler())
	defer srv.Close()

	dir := t.TempDir()
	art, ok := newFetcher(t, srv, dir).Fetch(context.Background(), testDate)
	if !ok {
		t.Fatal("expected artifact")
	}
	if art.SourceURL != srv.URL+"/_bl/R7/12345.jpg" {
		t.Fatalf("source = %q", art.SourceURL)
	}
	if filepath.Base(art.Path) != "schedule_20240902_173005.jpg" {
		t.Fatalf("path = %q", art.Path)
	}
	got, err := os.ReadFile(art.Path)
	if err != nil || string(got) != string(img) {
		t.Fatalf("file = %q, %v", got, err)
	}
	if art.Fingerprint != Fingerprint(xxhash.Sum64(img)) || art.Size != int64(len(img)) {
		t.Fatalf("artifact = %+v", art)
	}
}

func TestFetchFallsBackToKeyword(t *testing.T) {
	s := site{
		pages: map[string]string{
			"/blog/2024-09-03": `<img src="logo.png"><img src="uploads/RASP_03.png">`,
		},
		images: map[string][]byte{"/uploads/RASP_03.png": []byte("png")},
	}
	srv := httptest.NewServer(s.handler())
	defer srv.Close()

	art, ok := newFetcher(t, srv, t.TempDir()).Fetch(context.Background(), testDate)
	if !ok {
		t.Fatal("expected artifact")
	}
	if !strings.HasSuffix(art.Path, ".png") {
		t.Fatalf("path = %q", art.Path)
	}
}

func TestFetchNoMatchingImageWritesNothing(t *testing.T) {
	s := site{pages: map[string]string{"/blog/2024-09-03": `<img src="/a/logo.png"><img src="/a/banner.gif">`}}
	srv := httptest.NewServer(s.handler())
	defer srv.Close()

	dir := t.TempDir()
	if _, ok := newFetcher(t, srv, dir).Fetch(context.Background(), testDate); ok {
		t.Fatal("expected not found")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("dir has %d entries, want 0", len(entries))
	}
}

func TestFetchPageMissing(t *testing.T) {
	srv := httptest.NewServer(site{}.handler())
	defer srv.Close()
	if _, ok := newFetcher(t, srv, t.TempDir()).Fetch(context.Background(), testDate); ok {
		t.Fatal("expected not found on 404 page")
	}
}

func TestFetchBrokenImageRemovesPartialFile(t *testing.T) {
	s := site{pages: map[string]string{"/blog/2024-09-03": `<img src="/R7/gone.jpg">`}}
	srv := httptest.NewServer(s.handler())
	defer srv.Close()

	dir := t.TempDir()
	dst := filepath.Join(dir, "incoming.part")
	if _, ok := newFetcher(t, srv, dir).FetchTo(context.Background(), testDate, dst); ok {
		t.Fatal("expected not found")
	}
	if _, err := os.Stat(dst); !os.IsNotExist(err) {
		t.Fatalf("partial file left behind: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("dir has %d entries, want 0", len(entries))
	}
}

func TestReserveArchivePathNeverCollides(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 9, 2, 18, 0, 0, 0, time.UTC)
	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		p, err := ReserveArchivePath(dir, now, "")
		if err != nil {
			t.Fatalf("reserve: %v", err)
		}
		if seen[p] {
			t.Fatalf("duplicate path %q", p)
		}
		seen[p] = true
	}
	for _, want := range []string{"schedule_20240902_180000.jpg", "schedule_20240902_180000_1.jpg", "schedule_20240902_180000_2.jpg"} {
		if !seen[filepath.Join(dir, want)] {
			t.Fatalf("missing %s in %v", want, seen)
		}
	}
}

func TestMatchers(t *testing.T) {
	srcs := []string{"/img/logo.png", "/img/Schedule-week.jpg", "/_bl/R7/1.jpg"}
	cases := []struct {
		name     string
		matchers []Matcher
		want     string
	}{
		{"marker wins", DefaultMatchers([]string{"/R7/"}, []string{"schedule"}), "/_bl/R7/1.jpg"},
		{"keyword fallback", DefaultMatchers([]string{"/R9/"}, []string{"schedule"}), "/img/Schedule-week.jpg"},
		{"nothing", DefaultMatchers([]string{"/R9/"}, []string{"menu"}), ""},
	}
	for _, c := range cases {
		got, _, _ := pick(srcs, c.matchers)
		if got != c.want {
			t.Fatalf("%s: got %q want %q", c.name, got, c.want)
		}
	}
}
