package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"schedbot/internal/broadcast"
)

func TestConfirmed(t *testing.T) {
	cases := map[string]bool{
		"yes\n": true, "Y": true, " да ": true, "Д\n": true,
		"no": false, "": false, "yess": false, "нет": false,
	}
	for in, want := range cases {
		if got := confirmed(in); got != want {
			t.Fatalf("confirmed(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestResolveCaption(t *testing.T) {
	if got := resolveCaption("", nil); got != defaultCaption {
		t.Fatalf("default = %q", got)
	}
	if got := resolveCaption("", []string{"Замена", "на", "среду"}); got != "Замена на среду" {
		t.Fatalf("trailing = %q", got)
	}
	if got := resolveCaption(" flag ", []string{"ignored"}); got != "flag" {
		t.Fatalf("flag = %q", got)
	}
}

func TestCheckImage(t *testing.T) {
	dir := t.TempDir()
	if _, err := checkImage(filepath.Join(dir, "missing.jpg")); err == nil || !strings.Contains(err.Error(), "не найден") {
		t.Fatalf("missing: %v", err)
	}
	if _, err := checkImage(dir); err == nil {
		t.Fatal("directory accepted")
	}
	empty := filepath.Join(dir, "empty.jpg")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := checkImage(empty); err == nil {
		t.Fatal("empty file accepted")
	}
	ok := filepath.Join(dir, "s.jpg")
	if err := os.WriteFile(ok, []byte("jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}
	if n, err := checkImage(ok); err != nil || n != 4 {
		t.Fatalf("checkImage = %d, %v", n, err)
	}
}

func TestRunRejectsMissingImage(t *testing.T) {
	var out bytes.Buffer
	if code := run([]string{filepath.Join(t.TempDir(), "nope.jpg")}, strings.NewReader(""), &out); code != 1 {
		t.Fatalf("exit = %d, out = %s", code, out.String())
	}
	if code := run(nil, strings.NewReader(""), &out); code != 2 {
		t.Fatalf("exit without args = %d", code)
	}
}

func TestPrintReport(t *testing.T) {
	var out bytes.Buffer
	printReport(&out, broadcast.Report{Total: 4, Success: 2, Errors: 1, Blocked: 1, Took: 1500 * time.Millisecond})
	for _, want := range []string{"Успешно: 2", "Ошибок: 1", "удалены): 1", "1.5s"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("report missing %q:\n%s", want, out.String())
		}
	}
}
