package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "schedbot/pkg/logx"
)

func openBoth(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	out := map[string]Store{}
	for driver, name := range map[string]string{"sqlite": "bot.db", "file": "bot.json"} {
		st, err := Open(Config{Driver: driver, Path: filepath.Join(dir, name)}, logx.Nop())
		if err != nil {
			t.Fatalf("open %s: %v", driver, err)
		}
		t.Cleanup(func() { _ = st.Close() })
		out[driver] = st
	}
	return out
}

func TestSubscriberAddRemoveIdempotent(t *testing.T) {
	ctx := context.Background()
	for driver, st := range openBoth(t) {
		t.Run(driver, func(t *testing.T) {
			added, err := st.AddSubscriber(ctx, Subscriber{ID: 42, Username: "ann", FirstName: "Ann"})
			if err != nil || !added {
				t.Fatalf("first add = %v, %v", added, err)
			}
			added, err = st.AddSubscriber(ctx, Subscriber{ID: 42, Username: "ann2"})
			if err != nil || added {
				t.Fatalf("second add = %v, %v", added, err)
			}
			if n, _ := st.CountSubscribers(ctx); n != 1 {
				t.Fatalf("count = %d, want 1", n)
			}
			ok, err := st.IsSubscribed(ctx, 42)
			if err != nil || !ok {
				t.Fatalf("IsSubscribed = %v, %v", ok, err)
			}

			removed, err := st.RemoveSubscriber(ctx, 42)
			if err != nil || !removed {
				t.Fatalf("first remove = %v, %v", removed, err)
			}
			removed, err = st.RemoveSubscriber(ctx, 42)
			if err != nil || removed {
				t.Fatalf("second remove = %v, %v", removed, err)
			}
			if ok, _ := st.IsSubscribed(ctx, 42); ok {
				t.Fatal("still subscribed after remove")
			}
		})
	}
}

func TestListSubscribersOrderedBySubscriptionTime(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 9, 1, 10, 0, 0, 0, time.UTC)
	for driver, st := range openBoth(t) {
		t.Run(driver, func(t *testing.T) {
			for i, id := range []int64{30, 10, 20} {
				sub := Subscriber{ID: id, FirstName: "u", SubscribedAt: base.Add(time.Duration(i) * time.Minute)}
				if _, err := st.AddSubscriber(ctx, sub); err != nil {
					t.Fatalf("add %d: %v", id, err)
				}
			}
			list, err := st.ListSubscribers(ctx)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			want := []int64{30, 10, 20}
			if len(list) != len(want) {
				t.Fatalf("len = %d", len(list))
			}
			for i := range want {
				if list[i].ID != want[i] {
					t.Fatalf("list[%d] = %d, want %d", i, list[i].ID, want[i])
				}
			}
			if !list[0].SubscribedAt.Equal(base) {
				t.Fatalf("subscribed_at = %v", list[0].SubscribedAt)
			}
		})
	}
}

func TestStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	for driver, st := range openBoth(t) {
		t.Run(driver, func(t *testing.T) {
			if _, ok, err := st.GetState(ctx, KeyLastFingerprint); err != nil || ok {
				t.Fatalf("empty state = %v, %v", ok, err)
			}
			if err := st.PutState(ctx, KeyLastFingerprint, "aaa"); err != nil {
				t.Fatalf("put: %v", err)
			}
			if err := st.PutState(ctx, KeyLastFingerprint, "bbb"); err != nil {
				t.Fatalf("put: %v", err)
			}
			v, ok, err := st.GetState(ctx, KeyLastFingerprint)
			if err != nil || !ok || v != "bbb" {
				t.Fatalf("get = %q, %v, %v", v, ok, err)
			}
		})
	}
}

func TestBroadcastHistory(t *testing.T) {
	ctx := context.Background()
	for driver, st := range openBoth(t) {
		t.Run(driver, func(t *testing.T) {
			if _, ok, _ := st.LastBroadcast(ctx); ok {
				t.Fatal("expected no history")
			}
			at := time.Date(2024, 9, 2, 18, 0, 0, 0, time.UTC)
			for i, kind := range []string{"update", "daily"} {
				r := BroadcastRecord{At: at.Add(time.Duration(i) * time.Hour), Kind: kind, Total: 3, Success: 2, Blocked: 1, Took: 150 * time.Millisecond}
				if err := st.AppendBroadcast(ctx, r); err != nil {
					t.Fatalf("append: %v", err)
				}
			}
			last, ok, err := st.LastBroadcast(ctx)
			if err != nil || !ok {
				t.Fatalf("last = %v, %v", ok, err)
			}
			if last.Kind != "daily" || last.Success != 2 || last.Blocked != 1 || last.Took != 150*time.Millisecond {
				t.Fatalf("last = %+v", last)
			}
		})
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "bot.json")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := st.AddSubscriber(ctx, Subscriber{ID: 7, FirstName: "Bo"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := st.PutState(ctx, KeyLastFingerprint, "f00"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := st.AppendBroadcast(ctx, BroadcastRecord{Kind: "manual", Total: 1, Success: 1}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	st, err = Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	if ok, _ := st.IsSubscribed(ctx, 7); !ok {
		t.Fatal("subscriber lost on reopen")
	}
	if v, ok, _ := st.GetState(ctx, KeyLastFingerprint); !ok || v != "f00" {
		t.Fatalf("state = %q, %v", v, ok)
	}
	if r, ok, _ := st.LastBroadcast(ctx); !ok || r.Kind != "manual" {
		t.Fatalf("last = %+v, %v", r, ok)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "mongo", Path: "x"}, logx.Nop()); err == nil {
		t.Fatal("expected error")
	}
}
