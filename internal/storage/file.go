package storage

import (
	"bufio"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	logx "schedbot/pkg/logx"
)

// fileStore is a single-process backend built on plain files.
//
// Files:
//   - <prefix>.subscribers.json (snapshot, rewritten atomically)
//   - <prefix>.state.json       (snapshot, rewritten atomically)
//   - <prefix>.broadcasts.jsonl (append-only JSON Lines)
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	subsPath  string
	statePath string

	subs     map[int64]Subscriber
	state    map[string]string
	histFile *os.File
	last     BroadcastRecord
	hasLast  bool
	closed   bool
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:       log,
		subsPath:  prefix + ".subscribers.json",
		statePath: prefix + ".state.json",
		subs:      map[int64]Subscriber{},
		state:     map[string]string{},
	}

	var subs []Subscriber
	if err := loadJSON(s.subsPath, &subs); err != nil {
		return nil, err
	}
	for _, sub := range subs {
		s.subs[sub.ID] = sub
	}
	if err := loadJSON(s.statePath, &s.state); err != nil {
		return nil, err
	}
	if s.state == nil {
		s.state = map[string]string{}
	}

	histPath := prefix + ".broadcasts.jsonl"
	s.last, s.hasLast = lastHistory(histPath)
	hf, err := os.OpenFile(histPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	s.histFile = hf
	log.Debug("file store opened", logx.String("prefix", prefix), logx.Int("subscribers", len(s.subs)))
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.histFile == nil {
		return nil
	}
	err := s.histFile.Close()
	s.histFile = nil
	return err
}

func (s *fileStore) AddSubscriber(ctx context.Context, sub Subscriber) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	if _, ok := s.subs[sub.ID]; ok {
		return false, nil
	}
	if sub.SubscribedAt.IsZero() {
		sub.SubscribedAt = time.Now()
	}
	s.subs[sub.ID] = sub
	if err := s.flushSubsLocked(); err != nil {
		delete(s.subs, sub.ID)
		return false, err
	}
	return true, nil
}

func (s *fileStore) RemoveSubscriber(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	prev, ok := s.subs[id]
	if !ok {
		return false, nil
	}
	delete(s.subs, id)
	if err := s.flushSubsLocked(); err != nil {
		s.subs[id] = prev
		return false, err
	}
	return true, nil
}

func (s *fileStore) IsSubscribed(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	_, ok := s.subs[id]
	return ok, nil
}

func (s *fileStore) ListSubscribers(ctx context.Context) ([]Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.sortedLocked(), nil
}

func (s *fileStore) CountSubscribers(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	return len(s.subs), nil
}

func (s *fileStore) GetState(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", false, ErrClosed
	}
	v, ok := s.state[key]
	return v, ok, nil
}

func (s *fileStore) PutState(ctx context.Context, key, value string) error {
	if key == "" {
		return errors.New("state key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	prev, had := s.state[key]
	s.state[key] = value
	if err := writeJSONAtomic(s.statePath, s.state); err != nil {
		if had {
			s.state[key] = prev
		} else {
			delete(s.state, key)
		}
		return err
	}
	return nil
}

func (s *fileStore) AppendBroadcast(ctx context.Context, r BroadcastRecord) error {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.histFile == nil {
		return ErrClosed
	}
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	if _, err := s.histFile.Write(append(b, '\n')); err != nil {
		return err
	}
	s.last, s.hasLast = r, true
	return nil
}

func (s *fileStore) LastBroadcast(ctx context.Context) (BroadcastRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return BroadcastRecord{}, false, ErrClosed
	}
	return s.last, s.hasLast, nil
}

func (s *fileStore) sortedLocked() []Subscriber {
	out := make([]Subscriber, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubscribedAt.Equal(out[j].SubscribedAt) {
			return out[i].SubscribedAt.Before(out[j].SubscribedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *fileStore) flushSubsLocked() error {
	return writeJSONAtomic(s.subsPath, s.sortedLocked())
}

// writeJSONAtomic replaces path with the encoding of v via a temp file and rename.
func writeJSONAtomic(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + "." + uuid.NewString() + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func loadJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return nil
	}
	return json.Unmarshal(b, v)
}

// lastHistory returns the last well-formed record of a JSON Lines history.
func lastHistory(path string) (BroadcastRecord, bool) {
	f, err := os.Open(path)
	if err != nil {
		return BroadcastRecord{}, false
	}
	defer f.Close()

	var (
		last BroadcastRecord
		ok   bool
	)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r BroadcastRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		last, ok = r, true
	}
	return last, ok
}
