package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "schedbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AddSubscriber(ctx context.Context, sub Subscriber) (bool, error) {
	if sub.SubscribedAt.IsZero() {
		sub.SubscribedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO subscribers(id, username, first_name, subscribed_at) VALUES(?,?,?,?)`,
		sub.ID, nullStr(sub.Username), nullStr(sub.FirstName), sub.SubscribedAt.UnixMilli(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqliteStore) RemoveSubscriber(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM subscribers WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqliteStore) IsSubscribed(ctx context.Context, id int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM subscribers WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *sqliteStore) ListSubscribers(ctx context.Context) ([]Subscriber, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, username, first_name, subscribed_at FROM subscribers ORDER BY subscribed_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Subscriber
	for rows.Next() {
		var (
			sub       Subscriber
			username  sql.NullString
			firstName sql.NullString
			at        int64
		)
		if err := rows.Scan(&sub.ID, &username, &firstName, &at); err != nil {
			return nil, err
		}
		sub.Username = username.String
		sub.FirstName = firstName.String
		sub.SubscribedAt = time.UnixMilli(at)
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CountSubscribers(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM subscribers`).Scan(&n)
	return n, err
}

func (s *sqliteStore) GetState(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *sqliteStore) PutState(ctx context.Context, key, value string) error {
	if key == "" {
		return errors.New("state key is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO state(key, value, updated_at) VALUES(?,?,?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, value, time.Now().UnixMilli(),
	)
	return err
}

func (s *sqliteStore) AppendBroadcast(ctx context.Context, r BroadcastRecord) error {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO broadcasts(at, kind, caption, image, total, success, errors, blocked, took_ms)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		r.At.UnixMilli(), r.Kind, nullStr(r.Caption), nullStr(r.Image),
		r.Total, r.Success, r.Errors, r.Blocked, r.Took.Milliseconds(),
	)
	return err
}

func (s *sqliteStore) LastBroadcast(ctx context.Context) (BroadcastRecord, bool, error) {
	var (
		r       BroadcastRecord
		at      int64
		tookMS  int64
		caption sql.NullString
		image   sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT at, kind, caption, image, total, success, errors, blocked, took_ms
		 FROM broadcasts ORDER BY id DESC LIMIT 1`,
	).Scan(&at, &r.Kind, &caption, &image, &r.Total, &r.Success, &r.Errors, &r.Blocked, &tookMS)
	if errors.Is(err, sql.ErrNoRows) {
		return BroadcastRecord{}, false, nil
	}
	if err != nil {
		return BroadcastRecord{}, false, err
	}
	r.At = time.UnixMilli(at)
	r.Took = time.Duration(tookMS) * time.Millisecond
	r.Caption = caption.String
	r.Image = image.String
	return r, true, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
