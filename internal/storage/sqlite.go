package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	logx "tophourbot/pkg/logx"
)

//go:embed migrations.sql
var migrations string

// tsLayout has fixed width so text ordering matches time ordering.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

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

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, migrations)
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) PutReport(ctx context.Context, r Report) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if r.SessionID == uuid.Nil {
		r.SessionID = uuid.New()
	}
	if r.ComputedAt.IsZero() {
		r.ComputedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reports(session_id, kind, value, count, room, started_at, computed_at)
		 VALUES(?,?,?,?,?,?,?)`,
		r.SessionID.String(), r.Kind, r.Value, r.Count, nullStr(r.Room),
		nullTime(r.StartedAt), r.ComputedAt.UTC().Format(tsLayout),
	)
	return err
}

func (s *sqliteStore) Reports(ctx context.Context, kind string, limit int) ([]Report, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	q := `SELECT session_id, kind, value, count, room, started_at, computed_at FROM reports`
	var args []any
	if kind != "" {
		q += ` WHERE kind = ?`
		args = append(args, kind)
	}
	q += ` ORDER BY computed_at DESC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Report
	for rows.Next() {
		var (
			r                 Report
			id, computed      string
			room, startedText sql.NullString
		)
		if err := rows.Scan(&id, &r.Kind, &r.Value, &r.Count, &room, &startedText, &computed); err != nil {
			return nil, err
		}
		if r.SessionID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("report %q: %w", id, err)
		}
		r.Room = room.String
		if startedText.Valid {
			r.StartedAt, _ = time.Parse(tsLayout, startedText.String)
		}
		r.ComputedAt, _ = time.Parse(tsLayout, computed)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	ok := 0
	if e.OK {
		ok = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, room, actor, command, args, ok, err) VALUES(?,?,?,?,?,?,?)`,
		e.At.UTC().Format(tsLayout), nullStr(e.Room), e.Actor, e.Command,
		nullStr(e.Args), ok, nullStr(e.Error),
	)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(tsLayout)
}
