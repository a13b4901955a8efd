// Package journal persists the embedder events a chrome needs to restore
// session state across restarts: joint history changes and pipeline faults.
// The engine itself keeps no durable state.
package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	stdliberrors "errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/odvcencio/constellation/pkg/embedder"
	"github.com/odvcencio/constellation/pkg/errors"
	"github.com/odvcencio/constellation/pkg/history"
	"github.com/odvcencio/constellation/pkg/logging"
	"github.com/odvcencio/constellation/pkg/protocol"
)

//go:embed schema.sql
var schemaSQL string

const (
	maxRetries = 3
	baseDelay  = 10 * time.Millisecond
)

// EventSource is what Run subscribes to. embedder.Hub implements it.
type EventSource interface {
	Subscribe() (<-chan embedder.Event, func())
}

// Entry is one recorded event.
type Entry struct {
	ID         int64                      `json:"id"`
	Type       embedder.EventType         `json:"type"`
	TopLevel   protocol.BrowsingContextID `json:"top_level,omitempty"`
	Context    protocol.BrowsingContextID `json:"context,omitempty"`
	Pipeline   protocol.PipelineID        `json:"pipeline,omitempty"`
	URL        string                     `json:"url,omitempty"`
	Code       errors.ErrorCode           `json:"code,omitempty"`
	Reason     string                     `json:"reason,omitempty"`
	History    *history.View              `json:"history,omitempty"`
	OccurredAt time.Time                  `json:"occurred_at"`
}

// Journal is a SQLite-backed event log.
type Journal struct {
	db  *sql.DB
	log *logging.Logger
}

// Open creates or opens the journal at path. ":memory:" keeps it in memory.
func Open(path string, logger *logging.Logger) (*Journal, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "journal path is empty")
	}
	if logger == nil {
		logger = logging.Nop()
	}
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeStorageWrite, "create journal directory")
			}
		}
		if err := ensurePrivateFile(path); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "open journal")
	}
	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, errors.Wrap(err, errors.ErrCodeStorageWrite, "configure journal").WithContext("pragma", pragma)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.ErrCodeStorageWrite, "apply journal schema")
	}
	return &Journal{db: db, log: logger.Component("journal")}, nil
}

func ensurePrivateFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return errors.Wrap(err, errors.ErrCodeStorageRead, "stat journal")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return errors.Wrap(err, errors.ErrCodeStorageWrite, "create journal")
	}
	return f.Close()
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Records reports whether the journal keeps events of type t.
func Records(t embedder.EventType) bool {
	return t == embedder.EventHistoryChanged || t == embedder.EventPipelineFaulted
}

// Record stores ev if it is a kind the journal keeps. It reports whether the
// event was stored.
func (j *Journal) Record(ctx context.Context, ev embedder.Event) (bool, error) {
	if !Records(ev.Type) {
		return false, nil
	}
	occurred := ev.Timestamp
	if occurred.IsZero() {
		occurred = time.Now()
	}

	url := ev.URL
	var view sql.NullString
	if ev.History != nil {
		data, err := json.Marshal(ev.History)
		if err != nil {
			return false, errors.Wrap(err, errors.ErrCodeStorageWrite, "encode history")
		}
		view = sql.NullString{String: string(data), Valid: true}
		if c := ev.History.Current; c >= 0 && c < len(ev.History.Entries) && url == "" {
			url = ev.History.Entries[c].URL
		}
	}

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		_, err = j.db.ExecContext(ctx, `
			INSERT INTO events (type, top_level, context, pipeline, url, code, reason, history, occurred_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			string(ev.Type), uint64(ev.TopLevel), uint64(ev.Context), uint64(ev.Pipeline),
			url, string(ev.Code), ev.Reason, view, occurred.UnixNano(),
		)
		if err == nil {
			return true, nil
		}
		if !isBusyError(err) || attempt == maxRetries {
			break
		}
		time.Sleep(baseDelay * time.Duration(1<<uint(attempt)))
	}
	return false, errors.Wrap(err, errors.ErrCodeStorageWrite, "record event").WithContext("type", string(ev.Type))
}

// Run records events from src until ctx is cancelled or src closes.
func (j *Journal) Run(ctx context.Context, src EventSource) error {
	events, unsubscribe := src.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if _, err := j.Record(ctx, ev); err != nil {
				j.log.Warn("journal write failed", "type", ev.Type, "err", err)
			}
		}
	}
}

// Recent returns up to n entries, newest first.
func (j *Journal) Recent(ctx context.Context, n int) ([]Entry, error) {
	return j.query(ctx, `
		SELECT id, type, top_level, context, pipeline, url, code, reason, history, occurred_at
		FROM events ORDER BY id DESC LIMIT ?`, n)
}

// RecentForWindow is Recent restricted to events of one window.
func (j *Journal) RecentForWindow(ctx context.Context, window protocol.BrowsingContextID, n int) ([]Entry, error) {
	return j.query(ctx, `
		SELECT id, type, top_level, context, pipeline, url, code, reason, history, occurred_at
		FROM events WHERE top_level = ? ORDER BY id DESC LIMIT ?`, uint64(window), n)
}

func (j *Journal) query(ctx context.Context, query string, args ...any) ([]Entry, error) {
	if n, ok := args[len(args)-1].(int); ok && n <= 0 {
		return nil, errors.New(errors.ErrCodeInvalidInput, "limit must be positive")
	}
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "query journal")
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                         Entry
			typ, code                 string
			topLevel, ctxID, pipeline uint64
			view                      sql.NullString
			occurred                  int64
		)
		if err := rows.Scan(&e.ID, &typ, &topLevel, &ctxID, &pipeline, &e.URL, &code, &e.Reason, &view, &occurred); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "scan journal row")
		}
		e.Type = embedder.EventType(typ)
		e.Code = errors.ErrorCode(code)
		e.TopLevel = protocol.BrowsingContextID(topLevel)
		e.Context = protocol.BrowsingContextID(ctxID)
		e.Pipeline = protocol.PipelineID(pipeline)
		e.OccurredAt = time.Unix(0, occurred)
		if view.Valid {
			var v history.View
			if err := json.Unmarshal([]byte(view.String), &v); err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "decode history").WithContext("id", e.ID)
			}
			e.History = &v
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "read journal")
	}
	return out, nil
}

func isBusyError(err error) bool {
	var sqliteErr *sqlite.Error
	if stdliberrors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
	}
	return false
}
