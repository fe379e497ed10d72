// Package metadata is the replication bookkeeping store: run statistics,
// the exception ledger, broker message progress and the task state handed
// from the producer to the consumer.
package metadata

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/config"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/apply"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/table"

	_ "modernc.org/sqlite"
)

const StateVersion = 1

var ErrNoState = errors.New("no task state recorded")

type Store struct {
	conn *sql.DB
	task string
}

// Open opens (or creates) the SQLite file at path for the given task.
func Open(path, task string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create metadata directory: %w", err)
	}
	conn, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}
	// one writer
	conn.SetMaxOpenConns(1)

	s := &Store{conn: conn, task: task}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate metadata store: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS run_stats (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task TEXT NOT NULL,
			run_id TEXT NOT NULL,
			strategy TEXT NOT NULL,
			schema_name TEXT NOT NULL,
			table_name TEXT NOT NULL,
			inserts INTEGER NOT NULL DEFAULT 0,
			updates INTEGER NOT NULL DEFAULT 0,
			deletes INTEGER NOT NULL DEFAULT 0,
			errors INTEGER NOT NULL DEFAULT 0,
			total INTEGER NOT NULL DEFAULT 0,
			started_at DATETIME NOT NULL,
			finished_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_run_stats_run ON run_stats(task, run_id)`,
		`CREATE TABLE IF NOT EXISTS exceptions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task TEXT NOT NULL,
			occurred_at DATETIME NOT NULL,
			schema_name TEXT NOT NULL,
			table_name TEXT NOT NULL,
			message TEXT NOT NULL,
			exception_kind TEXT NOT NULL,
			database_error_code TEXT NOT NULL DEFAULT '',
			failing_query TEXT NOT NULL DEFAULT '',
			transaction_id TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_exceptions_transaction ON exceptions(task, transaction_id)`,
		`CREATE TABLE IF NOT EXISTS message_progress (
			transaction_id TEXT PRIMARY KEY,
			task TEXT NOT NULL,
			page_count INTEGER NOT NULL DEFAULT 0,
			published INTEGER NOT NULL DEFAULT 0,
			received INTEGER NOT NULL DEFAULT 0,
			checksum TEXT NOT NULL DEFAULT '',
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS task_state (
			task TEXT PRIMARY KEY,
			version INTEGER NOT NULL,
			state_json TEXT NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	}
	for _, m := range migrations {
		if _, err := s.conn.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

// RecordException appends e to the exception ledger.
func (s *Store) RecordException(ctx context.Context, e apply.Exception) error {
	_, err := sq.Insert("exceptions").
		Columns("task", "occurred_at", "schema_name", "table_name", "message", "exception_kind",
			"database_error_code", "failing_query", "transaction_id").
		Values(s.task, e.Time.UTC(), e.Schema, e.Table, e.Message, e.Kind, e.Code, e.Query, e.TransactionID).
		RunWith(s.conn).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("record exception: %w", err)
	}
	return nil
}

func (s *Store) Exceptions(ctx context.Context) ([]apply.Exception, error) {
	rows, err := sq.Select("occurred_at", "schema_name", "table_name", "message", "exception_kind",
		"database_error_code", "failing_query", "transaction_id").
		From("exceptions").
		Where(sq.Eq{"task": s.task}).
		OrderBy("id").
		RunWith(s.conn).
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list exceptions: %w", err)
	}
	defer rows.Close()

	var out []apply.Exception
	for rows.Next() {
		var e apply.Exception
		if err := rows.Scan(&e.Time, &e.Schema, &e.Table, &e.Message, &e.Kind, &e.Code, &e.Query, &e.TransactionID); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Stats is the outcome of applying one table in one run.
type Stats struct {
	Started  time.Time
	Finished time.Time
	RunID    string
	Strategy string
	Schema   string
	Table    string
	apply.RunStats
}

func (s *Store) RecordStats(ctx context.Context, st Stats) error {
	_, err := sq.Insert("run_stats").
		Columns("task", "run_id", "strategy", "schema_name", "table_name",
			"inserts", "updates", "deletes", "errors", "total", "started_at", "finished_at").
		Values(s.task, st.RunID, st.Strategy, st.Schema, st.Table,
			st.Inserts, st.Updates, st.Deletes, st.Errors, st.Total, st.Started.UTC(), st.Finished.UTC()).
		RunWith(s.conn).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("record stats: %w", err)
	}
	return nil
}

func (s *Store) RunStats(ctx context.Context, runID string) ([]Stats, error) {
	rows, err := sq.Select("run_id", "strategy", "schema_name", "table_name",
		"inserts", "updates", "deletes", "errors", "total", "started_at", "finished_at").
		From("run_stats").
		Where(sq.Eq{"task": s.task, "run_id": runID}).
		OrderBy("id").
		RunWith(s.conn).
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list stats: %w", err)
	}
	defer rows.Close()

	var out []Stats
	for rows.Next() {
		var st Stats
		if err := rows.Scan(&st.RunID, &st.Strategy, &st.Schema, &st.Table,
			&st.Inserts, &st.Updates, &st.Deletes, &st.Errors, &st.Total, &st.Started, &st.Finished); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

type Progress struct {
	TransactionID string
	Checksum      string
	PageCount     int
	Published     int
	Received      int
}

// MarkPublished counts one confirmed page of a batch.
func (s *Store) MarkPublished(ctx context.Context, txID string, pageCount int, checksum string) error {
	_, err := sq.Insert("message_progress").
		Columns("transaction_id", "task", "page_count", "published", "checksum").
		Values(txID, s.task, pageCount, 1, checksum).
		Suffix("ON CONFLICT(transaction_id) DO UPDATE SET published = published + 1, checksum = excluded.checksum, updated_at = CURRENT_TIMESTAMP").
		RunWith(s.conn).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("mark published: %w", err)
	}
	return nil
}

// MarkReceived counts one delivered page; redeliveries count again.
func (s *Store) MarkReceived(ctx context.Context, txID string, pageCount int) error {
	_, err := sq.Insert("message_progress").
		Columns("transaction_id", "task", "page_count", "received").
		Values(txID, s.task, pageCount, 1).
		Suffix("ON CONFLICT(transaction_id) DO UPDATE SET received = received + 1, updated_at = CURRENT_TIMESTAMP").
		RunWith(s.conn).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("mark received: %w", err)
	}
	return nil
}

func (s *Store) Progress(ctx context.Context, txID string) (Progress, error) {
	p := Progress{TransactionID: txID}
	err := sq.Select("page_count", "published", "received", "checksum").
		From("message_progress").
		Where(sq.Eq{"transaction_id": txID}).
		RunWith(s.conn).
		QueryRowContext(ctx).
		Scan(&p.PageCount, &p.Published, &p.Received, &p.Checksum)
	if err != nil {
		return p, fmt.Errorf("progress of %s: %w", txID, err)
	}
	return p, nil
}

// TaskState is what a consumer needs to run without access to the source:
// where to write, how, and the described table definitions. Credentials are
// only kept as environment variable references.
type TaskState struct {
	UpdatedAt          time.Time       `json:"updated_at"`
	Target             config.Endpoint `json:"target"`
	Task               string          `json:"task"`
	ReplicationType    string          `json:"replication_type"`
	CDCMode            string          `json:"cdc_mode"`
	SourceDatabaseType string          `json:"source_database_type"`
	Cursor             string          `json:"cursor,omitempty"`
	Tables             []*table.Table  `json:"tables"`
	Version            int             `json:"version"`
}

func (s *Store) SaveState(ctx context.Context, st TaskState) error {
	st.Version = StateVersion
	st.Task = s.task
	st.Target = st.Target.Redacted()
	body, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode task state: %w", err)
	}
	_, err = sq.Insert("task_state").
		Columns("task", "version", "state_json").
		Values(s.task, st.Version, string(body)).
		Suffix("ON CONFLICT(task) DO UPDATE SET version = excluded.version, state_json = excluded.state_json, updated_at = CURRENT_TIMESTAMP").
		RunWith(s.conn).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("save task state: %w", err)
	}
	return nil
}

func (s *Store) LoadState(ctx context.Context) (*TaskState, error) {
	var (
		version int
		body    string
	)
	err := sq.Select("version", "state_json").
		From("task_state").
		Where(sq.Eq{"task": s.task}).
		RunWith(s.conn).
		QueryRowContext(ctx).
		Scan(&version, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", s.task, ErrNoState)
	}
	if err != nil {
		return nil, fmt.Errorf("load task state: %w", err)
	}
	if version != StateVersion {
		return nil, fmt.Errorf("task %s: unsupported state version %d", s.task, version)
	}
	var st TaskState
	if err := json.Unmarshal([]byte(body), &st); err != nil {
		return nil, fmt.Errorf("decode task state: %w", err)
	}
	return &st, nil
}
