package replication

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/config"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/apply"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/capture"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/catalog"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/change"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/endpoint"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/table"
	"github.com/jackc/pglogrepl"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Task: config.Task{
			Name:     "employees sync",
			FullLoad: config.FullLoadConfig{StagingPath: filepath.Join(dir, "staging")},
		},
		Source:   config.Endpoint{Host: "src", Database: "hr", User: "replicator"},
		Target:   config.Endpoint{Host: "dst", Database: "dw", User: "writer", Password: "secret"},
		Metadata: config.Metadata{Path: filepath.Join(dir, "replication.db")},
		Tables: []config.Table{
			{
				Schema: "public", Table: "employees", TargetSchema: "dw",
				Filters: []table.Filter{{Column: "active", Kind: table.FilterEquals, Value: true}},
			},
			{Schema: "public", Table: "departments", Priority: table.Low},
		},
	}
}

func newTestReplicator(t *testing.T, cfg *config.Config, opts ...Option) *Replicator {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	r, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r
}

func employeesTable() *table.Table {
	t := table.New("public", "employees")
	t.Columns = []table.Column{
		{Name: "id", Type: "integer", Kind: catalog.KindInteger, PrimaryKey: true, Ordinal: 1},
		{Name: "name", Type: "text", Kind: catalog.KindString, Nullable: true, Ordinal: 2},
		{Name: "active", Type: "boolean", Kind: catalog.KindBoolean, Nullable: true, Ordinal: 3},
	}
	return t
}

func departmentsTable() *table.Table {
	t := table.New("public", "departments")
	t.Columns = []table.Column{
		{Name: "id", Type: "integer", Kind: catalog.KindInteger, PrimaryKey: true, Ordinal: 1},
		{Name: "title", Type: "text", Kind: catalog.KindString, Nullable: true, Ordinal: 2},
	}
	return t
}

func str(s string) *string { return &s }

type fakeSource struct {
	tables map[string]*table.Table
	rows   map[string][][]*string
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		tables: map[string]*table.Table{
			"public.employees":   employeesTable(),
			"public.departments": departmentsTable(),
		},
		rows: map[string][][]*string{
			"public.employees": {
				{str("1"), str("Ada"), str("true")},
				{str("2"), str("Alan"), str("false")},
				{str("3"), nil, str("true")},
			},
			"public.departments": {
				{str("10"), str("Research")},
			},
		},
	}
}

func (s *fakeSource) Describe(_ context.Context, schema, name string) (*table.Table, error) {
	t, ok := s.tables[schema+"."+name]
	if !ok {
		return nil, endpoint.ErrTableNotFound
	}
	return t.Clone(), nil
}

func (s *fakeSource) ReadTable(_ context.Context, t *table.Table, fn func([][]*string) error) error {
	return fn(s.rows[t.FullName()])
}

type loaded struct {
	target string
	rows   [][]any
}

type fakeLoader struct {
	prepareErr map[string]error
	loads      []loaded
	mu         sync.Mutex
}

func (l *fakeLoader) Prepare(_ context.Context, t *table.Table, _ config.FullLoadConfig) error {
	return l.prepareErr[t.TargetFullName()]
}

func (l *fakeLoader) Copy(_ context.Context, t *table.Table) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ld := loaded{target: t.TargetFullName()}
	for _, row := range t.Payload.Rows {
		ld.rows = append(ld.rows, row.Values)
	}
	l.loads = append(l.loads, ld)
	return int64(len(ld.rows)), nil
}

// fakeTarget accepts every statement unless fail says otherwise.
type fakeTarget struct {
	fail       func(apply.Statement) error
	statements []apply.Statement
	mu         sync.Mutex
}

func (f *fakeTarget) Begin(context.Context) (apply.Session, error) {
	return &fakeSession{target: f}, nil
}

func (f *fakeTarget) kinds() []apply.StatementKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]apply.StatementKind, len(f.statements))
	for i, st := range f.statements {
		out[i] = st.Kind
	}
	return out
}

type fakeSession struct {
	target *fakeTarget
}

func (s *fakeSession) Exec(_ context.Context, st apply.Statement) (int64, error) {
	if s.target.fail != nil {
		if err := s.target.fail(st); err != nil {
			return 0, err
		}
	}
	s.target.mu.Lock()
	defer s.target.mu.Unlock()
	s.target.statements = append(s.target.statements, st)
	return 1, nil
}

func (s *fakeSession) Exists(context.Context, apply.Statement) (bool, error) { return false, nil }
func (s *fakeSession) Commit(context.Context) error                          { return nil }
func (s *fakeSession) Rollback(context.Context) error                        { return nil }

type fakeCapturer struct {
	err       error
	result    capture.Result
	committed []pglogrepl.LSN
}

func (c *fakeCapturer) Capture(context.Context) (capture.Result, error) {
	return c.result, c.err
}

func (c *fakeCapturer) Commit(_ context.Context, cursor pglogrepl.LSN) error {
	c.committed = append(c.committed, cursor)
	return nil
}

type fakePublisher struct {
	err       error
	published []*change.Batch
}

func (p *fakePublisher) Publish(_ context.Context, b *change.Batch) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, b)
	return nil
}

var errBoom = errors.New("boom")
