package replication

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/config"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/endpoint"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/table"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RejectsInvalidDefinitions(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Tables[0].Transformations = []table.Transformation{
		{Kind: table.CreateColumn, Contract: table.Contract{Operation: "teleport", Column: "x"}},
	}
	cfg.Tables[1].Filters = []table.Filter{{Column: "id", Kind: "roughly"}}

	_, err := New(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "public.employees")
	assert.Contains(t, err.Error(), "public.departments")

	_, statErr := os.Stat(cfg.Metadata.Path)
	assert.True(t, os.IsNotExist(statErr), "metadata store must not be opened")
}

func TestNew_InvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Task.Name = ""
	_, err := New(cfg)
	var verr *config.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestNew_RegistersCollectors(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	newTestReplicator(t, testConfig(t), WithPrometheusRegisterer(reg))
	// registering twice on the same registry is tolerated
	newTestReplicator(t, testConfig(t), WithPrometheusRegisterer(reg))
}

func TestStrategy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		typ  config.ReplicationType
		want string
	}{
		{config.FullLoad, "full_load"},
		{config.CDC, "cdc"},
		{config.FullLoadAndCDC, "full_load_and_cdc"},
	}
	for _, tt := range tests {
		cfg := testConfig(t)
		cfg.Task.ReplicationType = tt.typ
		r := newTestReplicator(t, cfg)
		assert.Equal(t, tt.want, r.Strategy().Name())
	}
}

func TestFullLoad(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	loader := &fakeLoader{}
	r := newTestReplicator(t, cfg, WithSource(newFakeSource()), WithLoader(loader))

	require.NoError(t, r.FullLoad().Execute(context.Background()))

	require.Len(t, loader.loads, 2)
	assert.Equal(t, "dw.employees", loader.loads[0].target)
	assert.Equal(t, [][]any{
		{int64(1), "Ada", true},
		{int64(3), nil, true},
	}, loader.loads[0].rows)
	assert.Equal(t, "public.departments", loader.loads[1].target)
	assert.Equal(t, [][]any{{int64(10), "Research"}}, loader.loads[1].rows)

	stats, err := r.Store().RunStats(context.Background(), r.RunID())
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, "full_load", stats[0].Strategy)
	assert.Equal(t, "employees", stats[0].Table)
	assert.Equal(t, 2, stats[0].Inserts)
	assert.Equal(t, 1, stats[1].Total)

	staged, err := filepath.Glob(filepath.Join(cfg.Task.FullLoad.StagingPath, "*", "*.parquet"))
	require.NoError(t, err)
	assert.Empty(t, staged)
}

func TestFullLoad_FailedTableDoesNotStopOthers(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	loader := &fakeLoader{prepareErr: map[string]error{"dw.employees": endpoint.ErrTableNotFound}}
	r := newTestReplicator(t, cfg, WithSource(newFakeSource()), WithLoader(loader))

	err := r.FullLoad().Execute(context.Background())
	require.ErrorIs(t, err, endpoint.ErrTableNotFound)

	require.Len(t, loader.loads, 1)
	assert.Equal(t, "public.departments", loader.loads[0].target)

	exceptions, err := r.Store().Exceptions(context.Background())
	require.NoError(t, err)
	require.Len(t, exceptions, 1)
	assert.Equal(t, "full_load", exceptions[0].Kind)
	assert.Equal(t, "employees", exceptions[0].Table)

	staged, err := filepath.Glob(filepath.Join(cfg.Task.FullLoad.StagingPath, "*", "*.parquet"))
	require.NoError(t, err)
	assert.Len(t, staged, 1)
}

func TestFullLoad_StagesUnderRenamedTarget(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Tables[0].Transformations = []table.Transformation{
		{Kind: table.ModifyTableName, Contract: table.Contract{Params: map[string]any{"name": "staff"}}},
	}
	loader := &fakeLoader{prepareErr: map[string]error{"dw.staff": endpoint.ErrTableNotFound}}
	r := newTestReplicator(t, cfg, WithSource(newFakeSource()), WithLoader(loader))

	require.ErrorIs(t, r.FullLoad().Execute(context.Background()), endpoint.ErrTableNotFound)

	staged, err := filepath.Glob(filepath.Join(cfg.Task.FullLoad.StagingPath, "*", "*.parquet"))
	require.NoError(t, err)
	require.Len(t, staged, 1)
	assert.Equal(t, "dw.staff.parquet", filepath.Base(staged[0]))
}

func TestFullLoad_MissingSourceTable(t *testing.T) {
	t.Parallel()

	src := newFakeSource()
	delete(src.tables, "public.departments")
	r := newTestReplicator(t, testConfig(t), WithSource(src), WithLoader(&fakeLoader{}))

	assert.ErrorIs(t, r.FullLoad().Execute(context.Background()), endpoint.ErrTableNotFound)
}

type recordingStrategy struct {
	err  error
	name string
	runs *[]string
}

func (s *recordingStrategy) Name() string { return s.name }

func (s *recordingStrategy) Execute(context.Context) error {
	*s.runs = append(*s.runs, s.name)
	return s.err
}

func TestComposite(t *testing.T) {
	t.Parallel()

	var runs []string
	c := &Composite{Strategies: []Strategy{
		&recordingStrategy{name: "first", runs: &runs},
		&recordingStrategy{name: "second", runs: &runs, err: errBoom},
		&recordingStrategy{name: "third", runs: &runs},
	}}

	assert.Equal(t, "first_and_second_and_third", c.Name())
	err := c.Execute(context.Background())
	assert.ErrorIs(t, err, errBoom)
	assert.EqualError(t, err, "second: boom")
	assert.Equal(t, []string{"first", "second"}, runs)
}

func TestComposite_StopsWhenCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	var runs []string
	first := &recordingStrategy{name: "first", runs: &runs}
	c := &Composite{Strategies: []Strategy{
		&cancelStrategy{recordingStrategy: first, cancel: cancel},
		&recordingStrategy{name: "second", runs: &runs},
	}}

	require.NoError(t, c.Execute(ctx))
	assert.Equal(t, []string{"first"}, runs)
}

type cancelStrategy struct {
	*recordingStrategy
	cancel context.CancelFunc
}

func (s *cancelStrategy) Execute(ctx context.Context) error {
	defer s.cancel()
	return s.recordingStrategy.Execute(ctx)
}
