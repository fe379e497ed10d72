package apply_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/apply"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/catalog"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/change"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/table"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func employees(rows ...table.Row) *table.Table {
	t := table.New("public", "employees")
	t.TargetSchema = "dw"
	t.Columns = []table.Column{
		{Name: "id", Type: "integer", Kind: catalog.KindInteger, PrimaryKey: true, Ordinal: 1},
		{Name: "name", Type: "text", Kind: catalog.KindString, Nullable: true, Ordinal: 2},
	}
	for i := range rows {
		rows[i].Sequence = int64(i)
	}
	t.Payload = &table.Payload{Rows: rows}
	return t
}

func row(kind change.Kind, values ...any) table.Row {
	return table.Row{Operation: kind, Values: values}
}

func TestApply_Default(t *testing.T) {
	t.Parallel()

	target := &memTarget{unique: []string{"id"}, rows: []record{{"id": int64(3), "name": "Grace"}}}
	tbl := employees(
		row(change.Insert, int64(1), "Ada"),
		row(change.Insert, int64(2), "Alan"),
		row(change.Update, int64(1), "Ada Lovelace"),
		row(change.Delete, int64(3), table.Omitted),
	)

	stats, err := apply.New(target, apply.ModeDefault, apply.WithClock(clock)).Apply(context.Background(), tbl)
	require.NoError(t, err)
	assert.Equal(t, apply.RunStats{Inserts: 2, Updates: 1, Deletes: 1, Total: 4}, stats)
	assert.Equal(t, []record{{"id": int64(1), "name": "Ada Lovelace"}, {"id": int64(2), "name": "Alan"}}, target.snapshot())
	assert.Equal(t,
		[]apply.StatementKind{apply.StmtInsert, apply.StmtInsert, apply.StmtUpdate, apply.StmtDelete},
		target.kinds())
}

func TestApply_SequenceOrder(t *testing.T) {
	t.Parallel()

	target := &memTarget{unique: []string{"id"}}
	tbl := employees(
		row(change.Update, int64(1), "second"),
		row(change.Insert, int64(1), "first"),
	)
	tbl.Payload.Rows[0].Sequence = 9

	_, err := apply.New(target, apply.ModeDefault).Apply(context.Background(), tbl)
	require.NoError(t, err)
	assert.Equal(t, []record{{"id": int64(1), "name": "second"}}, target.snapshot())
}

func TestApply_ContainedUpdateFailure(t *testing.T) {
	t.Parallel()

	target := &memTarget{unique: []string{"id"}}
	rows := make([]table.Row, 0, 10)
	for i := 1; i <= 10; i++ {
		target.rows = append(target.rows, record{"id": int64(i), "name": "old"})
		rows = append(rows, row(change.Update, int64(i), fmt.Sprintf("new-%d", i)))
	}
	target.fail = func(st apply.Statement, _ record) error {
		if st.Kind == apply.StmtUpdate && st.Where[0].Value == int64(5) {
			return errors.New("lock timeout")
		}
		return nil
	}
	ledger := &memLedger{}

	stats, err := apply.New(target, apply.ModeDefault, apply.WithLedger(ledger), apply.WithClock(clock)).
		Apply(context.Background(), employees(rows...))
	require.NoError(t, err)
	assert.Equal(t, apply.RunStats{Updates: 10, Total: 10, Errors: 1}, stats)

	var updated int
	for _, r := range target.snapshot() {
		if r["name"] != "old" {
			updated++
		}
	}
	assert.Equal(t, 9, updated)

	require.Len(t, ledger.exceptions, 1)
	ex := ledger.exceptions[0]
	assert.Equal(t, "dw", ex.Schema)
	assert.Equal(t, "employees", ex.Table)
	assert.Equal(t, apply.KeyUpdate, ex.Kind)
	assert.Equal(t, "lock timeout", ex.Message)
	assert.Contains(t, ex.Query, `UPDATE "dw"."employees"`)
	assert.Equal(t, fixedNow, ex.Time)
}

func TestApply_EscalatedFailure(t *testing.T) {
	t.Parallel()

	target := &memTarget{unique: []string{"id"}, rows: []record{{"id": int64(1), "name": "Ada"}}}
	tbl := employees(
		row(change.Insert, int64(1), "Ada again"),
		row(change.Insert, int64(2), "Alan"),
	)

	stats, err := apply.New(target, apply.ModeDefault, apply.WithPolicy(apply.Policy{StopOnInsert: true})).
		Apply(context.Background(), tbl)

	var aerr *apply.ApplyError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, "23505", aerr.Code)
	assert.Equal(t, apply.KeyInsert, aerr.Kind)
	assert.Equal(t, apply.RunStats{Inserts: 1, Total: 1}, stats)
	assert.Len(t, target.snapshot(), 1)
}

func TestApply_CancelledMidTable(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var begun int
	target := &memTarget{unique: []string{"id"}}
	target.begin = func(ctx context.Context) error {
		begun++
		if begun == 2 {
			cancel()
		}
		return ctx.Err()
	}
	ledger := &memLedger{}
	tbl := employees(
		row(change.Insert, int64(1), "Ada"),
		row(change.Insert, int64(2), "Alan"),
		row(change.Insert, int64(3), "Grace"),
		row(change.Insert, int64(4), "Edsger"),
	)

	stats, err := apply.New(target, apply.ModeDefault, apply.WithLedger(ledger)).Apply(ctx, tbl)
	require.ErrorIs(t, err, context.Canceled)

	var aerr *apply.ApplyError
	assert.False(t, errors.As(err, &aerr))
	assert.Zero(t, stats.Errors)
	assert.Equal(t, 2, stats.Total)
	assert.Empty(t, ledger.exceptions)
	assert.Equal(t, []record{{"id": int64(1), "name": "Ada"}}, target.snapshot())
}

func TestApply_CancelledBeforeStart(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	target := &memTarget{}
	stats, err := apply.New(target, apply.ModeUpsert).Apply(ctx, employees(row(change.Insert, int64(1), "Ada")))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, apply.RunStats{}, stats)
	assert.Empty(t, target.statements)
}

func TestApply_DuplicateInsertIsContained(t *testing.T) {
	t.Parallel()

	target := &memTarget{unique: []string{"id"}, rows: []record{{"id": int64(1), "name": "Ada"}}}
	ledger := &memLedger{}

	stats, err := apply.New(target, apply.ModeDefault, apply.WithLedger(ledger)).
		Apply(context.Background(), employees(row(change.Insert, int64(1), "Ada")))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Errors)
	require.Len(t, ledger.exceptions, 1)
	assert.Equal(t, "23505", ledger.exceptions[0].Code)
	assert.Len(t, target.snapshot(), 1)
}

func TestApply_NoPrimaryKey(t *testing.T) {
	t.Parallel()

	tbl := employees(row(change.Update, int64(1), "x"), row(change.Insert, int64(2), "y"))
	tbl.Columns[0].PrimaryKey = false
	target := &memTarget{}
	ledger := &memLedger{}

	stats, err := apply.New(target, apply.ModeDefault, apply.WithLedger(ledger)).Apply(context.Background(), tbl)
	require.NoError(t, err)
	assert.Equal(t, apply.RunStats{Inserts: 1, Updates: 1, Errors: 1, Total: 2}, stats)
	require.Len(t, ledger.exceptions, 1)
	assert.Contains(t, ledger.exceptions[0].Message, apply.ErrNoPrimaryKey.Error())

	_, err = apply.New(target, apply.ModeDefault, apply.WithPolicy(apply.Policy{StopOnUpdate: true})).
		Apply(context.Background(), tbl)
	assert.ErrorIs(t, err, apply.ErrNoPrimaryKey)
}

func TestApply_SkipsRowsWithoutValues(t *testing.T) {
	t.Parallel()

	target := &memTarget{}
	stats, err := apply.New(target, apply.ModeDefault).
		Apply(context.Background(), employees(row(change.Delete, table.Omitted, table.Omitted)))
	require.NoError(t, err)
	assert.Zero(t, stats.Total)
	assert.Empty(t, target.statements)
}

func TestApply_Upsert(t *testing.T) {
	t.Parallel()

	target := &memTarget{unique: []string{"id"}, rows: []record{{"id": int64(1), "name": "Ada"}}}
	tbl := employees(
		row(change.Insert, int64(1), "Ada Lovelace"),
		row(change.Update, int64(2), "Alan"),
		row(change.Insert, int64(3), table.Omitted),
		row(change.Delete, int64(2), table.Omitted),
	)

	stats, err := apply.New(target, apply.ModeUpsert).Apply(context.Background(), tbl)
	require.NoError(t, err)
	assert.Equal(t, apply.RunStats{Inserts: 2, Updates: 1, Deletes: 1, Total: 4}, stats)
	assert.Equal(t, []record{{"id": int64(1), "name": "Ada Lovelace"}, {"id": int64(3)}}, target.snapshot())

	sts := target.statements
	require.Len(t, sts, 4)
	assert.Equal(t, []string{"name"}, sts[0].Update)
	assert.Empty(t, sts[2].Update, "a row without non-key values does nothing on conflict")
	assert.Equal(t, apply.StmtDelete, sts[3].Kind)
}

func TestApply_UpsertKeyOnlyTable(t *testing.T) {
	t.Parallel()

	tbl := table.New("public", "memberships")
	tbl.Columns = []table.Column{
		{Name: "user_id", Type: "integer", Kind: catalog.KindInteger, PrimaryKey: true},
		{Name: "group_id", Type: "integer", Kind: catalog.KindInteger, PrimaryKey: true},
	}
	tbl.Payload = &table.Payload{Rows: []table.Row{row(change.Update, int64(1), int64(7))}}
	target := &memTarget{
		unique: []string{"user_id", "group_id"},
		rows:   []record{{"user_id": int64(1), "group_id": int64(7)}, {"user_id": int64(2), "group_id": int64(7)}},
	}

	stats, err := apply.New(target, apply.ModeUpsert).Apply(context.Background(), tbl)
	require.NoError(t, err)
	assert.Equal(t, apply.RunStats{Updates: 1, Total: 1}, stats)
	assert.Equal(t, []apply.StatementKind{apply.StmtDelete, apply.StmtInsert}, target.kinds())
	assert.ElementsMatch(t,
		[]record{{"user_id": int64(2), "group_id": int64(7)}, {"user_id": int64(1), "group_id": int64(7)}},
		target.snapshot())
}

func scd2Employees(rows ...table.Row) *table.Table {
	t := employees(rows...)
	t.Columns = append(t.Columns,
		table.Column{Name: "valid_from", Type: "timestamp", Kind: catalog.KindDatetime, SCD2: table.RoleStartDate, PrimaryKey: true},
		table.Column{Name: "valid_to", Type: "timestamp", Kind: catalog.KindDatetime, SCD2: table.RoleEndDate},
		table.Column{Name: "is_current", Type: "integer", Kind: catalog.KindInteger, SCD2: table.RoleCurrent},
	)
	for i := range t.Payload.Rows {
		t.Payload.Rows[i].Values = append(t.Payload.Rows[i].Values, nil, nil, nil)
	}
	return t
}

func TestApply_SCD2Update(t *testing.T) {
	t.Parallel()

	opened := fixedNow.Add(-24 * time.Hour)
	target := &memTarget{rows: []record{
		{"id": int64(1), "name": "Ada", "valid_from": opened, "valid_to": nil, "is_current": 1},
		{"id": int64(2), "name": "Alan", "valid_from": opened, "valid_to": nil, "is_current": 1},
	}}

	stats, err := apply.New(target, apply.ModeSCD2, apply.WithClock(clock)).
		Apply(context.Background(), scd2Employees(row(change.Update, int64(1), "Ada Lovelace")))
	require.NoError(t, err)
	assert.Equal(t, apply.RunStats{Updates: 1, Total: 1}, stats)

	var current, closed int
	for _, r := range target.snapshot() {
		if r["id"] != int64(1) {
			continue
		}
		if same(r["is_current"], 1) {
			current++
			assert.Equal(t, "Ada Lovelace", r["name"])
			assert.Equal(t, fixedNow, r["valid_from"])
			assert.Nil(t, r["valid_to"])
			continue
		}
		closed++
		assert.True(t, same(r["is_current"], 0))
		assert.Equal(t, fixedNow, r["valid_to"])
	}
	assert.Equal(t, 1, current)
	assert.Equal(t, 1, closed)
	assert.Equal(t, []apply.StatementKind{apply.StmtExists, apply.StmtUpdate, apply.StmtInsert}, target.kinds())
}

func TestApply_SCD2InsertAndDelete(t *testing.T) {
	t.Parallel()

	target := &memTarget{}
	tbl := scd2Employees(
		row(change.Insert, int64(5), "Grace"),
		row(change.Delete, int64(5), table.Omitted),
		row(change.Delete, int64(6), table.Omitted),
	)

	stats, err := apply.New(target, apply.ModeSCD2, apply.WithClock(clock)).Apply(context.Background(), tbl)
	require.NoError(t, err)
	assert.Equal(t, apply.RunStats{Inserts: 1, Deletes: 2, Total: 3}, stats)

	rows := target.snapshot()
	require.Len(t, rows, 1)
	assert.True(t, same(rows[0]["is_current"], 0))
	assert.Equal(t, fixedNow, rows[0]["valid_to"])
	assert.Equal(t,
		[]apply.StatementKind{apply.StmtExists, apply.StmtInsert, apply.StmtUpdate, apply.StmtUpdate},
		target.kinds())
}

func TestApply_SCD2AddsMissingRoles(t *testing.T) {
	t.Parallel()

	target := &memTarget{}
	tbl := employees(row(change.Insert, int64(1), "Ada"))
	cfg := apply.DefaultSCD2()
	cfg.DateType = catalog.KindDate

	_, err := apply.New(target, apply.ModeSCD2, apply.WithSCD2(cfg), apply.WithClock(clock)).
		Apply(context.Background(), tbl)
	require.NoError(t, err)

	require.Len(t, tbl.Columns, 5)
	start, err := tbl.Column("scd_start_date")
	require.NoError(t, err)
	assert.Equal(t, table.RoleStartDate, start.SCD2)
	assert.True(t, start.Created)
	assert.Equal(t, catalog.KindDate, start.Kind)

	rows := target.snapshot()
	require.Len(t, rows, 1)
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), rows[0]["scd_start_date"])
	assert.True(t, same(rows[0]["scd_current"], 1))
}

func TestPrepareSCD2_DuplicateRole(t *testing.T) {
	t.Parallel()

	tbl := scd2Employees()
	tbl.Columns = append(tbl.Columns, table.Column{Name: "also_current", SCD2: table.RoleCurrent})
	err := apply.PrepareSCD2(tbl, apply.DefaultSCD2())
	assert.ErrorIs(t, err, apply.ErrSCD2Role)
}

func TestApply_SCD2WithoutNaturalKey(t *testing.T) {
	t.Parallel()

	tbl := scd2Employees(row(change.Insert, int64(1), "Ada"))
	tbl.Columns[0].PrimaryKey = false
	_, err := apply.New(&memTarget{}, apply.ModeSCD2, apply.WithPolicy(apply.Policy{StopOnSCD2: true})).
		Apply(context.Background(), tbl)

	var aerr *apply.ApplyError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, apply.KeySCD2, aerr.Kind)
	assert.ErrorIs(t, err, apply.ErrNoPrimaryKey)
}
