package integration

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	replication "github.com/Vinicius-Luiz/data-replication-python-service-sub000"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/config"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/table"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/rabbitmq"
	_ "github.com/lib/pq"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFullLoad(t *testing.T) {
	ctx := context.Background()
	src := mustOpenDB(t, sourceDatabase)
	mustExec(t, src,
		`CREATE TABLE public.fl_employees (id integer PRIMARY KEY, name text, active boolean NOT NULL)`,
		`INSERT INTO public.fl_employees VALUES (1, 'Ada', true), (2, 'Alan', false), (3, NULL, true)`,
	)

	cfg := newTaskConfig(t, "full load", config.FullLoad, config.ModeDefault, config.Table{
		Schema: "public", Table: "fl_employees", TargetSchema: "staging_area",
		Filters: []table.Filter{{Column: "active", Kind: table.FilterEquals, Value: true}},
		Transformations: []table.Transformation{{Kind: table.CreateColumn, Contract: table.Contract{
			Operation: table.OpLiteral, Column: "origin", Params: map[string]any{"value": "hr"},
		}}},
	})
	r := mustNewReplicator(t, cfg)
	require.NoError(t, r.Strategy().Execute(ctx))

	dst := mustOpenDB(t, targetDatabase)
	rows := queryStrings(t, dst, `SELECT id::text || ':' || COALESCE(name, '-') || ':' || origin FROM staging_area.fl_employees ORDER BY id`)
	assert.Equal(t, []string{"1:Ada:hr", "3:-:hr"}, rows)

	stats, err := r.Store().RunStats(ctx, r.RunID())
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, 2, stats[0].Inserts)
}

func TestCDC_Default(t *testing.T) {
	src := mustOpenDB(t, sourceDatabase)
	dst := mustOpenDB(t, targetDatabase)
	mustExec(t, src, `CREATE TABLE public.cdc_accounts (id integer PRIMARY KEY, owner text, balance numeric)`)
	mustExec(t, dst, `CREATE TABLE public.cdc_accounts (id integer PRIMARY KEY, owner text, balance numeric)`)

	cfg := newTaskConfig(t, "cdc default", config.CDC, config.ModeDefault,
		config.Table{Schema: "public", Table: "cdc_accounts"})
	stop := runInBackground(t, cfg)
	defer stop()

	mustExec(t, src,
		`INSERT INTO public.cdc_accounts VALUES (1, 'ada', 10), (2, 'alan', 20)`,
		`UPDATE public.cdc_accounts SET balance = 12345678901234567.89 WHERE id = 1`,
		`DELETE FROM public.cdc_accounts WHERE id = 2`,
	)

	assert.Eventually(t, func() bool {
		rows := queryStrings(t, dst, `SELECT id::text || ':' || owner || ':' || balance::text FROM public.cdc_accounts ORDER BY id`)
		return len(rows) == 1 && rows[0] == "1:ada:12345678901234567.89"
	}, 30*time.Second, 250*time.Millisecond)
}

func TestCDC_SCD2(t *testing.T) {
	src := mustOpenDB(t, sourceDatabase)
	dst := mustOpenDB(t, targetDatabase)
	mustExec(t, src, `CREATE TABLE public.scd_customers (id integer PRIMARY KEY, city text)`)
	mustExec(t, dst, `CREATE TABLE public.scd_customers (
		id integer NOT NULL, city text,
		scd_start_date timestamp, scd_end_date timestamp, scd_current boolean)`)

	cfg := newTaskConfig(t, "cdc scd2", config.CDC, config.ModeSCD2,
		config.Table{Schema: "public", Table: "scd_customers"})
	stop := runInBackground(t, cfg)
	defer stop()

	mustExec(t, src,
		`INSERT INTO public.scd_customers VALUES (1, 'Lisbon')`,
		`UPDATE public.scd_customers SET city = 'Porto' WHERE id = 1`,
	)

	assert.Eventually(t, func() bool {
		rows := queryStrings(t, dst, `SELECT city || ':' || scd_current::text FROM public.scd_customers WHERE id = 1 ORDER BY scd_start_date, city`)
		return len(rows) == 2 && rows[0] == "Lisbon:false" && rows[1] == "Porto:true"
	}, 30*time.Second, 250*time.Millisecond)
}

func TestCDC_UndecodableMessageIsDeadLettered(t *testing.T) {
	ctx := context.Background()
	src := mustOpenDB(t, sourceDatabase)
	mustExec(t, src, `CREATE TABLE public.dlx_events (id integer PRIMARY KEY)`)

	cfg := newTaskConfig(t, "dead letter", config.CDC, config.ModeDefault,
		config.Table{Schema: "public", Table: "dlx_events"})
	stop := runInBackground(t, cfg)
	defer stop()

	client, err := rabbitmq.NewClient(cfg.RabbitMQ, cfg.Broker())
	require.NoError(t, err)
	defer client.Close()
	ch := client.Channel()
	require.NotNil(t, ch)

	b := cfg.Broker()
	require.NoError(t, ch.PublishWithContext(ctx, b.Exchange, b.RoutingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        []byte("{not json"),
	}))

	cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	msg, err := rabbitmq.ConsumeOne(cctx, ch, b.DLXQueue)
	require.NoError(t, err)
	assert.Equal(t, []byte("{not json"), msg.Body)
}

func newTaskConfig(t *testing.T, name string, typ config.ReplicationType, mode config.CDCMode, tables ...config.Table) *config.Config {
	t.Helper()
	dir := t.TempDir()
	endpoint := func(database string) config.Endpoint {
		return config.Endpoint{
			Host:     Infra.PostgresHost,
			Port:     Infra.PostgresPortNumber(),
			Database: database,
			User:     dbUser,
			Password: dbPassword,
			SSLMode:  "disable",
		}
	}
	return &config.Config{
		Task: config.Task{
			Name:            name,
			ReplicationType: typ,
			CDCMode:         mode,
			Interval:        200 * time.Millisecond,
			FullLoad: config.FullLoadConfig{
				StagingPath:            filepath.Join(dir, "staging"),
				CreateTableIfNotExists: true,
				TruncateBeforeInsert:   true,
			},
		},
		Source:   endpoint(sourceDatabase),
		Target:   endpoint(targetDatabase),
		RabbitMQ: config.RabbitMQ{URL: Infra.AMQPURL(), Prefix: "it"},
		Metadata: config.Metadata{Path: filepath.Join(dir, "replication.db")},
		Tables:   tables,
	}
}

func mustNewReplicator(t *testing.T, cfg *config.Config) *replication.Replicator {
	t.Helper()
	r, err := replication.New(cfg)
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r
}

// runInBackground starts the task's strategy and waits until its slot
// exists, so changes made afterwards are captured.
func runInBackground(t *testing.T, cfg *config.Config) func() {
	t.Helper()
	r := mustNewReplicator(t, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Strategy().Execute(ctx) }()

	src := mustOpenDB(t, sourceDatabase)
	require.Eventually(t, func() bool {
		var n int
		err := src.QueryRow(`SELECT count(*) FROM pg_replication_slots WHERE slot_name = $1`, cfg.SlotName()).Scan(&n)
		return err == nil && n == 1
	}, 30*time.Second, 100*time.Millisecond)

	return func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(15 * time.Second):
			t.Error("strategy did not stop")
		}
		_, _ = src.Exec(`SELECT pg_drop_replication_slot($1)`, cfg.SlotName())
	}
}

func mustOpenDB(t *testing.T, database string) *sql.DB {
	t.Helper()
	db, err := sql.Open("postgres", Infra.DSN(database))
	require.NoError(t, err)
	require.NoError(t, db.Ping())
	t.Cleanup(func() { db.Close() })
	return db
}

func mustExec(t *testing.T, db *sql.DB, statements ...string) {
	t.Helper()
	for _, s := range statements {
		_, err := db.Exec(s)
		require.NoError(t, err, s)
	}
}

func queryStrings(t *testing.T, db *sql.DB, query string) []string {
	t.Helper()
	rows, err := db.Query(query)
	if err != nil {
		return nil
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		require.NoError(t, rows.Scan(&s))
		out = append(out, s)
	}
	return out
}
