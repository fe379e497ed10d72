package benchmark

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	replication "github.com/Vinicius-Luiz/data-replication-python-service-sub000"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/config"
	_ "github.com/lib/pq"
)

// BenchmarkThroughput measures source inserts until every row reached the
// target through the broker. It runs against BENCH_* hosts.
func BenchmarkThroughput(b *testing.B) {
	pgHost := envOrDefault("BENCH_POSTGRES_HOST", "localhost")
	pgPort := envOrDefault("BENCH_POSTGRES_PORT", "5432")
	rmqHost := envOrDefault("BENCH_RABBITMQ_HOST", "localhost")
	rmqPort := envOrDefault("BENCH_RABBITMQ_PORT", "5672")
	port, _ := strconv.Atoi(pgPort)

	src := mustOpen(b, fmt.Sprintf("postgres://cdc_user:cdc_pass@%s:%s/cdc_db?sslmode=disable", pgHost, pgPort))
	dst := mustOpen(b, fmt.Sprintf("postgres://cdc_user:cdc_pass@%s:%s/cdc_target?sslmode=disable", pgHost, pgPort))
	for _, db := range []*sql.DB{src, dst} {
		_, _ = db.ExecContext(context.Background(), `CREATE TABLE IF NOT EXISTS benchmark_events (id SERIAL PRIMARY KEY, payload TEXT NOT NULL)`)
		_, _ = db.ExecContext(context.Background(), `TRUNCATE benchmark_events`)
	}

	endpoint := func(database string) config.Endpoint {
		return config.Endpoint{Host: pgHost, Port: port, Database: database, User: "cdc_user", Password: "cdc_pass", SSLMode: "disable"}
	}
	dir := b.TempDir()
	cfg := &config.Config{
		Task: config.Task{
			Name:     "benchmark",
			Interval: 100 * time.Millisecond,
			FullLoad: config.FullLoadConfig{StagingPath: filepath.Join(dir, "staging")},
		},
		Source:   endpoint("cdc_db"),
		Target:   endpoint("cdc_target"),
		RabbitMQ: config.RabbitMQ{URL: fmt.Sprintf("amqp://guest:guest@%s:%s/", rmqHost, rmqPort)},
		Metadata: config.Metadata{Path: filepath.Join(dir, "replication.db")},
		Tables:   []config.Table{{Schema: "public", Table: "benchmark_events"}},
	}
	cfg.Source.BatchSize = 2000

	r, err := replication.New(cfg)
	if err != nil {
		b.Fatal(err)
	}
	defer r.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Strategy().Execute(ctx) }()
	waitFor(b, src, `SELECT count(*) FROM pg_replication_slots WHERE slot_name = $1`, 1, cfg.SlotName())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := src.ExecContext(ctx, `INSERT INTO benchmark_events (payload) VALUES ($1)`, fmt.Sprintf("event-%d", i)); err != nil {
			b.Fatal(err)
		}
	}
	waitFor(b, dst, `SELECT count(*) FROM benchmark_events`, b.N)
}

func mustOpen(b *testing.B, dsn string) *sql.DB {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { db.Close() })
	return db
}

func waitFor(b *testing.B, db *sql.DB, query string, want int, args ...any) {
	deadline := time.Now().Add(2 * time.Minute)
	for time.Now().Before(deadline) {
		var n int
		if err := db.QueryRow(query, args...).Scan(&n); err == nil && n >= want {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	b.Fatalf("timed out waiting for %d rows", want)
}

func envOrDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}
