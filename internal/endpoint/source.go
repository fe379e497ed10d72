// Package endpoint connects the pipeline to Postgres: the source side
// introspects, reads and exposes replication slot primitives; the target
// side opens per-row sessions, runs table directives and bulk loads.
package endpoint

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/config"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/capture"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/catalog"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/table"
	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

var (
	ErrTableNotFound = errors.New("table not found")

	psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
)

const objectInUse = "55006"

const describeQuery = `
SELECT a.attname,
       format_type(a.atttypid, a.atttypmod),
       NOT a.attnotnull,
       COALESCE(i.indisprimary, false)
FROM pg_attribute a
JOIN pg_class c ON c.oid = a.attrelid
JOIN pg_namespace n ON n.oid = c.relnamespace
LEFT JOIN pg_index i ON i.indrelid = c.oid AND i.indisprimary AND a.attnum = ANY(i.indkey)
WHERE n.nspname = $1 AND c.relname = $2 AND a.attnum > 0 AND NOT a.attisdropped
ORDER BY a.attnum`

func connect(ctx context.Context, e config.Endpoint) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, e.DSN())
	if err != nil {
		return nil, fmt.Errorf("connect %s/%s: %w", e.Host, e.Database, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping %s/%s: %w", e.Host, e.Database, err)
	}
	return pool, nil
}

type PostgresSource struct {
	pool      *pgxpool.Pool
	catalog   *catalog.Catalog
	logger    *zap.Logger
	batchSize int
}

var _ capture.SlotSource = (*PostgresSource)(nil)

func NewPostgresSource(ctx context.Context, e config.Endpoint, c *catalog.Catalog) (*PostgresSource, error) {
	pool, err := connect(ctx, e)
	if err != nil {
		return nil, err
	}
	return &PostgresSource{
		pool:      pool,
		catalog:   c,
		batchSize: e.BatchSize,
		logger:    zap.L().Named("source"),
	}, nil
}

func (s *PostgresSource) Close() {
	s.pool.Close()
}

func (s *PostgresSource) Catalog() *catalog.Catalog {
	return s.catalog
}

// Describe loads the column definitions of schema.name in ordinal order.
func (s *PostgresSource) Describe(ctx context.Context, schema, name string) (*table.Table, error) {
	rows, err := s.pool.Query(ctx, describeQuery, schema, name)
	if err != nil {
		return nil, fmt.Errorf("describe %s.%s: %w", schema, name, err)
	}
	defer rows.Close()

	t := table.New(schema, name)
	for rows.Next() {
		var c table.Column
		if err := rows.Scan(&c.Name, &c.Type, &c.Nullable, &c.PrimaryKey); err != nil {
			return nil, fmt.Errorf("describe %s.%s: %w", schema, name, err)
		}
		c.Kind = s.catalog.KindOf(c.Type)
		c.Ordinal = len(t.Columns) + 1
		t.Columns = append(t.Columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("describe %s.%s: %w", schema, name, err)
	}
	if len(t.Columns) == 0 {
		return nil, fmt.Errorf("%s.%s: %w", schema, name, ErrTableNotFound)
	}
	return t, nil
}

// ReadTable streams every row of t as text, batchSize rows per call to fn.
// A NULL is a nil pointer.
func (s *PostgresSource) ReadTable(ctx context.Context, t *table.Table, fn func([][]*string) error) error {
	cols := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = pq.QuoteIdentifier(c.Name) + "::text"
	}
	query, args, err := psql.Select(cols...).
		From(pq.QuoteIdentifier(t.Schema) + "." + pq.QuoteIdentifier(t.Name)).
		ToSql()
	if err != nil {
		return err
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("read %s: %w", t.FullName(), err)
	}
	defer rows.Close()

	size := s.batchSize
	if size <= 0 {
		size = 1000
	}
	batch := make([][]*string, 0, size)
	for rows.Next() {
		vals := make([]*string, len(cols))
		dest := make([]any, len(cols))
		for i := range vals {
			dest[i] = &vals[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return fmt.Errorf("read %s: %w", t.FullName(), err)
		}
		batch = append(batch, vals)
		if len(batch) == size {
			if err := fn(batch); err != nil {
				return err
			}
			batch = make([][]*string, 0, size)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read %s: %w", t.FullName(), err)
	}
	if len(batch) > 0 {
		return fn(batch)
	}
	return nil
}

func (s *PostgresSource) Slots(ctx context.Context, prefix string) ([]capture.SlotInfo, error) {
	query, args, err := psql.Select("slot_name", "COALESCE(plugin, '')", "active").
		From("pg_replication_slots").
		Where(sq.Eq{"slot_type": "logical"}).
		Where("database = current_database()").
		Where("starts_with(slot_name, ?)", prefix).
		OrderBy("slot_name").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (capture.SlotInfo, error) {
		var si capture.SlotInfo
		err := row.Scan(&si.Name, &si.Plugin, &si.Active)
		return si, err
	})
}

func (s *PostgresSource) CreateSlot(ctx context.Context, name, plugin string) error {
	_, err := s.pool.Exec(ctx, "SELECT pg_create_logical_replication_slot($1, $2)", name, plugin)
	return err
}

func (s *PostgresSource) DropSlot(ctx context.Context, name string) error {
	_, err := s.pool.Exec(ctx, "SELECT pg_drop_replication_slot($1)", name)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == objectInUse {
		return fmt.Errorf("%s: %w", name, capture.ErrSlotInUse)
	}
	return err
}

// PeekChanges reads pending lines without consuming them.
func (s *PostgresSource) PeekChanges(ctx context.Context, slot string) ([]capture.RawChange, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT lsn::text, xid::text, data FROM pg_logical_slot_peek_changes($1, NULL, NULL)", slot)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == objectInUse {
			return nil, fmt.Errorf("%s: %w", slot, capture.ErrSlotInUse)
		}
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (capture.RawChange, error) {
		var rc capture.RawChange
		err := row.Scan(&rc.LSN, &rc.XID, &rc.Data)
		return rc, err
	})
}

func (s *PostgresSource) AdvanceSlot(ctx context.Context, slot string, upTo pglogrepl.LSN) error {
	_, err := s.pool.Exec(ctx, "SELECT pg_replication_slot_advance($1, $2::pg_lsn)", slot, upTo.String())
	if err == nil {
		s.logger.Debug("slot advanced", zap.String("slot", slot), zap.Stringer("lsn", upTo))
	}
	return err
}
