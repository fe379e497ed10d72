package endpoint

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/config"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/apply"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/catalog"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/table"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

type PostgresTarget struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

var _ apply.Target = (*PostgresTarget)(nil)

func NewPostgresTarget(ctx context.Context, e config.Endpoint) (*PostgresTarget, error) {
	pool, err := connect(ctx, e)
	if err != nil {
		return nil, err
	}
	return &PostgresTarget{pool: pool, logger: zap.L().Named("target")}, nil
}

func (t *PostgresTarget) Close() {
	t.pool.Close()
}

func (t *PostgresTarget) Begin(ctx context.Context) (apply.Session, error) {
	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &session{tx: tx}, nil
}

type session struct {
	tx pgx.Tx
}

func (s *session) Exec(ctx context.Context, st apply.Statement) (int64, error) {
	query, args, err := st.ToSql()
	if err != nil {
		return 0, err
	}
	tag, err := s.tx.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *session) Exists(ctx context.Context, st apply.Statement) (bool, error) {
	query, args, err := st.ToSql()
	if err != nil {
		return false, err
	}
	var one int
	err = s.tx.QueryRow(ctx, query, args...).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *session) Commit(ctx context.Context) error {
	return s.tx.Commit(ctx)
}

func (s *session) Rollback(ctx context.Context) error {
	return s.tx.Rollback(ctx)
}

func qualified(schema, name string) string {
	return pq.QuoteIdentifier(schema) + "." + pq.QuoteIdentifier(name)
}

// createTableSQL renders the destination DDL of t. Source columns keep their
// described type; pipeline-created ones use the catalog DDL type.
func createTableSQL(t *table.Table) string {
	defs := make([]string, 0, len(t.Columns)+1)
	var keys []string
	for _, c := range t.Columns {
		typ := c.Type
		if typ == "" || c.Created {
			typ = catalog.DDLType(c.Kind)
		}
		def := pq.QuoteIdentifier(c.Name) + " " + typ
		if !c.Nullable {
			def += " NOT NULL"
		}
		defs = append(defs, def)
		if c.PrimaryKey {
			keys = append(keys, pq.QuoteIdentifier(c.Name))
		}
	}
	if len(keys) > 0 {
		defs = append(defs, "PRIMARY KEY ("+strings.Join(keys, ", ")+")")
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)",
		qualified(t.TargetSchema, t.TargetName), strings.Join(defs, ", "))
}

func (t *PostgresTarget) TableExists(ctx context.Context, schema, name string) (bool, error) {
	var exists bool
	err := t.pool.QueryRow(ctx, "SELECT to_regclass($1) IS NOT NULL", qualified(schema, name)).Scan(&exists)
	return exists, err
}

// Prepare runs the full load directives for the destination of tbl:
// recreate drops an existing table, create makes a missing one, truncate
// empties what is there.
func (t *PostgresTarget) Prepare(ctx context.Context, tbl *table.Table, d config.FullLoadConfig) error {
	name := qualified(tbl.TargetSchema, tbl.TargetName)
	exists, err := t.TableExists(ctx, tbl.TargetSchema, tbl.TargetName)
	if err != nil {
		return fmt.Errorf("check %s: %w", name, err)
	}

	if exists && d.RecreateTableIfExists {
		t.logger.Info("dropping table", zap.String("table", name))
		if _, err := t.pool.Exec(ctx, "DROP TABLE "+name); err != nil {
			return fmt.Errorf("drop %s: %w", name, err)
		}
		exists = false
	}
	if !exists && (d.CreateTableIfNotExists || d.RecreateTableIfExists) {
		t.logger.Info("creating table", zap.String("table", name))
		if _, err := t.pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pq.QuoteIdentifier(tbl.TargetSchema)); err != nil {
			return fmt.Errorf("create schema %s: %w", tbl.TargetSchema, err)
		}
		if _, err := t.pool.Exec(ctx, createTableSQL(tbl)); err != nil {
			return fmt.Errorf("create %s: %w", name, err)
		}
		exists = true
	}
	if !exists {
		return fmt.Errorf("%s: %w", name, ErrTableNotFound)
	}
	if d.TruncateBeforeInsert {
		t.logger.Info("truncating table", zap.String("table", name))
		if _, err := t.pool.Exec(ctx, "TRUNCATE TABLE "+name); err != nil {
			return fmt.Errorf("truncate %s: %w", name, err)
		}
	}
	return nil
}

// Copy bulk loads the payload of tbl into its destination.
func (t *PostgresTarget) Copy(ctx context.Context, tbl *table.Table) (int64, error) {
	cols := make([]string, len(tbl.Columns))
	for i, c := range tbl.Columns {
		cols[i] = c.Name
	}
	rows := tbl.Payload.Rows
	n, err := t.pool.CopyFrom(ctx,
		pgx.Identifier{tbl.TargetSchema, tbl.TargetName},
		cols,
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			vals := make([]any, len(rows[i].Values))
			for j, v := range rows[i].Values {
				if table.IsOmitted(v) {
					v = nil
				}
				vals[j] = v
			}
			return vals, nil
		}),
	)
	if err != nil {
		return n, fmt.Errorf("copy into %s: %w", tbl.TargetFullName(), err)
	}
	return n, nil
}
