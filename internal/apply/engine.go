// Package apply writes table payloads to a target through one of three write
// modes. Every row runs in its own session and commits on its own; a failed
// row is either contained (recorded and skipped) or stops the batch,
// depending on the error policy.
package apply

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/change"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/table"
	"go.uber.org/zap"
)

type Session interface {
	Exec(ctx context.Context, st Statement) (int64, error)
	Exists(ctx context.Context, st Statement) (bool, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

type Target interface {
	Begin(ctx context.Context) (Session, error)
}

// Exception is one contained row failure. TransactionID names the broker
// message it came from, when there is one.
type Exception struct {
	Time          time.Time
	Schema        string
	Table         string
	Message       string
	Kind          string
	Code          string
	Query         string
	TransactionID string
}

type transactionKey struct{}

// WithTransaction tags exceptions recorded under ctx with a transaction id.
func WithTransaction(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, transactionKey{}, id)
}

func TransactionFrom(ctx context.Context) string {
	id, _ := ctx.Value(transactionKey{}).(string)
	return id
}

type Ledger interface {
	RecordException(ctx context.Context, e Exception) error
}

// RunStats counts attempted rows per kind regardless of outcome; Errors
// counts the contained failures among them.
type RunStats struct {
	Inserts int `json:"inserts"`
	Updates int `json:"updates"`
	Deletes int `json:"deletes"`
	Errors  int `json:"errors"`
	Total   int `json:"total"`
}

func (s *RunStats) Add(o RunStats) {
	s.Inserts += o.Inserts
	s.Updates += o.Updates
	s.Deletes += o.Deletes
	s.Errors += o.Errors
	s.Total += o.Total
}

type Engine struct {
	target Target
	ledger Ledger
	metric Metric
	logger *zap.Logger
	now    func() time.Time
	mode   Mode
	scd2   SCD2Config
	policy Policy
}

type Option func(*Engine)

func WithPolicy(p Policy) Option {
	return func(e *Engine) { e.policy = p }
}

func WithSCD2(cfg SCD2Config) Option {
	return func(e *Engine) { e.scd2 = cfg }
}

func WithLedger(l Ledger) Option {
	return func(e *Engine) { e.ledger = l }
}

func WithMetric(m Metric) Option {
	return func(e *Engine) { e.metric = m }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(target Target, mode Mode, opts ...Option) *Engine {
	e := &Engine{
		target: target,
		mode:   mode,
		scd2:   DefaultSCD2(),
		now:    time.Now,
		logger: zap.L().Named("apply"),
	}
	for _, o := range opts {
		o(e)
	}
	if e.metric == nil {
		e.metric = nopMetric{}
	}
	return e
}

func (e *Engine) Mode() Mode {
	return e.mode
}

// Apply writes every row of t in sequence order. The returned error is
// non-nil when the table cannot be written at all, when a failed row
// stops the batch or when ctx ends first; stats then cover the rows
// attempted so far. Cancellation is returned as the context error itself.
func (e *Engine) Apply(ctx context.Context, t *table.Table) (RunStats, error) {
	var stats RunStats
	if t.Payload.Len() == 0 {
		return stats, nil
	}

	var roles scd2Columns
	if e.mode == ModeSCD2 {
		var err error
		if roles, err = resolveSCD2(t, e.scd2, true); err != nil {
			return stats, err
		}
	}

	rows := make([]table.Row, len(t.Payload.Rows))
	copy(rows, t.Payload.Rows)
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Sequence < rows[j].Sequence })

	for _, row := range rows {
		// unwritten rows stay with the caller for redelivery
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if !hasValues(t, row, roles) {
			continue
		}
		switch row.Operation {
		case change.Insert:
			stats.Inserts++
		case change.Update:
			stats.Updates++
		case change.Delete:
			stats.Deletes++
		}
		stats.Total++

		key := policyKey(e.mode, row.Operation)
		query, err := e.applyRow(ctx, t, row, roles)
		e.metric.AddRows(t.TargetFullName(), string(row.Operation), 1)
		if err == nil {
			continue
		}
		if cancelled(err) {
			return stats, err
		}

		aerr := &ApplyError{
			Err:    err,
			Schema: t.TargetSchema,
			Table:  t.TargetName,
			Kind:   key,
			Query:  query,
			Code:   databaseCode(err),
		}
		if e.policy.Stops(key) {
			return stats, aerr
		}
		stats.Errors++
		e.metric.AddErrors(t.TargetFullName(), key, 1)
		e.logger.Warn("row skipped",
			zap.String("table", t.TargetFullName()),
			zap.String("kind", key),
			zap.Int64("sequence", row.Sequence),
			zap.Error(err))
		e.record(ctx, aerr)
	}
	return stats, nil
}

func (e *Engine) record(ctx context.Context, aerr *ApplyError) {
	if e.ledger == nil {
		return
	}
	ex := Exception{
		Time:    e.now(),
		Schema:  aerr.Schema,
		Table:   aerr.Table,
		Message: aerr.Err.Error(),
		Kind:    aerr.Kind,
		Code:    aerr.Code,
		Query:   aerr.Query,

		TransactionID: TransactionFrom(ctx),
	}
	if err := e.ledger.RecordException(ctx, ex); err != nil {
		e.logger.Error("record exception", zap.Error(err))
	}
}

// applyRow runs the statements of one row in a session of its own and
// returns the last statement tried, for the exception ledger.
func (e *Engine) applyRow(ctx context.Context, t *table.Table, row table.Row, roles scd2Columns) (string, error) {
	sess, err := e.target.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	w := &writer{ctx: ctx, sess: sess}

	switch e.mode {
	case ModeUpsert:
		err = w.upsert(t, row)
	case ModeSCD2:
		err = w.scd2(t, row, roles, stamp(e.now(), e.scd2.DateType))
	default:
		err = w.plain(t, row)
	}
	if err != nil {
		if rerr := sess.Rollback(ctx); rerr != nil {
			e.logger.Error("rollback", zap.Error(rerr))
		}
		return w.last.SQL(), err
	}
	if err := sess.Commit(ctx); err != nil {
		return w.last.SQL(), fmt.Errorf("commit: %w", err)
	}
	return w.last.SQL(), nil
}

type writer struct {
	ctx  context.Context
	sess Session
	last Statement
}

func (w *writer) exec(st Statement) error {
	w.last = st
	_, err := w.sess.Exec(w.ctx, st)
	return err
}

func (w *writer) exists(st Statement) (bool, error) {
	w.last = st
	return w.sess.Exists(w.ctx, st)
}

// plain dispatches on the row kind without any conflict handling.
func (w *writer) plain(t *table.Table, row table.Row) error {
	switch row.Operation {
	case change.Insert:
		return w.exec(Statement{Kind: StmtInsert, Schema: t.TargetSchema, Table: t.TargetName, Set: present(t, row, nil)})
	case change.Delete:
		return w.delete(t, row)
	case change.Update:
		where, err := keyPairs(t, row, pkNames(t))
		if err != nil {
			return err
		}
		set := present(t, row, func(c table.Column) bool { return c.PrimaryKey })
		if len(set) == 0 {
			return nil
		}
		return w.exec(Statement{Kind: StmtUpdate, Schema: t.TargetSchema, Table: t.TargetName, Set: set, Where: where})
	}
	return fmt.Errorf("unknown operation %q", row.Operation)
}

func (w *writer) delete(t *table.Table, row table.Row) error {
	where, err := keyPairs(t, row, pkNames(t))
	if err != nil {
		return err
	}
	return w.exec(Statement{Kind: StmtDelete, Schema: t.TargetSchema, Table: t.TargetName, Where: where})
}

// upsert writes inserts and updates with ON CONFLICT on the primary key. A
// key-only table has nothing to update on conflict, so the row is deleted
// and inserted again.
func (w *writer) upsert(t *table.Table, row table.Row) error {
	if row.Operation == change.Delete {
		return w.delete(t, row)
	}
	keys := pkNames(t)
	where, err := keyPairs(t, row, keys)
	if err != nil {
		return err
	}
	set := present(t, row, nil)

	if len(keys) == len(t.Columns) {
		if err := w.exec(Statement{Kind: StmtDelete, Schema: t.TargetSchema, Table: t.TargetName, Where: where}); err != nil {
			return err
		}
		return w.exec(Statement{Kind: StmtInsert, Schema: t.TargetSchema, Table: t.TargetName, Set: set})
	}

	var update []string
	for _, p := range set {
		if c, _ := t.Column(p.Column); c != nil && !c.PrimaryKey {
			update = append(update, p.Column)
		}
	}
	return w.exec(Statement{
		Kind:     StmtUpsert,
		Schema:   t.TargetSchema,
		Table:    t.TargetName,
		Set:      set,
		Conflict: keys,
		Update:   update,
	})
}

// scd2 closes the current version of the natural key and, unless the row is
// a delete, opens a new one stamped with now.
func (w *writer) scd2(t *table.Table, row table.Row, roles scd2Columns, now time.Time) error {
	natural := roles.naturalKey(t)
	if len(natural) == 0 {
		return fmt.Errorf("%s: natural key: %w", t.TargetFullName(), ErrNoPrimaryKey)
	}
	where, err := keyPairs(t, row, natural)
	if err != nil {
		return err
	}
	where = append(where, Pair{Column: roles.current, Value: 1})
	disable := Statement{
		Kind:   StmtUpdate,
		Schema: t.TargetSchema,
		Table:  t.TargetName,
		Set:    []Pair{{Column: roles.end, Value: now}, {Column: roles.current, Value: 0}},
		Where:  where,
	}

	if row.Operation == change.Delete {
		return w.exec(disable)
	}

	current, err := w.exists(Statement{Kind: StmtExists, Schema: t.TargetSchema, Table: t.TargetName, Where: where})
	if err != nil {
		return err
	}
	if current {
		if err := w.exec(disable); err != nil {
			return err
		}
	}
	set := present(t, row, func(c table.Column) bool { return roles.isRole(c.Name) })
	set = append(set,
		Pair{Column: roles.start, Value: now},
		Pair{Column: roles.end, Value: nil},
		Pair{Column: roles.current, Value: 1},
	)
	return w.exec(Statement{Kind: StmtInsert, Schema: t.TargetSchema, Table: t.TargetName, Set: set})
}

func pkNames(t *table.Table) []string {
	keys := t.PrimaryKeys()
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k.Name
	}
	return names
}

func keyPairs(t *table.Table, row table.Row, keys []string) ([]Pair, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("%s: %w", t.TargetFullName(), ErrNoPrimaryKey)
	}
	pairs := make([]Pair, 0, len(keys))
	for _, k := range keys {
		i := t.ColumnIndex(k)
		if i < 0 || table.IsOmitted(row.Values[i]) {
			return nil, fmt.Errorf("%s.%s: %w", t.TargetFullName(), k, ErrMissingKey)
		}
		pairs = append(pairs, Pair{Column: k, Value: row.Values[i]})
	}
	return pairs, nil
}

// present returns the columns the row carries, in column order, leaving out
// omitted values and the columns skip reports.
func present(t *table.Table, row table.Row, skip func(table.Column) bool) []Pair {
	pairs := make([]Pair, 0, len(t.Columns))
	for i, c := range t.Columns {
		if table.IsOmitted(row.Values[i]) || (skip != nil && skip(c)) {
			continue
		}
		pairs = append(pairs, Pair{Column: c.Name, Value: row.Values[i]})
	}
	return pairs
}

func hasValues(t *table.Table, row table.Row, roles scd2Columns) bool {
	for i, c := range t.Columns {
		if roles.isRole(c.Name) {
			continue
		}
		if !table.IsOmitted(row.Values[i]) {
			return true
		}
	}
	return false
}
