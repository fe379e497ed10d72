package capture

import (
	"time"

	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/catalog"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/change"
	"github.com/google/uuid"
	"github.com/jackc/pglogrepl"
	"go.uber.org/zap"
)

// Structurer turns reassembled transactions into a paged change batch.
type Structurer struct {
	catalog  *catalog.Catalog
	tables   map[string]struct{}
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string
	pageSize int
}

func NewStructurer(c *catalog.Catalog, tables []string, pageSize int) *Structurer {
	set := make(map[string]struct{}, len(tables))
	for _, t := range tables {
		set[t] = struct{}{}
	}
	return &Structurer{
		catalog:  c,
		tables:   set,
		pageSize: pageSize,
		logger:   zap.L().Named("structure"),
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
	}
}

func (s *Structurer) Tracks(identity string) bool {
	_, ok := s.tables[identity]
	return ok
}

// Result is the outcome of structuring one capture cycle. Batch is nil when
// no operation survived the table filter. Cursor is the last commit position
// seen, including transactions that touched no tracked table.
type Result struct {
	Batch  *change.Batch
	Cursor pglogrepl.LSN
}

func (s *Structurer) Structure(txs []Transaction) Result {
	var (
		res Result
		ops []change.Operation
		seq int64
	)
	for _, tx := range txs {
		if tx.CommitLSN > res.Cursor {
			res.Cursor = tx.CommitLSN
		}
		for _, line := range tx.Lines {
			if !s.Tracks(line.Schema + "." + line.Table) {
				continue
			}
			ops = append(ops, change.Operation{
				Schema:   line.Schema,
				Table:    line.Table,
				Kind:     line.Op,
				Columns:  s.convert(line),
				Sequence: seq,
			})
			seq++
		}
	}
	if len(ops) == 0 {
		return res
	}
	res.Batch = change.NewBatch(s.catalog.DatabaseType(), s.newID(), ops, s.pageSize, s.now())
	return res
}

// convert parses every value through the catalog. Unchanged TOAST columns
// are left out so they are never overwritten.
func (s *Structurer) convert(line *Line) []change.Value {
	values := make([]change.Value, 0, len(line.Columns))
	for _, c := range line.Columns {
		if c.Unchanged {
			continue
		}
		v := change.Value{Name: c.Name, Type: c.Type}
		if !c.Null {
			parsed, err := s.catalog.Parse(c.Type, c.Raw)
			if err != nil {
				s.logger.Warn("value kept as text",
					zap.String("table", line.Schema+"."+line.Table),
					zap.String("column", c.Name),
					zap.Error(err))
				parsed = c.Raw
			}
			v.Value = parsed
		}
		values = append(values, v)
	}
	return values
}
