package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	cdc "github.com/Trendyol/go-pq-cdc"
	cdcconfig "github.com/Trendyol/go-pq-cdc/config"
	"github.com/Trendyol/go-pq-cdc/pq/message/format"
	"github.com/Trendyol/go-pq-cdc/pq/replication"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/catalog"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/change"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/table"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Sink receives a batch built by the streaming capturer. The stream is only
// acknowledged up to the last change of a batch once Sink returns nil.
type Sink func(ctx context.Context, b *change.Batch) error

type StreamOptions struct {
	PageSize  int
	BatchSize int
	Interval  time.Duration
}

// StreamCapturer consumes a pgoutput replication stream through go-pq-cdc and
// turns it into change batches. It is the streaming alternative to the slot
// polling Capturer.
type StreamCapturer struct {
	connector cdc.Connector
	catalog   *catalog.Catalog
	sink      Sink
	logger    *zap.Logger
	columns   map[string][]table.Column
	pending   []change.Operation
	last      *replication.ListenerContext
	opts      StreamOptions
	seq       int64
	mu        sync.Mutex
	flushCh   chan struct{}
}

// NewStreamCapturer builds the go-pq-cdc connector. tables are the described
// source tables; their column order and type names shape each operation.
func NewStreamCapturer(ctx context.Context, cfg cdcconfig.Config, c *catalog.Catalog, tables []*table.Table, opts StreamOptions, sink Sink) (*StreamCapturer, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1000
	}
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Second
	}
	s := &StreamCapturer{
		catalog: c,
		sink:    sink,
		opts:    opts,
		columns: make(map[string][]table.Column, len(tables)),
		logger:  zap.L().Named("stream"),
		flushCh: make(chan struct{}, 1),
	}
	for _, t := range tables {
		s.columns[t.FullName()] = t.Columns
	}

	connector, err := cdc.NewConnector(ctx, cfg, s.listen)
	if err != nil {
		return nil, fmt.Errorf("create stream connector: %w", err)
	}
	s.connector = connector
	return s, nil
}

func (s *StreamCapturer) SetMetricCollectors(collectors ...prometheus.Collector) {
	s.connector.SetMetricCollectors(collectors...)
}

// Run blocks until ctx is done, flushing pending operations on every tick
// and whenever the batch size is reached.
func (s *StreamCapturer) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(s.opts.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			case <-s.flushCh:
			}
			if err := s.flush(ctx); err != nil {
				s.logger.Error("stream flush failed", zap.Error(err))
			}
		}
	}()

	s.logger.Info("stream capture started")
	s.connector.Start(ctx)
	cancel()
	<-done
	s.connector.Close()

	flushCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()
	if err := s.flush(flushCtx); err != nil {
		return fmt.Errorf("final stream flush: %w", err)
	}
	return nil
}

func (s *StreamCapturer) WaitUntilReady(ctx context.Context) error {
	return s.connector.WaitUntilReady(ctx)
}

func (s *StreamCapturer) listen(ctx *replication.ListenerContext) {
	var op *change.Operation
	switch m := ctx.Message.(type) {
	case *format.Insert:
		op = s.operation(m.TableNamespace, m.TableName, change.Insert, m.Decoded)
	case *format.Update:
		op = s.operation(m.TableNamespace, m.TableName, change.Update, m.NewDecoded)
	case *format.Delete:
		op = s.operation(m.TableNamespace, m.TableName, change.Delete, m.OldDecoded)
	default:
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = ctx
	if op == nil {
		if len(s.pending) == 0 {
			s.ack()
		}
		return
	}
	op.Sequence = s.seq
	s.seq++
	s.pending = append(s.pending, *op)
	if len(s.pending) >= s.opts.BatchSize {
		select {
		case s.flushCh <- struct{}{}:
		default:
		}
	}
}

// operation returns nil for tables that are not tracked.
func (s *StreamCapturer) operation(schema, name string, kind change.Kind, data map[string]any) *change.Operation {
	cols, ok := s.columns[schema+"."+name]
	if !ok {
		return nil
	}
	op := &change.Operation{Schema: schema, Table: name, Kind: kind}
	for _, c := range cols {
		raw, present := data[c.Name]
		if !present {
			continue
		}
		v, err := s.catalog.Coerce(c.Type, raw)
		if err != nil {
			s.logger.Warn("value kept as decoded",
				zap.String("table", schema+"."+name), zap.String("column", c.Name), zap.Error(err))
			v = raw
		}
		op.Columns = append(op.Columns, change.Value{Name: c.Name, Type: c.Type, Value: v})
	}
	return op
}

func (s *StreamCapturer) flush(ctx context.Context) error {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return nil
	}
	ops := s.pending
	last := s.last
	s.mu.Unlock()

	b := change.NewBatch(s.catalog.DatabaseType(), uuid.NewString(), ops, s.opts.PageSize, time.Now())
	if err := s.sink(ctx, b); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = s.pending[len(ops):]
	if len(s.pending) == 0 {
		s.seq = 0
	}
	if s.last == last {
		s.ack()
	} else if last != nil {
		if err := last.Ack(); err != nil {
			s.logger.Error("stream ack failed", zap.Error(err))
		}
	}
	s.logger.Debug("stream batch flushed",
		zap.String("transaction_id", b.TransactionID), zap.Int("operations", len(ops)))
	return nil
}

// ack must be called with mu held.
func (s *StreamCapturer) ack() {
	if s.last == nil {
		return
	}
	if err := s.last.Ack(); err != nil {
		s.logger.Error("stream ack failed", zap.Error(err))
		return
	}
	s.last = nil
}
