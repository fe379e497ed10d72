package replication

import (
	"context"
	"errors"
	"fmt"

	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/apply"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/change"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/metadata"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/table"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/rabbitmq"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/rabbitmq/publisher"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Consumer applies delivered change pages to the target.
type Consumer struct {
	r      *Replicator
	engine *apply.Engine
	logger *zap.Logger
	tables []*table.Table
}

// Handle is the rabbitmq handler: an undecodable page or a table that fails
// validation is rejected to the dead letter queue, an escalated apply error
// also stops the consumer.
func (c *Consumer) Handle(ctx context.Context, d amqp.Delivery) error {
	if txID, ok := d.Headers[publisher.HeaderTransactionID].(string); ok && txID != "" {
		if err := c.r.store.MarkReceived(ctx, txID, headerInt(d.Headers[publisher.HeaderPageCount])); err != nil {
			c.logger.Error("mark received", zap.String("transaction_id", txID), zap.Error(err))
		}
	}
	b, err := change.Decode(d.Body)
	if err != nil {
		return err
	}
	return c.ApplyBatch(ctx, b)
}

// ApplyBatch runs every tracked table of b through its pipeline and the
// apply engine, in priority order.
func (c *Consumer) ApplyBatch(ctx context.Context, b *change.Batch) error {
	ctx = apply.WithTransaction(ctx, b.TransactionID)
	grouped := group(b.Operations())
	var invalid []error
	for _, tmpl := range c.tables {
		ops := grouped[tmpl.FullName()]
		delete(grouped, tmpl.FullName())
		if len(ops) == 0 {
			continue
		}

		t := tmpl.Clone()
		err := c.prepare(t, ops)
		if err != nil {
			c.logger.Error("table rejected",
				zap.String("transaction_id", b.TransactionID),
				zap.String("table", t.FullName()),
				zap.Error(err))
			c.r.recordFailure(ctx, t, "validation", err)
			invalid = append(invalid, err)
			continue
		}

		started := c.r.now()
		stats, err := c.engine.Apply(ctx, t)
		c.r.recordStats(ctx, metadata.Stats{
			Started:  started,
			Finished: c.r.now(),
			Strategy: strategyCDC,
			Schema:   t.TargetSchema,
			Table:    t.TargetName,
			RunStats: stats,
		})
		var aerr *apply.ApplyError
		switch {
		case ctx.Err() != nil:
			return fmt.Errorf("apply %s: %w", t.TargetFullName(), ctx.Err())
		case errors.As(err, &aerr):
			return rabbitmq.Stop(fmt.Errorf("apply %s: %w", t.TargetFullName(), err))
		case err != nil:
			c.logger.Error("table rejected",
				zap.String("transaction_id", b.TransactionID),
				zap.String("table", t.TargetFullName()),
				zap.Error(err))
			c.r.recordFailure(ctx, t, "validation", err)
			invalid = append(invalid, err)
			continue
		}
		c.logger.Info("table applied",
			zap.String("transaction_id", b.TransactionID),
			zap.String("table", t.TargetFullName()),
			zap.Int("inserts", stats.Inserts),
			zap.Int("updates", stats.Updates),
			zap.Int("deletes", stats.Deletes),
			zap.Int("errors", stats.Errors))
	}
	for id := range grouped {
		c.logger.Warn("operations for an untracked table ignored", zap.String("table", id))
	}
	return errors.Join(invalid...)
}

func (c *Consumer) prepare(t *table.Table, ops []change.Operation) error {
	rows, err := toRows(c.r.catalog, t, ops)
	if err != nil {
		return err
	}
	if err := t.SetPayload(rows); err != nil {
		return err
	}
	return c.r.transformer.Execute(t)
}

func headerInt(v any) int {
	switch n := v.(type) {
	case int32:
		return int(n)
	case int64:
		return int(n)
	case int:
		return n
	case int16:
		return int(n)
	case int8:
		return int(n)
	}
	return 0
}
