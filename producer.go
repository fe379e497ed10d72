package replication

import (
	"context"
	"time"

	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/metadata"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/rabbitmq"
	"go.uber.org/zap"
)

// Producer captures and publishes on a fixed interval. The slot is only
// advanced after every page of a cycle was confirmed, so a failed cycle is
// captured again by the next one.
type Producer struct {
	capturer  Capturer
	publisher BatchPublisher
	store     *metadata.Store
	logger    *zap.Logger
	state     metadata.TaskState
	interval  time.Duration
}

func (p *Producer) Run(ctx context.Context) error {
	p.logger.Info("producer started", zap.Duration("interval", p.interval))
	for {
		if err := p.Cycle(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			p.logger.Info("producer stopped")
			return nil
		case <-time.After(p.interval):
		}
	}
}

// Cycle runs one capture, publish and commit round. Only broker failures
// that retrying cannot fix are returned.
func (p *Producer) Cycle(ctx context.Context) error {
	res, err := p.capturer.Capture(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Error("capture cycle failed", zap.Error(err))
		}
		return nil
	}

	if res.Batch != nil {
		if err := p.publisher.Publish(ctx, res.Batch); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if rabbitmq.IsFatal(err) {
				return err
			}
			p.logger.Error("publish failed, changes stay in the slot", zap.Error(err))
			return nil
		}
		p.logger.Info("batch published",
			zap.String("transaction_id", res.Batch.TransactionID),
			zap.Int("operations", res.Batch.TotalChangeCount),
			zap.Int("pages", len(res.Batch.Pages)))
	}

	if res.Cursor == 0 {
		return nil
	}
	if err := p.capturer.Commit(ctx, res.Cursor); err != nil {
		p.logger.Error("slot commit failed", zap.Error(err))
		return nil
	}
	p.state.Cursor = res.Cursor.String()
	if err := p.store.SaveState(ctx, p.state); err != nil {
		p.logger.Error("save task state", zap.Error(err))
	}
	return nil
}
