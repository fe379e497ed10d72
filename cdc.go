package replication

import (
	"context"

	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/config"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/apply"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/capture"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/change"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/logging"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/table"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/rabbitmq"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/rabbitmq/publisher"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const strategyCDC = "cdc"

type Role int

const (
	RoleBoth Role = iota
	RoleProducer
	RoleConsumer
)

func (r Role) String() string {
	switch r {
	case RoleProducer:
		return "producer"
	case RoleConsumer:
		return "consumer"
	}
	return "producer+consumer"
}

// CDC replicates ongoing changes. The producer and consumer halves only meet
// through the broker and the task state record.
type CDC struct {
	r    *Replicator
	role Role
}

func (c *CDC) Name() string {
	return strategyCDC
}

func (c *CDC) Execute(ctx context.Context) error {
	c.r.logger.Info("cdc started", zap.Stringer("role", c.role), zap.String("run_id", c.r.runID))
	switch c.role {
	case RoleProducer:
		return c.produce(ctx, nil)
	case RoleConsumer:
		return c.consume(ctx, nil)
	}

	tables, err := c.r.prepareState(ctx)
	if err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.produce(gctx, tables) })
	g.Go(func() error { return c.consume(gctx, tables) })
	return g.Wait()
}

func (c *CDC) produce(ctx context.Context, tables []*table.Table) error {
	if tables == nil {
		var err error
		if tables, err = c.r.prepareState(ctx); err != nil {
			return err
		}
	}
	pub, err := c.r.openPublisher()
	if err != nil {
		return err
	}

	if c.r.cfg.Task.CaptureMethod == config.CaptureStream {
		return c.stream(ctx, tables, pub)
	}

	capturer, err := c.r.openCapturer(ctx)
	if err != nil {
		return err
	}
	state, err := c.r.store.LoadState(ctx)
	if err != nil {
		return err
	}
	p := &Producer{
		capturer:  capturer,
		publisher: pub,
		store:     c.r.store,
		state:     *state,
		interval:  c.r.cfg.Task.Interval,
		logger:    c.r.logger.Named("producer"),
	}
	return p.Run(ctx)
}

// stream runs the go-pq-cdc backed capturer; every flushed batch is
// published before the replication stream is acknowledged.
func (c *CDC) stream(ctx context.Context, tables []*table.Table, pub BatchPublisher) error {
	sc := c.r.cfg.StreamConfig(logging.CDC(zap.L().Named("cdc")))
	opts := capture.StreamOptions{
		PageSize:  c.r.cfg.Source.BatchSize,
		BatchSize: c.r.cfg.Source.BatchSize,
		Interval:  c.r.cfg.Task.Interval,
	}
	sink := func(ctx context.Context, b *change.Batch) error {
		return pub.Publish(ctx, b)
	}
	s, err := capture.NewStreamCapturer(ctx, sc, c.r.catalog, tables, opts, sink)
	if err != nil {
		return err
	}
	if p, ok := pub.(*publisher.Publisher); ok {
		s.SetMetricCollectors(p.GetMetric().PrometheusCollectors()...)
	}
	return s.Run(ctx)
}

func (c *CDC) consume(ctx context.Context, tables []*table.Table) error {
	if tables == nil {
		var err error
		if tables, err = c.r.waitForState(ctx); err != nil {
			return err
		}
	}
	target, err := c.r.openApplyTarget(ctx)
	if err != nil {
		return err
	}
	client, err := c.r.openBroker()
	if err != nil {
		return err
	}

	consumer := c.r.newConsumer(tables, target)
	rc := rabbitmq.NewConsumer(client, c.r.cfg.Broker().Queue, c.r.consumerMetric)
	return rc.Run(ctx, consumer.Handle)
}

func (r *Replicator) newConsumer(tables []*table.Table, target apply.Target) *Consumer {
	mode, _ := apply.ParseMode(string(r.cfg.Task.CDCMode))
	engine := apply.New(target, mode,
		apply.WithPolicy(r.policy()),
		apply.WithSCD2(r.scd2()),
		apply.WithLedger(r.store),
		apply.WithMetric(r.applyMetric),
		apply.WithClock(r.now),
	)
	sorted := append([]*table.Table(nil), tables...)
	table.SortByPriority(sorted)
	return &Consumer{
		r:      r,
		engine: engine,
		tables: sorted,
		logger: r.logger.Named("consumer"),
	}
}
