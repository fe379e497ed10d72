package replication

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/config"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/apply"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/capture"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/catalog"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/change"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/endpoint"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/metadata"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/table"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/transform"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/rabbitmq"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/rabbitmq/publisher"
	"github.com/google/uuid"
	"github.com/jackc/pglogrepl"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// TableSource describes and reads source tables.
type TableSource interface {
	Describe(ctx context.Context, schema, name string) (*table.Table, error)
	ReadTable(ctx context.Context, t *table.Table, fn func([][]*string) error) error
}

// TableLoader prepares and bulk loads full load destinations.
type TableLoader interface {
	Prepare(ctx context.Context, t *table.Table, d config.FullLoadConfig) error
	Copy(ctx context.Context, t *table.Table) (int64, error)
}

type Capturer interface {
	Capture(ctx context.Context) (capture.Result, error)
	Commit(ctx context.Context, cursor pglogrepl.LSN) error
}

type BatchPublisher interface {
	Publish(ctx context.Context, b *change.Batch) error
}

// Replicator owns the resources of one task. Endpoints and the broker are
// opened on first use by a strategy unless they were injected.
type Replicator struct {
	source          TableSource
	loader          TableLoader
	target          apply.Target
	capturer        Capturer
	publisher       BatchPublisher
	broker          rabbitmq.Client
	responseHandler rabbitmq.ResponseHandler
	registerer      prometheus.Registerer
	cfg             *config.Config
	store           *metadata.Store
	catalog         *catalog.Catalog
	transformer     *transform.Engine
	applyMetric     apply.Metric
	publishMetric   publisher.Metric
	consumerMetric  rabbitmq.ConsumerMetric
	logger          *zap.Logger
	now             func() time.Time
	runID           string
	definitions     []*table.Table
	closers         []func()
	mu              sync.Mutex
	ownStore        bool
}

// New validates cfg and every filter and transformation definition before
// touching any endpoint, then opens the metadata store.
func New(cfg *config.Config, opts ...Option) (*Replicator, error) {
	cfg.SetDefault()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	defs := definitions(cfg)
	var errs []error
	for _, t := range defs {
		if err := transform.CheckDefinitions(t); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.FullName(), err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	task := config.Sanitize(cfg.Task.Name)
	r := &Replicator{
		cfg:            cfg,
		definitions:    defs,
		catalog:        catalog.Postgres(),
		runID:          uuid.NewString(),
		now:            time.Now,
		ownStore:       true,
		applyMetric:    apply.NewMetric(task),
		publishMetric:  publisher.NewMetric(task),
		consumerMetric: rabbitmq.NewConsumerMetric(task),
		logger:         zap.L().Named("replicator").With(zap.String("task", task)),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.transformer = transform.New(transform.WithClock(r.now))

	if r.store == nil {
		store, err := metadata.Open(cfg.Metadata.Path, task)
		if err != nil {
			return nil, err
		}
		r.store = store
	}
	if r.registerer != nil {
		r.register()
	}
	return r, nil
}

func (r *Replicator) register() {
	var collectors []prometheus.Collector
	collectors = append(collectors, r.applyMetric.PrometheusCollectors()...)
	collectors = append(collectors, r.publishMetric.PrometheusCollectors()...)
	collectors = append(collectors, r.consumerMetric.PrometheusCollectors()...)
	for _, c := range collectors {
		if err := r.registerer.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				r.logger.Warn("register collector", zap.Error(err))
			}
		}
	}
}

func (r *Replicator) Config() *config.Config {
	return r.cfg
}

func (r *Replicator) Store() *metadata.Store {
	return r.store
}

func (r *Replicator) RunID() string {
	return r.runID
}

// Strategy picks the strategy of the configured replication type.
func (r *Replicator) Strategy() Strategy {
	switch r.cfg.Task.ReplicationType {
	case config.FullLoad:
		return r.FullLoad()
	case config.FullLoadAndCDC:
		return &Composite{Strategies: []Strategy{r.FullLoad(), r.CDC(RoleBoth)}}
	default:
		return r.CDC(RoleBoth)
	}
}

func (r *Replicator) FullLoad() *FullLoad {
	return &FullLoad{r: r}
}

func (r *Replicator) CDC(role Role) *CDC {
	return &CDC{r: r, role: role}
}

func (r *Replicator) Close() {
	r.mu.Lock()
	closers := r.closers
	r.closers = nil
	r.mu.Unlock()

	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
	if r.ownStore && r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Error("close metadata store", zap.Error(err))
		}
	}
}

func (r *Replicator) onClose(fn func()) {
	r.closers = append(r.closers, fn)
}

// definitions turns the configured tables into table definitions without
// columns; Describe fills those in.
func definitions(cfg *config.Config) []*table.Table {
	out := make([]*table.Table, len(cfg.Tables))
	for i, ct := range cfg.Tables {
		t := table.New(ct.Schema, ct.Table)
		t.TargetSchema = ct.TargetSchema
		t.TargetName = ct.TargetTable
		t.Filters = ct.Filters
		t.Transformations = ct.Transformations
		t.Priority = ct.Priority
		t.Index = i
		out[i] = t
	}
	return out
}

// describe loads the columns of every definition from src, in priority order.
func (r *Replicator) describe(ctx context.Context, src TableSource) ([]*table.Table, error) {
	out := make([]*table.Table, 0, len(r.definitions))
	for _, def := range r.definitions {
		t, err := src.Describe(ctx, def.Schema, def.Name)
		if err != nil {
			return nil, err
		}
		t.TargetSchema = def.TargetSchema
		t.TargetName = def.TargetName
		t.Filters = def.Filters
		t.Transformations = def.Transformations
		t.Priority = def.Priority
		t.Index = def.Index
		out = append(out, t)
	}
	table.SortByPriority(out)
	return out, nil
}

func (r *Replicator) policy() apply.Policy {
	p := r.cfg.ErrorPolicy
	return apply.Policy{
		StopOnInsert: p.StopIfInsertError,
		StopOnUpdate: p.StopIfUpdateError,
		StopOnDelete: p.StopIfDeleteError,
		StopOnUpsert: p.StopIfUpsertError,
		StopOnSCD2:   p.StopIfSCD2Error,
	}
}

func (r *Replicator) scd2() apply.SCD2Config {
	cfg := apply.SCD2Config{
		StartColumn:   r.cfg.SCD2.StartColumn,
		EndColumn:     r.cfg.SCD2.EndColumn,
		CurrentColumn: r.cfg.SCD2.CurrentColumn,
		DateType:      catalog.KindDatetime,
	}
	if r.cfg.SCD2.DateType == "date" {
		cfg.DateType = catalog.KindDate
	}
	return cfg
}

func (r *Replicator) openSource(ctx context.Context) (TableSource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.source != nil {
		return r.source, nil
	}
	src, err := endpoint.NewPostgresSource(ctx, r.cfg.Source, r.catalog)
	if err != nil {
		return nil, err
	}
	r.source = src
	r.onClose(src.Close)
	return src, nil
}

func (r *Replicator) openTarget(ctx context.Context) (*endpoint.PostgresTarget, error) {
	tgt, err := endpoint.NewPostgresTarget(ctx, r.cfg.Target)
	if err != nil {
		return nil, err
	}
	r.onClose(tgt.Close)
	return tgt, nil
}

func (r *Replicator) openLoader(ctx context.Context) (TableLoader, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loader != nil {
		return r.loader, nil
	}
	tgt, err := r.openTarget(ctx)
	if err != nil {
		return nil, err
	}
	r.loader = tgt
	if r.target == nil {
		r.target = tgt
	}
	return tgt, nil
}

func (r *Replicator) openApplyTarget(ctx context.Context) (apply.Target, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.target != nil {
		return r.target, nil
	}
	tgt, err := r.openTarget(ctx)
	if err != nil {
		return nil, err
	}
	r.target = tgt
	if r.loader == nil {
		r.loader = tgt
	}
	return tgt, nil
}

func (r *Replicator) openBroker() (rabbitmq.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.broker != nil {
		return r.broker, nil
	}
	c, err := rabbitmq.NewClient(r.cfg.RabbitMQ, r.cfg.Broker())
	if err != nil {
		return nil, fmt.Errorf("rabbitmq new client: %w", err)
	}
	r.broker = c
	r.onClose(func() {
		if err := c.Close(); err != nil {
			r.logger.Error("rabbitmq client close", zap.Error(err))
		}
	})
	return c, nil
}

func (r *Replicator) openPublisher() (BatchPublisher, error) {
	r.mu.Lock()
	pub := r.publisher
	r.mu.Unlock()
	if pub != nil {
		return pub, nil
	}

	client, err := r.openBroker()
	if err != nil {
		return nil, err
	}
	handler := r.responseHandler
	if handler == nil {
		handler = &progressHandler{store: r.store, logger: r.logger}
	}
	p := publisher.New(client, r.cfg.Broker(), r.cfg.RabbitMQ, config.Sanitize(r.cfg.Task.Name),
		publisher.WithResponseHandler(handler),
		publisher.WithMetric(r.publishMetric))

	r.mu.Lock()
	r.publisher = p
	r.mu.Unlock()
	return p, nil
}

// openCapturer builds the slot polling capturer over the source endpoint.
func (r *Replicator) openCapturer(ctx context.Context) (Capturer, error) {
	r.mu.Lock()
	c := r.capturer
	r.mu.Unlock()
	if c != nil {
		return c, nil
	}

	src, err := r.openSource(ctx)
	if err != nil {
		return nil, err
	}
	slots, ok := src.(capture.SlotSource)
	if !ok {
		return nil, fmt.Errorf("source %T cannot serve a replication slot", src)
	}
	structurer := capture.NewStructurer(r.catalog, r.cfg.TrackedTables(), r.cfg.Source.BatchSize)
	capturer := capture.NewCapturer(slots, structurer, r.cfg.SlotName(), r.cfg.Source.SlotPrefix)

	r.mu.Lock()
	r.capturer = capturer
	r.mu.Unlock()
	return capturer, nil
}
