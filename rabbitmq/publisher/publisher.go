// Package publisher sends change batches to the task exchange, one message
// per page, and waits for the broker to confirm every page.
package publisher

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/config"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/change"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/rabbitmq"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/zeebo/xxh3"
	"go.uber.org/zap"
)

const (
	HeaderTransactionID = "transaction_id"
	HeaderPageIndex     = "page_index"
	HeaderPageCount     = "page_count"

	MessageType = "change_batch"
	ContentType = "application/json"
)

type Publisher struct {
	client          rabbitmq.Client
	metric          Metric
	responseHandler rabbitmq.ResponseHandler
	logger          *zap.Logger
	lastChannel     *amqp.Channel
	confirmsCh      chan amqp.Confirmation
	confirmTimeout  *time.Timer
	exchange        string
	routingKey      string
	appID           string
	timeout         time.Duration
	maxRetries      int
	mu              sync.Mutex
}

type Option func(*Publisher)

func WithResponseHandler(h rabbitmq.ResponseHandler) Option {
	return func(p *Publisher) { p.responseHandler = h }
}

func WithMetric(m Metric) Option {
	return func(p *Publisher) { p.metric = m }
}

func WithMaxRetries(n int) Option {
	return func(p *Publisher) { p.maxRetries = n }
}

func New(client rabbitmq.Client, broker config.Broker, cfg config.RabbitMQ, task string, opts ...Option) *Publisher {
	timeout := cfg.PublishTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	t := time.NewTimer(timeout)
	t.Stop()
	p := &Publisher{
		client:          client,
		exchange:        broker.Exchange,
		routingKey:      broker.RoutingKey,
		appID:           task,
		timeout:         timeout,
		maxRetries:      3,
		confirmTimeout:  t,
		responseHandler: &rabbitmq.DefaultResponseHandler{},
		logger:          zap.L().Named("publisher"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metric == nil {
		p.metric = NewMetric(task)
	}
	return p
}

func (p *Publisher) GetMetric() Metric {
	return p.metric
}

// Messages renders one broker message per page of b. Each body is the batch
// envelope holding only that page.
func Messages(b *change.Batch, exchange, routingKey, appID string) ([]rabbitmq.PublishMessage, error) {
	envelopes := b.Split()
	msgs := make([]rabbitmq.PublishMessage, 0, len(envelopes))
	for _, env := range envelopes {
		body, err := change.Encode(env)
		if err != nil {
			return nil, fmt.Errorf("encode page %d: %w", env.Pages[0].Index, err)
		}
		msgs = append(msgs, rabbitmq.PublishMessage{
			Exchange:    exchange,
			RoutingKey:  routingKey,
			ContentType: ContentType,
			Type:        MessageType,
			AppID:       appID,
			MessageID:   Checksum(body),
			Timestamp:   time.Unix(b.CreatedAt, 0).UTC(),
			Body:        body,
			Headers: map[string]any{
				HeaderTransactionID: b.TransactionID,
				HeaderPageIndex:     int32(env.Pages[0].Index), //nolint:gosec // G115: page counts are far below MaxInt32
				HeaderPageCount:     int32(len(b.Pages)),       //nolint:gosec // G115: see above
			},
		})
	}
	return msgs, nil
}

// Checksum is the hex xxh3 digest of a message body.
func Checksum(body []byte) string {
	return strconv.FormatUint(xxh3.Hash(body), 16)
}

// Publish sends every page of b and returns once all of them are confirmed.
// Transport failures are retried; a refused page fails the whole batch so
// the caller keeps the changes for the next cycle.
func (p *Publisher) Publish(ctx context.Context, b *change.Batch) error {
	if b == nil || len(b.Pages) == 0 {
		return nil
	}
	msgs, err := Messages(b, p.exchange, p.routingKey, p.appID)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	started := time.Now()
	defer func() {
		p.metric.SetPublishLatency(time.Since(started).Nanoseconds())
	}()

	var confirmed []amqp.Confirmation
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		confirmed, err = p.publishAndConfirm(ctx, msgs)
		if err == nil {
			break
		}
		p.logger.Error("batch publish failed",
			zap.String("transaction_id", b.TransactionID), zap.Int("attempt", attempt+1), zap.Error(err))
		if rabbitmq.IsFatal(err) || ctx.Err() != nil {
			break
		}
		select {
		case <-time.After(time.Duration(attempt+1) * 100 * time.Millisecond):
		case <-ctx.Done():
		}
	}
	if err != nil {
		p.handleResponseError(msgs, err)
		return fmt.Errorf("publish batch %s: %w", b.TransactionID, err)
	}
	if err := p.handleConfirmations(msgs, confirmed); err != nil {
		return fmt.Errorf("publish batch %s: %w", b.TransactionID, err)
	}
	p.logger.Debug("batch published",
		zap.String("transaction_id", b.TransactionID),
		zap.Int("pages", len(msgs)),
		zap.Int("operations", b.TotalChangeCount))
	return nil
}
