package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Handler processes one delivery. A nil return acks it; any error rejects it
// to the dead letter exchange. Wrap the error with Stop to also end Run.
// Whatever the handler returns, a delivery whose ctx ended is requeued.
type Handler func(ctx context.Context, d amqp.Delivery) error

type stopError struct {
	err error
}

func (e *stopError) Error() string { return e.err.Error() }
func (e *stopError) Unwrap() error { return e.err }

func Stop(err error) error {
	if err == nil {
		return nil
	}
	return &stopError{err: err}
}

func IsStop(err error) bool {
	var s *stopError
	return errors.As(err, &s)
}

// Consumer delivers one message at a time and settles it only after the
// handler returned.
type Consumer struct {
	client Client
	metric ConsumerMetric
	logger *zap.Logger
	queue  string
	tag    string
	retry  time.Duration
}

func NewConsumer(client Client, queue string, metric ConsumerMetric) *Consumer {
	if metric == nil {
		metric = nopConsumerMetric{}
	}
	return &Consumer{
		client: client,
		metric: metric,
		queue:  queue,
		tag:    "replicator-" + uuid.NewString(),
		retry:  time.Second,
		logger: zap.L().Named("consumer"),
	}
}

// Run consumes until ctx is done or a handler returns a Stop error. Lost
// channels are resubscribed after the client reconnects.
func (c *Consumer) Run(ctx context.Context, h Handler) error {
	for {
		deliveries, err := c.subscribe()
		if err != nil {
			if IsFatal(err) {
				return fmt.Errorf("subscribe %s: %w", c.queue, err)
			}
			c.logger.Warn("subscribe failed", zap.String("queue", c.queue), zap.Error(err))
		} else {
			c.logger.Info("consuming", zap.String("queue", c.queue), zap.String("tag", c.tag))
			if err := c.drain(ctx, deliveries, h); err != nil {
				return err
			}
		}
		if ctx.Err() != nil {
			return nil
		}

		select {
		case <-c.client.NotifyReconnect():
		case <-time.After(c.retry):
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Consumer) subscribe() (<-chan amqp.Delivery, error) {
	ch := c.client.Channel()
	if ch == nil || ch.IsClosed() {
		return nil, ErrNoChannel
	}
	if err := ch.Qos(1, 0, false); err != nil {
		return nil, err
	}
	return ch.Consume(c.queue, c.tag, false, false, false, false, nil)
}

func (c *Consumer) drain(ctx context.Context, deliveries <-chan amqp.Delivery, h Handler) error {
	for {
		select {
		case <-ctx.Done():
			if ch := c.client.Channel(); ch != nil && !ch.IsClosed() {
				_ = ch.Cancel(c.tag, false)
			}
			return nil
		case d, ok := <-deliveries:
			if !ok {
				c.logger.Warn("delivery channel closed", zap.String("queue", c.queue))
				return nil
			}
			if err := c.handle(ctx, d, h); err != nil {
				return err
			}
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery, h Handler) error {
	c.metric.AddReceived()
	err := h(ctx, d)
	switch {
	case ctx.Err() != nil:
		// interrupted, possibly part way through; let the broker redeliver it
		if nackErr := d.Nack(false, true); nackErr != nil {
			c.logger.Error("requeue failed", zap.Uint64("delivery_tag", d.DeliveryTag), zap.Error(nackErr))
		}
		return nil
	case err == nil:
		if ackErr := d.Ack(false); ackErr != nil {
			c.logger.Error("ack failed", zap.Uint64("delivery_tag", d.DeliveryTag), zap.Error(ackErr))
			return nil
		}
		c.metric.AddAcked()
		return nil
	}

	c.logger.Error("message rejected to dead letter queue",
		zap.String("message_id", d.MessageId),
		zap.Uint64("delivery_tag", d.DeliveryTag),
		zap.Bool("stop", IsStop(err)),
		zap.Error(err))
	if nackErr := d.Nack(false, false); nackErr != nil {
		c.logger.Error("nack failed", zap.Uint64("delivery_tag", d.DeliveryTag), zap.Error(nackErr))
	} else {
		c.metric.AddDeadLettered()
	}
	if IsStop(err) {
		return err
	}
	return nil
}
