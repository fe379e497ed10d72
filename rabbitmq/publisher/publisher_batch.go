package publisher

import (
	"context"
	"fmt"

	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/rabbitmq"
	amqp "github.com/rabbitmq/amqp091-go"
)

// getOrCreateConfirmsCh returns a persistent confirms listener for the current channel.
// If the underlying AMQP channel has changed (e.g. after reconnect), it creates a new listener.
// This avoids the amqp091-go listener accumulation bug where each NotifyPublish call
// appends a new listener and the blocking send in confirms.confirm() deadlocks when
// old listener channels fill up.
func (p *Publisher) getOrCreateConfirmsCh(ch *amqp.Channel) chan amqp.Confirmation {
	if p.lastChannel == ch && p.confirmsCh != nil {
		return p.confirmsCh
	}
	p.confirmsCh = make(chan amqp.Confirmation, 256)
	ch.NotifyPublish(p.confirmsCh)
	p.lastChannel = ch
	return p.confirmsCh
}

func (p *Publisher) publishAndConfirm(ctx context.Context, msgs []rabbitmq.PublishMessage) ([]amqp.Confirmation, error) {
	ch := p.client.Channel()
	if ch == nil || ch.IsClosed() {
		return nil, rabbitmq.ErrNoChannel
	}

	confirmsCh := p.getOrCreateConfirmsCh(ch)
	// late confirms of an attempt that timed out
	for drained := false; !drained; {
		select {
		case <-confirmsCh:
		default:
			drained = true
		}
	}

	for i := range msgs {
		if err := ch.PublishWithContext(ctx, msgs[i].Exchange, msgs[i].RoutingKey, false, false, amqp.Publishing{
			ContentType:  msgs[i].ContentType,
			DeliveryMode: getDeliveryMode(msgs[i].DeliveryMode),
			Headers:      amqp.Table(msgs[i].Headers),
			Body:         msgs[i].Body,
			MessageId:    msgs[i].MessageID,
			Timestamp:    msgs[i].Timestamp,
			Type:         msgs[i].Type,
			AppId:        msgs[i].AppID,
		}); err != nil {
			return nil, err
		}
	}

	confirmed := make([]amqp.Confirmation, 0, len(msgs))
	if !p.confirmTimeout.Stop() {
		select {
		case <-p.confirmTimeout.C:
		default:
		}
	}
	p.confirmTimeout.Reset(p.timeout)
	defer p.confirmTimeout.Stop()
	for i := 0; i < len(msgs); i++ {
		select {
		case c := <-confirmsCh:
			confirmed = append(confirmed, c)
		case <-p.confirmTimeout.C:
			return nil, rabbitmq.ErrConfirmTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return confirmed, nil
}

func (p *Publisher) handleConfirmations(msgs []rabbitmq.PublishMessage, confirmed []amqp.Confirmation) error {
	var (
		firstErr error
		success  float64
		failed   float64
		rhCtx    rabbitmq.ResponseHandlerContext
	)
	for i := range confirmed {
		rhCtx.Message = &msgs[i]
		if confirmed[i].Ack {
			success++
			rhCtx.Err = nil
			p.responseHandler.OnSuccess(&rhCtx)
			continue
		}
		failed++
		rhCtx.Err = fmt.Errorf("delivery tag %d: %w", confirmed[i].DeliveryTag, rabbitmq.ErrNacked)
		if firstErr == nil {
			firstErr = rhCtx.Err
		}
		p.responseHandler.OnError(&rhCtx)
	}
	if success > 0 {
		p.metric.AddSuccessOp(p.routingKey, success)
	}
	if failed > 0 {
		p.metric.AddErrOp(p.routingKey, failed)
	}
	return firstErr
}

func (p *Publisher) handleResponseError(msgs []rabbitmq.PublishMessage, err error) {
	var rhCtx rabbitmq.ResponseHandlerContext
	for i := range msgs {
		rhCtx.Message = &msgs[i]
		rhCtx.Err = err
		p.responseHandler.OnError(&rhCtx)
	}
	p.metric.AddErrOp(p.routingKey, float64(len(msgs)))
}

func getDeliveryMode(deliveryMode uint8) uint8 {
	if deliveryMode == 0 {
		return amqp.Persistent
	}
	return deliveryMode
}
