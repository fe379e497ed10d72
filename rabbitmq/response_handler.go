package rabbitmq

import (
	"errors"
	"io"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type PublishMessage struct {
	Timestamp    time.Time
	Headers      map[string]any
	Exchange     string
	RoutingKey   string
	ContentType  string
	MessageID    string
	Type         string
	AppID        string
	Body         []byte
	DeliveryMode uint8
}

type ResponseHandlerContext struct {
	Message *PublishMessage
	Err     error
}

// ResponseHandler is told about every page the broker confirmed or refused.
type ResponseHandler interface {
	OnSuccess(ctx *ResponseHandlerContext)
	OnError(ctx *ResponseHandlerContext)
}

type DefaultResponseHandler struct{}

func (drh *DefaultResponseHandler) OnSuccess(_ *ResponseHandlerContext) {}

func (drh *DefaultResponseHandler) OnError(ctx *ResponseHandlerContext) {
	fields := []zap.Field{zap.Error(ctx.Err), zap.Bool("fatal", IsFatal(ctx.Err))}
	if ctx.Message != nil {
		fields = append(fields, zap.String("message_id", ctx.Message.MessageID))
	}
	zap.L().Named("rabbitmq").Error("publish failed", fields...)
}

// IsFatal reports whether retrying err against the broker is pointless.
func IsFatal(err error) bool {
	var e *amqp.Error
	ok := errors.As(err, &e)
	if ok {
		switch e.Code {
		case amqp.NotFound, amqp.AccessRefused, amqp.PreconditionFailed:
			return true
		default:
			return false
		}
	}

	if errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, amqp.ErrClosed) ||
		errors.Is(err, ErrNoChannel) ||
		errors.Is(err, ErrConfirmTimeout) ||
		errors.Is(err, ErrNacked) {
		return false
	}
	return true
}

var (
	ErrNoChannel      = errors.New("rabbitmq channel is not available")
	ErrConfirmTimeout = errors.New("timeout while waiting publisher confirms")
	ErrNacked         = errors.New("broker refused the message")
)
