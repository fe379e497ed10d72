package rabbitmq

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"math/rand/v2"
	"os"
	"sync"
	"time"

	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/config"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type Client interface {
	Channel() *amqp.Channel
	NotifyReconnect() <-chan struct{}
	Close() error
}

type client struct {
	conn        *amqp.Connection
	channel     *amqp.Channel
	logger      *zap.Logger
	connCloseCh chan *amqp.Error
	chCloseCh   chan *amqp.Error
	reconnectCh chan struct{}
	closeCh     chan struct{}
	cfg         config.RabbitMQ
	topology    config.Broker
	mu          sync.RWMutex
}

// NewClient connects, enables publisher confirms and declares the task's
// exchange, queue and dead letter topology. The connection is re-established
// in the background when the broker drops it.
func NewClient(cfg config.RabbitMQ, topology config.Broker) (Client, error) {
	c := &client{
		cfg:         cfg,
		topology:    topology,
		logger:      zap.L().Named("rabbitmq"),
		reconnectCh: make(chan struct{}, 1),
		closeCh:     make(chan struct{}),
	}
	if err := c.connect(); err != nil {
		return nil, err
	}
	go c.reconnectLoop()
	return c, nil
}

func (c *client) Channel() *amqp.Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channel
}

func (c *client) NotifyReconnect() <-chan struct{} {
	return c.reconnectCh
}

func (c *client) Close() error {
	select {
	case <-c.closeCh:
	default:
		close(c.closeCh)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	if c.channel != nil && !c.channel.IsClosed() {
		if err := c.channel.Close(); err != nil {
			firstErr = err
		}
	}
	if c.conn != nil && !c.conn.IsClosed() {
		if err := c.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *client) reconnectLoop() {
	for {
		c.mu.RLock()
		connCloseCh, chCloseCh := c.connCloseCh, c.chCloseCh
		c.mu.RUnlock()

		select {
		case err := <-connCloseCh:
			if err != nil {
				c.logger.Error("connection closed", zap.Error(err))
			}
			c.reconnect()
		case err := <-chCloseCh:
			if err != nil {
				c.logger.Error("channel closed", zap.Error(err))
			}
			c.reconnect()
		case <-c.closeCh:
			return
		}
	}
}

func (c *client) reconnect() {
	backoff := c.cfg.ReconnectInterval
	maxBackoff := c.cfg.ReconnectMaxInterval
	maxElapsed := c.cfg.ReconnectMaxElapsed
	started := time.Now()

	for {
		select {
		case <-c.closeCh:
			return
		default:
		}

		if maxElapsed > 0 && time.Since(started) > maxElapsed {
			c.logger.Error("reconnect elapsed timeout exceeded", zap.Duration("max_elapsed", maxElapsed))
			return
		}

		sleep := backoff + rand.N(backoff/4+1) //nolint:gosec // G404: jitter does not require cryptographic randomness
		c.logger.Warn("attempting reconnection", zap.Duration("retry_in", sleep))
		time.Sleep(sleep)

		if err := c.connect(); err != nil {
			c.logger.Error("reconnect attempt failed", zap.Error(err))
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		c.logger.Info("reconnected")
		select {
		case c.reconnectCh <- struct{}{}:
		default:
		}
		return
	}
}

func (c *client) connect() error {
	conn, err := c.dial()
	if err != nil {
		return fmt.Errorf("rabbitmq dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("rabbitmq channel: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("rabbitmq confirm mode: %w", err)
	}

	if err := DeclareTopology(ch, c.topology); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("rabbitmq topology: %w", err)
	}

	c.mu.Lock()
	prevCh := c.channel
	prevConn := c.conn
	c.conn = conn
	c.channel = ch
	c.connCloseCh = conn.NotifyClose(make(chan *amqp.Error, 1))
	c.chCloseCh = ch.NotifyClose(make(chan *amqp.Error, 1))
	c.mu.Unlock()

	if prevCh != nil && !prevCh.IsClosed() {
		_ = prevCh.Close()
	}
	if prevConn != nil && !prevConn.IsClosed() {
		_ = prevConn.Close()
	}
	return nil
}

func (c *client) dial() (*amqp.Connection, error) {
	name := c.cfg.ConnectionName
	if name == "" {
		name = c.topology.Queue
	}
	cfg := amqp.Config{
		Heartbeat: c.cfg.Heartbeat,
		Dial:      amqp.DefaultDial(c.cfg.ConnectionTimeout),
		Properties: amqp.Table{
			"connection_name": name,
		},
	}

	if c.cfg.TLS.Enabled {
		tlsCfg, err := tlsConfig(c.cfg.TLS)
		if err != nil {
			return nil, err
		}
		cfg.TLSClientConfig = tlsCfg
	}

	return amqp.DialConfig(c.cfg.URL, cfg)
}

// tlsConfig loads the PEM files named in cfg.
func tlsConfig(cfg config.TLSConfig) (*tls.Config, error) {
	tlsCfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.Insecure, //nolint:gosec
	}
	if cfg.CACert != "" {
		pem, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return nil, fmt.Errorf("read ca cert: %w", err)
		}
		pool := x509.NewCertPool()
		pool.AppendCertsFromPEM(pem)
		tlsCfg.RootCAs = pool
	}
	if cfg.Cert != "" && cfg.Key != "" {
		cert, err := tls.LoadX509KeyPair(cfg.Cert, cfg.Key)
		if err != nil {
			return nil, err
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}

// DeclareTopology declares the durable direct exchange and queue of a task
// plus its dead letter exchange and queue. Messages rejected from the queue
// are routed to the dead letter queue.
func DeclareTopology(ch *amqp.Channel, b config.Broker) error {
	if err := ch.ExchangeDeclare(b.DLXExchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(b.DLXQueue, true, false, false, false, nil); err != nil {
		return err
	}
	if err := ch.QueueBind(b.DLXQueue, b.DLXRoutingKey, b.DLXExchange, false, nil); err != nil {
		return err
	}

	if err := ch.ExchangeDeclare(b.Exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(b.Queue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    b.DLXExchange,
		"x-dead-letter-routing-key": b.DLXRoutingKey,
	}); err != nil {
		return err
	}
	return ch.QueueBind(b.Queue, b.RoutingKey, b.Exchange, false, nil)
}

// ConsumeOne waits for a single message on queue and acks it.
func ConsumeOne(ctx context.Context, ch *amqp.Channel, queue string) (amqp.Delivery, error) {
	msgs, err := ch.Consume(queue, "", true, false, false, false, nil)
	if err != nil {
		return amqp.Delivery{}, err
	}
	select {
	case msg := <-msgs:
		return msg, nil
	case <-ctx.Done():
		return amqp.Delivery{}, ctx.Err()
	}
}
