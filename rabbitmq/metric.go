package rabbitmq

import (
	"os"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "data_replication"

type ConsumerMetric interface {
	AddReceived()
	AddAcked()
	AddDeadLettered()
	PrometheusCollectors() []prometheus.Collector
}

var hostname, _ = os.Hostname()

type consumerMetric struct {
	received     prometheus.Counter
	acked        prometheus.Counter
	deadLettered prometheus.Counter
}

func NewConsumerMetric(task string) ConsumerMetric {
	labels := prometheus.Labels{"host": hostname, "task": task}
	return &consumerMetric{
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "consumer",
			Name:        "received_total",
			Help:        "total number of change pages delivered to the consumer",
			ConstLabels: labels,
		}),
		acked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "consumer",
			Name:        "acked_total",
			Help:        "total number of change pages applied and acknowledged",
			ConstLabels: labels,
		}),
		deadLettered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "consumer",
			Name:        "dead_lettered_total",
			Help:        "total number of change pages rejected to the dead letter queue",
			ConstLabels: labels,
		}),
	}
}

func (m *consumerMetric) AddReceived()     { m.received.Inc() }
func (m *consumerMetric) AddAcked()        { m.acked.Inc() }
func (m *consumerMetric) AddDeadLettered() { m.deadLettered.Inc() }

func (m *consumerMetric) PrometheusCollectors() []prometheus.Collector {
	return []prometheus.Collector{m.received, m.acked, m.deadLettered}
}

type nopConsumerMetric struct{}

func (nopConsumerMetric) AddReceived()                                 {}
func (nopConsumerMetric) AddAcked()                                    {}
func (nopConsumerMetric) AddDeadLettered()                             {}
func (nopConsumerMetric) PrometheusCollectors() []prometheus.Collector { return nil }
