package publisher

import (
	"os"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "data_replication"

type Metric interface {
	SetPublishLatency(latency int64)
	PrometheusCollectors() []prometheus.Collector
	AddSuccessOp(routingKey string, count float64)
	AddErrOp(routingKey string, count float64)
}

var hostname, _ = os.Hostname()

type metric struct {
	publishLatencyNs prometheus.Gauge
	totalSuccess     *prometheus.CounterVec
	totalErr         *prometheus.CounterVec
	task             string
}

func NewMetric(task string) Metric {
	return &metric{
		task: task,
		publishLatencyNs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "publish_latency",
			Name:      "current",
			Help:      "latest change batch publish latency in nanoseconds, confirms included",
			ConstLabels: prometheus.Labels{
				"host": hostname,
				"task": task,
			},
		}),
		totalSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publish",
			Name:      "total",
			Help:      "total number of change pages confirmed by rabbitmq",
		}, []string{"task", "routing_key", "host"}),
		totalErr: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publish_err",
			Name:      "total",
			Help:      "total number of change pages rabbitmq refused or never confirmed",
		}, []string{"task", "routing_key", "host"}),
	}
}

func (m *metric) PrometheusCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.publishLatencyNs,
		m.totalSuccess,
		m.totalErr,
	}
}

func (m *metric) SetPublishLatency(latency int64) {
	m.publishLatencyNs.Set(float64(latency))
}

func (m *metric) AddSuccessOp(routingKey string, count float64) {
	m.totalSuccess.WithLabelValues(m.task, routingKey, hostname).Add(count)
}

func (m *metric) AddErrOp(routingKey string, count float64) {
	m.totalErr.WithLabelValues(m.task, routingKey, hostname).Add(count)
}
