package apply

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "data_replication"

type Metric interface {
	AddRows(table, kind string, count float64)
	AddErrors(table, kind string, count float64)
	PrometheusCollectors() []prometheus.Collector
}

type metric struct {
	rows   *prometheus.CounterVec
	errors *prometheus.CounterVec
}

func NewMetric(task string) Metric {
	return &metric{
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "apply",
			Name:        "rows_total",
			Help:        "total number of rows applied to the target, by table and operation",
			ConstLabels: prometheus.Labels{"task": task},
		}, []string{"table", "operation"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "apply",
			Name:        "errors_total",
			Help:        "total number of contained row failures, by table and policy key",
			ConstLabels: prometheus.Labels{"task": task},
		}, []string{"table", "kind"}),
	}
}

func (m *metric) PrometheusCollectors() []prometheus.Collector {
	return []prometheus.Collector{m.rows, m.errors}
}

func (m *metric) AddRows(table, kind string, count float64) {
	m.rows.WithLabelValues(table, kind).Add(count)
}

func (m *metric) AddErrors(table, kind string, count float64) {
	m.errors.WithLabelValues(table, kind).Add(count)
}

type nopMetric struct{}

func (nopMetric) AddRows(string, string, float64)              {}
func (nopMetric) AddErrors(string, string, float64)            {}
func (nopMetric) PrometheusCollectors() []prometheus.Collector { return nil }
