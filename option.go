package replication

import (
	"time"

	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/apply"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/internal/metadata"
	"github.com/Vinicius-Luiz/data-replication-python-service-sub000/rabbitmq"
	"github.com/prometheus/client_golang/prometheus"
)

type Option func(*Replicator)

// WithPrometheusRegisterer registers the replication collectors on reg.
func WithPrometheusRegisterer(reg prometheus.Registerer) Option {
	return func(r *Replicator) {
		r.registerer = reg
	}
}

// WithStore uses s instead of opening the configured metadata path. The
// caller keeps ownership of s.
func WithStore(s *metadata.Store) Option {
	return func(r *Replicator) {
		r.store = s
		r.ownStore = false
	}
}

func WithSource(s TableSource) Option {
	return func(r *Replicator) {
		r.source = s
	}
}

func WithLoader(l TableLoader) Option {
	return func(r *Replicator) {
		r.loader = l
	}
}

func WithTarget(t apply.Target) Option {
	return func(r *Replicator) {
		r.target = t
	}
}

func WithCapturer(c Capturer) Option {
	return func(r *Replicator) {
		r.capturer = c
	}
}

func WithPublisher(p BatchPublisher) Option {
	return func(r *Replicator) {
		r.publisher = p
	}
}

func WithBroker(c rabbitmq.Client) Option {
	return func(r *Replicator) {
		r.broker = c
	}
}

func WithResponseHandler(h rabbitmq.ResponseHandler) Option {
	return func(r *Replicator) {
		r.responseHandler = h
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Replicator) {
		r.now = now
	}
}
