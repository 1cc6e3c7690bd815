// Package metrics exports engine activity as Prometheus metrics.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/tendant/simple-entity/pkg/simpleentity"
)

const namespace = "simple_entity"

// Observer implements simpleentity.Observer with Prometheus collectors.
type Observer struct {
	operations       *prometheus.CounterVec
	durations        *prometheus.HistogramVec
	payloadsIngested *prometheus.CounterVec
	payloadBytes     *prometheus.CounterVec
}

var _ simpleentity.Observer = (*Observer)(nil)

// New registers the collectors with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Observer {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Observer{
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Engine operations by name and outcome",
		}, []string{"operation", "outcome"}),
		durations: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Engine operation latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		payloadsIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payloads_ingested_total",
			Help:      "Payloads written to the blob store",
		}, []string{"kind"}),
		payloadBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payload_bytes_total",
			Help:      "Payload bytes written to the blob store",
		}, []string{"kind"}),
	}
}

func (o *Observer) OperationCompleted(op string, err error, elapsed time.Duration) {
	o.operations.WithLabelValues(op, Outcome(err)).Inc()
	o.durations.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (o *Observer) PayloadIngested(kind string, size int64) {
	o.payloadsIngested.WithLabelValues(kind).Inc()
	o.payloadBytes.WithLabelValues(kind).Add(float64(size))
}

// Outcome names the error kind used as the outcome label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, simpleentity.ErrNotFound):
		return "not_found"
	case errors.Is(err, simpleentity.ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, simpleentity.ErrConflict):
		return "conflict"
	case errors.Is(err, simpleentity.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, simpleentity.ErrInvalidParameter):
		return "invalid"
	case errors.Is(err, simpleentity.ErrIO):
		return "io"
	default:
		return "error"
	}
}
