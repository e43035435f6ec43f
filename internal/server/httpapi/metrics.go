package httpapi

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Observer exports upload and staging metrics to Prometheus.
type Observer struct {
	uploads         *prometheus.CounterVec
	uploadDuration  *prometheus.HistogramVec
	uploadBytes     prometheus.Counter
	cleanupFailures prometheus.Counter
}

// NewObserver registers the metrics on reg, reusing collectors that are
// already registered under the same names.
func NewObserver(namespace string, reg prometheus.Registerer) (*Observer, error) {
	if namespace == "" {
		namespace = "filegate"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	uploads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "uploads_total",
		Help:      "Upload requests by route and outcome.",
	}, []string{"route", "outcome"})
	uploadDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "upload_duration_seconds",
		Help:      "Time from first body byte to handoff completion.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})
	uploadBytes := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "uploaded_bytes_total",
		Help:      "Bytes of successfully stored uploads.",
	})
	cleanupFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "temp_cleanup_failures_total",
		Help:      "Staged files that could not be removed.",
	})

	o := &Observer{}
	var err error
	if o.uploads, err = register(reg, uploads); err != nil {
		return nil, err
	}
	if o.uploadDuration, err = register(reg, uploadDuration); err != nil {
		return nil, err
	}
	if o.uploadBytes, err = register[prometheus.Counter](reg, uploadBytes); err != nil {
		return nil, err
	}
	if o.cleanupFailures, err = register[prometheus.Counter](reg, cleanupFailures); err != nil {
		return nil, err
	}
	return o, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		var zero T
		return zero, fmt.Errorf("register metric: %w", err)
	}
	return c, nil
}

// RecordUpload tracks one finished upload request.
func (o *Observer) RecordUpload(route string, duration time.Duration, size int64, err error) {
	if o == nil {
		return
	}
	o.uploadDuration.WithLabelValues(route).Observe(duration.Seconds())
	if err != nil {
		o.uploads.WithLabelValues(route, "error").Inc()
		return
	}
	o.uploads.WithLabelValues(route, "ok").Inc()
	o.uploadBytes.Add(float64(size))
}

// CleanupFailed counts a staged file that could not be removed.
func (o *Observer) CleanupFailed() {
	if o == nil {
		return
	}
	o.cleanupFailures.Inc()
}
