// Package metrics holds the Prometheus collectors for mapping, counter and image events.
// All methods are safe on a nil *Metrics so core packages can run without a registry.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the domain collectors.
type Metrics struct {
	mappingRebuilds  *prometheus.CounterVec
	mappingErrors    prometheus.Counter
	lockFallbacks    *prometheus.CounterVec
	corruptRecovered *prometheus.CounterVec
	imageResults     *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	var err error
	m := &Metrics{}
	if m.mappingRebuilds, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "docimage_mapping_rebuilds_total",
		Help: "Mapping snapshot rebuilds by trigger.",
	}, []string{"reason"})); err != nil {
		return nil, err
	}
	if m.mappingErrors, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "docimage_mapping_load_errors_total",
		Help: "Mapping source loads that failed.",
	})); err != nil {
		return nil, err
	}
	if m.lockFallbacks, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "docimage_lock_fallbacks_total",
		Help: "Operations that ran without their advisory lock.",
	}, []string{"resource"})); err != nil {
		return nil, err
	}
	if m.corruptRecovered, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "docimage_corrupt_recoveries_total",
		Help: "Persisted files that were unreadable and replaced by defaults.",
	}, []string{"resource"})); err != nil {
		return nil, err
	}
	if m.imageResults, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "docimage_image_requests_total",
		Help: "Image requests by outcome.",
	}, []string{"result"})); err != nil {
		return nil, err
	}
	return m, nil
}

// register adds c to reg, reusing the collector already registered under the same descriptor.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// MappingRebuilt records a snapshot rebuild triggered by reason.
func (m *Metrics) MappingRebuilt(reason string) {
	if m == nil {
		return
	}
	m.mappingRebuilds.WithLabelValues(reason).Inc()
}

// MappingLoadFailed records a loader failure.
func (m *Metrics) MappingLoadFailed() {
	if m == nil {
		return
	}
	m.mappingErrors.Inc()
}

// LockFallback records a degraded, unlocked operation on resource.
func (m *Metrics) LockFallback(resource string) {
	if m == nil {
		return
	}
	m.lockFallbacks.WithLabelValues(resource).Inc()
}

// CorruptRecovered records that resource was unreadable and reset to its default.
func (m *Metrics) CorruptRecovered(resource string) {
	if m == nil {
		return
	}
	m.corruptRecovered.WithLabelValues(resource).Inc()
}

// ImageResult records the outcome of one image request.
func (m *Metrics) ImageResult(result string) {
	if m == nil {
		return
	}
	m.imageResults.WithLabelValues(result).Inc()
}
