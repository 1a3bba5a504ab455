package metrics

import (
	"net/http"

	"github.com/DRSN-tech/product-identity/internal/usecase"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "product_identity"

// Metrics - Prometheus-реализация usecase.Metrics на собственном реестре.
type Metrics struct {
	registry *prometheus.Registry

	imagesProcessed *prometheus.CounterVec
	stageFailures   *prometheus.CounterVec
	groupsCreated   *prometheus.CounterVec
	appendConflicts prometheus.Counter
	linkConflicts   prometheus.Counter
	stageDuration   *prometheus.HistogramVec
}

func New(serviceName string) *Metrics {
	registry := prometheus.NewRegistry()
	reg := prometheus.WrapRegistererWith(prometheus.Labels{"service": serviceName}, registry)

	m := &Metrics{
		registry: registry,
		imagesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "images_processed_total",
			Help:      "Images embedded and stored, by path (incremental or batch).",
		}, []string{"path"}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_failures_total",
			Help:      "Per-image failures by pipeline stage.",
		}, []string{"stage"}),
		groupsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "groups_created_total",
			Help:      "Product groups created, by path.",
		}, []string{"path"}),
		appendConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "group_append_conflicts_total",
			Help:      "Conditional appends rejected because the image was already in the group.",
		}),
		linkConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "image_link_conflicts_total",
			Help:      "Link attempts for images already assigned to another group.",
		}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of batch pipeline stages.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
	}

	reg.MustRegister(
		m.imagesProcessed,
		m.stageFailures,
		m.groupsCreated,
		m.appendConflicts,
		m.linkConflicts,
		m.stageDuration,
	)
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Handler отдаёт метрики реестра в формате Prometheus.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry возвращает реестр (для тестов и дополнительных коллекторов).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ImageProcessed(path string) {
	m.imagesProcessed.WithLabelValues(path).Inc()
}

func (m *Metrics) StageFailed(stage usecase.Stage) {
	m.stageFailures.WithLabelValues(string(stage)).Inc()
}

func (m *Metrics) GroupCreated(path string) {
	m.groupsCreated.WithLabelValues(path).Inc()
}

func (m *Metrics) AppendConflict() {
	m.appendConflicts.Inc()
}

func (m *Metrics) LinkConflict() {
	m.linkConflicts.Inc()
}

func (m *Metrics) ObserveStage(stage usecase.Stage, seconds float64) {
	m.stageDuration.WithLabelValues(string(stage)).Observe(seconds)
}

// Nop - реализация без записи.
type Nop struct{}

func (Nop) ImageProcessed(string) {}
func (Nop) StageFailed(usecase.Stage) {}
func (Nop) GroupCreated(string) {}
func (Nop) AppendConflict() {}
func (Nop) LinkConflict() {}
func (Nop) ObserveStage(usecase.Stage, float64) {}
