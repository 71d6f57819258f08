// Package metrics exposes Prometheus instrumentation for the document core.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kore"

// Outcome labels shared across counters.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeRetry   = "retry"
)

// Metrics groups the collectors recorded by services. A nil *Metrics records nothing.
type Metrics struct {
	documentsCreated  *prometheus.CounterVec
	revisionsAppended *prometheus.CounterVec
	signatures        *prometheus.CounterVec
	exportArtifacts   *prometheus.CounterVec
	exportDuration    *prometheus.HistogramVec
	blobFetches       *prometheus.CounterVec
	allocationRetries *prometheus.CounterVec
	bordereaux        *prometheus.CounterVec
}

// New builds the collectors and registers them on registerer.
func New(registerer prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		documentsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "documents",
			Name:      "created_total",
			Help:      "Document creation attempts by outcome",
		}, []string{"outcome"}),
		revisionsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "documents",
			Name:      "revisions_appended_total",
			Help:      "Revisions appended, split by attachment presence",
		}, []string{"attachment"}),
		signatures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "signatures_total",
			Help:      "Signature attempts by role and outcome",
		}, []string{"role", "outcome"}),
		exportArtifacts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "integrity",
			Name:      "artifacts_total",
			Help:      "Export artifacts produced by kind",
		}, []string{"kind"}),
		exportDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "integrity",
			Name:      "export_duration_seconds",
			Help:      "Time spent fetching and stamping an export",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"outcome"}),
		blobFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "blobstore",
			Name:      "fetch_attempts_total",
			Help:      "Blob fetch attempts by outcome",
		}, []string{"outcome"}),
		allocationRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "allocation",
			Name:      "retries_total",
			Help:      "Number allocation retries after a uniqueness collision",
		}, []string{"scope"}),
		bordereaux: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transmission",
			Name:      "bordereaux_total",
			Help:      "Bordereau creation attempts by outcome",
		}, []string{"outcome"}),
	}
	collectors := []prometheus.Collector{
		m.documentsCreated,
		m.revisionsAppended,
		m.signatures,
		m.exportArtifacts,
		m.exportDuration,
		m.blobFetches,
		m.allocationRetries,
		m.bordereaux,
	}
	for _, collector := range collectors {
		if err := registerer.Register(collector); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) DocumentCreated(outcome string) {
	if m == nil {
		return
	}
	m.documentsCreated.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RevisionAppended(withFile bool) {
	if m == nil {
		return
	}
	attachment := "none"
	if withFile {
		attachment = "file"
	}
	m.revisionsAppended.WithLabelValues(attachment).Inc()
}

func (m *Metrics) SignatureAttempt(role, outcome string) {
	if m == nil {
		return
	}
	m.signatures.WithLabelValues(role, outcome).Inc()
}

func (m *Metrics) ExportArtifact(kind string) {
	if m == nil {
		return
	}
	m.exportArtifacts.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveExport(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.exportDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func (m *Metrics) BlobFetch(outcome string) {
	if m == nil {
		return
	}
	m.blobFetches.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AllocationRetry(scope string) {
	if m == nil {
		return
	}
	m.allocationRetries.WithLabelValues(scope).Inc()
}

func (m *Metrics) BordereauCreated(outcome string) {
	if m == nil {
		return
	}
	m.bordereaux.WithLabelValues(outcome).Inc()
}
