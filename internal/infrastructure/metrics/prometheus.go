// Package metrics expone los contadores del libro en formato Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jhoicas/stock-ledger/internal/application/inventory"
)

var _ inventory.Recorder = (*PrometheusRecorder)(nil)

// PrometheusRecorder implementa inventory.Recorder con contadores.
type PrometheusRecorder struct {
	committed  *prometheus.CounterVec
	rejected   *prometheus.CounterVec
	duplicates prometheus.Counter
	failed     *prometheus.CounterVec
	corruption prometheus.Counter
	dropped    prometheus.Counter
}

// NewPrometheusRecorder registra los contadores en reg.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	const ns = "stock_ledger"
	r := &PrometheusRecorder{
		committed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "movements_committed_total",
			Help: "Movimientos confirmados por dirección.",
		}, []string{"direction"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "movements_rejected_total",
			Help: "Movimientos rechazados por motivo.",
		}, []string{"reason"}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "duplicates_suppressed_total",
			Help: "Envíos duplicados suprimidos por la guardia o por el token.",
		}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "submissions_failed_total",
			Help: "Envíos fallidos por tipo de fallo.",
		}, []string{"kind"}),
		corruption: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "reconciliation_mismatches_total",
			Help: "Diferencias detectadas por el monitor de conciliación.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "monitor_dropped_total",
			Help: "Observaciones descartadas por cola del monitor llena.",
		}),
	}
	reg.MustRegister(r.committed, r.rejected, r.duplicates, r.failed, r.corruption, r.dropped)
	return r
}

func (r *PrometheusRecorder) MovementCommitted(direction string) {
	r.committed.WithLabelValues(direction).Inc()
}

func (r *PrometheusRecorder) MovementRejected(reason string) {
	r.rejected.WithLabelValues(reason).Inc()
}

func (r *PrometheusRecorder) DuplicateSuppressed() { r.duplicates.Inc() }

func (r *PrometheusRecorder) SubmissionFailed(kind string) {
	r.failed.WithLabelValues(kind).Inc()
}

func (r *PrometheusRecorder) CorruptionDetected() { r.corruption.Inc() }

func (r *PrometheusRecorder) MonitorDropped() { r.dropped.Inc() }
