package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"PositionScanner/internal/domain"
	"PositionScanner/internal/ports"
)

const namespace = "positionscanner"

// Recorder exposes pipeline counters on its own registry.
type Recorder struct {
	registry     *prometheus.Registry
	staged       *prometheus.CounterVec
	skipped      *prometheus.CounterVec
	ledgerErrors *prometheus.CounterVec
	dispatches   *prometheus.CounterVec
	committed    *prometheus.CounterVec
}

var _ ports.Metrics = (*Recorder)(nil)

// NewRecorder registers the pipeline collectors plus the Go runtime and
// process collectors.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		staged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_staged_total",
			Help:      "Items staged for notification by source.",
		}, []string{"source"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_skipped_total",
			Help:      "Invalid items or subscribers skipped by source and reason.",
		}, []string{"source", "reason"}),
		ledgerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_errors_total",
			Help:      "Ledger failures by operation.",
		}, []string{"op"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Batch dispatch attempts by source and outcome.",
		}, []string{"source", "outcome"}),
		committed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "identities_committed_total",
			Help:      "Identities recorded in the ledger by source.",
		}, []string{"source"}),
	}
	r.registry.MustRegister(
		r.staged, r.skipped, r.ledgerErrors, r.dispatches, r.committed,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Recorder) ObserveStaged(source string, n int) {
	r.staged.WithLabelValues(source).Add(float64(n))
}

func (r *Recorder) ObserveSkipped(source, reason string) {
	r.skipped.WithLabelValues(source, reason).Inc()
}

func (r *Recorder) ObserveLedgerError(op string) {
	r.ledgerErrors.WithLabelValues(op).Inc()
}

func (r *Recorder) ObserveDispatch(source string, err error) {
	r.dispatches.WithLabelValues(source, outcome(err)).Inc()
}

func (r *Recorder) ObserveCommitted(source string, n int) {
	if n > 0 {
		r.committed.WithLabelValues(source).Add(float64(n))
	}
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func outcome(err error) string {
	if err == nil {
		return "sent"
	}
	var partial *domain.PartialDeliveryError
	if errors.As(err, &partial) {
		return "partial"
	}
	if domain.IsTransient(err) {
		return "transient_error"
	}
	return "error"
}
