package indexer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/your-org/indexflow/pkg/procrun"
)

// Metrics holds the Prometheus collectors for event handling. A nil *Metrics
// records nothing.
type Metrics struct {
	events        *prometheus.CounterVec
	eventDuration *prometheus.HistogramVec
	runs          *prometheus.CounterVec
	runDuration   prometheus.Histogram
	uploads       *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "indexflow",
			Name:      "events_total",
			Help:      "Handled repository events by result.",
		}, []string{"result"}),
		eventDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "indexflow",
			Name:      "event_duration_seconds",
			Help:      "Time spent handling one event.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"result"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "indexflow",
			Name:      "transformer_runs_total",
			Help:      "Transformer invocations by outcome status and exit code class.",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "indexflow",
			Name:      "transformer_duration_seconds",
			Help:      "Wall time of transformer invocations.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "indexflow",
			Name:      "uploads_total",
			Help:      "Artifact uploads to the repository by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.events, m.eventDuration, m.runs, m.runDuration, m.uploads)
	return m
}

func (m *Metrics) observeEvent(result Result, d time.Duration) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(result.String()).Inc()
	m.eventDuration.WithLabelValues(result.String()).Observe(d.Seconds())
}

func (m *Metrics) observeRun(out procrun.Outcome, d time.Duration) {
	if m == nil {
		return
	}
	status := out.Status.String()
	if out.Status == procrun.StatusExited && out.ExitCode != 0 {
		status = "exited_nonzero"
	}
	m.runs.WithLabelValues(status).Inc()
	m.runDuration.Observe(d.Seconds())
}

func (m *Metrics) observeUpload(ok bool) {
	if m == nil {
		return
	}
	outcome := "created"
	if !ok {
		outcome = "failed"
	}
	m.uploads.WithLabelValues(outcome).Inc()
}
