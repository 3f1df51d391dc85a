package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// GLMetrics counts ledger operations. It satisfies the metrics ports of the
// posting, close and reclass services.
type GLMetrics struct {
	journalsPosted   prometheus.Counter
	journalsReversed prometheus.Counter
	closeRuns        *prometheus.CounterVec
	reopens          prometheus.Counter
	reclassRuns      prometheus.Counter
}

// NewGLMetrics registers the ledger counters against the provided registerer.
// When the registerer is nil the default Prometheus registerer is used.
func NewGLMetrics(registerer prometheus.Registerer) *GLMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	posted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "meridian_gl_journals_posted_total",
		Help: "Journal entries moved to POSTED.",
	})
	reversed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "meridian_gl_journals_reversed_total",
		Help: "Journal entries reversed.",
	})
	closeRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_gl_close_runs_total",
		Help: "Period close runs by result.",
	}, []string{"result"})
	reopens := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "meridian_gl_period_reopens_total",
		Help: "Hard-closed periods reopened.",
	})
	reclassRuns := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "meridian_gl_reclass_runs_total",
		Help: "Completed reclassification runs.",
	})
	registerer.MustRegister(posted, reversed, closeRuns, reopens, reclassRuns)
	return &GLMetrics{
		journalsPosted:   posted,
		journalsReversed: reversed,
		closeRuns:        closeRuns,
		reopens:          reopens,
		reclassRuns:      reclassRuns,
	}
}

// JournalPosted counts one posted journal.
func (m *GLMetrics) JournalPosted() {
	if m != nil {
		m.journalsPosted.Inc()
	}
}

// JournalReversed counts one reversed journal.
func (m *GLMetrics) JournalReversed() {
	if m != nil {
		m.journalsReversed.Inc()
	}
}

// CloseRunCompleted counts one close run, labelled by whether it was an
// idempotent replay.
func (m *GLMetrics) CloseRunCompleted(idempotent bool) {
	if m == nil {
		return
	}
	result := "completed"
	if idempotent {
		result = "idempotent"
	}
	m.closeRuns.WithLabelValues(result).Inc()
}

// CloseRunFailed counts one failed close run.
func (m *GLMetrics) CloseRunFailed() {
	if m != nil {
		m.closeRuns.WithLabelValues("failed").Inc()
	}
}

// PeriodReopened counts one reopen.
func (m *GLMetrics) PeriodReopened() {
	if m != nil {
		m.reopens.Inc()
	}
}

// ReclassRunCompleted counts one reclassification run.
func (m *GLMetrics) ReclassRunCompleted() {
	if m != nil {
		m.reclassRuns.Inc()
	}
}
