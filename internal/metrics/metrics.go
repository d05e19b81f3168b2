package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// GatingAction identifies what the gating pass did to a tagged script.
type GatingAction string

const (
	// GatingActionBlocked records a script switched to the non-executable placeholder.
	GatingActionBlocked GatingAction = "blocked"
	// GatingActionEnabled records a script restored to its original type.
	GatingActionEnabled GatingAction = "enabled"
	// GatingActionUnchanged records a script already in the desired state.
	GatingActionUnchanged GatingAction = "unchanged"
)

// ContentLookupOutcome captures the result of a policy content cache lookup.
type ContentLookupOutcome string

const (
	// ContentLookupHit indicates cached policy content was reused.
	ContentLookupHit ContentLookupOutcome = "hit"
	// ContentLookupMiss indicates no valid cached content was present.
	ContentLookupMiss ContentLookupOutcome = "miss"
)

// Recorder publishes Prometheus metrics for runtime activity.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	decisions      *prometheus.CounterVec
	gatingActions  *prometheus.CounterVec
	policyFetches  *prometheus.CounterVec
	policyLatency  *prometheus.HistogramVec
	contentLookups *prometheus.CounterVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a
// dedicated registry is created so multiple recorders can coexist without
// conflicting with the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "consentry",
		Subsystem: "consent",
		Name:      "decisions_total",
		Help:      "Consent decisions recorded by the runtime.",
	}, []string{"site", "kind", "remote_outcome"})

	gatingActions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "consentry",
		Subsystem: "gating",
		Name:      "script_actions_total",
		Help:      "Per-script actions taken during gating reconciliation.",
	}, []string{"site", "action"})

	policyFetches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "consentry",
		Subsystem: "policy",
		Name:      "fetches_total",
		Help:      "Policy content fetch attempts, including retries.",
	}, []string{"policy_type", "result"})

	policyLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "consentry",
		Subsystem: "policy",
		Name:      "fetch_duration_seconds",
		Help:      "Latency distribution for policy content fetches.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
	}, []string{"policy_type", "result"})

	contentLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "consentry",
		Subsystem: "policy",
		Name:      "cache_lookups_total",
		Help:      "Policy content cache lookups performed before fetching.",
	}, []string{"policy_type", "result"})

	reg.MustRegister(decisions, gatingActions, policyFetches, policyLatency, contentLookups)

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	return &Recorder{
		gatherer:       reg,
		handler:        handler,
		decisions:      decisions,
		gatingActions:  gatingActions,
		policyFetches:  policyFetches,
		policyLatency:  policyLatency,
		contentLookups: contentLookups,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests and advanced
// integrations.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveDecision records a completed consent decision. kind is acceptAll,
// rejectAll, or custom; the remote outcome label reflects whether the
// persistence service accepted the submission.
func (r *Recorder) ObserveDecision(site, kind string, remoteOK bool) {
	if r == nil {
		return
	}
	remoteLabel := "failed"
	if remoteOK {
		remoteLabel = "ok"
	}
	r.decisions.WithLabelValues(normalizeLabel(site), normalizeLabel(kind), remoteLabel).Inc()
}

// ObserveGating records the action taken on a single tagged script.
func (r *Recorder) ObserveGating(site string, action GatingAction) {
	if r == nil {
		return
	}
	label := string(action)
	if label == "" {
		label = string(GatingActionUnchanged)
	}
	r.gatingActions.WithLabelValues(normalizeLabel(site), label).Inc()
}

// ObservePolicyFetch records a single network attempt for policy content.
func (r *Recorder) ObservePolicyFetch(policyType, result string, duration time.Duration) {
	if r == nil {
		return
	}
	typeLabel := normalizeLabel(policyType)
	resultLabel := normalizeLabel(result)
	r.policyFetches.WithLabelValues(typeLabel, resultLabel).Inc()
	r.policyLatency.WithLabelValues(typeLabel, resultLabel).Observe(duration.Seconds())
}

// ObserveContentLookup records the result of a policy content cache lookup.
func (r *Recorder) ObserveContentLookup(policyType string, result ContentLookupOutcome) {
	if r == nil {
		return
	}
	label := string(result)
	if label == "" {
		label = string(ContentLookupMiss)
	}
	r.contentLookups.WithLabelValues(normalizeLabel(policyType), label).Inc()
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
