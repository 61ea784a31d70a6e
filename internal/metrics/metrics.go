package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Secret deletion reasons
const (
	ReasonCompensation = "compensation"
	ReasonReplaced     = "replaced"
	ReasonDisconnect   = "disconnect"
	ReasonOrphaned     = "orphaned"
)

// Metrics holds the service's prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	callbacks          *prometheus.CounterVec
	callbackDuration   *prometheus.HistogramVec
	initiations        *prometheus.CounterVec
	secretsDeleted     *prometheus.CounterVec
	secretDeleteErrors *prometheus.CounterVec
	reaperRuns         *prometheus.CounterVec
}

// New creates the collectors and registers them with registerer
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "creator_connect_oauth_callbacks_total",
			Help: "OAuth callbacks by provider, last reached stage and result code.",
		}, []string{"provider", "stage", "result"}),
		callbackDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "creator_connect_oauth_callback_duration_seconds",
			Help:    "OAuth callback latency including provider calls and persistence.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30},
		}, []string{"provider"}),
		initiations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "creator_connect_oauth_initiations_total",
			Help: "OAuth authorization requests started by provider and result.",
		}, []string{"provider", "result"}),
		secretsDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "creator_connect_vault_secrets_deleted_total",
			Help: "Vault secrets deleted by reason.",
		}, []string{"reason"}),
		secretDeleteErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "creator_connect_vault_secret_delete_errors_total",
			Help: "Vault secret deletions that failed, by reason.",
		}, []string{"reason"}),
		reaperRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "creator_connect_secret_reaper_runs_total",
			Help: "Orphaned secret reaper runs by result.",
		}, []string{"result"}),
	}

	registerer.MustRegister(
		m.callbacks,
		m.callbackDuration,
		m.initiations,
		m.secretsDeleted,
		m.secretDeleteErrors,
		m.reaperRuns,
	)
	return m
}

// ObserveCallback records a finished callback
func (m *Metrics) ObserveCallback(provider, stage, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.callbacks.WithLabelValues(provider, stage, result).Inc()
	m.callbackDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// ObserveInitiate records the result of an initiate request
func (m *Metrics) ObserveInitiate(provider, result string) {
	if m == nil {
		return
	}
	m.initiations.WithLabelValues(provider, result).Inc()
}

// SecretsDeleted records deleted and failed secret deletions for reason
func (m *Metrics) SecretsDeleted(reason string, deleted, failed int) {
	if m == nil {
		return
	}
	if deleted > 0 {
		m.secretsDeleted.WithLabelValues(reason).Add(float64(deleted))
	}
	if failed > 0 {
		m.secretDeleteErrors.WithLabelValues(reason).Add(float64(failed))
	}
}

// ReaperRun records a reaper run result ("ok" or "error")
func (m *Metrics) ReaperRun(result string) {
	if m == nil {
		return
	}
	m.reaperRuns.WithLabelValues(result).Inc()
}
