package metrics

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for provider requests.
const (
	OutcomeOK                = "ok"
	OutcomeError             = "error"
	OutcomeMissingCredential = "missing_credential"
)

// Metrics holds Prometheus counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	providerRequests *prometheus.CounterVec
	recordsFetched   *prometheus.CounterVec
	categoryFailures *prometheus.CounterVec
	classifications  *prometheus.CounterVec
	fetchRuns        *prometheus.CounterVec
}

var (
	once    sync.Once
	metrics *Metrics
)

// Init initializes global metrics (idempotent).
func Init() *Metrics {
	once.Do(func() {
		metrics = New(prometheus.DefaultRegisterer)
	})
	return metrics
}

// New builds counters and registers them on reg. Tests pass a fresh registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		providerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chain_statement_provider_requests_total",
			Help: "Upstream provider calls by provider and outcome",
		}, []string{"provider", "outcome"}),
		recordsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chain_statement_records_fetched_total",
			Help: "Transfer records returned per category",
		}, []string{"category"}),
		categoryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chain_statement_category_failures_total",
			Help: "Categories whose providers were all exhausted",
		}, []string{"category"}),
		classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chain_statement_classification_lookups_total",
			Help: "Contract classification lookups by cache result",
		}, []string{"result"}),
		fetchRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chain_statement_fetch_runs_total",
			Help: "Wallet fetch runs by whether any category succeeded",
		}, []string{"success"}),
	}
	reg.MustRegister(
		m.providerRequests,
		m.recordsFetched,
		m.categoryFailures,
		m.classifications,
		m.fetchRuns,
	)
	return m
}

// ProviderRequest counts one call to a provider.
func (m *Metrics) ProviderRequest(provider, outcome string) {
	if m != nil {
		m.providerRequests.WithLabelValues(provider, outcome).Inc()
	}
}

// RecordsFetched adds n records for category.
func (m *Metrics) RecordsFetched(category string, n int) {
	if m != nil && n > 0 {
		m.recordsFetched.WithLabelValues(category).Add(float64(n))
	}
}

// CategoryFailed increments the category failure counter.
func (m *Metrics) CategoryFailed(category string) {
	if m != nil {
		m.categoryFailures.WithLabelValues(category).Inc()
	}
}

// ClassificationLookup counts a classifier lookup; hit reports a cache hit.
func (m *Metrics) ClassificationLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.classifications.WithLabelValues(result).Inc()
}

// FetchRun counts a completed orchestrator run.
func (m *Metrics) FetchRun(success bool) {
	if m != nil {
		m.fetchRuns.WithLabelValues(strconv.FormatBool(success)).Inc()
	}
}

// Handler returns an HTTP handler for /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
