// Package metrics holds the pipeline's Prometheus counters. Workers run as
// batch jobs, so the counters are written to a textfile when the run ends
// rather than scraped.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/wbrown/spm_pack/pkg/packer"
)

type Metrics struct {
	Registry         *prometheus.Registry
	Units            *prometheus.CounterVec
	SkippedUnits     *prometheus.CounterVec
	SkippedFragments *prometheus.CounterVec
	Documents        *prometheus.CounterVec
	Tokens           *prometheus.CounterVec
	Examples         *prometheus.CounterVec
	PadTokens        *prometheus.CounterVec
	BytesWritten     *prometheus.CounterVec
	CacheLookups     *prometheus.CounterVec
	WorkerFailures   *prometheus.CounterVec
}

func newCounter(name string, help string,
	labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spm_pack",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// New creates the counters on their own registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Units: newCounter("units_total",
			"Corpus units packed.", "worker"),
		SkippedUnits: newCounter("skipped_units_total",
			"Corpus units skipped as unreadable.", "worker"),
		SkippedFragments: newCounter("skipped_fragments_total",
			"Fragment files skipped as unreadable.", "worker"),
		Documents: newCounter("documents_total",
			"Documents tokenized.", "worker"),
		Tokens: newCounter("tokens_total",
			"Token ids produced before padding.", "worker"),
		Examples: newCounter("examples_total",
			"Fixed-length examples written.", "worker"),
		PadTokens: newCounter("pad_tokens_total",
			"Padding ids written.", "worker"),
		BytesWritten: newCounter("shard_bytes_total",
			"Bytes written to shard files.", "worker"),
		CacheLookups: newCounter("tokenizer_cache_lookups_total",
			"Tokenizer cache lookups by result.", "worker", "result"),
		WorkerFailures: newCounter("worker_failures_total",
			"Workers that stopped on a fatal error.", "worker"),
	}
	m.Registry.MustRegister(m.Units, m.SkippedUnits, m.SkippedFragments,
		m.Documents, m.Tokens, m.Examples, m.PadTokens, m.BytesWritten,
		m.CacheLookups, m.WorkerFailures)
	return m
}

func label(workerId int) string {
	return strconv.Itoa(workerId)
}

// AddProgress
// Adds the difference between two successive packer snapshots to the
// worker's counters.
func (m *Metrics) AddProgress(workerId int, prev packer.Summary,
	cur packer.Summary) {
	worker := label(workerId)
	m.Units.WithLabelValues(worker).Add(float64(cur.Units - prev.Units))
	m.SkippedUnits.WithLabelValues(worker).Add(
		float64(cur.SkippedUnits - prev.SkippedUnits))
	m.SkippedFragments.WithLabelValues(worker).Add(
		float64(cur.SkippedFragments - prev.SkippedFragments))
	m.Documents.WithLabelValues(worker).Add(
		float64(cur.Documents - prev.Documents))
	m.Tokens.WithLabelValues(worker).Add(float64(cur.Tokens - prev.Tokens))
	m.Examples.WithLabelValues(worker).Add(
		float64(cur.Examples - prev.Examples))
	m.PadTokens.WithLabelValues(worker).Add(
		float64(cur.PadTokens - prev.PadTokens))
	m.BytesWritten.WithLabelValues(worker).Add(
		float64(cur.Bytes - prev.Bytes))
}

func (m *Metrics) AddCacheStats(workerId int, hits int64, misses int64) {
	worker := label(workerId)
	m.CacheLookups.WithLabelValues(worker, "hit").Add(float64(hits))
	m.CacheLookups.WithLabelValues(worker, "miss").Add(float64(misses))
}

func (m *Metrics) WorkerFailed(workerId int) {
	m.WorkerFailures.WithLabelValues(label(workerId)).Inc()
}

// WriteTextfile dumps every counter in the Prometheus text format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}
