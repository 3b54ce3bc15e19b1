// Package metrics exposes the Prometheus collectors SPEC_FULL §4.6
// describes: durable-GTID sequence number per task, per-task commit
// counter, processor-error counter, reconnect counter. Grounded on
// _examples/dollarkillerx-galaxy/internal/prometheus/prometheus.go and
// prometheus_test.go's CounterVec/GaugeVec-plus-promhttp.Handler shape.
package metrics

import (
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// Collectors implements core/replicator.Metrics against a Prometheus
// registry scoped under namespace.
type Collectors struct {
	commits         *prometheus.CounterVec
	reconnects      *prometheus.CounterVec
	processorErrors *prometheus.CounterVec
	durableSeq      *prometheus.GaugeVec
}

// New constructs and registers the collectors under namespace (empty
// namespace is valid — it is simply omitted from the metric name).
func New(namespace string) *Collectors {
	c := &Collectors{
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commits_total",
			Help:      "Transactions committed to the sink, by task.",
		}, []string{"task_id"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Primary reconnect attempts, by task.",
		}, []string{"task_id"}),
		processorErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "processor_errors_total",
			Help:      "TableProcessor commit/process failures, by task/database/table.",
		}, []string{"task_id", "database", "table"}),
		durableSeq: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "durable_gtid_sequence",
			Help:      "Sequence number component of the last durable GTID, by task.",
		}, []string{"task_id"}),
	}
	prometheus.MustRegister(c.commits, c.reconnects, c.processorErrors, c.durableSeq)
	return c
}

// ObserveCommit implements core/replicator.Metrics.
func (c *Collectors) ObserveCommit(taskID, gtid string) {
	c.commits.WithLabelValues(taskID).Inc()
	if seq := gtidSequence(gtid); seq >= 0 {
		c.durableSeq.WithLabelValues(taskID).Set(float64(seq))
	}
}

// ObserveReconnect implements core/replicator.Metrics.
func (c *Collectors) ObserveReconnect(taskID string) {
	c.reconnects.WithLabelValues(taskID).Inc()
}

// ObserveProcessorError implements core/replicator.Metrics.
func (c *Collectors) ObserveProcessorError(taskID, database, tbl string) {
	c.processorErrors.WithLabelValues(taskID, database, tbl).Inc()
}

// gtidSequence extracts the trailing sequence number from a
// "domain-server-sequence" MariaDB GTID string, or -1 if it doesn't
// parse.
func gtidSequence(gtid string) int64 {
	parts := strings.Split(gtid, "-")
	if len(parts) != 3 {
		return -1
	}
	seq, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return -1
	}
	return seq
}
