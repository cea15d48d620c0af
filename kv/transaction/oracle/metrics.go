package oracle

import "github.com/prometheus/client_golang/prometheus"

var (
	commitCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fdbmem",
			Subsystem: "oracle",
			Name:      "commits_total",
			Help:      "Counter of commit attempts by result.",
		}, []string{"result"})

	commitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fdbmem",
			Subsystem: "oracle",
			Name:      "commit_duration_seconds",
			Help:      "Bucketed histogram of commit processing time (s), including waiting for the commit lock.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 18),
		})

	versionGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fdbmem",
			Subsystem: "oracle",
			Name:      "version",
			Help:      "Newest committed version.",
		})

	historyGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fdbmem",
			Subsystem: "oracle",
			Name:      "conflict_history_records",
			Help:      "Number of commit records kept for conflict checking.",
		})

	compactionCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fdbmem",
			Subsystem: "oracle",
			Name:      "compactions_total",
			Help:      "Counter of compactions.",
		})

	prunedRevisionsCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fdbmem",
			Subsystem: "oracle",
			Name:      "pruned_revisions_total",
			Help:      "Counter of revisions removed by compaction.",
		})
)

func init() {
	prometheus.MustRegister(commitCounter)
	prometheus.MustRegister(commitDuration)
	prometheus.MustRegister(versionGauge)
	prometheus.MustRegister(historyGauge)
	prometheus.MustRegister(compactionCounter)
	prometheus.MustRegister(prunedRevisionsCounter)
}
