package ate

import "github.com/prometheus/client_golang/prometheus"

var IngestCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ate",
	Subsystem: "repo",
	Name:      "ingested_messages",
}, []string{"kind"})

var MergeCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ate",
	Subsystem: "repo",
	Name:      "merges",
}, []string{"view", "outcome"})

var WriteBackCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ate",
	Subsystem: "repo",
	Name:      "merge_writebacks",
}, []string{"result"})

var SyncCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ate",
	Subsystem: "repo",
	Name:      "transaction_syncs",
}, []string{"result"})
