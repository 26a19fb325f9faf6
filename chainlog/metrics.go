package chainlog

import "github.com/prometheus/client_golang/prometheus"

var AppendCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ate",
	Subsystem: "chainlog",
	Name:      "appends",
}, []string{"result"})

var MergeWriteCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ate",
	Subsystem: "chainlog",
	Name:      "merge_writes",
}, []string{"result"})

var ReplayCount = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "ate",
	Subsystem: "chainlog",
	Name:      "replayed_messages",
})
