package workflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docs_workflow_transitions_total",
			Help: "Committed submission transitions by action.",
		},
		[]string{"action"},
	)
	deniedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docs_workflow_denied_total",
			Help: "Operations refused by the authorization gate, by capability.",
		},
		[]string{"capability"},
	)
	publishFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docs_workflow_event_publish_failures_total",
			Help: "Events that could not be published after commit.",
		},
	)
)
