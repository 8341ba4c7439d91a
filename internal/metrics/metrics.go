// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TokensIssued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "presence",
		Name:      "tokens_issued_total",
		Help:      "Attendance tokens issued for active sessions.",
	})

	Scans = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "presence",
		Name:      "scans_total",
		Help:      "Scan verifications by outcome.",
	}, []string{"outcome"})

	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "presence",
		Name:      "session_transitions_total",
		Help:      "Session lifecycle transitions by target status.",
	}, []string{"status"})

	IntegrityFaults = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "presence",
		Name:      "integrity_faults_total",
		Help:      "Scans that found no attendance record for an enrolled student.",
	})

	TasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "presence",
		Name:      "tasks_processed_total",
		Help:      "Background tasks handled by the worker, by type and result.",
	}, []string{"type", "result"})
)
