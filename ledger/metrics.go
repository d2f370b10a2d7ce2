package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Service counters, exposed via the promhttp endpoint started by cmd/ledger when the -m flag is set.
var (
	reconciliationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_reconciliations_total",
		Help: "Reconciliations against the wallet manager by result (value, zero, unknown).",
	}, []string{"result"})

	transfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_transfers_total",
		Help: "Internal transfers by outcome.",
	}, []string{"status"})

	queuePublishesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_queue_publishes_total",
		Help: "Messages published to broker queues by queue and outcome.",
	}, []string{"queue", "status"})
)
