package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PendingRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vrf_pending_requests",
		Help: "Current number of requests with status=pending in the queue",
	})

	FulfilledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vrf_fulfilled_total",
		Help: "Total number of requests marked fulfilled",
	})

	FailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vrf_failed_total",
		Help: "Total number of failed single-request fulfillment attempts, whether retried or terminal",
	})

	BatchFulfilledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vrf_batch_fulfilled_total",
		Help: "Total number of batches whose on-chain submission succeeded",
	})

	BatchFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vrf_batch_failed_total",
		Help: "Total number of batches whose on-chain submission failed",
	})

	BatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vrf_batch_size",
		Help:    "Size of batches submitted on-chain",
		Buckets: []float64{1, 2, 5, 10, 15, 20, 25, 50},
	})

	RelayerSkipsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vrf_relayer_skips_total",
		Help: "Number of times the scheduler skipped a candidate account",
	}, []string{"reason"})

	AccountTxTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vrf_account_tx_total",
		Help: "Transactions submitted per relayer account",
	}, []string{"account", "outcome"})

	FulfillmentLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vrf_fulfillment_latency_seconds",
		Help:    "Time between dequeue and successful mark_fulfilled",
		Buckets: prometheus.DefBuckets,
	})

	StuckReclaimedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vrf_stuck_reclaimed_total",
		Help: "Rows reclaimed from processing back to pending by reclaim_stuck",
	})

	NonceResetsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vrf_nonce_resets_total",
		Help: "Times a NonceManager had to re-sync from chain after a nonce error",
	}, []string{"account"})
)
