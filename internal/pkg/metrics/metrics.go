package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "wallet_playground"

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeStale   = "stale"
)

var (
	// OperationsTotal counts page operations by name and outcome.
	OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Total number of wallet operations",
		},
		[]string{"operation", "outcome"},
	)

	// OperationDuration tracks operation latency.
	OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Wallet operation latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// WalletConnected is 1 while a wallet session is open.
	WalletConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "wallet_connected",
			Help:      "Whether a wallet is currently connected",
		},
	)

	// RPCRequestsTotal counts node requests per chain and method.
	RPCRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_requests_total",
			Help:      "Total number of RPC requests sent to chain nodes",
		},
		[]string{"chain", "method", "outcome"},
	)

	registerOnce sync.Once
)

// MustRegisterMetrics registers the collectors with the default registry once.
func MustRegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(OperationsTotal, OperationDuration, WalletConnected, RPCRequestsTotal)
	})
}

// ObserveOperation records one finished operation.
func ObserveOperation(operation, outcome string, started time.Time) {
	OperationsTotal.WithLabelValues(operation, outcome).Inc()
	OperationDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

// SetConnected flips the connection gauge.
func SetConnected(connected bool) {
	if connected {
		WalletConnected.Set(1)
		return
	}
	WalletConnected.Set(0)
}

// ObserveRPC records a node request outcome.
func ObserveRPC(chain, method string, err error) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	RPCRequestsTotal.WithLabelValues(chain, method, outcome).Inc()
}
