package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMustRegisterMetricsIsIdempotent(t *testing.T) {
	assert.NotPanics(t, func() {
		MustRegisterMetrics()
		MustRegisterMetrics()
	})
}

func TestObserveOperation(t *testing.T) {
	before := testutil.ToFloat64(OperationsTotal.WithLabelValues("signMessage", OutcomeSuccess))
	ObserveOperation("signMessage", OutcomeSuccess, time.Now())
	after := testutil.ToFloat64(OperationsTotal.WithLabelValues("signMessage", OutcomeSuccess))
	assert.Equal(t, before+1, after)
}

func TestSetConnected(t *testing.T) {
	SetConnected(true)
	assert.Equal(t, float64(1), testutil.ToFloat64(WalletConnected))
	SetConnected(false)
	assert.Equal(t, float64(0), testutil.ToFloat64(WalletConnected))
}

func TestObserveRPC(t *testing.T) {
	ObserveRPC("goerli", "eth_chainId", errors.New("boom"))
	assert.Equal(t, float64(1), testutil.ToFloat64(RPCRequestsTotal.WithLabelValues("goerli", "eth_chainId", OutcomeError)))
}
