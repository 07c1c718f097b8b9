package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	. "obreserve/internal/common"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_OpenOrders(t *testing.T) {
	m := New()

	// 1. Two submits, one full take, one partial take that leaves the order.
	m.Report(Event{Type: OrderSubmitted, Direction: EthToToken})
	m.Report(Event{Type: OrderSubmitted, Direction: EthToToken})
	m.Report(Event{Type: FullOrderTaken, Direction: EthToToken, Removed: true})
	m.Report(Event{Type: PartialOrderTaken, Direction: EthToToken})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OpenOrders.WithLabelValues(EthToToken.String())))

	// 2. Cancel the last one.
	m.Report(Event{Type: OrderCanceled, Direction: EthToToken})
	assert.Equal(t, 0.0, testutil.ToFloat64(m.OpenOrders.WithLabelValues(EthToToken.String())))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Events.WithLabelValues("order_submitted")))
}

func TestMetrics_VolumeAndBurn(t *testing.T) {
	m := New()

	m.Report(Event{Type: Traded, Direction: TokenToEth, SrcAmount: Ether(3)})
	m.Report(Event{Type: FullOrderTaken, Direction: TokenToEth, Removed: true, Burned: *uint256.NewInt(5e17)})

	assert.InDelta(t, 3.0, testutil.ToFloat64(m.TradedVolume.WithLabelValues(TokenToEth.String())), 1e-9)
	assert.InDelta(t, 0.5, testutil.ToFloat64(m.Burned), 1e-9)
}

func TestMetrics_SetOpenOrders(t *testing.T) {
	m := New()
	m.SetOpenOrders(TokenToEth, 4)
	assert.Equal(t, 4.0, testutil.ToFloat64(m.OpenOrders.WithLabelValues(TokenToEth.String())))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.Report(Event{Type: FundsDeposited})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `obreserve_events_total{type="funds_deposited"} 1`))
}
