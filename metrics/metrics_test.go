package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)
	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.Receipt("read")
	m.Receipt("read")
	m.SetOnline(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.connections))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.statusTransitions.WithLabelValues("read")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.onlineIdentities))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "talkie_receipts_total"))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ConnectionOpened()
		m.MessageSent()
		m.EventError("internal")
		m.Signal("call_offer")
	})
}

func TestDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	assert.Error(t, err)
}
