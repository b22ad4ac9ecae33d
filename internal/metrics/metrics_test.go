package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstruments(t *testing.T) {
	m := New()
	m.ObserveStep("reader", PathFixed, 3*time.Millisecond)
	m.ObserveStep("reader", PathFixed, time.Millisecond)
	m.ObserveStep("writer", PathFlexible, time.Millisecond)
	m.AddFetched(18)
	m.AddExposed(21)
	m.SetReceiveBuffer(18)
	m.EndOfStream("reader")
	m.NotReady()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.steps.WithLabelValues("reader", PathFixed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.steps.WithLabelValues("writer", PathFlexible)))
	assert.Equal(t, 18.0, testutil.ToFloat64(m.bytesFetched))
	assert.Equal(t, 21.0, testutil.ToFloat64(m.bytesExposed))
	assert.Equal(t, 18.0, testutil.ToFloat64(m.receiveBuffer))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.endOfStream.WithLabelValues("reader")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notReady))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveStep("reader", PathFixed, time.Second)
		m.AddFetched(1)
		m.AddExposed(1)
		m.SetReceiveBuffer(1)
		m.EndOfStream("writer")
		m.NotReady()
	})
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler(t *testing.T) {
	m := New()
	m.AddFetched(5)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tessera_fetched_bytes_total 5")
}
