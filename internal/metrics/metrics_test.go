package metrics

import (
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aisio/internal/event"
	"aisio/internal/frame"
	"aisio/internal/transport"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	require.NotNil(t, m.Counter)
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	require.NotNil(t, m.Gauge)
	return m.GetGauge().GetValue()
}

func histogramCount(t *testing.T, o prometheus.Observer) uint64 {
	t.Helper()
	metric, ok := o.(prometheus.Metric)
	require.True(t, ok)
	var m dto.Metric
	require.NoError(t, metric.Write(&m))
	require.NotNil(t, m.Histogram)
	return m.GetHistogram().GetSampleCount()
}

func TestCollectorConnectionLifecycle(t *testing.T) {
	c := New(WithRegistry(prometheus.NewRegistry()))
	info := transport.ConnInfo{ID: "a", Role: transport.RoleServer}

	c.ConnectionOpened(info)
	c.ConnectionOpened(transport.ConnInfo{ID: "b", Role: transport.RoleServer})
	assert.Equal(t, 2.0, gaugeValue(t, c.connectionsActive.WithLabelValues("server")))

	c.ConnectionClosed(info, errors.New("reset"))
	assert.Equal(t, 1.0, gaugeValue(t, c.connectionsActive.WithLabelValues("server")))
	assert.Equal(t, 2.0, counterValue(t, c.connectionsTotal.WithLabelValues("server")))
	assert.Equal(t, 1.0, counterValue(t, c.connectionErrors.WithLabelValues("server")))
}

func TestCollectorRecords(t *testing.T) {
	c := New(WithRegistry(prometheus.NewRegistry()))
	info := transport.ConnInfo{Role: transport.RoleClient}

	c.RecordReceived(info, frame.Event{Name: "move"}, 40)
	c.RecordDropped(info, []byte("zz|1"), errors.New("bad"))
	c.EventEmitted(info, frame.Event{Name: "ack"}, 10, nil)
	c.EventEmitted(info, frame.Event{Name: "ack"}, 0, errors.New("closed"))
	c.DialFailed("127.0.0.1:1", 1, errors.New("refused"))

	assert.Equal(t, 1.0, counterValue(t, c.recordsReceived.WithLabelValues("client")))
	assert.Equal(t, 1.0, counterValue(t, c.recordsDropped.WithLabelValues("client")))
	assert.Equal(t, 44.0, counterValue(t, c.bytesReceived.WithLabelValues("client")))
	assert.Equal(t, 1.0, counterValue(t, c.eventsEmitted.WithLabelValues("client")))
	assert.Equal(t, 1.0, counterValue(t, c.emitErrors.WithLabelValues("client")))
	assert.Equal(t, 10.0, counterValue(t, c.bytesSent.WithLabelValues("client")))
	assert.Equal(t, 1.0, counterValue(t, c.dialFailures))
}

func TestObserveDispatchOutcomes(t *testing.T) {
	c := New(WithRegistry(prometheus.NewRegistry()))

	c.ObserveDispatch("move", nil, time.Millisecond, nil)
	c.ObserveDispatch("move", nil, time.Millisecond, &event.DispatchError{Name: "move", Err: errors.New("bad args")})
	c.ObserveDispatch("move", nil, time.Millisecond, &event.DispatchError{Name: "move", Err: fmt.Errorf("%w: boom", event.ErrHandlerPanic)})
	for i := range 3 {
		c.ObserveDispatch(fmt.Sprintf("junk%d", i), nil, 0, &event.DispatchError{Name: "junk", Err: event.ErrNoHandler})
	}

	assert.Equal(t, 1.0, counterValue(t, c.dispatchTotal.WithLabelValues("move", "ok")))
	assert.Equal(t, 1.0, counterValue(t, c.dispatchTotal.WithLabelValues("move", "error")))
	assert.Equal(t, 1.0, counterValue(t, c.dispatchTotal.WithLabelValues("move", "panic")))
	assert.Equal(t, 3.0, counterValue(t, c.dispatchTotal.WithLabelValues(unroutedLabel, "unrouted")))
	assert.EqualValues(t, 3, histogramCount(t, c.dispatchDuration.WithLabelValues("move")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := New()
	c.ConnectionOpened(transport.ConnInfo{Role: transport.RoleServer})

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)

	text := string(body)
	assert.True(t, strings.Contains(text, `aisio_connections_active{role="server"} 1`), text)
	assert.Contains(t, text, "go_goroutines")
}

func TestWithNamespace(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(WithRegistry(reg), WithNamespace("bridge"), WithBuckets([]float64{0.1, 1}))
	c.DialFailed("x", 1, nil)

	families, err := reg.Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "bridge_dial_failures_total")
}
