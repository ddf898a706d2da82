package exporter

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/epluse/sensors/environment"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExporter(t *testing.T, celsius float64) (*Exporter, *environment.MockTEE301Bus, *httptest.Server) {
	t.Helper()
	bus := environment.NewMockTEE301Bus(func(ctx context.Context) (float64, error) { return celsius, nil })
	e := New(environment.NewTEE301(bus))
	srv := httptest.NewServer(e.Handler())
	t.Cleanup(srv.Close)
	return e, bus, srv
}

func do(t *testing.T, method, url string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body := map[string]any{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestExporter_Idle(t *testing.T) {
	e, _, srv := newTestExporter(t, 22.5)

	code, body := do(t, http.MethodGet, srv.URL+"/api/temperature")
	assert.Equal(t, http.StatusOK, code)
	assert.InDelta(t, 22.5, body["celsius"], 0.01)
	assert.Equal(t, 1.0, testutil.ToFloat64(e.reads.WithLabelValues("ok")))
	assert.InDelta(t, 22.5, testutil.ToFloat64(e.temperature), 0.01)

	code, body = do(t, http.MethodGet, srv.URL+"/api/identification")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "5445453330310001", body["identification"])

	code, body = do(t, http.MethodGet, srv.URL+"/api/status")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["heater_on"])
	assert.Equal(t, "0x10", body["status_register_2"])
}

func TestExporter_Heater(t *testing.T) {
	e, _, srv := newTestExporter(t, 22.5)

	code, body := do(t, http.MethodPut, srv.URL+"/api/heater/on")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["heater_on"])
	assert.Equal(t, 1.0, testutil.ToFloat64(e.heater))

	code, body = do(t, http.MethodGet, srv.URL+"/api/status")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["heater_on"])

	code, _ = do(t, http.MethodPut, srv.URL+"/api/heater/off")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 0.0, testutil.ToFloat64(e.heater))

	code, body = do(t, http.MethodPut, srv.URL+"/api/heater/toggle")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Invalid argument", body["kind"])

	resp, err := http.Get(srv.URL + "/api/heater/on")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestExporter_ChecksumError(t *testing.T) {
	e, bus, srv := newTestExporter(t, 22.5)
	bus.CorruptNext(1)

	code, body := do(t, http.MethodGet, srv.URL+"/api/temperature")
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Equal(t, "Checksum error", body["kind"])
	assert.Equal(t, 1.0, testutil.ToFloat64(e.reads.WithLabelValues("checksum_error")))
}

func TestExporter_Run(t *testing.T) {
	e, bus, srv := newTestExporter(t, 25.0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- e.Run(ctx, environment.Rate10MPS, environment.RepeatabilityHigh)
	}()

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(e.reads.WithLabelValues("ok")) >= 2
	}, 2*time.Second, 20*time.Millisecond)
	assert.True(t, bus.Periodic())

	code, body := do(t, http.MethodGet, srv.URL+"/api/temperature")
	assert.Equal(t, http.StatusOK, code)
	assert.InDelta(t, 25.0, body["celsius"], 0.01)

	// status needs a pause of periodic measurement
	code, _ = do(t, http.MethodGet, srv.URL+"/api/status")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, bus.Periodic())

	code, body = do(t, http.MethodGet, srv.URL+"/api/identification")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "5445453330310001", body["identification"])

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	metrics, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(metrics), `tee301_temperature_celsius{address="0x4a"} 25`)
	assert.Contains(t, string(metrics), `tee301_reads_total{address="0x4a",result="ok"}`)
	assert.Contains(t, string(metrics), "tee301_heater_on")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop")
	}
	assert.False(t, bus.Periodic())
}

func TestExporter_RunErrors(t *testing.T) {
	e, bus, _ := newTestExporter(t, 18.0)
	err := e.Run(context.Background(), environment.SampleRate(0), environment.RepeatabilityHigh)
	assert.Error(t, err)
	assert.False(t, bus.Periodic())

	s := environment.NewTEE301(bus, environment.WithTEE301Address(0x4B))
	err = New(s).Run(context.Background(), environment.Rate1MPS, environment.RepeatabilityHigh)
	assert.Error(t, err)
}

func TestExporter_NoSampleYet(t *testing.T) {
	bus := environment.NewMockTEE301Bus(func(ctx context.Context) (float64, error) { return 20, nil })
	s := environment.NewTEE301(bus)
	require.NoError(t, s.StartPeriodicMeasurement(context.Background(), environment.Rate05MPS, environment.RepeatabilityLow))
	e := New(s)
	_, err := e.Temperature(context.Background())
	assert.ErrorIs(t, err, ErrNoSample)

	rec := httptest.NewRecorder()
	e.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/temperature", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestExporter_RunWaitsAfterRestart(t *testing.T) {
	bus := environment.NewMockTEE301Bus(func(ctx context.Context) (float64, error) { return 25.0, nil },
		environment.WithMockSampleTiming())
	e := New(environment.NewTEE301(bus))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- e.Run(ctx, environment.Rate10MPS, environment.RepeatabilityHigh)
	}()

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(e.reads.WithLabelValues("ok")) >= 1
	}, 2*time.Second, 10*time.Millisecond)

	// every status read pauses and restarts periodic measurement
	for i := 0; i < 5; i++ {
		_, err := e.Status(context.Background())
		require.NoError(t, err)
		time.Sleep(35 * time.Millisecond)
	}
	ok := testutil.ToFloat64(e.reads.WithLabelValues("ok"))
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(e.reads.WithLabelValues("ok")) > ok
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Zero(t, testutil.ToFloat64(e.reads.WithLabelValues("bus_error")))
}
