package exporter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/epluse/sensors"
	"github.com/epluse/sensors/environment"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sensor is the part of a TEE301 session the exporter drives.
type Sensor interface {
	SingleShotTemperature(ctx context.Context, repeatability environment.Repeatability, stretching environment.ClockStretching) (environment.Temperature, error)
	StartPeriodicMeasurement(ctx context.Context, rate environment.SampleRate, repeatability environment.Repeatability) error
	PeriodicTemperature(ctx context.Context) (environment.Temperature, error)
	EndPeriodicMeasurement(ctx context.Context) error
	ReadIdentification(ctx context.Context) (environment.Identification, error)
	ReadStatusRegister(ctx context.Context) (environment.StatusRegister, error)
	HeaterOn(ctx context.Context) error
	HeaterOff(ctx context.Context) error
	State() environment.SessionState
	Address() byte
}

var ErrNoSample = errors.New("no sample available yet")

// Exporter publishes TEE301 readings as prometheus metrics and a small JSON
// API. All sensor access goes through one mutex.
type Exporter struct {
	mx            sync.Mutex
	sensor        Sensor
	rate          environment.SampleRate
	repeatability environment.Repeatability
	stretching    environment.ClockStretching
	last          *Sample
	id            *environment.Identification

	// started is when periodic measurement last (re)started; the first
	// sample is ready one interval later
	started time.Time

	registry    *prometheus.Registry
	temperature prometheus.Gauge
	reads       *prometheus.CounterVec
	heater      prometheus.Gauge
	router      *mux.Router
}

type Sample struct {
	Celsius float64   `json:"celsius"`
	Time    time.Time `json:"time"`
}

type Opt func(*Exporter)

// WithStretching sets the clock stretching mode for on-demand single shots.
func WithStretching(stretching environment.ClockStretching) Opt {
	return func(e *Exporter) {
		e.stretching = stretching
	}
}

// WithRepeatability sets the repeatability used outside of Run.
func WithRepeatability(repeatability environment.Repeatability) Opt {
	return func(e *Exporter) {
		e.repeatability = repeatability
	}
}

func New(sensor Sensor, opts ...Opt) *Exporter {
	e := &Exporter{
		sensor:        sensor,
		repeatability: environment.RepeatabilityHigh,
		stretching:    environment.ClockStretchingEnabled,
		registry:      prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(e)
	}
	labels := prometheus.Labels{"address": fmt.Sprintf("%#02x", sensor.Address())}
	e.temperature = prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "tee301_temperature_celsius",
		Help:        "Last temperature measured by the sensor.",
		ConstLabels: labels,
	})
	e.reads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "tee301_reads_total",
		Help:        "Sensor reads by result.",
		ConstLabels: labels,
	}, []string{"result"})
	e.heater = prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "tee301_heater_on",
		Help:        "1 when the on-chip heater is enabled.",
		ConstLabels: labels,
	})
	e.registry.MustRegister(e.temperature, e.reads, e.heater)

	e.router = mux.NewRouter()
	e.router.Use(logRequest)
	e.router.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	e.router.HandleFunc("/api/temperature", e.handleTemperature).Methods(http.MethodGet)
	e.router.HandleFunc("/api/identification", e.handleIdentification).Methods(http.MethodGet)
	e.router.HandleFunc("/api/status", e.handleStatus).Methods(http.MethodGet)
	e.router.HandleFunc("/api/heater/{state}", e.handleHeater).Methods(http.MethodPut)
	return e
}

func (e *Exporter) Handler() http.Handler {
	return e.router
}

func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Run starts periodic measurement, waits one sample interval and then fetches
// a sample every interval until ctx is done. Periodic measurement is ended
// before returning.
func (e *Exporter) Run(ctx context.Context, rate environment.SampleRate, repeatability environment.Repeatability) error {
	interval := rate.Interval()
	if interval == 0 {
		return fmt.Errorf("exporter: rate %s: %w", rate, sensors.ErrInvalidArgument)
	}
	e.mx.Lock()
	// identification is not available while measuring periodically
	if id, err := e.sensor.ReadIdentification(ctx); err == nil {
		e.id = &id
	} else {
		slog.Warn("could not read identification", "error", err)
	}
	e.rate = rate
	e.repeatability = repeatability
	err := e.sensor.StartPeriodicMeasurement(ctx, rate, repeatability)
	e.started = time.Now()
	e.mx.Unlock()
	if err != nil {
		return fmt.Errorf("exporter: %w", err)
	}
	slog.Info("periodic measurement started", "rate", rate, "repeatability", repeatability, "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.mx.Lock()
			defer e.mx.Unlock()
			if e.sensor.State() != environment.StatePeriodicMeasuring {
				return nil
			}
			if err := e.sensor.EndPeriodicMeasurement(context.WithoutCancel(ctx)); err != nil {
				return fmt.Errorf("exporter: %w", err)
			}
			slog.Info("periodic measurement stopped")
			return nil
		case <-ticker.C:
			e.mx.Lock()
			if time.Since(e.started) < interval {
				// restarted by whileIdle, no sample yet
				e.mx.Unlock()
				continue
			}
			t, err := e.sensor.PeriodicTemperature(ctx)
			e.record(t, err)
			e.mx.Unlock()
			if err != nil {
				slog.Warn("periodic read failed", "error", err, "kind", sensors.KindOf(err))
			}
		}
	}
}

// record updates metrics and the cached sample; e.mx must be held.
func (e *Exporter) record(t environment.Temperature, err error) {
	e.reads.WithLabelValues(resultLabel(err)).Inc()
	if err != nil {
		return
	}
	e.temperature.Set(t.Celsius())
	e.last = &Sample{Celsius: t.Celsius(), Time: time.Now()}
}

func resultLabel(err error) string {
	switch sensors.KindOf(err) {
	case sensors.KindNone:
		return "ok"
	case sensors.KindBus:
		return "bus_error"
	case sensors.KindChecksum:
		return "checksum_error"
	case sensors.KindProtocolState:
		return "state_error"
	default:
		return "error"
	}
}

// Temperature returns the last periodic sample, or takes a single shot when
// periodic measurement is not running.
func (e *Exporter) Temperature(ctx context.Context) (Sample, error) {
	e.mx.Lock()
	defer e.mx.Unlock()
	if e.sensor.State() == environment.StatePeriodicMeasuring {
		if e.last == nil {
			return Sample{}, ErrNoSample
		}
		return *e.last, nil
	}
	t, err := e.sensor.SingleShotTemperature(ctx, e.repeatability, e.stretching)
	e.record(t, err)
	if err != nil {
		return Sample{}, err
	}
	return *e.last, nil
}

func (e *Exporter) Identification(ctx context.Context) (environment.Identification, error) {
	e.mx.Lock()
	defer e.mx.Unlock()
	if e.id != nil {
		return *e.id, nil
	}
	var id environment.Identification
	err := e.whileIdle(ctx, func() error {
		var err error
		id, err = e.sensor.ReadIdentification(ctx)
		return err
	})
	if err != nil {
		return id, err
	}
	e.id = &id
	return id, nil
}

func (e *Exporter) Status(ctx context.Context) (environment.StatusRegister, error) {
	e.mx.Lock()
	defer e.mx.Unlock()
	var status environment.StatusRegister
	err := e.whileIdle(ctx, func() error {
		var err error
		status, err = e.sensor.ReadStatusRegister(ctx)
		return err
	})
	if err != nil {
		return status, err
	}
	e.heater.Set(boolGauge(status.HeaterOn()))
	return status, nil
}

func (e *Exporter) SetHeater(ctx context.Context, on bool) error {
	e.mx.Lock()
	defer e.mx.Unlock()
	var err error
	if on {
		err = e.sensor.HeaterOn(ctx)
	} else {
		err = e.sensor.HeaterOff(ctx)
	}
	if err != nil {
		return err
	}
	e.heater.Set(boolGauge(on))
	return nil
}

// whileIdle runs fn with periodic measurement paused, since the sensor only
// accepts fetch, break, reset and heater commands while measuring. e.mx must
// be held.
func (e *Exporter) whileIdle(ctx context.Context, fn func() error) error {
	if e.sensor.State() != environment.StatePeriodicMeasuring {
		return fn()
	}
	if err := e.sensor.EndPeriodicMeasurement(ctx); err != nil {
		return err
	}
	ferr := fn()
	if err := e.sensor.StartPeriodicMeasurement(ctx, e.rate, e.repeatability); err != nil {
		return errors.Join(ferr, err)
	}
	e.started = time.Now()
	return ferr
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

func (e *Exporter) handleTemperature(w http.ResponseWriter, r *http.Request) {
	sample, err := e.Temperature(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sample)
}

func (e *Exporter) handleIdentification(w http.ResponseWriter, r *http.Request) {
	id, err := e.Identification(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"identification": id.String()})
}

type statusResponse struct {
	Register1 string `json:"status_register_1"`
	Register2 string `json:"status_register_2"`
	HeaterOn  bool   `json:"heater_on"`
	Flags     string `json:"flags"`
}

func (e *Exporter) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := e.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Register1: fmt.Sprintf("%#02x", status.Byte0()),
		Register2: fmt.Sprintf("%#02x", status.Byte1()),
		HeaterOn:  status.HeaterOn(),
		Flags:     status.String(),
	})
}

func (e *Exporter) handleHeater(w http.ResponseWriter, r *http.Request) {
	var on bool
	switch state := mux.Vars(r)["state"]; state {
	case "on":
		on = true
	case "off":
	default:
		writeError(w, fmt.Errorf("heater state %q: %w", state, sensors.ErrInvalidArgument))
		return
	}
	if err := e.SetHeater(r.Context(), on); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"heater_on": on})
}

func logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/metrics" {
			slog.Debug("http request", "method", r.Method, "remote", r.RemoteAddr, "url", r.RequestURI)
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("response encoding failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	kind := sensors.KindOf(err)
	switch {
	case errors.Is(err, ErrNoSample):
		code = http.StatusServiceUnavailable
	case kind == sensors.KindInvalidArgument:
		code = http.StatusBadRequest
	case kind == sensors.KindProtocolState:
		code = http.StatusConflict
	case kind == sensors.KindBus, kind == sensors.KindChecksum:
		code = http.StatusBadGateway
	}
	writeJSON(w, code, map[string]string{"error": err.Error(), "kind": kind.String()})
}
