package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/FergusInLondon/sdrburst/events"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// GateControl is the part of the Controller the HTTP API drives.
type GateControl interface {
	SetEnable(enable bool)
	Enabled() bool
	Summary() events.Summary
	EstimateNoise(blocks int) error
	LastNoise() (events.NoiseReport, bool)
}

const shutdownTimeout = 5 * time.Second

type gateStatus struct {
	Enabled bool `json:"enabled"`
}

type gateRequest struct {
	Enabled *bool `json:"enabled"`
}

type noiseRequest struct {
	Blocks int `json:"blocks"`
}

// NewRouter exposes /metrics, /stats, /gate, /noise and, when hub is
// non-nil, the /events websocket feed.
func NewRouter(gatherer prometheus.Gatherer, hub http.Handler, gate GateControl, logger *slog.Logger) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	if hub != nil {
		r.Handle("/events", hub)
	}

	r.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, logger, http.StatusOK, gate.Summary())
	}).Methods(http.MethodGet)

	r.HandleFunc("/gate", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, logger, http.StatusOK, gateStatus{Enabled: gate.Enabled()})
	}).Methods(http.MethodGet)

	r.HandleFunc("/gate", func(w http.ResponseWriter, req *http.Request) {
		var body gateRequest
		dec := json.NewDecoder(req.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&body); err != nil || body.Enabled == nil {
			http.Error(w, "expected {\"enabled\": bool}", http.StatusBadRequest)
			return
		}
		gate.SetEnable(*body.Enabled)
		writeJSON(w, logger, http.StatusOK, gateStatus{Enabled: *body.Enabled})
	}).Methods(http.MethodPut, http.MethodPost)

	r.HandleFunc("/noise", func(w http.ResponseWriter, _ *http.Request) {
		report, ok := gate.LastNoise()
		if !ok {
			http.Error(w, "no noise estimate yet", http.StatusNotFound)
			return
		}
		writeJSON(w, logger, http.StatusOK, report)
	}).Methods(http.MethodGet)

	// an empty body measures the configured number of blocks
	r.HandleFunc("/noise", func(w http.ResponseWriter, req *http.Request) {
		var body noiseRequest
		dec := json.NewDecoder(req.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "expected {\"blocks\": int}", http.StatusBadRequest)
			return
		}

		switch err := gate.EstimateNoise(body.Blocks); {
		case errors.Is(err, ErrStopped):
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
		case err != nil:
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			writeJSON(w, logger, http.StatusAccepted, body)
		}
	}).Methods(http.MethodPost)

	return r
}

func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Serve runs srv on ln for as long as run takes, then shuts the server down
// whether or not run failed. It returns run's error.
func Serve(ln net.Listener, srv *http.Server, run func() error, logger *slog.Logger) error {
	go func() {
		logger.Info("http server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "error", err)
		}
	}()

	err := run()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := srv.Shutdown(ctx); serr != nil {
		logger.Warn("http server shutdown", "error", serr)
	}
	return err
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("writing response", "error", err)
	}
}
