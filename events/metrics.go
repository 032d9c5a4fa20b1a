package events

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sdrburst"

// Metrics holds the pipeline's Prometheus collectors.
type Metrics struct {
	SamplesConsumed prometheus.Counter   // samples read by the gate
	SamplesCaptured prometheus.Counter   // samples passed through inside a window
	Bursts          prometheus.Counter   // completed windows
	EventsDropped   prometheus.Counter   // events lost to a lagging publisher
	SinkErrors      prometheus.Counter   // failed sink publishes
	GateEnabled     prometheus.Gauge     // 1 while the gate passes samples
	LastPower       prometheus.Gauge     // mean power of the most recent window
	PowerDB         prometheus.Histogram // distribution of window power in dB
	NoiseEstimates  prometheus.Counter   // completed noise floor measurements
	NoiseFloorDB    prometheus.Gauge     // most recent noise floor in dB
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SamplesConsumed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "samples_consumed_total",
			Help: "Samples consumed by the burst gate.",
		}),
		SamplesCaptured: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "samples_captured_total",
			Help: "Samples passed through inside a capture window.",
		}),
		Bursts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "bursts_total",
			Help: "Completed capture windows.",
		}),
		EventsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_dropped_total",
			Help: "Power events dropped because the publisher was behind.",
		}),
		SinkErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sink_errors_total",
			Help: "Event publishes that failed on at least one sink.",
		}),
		GateEnabled: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "gate_enabled",
			Help: "1 while the burst gate is enabled.",
		}),
		LastPower: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_burst_power",
			Help: "Mean per-sample power of the most recent window.",
		}),
		PowerDB: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "burst_power_db",
			Help:    "Mean window power in dB.",
			Buckets: prometheus.LinearBuckets(-60, 5, 15),
		}),
		NoiseEstimates: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "noise_estimates_total",
			Help: "Completed noise floor measurements.",
		}),
		NoiseFloorDB: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "noise_floor_db",
			Help: "Most recent noise floor estimate in dB.",
		}),
	}
}

func (m *Metrics) SetEnabled(enabled bool) {
	if enabled {
		m.GateEnabled.Set(1)
	} else {
		m.GateEnabled.Set(0)
	}
}

func (m *Metrics) ObserveEvent(ev Event) {
	m.Bursts.Inc()
	m.LastPower.Set(ev.Power)
	m.PowerDB.Observe(ev.PowerDB)
}

func (m *Metrics) ObserveNoise(r NoiseReport) {
	m.NoiseEstimates.Inc()
	m.NoiseFloorDB.Set(r.PowerDB)
}
