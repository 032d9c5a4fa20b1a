package events

import (
	"context"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

const (
	DefaultMeasurement      = "burst_power"
	DefaultNoiseMeasurement = "noise_power"
)

type InfluxConfig struct {
	URL              string
	Token            string
	Org              string
	Bucket           string
	Measurement      string
	NoiseMeasurement string
}

type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// InfluxSink writes one point per event using the blocking write API.
type InfluxSink struct {
	client           influxdb2.Client
	writer           pointWriter
	measurement      string
	noiseMeasurement string
}

func NewInfluxSink(cfg InfluxConfig) *InfluxSink {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxSink{
		client:           client,
		writer:           client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		measurement:      measurement(cfg.Measurement, DefaultMeasurement),
		noiseMeasurement: measurement(cfg.NoiseMeasurement, DefaultNoiseMeasurement),
	}
}

func (s *InfluxSink) Publish(ctx context.Context, ev Event) error {
	p := influxdb2.NewPoint(
		s.measurement,
		map[string]string{"source": ev.Source},
		map[string]interface{}{
			"power":    ev.Power,
			"power_db": ev.PowerDB,
			"offset":   ev.Offset,
			"samples":  ev.Samples,
		},
		ev.Time,
	)
	return s.writer.WritePoint(ctx, p)
}

func (s *InfluxSink) PublishNoise(ctx context.Context, r NoiseReport) error {
	p := influxdb2.NewPoint(
		s.noiseMeasurement,
		map[string]string{"source": r.Source},
		map[string]interface{}{
			"power":      r.Power,
			"power_db":   r.PowerDB,
			"stddev":     r.StdDev,
			"dc_offset":  r.DCOffset,
			"blocks":     r.Blocks,
			"block_size": r.BlockSize,
			"offset":     r.Offset,
		},
		r.Time,
	)
	return s.writer.WritePoint(ctx, p)
}

func (s *InfluxSink) Close() error {
	if s.client != nil {
		s.client.Close()
	}
	return nil
}

func measurement(m, fallback string) string {
	if m == "" {
		return fallback
	}
	return m
}
