package events

import (
	"context"
	"errors"
	"log/slog"
)

// Sink receives every published event and noise report. Both publish
// methods may block on network I/O; callers run them off the sample path.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
	PublishNoise(ctx context.Context, r NoiseReport) error
	Close() error
}

// Fanout publishes to each sink in turn. Every sink sees every event even
// if an earlier one fails.
type Fanout []Sink

func (f Fanout) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range f {
		if err := s.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) PublishNoise(ctx context.Context, r NoiseReport) error {
	var errs []error
	for _, s := range f {
		if err := s.PublishNoise(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) Close() error {
	var errs []error
	for _, s := range f {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes one structured log line per event.
type LogSink struct {
	Logger *slog.Logger
}

func (l LogSink) Publish(ctx context.Context, ev Event) error {
	l.logger().InfoContext(ctx, "burst",
		"id", ev.ID, "power", ev.Power, "power_db", ev.PowerDB,
		"offset", ev.Offset, "samples", ev.Samples)
	return nil
}

func (l LogSink) PublishNoise(ctx context.Context, r NoiseReport) error {
	l.logger().InfoContext(ctx, "noise floor",
		"id", r.ID, "power", r.Power, "power_db", r.PowerDB,
		"stddev", r.StdDev, "dc_offset", r.DCOffset,
		"blocks", r.Blocks, "block_size", r.BlockSize)
	return nil
}

func (LogSink) Close() error { return nil }

func (l LogSink) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}
