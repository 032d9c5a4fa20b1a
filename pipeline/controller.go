package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/FergusInLondon/sdrburst/burst"
	"github.com/FergusInLondon/sdrburst/events"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	errSourceRequired = errors.New("a sample source is required")
	// ErrStopped is returned for requests made after the gate stage ended.
	ErrStopped = errors.New("pipeline stopped")
)

const (
	sourceQueue = 4
	outputQueue = 4
	noiseQueue  = 4
)

type Options struct {
	Source     Source
	SourceName string
	Gate       burst.Config
	// Noise sizes on-request noise floor measurements. Zero fields take
	// the burst package defaults.
	Noise        burst.NoiseConfig
	OutputBuffer int
	// EventBuffer bounds the queue between the gate and the publishers.
	// Events beyond it are dropped rather than stalling the gate.
	EventBuffer    int
	Writer         SampleWriter
	Sink           events.Sink
	Metrics        *events.Metrics
	Stats          *events.Stats
	ReportInterval time.Duration
	Logger         *slog.Logger
}

type Controller struct {
	ctx            context.Context
	cancel         context.CancelFunc
	source         Source
	gateStage      *gateState
	outputStage    *outputState
	publishStage   *publishState
	stats          *events.Stats
	eventBuffer    int
	reportInterval time.Duration
	logger         *slog.Logger
}

func NewController(ctx context.Context, opts Options) (*Controller, error) {
	if opts.Source == nil {
		return nil, errSourceRequired
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Sink == nil {
		opts.Sink = events.Fanout{}
	}
	if opts.Stats == nil {
		opts.Stats = events.NewStats(events.DefaultStatsWindow)
	}
	if opts.Metrics == nil {
		opts.Metrics = events.NewMetrics(prometheus.NewRegistry())
	}
	if opts.EventBuffer < 1 {
		opts.EventBuffer = 1
	}
	if opts.Noise.BlockSize == 0 {
		opts.Noise.BlockSize = burst.DefaultNoiseBlockSize
	}
	if opts.Noise.Blocks == 0 {
		opts.Noise.Blocks = burst.DefaultNoiseBlocks
	}

	gate, err := newGateStage(opts.Gate, opts.Noise, opts.OutputBuffer, opts.Metrics, opts.Logger.With("stage", "gate"))
	if err != nil {
		return nil, err
	}

	stageCtx, cancel := context.WithCancel(ctx)
	return &Controller{
		ctx: stageCtx, cancel: cancel,
		source:      opts.Source,
		gateStage:   gate,
		outputStage: newOutputStage(opts.Writer, opts.Logger.With("stage", "output")),
		publishStage: newPublishStage(opts.Sink, opts.Stats, opts.Metrics,
			opts.SourceName, opts.Gate.BurstLength, opts.Logger.With("stage", "publish")),
		stats:          opts.Stats,
		eventBuffer:    opts.EventBuffer,
		reportInterval: opts.ReportInterval,
		logger:         opts.Logger,
	}, nil
}

// _pipeline starts the stages and the source. completed is closed once
// every stage has drained; the source's result is sent on sourceErr.
func (c *Controller) _pipeline(completed chan struct{}, sourceErr chan<- error) error {
	var (
		err                   error
		wg                    sync.WaitGroup
		fromSource            = make(chan []complex64, sourceQueue)
		toOutput              = make(chan []complex64, outputQueue)
		toPublisher           = make(chan burst.PowerEvent, c.eventBuffer)
		toNoise               = make(chan burst.NoiseEstimate, noiseQueue)
		gate, output, publish func()
	)

	if gate, err = c.gateStage.routine(&wg, fromSource, toOutput, toPublisher, toNoise); err != nil {
		return err
	}

	if output, err = c.outputStage.routine(&wg, toOutput); err != nil {
		return err
	}

	if publish, err = c.publishStage.routine(&wg, toPublisher, toNoise); err != nil {
		return err
	}

	wg.Add(3)
	go publish()
	go output()
	go gate()

	go func() {
		err := c.source.Stream(c.ctx, fromSource)
		close(fromSource)
		sourceErr <- err
	}()

	go func() {
		wg.Wait()
		close(completed)
	}()
	return nil
}

// Run streams until the source is exhausted or Stop is called, then waits
// for captured samples and events to drain. It returns the source's error.
func (c *Controller) Run() error {
	var (
		pipelineFinished = make(chan struct{})
		sourceErr        = make(chan error, 1)
		report           <-chan time.Time
	)

	if err := c._pipeline(pipelineFinished, sourceErr); err != nil {
		return err
	}

	if c.reportInterval > 0 {
		ticker := time.NewTicker(c.reportInterval)
		defer ticker.Stop()
		report = ticker.C
	}

	c.logger.Info("pipeline running", "enabled", c.Enabled())

	for {
		select {
		case <-report:
			c.logSummary("burst summary")
		case <-pipelineFinished:
			c.logSummary("final burst summary")
			err := <-sourceErr
			c.cancel()
			return err
		}
	}
}

func (c *Controller) Stop() {
	c.cancel()
}

// SetEnable asks the gate to start or stop passing samples. The change is
// applied between chunks on the gate's own goroutine.
func (c *Controller) SetEnable(enable bool) {
	if !c.gateStage.requestEnable(enable) {
		c.logger.Warn("gate already stopped, ignoring enable request", "enabled", enable)
	}
}

// EstimateNoise asks the gate stage to measure the noise floor over the
// next blocks blocks of the stream, or the configured number when blocks is
// zero. The result is published to the sinks when it completes.
func (c *Controller) EstimateNoise(blocks int) error {
	if blocks < 0 {
		return fmt.Errorf("%w: noise blocks must not be negative, got %d", burst.ErrInvalidConfiguration, blocks)
	}
	if !c.gateStage.requestNoise(blocks) {
		return ErrStopped
	}
	return nil
}

// LastNoise returns the most recently published noise floor estimate.
func (c *Controller) LastNoise() (events.NoiseReport, bool) {
	return c.publishStage.lastNoiseReport()
}

func (c *Controller) Enabled() bool {
	return c.gateStage.enabled.Load()
}

func (c *Controller) Summary() events.Summary {
	return c.stats.Summary()
}

func (c *Controller) logSummary(msg string) {
	s := c.stats.Summary()
	c.logger.Info(msg,
		"bursts", s.Total, "window", s.Count,
		"mean_power", s.Mean, "mean_db", s.MeanDB,
		"stddev", s.StdDev, "min", s.Min, "max", s.Max)
}
