package pipeline

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/FergusInLondon/sdrburst/burst"
	"github.com/FergusInLondon/sdrburst/events"
)

// gateState owns the burst gate and the noise estimator. Everything that
// touches them runs on the stage goroutine; enable changes arrive over
// enableChan and noise requests over noiseChan.
type gateState struct {
	gate       *burst.Gate
	noise      *burst.NoiseEstimator
	buf        []complex64
	enableChan chan bool
	noiseChan  chan int
	enabled    atomic.Bool
	done       chan struct{}
	metrics    *events.Metrics
	logger     *slog.Logger
}

func newGateStage(cfg burst.Config, noiseCfg burst.NoiseConfig, outputBuffer int, metrics *events.Metrics, logger *slog.Logger) (*gateState, error) {
	g, err := burst.New(cfg)
	if err != nil {
		return nil, err
	}
	noise, err := burst.NewNoiseEstimator(noiseCfg)
	if err != nil {
		return nil, err
	}
	if outputBuffer < 1 {
		outputBuffer = 1
	}

	st := &gateState{
		gate: g, noise: noise, buf: make([]complex64, outputBuffer),
		enableChan: make(chan bool), noiseChan: make(chan int),
		done:    make(chan struct{}),
		metrics: metrics, logger: logger,
	}
	st.enabled.Store(cfg.Enabled)
	metrics.SetEnabled(cfg.Enabled)
	return st, nil
}

func (g *gateState) routine(
	wg *sync.WaitGroup,
	fromSource <-chan []complex64,
	toOutput chan<- []complex64,
	toPublisher chan<- burst.PowerEvent,
	toNoise chan<- burst.NoiseEstimate,
) (func(), error) {
	return func() {
		defer func() {
			close(toOutput)
			close(toPublisher)
			close(toNoise)
			close(g.done)
			g.logger.Debug("returning from gate routine", "consumed", g.gate.Consumed())
			wg.Done()
		}()

		for {
			select {
			case enable := <-g.enableChan:
				g.setEnable(enable)
			case blocks := <-g.noiseChan:
				blocks = g.noise.Request(blocks)
				g.logger.Info("noise floor estimate requested", "blocks", blocks)
			case chunk, ok := <-fromSource:
				if !ok {
					return
				}
				g.estimateNoise(chunk, toNoise)
				g.process(chunk, toOutput, toPublisher)
			}
		}
	}, nil
}

func (g *gateState) process(chunk []complex64, toOutput chan<- []complex64, toPublisher chan<- burst.PowerEvent) {
	for len(chunk) > 0 {
		n, m, evs := g.gate.Work(chunk, g.buf)
		chunk = chunk[n:]
		g.metrics.SamplesConsumed.Add(float64(n))

		if m > 0 {
			captured := make([]complex64, m)
			copy(captured, g.buf[:m])
			g.metrics.SamplesCaptured.Add(float64(m))
			toOutput <- captured
		}

		for _, ev := range evs {
			select {
			case toPublisher <- ev:
			default:
				g.metrics.EventsDropped.Inc()
				g.logger.Warn("publisher behind, dropping power event", "offset", ev.Offset, "power", ev.Power)
			}
		}
	}
}

// estimateNoise feeds every chunk to the estimator, whether or not the gate
// is enabled.
func (g *gateState) estimateNoise(chunk []complex64, toNoise chan<- burst.NoiseEstimate) {
	est, ok := g.noise.Feed(chunk)
	if !ok {
		return
	}

	g.logger.Info("estimated noise floor",
		"power", est.Power, "power_db", events.PowerDB(est.Power),
		"stddev", est.StdDev(), "dc_offset", est.DCOffset, "blocks", est.Blocks)

	select {
	case toNoise <- est:
	default:
		g.logger.Warn("publisher behind, dropping noise estimate", "offset", est.Offset)
	}
}

func (g *gateState) setEnable(enable bool) {
	if g.gate.Enabled() != enable {
		st := g.gate.State()
		g.logger.Info("gate enable changed", "enabled", enable, "triggered", st.Triggered, "remaining", st.Remaining)
	}
	g.gate.SetEnable(enable)
	g.enabled.Store(enable)
	g.metrics.SetEnabled(enable)
}

// requestEnable hands an enable change to the stage goroutine. It returns
// false if the stage has already finished.
func (g *gateState) requestEnable(enable bool) bool {
	select {
	case g.enableChan <- enable:
		return true
	case <-g.done:
		return false
	}
}

// requestNoise hands a noise floor request to the stage goroutine. It
// returns false if the stage has already finished.
func (g *gateState) requestNoise(blocks int) bool {
	select {
	case g.noiseChan <- blocks:
		return true
	case <-g.done:
		return false
	}
}
