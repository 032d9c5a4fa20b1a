package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/FergusInLondon/sdrburst/burst"
	"github.com/FergusInLondon/sdrburst/events"
)

const publishTimeout = 10 * time.Second

// publishState turns gate power events and noise estimates into stamped
// messages and hands them to the sinks, off the sample path.
type publishState struct {
	sink      events.Sink
	stats     *events.Stats
	metrics   *events.Metrics
	source    string
	windowLen int
	logger    *slog.Logger
	now       func() time.Time

	mu        sync.Mutex
	lastNoise *events.NoiseReport
}

func newPublishStage(sink events.Sink, stats *events.Stats, metrics *events.Metrics, source string, windowLen int, logger *slog.Logger) *publishState {
	return &publishState{
		sink: sink, stats: stats, metrics: metrics,
		source: source, windowLen: windowLen,
		logger: logger, now: time.Now,
	}
}

func (p *publishState) routine(wg *sync.WaitGroup, fromGate <-chan burst.PowerEvent, fromNoise <-chan burst.NoiseEstimate) (func(), error) {
	return func() {
		defer func() {
			if err := p.sink.Close(); err != nil {
				p.logger.Error("closing event sinks", "error", err)
			}
			p.logger.Debug("returning from publish routine")
			wg.Done()
		}()

		for fromGate != nil || fromNoise != nil {
			select {
			case pev, ok := <-fromGate:
				if !ok {
					fromGate = nil
					continue
				}
				p.publishEvent(pev)
			case est, ok := <-fromNoise:
				if !ok {
					fromNoise = nil
					continue
				}
				p.publishNoise(est)
			}
		}
	}, nil
}

func (p *publishState) publishEvent(pev burst.PowerEvent) {
	ev := events.NewEvent(pev, p.source, p.windowLen, p.now())
	p.stats.Add(ev.Power)
	p.metrics.ObserveEvent(ev)

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := p.sink.Publish(ctx, ev); err != nil {
		p.metrics.SinkErrors.Inc()
		p.logger.Warn("publishing power event", "id", ev.ID, "error", err)
	}
}

func (p *publishState) publishNoise(est burst.NoiseEstimate) {
	r := events.NewNoiseReport(est, p.source, p.now())
	p.metrics.ObserveNoise(r)

	p.mu.Lock()
	p.lastNoise = &r
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := p.sink.PublishNoise(ctx, r); err != nil {
		p.metrics.SinkErrors.Inc()
		p.logger.Warn("publishing noise estimate", "id", r.ID, "error", err)
	}
}

// lastNoiseReport returns the most recent noise estimate, if any.
func (p *publishState) lastNoiseReport() (events.NoiseReport, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastNoise == nil {
		return events.NoiseReport{}, false
	}
	return *p.lastNoise, true
}
