package pipeline

import (
	"log/slog"
	"sync"
)

type outputState struct {
	writer  SampleWriter
	written int
	logger  *slog.Logger
}

// newOutputStage writes captured samples to w. A nil writer discards them.
func newOutputStage(w SampleWriter, logger *slog.Logger) *outputState {
	return &outputState{writer: w, logger: logger}
}

func (o *outputState) routine(wg *sync.WaitGroup, fromGate <-chan []complex64) (func(), error) {
	return func() {
		defer func() {
			if o.writer != nil {
				if err := o.writer.Close(); err != nil {
					o.logger.Error("closing capture output", "error", err)
				}
			}
			o.logger.Debug("returning from output routine", "samples", o.written)
			wg.Done()
		}()

		// keep draining after a write error so the gate never stalls
		for buf := range fromGate {
			if o.writer == nil {
				continue
			}
			if err := o.writer.Write(buf); err != nil {
				o.logger.Error("output write error", "error", err)
				continue
			}
			o.written += len(buf)
		}
	}, nil
}
