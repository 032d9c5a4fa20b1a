// Package pipeline wires a sample source, the burst gate, a capture writer
// and the event publishers into a running receive chain.
package pipeline

import "context"

// Source produces sample chunks. Stream sends until the source is
// exhausted or ctx is cancelled and must not close out; the controller
// closes it once Stream returns. Chunks are owned by the receiver.
type Source interface {
	Stream(ctx context.Context, out chan<- []complex64) error
}

// SampleWriter persists captured samples.
type SampleWriter interface {
	Write(samples []complex64) error
	Close() error
}
