// Package burst implements a streaming burst gate for complex baseband
// samples.
//
// A Gate watches a continuous IQ stream for a sample that satisfies its
// trigger predicate, then passes through the next BurstLength samples and
// reports their mean power as a PowerEvent. After a window completes the
// gate can hold off for a configurable number of samples so trailing energy
// of the same burst does not retrigger it.
//
// A Gate is not safe for concurrent use. Process, Work and SetEnable must be
// called from a single goroutine, or serialized by the caller.
package burst

import (
	"fmt"
	"math"
)

// Predicate selects the per-sample test that starts a capture.
type Predicate int

const (
	// BothAbove fires when both the real and imaginary components are
	// strictly greater than the threshold.
	BothAbove Predicate = iota

	// EitherMagnitudeAbove fires when the magnitude of either component is
	// strictly greater than the threshold. Kept for compatibility with
	// captures tuned against the earlier gate; BothAbove is the default.
	EitherMagnitudeAbove
)

func (p Predicate) String() string {
	switch p {
	case BothAbove:
		return "both"
	case EitherMagnitudeAbove:
		return "either"
	default:
		return fmt.Sprintf("predicate(%d)", int(p))
	}
}

// ParsePredicate maps a configuration string onto a Predicate. The empty
// string selects BothAbove.
func ParsePredicate(s string) (Predicate, error) {
	switch s {
	case "", "both":
		return BothAbove, nil
	case "either":
		return EitherMagnitudeAbove, nil
	}
	return 0, fmt.Errorf("%w: unknown predicate %q", ErrInvalidConfiguration, s)
}

// Config holds the construction parameters of a Gate. Only Enabled may be
// changed afterwards (see SetEnable); the remaining fields are fixed for the
// lifetime of the gate.
type Config struct {
	Enabled     bool
	Threshold   float32
	BurstLength int
	// Backoff is the number of samples dropped after each completed window
	// before the trigger is armed again. Zero disables backoff.
	Backoff   int
	Predicate Predicate
}

// Validate reports whether a Gate can be built from c.
func (c Config) Validate() error {
	if c.BurstLength < 1 {
		return fmt.Errorf("%w: burst length must be at least 1, got %d", ErrInvalidConfiguration, c.BurstLength)
	}
	if t := float64(c.Threshold); math.IsNaN(t) || math.IsInf(t, 0) {
		return fmt.Errorf("%w: threshold must be finite", ErrInvalidConfiguration)
	}
	if c.Backoff < 0 {
		return fmt.Errorf("%w: backoff must not be negative, got %d", ErrInvalidConfiguration, c.Backoff)
	}
	if c.Predicate != BothAbove && c.Predicate != EitherMagnitudeAbove {
		return fmt.Errorf("%w: unknown predicate %d", ErrInvalidConfiguration, int(c.Predicate))
	}
	return nil
}

// State is a snapshot of the gate's trigger/capture/backoff state.
type State struct {
	Triggered        bool
	Remaining        int
	AccumulatedPower float64
	SamplesInWindow  int
	BackoffActive    bool
	BackoffCounter   int
}

// PowerEvent reports the mean per-sample power of one completed window.
type PowerEvent struct {
	Power float64
	// Offset is the stream position (counted from zero over every sample
	// the gate has consumed) of the last sample in the window.
	Offset uint64
}

// Gate is the burst detector. The zero value is not usable; build one with
// New.
type Gate struct {
	cfg      Config
	state    State
	consumed uint64
}

// New validates cfg and returns a gate in the idle state.
func New(cfg Config) (*Gate, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Gate{cfg: cfg}, nil
}

// SetEnable turns pass-through on or off. It never touches the trigger
// state: a window interrupted by disabling resumes where it left off once
// the gate is enabled again.
func (g *Gate) SetEnable(enable bool) {
	g.cfg.Enabled = enable
}

// Enabled reports whether the gate is currently passing samples.
func (g *Gate) Enabled() bool {
	return g.cfg.Enabled
}

// Config returns the gate's current configuration.
func (g *Gate) Config() Config {
	return g.cfg
}

// State returns a copy of the trigger state.
func (g *Gate) State() State {
	return g.state
}

// Consumed returns the total number of samples the gate has consumed.
func (g *Gate) Consumed() uint64 {
	return g.consumed
}

// Process consumes every sample of in and returns the captured samples and
// the power events of any windows completed along the way. Splitting a
// stream into chunks of any size gives the same cumulative result as a
// single call.
func (g *Gate) Process(in []complex64) ([]complex64, []PowerEvent) {
	var (
		out    []complex64
		events []PowerEvent
	)

	if !g.cfg.Enabled {
		g.consumed += uint64(len(in))
		return out, events
	}

	for _, s := range in {
		emit, ev, fired := g.step(s)
		if emit {
			out = append(out, s)
		}
		if fired {
			events = append(events, ev)
		}
	}
	return out, events
}

// Work is the bounded form of Process. It copies captured samples into out
// and stops as soon as in is exhausted or out is full, returning how many
// input samples were consumed and how many output samples were produced.
// The caller re-offers in[consumed:] on the next call.
//
// A disabled gate consumes all of in regardless of the room left in out.
func (g *Gate) Work(in, out []complex64) (consumed, produced int, events []PowerEvent) {
	if !g.cfg.Enabled {
		g.consumed += uint64(len(in))
		return len(in), 0, nil
	}

	for consumed < len(in) && produced < len(out) {
		s := in[consumed]
		emit, ev, fired := g.step(s)
		if emit {
			out[produced] = s
			produced++
		}
		if fired {
			events = append(events, ev)
		}
		consumed++
	}
	return consumed, produced, events
}

// step advances the state machine by one sample. It reports whether s
// belongs to the output and whether a window was completed by it.
func (g *Gate) step(s complex64) (emit bool, ev PowerEvent, fired bool) {
	st := &g.state
	offset := g.consumed
	g.consumed++

	if st.BackoffActive {
		st.BackoffCounter--
		if st.BackoffCounter <= 0 {
			st.BackoffCounter = 0
			st.BackoffActive = false
		}
		return false, ev, false
	}

	if !st.Triggered {
		if g.triggers(s) {
			// the triggering sample itself is not part of the window
			st.Triggered = true
			st.Remaining = g.cfg.BurstLength
			st.AccumulatedPower = 0
			st.SamplesInWindow = 0
		}
		return false, ev, false
	}

	re, im := float64(real(s)), float64(imag(s))
	st.AccumulatedPower += re*re + im*im
	st.SamplesInWindow++
	st.Remaining--

	if st.Remaining > 0 {
		return true, ev, false
	}

	ev = PowerEvent{Power: meanPower(st.AccumulatedPower, st.SamplesInWindow), Offset: offset}
	st.Triggered = false
	if g.cfg.Backoff > 0 {
		st.BackoffActive = true
		st.BackoffCounter = g.cfg.Backoff
	}
	return true, ev, true
}

func (g *Gate) triggers(s complex64) bool {
	t := g.cfg.Threshold
	re, im := real(s), imag(s)

	switch g.cfg.Predicate {
	case EitherMagnitudeAbove:
		return abs32(re) > t || abs32(im) > t
	default:
		return re > t && im > t
	}
}

func meanPower(sum float64, n int) float64 {
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func abs32(v float32) float32 {
	return float32(math.Abs(float64(v)))
}
