package burst

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGate(t *testing.T, cfg Config) *Gate {
	t.Helper()
	g, err := New(cfg)
	require.NoError(t, err)
	return g
}

// noisyStream returns n samples of uniform noise in [-1, 1) with a fixed seed.
func noisyStream(n int, seed int64) []complex64 {
	r := rand.New(rand.NewSource(seed))
	s := make([]complex64, n)
	for i := range s {
		s[i] = complex(r.Float32()*2-1, r.Float32()*2-1)
	}
	return s
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero burst length", Config{Enabled: true, Threshold: 1.0, BurstLength: 0}},
		{"negative burst length", Config{Enabled: true, Threshold: 1.0, BurstLength: -3}},
		{"negative backoff", Config{Enabled: true, Threshold: 1.0, BurstLength: 4, Backoff: -1}},
		{"unknown predicate", Config{Enabled: true, Threshold: 1.0, BurstLength: 4, Predicate: Predicate(7)}},
		{"NaN threshold", Config{Enabled: true, Threshold: float32(math.NaN()), BurstLength: 4}},
		{"+Inf threshold", Config{Enabled: true, Threshold: float32(math.Inf(1)), BurstLength: 4}},
		{"-Inf threshold", Config{Enabled: true, Threshold: float32(math.Inf(-1)), BurstLength: 4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := New(tt.cfg)
			assert.Nil(t, g)
			assert.ErrorIs(t, err, ErrInvalidConfiguration)
		})
	}
}

func TestNew_StartsIdle(t *testing.T) {
	g := newTestGate(t, Config{Enabled: true, Threshold: 0.5, BurstLength: 8, Backoff: 16})

	assert.Equal(t, State{}, g.State())
	assert.True(t, g.Enabled())
	assert.Equal(t, uint64(0), g.Consumed())
}

func TestProcess_WorkedExample(t *testing.T) {
	g := newTestGate(t, Config{Enabled: true, Threshold: 0.5, BurstLength: 4})

	in := []complex64{
		complex(0, 0), complex(1, 1),
		complex(0.1, 0.1), complex(0.2, 0.2), complex(0.3, 0.3), complex(0.4, 0.4),
		complex(2, 2),
	}
	out, events := g.Process(in)

	assert.Equal(t, []complex64{
		complex(0.1, 0.1), complex(0.2, 0.2), complex(0.3, 0.3), complex(0.4, 0.4),
	}, out)
	require.Len(t, events, 1)
	assert.InDelta(t, 0.15, events[0].Power, 1e-6)
	assert.Equal(t, uint64(5), events[0].Offset)

	// the trailing (2,2) armed a new window
	st := g.State()
	assert.True(t, st.Triggered)
	assert.Equal(t, 4, st.Remaining)
	assert.Equal(t, 0, st.SamplesInWindow)
	assert.Equal(t, uint64(len(in)), g.Consumed())
}

func TestProcess_SingleBurstMeanPower(t *testing.T) {
	const burstLen = 32
	g := newTestGate(t, Config{Enabled: true, Threshold: 0.9, BurstLength: burstLen})

	window := make([]complex64, burstLen)
	var want float64
	for i := range window {
		v := float32(i%9) / 10
		window[i] = complex(v, -v/2)
		re, im := float64(real(window[i])), float64(imag(window[i]))
		want += re*re + im*im
	}
	want /= burstLen

	in := append([]complex64{complex(0.95, 0.95)}, window...)
	out, events := g.Process(in)

	assert.Equal(t, window, out)
	require.Len(t, events, 1)
	assert.InDelta(t, want, events[0].Power, 1e-12)
	assert.False(t, g.State().Triggered)
}

func TestProcess_TriggerPredicates(t *testing.T) {
	tests := []struct {
		name      string
		predicate Predicate
		sample    complex64
		fires     bool
	}{
		{"both above", BothAbove, complex(0.6, 0.6), true},
		{"only real above", BothAbove, complex(0.6, 0.1), false},
		{"only imag above", BothAbove, complex(0.1, 0.6), false},
		{"equal to threshold", BothAbove, complex(0.5, 0.5), false},
		{"negative both", BothAbove, complex(-0.9, -0.9), false},
		{"either: real magnitude", EitherMagnitudeAbove, complex(-0.6, 0), true},
		{"either: imag magnitude", EitherMagnitudeAbove, complex(0, 0.6), true},
		{"either: below", EitherMagnitudeAbove, complex(0.4, -0.4), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGate(t, Config{Enabled: true, Threshold: 0.5, BurstLength: 2, Predicate: tt.predicate})

			g.Process([]complex64{tt.sample})
			assert.Equal(t, tt.fires, g.State().Triggered)
		})
	}
}

func TestProcess_ChunkInvariance(t *testing.T) {
	cfg := Config{Enabled: true, Threshold: 0.7, BurstLength: 16, Backoff: 5}
	in := noisyStream(20000, 1)

	whole := newTestGate(t, cfg)
	wantOut, wantEvents := whole.Process(in)
	require.NotEmpty(t, wantEvents)

	for _, size := range []int{1, 2, 3, 7, 16, 17, 64, 1000, 19999} {
		g := newTestGate(t, cfg)

		var (
			gotOut    []complex64
			gotEvents []PowerEvent
		)
		for start := 0; start < len(in); start += size {
			end := start + size
			if end > len(in) {
				end = len(in)
			}
			out, events := g.Process(in[start:end])
			gotOut = append(gotOut, out...)
			gotEvents = append(gotEvents, events...)
		}

		assert.Equal(t, wantOut, gotOut, "chunk size %d", size)
		assert.Equal(t, wantEvents, gotEvents, "chunk size %d", size)
		assert.Equal(t, whole.State(), g.State(), "chunk size %d", size)
	}
}

func TestProcess_RandomPartitions(t *testing.T) {
	cfg := Config{Enabled: true, Threshold: 0.6, BurstLength: 9}
	in := noisyStream(5000, 2)

	whole := newTestGate(t, cfg)
	wantOut, wantEvents := whole.Process(in)

	r := rand.New(rand.NewSource(3))
	for round := 0; round < 20; round++ {
		g := newTestGate(t, cfg)

		var (
			gotOut    []complex64
			gotEvents []PowerEvent
		)
		rest := in
		for len(rest) > 0 {
			n := r.Intn(50)
			if n > len(rest) {
				n = len(rest)
			}
			out, events := g.Process(rest[:n])
			gotOut = append(gotOut, out...)
			gotEvents = append(gotEvents, events...)
			rest = rest[n:]
		}

		require.Equal(t, wantOut, gotOut, "round %d", round)
		require.Equal(t, wantEvents, gotEvents, "round %d", round)
	}
}

func TestProcess_DisabledIsTransparent(t *testing.T) {
	g := newTestGate(t, Config{Enabled: false, Threshold: 0.1, BurstLength: 4})
	in := noisyStream(1000, 4)

	out, events := g.Process(in)

	assert.Empty(t, out)
	assert.Empty(t, events)
	assert.Equal(t, State{}, g.State())
	assert.Equal(t, uint64(len(in)), g.Consumed())
}

func TestProcess_Backoff(t *testing.T) {
	g := newTestGate(t, Config{Enabled: true, Threshold: 0.5, BurstLength: 2, Backoff: 3})

	trig := complex64(complex(1, 1))
	a, b := complex64(complex(0.1, 0)), complex64(complex(0, 0.2))
	c, d := complex64(complex(0.3, 0)), complex64(complex(0, 0.4))

	out, events := g.Process([]complex64{trig, a, b})
	assert.Equal(t, []complex64{a, b}, out)
	require.Len(t, events, 1)

	st := g.State()
	assert.True(t, st.BackoffActive)
	assert.Equal(t, 3, st.BackoffCounter)

	// three would-be triggers fall inside the backoff period
	out, events = g.Process([]complex64{trig, trig, trig})
	assert.Empty(t, out)
	assert.Empty(t, events)
	assert.False(t, g.State().BackoffActive)
	assert.False(t, g.State().Triggered)

	out, events = g.Process([]complex64{trig, c, d})
	assert.Equal(t, []complex64{c, d}, out)
	require.Len(t, events, 1)
	assert.InDelta(t, (0.09+0.16)/2, events[0].Power, 1e-6)
}

func TestProcess_NoTriggerDuringBackoff(t *testing.T) {
	const backoff = 100
	g := newTestGate(t, Config{Enabled: true, Threshold: 0.5, BurstLength: 1, Backoff: backoff})

	_, events := g.Process([]complex64{complex(1, 1), complex(0, 0)})
	require.Len(t, events, 1)

	hot := make([]complex64, backoff)
	for i := range hot {
		hot[i] = complex(5, 5)
	}
	for i := range hot {
		out, events := g.Process(hot[i : i+1])
		require.Empty(t, out)
		require.Empty(t, events)
		require.False(t, g.State().Triggered, "triggered %d samples into backoff", i)
	}

	g.Process([]complex64{complex(5, 5)})
	assert.True(t, g.State().Triggered)
}

func TestSetEnable_IdempotentWhenEnabled(t *testing.T) {
	g := newTestGate(t, Config{Enabled: true, Threshold: 0.5, BurstLength: 4, Backoff: 2})
	g.Process([]complex64{complex(1, 1), complex(0.1, 0.1)})
	before := g.State()

	g.SetEnable(true)

	assert.Equal(t, before, g.State())
	assert.True(t, g.Enabled())
}

func TestSetEnable_DisableMidCaptureResumes(t *testing.T) {
	cfg := Config{Enabled: true, Threshold: 0.5, BurstLength: 3}
	g := newTestGate(t, cfg)

	out, _ := g.Process([]complex64{complex(1, 1), complex(0.1, 0.1)})
	assert.Len(t, out, 1)

	g.SetEnable(false)
	out, events := g.Process(noisyStream(50, 5))
	assert.Empty(t, out)
	assert.Empty(t, events)

	st := g.State()
	assert.True(t, st.Triggered)
	assert.Equal(t, 2, st.Remaining)

	g.SetEnable(true)
	out, events = g.Process([]complex64{complex(0.2, 0.2), complex(0.3, 0.3)})
	assert.Equal(t, []complex64{complex(0.2, 0.2), complex(0.3, 0.3)}, out)
	require.Len(t, events, 1)
	assert.InDelta(t, (0.02+0.08+0.18)/3, events[0].Power, 1e-6)
}

func TestWork_StopsWhenOutputFull(t *testing.T) {
	g := newTestGate(t, Config{Enabled: true, Threshold: 0.5, BurstLength: 4})
	in := []complex64{complex(1, 1), complex(0.1, 0.1), complex(0.2, 0.2)}
	out := make([]complex64, 1)

	consumed, produced, events := g.Work(in, out)

	assert.Equal(t, 2, consumed)
	assert.Equal(t, 1, produced)
	assert.Empty(t, events)
	assert.Equal(t, complex64(complex(0.1, 0.1)), out[0])
}

func TestWork_DisabledConsumesEverything(t *testing.T) {
	g := newTestGate(t, Config{Enabled: false, Threshold: 0.5, BurstLength: 4})

	consumed, produced, events := g.Work(noisyStream(64, 6), nil)

	assert.Equal(t, 64, consumed)
	assert.Zero(t, produced)
	assert.Empty(t, events)
}

func TestWork_MatchesProcess(t *testing.T) {
	cfg := Config{Enabled: true, Threshold: 0.7, BurstLength: 16, Backoff: 5}
	in := noisyStream(10000, 7)

	wantOut, wantEvents := newTestGate(t, cfg).Process(in)

	for _, room := range []int{1, 5, 16, 300} {
		g := newTestGate(t, cfg)
		buf := make([]complex64, room)

		var (
			gotOut    []complex64
			gotEvents []PowerEvent
		)
		rest := in
		for len(rest) > 0 {
			n, m, events := g.Work(rest, buf)
			gotOut = append(gotOut, buf[:m]...)
			gotEvents = append(gotEvents, events...)
			rest = rest[n:]
		}

		assert.Equal(t, wantOut, gotOut, "output room %d", room)
		assert.Equal(t, wantEvents, gotEvents, "output room %d", room)
	}
}

func TestParsePredicate(t *testing.T) {
	p, err := ParsePredicate("")
	require.NoError(t, err)
	assert.Equal(t, BothAbove, p)

	p, err = ParsePredicate("either")
	require.NoError(t, err)
	assert.Equal(t, EitherMagnitudeAbove, p)

	_, err = ParsePredicate("any")
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}
