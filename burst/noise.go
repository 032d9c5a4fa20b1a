package burst

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

const (
	DefaultNoiseBlockSize = 4096
	DefaultNoiseBlocks    = 10
)

// NoiseConfig sizes an on-request noise floor measurement: Blocks blocks of
// BlockSize samples each.
type NoiseConfig struct {
	BlockSize int
	Blocks    int
}

func (c NoiseConfig) Validate() error {
	if c.BlockSize < 2 {
		return fmt.Errorf("%w: noise block size must be at least 2, got %d", ErrInvalidConfiguration, c.BlockSize)
	}
	if c.Blocks < 1 {
		return fmt.Errorf("%w: noise blocks must be at least 1, got %d", ErrInvalidConfiguration, c.Blocks)
	}
	return nil
}

// NoiseEstimate is the noise floor averaged over the blocks of one request.
type NoiseEstimate struct {
	// Power is the mean of the per-block variances, E|y-mean(y)|².
	Power float64
	// DCOffset is the mean of the per-block |mean(y)|.
	DCOffset  float64
	Blocks    int
	BlockSize int
	// Offset is the stream position of the last sample measured.
	Offset uint64
}

// StdDev is the noise amplitude, sqrt(Power).
func (e NoiseEstimate) StdDev() float64 {
	return math.Sqrt(e.Power)
}

// NoiseEstimator measures the noise floor of a stream when asked to. It is
// idle until Request, then measures whole blocks of the samples it is fed
// until the requested number of blocks is done.
//
// Like Gate, a NoiseEstimator is not safe for concurrent use.
type NoiseEstimator struct {
	cfg      NoiseConfig
	re, im   []float64
	target   int
	done     int
	sumPower float64
	sumDC    float64
	seen     uint64
}

func NewNoiseEstimator(cfg NoiseConfig) (*NoiseEstimator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &NoiseEstimator{
		cfg: cfg,
		re:  make([]float64, 0, cfg.BlockSize),
		im:  make([]float64, 0, cfg.BlockSize),
	}, nil
}

// Request starts a measurement over blocks blocks, or the configured number
// when blocks < 1. A measurement already in progress starts over.
func (n *NoiseEstimator) Request(blocks int) int {
	if blocks < 1 {
		blocks = n.cfg.Blocks
	}
	n.target, n.done = blocks, 0
	n.sumPower, n.sumDC = 0, 0
	n.re, n.im = n.re[:0], n.im[:0]
	return blocks
}

// Pending reports whether a measurement is in progress.
func (n *NoiseEstimator) Pending() bool {
	return n.target > 0
}

// Feed passes the next samples of the stream through the estimator. It
// returns the estimate once the last requested block completes; samples
// after that block are only counted.
func (n *NoiseEstimator) Feed(in []complex64) (NoiseEstimate, bool) {
	if n.target == 0 {
		n.seen += uint64(len(in))
		return NoiseEstimate{}, false
	}

	for i, s := range in {
		n.re = append(n.re, float64(real(s)))
		n.im = append(n.im, float64(imag(s)))
		n.seen++
		if len(n.re) < n.cfg.BlockSize {
			continue
		}

		n.closeBlock()
		if n.done == n.target {
			est := NoiseEstimate{
				Power:     n.sumPower / float64(n.done),
				DCOffset:  n.sumDC / float64(n.done),
				Blocks:    n.done,
				BlockSize: n.cfg.BlockSize,
				Offset:    n.seen - 1,
			}
			n.target, n.done = 0, 0
			n.seen += uint64(len(in) - i - 1)
			return est, true
		}
	}
	return NoiseEstimate{}, false
}

func (n *NoiseEstimator) closeBlock() {
	meanRe, varRe := stat.PopMeanVariance(n.re, nil)
	meanIm, varIm := stat.PopMeanVariance(n.im, nil)

	n.sumPower += varRe + varIm
	n.sumDC += math.Hypot(meanRe, meanIm)
	n.done++
	n.re, n.im = n.re[:0], n.im[:0]
}
