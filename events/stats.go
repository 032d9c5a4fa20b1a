package events

import (
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const DefaultStatsWindow = 100

// Summary describes the powers of the most recent windows.
type Summary struct {
	Total  uint64  `json:"total"`
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	MeanDB float64 `json:"mean_db"`
}

// Stats keeps a sliding window of recent window powers. Safe for
// concurrent use.
type Stats struct {
	mu     sync.Mutex
	values []float64
	next   int
	full   bool
	total  uint64
}

func NewStats(size int) *Stats {
	if size <= 0 {
		size = DefaultStatsWindow
	}
	return &Stats{values: make([]float64, size)}
}

func (s *Stats) Add(power float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[s.next] = power
	s.next++
	if s.next == len(s.values) {
		s.next = 0
		s.full = true
	}
	s.total++
}

func (s *Stats) Summary() Summary {
	s.mu.Lock()
	n := s.next
	if s.full {
		n = len(s.values)
	}
	vals := make([]float64, n)
	copy(vals, s.values[:n])
	total := s.total
	s.mu.Unlock()

	sum := Summary{Total: total, Count: n, MeanDB: DBFloor}
	if n == 0 {
		return sum
	}

	sum.Mean = stat.Mean(vals, nil)
	if n > 1 {
		sum.StdDev = stat.StdDev(vals, nil)
	}
	sum.Min = floats.Min(vals)
	sum.Max = floats.Max(vals)
	sum.MeanDB = PowerDB(sum.Mean)
	return sum
}
