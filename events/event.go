// Package events republishes burst power and noise floor measurements out
// of band: to logs, MQTT, InfluxDB, websocket clients and Prometheus.
package events

import (
	"math"
	"time"

	"github.com/FergusInLondon/sdrburst/burst"
	"github.com/google/uuid"
)

// DBFloor is reported as the power level of an all-zero window.
const DBFloor = -200.0

// Kinds let websocket clients tell the two message types apart.
const (
	KindBurst = "burst"
	KindNoise = "noise"
)

// Event is a burst.PowerEvent stamped with identity and wall-clock time.
type Event struct {
	Kind    string    `json:"kind"`
	ID      uuid.UUID `json:"id"`
	Time    time.Time `json:"time"`
	Source  string    `json:"source"`
	Power   float64   `json:"power"`
	PowerDB float64   `json:"power_db"`
	Offset  uint64    `json:"offset"`
	Samples int       `json:"samples"`
}

func NewEvent(ev burst.PowerEvent, source string, samples int, now time.Time) Event {
	return Event{
		Kind:    KindBurst,
		ID:      uuid.New(),
		Time:    now,
		Source:  source,
		Power:   ev.Power,
		PowerDB: PowerDB(ev.Power),
		Offset:  ev.Offset,
		Samples: samples,
	}
}

// NoiseReport is a burst.NoiseEstimate stamped with identity and
// wall-clock time.
type NoiseReport struct {
	Kind      string    `json:"kind"`
	ID        uuid.UUID `json:"id"`
	Time      time.Time `json:"time"`
	Source    string    `json:"source"`
	Power     float64   `json:"power"`
	PowerDB   float64   `json:"power_db"`
	StdDev    float64   `json:"stddev"`
	DCOffset  float64   `json:"dc_offset"`
	Blocks    int       `json:"blocks"`
	BlockSize int       `json:"block_size"`
	Offset    uint64    `json:"offset"`
}

func NewNoiseReport(est burst.NoiseEstimate, source string, now time.Time) NoiseReport {
	return NoiseReport{
		Kind:      KindNoise,
		ID:        uuid.New(),
		Time:      now,
		Source:    source,
		Power:     est.Power,
		PowerDB:   PowerDB(est.Power),
		StdDev:    est.StdDev(),
		DCOffset:  est.DCOffset,
		Blocks:    est.Blocks,
		BlockSize: est.BlockSize,
		Offset:    est.Offset,
	}
}

// PowerDB converts a linear power to decibels, clamped at DBFloor.
func PowerDB(p float64) float64 {
	if p <= 0 || math.IsNaN(p) {
		return DBFloor
	}
	return math.Max(10*math.Log10(p), DBFloor)
}
