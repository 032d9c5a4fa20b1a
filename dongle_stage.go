package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/FergusInLondon/sdrburst/config"
	"github.com/FergusInLondon/sdrburst/iq"
	rtl "github.com/jpoirier/gortlsdr"
)

var (
	errNoDevicesAvailable = errors.New("no rtlsdr devices connected")
)

const (
	autoGain = -100
	// bytes discarded after tuning while the tuner settles
	bufferDump = 4096
)

// dongleSource streams cu8 samples from an RTL-SDR dongle.
type dongleSource struct {
	devSerial string
	freq      uint32
	rate      uint32
	gain      int
	ppmError  int
	mute      int
	logger    *slog.Logger
}

func newDongleSource(cfg *config.Config, logger *slog.Logger) (*dongleSource, error) {
	freq, err := cfg.SourceFreq()
	if err != nil {
		return nil, err
	}
	rate, err := cfg.SourceRate()
	if err != nil {
		return nil, err
	}

	return &dongleSource{
		devSerial: cfg.Source.DongleSerial,
		freq:      freq, rate: rate,
		gain: cfg.Source.Gain, ppmError: cfg.Source.PPMError,
		logger: logger,
	}, nil
}

func (d *dongleSource) String() string {
	if d.devSerial != "" {
		return "rtlsdr:" + d.devSerial
	}
	return "rtlsdr"
}

// Stream opens and tunes the dongle, then forwards every buffer until ctx
// is cancelled or the device stops.
func (d *dongleSource) Stream(ctx context.Context, out chan<- []complex64) error {
	dev, err := openDongle(d.devSerial, d.logger)
	if err != nil {
		return err
	}

	if err := d.configure(dev); err != nil {
		dev.close(d.logger)
		return err
	}

	d.mute = bufferDump
	rtlsdrCallback := func(buf []byte) {
		if d.mute > 0 {
			if d.mute >= len(buf) {
				d.mute -= len(buf)
				return
			}
			buf = buf[d.mute:]
			d.mute = 0
		}

		samples := make([]complex64, len(buf)/2)
		iq.CU8.Decode(samples, buf)

		select {
		case out <- samples:
		case <-ctx.Done():
		}
	}

	stopped := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			if err := dev.CancelAsync(); err != nil {
				d.logger.Error("cancelling async read", "error", err)
			}
		case <-stopped:
		}
	}()

	err = dev.ReadAsync(rtlsdrCallback, nil, 0, 0)
	close(stopped)
	dev.close(d.logger)

	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("rtlsdr async read: %w", err)
	}
	d.logger.Debug("returning from dongle routine")
	return nil
}

func (d *dongleSource) configure(dev managedDongle) error {
	if err := dev.SetSampleRate(int(d.rate)); err != nil {
		return fmt.Errorf("setting sample rate %d: %w", d.rate, err)
	}
	if err := dev.SetCenterFreq(int(d.freq)); err != nil {
		return fmt.Errorf("setting frequency %d: %w", d.freq, err)
	}

	if d.gain == autoGain {
		if err := dev.SetTunerGainMode(false); err != nil {
			return fmt.Errorf("setting tuner auto-gain: %w", err)
		}
		d.logger.Info("tuner gain", "mode", "auto")
	} else {
		gain, err := nearestGain(dev, d.gain)
		if err != nil {
			return err
		}
		if err := dev.SetTunerGainMode(true); err != nil {
			return fmt.Errorf("setting tuner manual gain mode: %w", err)
		}
		if err := dev.SetTunerGain(gain); err != nil {
			return fmt.Errorf("setting tuner gain to %d: %w", gain, err)
		}
		d.logger.Info("tuner gain", "mode", "manual", "tenths_db", gain)
	}

	if d.ppmError != 0 {
		if err := dev.SetFreqCorrection(d.ppmError); err != nil {
			return fmt.Errorf("setting frequency correction to %d ppm: %w", d.ppmError, err)
		}
	}

	d.logger.Info("tuned", "freq_hz", d.freq, "rate", d.rate, "ppm", d.ppmError)
	return dev.ResetBuffer()
}

// nearestGain picks the supported tuner gain closest to target.
func nearestGain(dev managedDongle, target int) (int, error) {
	gains, err := dev.GetTunerGains()
	if err != nil {
		return 0, fmt.Errorf("listing tuner gains: %w", err)
	}
	if len(gains) == 0 {
		return target, nil
	}

	nearest := gains[0]
	for _, g := range gains[1:] {
		if abs(g-target) < abs(nearest-target) {
			nearest = g
		}
	}
	return nearest, nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

type managedDongle struct {
	*rtl.Context
}

func openDongle(dongleSerial string, logger *slog.Logger) (managedDongle, error) {
	count := rtl.GetDeviceCount()
	if count == 0 {
		return managedDongle{}, errNoDevicesAvailable
	}
	logger.Info("found rtlsdr devices", "count", count, "serial", dongleSerial)

	var (
		err    error = nil
		devIdx int   = 0
	)

	if dongleSerial != "" {
		if devIdx, err = rtl.GetIndexBySerial(dongleSerial); err != nil {
			return managedDongle{}, err
		}
	}

	dev, err := rtl.Open(devIdx)
	return managedDongle{dev}, err
}

func (md managedDongle) close(logger *slog.Logger) {
	if err := md.Close(); err != nil {
		logger.Error("closing device", "error", err)
	}
	logger.Info("closed connection with device")
}
