// Copyright (C) 2014 Ian Bishop
//
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License along
// with this program; if not, write to the Free Software Foundation, Inc.,
// 51 Franklin Street, Fifth Floor, Boston, MA 02110-1301 USA.

// Command sdrburst watches an IQ stream for bursts, passes a fixed window of
// samples after each trigger and reports the window's mean power.
//
// sdrburst requires rtlsdr library
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/FergusInLondon/sdrburst/config"
	"github.com/FergusInLondon/sdrburst/events"
	"github.com/FergusInLondon/sdrburst/iq"
	"github.com/FergusInLondon/sdrburst/pipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	flag "github.com/spf13/pflag"
)

func main() {
	os.Exit(run())
}

// run wires the pipeline up and blocks until it finishes. The HTTP server is
// shut down before run returns, on success or failure.
func run() int {
	var (
		cliCfgFile  = flag.StringP("config", "c", "", "configuration file to load parameters from")
		cliLogLevel = flag.StringP("log-level", "l", "", "log level override (DEBUG, INFO, WARN, ERROR)")
		cliInput    = flag.StringP("input", "i", "", "read samples from this capture file instead of the configured source")
		cliDisabled = flag.Bool("disabled", false, "start with the burst gate disabled")
		pipelineCtx = context.Background()
		cfg         *config.Config
		err         error
	)

	flag.Parse()
	if cfg, err = config.Load(config.Location(*cliCfgFile)); err != nil {
		fmt.Fprintf(os.Stderr, "unable to read configuration: %s\n", err)
		return 1
	}

	if *cliLogLevel != "" {
		cfg.Log.Level = *cliLogLevel
	}
	if *cliInput != "" {
		cfg.Source.Kind, cfg.Source.Path = "file", *cliInput
	}
	if *cliDisabled {
		cfg.Gate.Enable = false
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.LogLevel(cfg.Log.Level),
	}))
	slog.SetDefault(logger)

	gateCfg, err := cfg.GateConfig()
	handleErr("Invalid gate configuration %s\n", err)

	source, sourceName, err := newSource(cfg, logger)
	handleErr("Unable to initialise sample source %s\n", err)

	writer, err := newWriter(cfg)
	handleErr("Unable to initialise capture output %s\n", err)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := events.NewMetrics(reg)
	stats := events.NewStats(cfg.Stats.Window)

	var hub *events.Hub
	if cfg.ServerAddr() != "" {
		hub = events.NewHub(logger.With("component", "hub"))
	}

	sink, err := newSinks(cfg, hub, logger)
	handleErr("Unable to initialise event sinks %s\n", err)

	controller, err := pipeline.NewController(pipelineCtx, pipeline.Options{
		Source:         source,
		SourceName:     sourceName,
		Gate:           gateCfg,
		Noise:          cfg.NoiseConfig(),
		OutputBuffer:   cfg.Gate.OutputBuffer,
		EventBuffer:    cfg.Gate.EventBuffer,
		Writer:         writer,
		Sink:           sink,
		Metrics:        metrics,
		Stats:          stats,
		ReportInterval: cfg.Stats.ReportInterval,
		Logger:         logger,
	})
	handleErr("Unable to initialise burst controller %s\n", err)

	runController := controller.Run
	if addr := cfg.ServerAddr(); addr != "" {
		ln, err := net.Listen("tcp", addr)
		handleErr("Unable to listen for http %s\n", err)

		srv := pipeline.NewServer(addr, pipeline.NewRouter(reg, hub, controller, logger))
		runController = func() error {
			return pipeline.Serve(ln, srv, controller.Run, logger)
		}
	}

	handleSignal(controller.Stop, os.Interrupt, syscall.SIGTERM)
	handleSignal(func() { controller.SetEnable(true) }, syscall.SIGUSR1)
	handleSignal(func() { controller.SetEnable(false) }, syscall.SIGUSR2)
	handleSignal(func() {
		if err := controller.EstimateNoise(0); err != nil {
			logger.Warn("noise floor request ignored", "error", err)
		}
	}, syscall.SIGHUP)

	logger.Info("handing control over to burst controller until SIGINT", "source", sourceName, "gate", gateCfg.Enabled)
	if err := runController(); err != nil {
		logger.Error("burst controller finished with error", "error", err)
		return 1
	}
	return 0
}

func newSource(cfg *config.Config, logger *slog.Logger) (pipeline.Source, string, error) {
	if cfg.Source.Kind == "file" {
		format, err := iq.ParseFormat(cfg.Source.Format)
		if err != nil {
			return nil, "", err
		}
		return &iq.FileSource{
			Path: cfg.Source.Path, Format: format,
			ChunkSize: cfg.Source.ChunkSize, Loop: cfg.Source.Loop,
			Logger: logger.With("stage", "source"),
		}, "file:" + cfg.Source.Path, nil
	}

	dongle, err := newDongleSource(cfg, logger.With("stage", "dongle"))
	if err != nil {
		return nil, "", err
	}
	return dongle, dongle.String(), nil
}

func newWriter(cfg *config.Config) (pipeline.SampleWriter, error) {
	if cfg.Output.Path == "" {
		return nil, nil
	}
	format, err := iq.ParseFormat(cfg.Output.Format)
	if err != nil {
		return nil, err
	}
	w, err := iq.Create(cfg.Output.Path, format)
	if err != nil {
		return nil, err
	}
	return w, nil
}

func newSinks(cfg *config.Config, hub *events.Hub, logger *slog.Logger) (events.Fanout, error) {
	var sinks events.Fanout

	if cfg.Log.Events {
		sinks = append(sinks, events.LogSink{Logger: logger.With("stage", "events")})
	}

	if cfg.MQTT.Enabled {
		m, err := events.NewMQTTSink(events.MQTTConfig{
			Broker:      cfg.MQTT.Broker,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         byte(cfg.MQTT.QoS),
			Retain:      cfg.MQTT.Retain,
		}, logger.With("sink", "mqtt"))
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, m)
	}

	if cfg.Influx.Enabled {
		sinks = append(sinks, events.NewInfluxSink(events.InfluxConfig{
			URL:              cfg.Influx.URL,
			Token:            cfg.Influx.Token,
			Org:              cfg.Influx.Org,
			Bucket:           cfg.Influx.Bucket,
			Measurement:      cfg.Influx.Measurement,
			NoiseMeasurement: cfg.Influx.NoiseMeasurement,
		}))
	}

	if hub != nil {
		sinks = append(sinks, hub)
	}
	return sinks, nil
}

func handleErr(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, msg, err)
		os.Exit(-1)
	}
}

func handleSignal(handleFn func(), sigs ...os.Signal) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, sigs...)

	go func() {
		for sig := range signalChan {
			slog.Info("received signal, calling handler", "signal", sig)
			handleFn()
		}
	}()
}
