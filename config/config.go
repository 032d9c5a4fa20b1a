package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/FergusInLondon/sdrburst/burst"
	"github.com/FergusInLondon/sdrburst/iq"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

const (
	CONFIG_FILE_ENV_VAR          = "SDRBURST_CONFIG_FILE"
	CONFIG_FILE_DEFAULT_LOCATION = "/etc/sdrburst/conf.ini"
)

var (
	ErrNoConfigFound = errors.New("unable to find valid configuration file")
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrInvalidFreq   = errors.New("invalid frequency")
)

type Source struct {
	Kind         string `ini:"kind" yaml:"kind"` // rtlsdr or file
	Path         string `ini:"path" yaml:"path"`
	Format       string `ini:"format" yaml:"format"`
	Loop         bool   `ini:"loop" yaml:"loop"`
	ChunkSize    int    `ini:"chunk_size" yaml:"chunk_size"`
	DongleSerial string `ini:"dongle_serial" yaml:"dongle_serial"`
	Freq         string `ini:"freq" yaml:"freq"`
	SampleRate   string `ini:"sample_rate" yaml:"sample_rate"`
	Gain         int    `ini:"gain" yaml:"gain"` // tenths of a dB, -100 = auto
	PPMError     int    `ini:"ppm_error" yaml:"ppm_error"`
}

type Gate struct {
	Enable       bool    `ini:"enable" yaml:"enable"`
	Threshold    float64 `ini:"threshold" yaml:"threshold"`
	BurstLength  int     `ini:"burst_length" yaml:"burst_length"`
	Backoff      int     `ini:"backoff" yaml:"backoff"`
	Predicate    string  `ini:"predicate" yaml:"predicate"`
	OutputBuffer int     `ini:"output_buffer" yaml:"output_buffer"`
	EventBuffer  int     `ini:"event_buffer" yaml:"event_buffer"`
	// noise floor measurements made on request
	NoiseBlockSize int `ini:"noise_block_size" yaml:"noise_block_size"`
	NoiseBlocks    int `ini:"noise_blocks" yaml:"noise_blocks"`
}

type Output struct {
	Path   string `ini:"path" yaml:"path"`
	Format string `ini:"format" yaml:"format"`
}

type Server struct {
	ListenHost string `ini:"listen_host" yaml:"listen_host"`
	ListenPort int    `ini:"listen_port" yaml:"listen_port"`
}

type MQTT struct {
	Enabled     bool   `ini:"enabled" yaml:"enabled"`
	Broker      string `ini:"broker" yaml:"broker"`
	Username    string `ini:"username" yaml:"username"`
	Password    string `ini:"password" yaml:"password"`
	ClientID    string `ini:"client_id" yaml:"client_id"`
	TopicPrefix string `ini:"topic_prefix" yaml:"topic_prefix"`
	QoS         int    `ini:"qos" yaml:"qos"`
	Retain      bool   `ini:"retain" yaml:"retain"`
}

type Influx struct {
	Enabled          bool   `ini:"enabled" yaml:"enabled"`
	URL              string `ini:"url" yaml:"url"`
	Token            string `ini:"token" yaml:"token"`
	Org              string `ini:"org" yaml:"org"`
	Bucket           string `ini:"bucket" yaml:"bucket"`
	Measurement      string `ini:"measurement" yaml:"measurement"`
	NoiseMeasurement string `ini:"noise_measurement" yaml:"noise_measurement"`
}

type Stats struct {
	Window         int           `ini:"window" yaml:"window"`
	ReportInterval time.Duration `ini:"report_interval" yaml:"report_interval"`
}

type Log struct {
	Level  string `ini:"level" yaml:"level"`
	Events bool   `ini:"events" yaml:"events"`
}

type Config struct {
	Source Source `ini:"source" yaml:"source"`
	Gate   Gate   `ini:"gate" yaml:"gate"`
	Output Output `ini:"output" yaml:"output"`
	Server Server `ini:"server" yaml:"server"`
	MQTT   MQTT   `ini:"mqtt" yaml:"mqtt"`
	Influx Influx `ini:"influx" yaml:"influx"`
	Stats  Stats  `ini:"stats" yaml:"stats"`
	Log    Log    `ini:"log" yaml:"log"`
}

// Location resolves the configuration file path: the command line flag
// wins, then the environment, then the default location.
func Location(cliFlag string) string {
	if cliFlag != "" {
		return cliFlag
	}

	if envFile := os.Getenv(CONFIG_FILE_ENV_VAR); envFile != "" {
		return envFile
	}

	return CONFIG_FILE_DEFAULT_LOCATION
}

func Defaults() Config {
	return Config{
		Source: Source{
			Kind:       "rtlsdr",
			Format:     "cu8",
			ChunkSize:  iq.DefaultChunkSize,
			Freq:       "433.92M",
			SampleRate: "1M",
			Gain:       -100,
		},
		Gate: Gate{
			Enable:         true,
			Threshold:      0.5,
			BurstLength:    4096,
			Predicate:      "both",
			OutputBuffer:   8192,
			EventBuffer:    64,
			NoiseBlockSize: burst.DefaultNoiseBlockSize,
			NoiseBlocks:    burst.DefaultNoiseBlocks,
		},
		Output: Output{
			Format: "cf32",
		},
		Server: Server{
			ListenHost: "localhost",
		},
		MQTT: MQTT{
			TopicPrefix: "sdrburst",
		},
		Influx: Influx{
			Measurement:      "burst_power",
			NoiseMeasurement: "noise_power",
		},
		Stats: Stats{
			Window:         100,
			ReportInterval: time.Minute,
		},
		Log: Log{
			Level:  "INFO",
			Events: true,
		},
	}
}

// Load reads the file at path over the defaults and validates the result.
// Files ending in .yaml or .yml are parsed as YAML, anything else as INI.
func Load(path string) (*Config, error) {
	var cfg = Defaults()

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNoConfigFound, path)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	default:
		if err := ini.MapTo(&cfg, path); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Source.Kind {
	case "rtlsdr":
		if _, err := c.SourceFreq(); err != nil {
			return fmt.Errorf("%w: source.freq: %w", ErrInvalidConfig, err)
		}
		if _, err := c.SourceRate(); err != nil {
			return fmt.Errorf("%w: source.sample_rate: %w", ErrInvalidConfig, err)
		}
	case "file":
		if c.Source.Path == "" {
			return fmt.Errorf("%w: source.path is required for file sources", ErrInvalidConfig)
		}
		if _, err := iq.ParseFormat(c.Source.Format); err != nil {
			return fmt.Errorf("%w: source.format: %w", ErrInvalidConfig, err)
		}
	default:
		return fmt.Errorf("%w: unknown source.kind %q", ErrInvalidConfig, c.Source.Kind)
	}

	if _, err := c.GateConfig(); err != nil {
		return fmt.Errorf("%w: gate: %w", ErrInvalidConfig, err)
	}
	if err := c.NoiseConfig().Validate(); err != nil {
		return fmt.Errorf("%w: gate: %w", ErrInvalidConfig, err)
	}
	if c.Gate.OutputBuffer < 1 {
		return fmt.Errorf("%w: gate.output_buffer must be at least 1", ErrInvalidConfig)
	}

	if c.Output.Path != "" {
		if _, err := iq.ParseFormat(c.Output.Format); err != nil {
			return fmt.Errorf("%w: output.format: %w", ErrInvalidConfig, err)
		}
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			return fmt.Errorf("%w: mqtt.broker is required", ErrInvalidConfig)
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			return fmt.Errorf("%w: mqtt.qos must be 0, 1 or 2", ErrInvalidConfig)
		}
	}

	if c.Influx.Enabled && (c.Influx.URL == "" || c.Influx.Bucket == "") {
		return fmt.Errorf("%w: influx.url and influx.bucket are required", ErrInvalidConfig)
	}

	return nil
}

// GateConfig converts the gate section into a burst.Config.
func (c *Config) GateConfig() (burst.Config, error) {
	p, err := burst.ParsePredicate(c.Gate.Predicate)
	if err != nil {
		return burst.Config{}, err
	}

	gc := burst.Config{
		Enabled:     c.Gate.Enable,
		Threshold:   float32(c.Gate.Threshold),
		BurstLength: c.Gate.BurstLength,
		Backoff:     c.Gate.Backoff,
		Predicate:   p,
	}
	return gc, gc.Validate()
}

func (c *Config) NoiseConfig() burst.NoiseConfig {
	return burst.NoiseConfig{BlockSize: c.Gate.NoiseBlockSize, Blocks: c.Gate.NoiseBlocks}
}

func (c *Config) SourceFreq() (uint32, error) {
	return freqHz(c.Source.Freq)
}

func (c *Config) SourceRate() (uint32, error) {
	return freqHz(c.Source.SampleRate)
}

// ServerAddr returns the HTTP listen address, or "" when the server is off.
func (c *Config) ServerAddr() string {
	if c.Server.ListenPort == 0 {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.Server.ListenHost, c.Server.ListenPort)
}

var logLevels = map[string]slog.Level{
	"DEBUG": slog.LevelDebug,
	"INFO":  slog.LevelInfo,
	"WARN":  slog.LevelWarn,
	"ERROR": slog.LevelError,
}

// LogLevel maps a level name onto a slog.Level, defaulting to INFO.
func LogLevel(level string) slog.Level {
	l, ok := logLevels[strings.ToUpper(level)]
	if !ok {
		slog.Error("Invalid log level, defaulting to INFO", "level", level)
		return slog.LevelInfo
	}
	return l
}

// freqHz parses "433.92M", "250k", "2.4MHz" or "1000" into Hz.
func freqHz(freqStr string) (uint32, error) {
	val := strings.TrimSuffix(strings.ToUpper(strings.TrimSpace(freqStr)), "HZ")

	mult := 1.0
	switch {
	case strings.HasSuffix(val, "K"):
		mult, val = 1e3, strings.TrimSuffix(val, "K")
	case strings.HasSuffix(val, "M"):
		mult, val = 1e6, strings.TrimSuffix(val, "M")
	case strings.HasSuffix(val, "G"):
		mult, val = 1e9, strings.TrimSuffix(val, "G")
	}

	f64, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidFreq, freqStr)
	}
	hz := math.Round(f64 * mult)
	if hz <= 0 || hz > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidFreq, freqStr)
	}
	return uint32(hz), nil
}
