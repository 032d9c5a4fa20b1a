package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

var (
	ErrPublishTimeout = errors.New("timed out waiting for broker acknowledgement")
)

const defaultPublishTimeout = 5 * time.Second

type MQTTConfig struct {
	Broker         string
	Username       string
	Password       string
	ClientID       string
	TopicPrefix    string
	QoS            byte
	Retain         bool
	PublishTimeout time.Duration
}

// MQTTSink publishes each event as JSON to "<prefix>/power" and each noise
// report to "<prefix>/noise".
type MQTTSink struct {
	client     mqtt.Client
	topic      string
	noiseTopic string
	qos        byte
	retain     bool
	timeout    time.Duration
}

// NewMQTTSink connects to the configured broker. The client reconnects on
// its own if the connection drops later.
func NewMQTTSink(cfg MQTTConfig, logger *slog.Logger) (*MQTTSink, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(clientID(cfg.ClientID))
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("connected to broker", "broker", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("connection to broker lost", "error", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(publishTimeout(cfg)) {
		// ConnectRetry keeps trying in the background; publishes queue meanwhile.
		logger.Warn("broker not reachable yet, retrying in background", "broker", cfg.Broker)
	} else if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}

	return newMQTTSink(client, cfg), nil
}

func newMQTTSink(client mqtt.Client, cfg MQTTConfig) *MQTTSink {
	prefix := strings.TrimSuffix(cfg.TopicPrefix, "/")
	return &MQTTSink{
		client:     client,
		topic:      prefix + "/power",
		noiseTopic: prefix + "/noise",
		qos:        cfg.QoS,
		retain:     cfg.Retain,
		timeout:    publishTimeout(cfg),
	}
}

func (m *MQTTSink) Topic() string {
	return m.topic
}

func (m *MQTTSink) Publish(ctx context.Context, ev Event) error {
	return m.publish(m.topic, ev)
}

func (m *MQTTSink) PublishNoise(ctx context.Context, r NoiseReport) error {
	return m.publish(m.noiseTopic, r)
}

func (m *MQTTSink) publish(topic string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}

	token := m.client.Publish(topic, m.qos, m.retain, payload)
	if !token.WaitTimeout(m.timeout) {
		return fmt.Errorf("%w: %s", ErrPublishTimeout, topic)
	}
	return token.Error()
}

func (m *MQTTSink) Close() error {
	m.client.Disconnect(250)
	return nil
}

func clientID(configured string) string {
	if configured != "" {
		return configured
	}
	return "sdrburst_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func publishTimeout(cfg MQTTConfig) time.Duration {
	if cfg.PublishTimeout > 0 {
		return cfg.PublishTimeout
	}
	return defaultPublishTimeout
}
