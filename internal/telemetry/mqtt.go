// Package telemetry mirrors simulated readings to an MQTT broker.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

const qos = 1

type Config struct {
	BrokerURL string `yaml:"broker"`
	Topic     string `yaml:"topic"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
}

func (c Config) Enabled() bool { return c.BrokerURL != "" }

// Publisher publishes JSON documents under <topic>/<clientID>/<subtopic>.
type Publisher struct {
	client   mqtt.Client
	prefix   string
	logger   *log.Entry
	deadline time.Duration
}

func NewClientOptions(cfg Config, clientID string, logger *log.Entry) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID("ocpp-harness-" + clientID).
		SetCleanSession(true).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetConnectTimeout(5 * time.Second).
		SetAutoReconnect(true)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.OnConnect = func(mqtt.Client) { logger.WithField("broker", cfg.BrokerURL).Infoln("Connected to MQTT broker") }
	opts.OnConnectionLost = func(_ mqtt.Client, err error) { logger.WithError(err).Warnln("MQTT connection lost") }
	return opts
}

// Connect dials the broker described by cfg.
func Connect(ctx context.Context, cfg Config, clientID string, logger *log.Entry) (*Publisher, error) {
	client := mqtt.NewClient(NewClientOptions(cfg, clientID, logger))
	if err := wait(ctx, client.Connect(), 10*time.Second); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.BrokerURL, err)
	}
	return NewPublisher(client, cfg.Topic, clientID, logger), nil
}

// NewPublisher wraps an already connected client.
func NewPublisher(client mqtt.Client, topic, clientID string, logger *log.Entry) *Publisher {
	topic = strings.TrimSuffix(topic, "/")
	if topic == "" {
		topic = "ocpp"
	}
	return &Publisher{
		client:   client,
		prefix:   topic + "/" + clientID,
		logger:   logger,
		deadline: 5 * time.Second,
	}
}

func (p *Publisher) Topic(subtopic string) string {
	return p.prefix + "/" + subtopic
}

func (p *Publisher) Publish(ctx context.Context, subtopic string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", subtopic, err)
	}
	topic := p.Topic(subtopic)
	if err := wait(ctx, p.client.Publish(topic, qos, false, payload), p.deadline); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	p.logger.WithField("topic", topic).Debugln("Telemetry published")
	return nil
}

func (p *Publisher) Close() {
	p.client.Disconnect(250)
}

var errTokenTimeout = errors.New("timed out waiting for broker")

func wait(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return errTokenTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
