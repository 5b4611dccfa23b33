// Package notify fans raised alerts out to external consumers.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/san-kum/damage-watch/server/models"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
)

var ErrNotConnected = errors.New("mqtt not connected")

type MQTTConfig struct {
	Broker   string
	ClientID string
	Topic    string
	QoS      byte
	Username string
	Password string
}

// client is the part of mqtt.Client the publisher uses.
type client interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

type MQTTPublisher struct {
	client client
	config MQTTConfig
	logger *zap.Logger

	mu        sync.Mutex
	published uint64
	failed    uint64
}

type PublisherStats struct {
	Published uint64 `json:"published"`
	Failed    uint64 `json:"failed"`
	Connected bool   `json:"connected"`
}

// NewMQTTPublisher connects to the broker. The connection is retried in the
// background by paho after the first successful connect.
func NewMQTTPublisher(config MQTTConfig, logger *zap.Logger) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(config.Broker))
	opts.SetClientID(config.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	if config.Username != "" {
		opts.SetUsername(config.Username)
		opts.SetPassword(config.Password)
	}

	opts.OnConnect = func(c mqtt.Client) {
		logger.Info("MQTT connection established", zap.String("broker", config.Broker))
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		logger.Warn("MQTT connection lost, will auto-reconnect",
			zap.String("broker", config.Broker),
			zap.Error(err),
		)
	}

	c := mqtt.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}

	return newPublisher(c, config, logger), nil
}

func newPublisher(c client, config MQTTConfig, logger *zap.Logger) *MQTTPublisher {
	return &MQTTPublisher{client: c, config: config, logger: logger}
}

func brokerURL(broker string) string {
	for _, scheme := range []string{"tcp://", "ssl://", "tls://", "ws://", "wss://", "mqtt://", "mqtts://"} {
		if strings.HasPrefix(broker, scheme) {
			return broker
		}
	}
	return "tcp://" + broker
}

func (p *MQTTPublisher) Topic(severity models.Severity) string {
	return fmt.Sprintf("%s/%s", p.config.Topic, severity)
}

func (p *MQTTPublisher) PublishAlert(ctx context.Context, alert models.Alert) error {
	if !p.client.IsConnected() {
		p.recordFailure()
		return ErrNotConnected
	}

	payload, err := json.Marshal(alert)
	if err != nil {
		p.recordFailure()
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	topic := p.Topic(alert.Severity)
	token := p.client.Publish(topic, p.config.QoS, false, payload)

	timer := time.NewTimer(publishTimeout)
	defer timer.Stop()

	select {
	case <-token.Done():
	case <-timer.C:
		p.recordFailure()
		return fmt.Errorf("publish timeout")
	case <-ctx.Done():
		p.recordFailure()
		return ctx.Err()
	}

	if err := token.Error(); err != nil {
		p.recordFailure()
		return fmt.Errorf("publish failed: %w", err)
	}

	p.mu.Lock()
	p.published++
	p.mu.Unlock()

	p.logger.Debug("Alert published",
		zap.String("topic", topic),
		zap.String("alert_id", alert.ID),
		zap.Int("size", len(payload)),
	)
	return nil
}

func (p *MQTTPublisher) recordFailure() {
	p.mu.Lock()
	p.failed++
	p.mu.Unlock()
}

func (p *MQTTPublisher) Stats() PublisherStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PublisherStats{
		Published: p.published,
		Failed:    p.failed,
		Connected: p.client.IsConnected(),
	}
}

func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}
