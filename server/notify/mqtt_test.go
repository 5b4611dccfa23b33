package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/san-kum/damage-watch/server/models"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func completed(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool { <-t.done; return true }
func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}
func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakeClient struct {
	mu           sync.Mutex
	connected    bool
	token        mqtt.Token
	messages     []published
	disconnected bool
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, published{topic: topic, qos: qos, payload: payload.([]byte)})
	return c.token
}

func (c *fakeClient) Disconnect(quiesce uint) {
	c.mu.Lock()
	c.disconnected = true
	c.mu.Unlock()
}

func testAlert() models.Alert {
	return models.Alert{
		ID:        "0190a6d2-7c1e-7000-8000-000000000001",
		Message:   "High damage detected! Level: 85.0%",
		Severity:  models.SeverityCritical,
		Timestamp: "3:04:05 PM",
		Level:     85,
		CreatedAt: time.Date(2024, 5, 1, 15, 4, 5, 0, time.UTC),
	}
}

func testConfig() MQTTConfig {
	return MQTTConfig{Topic: "damage-watch/alerts", QoS: 1}
}

func TestPublishAlert(t *testing.T) {
	c := &fakeClient{connected: true, token: completed(nil)}
	p := newPublisher(c, testConfig(), zap.NewNop())

	require.NoError(t, p.PublishAlert(context.Background(), testAlert()))

	require.Len(t, c.messages, 1)
	msg := c.messages[0]
	assert.Equal(t, "damage-watch/alerts/critical", msg.topic)
	assert.Equal(t, byte(1), msg.qos)

	var got models.Alert
	require.NoError(t, json.Unmarshal(msg.payload, &got))
	assert.Equal(t, testAlert().ID, got.ID)
	assert.Equal(t, testAlert().Message, got.Message)
	assert.Equal(t, 85.0, got.Level)

	assert.Equal(t, PublisherStats{Published: 1, Connected: true}, p.Stats())
}

func TestPublishAlert_NotConnected(t *testing.T) {
	c := &fakeClient{connected: false, token: completed(nil)}
	p := newPublisher(c, testConfig(), zap.NewNop())

	err := p.PublishAlert(context.Background(), testAlert())
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Empty(t, c.messages)
	assert.Equal(t, uint64(1), p.Stats().Failed)
}

func TestPublishAlert_TokenError(t *testing.T) {
	brokerErr := errors.New("not authorized")
	c := &fakeClient{connected: true, token: completed(brokerErr)}
	p := newPublisher(c, testConfig(), zap.NewNop())

	err := p.PublishAlert(context.Background(), testAlert())
	assert.ErrorIs(t, err, brokerErr)
	assert.Equal(t, uint64(1), p.Stats().Failed)
}

func TestPublishAlert_ContextCancelled(t *testing.T) {
	c := &fakeClient{connected: true, token: &fakeToken{done: make(chan struct{})}}
	p := newPublisher(c, testConfig(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.PublishAlert(ctx, testAlert())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBrokerURL(t *testing.T) {
	assert.Equal(t, "tcp://localhost:1883", brokerURL("localhost:1883"))
	assert.Equal(t, "ssl://broker:8883", brokerURL("ssl://broker:8883"))
	assert.Equal(t, "ws://broker/mqtt", brokerURL("ws://broker/mqtt"))
}

func TestClose(t *testing.T) {
	c := &fakeClient{connected: true}
	newPublisher(c, testConfig(), zap.NewNop()).Close()
	assert.True(t, c.disconnected)
}
