package mqttbridge

import (
	"errors"
	"fmt"
	"time"

	"climatesync/internal/config"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const (
	connectTimeout    = 10 * time.Second
	publishTimeout    = 5 * time.Second
	disconnectQuiesce = 1000 // milliseconds
	keepAlive         = 60 * time.Second
)

var (
	// ErrConnectionFailed is returned by Dial when the broker is unreachable.
	ErrConnectionFailed = errors.New("mqtt connection failed")
	// ErrPublishTimeout is returned when the broker does not acknowledge a publish in time.
	ErrPublishTimeout = errors.New("mqtt publish timed out")
	// ErrNotConnected is returned by Publish while the broker connection is down.
	ErrNotConnected = errors.New("mqtt not connected")
)

// Publisher is the broker connection the bridge writes to.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Close() error
}

type pahoPublisher struct {
	client pahomqtt.Client
	status string
	qos    byte
	logger *zap.Logger
}

// Dial connects to the broker in cfg. The broker holds a retained "offline"
// will on <prefix>/status, and "online" is published on every (re)connect.
func Dial(cfg config.MQTTConfig, logger *zap.Logger) (Publisher, error) {
	p := &pahoPublisher{
		status: StatusTopic(cfg.TopicPrefix),
		qos:    cfg.QoS,
		logger: logger,
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(keepAlive)
	opts.SetWill(p.status, StatusOffline, cfg.QoS, true)

	opts.SetOnConnectHandler(func(c pahomqtt.Client) {
		logger.Info("Connected to MQTT broker", zap.String("broker", cfg.Broker))
		c.Publish(p.status, p.qos, true, StatusOnline)
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		logger.Warn("MQTT connection lost", zap.Error(err))
	})

	p.client = pahomqtt.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return p, nil
}

// Publish fails fast while paho is reconnecting instead of waiting out the
// publish timeout.
func (p *pahoPublisher) Publish(topic string, qos byte, retained bool, payload []byte) error {
	if !p.client.IsConnectionOpen() {
		return fmt.Errorf("%w: %s", ErrNotConnected, topic)
	}
	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("%w: %s", ErrPublishTimeout, topic)
	}
	return token.Error()
}

// Close publishes a graceful "offline" and disconnects.
func (p *pahoPublisher) Close() error {
	if p.client.IsConnectionOpen() {
		if err := p.Publish(p.status, p.qos, true, []byte(StatusOffline)); err != nil {
			p.logger.Warn("Failed to publish offline status", zap.Error(err))
		}
	}
	p.client.Disconnect(disconnectQuiesce)
	return nil
}
