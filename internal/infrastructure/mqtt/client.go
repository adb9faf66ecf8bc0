// Package mqtt publishes window status documents to an MQTT broker.
//
// This is an optional fan-out path: relying services that already
// speak MQTT can follow the service window without holding a WebSocket
// connection. The status topic is published retained so new
// subscribers see the current state immediately.
package mqtt

import (
	"errors"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/nexauth/nexauth-core/internal/infrastructure/config"
	"github.com/nexauth/nexauth-core/internal/infrastructure/logging"
)

// StatusTopic carries the retained window status document.
const StatusTopic = "nexauth/system/status"

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// ErrDisabled is returned when MQTT is not enabled in configuration.
var ErrDisabled = errors.New("mqtt is disabled")

// Client is a publish-only MQTT client.
type Client struct {
	client paho.Client
	qos    byte
	log    *logging.Logger
}

// Connect creates and connects an MQTT client. Returns ErrDisabled
// when the config has MQTT turned off.
func Connect(cfg config.MQTTConfig, log *logging.Logger) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	scheme := "tcp"
	if cfg.TLS {
		scheme = "ssl"
	}
	brokerURL := fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port)

	opts := paho.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(connectTimeout).
		SetOrderMatters(false)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	logger := log.With("component", "mqtt")
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Warn("mqtt connection lost", "error", err)
	})
	opts.SetOnConnectHandler(func(_ paho.Client) {
		logger.Info("mqtt connected", "broker", brokerURL)
	})

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqtt connect timed out after %s", connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to mqtt broker: %w", err)
	}

	return &Client{
		client: client,
		qos:    byte(cfg.QoS), //nolint:gosec // QoS validated 0..2
		log:    logger,
	}, nil
}

// PublishStatus publishes a status document retained on StatusTopic.
func (c *Client) PublishStatus(payload []byte) error {
	token := c.client.Publish(StatusTopic, c.qos, true, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqtt publish timed out after %s", publishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publishing status: %w", err)
	}
	return nil
}

// IsConnected reports broker connectivity.
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// Close disconnects from the broker, allowing in-flight messages a
// short grace period.
func (c *Client) Close() {
	c.client.Disconnect(uint(publishTimeout.Milliseconds())) //nolint:gosec // Constant fits uint
	c.log.Info("mqtt disconnected")
}
