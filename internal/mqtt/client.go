// Package mqtt provides the broker client used to publish confirmed safety
// events to store infrastructure.
package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/trayvision/trayvision-go/internal/conf"
	"github.com/trayvision/trayvision-go/internal/logging"
)

const reconnectCooldown = 5 * time.Second

// Client is the broker abstraction the event sink publishes through.
type Client interface {
	Connect(ctx context.Context) error
	Publish(ctx context.Context, topic, payload string) error
	IsConnected() bool
	Disconnect()
}

// client implements Client on top of the paho MQTT library.
type client struct {
	settings conf.MQTTSettings
	clientID string
	logger   *slog.Logger

	mu              sync.Mutex
	internalClient  pahomqtt.Client
	lastConnAttempt time.Time
}

// NewClient creates an MQTT client from the configured broker settings. The
// node name becomes the client identity on the broker.
func NewClient(settings *conf.Settings) Client {
	logger := logging.ForService("mqtt")
	if logger == nil {
		logger = slog.Default().With("service", "mqtt")
	}
	return &client{
		settings: settings.MQTT,
		clientID: settings.Main.Name,
		logger:   logger,
	}
}

// Connect establishes the broker connection. The broker hostname is resolved
// first so configuration mistakes fail with a DNS error instead of a generic
// connect timeout.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if time.Since(c.lastConnAttempt) < reconnectCooldown {
		return fmt.Errorf("connection attempt too recent, last attempt was %v ago", time.Since(c.lastConnAttempt))
	}
	c.lastConnAttempt = time.Now()

	u, err := url.Parse(c.settings.Broker)
	if err != nil {
		return fmt.Errorf("invalid broker URL: %w", err)
	}
	host := u.Hostname()
	if net.ParseIP(host) == nil {
		if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
			return fmt.Errorf("failed to resolve broker hostname %s: %w", host, err)
		}
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(c.settings.Broker)
	opts.SetClientID(c.clientID)
	opts.SetUsername(c.settings.Username)
	opts.SetPassword(c.settings.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.logger.Warn("broker connection lost", "error", err)
	})

	c.internalClient = pahomqtt.NewClient(opts)

	timeout := c.settings.ConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	token := c.internalClient.Connect()
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("connection timeout after %v", timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connection error: %w", err)
	}

	c.logger.Info("connected to broker", "broker", c.settings.Broker)
	return nil
}

// Publish sends one payload to the topic with QoS 0.
func (c *client) Publish(ctx context.Context, topic, payload string) error {
	_ = ctx
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.IsConnected() {
		return fmt.Errorf("not connected to MQTT broker")
	}

	timeout := c.settings.PublishTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	token := c.internalClient.Publish(topic, 0, c.settings.Retain, payload)
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("publish timeout on topic %s", topic)
	}
	return token.Error()
}

// IsConnected reports whether the broker connection is up.
func (c *client) IsConnected() bool {
	return c.internalClient != nil && c.internalClient.IsConnected()
}

// Disconnect closes the broker connection, allowing in-flight messages a
// short grace period.
func (c *client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.internalClient != nil && c.internalClient.IsConnected() {
		c.internalClient.Disconnect(250)
		c.logger.Info("disconnected from broker")
	}
}
