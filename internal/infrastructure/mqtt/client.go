package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/fleetlink/internal/infrastructure/config"
)

// Client is fleetlink's broker connection.
//
// It owns the server's presence on cfg.StatusTopic, remembers
// subscriptions so they survive reconnects, and delivers inbound messages
// to handlers one at a time in broker order.
//
// All methods are safe for concurrent use.
type Client struct {
	client  pahomqtt.Client
	options *pahomqtt.ClientOptions
	cfg     config.MQTTConfig

	// subscriptions are replayed after every reconnect.
	subscriptions map[string]subscription
	subMu         sync.RWMutex

	connected bool
	connMu    sync.RWMutex

	onConnect    func()
	onDisconnect func(err error)
	callbackMu   sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex

	// attempts counts reconnect attempts since the link was last up.
	attempts   atomic.Int64
	reconnects atomic.Uint64
	received   atomic.Uint64
	published  atomic.Uint64
}

// Logger is the subset of logging.Logger the client uses.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// MessageHandler receives one inbound message.
//
// Handlers run on the client's single delivery goroutine, so a slow handler
// delays every later message. A returned error is logged and does not
// affect acknowledgement.
type MessageHandler func(topic string, payload []byte) error

// Stats is a point-in-time view of the connection.
type Stats struct {
	Connected         bool     `json:"connected"`
	Broker            string   `json:"broker"`
	Subscriptions     []string `json:"subscriptions"`
	Reconnects        uint64   `json:"reconnects"`
	MessagesReceived  uint64   `json:"messages_received"`
	MessagesPublished uint64   `json:"messages_published"`
}

// Connect dials the broker described by cfg and blocks until the first
// connection succeeds or defaultConnectTimeout passes.
//
// The returned client reconnects on its own with backoff between
// cfg.Reconnect.InitialDelay and MaxDelay. When MaxAttempts is non-zero it
// gives up after that many consecutive failures and stays disconnected.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	opts := buildClientOptions(cfg)
	configureLWT(opts, cfg)

	c := &Client{
		cfg:           cfg,
		options:       opts,
		subscriptions: make(map[string]subscription),
	}

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})
	opts.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		c.handleReconnecting()
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if err := await(token, defaultConnectTimeout, ErrConnectionFailed); err != nil {
		// Stop paho's background connect retries.
		c.client.Disconnect(0)
		return nil, err
	}

	// OnConnectHandler runs asynchronously; mark connected here so
	// IsConnected() is true as soon as Connect returns.
	c.setConnected(true)

	return c, nil
}

func (c *Client) handleConnect() {
	if c.attempts.Swap(0) > 0 {
		c.reconnects.Add(1)
	}
	c.setConnected(true)

	c.restoreSubscriptions()
	if c.cfg.StatusTopic != "" {
		payload := presencePayload(c.cfg.Broker.ClientID, presenceOnline, "")
		c.client.Publish(c.cfg.StatusTopic, byte(c.cfg.QoS), true, payload)
	}

	c.callbackMu.RLock()
	callback := c.onConnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.setConnected(false)

	if logger := c.getLogger(); logger != nil {
		logger.Warn("MQTT connection lost", "error", err)
	}

	c.callbackMu.RLock()
	callback := c.onDisconnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

func (c *Client) handleReconnecting() {
	n := c.attempts.Add(1)
	logger := c.getLogger()
	if logger != nil {
		logger.Warn("MQTT reconnecting", "broker", brokerURL(c.cfg), "attempt", n)
	}

	limit := c.cfg.Reconnect.MaxAttempts
	if limit > 0 && n > int64(limit) {
		if logger != nil {
			logger.Error("MQTT reconnect attempts exhausted, giving up", "attempts", limit)
		}
		// Disconnect waits on the reconnect goroutine we are running on.
		go c.client.Disconnect(0)
	}
}

// restoreSubscriptions re-subscribes to all tracked topics after reconnect.
func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	for _, sub := range c.subscriptions {
		// Errors here surface on the next reconnect cycle.
		c.client.Subscribe(sub.topic, sub.qos, c.wrapHandler(sub.handler))
	}
}

// Close publishes a graceful offline presence and disconnects.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() && c.cfg.StatusTopic != "" {
		payload := presencePayload(c.cfg.Broker.ClientID, presenceOffline, reasonShutdown)
		token := c.client.Publish(c.cfg.StatusTopic, byte(c.cfg.QoS), true, payload)
		token.WaitTimeout(defaultPublishTimeout)
	}

	c.client.Disconnect(defaultDisconnectQuiesce)
	c.setConnected(false)

	return nil
}

// HealthCheck reports whether the broker connection is up.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	return nil
}

// IsConnected returns the current connection state. It is safe on a nil
// client.
func (c *Client) IsConnected() bool {
	if c == nil {
		return false
	}
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client != nil && c.client.IsConnected()
}

// Stats returns connection counters and the tracked subscriptions.
func (c *Client) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	return Stats{
		Connected:         c.IsConnected(),
		Broker:            brokerURL(c.cfg),
		Subscriptions:     c.Subscriptions(),
		Reconnects:        c.reconnects.Load(),
		MessagesReceived:  c.received.Load(),
		MessagesPublished: c.published.Load(),
	}
}

// SetOnConnect sets a callback run after every successful connect,
// including reconnects.
func (c *Client) SetOnConnect(callback func()) {
	c.callbackMu.Lock()
	c.onConnect = callback
	c.callbackMu.Unlock()
}

// SetOnDisconnect sets a callback run when the connection is lost.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

// SetLogger sets the logger for handler failures and reconnects.
// Without one they are dropped silently.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

func (c *Client) setConnected(v bool) {
	c.connMu.Lock()
	c.connected = v
	c.connMu.Unlock()
}

// wrapHandler counts the message and shields the delivery goroutine from
// handler panics.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.received.Add(1)

		defer func() {
			if r := recover(); r != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Error("MQTT handler panic recovered",
						"topic", msg.Topic(),
						"panic", r,
					)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT handler returned error",
					"topic", msg.Topic(),
					"error", err,
				)
			}
		}
	}
}
