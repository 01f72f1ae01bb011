// Package transport connects the application to the MQTT bus.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"powercal/internal/logger"
	"powercal/internal/metrics"

	"github.com/eclipse/paho.golang/paho"
)

// Message is one inbound publish.
type Message struct {
	Topic    string
	Payload  []byte
	Retained bool
}

// Config holds broker connection settings.
type Config struct {
	Host      string
	Port      int
	Username  string
	Password  string
	ClientID  string
	KeepAlive time.Duration
	QoS       byte
	Buffer    int // inbound channel capacity
}

// ConnectionProvider returns a net.Conn connected to an MQTT server.
type ConnectionProvider func(context.Context) (net.Conn, error)

const defaultBuffer = 256

var (
	ErrNotConnected     = errors.New("mqtt client is not connected")
	ErrAlreadyConnected = errors.New("mqtt client is already connected")
)

// Client is a thin MQTT v5 session over paho. Inbound publishes are delivered
// on Messages() in arrival order; fatal connection errors on Errors().
type Client struct {
	cfg     Config
	dial    ConnectionProvider
	log     *logger.Logger
	metrics *metrics.Metrics

	mu   sync.Mutex
	conn *paho.Client
	done chan struct{}

	messages chan Message
	errs     chan error
}

// TCPConnection is a ConnectionProvider that connects over plain TCP.
func TCPConnection(host string, port int) ConnectionProvider {
	return func(ctx context.Context) (net.Conn, error) {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err != nil {
			return nil, fmt.Errorf("open tcp connection to %s:%d: %w", host, port, err)
		}
		return conn, nil
	}
}

// NewClient builds a client; Connect opens the session.
func NewClient(cfg Config, log *logger.Logger, m *metrics.Metrics) *Client {
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultBuffer
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Client{
		cfg:      cfg,
		dial:     TCPConnection(cfg.Host, cfg.Port),
		log:      log,
		metrics:  m,
		messages: make(chan Message, cfg.Buffer),
		errs:     make(chan error, 1),
	}
}

// Messages returns the inbound stream. It is never closed while the process runs.
func (c *Client) Messages() <-chan Message { return c.messages }

// Errors reports connection loss. The session is over once a value arrives.
func (c *Client) Errors() <-chan error { return c.errs }

// Connect dials the broker and performs the MQTT handshake.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return ErrAlreadyConnected
	}

	netConn, err := c.dial(ctx)
	if err != nil {
		return err
	}

	done := make(chan struct{})
	pc := paho.NewClient(paho.ClientConfig{
		ClientID: c.cfg.ClientID,
		Conn:     netConn,
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			func(pr paho.PublishReceived) (bool, error) {
				return c.deliver(pr.Packet, done)
			},
		},
		OnClientError:      c.onClientError,
		OnServerDisconnect: c.onServerDisconnect,
	})

	cp := &paho.Connect{
		ClientID:     c.cfg.ClientID,
		CleanStart:   true,
		KeepAlive:    uint16(c.cfg.KeepAlive.Seconds()),
		Username:     c.cfg.Username,
		UsernameFlag: c.cfg.Username != "",
		Password:     []byte(c.cfg.Password),
		PasswordFlag: c.cfg.Password != "",
	}
	ca, err := pc.Connect(ctx, cp)
	if err != nil {
		_ = netConn.Close()
		if ca != nil {
			return fmt.Errorf("mqtt connect refused (reason %d): %w", ca.ReasonCode, err)
		}
		return fmt.Errorf("mqtt connect: %w", err)
	}

	c.conn = pc
	c.done = done
	c.metrics.SetConnected(true)
	c.log.Infow("mqtt_connected", "host", c.cfg.Host, "port", c.cfg.Port, "client_id", c.cfg.ClientID)
	return nil
}

// Disconnect sends DISCONNECT and releases the session.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	pc, done := c.conn, c.done
	c.conn, c.done = nil, nil
	c.mu.Unlock()

	if pc == nil {
		return ErrNotConnected
	}
	close(done)
	c.metrics.SetConnected(false)
	if err := pc.Disconnect(&paho.Disconnect{ReasonCode: 0}); err != nil {
		return fmt.Errorf("mqtt disconnect: %w", err)
	}
	c.log.Infow("mqtt_disconnected")
	return nil
}

// Subscribe adds a subscription for the topic filter.
func (c *Client) Subscribe(ctx context.Context, filter string) error {
	pc, err := c.client()
	if err != nil {
		return err
	}
	sa, err := pc.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: filter, QoS: c.cfg.QoS}},
	})
	if err != nil {
		return fmt.Errorf("subscribe %q: %w", filter, err)
	}
	if sa != nil && len(sa.Reasons) > 0 && sa.Reasons[0] >= 0x80 {
		return fmt.Errorf("subscribe %q: refused with reason %d", filter, sa.Reasons[0])
	}
	c.log.Debugw("mqtt_subscribed", "filter", filter)
	return nil
}

// Unsubscribe removes a subscription for the topic filter.
func (c *Client) Unsubscribe(ctx context.Context, filter string) error {
	pc, err := c.client()
	if err != nil {
		return err
	}
	ua, err := pc.Unsubscribe(ctx, &paho.Unsubscribe{Topics: []string{filter}})
	if err != nil {
		return fmt.Errorf("unsubscribe %q: %w", filter, err)
	}
	if ua != nil && len(ua.Reasons) > 0 && ua.Reasons[0] >= 0x80 {
		return fmt.Errorf("unsubscribe %q: refused with reason %d", filter, ua.Reasons[0])
	}
	c.log.Debugw("mqtt_unsubscribed", "filter", filter)
	return nil
}

// Publish sends payload to topic.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	pc, err := c.client()
	if err != nil {
		c.metrics.Published(err)
		return err
	}
	_, err = pc.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     c.cfg.QoS,
		Payload: payload,
	})
	c.metrics.Published(err)
	if err != nil {
		return fmt.Errorf("publish %q: %w", topic, err)
	}
	c.log.Debugw("mqtt_published", "topic", topic, "bytes", len(payload))
	return nil
}

func (c *Client) client() (*paho.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, ErrNotConnected
	}
	return c.conn, nil
}

// deliver blocks paho's reader until the router has room, which keeps arrival order.
func (c *Client) deliver(p *paho.Publish, done <-chan struct{}) (bool, error) {
	msg := Message{Topic: p.Topic, Payload: p.Payload, Retained: p.Retain}
	select {
	case c.messages <- msg:
		return true, nil
	case <-done:
		return false, ErrNotConnected
	}
}

func (c *Client) onClientError(err error) {
	c.log.Errorw("mqtt_client_error", "err", err)
	c.fail(fmt.Errorf("mqtt connection lost: %w", err))
}

func (c *Client) onServerDisconnect(d *paho.Disconnect) {
	reason := ""
	if d.Properties != nil {
		reason = d.Properties.ReasonString
	}
	c.log.Errorw("mqtt_server_disconnect", "reason_code", d.ReasonCode, "reason", reason)
	c.fail(fmt.Errorf("mqtt server disconnected (reason %d) %s", d.ReasonCode, reason))
}

func (c *Client) fail(err error) {
	c.metrics.SetConnected(false)
	select {
	case c.errs <- err:
	default:
	}
}
