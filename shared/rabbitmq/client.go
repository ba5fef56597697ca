// Package rabbitmq carries job events between the API and the worker over a
// durable exchange/queue pair with publisher confirms.
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	// ErrNotConnected is returned while the client has no usable channel
	ErrNotConnected = errors.New("not connected to RabbitMQ")

	// ErrNacked is returned when the broker refuses a published message
	ErrNacked = errors.New("message nacked by broker")

	// ErrClosed is returned after Close
	ErrClosed = errors.New("rabbitmq client closed")
)

// Config holds RabbitMQ connection configuration
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	VHost              string
	ExchangeName       string
	ExchangeType       string
	ExchangeDurable    bool
	ExchangeAutoDelete bool
	QueueName          string
	QueueDurable       bool
	QueueAutoDelete    bool
	QueueExclusive     bool
	RoutingKey         string
	RetryAttempts      int
	RetryInterval      time.Duration
	Heartbeat          time.Duration
	ConnectionTimeout  time.Duration
	PublishRetries     int
	PublishRetryDelay  time.Duration
	PublishBackoffMult float64
	ConfirmTimeout     time.Duration
	PrefetchCount      int
}

// URL builds the AMQP URI with credentials escaped. An empty vhost or "/"
// selects the broker's default vhost.
func (c *Config) URL() string {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + strings.TrimPrefix(c.VHost, "/"),
	}
	return u.String()
}

// publishBackoff returns the wait before retry number attempt (0-based)
func (c *Config) publishBackoff(attempt int) time.Duration {
	base := c.PublishRetryDelay
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	mult := c.PublishBackoffMult
	if mult <= 0 {
		mult = 2.0
	}
	return time.Duration(float64(base) * math.Pow(mult, float64(attempt)))
}

// Client owns one connection and one confirm-mode channel. A supervisor
// goroutine reopens both when the broker drops the connection.
type Client struct {
	config *Config
	logger *slog.Logger

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel

	connected atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewClient dials the broker, declares the topology and starts supervising
// the connection
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	c := &Client{
		config: config,
		logger: logger,
		done:   make(chan struct{}),
	}

	closed, err := c.connect()
	if err != nil {
		return nil, fmt.Errorf("failed to create RabbitMQ client: %w", err)
	}

	c.wg.Add(1)
	go c.supervise(closed)

	return c, nil
}

// connect dials with retries and installs a fresh channel. The returned
// channel fires when the new connection closes.
func (c *Client) connect() (chan *amqp.Error, error) {
	attempts := max(c.config.RetryAttempts, 1)
	amqpConfig := amqp.Config{
		Heartbeat: c.config.Heartbeat,
		Locale:    "en_US",
	}
	if c.config.ConnectionTimeout > 0 {
		amqpConfig.Dial = amqp.DefaultDial(c.config.ConnectionTimeout)
	}

	var conn *amqp.Connection
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		conn, err = amqp.DialConfig(c.config.URL(), amqpConfig)
		if err == nil {
			break
		}

		c.logger.Warn("Failed to connect to RabbitMQ",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
			slog.Any("error", err),
		)
		if attempt < attempts {
			select {
			case <-c.done:
				return nil, ErrClosed
			case <-time.After(c.config.RetryInterval):
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempts, err)
	}

	ch, err := c.openChannel(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))

	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		ch.Close()
		conn.Close()
		return nil, ErrClosed
	default:
	}
	c.conn, c.channel = conn, ch
	c.mu.Unlock()
	c.connected.Store(true)

	c.logger.Info("RabbitMQ client connected",
		slog.String("exchange", c.config.ExchangeName),
		slog.String("queue", c.config.QueueName),
	)
	return closed, nil
}

// openChannel declares exchange, queue and binding, then switches the
// channel into confirm mode
func (c *Client) openChannel(conn *amqp.Connection) (*amqp.Channel, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(c.config.ExchangeName, c.config.ExchangeType,
		c.config.ExchangeDurable, c.config.ExchangeAutoDelete, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	if _, err := ch.QueueDeclare(c.config.QueueName, c.config.QueueDurable,
		c.config.QueueAutoDelete, c.config.QueueExclusive, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.QueueBind(c.config.QueueName, c.config.RoutingKey, c.config.ExchangeName, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to bind queue: %w", err)
	}

	if c.config.PrefetchCount > 0 {
		if err := ch.Qos(c.config.PrefetchCount, 0, false); err != nil {
			ch.Close()
			return nil, fmt.Errorf("failed to set qos: %w", err)
		}
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	return ch, nil
}

// supervise marks the client disconnected when the connection drops and
// keeps redialing until it is back or Close is called
func (c *Client) supervise(closed chan *amqp.Error) {
	defer c.wg.Done()

	for {
		select {
		case <-c.done:
			return
		case amqpErr, ok := <-closed:
			c.connected.Store(false)
			if !ok || amqpErr == nil {
				// closed on purpose
				return
			}

			c.logger.Error("RabbitMQ connection lost, reconnecting",
				slog.Int("code", amqpErr.Code),
				slog.String("reason", amqpErr.Reason),
			)

			for {
				next, err := c.connect()
				if err == nil {
					closed = next
					break
				}
				if errors.Is(err, ErrClosed) {
					return
				}
				c.logger.Error("RabbitMQ reconnect failed", slog.Any("error", err))

				select {
				case <-c.done:
					return
				case <-time.After(c.config.RetryInterval):
				}
			}
		}
	}
}

// Consume starts consuming from the queue with manual acks. The delivery
// channel closes if the connection drops; consumers are expected to exit
// and be restarted.
func (c *Client) Consume(consumerTag string) (<-chan amqp.Delivery, error) {
	ch, err := c.currentChannel()
	if err != nil {
		return nil, err
	}

	deliveries, err := ch.Consume(c.config.QueueName, consumerTag, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to consume messages: %w", err)
	}

	c.logger.Info("Started consuming messages from RabbitMQ",
		slog.String("queue", c.config.QueueName),
		slog.String("consumer_tag", consumerTag),
	)
	return deliveries, nil
}

func (c *Client) currentChannel() (*amqp.Channel, error) {
	if !c.connected.Load() {
		return nil, ErrNotConnected
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.channel == nil || c.channel.IsClosed() {
		return nil, ErrNotConnected
	}
	return c.channel, nil
}

// Close stops the supervisor and closes the channel and connection
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	c.connected.Store(false)

	c.mu.Lock()
	ch, conn := c.channel, c.conn
	c.channel, c.conn = nil, nil
	c.mu.Unlock()

	if ch != nil {
		if err := ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			c.logger.Warn("Failed to close RabbitMQ channel", slog.Any("error", err))
		}
	}

	var err error
	if conn != nil {
		if err = conn.Close(); err != nil && errors.Is(err, amqp.ErrClosed) {
			err = nil
		}
	}

	c.wg.Wait()
	c.logger.Info("RabbitMQ connection closed")
	return err
}

// IsConnected reports whether the connection is currently up
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// HealthCheck fails while the client is reconnecting
func (c *Client) HealthCheck(context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// PublishWithRetry publishes a persistent message and waits for the broker
// to confirm it. Not-connected, nack and confirm timeouts are retried with
// exponential backoff.
func (c *Client) PublishWithRetry(ctx context.Context, messageID string, body []byte, contentType string) error {
	retries := c.config.PublishRetries
	if retries <= 0 {
		retries = 3
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			wait := c.config.publishBackoff(attempt - 1)
			c.logger.Warn("Retrying RabbitMQ publish",
				slog.String("message_id", messageID),
				slog.Int("attempt", attempt+1),
				slog.Duration("after", wait),
				slog.Any("error", lastErr),
			)
			select {
			case <-ctx.Done():
				return fmt.Errorf("publish cancelled: %w", ctx.Err())
			case <-c.done:
				return ErrClosed
			case <-time.After(wait):
			}
		}

		lastErr = c.publishConfirmed(ctx, amqp.Publishing{
			ContentType:  contentType,
			MessageId:    messageID,
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		})
		if lastErr == nil {
			c.logger.Debug("Message confirmed by RabbitMQ",
				slog.String("message_id", messageID),
				slog.Int("attempts", attempt+1),
			)
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("publish cancelled: %w", lastErr)
		}
	}

	return fmt.Errorf("failed to publish message %s after %d attempts: %w", messageID, retries+1, lastErr)
}

func (c *Client) publishConfirmed(ctx context.Context, msg amqp.Publishing) error {
	ch, err := c.currentChannel()
	if err != nil {
		return err
	}

	confirmCtx := ctx
	if c.config.ConfirmTimeout > 0 {
		var cancel context.CancelFunc
		confirmCtx, cancel = context.WithTimeout(ctx, c.config.ConfirmTimeout)
		defer cancel()
	}

	confirm, err := ch.PublishWithDeferredConfirmWithContext(confirmCtx,
		c.config.ExchangeName, c.config.RoutingKey, false, false, msg)
	if err != nil {
		return fmt.Errorf("failed to publish: %w", err)
	}

	acked, err := confirm.WaitContext(confirmCtx)
	if err != nil {
		return fmt.Errorf("failed waiting for confirm: %w", err)
	}
	if !acked {
		return ErrNacked
	}
	return nil
}

// PublishJSON encodes v and publishes it with retries
func (c *Client) PublishJSON(ctx context.Context, messageID string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return c.PublishWithRetry(ctx, messageID, body, "application/json")
}
