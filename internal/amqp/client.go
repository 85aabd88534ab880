package amqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"kasse/internal/notify"
)

// Client publishes ledger change signals to a fanout exchange. Each
// subscription binds its own exclusive, auto-deleted queue so every process
// sees every signal. A dropped connection is redialled on next use.
type Client struct {
	url          string
	exchangeName string
	dial         func(url string) (connection, error)

	mu      sync.Mutex // guards conn, channel and closed; amqp091 channels are not safe for concurrent publishing
	conn    connection
	channel *amqp091.Channel
	closed  bool
}

// connection is the part of *amqp091.Connection the client uses.
type connection interface {
	Channel() (*amqp091.Channel, error)
	IsClosed() bool
	Close() error
}

var errClientClosed = errors.New("amqp client closed")

var _ notify.Notifier = (*Client)(nil)

func NewClient(url, exchangeName string) (*Client, error) {
	client := &Client{
		url:          url,
		exchangeName: exchangeName,
		dial:         dialAMQP,
	}

	client.mu.Lock()
	_, err := client.publishChannel()
	client.mu.Unlock()
	if err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

func dialAMQP(url string) (connection, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// connection returns a live connection, dialling a new one when the broker
// dropped the old. Callers hold c.mu.
func (c *Client) connection() (connection, error) {
	if c.closed {
		return nil, errClientClosed
	}
	if c.conn != nil && !c.conn.IsClosed() {
		return c.conn, nil
	}

	if c.conn != nil {
		slog.Warn("AMQP connection lost, redialling", "exchange", c.exchangeName)
	}
	conn, err := c.dial(c.url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}
	c.conn = conn
	// channels of the old connection are dead
	c.channel = nil
	return conn, nil
}

// publishChannel returns the publishing channel, reopening it if needed.
// Callers hold c.mu.
func (c *Client) publishChannel() (*amqp091.Channel, error) {
	conn, err := c.connection()
	if err != nil {
		return nil, err
	}
	if c.channel != nil && !c.channel.IsClosed() {
		return c.channel, nil
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := c.setup(ch); err != nil {
		ch.Close()
		return nil, fmt.Errorf("setup exchange: %w", err)
	}
	c.channel = ch
	return ch, nil
}

func (c *Client) setup(ch *amqp091.Channel) error {
	err := ch.ExchangeDeclare(
		c.exchangeName, // name
		"fanout",       // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	return nil
}

// Publish sends an empty message; receivers re-read the ledger themselves.
func (c *Client) Publish(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	c.mu.Lock()
	ch, err := c.publishChannel()
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("publish change signal: %w", err)
	}
	err = ch.PublishWithContext(
		ctx,
		c.exchangeName, // exchange
		"",             // routing key, ignored by fanout
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			DeliveryMode: amqp091.Transient, // a missed signal is covered by polling
			Timestamp:    time.Now(),
		},
	)
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("publish change signal: %w", err)
	}

	slog.DebugContext(ctx, "Published change signal", "exchange", c.exchangeName)
	return nil
}

// Subscribe binds a private queue to the exchange. If the broker drops the
// consumer it is re-established with exponential backoff until the
// subscription is closed.
func (c *Client) Subscribe(ctx context.Context) (*notify.Subscription, error) {
	ch, deliveries, err := c.consume()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := notify.NewSubscription(cancel)

	go func() {
		defer sub.Close()
		for {
			c.forward(ctx, deliveries, sub)
			ch.Close()

			for attempt := 0; ; attempt++ {
				if ctx.Err() != nil {
					return
				}
				slog.WarnContext(ctx, "AMQP consumer lost, reconnecting", "exchange", c.exchangeName, "attempt", attempt)
				select {
				case <-ctx.Done():
					return
				case <-time.After(exponentialBackoff(attempt)):
				}
				ch, deliveries, err = c.consume()
				if err == nil {
					break
				}
				if errors.Is(err, errClientClosed) {
					return
				}
				slog.ErrorContext(ctx, "Failed to re-establish AMQP consumer", "error", err)
			}
		}
	}()

	slog.InfoContext(ctx, "Subscribed to change signals", "exchange", c.exchangeName)
	return sub, nil
}

func (c *Client) consume() (*amqp091.Channel, <-chan amqp091.Delivery, error) {
	c.mu.Lock()
	conn, err := c.connection()
	c.mu.Unlock()
	if err != nil {
		return nil, nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	if err := c.setup(ch); err != nil {
		ch.Close()
		return nil, nil, err
	}

	q, err := ch.QueueDeclare(
		"",    // name, broker generated
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		return nil, nil, fmt.Errorf("declare queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, "", c.exchangeName, false, nil); err != nil {
		ch.Close()
		return nil, nil, fmt.Errorf("bind queue: %w", err)
	}

	deliveries, err := ch.Consume(
		q.Name, // queue
		"",     // consumer
		true,   // auto-ack, signals carry nothing worth redelivering
		true,   // exclusive
		false,  // no-local
		false,  // no-wait
		nil,    // args
	)
	if err != nil {
		ch.Close()
		return nil, nil, fmt.Errorf("start consuming: %w", err)
	}
	return ch, deliveries, nil
}

// forward turns deliveries into subscription signals until ctx ends or the
// delivery channel closes.
func (c *Client) forward(ctx context.Context, deliveries <-chan amqp091.Delivery, sub *notify.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-deliveries:
			if !ok {
				return
			}
			sub.Signal()
		}
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil && !c.conn.IsClosed() {
		return c.conn.Close()
	}
	return nil
}

// exponentialBackoff returns 1s, 2s, 4s ... capped at 30s.
func exponentialBackoff(attempt int) time.Duration {
	if attempt > 5 {
		return 30 * time.Second
	}
	d := time.Second << attempt
	if d > 30*time.Second {
		return 30 * time.Second
	}
	return d
}
