package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rizkirmdhn/beasiswa/internal/common/config"
	"github.com/rizkirmdhn/beasiswa/internal/common/logger"
	"github.com/sirupsen/logrus"
)

// Handler processes one delivery. Returning an error requeues it.
type Handler func(body []byte, routingKey string) error

// Client defines the messaging client interface
type Client interface {
	// PublishJSON publishes a JSON message to the exchange with the given routing key
	PublishJSON(exchange, routingKey string, data interface{}) error

	// DeclareQueue declares a queue with the given name
	DeclareQueue(name string) error

	// BindQueue binds a queue to an exchange with the given routing key
	BindQueue(queueName, exchange, routingKey string) error

	// ConsumeWithContext consumes messages from the given queue until ctx is done
	ConsumeWithContext(ctx context.Context, queueName string, handler Handler) error

	// Close closes the connection
	Close() error
}

// RabbitMQClient implements the Client interface using RabbitMQ
type RabbitMQClient struct {
	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel
	config  *config.RabbitMQConfig
	log     *logger.ComponentLogger
	closed  bool

	// subscribe registers a consumer on the current channel
	subscribe func(queueName string) (<-chan amqp.Delivery, error)
}

var _ Client = (*RabbitMQClient)(nil)

// NewRabbitMQClient creates a new RabbitMQ client
func NewRabbitMQClient(cfg *config.RabbitMQConfig, log *logrus.Logger) (*RabbitMQClient, error) {
	if cfg.URL == "" {
		return nil, errors.New("rabbitmq URL is required")
	}

	if cfg.Exchange == "" {
		return nil, errors.New("rabbitmq exchange name is required")
	}

	client := &RabbitMQClient{
		config: cfg,
		log:    logger.NewComponentLogger(log, "messaging"),
	}
	client.subscribe = client.channelSubscribe

	if err := client.connect(); err != nil {
		return nil, err
	}

	return client, nil
}

// Config returns the broker configuration
func (c *RabbitMQClient) Config() *config.RabbitMQConfig {
	return c.config
}

// connect establishes a connection to RabbitMQ
func (c *RabbitMQClient) connect() error {
	conn, err := amqp.Dial(c.config.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open a channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		c.config.Exchange,        // name
		config.ExchangeTypeTopic, // type
		true,                     // durable
		false,                    // auto-deleted
		false,                    // internal
		false,                    // no-wait
		nil,                      // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to declare an exchange: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.channel = channel
	c.mu.Unlock()

	go c.handleReconnect(conn)

	return nil
}

// handleReconnect attempts to reconnect to RabbitMQ when the connection is lost
func (c *RabbitMQClient) handleReconnect(conn *amqp.Connection) {
	err, ok := <-conn.NotifyClose(make(chan *amqp.Error, 1))
	if !ok {
		// Closed on purpose
		return
	}

	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return
	}

	c.log.WithError(err).Warn("RabbitMQ connection closed, attempting to reconnect")

	for i := 0; i < c.config.ReconnectRetries; i++ {
		time.Sleep(time.Duration(c.config.ReconnectTimeout) * time.Millisecond)

		if err := c.connect(); err == nil {
			c.log.Entry().Info("Successfully reconnected to RabbitMQ")
			return
		}

		c.log.WithFields(logrus.Fields{
			"attempt": i + 1,
			"retries": c.config.ReconnectRetries,
		}).Warn("Failed to reconnect to RabbitMQ")
	}

	c.log.Entry().Error("Failed to reconnect to RabbitMQ after multiple attempts")
}

func (c *RabbitMQClient) ch() (*amqp.Channel, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.channel == nil || c.channel.IsClosed() {
		return nil, errors.New("rabbitmq channel is not open")
	}
	return c.channel, nil
}

// PublishJSON publishes a JSON message to the exchange with the given routing key
func (c *RabbitMQClient) PublishJSON(exchange, routingKey string, data interface{}) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON message: %w", err)
	}

	if exchange == "" {
		exchange = c.config.Exchange
	}

	ch, err := c.ch()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return ch.PublishWithContext(ctx,
		exchange,   // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
}

// DeclareQueue declares a queue with the given name
func (c *RabbitMQClient) DeclareQueue(name string) error {
	ch, err := c.ch()
	if err != nil {
		return err
	}
	_, err = ch.QueueDeclare(
		name,  // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	return err
}

// BindQueue binds a queue to an exchange with the given routing key
func (c *RabbitMQClient) BindQueue(queueName, exchange, routingKey string) error {
	if exchange == "" {
		exchange = c.config.Exchange
	}

	ch, err := c.ch()
	if err != nil {
		return err
	}
	return ch.QueueBind(
		queueName,  // queue name
		routingKey, // routing key
		exchange,   // exchange
		false,      // no-wait
		nil,        // arguments
	)
}

// ConsumeWithContext consumes messages from the given queue until ctx is done. When the
// delivery channel closes, e.g. after a reconnect, the consumer subscribes again.
func (c *RabbitMQClient) ConsumeWithContext(ctx context.Context, queueName string, handler Handler) error {
	msgs, err := c.subscribe(queueName)
	if err != nil {
		return err
	}

	go c.consumeLoop(ctx, queueName, msgs, handler)

	return nil
}

// channelSubscribe declares the queue and registers a consumer on the current channel
func (c *RabbitMQClient) channelSubscribe(queueName string) (<-chan amqp.Delivery, error) {
	// Ensure queue exists
	if err := c.DeclareQueue(queueName); err != nil {
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	ch, err := c.ch()
	if err != nil {
		return nil, err
	}

	msgs, err := ch.Consume(
		queueName, // queue
		"",        // consumer
		false,     // auto-ack
		false,     // exclusive
		false,     // no-local
		false,     // no-wait
		nil,       // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register a consumer: %w", err)
	}
	return msgs, nil
}

func (c *RabbitMQClient) consumeLoop(ctx context.Context, queueName string, msgs <-chan amqp.Delivery, handler Handler) {
	entry := c.log.WithField("queue", queueName)
	for {
		c.deliver(ctx, queueName, msgs, handler)
		if ctx.Err() != nil {
			entry.Info("Consumer stopped due to context cancellation")
			return
		}
		if c.isClosed() {
			entry.Info("Consumer stopped, client closed")
			return
		}

		entry.Warn("Consumer channel closed, subscribing again")
		msgs = nil
		for msgs == nil {
			if !sleep(ctx, c.retryDelay()) || c.isClosed() {
				return
			}
			var err error
			if msgs, err = c.subscribe(queueName); err != nil {
				entry.WithError(err).Warn("Failed to subscribe again, retrying")
			}
		}
		entry.Info("Consumer subscribed again")
	}
}

// deliver hands messages to handler until ctx is done or msgs closes
func (c *RabbitMQClient) deliver(ctx context.Context, queueName string, msgs <-chan amqp.Delivery, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}

			if err := handler(msg.Body, msg.RoutingKey); err != nil {
				c.log.WithFields(logrus.Fields{
					"queue":       queueName,
					"routing_key": msg.RoutingKey,
				}).WithError(err).Error("Error processing message")
				// Negative acknowledgement, message will be requeued
				msg.Nack(false, true)
			} else {
				msg.Ack(false)
			}
		}
	}
}

func (c *RabbitMQClient) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *RabbitMQClient) retryDelay() time.Duration {
	if c.config.ReconnectTimeout <= 0 {
		return time.Second
	}
	return time.Duration(c.config.ReconnectTimeout) * time.Millisecond
}

// sleep waits for d and reports false if ctx ended first
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Close closes the connection and channel
func (c *RabbitMQClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if c.channel != nil {
		c.channel.Close()
	}

	if c.conn != nil {
		return c.conn.Close()
	}

	return nil
}
