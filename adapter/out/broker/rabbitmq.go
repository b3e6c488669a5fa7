// Package broker implements the BrokerClient port against RabbitMQ,
// grounded on a pooled-connection RabbitMQ client's declare_queue/
// publish/basic_get/connection-pool shape.
package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/frappe/mail/core/port/out"
)

// Config bundles the connection parameters read from configuration.
type Config struct {
	Host         string
	Port         int
	VirtualHost  string
	Username     string
	Password     string
	PoolSize     int
	ConnTimeout  time.Duration
}

func (c Config) uri() string {
	if c.Username != "" {
		return fmt.Sprintf("amqp://%s:%s@%s:%d%s", c.Username, c.Password, c.Host, c.Port, vhostPath(c.VirtualHost))
	}
	return fmt.Sprintf("amqp://%s:%d%s", c.Host, c.Port, vhostPath(c.VirtualHost))
}

func vhostPath(vhost string) string {
	if vhost == "" || vhost == "/" {
		return "/"
	}
	return "/" + vhost
}

// pooledConn is one connection+channel pair, reused across Publish/
// BasicGet calls the way RabbitMQConnectionPool hands out RabbitMQ
// instances.
type pooledConn struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// Client is a thread-safe, pooled RabbitMQ client implementing
// out.BrokerClient.
type Client struct {
	cfg  Config
	mu   sync.Mutex
	pool []*pooledConn

	tagsMu  sync.Mutex
	tagChan map[uint64]*amqp.Channel
}

func New(cfg Config) *Client {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 1
	}
	return &Client{cfg: cfg, tagChan: make(map[uint64]*amqp.Channel)}
}

func (c *Client) acquire() (*pooledConn, error) {
	c.mu.Lock()
	if n := len(c.pool); n > 0 {
		pc := c.pool[n-1]
		c.pool = c.pool[:n-1]
		c.mu.Unlock()
		if pc.conn != nil && !pc.conn.IsClosed() {
			return pc, nil
		}
	} else {
		c.mu.Unlock()
	}
	return c.dial()
}

func (c *Client) release(pc *pooledConn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pool) >= c.cfg.PoolSize {
		pc.ch.Close()
		pc.conn.Close()
		return
	}
	c.pool = append(c.pool, pc)
}

func (c *Client) dial() (*pooledConn, error) {
	conn, err := amqp.DialConfig(c.cfg.uri(), amqp.Config{
		Dial: amqp.DefaultDial(c.cfg.ConnTimeout),
	})
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	return &pooledConn{conn: conn, ch: ch}, nil
}

func (c *Client) DeclareQueue(ctx context.Context, name string, maxPriority uint8, durable bool) error {
	pc, err := c.acquire()
	if err != nil {
		return err
	}
	defer c.release(pc)

	args := amqp.Table{}
	if maxPriority > 0 {
		args["x-max-priority"] = int(maxPriority)
	}
	_, err = pc.ch.QueueDeclare(name, durable, false, false, false, args)
	return err
}

func (c *Client) Publish(ctx context.Context, exchange, routingKey string, body []byte, priority uint8, persistent bool) error {
	pc, err := c.acquire()
	if err != nil {
		return err
	}
	defer c.release(pc)

	mode := amqp.Transient
	if persistent {
		mode = amqp.Persistent
	}
	return pc.ch.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		DeliveryMode: mode,
		Priority:     priority,
		Body:         body,
	})
}

func (c *Client) BasicGet(ctx context.Context, queue string, autoAck bool) (out.BrokerMessage, bool, error) {
	pc, err := c.acquire()
	if err != nil {
		return out.BrokerMessage{}, false, err
	}
	defer c.release(pc)

	delivery, ok, err := pc.ch.Get(queue, autoAck)
	if err != nil || !ok {
		return out.BrokerMessage{}, false, err
	}
	if !autoAck {
		c.tagsMu.Lock()
		c.tagChan[delivery.DeliveryTag] = pc.ch
		c.tagsMu.Unlock()
	}
	return out.BrokerMessage{
		Body:        delivery.Body,
		AppID:       delivery.AppId,
		DeliveryTag: delivery.DeliveryTag,
	}, true, nil
}

// Ack and Nack must use the exact channel a delivery tag was received on
// — amqp091-go scopes delivery tags per-channel — so BasicGet records
// that mapping instead of going back through the pool.
func (c *Client) Ack(ctx context.Context, deliveryTag uint64) error {
	ch, err := c.channelFor(deliveryTag)
	if err != nil {
		return err
	}
	return ch.Ack(deliveryTag, false)
}

func (c *Client) Nack(ctx context.Context, deliveryTag uint64, requeue bool) error {
	ch, err := c.channelFor(deliveryTag)
	if err != nil {
		return err
	}
	return ch.Nack(deliveryTag, false, requeue)
}

func (c *Client) channelFor(deliveryTag uint64) (*amqp.Channel, error) {
	c.tagsMu.Lock()
	defer c.tagsMu.Unlock()
	ch, ok := c.tagChan[deliveryTag]
	if !ok {
		return nil, fmt.Errorf("no channel recorded for delivery tag %d", deliveryTag)
	}
	delete(c.tagChan, deliveryTag)
	return ch, nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for _, pc := range c.pool {
		if err := pc.ch.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := pc.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.pool = nil
	return firstErr
}
