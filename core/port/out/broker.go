package out

import "context"

// BrokerMessage is one unit of work pulled off a queue via BasicGet.
type BrokerMessage struct {
	Body      []byte
	AppID     string // agent identifier carried as the AMQP app-id property
	DeliveryTag uint64
}

// BrokerClient is the thread-safe, pooled connection wrapper the outbound
// and inbound workers share: declared queues, priority publish, and
// basic-get consumption, grounded on a RabbitMQ client's connection-pool
// semantics.
type BrokerClient interface {
	// DeclareQueue declares a durable (when durable=true) queue, optionally
	// with a priority ceiling (x-max-priority). A maxPriority of 0 means no
	// priority feature is enabled on the queue.
	DeclareQueue(ctx context.Context, name string, maxPriority uint8, durable bool) error

	// Publish sends body to exchange with routingKey, at the given
	// priority (0 when the queue has no priority feature), persisted when
	// persistent is true.
	Publish(ctx context.Context, exchange, routingKey string, body []byte, priority uint8, persistent bool) error

	// BasicGet performs a single non-blocking fetch; ok is false when the
	// queue was empty. The caller must Ack or Nack the returned message.
	BasicGet(ctx context.Context, queue string, autoAck bool) (msg BrokerMessage, ok bool, err error)

	// Ack/Nack acknowledge or reject a message previously returned by
	// BasicGet, identified by its delivery tag.
	Ack(ctx context.Context, deliveryTag uint64) error
	Nack(ctx context.Context, deliveryTag uint64, requeue bool) error

	Close() error
}
