package broker

import (
	"context"
	"net"

	amqp "github.com/rabbitmq/amqp091-go"
)

// amqpChannel is the subset of *amqp.Channel the supervisor needs. It exists so Run's state machine can be
// exercised against a fake in tests without a live broker.
type amqpChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	NotifyClose(c chan *amqp.Error) chan *amqp.Error
	Close() error
}

// amqpConnection is the subset of *amqp.Connection the supervisor needs.
type amqpConnection interface {
	OpenChannel() (amqpChannel, error)
	NotifyBlocked(c chan amqp.Blocking) chan amqp.Blocking
	Close() error
}

// realConnection adapts *amqp.Connection to amqpConnection.
type realConnection struct {
	conn *amqp.Connection
}

func (c *realConnection) OpenChannel() (amqpChannel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func (c *realConnection) NotifyBlocked(ch chan amqp.Blocking) chan amqp.Blocking {
	return c.conn.NotifyBlocked(ch)
}

func (c *realConnection) Close() error { return c.conn.Close() }

// dialAMQP opens a real AMQP connection using the supervisor's configured heartbeat, blocked-connection timeout, and
// socket dial timeout (the Go analogs of pika's ConnectionParameters(blocked_connection_timeout=10,
// socket_timeout=5) in rabbitmq_service.py): SocketTimeout bounds the underlying TCP dial via a custom net.Dialer
// passed as amqp.Config.Dial, and BlockedConnectionTimeout is amqp091-go's native Config field of the same name.
func dialAMQP(cfg Config) (amqpConnection, error) {
	dialer := &net.Dialer{Timeout: cfg.SocketTimeout}
	conn, err := amqp.DialConfig(cfg.URL, amqp.Config{
		Heartbeat:                cfg.Heartbeat,
		BlockedConnectionTimeout: cfg.BlockedConnectionTimeout,
		Dial: func(network, addr string) (net.Conn, error) {
			return dialer.Dial(network, addr)
		},
	})
	if err != nil {
		return nil, err
	}
	return &realConnection{conn: conn}, nil
}
