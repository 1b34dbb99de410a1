// Package mqclient wraps a single RabbitMQ connection and channel with the
// topology declarations, publish/consume primitives, and disposition
// calls the consumer runtime needs. A Client owns exactly one connection;
// losing it is fatal and is never retried here — the caller is expected
// to log it as critical and exit so an external supervisor restarts the
// process, per the pipeline's at-least-once delivery contract.
package mqclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Address identifies the broker a Client dials.
type Address struct {
	Host     string
	Port     int
	User     string
	Password string
	Vhost    string
}

func (a Address) url() string {
	vhost := a.Vhost
	if vhost == "/" {
		vhost = ""
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%d/%s", a.User, a.Password, a.Host, a.Port, vhost)
}

// Topology is the idempotent set of broker objects one consumer queue
// needs: its project exchange, its own durable queue, the binding, and
// — when DeadLetter is set — a sibling <queue>.deadletter queue bound to
// a per-project dead-letter exchange on the same routing key.
type Topology struct {
	Exchange   string
	Queue      string
	RoutingKey string
	DeadLetter bool
}

func (t Topology) deadLetterExchange() string { return t.Exchange + ".deadletter" }
func (t Topology) deadLetterQueue() string    { return t.Queue + ".deadletter" }

// Broker is the surface the consumer runtime and stage handlers need from
// a broker connection. *Client is the only production implementation;
// stage tests substitute a fake that only implements Publish, embedding
// Broker for the rest so the compiler doesn't force them to stub methods
// they never call.
type Broker interface {
	DeclareTopology(t Topology) error
	Consume(queue string) (<-chan amqp.Delivery, error)
	NotifyClose() <-chan *amqp.Error
	Publish(ctx context.Context, exchange, routingKey string, payload any) error
	Ack(tag uint64) error
	NackRequeue(tag uint64) error
	RejectNoRequeue(tag uint64) error
}

// Client is a thin, single-connection façade over amqp091-go. It is safe
// for one goroutine to publish and one goroutine to consume concurrently
// (the underlying channel serialises frames internally), but it is not
// pooled — one Client per consumer process, matching the database
// gateway's one-connection-per-process model.
type Client struct {
	conn *amqp.Connection
	ch   *amqp.Channel

	mu     sync.Mutex
	closed bool
}

var _ Broker = (*Client)(nil)

// Dial opens the broker connection and a single channel.
func Dial(addr Address) (*Client, error) {
	conn, err := amqp.Dial(addr.url())
	if err != nil {
		return nil, &TransportError{Op: "dial", Cause: err}
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, &TransportError{Op: "open channel", Cause: err}
	}
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, &TransportError{Op: "set qos", Cause: err}
	}
	return &Client{conn: conn, ch: ch}, nil
}

// NotifyClose returns a channel that receives exactly one *amqp.Error (or
// is closed with a nil value) when the underlying connection drops. The
// consumer runtime selects on this alongside its receive loop and treats
// any signal as fatal.
func (c *Client) NotifyClose() <-chan *amqp.Error {
	out := make(chan *amqp.Error, 1)
	c.conn.NotifyClose(out)
	return out
}

// DeclareTopology declares the exchange, queue, and binding for t,
// including dead-letter objects when t.DeadLetter is set. Declarations
// are idempotent; calling this repeatedly with the same Topology is safe.
func (c *Client) DeclareTopology(t Topology) error {
	if err := c.ch.ExchangeDeclare(t.Exchange, "topic", true, false, false, false, nil); err != nil {
		return &TransportError{Op: "declare exchange " + t.Exchange, Cause: err}
	}

	args := amqp.Table{}
	if t.DeadLetter {
		if err := c.ch.ExchangeDeclare(t.deadLetterExchange(), "topic", true, false, false, false, nil); err != nil {
			return &TransportError{Op: "declare dead-letter exchange " + t.deadLetterExchange(), Cause: err}
		}
		dlq, err := c.ch.QueueDeclare(t.deadLetterQueue(), true, false, false, false, nil)
		if err != nil {
			return &TransportError{Op: "declare dead-letter queue " + t.deadLetterQueue(), Cause: err}
		}
		if err := c.ch.QueueBind(dlq.Name, t.RoutingKey, t.deadLetterExchange(), false, nil); err != nil {
			return &TransportError{Op: "bind dead-letter queue " + t.deadLetterQueue(), Cause: err}
		}
		args["x-dead-letter-exchange"] = t.deadLetterExchange()
	}

	q, err := c.ch.QueueDeclare(t.Queue, true, false, false, false, args)
	if err != nil {
		return &TransportError{Op: "declare queue " + t.Queue, Cause: err}
	}
	if err := c.ch.QueueBind(q.Name, t.RoutingKey, t.Exchange, false, nil); err != nil {
		return &TransportError{Op: "bind queue " + t.Queue, Cause: err}
	}
	return nil
}

// Publish JSON-encodes payload and publishes it to exchange under
// routingKey with persistent delivery mode, tagging it with a fresh
// correlation id for dead-letter forensics.
func (c *Client) Publish(ctx context.Context, exchange, routingKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("mqclient: encode envelope for %s: %w", routingKey, err)
	}
	err = c.ch.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		CorrelationId: uuid.NewString(),
		Timestamp:     time.Now(),
		Body:          body,
	})
	if err != nil {
		return &TransportError{Op: "publish " + routingKey, Cause: err}
	}
	return nil
}

// Consume registers a manual-ack subscription on queue and returns the
// delivery channel. Qos(1) was set at Dial, so at most one unacknowledged
// delivery is ever in flight on this channel.
func (c *Client) Consume(queue string) (<-chan amqp.Delivery, error) {
	deliveries, err := c.ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, &TransportError{Op: "consume " + queue, Cause: err}
	}
	return deliveries, nil
}

// Ack acknowledges successful processing of a delivery.
func (c *Client) Ack(tag uint64) error {
	if err := c.ch.Ack(tag, false); err != nil {
		return &TransportError{Op: "ack", Cause: err}
	}
	return nil
}

// NackRequeue returns a delivery to the head of its queue for retry.
func (c *Client) NackRequeue(tag uint64) error {
	if err := c.ch.Nack(tag, false, true); err != nil {
		return &TransportError{Op: "nack-requeue", Cause: err}
	}
	return nil
}

// RejectNoRequeue discards a delivery, routing it to the dead-letter
// queue when the consumer's topology declared one.
func (c *Client) RejectNoRequeue(tag uint64) error {
	if err := c.ch.Nack(tag, false, false); err != nil {
		return &TransportError{Op: "reject-no-requeue", Cause: err}
	}
	return nil
}

// Close releases the channel and connection. Safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var firstErr error
	if c.ch != nil {
		if err := c.ch.Close(); err != nil {
			firstErr = err
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
