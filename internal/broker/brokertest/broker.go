// Package brokertest provides an in-memory broker implementing broker.ChannelOpener.
// It mimics the parts of AMQP 0-9-1 the messaging roles use: the default exchange,
// topic exchanges with * and # bindings, server-named queues, manual ack/nack and
// passive declares. It exists for tests only.
package brokertest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/Guizzs26/go-social-mesh/internal/broker"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrDown is returned by every operation while the broker is marked down
var ErrDown = errors.New("brokertest: broker down")

type binding struct {
	queue    string
	key      string
	exchange string
}

type queue struct {
	name      string
	messages  chan amqp.Delivery
	mu        sync.Mutex
	inflight  map[uint64]amqp.Delivery
	consumers atomic.Int32
	acked     atomic.Int64
	nacked    atomic.Int64
	requeued  atomic.Int64
}

// Broker is a process-local stand-in for RabbitMQ
type Broker struct {
	mu        sync.Mutex
	exchanges map[string]string
	queues    map[string]*queue
	bindings  []binding
	published []Published
	down      bool
	failNext  int
	failErr   error
	seq       atomic.Uint64
	channels  []*Channel
}

// Published records one accepted publish for assertions
type Published struct {
	Exchange   string
	RoutingKey string
	Msg        amqp.Publishing
}

// New creates an empty broker with no exchanges or queues
func New() *Broker {
	return &Broker{
		exchanges: map[string]string{},
		queues:    map[string]*queue{},
	}
}

func (b *Broker) Channel() (broker.Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return nil, ErrDown
	}
	ch := &Channel{b: b, done: make(chan struct{})}
	b.channels = append(b.channels, ch)
	return ch, nil
}

func (b *Broker) ConfirmChannel() (broker.Channel, error) {
	return b.Channel()
}

// SetDown marks the broker unreachable. Going down closes every open channel
func (b *Broker) SetDown(down bool) {
	b.mu.Lock()
	b.down = down
	var open []*Channel
	if down {
		open = b.channels
		b.channels = nil
	}
	b.mu.Unlock()

	for _, ch := range open {
		ch.Close()
	}
}

// FailPublishes makes the next n publishes fail with err
func (b *Broker) FailPublishes(n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failNext = n
	b.failErr = err
}

// Published returns every publish accepted so far, in order
func (b *Broker) Published() []Published {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Published, len(b.published))
	copy(out, b.published)
	return out
}

// ConsumerCount reports the active consumers on a queue
func (b *Broker) ConsumerCount(name string) int {
	b.mu.Lock()
	q, ok := b.queues[name]
	b.mu.Unlock()
	if !ok {
		return 0
	}
	return int(q.consumers.Load())
}

// Acks reports how many deliveries of the queue were acked, nacked and requeued
func (b *Broker) Acks(name string) (acked, nacked, requeued int64) {
	b.mu.Lock()
	q, ok := b.queues[name]
	b.mu.Unlock()
	if !ok {
		return 0, 0, 0
	}
	return q.acked.Load(), q.nacked.Load(), q.requeued.Load()
}

func (b *Broker) declareQueue(name string) *queue {
	b.mu.Lock()
	defer b.mu.Unlock()
	if name == "" {
		name = fmt.Sprintf("amq.gen-%d", b.seq.Add(1))
	}
	q, ok := b.queues[name]
	if !ok {
		q = &queue{name: name, messages: make(chan amqp.Delivery, 4096), inflight: map[uint64]amqp.Delivery{}}
		b.queues[name] = q
	}
	return q
}

func (b *Broker) publish(exchange, key string, msg amqp.Publishing) error {
	b.mu.Lock()
	if b.down {
		b.mu.Unlock()
		return ErrDown
	}
	if b.failNext > 0 {
		b.failNext--
		err := b.failErr
		b.mu.Unlock()
		return err
	}

	var targets []*queue
	if exchange == "" {
		if q, ok := b.queues[key]; ok {
			targets = append(targets, q)
		}
	} else {
		if _, ok := b.exchanges[exchange]; !ok {
			b.mu.Unlock()
			return &amqp.Error{Code: amqp.NotFound, Reason: "NOT_FOUND - no exchange '" + exchange + "'"}
		}
		seen := map[string]bool{}
		for _, bd := range b.bindings {
			if bd.exchange == exchange && !seen[bd.queue] && TopicMatch(bd.key, key) {
				seen[bd.queue] = true
				targets = append(targets, b.queues[bd.queue])
			}
		}
	}
	b.published = append(b.published, Published{Exchange: exchange, RoutingKey: key, Msg: msg})
	b.mu.Unlock()

	for _, q := range targets {
		q.messages <- amqp.Delivery{
			Acknowledger:  q,
			Headers:       msg.Headers,
			ContentType:   msg.ContentType,
			DeliveryMode:  msg.DeliveryMode,
			CorrelationId: msg.CorrelationId,
			ReplyTo:       msg.ReplyTo,
			MessageId:     msg.MessageId,
			Timestamp:     msg.Timestamp,
			Type:          msg.Type,
			DeliveryTag:   b.seq.Add(1),
			Exchange:      exchange,
			RoutingKey:    key,
			Body:          append([]byte(nil), msg.Body...),
		}
	}
	return nil
}

func (q *queue) track(d amqp.Delivery) {
	q.mu.Lock()
	q.inflight[d.DeliveryTag] = d
	q.mu.Unlock()
}

func (q *queue) settle(tag uint64) (amqp.Delivery, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	d, ok := q.inflight[tag]
	delete(q.inflight, tag)
	return d, ok
}

func (q *queue) Ack(tag uint64, multiple bool) error {
	q.settle(tag)
	q.acked.Add(1)
	return nil
}

func (q *queue) Nack(tag uint64, multiple, requeue bool) error {
	d, ok := q.settle(tag)
	q.nacked.Add(1)
	if requeue && ok {
		q.requeued.Add(1)
		d.Redelivered = true
		q.messages <- d
	}
	return nil
}

func (q *queue) Reject(tag uint64, requeue bool) error {
	return q.Nack(tag, false, requeue)
}

// TopicMatch reports whether an AMQP topic binding pattern matches a routing key
func TopicMatch(pattern, key string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(key, "."))
}

func matchWords(p, k []string) bool {
	if len(p) == 0 {
		return len(k) == 0
	}
	switch p[0] {
	case "#":
		for i := 0; i <= len(k); i++ {
			if matchWords(p[1:], k[i:]) {
				return true
			}
		}
		return false
	case "*":
		return len(k) > 0 && matchWords(p[1:], k[1:])
	default:
		return len(k) > 0 && p[0] == k[0] && matchWords(p[1:], k[1:])
	}
}

// Channel is one virtual channel on the in-memory broker
type Channel struct {
	b         *Broker
	done      chan struct{}
	closeOnce sync.Once
}

func (c *Channel) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Channel) check() error {
	if c.closed() {
		return amqp.ErrClosed
	}
	c.b.mu.Lock()
	down := c.b.down
	c.b.mu.Unlock()
	if down {
		return ErrDown
	}
	return nil
}

func (c *Channel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	if err := c.check(); err != nil {
		return err
	}
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	if existing, ok := c.b.exchanges[name]; ok && existing != kind {
		return &amqp.Error{Code: amqp.PreconditionFailed, Reason: "PRECONDITION_FAILED - inequivalent arg 'type'"}
	}
	c.b.exchanges[name] = kind
	return nil
}

func (c *Channel) ExchangeDeclarePassive(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	if err := c.check(); err != nil {
		return err
	}
	c.b.mu.Lock()
	_, ok := c.b.exchanges[name]
	c.b.mu.Unlock()
	if !ok {
		c.Close()
		return &amqp.Error{Code: amqp.NotFound, Reason: "NOT_FOUND - no exchange '" + name + "'"}
	}
	return nil
}

func (c *Channel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	if err := c.check(); err != nil {
		return amqp.Queue{}, err
	}
	q := c.b.declareQueue(name)
	return amqp.Queue{Name: q.name, Messages: len(q.messages), Consumers: int(q.consumers.Load())}, nil
}

func (c *Channel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	if err := c.check(); err != nil {
		return err
	}
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	if _, ok := c.b.queues[name]; !ok {
		return &amqp.Error{Code: amqp.NotFound, Reason: "NOT_FOUND - no queue '" + name + "'"}
	}
	if _, ok := c.b.exchanges[exchange]; !ok {
		return &amqp.Error{Code: amqp.NotFound, Reason: "NOT_FOUND - no exchange '" + exchange + "'"}
	}
	for _, bd := range c.b.bindings {
		if bd.queue == name && bd.key == key && bd.exchange == exchange {
			return nil
		}
	}
	c.b.bindings = append(c.b.bindings, binding{queue: name, key: key, exchange: exchange})
	return nil
}

func (c *Channel) Qos(prefetchCount, prefetchSize int, global bool) error {
	return c.check()
}

func (c *Channel) Consume(name, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	c.b.mu.Lock()
	q, ok := c.b.queues[name]
	c.b.mu.Unlock()
	if !ok {
		return nil, &amqp.Error{Code: amqp.NotFound, Reason: "NOT_FOUND - no queue '" + name + "'"}
	}

	out := make(chan amqp.Delivery)
	q.consumers.Add(1)

	go func() {
		defer close(out)
		defer q.consumers.Add(-1)
		for {
			select {
			case <-c.done:
				return
			case d := <-q.messages:
				if !autoAck {
					q.track(d)
				}
				select {
				case out <- d:
				case <-c.done:
					q.settle(d.DeliveryTag)
					// Hand the message back so another consumer can take it
					q.messages <- d
					return
				}
			}
		}
	}()

	return out, nil
}

func (c *Channel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if c.closed() {
		return amqp.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.b.publish(exchange, key, msg)
}

func (c *Channel) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}
