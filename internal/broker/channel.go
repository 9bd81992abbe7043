package broker

import (
	"context"
	"errors"

	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	// ErrNotConnected is returned by a Link while no broker connection is established
	ErrNotConnected = errors.New("broker: not connected")

	// ErrNacked means the broker refused to take responsibility for a confirmed publish
	ErrNacked = errors.New("broker: publish nacked")

	// ErrDeliveriesClosed means the consumer's delivery stream ended, usually because the channel died
	ErrDeliveriesClosed = errors.New("broker: delivery channel closed")
)

const ExchangeTopic = "topic"

// Channel is the subset of *amqp.Channel the messaging roles depend on.
// Implementations must allow PublishWithContext to be called from several goroutines
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	ExchangeDeclarePassive(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// ChannelOpener hands out channels on the process's shared connection.
// ConfirmChannel returns a channel whose publishes block until the broker acks them
type ChannelOpener interface {
	Channel() (Channel, error)
	ConfirmChannel() (Channel, error)
}

// DeclareTopicExchange declares the durable topic exchange used for domain events
func DeclareTopicExchange(ch Channel, name string) error {
	return ch.ExchangeDeclare(
		name,
		ExchangeTopic,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
}
