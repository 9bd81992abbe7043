package brokertest

import (
	"context"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

func TestTopicMatch(t *testing.T) {
	cases := []struct {
		pattern, key string
		want         bool
	}{
		{"user.*", "user.created", true},
		{"user.*", "user.created.v2", false},
		{"user.#", "user.created.v2", true},
		{"user.#", "user", true},
		{"#", "anything.at.all", true},
		{"*.deleted", "user.deleted", true},
		{"*.deleted", "user.updated", false},
		{"user.created", "user.created", true},
	}
	for _, tc := range cases {
		if got := TopicMatch(tc.pattern, tc.key); got != tc.want {
			t.Fatalf("TopicMatch(%q, %q) = %v, want %v", tc.pattern, tc.key, got, tc.want)
		}
	}
}

func TestTopicFanOutAndRequeue(t *testing.T) {
	b := New()
	ch, _ := b.Channel()
	if err := ch.ExchangeDeclare("user.events", "topic", true, false, false, false, nil); err != nil {
		t.Fatalf("declare exchange: %v", err)
	}
	for _, name := range []string{"feed.refs", "comm.refs"} {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			t.Fatalf("declare queue: %v", err)
		}
		if err := ch.QueueBind(name, "user.*", "user.events", false, nil); err != nil {
			t.Fatalf("bind: %v", err)
		}
	}

	msgs, err := ch.Consume("feed.refs", "", false, false, false, false, nil)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if err := ch.PublishWithContext(context.Background(), "user.events", "user.created", false, false, amqp.Publishing{Body: []byte("x")}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	d := receive(t, msgs)
	if err := d.Nack(false, true); err != nil {
		t.Fatalf("nack: %v", err)
	}
	d = receive(t, msgs)
	if !d.Redelivered {
		t.Fatalf("expected redelivered flag on requeued message")
	}
	d.Ack(false)

	acked, nacked, requeued := b.Acks("feed.refs")
	if acked != 1 || nacked != 1 || requeued != 1 {
		t.Fatalf("unexpected ack counters %d/%d/%d", acked, nacked, requeued)
	}

	other, _ := ch.Consume("comm.refs", "", true, false, false, false, nil)
	if d := receive(t, other); string(d.Body) != "x" {
		t.Fatalf("second queue got %q", d.Body)
	}
}

func TestPassiveDeclareOnMissingExchangeClosesChannel(t *testing.T) {
	b := New()
	ch, _ := b.Channel()
	if err := ch.ExchangeDeclarePassive("missing", "topic", true, false, false, false, nil); err == nil {
		t.Fatalf("expected error for missing exchange")
	}
	if _, err := ch.QueueDeclare("q", false, false, false, false, nil); err == nil {
		t.Fatalf("expected channel to be closed after failed passive declare")
	}
}

func receive(t *testing.T, msgs <-chan amqp.Delivery) amqp.Delivery {
	t.Helper()
	select {
	case d, ok := <-msgs:
		if !ok {
			t.Fatalf("delivery channel closed")
		}
		return d
	case <-time.After(time.Second):
		t.Fatalf("no delivery received")
	}
	return amqp.Delivery{}
}
