package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Guizzs26/go-social-mesh/internal/broker"
	"github.com/Guizzs26/go-social-mesh/internal/broker/brokertest"
	"github.com/Guizzs26/go-social-mesh/internal/config"

	amqp "github.com/rabbitmq/amqp091-go"
)

const exchange = "user.events"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type recorder struct {
	mu     sync.Mutex
	events []DomainEvent
	fail   int
}

func (r *recorder) Apply(ctx context.Context, ev DomainEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail > 0 {
		r.fail--
		return errors.New("store unavailable")
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func startSubscriber(t *testing.T, b *brokertest.Broker, queue string, applier Applier) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	sub := NewSubscriber(b, applier, SubscriberConfig{
		Exchange:     exchange,
		Queue:        config.Binding{Name: queue, Durable: true, Prefetch: 1},
		RequeueDelay: time.Millisecond,
	}, discardLogger())
	go sub.Run(ctx)
	waitFor(t, "subscriber "+queue, func() bool { return b.ConsumerCount(queue) == 1 })
}

func TestRoutingKey(t *testing.T) {
	if got := RoutingKey(SourceUser, Deleted); got != "user.deleted" {
		t.Fatalf("unexpected routing key %q", got)
	}
}

func TestUserEventsCarryOnlyDisplayFields(t *testing.T) {
	name := "alice2"
	ev := UserUpdatedEvent{ID: "u1", Username: &name}.DomainEvent()
	if ev.Type != Updated || ev.EntityID != "u1" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if len(ev.Fields) != 1 || ev.Fields[FieldUsername] != "alice2" {
		t.Fatalf("expected only the username field, got %v", ev.Fields)
	}
	if ev.Timestamp.IsZero() {
		t.Fatalf("timestamp not stamped")
	}

	created := UserCreatedEvent{ID: "u1", Username: "alice", Email: "a@x.io"}.DomainEvent()
	if _, ok := created.Fields[FieldProfileImageURL]; ok {
		t.Fatalf("absent profile image should not be sent")
	}
}

func TestDecodeRejectsInvalidEvents(t *testing.T) {
	cases := []string{
		`not json`,
		`{"type":"renamed","entityId":"u1"}`,
		`{"type":"created"}`,
	}
	for _, body := range cases {
		if _, err := Decode([]byte(body)); err == nil {
			t.Fatalf("expected error for %s", body)
		}
	}
}

func TestPublishReachesEveryBoundQueue(t *testing.T) {
	b := brokertest.New()
	feed, comm := &recorder{}, &recorder{}
	startSubscriber(t, b, "feed.user-references", feed)
	startSubscriber(t, b, "communication.user-references", comm)

	pub := NewPublisher(b, PublisherConfig{Exchange: exchange, Source: SourceUser}, discardLogger())
	defer pub.Close()

	ev := UserCreatedEvent{ID: "u1", Username: "alice", Email: "alice@example.com"}.DomainEvent()
	if err := pub.Publish(context.Background(), ev); err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitFor(t, "both replicas", func() bool { return feed.count() == 1 && comm.count() == 1 })

	published := b.Published()
	if len(published) != 1 || published[0].RoutingKey != "user.created" {
		t.Fatalf("unexpected publishes %+v", published)
	}
	if published[0].Msg.DeliveryMode != amqp.Persistent {
		t.Fatalf("events must be persistent")
	}
	var wire DomainEvent
	if err := json.Unmarshal(published[0].Msg.Body, &wire); err != nil || wire.Fields[FieldUsername] != "alice" {
		t.Fatalf("unexpected wire body %s", published[0].Msg.Body)
	}
}

func TestPublishRetriesThenSucceeds(t *testing.T) {
	b := brokertest.New()
	b.FailPublishes(2, errors.New("flow control"))

	pub := NewPublisher(b, PublisherConfig{Exchange: exchange, Source: SourceUser, MaxRetries: 3, RetryDelay: time.Millisecond}, discardLogger())
	if err := pub.Publish(context.Background(), UserDeletedEvent{ID: "u1"}.DomainEvent()); err != nil {
		t.Fatalf("expected success on third attempt, got %v", err)
	}
	if n := len(b.Published()); n != 1 {
		t.Fatalf("expected exactly one accepted publish, got %d", n)
	}
}

func TestPublishFailureAfterRetriesExhausted(t *testing.T) {
	b := brokertest.New()
	b.FailPublishes(10, errors.New("flow control"))

	pub := NewPublisher(b, PublisherConfig{Exchange: exchange, Source: SourceUser, MaxRetries: 2, RetryDelay: time.Millisecond}, discardLogger())
	err := pub.Publish(context.Background(), UserDeletedEvent{ID: "u1"}.DomainEvent())

	var pf *PublishFailure
	if !errors.As(err, &pf) {
		t.Fatalf("expected PublishFailure, got %v", err)
	}
	if pf.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", pf.Attempts)
	}
	if pf.RoutingKey != "user.deleted" {
		t.Fatalf("unexpected routing key %q", pf.RoutingKey)
	}
}

func TestPublishBestEffortSwallowsFailure(t *testing.T) {
	b := brokertest.New()
	b.SetDown(true)
	pub := NewPublisher(b, PublisherConfig{Exchange: exchange, Source: SourceUser}, discardLogger())
	pub.PublishBestEffort(context.Background(), UserDeletedEvent{ID: "u1"}.DomainEvent())
}

func TestFailedApplyIsRequeued(t *testing.T) {
	b := brokertest.New()
	rec := &recorder{fail: 2}
	startSubscriber(t, b, "feed.user-references", rec)

	pub := NewPublisher(b, PublisherConfig{Exchange: exchange, Source: SourceUser}, discardLogger())
	if err := pub.Publish(context.Background(), UserDeletedEvent{ID: "u1"}.DomainEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitFor(t, "applied after requeue", func() bool { return rec.count() == 1 })
	acked, _, requeued := b.Acks("feed.user-references")
	if requeued != 2 || acked != 1 {
		t.Fatalf("expected 2 requeues and 1 ack, got requeued=%d acked=%d", requeued, acked)
	}
}

func TestMalformedEventIsDropped(t *testing.T) {
	b := brokertest.New()
	rec := &recorder{}
	startSubscriber(t, b, "feed.user-references", rec)

	ch, _ := b.Channel()
	ch.PublishWithContext(context.Background(), exchange, "user.created", false, false, amqp.Publishing{Body: []byte("{")})

	waitFor(t, "nack", func() bool {
		_, nacked, _ := b.Acks("feed.user-references")
		return nacked == 1
	})
	if _, _, requeued := b.Acks("feed.user-references"); requeued != 0 {
		t.Fatalf("malformed events must not be requeued")
	}
	if rec.count() != 0 {
		t.Fatalf("malformed event reached the applier")
	}
}

func TestSubscriberResumesAfterBrokerLoss(t *testing.T) {
	b := brokertest.New()
	rec := &recorder{}
	startSubscriber(t, b, "feed.user-references", rec)

	b.SetDown(true)
	waitFor(t, "consumer gone", func() bool { return b.ConsumerCount("feed.user-references") == 0 })
	b.SetDown(false)
	waitFor(t, "consumer back", func() bool { return b.ConsumerCount("feed.user-references") == 1 })

	pub := NewPublisher(b, PublisherConfig{Exchange: exchange, Source: SourceUser}, discardLogger())
	if err := pub.Publish(context.Background(), UserDeletedEvent{ID: "u1"}.DomainEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitFor(t, "event after reconnect", func() bool { return rec.count() == 1 })
}

// slowConfirms holds every publish until release is closed, like a broker slow to confirm
type slowConfirms struct {
	*brokertest.Broker
	inflight atomic.Int32
	release  chan struct{}
}

type slowChannel struct {
	broker.Channel
	owner *slowConfirms
}

func (o *slowConfirms) ConfirmChannel() (broker.Channel, error) {
	ch, err := o.Broker.ConfirmChannel()
	if err != nil {
		return nil, err
	}
	return &slowChannel{Channel: ch, owner: o}, nil
}

func (c *slowChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	c.owner.inflight.Add(1)
	defer c.owner.inflight.Add(-1)
	<-c.owner.release
	return c.Channel.PublishWithContext(ctx, exchange, key, mandatory, immediate, msg)
}

func TestConcurrentPublishesWaitForConfirmsTogether(t *testing.T) {
	opener := &slowConfirms{Broker: brokertest.New(), release: make(chan struct{})}
	pub := NewPublisher(opener, PublisherConfig{Exchange: exchange, Source: SourceUser}, discardLogger())
	defer pub.Close()

	errs := make(chan error, 2)
	for _, id := range []string{"u1", "u2"} {
		go func() {
			errs <- pub.Publish(context.Background(), UserDeletedEvent{ID: id}.DomainEvent())
		}()
	}

	waitFor(t, "both publishes awaiting confirms", func() bool { return opener.inflight.Load() == 2 })
	close(opener.release)

	for range 2 {
		if err := <-errs; err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if n := len(opener.Published()); n != 2 {
		t.Fatalf("expected 2 publishes, got %d", n)
	}
}

func TestDeclareCreatesExchangeWithoutPublishing(t *testing.T) {
	b := brokertest.New()
	pub := NewPublisher(b, PublisherConfig{Exchange: exchange, Source: SourceUser}, discardLogger())
	defer pub.Close()

	if err := pub.Declare(context.Background()); err != nil {
		t.Fatalf("declare: %v", err)
	}
	ch, err := b.Channel()
	if err != nil {
		t.Fatalf("channel: %v", err)
	}
	defer ch.Close()
	if err := ch.ExchangeDeclarePassive(exchange, "topic", true, false, false, false, nil); err != nil {
		t.Fatalf("exchange missing after declare: %v", err)
	}
	if n := len(b.Published()); n != 0 {
		t.Fatalf("declare must not publish, got %d", n)
	}
}
