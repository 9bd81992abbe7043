package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Guizzs26/go-social-mesh/internal/broker/brokertest"
	"github.com/Guizzs26/go-social-mesh/internal/config"
)

type echo struct {
	N int `json:"n"`
}

var errMissing = errors.New("missing thing")

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

type harness struct {
	broker *brokertest.Broker
	router *Router
	client *Client
	queue  string
}

func newHarness(t *testing.T, prefetch int, register func(r *Router)) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	b := brokertest.New()
	logger := discardLogger()
	binding := config.Binding{Name: "test.rpc", Durable: true, Prefetch: prefetch}

	router := NewRouter(logger)
	if register != nil {
		register(router)
		go router.Run(ctx, b, binding)
		waitFor(t, "router consumer", func() bool { return b.ConsumerCount(binding.Name) == 1 })
	}

	client := NewClient(b, logger)
	go client.Run(ctx)
	readyCtx, readyCancel := context.WithTimeout(ctx, 2*time.Second)
	defer readyCancel()
	if err := client.WaitReady(readyCtx); err != nil {
		t.Fatalf("client not ready: %v", err)
	}

	return &harness{broker: b, router: router, client: client, queue: binding.Name}
}

func TestCallRoundTrip(t *testing.T) {
	h := newHarness(t, 1, func(r *Router) {
		r.Register("EchoCommand", Handle(func(ctx context.Context, req echo) (echo, error) {
			return echo{N: req.N * 2}, nil
		}))
	})

	reply, err := h.client.Call(context.Background(), h.queue, "EchoCommand", echo{N: 21}, time.Second)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	var out echo
	if err := reply.Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.N != 42 {
		t.Fatalf("expected 42, got %d", out.N)
	}
	if h.client.Pending() != 0 {
		t.Fatalf("pending entries left: %d", h.client.Pending())
	}
}

func TestConcurrentCallsNeverCrossDeliver(t *testing.T) {
	const calls = 20
	h := newHarness(t, calls, func(r *Router) {
		r.Register("EchoCommand", Handle(func(ctx context.Context, req echo) (echo, error) {
			// Later requests finish first, so replies arrive in reverse order
			time.Sleep(time.Duration(calls-req.N) * 3 * time.Millisecond)
			return req, nil
		}))
	})

	var wg sync.WaitGroup
	errs := make(chan error, calls)
	for i := range calls {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			reply, err := h.client.Call(context.Background(), h.queue, "EchoCommand", echo{N: n}, 2*time.Second)
			if err != nil {
				errs <- err
				return
			}
			var out echo
			if err := reply.Decode(&out); err != nil {
				errs <- err
				return
			}
			if out.N != n {
				errs <- errors.New("reply delivered to the wrong caller")
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent call failed: %v", err)
	}
	if h.client.Pending() != 0 {
		t.Fatalf("pending entries left: %d", h.client.Pending())
	}
}

func TestTimeoutRemovesPendingEntry(t *testing.T) {
	h := newHarness(t, 1, nil)

	for range 50 {
		_, err := h.client.Call(context.Background(), "nobody.listens", "EchoCommand", echo{N: 1}, 5*time.Millisecond)
		if !errors.Is(err, ErrTimeout) {
			t.Fatalf("expected ErrTimeout, got %v", err)
		}
		if !IsTransient(err) {
			t.Fatalf("timeout should be transient")
		}
	}
	if n := h.client.Pending(); n != 0 {
		t.Fatalf("expected no pending entries after timeouts, got %d", n)
	}
}

func TestLateReplyIsDiscarded(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, 2, func(r *Router) {
		r.Register("SlowCommand", Handle(func(ctx context.Context, req echo) (echo, error) {
			<-release
			return req, nil
		}))
		r.Register("EchoCommand", Handle(func(ctx context.Context, req echo) (echo, error) {
			return req, nil
		}))
	})

	_, err := h.client.Call(context.Background(), h.queue, "SlowCommand", echo{N: 1}, 20*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	close(release)

	// The abandoned reply must not leak into the next call
	reply, err := h.client.Call(context.Background(), h.queue, "EchoCommand", echo{N: 7}, time.Second)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	var out echo
	reply.Decode(&out)
	if out.N != 7 {
		t.Fatalf("expected 7, got %d", out.N)
	}
	if h.client.Pending() != 0 {
		t.Fatalf("pending entries left: %d", h.client.Pending())
	}
}

func TestUnknownCommandRepliesNegatively(t *testing.T) {
	h := newHarness(t, 1, func(r *Router) {
		r.Register("EchoCommand", Handle(func(ctx context.Context, req echo) (echo, error) { return req, nil }))
	})

	start := time.Now()
	_, err := h.client.Call(context.Background(), h.queue, "NoSuchCommand", nil, 3*time.Second)
	if !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("expected ErrUnknownCommand, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("unknown command took the whole timeout window")
	}
}

func TestHandlerErrorsTravelInEnvelope(t *testing.T) {
	h := newHarness(t, 1, func(r *Router) {
		r.MapError(errMissing, CodeNotFound)
		r.Register("MappedCommand", Handle(func(ctx context.Context, req echo) (echo, error) {
			return echo{}, errMissing
		}))
		r.Register("CodedCommand", Handle(func(ctx context.Context, req echo) (echo, error) {
			return echo{}, Errorf(CodeConflict, "already there")
		}))
		r.Register("PanicCommand", Handle(func(ctx context.Context, req echo) (echo, error) {
			panic("boom")
		}))
		r.Register("BareCommand", Handle(func(ctx context.Context, req echo) (echo, error) {
			return echo{}, errors.New("plain failure")
		}))
	})

	cases := map[string]string{
		"MappedCommand": CodeNotFound,
		"CodedCommand":  CodeConflict,
		"PanicCommand":  CodeInternal,
		"BareCommand":   CodeInternal,
	}
	for command, code := range cases {
		_, err := h.client.Call(context.Background(), h.queue, command, echo{}, time.Second)
		var he *HandlerError
		if !errors.As(err, &he) {
			t.Fatalf("%s: expected HandlerError, got %v", command, err)
		}
		if he.Code != code {
			t.Fatalf("%s: expected code %s, got %s", command, code, he.Code)
		}
		if IsTransient(err) {
			t.Fatalf("%s: handler error must not be transient", command)
		}
	}
}

func TestMalformedPayloadIsBadRequest(t *testing.T) {
	h := newHarness(t, 1, func(r *Router) {
		r.Register("EchoCommand", Handle(func(ctx context.Context, req echo) (echo, error) { return req, nil }))
	})

	_, err := h.client.Call(context.Background(), h.queue, "EchoCommand", "not an object", time.Second)
	var he *HandlerError
	if !errors.As(err, &he) || he.Code != CodeBadRequest {
		t.Fatalf("expected BAD_REQUEST, got %v", err)
	}
}

func TestPublishFailureIsTransportError(t *testing.T) {
	h := newHarness(t, 1, nil)
	h.broker.FailPublishes(1, errors.New("channel exploded"))

	_, err := h.client.Call(context.Background(), h.queue, "EchoCommand", echo{}, time.Second)
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if h.client.Pending() != 0 {
		t.Fatalf("failed publish left a pending entry")
	}
}

func TestCallBeforeReadyFails(t *testing.T) {
	client := NewClient(brokertest.New(), discardLogger())
	_, err := client.Call(context.Background(), "q", "EchoCommand", nil, time.Second)
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
}

func TestBrokerLossFailsPendingCalls(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	h := newHarness(t, 1, func(r *Router) {
		r.Register("BlockCommand", Handle(func(ctx context.Context, req echo) (echo, error) {
			<-block
			return req, nil
		}))
	})

	errs := make(chan error, 1)
	go func() {
		_, err := h.client.Call(context.Background(), h.queue, "BlockCommand", echo{}, 5*time.Second)
		errs <- err
	}()
	waitFor(t, "pending call", func() bool { return h.client.Pending() == 1 })

	h.broker.SetDown(true)

	select {
	case err := <-errs:
		var te *TransportError
		if !errors.As(err, &te) {
			t.Fatalf("expected TransportError, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("pending call was not failed when the broker went away")
	}
}

func TestRegisterTwicePanics(t *testing.T) {
	r := NewRouter(discardLogger())
	r.Register("EchoCommand", func(ctx context.Context, _ json.RawMessage) (any, error) { return nil, nil })

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on duplicate registration")
		}
	}()
	r.Register("EchoCommand", func(ctx context.Context, _ json.RawMessage) (any, error) { return nil, nil })
}
