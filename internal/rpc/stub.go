package rpc

import (
	"context"
	"time"
)

// Stub binds a Caller to one target service queue and a default timeout
type Stub struct {
	caller  Caller
	queue   string
	timeout time.Duration
}

// NewStub binds caller to queue with timeout applied to every Invoke
func NewStub(caller Caller, queue string, timeout time.Duration) *Stub {
	return &Stub{caller: caller, queue: queue, timeout: timeout}
}

// Invoke calls command with payload and decodes a successful reply into out (which may be nil)
func (s *Stub) Invoke(ctx context.Context, command string, payload, out any) error {
	reply, err := s.caller.Call(ctx, s.queue, command, payload, s.timeout)
	if err != nil {
		return err
	}
	return reply.Decode(out)
}

// Queue is the target queue of the stub
func (s *Stub) Queue() string {
	return s.queue
}
