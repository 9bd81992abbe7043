// Package rpc implements request/reply commands over AMQP queues.
//
// A command travels as an amqp.Publishing on the default exchange, routed to the target
// service's queue. Type carries the command name, CorrelationId ties the reply to the call
// and ReplyTo names the caller's private reply queue. The reply body is a JSON envelope
// holding either the handler result or an ErrorEnvelope.
package rpc

import (
	"encoding/json"
	"fmt"
)

const contentTypeJSON = "application/json"

// Reply codes carried in an ErrorEnvelope
const (
	CodeBadRequest     = "BAD_REQUEST"
	CodeNotFound       = "NOT_FOUND"
	CodeConflict       = "CONFLICT"
	CodeUnauthorized   = "UNAUTHORIZED"
	CodeUnknownCommand = "UNKNOWN_COMMAND"
	CodeMalformed      = "MALFORMED_REPLY"
	CodeInternal       = "HANDLER_ERROR"
)

// ErrorEnvelope is the negative half of a Reply
type ErrorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Reply is the single response to a command
type Reply struct {
	CorrelationID string          `json:"-"`
	Data          json.RawMessage `json:"data,omitempty"`
	Error         *ErrorEnvelope  `json:"error,omitempty"`
}

// OK reports whether the reply carries a result rather than an error
func (r Reply) OK() bool {
	return r.Error == nil
}

// Decode unmarshals the reply data into v
func (r Reply) Decode(v any) error {
	if len(r.Data) == 0 || v == nil {
		return nil
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("rpc: failed to decode reply: %w", err)
	}
	return nil
}

func encodeReply(r Reply) []byte {
	body, err := json.Marshal(r)
	if err != nil {
		body, _ = json.Marshal(Reply{Error: &ErrorEnvelope{Code: CodeInternal, Message: "failed to encode handler result: " + err.Error()}})
	}
	return body
}

func decodeReply(correlationID string, body []byte) Reply {
	var r Reply
	if err := json.Unmarshal(body, &r); err != nil {
		r = Reply{Error: &ErrorEnvelope{Code: CodeMalformed, Message: err.Error()}}
	}
	r.CorrelationID = correlationID
	return r
}
