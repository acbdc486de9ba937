// Package cdp provides the command/event channel used to drive a remote
// Chrome DevTools Protocol target.
//
// A Conn wraps a go-rod cdp.Client. Commands go out through Call; inbound
// events are routed by a single dispatch goroutine to listeners registered
// with Once. Listeners are scoped to the call that registered them and are
// removed either when they fire or when their cancel func runs.
package cdp

import (
	"context"
	"encoding/json"

	"github.com/go-rod/rod/lib/cdp"
)

// Session is a bidirectional command/event channel bound to one target.
type Session interface {
	// Call sends method with params and waits for its result.
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)

	// Once registers fn to run for the next event named method. fn runs on
	// the dispatch goroutine and must not block. The returned cancel func
	// deregisters the listener if it has not fired yet; it is safe to call
	// more than once.
	Once(method string, fn func(params json.RawMessage)) (cancel func())
}

// Transport is the wire-level client a Conn sits on. *cdp.Client from
// go-rod satisfies it.
type Transport interface {
	Call(ctx context.Context, sessionID, method string, params any) ([]byte, error)
	Event() <-chan *cdp.Event
}

// Error is the protocol error returned by the remote side.
type Error = cdp.Error

var _ Transport = (*cdp.Client)(nil)
