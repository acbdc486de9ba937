package cdp

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"sync"

	"github.com/go-rod/rod/lib/cdp"

	"github.com/zjrosen/timeline/internal/log"
)

// ErrClosed is returned by Call after the connection has been closed.
var ErrClosed = errors.New("cdp connection closed")

type listener struct {
	id        uint64
	sessionID string
	method    string
	fn        func(json.RawMessage)
}

// Conn routes commands and events for every target reachable through one
// browser connection.
type Conn struct {
	transport Transport
	closer    io.Closer

	mu        sync.Mutex
	listeners map[uint64]*listener
	nextID    uint64

	ctx       context.Context
	cancel    context.CancelFunc
	eventDone chan struct{} // Closed when dispatch completes
}

// Dial opens a WebSocket to a DevTools endpoint and returns a Conn on it.
func Dial(ctx context.Context, wsURL string) (*Conn, error) {
	ws := &cdp.WebSocket{}
	if err := ws.Connect(ctx, wsURL, http.Header{}); err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", wsURL, err)
	}
	conn := NewConn(cdp.New().Start(ws))
	conn.closer = ws
	log.Info(log.CatCDP, "connected", "url", wsURL)
	return conn, nil
}

// NewConn starts dispatching events from t. Call Close to stop.
func NewConn(t Transport) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		transport: t,
		listeners: make(map[uint64]*listener),
		ctx:       ctx,
		cancel:    cancel,
		eventDone: make(chan struct{}),
	}
	go c.dispatch()
	return c
}

// Close stops event dispatch, drops every registered listener and closes
// the underlying socket when there is one. Safe to call multiple times.
func (c *Conn) Close() error {
	c.cancel()
	<-c.eventDone

	c.mu.Lock()
	closer := c.closer
	c.closer = nil
	clear(c.listeners)
	c.mu.Unlock()

	if closer != nil {
		return closer.Close()
	}
	return nil
}

// Done is closed once the dispatch loop exits, either through Close or
// because the transport's event stream ended.
func (c *Conn) Done() <-chan struct{} {
	return c.eventDone
}

// Session returns a Session bound to a flattened target session. The empty
// id addresses the browser target itself.
func (c *Conn) Session(sessionID string) Session {
	return &targetSession{conn: c, sessionID: sessionID}
}

// Call sends a command to the browser target.
func (c *Conn) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return c.call(ctx, "", method, params)
}

// Once registers a one-shot listener for browser-target events.
func (c *Conn) Once(method string, fn func(json.RawMessage)) func() {
	return c.once("", method, fn)
}

// Listeners returns the number of listeners still waiting to fire.
func (c *Conn) Listeners() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.listeners)
}

func (c *Conn) call(ctx context.Context, sessionID, method string, params any) (json.RawMessage, error) {
	select {
	case <-c.ctx.Done():
		return nil, ErrClosed
	default:
	}

	log.Debug(log.CatCDP, "send", "method", method, "session", sessionID)
	res, err := c.transport.Call(ctx, sessionID, method, params)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(res), nil
}

func (c *Conn) once(sessionID, method string, fn func(json.RawMessage)) func() {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners[id] = &listener{id: id, sessionID: sessionID, method: method, fn: fn}
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// takeAll removes and returns every listener matching e, oldest first.
func (c *Conn) takeAll(e *cdp.Event) []*listener {
	c.mu.Lock()
	defer c.mu.Unlock()

	var matched []*listener
	for id, l := range c.listeners {
		if l.method != e.Method || l.sessionID != e.SessionID {
			continue
		}
		matched = append(matched, l)
		delete(c.listeners, id)
	}
	slices.SortFunc(matched, func(a, b *listener) int {
		return cmp.Compare(a.id, b.id)
	})
	return matched
}

// dispatch routes inbound events until Close or until the transport's
// event channel closes. Every event is consumed so the transport never
// blocks on an unread channel.
func (c *Conn) dispatch() {
	defer close(c.eventDone)

	events := c.transport.Event()
	for {
		select {
		case <-c.ctx.Done():
			return

		case e, ok := <-events:
			if !ok {
				log.Warn(log.CatCDP, "event stream closed")
				c.cancel()
				return
			}
			if e == nil {
				continue
			}
			for _, l := range c.takeAll(e) {
				log.Debug(log.CatCDP, "event", "method", e.Method, "session", e.SessionID, "listener", l.id)
				l.fn(e.Params)
			}
		}
	}
}

type targetSession struct {
	conn      *Conn
	sessionID string
}

func (s *targetSession) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return s.conn.call(ctx, s.sessionID, method, params)
}

func (s *targetSession) Once(method string, fn func(json.RawMessage)) func() {
	return s.conn.once(s.sessionID, method, fn)
}

func (s *targetSession) Done() <-chan struct{} {
	return s.conn.eventDone
}
