package tracing

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// readStep scripts one IO.read response.
type readStep struct {
	data  string
	eof   bool
	raw   string        // used verbatim when set
	err   error         // returned instead of a response
	block chan struct{} // read waits for this to close
}

// fakeSession records every Call and Once in order and plays back
// scripted IO.read responses.
type fakeSession struct {
	mu        sync.Mutex
	events    []string
	params    map[string][]any
	listeners map[string]func(json.RawMessage)
	reads     []readStep
	errs      map[string]error
	cancels   int
	readStart chan struct{}

	// gates holds calls to a method until its channel closes; entered
	// receives the method name once such a call is held.
	gates   map[string]chan struct{}
	entered chan string

	// onEnd runs after Tracing.end succeeds, outside the lock.
	onEnd func(s *fakeSession)
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		params:    make(map[string][]any),
		listeners: make(map[string]func(json.RawMessage)),
		errs:      make(map[string]error),
		gates:     make(map[string]chan struct{}),
		entered:   make(chan string, 4),
	}
}

// hold makes calls to method wait until the returned channel is closed.
func (s *fakeSession) hold(method string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	release := make(chan struct{})
	s.gates[method] = release
	return release
}

// completeWith makes Tracing.end emit tracingComplete with payload.
func (s *fakeSession) completeWith(payload string) *fakeSession {
	s.onEnd = func(s *fakeSession) { s.emit(EventTracingComplete, payload) }
	return s
}

func (s *fakeSession) withReads(steps ...readStep) *fakeSession {
	s.reads = append(s.reads, steps...)
	return s
}

func (s *fakeSession) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	gate := s.gates[method]
	s.mu.Unlock()
	if gate != nil {
		s.entered <- method
		<-gate
	}

	s.mu.Lock()
	s.events = append(s.events, "call:"+method)
	s.params[method] = append(s.params[method], params)
	if err := s.errs[method]; err != nil {
		s.mu.Unlock()
		return nil, err
	}

	switch method {
	case MethodIORead:
		if len(s.reads) == 0 {
			s.mu.Unlock()
			return nil, fmt.Errorf("unexpected %s", method)
		}
		step := s.reads[0]
		s.reads = s.reads[1:]
		started := s.readStart
		s.mu.Unlock()

		if started != nil {
			select {
			case started <- struct{}{}:
			default:
			}
		}
		if step.block != nil {
			<-step.block
		}
		if step.err != nil {
			return nil, step.err
		}
		if step.raw != "" {
			return json.RawMessage(step.raw), nil
		}
		return json.Marshal(map[string]any{"data": step.data, "eof": step.eof})

	case MethodTracingEnd:
		onEnd := s.onEnd
		s.mu.Unlock()
		if onEnd != nil {
			onEnd(s)
		}
		return json.RawMessage(`{}`), nil
	}

	s.mu.Unlock()
	return json.RawMessage(`{}`), nil
}

func (s *fakeSession) Once(method string, fn func(json.RawMessage)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, "once:"+method)
	s.listeners[method] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, method)
		s.cancels++
	}
}

// emit fires and consumes the listener for method, if any.
func (s *fakeSession) emit(method, payload string) {
	s.mu.Lock()
	fn := s.listeners[method]
	delete(s.listeners, method)
	s.mu.Unlock()
	if fn != nil {
		fn(json.RawMessage(payload))
	}
}

func (s *fakeSession) getEvents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

func (s *fakeSession) count(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.params[method])
}

func (s *fakeSession) activeListeners() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

// startParams decodes the n-th Tracing.start payload as sent on the wire.
func (s *fakeSession) startParams(t *testing.T, n int) map[string]any {
	t.Helper()
	s.mu.Lock()
	params := s.params[MethodTracingStart]
	s.mu.Unlock()
	require.Greater(t, len(params), n)

	data, err := json.Marshal(params[n])
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

// closingSession adds the Done channel a cdp.Conn session exposes.
type closingSession struct {
	*fakeSession
	done chan struct{}
}

func (s *closingSession) Done() <-chan struct{} {
	return s.done
}

// mockSession is a testify mock for the session interface.
type mockSession struct {
	mock.Mock
}

func (m *mockSession) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	args := m.Called(ctx, method, params)
	raw, _ := args.Get(0).(json.RawMessage)
	return raw, args.Error(1)
}

func (m *mockSession) Once(method string, fn func(json.RawMessage)) func() {
	m.Called(method, fn)
	return func() {}
}

func toJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}
