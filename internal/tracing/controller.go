// Package tracing records Chrome timeline traces over a DevTools session.
//
// A Controller issues Tracing.start with a category filter, and on Stop
// arms a one-shot listener for Tracing.tracingComplete before sending
// Tracing.end. The stream handle carried by that event is then drained
// into a single payload by a Drainer.
package tracing

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/timeline/internal/cdp"
	"github.com/zjrosen/timeline/internal/log"
)

// Protocol names used by the controller and drainer.
const (
	MethodTracingStart   = "Tracing.start"
	MethodTracingEnd     = "Tracing.end"
	MethodIORead         = "IO.read"
	MethodIOClose        = "IO.close"
	EventTracingComplete = "Tracing.tracingComplete"
)

const instrumentationName = "github.com/zjrosen/timeline/internal/tracing"

// State is the capture lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRecording
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	default:
		return "unknown"
	}
}

// StreamHandle identifies a remote IO stream.
type StreamHandle string

// startParams is the Tracing.start payload. categories is always sent,
// even when empty.
type startParams struct {
	Categories   string                         `json:"categories"`
	TransferMode proto.TracingStartTransferMode `json:"transferMode"`
}

// StartOptions configures one capture.
type StartOptions struct {
	// Path is where Stop writes the trace. Empty keeps it in memory only.
	Path string
	// Screenshots appends the screenshot category to the filter.
	Screenshots bool
	// Categories replaces the default filter when non-nil.
	Categories []string
}

// Option configures a Controller.
type Option func(*Controller)

// WithTracer sets the OpenTelemetry tracer used for capture spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Controller) {
		c.tracer = tracer
	}
}

// WithStopTimeout bounds how long Stop waits for the completion event when
// the caller's context has no deadline. Zero waits indefinitely.
func WithStopTimeout(d time.Duration) Option {
	return func(c *Controller) {
		c.stopTimeout = d
	}
}

// WithReadSize sets the maximum chunk size requested per IO.read. Zero
// leaves the choice to the browser.
func WithReadSize(n int) Option {
	return func(c *Controller) {
		c.readSize = n
	}
}

// Controller owns the capture lifecycle for one session. Start and Stop
// may be called from different goroutines; overlapping misuse is rejected
// with ErrAlreadyRecording, ErrDraining or ErrNotRecording.
type Controller struct {
	session     cdp.Session
	drainer     *Drainer
	tracer      trace.Tracer
	stopTimeout time.Duration
	readSize    int

	// mu guards the fields below. It is never held across a session call;
	// pending marks a Start or Stop whose protocol call is in flight.
	mu       sync.Mutex
	state    State
	pending  bool
	draining bool
	path     string
	filter   []string
}

// New creates a Controller on session. The session is not owned by the
// controller and is never closed by it.
func New(session cdp.Session, opts ...Option) *Controller {
	c := &Controller{
		session: session,
		tracer:  otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.drainer = NewDrainer(session, c.tracer)
	c.drainer.readSize = c.readSize
	return c
}

// State returns the current capture state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Recording reports whether a capture is active.
func (c *Controller) Recording() bool {
	return c.State() == StateRecording
}

// Filter returns the category filter of the active or last capture.
func (c *Controller) Filter() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.filter...)
}

// Start begins a capture. It returns once Tracing.start has been
// acknowledged; the controller is Recording only if that succeeded.
func (c *Controller) Start(ctx context.Context, opts StartOptions) (err error) {
	c.mu.Lock()
	switch {
	case c.state == StateRecording, c.pending:
		c.mu.Unlock()
		return ErrAlreadyRecording
	case c.draining:
		c.mu.Unlock()
		return ErrDraining
	}
	c.pending = true
	c.mu.Unlock()

	filter := BuildFilter(opts.Categories, opts.Screenshots)

	ctx, span := c.tracer.Start(ctx, "tracing.Start", trace.WithAttributes(
		attribute.Int("tracing.categories", len(filter)),
		attribute.Bool("tracing.persist", opts.Path != ""),
		attribute.Bool("tracing.screenshots", opts.Screenshots),
	))
	defer func() { endSpan(span, err) }()

	params := startParams{
		Categories:   JoinFilter(filter),
		TransferMode: proto.TracingStartTransferModeReturnAsStream,
	}
	_, sendErr := c.session.Call(ctx, MethodTracingStart, params)

	c.mu.Lock()
	c.pending = false
	if sendErr == nil {
		c.state = StateRecording
		c.path = opts.Path
		c.filter = filter
	}
	c.mu.Unlock()

	if sendErr != nil {
		log.ErrorErr(log.CatTracing, "start failed", sendErr)
		return fmt.Errorf("sending %s: %w", MethodTracingStart, sendErr)
	}
	log.Info(log.CatTracing, "recording", "categories", len(filter), "path", opts.Path)
	return nil
}

// Stop ends the capture and returns the drained trace. When a path was
// given to Start the trace has also been written there.
//
// Stop waits for Tracing.tracingComplete until ctx is done, the optional
// stop timeout elapses or the session closes. In every case the completion
// listener is deregistered before Stop returns.
func (c *Controller) Stop(ctx context.Context) (data []byte, err error) {
	c.mu.Lock()
	if c.state != StateRecording || c.pending {
		c.mu.Unlock()
		return nil, ErrNotRecording
	}
	c.pending = true
	path := c.path

	// Arm the listener before Tracing.end goes out so the completion event
	// cannot be missed.
	complete := make(chan json.RawMessage, 1)
	cancel := c.session.Once(EventTracingComplete, func(params json.RawMessage) {
		select {
		case complete <- params:
		default:
		}
	})
	c.mu.Unlock()
	defer cancel()

	ctx, span := c.tracer.Start(ctx, "tracing.Stop")
	defer func() {
		span.SetAttributes(attribute.Int("tracing.bytes", len(data)))
		endSpan(span, err)
	}()

	_, sendErr := c.session.Call(ctx, MethodTracingEnd, nil)

	c.mu.Lock()
	c.pending = false
	c.state = StateIdle
	c.path = ""
	if sendErr == nil {
		c.draining = true
	}
	c.mu.Unlock()

	if sendErr != nil {
		log.ErrorErr(log.CatTracing, "end failed", sendErr)
		return nil, fmt.Errorf("sending %s: %w", MethodTracingEnd, sendErr)
	}
	defer c.finishDrain()

	params, err := c.awaitComplete(ctx, complete)
	if err != nil {
		log.ErrorErr(log.CatTracing, "waiting for completion", err)
		return nil, err
	}

	handle, err := parseComplete(params)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("tracing.stream", string(handle)))

	return c.drainer.Drain(ctx, handle, path)
}

func (c *Controller) finishDrain() {
	c.mu.Lock()
	c.draining = false
	c.mu.Unlock()
}

func (c *Controller) awaitComplete(ctx context.Context, complete <-chan json.RawMessage) (json.RawMessage, error) {
	if _, ok := ctx.Deadline(); !ok && c.stopTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.stopTimeout)
		defer cancel()
	}

	var closed <-chan struct{}
	if d, ok := c.session.(interface{ Done() <-chan struct{} }); ok {
		closed = d.Done()
	}

	select {
	case params := <-complete:
		return params, nil
	case <-closed:
		// The event may have been dispatched just before the session closed.
		select {
		case params := <-complete:
			return params, nil
		default:
		}
		return nil, ErrSessionClosed
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	}
}

// parseComplete extracts the stream handle from a tracingComplete payload.
func parseComplete(params json.RawMessage) (StreamHandle, error) {
	var ev proto.TracingTracingComplete
	if len(params) > 0 {
		if err := json.Unmarshal(params, &ev); err != nil {
			return "", fmt.Errorf("decoding %s: %w", EventTracingComplete, err)
		}
	}
	if ev.Stream == "" {
		return "", ErrMissingStream
	}
	if ev.DataLossOccurred {
		log.Warn(log.CatTracing, "trace buffer overflowed, data was lost", "stream", ev.Stream)
	}
	return StreamHandle(ev.Stream), nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
