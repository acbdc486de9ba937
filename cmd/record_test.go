package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	rodcdp "github.com/go-rod/rod/lib/cdp"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/timeline/internal/browser"
	"github.com/zjrosen/timeline/internal/capture"
	"github.com/zjrosen/timeline/internal/cdp"
	"github.com/zjrosen/timeline/internal/config"
	"github.com/zjrosen/timeline/internal/tracing"
	"github.com/zjrosen/timeline/internal/ui/recorder"
)

const traceJSON = `{"traceEvents":[]}`

var defaultWaitForStop = waitForStop

// fakeBrowser answers the commands a capture sends and emits the events
// a real browser would.
type fakeBrowser struct {
	mu      sync.Mutex
	methods []string
	errs    map[string]error
	events  chan *rodcdp.Event

	// noLoad suppresses Page.loadEventFired after Page.navigate.
	noLoad bool
	// onCall runs for every method before it is answered.
	onCall func(method string)
}

func newFakeBrowser() *fakeBrowser {
	return &fakeBrowser{errs: map[string]error{}, events: make(chan *rodcdp.Event, 8)}
}

func (f *fakeBrowser) Call(_ context.Context, sessionID, method string, _ any) ([]byte, error) {
	f.mu.Lock()
	f.methods = append(f.methods, method)
	err := f.errs[method]
	noLoad, onCall := f.noLoad, f.onCall
	f.mu.Unlock()
	if onCall != nil {
		onCall(method)
	}
	if err != nil {
		return nil, err
	}

	switch method {
	case browser.MethodCreateTarget:
		return []byte(`{"targetId":"T1"}`), nil
	case browser.MethodAttachToTarget:
		return []byte(`{"sessionId":"S1"}`), nil
	case browser.MethodPageNavigate:
		if noLoad {
			return []byte(`{"frameId":"F1"}`), nil
		}
		f.events <- &rodcdp.Event{SessionID: sessionID, Method: browser.EventLoadFired, Params: json.RawMessage(`{}`)}
		return []byte(`{"frameId":"F1"}`), nil
	case tracing.MethodTracingEnd:
		f.events <- &rodcdp.Event{SessionID: sessionID, Method: tracing.EventTracingComplete, Params: json.RawMessage(`{"stream":"h1"}`)}
	case tracing.MethodIORead:
		data, _ := json.Marshal(map[string]any{"data": traceJSON, "eof": true})
		return data, nil
	}
	return []byte(`{}`), nil
}

func (f *fakeBrowser) Event() <-chan *rodcdp.Event {
	return f.events
}

func (f *fakeBrowser) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.methods...)
}

// setupRecord installs test doubles and returns the output directory.
func setupRecord(t *testing.T, fb *fakeBrowser) string {
	t.Helper()
	dir := t.TempDir()

	origCfg, origOpen, origWait, origRun, origNow := cfg, openBrowser, waitForStop, runRecorder, now
	t.Cleanup(func() {
		cfg, openBrowser, waitForStop, runRecorder, now = origCfg, origOpen, origWait, origRun, origNow
		outputFlag, durationFlag, interactiveFlag = "", 0, false
	})

	cfg = config.Default()
	cfg.Trace.OutputDir = dir
	cfg.Trace.StopTimeout = 2 * time.Second

	openBrowser = func(ctx context.Context, opts browser.Options) (*browser.Browser, error) {
		return browser.New(cdp.NewConn(fb)), nil
	}
	waitForStop = func(context.Context, time.Duration) {}
	now = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) }
	captureInfo(t)
	return dir
}

func TestRecord_WritesTraceMetadataAndHistory(t *testing.T) {
	fb := newFakeBrowser()
	dir := setupRecord(t, fb)

	require.NoError(t, runRecord(recordCmd, []string{"https://example.com"}))

	tracePath := filepath.Join(dir, "trace-20260304-050607.json")
	data, err := os.ReadFile(tracePath)
	require.NoError(t, err)
	require.JSONEq(t, traceJSON, string(data))

	meta, err := capture.Load(capture.MetadataPath(tracePath))
	require.NoError(t, err)
	require.Equal(t, capture.StatusCompleted, meta.Status)
	require.Equal(t, "https://example.com", meta.URL)
	require.Equal(t, len(traceJSON), meta.Bytes)
	require.Equal(t, tracing.DefaultCategories(), meta.Categories)

	entries, err := capture.ReadHistory(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, meta.CaptureID, entries[0].Capture.CaptureID)

	require.Equal(t, []string{
		browser.MethodCreateTarget,
		browser.MethodAttachToTarget,
		tracing.MethodTracingStart,
		browser.MethodPageEnable,
		browser.MethodPageNavigate,
		tracing.MethodTracingEnd,
		tracing.MethodIORead,
		tracing.MethodIOClose,
		browser.MethodCloseTarget,
	}, fb.called())
}

func TestRecord_OutputFlag(t *testing.T) {
	fb := newFakeBrowser()
	dir := setupRecord(t, fb)
	outputFlag = filepath.Join(dir, "custom", "load.json")

	require.NoError(t, runRecord(recordCmd, nil))

	_, err := os.Stat(outputFlag)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "custom", "load.meta.json"))
	require.NoError(t, err)
	require.NotContains(t, fb.called(), browser.MethodPageNavigate, "no url means no navigation")
}

func TestRecord_StartFailureRecordedInHistory(t *testing.T) {
	fb := newFakeBrowser()
	fb.errs[tracing.MethodTracingStart] = errors.New("Tracing has already been started")
	dir := setupRecord(t, fb)

	err := runRecord(recordCmd, nil)
	require.ErrorContains(t, err, "sending Tracing.start")

	entries, err := capture.ReadHistory(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, capture.StatusFailed, entries[0].Capture.Status)
	require.Contains(t, entries[0].Capture.Error, "already been started")

	matches, _ := filepath.Glob(filepath.Join(dir, "*.meta.json"))
	require.Empty(t, matches, "failed captures keep no metadata file")
	require.Contains(t, fb.called(), browser.MethodCloseTarget, "tab closed after a failed capture")
}

func TestRecord_PageThatNeverLoads(t *testing.T) {
	fb := newFakeBrowser()
	fb.noLoad = true
	dir := setupRecord(t, fb)
	cfg.Trace.LoadTimeout = 50 * time.Millisecond

	require.NoError(t, runRecord(recordCmd, []string{"https://example.com"}))

	data, err := os.ReadFile(filepath.Join(dir, "trace-20260304-050607.json"))
	require.NoError(t, err)
	require.JSONEq(t, traceJSON, string(data))

	entries, err := capture.ReadHistory(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, capture.StatusCompleted, entries[0].Capture.Status)

	called := fb.called()
	require.Contains(t, called, tracing.MethodTracingEnd)
	require.Contains(t, called, tracing.MethodIOClose)
	require.Contains(t, called, browser.MethodCloseTarget)
}

func TestRecord_CancelDuringLoadStillSavesTrace(t *testing.T) {
	fb := newFakeBrowser()
	fb.noLoad = true
	dir := setupRecord(t, fb)
	cfg.Trace.LoadTimeout = 0
	waitForStop = defaultWaitForStop

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	recordCmd.SetContext(ctx)
	t.Cleanup(func() { recordCmd.SetContext(context.Background()) })
	fb.onCall = func(method string) {
		if method == browser.MethodPageNavigate {
			cancel()
		}
	}

	done := make(chan error, 1)
	go func() { done <- runRecord(recordCmd, []string{"https://example.com"}) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("record hung after cancellation during page load")
	}

	entries, err := capture.ReadHistory(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, capture.StatusCompleted, entries[0].Capture.Status)
	require.Contains(t, fb.called(), browser.MethodCloseTarget)
}

func TestRecord_Interactive(t *testing.T) {
	fb := newFakeBrowser()
	dir := setupRecord(t, fb)
	interactiveFlag = true

	runRecorder = func(m recorder.Model) (recorder.Model, error) {
		// Stand-in for the user pressing enter.
		next, cmd := m.Update(keyEnter())
		msg := cmd()
		final, _ := next.(recorder.Model).Update(msg)
		return final.(recorder.Model), nil
	}

	require.NoError(t, runRecord(recordCmd, nil))

	entries, err := capture.ReadHistory(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, capture.StatusCompleted, entries[0].Capture.Status)
}

func TestResolveRecordSettings_ConfigCategories(t *testing.T) {
	setupRecord(t, newFakeBrowser())
	cfg.Trace.Categories = "toplevel,v8"
	cfg.Trace.Screenshots = true

	s, err := resolveRecordSettings(recordCmd, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"toplevel", "v8"}, s.categories)
	require.True(t, s.screenshots)
	require.Equal(t, 2*time.Second, s.stopTimeout)
}

func keyEnter() tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyEnter}
}
