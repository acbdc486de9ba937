package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/zjrosen/timeline/internal/browser"
	"github.com/zjrosen/timeline/internal/capture"
	"github.com/zjrosen/timeline/internal/log"
	"github.com/zjrosen/timeline/internal/tracing"
	"github.com/zjrosen/timeline/internal/ui/recorder"
)

var (
	outputFlag      string
	durationFlag    time.Duration
	screenshotsFlag bool
	categoriesFlag  string
	debuggerURLFlag string
	timeoutFlag     time.Duration
	interactiveFlag bool
)

// openBrowser connects to or launches the browser.
// It can be overridden in tests.
var openBrowser = browser.Open

// waitForStop blocks until the capture should end: after a positive
// duration, or when ctx is done. runRecord cancels ctx on interrupt.
// It can be overridden in tests.
var waitForStop = func(ctx context.Context, d time.Duration) {
	if d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
		}
		return
	}
	printInfo("Recording. Press Ctrl+C to stop.")
	<-ctx.Done()
}

// runRecorder runs the interactive recorder view.
// It can be overridden in tests.
var runRecorder = func(m recorder.Model) (recorder.Model, error) {
	final, err := tea.NewProgram(m).Run()
	if err != nil {
		return m, err
	}
	return final.(recorder.Model), nil
}

// now is the clock used for default trace names.
// It can be overridden in tests.
var now = time.Now

var recordCmd = &cobra.Command{
	Use:   "record [url]",
	Short: "Record a performance timeline trace",
	Long: `Record a performance timeline trace from a Chromium browser.

A blank tab is opened and traced. When a URL is given it is loaded after
tracing starts, so the trace covers the page load. Recording stops after
--duration, on Ctrl+C, or on enter in --interactive mode. The trace is
written as JSON that the DevTools Performance panel can open, with a
.meta.json summary next to it.

Examples:
  timeline record https://example.com --duration 5s
  timeline record -o load.json --screenshots https://example.com
  timeline record --debugger-url http://localhost:9222 --interactive`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRecord,
}

func init() {
	rootCmd.AddCommand(recordCmd)
	f := recordCmd.Flags()
	f.StringVarP(&outputFlag, "output", "o", "", "trace file (default <output_dir>/trace-<timestamp>.json)")
	f.DurationVar(&durationFlag, "duration", 0, "stop after this long (0 waits for Ctrl+C or enter)")
	f.BoolVar(&screenshotsFlag, "screenshots", false, "capture screenshots alongside the timeline")
	f.StringVar(&categoriesFlag, "categories", "", "comma-separated trace categories (replaces the defaults)")
	f.StringVar(&debuggerURLFlag, "debugger-url", "", "attach to a running browser instead of launching one")
	f.DurationVar(&timeoutFlag, "timeout", 0, "how long to wait for the trace after stopping (default trace.stop_timeout)")
	f.BoolVarP(&interactiveFlag, "interactive", "i", false, "show the recorder view and stop on enter")
}

// recordSettings are the resolved inputs of one capture.
type recordSettings struct {
	url         string
	path        string
	categories  []string
	screenshots bool
	stopTimeout time.Duration
	loadTimeout time.Duration
	browser     browser.Options
}

func resolveRecordSettings(cmd *cobra.Command, args []string) (recordSettings, error) {
	s := recordSettings{
		screenshots: cfg.Trace.Screenshots,
		stopTimeout: cfg.Trace.StopTimeout,
		loadTimeout: cfg.Trace.LoadTimeout,
		browser: browser.Options{
			DebuggerURL: cfg.Browser.DebuggerURL,
			Bin:         cfg.Browser.Bin,
			Headless:    cfg.Browser.Headless,
		},
	}
	if len(args) > 0 {
		s.url = args[0]
	}

	var err error
	if cmd.Flags().Changed("categories") {
		s.categories, err = tracing.ResolveCategories(categoriesFlag, true)
	} else {
		s.categories, err = cfg.Trace.ResolvedCategories()
	}
	if err != nil {
		return s, err
	}

	if cmd.Flags().Changed("screenshots") {
		s.screenshots = screenshotsFlag
	}
	if cmd.Flags().Changed("timeout") {
		s.stopTimeout = timeoutFlag
	}
	if debuggerURLFlag != "" {
		s.browser.DebuggerURL = debuggerURLFlag
	}

	s.path = outputFlag
	if s.path == "" {
		name := fmt.Sprintf("trace-%s.json", now().Format("20060102-150405"))
		s.path = filepath.Join(cfg.Trace.OutputDir, name)
	}
	return s, nil
}

func runRecord(cmd *cobra.Command, args []string) (err error) {
	settings, err := resolveRecordSettings(cmd, args)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	// An interrupt at any point ends the capture cleanly instead of
	// killing the process with tracing still running.
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	b, err := openBrowser(ctx, settings.browser)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := b.Close(); closeErr != nil {
			log.ErrorErr(log.CatBrowser, "closing browser", closeErr)
		}
	}()

	page, err := b.NewPage(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := page.Close(context.WithoutCancel(ctx)); closeErr != nil {
			log.ErrorErr(log.CatBrowser, "closing tab", closeErr)
		}
	}()

	ctrl := tracing.New(page.Session(),
		tracing.WithTracer(otel.Tracer("github.com/zjrosen/timeline")),
		tracing.WithStopTimeout(settings.stopTimeout),
		tracing.WithReadSize(cfg.Trace.ReadSize),
	)

	meta := capture.NewMetadata(settings.url, settings.path, nil, settings.screenshots)
	defer func() { saveCapture(meta, err) }()

	if err := ctrl.Start(ctx, tracing.StartOptions{
		Path:        settings.path,
		Screenshots: settings.screenshots,
		Categories:  settings.categories,
	}); err != nil {
		return err
	}
	meta.Categories = ctrl.Filter()

	if settings.url != "" {
		if navErr := navigate(ctx, page, settings); navErr != nil {
			// Keep the partial trace; a failed load is often what is being profiled.
			log.Warn(log.CatBrowser, "navigation failed", "url", settings.url, "error", navErr)
			printInfo(fmt.Sprintf("Warning: %v", navErr))
		}
	}

	var data []byte
	if interactiveFlag {
		data, err = recordInteractive(ctx, ctrl, settings)
	} else {
		waitForStop(ctx, durationFlag)
		data, err = ctrl.Stop(context.WithoutCancel(ctx))
	}
	if err != nil {
		return err
	}

	meta.Complete(len(data))
	printInfo(fmt.Sprintf("Wrote %s (%d bytes)", settings.path, len(data)))
	return nil
}

// navigate loads the page, giving up after the load timeout.
func navigate(ctx context.Context, page *browser.Page, settings recordSettings) error {
	if settings.loadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, settings.loadTimeout)
		defer cancel()
	}
	return page.Navigate(ctx, settings.url)
}

func recordInteractive(ctx context.Context, ctrl *tracing.Controller, settings recordSettings) ([]byte, error) {
	m := recorder.New(recorder.Config{
		URL:   settings.url,
		Path:  settings.path,
		Limit: durationFlag,
		Stop: func() ([]byte, error) {
			return ctrl.Stop(context.WithoutCancel(ctx))
		},
	})
	final, err := runRecorder(m)
	if err != nil {
		if ctrl.Recording() {
			_, _ = ctrl.Stop(context.WithoutCancel(ctx))
		}
		return nil, fmt.Errorf("running recorder: %w", err)
	}
	res, done := final.Result()
	if !done {
		return nil, errors.New("recorder exited before the trace was collected")
	}
	return res.Data, res.Err
}

// saveCapture writes the metadata file and appends to the history. Failures
// are logged; the trace itself is already on disk.
func saveCapture(meta *capture.Metadata, captureErr error) {
	if captureErr != nil {
		meta.Fail(captureErr)
	}

	if meta.Status == capture.StatusCompleted {
		if err := meta.Save(capture.MetadataPath(meta.TracePath)); err != nil {
			log.ErrorErr(log.CatCapture, "saving metadata", err)
		}
	}

	h, err := capture.OpenHistory(cfg.Trace.OutputDir)
	if err != nil {
		log.ErrorErr(log.CatCapture, "opening history", err)
		return
	}
	h.Record(*meta)
	if err := h.Close(); err != nil {
		log.ErrorErr(log.CatCapture, "closing history", err)
	}
	if written, failed, lastErr := h.Stats(); failed > 0 {
		log.ErrorErr(log.CatCapture, "history entry not written", lastErr, "file", h.FilePath(), "failed", failed)
	} else {
		log.Debug(log.CatCapture, "history updated", "file", h.FilePath(), "entries", written)
	}
}

// printInfo is the function used to print informational messages.
// It defaults to fmt.Println and can be overridden in tests.
var printInfo = func(msg string) {
	fmt.Println(strings.TrimRight(msg, "\n"))
}
