// Package viewer hands a recorded trace to the Perfetto UI. The trace is
// served once from a loopback HTTP server that the UI is allowed to fetch
// from, and the UI is opened with a deep link to it.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zjrosen/timeline/internal/log"
)

const (
	// PerfettoOrigin is the UI allowed to fetch the trace.
	PerfettoOrigin = "https://ui.perfetto.dev"
	// DefaultAddr is the loopback address the Perfetto UI accepts trace
	// URLs from.
	DefaultAddr = "127.0.0.1:9001"
)

const shutdownTimeout = 2 * time.Second

// TraceHandler serves a single trace file with CORS headers for the
// Perfetto UI. Every other path is a 404.
type TraceHandler struct {
	path   string
	name   string
	served chan struct{}
	once   sync.Once
}

// NewTraceHandler serves the file at path under /<base name>.
func NewTraceHandler(path string) *TraceHandler {
	return &TraceHandler{
		path:   path,
		name:   filepath.Base(path),
		served: make(chan struct{}),
	}
}

// Served is closed after the trace has been sent once.
func (h *TraceHandler) Served() <-chan struct{} {
	return h.served
}

// ServeHTTP implements http.Handler.
func (h *TraceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", PerfettoOrigin)
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "*")

	if r.URL.Path != "/"+h.name {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
	case http.MethodGet, http.MethodHead:
		w.Header().Set("Content-Type", "application/json")
		http.ServeFile(w, r, h.path)
		if r.Method == http.MethodGet {
			log.Info(log.CatUI, "trace fetched", "path", h.path, "remote", r.RemoteAddr)
			h.once.Do(func() { close(h.served) })
		}
	default:
		w.Header().Set("Allow", "GET, HEAD, OPTIONS")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// URL returns the Perfetto deep link that loads the trace from addr.
func URL(addr, name string) string {
	return fmt.Sprintf("%s/#!/?url=http://%s/%s", PerfettoOrigin, addr, name)
}

// Serve serves the trace at path on addr, calls open with the viewer URL
// and returns once the trace has been fetched or ctx is done.
func Serve(ctx context.Context, addr, path string, open func(url string) error) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("opening trace: %w", err)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	h := NewTraceHandler(path)
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	url := URL(ln.Addr().String(), h.name)
	if err := open(url); err != nil {
		log.Warn(log.CatUI, "could not open browser", "error", err)
		fmt.Printf("Open %s in a browser\n", url)
	}

	var serveErr error
	select {
	case <-h.Served():
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = fmt.Errorf("stopping server: %w", err)
	}
	return serveErr
}
